package producer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zsiec/playout/internal/media"
)

// Factory builds one producer variant. Create returns a KindNotRecognized
// error when the parameters are plainly not for this variant.
type Factory interface {
	Name() string
	Create(params media.LoadParameters) (Producer, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc struct {
	FactoryName string
	Fn          func(params media.LoadParameters) (Producer, error)
}

// Name returns the factory name.
func (f FactoryFunc) Name() string { return f.FactoryName }

// Create calls Fn.
func (f FactoryFunc) Create(params media.LoadParameters) (Producer, error) {
	return f.Fn(params)
}

// Registry tries factories in order until one yields an initialised
// producer.
type Registry struct {
	log       *slog.Logger
	factories []Factory
}

// NewRegistry creates a Registry over factories, tried in the given order.
// If log is nil, slog.Default() is used.
func NewRegistry(log *slog.Logger, factories ...Factory) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:       log.With("component", "registry"),
		factories: factories,
	}
}

// Ordered picks factories from available in the order named by order.
func Ordered(available []Factory, order []string) ([]Factory, error) {
	byName := make(map[string]Factory, len(available))
	for _, f := range available {
		byName[f.Name()] = f
	}
	out := make([]Factory, 0, len(order))
	for _, name := range order {
		f, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("producer: unknown factory %q", name)
		}
		out = append(out, f)
	}
	return out, nil
}

// Factories returns the factory names in trial order.
func (r *Registry) Factories() []string {
	names := make([]string, len(r.factories))
	for i, f := range r.factories {
		names[i] = f.Name()
	}
	return names
}

// CreateSource returns the first producer whose Initialise succeeds. A
// KindNotRecognized failure moves on to the next factory; any other failure
// is returned at once. When every factory declines, CreateSource returns a
// nil producer and a KindNotRecognized error wrapping the last diagnostic.
func (r *Registry) CreateSource(ctx context.Context, params media.LoadParameters, props media.ChannelProperties) (Producer, error) {
	var last error
	for _, f := range r.factories {
		log := r.log.With("factory", f.Name(), "locator", params.Locator)

		p, err := f.Create(params)
		if err == nil {
			err = p.Initialise(ctx, props)
			if err != nil {
				p.Release()
			}
		}
		if err == nil {
			log.Info("source created", "producer_id", p.ID())
			return p, nil
		}

		if KindOf(err) != KindNotRecognized {
			log.Error("source creation failed", "error", err)
			return nil, err
		}
		log.Debug("source not recognized", "error", err)
		last = err
	}

	if last == nil {
		last = errors.New("no factories registered")
	}
	r.log.Warn("no factory recognized source", "locator", params.Locator, "error", last)
	return nil, notRecognized("create source", last)
}
