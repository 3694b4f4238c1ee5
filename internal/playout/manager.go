// Package playout keeps the live producers of a playout process, keyed by
// producer id, and drains their output legs.
package playout

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/zsiec/playout/internal/media"
	"github.com/zsiec/playout/internal/producer"
)

// ErrNotFound is returned for an unknown producer id.
var ErrNotFound = errors.New("playout: producer not found")

// Creator builds initialised producers. *producer.Registry implements it.
type Creator interface {
	CreateSource(ctx context.Context, params media.LoadParameters, props media.ChannelProperties) (producer.Producer, error)
}

// Entry is one loaded producer.
type Entry struct {
	ID        string
	Locator   string
	StartedAt time.Time
	Producer  producer.Producer
	done      chan struct{}
}

// Done is closed when the entry is removed from its manager.
func (e *Entry) Done() <-chan struct{} { return e.done }

// Manager tracks loaded producers.
type Manager struct {
	log     *slog.Logger
	creator Creator

	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewManager creates a manager that loads sources through creator. If log
// is nil, slog.Default() is used.
func NewManager(creator Creator, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:     log.With("component", "playout-manager"),
		creator: creator,
		entries: make(map[string]*Entry),
	}
}

// Load creates a producer for params and starts tracking it. When no
// factory recognizes the source the error satisfies
// producer.IsNotRecognized.
func (m *Manager) Load(ctx context.Context, params media.LoadParameters, props media.ChannelProperties) (*Entry, error) {
	p, err := m.creator.CreateSource(ctx, params, props)
	if err != nil {
		return nil, fmt.Errorf("playout: loading %q: %w", params.Locator, err)
	}

	e := &Entry{
		ID:        p.ID(),
		Locator:   params.Locator,
		StartedAt: time.Now(),
		Producer:  p,
		done:      make(chan struct{}),
	}

	m.mu.Lock()
	if _, ok := m.entries[e.ID]; ok {
		m.mu.Unlock()
		p.Release()
		return nil, fmt.Errorf("playout: duplicate producer id %s", e.ID)
	}
	m.entries[e.ID] = e
	m.mu.Unlock()

	m.log.Info("producer loaded", "producer_id", e.ID, "locator", e.Locator, "state", p.State())
	return e, nil
}

// Get returns the entry for id.
func (m *Manager) Get(id string) (*Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	return e, ok
}

// SetPaused pauses or resumes the producer with the given id.
func (m *Manager) SetPaused(id string, paused bool) error {
	e, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e.Producer.SetPaused(paused)
	return nil
}

// Remove releases the producer with the given id and stops tracking it.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	e, ok := m.entries[id]
	if ok {
		delete(m.entries, id)
	}
	m.mu.Unlock()

	if ok {
		e.Producer.Release()
		close(e.done)
		m.log.Info("producer removed", "producer_id", id)
	}
}

// List returns every entry, oldest first.
func (m *Manager) List() []*Entry {
	m.mu.RLock()
	entries := make([]*Entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	slices.SortFunc(entries, func(a, b *Entry) int {
		return cmp.Or(a.StartedAt.Compare(b.StartedAt), cmp.Compare(a.ID, b.ID))
	})
	return entries
}

// Close removes every entry.
func (m *Manager) Close() {
	for _, e := range m.List() {
		m.Remove(e.ID)
	}
}
