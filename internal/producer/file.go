package producer

import (
	"context"
	"errors"

	"github.com/zsiec/playout/internal/media"
)

// FileProducer plays a file or URL through the demuxer of its toolkit.
type FileProducer struct {
	*source
	locator string
}

// NewFileProducer creates an uninitialised FileProducer.
func NewFileProducer(params media.LoadParameters, opts Options) *FileProducer {
	return newFileProducer("file", params, opts)
}

func newFileProducer(kind string, params media.LoadParameters, opts Options) *FileProducer {
	return &FileProducer{
		source:  newSource(kind, params, opts),
		locator: params.Locator,
	}
}

// Initialise opens the source and builds the pipeline. A source the demuxer
// cannot open fails with KindNotRecognized; every later failure is fatal.
func (p *FileProducer) Initialise(ctx context.Context, props media.ChannelProperties) error {
	return p.initialise(ctx, props, openSpec{
		locator:  p.locator,
		options:  p.opts.OpenOptions,
		seekable: true,
	})
}

type fileFactory struct {
	opts Options
}

// NewFileFactory returns the factory named "file".
func NewFileFactory(opts Options) Factory {
	return fileFactory{opts: opts}
}

func (f fileFactory) Name() string { return "file" }

func (f fileFactory) Create(params media.LoadParameters) (Producer, error) {
	if params.Locator == "" {
		return nil, notRecognized("create file producer", errors.New("empty locator"))
	}
	return NewFileProducer(params, f.opts), nil
}
