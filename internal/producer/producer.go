// Package producer turns media sources into independent sequences of audio
// frames and GPU video buffers. A Registry tries an ordered list of
// factories until one recognizes the source; the producer it returns owns a
// backpressured ingest pipeline of demux, decode, filter, upload, color
// conversion and deinterlace stages.
package producer

import (
	"context"
	"log/slog"
	"time"

	"github.com/zsiec/playout/internal/gpu"
	"github.com/zsiec/playout/internal/media"
)

// State is the lifecycle state of a producer.
type State int32

// Producer states.
const (
	StateUninitialized State = iota
	StateInitializing
	StateRunning
	StatePaused
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateReleased:
		return "released"
	default:
		return "uninitialized"
	}
}

// Producer is the surface the channel layer consumes.
type Producer interface {
	// ID identifies the producer in logs and in the playout manager.
	ID() string
	Initialise(ctx context.Context, props media.ChannelProperties) error
	// SourceAudio returns nil until Initialise has succeeded. The channel
	// is closed at end of stream.
	SourceAudio() <-chan *media.Frame
	// SourceVideo returns nil until Initialise has succeeded. The receiver
	// owns every buffer it takes from the channel.
	SourceVideo() <-chan *gpu.Buffer
	SetPaused(paused bool)
	State() State
	// Err returns the error that ended the pipeline, if any. It is only
	// meaningful once both source channels are closed.
	Err() error
	Release()
}

// Options are the collaborators shared by every producer a factory builds.
type Options struct {
	Toolkit media.Toolkit
	GPU     *gpu.Context
	Log     *slog.Logger

	// MismatchTolerance is how far the running audio and video timestamps
	// may drift apart before the demux stage flushes a partial batch. Zero
	// means one output frame duration.
	MismatchTolerance time.Duration
	OpenOptions       media.OpenOptions
}

func (o Options) logger() *slog.Logger {
	if o.Log == nil {
		return slog.Default()
	}
	return o.Log
}
