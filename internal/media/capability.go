package media

import (
	"context"
	"errors"
)

// ErrNoStreams is returned by a Demuxer that opened a source but found no
// elementary streams in it.
var ErrNoStreams = errors.New("media: no streams")

// OpenOptions tune how a Demuxer opens a locator.
type OpenOptions struct {
	// InputFormat forces a container or device format (e.g. "v4l2").
	InputFormat string
	Options     map[string]string
}

// Demuxer reads timestamped compressed packets from a source. Read returns
// io.EOF at end of source.
type Demuxer interface {
	Open(ctx context.Context, locator string, opts OpenOptions) error
	Seek(seconds float64) error
	Streams() []StreamInfo
	// Discard marks a stream as not decoded; its packets may be dropped
	// by the Demuxer before Read returns them.
	Discard(index int)
	Read() (*Packet, error)
	Close() error
}

// Decoder turns packets of one stream into zero or more frames. The decoder
// does not take ownership of packets.
type Decoder interface {
	Decode(pkt *Packet) ([]*Frame, error)
	// Flush drains frames buffered inside the decoder at end of stream.
	Flush() ([]*Frame, error)
	Close() error
}

// FilterGraph consumes named groups of frames and produces zero or more
// output frames. Input frames are owned by the graph once passed in.
type FilterGraph interface {
	Filter(inputs map[string][]*Frame) ([]*Frame, error)
	Close() error
}

// AudioInput names one graph input fed by a decoded audio stream.
type AudioInput struct {
	Name   string
	Stream StreamInfo
}

// AudioGraphSpec describes an audio filter graph: its named inputs, the
// filter description joining them and the fixed output format.
type AudioGraphSpec struct {
	Inputs        []AudioInput
	Description   string
	SampleRate    int
	Channels      int
	ChannelLayout string
	SampleFormat  string
	FrameSize     int
}

// VideoGraphSpec describes a single-input video filter graph.
type VideoGraphSpec struct {
	Input        StreamInfo
	Description  string
	OutputFormat PixelFormat
	FrameRate    Rational
}

// Toolkit builds the capability instances one producer owns.
type Toolkit interface {
	NewDemuxer() Demuxer
	NewDecoder(stream StreamInfo) (Decoder, error)
	NewAudioGraph(spec AudioGraphSpec) (FilterGraph, error)
	NewVideoGraph(spec VideoGraphSpec) (FilterGraph, error)
}

// WithDemuxer returns a Toolkit that builds demuxers with newDemuxer and
// delegates everything else to tk.
func WithDemuxer(tk Toolkit, newDemuxer func() Demuxer) Toolkit {
	return demuxerOverride{Toolkit: tk, newDemuxer: newDemuxer}
}

type demuxerOverride struct {
	Toolkit
	newDemuxer func() Demuxer
}

func (t demuxerOverride) NewDemuxer() Demuxer {
	return t.newDemuxer()
}
