// Package media defines the data model that flows through the ingest
// pipeline, from demultiplexed packets through decoded frames, together with
// the capability contracts the pipeline consumes.
package media

import "time"

// Channel buffer sizes for the bounded hops between pipeline stages. Each
// stage blocks its upstream once its inbound channel is full.
const (
	PacketBatchBufferSize = 16
	FrameBufferSize       = 8
	GPUBufferDepth        = 4
	VideoBufferSize       = 8
	AudioBufferSize       = 16
)

// Stream discovery caps. Anything beyond them is discarded at open time.
const (
	MaxAudioStreams = 8
	MaxVideoStreams = 1
)

// Fixed audio output format produced by every producer's audio leg.
const (
	OutputSampleRate    = 48000
	OutputChannels      = 8
	OutputFrameSize     = 1920
	OutputSampleFormat  = "s32"
	OutputChannelLayout = "7.1"
)

// OutputSpeakerPositions lists the channel positions of the fixed output
// layout in order.
var OutputSpeakerPositions = []string{"FL", "FR", "FC", "LFE", "BL", "BR", "SL", "SR"}

// Packet is one compressed access unit read from a source, tagged with the
// index of the stream it belongs to.
type Packet struct {
	StreamIndex int
	PTS         int64
	DTS         int64
	Duration    int64
	TimeBase    Rational
	Data        []byte

	// Opaque carries a backend handle (e.g. a libav packet) that the
	// matching decoder may use instead of Data.
	Opaque  any
	release func()
}

// NewPacket wraps a backend handle whose resources are returned by release.
func NewPacket(streamIndex int, pts, dts int64, tb Rational, opaque any, release func()) *Packet {
	return &Packet{
		StreamIndex: streamIndex,
		PTS:         pts,
		DTS:         dts,
		TimeBase:    tb,
		Opaque:      opaque,
		release:     release,
	}
}

// Time returns the packet presentation time.
func (p *Packet) Time() time.Duration {
	return p.TimeBase.Duration(p.PTS)
}

// Release returns backend resources held by the packet. It is safe to call
// more than once.
func (p *Packet) Release() {
	if p == nil || p.release == nil {
		return
	}
	p.release()
	p.release = nil
	p.Opaque = nil
}

// Frame is a decoded audio or video frame. Video frames carry tightly packed
// planes; normalized audio frames carry interleaved signed 32-bit samples.
type Frame struct {
	Type     MediaType
	PTS      int64
	TimeBase Rational

	// Video.
	Width       int
	Height      int
	PixelFormat PixelFormat
	Planes      [][]byte
	Interlaced  bool

	// Audio.
	SampleRate    int
	Channels      int
	ChannelLayout string
	SampleFormat  string
	NbSamples     int
	Samples       []int32

	Opaque  any
	release func()
}

// SetRelease registers the function that frees the frame's backend handle.
func (f *Frame) SetRelease(fn func()) {
	f.release = fn
}

// Time returns the frame presentation time.
func (f *Frame) Time() time.Duration {
	return f.TimeBase.Duration(f.PTS)
}

// Release returns backend resources held by the frame. It is safe to call
// more than once.
func (f *Frame) Release() {
	if f == nil || f.release == nil {
		return
	}
	f.release()
	f.release = nil
	f.Opaque = nil
}

// SilentFrame returns a zeroed audio frame in the fixed output format.
func SilentFrame(pts int64) *Frame {
	return &Frame{
		Type:          MediaTypeAudio,
		PTS:           pts,
		TimeBase:      Rational{Num: 1, Den: OutputSampleRate},
		SampleRate:    OutputSampleRate,
		Channels:      OutputChannels,
		ChannelLayout: OutputChannelLayout,
		SampleFormat:  OutputSampleFormat,
		NbSamples:     OutputFrameSize,
		Samples:       make([]int32, OutputFrameSize*OutputChannels),
	}
}
