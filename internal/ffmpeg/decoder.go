package ffmpeg

import (
	"errors"
	"fmt"

	"github.com/asticode/go-astiav"

	"github.com/zsiec/playout/internal/media"
)

type decoder struct {
	cc     *astiav.CodecContext
	stream media.StreamInfo
}

// newDecoder opens a decoder from the stream's libav codec parameters, or by
// codec name for streams discovered outside libav.
func newDecoder(stream media.StreamInfo, threads int) (*decoder, error) {
	cp, _ := stream.Opaque.(*astiav.CodecParameters)

	var codec *astiav.Codec
	if cp != nil {
		codec = astiav.FindDecoder(cp.CodecID())
	} else {
		codec = astiav.FindDecoderByName(stream.Codec)
	}
	if codec == nil {
		return nil, fmt.Errorf("ffmpeg: no decoder for codec %q", stream.Codec)
	}

	cc := astiav.AllocCodecContext(codec)
	if cc == nil {
		return nil, errors.New("ffmpeg: allocating codec context failed")
	}
	if cp != nil {
		if err := cp.ToCodecContext(cc); err != nil {
			cc.Free()
			return nil, fmt.Errorf("ffmpeg: copying codec parameters: %w", err)
		}
	} else if stream.Type == media.MediaTypeVideo {
		cc.SetWidth(stream.Width)
		cc.SetHeight(stream.Height)
	} else if stream.Type == media.MediaTypeAudio {
		cc.SetSampleRate(stream.SampleRate)
	}
	if stream.TimeBase.Valid() {
		cc.SetTimeBase(avRational(stream.TimeBase))
	}
	if threads > 0 {
		cc.SetThreadCount(threads)
	}

	if err := cc.Open(codec, nil); err != nil {
		cc.Free()
		return nil, fmt.Errorf("ffmpeg: opening %s decoder: %w", codec.Name(), err)
	}
	return &decoder{cc: cc, stream: stream}, nil
}

func (d *decoder) Decode(pkt *media.Packet) ([]*media.Frame, error) {
	av, ok := pkt.Opaque.(*astiav.Packet)
	if !ok {
		// Packets from a pure-Go demuxer carry only their payload.
		av = astiav.AllocPacket()
		defer av.Free()
		if err := av.FromData(pkt.Data); err != nil {
			return nil, fmt.Errorf("ffmpeg: wrapping packet: %w", err)
		}
		av.SetPts(pkt.PTS)
		av.SetDts(pkt.DTS)
	}
	if err := d.cc.SendPacket(av); err != nil && !errors.Is(err, astiav.ErrEagain) {
		return nil, fmt.Errorf("ffmpeg: sending packet: %w", err)
	}
	return d.receive(pkt.TimeBase)
}

func (d *decoder) Flush() ([]*media.Frame, error) {
	if err := d.cc.SendPacket(nil); err != nil && !errors.Is(err, astiav.ErrEof) {
		return nil, fmt.Errorf("ffmpeg: flushing decoder: %w", err)
	}
	return d.receive(d.stream.TimeBase)
}

func (d *decoder) receive(tb media.Rational) ([]*media.Frame, error) {
	var out []*media.Frame
	for {
		f := astiav.AllocFrame()
		if err := d.cc.ReceiveFrame(f); err != nil {
			f.Free()
			if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
				return out, nil
			}
			for _, o := range out {
				o.Release()
			}
			return nil, fmt.Errorf("ffmpeg: receiving frame: %w", err)
		}
		out = append(out, wrapFrame(f, d.stream.Type, tb))
	}
}

func (d *decoder) Close() error {
	d.cc.Free()
	return nil
}

// wrapFrame describes a libav frame without copying its data. The frame is
// freed when the returned Frame is released.
func wrapFrame(f *astiav.Frame, t media.MediaType, tb media.Rational) *media.Frame {
	pts := f.Pts()
	if pts == astiav.NoPtsValue {
		pts = f.BestEffortTimestamp()
	}
	out := &media.Frame{
		Type:     t,
		PTS:      pts,
		TimeBase: tb,
		Opaque:   f,
	}
	switch t {
	case media.MediaTypeVideo:
		out.Width = f.Width()
		out.Height = f.Height()
		out.PixelFormat = media.PixelFormat(f.PixelFormat().String())
	case media.MediaTypeAudio:
		out.SampleRate = f.SampleRate()
		out.Channels = f.ChannelLayout().Channels()
		out.ChannelLayout = f.ChannelLayout().String()
		out.SampleFormat = f.SampleFormat().String()
		out.NbSamples = f.NbSamples()
	}
	out.SetRelease(f.Free)
	return out
}
