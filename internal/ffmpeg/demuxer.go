package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"

	"github.com/zsiec/playout/internal/media"
)

// avTimeBase is libav's internal time base, in units per second.
const avTimeBase = 1000000

type demuxer struct {
	log *slog.Logger
	c   *astikit.Closer
	fc  *astiav.FormatContext

	streams []media.StreamInfo
	avs     map[int]*astiav.Stream
	discard map[int]bool
}

func newDemuxer(log *slog.Logger) *demuxer {
	return &demuxer{
		log:     log.With("component", "ffmpeg-demuxer"),
		c:       astikit.NewCloser(),
		avs:     make(map[int]*astiav.Stream),
		discard: make(map[int]bool),
	}
}

// Open opens locator, forcing opts.InputFormat when set so capture devices
// such as v4l2 can be named by path.
func (d *demuxer) Open(ctx context.Context, locator string, opts media.OpenOptions) error {
	fc := astiav.AllocFormatContext()
	if fc == nil {
		return errors.New("ffmpeg: allocating format context failed")
	}
	d.c.Add(fc.Free)

	ii := fc.SetInterruptCallback()
	openCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-openCtx.Done()
		if ctx.Err() != nil {
			ii.Interrupt()
		}
	}()

	var format *astiav.InputFormat
	if opts.InputFormat != "" {
		if format = astiav.FindInputFormat(opts.InputFormat); format == nil {
			return fmt.Errorf("ffmpeg: unknown input format %q", opts.InputFormat)
		}
	}

	dict := astiav.NewDictionary()
	defer dict.Free()
	for k, v := range opts.Options {
		if err := dict.Set(k, v, 0); err != nil {
			return fmt.Errorf("ffmpeg: setting option %s: %w", k, err)
		}
	}

	if err := fc.OpenInput(locator, format, dict); err != nil {
		return fmt.Errorf("ffmpeg: opening %s: %w", locator, err)
	}
	d.c.Add(fc.CloseInput)
	d.fc = fc

	if err := fc.FindStreamInfo(nil); err != nil {
		return fmt.Errorf("ffmpeg: finding stream info: %w", err)
	}

	for _, s := range fc.Streams() {
		d.avs[s.Index()] = s
		d.streams = append(d.streams, streamInfo(s))
	}
	d.log.Debug("opened", "locator", locator, "streams", len(d.streams))
	return nil
}

func streamInfo(s *astiav.Stream) media.StreamInfo {
	cp := s.CodecParameters()
	info := media.StreamInfo{
		Index:    s.Index(),
		Codec:    cp.CodecID().Name(),
		TimeBase: rational(s.TimeBase()),
		Opaque:   cp,
	}
	switch cp.MediaType() {
	case astiav.MediaTypeVideo:
		info.Type = media.MediaTypeVideo
		info.Width = cp.Width()
		info.Height = cp.Height()
		info.PixelFormat = media.PixelFormat(cp.PixelFormat().String())
		info.FrameRate = rational(s.AvgFrameRate())
		info.SampleAspectRatio = rational(cp.SampleAspectRatio())
	case astiav.MediaTypeAudio:
		info.Type = media.MediaTypeAudio
		info.SampleRate = cp.SampleRate()
		info.Channels = cp.ChannelLayout().Channels()
		info.ChannelLayout = cp.ChannelLayout().String()
		info.SampleFormat = cp.SampleFormat().String()
	case astiav.MediaTypeSubtitle:
		info.Type = media.MediaTypeSubtitle
	case astiav.MediaTypeData:
		info.Type = media.MediaTypeData
	}
	return info
}

// Seek moves to seconds from the start of the source.
func (d *demuxer) Seek(seconds float64) error {
	ts := d.fc.StartTime()
	if ts == astiav.NoPtsValue {
		ts = 0
	}
	ts += int64(seconds * avTimeBase)
	if err := d.fc.SeekFrame(-1, ts, astiav.NewSeekFlags(astiav.SeekFlagBackward)); err != nil {
		return fmt.Errorf("ffmpeg: seeking to %.3fs: %w", seconds, err)
	}
	return nil
}

func (d *demuxer) Streams() []media.StreamInfo {
	return d.streams
}

// Discard tells libav to drop the stream's packets before they are read.
func (d *demuxer) Discard(index int) {
	if s, ok := d.avs[index]; ok {
		s.SetDiscard(astiav.DiscardAll)
	}
	d.discard[index] = true
}

func (d *demuxer) Read() (*media.Packet, error) {
	for {
		pkt := astiav.AllocPacket()
		if err := d.fc.ReadFrame(pkt); err != nil {
			pkt.Free()
			if errors.Is(err, astiav.ErrEof) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("ffmpeg: reading frame: %w", err)
		}
		idx := pkt.StreamIndex()
		s, ok := d.avs[idx]
		if !ok || d.discard[idx] {
			pkt.Free()
			continue
		}
		p := media.NewPacket(idx, pkt.Pts(), pkt.Dts(), rational(s.TimeBase()), pkt, pkt.Free)
		p.Duration = pkt.Duration()
		p.Data = pkt.Data()
		return p, nil
	}
}

func (d *demuxer) Close() error {
	return d.c.Close()
}
