package ffmpeg

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"

	"github.com/zsiec/playout/internal/media"
)

// graph is a libav filter graph with one buffer source per named input and a
// single sink labelled "out".
type graph struct {
	c    *astikit.Closer
	fg   *astiav.FilterGraph
	srcs map[string]*astiav.BuffersrcFilterContext
	sink *astiav.BuffersinkFilterContext
	kind media.MediaType

	// Video output.
	format media.PixelFormat
}

type graphInput struct {
	name string
	args astiav.FilterArgs
}

func newAudioGraph(spec media.AudioGraphSpec) (*graph, error) {
	inputs := make([]graphInput, 0, len(spec.Inputs))
	for _, in := range spec.Inputs {
		s := in.Stream
		args := astiav.FilterArgs{
			"sample_fmt":  s.SampleFormat,
			"sample_rate": strconv.Itoa(s.SampleRate),
			"time_base":   s.TimeBase.String(),
		}
		if s.ChannelLayout != "" {
			args["channel_layout"] = s.ChannelLayout
		} else {
			args["channels"] = strconv.Itoa(s.Channels)
		}
		inputs = append(inputs, graphInput{name: in.Name, args: args})
	}
	return newGraph(media.MediaTypeAudio, "abuffer", "abuffersink", inputs, spec.Description)
}

func newVideoGraph(spec media.VideoGraphSpec) (*graph, error) {
	s := spec.Input
	args := astiav.FilterArgs{
		"width":     strconv.Itoa(s.Width),
		"height":    strconv.Itoa(s.Height),
		"pix_fmt":   strconv.Itoa(int(astiav.FindPixelFormatByName(string(s.PixelFormat)))),
		"time_base": s.TimeBase.String(),
	}
	if s.SampleAspectRatio.Valid() {
		args["sar"] = s.SampleAspectRatio.String()
	} else {
		args["sar"] = "1/1"
	}
	if s.FrameRate.Valid() {
		args["frame_rate"] = s.FrameRate.String()
	}
	g, err := newGraph(media.MediaTypeVideo, "buffer", "buffersink", []graphInput{{name: "in", args: args}}, spec.Description)
	if err != nil {
		return nil, err
	}
	g.format = spec.OutputFormat
	return g, nil
}

func newGraph(kind media.MediaType, srcName, sinkName string, inputs []graphInput, content string) (g *graph, err error) {
	g = &graph{
		c:    astikit.NewCloser(),
		srcs: make(map[string]*astiav.BuffersrcFilterContext),
		kind: kind,
	}
	defer func() {
		if err != nil {
			g.c.Close()
		}
	}()

	if g.fg = astiav.AllocFilterGraph(); g.fg == nil {
		return nil, errors.New("ffmpeg: allocating filter graph failed")
	}
	// Filter contexts are freed with the graph.
	g.c.Add(g.fg.Free)

	bufferSrc := astiav.FindFilterByName(srcName)
	bufferSink := astiav.FindFilterByName(sinkName)
	if bufferSrc == nil || bufferSink == nil {
		return nil, fmt.Errorf("ffmpeg: %s or %s filter unavailable", srcName, sinkName)
	}

	if g.sink, err = g.fg.NewBuffersinkFilterContext(bufferSink, "out", nil); err != nil {
		return nil, fmt.Errorf("ffmpeg: creating buffersink: %w", err)
	}

	sinkIO := astiav.AllocFilterInOut()
	defer sinkIO.Free()
	sinkIO.SetName("out")
	sinkIO.SetFilterContext(g.sink.FilterContext())
	sinkIO.SetPadIdx(0)
	sinkIO.SetNext(nil)

	var srcIO *astiav.FilterInOut
	defer func() {
		if srcIO != nil {
			srcIO.Free()
		}
	}()
	for _, in := range inputs {
		src, err := g.fg.NewBuffersrcFilterContext(bufferSrc, in.name, in.args)
		if err != nil {
			return nil, fmt.Errorf("ffmpeg: creating buffersrc %s: %w", in.name, err)
		}
		g.srcs[in.name] = src

		o := astiav.AllocFilterInOut()
		o.SetName(in.name)
		o.SetFilterContext(src.FilterContext())
		o.SetPadIdx(0)
		o.SetNext(srcIO)
		srcIO = o
	}

	if err = g.fg.Parse(content, sinkIO, srcIO); err != nil {
		return nil, fmt.Errorf("ffmpeg: parsing %q: %w", content, err)
	}
	if err = g.fg.Configure(); err != nil {
		return nil, fmt.Errorf("ffmpeg: configuring graph: %w", err)
	}
	return g, nil
}

// Filter pushes every input frame into its named source, releases it, and
// pulls whatever the sink has ready.
func (g *graph) Filter(inputs map[string][]*media.Frame) ([]*media.Frame, error) {
	var pushErr error
	for name, frames := range inputs {
		src, ok := g.srcs[name]
		for _, f := range frames {
			if pushErr == nil {
				if !ok {
					pushErr = fmt.Errorf("ffmpeg: unknown graph input %q", name)
				} else {
					pushErr = g.push(src, f)
				}
			}
			f.Release()
		}
	}
	if pushErr != nil {
		return nil, pushErr
	}
	return g.pull()
}

func (g *graph) push(src *astiav.BuffersrcFilterContext, f *media.Frame) error {
	av, ok := f.Opaque.(*astiav.Frame)
	if !ok {
		var err error
		if av, err = audioFrame(f); err != nil {
			return err
		}
		defer av.Free()
	}
	if err := src.AddFrame(av, astiav.NewBuffersrcFlags(astiav.BuffersrcFlagKeepRef)); err != nil {
		return fmt.Errorf("ffmpeg: adding frame: %w", err)
	}
	return nil
}

func (g *graph) pull() ([]*media.Frame, error) {
	var out []*media.Frame
	f := astiav.AllocFrame()
	defer f.Free()
	for {
		if err := g.sink.GetFrame(f, astiav.NewBuffersinkFlags()); err != nil {
			if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
				return out, nil
			}
			return nil, fmt.Errorf("ffmpeg: getting frame: %w", err)
		}
		mf, err := g.copyOut(f)
		f.Unref()
		if err != nil {
			return nil, err
		}
		out = append(out, mf)
	}
}

// copyOut copies a sink frame into Go memory so the libav frame can be
// reused immediately.
func (g *graph) copyOut(f *astiav.Frame) (*media.Frame, error) {
	buf, err := f.Data().Bytes(1)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: copying frame data: %w", err)
	}
	out := &media.Frame{
		Type:     g.kind,
		PTS:      f.Pts(),
		TimeBase: rational(g.sink.TimeBase()),
	}
	if g.kind == media.MediaTypeVideo {
		out.Width = f.Width()
		out.Height = f.Height()
		out.PixelFormat = g.format
		planes, ok := media.SplitPlanes(g.format, out.Width, out.Height, buf)
		if !ok {
			return nil, fmt.Errorf("ffmpeg: frame does not fit %s %dx%d", g.format, out.Width, out.Height)
		}
		out.Planes = planes
		return out, nil
	}

	out.SampleRate = f.SampleRate()
	out.Channels = f.ChannelLayout().Channels()
	out.ChannelLayout = f.ChannelLayout().String()
	out.SampleFormat = f.SampleFormat().String()
	out.NbSamples = f.NbSamples()
	out.Samples = make([]int32, len(buf)/4)
	for i := range out.Samples {
		out.Samples[i] = int32(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out, nil
}

// audioFrame builds a libav frame from interleaved s32 samples, the form of
// the silent template.
func audioFrame(f *media.Frame) (*astiav.Frame, error) {
	if f.Type != media.MediaTypeAudio || f.SampleFormat != media.OutputSampleFormat {
		return nil, fmt.Errorf("ffmpeg: cannot build %s frame in %q", f.Type, f.SampleFormat)
	}
	av := astiav.AllocFrame()
	av.SetNbSamples(f.NbSamples)
	av.SetSampleFormat(astiav.SampleFormatS32)
	av.SetSampleRate(f.SampleRate)
	av.SetChannelLayout(astiav.ChannelLayout7Point1)
	av.SetPts(f.PTS)
	if err := av.AllocBuffer(0); err != nil {
		av.Free()
		return nil, fmt.Errorf("ffmpeg: allocating audio buffer: %w", err)
	}
	buf := make([]byte, len(f.Samples)*4)
	for i, s := range f.Samples {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(s))
	}
	if err := av.Data().SetBytes(buf, 0); err != nil {
		av.Free()
		return nil, fmt.Errorf("ffmpeg: filling audio buffer: %w", err)
	}
	return av, nil
}

func (g *graph) Close() error {
	return g.c.Close()
}
