package producer

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/playout/internal/gpu"
	"github.com/zsiec/playout/internal/media"
)

var (
	videoTB = media.NewRational(1, 90000)
	audioTB = media.NewRational(1, 48000)
	pal     = media.ChannelProperties{VideoTimebase: media.NewRational(1, 25)}
)

// tracker counts every packet, frame and capability instance the fakes hand
// out so tests can assert nothing leaks.
type tracker struct {
	packets         atomic.Int64
	packetsReleased atomic.Int64
	frames          atomic.Int64
	framesReleased  atomic.Int64

	mu     sync.Mutex
	opened map[string]int
	closed map[string]int
}

func newTracker() *tracker {
	return &tracker{opened: make(map[string]int), closed: make(map[string]int)}
}

func (tr *tracker) packet(stream int, pts int64, tb media.Rational) *media.Packet {
	tr.packets.Add(1)
	return media.NewPacket(stream, pts, pts, tb, nil, func() { tr.packetsReleased.Add(1) })
}

func (tr *tracker) frame(f *media.Frame) *media.Frame {
	tr.frames.Add(1)
	f.SetRelease(func() { tr.framesReleased.Add(1) })
	return f
}

func (tr *tracker) open(name string) {
	tr.mu.Lock()
	tr.opened[name]++
	tr.mu.Unlock()
}

func (tr *tracker) close(name string) {
	tr.mu.Lock()
	tr.closed[name]++
	tr.mu.Unlock()
}

func (tr *tracker) closes(name string) int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.closed[name]
}

func (tr *tracker) assertBalanced(t *testing.T) {
	t.Helper()
	assert.Equal(t, tr.packets.Load(), tr.packetsReleased.Load(), "packets released")
	assert.Equal(t, tr.frames.Load(), tr.framesReleased.Load(), "frames released")
	tr.mu.Lock()
	defer tr.mu.Unlock()
	assert.Equal(t, tr.opened, tr.closed, "capabilities closed")
}

type scripted struct {
	stream int
	pts    int64
}

// fakeSource describes what a fake demuxer opens.
type fakeSource struct {
	openErr error
	streams []media.StreamInfo
	script  []scripted
	// failAt makes Read fail once this many packets have been read.
	failAt int
}

type fakeDemuxer struct {
	tr  *tracker
	src fakeSource

	mu        sync.Mutex
	pos       int
	reads     int
	discarded []int
	seeks     []float64
}

func (d *fakeDemuxer) Open(_ context.Context, _ string, _ media.OpenOptions) error {
	d.tr.open("demuxer")
	return d.src.openErr
}

func (d *fakeDemuxer) Seek(seconds float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seeks = append(d.seeks, seconds)
	d.pos = 0
	return nil
}

func (d *fakeDemuxer) Streams() []media.StreamInfo { return d.src.streams }

func (d *fakeDemuxer) Discard(index int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.discarded = append(d.discarded, index)
}

func (d *fakeDemuxer) Read() (*media.Packet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.src.failAt > 0 && d.reads >= d.src.failAt {
		return nil, errors.New("read failed")
	}
	if d.pos >= len(d.src.script) {
		return nil, io.EOF
	}
	s := d.src.script[d.pos]
	d.pos++
	d.reads++
	tb := videoTB
	for _, st := range d.src.streams {
		if st.Index == s.stream {
			tb = st.TimeBase
		}
	}
	return d.tr.packet(s.stream, s.pts, tb), nil
}

func (d *fakeDemuxer) Close() error {
	d.tr.close("demuxer")
	return nil
}

type fakeDecoder struct {
	tr     *tracker
	stream media.StreamInfo
	// failAt makes Decode fail on this call (1-based).
	failAt int
	calls  int
}

func (d *fakeDecoder) Decode(pkt *media.Packet) ([]*media.Frame, error) {
	d.calls++
	if d.failAt > 0 && d.calls >= d.failAt {
		return nil, errors.New("corrupt packet")
	}
	f := &media.Frame{Type: d.stream.Type, PTS: pkt.PTS, TimeBase: pkt.TimeBase}
	if d.stream.Type == media.MediaTypeAudio {
		f.SampleRate = d.stream.SampleRate
		f.Channels = d.stream.Channels
		f.NbSamples = 1024
	} else {
		f.Width, f.Height = d.stream.Width, d.stream.Height
		f.PixelFormat = d.stream.PixelFormat
		f.Interlaced = true
	}
	return []*media.Frame{d.tr.frame(f)}, nil
}

func (d *fakeDecoder) Flush() ([]*media.Frame, error) { return nil, nil }

func (d *fakeDecoder) Close() error {
	d.tr.close("decoder")
	return nil
}

type fakeAudioGraph struct {
	tr   *tracker
	spec media.AudioGraphSpec

	mu     sync.Mutex
	inputs map[string]int
	pts    int64
}

func (g *fakeAudioGraph) Filter(inputs map[string][]*media.Frame) ([]*media.Frame, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	// The silence graph is a pass-through and keeps the template clock.
	if tmpl := inputs[silenceInput]; len(tmpl) > 0 {
		g.pts = tmpl[0].PTS
	}
	for name, fs := range inputs {
		g.inputs[name] += len(fs)
		releaseFrames(fs)
	}
	out := g.tr.frame(media.SilentFrame(g.pts))
	g.pts += int64(g.spec.FrameSize)
	return []*media.Frame{out}, nil
}

func (g *fakeAudioGraph) seen() map[string]int {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]int, len(g.inputs))
	for k, v := range g.inputs {
		out[k] = v
	}
	return out
}

func (g *fakeAudioGraph) Close() error {
	g.tr.close("audio graph")
	return nil
}

// fakeVideoGraph converts every frame to the output format one to one.
type fakeVideoGraph struct {
	tr   *tracker
	spec media.VideoGraphSpec
}

func (g *fakeVideoGraph) Filter(inputs map[string][]*media.Frame) ([]*media.Frame, error) {
	var out []*media.Frame
	for _, f := range inputs[videoInput] {
		planes := media.PlaneLayout(g.spec.OutputFormat, f.Width, f.Height)
		nf := &media.Frame{
			Type:        media.MediaTypeVideo,
			PTS:         f.PTS,
			TimeBase:    f.TimeBase,
			Width:       f.Width,
			Height:      f.Height,
			PixelFormat: g.spec.OutputFormat,
			Interlaced:  f.Interlaced,
		}
		for _, p := range planes {
			nf.Planes = append(nf.Planes, make([]byte, p.Size()))
		}
		f.Release()
		out = append(out, g.tr.frame(nf))
	}
	return out, nil
}

func (g *fakeVideoGraph) Close() error {
	g.tr.close("video graph")
	return nil
}

type fakeToolkit struct {
	tr  *tracker
	src fakeSource
	// videoFailAt makes the video decoder fail on that Decode call.
	videoFailAt int

	mu          sync.Mutex
	demuxers    []*fakeDemuxer
	audioGraphs []*fakeAudioGraph
	videoSpecs  []media.VideoGraphSpec
}

func newFakeToolkit(src fakeSource) *fakeToolkit {
	return &fakeToolkit{tr: newTracker(), src: src}
}

func (tk *fakeToolkit) NewDemuxer() media.Demuxer {
	d := &fakeDemuxer{tr: tk.tr, src: tk.src}
	tk.mu.Lock()
	tk.demuxers = append(tk.demuxers, d)
	tk.mu.Unlock()
	return d
}

func (tk *fakeToolkit) NewDecoder(st media.StreamInfo) (media.Decoder, error) {
	if st.Codec == "unknown" {
		return nil, errors.New("no decoder")
	}
	tk.tr.open("decoder")
	d := &fakeDecoder{tr: tk.tr, stream: st}
	if st.Type == media.MediaTypeVideo {
		d.failAt = tk.videoFailAt
	}
	return d, nil
}

func (tk *fakeToolkit) NewAudioGraph(spec media.AudioGraphSpec) (media.FilterGraph, error) {
	tk.tr.open("audio graph")
	g := &fakeAudioGraph{tr: tk.tr, spec: spec, inputs: make(map[string]int)}
	tk.mu.Lock()
	tk.audioGraphs = append(tk.audioGraphs, g)
	tk.mu.Unlock()
	return g, nil
}

func (tk *fakeToolkit) NewVideoGraph(spec media.VideoGraphSpec) (media.FilterGraph, error) {
	tk.tr.open("video graph")
	tk.mu.Lock()
	tk.videoSpecs = append(tk.videoSpecs, spec)
	tk.mu.Unlock()
	return &fakeVideoGraph{tr: tk.tr, spec: spec}, nil
}

func (tk *fakeToolkit) demuxer(i int) *fakeDemuxer {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	return tk.demuxers[i]
}

func (tk *fakeToolkit) audioGraph(i int) *fakeAudioGraph {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	return tk.audioGraphs[i]
}

func videoStream(index int, pix media.PixelFormat) media.StreamInfo {
	return media.StreamInfo{
		Index:       index,
		Type:        media.MediaTypeVideo,
		Codec:       "h264",
		TimeBase:    videoTB,
		Width:       8,
		Height:      4,
		PixelFormat: pix,
	}
}

func audioStream(index, channels int) media.StreamInfo {
	return media.StreamInfo{
		Index:      index,
		Type:       media.MediaTypeAudio,
		Codec:      "aac",
		TimeBase:   audioTB,
		SampleRate: 48000,
		Channels:   channels,
	}
}

// interleave scripts n 40ms instants of one video packet followed by one
// packet per audio stream.
func interleave(n int, video int, audio ...int) []scripted {
	var out []scripted
	for i := range n {
		out = append(out, scripted{stream: video, pts: int64(i) * 3600})
		for _, a := range audio {
			out = append(out, scripted{stream: a, pts: int64(i) * 1920})
		}
	}
	return out
}

func newTestOptions(t *testing.T, tk media.Toolkit) (Options, *gpu.Context) {
	t.Helper()
	g := gpu.NewContext(nil)
	t.Cleanup(g.Close)
	return Options{Toolkit: tk, GPU: g}, g
}

// consume drains both legs of p until they close and returns what it took.
// Sources without audio need consumeSilent.
func consume(t *testing.T, p Producer) (video []*gpu.Buffer, audio []*media.Frame) {
	t.Helper()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for b := range p.SourceVideo() {
			video = append(video, b)
		}
	}()
	go func() {
		defer wg.Done()
		for f := range p.SourceAudio() {
			audio = append(audio, f)
		}
	}()
	waitOrFail(t, &wg)
	return video, audio
}

// consumeSilent drains a producer whose audio leg is silent: it takes video
// until that leg closes, then releases p and drains audio until it closes.
func consumeSilent(t *testing.T, p Producer) (video []*gpu.Buffer, audio []*media.Frame) {
	t.Helper()
	var wg sync.WaitGroup
	wg.Add(2)
	videoDone := make(chan struct{})
	go func() {
		defer wg.Done()
		defer close(videoDone)
		for b := range p.SourceVideo() {
			video = append(video, b)
		}
	}()
	go func() {
		defer wg.Done()
		ch := p.SourceAudio()
		for {
			select {
			case f, ok := <-ch:
				if !ok {
					return
				}
				audio = append(audio, f)
			case <-videoDone:
				p.Release()
				for f := range ch {
					audio = append(audio, f)
				}
				return
			}
		}
	}()
	waitOrFail(t, &wg)
	return video, audio
}

func waitOrFail(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		require.FailNow(t, "pipeline did not terminate")
	}
}

func releaseAll(video []*gpu.Buffer, audio []*media.Frame) {
	for _, b := range video {
		b.Release()
	}
	releaseFrames(audio)
}
