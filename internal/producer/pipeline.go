package producer

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/playout/internal/gpu"
	"github.com/zsiec/playout/internal/media"
)

// videoInput names the single input of the video retime graph.
const videoInput = "in"

type packetBatch = []*media.Packet

type frameGroup = map[string][]*media.Frame

// Stats are the pipeline counters of one producer.
type Stats struct {
	PacketsRead     int64
	Batches         int64
	MismatchFlushes int64
	AudioDecoded    int64
	VideoDecoded    int64
	AudioOut        int64
	DeinterlaceIn   int64
	VideoOut        int64
	Dropped         int64
}

type counters struct {
	packetsRead     atomic.Int64
	batches         atomic.Int64
	mismatchFlushes atomic.Int64
	audioDecoded    atomic.Int64
	videoDecoded    atomic.Int64
	audioOut        atomic.Int64
	deinterlaceIn   atomic.Int64
	videoOut        atomic.Int64
	dropped         atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		PacketsRead:     c.packetsRead.Load(),
		Batches:         c.batches.Load(),
		MismatchFlushes: c.mismatchFlushes.Load(),
		AudioDecoded:    c.audioDecoded.Load(),
		VideoDecoded:    c.videoDecoded.Load(),
		AudioOut:        c.audioOut.Load(),
		DeinterlaceIn:   c.deinterlaceIn.Load(),
		VideoOut:        c.videoOut.Load(),
		Dropped:         c.dropped.Load(),
	}
}

// start wires the stage graph and runs one goroutine per stage. Every hop
// is a bounded channel, so a slow consumer stalls the stages above it.
func (s *source) start() {
	// GPU fences always complete, so stages wait on a context that is only
	// cancelled once every stage has returned.
	ctx, cancel := context.WithCancel(context.Background())

	batches := make(chan packetBatch, media.PacketBatchBufferSize)
	videoPkts := make(chan packetBatch, media.PacketBatchBufferSize)
	decoded := make(chan *media.Frame, media.FrameBufferSize)
	retimed := make(chan *media.Frame, media.FrameBufferSize)
	uploaded := make(chan *gpu.SourceSet, media.GPUBufferDepth)
	converted := make(chan *gpu.Buffer, media.GPUBufferDepth)

	var g errgroup.Group
	g.Go(func() error { return s.runDemux(batches) })

	if s.silent {
		g.Go(func() error { return s.runFork(batches, nil, videoPkts) })
		g.Go(s.runSilence)
	} else {
		audioPkts := make(chan packetBatch, media.PacketBatchBufferSize)
		groups := make(chan frameGroup, media.FrameBufferSize)
		g.Go(func() error { return s.runFork(batches, audioPkts, videoPkts) })
		g.Go(func() error { return s.runAudioDecode(audioPkts, groups) })
		g.Go(func() error { return s.runAudioMix(groups) })
	}

	g.Go(func() error { return s.runVideoDecode(videoPkts, decoded) })
	g.Go(func() error { return s.runRetime(decoded, retimed) })
	g.Go(func() error { return s.runUpload(ctx, retimed, uploaded) })
	g.Go(func() error { return s.runConvert(ctx, uploaded, converted) })
	g.Go(func() error { return s.runDeinterlace(ctx, converted) })

	go func() {
		err := g.Wait()
		cancel()
		s.log.Info("pipeline finished", "error", err, "stats", s.stats.snapshot())
	}()
}

// send forwards v unless the producer has stopped, in which case v is
// dropped and released.
func send[T any](s *source, ch chan<- T, v T, release func(T)) bool {
	if !s.stopped() {
		select {
		case ch <- v:
			return true
		case <-s.done:
		}
	}
	release(v)
	s.stats.dropped.Add(1)
	return false
}

// drain releases whatever is left on ch after a stage stops consuming.
func drain[T any](ch <-chan T, release func(T)) {
	for v := range ch {
		release(v)
	}
}

func releasePackets(b packetBatch) {
	for _, p := range b {
		p.Release()
	}
}

func releaseFrames(fs []*media.Frame) {
	for _, f := range fs {
		f.Release()
	}
}

func releaseGroup(g frameGroup) {
	for _, fs := range g {
		releaseFrames(fs)
	}
}

func releaseFrame(f *media.Frame) { f.Release() }

func (s *source) runDemux(out chan<- packetBatch) error {
	defer close(out)
	defer s.demuxer.Close()

	b := newBatcher(s.selected, s.tolerance)
	l := newLooper(s.frameDur)
	emit := func(batch packetBatch) {
		if len(batch) == 0 {
			return
		}
		s.stats.batches.Add(1)
		send(s, out, batch, releasePackets)
	}
	defer func() { emit(b.flush()) }()

	var cycleRead int64
	for !s.stopped() {
		pkt, err := s.demuxer.Read()
		if errors.Is(err, io.EOF) {
			if !s.loop || cycleRead == 0 {
				s.log.Info("end of source")
				return nil
			}
			cycleRead = 0
			l.rewind()
			if err := s.demuxer.Seek(s.startAt); err != nil {
				return s.fail(ioError("loop seek", err))
			}
			s.log.Debug("looping source", "cycle", l.cycle)
			continue
		}
		if err != nil {
			return s.fail(ioError("read", err))
		}
		s.stats.packetsRead.Add(1)
		cycleRead++

		if _, ok := s.selected[pkt.StreamIndex]; !ok {
			pkt.Release()
			continue
		}
		l.restamp(pkt)

		ready, mismatch := b.add(pkt)
		if mismatch {
			s.stats.mismatchFlushes.Add(1)
			s.log.Debug("audio/video timestamp mismatch, flushing partial batch",
				"audio", b.audioTS, "video", b.videoTS)
		}
		for _, batch := range ready {
			emit(batch)
		}
	}
	return nil
}

func (s *source) runFork(in <-chan packetBatch, audio, video chan<- packetBatch) error {
	if audio != nil {
		defer close(audio)
	}
	defer close(video)

	for batch := range in {
		var a, v packetBatch
		for _, p := range batch {
			switch {
			case p.StreamIndex == s.videoIndex:
				v = append(v, p)
			case audio != nil && s.audioNames[p.StreamIndex] != "":
				a = append(a, p)
			default:
				p.Release()
			}
		}
		if len(a) > 0 {
			send(s, audio, a, releasePackets)
		}
		if len(v) > 0 {
			send(s, video, v, releasePackets)
		}
	}
	return nil
}

func (s *source) runAudioDecode(in <-chan packetBatch, out chan<- frameGroup) error {
	defer close(out)
	defer drain(in, releasePackets)
	defer s.closeDecoders(media.MediaTypeAudio)

	for batch := range in {
		group := make(frameGroup)
		for i, p := range batch {
			frames, err := s.decoders[p.StreamIndex].Decode(p)
			p.Release()
			if err != nil {
				releasePackets(batch[i+1:])
				releaseGroup(group)
				return s.fail(decodeError("decode audio", err))
			}
			s.stats.audioDecoded.Add(int64(len(frames)))
			if len(frames) > 0 {
				name := s.audioNames[p.StreamIndex]
				group[name] = append(group[name], frames...)
			}
		}
		if len(group) > 0 {
			send(s, out, group, releaseGroup)
		}
	}

	if s.stopped() {
		return nil
	}
	group := make(frameGroup)
	for idx, name := range s.audioNames {
		frames, err := s.decoders[idx].Flush()
		if err != nil {
			releaseGroup(group)
			return s.fail(decodeError("flush audio", err))
		}
		if len(frames) > 0 {
			group[name] = append(group[name], frames...)
		}
	}
	if len(group) > 0 {
		send(s, out, group, releaseGroup)
	}
	return nil
}

func (s *source) runAudioMix(in <-chan frameGroup) error {
	defer close(s.audioOut)
	defer drain(in, releaseGroup)
	defer s.audioGraph.Close()

	for group := range in {
		frames, err := s.audioGraph.Filter(group)
		if err != nil {
			return s.fail(decodeError("filter audio", err))
		}
		s.forwardAudio(frames)
	}
	return nil
}

// runSilence feeds the silent template through the pass-through graph until
// the producer is released. Its clock starts at the first video timestamp.
func (s *source) runSilence() error {
	defer close(s.audioOut)
	defer s.audioGraph.Close()

	select {
	case <-s.videoStart:
	case <-s.done:
		return nil
	}
	pts := media.NewRational(1, media.OutputSampleRate).Rescale(s.videoStartAt)
	for !s.stopped() {
		tmpl := media.SilentFrame(pts)
		pts += media.OutputFrameSize
		frames, err := s.audioGraph.Filter(frameGroup{silenceInput: {tmpl}})
		if err != nil {
			return s.fail(decodeError("filter silence", err))
		}
		s.forwardAudio(frames)
	}
	return nil
}

func (s *source) forwardAudio(frames []*media.Frame) {
	for _, f := range frames {
		if send(s, s.audioOut, f, releaseFrame) {
			s.stats.audioOut.Add(1)
		}
	}
}

func (s *source) runVideoDecode(in <-chan packetBatch, out chan<- *media.Frame) error {
	defer close(out)
	defer drain(in, releasePackets)
	defer s.closeDecoders(media.MediaTypeVideo)

	// Without any decoded picture the silent leg starts at the seek point.
	defer s.markVideoStart(time.Duration(s.startAt * float64(time.Second)))

	dec := s.decoders[s.videoIndex]
	forward := func(frames []*media.Frame) {
		if len(frames) > 0 {
			s.markVideoStart(frames[0].Time())
		}
		s.stats.videoDecoded.Add(int64(len(frames)))
		for _, f := range frames {
			send(s, out, f, releaseFrame)
		}
	}

	for batch := range in {
		for i, p := range batch {
			frames, err := dec.Decode(p)
			p.Release()
			if err != nil {
				releasePackets(batch[i+1:])
				return s.fail(decodeError("decode video", err))
			}
			forward(frames)
		}
	}

	if s.stopped() {
		return nil
	}
	frames, err := dec.Flush()
	if err != nil {
		return s.fail(decodeError("flush video", err))
	}
	forward(frames)
	return nil
}

func (s *source) runRetime(in <-chan *media.Frame, out chan<- *media.Frame) error {
	defer close(out)
	defer drain(in, releaseFrame)
	defer s.videoGraph.Close()

	for f := range in {
		frames, err := s.videoGraph.Filter(frameGroup{videoInput: {f}})
		if err != nil {
			return s.fail(decodeError("retime video", err))
		}
		for _, rf := range frames {
			send(s, out, rf, releaseFrame)
		}
	}
	return nil
}

// runUpload copies each frame into GPU source buffers, waiting for the copy
// before the host frame is released.
func (s *source) runUpload(ctx context.Context, in <-chan *media.Frame, out chan<- *gpu.SourceSet) error {
	defer close(out)
	defer drain(in, releaseFrame)

	q := s.opts.GPU.Queue()
	for f := range in {
		src := s.converter.CreateSources()
		src.Timestamp = f.Time()
		src.Interlaced = f.Interlaced

		err := s.converter.LoadFrame(f.Planes, src, q)
		if err == nil {
			err = q.WaitFinish(ctx)
		}
		f.Release()
		if err != nil {
			src.Release()
			return s.fail(fatal("upload frame", err))
		}
		send(s, out, src.Move(), (*gpu.SourceSet).Release)
	}
	return nil
}

// runConvert produces exactly one destination buffer per source set and
// releases the sources once the conversion has finished.
func (s *source) runConvert(ctx context.Context, in <-chan *gpu.SourceSet, out chan<- *gpu.Buffer) error {
	defer close(out)
	defer drain(in, (*gpu.SourceSet).Release)

	q := s.opts.GPU.Queue()
	for src := range in {
		dst := s.converter.CreateDest(src.Width, src.Height)
		err := s.converter.ProcessFrame(src, dst, q)
		if err == nil {
			err = q.WaitFinish(ctx)
		}
		src.Release()
		if err != nil {
			dst.Release()
			return s.fail(fatal("convert frame", err))
		}
		send(s, out, dst.Move(), (*gpu.Buffer).Release)
	}
	return nil
}

func (s *source) runDeinterlace(ctx context.Context, in <-chan *gpu.Buffer) error {
	defer close(s.videoOut)
	defer drain(in, (*gpu.Buffer).Release)

	q := s.opts.GPU.Queue()
	defer func() {
		// Pending field copies must land before the held frame goes back
		// to the pool.
		if err := q.WaitFinish(ctx); err != nil {
			s.log.Warn("waiting for field copies failed", "error", err)
		}
		s.deinterlacer.Release()
	}()

	var fields []*gpu.Buffer
	for buf := range in {
		s.stats.deinterlaceIn.Add(1)
		fields = fields[:0]
		err := s.deinterlacer.ProcessFrame(buf, &fields, q)
		if err == nil {
			err = q.WaitFinish(ctx)
		}
		if err != nil {
			for _, f := range fields {
				f.Release()
			}
			return s.fail(fatal("deinterlace", err))
		}
		for _, f := range fields {
			if send(s, s.videoOut, f, (*gpu.Buffer).Release) {
				s.stats.videoOut.Add(1)
			}
		}
	}
	return nil
}

func (s *source) markVideoStart(ts time.Duration) {
	s.videoStartOnce.Do(func() {
		s.videoStartAt = ts
		close(s.videoStart)
	})
}

func (s *source) closeDecoders(t media.MediaType) {
	for idx, typ := range s.selected {
		if typ == t {
			s.decoders[idx].Close()
		}
	}
}

// batcher groups packets of the selected streams into batches. A batch is
// emitted when it holds one packet per selected stream, when a packet
// arrives for a stream already in the batch, or when the running audio and
// video timestamps drift further apart than the tolerance.
type batcher struct {
	streams   map[int]media.MediaType
	tolerance time.Duration

	batch     packetBatch
	has       map[int]bool
	audioTS   time.Duration
	videoTS   time.Duration
	haveAudio bool
	haveVideo bool
}

func newBatcher(streams map[int]media.MediaType, tolerance time.Duration) *batcher {
	return &batcher{
		streams:   streams,
		tolerance: tolerance,
		has:       make(map[int]bool, len(streams)),
	}
}

// add appends p and returns the batches that became ready. mismatch reports
// that a partial batch was flushed on timestamp drift.
func (b *batcher) add(p *media.Packet) (ready []packetBatch, mismatch bool) {
	if b.has[p.StreamIndex] {
		ready = append(ready, b.flush())
	}
	b.batch = append(b.batch, p)
	b.has[p.StreamIndex] = true

	switch b.streams[p.StreamIndex] {
	case media.MediaTypeAudio:
		b.audioTS, b.haveAudio = p.Time(), true
	case media.MediaTypeVideo:
		b.videoTS, b.haveVideo = p.Time(), true
	}

	if len(b.has) == len(b.streams) {
		return append(ready, b.flush()), false
	}
	if b.haveAudio && b.haveVideo && absDuration(b.audioTS-b.videoTS) > b.tolerance {
		return append(ready, b.flush()), true
	}
	return ready, false
}

// flush returns the open batch, possibly empty, and starts a new one.
func (b *batcher) flush() packetBatch {
	out := b.batch
	b.batch = nil
	clear(b.has)
	return out
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// looper restamps packets after the source has been rewound so timestamps
// keep increasing across loop cycles. The cycle length is measured on the
// first pass as the longest span of any stream.
type looper struct {
	frameDur time.Duration
	first    map[int]time.Duration
	end      map[int]time.Duration
	cycle    int
	length   time.Duration
}

func newLooper(frameDur time.Duration) *looper {
	return &looper{
		frameDur: frameDur,
		first:    make(map[int]time.Duration),
		end:      make(map[int]time.Duration),
	}
}

func (l *looper) restamp(p *media.Packet) {
	if l.cycle == 0 {
		t := p.Time()
		if _, ok := l.first[p.StreamIndex]; !ok {
			l.first[p.StreamIndex] = t
		}
		dur := p.TimeBase.Duration(p.Duration)
		if dur <= 0 {
			dur = l.frameDur
		}
		if t+dur > l.end[p.StreamIndex] {
			l.end[p.StreamIndex] = t + dur
		}
		return
	}
	off := p.TimeBase.Rescale(time.Duration(l.cycle) * l.length)
	p.PTS += off
	p.DTS += off
}

func (l *looper) rewind() {
	if l.cycle == 0 {
		for idx, first := range l.first {
			if span := l.end[idx] - first; span > l.length {
				l.length = span
			}
		}
	}
	l.cycle++
}
