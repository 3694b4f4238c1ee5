package producer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asticode/go-astikit"
	"github.com/google/uuid"

	"github.com/zsiec/playout/internal/gpu"
	"github.com/zsiec/playout/internal/media"
)

// openSpec tells the shared initialise path how a variant opens its source.
type openSpec struct {
	locator  string
	options  media.OpenOptions
	seekable bool
}

// source is the lifecycle and pipeline shared by every producer variant.
// Variants differ only in how they recognize and open their source.
type source struct {
	id     string
	log    *slog.Logger
	opts   Options
	params media.LoadParameters

	state     atomic.Int32
	ready     atomic.Bool
	done      chan struct{}
	stopOnce  sync.Once
	startOnce sync.Once

	errMu sync.Mutex
	err   error

	// closer frees capability instances when initialise fails. Once the
	// pipeline has started, each stage closes what it owns instead.
	closer *astikit.Closer

	demuxer      media.Demuxer
	audioStreams []media.StreamInfo
	videoStream  media.StreamInfo
	audioNames   map[int]string
	videoIndex   int
	selected     map[int]media.MediaType
	decoders     map[int]media.Decoder
	audioGraph   media.FilterGraph
	silent       bool
	videoGraph   media.FilterGraph
	converter    *gpu.ColorConverter
	deinterlacer *gpu.Deinterlacer
	tolerance    time.Duration
	frameDur     time.Duration
	startAt      float64
	loop         bool

	// videoStart is closed once the first decoded video timestamp is known
	// in videoStartAt. The silent leg starts its clock there.
	videoStart     chan struct{}
	videoStartOnce sync.Once
	videoStartAt   time.Duration

	audioOut chan *media.Frame
	videoOut chan *gpu.Buffer

	stats counters
}

func newSource(kind string, params media.LoadParameters, opts Options) *source {
	id := uuid.NewString()
	return &source{
		id:     id,
		log:    opts.logger().With("component", kind+"-producer", "producer_id", id),
		opts:   opts,
		params: params,
		done:   make(chan struct{}),
		closer: astikit.NewCloser(),

		videoStart: make(chan struct{}),
	}
}

func (s *source) ID() string { return s.id }

func (s *source) State() State { return State(s.state.Load()) }

// Stats returns a snapshot of the pipeline counters.
func (s *source) Stats() Stats { return s.stats.snapshot() }

func (s *source) SourceAudio() <-chan *media.Frame {
	if !s.ready.Load() {
		return nil
	}
	s.startOnce.Do(s.start)
	return s.audioOut
}

func (s *source) SourceVideo() <-chan *gpu.Buffer {
	if !s.ready.Load() {
		return nil
	}
	s.startOnce.Do(s.start)
	return s.videoOut
}

// SetPaused records the paused flag. Ingest keeps running; whether to keep
// consuming while paused is up to the channel layer.
func (s *source) SetPaused(paused bool) {
	from, to := StateRunning, StatePaused
	if !paused {
		from, to = StatePaused, StateRunning
	}
	s.state.CompareAndSwap(int32(from), int32(to))
}

func (s *source) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Release stops the producer. The demux stage sees end of source on its
// next read and the pipeline drains through the normal termination path.
// It is safe to call more than once.
func (s *source) Release() {
	s.stop()
	if s.ready.Load() {
		s.startOnce.Do(s.start)
	}
}

func (s *source) stop() {
	s.stopOnce.Do(func() {
		s.state.Store(int32(StateReleased))
		close(s.done)
		s.log.Debug("producer stopping")
	})
}

func (s *source) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// fail records the first terminal error and stops the producer.
func (s *source) fail(err error) error {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
	s.log.Error("pipeline failed", "error", err)
	s.stop()
	return err
}

func (s *source) initialise(ctx context.Context, props media.ChannelProperties, spec openSpec) (err error) {
	if !s.state.CompareAndSwap(int32(StateUninitialized), int32(StateInitializing)) {
		return fatal("initialise", fmt.Errorf("producer is %s", s.State()))
	}
	defer func() {
		if err != nil {
			s.closer.Close()
			s.stop()
		}
	}()
	if !props.VideoTimebase.Valid() {
		return fatal("initialise", fmt.Errorf("invalid channel time base %s", props.VideoTimebase))
	}

	// A demuxer may hold a file or connection even when Open fails.
	dmx := s.opts.Toolkit.NewDemuxer()
	s.closer.Add(func() { dmx.Close() })
	if err := dmx.Open(ctx, spec.locator, spec.options); err != nil {
		return notRecognized("open "+spec.locator, err)
	}
	s.demuxer = dmx

	if spec.seekable && s.params.SeekSeconds != nil {
		s.startAt = *s.params.SeekSeconds
		if err := dmx.Seek(s.startAt); err != nil {
			return ioError("seek", err)
		}
	}
	s.loop = spec.seekable && s.params.Loop

	if err := s.selectStreams(); err != nil {
		return err
	}
	if err := s.buildAudio(); err != nil {
		return err
	}
	if err := s.buildVideo(props); err != nil {
		return err
	}

	s.frameDur = props.FrameDuration()
	s.tolerance = s.opts.MismatchTolerance
	if s.tolerance <= 0 {
		s.tolerance = s.frameDur
	}
	s.audioOut = make(chan *media.Frame, media.AudioBufferSize)
	s.videoOut = make(chan *gpu.Buffer, media.VideoBufferSize)

	next := StateRunning
	if !s.params.AutoPlay {
		next = StatePaused
	}
	if !s.state.CompareAndSwap(int32(StateInitializing), int32(next)) {
		return fatal("initialise", errors.New("released during initialise"))
	}
	s.ready.Store(true)
	s.log.Info("producer initialised",
		"locator", spec.locator,
		"audio_streams", len(s.audioNames),
		"video_stream", s.videoIndex,
		"state", next)
	return nil
}

// selectStreams keeps up to MaxAudioStreams audio streams and one video
// stream, discarding everything else, and opens a decoder per kept stream.
func (s *source) selectStreams() error {
	streams := s.demuxer.Streams()
	if len(streams) == 0 {
		return ioError("discover streams", media.ErrNoStreams)
	}

	s.audioNames = make(map[int]string)
	s.selected = make(map[int]media.MediaType)
	s.decoders = make(map[int]media.Decoder)
	s.videoIndex = -1

	var audio []media.StreamInfo
	var video *media.StreamInfo
	for i := range streams {
		st := streams[i]
		switch {
		case st.Type == media.MediaTypeAudio && len(audio) < media.MaxAudioStreams:
			audio = append(audio, st)
		case st.Type == media.MediaTypeVideo && video == nil:
			video = &streams[i]
		default:
			s.demuxer.Discard(st.Index)
		}
	}
	if video == nil {
		return unsupported("discover streams", errors.New("no video stream"))
	}

	open := func(st media.StreamInfo) error {
		dec, err := s.opts.Toolkit.NewDecoder(st)
		if err != nil {
			return unsupported(fmt.Sprintf("open %s decoder for stream %d", st.Codec, st.Index), err)
		}
		s.closer.Add(func() { dec.Close() })
		s.decoders[st.Index] = dec
		s.selected[st.Index] = st.Type
		return nil
	}
	for i, st := range audio {
		if err := open(st); err != nil {
			return err
		}
		s.audioNames[st.Index] = fmt.Sprintf("a%d", i)
	}
	if err := open(*video); err != nil {
		return err
	}
	s.videoIndex = video.Index
	s.videoStream = *video
	s.audioStreams = audio
	return nil
}

func (s *source) buildAudio() error {
	spec := planSilence()
	s.silent = len(s.audioStreams) == 0
	if !s.silent {
		spec = planAudio(s.audioStreams)
	}
	g, err := s.opts.Toolkit.NewAudioGraph(spec)
	if err != nil {
		return fatal("build audio graph", err)
	}
	s.closer.Add(func() { g.Close() })
	s.audioGraph = g
	return nil
}

func (s *source) buildVideo(props media.ChannelProperties) error {
	spec, err := planVideo(s.videoStream, props)
	if err != nil {
		return err
	}
	g, err := s.opts.Toolkit.NewVideoGraph(spec)
	if err != nil {
		return fatal("build video graph", err)
	}
	s.closer.Add(func() { g.Close() })
	s.videoGraph = g

	w, h := s.videoStream.Width, s.videoStream.Height
	s.converter = gpu.NewColorConverter(s.opts.GPU)
	if err := s.converter.Init(spec.OutputFormat, w, h); err != nil {
		return unsupported("init color converter", err)
	}

	s.deinterlacer = gpu.NewDeinterlacer(s.opts.GPU)
	err = s.deinterlacer.Init(gpu.DeinterlaceConfig{
		Width:         w,
		Height:        h,
		Mode:          gpu.ModeFieldOutput,
		FieldOrder:    gpu.TopFieldFirst,
		Scope:         gpu.ScopeAllFields,
		FrameDuration: spec.FrameRate.Invert().Duration(1),
	})
	if err != nil {
		return fatal("init deinterlacer", err)
	}
	return nil
}
