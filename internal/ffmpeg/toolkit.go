// Package ffmpeg implements the media capabilities on top of libav through
// go-astiav: container and capture-device demuxing, decoding, and the audio
// and video filter graphs.
package ffmpeg

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/asticode/go-astiav"

	"github.com/zsiec/playout/internal/media"
)

// Config tunes the libav backend.
type Config struct {
	// LogLevel is the libav log level: quiet, error, warning, info, debug.
	LogLevel string
	// Threads bounds decoder threads. Zero lets libav decide.
	Threads int
}

var setupOnce sync.Once

// Toolkit builds libav-backed capability instances.
type Toolkit struct {
	log *slog.Logger
	cfg Config
}

// NewToolkit registers capture devices, routes libav logs to log and returns
// a Toolkit. If log is nil, slog.Default() is used.
func NewToolkit(cfg Config, log *slog.Logger) *Toolkit {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "ffmpeg")
	setupOnce.Do(func() {
		astiav.RegisterAllDevices()
		astiav.SetLogLevel(logLevel(cfg.LogLevel))
		astiav.SetLogCallback(func(_ astiav.Classer, l astiav.LogLevel, _, msg string) {
			msg = strings.TrimSpace(msg)
			switch {
			case l <= astiav.LogLevelError:
				log.Error(msg)
			case l <= astiav.LogLevelWarning:
				log.Warn(msg)
			default:
				log.Debug(msg)
			}
		})
	})
	return &Toolkit{log: log, cfg: cfg}
}

func logLevel(s string) astiav.LogLevel {
	switch strings.ToLower(s) {
	case "quiet":
		return astiav.LogLevelQuiet
	case "warning", "warn":
		return astiav.LogLevelWarning
	case "info":
		return astiav.LogLevelInfo
	case "debug":
		return astiav.LogLevelDebug
	default:
		return astiav.LogLevelError
	}
}

// NewDemuxer returns an unopened libav demuxer.
func (t *Toolkit) NewDemuxer() media.Demuxer {
	return newDemuxer(t.log)
}

// NewDecoder opens a decoder for stream.
func (t *Toolkit) NewDecoder(stream media.StreamInfo) (media.Decoder, error) {
	d, err := newDecoder(stream, t.cfg.Threads)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// NewAudioGraph builds a multi-input audio filter graph.
func (t *Toolkit) NewAudioGraph(spec media.AudioGraphSpec) (media.FilterGraph, error) {
	g, err := newAudioGraph(spec)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// NewVideoGraph builds a single-input video filter graph.
func (t *Toolkit) NewVideoGraph(spec media.VideoGraphSpec) (media.FilterGraph, error) {
	g, err := newVideoGraph(spec)
	if err != nil {
		return nil, err
	}
	return g, nil
}

func rational(r astiav.Rational) media.Rational {
	return media.NewRational(r.Num(), r.Den())
}

func avRational(r media.Rational) astiav.Rational {
	return astiav.NewRational(r.Num, r.Den)
}
