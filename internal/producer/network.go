package producer

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/zsiec/playout/internal/media"
)

// SRTScheme prefixes SRT caller locators.
const SRTScheme = "srt://"

type networkFactory struct {
	opts Options
}

// NewNetworkFactory returns the factory named "srt". Its producers read
// MPEG-TS over SRT with demuxers built by newDemuxer and decode with the
// rest of opts.Toolkit.
func NewNetworkFactory(opts Options, newDemuxer func() media.Demuxer) Factory {
	opts.Toolkit = media.WithDemuxer(opts.Toolkit, newDemuxer)
	return networkFactory{opts: opts}
}

func (f networkFactory) Name() string { return "srt" }

func (f networkFactory) Create(params media.LoadParameters) (Producer, error) {
	if !strings.HasPrefix(params.Locator, SRTScheme) {
		return nil, notRecognized("create srt producer", errors.New("not an srt locator"))
	}
	// A live stream has no start to rewind to.
	params.Loop = false
	params.SeekSeconds = nil
	return newFileProducer("srt", params, f.opts), nil
}

type tsFactory struct {
	opts Options
}

// NewTSFactory returns the factory named "ts". It claims .ts files and plays
// them with demuxers built by newDemuxer, which can seek and loop like any
// file.
func NewTSFactory(opts Options, newDemuxer func() media.Demuxer) Factory {
	opts.Toolkit = media.WithDemuxer(opts.Toolkit, newDemuxer)
	return tsFactory{opts: opts}
}

func (f tsFactory) Name() string { return "ts" }

func (f tsFactory) Create(params media.LoadParameters) (Producer, error) {
	if !strings.EqualFold(filepath.Ext(params.Locator), ".ts") || strings.Contains(params.Locator, "://") && !strings.HasPrefix(params.Locator, "file://") {
		return nil, notRecognized("create ts producer", errors.New("not a transport stream file"))
	}
	return newFileProducer("ts", params, f.opts), nil
}
