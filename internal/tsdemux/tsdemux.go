// Package tsdemux implements media.Demuxer over the pure-Go MPEG-TS reader,
// for transport stream files and network inputs such as SRT. Codec
// parameters are probed from the first payload of each stream, and those
// packets are replayed by Read.
package tsdemux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/zsiec/playout/internal/media"
	"github.com/zsiec/playout/internal/mpegts"
)

// maxProbeUnits bounds how much of the source is read before giving up on
// streams whose parameters have not appeared.
const maxProbeUnits = 4096

const (
	clockRate = 90000
	ptsWrap   = 1 << 33
)

var timeBase = media.NewRational(1, clockRate)

// Opener returns the byte stream behind a locator.
type Opener func(ctx context.Context, locator string) (io.ReadCloser, error)

// OpenFile opens a local transport stream file. A file:// prefix is
// accepted.
func OpenFile(_ context.Context, locator string) (io.ReadCloser, error) {
	return os.Open(strings.TrimPrefix(locator, "file://"))
}

type stream struct {
	info    media.StreamInfo
	probed  bool
	lastPTS int64
	offset  int64
	seen    bool
}

// Demuxer reads one transport stream program.
type Demuxer struct {
	log     *slog.Logger
	open    Opener
	locator string

	rc io.ReadCloser
	rd *mpegts.Reader

	pmtPID  uint16
	streams []*stream
	byPID   map[uint16]int
	discard map[int]bool
	queue   []*media.Packet

	// Seek state: packets before skipUntil (90 kHz, relative to the first
	// timestamp) are dropped, and video waits for a keyframe.
	firstPTS  int64
	haveFirst bool
	skipUntil int64
	needKey   map[int]bool
}

// New returns a Demuxer that opens locators with open. If log is nil,
// slog.Default() is used.
func New(open Opener, log *slog.Logger) *Demuxer {
	if log == nil {
		log = slog.Default()
	}
	return &Demuxer{
		log:     log.With("component", "tsdemux"),
		open:    open,
		byPID:   make(map[uint16]int),
		discard: make(map[int]bool),
		needKey: make(map[int]bool),
	}
}

// Open reads until the first PMT and the parameters of its streams are
// known. Options are ignored; transport streams need none.
func (d *Demuxer) Open(ctx context.Context, locator string, _ media.OpenOptions) error {
	d.locator = locator
	if err := d.connect(ctx); err != nil {
		return err
	}
	if err := d.discover(); err != nil {
		d.Close()
		return err
	}
	d.log.Debug("opened", "locator", locator, "streams", len(d.streams))
	return nil
}

func (d *Demuxer) connect(ctx context.Context) error {
	rc, err := d.open(ctx, d.locator)
	if err != nil {
		return fmt.Errorf("tsdemux: opening %s: %w", d.locator, err)
	}
	d.rc = rc
	d.rd = mpegts.NewReader(context.WithoutCancel(ctx), rc)
	return nil
}

func (d *Demuxer) discover() error {
	for n := 0; n < maxProbeUnits; n++ {
		u, err := d.rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("tsdemux: probing: %w", err)
		}
		switch {
		case u.Programs != nil && d.pmtPID == 0 && len(u.Programs) > 0:
			d.pmtPID = u.Programs[0].PMTPID
		case u.PMT != nil && u.PID == d.pmtPID && d.streams == nil:
			d.addStreams(u.PMT)
		case u.PES != nil && d.streams != nil:
			d.probeUnit(u)
		}
		if d.streams != nil && d.allProbed() {
			return nil
		}
	}
	if d.streams == nil {
		return fmt.Errorf("tsdemux: no program map found: %w", media.ErrNoStreams)
	}
	for _, s := range d.streams {
		if !s.probed {
			d.log.Warn("stream parameters not found", "index", s.info.Index, "codec", s.info.Codec)
		}
	}
	return nil
}

func (d *Demuxer) addStreams(pmt *mpegts.PMT) {
	d.streams = make([]*stream, 0, len(pmt.Streams))
	for i, es := range pmt.Streams {
		s := &stream{info: media.StreamInfo{Index: i, TimeBase: timeBase}}
		classify(&s.info, es.Type)
		s.probed = s.info.Type == media.MediaTypeData
		d.streams = append(d.streams, s)
		d.byPID[es.PID] = i
	}
}

func (d *Demuxer) allProbed() bool {
	for _, s := range d.streams {
		if !s.probed {
			return false
		}
	}
	return true
}

func (d *Demuxer) probeUnit(u *mpegts.Unit) {
	idx, ok := d.byPID[u.PID]
	if !ok {
		return
	}
	s := d.streams[idx]
	if !s.probed {
		switch err := probe(&s.info, u.PES.Data); {
		case err == nil:
			s.probed = true
		case !errors.Is(err, errNoParameters):
			d.log.Debug("probe failed", "index", idx, "error", err)
		}
	}
	d.queue = append(d.queue, d.packets(idx, u.PES)...)
}

// Streams returns the streams of the first program in PMT order.
func (d *Demuxer) Streams() []media.StreamInfo {
	out := make([]media.StreamInfo, len(d.streams))
	for i, s := range d.streams {
		out[i] = s.info
	}
	return out
}

// Discard drops the stream's packets before Read returns them.
func (d *Demuxer) Discard(index int) {
	d.discard[index] = true
}

// Seek restarts the source and skips to seconds past its first timestamp.
// Video resumes on the next keyframe.
func (d *Demuxer) Seek(seconds float64) error {
	if seconds < 0 {
		return fmt.Errorf("tsdemux: negative seek %.3f", seconds)
	}
	if d.rc != nil {
		d.rc.Close()
	}
	if err := d.connect(context.Background()); err != nil {
		return err
	}
	d.queue = nil
	d.skipUntil = int64(seconds * clockRate)
	for i, s := range d.streams {
		s.seen, s.offset = false, 0
		d.needKey[i] = s.info.Type == media.MediaTypeVideo
	}
	return nil
}

// Read returns the next packet of a kept stream, or io.EOF.
func (d *Demuxer) Read() (*media.Packet, error) {
	for {
		for len(d.queue) > 0 {
			p := d.queue[0]
			d.queue = d.queue[1:]
			if d.keep(p) {
				return p, nil
			}
		}

		u, err := d.rd.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("tsdemux: reading: %w", err)
		}
		if u.PES == nil {
			continue
		}
		idx, ok := d.byPID[u.PID]
		if !ok || d.discard[idx] {
			continue
		}
		d.queue = d.packets(idx, u.PES)
	}
}

func (d *Demuxer) keep(p *media.Packet) bool {
	if d.discard[p.StreamIndex] {
		return false
	}
	if p.PTS-d.firstPTS < d.skipUntil {
		return false
	}
	if d.needKey[p.StreamIndex] {
		if !keyframe(d.streams[p.StreamIndex].info.Codec, p.Data) {
			return false
		}
		d.needKey[p.StreamIndex] = false
	}
	return true
}

// packets turns a PES into packets: one per ADTS frame for AAC, one per
// PES otherwise. Timestamps are unwrapped across the 33-bit boundary.
func (d *Demuxer) packets(idx int, pes *mpegts.PES) []*media.Packet {
	if len(pes.Data) == 0 {
		return nil
	}
	s := d.streams[idx]

	pts := s.lastPTS
	if pes.HasPTS {
		pts = s.unwrap(pes.PTS)
	}
	dts := pts
	if pes.HasDTS {
		dts = pts - (pes.PTS-pes.DTS+ptsWrap)%ptsWrap
	}
	if !d.haveFirst {
		d.firstPTS, d.haveFirst = pts, true
	}
	s.lastPTS = pts

	if s.info.Codec != "aac" {
		p := media.NewPacket(idx, pts, dts, timeBase, nil, nil)
		p.Data = pes.Data
		return []*media.Packet{p}
	}

	frames, err := parseADTS(pes.Data)
	if err != nil {
		d.log.Debug("bad ADTS", "index", idx, "error", err)
	}
	out := make([]*media.Packet, 0, len(frames))
	for i, f := range frames {
		ts := pts
		if f.sampleRate > 0 {
			ts += int64(i) * 1024 * clockRate / int64(f.sampleRate)
		}
		p := media.NewPacket(idx, ts, ts, timeBase, nil, nil)
		p.Data = f.data
		p.Duration = 1024 * clockRate / int64(max(f.sampleRate, 1))
		out = append(out, p)
		s.lastPTS = ts
	}
	return out
}

// unwrap extends a 33-bit timestamp to a monotonic 64-bit one.
func (s *stream) unwrap(pts int64) int64 {
	if s.seen {
		last := s.lastPTS - s.offset
		switch {
		case pts < last-ptsWrap/2:
			s.offset += ptsWrap
		case pts > last+ptsWrap/2 && s.offset >= ptsWrap:
			s.offset -= ptsWrap
		}
	}
	s.seen = true
	return pts + s.offset
}

// Close closes the underlying source.
func (d *Demuxer) Close() error {
	if d.rc == nil {
		return nil
	}
	err := d.rc.Close()
	d.rc = nil
	return err
}
