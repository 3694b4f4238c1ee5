package tsdemux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/zsiec/playout/internal/media"
	"github.com/zsiec/playout/internal/mpegts"
)

// Duration scans a transport stream and returns the span between its
// earliest and latest presentation timestamps. Timestamps are unwrapped per
// PID.
func Duration(ctx context.Context, r io.Reader) (time.Duration, error) {
	rd := mpegts.NewReader(ctx, r)
	pids := make(map[uint16]*stream)
	var first, last int64
	found := false

	for {
		u, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("tsdemux: scanning: %w", err)
		}
		if u.PES == nil || !u.PES.HasPTS {
			continue
		}
		s, ok := pids[u.PID]
		if !ok {
			s = &stream{}
			pids[u.PID] = s
		}
		pts := s.unwrap(u.PES.PTS)
		s.lastPTS = pts

		if !found {
			first, last, found = pts, pts, true
			continue
		}
		first = min(first, pts)
		last = max(last, pts)
	}
	if !found {
		return 0, fmt.Errorf("tsdemux: no timestamps: %w", media.ErrNoStreams)
	}
	return timeBase.Duration(last - first), nil
}
