package srt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	srtgo "github.com/zsiec/srtgo"
)

// chunkSize is one SRT payload: seven TS packets.
const chunkSize = 188 * 7

const progressInterval = 10 * time.Second

// Publisher sends a recorded transport stream to an SRT listener in real
// time, standing in for a live encoder.
type Publisher struct {
	log *slog.Logger
	cfg Config
}

// NewPublisher returns a Publisher. If log is nil, slog.Default() is used.
func NewPublisher(cfg Config, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{log: log.With("component", "srt-publisher"), cfg: cfg}
}

// Publish dials locator in caller mode and writes data paced at
// bytesPerSec. It returns the number of bytes sent.
func (p *Publisher) Publish(ctx context.Context, locator string, data []byte, bytesPerSec float64) (int64, error) {
	loc, err := ParseLocator(locator, p.cfg.Latency)
	if err != nil {
		return 0, err
	}
	if loc.Mode == ModeListener {
		return 0, errors.New("srt: publishing needs a caller locator")
	}

	cfg := srtgo.DefaultConfig()
	cfg.Latency = loc.Latency
	cfg.StreamID = loc.StreamID

	p.log.Info("connecting", "address", loc.Address, "stream_id", loc.StreamID)
	conn, err := dial(ctx, loc.Address, p.cfg.DialTimeout, func() (*srtgo.Conn, error) {
		return srtgo.Dial(loc.Address, cfg)
	})
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	return pace(ctx, conn, data, bytesPerSec, p.log)
}

// pace writes data in SRT-sized chunks, sleeping so the running byte count
// tracks bytesPerSec against one start time. A non-positive rate writes as
// fast as w accepts.
func pace(ctx context.Context, w io.Writer, data []byte, bytesPerSec float64, log *slog.Logger) (int64, error) {
	start := time.Now()
	lastLog := start
	var sent int64

	for i := 0; i < len(data); i += chunkSize {
		end := min(i+chunkSize, len(data))
		if _, err := w.Write(data[i:end]); err != nil {
			return sent, fmt.Errorf("srt: write: %w", err)
		}
		sent += int64(end - i)

		if bytesPerSec > 0 {
			expected := time.Duration(float64(sent) / bytesPerSec * float64(time.Second))
			if wait := expected - time.Since(start); wait > 0 {
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return sent, ctx.Err()
				}
			}
		} else if err := ctx.Err(); err != nil {
			return sent, err
		}

		if time.Since(lastLog) >= progressInterval {
			log.Info("publishing",
				"offset_pct", float64(end)/float64(len(data))*100,
				"rate", float64(sent)/time.Since(start).Seconds(),
				"target", bytesPerSec)
			lastLog = time.Now()
		}
	}
	return sent, nil
}
