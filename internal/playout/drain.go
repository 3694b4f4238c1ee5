package playout

import (
	"context"
	"time"

	"github.com/zsiec/playout/internal/producer"
)

// DrainStats summarizes what a drain consumed.
type DrainStats struct {
	AudioFrames  int64
	AudioSamples int64
	VideoBuffers int64
	// LastVideo is the timestamp of the last video buffer taken.
	LastVideo time.Duration
}

// Drain consumes both output legs of p until each is closed, releasing
// every frame and buffer it takes, and returns the producer's terminal
// error. The end of the video leg marks the end of the source: the producer
// is released so a silent audio leg closes too. Cancelling ctx releases the
// producer and keeps draining until the legs close.
func Drain(ctx context.Context, p producer.Producer) (DrainStats, error) {
	var stats DrainStats
	audio, video := p.SourceAudio(), p.SourceVideo()

	released := false
	release := func() {
		if !released {
			released = true
			p.Release()
		}
	}

	done := ctx.Done()
	for audio != nil || video != nil {
		select {
		case f, ok := <-audio:
			if !ok {
				audio = nil
				continue
			}
			stats.AudioFrames++
			stats.AudioSamples += int64(f.NbSamples)
			f.Release()
		case b, ok := <-video:
			if !ok {
				video = nil
				release()
				continue
			}
			stats.VideoBuffers++
			stats.LastVideo = b.Timestamp()
			b.Release()
		case <-done:
			release()
			done = nil
		}
	}
	return stats, p.Err()
}
