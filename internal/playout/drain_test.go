package playout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zsiec/playout/internal/gpu"
	"github.com/zsiec/playout/internal/media"
)

func TestDrainConsumesBothLegs(t *testing.T) {
	t.Parallel()
	pool := gpu.NewPool()
	p := newFakeProducer("p")

	for i := range 3 {
		p.audio <- media.SilentFrame(int64(i * media.OutputFrameSize))
		b := pool.Get(4, 2, 4, media.PixelFormatRGBA)
		b.SetTimestamp(time.Duration(i) * 40 * time.Millisecond)
		p.video <- b
	}
	p.end()

	stats, err := Drain(context.Background(), p)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if stats.AudioFrames != 3 || stats.VideoBuffers != 3 {
		t.Errorf("counts: got %+v", stats)
	}
	if stats.AudioSamples != 3*media.OutputFrameSize {
		t.Errorf("samples: got %d", stats.AudioSamples)
	}
	if stats.LastVideo != 80*time.Millisecond {
		t.Errorf("last video: got %s", stats.LastVideo)
	}
	if live := pool.Live(); live != 0 {
		t.Errorf("live buffers: got %d, want 0", live)
	}
}

func TestDrainReturnsProducerError(t *testing.T) {
	t.Parallel()
	boom := errors.New("decode failed")
	p := newFakeProducer("p")
	p.err = boom
	p.end()

	if _, err := Drain(context.Background(), p); !errors.Is(err, boom) {
		t.Errorf("err: got %v, want %v", err, boom)
	}
}

func TestDrainCancelReleases(t *testing.T) {
	t.Parallel()
	p := newFakeProducer("p")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		Drain(ctx, p)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Drain did not return after cancel")
	}
	if p.released.Load() != 1 {
		t.Errorf("released: got %d, want 1", p.released.Load())
	}
}

func TestDrainReleasesWhenVideoEnds(t *testing.T) {
	t.Parallel()
	pool := gpu.NewPool()
	p := newFakeProducer("p")

	// The audio leg stays open until the producer is released.
	for i := range 4 {
		p.audio <- media.SilentFrame(int64(i * media.OutputFrameSize))
	}
	for i := range 2 {
		b := pool.Get(4, 2, 4, media.PixelFormatRGBA)
		b.SetTimestamp(time.Duration(i) * 20 * time.Millisecond)
		p.video <- b
	}
	p.endVideo()

	type result struct {
		stats DrainStats
		err   error
	}
	done := make(chan result, 1)
	go func() {
		stats, err := Drain(context.Background(), p)
		done <- result{stats, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("Drain: %v", r.err)
		}
		if r.stats.VideoBuffers != 2 {
			t.Errorf("video buffers: got %d, want 2", r.stats.VideoBuffers)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Drain did not return after the video leg closed")
	}
	if got := p.released.Load(); got != 1 {
		t.Errorf("released: got %d, want 1", got)
	}
	if live := pool.Live(); live != 0 {
		t.Errorf("live buffers: got %d, want 0", live)
	}
}
