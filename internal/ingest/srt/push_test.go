package srt

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

type chunkRecorder struct {
	bytes.Buffer
	writes []int
	failAt int
}

func (r *chunkRecorder) Write(p []byte) (int, error) {
	if r.failAt > 0 && len(r.writes) == r.failAt {
		return 0, errors.New("broken pipe")
	}
	r.writes = append(r.writes, len(p))
	return r.Buffer.Write(p)
}

func TestPaceWritesEverythingInChunks(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte{0x47}, chunkSize*3+188)
	var w chunkRecorder
	n, err := pace(context.Background(), &w, data, 0, slog.Default())
	if err != nil {
		t.Fatalf("pace: %v", err)
	}
	if n != int64(len(data)) {
		t.Errorf("sent: got %d, want %d", n, len(data))
	}
	want := []int{chunkSize, chunkSize, chunkSize, 188}
	if len(w.writes) != len(want) {
		t.Fatalf("writes: got %v, want %v", w.writes, want)
	}
	for i := range want {
		if w.writes[i] != want[i] {
			t.Errorf("write %d: got %d, want %d", i, w.writes[i], want[i])
		}
	}
	if !bytes.Equal(w.Bytes(), data) {
		t.Error("payload mismatch")
	}
}

func TestPaceHoldsRate(t *testing.T) {
	t.Parallel()

	// Four chunks at two chunks per 100ms takes about 200ms.
	data := make([]byte, chunkSize*4)
	start := time.Now()
	if _, err := pace(context.Background(), &chunkRecorder{}, data, float64(chunkSize*20), slog.Default()); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("elapsed %s, want at least 150ms", elapsed)
	}
}

func TestPaceStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err := pace(ctx, &chunkRecorder{}, make([]byte, chunkSize*10), 1, slog.Default())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if n != chunkSize {
		t.Errorf("sent %d before noticing cancel, want %d", n, chunkSize)
	}
}

func TestPaceWriteError(t *testing.T) {
	t.Parallel()

	w := &chunkRecorder{failAt: 2}
	n, err := pace(context.Background(), w, make([]byte, chunkSize*5), 0, slog.Default())
	if err == nil {
		t.Fatal("expected write error")
	}
	if n != 2*chunkSize {
		t.Errorf("sent: got %d, want %d", n, 2*chunkSize)
	}
}

func TestPublishRejectsListener(t *testing.T) {
	t.Parallel()

	p := NewPublisher(DefaultConfig(), nil)
	if _, err := p.Publish(context.Background(), "srt://:9000?mode=listener", nil, 0); err == nil {
		t.Fatal("listener locator accepted")
	}
}
