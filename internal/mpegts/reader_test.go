package mpegts

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
)

func syntheticStream() *bytes.Buffer {
	var b bytes.Buffer
	b.Write(tsPacket(pidPAT, 0, true, withPointer(patSection(1, program{1, 0x1000}))))
	b.Write(tsPacket(0x1000, 0, true, withPointer(pmtSection(1, 0x100,
		esEntry{StreamTypeH264, 0x100}, esEntry{StreamTypeAAC, 0x101}))))
	idr := []byte{0, 0, 0, 1, 0x65}
	adts := []byte{0xFF, 0xF1, 0x50, 0x40}
	b.Write(tsPacket(0x100, 0, true, pesPacket(0xE0, 90000, -1, idr)))
	b.Write(tsPacket(0x101, 0, true, pesPacket(0xC0, 90000, -1, adts)))
	b.Write(tsPacket(0x100, 1, true, pesPacket(0xE0, 93003, -1, idr)))
	b.Write(tsPacket(0x101, 1, true, pesPacket(0xC0, 91920, -1, adts)))
	return &b
}

func readAll(t *testing.T, r *Reader) []*Unit {
	t.Helper()
	var units []*Unit
	for {
		u, err := r.Next()
		if errors.Is(err, io.EOF) {
			return units
		}
		if err != nil {
			t.Fatal(err)
		}
		units = append(units, u)
	}
}

func TestReaderSynthetic(t *testing.T) {
	t.Parallel()
	units := readAll(t, NewReader(context.Background(), syntheticStream()))

	var sawPAT, sawPMT bool
	pts := map[uint16][]int64{}
	for _, u := range units {
		switch {
		case u.Programs != nil:
			sawPAT = true
		case u.PMT != nil:
			sawPMT = true
			if len(u.PMT.Streams) != 2 {
				t.Errorf("PMT streams = %d, want 2", len(u.PMT.Streams))
			}
		case u.PES != nil:
			pts[u.PID] = append(pts[u.PID], u.PES.PTS)
		}
	}
	if !sawPAT || !sawPMT {
		t.Errorf("PAT %v PMT %v", sawPAT, sawPMT)
	}
	if got := pts[0x100]; len(got) != 2 || got[0] != 90000 || got[1] != 93003 {
		t.Errorf("video pts = %v", got)
	}
	if got := pts[0x101]; len(got) != 2 || got[0] != 90000 || got[1] != 91920 {
		t.Errorf("audio pts = %v", got)
	}
}

func TestReaderResyncsAfterGarbage(t *testing.T) {
	t.Parallel()
	src := syntheticStream().Bytes()
	var b bytes.Buffer
	b.Write(src[:2*PacketSize])
	b.Write([]byte{0x00, 0x12, 0x34})
	b.Write(src[2*PacketSize:])

	r := NewReader(context.Background(), &b)
	var pes int
	for _, u := range readAll(t, r) {
		if u.PES != nil {
			pes++
		}
	}
	if pes != 4 {
		t.Errorf("PES units = %d, want 4", pes)
	}
	if r.Skipped == 0 {
		t.Error("garbage not counted")
	}
}

func TestReaderSkipsCorruptPAT(t *testing.T) {
	t.Parallel()
	pat := patSection(1, program{1, 0x1000})
	pat[len(pat)-1] ^= 1
	r := NewReader(context.Background(), bytes.NewReader(tsPacket(pidPAT, 0, true, withPointer(pat))))
	if units := readAll(t, r); len(units) != 0 {
		t.Errorf("units = %d, want 0", len(units))
	}
	if r.Skipped != 1 {
		t.Errorf("skipped = %d, want 1", r.Skipped)
	}
}

func TestReaderEmpty(t *testing.T) {
	t.Parallel()
	r := NewReader(context.Background(), bytes.NewReader(nil))
	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("err = %v, want io.EOF", err)
	}
}

func TestReaderContextCancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewReader(ctx, syntheticStream())
	if _, err := r.Next(); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestReaderPropagatesReadErrors(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	r := NewReader(context.Background(), io.MultiReader(bytes.NewReader(make([]byte, 10)), errReader{boom}))
	if _, err := r.Next(); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }
