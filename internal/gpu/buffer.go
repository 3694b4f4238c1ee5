// Package gpu models GPU-resident frame buffers, the queue that executes
// device work, and the color conversion and deinterlacing stages that run on
// it. Buffers are single-owner handles: ownership is transferred with Move
// and returned with Release, and any access through a stale handle panics.
package gpu

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/zsiec/playout/internal/media"
)

// ErrReleased is the panic value raised when a moved-from or released
// buffer handle is used.
var ErrReleased = errors.New("gpu: buffer used after release or move")

type allocation struct {
	pool       *Pool
	data       []byte
	width      int
	height     int
	bpp        int
	format     media.PixelFormat
	timestamp  time.Duration
	interlaced bool
	released   atomic.Bool
}

// Buffer is a move-only handle to a GPU allocation.
type Buffer struct {
	_ noCopy
	a *allocation
}

func (b *Buffer) alloc() *allocation {
	if b == nil || b.a == nil {
		panic(ErrReleased)
	}
	return b.a
}

// Valid reports whether the handle still owns its allocation.
func (b *Buffer) Valid() bool {
	return b != nil && b.a != nil
}

// Move transfers ownership to a new handle. The receiver becomes invalid.
func (b *Buffer) Move() *Buffer {
	a := b.alloc()
	b.a = nil
	return &Buffer{a: a}
}

// Release returns the allocation to its pool. Releasing an invalid handle
// is a no-op, so a buffer is returned exactly once whatever the number of
// calls.
func (b *Buffer) Release() {
	if b == nil || b.a == nil {
		return
	}
	a := b.a
	b.a = nil
	a.pool.put(a)
}

// Timestamp returns the presentation time of the buffer.
func (b *Buffer) Timestamp() time.Duration { return b.alloc().timestamp }

// SetTimestamp sets the presentation time of the buffer.
func (b *Buffer) SetTimestamp(ts time.Duration) { b.alloc().timestamp = ts }

// Width returns the picture width in pixels.
func (b *Buffer) Width() int { return b.alloc().width }

// Height returns the picture height in pixels.
func (b *Buffer) Height() int { return b.alloc().height }

// PixelFormat returns the layout of the buffer contents.
func (b *Buffer) PixelFormat() media.PixelFormat { return b.alloc().format }

// Stride returns the byte length of one row.
func (b *Buffer) Stride() int {
	a := b.alloc()
	return a.width * a.bpp
}

// Interlaced reports whether the picture holds two interleaved fields.
func (b *Buffer) Interlaced() bool { return b.alloc().interlaced }

// SetInterlaced marks the picture as holding two interleaved fields.
func (b *Buffer) SetInterlaced(v bool) { b.alloc().interlaced = v }

// Bytes exposes the buffer memory. The slice must not be retained past the
// lifetime of the handle.
func (b *Buffer) Bytes() []byte { return b.alloc().data }

func (b *Buffer) String() string {
	if !b.Valid() {
		return "gpu.Buffer(released)"
	}
	a := b.a
	return fmt.Sprintf("gpu.Buffer(%dx%d %s @%s)", a.width, a.height, a.format, a.timestamp)
}

// SourceSet is the group of per-plane buffers a loader uploads one decoded
// frame into.
type SourceSet struct {
	Planes     []*Buffer
	Width      int
	Height     int
	Format     media.PixelFormat
	Timestamp  time.Duration
	Interlaced bool
}

// Move transfers ownership of every plane to a new set.
func (s *SourceSet) Move() *SourceSet {
	out := &SourceSet{
		Planes:     make([]*Buffer, len(s.Planes)),
		Width:      s.Width,
		Height:     s.Height,
		Format:     s.Format,
		Timestamp:  s.Timestamp,
		Interlaced: s.Interlaced,
	}
	for i, p := range s.Planes {
		out.Planes[i] = p.Move()
	}
	s.Planes = nil
	return out
}

// Release returns every plane to its pool.
func (s *SourceSet) Release() {
	if s == nil {
		return
	}
	for _, p := range s.Planes {
		p.Release()
	}
	s.Planes = nil
}

// noCopy flags accidental copies of a Buffer to go vet.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
