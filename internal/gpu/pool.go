package gpu

import (
	"sync"
	"sync/atomic"

	"github.com/zsiec/playout/internal/media"
)

// maxFreePerSize bounds how many idle allocations of one size are kept for
// reuse.
const maxFreePerSize = 8

// PoolStats is a snapshot of allocation counters.
type PoolStats struct {
	Allocated int64
	Reused    int64
	Released  int64
	Live      int64
}

// Pool hands out buffers and reuses the memory of released ones.
type Pool struct {
	mu   sync.Mutex
	free map[int][][]byte

	allocated atomic.Int64
	reused    atomic.Int64
	released  atomic.Int64
	live      atomic.Int64
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	return &Pool{free: make(map[int][][]byte)}
}

// Get returns a buffer of width×height pixels of bpp bytes each.
func (p *Pool) Get(width, height, bpp int, format media.PixelFormat) *Buffer {
	size := width * height * bpp

	p.mu.Lock()
	var data []byte
	if list := p.free[size]; len(list) > 0 {
		data = list[len(list)-1]
		p.free[size] = list[:len(list)-1]
	}
	p.mu.Unlock()

	if data == nil {
		data = make([]byte, size)
		p.allocated.Add(1)
	} else {
		p.reused.Add(1)
	}
	p.live.Add(1)

	return &Buffer{a: &allocation{
		pool:   p,
		data:   data,
		width:  width,
		height: height,
		bpp:    bpp,
		format: format,
	}}
}

func (p *Pool) put(a *allocation) {
	if !a.released.CompareAndSwap(false, true) {
		panic("gpu: allocation released twice")
	}
	p.released.Add(1)
	p.live.Add(-1)

	size := len(a.data)
	p.mu.Lock()
	if len(p.free[size]) < maxFreePerSize {
		p.free[size] = append(p.free[size], a.data)
	}
	p.mu.Unlock()
	a.data = nil
}

// Live returns the number of buffers currently owned by some handle.
func (p *Pool) Live() int64 {
	return p.live.Load()
}

// Stats returns the pool counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Allocated: p.allocated.Load(),
		Reused:    p.reused.Load(),
		Released:  p.released.Load(),
		Live:      p.live.Load(),
	}
}
