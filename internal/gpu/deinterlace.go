package gpu

import (
	"errors"
	"fmt"
	"time"
)

// Mode selects what the deinterlacer outputs.
type Mode int

// Deinterlacer modes.
const (
	// ModeFieldOutput splits every frame into its two fields, each emitted
	// as an independently timestamped progressive picture.
	ModeFieldOutput Mode = iota
)

// FieldOrder selects which field is temporally first.
type FieldOrder int

// Field orders.
const (
	TopFieldFirst FieldOrder = iota
	BottomFieldFirst
)

// Scope selects which inputs are split.
type Scope int

// Deinterlace scopes.
const (
	// ScopeAllFields splits every input, progressive or not.
	ScopeAllFields Scope = iota
	// ScopeInterlacedOnly passes progressive inputs through unchanged.
	ScopeInterlacedOnly
)

// DeinterlaceConfig configures a Deinterlacer.
type DeinterlaceConfig struct {
	Width      int
	Height     int
	Mode       Mode
	FieldOrder FieldOrder
	Scope      Scope
	// FrameDuration is the input frame interval; fields are spaced by half
	// of it.
	FrameDuration time.Duration
}

var errNotInitialised = errors.New("gpu: deinterlacer not initialised")

// Deinterlacer splits frames into fields. It keeps the most recent frame so
// the second field of a frame is emitted together with the first field of
// the next one; the first input therefore yields one buffer and every later
// input yields two.
type Deinterlacer struct {
	ctx  *Context
	cfg  DeinterlaceConfig
	init bool
	held *Buffer
}

// NewDeinterlacer creates an uninitialised deinterlacer bound to ctx.
func NewDeinterlacer(ctx *Context) *Deinterlacer {
	return &Deinterlacer{ctx: ctx}
}

// Init configures the deinterlacer.
func (d *Deinterlacer) Init(cfg DeinterlaceConfig) error {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("gpu: invalid deinterlace dimensions %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.Mode != ModeFieldOutput {
		return fmt.Errorf("gpu: unsupported deinterlace mode %d", cfg.Mode)
	}
	if cfg.FrameDuration <= 0 {
		return fmt.Errorf("gpu: invalid frame duration %s", cfg.FrameDuration)
	}
	d.cfg = cfg
	d.init = true
	return nil
}

// ProcessFrame takes ownership of in and appends zero, one or two buffers
// to out. The appended buffers are ready once q has finished.
func (d *Deinterlacer) ProcessFrame(in *Buffer, out *[]*Buffer, q Queue) error {
	if !d.init {
		in.Release()
		return errNotInitialised
	}
	in = in.Move()

	if d.cfg.Scope == ScopeInterlacedOnly && !in.Interlaced() {
		d.flushHeld(out, q)
		*out = append(*out, in)
		return nil
	}

	if d.held != nil && in.Timestamp() <= d.held.Timestamp() {
		// Duplicate or out of order picture: nothing to emit.
		in.Release()
		return nil
	}

	if err := d.flushHeld(out, q); err != nil {
		in.Release()
		return err
	}

	first, err := d.field(in, d.firstParity(), in.Timestamp(), q)
	if err != nil {
		in.Release()
		return err
	}
	*out = append(*out, first)
	d.held = in
	return nil
}

// flushHeld emits the second field of the held frame and releases it once
// the queue has copied it.
func (d *Deinterlacer) flushHeld(out *[]*Buffer, q Queue) error {
	if d.held == nil {
		return nil
	}
	held := d.held.Move()
	d.held = nil

	second, err := d.field(held, 1-d.firstParity(), held.Timestamp()+d.cfg.FrameDuration/2, q)
	if err != nil {
		held.Release()
		return err
	}
	*out = append(*out, second)
	return q.Submit(held.Release)
}

func (d *Deinterlacer) firstParity() int {
	if d.cfg.FieldOrder == BottomFieldFirst {
		return 1
	}
	return 0
}

// field enqueues a line-doubled copy of the rows of src with the given
// parity.
func (d *Deinterlacer) field(src *Buffer, parity int, ts time.Duration, q Queue) (*Buffer, error) {
	w, h := src.Width(), src.Height()
	dst := d.ctx.pool.Get(w, h, src.Stride()/w, src.PixelFormat())
	dst.SetTimestamp(ts)

	stride := src.Stride()
	from, to := src.Bytes(), dst.Bytes()
	err := q.Submit(func() {
		for y := 0; y < h; y++ {
			sy := y&^1 + parity
			if sy >= h {
				sy = h - 1
			}
			copy(to[y*stride:(y+1)*stride], from[sy*stride:(sy+1)*stride])
		}
	})
	if err != nil {
		dst.Release()
		return nil, err
	}
	return dst, nil
}

// Release drops the held frame without emitting its pending field. The
// caller must have waited on the queue first.
func (d *Deinterlacer) Release() {
	d.held.Release()
	d.held = nil
}
