package mpegts

import (
	"bytes"
	"context"
	"errors"
	"io"
)

// Reader pulls transport packets from an io.Reader and returns parsed units.
// Corrupt packets and sections are skipped; the reader resynchronizes on the
// next sync byte after garbage.
type Reader struct {
	ctx     context.Context
	r       io.Reader
	buf     []byte
	asm     *assemblers
	pending []*Unit
	eof     bool

	// Skipped counts packets and sections dropped as corrupt.
	Skipped int
}

// NewReader returns a Reader over r. Next fails with ctx.Err() once ctx is
// done.
func NewReader(ctx context.Context, r io.Reader) *Reader {
	return &Reader{
		ctx: ctx,
		r:   r,
		buf: make([]byte, PacketSize),
		asm: newAssemblers(),
	}
}

// Next returns the next unit, or io.EOF once the source is exhausted and
// every buffered unit has been returned.
func (r *Reader) Next() (*Unit, error) {
	for {
		if len(r.pending) > 0 {
			u := r.pending[0]
			r.pending = r.pending[1:]
			return u, nil
		}
		if r.eof {
			return nil, io.EOF
		}
		if err := r.ctx.Err(); err != nil {
			return nil, err
		}

		p, err := r.readPacket()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				r.eof = true
				for _, ps := range r.asm.drain() {
					r.parse(ps)
				}
				continue
			}
			return nil, err
		}
		if ps := r.asm.add(p); ps != nil {
			r.parse(ps)
		}
	}
}

func (r *Reader) readPacket() (*packet, error) {
	if _, err := io.ReadFull(r.r, r.buf); err != nil {
		return nil, err
	}
	for {
		p, err := parsePacket(r.buf)
		if !errors.Is(err, errSync) {
			return p, err
		}
		r.Skipped++
		// Slide to the next candidate sync byte and refill the tail.
		i := bytes.IndexByte(r.buf[1:], syncByte)
		if i < 0 {
			if _, err := io.ReadFull(r.r, r.buf); err != nil {
				return nil, err
			}
			continue
		}
		n := copy(r.buf, r.buf[1+i:])
		if _, err := io.ReadFull(r.r, r.buf[n:]); err != nil {
			return nil, err
		}
	}
}

func (r *Reader) parse(ps []*packet) {
	pid := ps[0].pid
	payload := payloadOf(ps)
	if len(payload) == 0 {
		return
	}

	if r.asm.isPSI(pid) {
		units, err := parsePSI(pid, payload)
		if err != nil {
			r.Skipped++
		}
		for _, u := range units {
			for _, prog := range u.Programs {
				r.asm.markPMT(prog.PMTPID)
			}
		}
		r.pending = append(r.pending, units...)
		return
	}

	if !isPES(payload) {
		return
	}
	pes, err := parsePES(payload)
	if err != nil {
		r.Skipped++
		return
	}
	r.pending = append(r.pending, &Unit{PID: pid, PES: pes})
}
