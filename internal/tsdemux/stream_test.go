package tsdemux

import (
	"encoding/binary"
	"math/bits"
)

// bitWriter packs Exp-Golomb coded fields for synthetic parameter sets.
type bitWriter struct {
	buf  []byte
	nbit int
}

func (w *bitWriter) bit(b uint) {
	if w.nbit%8 == 0 {
		w.buf = append(w.buf, 0)
	}
	if b != 0 {
		w.buf[len(w.buf)-1] |= 0x80 >> (w.nbit % 8)
	}
	w.nbit++
}

func (w *bitWriter) bits(v uint, n int) {
	for i := n - 1; i >= 0; i-- {
		w.bit(v >> i & 1)
	}
}

func (w *bitWriter) ue(v uint) {
	n := bits.Len(v + 1)
	w.bits(0, n-1)
	w.bits(v+1, n)
}

// trailing writes the RBSP stop bit and pads to a byte boundary.
func (w *bitWriter) trailing() []byte {
	w.bit(1)
	for w.nbit%8 != 0 {
		w.bit(0)
	}
	return w.buf
}

// escape inserts emulation prevention bytes.
func escape(rbsp []byte) []byte {
	var out []byte
	zeros := 0
	for _, b := range rbsp {
		if zeros == 2 && b <= 3 {
			out = append(out, 3)
			zeros = 0
		}
		out = append(out, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}

// h264SPS builds an SPS NAL unit for a progressive picture of mbW×mbH
// macroblocks. Profile 100 writes chroma and bit depth fields.
func h264SPS(profile uint, mbW, mbH uint, chroma, depthMinus8 uint) []byte {
	w := &bitWriter{}
	w.bits(profile, 8)
	w.bits(0, 8) // constraint flags
	w.bits(30, 8)
	w.ue(0) // sps id
	if profile == 100 {
		w.ue(chroma)
		w.ue(depthMinus8)
		w.ue(depthMinus8)
		w.bit(0) // qpprime bypass
		w.bit(0) // scaling matrix
	}
	w.ue(0) // log2_max_frame_num_minus4
	w.ue(2) // pic_order_cnt_type
	w.ue(1) // max_num_ref_frames
	w.bit(0)
	w.ue(mbW - 1)
	w.ue(mbH - 1)
	w.bit(1) // frame_mbs_only
	w.bit(1) // direct_8x8_inference
	w.bit(0) // cropping
	w.bit(0) // vui
	return append([]byte{0x67}, escape(w.trailing())...)
}

func annexB(nalus ...[]byte) []byte {
	var b []byte
	for _, n := range nalus {
		b = append(b, 0, 0, 0, 1)
		b = append(b, n...)
	}
	return b
}

var (
	idrSlice   = []byte{0x65, 0x88, 0x84, 0x21}
	interSlice = []byte{0x41, 0x9A, 0x12, 0x34}
)

// adts builds one AAC-LC ADTS frame with a payload of n bytes.
func adts(rateIdx, cfg, n int) []byte {
	l := 7 + n
	h := []byte{
		0xFF, 0xF1,
		byte(1<<6 | rateIdx<<2 | cfg>>2),
		byte(cfg&3<<6 | l>>11&3),
		byte(l >> 3),
		byte(l&7<<5 | 0x1F),
		0xFC,
	}
	return append(h, make([]byte, n)...)
}

func crc32MPEG(data []byte) uint32 {
	c := uint32(0xFFFFFFFF)
	for _, b := range data {
		c ^= uint32(b) << 24
		for range 8 {
			if c&0x80000000 != 0 {
				c = c<<1 ^ 0x04C11DB7
			} else {
				c <<= 1
			}
		}
	}
	return c
}

func section(tableID byte, body []byte) []byte {
	n := len(body) + 4
	s := append([]byte{tableID, 0xB0 | byte(n>>8)&0x0F, byte(n)}, body...)
	return binary.BigEndian.AppendUint32(s, crc32MPEG(s))
}

func pat(pmtPID uint16) []byte {
	return section(0x00, []byte{0, 1, 0xC1, 0, 0, 0, 1, 0xE0 | byte(pmtPID>>8), byte(pmtPID)})
}

type es struct {
	typ byte
	pid uint16
}

func pmt(pcr uint16, streams ...es) []byte {
	body := []byte{0, 1, 0xC1, 0, 0, 0xE0 | byte(pcr>>8), byte(pcr), 0xF0, 0}
	for _, s := range streams {
		body = append(body, s.typ, 0xE0|byte(s.pid>>8), byte(s.pid), 0xF0, 0)
	}
	return section(0x02, body)
}

func timestamp(marker byte, v int64) []byte {
	return []byte{
		marker<<4 | byte(v>>29&0x0E) | 1,
		byte(v >> 22),
		byte(v>>14&0xFE) | 1,
		byte(v >> 7),
		byte(v<<1&0xFE) | 1,
	}
}

func pes(id byte, pts int64, data []byte) []byte {
	length := 0
	if id&0xF0 != 0xE0 {
		length = 8 + len(data)
	}
	b := []byte{0, 0, 1, id, byte(length >> 8), byte(length), 0x80, 0x80, 5}
	b = append(b, timestamp(2, pts)...)
	return append(b, data...)
}

// tsBuilder writes single-packet units, stuffing the adaptation field so
// each payload fills its packet exactly.
type tsBuilder struct {
	buf []byte
	cc  map[uint16]byte
}

func newTSBuilder() *tsBuilder {
	return &tsBuilder{cc: make(map[uint16]byte)}
}

func (t *tsBuilder) packet(pid uint16, payload []byte) *tsBuilder {
	if len(payload) > 184 {
		panic("payload does not fit one packet")
	}
	p := []byte{0x47, 0x40 | byte(pid>>8)&0x1F, byte(pid), 0x10 | t.cc[pid]&0x0F}
	t.cc[pid]++
	if stuff := 184 - len(payload); stuff > 0 {
		p[3] |= 0x20
		p = append(p, byte(stuff-1))
		if stuff > 1 {
			p = append(p, 0)
			for i := 2; i < stuff; i++ {
				p = append(p, 0xFF)
			}
		}
	}
	t.buf = append(t.buf, append(p, payload...)...)
	return t
}

func (t *tsBuilder) psi(pid uint16, section []byte) *tsBuilder {
	return t.packet(pid, append([]byte{0}, section...))
}
