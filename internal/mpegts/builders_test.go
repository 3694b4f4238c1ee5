package mpegts

import "encoding/binary"

func tsPacket(pid uint16, cc uint8, start bool, payload []byte) []byte {
	buf := make([]byte, PacketSize)
	buf[0] = syncByte
	buf[1] = byte(pid>>8) & 0x1F
	if start {
		buf[1] |= 0x40
	}
	buf[2] = byte(pid)
	buf[3] = 0x10 | cc&0x0F
	copy(buf[4:], payload)
	return buf
}

func tsPacketWithAF(pid uint16, cc uint8, afLen int, afFlags byte, payload []byte) []byte {
	buf := make([]byte, PacketSize)
	buf[0] = syncByte
	buf[1] = byte(pid>>8) & 0x1F
	buf[2] = byte(pid)
	buf[3] = 0x20 | cc&0x0F
	if payload != nil {
		buf[3] |= 0x10
	}
	buf[4] = byte(afLen)
	if afLen > 0 {
		buf[5] = afFlags
	}
	if off := 5 + afLen; off < PacketSize {
		copy(buf[off:], payload)
	}
	return buf
}

type program struct{ num, pid uint16 }

type esEntry struct {
	typ uint8
	pid uint16
}

func patSection(tsID uint16, progs ...program) []byte {
	n := 5 + 4*len(progs) + 4
	s := make([]byte, 3+n)
	s[0] = tableIDPAT
	s[1] = 0xB0 | byte(n>>8)&0x0F
	s[2] = byte(n)
	binary.BigEndian.PutUint16(s[3:], tsID)
	s[5] = 0xC1
	off := 8
	for _, p := range progs {
		binary.BigEndian.PutUint16(s[off:], p.num)
		s[off+2] = 0xE0 | byte(p.pid>>8)&0x1F
		s[off+3] = byte(p.pid)
		off += 4
	}
	binary.BigEndian.PutUint32(s[off:], crc32(s[:off]))
	return s
}

func pmtSection(num, pcr uint16, streams ...esEntry) []byte {
	n := 9 + 5*len(streams) + 4
	s := make([]byte, 3+n)
	s[0] = tableIDPMT
	s[1] = 0xB0 | byte(n>>8)&0x0F
	s[2] = byte(n)
	binary.BigEndian.PutUint16(s[3:], num)
	s[5] = 0xC1
	s[8] = 0xE0 | byte(pcr>>8)&0x1F
	s[9] = byte(pcr)
	s[10] = 0xF0
	off := 12
	for _, e := range streams {
		s[off] = e.typ
		s[off+1] = 0xE0 | byte(e.pid>>8)&0x1F
		s[off+2] = byte(e.pid)
		s[off+3] = 0xF0
		off += 5
	}
	binary.BigEndian.PutUint32(s[off:], crc32(s[:off]))
	return s
}

// withPointer prefixes a section with a zero pointer field and pads the rest
// of the payload with stuffing.
func withPointer(section []byte) []byte {
	b := append([]byte{0}, section...)
	for len(b) < PacketSize-4 {
		b = append(b, 0xFF)
	}
	return b
}

func encodeTimestamp(marker byte, v int64) []byte {
	return []byte{
		marker<<4 | byte(v>>29&0x0E) | 0x01,
		byte(v >> 22),
		byte(v>>14&0xFE) | 0x01,
		byte(v >> 7),
		byte(v<<1&0xFE) | 0x01,
	}
}

// pesPacket builds a PES packet; pts or dts below zero are omitted. Video
// stream ids get an unbounded length.
func pesPacket(id byte, pts, dts int64, data []byte) []byte {
	var opt []byte
	var flags byte
	switch {
	case pts >= 0 && dts >= 0:
		flags = 3
		opt = append(encodeTimestamp(0x3, pts), encodeTimestamp(0x1, dts)...)
	case pts >= 0:
		flags = 2
		opt = encodeTimestamp(0x2, pts)
	}
	length := 3 + len(opt) + len(data)
	if id&0xF0 == 0xE0 {
		length = 0
	}
	b := []byte{0, 0, 1, id, byte(length >> 8), byte(length), 0x80, flags << 6, byte(len(opt))}
	b = append(b, opt...)
	return append(b, data...)
}
