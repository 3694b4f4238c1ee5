package mpegts

import (
	"errors"
	"fmt"
)

var (
	errSync = errors.New("mpegts: lost sync")
	errCRC  = errors.New("mpegts: CRC32 mismatch")
)

func parsePacket(buf []byte) (*packet, error) {
	if len(buf) != PacketSize {
		return nil, fmt.Errorf("mpegts: packet of %d bytes", len(buf))
	}
	if buf[0] != syncByte {
		return nil, errSync
	}

	p := &packet{header: header{
		transportErr: buf[1]&0x80 != 0,
		unitStart:    buf[1]&0x40 != 0,
		pid:          uint16(buf[1]&0x1F)<<8 | uint16(buf[2]),
		adaptation:   buf[3]&0x20 != 0,
		hasPayload:   buf[3]&0x10 != 0,
		cc:           buf[3] & 0x0F,
	}}

	off := 4
	if p.adaptation {
		n := int(buf[off])
		if n > 0 && off+1 < PacketSize {
			p.discontinued = buf[off+1]&0x80 != 0
		}
		off = min(off+1+n, PacketSize)
	}
	if p.hasPayload && off < PacketSize {
		p.payload = append([]byte(nil), buf[off:]...)
	}
	return p, nil
}

// MPEG-2 CRC32, polynomial 0x04C11DB7, no reflection.
var crcTable = func() (t [256]uint32) {
	for i := range t {
		c := uint32(i) << 24
		for range 8 {
			if c&0x80000000 != 0 {
				c = c<<1 ^ 0x04C11DB7
			} else {
				c <<= 1
			}
		}
		t[i] = c
	}
	return t
}()

func crc32(data []byte) uint32 {
	c := uint32(0xFFFFFFFF)
	for _, b := range data {
		c = c<<8 ^ crcTable[byte(c>>24)^b]
	}
	return c
}

// checkCRC verifies a section whose last four bytes are its CRC32.
func checkCRC(section []byte) error {
	if len(section) < 4 || crc32(section) != 0 {
		return errCRC
	}
	return nil
}
