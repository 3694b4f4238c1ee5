package mpegts

import "fmt"

func isPES(b []byte) bool {
	return len(b) >= 3 && b[0] == 0 && b[1] == 0 && b[2] == 1
}

// hasOptionalHeader reports whether a stream id carries the PES optional
// header. Padding, private_stream_2, ECM, EMM, DSMCC, H.222.1 type E and the
// program stream directory do not.
func hasOptionalHeader(id uint8) bool {
	switch id {
	case 0xBE, 0xBF, 0xF0, 0xF1, 0xF2, 0xF8, 0xFF:
		return false
	}
	return true
}

func parsePES(b []byte) (*PES, error) {
	if len(b) < 6 {
		return nil, fmt.Errorf("mpegts: PES of %d bytes", len(b))
	}
	if !isPES(b) {
		return nil, fmt.Errorf("mpegts: PES start code missing")
	}
	pes := &PES{StreamID: b[3]}

	// A zero length is only legal for video and means "until the next unit".
	end := len(b)
	if n := int(b[4])<<8 | int(b[5]); n > 0 && 6+n <= len(b) {
		end = 6 + n
	}

	if !hasOptionalHeader(pes.StreamID) {
		pes.Data = b[6:end]
		return pes, nil
	}
	if len(b) < 9 {
		return nil, fmt.Errorf("mpegts: PES optional header truncated")
	}

	flags := b[7] >> 6
	start := min(9+int(b[8]), end)
	if flags&0x2 != 0 && len(b) >= 14 {
		pes.PTS, pes.HasPTS = timestamp(b[9:14]), true
	}
	if flags == 0x3 && len(b) >= 19 {
		pes.DTS, pes.HasDTS = timestamp(b[14:19]), true
	}
	pes.Data = b[start:end]
	return pes, nil
}

// timestamp decodes a 33-bit PTS or DTS spread over five bytes with marker
// bits.
func timestamp(b []byte) int64 {
	return int64(b[0]>>1&0x07)<<30 |
		int64(b[1])<<22 |
		int64(b[2]>>1&0x7F)<<15 |
		int64(b[3])<<7 |
		int64(b[4]>>1&0x7F)
}
