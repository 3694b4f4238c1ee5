package mpegts

import "fmt"

const (
	tableIDPAT = 0x00
	tableIDPMT = 0x02
)

// walkSections calls fn for every complete section in a PSI payload that
// starts with a pointer field. It reports whether the payload ended cleanly,
// either on stuffing or exactly at a section boundary.
func walkSections(payload []byte, fn func(section []byte)) (complete bool) {
	if len(payload) == 0 {
		return false
	}
	off := 1 + int(payload[0])
	if off >= len(payload) {
		return false
	}
	for off < len(payload) {
		if payload[off] == 0xFF {
			return true
		}
		if off+3 > len(payload) {
			return false
		}
		// Zero padding has section_syntax_indicator clear.
		if payload[off+1]&0x80 == 0 {
			return true
		}
		end := off + 3 + (int(payload[off+1]&0x0F)<<8 | int(payload[off+2]))
		if end > len(payload) {
			return false
		}
		if fn != nil {
			fn(payload[off:end])
		}
		off = end
	}
	return true
}

func parsePSI(pid uint16, payload []byte) ([]*Unit, error) {
	var (
		units []*Unit
		err   error
	)
	walkSections(payload, func(s []byte) {
		if err != nil {
			return
		}
		switch s[0] {
		case tableIDPAT:
			var progs []Program
			if progs, err = parsePAT(s); err == nil {
				units = append(units, &Unit{PID: pid, Programs: progs})
			}
		case tableIDPMT:
			var pmt *PMT
			if pmt, err = parsePMT(s); err == nil {
				units = append(units, &Unit{PID: pid, PMT: pmt})
			}
		}
	})
	return units, err
}

// parsePAT reads the program loop between the 8-byte section header and
// the CRC. Program 0 points at the NIT and is skipped.
func parsePAT(s []byte) ([]Program, error) {
	if len(s) < 12 {
		return nil, fmt.Errorf("mpegts: PAT of %d bytes", len(s))
	}
	if err := checkCRC(s); err != nil {
		return nil, fmt.Errorf("mpegts: PAT: %w", err)
	}
	var progs []Program
	for i := 8; i+4 <= len(s)-4; i += 4 {
		num := uint16(s[i])<<8 | uint16(s[i+1])
		if num == 0 {
			continue
		}
		progs = append(progs, Program{
			Number: num,
			PMTPID: uint16(s[i+2]&0x1F)<<8 | uint16(s[i+3]),
		})
	}
	return progs, nil
}

func parsePMT(s []byte) (*PMT, error) {
	if len(s) < 16 {
		return nil, fmt.Errorf("mpegts: PMT of %d bytes", len(s))
	}
	if err := checkCRC(s); err != nil {
		return nil, fmt.Errorf("mpegts: PMT: %w", err)
	}
	pmt := &PMT{
		ProgramNumber: uint16(s[3])<<8 | uint16(s[4]),
		PCRPID:        uint16(s[8]&0x1F)<<8 | uint16(s[9]),
	}
	end := len(s) - 4
	for off := 12 + (int(s[10]&0x0F)<<8 | int(s[11])); off+5 <= end; {
		pmt.Streams = append(pmt.Streams, ElementaryStream{
			Type: s[off],
			PID:  uint16(s[off+1]&0x1F)<<8 | uint16(s[off+2]),
		})
		off += 5 + (int(s[off+3]&0x0F)<<8 | int(s[off+4]))
	}
	return pmt, nil
}
