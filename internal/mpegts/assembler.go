package mpegts

import "slices"

// assembler collects the packets of one PID until a unit is complete: the
// next unit start for PES, or a fully received section for PSI.
type assembler struct {
	pid     uint16
	psi     bool
	packets []*packet
}

func (a *assembler) add(p *packet) []*packet {
	if p.transportErr {
		a.packets = nil
		return nil
	}
	if !p.hasPayload {
		return nil
	}

	if n := len(a.packets); n > 0 && !p.discontinued {
		prev := a.packets[n-1].cc
		switch p.cc {
		case (prev + 1) & 0x0F:
		case prev:
			return nil
		default:
			// Lost packets; the partial unit is unusable.
			a.packets = nil
		}
	}

	var done []*packet
	if p.unitStart && len(a.packets) > 0 {
		done, a.packets = a.packets, nil
	}
	a.packets = append(a.packets, p)

	if done == nil && a.psi && walkSections(payloadOf(a.packets), nil) {
		done, a.packets = a.packets, nil
	}
	return done
}

func (a *assembler) flush() []*packet {
	done := a.packets
	a.packets = nil
	return done
}

func payloadOf(ps []*packet) []byte {
	var b []byte
	for _, p := range ps {
		b = append(b, p.payload...)
	}
	return b
}

// assemblers tracks one assembler per PID and which PIDs carry PMTs.
type assemblers struct {
	byPID   map[uint16]*assembler
	pmtPIDs map[uint16]bool
}

func newAssemblers() *assemblers {
	return &assemblers{
		byPID:   make(map[uint16]*assembler),
		pmtPIDs: make(map[uint16]bool),
	}
}

func (as *assemblers) isPSI(pid uint16) bool {
	return pid == pidPAT || as.pmtPIDs[pid]
}

func (as *assemblers) markPMT(pid uint16) {
	as.pmtPIDs[pid] = true
	if a, ok := as.byPID[pid]; ok {
		a.psi = true
	}
}

func (as *assemblers) add(p *packet) []*packet {
	a, ok := as.byPID[p.pid]
	if !ok {
		a = &assembler{pid: p.pid, psi: as.isPSI(p.pid)}
		as.byPID[p.pid] = a
	}
	return a.add(p)
}

// drain flushes every PID in ascending order so the PAT precedes the PMTs
// it announces.
func (as *assemblers) drain() [][]*packet {
	pids := make([]uint16, 0, len(as.byPID))
	for pid := range as.byPID {
		pids = append(pids, pid)
	}
	slices.Sort(pids)

	var out [][]*packet
	for _, pid := range pids {
		if ps := as.byPID[pid].flush(); len(ps) > 0 {
			out = append(out, ps)
		}
	}
	return out
}
