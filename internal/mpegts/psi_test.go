package mpegts

import "testing"

func TestParsePAT(t *testing.T) {
	t.Parallel()
	progs, err := parsePAT(patSection(7, program{0, 0x10}, program{1, 0x1000}, program{2, 0x1001}))
	if err != nil {
		t.Fatal(err)
	}
	want := []Program{{1, 0x1000}, {2, 0x1001}}
	if len(progs) != len(want) {
		t.Fatalf("programs = %+v", progs)
	}
	for i := range want {
		if progs[i] != want[i] {
			t.Errorf("program %d = %+v, want %+v", i, progs[i], want[i])
		}
	}
}

func TestParsePMT(t *testing.T) {
	t.Parallel()
	pmt, err := parsePMT(pmtSection(1, 0x100, esEntry{StreamTypeH264, 0x100}, esEntry{StreamTypeAAC, 0x101}))
	if err != nil {
		t.Fatal(err)
	}
	if pmt.ProgramNumber != 1 || pmt.PCRPID != 0x100 {
		t.Errorf("pmt = %+v", pmt)
	}
	if len(pmt.Streams) != 2 || pmt.Streams[0] != (ElementaryStream{0x100, StreamTypeH264}) || pmt.Streams[1] != (ElementaryStream{0x101, StreamTypeAAC}) {
		t.Errorf("streams = %+v", pmt.Streams)
	}
}

func TestParseSectionsBadCRC(t *testing.T) {
	t.Parallel()
	pat := patSection(1, program{1, 0x1000})
	pat[len(pat)-1] ^= 1
	if _, err := parsePAT(pat); err == nil {
		t.Error("PAT with bad CRC accepted")
	}
	pmt := pmtSection(1, 0x100, esEntry{StreamTypeH264, 0x100})
	pmt[len(pmt)-1] ^= 1
	if _, err := parsePMT(pmt); err == nil {
		t.Error("PMT with bad CRC accepted")
	}
}

func TestParsePSIPointerAndStuffing(t *testing.T) {
	t.Parallel()
	payload := append([]byte{3, 0xAA, 0xBB, 0xCC}, patSection(1, program{1, 0x1000})...)
	payload = append(payload, 0xFF, 0xFF)
	units, err := parsePSI(0, payload)
	if err != nil {
		t.Fatal(err)
	}
	if len(units) != 1 || len(units[0].Programs) != 1 {
		t.Fatalf("units = %+v", units)
	}
}

func TestWalkSectionsIncomplete(t *testing.T) {
	t.Parallel()
	full := withPointer(pmtSection(1, 0x100, esEntry{StreamTypeH264, 0x100}))
	if !walkSections(full, nil) {
		t.Error("complete section reported incomplete")
	}
	s := pmtSection(1, 0x100, esEntry{StreamTypeH264, 0x100})
	if walkSections(append([]byte{0}, s[:len(s)-3]...), nil) {
		t.Error("truncated section reported complete")
	}
	if walkSections(nil, nil) {
		t.Error("empty payload reported complete")
	}
}
