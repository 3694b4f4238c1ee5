// Package mpegts reads MPEG-TS transport streams: it reassembles PAT and PMT
// sections and PES packets per PID and hands them out one unit at a time.
package mpegts

// PacketSize is the length of one transport stream packet.
const PacketSize = 188

const (
	syncByte = 0x47
	pidPAT   = 0x0000
)

// PMT stream types recognized by the readers built on this package.
const (
	StreamTypeMPEG2Video = 0x02
	StreamTypeMPEG1Audio = 0x03
	StreamTypeMPEG2Audio = 0x04
	StreamTypeAAC        = 0x0F
	StreamTypeH264       = 0x1B
	StreamTypeH265       = 0x24
	StreamTypeAC3        = 0x81
)

type header struct {
	pid          uint16
	cc           uint8
	adaptation   bool
	hasPayload   bool
	unitStart    bool
	transportErr bool
	discontinued bool
}

type packet struct {
	header
	payload []byte
}

// Program maps a program number to the PID carrying its PMT.
type Program struct {
	Number uint16
	PMTPID uint16
}

// ElementaryStream is one PMT entry.
type ElementaryStream struct {
	PID  uint16
	Type uint8
}

// PMT is a parsed program map section.
type PMT struct {
	ProgramNumber uint16
	PCRPID        uint16
	Streams       []ElementaryStream
}

// PES is a reassembled packetized elementary stream packet. PTS and DTS are
// 90 kHz ticks, valid only when the matching Has flag is set.
type PES struct {
	StreamID uint8
	PTS      int64
	DTS      int64
	HasPTS   bool
	HasDTS   bool
	Data     []byte
}

// Unit is one parsed item read from the stream. Exactly one of Programs,
// PMT or PES is set.
type Unit struct {
	PID      uint16
	Programs []Program
	PMT      *PMT
	PES      *PES
}
