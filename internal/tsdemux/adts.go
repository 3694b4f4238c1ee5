package tsdemux

import "errors"

var errInvalidADTS = errors.New("tsdemux: invalid ADTS header")

var adtsSampleRates = [...]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350,
}

// adtsFrame is one complete ADTS frame, header included, since the AAC
// decoder reads its configuration from the header.
type adtsFrame struct {
	data       []byte
	sampleRate int
	channels   int
}

// parseADTS splits an ADTS byte stream into frames, skipping garbage
// between sync words and stopping at a truncated tail.
func parseADTS(data []byte) ([]adtsFrame, error) {
	var frames []adtsFrame
	for off := 0; len(data)-off >= 7; {
		if data[off] != 0xFF || data[off+1]&0xF0 != 0xF0 {
			off++
			continue
		}

		headerLen := 7
		if data[off+1]&0x01 == 0 {
			headerLen = 9
		}
		rateIdx := int(data[off+2]>>2) & 0x0F
		if rateIdx >= len(adtsSampleRates) {
			return frames, errInvalidADTS
		}
		cfg := int(data[off+2]&0x01)<<2 | int(data[off+3]>>6)
		n := int(data[off+3]&0x03)<<11 | int(data[off+4])<<3 | int(data[off+5]>>5)
		if n < headerLen || off+n > len(data) {
			break
		}

		frames = append(frames, adtsFrame{
			data:       data[off : off+n],
			sampleRate: adtsSampleRates[rateIdx],
			channels:   aacChannels(cfg),
		})
		off += n
	}
	return frames, nil
}

// aacChannels maps an AAC channel configuration to a channel count.
// Configuration 7 is 7.1, eight channels.
func aacChannels(cfg int) int {
	if cfg == 7 {
		return 8
	}
	return cfg
}

// aacLayouts names the libav channel layout of each AAC channel count.
var aacLayouts = map[int]string{
	1: "mono",
	2: "stereo",
	3: "3.0",
	4: "4.0",
	5: "5.0",
	6: "5.1",
	8: "7.1",
}
