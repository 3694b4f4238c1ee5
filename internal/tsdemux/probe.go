package tsdemux

import (
	"errors"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"

	"github.com/zsiec/playout/internal/media"
	"github.com/zsiec/playout/internal/mpegts"
)

var errNoParameters = errors.New("tsdemux: codec parameters not found")

// codecs maps PMT stream types to libav decoder names.
var codecs = map[uint8]struct {
	kind media.MediaType
	name string
}{
	mpegts.StreamTypeH264:       {media.MediaTypeVideo, "h264"},
	mpegts.StreamTypeH265:       {media.MediaTypeVideo, "hevc"},
	mpegts.StreamTypeMPEG2Video: {media.MediaTypeVideo, "mpeg2video"},
	mpegts.StreamTypeAAC:        {media.MediaTypeAudio, "aac"},
}

// classify fills the type and codec of a stream from its PMT entry. Stream
// types without a decoder mapping become data streams.
func classify(info *media.StreamInfo, streamType uint8) {
	c, ok := codecs[streamType]
	if !ok {
		info.Type = media.MediaTypeData
		return
	}
	info.Type = c.kind
	info.Codec = c.name
}

// probe reads codec parameters from the first payload of a stream. It
// returns errNoParameters until the payload carries them.
func probe(info *media.StreamInfo, data []byte) error {
	switch info.Codec {
	case "h264":
		return probeH264(info, data)
	case "hevc":
		return probeH265(info, data)
	case "mpeg2video":
		return probeMPEG2(info, data)
	case "aac":
		return probeAAC(info, data)
	}
	return nil
}

// h264HighProfiles carry chroma_format_idc in the SPS; every other profile
// is 4:2:0.
var h264HighProfiles = map[uint8]bool{
	100: true, 110: true, 122: true, 244: true, 44: true,
	83: true, 86: true, 118: true, 128: true, 138: true,
	139: true, 134: true, 135: true,
}

func probeH264(info *media.StreamInfo, data []byte) error {
	var au h264.AnnexB
	if err := au.Unmarshal(data); err != nil {
		return errNoParameters
	}
	for _, nalu := range au {
		if len(nalu) == 0 || h264.NALUType(nalu[0]&0x1F) != h264.NALUTypeSPS {
			continue
		}
		var sps h264.SPS
		if err := sps.Unmarshal(nalu); err != nil {
			return err
		}
		chroma := uint32(1)
		if h264HighProfiles[sps.ProfileIdc] {
			chroma = sps.ChromaFormatIdc
		}
		info.Width = sps.Width()
		info.Height = sps.Height()
		info.PixelFormat = pixelFormat(chroma, sps.BitDepthLumaMinus8)
		return nil
	}
	return errNoParameters
}

func probeH265(info *media.StreamInfo, data []byte) error {
	var au h264.AnnexB
	if err := au.Unmarshal(data); err != nil {
		return errNoParameters
	}
	for _, nalu := range au {
		if len(nalu) < 2 || h265.NALUType((nalu[0]>>1)&0x3F) != h265.NALUType_SPS_NUT {
			continue
		}
		var sps h265.SPS
		if err := sps.Unmarshal(nalu); err != nil {
			return err
		}
		info.Width = sps.Width()
		info.Height = sps.Height()
		info.PixelFormat = pixelFormat(sps.ChromaFormatIdc, sps.BitDepthLumaMinus8)
		return nil
	}
	return errNoParameters
}

// pixelFormat names the libav planar format of a chroma format and luma
// bit depth. Monochrome has no loader family and is reported as gray.
func pixelFormat(chroma, depthMinus8 uint32) media.PixelFormat {
	var f string
	switch chroma {
	case 0:
		return "gray"
	case 2:
		f = "yuv422p"
	case 3:
		f = "yuv444p"
	default:
		f = "yuv420p"
	}
	if depthMinus8 > 0 {
		f += "10le"
	}
	return media.PixelFormat(f)
}

// probeMPEG2 reads the sequence header (start code 0x000001B3): 12 bits of
// width, 12 of height, then aspect and frame rate codes. Main profile is
// always 4:2:0.
func probeMPEG2(info *media.StreamInfo, data []byte) error {
	for i := 0; i+7 < len(data); i++ {
		if data[i] != 0 || data[i+1] != 0 || data[i+2] != 1 || data[i+3] != 0xB3 {
			continue
		}
		h := data[i+4:]
		info.Width = int(h[0])<<4 | int(h[1]>>4)
		info.Height = int(h[1]&0x0F)<<8 | int(h[2])
		if r, ok := mpeg2FrameRates[h[3]&0x0F]; ok {
			info.FrameRate = r
		}
		info.PixelFormat = media.PixelFormatYUV420P
		return nil
	}
	return errNoParameters
}

var mpeg2FrameRates = map[byte]media.Rational{
	1: {Num: 24000, Den: 1001},
	2: {Num: 24, Den: 1},
	3: {Num: 25, Den: 1},
	4: {Num: 30000, Den: 1001},
	5: {Num: 30, Den: 1},
	6: {Num: 50, Den: 1},
	7: {Num: 60000, Den: 1001},
	8: {Num: 60, Den: 1},
}

// probeAAC reads rate and channels from the first ADTS header. The libav
// AAC decoder produces planar float.
func probeAAC(info *media.StreamInfo, data []byte) error {
	frames, err := parseADTS(data)
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		return errNoParameters
	}
	f := frames[0]
	info.SampleRate = f.sampleRate
	info.Channels = f.channels
	info.ChannelLayout = aacLayouts[f.channels]
	info.SampleFormat = "fltp"
	return nil
}

// keyframe reports whether a video access unit starts a decodable picture.
func keyframe(codec string, data []byte) bool {
	switch codec {
	case "h264", "hevc":
	case "mpeg2video":
		return containsStartCode(data, 0xB3)
	default:
		return true
	}
	var au h264.AnnexB
	if err := au.Unmarshal(data); err != nil {
		return false
	}
	for _, nalu := range au {
		if len(nalu) == 0 {
			continue
		}
		if codec == "h264" {
			if h264.NALUType(nalu[0]&0x1F) == h264.NALUTypeIDR {
				return true
			}
			continue
		}
		switch h265.NALUType((nalu[0] >> 1) & 0x3F) {
		case h265.NALUType_IDR_W_RADL, h265.NALUType_IDR_N_LP, h265.NALUType_CRA_NUT:
			return true
		}
	}
	return false
}

func containsStartCode(data []byte, code byte) bool {
	for i := 0; i+3 < len(data); i++ {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 && data[i+3] == code {
			return true
		}
	}
	return false
}
