package producer

import (
	"fmt"
	"strings"

	"github.com/zsiec/playout/internal/media"
)

// resolvePixelFormat picks the native loader format for a decoded pixel
// format. forced reports that the video graph must convert to native.
func resolvePixelFormat(f media.PixelFormat) (native media.PixelFormat, forced bool, err error) {
	native, ok := f.Nearest()
	if !ok {
		return "", false, unsupported("resolve pixel format", fmt.Errorf("pixel format %q", f))
	}
	return native, native != f, nil
}

// planVideo builds the retime graph: frames are resampled to twice the
// channel frame rate, ready for field output, and converted to the loader
// format when the decoder does not produce it natively.
func planVideo(stream media.StreamInfo, props media.ChannelProperties) (media.VideoGraphSpec, error) {
	native, forced, err := resolvePixelFormat(stream.PixelFormat)
	if err != nil {
		return media.VideoGraphSpec{}, err
	}
	rate := props.FrameRate().Mul(2)
	if !rate.Valid() {
		return media.VideoGraphSpec{}, fatal("plan video", fmt.Errorf("invalid channel time base %s", props.VideoTimebase))
	}

	filters := []string{fmt.Sprintf("fps=fps=%s", rate)}
	if forced {
		filters = append(filters, "format=pix_fmts="+string(native))
	}
	return media.VideoGraphSpec{
		Input:        stream,
		Description:  strings.Join(filters, ","),
		OutputFormat: native,
		FrameRate:    rate,
	}, nil
}
