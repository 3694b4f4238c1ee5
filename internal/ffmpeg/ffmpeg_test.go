package ffmpeg

import (
	"testing"

	"github.com/asticode/go-astiav"
	"github.com/stretchr/testify/assert"

	"github.com/zsiec/playout/internal/media"
)

func TestLogLevel(t *testing.T) {
	cases := map[string]astiav.LogLevel{
		"quiet":   astiav.LogLevelQuiet,
		"WARN":    astiav.LogLevelWarning,
		"warning": astiav.LogLevelWarning,
		"info":    astiav.LogLevelInfo,
		"debug":   astiav.LogLevelDebug,
		"":        astiav.LogLevelError,
		"bogus":   astiav.LogLevelError,
	}
	for in, want := range cases {
		assert.Equal(t, want, logLevel(in), in)
	}
}

func TestRationalRoundTrip(t *testing.T) {
	r := media.NewRational(1001, 30000)
	assert.Equal(t, r, rational(avRational(r)))
}

func TestAudioFrameRejectsNonTemplate(t *testing.T) {
	_, err := audioFrame(&media.Frame{Type: media.MediaTypeAudio, SampleFormat: "fltp"})
	assert.Error(t, err)
	_, err = audioFrame(&media.Frame{Type: media.MediaTypeVideo})
	assert.Error(t, err)
}
