package media

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRationalDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		tb   Rational
		ts   int64
		want time.Duration
	}{
		{"90kHz one second", NewRational(1, 90000), 90000, time.Second},
		{"90kHz large", NewRational(1, 90000), 90000 * 3600 * 24, 24 * time.Hour},
		{"frame 25fps", NewRational(1, 25), 3, 120 * time.Millisecond},
		{"ntsc", NewRational(1001, 30000), 30, 1001 * time.Millisecond},
		{"zero den", Rational{}, 10, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.tb.Duration(tt.ts))
		})
	}
}

func TestRationalRescale(t *testing.T) {
	t.Parallel()

	tb := NewRational(1, 48000)
	assert.Equal(t, int64(48000), tb.Rescale(time.Second))
	assert.Equal(t, int64(1920), tb.Rescale(40*time.Millisecond))
}

func TestRationalMul(t *testing.T) {
	t.Parallel()

	assert.Equal(t, NewRational(50, 1), NewRational(25, 1).Mul(2))
	assert.Equal(t, NewRational(60000, 1001), NewRational(30000, 1001).Mul(2))
	assert.Equal(t, NewRational(1, 1), NewRational(1, 2).Mul(2))
}

func TestChannelPropertiesFrameRate(t *testing.T) {
	t.Parallel()

	props := ChannelProperties{VideoTimebase: NewRational(1, 25)}
	assert.Equal(t, NewRational(25, 1), props.FrameRate())
	assert.Equal(t, 40*time.Millisecond, props.FrameDuration())
}

func TestPixelFormatNearest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in     PixelFormat
		want   PixelFormat
		family PixelFamily
		ok     bool
	}{
		{"yuv420p", PixelFormatYUV420P, FamilyPlanarYUV, true},
		{"nv12", PixelFormatYUV420P, FamilyPlanarYUV, true},
		{"yuvj422p", PixelFormatYUV422P, FamilyPlanarYUV, true},
		{"yuv444p10le", PixelFormatYUV444P, FamilyPlanarYUV, true},
		{"bgra", PixelFormatBGRA, FamilyPackedRGB, true},
		{"rgb24", PixelFormatRGBA, FamilyPackedRGB, true},
		{"0bgr", PixelFormatABGR, FamilyPackedRGB, true},
		{"pal8", "", FamilyUnknown, false},
		{"gray", "", FamilyUnknown, false},
	}
	for _, tt := range tests {
		got, ok := tt.in.Nearest()
		assert.Equal(t, tt.ok, ok, "format %s", tt.in)
		assert.Equal(t, tt.want, got, "format %s", tt.in)
		assert.Equal(t, tt.family, tt.in.Family(), "format %s", tt.in)
	}
}

func TestSplitPlanes(t *testing.T) {
	t.Parallel()

	buf := make([]byte, 4*2+2*1*2)
	planes, ok := SplitPlanes(PixelFormatYUV420P, 4, 2, buf)
	require.True(t, ok)
	require.Len(t, planes, 3)
	assert.Len(t, planes[0], 8)
	assert.Len(t, planes[1], 2)
	assert.Len(t, planes[2], 2)

	_, ok = SplitPlanes(PixelFormatYUV420P, 4, 2, buf[:5])
	assert.False(t, ok, "short buffer must not split")

	_, ok = SplitPlanes("nv12", 4, 2, buf)
	assert.False(t, ok, "non-native formats have no layout")
}

func TestSilentFrame(t *testing.T) {
	t.Parallel()

	f := SilentFrame(1920)
	assert.Equal(t, MediaTypeAudio, f.Type)
	assert.Equal(t, OutputChannels, f.Channels)
	assert.Equal(t, OutputFrameSize, f.NbSamples)
	assert.Len(t, f.Samples, OutputFrameSize*OutputChannels)
	assert.Equal(t, 40*time.Millisecond, f.Time())
	for _, s := range f.Samples {
		if s != 0 {
			t.Fatal("silent frame has non-zero sample")
		}
	}
}

func TestFrameReleaseOnce(t *testing.T) {
	t.Parallel()

	calls := 0
	f := &Frame{}
	f.SetRelease(func() { calls++ })
	f.Release()
	f.Release()
	assert.Equal(t, 1, calls)

	var nilFrame *Frame
	nilFrame.Release()
}
