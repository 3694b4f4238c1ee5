package media

import (
	"fmt"
	"time"
)

// Rational is a num/den fraction used for time bases and frame rates.
type Rational struct {
	Num int
	Den int
}

// NewRational returns num/den.
func NewRational(num, den int) Rational {
	return Rational{Num: num, Den: den}
}

// Valid reports whether the fraction has a positive denominator and a
// non-zero numerator.
func (r Rational) Valid() bool {
	return r.Den > 0 && r.Num != 0
}

// Float64 returns the value of the fraction, or 0 when invalid.
func (r Rational) Float64() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

// Invert returns den/num.
func (r Rational) Invert() Rational {
	return Rational{Num: r.Den, Den: r.Num}
}

// Mul multiplies the fraction by an integer, reducing the result.
func (r Rational) Mul(n int) Rational {
	num, den := r.Num*n, r.Den
	if g := gcd(abs(num), abs(den)); g > 1 {
		num, den = num/g, den/g
	}
	return Rational{Num: num, Den: den}
}

// Duration converts a timestamp expressed in units of r to a duration.
func (r Rational) Duration(ts int64) time.Duration {
	if r.Den == 0 {
		return 0
	}
	// Split to avoid overflowing int64 on large 90 kHz timestamps.
	sec := ts * int64(r.Num) / int64(r.Den)
	rem := ts*int64(r.Num) - sec*int64(r.Den)
	return time.Duration(sec)*time.Second + time.Duration(rem)*time.Second/time.Duration(r.Den)
}

// Rescale converts a duration to a timestamp in units of r.
func (r Rational) Rescale(d time.Duration) int64 {
	if r.Num == 0 {
		return 0
	}
	return int64(d) * int64(r.Den) / (int64(r.Num) * int64(time.Second))
}

func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// LoadParameters describe the source a producer is built from. They are not
// modified once a producer has been constructed.
type LoadParameters struct {
	Locator       string
	DeviceChannel *int
	Loop          bool
	AutoPlay      bool
	SeekSeconds   *float64
}

// ChannelProperties is the output timing context supplied at initialise time.
type ChannelProperties struct {
	VideoTimebase Rational
}

// FrameRate returns the output frame rate (the inverse of the video time base).
func (c ChannelProperties) FrameRate() Rational {
	return c.VideoTimebase.Invert()
}

// FrameDuration returns the duration of one output frame.
func (c ChannelProperties) FrameDuration() time.Duration {
	return c.VideoTimebase.Duration(1)
}
