package media

// PixelFormat names a raw picture layout using libav naming ("yuv420p",
// "bgra", ...).
type PixelFormat string

// Native pixel formats the GPU loaders read without reinterpretation.
const (
	PixelFormatYUV420P PixelFormat = "yuv420p"
	PixelFormatYUV422P PixelFormat = "yuv422p"
	PixelFormatYUV444P PixelFormat = "yuv444p"
	PixelFormatRGBA    PixelFormat = "rgba"
	PixelFormatBGRA    PixelFormat = "bgra"
	PixelFormatARGB    PixelFormat = "argb"
	PixelFormatABGR    PixelFormat = "abgr"
)

// PixelFamily groups formats a single loader family can read.
type PixelFamily int

// Pixel format families.
const (
	FamilyUnknown PixelFamily = iota
	FamilyPlanarYUV
	FamilyPackedRGB
)

func (f PixelFamily) String() string {
	switch f {
	case FamilyPlanarYUV:
		return "planar-yuv"
	case FamilyPackedRGB:
		return "packed-rgb"
	default:
		return "unknown"
	}
}

var nativeFormats = map[PixelFormat]PixelFamily{
	PixelFormatYUV420P: FamilyPlanarYUV,
	PixelFormatYUV422P: FamilyPlanarYUV,
	PixelFormatYUV444P: FamilyPlanarYUV,
	PixelFormatRGBA:    FamilyPackedRGB,
	PixelFormatBGRA:    FamilyPackedRGB,
	PixelFormatARGB:    FamilyPackedRGB,
	PixelFormatABGR:    FamilyPackedRGB,
}

// familyMembers maps non-native formats to the nearest native member of
// their family.
var familyMembers = map[PixelFormat]PixelFormat{
	"yuvj420p":    PixelFormatYUV420P,
	"nv12":        PixelFormatYUV420P,
	"nv21":        PixelFormatYUV420P,
	"yuva420p":    PixelFormatYUV420P,
	"yuv420p10le": PixelFormatYUV420P,
	"yuv420p12le": PixelFormatYUV420P,
	"yuvj422p":    PixelFormatYUV422P,
	"yuv422p10le": PixelFormatYUV422P,
	"uyvy422":     PixelFormatYUV422P,
	"yuyv422":     PixelFormatYUV422P,
	"yuvj444p":    PixelFormatYUV444P,
	"yuv444p10le": PixelFormatYUV444P,
	"yuva444p":    PixelFormatYUV444P,
	"rgb24":       PixelFormatRGBA,
	"rgb0":        PixelFormatRGBA,
	"bgr24":       PixelFormatBGRA,
	"bgr0":        PixelFormatBGRA,
	"0rgb":        PixelFormatARGB,
	"0bgr":        PixelFormatABGR,
}

// Native reports whether f is read directly by a GPU loader.
func (f PixelFormat) Native() bool {
	_, ok := nativeFormats[f]
	return ok
}

// Family returns the loader family of f, native or not.
func (f PixelFormat) Family() PixelFamily {
	if fam, ok := nativeFormats[f]; ok {
		return fam
	}
	if n, ok := familyMembers[f]; ok {
		return nativeFormats[n]
	}
	return FamilyUnknown
}

// Nearest returns the native format a loader uses for f. ok is false when f
// belongs to no supported family.
func (f PixelFormat) Nearest() (PixelFormat, bool) {
	if f.Native() {
		return f, true
	}
	n, ok := familyMembers[f]
	return n, ok
}

// Plane describes one plane of a native pixel format.
type Plane struct {
	Width         int
	Height        int
	BytesPerPixel int
}

// Size returns the byte length of a tightly packed plane.
func (p Plane) Size() int {
	return p.Width * p.Height * p.BytesPerPixel
}

// PlaneLayout returns the tightly packed planes of a native format at the
// given dimensions, or nil for non-native formats.
func PlaneLayout(f PixelFormat, width, height int) []Plane {
	half := func(v int) int { return (v + 1) / 2 }
	switch f {
	case PixelFormatYUV420P:
		return []Plane{{width, height, 1}, {half(width), half(height), 1}, {half(width), half(height), 1}}
	case PixelFormatYUV422P:
		return []Plane{{width, height, 1}, {half(width), height, 1}, {half(width), height, 1}}
	case PixelFormatYUV444P:
		return []Plane{{width, height, 1}, {width, height, 1}, {width, height, 1}}
	case PixelFormatRGBA, PixelFormatBGRA, PixelFormatARGB, PixelFormatABGR:
		return []Plane{{width, height, 4}}
	default:
		return nil
	}
}

// SplitPlanes cuts a contiguous picture buffer into the planes of f.
func SplitPlanes(f PixelFormat, width, height int, buf []byte) ([][]byte, bool) {
	layout := PlaneLayout(f, width, height)
	if layout == nil {
		return nil, false
	}
	planes := make([][]byte, len(layout))
	off := 0
	for i, p := range layout {
		n := p.Size()
		if off+n > len(buf) {
			return nil, false
		}
		planes[i] = buf[off : off+n]
		off += n
	}
	return planes, true
}
