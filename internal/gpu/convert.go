package gpu

import (
	"fmt"
	"image"

	xdraw "golang.org/x/image/draw"

	"github.com/zsiec/playout/internal/media"
)

// DestFormat is the pixel format every converted buffer is stored in.
const DestFormat = media.PixelFormatRGBA

// ColorConverter uploads decoded frames of one native format and converts
// them to DestFormat on the queue.
type ColorConverter struct {
	ctx    *Context
	format media.PixelFormat
	width  int
	height int
	layout []media.Plane
}

// NewColorConverter creates an uninitialised converter bound to ctx.
func NewColorConverter(ctx *Context) *ColorConverter {
	return &ColorConverter{ctx: ctx}
}

// Init selects the loader for a native pixel format.
func (c *ColorConverter) Init(format media.PixelFormat, width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("gpu: invalid dimensions %dx%d", width, height)
	}
	layout := media.PlaneLayout(format, width, height)
	if layout == nil {
		return fmt.Errorf("gpu: no loader for pixel format %q", format)
	}
	c.format, c.width, c.height, c.layout = format, width, height, layout
	return nil
}

// Format returns the native format the converter loads.
func (c *ColorConverter) Format() media.PixelFormat {
	return c.format
}

// CreateSources allocates one buffer per plane of the loaded format.
func (c *ColorConverter) CreateSources() *SourceSet {
	set := &SourceSet{
		Planes: make([]*Buffer, len(c.layout)),
		Width:  c.width,
		Height: c.height,
		Format: c.format,
	}
	for i, p := range c.layout {
		set.Planes[i] = c.ctx.pool.Get(p.Width, p.Height, p.BytesPerPixel, c.format)
	}
	return set
}

// LoadFrame enqueues the host-to-device copy of planes into src.
func (c *ColorConverter) LoadFrame(planes [][]byte, src *SourceSet, q Queue) error {
	if len(planes) != len(src.Planes) {
		return fmt.Errorf("gpu: frame has %d planes, loader expects %d", len(planes), len(src.Planes))
	}
	for i, p := range planes {
		if want := len(src.Planes[i].Bytes()); len(p) < want {
			return fmt.Errorf("gpu: plane %d holds %d bytes, want %d", i, len(p), want)
		}
	}
	dst := make([][]byte, len(src.Planes))
	for i, b := range src.Planes {
		dst[i] = b.Bytes()
	}
	return q.Submit(func() {
		for i := range dst {
			copy(dst[i], planes[i])
		}
	})
}

// CreateDest allocates a destination buffer.
func (c *ColorConverter) CreateDest(width, height int) *Buffer {
	return c.ctx.pool.Get(width, height, 4, DestFormat)
}

// ProcessFrame enqueues the conversion of src into dst. Both stay owned by
// the caller, who must wait on the queue before releasing src or handing dst
// on.
func (c *ColorConverter) ProcessFrame(src *SourceSet, dst *Buffer, q Queue) error {
	if dst.Width() != src.Width || dst.Height() != src.Height {
		return fmt.Errorf("gpu: dest %dx%d does not match source %dx%d",
			dst.Width(), dst.Height(), src.Width, src.Height)
	}
	dst.SetTimestamp(src.Timestamp)
	dst.SetInterlaced(src.Interlaced)

	planes := make([][]byte, len(src.Planes))
	for i, b := range src.Planes {
		planes[i] = b.Bytes()
	}
	out := &image.RGBA{
		Pix:    dst.Bytes(),
		Stride: dst.Stride(),
		Rect:   image.Rect(0, 0, src.Width, src.Height),
	}
	format, w, h := src.Format, src.Width, src.Height

	return q.Submit(func() {
		convert(format, w, h, planes, out)
	})
}

func convert(format media.PixelFormat, w, h int, planes [][]byte, out *image.RGBA) {
	switch format {
	case media.PixelFormatYUV420P, media.PixelFormatYUV422P, media.PixelFormatYUV444P:
		ratio, cw := image.YCbCrSubsampleRatio444, w
		switch format {
		case media.PixelFormatYUV420P:
			ratio, cw = image.YCbCrSubsampleRatio420, (w+1)/2
		case media.PixelFormatYUV422P:
			ratio, cw = image.YCbCrSubsampleRatio422, (w+1)/2
		}
		src := &image.YCbCr{
			Y:              planes[0],
			Cb:             planes[1],
			Cr:             planes[2],
			YStride:        w,
			CStride:        cw,
			SubsampleRatio: ratio,
			Rect:           image.Rect(0, 0, w, h),
		}
		xdraw.Copy(out, image.Point{}, src, src.Rect, xdraw.Src, nil)
	case media.PixelFormatRGBA:
		copy(out.Pix, planes[0])
	default:
		swizzle(format, planes[0], out.Pix)
	}
}

// swizzle reorders packed 4-byte pixels into RGBA.
func swizzle(format media.PixelFormat, src, dst []byte) {
	var r, g, b, a int
	switch format {
	case media.PixelFormatBGRA:
		r, g, b, a = 2, 1, 0, 3
	case media.PixelFormatARGB:
		r, g, b, a = 1, 2, 3, 0
	case media.PixelFormatABGR:
		r, g, b, a = 3, 2, 1, 0
	default:
		r, g, b, a = 0, 1, 2, 3
	}
	for i := 0; i+3 < len(src) && i+3 < len(dst); i += 4 {
		dst[i], dst[i+1], dst[i+2], dst[i+3] = src[i+r], src[i+g], src[i+b], src[i+a]
	}
}
