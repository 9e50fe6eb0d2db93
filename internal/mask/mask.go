// Package mask removes near-white backgrounds by turning them transparent.
//
// The work is done on whole channel planes: the image is split into R, G, B
// and A planes, each colour plane is thresholded into a binary plane, the
// three binary planes are ANDed into a white mask, the mask is inverted and
// merged into the original alpha with an elementwise minimum.
package mask

import (
	"image"
	"image/draw"
)

// DefaultThreshold is the per-channel brightness above which a channel counts as white.
const DefaultThreshold uint8 = 245

// plane is one 8-bit channel of an image, row-major, without padding.
type plane []uint8

type Engine struct {
	threshold uint8
	lut       [256]uint8
}

// NewEngine builds an engine for threshold t. A channel is white iff its value is strictly greater than t.
func NewEngine(t uint8) *Engine {
	e := &Engine{threshold: t}
	for v := int(t) + 1; v < 256; v++ {
		e.lut[v] = 255
	}
	return e
}

func (e *Engine) Threshold() uint8 { return e.threshold }

// Apply returns a new image whose alpha is zero wherever R, G and B all exceed the threshold.
// The source image is not modified.
func (e *Engine) Apply(src image.Image) *image.NRGBA {
	r, g, b, a, w, h := split(src)

	white := minPlanes(minPlanes(e.binary(r), e.binary(g)), e.binary(b))
	alpha := minPlanes(a, invert(white))

	return compose(r, g, b, alpha, w, h)
}

func (e *Engine) binary(p plane) plane {
	out := make(plane, len(p))
	for i, v := range p {
		out[i] = e.lut[v]
	}
	return out
}

func minPlanes(x, y plane) plane {
	out := make(plane, len(x))
	for i := range x {
		out[i] = min(x[i], y[i])
	}
	return out
}

func invert(p plane) plane {
	out := make(plane, len(p))
	for i, v := range p {
		out[i] = 255 - v
	}
	return out
}

// split decomposes src into four planes. Sources without alpha get a fully opaque A plane.
func split(src image.Image) (r, g, b, a plane, w, h int) {
	n := toNRGBA(src)
	w, h = n.Rect.Dx(), n.Rect.Dy()

	size := w * h
	r, g, b, a = make(plane, size), make(plane, size), make(plane, size), make(plane, size)

	i := 0
	for y := 0; y < h; y++ {
		row := n.Pix[y*n.Stride : y*n.Stride+w*4]
		for x := 0; x < len(row); x += 4 {
			r[i], g[i], b[i], a[i] = row[x], row[x+1], row[x+2], row[x+3]
			i++
		}
	}
	return r, g, b, a, w, h
}

func compose(r, g, b, a plane, w, h int) *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range r {
		px := out.Pix[i*4 : i*4+4 : i*4+4]
		px[0], px[1], px[2], px[3] = r[i], g[i], b[i], a[i]
	}
	return out
}

func toNRGBA(src image.Image) *image.NRGBA {
	if n, ok := src.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	bounds := src.Bounds()
	n := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(n, n.Rect, src, bounds.Min, draw.Src)
	return n
}
