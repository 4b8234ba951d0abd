package recognition

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/MeKo-Tech/textpipe/internal/geometry"
	"github.com/disintegration/imaging"
)

// Crops cuts one word image per geometry out of page. Boxes are cropped
// axis-aligned; polygons are warped to an upright rectangle.
func Crops(page image.Image, geoms []geometry.Geometry) ([]image.Image, error) {
	if page == nil {
		return nil, errors.New("nil page image")
	}
	b := page.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, errors.New("empty page image")
	}
	out := make([]image.Image, len(geoms))
	for i, g := range geoms {
		if g.IsPolygon() && len(g.Polygon) == 4 {
			crop, err := warpQuad(page, g.Polygon)
			if err == nil {
				out[i] = crop
				continue
			}
		}
		r := g.Bounds().ToRect(w, h)
		if r.Empty() {
			return nil, fmt.Errorf("geometry %d: empty crop", i)
		}
		out[i] = imaging.Crop(page, r.Add(b.Min))
	}
	return out, nil
}

// warpQuad maps the relative quadrilateral q onto an upright rectangle
// sized by its mean edge lengths.
func warpQuad(src image.Image, q geometry.Polygon) (image.Image, error) {
	b := src.Bounds()
	fw, fh := float64(b.Dx()), float64(b.Dy())
	ordered := geometry.OrderCorners(q)
	var quad [4]geometry.Point
	for i, p := range ordered {
		quad[i] = geometry.Point{X: p.X * fw, Y: p.Y * fh}
	}
	dw := int(math.Round((dist(quad[0], quad[1]) + dist(quad[3], quad[2])) / 2))
	dh := int(math.Round((dist(quad[0], quad[3]) + dist(quad[1], quad[2])) / 2))
	if dw < 1 || dh < 1 {
		return nil, geometry.ErrDegenerateQuad
	}
	rect := [4]geometry.Point{
		{X: 0, Y: 0}, {X: float64(dw - 1), Y: 0},
		{X: float64(dw - 1), Y: float64(dh - 1)}, {X: 0, Y: float64(dh - 1)},
	}
	hm, err := geometry.NewHomography(rect, quad)
	if err != nil {
		return nil, err
	}
	dst := image.NewNRGBA(image.Rect(0, 0, dw, dh))
	for y := range dh {
		for x := range dw {
			sx, sy, ok := hm.Apply(float64(x), float64(y))
			if !ok {
				continue
			}
			dst.SetNRGBA(x, y, bilinear(src, sx+float64(b.Min.X), sy+float64(b.Min.Y)))
		}
	}
	return dst, nil
}

func dist(a, b geometry.Point) float64 { return math.Hypot(a.X-b.X, a.Y-b.Y) }

// bilinear samples src at (x, y); points outside the image are black.
func bilinear(src image.Image, x, y float64) color.NRGBA {
	b := src.Bounds()
	if x < float64(b.Min.X) || y < float64(b.Min.Y) || x > float64(b.Max.X-1) || y > float64(b.Max.Y-1) {
		return color.NRGBA{A: 255}
	}
	x0, y0 := int(x), int(y)
	x1, y1 := min(x0+1, b.Max.X-1), min(y0+1, b.Max.Y-1)
	fx, fy := x-float64(x0), y-float64(y0)
	c00, c10 := rgba(src.At(x0, y0)), rgba(src.At(x1, y0))
	c01, c11 := rgba(src.At(x0, y1)), rgba(src.At(x1, y1))
	var out [4]uint8
	for k := range out {
		top := c00[k] + (c10[k]-c00[k])*fx
		bot := c01[k] + (c11[k]-c01[k])*fx
		out[k] = uint8(top + (bot-top)*fy + 0.5)
	}
	return color.NRGBA{R: out[0], G: out[1], B: out[2], A: out[3]}
}

func rgba(c color.Color) [4]float64 {
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	return [4]float64{float64(n.R), float64(n.G), float64(n.B), float64(n.A)}
}
