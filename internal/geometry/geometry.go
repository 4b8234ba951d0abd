// Package geometry provides the box and polygon types shared by the
// detection, recognition and document stages. Detection results are
// expressed in page-relative coordinates in [0, 1].
package geometry

import (
	"image"
	"math"
)

// Point is a 2D coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Box is an axis-aligned rectangle.
type Box struct {
	MinX float64 `json:"x_min"`
	MinY float64 `json:"y_min"`
	MaxX float64 `json:"x_max"`
	MaxY float64 `json:"y_max"`
}

// NewBox builds a Box from two corners in any order.
func NewBox(x1, y1, x2, y2 float64) Box {
	if x1 > x2 {
		x1, x2 = x2, x1
	}
	if y1 > y2 {
		y1, y2 = y2, y1
	}
	return Box{MinX: x1, MinY: y1, MaxX: x2, MaxY: y2}
}

func (b Box) Width() float64  { return b.MaxX - b.MinX }
func (b Box) Height() float64 { return b.MaxY - b.MinY }
func (b Box) Area() float64   { return b.Width() * b.Height() }

// Center returns the box centre.
func (b Box) Center() Point {
	return Point{X: (b.MinX + b.MaxX) / 2, Y: (b.MinY + b.MaxY) / 2}
}

// Union returns the smallest box containing b and o.
func (b Box) Union(o Box) Box {
	return Box{
		MinX: min(b.MinX, o.MinX),
		MinY: min(b.MinY, o.MinY),
		MaxX: max(b.MaxX, o.MaxX),
		MaxY: max(b.MaxY, o.MaxY),
	}
}

// Corners returns the four corners clockwise from the top-left.
func (b Box) Corners() Polygon {
	return Polygon{{b.MinX, b.MinY}, {b.MaxX, b.MinY}, {b.MaxX, b.MaxY}, {b.MinX, b.MaxY}}
}

// ToRect converts b to pixel coordinates of a w x h image, clamped to the
// image.
func (b Box) ToRect(w, h int) image.Rectangle {
	x1 := clampInt(int(math.Floor(b.MinX*float64(w))), 0, w)
	y1 := clampInt(int(math.Floor(b.MinY*float64(h))), 0, h)
	x2 := clampInt(int(math.Ceil(b.MaxX*float64(w))), x1, w)
	y2 := clampInt(int(math.Ceil(b.MaxY*float64(h))), y1, h)
	return image.Rect(x1, y1, x2, y2)
}

// Polygon is an ordered sequence of points.
type Polygon []Point

// Bounds returns the axis-aligned bounding box of the points.
func (p Polygon) Bounds() Box {
	if len(p) == 0 {
		return Box{}
	}
	b := Box{MinX: p[0].X, MinY: p[0].Y, MaxX: p[0].X, MaxY: p[0].Y}
	for _, pt := range p[1:] {
		b.MinX = min(b.MinX, pt.X)
		b.MinY = min(b.MinY, pt.Y)
		b.MaxX = max(b.MaxX, pt.X)
		b.MaxY = max(b.MaxY, pt.Y)
	}
	return b
}

// Area returns the absolute shoelace area.
func (p Polygon) Area() float64 {
	if len(p) < 3 {
		return 0
	}
	var s float64
	for i := range p {
		j := (i + 1) % len(p)
		s += p[i].X*p[j].Y - p[j].X*p[i].Y
	}
	return math.Abs(s) / 2
}

// Perimeter returns the closed perimeter length.
func (p Polygon) Perimeter() float64 {
	if len(p) < 2 {
		return 0
	}
	var s float64
	for i := range p {
		j := (i + 1) % len(p)
		s += math.Hypot(p[j].X-p[i].X, p[j].Y-p[i].Y)
	}
	return s
}

// Scale multiplies x and y coordinates by sx and sy.
func (p Polygon) Scale(sx, sy float64) Polygon {
	out := make(Polygon, len(p))
	for i, pt := range p {
		out[i] = Point{X: pt.X * sx, Y: pt.Y * sy}
	}
	return out
}

// Geometry is either a box (straight pages) or a polygon (rotated text).
// A nil Polygon means box form.
type Geometry struct {
	Box     Box
	Polygon Polygon
}

// FromBox wraps a box.
func FromBox(b Box) Geometry { return Geometry{Box: b} }

// FromPolygon wraps a polygon; its bounds are kept in Box.
func FromPolygon(p Polygon) Geometry {
	cp := append(Polygon(nil), p...)
	return Geometry{Box: cp.Bounds(), Polygon: cp}
}

// IsPolygon reports whether g is in polygon form.
func (g Geometry) IsPolygon() bool { return g.Polygon != nil }

// Bounds returns the axis-aligned extent of g.
func (g Geometry) Bounds() Box {
	if g.IsPolygon() {
		return g.Polygon.Bounds()
	}
	return g.Box
}

// Points returns the polygon, or the box corners in box form.
func (g Geometry) Points() Polygon {
	if g.IsPolygon() {
		return g.Polygon
	}
	return g.Box.Corners()
}

// Flatten renders g as a flat coordinate list: four values for a box,
// x/y pairs for a polygon.
func (g Geometry) Flatten() []float64 {
	if !g.IsPolygon() {
		return []float64{g.Box.MinX, g.Box.MinY, g.Box.MaxX, g.Box.MaxY}
	}
	out := make([]float64, 0, 2*len(g.Polygon))
	for _, pt := range g.Polygon {
		out = append(out, pt.X, pt.Y)
	}
	return out
}

// Clip clamps every coordinate into [0, 1].
func (g Geometry) Clip() Geometry {
	if !g.IsPolygon() {
		return FromBox(NewBox(clamp01(g.Box.MinX), clamp01(g.Box.MinY), clamp01(g.Box.MaxX), clamp01(g.Box.MaxY)))
	}
	out := make(Polygon, len(g.Polygon))
	for i, pt := range g.Polygon {
		out[i] = Point{X: clamp01(pt.X), Y: clamp01(pt.Y)}
	}
	return FromPolygon(out)
}

// Valid reports whether all coordinates lie in [0, 1] and a box is
// ordered.
func (g Geometry) Valid() bool {
	in := func(v float64) bool { return v >= 0 && v <= 1 && !math.IsNaN(v) }
	if !g.IsPolygon() {
		b := g.Box
		return in(b.MinX) && in(b.MinY) && in(b.MaxX) && in(b.MaxY) && b.MaxX >= b.MinX && b.MaxY >= b.MinY
	}
	for _, pt := range g.Polygon {
		if !in(pt.X) || !in(pt.Y) {
			return false
		}
	}
	return len(g.Polygon) > 0
}

// Enclose returns the geometry covering all of gs: a box when every
// input is a box, otherwise the four-point bounding polygon.
func Enclose(gs []Geometry) Geometry {
	if len(gs) == 0 {
		return Geometry{}
	}
	b := gs[0].Bounds()
	poly := gs[0].IsPolygon()
	for _, g := range gs[1:] {
		b = b.Union(g.Bounds())
		poly = poly || g.IsPolygon()
	}
	if poly {
		return FromPolygon(b.Corners())
	}
	return FromBox(b)
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
