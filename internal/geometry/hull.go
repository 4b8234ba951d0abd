package geometry

import (
	"math"
	"slices"
)

// ConvexHull returns the hull of pts in counter-clockwise order
// (monotone chain). Duplicates and collinear points are dropped.
func ConvexHull(pts []Point) Polygon {
	p := slices.Clone(pts)
	slices.SortFunc(p, func(a, b Point) int {
		if a.X != b.X {
			if a.X < b.X {
				return -1
			}
			return 1
		}
		switch {
		case a.Y < b.Y:
			return -1
		case a.Y > b.Y:
			return 1
		}
		return 0
	})
	p = slices.Compact(p)
	if len(p) <= 2 {
		return Polygon(p)
	}

	lower := make(Polygon, 0, len(p))
	for _, pt := range p {
		for len(lower) >= 2 && cross(lower[len(lower)-2], lower[len(lower)-1], pt) <= 0 {
			lower = lower[:len(lower)-1]
		}
		lower = append(lower, pt)
	}
	upper := make(Polygon, 0, len(p))
	for i := len(p) - 1; i >= 0; i-- {
		pt := p[i]
		for len(upper) >= 2 && cross(upper[len(upper)-2], upper[len(upper)-1], pt) <= 0 {
			upper = upper[:len(upper)-1]
		}
		upper = append(upper, pt)
	}
	hull := append(lower[:len(lower)-1], upper[:len(upper)-1]...)
	return hull
}

func cross(o, a, b Point) float64 {
	return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
}

// MinAreaRect returns the minimum-area enclosing rectangle of pts via
// rotating calipers over the hull, with corners ordered by OrderCorners.
// Degenerate inputs yield a zero-area rectangle around the points.
func MinAreaRect(pts []Point) Polygon {
	hull := ConvexHull(pts)
	switch len(hull) {
	case 0:
		return nil
	case 1, 2:
		return OrderCorners(hull.Bounds().Corners())
	}

	best := math.Inf(1)
	var u, v Point
	var minS, maxS, minT, maxT float64
	for i := range hull {
		a, b := hull[i], hull[(i+1)%len(hull)]
		l := math.Hypot(b.X-a.X, b.Y-a.Y)
		if l == 0 {
			continue
		}
		ux, uy := (b.X-a.X)/l, (b.Y-a.Y)/l
		vx, vy := -uy, ux
		s0, s1 := math.Inf(1), math.Inf(-1)
		t0, t1 := math.Inf(1), math.Inf(-1)
		for _, p := range hull {
			s := p.X*ux + p.Y*uy
			t := p.X*vx + p.Y*vy
			s0, s1 = min(s0, s), max(s1, s)
			t0, t1 = min(t0, t), max(t1, t)
		}
		if area := (s1 - s0) * (t1 - t0); area < best {
			best = area
			u, v = Point{ux, uy}, Point{vx, vy}
			minS, maxS, minT, maxT = s0, s1, t0, t1
		}
	}
	corner := func(s, t float64) Point {
		return Point{X: u.X*s + v.X*t, Y: u.Y*s + v.Y*t}
	}
	return OrderCorners(Polygon{corner(minS, minT), corner(maxS, minT), corner(maxS, maxT), corner(minS, maxT)})
}

// OrderCorners orders four points clockwise (in image coordinates)
// starting from the top-left corner, the one with the smallest x+y and
// then the smallest y. Other lengths are returned unchanged.
func OrderCorners(p Polygon) Polygon {
	if len(p) != 4 {
		return p
	}
	var c Point
	for _, q := range p {
		c.X += q.X / 4
		c.Y += q.Y / 4
	}
	out := slices.Clone(p)
	slices.SortStableFunc(out, func(a, b Point) int {
		return cmpFloat(math.Atan2(a.Y-c.Y, a.X-c.X), math.Atan2(b.Y-c.Y, b.X-c.X))
	})
	start := 0
	for i, q := range out {
		s, best := q.X+q.Y, out[start].X+out[start].Y
		if s < best-1e-12 || (math.Abs(s-best) <= 1e-12 && q.Y < out[start].Y) {
			start = i
		}
	}
	return append(out[start:], out[:start]...)
}

// Angle returns the inclination in degrees of the top edge of an ordered
// four-point polygon, in (-90, 90].
func Angle(p Polygon) float64 {
	if len(p) < 2 {
		return 0
	}
	a := math.Atan2(p[1].Y-p[0].Y, p[1].X-p[0].X) * 180 / math.Pi
	for a > 90 {
		a -= 180
	}
	for a <= -90 {
		a += 180
	}
	return a
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
