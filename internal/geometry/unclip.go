package geometry

import (
	"math"

	clipper "github.com/ctessum/go.clipper"
)

// unclipPrecision scales pixel coordinates to the integer grid the
// offsetter works on.
const unclipPrecision = 1e4

// Unclip expands a shrunk text kernel polygon by
// area * ratio / perimeter, the inverse of the DB label shrink. Points are
// in pixel units. An empty result falls back to the input.
func Unclip(p Polygon, ratio float64) Polygon {
	perimeter := p.Perimeter()
	if len(p) < 3 || perimeter == 0 {
		return p
	}
	distance := p.Area() * ratio / perimeter

	path := make(clipper.Path, 0, len(p))
	for _, pt := range p {
		path = append(path, &clipper.IntPoint{
			X: clipper.CInt(math.Round(pt.X * unclipPrecision)),
			Y: clipper.CInt(math.Round(pt.Y * unclipPrecision)),
		})
	}
	co := clipper.NewClipperOffset()
	co.AddPath(path, clipper.JtRound, clipper.EtClosedPolygon)
	solution := co.Execute(distance * unclipPrecision)

	// keep the largest resulting ring
	var out Polygon
	bestArea := -1.0
	for _, ring := range solution {
		poly := make(Polygon, len(ring))
		for i, ip := range ring {
			poly[i] = Point{X: float64(ip.X) / unclipPrecision, Y: float64(ip.Y) / unclipPrecision}
		}
		if a := poly.Area(); a > bestArea {
			bestArea, out = a, poly
		}
	}
	if len(out) == 0 {
		return p
	}
	return out
}
