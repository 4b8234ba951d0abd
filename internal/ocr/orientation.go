package ocr

import (
	"image"
	"image/color"
	"math"
	"slices"

	"github.com/MeKo-Tech/textpipe/internal/geometry"
	"github.com/disintegration/imaging"
)

// angleTolerance is how far in degrees a word may deviate from the page
// estimate and still count as agreeing with it.
const angleTolerance = 5.0

// estimateOrientation returns the counter-clockwise page rotation in
// degrees from the dominant text direction of the detections, and the
// share of words that agree with it. Polygons contribute their skew and
// the median skew wins. Axis-aligned boxes only vote 0 or 90 by their
// aspect; the majority wins and ties read as horizontal. Pages without
// detections fall back to a row/column transition heuristic.
func estimateOrientation(page image.Image, geoms []geometry.Geometry) (float64, float64) {
	b := page.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	var skews []float64
	wide, tall := 0, 0
	for _, g := range geoms {
		switch {
		case g.IsPolygon() && len(g.Polygon) == 4:
			skews = append(skews, -textAngle(g.Polygon.Scale(w, h)))
		case !g.IsPolygon():
			if g.Box.Width()*w >= g.Box.Height()*h {
				wide++
			} else {
				tall++
			}
		}
	}

	if len(skews) > 0 {
		slices.Sort(skews)
		// an observed skew, never the mean of two
		median := skews[len(skews)/2]
		agree := 0
		for _, a := range skews {
			if math.Abs(a-median) <= angleTolerance {
				agree++
			}
		}
		return median, float64(agree) / float64(len(skews))
	}
	if n := wide + tall; n > 0 {
		if tall > wide {
			return 90, float64(tall) / float64(n)
		}
		return 0, float64(wide) / float64(n)
	}
	return transitionOrientation(page)
}

// textAngle is the inclination of the longer side of a pixel-space
// quadrilateral, in (-90, 90].
func textAngle(p geometry.Polygon) float64 {
	p = geometry.OrderCorners(p)
	top := math.Hypot(p[1].X-p[0].X, p[1].Y-p[0].Y)
	side := math.Hypot(p[2].X-p[1].X, p[2].Y-p[1].Y)
	if side > top {
		return geometry.Angle(geometry.Polygon{p[1], p[2]})
	}
	return geometry.Angle(p)
}

// straighten rotates page by -angle so text becomes horizontal. The
// canvas grows to fit and is filled white.
func straighten(page image.Image, angle float64) image.Image {
	return imaging.Rotate(page, -angle, color.White)
}

// transitionOrientation compares light/dark transitions along rows and
// columns of a thumbnail. Horizontal text produces more transitions along
// rows.
func transitionOrientation(page image.Image) (float64, float64) {
	thumb := imaging.Grayscale(imaging.Resize(page, 128, 128, imaging.Linear))
	b := thumb.Bounds()
	lum := func(x, y int) float64 { return float64(thumb.Pix[thumb.PixOffset(x, y)]) }

	var mean float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			mean += lum(x, y)
		}
	}
	mean /= float64(b.Dx() * b.Dy())

	var rows, cols float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X + 1; x < b.Max.X; x++ {
			if (lum(x, y) < mean) != (lum(x-1, y) < mean) {
				rows++
			}
		}
	}
	for x := b.Min.X; x < b.Max.X; x++ {
		for y := b.Min.Y + 1; y < b.Max.Y; y++ {
			if (lum(x, y) < mean) != (lum(x, y-1) < mean) {
				cols++
			}
		}
	}
	total := rows + cols
	if total == 0 {
		return 0, 0
	}
	if cols > rows {
		return 90, (cols - rows) / total
	}
	return 0, (rows - cols) / total
}
