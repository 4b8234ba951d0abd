package geometry

import (
	"errors"

	"gonum.org/v1/gonum/mat"
)

// Homography is a 3x3 projective transform in row-major order with
// H[8] == 1.
type Homography [9]float64

// ErrDegenerateQuad is returned when the correspondence system is singular.
var ErrDegenerateQuad = errors.New("degenerate quadrilateral")

// NewHomography solves for the transform mapping src[i] to dst[i].
func NewHomography(src, dst [4]Point) (Homography, error) {
	a := mat.NewDense(8, 8, nil)
	b := mat.NewVecDense(8, nil)
	for i := range 4 {
		X, Y := src[i].X, src[i].Y
		x, y := dst[i].X, dst[i].Y
		r := 2 * i
		a.SetRow(r, []float64{X, Y, 1, 0, 0, 0, -X * x, -Y * x})
		b.SetVec(r, x)
		a.SetRow(r+1, []float64{0, 0, 0, X, Y, 1, -X * y, -Y * y})
		b.SetVec(r+1, y)
	}
	var h mat.VecDense
	if err := h.SolveVec(a, b); err != nil {
		return Homography{}, ErrDegenerateQuad
	}
	var out Homography
	for i := range 8 {
		out[i] = h.AtVec(i)
	}
	out[8] = 1
	return out, nil
}

// Apply maps (x, y). ok is false when the point maps to infinity.
func (h Homography) Apply(x, y float64) (float64, float64, bool) {
	d := h[6]*x + h[7]*y + h[8]
	if d == 0 {
		return 0, 0, false
	}
	return (h[0]*x + h[1]*y + h[2]) / d, (h[3]*x + h[4]*y + h[5]) / d, true
}
