// Package fast implements the TextNet backbone used by FAST text
// detectors and the structural reparameterization that folds its
// multi-branch convolutions into single convolutions for inference.
package fast

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// BatchNorm holds inference-time batch normalization statistics for each
// channel.
type BatchNorm struct {
	Gamma []float64
	Beta  []float64
	Mean  []float64
	Var   []float64
	Eps   float64
}

// NewBatchNorm returns an identity-like batch norm over n channels.
func NewBatchNorm(n int) *BatchNorm {
	bn := &BatchNorm{
		Gamma: make([]float64, n),
		Beta:  make([]float64, n),
		Mean:  make([]float64, n),
		Var:   make([]float64, n),
		Eps:   1e-5,
	}
	for i := range n {
		bn.Gamma[i] = 1
		bn.Var[i] = 1
	}
	return bn
}

func (bn *BatchNorm) clone() *BatchNorm {
	if bn == nil {
		return nil
	}
	return &BatchNorm{
		Gamma: append([]float64(nil), bn.Gamma...),
		Beta:  append([]float64(nil), bn.Beta...),
		Mean:  append([]float64(nil), bn.Mean...),
		Var:   append([]float64(nil), bn.Var...),
		Eps:   bn.Eps,
	}
}

// scale returns gamma / sqrt(var + eps) for channel c.
func (bn *BatchNorm) scale(c int) float64 {
	return bn.Gamma[c] / math.Sqrt(bn.Var[c]+bn.Eps)
}

// Conv is a 2D convolution with OIHW weights and symmetric zero padding.
type Conv struct {
	In, Out    int
	KH, KW     int
	Stride     int
	PadH, PadW int
	Weight     []float64
	Bias       []float64 // nil means no bias
}

// NewConv allocates a zeroed convolution with "same" padding for odd
// kernels.
func NewConv(in, out, kh, kw, stride int) Conv {
	return Conv{
		In: in, Out: out, KH: kh, KW: kw, Stride: stride,
		PadH: (kh - 1) / 2, PadW: (kw - 1) / 2,
		Weight: make([]float64, out*in*kh*kw),
	}
}

func (c Conv) clone() Conv {
	c.Weight = append([]float64(nil), c.Weight...)
	if c.Bias != nil {
		c.Bias = append([]float64(nil), c.Bias...)
	}
	return c
}

func (c Conv) kernel(o int) []float64 {
	n := c.In * c.KH * c.KW
	return c.Weight[o*n : (o+1)*n]
}

// OutputSize returns the spatial output size for an h x w input.
func (c Conv) OutputSize(h, w int) (int, int) {
	oh := (h+2*c.PadH-c.KH)/c.Stride + 1
	ow := (w+2*c.PadW-c.KW)/c.Stride + 1
	return oh, ow
}

// Forward applies the convolution to a CHW feature map.
func (c Conv) Forward(in []float32, h, w int) ([]float32, int, int, error) {
	if len(in) != c.In*h*w {
		return nil, 0, 0, fmt.Errorf("conv input length %d != %d*%d*%d", len(in), c.In, h, w)
	}
	oh, ow := c.OutputSize(h, w)
	if oh <= 0 || ow <= 0 {
		return nil, 0, 0, fmt.Errorf("conv output is empty for %dx%d input", h, w)
	}
	out := make([]float32, c.Out*oh*ow)
	for o := range c.Out {
		k := c.kernel(o)
		bias := 0.0
		if c.Bias != nil {
			bias = c.Bias[o]
		}
		for y := range oh {
			for x := range ow {
				sum := bias
				iy0 := y*c.Stride - c.PadH
				ix0 := x*c.Stride - c.PadW
				for ci := range c.In {
					plane := in[ci*h*w:]
					kb := ci * c.KH * c.KW
					for ky := range c.KH {
						iy := iy0 + ky
						if iy < 0 || iy >= h {
							continue
						}
						row := plane[iy*w:]
						for kx := range c.KW {
							ix := ix0 + kx
							if ix < 0 || ix >= w {
								continue
							}
							sum += k[kb+ky*c.KW+kx] * float64(row[ix])
						}
					}
				}
				out[o*oh*ow+y*ow+x] = float32(sum)
			}
		}
	}
	return out, oh, ow, nil
}

// applyBatchNorm normalizes a CHW map in place.
func applyBatchNorm(bn *BatchNorm, x []float32, channels, hw int) {
	for c := range channels {
		s := bn.scale(c)
		shift := bn.Beta[c] - bn.Mean[c]*s
		plane := x[c*hw : (c+1)*hw]
		for i, v := range plane {
			plane[i] = float32(float64(v)*s + shift)
		}
	}
}

// ConvBN is a convolution optionally followed by batch normalization.
// After fusion BN is nil and the conv carries a bias.
type ConvBN struct {
	Conv Conv
	BN   *BatchNorm
}

func (cb ConvBN) clone() ConvBN {
	return ConvBN{Conv: cb.Conv.clone(), BN: cb.BN.clone()}
}

// Forward runs conv then batch norm on a CHW map.
func (cb ConvBN) Forward(in []float32, h, w int) ([]float32, int, int, error) {
	out, oh, ow, err := cb.Conv.Forward(in, h, w)
	if err != nil {
		return nil, 0, 0, err
	}
	if cb.BN != nil {
		applyBatchNorm(cb.BN, out, cb.Conv.Out, oh*ow)
	}
	return out, oh, ow, nil
}

// Fuse folds the batch norm into the convolution weights and bias.
func (cb ConvBN) Fuse() Conv {
	c := cb.Conv.clone()
	if cb.BN == nil {
		return c
	}
	if c.Bias == nil {
		c.Bias = make([]float64, c.Out)
	}
	for o := range c.Out {
		s := cb.BN.scale(o)
		floats.Scale(s, c.kernel(o))
		c.Bias[o] = cb.BN.Beta[o] + (c.Bias[o]-cb.BN.Mean[o])*s
	}
	return c
}

func relu(x []float32) {
	for i, v := range x {
		if v < 0 {
			x[i] = 0
		}
	}
}

func sigmoid(x []float32) {
	for i, v := range x {
		x[i] = float32(1 / (1 + math.Exp(-float64(v))))
	}
}

// upsampleNearest resizes a CHW map to oh x ow.
func upsampleNearest(in []float32, c, h, w, oh, ow int) []float32 {
	out := make([]float32, c*oh*ow)
	for ch := range c {
		for y := range oh {
			sy := min(y*h/oh, h-1)
			for x := range ow {
				sx := min(x*w/ow, w-1)
				out[ch*oh*ow+y*ow+x] = in[ch*h*w+sy*w+sx]
			}
		}
	}
	return out
}
