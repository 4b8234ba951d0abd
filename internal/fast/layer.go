package fast

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// ConvLayer is a FAST convolution block: a main KhxKw branch, optional
// Khx1 and 1xKw branches and an optional identity batch norm, summed and
// passed through ReLU. A reparameterized layer has only Main, with its
// batch norm folded in.
type ConvLayer struct {
	Main       ConvBN
	Vertical   *ConvBN
	Horizontal *ConvBN
	Identity   *BatchNorm
}

// NewConvLayer builds the branch structure for the given kernel and
// stride. Weights are zero; use Init to randomize them.
func NewConvLayer(in, out, kh, kw, stride int) ConvLayer {
	l := ConvLayer{Main: ConvBN{Conv: NewConv(in, out, kh, kw, stride), BN: NewBatchNorm(out)}}
	if kw != 1 {
		v := ConvBN{Conv: NewConv(in, out, kh, 1, stride), BN: NewBatchNorm(out)}
		l.Vertical = &v
	}
	if kh != 1 {
		h := ConvBN{Conv: NewConv(in, out, 1, kw, stride), BN: NewBatchNorm(out)}
		l.Horizontal = &h
	}
	if in == out && stride == 1 {
		l.Identity = NewBatchNorm(out)
	}
	return l
}

// Fused reports whether the layer is already a single convolution.
func (l ConvLayer) Fused() bool {
	return l.Main.BN == nil && l.Vertical == nil && l.Horizontal == nil && l.Identity == nil
}

func (l ConvLayer) clone() ConvLayer {
	out := ConvLayer{Main: l.Main.clone(), Identity: l.Identity.clone()}
	if l.Vertical != nil {
		v := l.Vertical.clone()
		out.Vertical = &v
	}
	if l.Horizontal != nil {
		h := l.Horizontal.clone()
		out.Horizontal = &h
	}
	return out
}

// Forward evaluates the block on a CHW map.
func (l ConvLayer) Forward(in []float32, h, w int) ([]float32, int, int, error) {
	out, oh, ow, err := l.Main.Forward(in, h, w)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("main branch: %w", err)
	}
	for _, br := range []*ConvBN{l.Vertical, l.Horizontal} {
		if br == nil {
			continue
		}
		y, bh, bw, err := br.Forward(in, h, w)
		if err != nil {
			return nil, 0, 0, err
		}
		if bh != oh || bw != ow {
			return nil, 0, 0, fmt.Errorf("branch output %dx%d != main %dx%d", bh, bw, oh, ow)
		}
		for i := range out {
			out[i] += y[i]
		}
	}
	if l.Identity != nil {
		id := append([]float32(nil), in...)
		applyBatchNorm(l.Identity, id, l.Main.Conv.In, h*w)
		for i := range out {
			out[i] += id[i]
		}
	}
	relu(out)
	return out, oh, ow, nil
}

// Reparameterize folds all branches into one convolution with bias. A
// fused layer is returned as an equal copy.
func (l ConvLayer) Reparameterize() ConvLayer {
	if l.Fused() {
		return l.clone()
	}
	main := l.Main.Fuse()
	if main.Bias == nil {
		main.Bias = make([]float64, main.Out)
	}
	for _, br := range []*ConvBN{l.Vertical, l.Horizontal} {
		if br == nil {
			continue
		}
		addCentered(&main, br.Fuse())
	}
	if l.Identity != nil {
		addCentered(&main, identityConv(l.Identity, main.In))
	}
	return ConvLayer{Main: ConvBN{Conv: main}}
}

// identityConv expresses batch norm over an identity mapping as a fused
// 1x1 convolution.
func identityConv(bn *BatchNorm, channels int) Conv {
	c := NewConv(channels, channels, 1, 1, 1)
	for i := range channels {
		c.Weight[i*channels+i] = 1
	}
	return ConvBN{Conv: c, BN: bn}.Fuse()
}

// addCentered adds a smaller fused kernel into dst, zero-padding it to
// dst's kernel size around the centre.
func addCentered(dst *Conv, src Conv) {
	offY := (dst.KH - src.KH) / 2
	offX := (dst.KW - src.KW) / 2
	for o := range dst.Out {
		for i := range dst.In {
			for ky := range src.KH {
				srcRow := src.Weight[((o*src.In+i)*src.KH+ky)*src.KW:][:src.KW]
				dstRow := dst.Weight[((o*dst.In+i)*dst.KH+ky+offY)*dst.KW+offX:][:src.KW]
				floats.Add(dstRow, srcRow)
			}
		}
	}
	if src.Bias != nil {
		floats.Add(dst.Bias, src.Bias)
	}
}
