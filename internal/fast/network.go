package fast

import (
	"context"
	"fmt"

	"github.com/MeKo-Tech/textpipe/internal/onnx"
)

// Network is a FAST detector: TextNet stem and stages, a 1x1 probability
// head, sigmoid and nearest upsampling back to the input resolution.
type Network struct {
	Stem   ConvBN
	Stages [][]ConvLayer
	Head   Conv
	// Layout is the layout of tensors passed to Run; Forward always
	// works on NCHW.
	Layout onnx.Layout
}

// Reparameterized reports whether every block is a single convolution.
func (n *Network) Reparameterized() bool {
	if n.Stem.BN != nil {
		return false
	}
	for _, st := range n.Stages {
		for _, l := range st {
			if !l.Fused() {
				return false
			}
		}
	}
	return true
}

// Clone returns a deep copy.
func (n *Network) Clone() *Network {
	out := &Network{Stem: n.Stem.clone(), Head: n.Head.clone(), Layout: n.Layout}
	out.Stages = make([][]ConvLayer, len(n.Stages))
	for i, st := range n.Stages {
		out.Stages[i] = make([]ConvLayer, len(st))
		for j, l := range st {
			out.Stages[i][j] = l.clone()
		}
	}
	return out
}

// Reparameterize returns a new network in which the stem batch norm and
// every multi-branch block are folded into single convolutions. The
// receiver is not modified and applying it to a fused network yields an
// equal copy.
func Reparameterize(n *Network) *Network {
	out := n.Clone()
	if out.Stem.BN != nil {
		out.Stem = ConvBN{Conv: out.Stem.Fuse()}
	}
	for i, st := range out.Stages {
		for j, l := range st {
			out.Stages[i][j] = l.Reparameterize()
		}
	}
	return out
}

// LayerCount returns the number of FAST blocks.
func (n *Network) LayerCount() int {
	total := 0
	for _, st := range n.Stages {
		total += len(st)
	}
	return total
}

// Forward maps an NCHW batch to an N x 1 x H x W probability map.
func (n *Network) Forward(in onnx.Tensor) (onnx.Tensor, error) {
	if err := in.Validate(); err != nil {
		return onnx.Tensor{}, err
	}
	c, h, w, err := in.ImageDims(onnx.NCHW)
	if err != nil {
		return onnx.Tensor{}, err
	}
	if c != n.Stem.Conv.In {
		return onnx.Tensor{}, fmt.Errorf("input has %d channels, network expects %d", c, n.Stem.Conv.In)
	}
	batch := in.Batch()
	out := make([]float32, batch*h*w)
	for b := range batch {
		x := in.Data[b*c*h*w : (b+1)*c*h*w]
		prob, err := n.forwardOne(x, h, w)
		if err != nil {
			return onnx.Tensor{}, fmt.Errorf("item %d: %w", b, err)
		}
		copy(out[b*h*w:], prob)
	}
	return onnx.Tensor{Data: out, Shape: onnx.ImageShape(onnx.NCHW, batch, 1, h, w)}, nil
}

func (n *Network) forwardOne(x []float32, h, w int) ([]float32, error) {
	y, fh, fw, err := n.Stem.Forward(x, h, w)
	if err != nil {
		return nil, fmt.Errorf("stem: %w", err)
	}
	relu(y)
	for si, st := range n.Stages {
		for li, l := range st {
			y, fh, fw, err = l.Forward(y, fh, fw)
			if err != nil {
				return nil, fmt.Errorf("stage %d layer %d: %w", si, li, err)
			}
		}
	}
	y, fh, fw, err = n.Head.Forward(y, fh, fw)
	if err != nil {
		return nil, fmt.Errorf("head: %w", err)
	}
	sigmoid(y)
	return upsampleNearest(y, 1, fh, fw, h, w), nil
}

// Run implements the model runner contract for tensors in n.Layout.
func (n *Network) Run(ctx context.Context, in onnx.Tensor) (onnx.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return onnx.Tensor{}, err
	}
	x, err := in.ToNCHW(n.Layout)
	if err != nil {
		return onnx.Tensor{}, err
	}
	out, err := n.Forward(x)
	if err != nil {
		return onnx.Tensor{}, err
	}
	if n.Layout == onnx.NHWC {
		// single channel: only the shape order changes
		_, h, w, _ := out.ImageDims(onnx.NCHW)
		out.Shape = onnx.ImageShape(onnx.NHWC, out.Batch(), 1, h, w)
	}
	return out, nil
}

// Close is a no-op; the network holds no external resources.
func (n *Network) Close() error { return nil }
