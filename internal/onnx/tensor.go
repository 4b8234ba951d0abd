package onnx

import (
	"errors"
	"fmt"
)

// Layout is the memory order of a 4D image tensor.
type Layout int

const (
	// NCHW stores channel planes contiguously (PyTorch exports).
	NCHW Layout = iota
	// NHWC stores pixels with interleaved channels (TensorFlow exports).
	NHWC
)

func (l Layout) String() string {
	if l == NHWC {
		return "NHWC"
	}
	return "NCHW"
}

// Tensor is a dense row-major float32 tensor.
type Tensor struct {
	Data  []float32
	Shape []int64
}

// Len returns the element count implied by Shape.
func (t Tensor) Len() int {
	if len(t.Shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range t.Shape {
		n *= d
	}
	return int(n)
}

// Validate checks that every dimension is positive and the data length
// matches the shape.
func (t Tensor) Validate() error {
	if len(t.Shape) == 0 {
		return errors.New("tensor has no shape")
	}
	for i, d := range t.Shape {
		if d <= 0 {
			return fmt.Errorf("dimension %d must be > 0, got %d", i, d)
		}
	}
	if len(t.Data) != t.Len() {
		return fmt.Errorf("tensor data length %d != expected %d for shape %v", len(t.Data), t.Len(), t.Shape)
	}
	return nil
}

// Batch returns the leading dimension.
func (t Tensor) Batch() int {
	if len(t.Shape) == 0 {
		return 0
	}
	return int(t.Shape[0])
}

// Item returns a view of the i-th element along the leading dimension.
func (t Tensor) Item(i int) (Tensor, error) {
	if len(t.Shape) < 1 || i < 0 || i >= t.Batch() {
		return Tensor{}, fmt.Errorf("item %d out of range for shape %v", i, t.Shape)
	}
	per := t.Len() / t.Batch()
	shape := append([]int64{1}, t.Shape[1:]...)
	return Tensor{Data: t.Data[i*per : (i+1)*per], Shape: shape}, nil
}

// ImageDims reads (c, h, w) from a 4D tensor in the given layout.
func (t Tensor) ImageDims(l Layout) (int, int, int, error) {
	if len(t.Shape) != 4 {
		return 0, 0, 0, fmt.Errorf("expected 4D tensor, got shape %v", t.Shape)
	}
	if l == NHWC {
		return int(t.Shape[3]), int(t.Shape[1]), int(t.Shape[2]), nil
	}
	return int(t.Shape[1]), int(t.Shape[2]), int(t.Shape[3]), nil
}

// ImageShape builds a 4D shape for n images in layout l.
func ImageShape(l Layout, n, c, h, w int) []int64 {
	if l == NHWC {
		return []int64{int64(n), int64(h), int64(w), int64(c)}
	}
	return []int64{int64(n), int64(c), int64(h), int64(w)}
}

// NewBatchImageTensor stacks per-image buffers that share (c, h, w) and are
// already in layout l.
func NewBatchImageTensor(images [][]float32, l Layout, c, h, w int) (Tensor, error) {
	if len(images) == 0 {
		return Tensor{}, errors.New("empty batch")
	}
	per := c * h * w
	out := make([]float32, per*len(images))
	for i, d := range images {
		if len(d) != per {
			return Tensor{}, fmt.Errorf("image %d has length %d, want %d", i, len(d), per)
		}
		copy(out[i*per:(i+1)*per], d)
	}
	return Tensor{Data: out, Shape: ImageShape(l, len(images), c, h, w)}, nil
}

// ToNCHW returns t converted from layout l to NCHW. NCHW input is returned
// unchanged.
func (t Tensor) ToNCHW(l Layout) (Tensor, error) {
	if l == NCHW {
		return t, nil
	}
	c, h, w, err := t.ImageDims(NHWC)
	if err != nil {
		return Tensor{}, err
	}
	n := t.Batch()
	out := make([]float32, len(t.Data))
	for b := range n {
		base := b * c * h * w
		for y := range h {
			for x := range w {
				for ch := range c {
					out[base+ch*h*w+y*w+x] = t.Data[base+(y*w+x)*c+ch]
				}
			}
		}
	}
	return Tensor{Data: out, Shape: ImageShape(NCHW, n, c, h, w)}, nil
}

// Stats computes min, max and mean for debug output.
func Stats(data []float32) (float32, float32, float32) {
	if len(data) == 0 {
		return 0, 0, 0
	}
	minVal, maxVal := data[0], data[0]
	var sum float64
	for _, v := range data {
		minVal = min(minVal, v)
		maxVal = max(maxVal, v)
		sum += float64(v)
	}
	return minVal, maxVal, float32(sum / float64(len(data)))
}
