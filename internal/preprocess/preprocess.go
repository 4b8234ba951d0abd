// Package preprocess turns heterogeneous page or crop images into fixed
// size, normalized tensor batches.
package preprocess

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"math"

	"github.com/MeKo-Tech/textpipe/internal/mempool"
	"github.com/MeKo-Tech/textpipe/internal/onnx"
	"github.com/disintegration/imaging"
)

// ImageError identifies the input image that could not be processed.
type ImageError struct {
	Index int
	Op    string
	Err   error
}

func (e *ImageError) Error() string {
	return fmt.Sprintf("image %d: %s: %v", e.Index, e.Op, e.Err)
}

func (e *ImageError) Unwrap() error { return e.Err }

// Config controls resizing, batching and normalization.
type Config struct {
	// OutputSize is the (height, width) every image is resized to.
	OutputSize          [2]int
	BatchSize           int
	Mean                [3]float64
	Std                 [3]float64
	PreserveAspectRatio bool
	SymmetricPad        bool
	Layout              onnx.Layout
}

// Validate checks sizes and normalization constants.
func (c Config) Validate() error {
	if c.OutputSize[0] <= 0 || c.OutputSize[1] <= 0 {
		return fmt.Errorf("output size must be positive, got %dx%d", c.OutputSize[0], c.OutputSize[1])
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	for i, s := range c.Std {
		if s <= 0 {
			return fmt.Errorf("std[%d] must be positive, got %g", i, s)
		}
	}
	return nil
}

// ImageMeta records how an input image was placed in its output slot.
type ImageMeta struct {
	// Width and Height of the original image.
	Width, Height int
	// Size of the resized content and its offset inside the output.
	ContentW, ContentH int
	OffsetX, OffsetY   int
}

// ToOriginal maps a point given relative to the output slot to
// coordinates relative to the original image, removing padding.
func (m ImageMeta) ToOriginal(x, y float64, outW, outH int) (float64, float64) {
	if m.ContentW == 0 || m.ContentH == 0 {
		return x, y
	}
	px := x*float64(outW) - float64(m.OffsetX)
	py := y*float64(outH) - float64(m.OffsetY)
	return px / float64(m.ContentW), py / float64(m.ContentH)
}

// Batch is one model input. Indices maps batch rows back to input
// positions.
type Batch struct {
	Tensor  onnx.Tensor
	Indices []int
	Meta    []ImageMeta
}

// Release returns the tensor buffer to the pool. The batch must not be
// used afterwards.
func (b *Batch) Release() {
	mempool.PutFloat32(b.Tensor.Data)
	b.Tensor.Data = nil
}

// PreProcessor resizes, pads, normalizes and batches images.
type PreProcessor struct {
	cfg Config
}

// New validates cfg and returns a PreProcessor.
func New(cfg Config) (*PreProcessor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid preprocessor config: %w", err)
	}
	return &PreProcessor{cfg: cfg}, nil
}

// Config returns the configuration.
func (p *PreProcessor) Config() Config { return p.cfg }

// BatchCount returns ceil(n / size).
func BatchCount(n, size int) int {
	if n <= 0 || size <= 0 {
		return 0
	}
	return (n + size - 1) / size
}

// Process returns the batches for images in input order. The last batch
// holds the remainder and is never filled with blank images. The first
// failing image aborts the call.
func (p *PreProcessor) Process(images []image.Image) ([]Batch, error) {
	h, w := p.cfg.OutputSize[0], p.cfg.OutputSize[1]
	per := 3 * h * w
	batches := make([]Batch, 0, BatchCount(len(images), p.cfg.BatchSize))

	for start := 0; start < len(images); start += p.cfg.BatchSize {
		end := min(start+p.cfg.BatchSize, len(images))
		n := end - start
		data := mempool.GetFloat32(n * per)
		b := Batch{
			Tensor:  onnx.Tensor{Data: data, Shape: onnx.ImageShape(p.cfg.Layout, n, 3, h, w)},
			Indices: make([]int, n),
			Meta:    make([]ImageMeta, n),
		}
		for i := range n {
			idx := start + i
			resized, meta, err := p.Resize(images[idx])
			if err != nil {
				mempool.PutFloat32(data)
				for j := range batches {
					batches[j].Release()
				}
				return nil, &ImageError{Index: idx, Op: "resize", Err: err}
			}
			p.normalizeInto(data[i*per:(i+1)*per], resized)
			b.Indices[i] = idx
			b.Meta[i] = meta
		}
		batches = append(batches, b)
	}
	slog.Debug("preprocessed images", "images", len(images), "batches", len(batches),
		"height", h, "width", w, "layout", p.cfg.Layout.String())
	return batches, nil
}

// Resize fits img into the output size, padding with black when the
// aspect ratio is preserved.
func (p *PreProcessor) Resize(img image.Image) (*image.NRGBA, ImageMeta, error) {
	if img == nil {
		return nil, ImageMeta{}, errors.New("image is nil")
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, ImageMeta{}, fmt.Errorf("image has empty bounds %v", b)
	}
	outH, outW := p.cfg.OutputSize[0], p.cfg.OutputSize[1]
	meta := ImageMeta{Width: b.Dx(), Height: b.Dy()}

	if !p.cfg.PreserveAspectRatio {
		meta.ContentW, meta.ContentH = outW, outH
		return imaging.Resize(img, outW, outH, imaging.Linear), meta, nil
	}

	scale := math.Min(float64(outW)/float64(b.Dx()), float64(outH)/float64(b.Dy()))
	cw := max(1, min(outW, int(math.Round(float64(b.Dx())*scale))))
	ch := max(1, min(outH, int(math.Round(float64(b.Dy())*scale))))
	content := imaging.Resize(img, cw, ch, imaging.Linear)

	meta.ContentW, meta.ContentH = cw, ch
	if p.cfg.SymmetricPad {
		meta.OffsetX = (outW - cw) / 2
		meta.OffsetY = (outH - ch) / 2
	}
	canvas := imaging.New(outW, outH, color.Black)
	return imaging.Paste(canvas, content, image.Pt(meta.OffsetX, meta.OffsetY)), meta, nil
}

// normalizeInto writes (pixel/255 - mean) / std for each channel in the
// configured layout.
func (p *PreProcessor) normalizeInto(dst []float32, img *image.NRGBA) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	var scale, shift [3]float32
	for c := range 3 {
		scale[c] = float32(1 / (255 * p.cfg.Std[c]))
		shift[c] = float32(-p.cfg.Mean[c] / p.cfg.Std[c])
	}
	for y := range h {
		row := img.Pix[y*img.Stride:]
		for x := range w {
			px := row[x*4 : x*4+3]
			for c := range 3 {
				v := float32(px[c])*scale[c] + shift[c]
				if p.cfg.Layout == onnx.NHWC {
					dst[(y*w+x)*3+c] = v
				} else {
					dst[c*h*w+y*w+x] = v
				}
			}
		}
	}
}
