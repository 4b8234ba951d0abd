// Package detection localizes words on page images.
package detection

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/textpipe/internal/arch"
	"github.com/MeKo-Tech/textpipe/internal/geometry"
	"github.com/MeKo-Tech/textpipe/internal/model"
	"github.com/MeKo-Tech/textpipe/internal/preprocess"
)

// Options tune post-processing.
type Options struct {
	// BinThresh binarizes the probability map.
	BinThresh float64
	// BoxThresh drops regions whose mean probability is lower.
	BoxThresh float64
	// MinSize is the minimum region size in map pixels.
	MinSize int
	// UnclipRatio expands the shrunk text kernels; zero selects the
	// family default.
	UnclipRatio float64
	// AssumeStraightPages emits boxes instead of rotated rectangles. It is
	// taken from the model.
	AssumeStraightPages bool
}

// DefaultOptions mirror the service defaults.
func DefaultOptions() Options {
	return Options{BinThresh: 0.1, BoxThresh: 0.1, MinSize: 3}
}

// Config binds the predictor to its preprocessing choices.
type Config struct {
	Model               model.PredictorConfig
	PreserveAspectRatio bool
	SymmetricPad        bool
	Options             Options
}

// Detection is one localized word with its objectness score.
type Detection struct {
	Geometry geometry.Geometry
	Score    float64
}

// Result holds the detections for one input image.
type Result struct {
	Detections []Detection
}

// Geometries returns the detection geometries in order.
func (r Result) Geometries() []geometry.Geometry {
	out := make([]geometry.Geometry, len(r.Detections))
	for i, d := range r.Detections {
		out[i] = d.Geometry
	}
	return out
}

// Predictor runs a detection model over batches of pages.
type Predictor struct {
	pre   *preprocess.PreProcessor
	model *model.Model
	opts  Options
}

// New builds a predictor for m. The model must belong to a detection
// family.
func New(m *model.Model, cfg Config) (*Predictor, error) {
	if m == nil {
		return nil, model.ErrNilModel
	}
	if m.Family().Task() != arch.TaskDetection {
		return nil, &model.UnsupportedModelTypeError{Family: m.Family(), Task: arch.TaskDetection}
	}
	pre, err := preprocess.New(preprocess.Config{
		OutputSize:          cfg.Model.InputSize,
		BatchSize:           cfg.Model.BatchSize,
		Mean:                cfg.Model.Mean,
		Std:                 cfg.Model.Std,
		PreserveAspectRatio: cfg.PreserveAspectRatio,
		SymmetricPad:        cfg.SymmetricPad,
		Layout:              cfg.Model.Layout,
	})
	if err != nil {
		return nil, err
	}
	opts := cfg.Options
	opts.AssumeStraightPages = m.AssumeStraightPages()
	if opts.UnclipRatio <= 0 {
		opts.UnclipRatio = defaultUnclipRatio(m.Family())
	}
	return &Predictor{pre: pre, model: m, opts: opts}, nil
}

func defaultUnclipRatio(f arch.Family) float64 {
	if f == arch.FamilyFAST {
		return 1.0
	}
	return 1.5
}

// Model returns the bound model.
func (p *Predictor) Model() *model.Model { return p.model }

// Predict returns one result per image in input order. Each batch is
// forwarded in a single model call.
func (p *Predictor) Predict(ctx context.Context, images []image.Image) ([]Result, error) {
	batches, err := p.pre.Process(images)
	if err != nil {
		return nil, err
	}
	defer func() {
		for i := range batches {
			batches[i].Release()
		}
	}()

	results := make([]Result, len(images))
	outH, outW := p.pre.Config().OutputSize[0], p.pre.Config().OutputSize[1]
	for bi := range batches {
		b := &batches[bi]
		start := time.Now()
		out, err := p.model.Run(ctx, b.Tensor)
		if err != nil {
			return nil, fmt.Errorf("detection batch %d: %w", bi, err)
		}
		if out.Batch() != len(b.Indices) {
			return nil, fmt.Errorf("detection batch %d: model returned %d items for %d images", bi, out.Batch(), len(b.Indices))
		}
		for i, idx := range b.Indices {
			prob, mh, mw, err := probabilityMap(out, i, p.pre.Config().Layout)
			if err != nil {
				return nil, fmt.Errorf("detection output for image %d: %w", idx, err)
			}
			maskPadding(prob, mw, mh, b.Meta[i], outW, outH)
			results[idx] = p.toResult(postProcess(prob, mw, mh, p.opts), b.Meta[i], mw, mh, outW, outH)
		}
		slog.Debug("detection batch", "arch", p.model.Name(), "batch", bi, "images", len(b.Indices),
			"duration_ms", time.Since(start).Milliseconds())
	}
	return results, nil
}

// maskPadding zeroes the map outside the resized content so padding never
// produces detections.
func maskPadding(prob []float32, mw, mh int, meta preprocess.ImageMeta, outW, outH int) {
	if meta.ContentW == 0 || meta.ContentH == 0 {
		return
	}
	sx, sy := float64(outW)/float64(mw), float64(outH)/float64(mh)
	x0, x1 := float64(meta.OffsetX), float64(meta.OffsetX+meta.ContentW)
	y0, y1 := float64(meta.OffsetY), float64(meta.OffsetY+meta.ContentH)
	for y := range mh {
		cy := (float64(y) + 0.5) * sy
		rowOut := cy < y0 || cy >= y1
		for x := range mw {
			if cx := (float64(x) + 0.5) * sx; rowOut || cx < x0 || cx >= x1 {
				prob[y*mw+x] = 0
			}
		}
	}
}

// toResult maps pixel polygons on an mw x mh map to page-relative
// geometries, removing padding.
func (p *Predictor) toResult(raw []rawDetection, meta preprocess.ImageMeta, mw, mh, outW, outH int) Result {
	res := Result{Detections: make([]Detection, 0, len(raw))}
	for _, r := range raw {
		poly := make(geometry.Polygon, len(r.polygon))
		for i, pt := range r.polygon {
			x, y := meta.ToOriginal(pt.X/float64(mw), pt.Y/float64(mh), outW, outH)
			poly[i] = geometry.Point{X: x, Y: y}
		}
		var g geometry.Geometry
		if p.opts.AssumeStraightPages {
			g = geometry.FromBox(poly.Bounds()).Clip()
		} else {
			g = geometry.FromPolygon(geometry.OrderCorners(poly)).Clip()
		}
		if b := g.Bounds(); b.Width() <= 0 || b.Height() <= 0 {
			continue
		}
		res.Detections = append(res.Detections, Detection{Geometry: g, Score: r.score})
	}
	return res
}
