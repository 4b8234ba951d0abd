// Package ocr chains detection, recognition and page assembly.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"time"

	"github.com/MeKo-Tech/textpipe/internal/detection"
	"github.com/MeKo-Tech/textpipe/internal/document"
	"github.com/MeKo-Tech/textpipe/internal/geometry"
	"github.com/MeKo-Tech/textpipe/internal/recognition"
)

// minStraightenAngle is the smallest estimated skew, in degrees, that
// triggers a rotation.
const minStraightenAngle = 0.5

// minStraightenConfidence is the share of words that must agree with the
// estimate before a page is rotated.
const minStraightenConfidence = 0.5

// Options toggle the optional page analyses.
type Options struct {
	DetectOrientation bool
	DetectLanguage    bool
	StraightenPages   bool
}

// Predictor is bound to one detection and one recognition predictor for
// its lifetime.
type Predictor struct {
	det      *detection.Predictor
	reco     *recognition.Predictor
	resolver document.Resolver
	opts     Options
}

// New assembles a predictor.
func New(det *detection.Predictor, reco *recognition.Predictor, resolver document.Resolver, opts Options) (*Predictor, error) {
	if det == nil || reco == nil {
		return nil, errors.New("ocr predictor needs both a detection and a recognition predictor")
	}
	return &Predictor{det: det, reco: reco, resolver: resolver, opts: opts}, nil
}

// Stats summarizes one Predict call.
type Stats struct {
	Pages    int
	Words    int
	Duration time.Duration
}

// Predict returns one page per image in input order.
func (p *Predictor) Predict(ctx context.Context, pages []image.Image) (document.Document, error) {
	doc, _, err := p.PredictWithStats(ctx, pages)
	return doc, err
}

// PredictWithStats is Predict with call statistics.
func (p *Predictor) PredictWithStats(ctx context.Context, pages []image.Image) (document.Document, Stats, error) {
	start := time.Now()
	dets, err := p.det.Predict(ctx, pages)
	if err != nil {
		return document.Document{}, Stats{}, err
	}

	working := append([]image.Image(nil), pages...)
	orientations := make([]document.Orientation, len(pages))
	if p.opts.DetectOrientation || p.opts.StraightenPages {
		var redo []int
		for i, page := range working {
			angle, conf := estimateOrientation(page, dets[i].Geometries())
			if p.opts.DetectOrientation {
				orientations[i] = document.Orientation{Value: &angle, Confidence: &conf}
			}
			if p.opts.StraightenPages && math.Abs(angle) >= minStraightenAngle && conf >= minStraightenConfidence {
				working[i] = straighten(page, angle)
				redo = append(redo, i)
			}
		}
		if err := p.redetect(ctx, working, dets, redo); err != nil {
			return document.Document{}, Stats{}, err
		}
	}

	geoms := make([][]geometry.Geometry, len(working))
	var crops []image.Image
	for i, page := range working {
		geoms[i] = dets[i].Geometries()
		c, err := recognition.Crops(page, geoms[i])
		if err != nil {
			return document.Document{}, Stats{}, fmt.Errorf("page %d: %w", i, err)
		}
		crops = append(crops, c...)
	}
	recs, err := p.reco.Predict(ctx, crops)
	if err != nil {
		return document.Document{}, Stats{}, err
	}

	doc := document.Document{Pages: make([]document.Page, len(working))}
	offset := 0
	for i, page := range working {
		n := len(geoms[i])
		b := page.Bounds()
		pg, err := p.resolver.BuildPage(geoms[i], recs[offset:offset+n], [2]int{b.Dy(), b.Dx()})
		if err != nil {
			return document.Document{}, Stats{}, fmt.Errorf("page %d: %w", i, err)
		}
		offset += n
		pg.Orientation = orientations[i]
		if p.opts.DetectLanguage {
			tag, conf := detectLanguage(pg.Text())
			value := tag.String()
			pg.Language = document.Language{Value: &value, Confidence: &conf}
		}
		doc.Pages[i] = pg
	}

	stats := Stats{Pages: len(pages), Words: len(crops), Duration: time.Since(start)}
	slog.Debug("ocr done", "pages", stats.Pages, "words", stats.Words, "duration_ms", stats.Duration.Milliseconds())
	return doc, stats, nil
}

// redetect runs detection again on the straightened pages listed in idx
// and stores the results in dets.
func (p *Predictor) redetect(ctx context.Context, pages []image.Image, dets []detection.Result, idx []int) error {
	if len(idx) == 0 {
		return nil
	}
	sub := make([]image.Image, len(idx))
	for j, i := range idx {
		sub[j] = pages[i]
	}
	res, err := p.det.Predict(ctx, sub)
	if err != nil {
		return fmt.Errorf("detection after straightening: %w", err)
	}
	for j, i := range idx {
		dets[i] = res[j]
	}
	return nil
}
