// Package recognition decodes cropped word images into text.
package recognition

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/MeKo-Tech/textpipe/internal/arch"
	"github.com/MeKo-Tech/textpipe/internal/model"
	"github.com/MeKo-Tech/textpipe/internal/preprocess"
	"golang.org/x/text/unicode/norm"
)

// Result is the decoded text of one crop.
type Result struct {
	Value      string
	Confidence float64
}

// Config binds the predictor to its preprocessing and vocabulary.
type Config struct {
	Model model.PredictorConfig
	// Vocab overrides the architecture vocabulary when set.
	Vocab []string
}

// Predictor runs a recognition model over batches of word crops.
type Predictor struct {
	pre   *preprocess.PreProcessor
	model *model.Model
	vocab []string
	ctc   bool
}

// New builds a predictor for m. The model must belong to a recognition
// family.
func New(m *model.Model, cfg Config) (*Predictor, error) {
	if m == nil {
		return nil, model.ErrNilModel
	}
	if m.Family().Task() != arch.TaskRecognition {
		return nil, &model.UnsupportedModelTypeError{Family: m.Family(), Task: arch.TaskRecognition}
	}
	vocab := cfg.Vocab
	if len(vocab) == 0 {
		var err error
		if vocab, err = Tokens(m.Config().Vocab); err != nil {
			return nil, fmt.Errorf("recognition model %s: %w", m.Name(), err)
		}
	}
	pre, err := preprocess.New(preprocess.Config{
		OutputSize:          cfg.Model.InputSize,
		BatchSize:           cfg.Model.BatchSize,
		Mean:                cfg.Model.Mean,
		Std:                 cfg.Model.Std,
		PreserveAspectRatio: true,
		Layout:              cfg.Model.Layout,
	})
	if err != nil {
		return nil, err
	}
	return &Predictor{pre: pre, model: m, vocab: vocab, ctc: m.Family().CTC()}, nil
}

// Model returns the bound model.
func (p *Predictor) Model() *model.Model { return p.model }

// Vocab returns the class tokens in index order.
func (p *Predictor) Vocab() []string { return p.vocab }

// Predict returns one result per crop in input order.
func (p *Predictor) Predict(ctx context.Context, crops []image.Image) ([]Result, error) {
	batches, err := p.pre.Process(crops)
	if err != nil {
		return nil, err
	}
	defer func() {
		for i := range batches {
			batches[i].Release()
		}
	}()

	// blank for CTC, end-of-sequence for attention decoders
	special := len(p.vocab)
	classes := special + 1
	if !p.ctc {
		// attention decoders may also carry start and padding tokens
		classes = 0
	}

	results := make([]Result, len(crops))
	for bi := range batches {
		b := &batches[bi]
		start := time.Now()
		out, err := p.model.Run(ctx, b.Tensor)
		if err != nil {
			return nil, fmt.Errorf("recognition batch %d: %w", bi, err)
		}
		if out.Batch() != len(b.Indices) {
			return nil, fmt.Errorf("recognition batch %d: model returned %d items for %d crops", bi, out.Batch(), len(b.Indices))
		}
		n := classes
		if n == 0 && len(out.Shape) == 3 {
			n = int(out.Shape[2])
		}
		for i, idx := range b.Indices {
			steps, err := stepLogits(out, i, n)
			if err != nil {
				return nil, fmt.Errorf("recognition output for crop %d: %w", idx, err)
			}
			var seq sequence
			if p.ctc {
				seq = decodeCTC(steps, special)
			} else {
				seq = decodeAttention(steps, special)
			}
			results[idx] = Result{Value: cleanText(seq.text(p.vocab)), Confidence: seq.confidence()}
		}
		slog.Debug("recognition batch", "arch", p.model.Name(), "batch", bi, "crops", len(b.Indices),
			"duration_ms", time.Since(start).Milliseconds())
	}
	return results, nil
}

// cleanText NFC-normalizes s and strips control characters.
func cleanText(s string) string {
	s = norm.NFC.String(s)
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}
