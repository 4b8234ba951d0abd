package server

import (
	"context"
	"log/slog"

	"github.com/MeKo-Tech/textpipe/internal/arch"
	"github.com/MeKo-Tech/textpipe/internal/detection"
	"github.com/MeKo-Tech/textpipe/internal/document"
	"github.com/MeKo-Tech/textpipe/internal/model"
	"github.com/MeKo-Tech/textpipe/internal/ocr"
	"github.com/MeKo-Tech/textpipe/internal/recognition"
)

// release closes the models bound for one request. Cached runners are
// only closed once the cache has dropped them.
func (s *Server) release(models ...*model.Model) {
	for _, m := range models {
		if m == nil {
			continue
		}
		if err := m.Close(); err != nil {
			slog.Warn("failed to close model", "arch", m.Name(), "error", err)
		}
	}
}

func (s *Server) detector(ctx context.Context, in OCRIn) (*detection.Predictor, *model.Model, error) {
	m, pc, err := s.resolver.Build(ctx, model.Spec{
		Arch:                in.DetArch,
		Task:                arch.TaskDetection,
		Pretrained:          s.pretrained,
		AssumeStraightPages: in.AssumeStraightPages,
		Overrides:           model.Overrides{BatchSize: in.DetBS},
	})
	if err != nil {
		return nil, nil, err
	}
	opts := detection.DefaultOptions()
	opts.BinThresh = in.BinThresh
	opts.BoxThresh = in.BoxThresh
	p, err := detection.New(m, detection.Config{
		Model:               pc,
		PreserveAspectRatio: in.PreserveAspectRatio,
		SymmetricPad:        in.SymmetricPad,
		Options:             opts,
	})
	if err != nil {
		s.release(m)
		return nil, nil, err
	}
	return p, m, nil
}

func (s *Server) recognizer(ctx context.Context, in OCRIn) (*recognition.Predictor, *model.Model, error) {
	m, pc, err := s.resolver.Build(ctx, model.Spec{
		Arch:       in.RecoArch,
		Task:       arch.TaskRecognition,
		Pretrained: s.pretrained,
		Overrides:  model.Overrides{BatchSize: in.RecoBS},
	})
	if err != nil {
		return nil, nil, err
	}
	p, err := recognition.New(m, recognition.Config{Model: pc, Vocab: s.vocab})
	if err != nil {
		s.release(m)
		return nil, nil, err
	}
	return p, m, nil
}

// ocrPredictor binds a fresh end-to-end predictor to in. The returned
// function releases its models.
func (s *Server) ocrPredictor(ctx context.Context, in OCRIn) (*ocr.Predictor, func(), error) {
	det, detModel, err := s.detector(ctx, in)
	if err != nil {
		return nil, nil, err
	}
	reco, recoModel, err := s.recognizer(ctx, in)
	if err != nil {
		s.release(detModel)
		return nil, nil, err
	}
	done := func() { s.release(detModel, recoModel) }

	resolver := document.Resolver{
		ResolveLines:   in.ResolveLines,
		ResolveBlocks:  in.ResolveBlocks,
		ParagraphBreak: in.ParagraphBreak,
	}
	p, err := ocr.New(det, reco, resolver, ocr.Options{
		DetectOrientation: in.DetectOrientation,
		DetectLanguage:    in.DetectLanguage,
		StraightenPages:   in.StraightenPages,
	})
	if err != nil {
		done()
		return nil, nil, err
	}
	return p, done, nil
}
