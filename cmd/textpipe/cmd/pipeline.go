package cmd

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/textpipe/internal/arch"
	"github.com/MeKo-Tech/textpipe/internal/config"
	"github.com/MeKo-Tech/textpipe/internal/detection"
	"github.com/MeKo-Tech/textpipe/internal/model"
	"github.com/MeKo-Tech/textpipe/internal/ocr"
	"github.com/MeKo-Tech/textpipe/internal/pdf"
	"github.com/MeKo-Tech/textpipe/internal/recognition"
)

const (
	outputFormatJSON = "json"
	outputFormatText = "text"
	outputFormatYAML = "yaml"
)

func addDetectionFlags(cmd *cobra.Command) {
	cmd.Flags().String("det-arch", "db_resnet50", "detection architecture")
	cmd.Flags().Int("det-bs", 2, "detection batch size")
	cmd.Flags().Float64("bin-thresh", 0.1, "probability map binarization threshold (0..1)")
	cmd.Flags().Float64("box-thresh", 0.1, "minimum mean probability of a kept box (0..1)")
	cmd.Flags().Bool("assume-straight-pages", true, "emit axis-aligned boxes instead of rotated polygons")
	cmd.Flags().Bool("preserve-aspect-ratio", true, "pad instead of stretching pages to the model input")
	cmd.Flags().Bool("symmetric-pad", true, "center padded pages")
	cmd.Flags().String("pages", "", "PDF page range, e.g. 1-3,5")
}

func addRecognitionFlags(cmd *cobra.Command) {
	cmd.Flags().String("reco-arch", "crnn_vgg16_bn", "recognition architecture")
	cmd.Flags().Int("reco-bs", 128, "recognition batch size")
	cmd.Flags().String("dict", "", "dictionary file replacing the architecture vocabulary")
}

func addDocumentFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("detect-orientation", false, "estimate page orientation")
	cmd.Flags().Bool("detect-language", false, "guess page language")
	cmd.Flags().Bool("straighten-pages", false, "rotate skewed pages upright before recognition")
	cmd.Flags().Bool("resolve-lines", true, "group words into lines")
	cmd.Flags().Bool("resolve-blocks", true, "group lines into blocks")
	cmd.Flags().Float64("paragraph-break", 0.0035, "relative vertical gap that starts a new block")
}

// applyFlags copies the changed prediction flags of cmd over cfg and
// validates the result.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	changed := func(name string) bool {
		return f.Lookup(name) != nil && f.Changed(name)
	}
	strs := map[string]*string{
		"det-arch":  &cfg.Detection.Arch,
		"reco-arch": &cfg.Recognition.Arch,
		"dict":      &cfg.Recognition.DictPath,
	}
	for name, dst := range strs {
		if changed(name) {
			*dst, _ = f.GetString(name)
		}
	}
	ints := map[string]*int{
		"det-bs":  &cfg.Detection.BatchSize,
		"reco-bs": &cfg.Recognition.BatchSize,
	}
	for name, dst := range ints {
		if changed(name) {
			*dst, _ = f.GetInt(name)
		}
	}
	floats := map[string]*float64{
		"bin-thresh":      &cfg.Detection.BinThresh,
		"box-thresh":      &cfg.Detection.BoxThresh,
		"paragraph-break": &cfg.Document.ParagraphBreak,
	}
	for name, dst := range floats {
		if changed(name) {
			*dst, _ = f.GetFloat64(name)
		}
	}
	bools := map[string]*bool{
		"assume-straight-pages": &cfg.Detection.AssumeStraightPages,
		"preserve-aspect-ratio": &cfg.Detection.PreserveAspectRatio,
		"symmetric-pad":         &cfg.Detection.SymmetricPad,
		"detect-orientation":    &cfg.Detection.DetectOrientation,
		"detect-language":       &cfg.Detection.DetectLanguage,
		"straighten-pages":      &cfg.Detection.StraightenPages,
		"resolve-lines":         &cfg.Document.ResolveLines,
		"resolve-blocks":        &cfg.Document.ResolveBlocks,
	}
	for name, dst := range bools {
		if changed(name) {
			*dst, _ = f.GetBool(name)
		}
	}
	return cfg.Validate()
}

// commandConfig returns a copy of the loaded configuration with the
// command flags applied.
func commandConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := *GetConfig()
	if err := applyFlags(cmd, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func buildDetector(ctx context.Context, r *model.Resolver, cfg *config.Config) (*detection.Predictor, error) {
	m, pc, err := r.Build(ctx, model.Spec{
		Arch:                cfg.Detection.Arch,
		Task:                arch.TaskDetection,
		Pretrained:          cfg.Models.Pretrained,
		AssumeStraightPages: cfg.Detection.AssumeStraightPages,
		Overrides:           model.Overrides{BatchSize: cfg.Detection.BatchSize},
	})
	if err != nil {
		return nil, err
	}
	p, err := detection.New(m, detection.Config{
		Model:               pc,
		PreserveAspectRatio: cfg.Detection.PreserveAspectRatio,
		SymmetricPad:        cfg.Detection.SymmetricPad,
		Options:             cfg.ToDetectionOptions(),
	})
	if err != nil {
		closeModel(m)
		return nil, err
	}
	return p, nil
}

func buildRecognizer(ctx context.Context, r *model.Resolver, cfg *config.Config) (*recognition.Predictor, error) {
	vocab, err := loadVocab(cfg)
	if err != nil {
		return nil, err
	}
	m, pc, err := r.Build(ctx, model.Spec{
		Arch:       cfg.Recognition.Arch,
		Task:       arch.TaskRecognition,
		Pretrained: cfg.Models.Pretrained,
		Overrides:  model.Overrides{BatchSize: cfg.Recognition.BatchSize},
	})
	if err != nil {
		return nil, err
	}
	p, err := recognition.New(m, recognition.Config{Model: pc, Vocab: vocab})
	if err != nil {
		closeModel(m)
		return nil, err
	}
	return p, nil
}

// buildOCR returns the end-to-end predictor and a function closing its
// models.
func buildOCR(ctx context.Context, r *model.Resolver, cfg *config.Config) (*ocr.Predictor, func(), error) {
	det, err := buildDetector(ctx, r, cfg)
	if err != nil {
		return nil, nil, err
	}
	reco, err := buildRecognizer(ctx, r, cfg)
	if err != nil {
		closeModel(det.Model())
		return nil, nil, err
	}
	done := func() {
		closeModel(det.Model())
		closeModel(reco.Model())
	}
	p, err := ocr.New(det, reco, cfg.ToDocumentResolver(), ocr.Options{
		DetectOrientation: cfg.Detection.DetectOrientation,
		DetectLanguage:    cfg.Detection.DetectLanguage,
		StraightenPages:   cfg.Detection.StraightenPages,
	})
	if err != nil {
		done()
		return nil, nil, err
	}
	return p, done, nil
}

func closeModel(m *model.Model) {
	if err := m.Close(); err != nil {
		slog.Warn("failed to close model", "arch", m.Name(), "error", err)
	}
}

// input is one page or crop read from the command line.
type input struct {
	name  string
	image image.Image
}

// loadInputs reads images and, when allowPDF is set, expands PDFs into
// their pages.
func loadInputs(paths []string, pageRange string, allowPDF bool) ([]input, error) {
	if len(paths) == 0 {
		return nil, errors.New("no input files provided")
	}
	var out []input
	for _, p := range paths {
		if strings.EqualFold(filepath.Ext(p), ".pdf") {
			if !allowPDF {
				return nil, fmt.Errorf("%s: PDF input is not accepted by this command", p)
			}
			pages, err := pdf.ExtractPagesFile(p, pageRange)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", p, err)
			}
			if len(pages) == 0 {
				return nil, fmt.Errorf("%s: PDF contains no page images", p)
			}
			for _, page := range pages {
				out = append(out, input{name: fmt.Sprintf("%s#%d", p, page.Number), image: page.Image})
			}
			continue
		}
		img, err := ocr.LoadImage(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		out = append(out, input{name: p, image: img})
	}
	return out, nil
}

func imagesOf(inputs []input) []image.Image {
	out := make([]image.Image, len(inputs))
	for i, in := range inputs {
		out[i] = in.image
	}
	return out
}
