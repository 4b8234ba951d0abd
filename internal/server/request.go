package server

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/MeKo-Tech/textpipe/internal/config"
	"github.com/MeKo-Tech/textpipe/internal/ocr"
	"github.com/MeKo-Tech/textpipe/internal/pdf"
)

// OCRIn is the request configuration shared by the prediction endpoints.
// Detection and recognition endpoints read the fields of their stage only.
type OCRIn struct {
	DetArch             string  `json:"det_arch"`
	RecoArch            string  `json:"reco_arch"`
	AssumeStraightPages bool    `json:"assume_straight_pages"`
	PreserveAspectRatio bool    `json:"preserve_aspect_ratio"`
	DetectOrientation   bool    `json:"detect_orientation"`
	DetectLanguage      bool    `json:"detect_language"`
	SymmetricPad        bool    `json:"symmetric_pad"`
	StraightenPages     bool    `json:"straighten_pages"`
	DetBS               int     `json:"det_bs"`
	RecoBS              int     `json:"reco_bs"`
	BinThresh           float64 `json:"bin_thresh"`
	BoxThresh           float64 `json:"box_thresh"`
	ResolveLines        bool    `json:"resolve_lines"`
	ResolveBlocks       bool    `json:"resolve_blocks"`
	ParagraphBreak      float64 `json:"paragraph_break"`
}

// DefaultOCRIn derives request defaults from the configuration.
func DefaultOCRIn(cfg *config.Config) OCRIn {
	return OCRIn{
		DetArch:             cfg.Detection.Arch,
		RecoArch:            cfg.Recognition.Arch,
		AssumeStraightPages: cfg.Detection.AssumeStraightPages,
		PreserveAspectRatio: cfg.Detection.PreserveAspectRatio,
		DetectOrientation:   cfg.Detection.DetectOrientation,
		DetectLanguage:      cfg.Detection.DetectLanguage,
		SymmetricPad:        cfg.Detection.SymmetricPad,
		StraightenPages:     cfg.Detection.StraightenPages,
		DetBS:               cfg.Detection.BatchSize,
		RecoBS:              cfg.Recognition.BatchSize,
		BinThresh:           cfg.Detection.BinThresh,
		BoxThresh:           cfg.Detection.BoxThresh,
		ResolveLines:        cfg.Document.ResolveLines,
		ResolveBlocks:       cfg.Document.ResolveBlocks,
		ParagraphBreak:      cfg.Document.ParagraphBreak,
	}
}

// Validate checks value ranges. Architecture names are checked when the
// models are resolved.
func (in OCRIn) Validate() error {
	if in.DetBS <= 0 {
		return &validationError{field: "det_bs", msg: "must be positive"}
	}
	if in.RecoBS <= 0 {
		return &validationError{field: "reco_bs", msg: "must be positive"}
	}
	ratios := []struct {
		name  string
		value float64
	}{
		{"bin_thresh", in.BinThresh},
		{"box_thresh", in.BoxThresh},
		{"paragraph_break", in.ParagraphBreak},
	}
	for _, r := range ratios {
		if r.value < 0 || r.value > 1 {
			return &validationError{field: r.name, msg: "must be between 0 and 1"}
		}
	}
	return nil
}

// validationError is a client mistake in the request configuration.
type validationError struct {
	field string
	msg   string
}

func (e *validationError) Error() string {
	if e.field == "" {
		return e.msg
	}
	return fmt.Sprintf("invalid %s: %s", e.field, e.msg)
}

// UploadError identifies the uploaded file that could not be decoded.
type UploadError struct {
	Index int
	Name  string
	Err   error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("file %d (%s): %v", e.Index, e.Name, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// applyForm overrides the fields present in form.
func (in *OCRIn) applyForm(form map[string][]string) error {
	get := func(key string) (string, bool) {
		v, ok := form[key]
		if !ok || len(v) == 0 || v[0] == "" {
			return "", false
		}
		return v[0], true
	}

	strs := map[string]*string{"det_arch": &in.DetArch, "reco_arch": &in.RecoArch}
	for key, dst := range strs {
		if v, ok := get(key); ok {
			*dst = v
		}
	}

	bools := map[string]*bool{
		"assume_straight_pages": &in.AssumeStraightPages,
		"preserve_aspect_ratio": &in.PreserveAspectRatio,
		"detect_orientation":    &in.DetectOrientation,
		"detect_language":       &in.DetectLanguage,
		"symmetric_pad":         &in.SymmetricPad,
		"straighten_pages":      &in.StraightenPages,
		"resolve_lines":         &in.ResolveLines,
		"resolve_blocks":        &in.ResolveBlocks,
	}
	for key, dst := range bools {
		if v, ok := get(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return &validationError{field: key, msg: fmt.Sprintf("%q is not a boolean", v)}
			}
			*dst = b
		}
	}

	ints := map[string]*int{"det_bs": &in.DetBS, "reco_bs": &in.RecoBS}
	for key, dst := range ints {
		if v, ok := get(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return &validationError{field: key, msg: fmt.Sprintf("%q is not an integer", v)}
			}
			*dst = n
		}
	}

	floats := map[string]*float64{"bin_thresh": &in.BinThresh, "box_thresh": &in.BoxThresh, "paragraph_break": &in.ParagraphBreak}
	for key, dst := range floats {
		if v, ok := get(key); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return &validationError{field: key, msg: fmt.Sprintf("%q is not a number", v)}
			}
			*dst = f
		}
	}
	return nil
}

// namedImage is one decoded page or crop with the name it is reported
// under.
type namedImage struct {
	name  string
	image image.Image
}

// parseUpload reads the multipart form, applies the configuration fields
// over the server defaults and decodes every file of the "files" field.
// PDF files expand to one image per page when expandPDF is set.
func (s *Server) parseUpload(w http.ResponseWriter, r *http.Request, expandPDF bool) (OCRIn, []namedImage, error) {
	in := s.defaults
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadMB<<20)
	if err := r.ParseMultipartForm(s.maxUploadMB << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return in, nil, &validationError{msg: fmt.Sprintf("upload exceeds %d MB", s.maxUploadMB)}
		}
		return in, nil, &validationError{msg: fmt.Sprintf("invalid multipart form: %v", err)}
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	if err := in.applyForm(r.MultipartForm.Value); err != nil {
		return in, nil, err
	}
	if err := in.Validate(); err != nil {
		return in, nil, err
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		return in, nil, &validationError{field: "files", msg: "at least one file is required"}
	}
	var images []namedImage
	for i, fh := range files {
		uploadSizeBytes.Observe(float64(fh.Size))
		decoded, err := decodeUpload(fh, expandPDF)
		if err != nil {
			return in, nil, &UploadError{Index: i, Name: fh.Filename, Err: err}
		}
		images = append(images, decoded...)
	}
	return in, images, nil
}

func decodeUpload(fh *multipart.FileHeader, expandPDF bool) ([]namedImage, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return decodeBytes(fh.Filename, data, expandPDF)
}

func decodeBytes(name string, data []byte, expandPDF bool) ([]namedImage, error) {
	if pdf.IsPDF(data) {
		if !expandPDF {
			return nil, errors.New("PDF input is not accepted here")
		}
		pages, err := pdf.ExtractPages(bytes.NewReader(data), "")
		if err != nil {
			return nil, err
		}
		if len(pages) == 0 {
			return nil, errors.New("PDF contains no page images")
		}
		out := make([]namedImage, len(pages))
		for i, p := range pages {
			out[i] = namedImage{name: fmt.Sprintf("%s#%d", name, p.Number), image: p.Image}
		}
		return out, nil
	}
	img, err := ocr.DecodeImage(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return []namedImage{{name: name, image: img}}, nil
}

func imagesOf(named []namedImage) []image.Image {
	out := make([]image.Image, len(named))
	for i, n := range named {
		out[i] = n.image
	}
	return out
}
