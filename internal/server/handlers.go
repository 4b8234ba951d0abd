package server

import (
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/MeKo-Tech/textpipe/internal/arch"
	"github.com/MeKo-Tech/textpipe/internal/document"
)

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: s.versionString(),
		Backend: s.Registry().Backend().String(),
		Time:    time.Now().UTC().Format(time.RFC3339),
	})
}

// modelsHandler lists the architectures of the active registry.
func (s *Server) modelsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	reg := s.Registry()
	writeJSON(w, http.StatusOK, ModelsResponse{
		Detection:   namesOf(reg.Names(arch.TaskDetection)),
		Recognition: namesOf(reg.Names(arch.TaskRecognition)),
		Backend:     reg.Backend().String(),
	})
}

func namesOf(names []arch.Name) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = string(n)
	}
	return out
}

// ocrHandler runs the full pipeline and returns one OCROut per page.
func (s *Server) ocrHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	in, images, err := s.parseUpload(w, r, true)
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}

	ctx, cancel := s.withTimeout(r.Context())
	defer cancel()
	predictor, done, err := s.ocrPredictor(ctx, in)
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	defer done()

	start := time.Now()
	doc, stats, err := predictor.PredictWithStats(ctx, imagesOf(images))
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	predictionDuration.WithLabelValues("ocr", in.DetArch+"+"+in.RecoArch).Observe(time.Since(start).Seconds())
	imagesProcessed.WithLabelValues("ocr").Add(float64(stats.Pages))
	wordsRecognized.Add(float64(stats.Words))

	out := make([]document.OCROut, len(doc.Pages))
	for i, page := range doc.Pages {
		out[i] = document.Export(images[i].name, page)
	}
	slog.Info("ocr request completed", "request_id", RequestID(r.Context()), "pages", stats.Pages,
		"words", stats.Words, "duration_ms", stats.Duration.Milliseconds())
	writeJSON(w, http.StatusOK, out)
}

// detectionHandler returns the word geometries of every page.
func (s *Server) detectionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	in, images, err := s.parseUpload(w, r, true)
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}

	ctx, cancel := s.withTimeout(r.Context())
	defer cancel()
	predictor, m, err := s.detector(ctx, in)
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	defer s.release(m)

	start := time.Now()
	results, err := predictor.Predict(ctx, imagesOf(images))
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	predictionDuration.WithLabelValues("detection", in.DetArch).Observe(time.Since(start).Seconds())
	imagesProcessed.WithLabelValues("detection").Add(float64(len(images)))

	out := make([]DetectionOut, len(results))
	for i, res := range results {
		geoms := make([][]float64, len(res.Detections))
		for j, d := range res.Detections {
			geoms[j] = d.Geometry.Flatten()
		}
		out[i] = DetectionOut{Name: images[i].name, Geometries: geoms}
	}
	writeJSON(w, http.StatusOK, out)
}

// recognitionHandler reads every upload as one word crop.
func (s *Server) recognitionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	in, images, err := s.parseUpload(w, r, false)
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}

	ctx, cancel := s.withTimeout(r.Context())
	defer cancel()
	predictor, m, err := s.recognizer(ctx, in)
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	defer s.release(m)

	start := time.Now()
	results, err := predictor.Predict(ctx, imagesOf(images))
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	predictionDuration.WithLabelValues("recognition", in.RecoArch).Observe(time.Since(start).Seconds())
	imagesProcessed.WithLabelValues("recognition").Add(float64(len(images)))

	out := make([]RecognitionOut, len(results))
	for i, res := range results {
		out[i] = RecognitionOut{Name: images[i].name, Value: res.Value, Confidence: round2(res.Confidence)}
	}
	writeJSON(w, http.StatusOK, out)
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
