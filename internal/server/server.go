package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MeKo-Tech/textpipe/internal/arch"
	"github.com/MeKo-Tech/textpipe/internal/config"
	"github.com/MeKo-Tech/textpipe/internal/model"
	"github.com/MeKo-Tech/textpipe/internal/version"
)

// Config holds server configuration.
type Config struct {
	CORSOrigin  string
	MaxUploadMB int64
	Timeout     time.Duration
	RateLimit   config.RateLimitConfig
	// Defaults are applied to every request before its form fields.
	Defaults OCRIn
	// Pretrained selects exported weights over native initializations.
	Pretrained bool
	// Vocab replaces the recognition vocabulary when set.
	Vocab []string
}

// ConfigFrom derives the server configuration from the application one.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		CORSOrigin:  cfg.Server.CORSOrigin,
		MaxUploadMB: cfg.Server.MaxUploadMB,
		Timeout:     time.Duration(cfg.Server.TimeoutSec) * time.Second,
		RateLimit:   cfg.Server.RateLimit,
		Defaults:    DefaultOCRIn(cfg),
		Pretrained:  cfg.Models.Pretrained,
	}
}

// Server holds the HTTP server state and dependencies. Predictors are built
// per request from the request configuration; models come from the shared
// resolver.
type Server struct {
	resolver    *model.Resolver
	defaults    OCRIn
	pretrained  bool
	vocab       []string
	corsOrigin  string
	maxUploadMB int64
	timeout     time.Duration
	rateLimiter *RateLimiter
}

// NewServer creates a server resolving models through resolver.
func NewServer(cfg Config, resolver *model.Resolver) (*Server, error) {
	if resolver == nil {
		return nil, errors.New("server needs a model resolver")
	}
	if err := cfg.Defaults.Validate(); err != nil {
		return nil, err
	}
	s := &Server{
		resolver:    resolver,
		defaults:    cfg.Defaults,
		pretrained:  cfg.Pretrained,
		vocab:       cfg.Vocab,
		corsOrigin:  cfg.CORSOrigin,
		maxUploadMB: cfg.MaxUploadMB,
		timeout:     cfg.Timeout,
	}
	if s.corsOrigin == "" {
		s.corsOrigin = "*"
	}
	if s.maxUploadMB <= 0 {
		s.maxUploadMB = 50
	}
	if cfg.RateLimit.Enabled {
		rl, err := NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)
		if err != nil {
			return nil, err
		}
		s.rateLimiter = rl
	}
	return s, nil
}

// Close releases the cached models.
func (s *Server) Close() error {
	s.resolver.Close()
	return nil
}

// Registry returns the registry request architectures are resolved in.
func (s *Server) Registry() *arch.Registry { return s.resolver.Registry() }

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.wrap(s.healthHandler))
	mux.HandleFunc("/models", s.wrap(s.modelsHandler))
	mux.HandleFunc("/ocr", s.wrap(s.rateLimitMiddleware(s.ocrHandler)))
	mux.HandleFunc("/detection", s.wrap(s.rateLimitMiddleware(s.detectionHandler)))
	mux.HandleFunc("/recognition", s.wrap(s.rateLimitMiddleware(s.recognitionHandler)))
	mux.HandleFunc("/ws/ocr", s.requestIDMiddleware(s.rateLimitMiddleware(s.ocrWebSocketHandler)))
	mux.Handle("/metrics", promhttp.Handler())
}

// Handler returns a mux with every route installed.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return mux
}

// wrap applies the request-scoped middleware chain.
func (s *Server) wrap(next http.HandlerFunc) http.HandlerFunc {
	return s.requestIDMiddleware(s.corsMiddleware(s.metricsMiddleware(next)))
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Backend string `json:"backend"`
	Time    string `json:"time"`
}

// ModelsResponse is returned by GET /models.
type ModelsResponse struct {
	Detection   []string `json:"detection"`
	Recognition []string `json:"recognition"`
	Backend     string   `json:"backend"`
}

// DetectionOut is one entry of the /detection response.
type DetectionOut struct {
	Name       string      `json:"name"`
	Geometries [][]float64 `json:"geometries"`
}

// RecognitionOut is one entry of the /recognition response.
type RecognitionOut struct {
	Name       string  `json:"name"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

func (s *Server) versionString() string {
	return version.Info().Version
}

// withTimeout bounds one unit of prediction work by the configured timeout.
func (s *Server) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}
