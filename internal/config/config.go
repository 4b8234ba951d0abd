//nolint:lll
package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/MeKo-Tech/textpipe/internal/arch"
	"github.com/MeKo-Tech/textpipe/internal/detection"
	"github.com/MeKo-Tech/textpipe/internal/document"
	"github.com/MeKo-Tech/textpipe/internal/model"
	"github.com/MeKo-Tech/textpipe/internal/onnx"
)

const (
	infoLevel = "info"

	// DefaultBaseURL hosts the ONNX exports named <arch>.onnx.
	DefaultBaseURL = "https://github.com/MeKo-Tech/textpipe-models/releases/download/v0.1.0"
)

// Config represents the complete configuration for textpipe. It covers
// model resolution, the request defaults of the OCR pipeline and the HTTP
// server.
type Config struct {
	LogLevel string `mapstructure:"log_level" json:"log_level" yaml:"log_level"`
	// Backend selects the architecture registry: tensorflow or pytorch.
	Backend string `mapstructure:"backend" json:"backend" yaml:"backend"`

	Models      ModelsConfig      `mapstructure:"models"      json:"models"      yaml:"models"`
	ONNX        ONNXConfig        `mapstructure:"onnx"        json:"onnx"        yaml:"onnx"`
	Detection   DetectionConfig   `mapstructure:"detection"   json:"detection"   yaml:"detection"`
	Recognition RecognitionConfig `mapstructure:"recognition" json:"recognition" yaml:"recognition"`
	Document    DocumentConfig    `mapstructure:"document"    json:"document"    yaml:"document"`
	Server      ServerConfig      `mapstructure:"server"      json:"server"      yaml:"server"`
}

// ModelsConfig controls where model exports come from.
type ModelsConfig struct {
	Dir        string `mapstructure:"dir"        json:"dir"        yaml:"dir"`
	BaseURL    string `mapstructure:"base_url"   json:"base_url"   yaml:"base_url"`
	Pretrained bool   `mapstructure:"pretrained" json:"pretrained" yaml:"pretrained"`
	Download   bool   `mapstructure:"download"   json:"download"   yaml:"download"`
	// CacheSize is the number of built models kept alive; 0 disables caching.
	CacheSize int `mapstructure:"cache_size" json:"cache_size" yaml:"cache_size"`
}

// ONNXConfig configures ONNX Runtime sessions.
type ONNXConfig struct {
	LibraryPath string         `mapstructure:"library_path" json:"library_path" yaml:"library_path"`
	NumThreads  int            `mapstructure:"num_threads"  json:"num_threads"  yaml:"num_threads"`
	GPU         onnx.GPUConfig `mapstructure:"gpu"          json:"gpu"          yaml:"gpu"`
}

// DetectionConfig holds the request defaults for the detection stage and
// the page analyses that depend on it.
type DetectionConfig struct {
	Arch                string  `mapstructure:"arch"                  json:"arch"                  yaml:"arch"`
	BatchSize           int     `mapstructure:"batch_size"            json:"batch_size"            yaml:"batch_size"`
	BinThresh           float64 `mapstructure:"bin_thresh"            json:"bin_thresh"            yaml:"bin_thresh"`
	BoxThresh           float64 `mapstructure:"box_thresh"            json:"box_thresh"            yaml:"box_thresh"`
	AssumeStraightPages bool    `mapstructure:"assume_straight_pages" json:"assume_straight_pages" yaml:"assume_straight_pages"`
	PreserveAspectRatio bool    `mapstructure:"preserve_aspect_ratio" json:"preserve_aspect_ratio" yaml:"preserve_aspect_ratio"`
	SymmetricPad        bool    `mapstructure:"symmetric_pad"         json:"symmetric_pad"         yaml:"symmetric_pad"`
	DetectOrientation   bool    `mapstructure:"detect_orientation"    json:"detect_orientation"    yaml:"detect_orientation"`
	DetectLanguage      bool    `mapstructure:"detect_language"       json:"detect_language"       yaml:"detect_language"`
	StraightenPages     bool    `mapstructure:"straighten_pages"      json:"straighten_pages"      yaml:"straighten_pages"`
}

// RecognitionConfig holds the request defaults for the recognition stage.
type RecognitionConfig struct {
	Arch      string `mapstructure:"arch"       json:"arch"       yaml:"arch"`
	BatchSize int    `mapstructure:"batch_size" json:"batch_size" yaml:"batch_size"`
	// DictPath replaces the architecture vocabulary with one token per line.
	DictPath string `mapstructure:"dict_path" json:"dict_path" yaml:"dict_path"`
}

// DocumentConfig holds the page assembly defaults.
type DocumentConfig struct {
	ResolveLines   bool    `mapstructure:"resolve_lines"   json:"resolve_lines"   yaml:"resolve_lines"`
	ResolveBlocks  bool    `mapstructure:"resolve_blocks"  json:"resolve_blocks"  yaml:"resolve_blocks"`
	ParagraphBreak float64 `mapstructure:"paragraph_break" json:"paragraph_break" yaml:"paragraph_break"`
}

// ServerConfig holds settings for the HTTP server.
type ServerConfig struct {
	Host            string          `mapstructure:"host"             json:"host"             yaml:"host"`
	Port            int             `mapstructure:"port"             json:"port"             yaml:"port"`
	CORSOrigin      string          `mapstructure:"cors_origin"      json:"cors_origin"      yaml:"cors_origin"`
	MaxUploadMB     int64           `mapstructure:"max_upload_mb"    json:"max_upload_mb"    yaml:"max_upload_mb"`
	TimeoutSec      int             `mapstructure:"timeout_sec"      json:"timeout_sec"      yaml:"timeout_sec"`
	ShutdownTimeout int             `mapstructure:"shutdown_timeout" json:"shutdown_timeout" yaml:"shutdown_timeout"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"       json:"rate_limit"       yaml:"rate_limit"`
}

// RateLimitConfig configures per-client request limiting.
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"             json:"enabled"             yaml:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute" json:"requests_per_minute" yaml:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"               json:"burst"               yaml:"burst"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	det := detection.DefaultOptions()
	return &Config{
		LogLevel: infoLevel,
		Backend:  arch.BackendTensorFlow.String(),
		Models: ModelsConfig{
			Dir:        "models",
			BaseURL:    DefaultBaseURL,
			Pretrained: true,
			Download:   true,
			CacheSize:  4,
		},
		ONNX: ONNXConfig{
			GPU: onnx.DefaultGPUConfig(),
		},
		Detection: DetectionConfig{
			Arch:                "db_resnet50",
			BatchSize:           arch.DefaultDetectionBatchSize,
			BinThresh:           det.BinThresh,
			BoxThresh:           det.BoxThresh,
			AssumeStraightPages: true,
			PreserveAspectRatio: true,
			SymmetricPad:        true,
		},
		Recognition: RecognitionConfig{
			Arch:      "crnn_vgg16_bn",
			BatchSize: arch.DefaultRecognitionBatchSize,
		},
		Document: DocumentConfig{
			ResolveLines:   true,
			ResolveBlocks:  true,
			ParagraphBreak: document.DefaultParagraphBreak,
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     50,
			TimeoutSec:      60,
			ShutdownTimeout: 10,
			RateLimit: RateLimitConfig{
				RequestsPerMinute: 60,
				Burst:             10,
			},
		},
	}
}

// Validate validates the configuration and returns the first problem found.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	backend, err := arch.ParseBackend(c.Backend)
	if err != nil {
		return fmt.Errorf("invalid backend: %w", err)
	}
	reg := arch.NewRegistry(backend)
	if err := validateArch(reg, c.Detection.Arch, arch.TaskDetection, "detection.arch"); err != nil {
		return err
	}
	if err := validateArch(reg, c.Recognition.Arch, arch.TaskRecognition, "recognition.arch"); err != nil {
		return err
	}

	if err := validateThreshold(c.Detection.BinThresh, "detection.bin_thresh"); err != nil {
		return err
	}
	if err := validateThreshold(c.Detection.BoxThresh, "detection.box_thresh"); err != nil {
		return err
	}
	if err := validateThreshold(c.Document.ParagraphBreak, "document.paragraph_break"); err != nil {
		return err
	}

	if c.Detection.BatchSize <= 0 {
		return fmt.Errorf("invalid detection batch size: %d (must be positive)", c.Detection.BatchSize)
	}
	if c.Recognition.BatchSize <= 0 {
		return fmt.Errorf("invalid recognition batch size: %d (must be positive)", c.Recognition.BatchSize)
	}
	if c.Models.CacheSize < 0 {
		return fmt.Errorf("invalid model cache size: %d (must not be negative)", c.Models.CacheSize)
	}
	if c.ONNX.NumThreads < 0 {
		return fmt.Errorf("invalid onnx num threads: %d (must not be negative)", c.ONNX.NumThreads)
	}
	if err := c.ONNX.GPU.Validate(); err != nil {
		return fmt.Errorf("invalid GPU configuration: %w", err)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	if c.Server.RateLimit.Enabled {
		if c.Server.RateLimit.RequestsPerMinute <= 0 {
			return fmt.Errorf("invalid rate limit: %d requests per minute (must be positive)", c.Server.RateLimit.RequestsPerMinute)
		}
		if c.Server.RateLimit.Burst <= 0 {
			return fmt.Errorf("invalid rate limit burst: %d (must be positive)", c.Server.RateLimit.Burst)
		}
	}
	return nil
}

// BackendValue parses the configured backend.
func (c *Config) BackendValue() (arch.Backend, error) {
	return arch.ParseBackend(c.Backend)
}

// ToResolverConfig converts the model and runtime sections for
// model.NewResolver.
func (c *Config) ToResolverConfig() model.ResolverConfig {
	return model.ResolverConfig{
		Weights: model.WeightLoader{
			Dir:      c.Models.Dir,
			BaseURL:  c.Models.BaseURL,
			Download: c.Models.Download,
		},
		Session:   c.ToSessionConfig(),
		CacheSize: c.Models.CacheSize,
	}
}

// ToSessionConfig converts the onnx section.
func (c *Config) ToSessionConfig() onnx.SessionConfig {
	return onnx.SessionConfig{
		LibraryPath: c.ONNX.LibraryPath,
		NumThreads:  c.ONNX.NumThreads,
		GPU:         c.ONNX.GPU,
	}
}

// ToDetectionOptions converts the detection thresholds.
func (c *Config) ToDetectionOptions() detection.Options {
	opts := detection.DefaultOptions()
	opts.BinThresh = c.Detection.BinThresh
	opts.BoxThresh = c.Detection.BoxThresh
	opts.AssumeStraightPages = c.Detection.AssumeStraightPages
	return opts
}

// ToDocumentResolver converts the document section.
func (c *Config) ToDocumentResolver() document.Resolver {
	return document.Resolver{
		ResolveLines:   c.Document.ResolveLines,
		ResolveBlocks:  c.Document.ResolveBlocks,
		ParagraphBreak: c.Document.ParagraphBreak,
	}
}

func validateArch(reg *arch.Registry, name string, task arch.Task, key string) error {
	desc, err := reg.Resolve(name)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	if desc.Task != task {
		return fmt.Errorf("invalid %s: %s is a %s architecture", key, name, desc.Task)
	}
	return nil
}

// validateThreshold validates that a value is between 0.0 and 1.0.
func validateThreshold(value float64, name string) error {
	if value < 0.0 || value > 1.0 {
		return fmt.Errorf("invalid %s: %.4f (must be between 0.0 and 1.0)", name, value)
	}
	return nil
}
