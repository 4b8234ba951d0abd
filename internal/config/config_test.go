package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/textpipe/internal/arch"
	"github.com/MeKo-Tech/textpipe/internal/document"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, infoLevel, cfg.LogLevel)
	assert.Equal(t, "tensorflow", cfg.Backend)
	assert.Equal(t, "db_resnet50", cfg.Detection.Arch)
	assert.Equal(t, "crnn_vgg16_bn", cfg.Recognition.Arch)
	assert.Equal(t, 2, cfg.Detection.BatchSize)
	assert.Equal(t, 128, cfg.Recognition.BatchSize)
	assert.InDelta(t, 0.1, cfg.Detection.BinThresh, 1e-9)
	assert.InDelta(t, 0.1, cfg.Detection.BoxThresh, 1e-9)
	assert.True(t, cfg.Detection.AssumeStraightPages)
	assert.True(t, cfg.Detection.PreserveAspectRatio)
	assert.True(t, cfg.Detection.SymmetricPad)
	assert.False(t, cfg.Detection.DetectOrientation)
	assert.False(t, cfg.Detection.DetectLanguage)
	assert.False(t, cfg.Detection.StraightenPages)
	assert.True(t, cfg.Document.ResolveLines)
	assert.True(t, cfg.Document.ResolveBlocks)
	assert.InDelta(t, 0.0035, cfg.Document.ParagraphBreak, 1e-12)
	assert.Equal(t, 8080, cfg.Server.Port)

	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"log level", func(c *Config) { c.LogLevel = "trace" }, "invalid log level"},
		{"backend", func(c *Config) { c.Backend = "jax" }, "invalid backend"},
		{"unknown detection arch", func(c *Config) { c.Detection.Arch = "not_a_real_model" }, "invalid detection.arch"},
		{"recognition arch as detection", func(c *Config) { c.Detection.Arch = "crnn_vgg16_bn" }, "is a recognition architecture"},
		{"torch only arch on tensorflow", func(c *Config) { c.Detection.Arch = "db_resnet34" }, "invalid detection.arch"},
		{"bin thresh", func(c *Config) { c.Detection.BinThresh = 1.5 }, "detection.bin_thresh"},
		{"box thresh", func(c *Config) { c.Detection.BoxThresh = -0.1 }, "detection.box_thresh"},
		{"paragraph break", func(c *Config) { c.Document.ParagraphBreak = 2 }, "document.paragraph_break"},
		{"det batch", func(c *Config) { c.Detection.BatchSize = 0 }, "detection batch size"},
		{"reco batch", func(c *Config) { c.Recognition.BatchSize = -1 }, "recognition batch size"},
		{"cache size", func(c *Config) { c.Models.CacheSize = -1 }, "model cache size"},
		{"port", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"upload", func(c *Config) { c.Server.MaxUploadMB = 0 }, "max upload size"},
		{"timeout", func(c *Config) { c.Server.TimeoutSec = 0 }, "invalid timeout"},
		{"rate limit", func(c *Config) {
			c.Server.RateLimit.Enabled = true
			c.Server.RateLimit.RequestsPerMinute = 0
		}, "invalid rate limit"},
		{"gpu", func(c *Config) {
			c.ONNX.GPU.Enabled = true
			c.ONNX.GPU.DeviceID = -1
		}, "invalid GPU configuration"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateTorchBackendAcceptsResnet34(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = "pytorch"
	cfg.Detection.Arch = "db_resnet34"
	require.NoError(t, cfg.Validate())

	b, err := cfg.BackendValue()
	require.NoError(t, err)
	assert.Equal(t, arch.BackendPyTorch, b)
}

func TestConversions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Models.Dir = "/srv/models"
	cfg.Models.Download = false
	cfg.Models.CacheSize = 2
	cfg.ONNX.NumThreads = 3
	cfg.ONNX.LibraryPath = "/opt/onnxruntime.so"
	cfg.Detection.BinThresh = 0.3
	cfg.Detection.AssumeStraightPages = false
	cfg.Document.ResolveBlocks = false

	rc := cfg.ToResolverConfig()
	assert.Equal(t, "/srv/models", rc.Weights.Dir)
	assert.Equal(t, DefaultBaseURL, rc.Weights.BaseURL)
	assert.False(t, rc.Weights.Download)
	assert.Equal(t, 2, rc.CacheSize)
	assert.Equal(t, 3, rc.Session.NumThreads)
	assert.Equal(t, "/opt/onnxruntime.so", rc.Session.LibraryPath)

	opts := cfg.ToDetectionOptions()
	assert.InDelta(t, 0.3, opts.BinThresh, 1e-9)
	assert.False(t, opts.AssumeStraightPages)
	assert.Positive(t, opts.MinSize)

	assert.Equal(t, document.Resolver{ResolveLines: true, ParagraphBreak: 0.0035}, cfg.ToDocumentResolver())
}

func TestConfigSerializationTags(t *testing.T) {
	cfg := DefaultConfig()

	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"paragraph_break":0.0035`)
	assert.Contains(t, string(data), `"requests_per_minute":60`)

	out, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	var back Config
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, *cfg, back)
}
