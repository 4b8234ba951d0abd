package onnx

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/yalue/onnxruntime_go"
)

// GPUConfig holds CUDA execution provider settings.
type GPUConfig struct {
	Enabled             bool   `mapstructure:"enabled"                json:"enabled"                yaml:"enabled"`
	DeviceID            int    `mapstructure:"device_id"              json:"device_id"              yaml:"device_id"`
	MemLimit            uint64 `mapstructure:"mem_limit"              json:"mem_limit"              yaml:"mem_limit"`
	ArenaExtendStrategy string `mapstructure:"arena_extend_strategy"  json:"arena_extend_strategy"  yaml:"arena_extend_strategy"`
	CUDNNConvAlgoSearch string `mapstructure:"cudnn_conv_algo_search" json:"cudnn_conv_algo_search" yaml:"cudnn_conv_algo_search"`
}

// DefaultGPUConfig returns a CPU-only configuration.
func DefaultGPUConfig() GPUConfig {
	return GPUConfig{
		ArenaExtendStrategy: "kNextPowerOfTwo",
		CUDNNConvAlgoSearch: "DEFAULT",
	}
}

// Validate checks the CUDA settings when GPU execution is enabled.
func (g GPUConfig) Validate() error {
	if !g.Enabled {
		return nil
	}
	if g.DeviceID < 0 {
		return fmt.Errorf("device ID must be non-negative, got %d", g.DeviceID)
	}
	switch g.ArenaExtendStrategy {
	case "", "kNextPowerOfTwo", "kSameAsRequested":
	default:
		return fmt.Errorf("invalid arena extend strategy: %s", g.ArenaExtendStrategy)
	}
	switch g.CUDNNConvAlgoSearch {
	case "", "EXHAUSTIVE", "HEURISTIC", "DEFAULT":
	default:
		return fmt.Errorf("invalid CUDNN conv algo search: %s", g.CUDNNConvAlgoSearch)
	}
	return nil
}

// cudaSettings renders the provider options map.
func (g GPUConfig) cudaSettings() map[string]string {
	s := map[string]string{
		"device_id":                 strconv.Itoa(g.DeviceID),
		"do_copy_in_default_stream": "1",
	}
	if g.MemLimit > 0 {
		s["gpu_mem_limit"] = strconv.FormatUint(g.MemLimit, 10)
	}
	if g.ArenaExtendStrategy != "" {
		s["arena_extend_strategy"] = g.ArenaExtendStrategy
	}
	if g.CUDNNConvAlgoSearch != "" {
		s["cudnn_conv_algo_search"] = g.CUDNNConvAlgoSearch
	}
	return s
}

// configureGPU appends the CUDA execution provider to opts.
func configureGPU(opts *onnxruntime_go.SessionOptions, g GPUConfig) error {
	if !g.Enabled {
		return nil
	}
	cudaOpts, err := onnxruntime_go.NewCUDAProviderOptions()
	if err != nil {
		return fmt.Errorf("failed to create CUDA provider options (GPU may not be available): %w", err)
	}
	defer func() {
		if err := cudaOpts.Destroy(); err != nil {
			slog.Warn("failed to destroy CUDA provider options", "error", err)
		}
	}()
	if err := cudaOpts.Update(g.cudaSettings()); err != nil {
		return fmt.Errorf("failed to update CUDA provider options: %w", err)
	}
	if err := opts.AppendExecutionProviderCUDA(cudaOpts); err != nil {
		return fmt.Errorf("failed to append CUDA execution provider: %w", err)
	}
	return nil
}

// libraryName returns the shared library filename for the current OS.
func libraryName() (string, error) {
	switch runtime.GOOS {
	case "linux":
		return "libonnxruntime.so", nil
	case "darwin":
		return "libonnxruntime.dylib", nil
	case "windows":
		return "onnxruntime.dll", nil
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}
}

// libraryCandidates lists the locations searched for the runtime library,
// explicit path first.
func libraryCandidates(explicit string, useGPU bool) []string {
	var out []string
	if explicit != "" {
		out = append(out, explicit)
	}
	if env := os.Getenv("ONNXRUNTIME_LIB"); env != "" {
		out = append(out, env)
	}
	name, err := libraryName()
	if err != nil {
		return out
	}
	if useGPU {
		out = append(out, filepath.Join("/opt/onnxruntime/gpu/lib", name))
	}
	return append(out,
		filepath.Join("/usr/local/lib", name),
		filepath.Join("/usr/lib", name),
		filepath.Join("/opt/onnxruntime/cpu/lib", name),
		filepath.Join("onnxruntime", "lib", name),
	)
}

// findLibrary returns the first existing candidate.
func findLibrary(explicit string, useGPU bool) (string, error) {
	candidates := libraryCandidates(explicit, useGPU)
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("ONNX Runtime library not found (tried %v)", candidates)
}
