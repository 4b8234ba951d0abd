package onnx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/yalue/onnxruntime_go"
)

// SessionConfig configures an inference session.
type SessionConfig struct {
	ModelPath   string
	LibraryPath string
	NumThreads  int
	GPU         GPUConfig
}

var envOnce struct {
	sync.Mutex
	done bool
}

// initEnvironment loads the runtime library once per process.
func initEnvironment(libraryPath string, useGPU bool) error {
	envOnce.Lock()
	defer envOnce.Unlock()
	if envOnce.done || onnxruntime_go.IsInitialized() {
		envOnce.done = true
		return nil
	}
	lib, err := findLibrary(libraryPath, useGPU)
	if err != nil {
		return err
	}
	onnxruntime_go.SetSharedLibraryPath(lib)
	if err := onnxruntime_go.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}
	slog.Debug("onnx runtime initialized", "library", lib)
	envOnce.done = true
	return nil
}

// Session runs a single-input single-output ONNX graph.
type Session struct {
	mu      sync.Mutex
	session *onnxruntime_go.DynamicAdvancedSession
	input   string
	output  string
	path    string
}

// NewSession loads the model at cfg.ModelPath.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("model path is empty")
	}
	if err := cfg.GPU.Validate(); err != nil {
		return nil, fmt.Errorf("invalid GPU config: %w", err)
	}
	if err := initEnvironment(cfg.LibraryPath, cfg.GPU.Enabled); err != nil {
		return nil, err
	}

	inputs, outputs, err := onnxruntime_go.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read model io info: %w", err)
	}
	if len(inputs) != 1 || len(outputs) < 1 {
		return nil, fmt.Errorf("expected 1 input and at least 1 output, got %d/%d", len(inputs), len(outputs))
	}

	opts, err := onnxruntime_go.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer func() {
		if err := opts.Destroy(); err != nil {
			slog.Warn("failed to destroy session options", "error", err)
		}
	}()
	if err := configureGPU(opts, cfg.GPU); err != nil {
		return nil, fmt.Errorf("failed to configure GPU: %w", err)
	}
	if cfg.NumThreads > 0 {
		if err := opts.SetIntraOpNumThreads(cfg.NumThreads); err != nil {
			return nil, fmt.Errorf("failed to set thread count: %w", err)
		}
	}

	s, err := onnxruntime_go.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{inputs[0].Name}, []string{outputs[0].Name}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return &Session{session: s, input: inputs[0].Name, output: outputs[0].Name, path: cfg.ModelPath}, nil
}

// Run executes one forward pass. The runtime call itself is not
// interruptible; ctx is checked before it starts.
func (s *Session) Run(ctx context.Context, in Tensor) (Tensor, error) {
	if err := ctx.Err(); err != nil {
		return Tensor{}, err
	}
	if err := in.Validate(); err != nil {
		return Tensor{}, fmt.Errorf("invalid tensor: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return Tensor{}, errors.New("session is closed")
	}

	input, err := onnxruntime_go.NewTensor(onnxruntime_go.NewShape(in.Shape...), in.Data)
	if err != nil {
		return Tensor{}, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer func() {
		if err := input.Destroy(); err != nil {
			slog.Warn("failed to destroy input tensor", "error", err)
		}
	}()

	start := time.Now()
	outputs := []onnxruntime_go.Value{nil}
	if err := s.session.Run([]onnxruntime_go.Value{input}, outputs); err != nil {
		return Tensor{}, fmt.Errorf("inference failed: %w", err)
	}
	defer func() {
		if err := outputs[0].Destroy(); err != nil {
			slog.Warn("failed to destroy output tensor", "error", err)
		}
	}()

	ft, ok := outputs[0].(*onnxruntime_go.Tensor[float32])
	if !ok {
		return Tensor{}, fmt.Errorf("expected float32 tensor, got %T", outputs[0])
	}
	data := ft.GetData()
	out := Tensor{Data: make([]float32, len(data)), Shape: append([]int64(nil), ft.GetShape()...)}
	copy(out.Data, data)

	slog.Debug("onnx forward pass", "model", s.path, "input_shape", in.Shape,
		"output_shape", out.Shape, "duration_ms", time.Since(start).Milliseconds())
	return out, nil
}

// Close releases the runtime session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	return err
}
