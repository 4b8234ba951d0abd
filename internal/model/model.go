// Package model resolves architecture names or caller-built instances
// into ready-to-run models and the predictor configuration derived from
// them.
package model

import (
	"context"
	"errors"
	"fmt"

	"github.com/MeKo-Tech/textpipe/internal/arch"
	"github.com/MeKo-Tech/textpipe/internal/fast"
	"github.com/MeKo-Tech/textpipe/internal/onnx"
)

// Runner executes one forward pass over a batch tensor.
type Runner interface {
	Run(ctx context.Context, in onnx.Tensor) (onnx.Tensor, error)
	Close() error
}

// RunnerFunc adapts a function to Runner. Close is a no-op.
type RunnerFunc func(ctx context.Context, in onnx.Tensor) (onnx.Tensor, error)

func (f RunnerFunc) Run(ctx context.Context, in onnx.Tensor) (onnx.Tensor, error) { return f(ctx, in) }
func (f RunnerFunc) Close() error                                                 { return nil }

// ErrNilModel is returned when a nil instance is passed to Build.
var ErrNilModel = errors.New("model instance is nil")

// UnsupportedModelTypeError is returned for instances whose family cannot
// serve the requested task.
type UnsupportedModelTypeError struct {
	Family arch.Family
	Task   arch.Task
}

func (e *UnsupportedModelTypeError) Error() string {
	return fmt.Sprintf("unknown architecture: %s models cannot be used for %s", e.Family, e.Task)
}

// Model is an immutable handle on a runnable network and its
// configuration. Copies made with the With methods share the runner.
type Model struct {
	desc            arch.Descriptor
	backend         arch.Backend
	assumeStraight  bool
	reparameterized bool
	pretrained      bool
	runner          Runner
}

// New wraps a caller-built runner. The descriptor's family decides which
// tasks the model may serve.
func New(desc arch.Descriptor, backend arch.Backend, runner Runner) *Model {
	return &Model{desc: desc, backend: backend, assumeStraight: true, runner: runner}
}

func (m *Model) Descriptor() arch.Descriptor { return m.desc }
func (m *Model) Name() arch.Name             { return m.desc.Name }
func (m *Model) Family() arch.Family         { return m.desc.Family }
func (m *Model) Config() arch.Config         { return m.desc.Config }
func (m *Model) Backend() arch.Backend       { return m.backend }
func (m *Model) AssumeStraightPages() bool   { return m.assumeStraight }
func (m *Model) Reparameterized() bool       { return m.reparameterized }
func (m *Model) Pretrained() bool            { return m.pretrained }

// Layout is the tensor layout the runner expects.
func (m *Model) Layout() onnx.Layout {
	if m.backend.ChannelsLast() {
		return onnx.NHWC
	}
	return onnx.NCHW
}

// InputSize returns the (height, width) the model expects.
func (m *Model) InputSize() [2]int {
	h, w := m.desc.Config.InputShape.Spatial(m.backend)
	return [2]int{h, w}
}

// Run forwards a batch through the runner.
func (m *Model) Run(ctx context.Context, in onnx.Tensor) (onnx.Tensor, error) {
	if m.runner == nil {
		return onnx.Tensor{}, fmt.Errorf("model %s has no runner", m.desc.Name)
	}
	return m.runner.Run(ctx, in)
}

// Close releases the runner.
func (m *Model) Close() error {
	if m.runner == nil {
		return nil
	}
	return m.runner.Close()
}

// WithAssumeStraightPages returns a copy with the flag set.
func (m *Model) WithAssumeStraightPages(v bool) *Model {
	cp := *m
	cp.assumeStraight = v
	return &cp
}

// Reparameterize returns a copy of a FAST model whose multi-branch blocks
// are folded into single convolutions. Other families and already fused
// models are returned as equal copies. Exported ONNX graphs are assumed
// to be fused at export time and are only marked.
func Reparameterize(m *Model) *Model {
	cp := *m
	if m.desc.Family != arch.FamilyFAST || m.reparameterized {
		return &cp
	}
	if net, ok := m.runner.(*fast.Network); ok {
		cp.runner = fast.Reparameterize(net)
	}
	cp.reparameterized = true
	return &cp
}

// supports reports whether family f can serve task.
func supports(f arch.Family, task arch.Task) bool {
	if task == arch.TaskDetection {
		switch f {
		case arch.FamilyDBNet, arch.FamilyLinkNet, arch.FamilyFAST:
			return true
		}
		return false
	}
	switch f {
	case arch.FamilyCRNN, arch.FamilySAR, arch.FamilyMASTER, arch.FamilyViTSTR, arch.FamilyPARSeq:
		return true
	}
	return false
}

// Overrides are caller-supplied predictor settings. Zero values fall back
// to the model configuration.
type Overrides struct {
	Mean      *[3]float64
	Std       *[3]float64
	BatchSize int
}

// PredictorConfig is the resolved preprocessing configuration bound to a
// predictor.
type PredictorConfig struct {
	Mean      [3]float64
	Std       [3]float64
	BatchSize int
	InputSize [2]int
	Layout    onnx.Layout
}

// ResolveConfig merges overrides over the model config. Precedence:
// override, then model cfg, then the task default batch size.
func ResolveConfig(m *Model, o Overrides) PredictorConfig {
	cfg := m.Config()
	pc := PredictorConfig{
		Mean:      cfg.Mean,
		Std:       cfg.Std,
		BatchSize: defaultBatchSize(m.desc.Task),
		InputSize: m.InputSize(),
		Layout:    m.Layout(),
	}
	if cfg.BatchSize > 0 {
		pc.BatchSize = cfg.BatchSize
	}
	if o.Mean != nil {
		pc.Mean = *o.Mean
	}
	if o.Std != nil {
		pc.Std = *o.Std
	}
	if o.BatchSize > 0 {
		pc.BatchSize = o.BatchSize
	}
	return pc
}

func defaultBatchSize(t arch.Task) int {
	if t == arch.TaskRecognition {
		return arch.DefaultRecognitionBatchSize
	}
	return arch.DefaultDetectionBatchSize
}
