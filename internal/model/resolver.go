package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/MeKo-Tech/textpipe/internal/arch"
	"github.com/MeKo-Tech/textpipe/internal/fast"
	"github.com/MeKo-Tech/textpipe/internal/onnx"
)

// Spec describes the model a predictor needs. Exactly one of Arch and
// Instance is used; Instance wins when both are set.
type Spec struct {
	Arch                string
	Instance            *Model
	Task                arch.Task
	Pretrained          bool
	AssumeStraightPages bool
	Overrides           Overrides
}

// ResolverConfig configures weight lookup and runtime sessions.
type ResolverConfig struct {
	Weights   WeightLoader
	Session   onnx.SessionConfig
	CacheSize int
	// Open creates the runner for an ONNX file. Nil uses ONNX Runtime.
	Open func(cfg onnx.SessionConfig) (Runner, error)
}

// Resolver builds models from a registry.
type Resolver struct {
	registry *arch.Registry
	weights  *WeightLoader
	session  onnx.SessionConfig
	cache    *Cache

	mu       sync.Mutex
	building map[cacheKey]*sync.Mutex

	openSession func(cfg onnx.SessionConfig) (Runner, error)
}

// NewResolver returns a resolver over reg. A positive CacheSize keeps that
// many built models and shares their runners between builds.
func NewResolver(reg *arch.Registry, cfg ResolverConfig) (*Resolver, error) {
	if reg == nil {
		return nil, errors.New("registry is nil")
	}
	r := &Resolver{
		registry:    reg,
		weights:     &cfg.Weights,
		session:     cfg.Session,
		openSession: cfg.Open,
		building:    make(map[cacheKey]*sync.Mutex),
	}
	if r.openSession == nil {
		r.openSession = func(c onnx.SessionConfig) (Runner, error) {
			return onnx.NewSession(c)
		}
	}
	if cfg.CacheSize > 0 {
		c, err := NewCache(cfg.CacheSize)
		if err != nil {
			return nil, err
		}
		r.cache = c
	}
	return r, nil
}

// Registry returns the registry names are resolved against.
func (r *Resolver) Registry() *arch.Registry { return r.registry }

// Close evicts every cached model. Models still held by callers stay
// usable until they are closed.
func (r *Resolver) Close() {
	if r.cache != nil {
		r.cache.Purge()
	}
}

// Build resolves spec into a model bound to the requested
// assume-straight-pages flag and the merged predictor configuration. The
// caller closes the returned model. A caller-supplied instance is never
// modified; the returned copy borrows its runner and does not close it.
func (r *Resolver) Build(ctx context.Context, spec Spec) (*Model, PredictorConfig, error) {
	var base *Model
	if spec.Instance != nil {
		if !supports(spec.Instance.Family(), spec.Task) {
			return nil, PredictorConfig{}, &UnsupportedModelTypeError{Family: spec.Instance.Family(), Task: spec.Task}
		}
		cp := *spec.Instance
		if cp.runner != nil {
			cp.runner = borrowed{cp.runner}
		}
		base = &cp
	} else {
		if spec.Arch == "" {
			return nil, PredictorConfig{}, ErrNilModel
		}
		desc, err := r.registry.Resolve(spec.Arch)
		if err != nil {
			return nil, PredictorConfig{}, err
		}
		if desc.Task != spec.Task {
			return nil, PredictorConfig{}, &arch.UnknownArchitectureError{Name: spec.Arch, Backend: r.registry.Backend()}
		}
		base, err = r.fromName(ctx, desc, spec.Pretrained)
		if err != nil {
			return nil, PredictorConfig{}, err
		}
	}

	m := base.WithAssumeStraightPages(spec.AssumeStraightPages)
	return m, ResolveConfig(m, spec.Overrides), nil
}

func (r *Resolver) fromName(ctx context.Context, desc arch.Descriptor, pretrained bool) (*Model, error) {
	key := cacheKey{name: desc.Name, backend: r.registry.Backend(), pretrained: pretrained}
	if r.cache != nil {
		unlock := r.lockKey(key)
		defer unlock()
		if m, ok := r.cache.Get(key); ok {
			return m, nil
		}
	}

	start := time.Now()
	runner, err := r.construct(ctx, desc, pretrained)
	if err != nil {
		return nil, err
	}
	m := &Model{desc: desc, backend: r.registry.Backend(), assumeStraight: true, pretrained: pretrained, runner: runner}
	if desc.Family == arch.FamilyFAST {
		m = Reparameterize(m)
	}
	slog.Info("model built", "arch", desc.Name, "family", desc.Family.String(), "pretrained", pretrained,
		"reparameterized", m.reparameterized, "duration_ms", time.Since(start).Milliseconds())

	if r.cache != nil {
		leased, err := r.cache.Add(key, m)
		if err != nil {
			_ = m.Close()
			return nil, err
		}
		return leased, nil
	}
	return m, nil
}

// lockKey serializes builds of one cache key so concurrent misses open a
// single session.
func (r *Resolver) lockKey(key cacheKey) func() {
	r.mu.Lock()
	mu, ok := r.building[key]
	if !ok {
		mu = &sync.Mutex{}
		r.building[key] = mu
	}
	r.mu.Unlock()
	mu.Lock()
	return mu.Unlock
}

// construct creates the runner: pretrained weights through the loader, a
// native FAST network for untrained FAST models, or a local ONNX export.
func (r *Resolver) construct(ctx context.Context, desc arch.Descriptor, pretrained bool) (Runner, error) {
	layout := onnx.NCHW
	if r.registry.Backend().ChannelsLast() {
		layout = onnx.NHWC
	}

	if pretrained {
		path, err := r.weights.Fetch(ctx, desc)
		if err != nil {
			return nil, err
		}
		return r.open(path)
	}

	if backbone, ok := arch.BackboneOf(desc.Name); ok {
		net, err := fast.NewTextNet(backbone)
		if err != nil {
			return nil, fmt.Errorf("build %s: %w", desc.Name, err)
		}
		net.Layout = layout
		return net, nil
	}

	path := r.weights.Path(desc)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%s has no native implementation and no local export at %s: %w", desc.Name, path, err)
	}
	return r.open(path)
}

func (r *Resolver) open(path string) (Runner, error) {
	cfg := r.session
	cfg.ModelPath = path
	runner, err := r.openSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return runner, nil
}
