package model

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/MeKo-Tech/textpipe/internal/arch"
	"github.com/MeKo-Tech/textpipe/internal/fast"
	"github.com/MeKo-Tech/textpipe/internal/onnx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	path   string
	closed atomic.Bool
}

func (f *fakeRunner) Run(_ context.Context, in onnx.Tensor) (onnx.Tensor, error) { return in, nil }
func (f *fakeRunner) Close() error                                               { f.closed.Store(true); return nil }

func newTestResolver(t *testing.T, dir string, cacheSize int) (*Resolver, *[]*fakeRunner) {
	t.Helper()
	r, err := NewResolver(arch.NewRegistry(arch.BackendTensorFlow), ResolverConfig{
		Weights:   WeightLoader{Dir: dir},
		CacheSize: cacheSize,
	})
	require.NoError(t, err)
	opened := &[]*fakeRunner{}
	r.openSession = func(cfg onnx.SessionConfig) (Runner, error) {
		fr := &fakeRunner{path: cfg.ModelPath}
		*opened = append(*opened, fr)
		return fr, nil
	}
	return r, opened
}

func touch(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".onnx"), []byte("onnx"), 0o600))
}

func TestBuild_ByName(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "db_resnet50")
	r, opened := newTestResolver(t, dir, 0)

	m, cfg, err := r.Build(context.Background(), Spec{
		Arch: "db_resnet50", Task: arch.TaskDetection, Pretrained: true, AssumeStraightPages: false,
	})
	require.NoError(t, err)
	assert.Equal(t, arch.Name("db_resnet50"), m.Name())
	assert.False(t, m.AssumeStraightPages())
	assert.False(t, m.Reparameterized())
	require.Len(t, *opened, 1)
	assert.Equal(t, filepath.Join(dir, "db_resnet50.onnx"), (*opened)[0].path)

	assert.Equal(t, 2, cfg.BatchSize)
	assert.Equal(t, [2]int{1024, 1024}, cfg.InputSize)
	assert.Equal(t, onnx.NHWC, cfg.Layout)
	assert.Equal(t, m.Config().Mean, cfg.Mean)
}

func TestBuild_UnknownArchitecture(t *testing.T) {
	r, opened := newTestResolver(t, t.TempDir(), 0)

	m, _, err := r.Build(context.Background(), Spec{Arch: "not_a_real_model", Task: arch.TaskDetection})
	var unknown *arch.UnknownArchitectureError
	require.ErrorAs(t, err, &unknown)
	assert.Nil(t, m)
	assert.Empty(t, *opened)

	// a recognition name is not a detection architecture
	_, _, err = r.Build(context.Background(), Spec{Arch: "crnn_vgg16_bn", Task: arch.TaskDetection})
	require.ErrorAs(t, err, &unknown)
}

func TestBuild_FASTIsReparameterized(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "fast_tiny")
	r, _ := newTestResolver(t, dir, 0)

	m, _, err := r.Build(context.Background(), Spec{Arch: "fast_tiny", Task: arch.TaskDetection, Pretrained: true})
	require.NoError(t, err)
	assert.Equal(t, arch.FamilyFAST, m.Family())
	assert.True(t, m.Reparameterized())
}

func TestBuild_InstanceIsCopied(t *testing.T) {
	r, _ := newTestResolver(t, t.TempDir(), 0)
	desc, err := r.Registry().Resolve("linknet_resnet18")
	require.NoError(t, err)
	runner := &fakeRunner{}
	inst := New(desc, arch.BackendTensorFlow, runner)
	require.True(t, inst.AssumeStraightPages())

	m, cfg, err := r.Build(context.Background(), Spec{
		Instance: inst, Task: arch.TaskDetection, AssumeStraightPages: false,
		Overrides: Overrides{BatchSize: 7, Mean: &[3]float64{0.1, 0.2, 0.3}},
	})
	require.NoError(t, err)
	assert.False(t, m.AssumeStraightPages())
	assert.True(t, inst.AssumeStraightPages(), "caller instance must not be mutated")
	assert.Equal(t, 7, cfg.BatchSize)
	assert.Equal(t, [3]float64{0.1, 0.2, 0.3}, cfg.Mean)
	assert.Equal(t, desc.Config.Std, cfg.Std)

	require.NoError(t, m.Close())
	assert.False(t, runner.closed.Load(), "closing the copy leaves the caller's runner open")
}

func TestBuild_UnsupportedInstance(t *testing.T) {
	r, _ := newTestResolver(t, t.TempDir(), 0)
	desc, err := r.Registry().Resolve("crnn_vgg16_bn")
	require.NoError(t, err)

	_, _, err = r.Build(context.Background(), Spec{
		Instance: New(desc, arch.BackendTensorFlow, &fakeRunner{}), Task: arch.TaskDetection,
	})
	var unsupported *UnsupportedModelTypeError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, arch.FamilyCRNN, unsupported.Family)

	_, _, err = r.Build(context.Background(), Spec{Task: arch.TaskDetection})
	assert.ErrorIs(t, err, ErrNilModel)
}

func TestBuild_MissingLocalExport(t *testing.T) {
	r, _ := newTestResolver(t, t.TempDir(), 0)
	_, _, err := r.Build(context.Background(), Spec{Arch: "db_resnet50", Task: arch.TaskDetection})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no native implementation")
}

func TestBuild_WeightFailurePropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	r, opened := newTestResolver(t, t.TempDir(), 0)
	r.weights.BaseURL = srv.URL
	r.weights.Download = true

	_, _, err := r.Build(context.Background(), Spec{Arch: "db_resnet50", Task: arch.TaskDetection, Pretrained: true})
	var wErr *WeightLoadError
	require.ErrorAs(t, err, &wErr)
	assert.Equal(t, srv.URL+"/db_resnet50.onnx", wErr.URL)
	assert.Empty(t, *opened, "no fallback to random weights")
}

func TestWeightLoader_Download(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/models/parseq.onnx", r.URL.Path)
		_, _ = w.Write([]byte("weights"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	wl := WeightLoader{Dir: dir, BaseURL: srv.URL + "/models/", Download: true}
	desc, err := arch.NewRegistry(arch.BackendPyTorch).Resolve("parseq")
	require.NoError(t, err)

	path, err := wl.Fetch(context.Background(), desc)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "weights", string(data))

	_, err = wl.Fetch(context.Background(), desc)
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load(), "second fetch uses the local file")
}

func TestWeightLoader_Disabled(t *testing.T) {
	wl := WeightLoader{Dir: t.TempDir(), BaseURL: "http://127.0.0.1:1"}
	desc, err := arch.NewRegistry(arch.BackendTensorFlow).Resolve("master")
	require.NoError(t, err)
	_, err = wl.Fetch(context.Background(), desc)
	var wErr *WeightLoadError
	require.ErrorAs(t, err, &wErr)
	assert.Contains(t, err.Error(), "downloads are disabled")

	abs := desc
	abs.Config.URL = "https://example.com/x.onnx"
	u, err := wl.URL(abs)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/x.onnx", u)

	_, err = (&WeightLoader{}).URL(desc)
	assert.Error(t, err)
}

func TestResolver_CacheSharesRunner(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "db_resnet50")
	r, opened := newTestResolver(t, dir, 2)
	ctx := context.Background()

	a, _, err := r.Build(ctx, Spec{Arch: "db_resnet50", Task: arch.TaskDetection, Pretrained: true, AssumeStraightPages: true})
	require.NoError(t, err)
	b, _, err := r.Build(ctx, Spec{Arch: "db_resnet50", Task: arch.TaskDetection, Pretrained: true, AssumeStraightPages: false})
	require.NoError(t, err)
	assert.Len(t, *opened, 1, "second build is served from the cache")
	assert.True(t, a.AssumeStraightPages())
	assert.False(t, b.AssumeStraightPages())

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	require.NoError(t, b.Close())
	assert.False(t, (*opened)[0].closed.Load(), "cached runner stays open while cached")

	r.Close()
	assert.True(t, (*opened)[0].closed.Load())
}

func TestResolver_EvictionWaitsForHolders(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"db_resnet50", "crnn_vgg16_bn"} {
		touch(t, dir, n)
	}
	r, opened := newTestResolver(t, dir, 1)
	ctx := context.Background()

	det, _, err := r.Build(ctx, Spec{Arch: "db_resnet50", Task: arch.TaskDetection, Pretrained: true})
	require.NoError(t, err)
	reco, _, err := r.Build(ctx, Spec{Arch: "crnn_vgg16_bn", Task: arch.TaskRecognition, Pretrained: true})
	require.NoError(t, err)
	require.Len(t, *opened, 2)

	assert.False(t, (*opened)[0].closed.Load(), "evicted runner is still held")
	_, err = det.Run(ctx, onnx.Tensor{Data: []float32{1}, Shape: []int64{1}})
	require.NoError(t, err)

	require.NoError(t, det.Close())
	assert.True(t, (*opened)[0].closed.Load(), "last holder closes the evicted runner")

	require.NoError(t, reco.Close())
	assert.False(t, (*opened)[1].closed.Load())
	r.Close()
	assert.True(t, (*opened)[1].closed.Load())
}

func TestResolver_RebuildsAfterEviction(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"db_resnet50", "linknet_resnet18"} {
		touch(t, dir, n)
	}
	r, opened := newTestResolver(t, dir, 1)
	ctx := context.Background()
	build := func(name string) *Model {
		m, _, err := r.Build(ctx, Spec{Arch: name, Task: arch.TaskDetection, Pretrained: true})
		require.NoError(t, err)
		return m
	}

	require.NoError(t, build("db_resnet50").Close())
	require.NoError(t, build("linknet_resnet18").Close())
	assert.True(t, (*opened)[0].closed.Load())

	m := build("db_resnet50")
	require.Len(t, *opened, 3)
	assert.False(t, (*opened)[2].closed.Load())
	require.NoError(t, m.Close())
	r.Close()
}

func TestResolver_ConcurrentMissesOpenOnce(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "db_resnet50")
	r, err := NewResolver(arch.NewRegistry(arch.BackendTensorFlow), ResolverConfig{
		Weights:   WeightLoader{Dir: dir},
		CacheSize: 2,
	})
	require.NoError(t, err)
	var opens atomic.Int32
	r.openSession = func(cfg onnx.SessionConfig) (Runner, error) {
		opens.Add(1)
		return &fakeRunner{path: cfg.ModelPath}, nil
	}

	var wg sync.WaitGroup
	models := make([]*Model, 8)
	for i := range models {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, _, err := r.Build(context.Background(), Spec{Arch: "db_resnet50", Task: arch.TaskDetection, Pretrained: true})
			assert.NoError(t, err)
			models[i] = m
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), opens.Load())
	for _, m := range models {
		if m != nil {
			require.NoError(t, m.Close())
		}
	}
	r.Close()
}

func TestReparameterize_NativeNetwork(t *testing.T) {
	net, err := fast.Build(3, 4, []fast.Stage{
		{InChannels: []int{4}, OutChannels: []int{4}, Kernels: []fast.Kernel{{3, 3}}, Strides: []int{1}},
	})
	require.NoError(t, err)
	net.Init()

	desc, err := arch.NewRegistry(arch.BackendPyTorch).Resolve("fast_small")
	require.NoError(t, err)
	m := New(desc, arch.BackendPyTorch, net)

	once := Reparameterize(m)
	twice := Reparameterize(once)
	assert.False(t, m.Reparameterized())
	assert.True(t, once.Reparameterized())
	assert.Same(t, once.runner, twice.runner)

	in := onnx.Tensor{Data: make([]float32, 3*8*8), Shape: []int64{1, 3, 8, 8}}
	for i := range in.Data {
		in.Data[i] = float32(i%5) / 5
	}
	a, err := m.Run(context.Background(), in)
	require.NoError(t, err)
	b, err := twice.Run(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, b.Data, len(a.Data))
	for i := range a.Data {
		assert.InDelta(t, a.Data[i], b.Data[i], 1e-4)
	}

	// non-FAST models pass through
	crnn, err := arch.NewRegistry(arch.BackendPyTorch).Resolve("crnn_vgg16_bn")
	require.NoError(t, err)
	assert.False(t, Reparameterize(New(crnn, arch.BackendPyTorch, nil)).Reparameterized())
}

func TestModel_RunWithoutRunner(t *testing.T) {
	desc, err := arch.NewRegistry(arch.BackendTensorFlow).Resolve("db_resnet50")
	require.NoError(t, err)
	_, err = New(desc, arch.BackendTensorFlow, nil).Run(context.Background(), onnx.Tensor{})
	assert.Error(t, err)
	assert.NoError(t, New(desc, arch.BackendTensorFlow, nil).Close())
	assert.False(t, errors.Is(err, ErrNilModel))
}
