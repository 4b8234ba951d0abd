package arch

import (
	"slices"
	"strings"
)

var (
	detectionMean = [3]float64{0.798, 0.785, 0.772}
	detectionStd  = [3]float64{0.264, 0.2749, 0.287}

	recognitionMean = [3]float64{0.694, 0.695, 0.693}
	recognitionStd  = [3]float64{0.299, 0.296, 0.301}
)

const (
	DefaultDetectionBatchSize   = 2
	DefaultRecognitionBatchSize = 128
)

type entry struct {
	name   Name
	family Family
}

// Detection architectures available under each backend. The two lists are
// built into separate registries; only one is active per process.
var (
	tensorflowDetection = []entry{
		{"db_resnet50", FamilyDBNet},
		{"db_mobilenet_v3_large", FamilyDBNet},
		{"linknet_resnet18", FamilyLinkNet},
		{"linknet_resnet34", FamilyLinkNet},
		{"linknet_resnet50", FamilyLinkNet},
		{"fast_tiny", FamilyFAST},
		{"fast_small", FamilyFAST},
		{"fast_base", FamilyFAST},
	}
	pytorchDetection = append([]entry{{"db_resnet34", FamilyDBNet}}, tensorflowDetection...)

	recognition = []entry{
		{"crnn_vgg16_bn", FamilyCRNN},
		{"crnn_mobilenet_v3_small", FamilyCRNN},
		{"crnn_mobilenet_v3_large", FamilyCRNN},
		{"sar_resnet31", FamilySAR},
		{"master", FamilyMASTER},
		{"vitstr_small", FamilyViTSTR},
		{"vitstr_base", FamilyViTSTR},
		{"parseq", FamilyPARSeq},
	}
)

// Registry is an immutable name to descriptor table for one backend.
type Registry struct {
	backend Backend
	byName  map[Name]Descriptor
}

func newRegistry(b Backend) *Registry {
	r := &Registry{backend: b, byName: make(map[Name]Descriptor)}
	det := tensorflowDetection
	if b == BackendPyTorch {
		det = pytorchDetection
	}
	for _, e := range det {
		r.byName[e.name] = Descriptor{
			Name:   e.name,
			Family: e.family,
			Task:   TaskDetection,
			Config: Config{
				Mean:       detectionMean,
				Std:        detectionStd,
				InputShape: Shape{H: 1024, W: 1024, C: 3},
				BatchSize:  DefaultDetectionBatchSize,
				URL:        string(e.name) + ".onnx",
			},
		}
	}
	for _, e := range recognition {
		r.byName[e.name] = Descriptor{
			Name:   e.name,
			Family: e.family,
			Task:   TaskRecognition,
			Config: Config{
				Mean:       recognitionMean,
				Std:        recognitionStd,
				InputShape: Shape{H: 32, W: 128, C: 3},
				BatchSize:  DefaultRecognitionBatchSize,
				URL:        string(e.name) + ".onnx",
				Vocab:      "french",
			},
		}
	}
	return r
}

// NewRegistry builds a standalone registry for b. Most callers should use
// Active; this exists for tooling that inspects both tables.
func NewRegistry(b Backend) *Registry {
	return newRegistry(b)
}

// Backend returns the backend this registry was built for.
func (r *Registry) Backend() Backend {
	return r.backend
}

// Resolve returns the descriptor registered under name.
func (r *Registry) Resolve(name string) (Descriptor, error) {
	d, ok := r.byName[Name(strings.TrimSpace(name))]
	if !ok {
		return Descriptor{}, &UnknownArchitectureError{Name: name, Backend: r.backend}
	}
	return d, nil
}

// Names lists the registered names for a task in sorted order.
func (r *Registry) Names(task Task) []Name {
	out := make([]Name, 0, len(r.byName))
	for n, d := range r.byName {
		if d.Task == task {
			out = append(out, n)
		}
	}
	slices.Sort(out)
	return out
}

// Descriptors returns all descriptors for a task in name order.
func (r *Registry) Descriptors(task Task) []Descriptor {
	names := r.Names(task)
	out := make([]Descriptor, len(names))
	for i, n := range names {
		out[i] = r.byName[n]
	}
	return out
}

// Dims returns the input shape in the backend's native order: HWC for
// TensorFlow, CHW for PyTorch.
func (s Shape) Dims(b Backend) []int {
	if b == BackendPyTorch {
		return []int{s.C, s.H, s.W}
	}
	return []int{s.H, s.W, s.C}
}

// Spatial extracts the (height, width) pair from the native dims, dropping
// the trailing channel for TensorFlow and the leading one for PyTorch.
func (s Shape) Spatial(b Backend) (int, int) {
	d := s.Dims(b)
	if b == BackendPyTorch {
		d = d[1:]
	} else {
		d = d[:len(d)-1]
	}
	return d[0], d[1]
}
