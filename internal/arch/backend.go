package arch

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Backend selects which registry is active and the tensor layout the
// exported models expect.
type Backend int

const (
	// BackendTensorFlow models take NHWC input.
	BackendTensorFlow Backend = iota
	// BackendPyTorch models take NCHW input.
	BackendPyTorch
)

func (b Backend) String() string {
	switch b {
	case BackendTensorFlow:
		return "tensorflow"
	case BackendPyTorch:
		return "pytorch"
	default:
		return fmt.Sprintf("backend(%d)", int(b))
	}
}

// ChannelsLast reports whether the backend expects NHWC tensors.
func (b Backend) ChannelsLast() bool {
	return b == BackendTensorFlow
}

// ParseBackend accepts "tensorflow"/"tf" and "pytorch"/"torch".
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "tensorflow", "tf":
		return BackendTensorFlow, nil
	case "pytorch", "torch":
		return BackendPyTorch, nil
	}
	return 0, fmt.Errorf("unknown backend %q", s)
}

// ErrBackendLocked is returned when the backend is changed after the
// registry has been used.
var ErrBackendLocked = errors.New("backend already selected for this process")

var active = struct {
	mu     sync.Mutex
	locked bool
	reg    *Registry
}{}

// SetBackend selects the process-wide registry. It must be called before
// the first lookup; selecting the already active backend again is a no-op.
func SetBackend(b Backend) error {
	if b != BackendTensorFlow && b != BackendPyTorch {
		return fmt.Errorf("unknown backend %d", int(b))
	}
	active.mu.Lock()
	defer active.mu.Unlock()
	if active.locked {
		if active.reg.Backend() == b {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrBackendLocked, active.reg.Backend())
	}
	active.reg = newRegistry(b)
	active.locked = true
	return nil
}

// Active returns the process registry, locking in the TensorFlow backend
// if none was selected.
func Active() *Registry {
	active.mu.Lock()
	defer active.mu.Unlock()
	if !active.locked {
		active.reg = newRegistry(BackendTensorFlow)
		active.locked = true
	}
	return active.reg
}

// Resolve looks name up in the active registry.
func Resolve(name string) (Descriptor, error) {
	return Active().Resolve(name)
}
