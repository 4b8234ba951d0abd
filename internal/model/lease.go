package model

import (
	"context"
	"errors"
	"sync"

	"github.com/MeKo-Tech/textpipe/internal/onnx"
)

// errRunnerClosed is returned when a shared runner is leased after it was
// evicted and closed.
var errRunnerClosed = errors.New("shared runner is closed")

// sharedRunner is a cached runner used by several models at once. It is
// closed once it has been evicted and the last lease is returned.
type sharedRunner struct {
	runner Runner

	mu      sync.Mutex
	leases  int
	evicted bool
	closed  bool
}

func newSharedRunner(r Runner) *sharedRunner {
	return &sharedRunner{runner: r}
}

// lease hands out a runner whose Close returns the lease.
func (s *sharedRunner) lease() (*lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errRunnerClosed
	}
	s.leases++
	return &lease{shared: s}, nil
}

func (s *sharedRunner) release() error {
	s.mu.Lock()
	s.leases--
	closeNow := s.evicted && s.leases == 0 && !s.closed
	if closeNow {
		s.closed = true
	}
	s.mu.Unlock()
	if closeNow {
		return s.runner.Close()
	}
	return nil
}

// evict marks the runner as dropped from the cache and closes it when no
// leases are out.
func (s *sharedRunner) evict() error {
	s.mu.Lock()
	s.evicted = true
	closeNow := s.leases == 0 && !s.closed
	if closeNow {
		s.closed = true
	}
	s.mu.Unlock()
	if closeNow {
		return s.runner.Close()
	}
	return nil
}

// lease is one holder's view of a shared runner.
type lease struct {
	shared *sharedRunner
	once   sync.Once
}

func (l *lease) Run(ctx context.Context, in onnx.Tensor) (onnx.Tensor, error) {
	return l.shared.runner.Run(ctx, in)
}

// Close returns the lease. Repeated calls are no-ops.
func (l *lease) Close() error {
	var err error
	l.once.Do(func() { err = l.shared.release() })
	return err
}

// borrowed wraps a runner owned by someone else. Close does nothing.
type borrowed struct {
	Runner
}

func (borrowed) Close() error { return nil }
