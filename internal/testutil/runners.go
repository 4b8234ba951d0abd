package testutil

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/MeKo-Tech/textpipe/internal/arch"
	"github.com/MeKo-Tech/textpipe/internal/model"
	"github.com/MeKo-Tech/textpipe/internal/onnx"
	"github.com/stretchr/testify/require"
)

// DarkDetector returns a detection runner whose probability map is 1
// wherever the red channel of the input, denormalized with mean and std,
// is darker than mid-gray.
func DarkDetector(mean, std [3]float64, layout onnx.Layout) model.RunnerFunc {
	return func(ctx context.Context, in onnx.Tensor) (onnx.Tensor, error) {
		if err := ctx.Err(); err != nil {
			return onnx.Tensor{}, err
		}
		c, h, w, err := in.ImageDims(layout)
		if err != nil {
			return onnx.Tensor{}, err
		}
		n := in.Batch()
		out := onnx.Tensor{Data: make([]float32, n*h*w), Shape: onnx.ImageShape(layout, n, 1, h, w)}
		for b := range n {
			item := in.Data[b*c*h*w : (b+1)*c*h*w]
			for p := range h * w {
				v := item[p]
				if layout == onnx.NHWC {
					v = item[p*c]
				}
				if (float64(v)*std[0]+mean[0])*255 < 128 {
					out.Data[b*h*w+p] = 1
				}
			}
		}
		return out, nil
	}
}

// TextRecognizer returns a recognition runner that decodes every crop to
// text under vocab. CTC runners interleave blanks; attention runners end
// with the end-of-sequence class.
func TextRecognizer(text string, vocab []rune, ctc bool) model.RunnerFunc {
	index := make(map[rune]int, len(vocab))
	for i, r := range vocab {
		index[r] = i
	}
	var classes []int
	special := len(vocab)
	for _, r := range text {
		if i, ok := index[r]; ok {
			classes = append(classes, i)
			if ctc {
				classes = append(classes, special)
			}
		}
	}
	if !ctc {
		classes = append(classes, special)
	}
	steps := max(len(classes), 1)
	width := special + 1
	return func(ctx context.Context, in onnx.Tensor) (onnx.Tensor, error) {
		if err := ctx.Err(); err != nil {
			return onnx.Tensor{}, err
		}
		n := in.Batch()
		out := onnx.Tensor{Data: make([]float32, n*steps*width), Shape: []int64{int64(n), int64(steps), int64(width)}}
		for b := range n {
			for t := range steps {
				c := special
				if t < len(classes) {
					c = classes[t]
				}
				out.Data[(b*steps+t)*width+c] = 10
			}
		}
		return out, nil
	}
}

// ErrSessionClosed is returned by a Session run after Close.
var ErrSessionClosed = errors.New("session is closed")

// Session behaves like an ONNX Runtime session around fn: Run fails once
// the session is closed.
type Session struct {
	fn     model.RunnerFunc
	closed atomic.Bool
}

func (s *Session) Run(ctx context.Context, in onnx.Tensor) (onnx.Tensor, error) {
	if s.closed.Load() {
		return onnx.Tensor{}, ErrSessionClosed
	}
	return s.fn(ctx, in)
}

func (s *Session) Close() error {
	s.closed.Store(true)
	return nil
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool { return s.closed.Load() }

// Opener returns a resolver Open hook that serves fake runners for the
// architectures of reg, keyed by the ONNX file name.
func Opener(reg *arch.Registry, text string) func(onnx.SessionConfig) (model.Runner, error) {
	layout := onnx.NCHW
	if reg.Backend().ChannelsLast() {
		layout = onnx.NHWC
	}
	return func(cfg onnx.SessionConfig) (model.Runner, error) {
		name := strings.TrimSuffix(filepath.Base(cfg.ModelPath), ".onnx")
		desc, err := reg.Resolve(name)
		if err != nil {
			return nil, err
		}
		if desc.Task == arch.TaskDetection {
			return &Session{fn: DarkDetector(desc.Config.Mean, desc.Config.Std, layout)}, nil
		}
		vocab, err := arch.Vocab(desc.Config.Vocab)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return &Session{fn: TextRecognizer(text, vocab, desc.Family.CTC())}, nil
	}
}

// ModelDir writes an empty ONNX file for every architecture of reg into
// a temporary directory and returns it.
func ModelDir(t testing.TB, reg *arch.Registry) string {
	t.Helper()
	dir := t.TempDir()
	for _, task := range []arch.Task{arch.TaskDetection, arch.TaskRecognition} {
		for _, name := range reg.Names(task) {
			require.NoError(t, os.WriteFile(filepath.Join(dir, string(name)+".onnx"), []byte("onnx"), 0o600))
		}
	}
	return dir
}
