package recognition

import (
	"fmt"
	"math"
	"strings"

	"github.com/MeKo-Tech/textpipe/internal/onnx"
)

// sequence is the decoded text of one crop.
type sequence struct {
	tokens []int
	probs  []float64
}

// stepLogits returns the class scores of every time step of item b from
// an N x T x C or N x C x T output with c classes.
func stepLogits(out onnx.Tensor, b, classes int) ([][]float32, error) {
	if len(out.Shape) != 3 {
		return nil, fmt.Errorf("expected 3D recognition output, got shape %v", out.Shape)
	}
	item, err := out.Item(b)
	if err != nil {
		return nil, err
	}
	d1, d2 := int(out.Shape[1]), int(out.Shape[2])
	switch {
	case d2 == classes:
		steps := make([][]float32, d1)
		for t := range d1 {
			steps[t] = item.Data[t*d2 : (t+1)*d2]
		}
		return steps, nil
	case d1 == classes:
		steps := make([][]float32, d2)
		for t := range d2 {
			s := make([]float32, d1)
			for k := range d1 {
				s[k] = item.Data[k*d2+t]
			}
			steps[t] = s
		}
		return steps, nil
	}
	return nil, fmt.Errorf("recognition output %v does not match %d classes", out.Shape, classes)
}

func argmax(v []float32) int {
	idx := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[idx] {
			idx = i
		}
	}
	return idx
}

// probOf returns the softmax probability of v[idx]. Outputs that already
// are a distribution are read directly.
func probOf(v []float32, idx int) float64 {
	var sum float64
	lo, hi := v[0], v[0]
	for _, x := range v {
		sum += float64(x)
		lo, hi = min(lo, x), max(hi, x)
	}
	if sum > 0.99 && sum < 1.01 && lo >= 0 && hi <= 1 {
		return float64(v[idx])
	}
	var denom float64
	for _, x := range v {
		denom += math.Exp(float64(x - hi))
	}
	return math.Exp(float64(v[idx]-hi)) / denom
}

// decodeCTC collapses repeats and drops the blank class.
func decodeCTC(steps [][]float32, blank int) sequence {
	var s sequence
	prev := -1
	for _, step := range steps {
		idx := argmax(step)
		if idx != blank && idx != prev {
			s.tokens = append(s.tokens, idx)
			s.probs = append(s.probs, probOf(step, idx))
		}
		prev = idx
	}
	return s
}

// decodeAttention emits tokens until the end-of-sequence class.
func decodeAttention(steps [][]float32, eos int) sequence {
	var s sequence
	for _, step := range steps {
		idx := argmax(step)
		if idx >= eos {
			break
		}
		s.tokens = append(s.tokens, idx)
		s.probs = append(s.probs, probOf(step, idx))
	}
	return s
}

// text maps tokens through vocab.
func (s sequence) text(vocab []string) string {
	var sb strings.Builder
	for _, t := range s.tokens {
		if t < len(vocab) {
			sb.WriteString(vocab[t])
		}
	}
	return sb.String()
}

// confidence is the least certain emitted step, 1 for an empty sequence.
func (s sequence) confidence() float64 {
	c := 1.0
	for _, p := range s.probs {
		c = min(c, p)
	}
	return c
}
