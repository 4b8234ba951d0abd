package recognition

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/textpipe/internal/arch"
	"github.com/MeKo-Tech/textpipe/internal/geometry"
	"github.com/MeKo-Tech/textpipe/internal/model"
	"github.com/MeKo-Tech/textpipe/internal/onnx"
	"github.com/MeKo-Tech/textpipe/internal/preprocess"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recoDescriptor(f arch.Family) arch.Descriptor {
	return arch.Descriptor{
		Name:   "test_reco",
		Family: f,
		Task:   arch.TaskRecognition,
		Config: arch.Config{
			Mean:       [3]float64{0.5, 0.5, 0.5},
			Std:        [3]float64{0.5, 0.5, 0.5},
			InputShape: arch.Shape{H: 8, W: 32, C: 3},
			BatchSize:  4,
			Vocab:      "latin",
		},
	}
}

// logits builds N x T x C scores with a strong peak at each listed class.
func logits(classes int, seqs ...[]int) onnx.Tensor {
	steps := 0
	for _, s := range seqs {
		steps = max(steps, len(s))
	}
	out := onnx.Tensor{Data: make([]float32, len(seqs)*steps*classes), Shape: []int64{int64(len(seqs)), int64(steps), int64(classes)}}
	for b, s := range seqs {
		for t, c := range s {
			out.Data[(b*steps+t)*classes+c] = 20
		}
	}
	return out
}

func solid(c uint8, w, h int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c, c, c, 255
	}
	return img
}

func TestDecodeCTC(t *testing.T) {
	const blank = 3
	out := logits(4, []int{0, 0, blank, 0, 1, 1, blank})
	steps, err := stepLogits(out, 0, 4)
	require.NoError(t, err)
	seq := decodeCTC(steps, blank)
	assert.Equal(t, []int{0, 0, 1}, seq.tokens)
	assert.Equal(t, "aab", seq.text([]string{"a", "b", "c"}))
	assert.InDelta(t, 1.0, seq.confidence(), 1e-6)
}

func TestDecodeAttention_StopsAtEOS(t *testing.T) {
	out := logits(4, []int{2, 1, 3, 0})
	steps, err := stepLogits(out, 0, 4)
	require.NoError(t, err)
	seq := decodeAttention(steps, 3)
	assert.Equal(t, "cb", seq.text([]string{"a", "b", "c"}))
}

func TestStepLogits_ClassesFirst(t *testing.T) {
	// N=1, C=3, T=2
	out := onnx.Tensor{Data: []float32{1, 0, 0, 5, 9, 0}, Shape: []int64{1, 3, 2}}
	steps, err := stepLogits(out, 0, 3)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, 2, argmax(steps[0]))
	assert.Equal(t, 1, argmax(steps[1]))

	_, err = stepLogits(out, 0, 7)
	assert.Error(t, err)
}

func TestProbOf(t *testing.T) {
	assert.InDelta(t, 0.7, probOf([]float32{0.2, 0.7, 0.1}, 1), 1e-6)
	assert.InDelta(t, 0.5, probOf([]float32{3, 3}, 0), 1e-9)
}

func TestSequenceConfidence_MinAndEmpty(t *testing.T) {
	assert.Equal(t, 1.0, sequence{}.confidence())
	assert.Equal(t, 0.4, sequence{probs: []float64{0.9, 0.4, 0.8}}.confidence())
}

func TestPredict_OrderAndBatching(t *testing.T) {
	vocab, err := Tokens("latin")
	require.NoError(t, err)
	a, b := 10, 11 // 'a', 'b' after the digits
	blank := len(vocab)

	for _, bs := range []int{1, 2, 8} {
		calls := 0
		runner := model.RunnerFunc(func(_ context.Context, in onnx.Tensor) (onnx.Tensor, error) {
			calls++
			per := 8 * 32 * 3
			seqs := make([][]int, in.Batch())
			for i := range seqs {
				c := b
				if in.Data[i*per] > 0 {
					c = a
				}
				seqs[i] = []int{c, blank, c}
			}
			return logits(blank+1, seqs...), nil
		})
		m := model.New(recoDescriptor(arch.FamilyCRNN), arch.BackendTensorFlow, runner)
		p, err := New(m, Config{Model: model.ResolveConfig(m, model.Overrides{BatchSize: bs})})
		require.NoError(t, err)

		res, err := p.Predict(context.Background(), []image.Image{solid(255, 40, 10), solid(0, 40, 10), solid(255, 20, 10)})
		require.NoError(t, err)
		require.Len(t, res, 3)
		assert.Equal(t, "aa", res[0].Value)
		assert.Equal(t, "bb", res[1].Value)
		assert.Equal(t, "aa", res[2].Value)
		assert.Equal(t, preprocess.BatchCount(3, bs), calls)
	}
}

func TestPredict_AttentionFamily(t *testing.T) {
	runner := model.RunnerFunc(func(_ context.Context, in onnx.Tensor) (onnx.Tensor, error) {
		seqs := make([][]int, in.Batch())
		for i := range seqs {
			// 'H' 'i' EOS, vocab has 94 entries, two extra classes
			seqs[i] = []int{10 + 26 + 7, 10 + 8, 94, 95}
		}
		return logits(96, seqs...), nil
	})
	m := model.New(recoDescriptor(arch.FamilyPARSeq), arch.BackendTensorFlow, runner)
	p, err := New(m, Config{Model: model.ResolveConfig(m, model.Overrides{})})
	require.NoError(t, err)
	require.Len(t, p.Vocab(), 94)
	res, err := p.Predict(context.Background(), []image.Image{solid(128, 30, 10)})
	require.NoError(t, err)
	assert.Equal(t, "Hi", res[0].Value)
}

func TestPredict_CustomVocab(t *testing.T) {
	runner := model.RunnerFunc(func(_ context.Context, in onnx.Tensor) (onnx.Tensor, error) {
		return logits(3, []int{1, 2, 0}), nil
	})
	m := model.New(recoDescriptor(arch.FamilyCRNN), arch.BackendTensorFlow, runner)
	p, err := New(m, Config{Model: model.ResolveConfig(m, model.Overrides{}), Vocab: []string{"x", "é"}})
	require.NoError(t, err)
	res, err := p.Predict(context.Background(), []image.Image{solid(128, 30, 10)})
	require.NoError(t, err)
	assert.Equal(t, "éx", res[0].Value)
}

func TestNew_RejectsDetectionModel(t *testing.T) {
	d := recoDescriptor(arch.FamilyDBNet)
	d.Task = arch.TaskDetection
	_, err := New(model.New(d, arch.BackendTensorFlow, nil), Config{})
	var unsupported *model.UnsupportedModelTypeError
	assert.ErrorAs(t, err, &unsupported)
}

func TestCrops_BoxAndPolygon(t *testing.T) {
	page := solid(200, 100, 50)
	crops, err := Crops(page, []geometry.Geometry{
		geometry.FromBox(geometry.NewBox(0.1, 0.2, 0.5, 0.6)),
		geometry.FromPolygon(geometry.Polygon{{X: 0.2, Y: 0.1}, {X: 0.6, Y: 0.1}, {X: 0.6, Y: 0.5}, {X: 0.2, Y: 0.5}}),
	})
	require.NoError(t, err)
	require.Len(t, crops, 2)
	assert.Equal(t, image.Rect(0, 0, 40, 20), crops[0].Bounds())
	pb := crops[1].Bounds()
	assert.InDelta(t, 40, pb.Dx(), 1)
	assert.InDelta(t, 20, pb.Dy(), 1)
	r, g, b, _ := crops[1].At(pb.Dx()/2, pb.Dy()/2).RGBA()
	assert.Equal(t, uint32(200), r>>8)
	assert.Equal(t, r, g)
	assert.Equal(t, r, b)
}

func TestCrops_Errors(t *testing.T) {
	_, err := Crops(nil, nil)
	assert.Error(t, err)
	_, err = Crops(solid(0, 10, 10), []geometry.Geometry{geometry.FromBox(geometry.NewBox(0.5, 0.5, 0.5, 0.5))})
	assert.Error(t, err)
}

func TestLoadTokens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dict.txt")
	require.NoError(t, os.WriteFile(path, []byte("\uFEFFa\n\n b \nch\n"), 0o600))
	tokens, err := LoadTokens(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "ch"}, tokens)

	empty := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	_, err = LoadTokens(empty)
	assert.Error(t, err)
	_, err = LoadTokens("")
	assert.Error(t, err)
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, "\u00e9", cleanText("e\u0301"))
	assert.Equal(t, "ab", cleanText("a\x00b"))
}
