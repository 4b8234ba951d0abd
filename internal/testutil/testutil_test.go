package testutil

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/MeKo-Tech/textpipe/internal/arch"
	"github.com/MeKo-Tech/textpipe/internal/onnx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWordsImage(t *testing.T) {
	img := WordsImage(20, 10, image.Rect(2, 2, 5, 5))
	r, _, _, _ := img.At(3, 3).RGBA()
	assert.Equal(t, uint32(0), r)
	r, _, _, _ = img.At(10, 3).RGBA()
	assert.Equal(t, uint32(0xffff), r)
}

func TestTextImage_HasInk(t *testing.T) {
	img := TextImage(DefaultTextImageConfig())
	b := img.Bounds()
	dark := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if r, _, _, _ := img.At(x, y).RGBA(); r < 0x8000 {
				dark++
			}
		}
	}
	assert.Positive(t, dark)
}

func TestDarkDetector(t *testing.T) {
	mean, std := [3]float64{0.5, 0.5, 0.5}, [3]float64{0.5, 0.5, 0.5}
	// one NCHW image 1x2: black then white
	in := onnx.Tensor{Data: []float32{-1, 1, -1, 1, -1, 1}, Shape: []int64{1, 3, 1, 2}}
	out, err := DarkDetector(mean, std, onnx.NCHW).Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 1, 1, 2}, out.Shape)
	assert.Equal(t, []float32{1, 0}, out.Data)
}

func TestTextRecognizer_Shapes(t *testing.T) {
	vocab := []rune("ab")
	in := onnx.Tensor{Data: make([]float32, 2*3*4*4), Shape: []int64{2, 4, 4, 3}}

	out, err := TextRecognizer("ab", vocab, true).Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 4, 3}, out.Shape)

	out, err = TextRecognizer("ab", vocab, false).Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3, 3}, out.Shape)
}

func TestOpener(t *testing.T) {
	reg := arch.NewRegistry(arch.BackendTensorFlow)
	open := Opener(reg, "hi")
	det, err := open(onnx.SessionConfig{ModelPath: "/m/db_resnet50.onnx"})
	require.NoError(t, err)
	_, err = open(onnx.SessionConfig{ModelPath: "/m/crnn_vgg16_bn.onnx"})
	assert.NoError(t, err)
	_, err = open(onnx.SessionConfig{ModelPath: "/m/nope.onnx"})
	assert.Error(t, err)

	require.NoError(t, det.Close())
	assert.True(t, det.(*Session).Closed())
	_, err = det.Run(context.Background(), onnx.Tensor{})
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSolidAndPNG(t *testing.T) {
	img := Solid(3, 2, color.Black)
	assert.Equal(t, image.Rect(0, 0, 3, 2), img.Bounds())
	assert.NotEmpty(t, PNG(t, img))
}
