package onnx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBatchImageTensor(t *testing.T) {
	a := []float32{1, 2, 3, 4}
	b := []float32{5, 6, 7, 8}

	nchw, err := NewBatchImageTensor([][]float32{a, b}, NCHW, 1, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1, 2, 2}, nchw.Shape)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6, 7, 8}, nchw.Data)
	require.NoError(t, nchw.Validate())

	nhwc, err := NewBatchImageTensor([][]float32{a}, NHWC, 1, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 2, 1}, nhwc.Shape)

	_, err = NewBatchImageTensor(nil, NCHW, 1, 2, 2)
	assert.Error(t, err)
	_, err = NewBatchImageTensor([][]float32{{1}}, NCHW, 1, 2, 2)
	assert.Error(t, err)
}

func TestTensor_Validate(t *testing.T) {
	tests := []struct {
		name    string
		tensor  Tensor
		wantErr bool
	}{
		{"ok", Tensor{Data: make([]float32, 6), Shape: []int64{1, 2, 3}}, false},
		{"no shape", Tensor{}, true},
		{"zero dim", Tensor{Data: nil, Shape: []int64{1, 0}}, true},
		{"length mismatch", Tensor{Data: make([]float32, 5), Shape: []int64{1, 2, 3}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tensor.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTensor_Item(t *testing.T) {
	tensor := Tensor{Data: []float32{1, 2, 3, 4, 5, 6}, Shape: []int64{3, 2}}

	item, err := tensor.Item(1)
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 4}, item.Data)
	assert.Equal(t, []int64{1, 2}, item.Shape)

	_, err = tensor.Item(3)
	assert.Error(t, err)
}

func TestTensor_ToNCHW(t *testing.T) {
	// 1x1x2x2 image with 3 channels, pixel p has channels (p, p+10, p+20)
	nhwc := Tensor{
		Data:  []float32{0, 10, 20, 1, 11, 21, 2, 12, 22, 3, 13, 23},
		Shape: []int64{1, 2, 2, 3},
	}
	out, err := nhwc.ToNCHW(NHWC)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 2, 2}, out.Shape)
	assert.Equal(t, []float32{0, 1, 2, 3, 10, 11, 12, 13, 20, 21, 22, 23}, out.Data)

	same, err := out.ToNCHW(NCHW)
	require.NoError(t, err)
	assert.Equal(t, out, same)

	c, h, w, err := nhwc.ImageDims(NHWC)
	require.NoError(t, err)
	assert.Equal(t, [3]int{3, 2, 2}, [3]int{c, h, w})
}

func TestStats(t *testing.T) {
	minV, maxV, mean := Stats([]float32{-1, 0, 4})
	assert.InDelta(t, -1, minV, 1e-6)
	assert.InDelta(t, 4, maxV, 1e-6)
	assert.InDelta(t, 1, mean, 1e-6)

	minV, maxV, mean = Stats(nil)
	assert.Zero(t, minV+maxV+mean)
}

func TestGPUConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultGPUConfig().Validate())

	g := DefaultGPUConfig()
	g.Enabled = true
	assert.NoError(t, g.Validate())

	g.DeviceID = -1
	assert.Error(t, g.Validate())

	g = DefaultGPUConfig()
	g.Enabled = true
	g.ArenaExtendStrategy = "sometimes"
	assert.Error(t, g.Validate())

	g = DefaultGPUConfig()
	g.Enabled = true
	g.MemLimit = 1 << 30
	s := g.cudaSettings()
	assert.Equal(t, "1073741824", s["gpu_mem_limit"])
	assert.Equal(t, "0", s["device_id"])
}

func TestLibraryCandidates_ExplicitFirst(t *testing.T) {
	c := libraryCandidates("/tmp/custom/libonnxruntime.so", true)
	require.NotEmpty(t, c)
	assert.Equal(t, "/tmp/custom/libonnxruntime.so", c[0])
}
