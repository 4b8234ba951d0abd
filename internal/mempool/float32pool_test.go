package mempool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSizeClass(t *testing.T) {
	tests := []struct {
		input, want int
	}{
		{-1, 1024},
		{0, 1024},
		{1024, 1024},
		{1025, 2048},
		{3000, 4096},
		{1 << 20, 1 << 20},
		{1<<20 + 1, 1 << 21},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sizeClass(tt.input), "input %d", tt.input)
	}
}

func TestGetPutFloat32(t *testing.T) {
	buf := GetFloat32(1500)
	assert.Len(t, buf, 1500)
	assert.Equal(t, 2048, cap(buf))
	PutFloat32(buf)

	again := GetFloat32(2000)
	assert.Len(t, again, 2000)
	assert.GreaterOrEqual(t, cap(again), 2000)
	PutFloat32(again)

	PutFloat32(nil)
	PutFloat32(make([]float32, 10, 1500))
}

func TestConcurrentAccess(t *testing.T) {
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := range 50 {
				b := GetFloat32(n*100 + j)
				for k := range b {
					b[k] = float32(k)
				}
				PutFloat32(b)
			}
		}(i + 1)
	}
	wg.Wait()
}
