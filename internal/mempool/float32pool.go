// Package mempool pools the large float32 buffers used for batch tensors.
package mempool

import (
	"math/bits"
	"sync"
)

const minClass = 1 << 10

var pools sync.Map // size class -> *sync.Pool

// sizeClass rounds n up to a power of two, at least minClass.
func sizeClass(n int) int {
	if n <= minClass {
		return minClass
	}
	return 1 << bits.Len(uint(n-1))
}

func poolFor(cls int) *sync.Pool {
	p, _ := pools.LoadOrStore(cls, &sync.Pool{New: func() any {
		buf := make([]float32, cls)
		return &buf
	}})
	return p.(*sync.Pool)
}

// GetFloat32 returns a buffer of length n. Its contents are unspecified;
// callers must overwrite every element they read.
func GetFloat32(n int) []float32 {
	cls := sizeClass(n)
	bp := poolFor(cls).Get().(*[]float32)
	buf := *bp
	if cap(buf) < cls {
		buf = make([]float32, cls)
	}
	return buf[:n]
}

// PutFloat32 returns buf to its pool. Buffers not obtained from
// GetFloat32 are accepted if their capacity is a size class. nil is
// ignored.
func PutFloat32(buf []float32) {
	if buf == nil {
		return
	}
	c := cap(buf)
	if c < minClass || sizeClass(c) != c {
		return
	}
	buf = buf[:c]
	poolFor(c).Put(&buf)
}
