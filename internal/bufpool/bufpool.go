// Package bufpool provides pooled byte slices for I/O loops.
//
// Copy paths that defeat the stdlib splice fast path, like the hashing
// writers wrapped around archive extraction and checksum verification,
// otherwise allocate a fresh buffer per call. The pool hands out slices
// in three size classes and recycles them through sync.Pool.
package bufpool

import (
	"sync"
)

// Buffer size classes.
const (
	// SmallSize covers header reads and content sniffing (4KiB).
	SmallSize = 4 << 10

	// MediumSize covers metadata payloads (64KiB).
	MediumSize = 64 << 10

	// LargeSize covers bulk copy loops (1MiB).
	LargeSize = 1 << 20
)

// Pool hands out byte slices bucketed by size class. Requests above
// LargeSize are allocated directly and never pooled, so a one-off huge
// buffer does not pin memory.
type Pool struct {
	small  sync.Pool
	medium sync.Pool
	large  sync.Pool
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	p := &Pool{}
	p.small.New = func() any {
		buf := make([]byte, SmallSize)
		return &buf
	}
	p.medium.New = func() any {
		buf := make([]byte, MediumSize)
		return &buf
	}
	p.large.New = func() any {
		buf := make([]byte, LargeSize)
		return &buf
	}
	return p
}

// Get returns a slice of exactly size bytes, backed by a pooled buffer
// when size fits a class. The caller returns it with Put when done.
func (p *Pool) Get(size int) []byte {
	var bufPtr *[]byte
	switch {
	case size <= SmallSize:
		bufPtr = p.small.Get().(*[]byte)
	case size <= MediumSize:
		bufPtr = p.medium.Get().(*[]byte)
	case size <= LargeSize:
		bufPtr = p.large.Get().(*[]byte)
	default:
		return make([]byte, size)
	}
	return (*bufPtr)[:size]
}

// Put returns a buffer obtained from Get. The slice must not be used
// afterwards. Buffers whose capacity matches no class are dropped for the
// garbage collector.
func (p *Pool) Put(buf []byte) {
	if buf == nil {
		return
	}
	full := buf[:cap(buf)]
	switch cap(buf) {
	case SmallSize:
		p.small.Put(&full)
	case MediumSize:
		p.medium.Put(&full)
	case LargeSize:
		p.large.Put(&full)
	}
}

var globalPool = NewPool()

// Get returns a slice of size bytes from the shared pool.
func Get(size int) []byte {
	return globalPool.Get(size)
}

// Put returns a buffer from Get to the shared pool.
func Put(buf []byte) {
	globalPool.Put(buf)
}
