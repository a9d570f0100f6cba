package wirechan

import (
	"errors"
	"sync"
)

// Errors returned by buffer pool operations.
var (
	// ErrForeignBuffer is returned when releasing a buffer the pool did not lease.
	ErrForeignBuffer = errors.New("buffer was not leased from this pool")
	// ErrDoubleRelease is returned when releasing a buffer that is already idle.
	ErrDoubleRelease = errors.New("buffer released twice")
)

// defaultMaxIdle bounds the number of idle buffers the pool retains.
// Buffers released beyond this bound are dropped and reclaimed by the GC.
const defaultMaxIdle = 64

// BufferPool hands out fixed-capacity byte buffers shared by all
// connections. A leased buffer is owned exclusively by the caller until
// it is released back; the pool never returns the same buffer to two
// concurrent leases. Leasing never blocks: when the idle set is empty a
// new buffer is allocated, so the pool bounds retained memory rather
// than admission.
type BufferPool struct {
	mu      sync.Mutex
	size    int
	maxIdle int
	idle    [][]byte
	leased  map[*byte]struct{}
}

// NewBufferPool creates a pool of buffers with the given fixed capacity.
func NewBufferPool(size int) *BufferPool {
	if size <= 0 {
		size = defaultBufferCapacity
	}
	return &BufferPool{
		size:    size,
		maxIdle: defaultMaxIdle,
		leased:  make(map[*byte]struct{}),
	}
}

// Size returns the fixed capacity of every buffer in the pool.
func (p *BufferPool) Size() int {
	return p.size
}

// Lease returns a buffer for exclusive use by the caller. The buffer
// may contain bytes from a previous lease; callers must not read past
// what they have written.
func (p *BufferPool) Lease() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	var buf []byte
	if n := len(p.idle); n > 0 {
		buf = p.idle[n-1]
		p.idle[n-1] = nil
		p.idle = p.idle[:n-1]
	} else {
		buf = make([]byte, p.size)
	}
	p.leased[&buf[0]] = struct{}{}
	return buf
}

// Release returns a leased buffer to the idle set. Releasing a buffer
// twice, or a buffer that did not come from this pool, is a caller bug
// and is reported without mutating the idle set.
func (p *BufferPool) Release(buf []byte) error {
	if cap(buf) != p.size {
		return ErrForeignBuffer
	}
	buf = buf[:p.size]

	p.mu.Lock()
	defer p.mu.Unlock()

	key := &buf[0]
	if _, ok := p.leased[key]; !ok {
		return ErrDoubleRelease
	}
	delete(p.leased, key)

	if len(p.idle) < p.maxIdle {
		p.idle = append(p.idle, buf)
	}
	return nil
}

// Leased returns the number of buffers currently out on lease.
func (p *BufferPool) Leased() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.leased)
}

// Idle returns the number of buffers waiting for reuse.
func (p *BufferPool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}
