// sciuart/ringbuffer.go

package sciuart

import (
	"fmt"
	"sync/atomic"
)

// DefaultBufferSize is the RX and TX ring size used when no option overrides it.
const DefaultBufferSize = 512

// RingBuffer is a single-producer/single-consumer byte ring.
// Capacity is a power of two; head and tail are kept modulo capacity.
// Only the producer stores head and only the consumer stores tail.
// The ring is full when advancing head would make it equal tail, so at
// most Size()-1 bytes are held at once.
type RingBuffer struct {
	buf  []byte
	mask uint32
	head atomic.Uint32
	tail atomic.Uint32
}

// NewRingBuffer returns a ring of the given size. Size must be a power of two >= 2.
func NewRingBuffer(size int) (*RingBuffer, error) {
	if size < 2 || size&(size-1) != 0 {
		return nil, fmt.Errorf("%w: ring size %d is not a power of two >= 2", ErrConfiguration, size)
	}
	return &RingBuffer{
		buf:  make([]byte, size),
		mask: uint32(size - 1),
	}, nil
}

// Size returns the total capacity of the buffer in bytes.
func (rb *RingBuffer) Size() int {
	return len(rb.buf)
}

// Used returns how many bytes are queued.
func (rb *RingBuffer) Used() int {
	return int((rb.head.Load() - rb.tail.Load()) & rb.mask)
}

// Free returns how many more bytes Put will accept.
func (rb *RingBuffer) Free() int {
	return int(rb.mask) - rb.Used()
}

// Put stores a byte in the buffer. If the buffer is already full, it returns false.
func (rb *RingBuffer) Put(val byte) bool {
	h := rb.head.Load()
	next := (h + 1) & rb.mask
	if next == rb.tail.Load() { // full
		return false
	}
	rb.buf[h] = val     // 1) write data
	rb.head.Store(next) // 2) publish
	return true
}

// Get returns a byte from the buffer. If the buffer is empty, it returns (0, false).
func (rb *RingBuffer) Get() (byte, bool) {
	t := rb.tail.Load()
	if t == rb.head.Load() {
		return 0, false
	}
	v := rb.buf[t]                   // 1) read current element
	rb.tail.Store((t + 1) & rb.mask) // 2) publish consumption
	return v, true
}

// Peek returns the byte at tail without consuming it.
func (rb *RingBuffer) Peek() (byte, bool) {
	t := rb.tail.Load()
	if t == rb.head.Load() {
		return 0, false
	}
	return rb.buf[t], true
}

// front returns the one-byte slot at tail. The slot stays valid until the
// consumer advances past it; the producer never writes it while it is queued.
func (rb *RingBuffer) front() []byte {
	t := rb.tail.Load()
	return rb.buf[t : t+1 : t+1]
}

// Clear resets the head and tail pointers to zero.
// It must only be called while neither side is active.
func (rb *RingBuffer) Clear() {
	rb.head.Store(0)
	rb.tail.Store(0)
}
