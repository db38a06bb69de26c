// sciuart/rx.go

package sciuart

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
)

// rxWindow is the receive side of a channel. The hardware fills ring.buf
// from index 0 after every re-arm; the head is never stored, it is derived
// from the remaining length of the active transfer.
type rxWindow struct {
	ring *RingBuffer

	// pos is the absolute number of bytes consumed. Application-owned;
	// the tail is pos modulo the window size.
	pos atomic.Uint64

	// delivered is the absolute number of bytes in completed windows, less
	// whatever was lost to overruns. Event-context-owned.
	delivered uint64
}

func (w *rxWindow) reset() {
	w.pos.Store(0)
	w.delivered = 0
}

func (w *rxWindow) tail() uint32 { return uint32(w.pos.Load()) & w.ring.mask }

// rxHead returns the receive head derived from the transfer engine.
func (c *Channel) rxHead() (uint32, error) {
	port, err := c.loadPort()
	if err != nil {
		return 0, err
	}
	remaining, err := port.TransferStatus()
	if err != nil {
		return 0, c.fail("transfer status", err)
	}
	size := c.rx.ring.Size()
	if remaining < 0 || remaining > size {
		return 0, c.fail("transfer status",
			fmt.Errorf("remaining length %d outside window of %d", remaining, size))
	}
	return uint32(size-remaining) & c.rx.ring.mask, nil
}

// Available returns the number of received bytes not yet read. It never
// blocks and returns 0 on a channel that is not ready.
func (c *Channel) Available() int {
	if c.ready() != nil {
		return 0
	}
	head, err := c.rxHead()
	if err != nil {
		return 0
	}
	return int((uint32(c.rx.ring.Size()) + head - c.rx.tail()) & c.rx.ring.mask)
}

// Buffered is an alias for Available.
func (c *Channel) Buffered() int { return c.Available() }

// Peek returns the next received byte without consuming it.
// If there is no data available, it returns ErrBufferEmpty.
func (c *Channel) Peek() (byte, error) {
	if err := c.ready(); err != nil {
		return 0, err
	}
	head, err := c.rxHead()
	if err != nil {
		return 0, err
	}
	t := c.rx.tail()
	if head == t {
		return 0, ErrBufferEmpty
	}
	return c.rx.ring.buf[t], nil
}

// ReadByte reads a single received byte.
// If there is no data available, it returns ErrBufferEmpty.
func (c *Channel) ReadByte() (byte, error) {
	if err := c.ready(); err != nil {
		return 0, err
	}
	head, err := c.rxHead()
	if err != nil {
		return 0, err
	}
	t := c.rx.tail()
	if head == t {
		return 0, ErrBufferEmpty
	}
	b := c.rx.ring.buf[t]
	c.rx.pos.Add(1)
	c.stats.rxBytes.Add(1)
	return b, nil
}

// TryRead returns immediately with up to len(p) bytes copied from the receive window.
// A return value of 0 means "no data now" or "not ready".
func (c *Channel) TryRead(p []byte) int {
	n, _ := c.Read(p)
	return n
}

// Read copies up to len(p) received bytes into p. It does not block: with
// nothing buffered it returns 0, nil, matching machine.UART semantics.
// Use ReadSomeContext for a blocking read.
func (c *Channel) Read(p []byte) (int, error) {
	if err := c.ready(); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	head, err := c.rxHead()
	if err != nil {
		return 0, err
	}
	mask := c.rx.ring.mask
	t := c.rx.tail()
	avail := int((uint32(c.rx.ring.Size()) + head - t) & mask)
	n := min(avail, len(p))
	for i := 0; i < n; i++ {
		p[i] = c.rx.ring.buf[(t+uint32(i))&mask]
	}
	c.rx.pos.Add(uint64(n))
	c.stats.rxBytes.Add(uint64(n))
	return n, nil
}

// onRxComplete runs in the event context when the armed window is full.
// The window is re-armed over the same buffer. If the application has not
// drained a whole window by then, the unread bytes it can no longer reach
// are counted as lost; they are overwritten, not preserved.
func (c *Channel) onRxComplete() {
	size := uint64(c.rx.ring.Size())
	c.stats.rxWindows.Add(1)

	c.rx.delivered += size
	if unread := c.rx.delivered - c.rx.pos.Load(); unread >= size {
		lost := unread &^ uint64(c.rx.ring.mask)
		c.rx.delivered -= lost
		c.stats.rxOverruns.Add(1)
		c.stats.rxLost.Add(lost)
		c.log.Debug("receive overrun", zap.Uint64("lost", lost))
	}

	port, err := c.loadPort()
	if err != nil {
		return
	}
	if err := port.RequestTransfer(c.rx.ring.buf); err != nil {
		c.fail("re-arm receive", err)
		return
	}
	c.wake(c.notify)
}
