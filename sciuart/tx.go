// sciuart/tx.go

package sciuart

import (
	"context"
	"errors"
)

// Writable returns a coalesced notification for TX progress or space.
// The driver sends on this channel every time a unit completes. The channel
// is level-coalesced; callers must re-check state after waking.
func (c *Channel) Writable() <-chan struct{} { return c.txNotify }

// TxFree returns the remaining space in the TX ring in bytes.
func (c *Channel) TxFree() int {
	// The state is published after the buffers are allocated.
	if c.loadState() == stateUninitialized {
		return 0
	}
	return c.tx.Free()
}

// Sending reports whether a unit is in flight.
func (c *Channel) Sending() bool { return c.txState.Load() == txStarted }

// TryWriteByte queues b without blocking. It returns ErrWouldBlock when the
// TX ring is full.
func (c *Channel) TryWriteByte(b byte) error {
	if err := c.ready(); err != nil {
		return err
	}
	if !c.tx.Put(b) {
		return ErrWouldBlock
	}
	c.kick()
	return nil
}

// TryWrite returns immediately with 0..len(p) bytes accepted into the TX ring.
// It never blocks. A return value of 0 means "no space now" or "not ready".
func (c *Channel) TryWrite(p []byte) int {
	n := 0
	for n < len(p) {
		if c.TryWriteByte(p[n]) != nil {
			break
		}
		n++
	}
	return n
}

// WriteByte queues a single byte. It blocks until the TX ring has space; it
// never drops and does not wait for the byte to leave the line.
func (c *Channel) WriteByte(b byte) error {
	return c.WriteByteContext(context.Background(), b)
}

// WriteByteContext is WriteByte with cancellation.
func (c *Channel) WriteByteContext(ctx context.Context, b byte) error {
	for {
		err := c.TryWriteByte(b)
		if !errors.Is(err, ErrWouldBlock) {
			return err
		}
		if err := c.waitTx(ctx); err != nil {
			return err
		}
	}
}

// Write implements io.Writer. It blocks until all bytes in p have been queued.
// Write does not wait for the line to drain; use Flush for that.
func (c *Channel) Write(p []byte) (int, error) {
	return c.WriteContext(context.Background(), p)
}

// WriteContext is Write with cancellation. It returns the number of bytes
// queued before ctx ended or the channel failed.
func (c *Channel) WriteContext(ctx context.Context, p []byte) (int, error) {
	sent := 0
	for sent < len(p) {
		if n := c.TryWrite(p[sent:]); n > 0 {
			sent += n
			continue
		}
		if err := c.ready(); err != nil {
			return sent, err
		}
		// Wait for TX progress (space created or drain) then retry.
		if err := c.waitTx(ctx); err != nil {
			return sent, err
		}
	}
	return sent, nil
}

// Writev writes the provided buffers in sequence with the same blocking behaviour as Write.
// It stops on the first error and returns the total number of bytes accepted up to that point.
func (c *Channel) Writev(bufs ...[]byte) (int, error) {
	sent := 0
	for _, p := range bufs {
		n, err := c.Write(p)
		sent += n
		if err != nil {
			return sent, err
		}
	}
	return sent, nil
}

// Flush blocks until every queued byte has been transmitted and the
// hardware is idle.
func (c *Channel) Flush() error {
	return c.FlushContext(context.Background())
}

// FlushContext is Flush with cancellation.
func (c *Channel) FlushContext(ctx context.Context) error {
	for {
		if err := c.ready(); err != nil {
			return err
		}
		if c.tx.Used() == 0 && c.txState.Load() == txStopped {
			return nil
		}
		if err := c.waitTx(ctx); err != nil {
			return err
		}
	}
}

// waitTx waits for a TX notification, a short tick, cancellation or the end
// of the channel generation.
func (c *Channel) waitTx(ctx context.Context) error {
	done := c.done.Load()
	select {
	case <-c.txNotify:
		// Progress likely occurred; caller re-checks.
	case <-c.clock.After(c.drainTick()):
	case <-done.ch:
		if err := c.ready(); err != nil {
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// kick primes the hardware with the byte at tail if nothing is in flight.
// Both the writer and the completion callback call it; the CAS lets exactly
// one of them issue the send.
func (c *Channel) kick() {
	for c.tx.Used() > 0 && c.txState.CompareAndSwap(txStopped, txStarted) {
		// The callback may have retired the last byte between the check and the CAS.
		if c.tx.Used() == 0 {
			c.txState.Store(txStopped)
			continue
		}
		c.sendFront()
		return
	}
}

func (c *Channel) sendFront() {
	port, err := c.loadPort()
	if err != nil {
		c.txState.Store(txStopped)
		return
	}
	c.stats.txUnits.Add(1)
	if err := port.SendUnit(c.tx.front()); err != nil {
		c.txState.Store(txStopped)
		c.fail("send unit", err)
	}
}

// onTxComplete runs in the event context when the unit at tail has been sent.
func (c *Channel) onTxComplete() {
	if c.txState.Load() != txStarted {
		c.stats.spuriousEvents.Add(1)
		return
	}
	c.tx.Get()
	c.stats.txBytes.Add(1)
	if c.tx.Used() > 0 {
		c.sendFront()
	} else {
		c.txState.Store(txStopped)
		// A byte queued after the check above is primed here or by the writer.
		c.kick()
	}
	c.wake(c.txNotify)
}
