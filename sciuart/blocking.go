// sciuart/blocking.go

package sciuart

import (
	"context"
	"time"
)

// Readable returns a coalesced notification sent each time a receive window
// completes. Bytes arriving inside a window raise no event, so waiters also
// poll; callers must re-check state after waking.
func (c *Channel) Readable() <-chan struct{} { return c.notify }

// WaitReadableContext blocks until data is available or ctx is done.
func (c *Channel) WaitReadableContext(ctx context.Context) error {
	for {
		if err := c.ready(); err != nil {
			return err
		}
		if c.Available() > 0 {
			return nil
		}
		if err := c.waitRx(ctx); err != nil {
			return err
		}
	}
}

// ReadSomeContext blocks until at least one byte is available, then reads up to len(p).
func (c *Channel) ReadSomeContext(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := c.Read(p)
		if n > 0 || err != nil {
			return n, err
		}
		if err := c.waitRx(ctx); err != nil {
			return 0, err
		}
	}
}

// ReadFullContext blocks until len(p) bytes have been read or ctx is done.
func (c *Channel) ReadFullContext(ctx context.Context, p []byte) (int, error) {
	read := 0
	for read < len(p) {
		n, err := c.ReadSomeContext(ctx, p[read:])
		read += n
		if err != nil {
			return read, err
		}
	}
	return read, nil
}

// ReadByteContext blocks for a single byte or until ctx is done.
func (c *Channel) ReadByteContext(ctx context.Context) (byte, error) {
	for {
		b, err := c.ReadByte()
		if err != ErrBufferEmpty {
			return b, err
		}
		if err := c.waitRx(ctx); err != nil {
			return 0, err
		}
	}
}

// ReadWithTimeout is ReadSomeContext bounded by d.
func (c *Channel) ReadWithTimeout(p []byte, d time.Duration) (int, error) {
	ctx, cancel := c.clock.WithTimeout(context.Background(), d)
	defer cancel()
	return c.ReadSomeContext(ctx, p)
}

func (c *Channel) waitRx(ctx context.Context) error {
	done := c.done.Load()
	select {
	case <-c.notify:
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
