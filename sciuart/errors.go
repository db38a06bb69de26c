package sciuart

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration reports an invalid channel, frame, baud rate or buffer size.
	ErrConfiguration = errors.New("sciuart: configuration error")
	// ErrHardwareFault matches every *HardwareFault.
	ErrHardwareFault = errors.New("sciuart: hardware fault")
	// ErrNotReady is returned by operations on a channel that is not open.
	ErrNotReady = errors.New("sciuart: channel not ready")
	// ErrBufferEmpty is returned by Peek and ReadByte when no byte has arrived.
	ErrBufferEmpty = errors.New("sciuart: buffer empty")
	// ErrWouldBlock is returned by the non-blocking write variants when the TX ring is full.
	ErrWouldBlock = errors.New("sciuart: write would block")
)

// HardwareFault wraps an error returned by the hardware layer.
// A channel that records one stays unusable until the next successful Begin.
type HardwareFault struct {
	Channel int
	Op      string
	Err     error
}

func (e *HardwareFault) Error() string {
	return fmt.Sprintf("sciuart: channel %d: %s: %v", e.Channel, e.Op, e.Err)
}

func (e *HardwareFault) Unwrap() error { return e.Err }

func (e *HardwareFault) Is(target error) bool { return target == ErrHardwareFault }
