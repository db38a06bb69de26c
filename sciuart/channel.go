// Package sciuart provides a ring-buffered UART channel driver over a
// vendor hardware layer that receives into DMA-style windows and transmits
// one unit per completion interrupt.
//
// Receive is pull-based: the driver never sees individual RX bytes, it asks
// the transfer engine how much of the armed window is still untransferred
// and derives the head from that. Transmit is push-based: Write queues into
// a software ring and the TX completion interrupt chains the next byte.
//
// Each channel has one application side (the consumer of RX, the producer of
// TX) and one interrupt side (the HAL event callback). Indices are owned by
// exactly one side each, so neither path takes a lock.
package sciuart

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// DefaultBaudRate is used by Begin when the baud rate is zero.
const DefaultBaudRate = 115200

type channelState int32

const (
	stateUninitialized channelState = iota
	stateOpen
	stateClosed
	stateFaulted
)

func (s channelState) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateClosed:
		return "closed"
	case stateFaulted:
		return "faulted"
	default:
		return "uninitialized"
	}
}

const (
	txStopped int32 = iota
	txStarted
)

// signal is closed once per Begin/End generation to release waiters.
type signal struct {
	ch   chan struct{}
	once sync.Once
}

func newSignal() *signal { return &signal{ch: make(chan struct{})} }

func (s *signal) fire() { s.once.Do(func() { close(s.ch) }) }

// Channel is one UART hardware channel with its receive window and transmit ring.
//
// Invariants:
//   - RX: the hardware layer writes the window; only the application moves
//     the read position.
//   - TX: only the application moves head; only the completion callback moves
//     tail. The byte at tail is the one in flight while the state is started.
//   - Exactly one side wins the stopped->started transition and primes
//     the hardware.
type Channel struct {
	id    int
	reg   *Registry
	log   *zap.Logger
	clock clock.Clock
	opts  options

	mu    sync.Mutex // serialises Begin and End
	state atomic.Int32
	fault atomic.Pointer[HardwareFault]
	done  atomic.Pointer[signal]
	port  atomic.Pointer[portRef] // nil while closed; load once per operation
	baud  uint32
	frame Frame

	// RX
	rx     *rxWindow
	notify chan struct{} // coalesced RX window notifications

	// TX
	tx       *RingBuffer
	txState  atomic.Int32
	txNotify chan struct{} // coalesced TX progress/drain notifications

	stats counters
}

type portRef struct{ Port }

func newChannel(id int, reg *Registry, opts options) *Channel {
	c := &Channel{
		id:       id,
		reg:      reg,
		log:      opts.logger.With(zap.Int("channel", id)),
		clock:    opts.clock,
		opts:     opts,
		notify:   make(chan struct{}, 1),
		txNotify: make(chan struct{}, 1),
	}
	s := newSignal()
	s.fire()
	c.done.Store(s)
	return c
}

// ID returns the hardware channel index.
func (c *Channel) ID() int { return c.id }

// Ready reports whether the channel is open and has not faulted.
func (c *Channel) Ready() bool { return c.loadState() == stateOpen }

// Fault returns the hardware fault that made the channel unusable, if any.
func (c *Channel) Fault() error {
	if f := c.fault.Load(); f != nil {
		return f
	}
	return nil
}

// Config returns the baud rate and frame of the last successful Begin.
func (c *Channel) Config() (uint32, Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baud, c.frame
}

func (c *Channel) loadState() channelState { return channelState(c.state.Load()) }

func (c *Channel) ready() error {
	switch c.loadState() {
	case stateOpen:
		return nil
	case stateFaulted:
		if f := c.fault.Load(); f != nil {
			return f
		}
	}
	return ErrNotReady
}

// BeginDefault is Begin with an 8N1 frame.
func (c *Channel) BeginDefault(baud uint32) error {
	return c.Begin(baud, Frame8N1)
}

// Begin configures the hardware and arms the first receive window.
// Buffers are allocated on the first call and reused afterwards. Calling
// Begin on an open channel closes the port and reconfigures it in place.
// On failure the channel is left not ready.
func (c *Channel) Begin(baud uint32, frame Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if baud == 0 {
		baud = DefaultBaudRate
	}
	if err := frame.Validate(); err != nil {
		return err
	}
	if err := c.allocate(); err != nil {
		return err
	}

	if c.port.Load() != nil {
		c.log.Info("reconfiguring open channel")
		c.closePort()
	}

	c.rx.reset()
	c.tx.Clear()
	c.txState.Store(txStopped)
	c.fault.Store(nil)
	c.done.Store(newSignal())
	drain(c.notify)
	drain(c.txNotify)

	port, err := c.reg.hal.Open(PortConfig{
		Channel:  c.id,
		BaudRate: baud,
		Frame:    frame,
		Callback: c.reg.Dispatch,
	})
	if err != nil {
		return c.setupFault("open", err)
	}
	c.port.Store(&portRef{port})
	c.baud, c.frame = baud, frame

	// Open before arming so an early RxComplete is not dropped by Dispatch.
	c.state.Store(int32(stateOpen))
	if err := port.RequestTransfer(c.rx.ring.buf); err != nil {
		c.closePort()
		return c.setupFault("arm receive", err)
	}

	// Prime initial "writable" notification (TX ring starts empty).
	c.wake(c.txNotify)

	c.log.Info("channel open",
		zap.Uint32("baud", baud),
		zap.Stringer("frame", frame),
		zap.Int("rx_buffer", c.rx.ring.Size()),
		zap.Int("tx_buffer", c.tx.Size()))
	return nil
}

// End closes the hardware port. Buffers are kept for a later Begin.
// Pending waiters are released with ErrNotReady.
func (c *Channel) End() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.port.Load() == nil {
		if c.loadState() != stateUninitialized {
			c.state.Store(int32(stateClosed))
		}
		return nil
	}
	err := c.closePort()
	c.state.Store(int32(stateClosed))
	c.txState.Store(txStopped)
	c.done.Load().fire()
	c.log.Info("channel closed")
	if err != nil {
		return &HardwareFault{Channel: c.id, Op: "close", Err: err}
	}
	return nil
}

func (c *Channel) allocate() error {
	if c.rx != nil {
		return nil
	}
	rx, err := NewRingBuffer(c.opts.rxSize)
	if err != nil {
		return fmt.Errorf("rx buffer: %w", err)
	}
	tx, err := NewRingBuffer(c.opts.txSize)
	if err != nil {
		return fmt.Errorf("tx buffer: %w", err)
	}
	c.rx = &rxWindow{ring: rx}
	c.tx = tx
	return nil
}

// closePort must be called with mu held.
func (c *Channel) closePort() error {
	// Stop dispatch before the port goes away.
	c.state.Store(int32(stateClosed))
	p := c.port.Swap(nil)
	if p == nil {
		return nil
	}
	return p.Close()
}

// loadPort returns the open port, or ErrNotReady once End has taken it.
// Callers that raced End may still hold the closed port; its methods then
// fail on the closed port and fail is a no-op once the state is not open.
func (c *Channel) loadPort() (Port, error) {
	p := c.port.Load()
	if p == nil {
		return nil, ErrNotReady
	}
	return p.Port, nil
}

func (c *Channel) setupFault(op string, err error) error {
	f := &HardwareFault{Channel: c.id, Op: op, Err: err}
	c.fault.Store(f)
	c.state.Store(int32(stateFaulted))
	c.stats.hardwareFaults.Add(1)
	c.done.Load().fire()
	c.log.Error("channel setup failed", zap.String("op", op), zap.Error(err))
	return f
}

// fail records a runtime hardware fault. It may run in the event context.
func (c *Channel) fail(op string, err error) error {
	f := &HardwareFault{Channel: c.id, Op: op, Err: err}
	if !c.state.CompareAndSwap(int32(stateOpen), int32(stateFaulted)) {
		if prev := c.fault.Load(); prev != nil {
			return prev
		}
		return f
	}
	c.fault.Store(f)
	c.stats.hardwareFaults.Add(1)
	c.done.Load().fire()
	c.log.Error("hardware fault", zap.String("op", op), zap.Error(err))
	return f
}

// handleEvent runs in the hardware layer's event context.
func (c *Channel) handleEvent(kind EventKind) {
	if c.loadState() != stateOpen {
		c.stats.spuriousEvents.Add(1)
		return
	}
	switch kind {
	case EventRxComplete:
		c.onRxComplete()
	case EventTxComplete:
		c.onTxComplete()
	case EventParityError:
		c.stats.errParity.Add(1)
		c.lineError(kind)
	case EventFramingError:
		c.stats.errFraming.Add(1)
		c.lineError(kind)
	case EventOverflowError:
		c.stats.errOverflow.Add(1)
		c.lineError(kind)
	}
}

func (c *Channel) lineError(kind EventKind) {
	c.log.Debug("line error", zap.Stringer("kind", kind))
	if fn := c.opts.onLineError; fn != nil {
		fn(c.id, kind)
	}
}

// wake performs a coalesced, non-blocking send.
func (c *Channel) wake(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func drain(ch chan struct{}) {
	select {
	case <-ch:
	default:
	}
}

// drainTick returns a short polling interval for conditions no event signals.
// The value is approximately two character times, with a lower bound to avoid zero.
func (c *Channel) drainTick() time.Duration {
	c.mu.Lock()
	baud, frame := c.baud, c.frame
	c.mu.Unlock()
	if baud == 0 {
		return 50 * time.Microsecond
	}
	perBit := time.Second / time.Duration(baud)
	t := 2 * time.Duration(frame.BitsPerChar()) * perBit
	if t < 20*time.Microsecond {
		t = 20 * time.Microsecond
	}
	return t
}
