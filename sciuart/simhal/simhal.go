// Package simhal is a simulated hardware layer for sciuart: a DTC-style
// receive engine that fills armed windows from injected bytes, and a
// single-unit transmit engine whose completions are delivered either by a
// background goroutine or by the caller (CompleteTx). Host builds use it for
// tests and self-tests; no device packages are involved.
package simhal

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jangala-dev/tinygo-sciuart/sciuart"
)

var (
	// ErrUnitInFlight is returned by SendUnit when the previous unit has not completed.
	ErrUnitInFlight = errors.New("simhal: unit already in flight")
	// ErrPortClosed is returned by port operations after Close.
	ErrPortClosed = errors.New("simhal: port closed")
)

// Option configures a HAL.
type Option func(*HAL)

// WithManualTx disables the transmit engine goroutine. Each sent unit stays
// in flight until CompleteTx is called.
func WithManualTx() Option { return func(h *HAL) { h.manual = true } }

// WithUnitDelay makes the transmit engine wait d before completing each unit.
func WithUnitDelay(d time.Duration) Option { return func(h *HAL) { h.delay = d } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(h *HAL) { h.log = l } }

// HAL implements sciuart.HAL.
type HAL struct {
	manual bool
	delay  time.Duration
	log    *zap.Logger

	mu       sync.Mutex
	ports    map[int]*Port
	openErrs map[int]error
	armErrs  map[int]error
	loops    map[int]int
	opens    map[int]int
}

var _ sciuart.HAL = (*HAL)(nil)

// New returns a simulated HAL.
func New(opts ...Option) *HAL {
	h := &HAL{
		log:      zap.NewNop(),
		ports:    make(map[int]*Port),
		openErrs: make(map[int]error),
		armErrs:  make(map[int]error),
		loops:    make(map[int]int),
		opens:    make(map[int]int),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.Named("simhal")
	return h
}

// FailOpen makes the next Open of channel ch fail with err. A nil err clears it.
func (h *HAL) FailOpen(ch int, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.openErrs[ch] = err
}

// FailNextArm makes every RequestTransfer on the next opened port of
// channel ch fail with err.
func (h *HAL) FailNextArm(ch int, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.armErrs[ch] = err
}

// Loopback routes every completed TX unit of channel from into the receive
// engine of channel to. from == to models a TX->RX jumper on one channel.
func (h *HAL) Loopback(from, to int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.loops[from] = to
}

func (h *HAL) loopTarget(from int) (*Port, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	to, ok := h.loops[from]
	if !ok {
		return nil, false
	}
	p, ok := h.ports[to]
	return p, ok
}

// Open implements sciuart.HAL.
func (h *HAL) Open(cfg sciuart.PortConfig) (sciuart.Port, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.openErrs[cfg.Channel]; err != nil {
		delete(h.openErrs, cfg.Channel)
		return nil, err
	}
	p := &Port{
		hal:    h,
		cfg:    cfg,
		manual: h.manual,
		delay:  h.delay,
		log:    h.log.With(zap.Int("channel", cfg.Channel)),
		units:  make(chan byte, 1),
		stop:   make(chan struct{}),
	}
	if err := h.armErrs[cfg.Channel]; err != nil {
		delete(h.armErrs, cfg.Channel)
		p.armErr = err
	}
	if !p.manual {
		p.wg.Add(1)
		go p.txEngine()
	}
	h.ports[cfg.Channel] = p
	h.opens[cfg.Channel]++
	p.log.Debug("port open", zap.Uint32("baud", cfg.BaudRate), zap.Stringer("frame", cfg.Frame))
	return p, nil
}

// Port returns the most recently opened port of channel ch.
func (h *HAL) Port(ch int) (*Port, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.ports[ch]
	return p, ok
}

// Opens returns how many times channel ch has been opened.
func (h *HAL) Opens(ch int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.opens[ch]
}

// Port is one simulated channel. It implements sciuart.Port and exposes
// controls for driving the hardware side.
type Port struct {
	hal    *HAL
	cfg    sciuart.PortConfig
	manual bool
	delay  time.Duration
	log    *zap.Logger

	mu        sync.Mutex
	window    []byte
	remaining int
	armed     bool
	arms      int
	inflight  bool
	pending   byte
	sends     int
	sent      []byte
	dropped   int
	closed    bool
	armErr    error
	statusErr error
	sendErr   error

	units chan byte
	stop  chan struct{}
	wg    sync.WaitGroup
}

var _ sciuart.Port = (*Port)(nil)

// Config returns the configuration the port was opened with.
func (p *Port) Config() sciuart.PortConfig { return p.cfg }

// RequestTransfer implements sciuart.Port.
func (p *Port) RequestTransfer(buf []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPortClosed
	}
	if p.armErr != nil {
		return p.armErr
	}
	p.window = buf
	p.remaining = len(buf)
	p.armed = true
	p.arms++
	return nil
}

// TransferStatus implements sciuart.Port.
func (p *Port) TransferStatus() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.statusErr != nil {
		return 0, p.statusErr
	}
	return p.remaining, nil
}

// SendUnit implements sciuart.Port.
func (p *Port) SendUnit(unit []byte) error {
	if len(unit) != 1 {
		return errors.New("simhal: unit must be one byte")
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPortClosed
	}
	if p.sendErr != nil {
		err := p.sendErr
		p.mu.Unlock()
		return err
	}
	if p.inflight {
		p.mu.Unlock()
		return ErrUnitInFlight
	}
	p.inflight = true
	p.pending = unit[0]
	p.sends++
	p.mu.Unlock()

	if !p.manual {
		p.units <- unit[0]
	}
	return nil
}

// Close implements sciuart.Port. It stops the transmit engine and waits for it.
func (p *Port) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.armed = false
	p.mu.Unlock()

	close(p.stop)
	p.wg.Wait()
	p.log.Debug("port closed")
	return nil
}

func (p *Port) txEngine() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		case <-p.units:
			if p.delay > 0 {
				select {
				case <-time.After(p.delay):
				case <-p.stop:
					return
				}
			}
			p.CompleteTx()
		}
	}
}

// CompleteTx finishes the unit in flight: it is appended to the sink,
// looped back if configured, and EventTxComplete is delivered. It reports
// false if nothing was in flight.
func (p *Port) CompleteTx() bool {
	p.mu.Lock()
	if !p.inflight || p.closed {
		p.mu.Unlock()
		return false
	}
	b := p.pending
	p.inflight = false
	p.sent = append(p.sent, b)
	p.mu.Unlock()

	if dst, ok := p.hal.loopTarget(p.cfg.Channel); ok {
		dst.Inject(b)
	}
	p.cfg.Callback(sciuart.Event{Channel: p.cfg.Channel, Kind: sciuart.EventTxComplete})
	return true
}

// Inject simulates bytes arriving on the line. Each byte is written to the
// armed window; when the window fills EventRxComplete is delivered before
// the next byte is placed. Bytes arriving with no window armed are dropped
// and counted; the count is returned.
func (p *Port) Inject(data ...byte) int {
	dropped := 0
	for _, b := range data {
		p.mu.Lock()
		if !p.armed || p.closed {
			p.dropped++
			dropped++
			p.mu.Unlock()
			continue
		}
		p.window[len(p.window)-p.remaining] = b
		p.remaining--
		full := p.remaining == 0
		if full {
			p.armed = false
		}
		p.mu.Unlock()

		if full {
			p.cfg.Callback(sciuart.Event{Channel: p.cfg.Channel, Kind: sciuart.EventRxComplete})
		}
	}
	return dropped
}

// InjectEvent delivers an arbitrary event, e.g. a line error.
func (p *Port) InjectEvent(kind sciuart.EventKind) {
	p.cfg.Callback(sciuart.Event{Channel: p.cfg.Channel, Kind: kind})
}

// Sent returns a copy of every unit that has completed.
func (p *Port) Sent() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.sent...)
}

// SendCalls returns how many SendUnit requests were accepted.
func (p *Port) SendCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sends
}

// InFlight reports whether a unit is waiting for completion.
func (p *Port) InFlight() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inflight
}

// Armed reports whether a receive window is armed.
func (p *Port) Armed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.armed
}

// Arms returns how many receive windows have been armed.
func (p *Port) Arms() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.arms
}

// Dropped returns the number of bytes that arrived with no window armed.
func (p *Port) Dropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Closed reports whether Close has been called.
func (p *Port) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// FailArm makes RequestTransfer fail with err. A nil err clears it.
func (p *Port) FailArm(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.armErr = err
}

// FailStatus makes TransferStatus fail with err. A nil err clears it.
func (p *Port) FailStatus(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statusErr = err
}

// FailSend makes SendUnit fail with err. A nil err clears it.
func (p *Port) FailSend(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sendErr = err
}
