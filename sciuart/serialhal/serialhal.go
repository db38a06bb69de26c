// Package serialhal backs sciuart channels with host serial ports through
// go.bug.st/serial. A reader goroutine fills the armed receive window the
// way a DTC would and a writer goroutine transmits one unit at a time,
// raising the same completion events as the on-chip hardware.
package serialhal

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jangala-dev/tinygo-sciuart/sciuart"
)

// DefaultReadTimeout bounds each blocking read so the reader notices Close.
const DefaultReadTimeout = 50 * time.Millisecond

var (
	// ErrUnitInFlight is returned by SendUnit when the previous unit has not completed.
	ErrUnitInFlight = errors.New("serialhal: unit already in flight")
	// ErrPortClosed is returned by SendUnit after Close.
	ErrPortClosed = errors.New("serialhal: port closed")
)

// Opener opens a serial port. serial.Open is the default.
type Opener func(path string, mode *serial.Mode) (serial.Port, error)

// Option configures a HAL.
type Option func(*HAL)

// WithOpener replaces serial.Open, e.g. with a fake port in tests.
func WithOpener(fn Opener) Option { return func(h *HAL) { h.open = fn } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(h *HAL) { h.log = l } }

// WithReadTimeout sets the per-read timeout of the reader goroutine.
func WithReadTimeout(d time.Duration) Option { return func(h *HAL) { h.readTimeout = d } }

// HAL maps channel indices to serial device paths.
type HAL struct {
	paths       map[int]string
	open        Opener
	log         *zap.Logger
	readTimeout time.Duration
}

var _ sciuart.HAL = (*HAL)(nil)

// New returns a HAL that opens paths[ch] for channel ch.
func New(paths map[int]string, opts ...Option) *HAL {
	h := &HAL{
		paths:       paths,
		open:        serial.Open,
		log:         zap.NewNop(),
		readTimeout: DefaultReadTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.Named("serialhal")
	return h
}

// Mode converts a baud rate and frame into the serial.Mode used to open a port.
func Mode(baud uint32, f sciuart.Frame) (*serial.Mode, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	mode := &serial.Mode{
		BaudRate: int(baud),
		DataBits: int(f.DataBits),
		StopBits: serial.OneStopBit,
	}
	if f.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	switch f.Parity {
	case sciuart.ParityNone:
		mode.Parity = serial.NoParity
	case sciuart.ParityEven:
		mode.Parity = serial.EvenParity
	case sciuart.ParityOdd:
		mode.Parity = serial.OddParity
	default:
		return nil, fmt.Errorf("unsupported parity %d", f.Parity)
	}
	return mode, nil
}

// Open implements sciuart.HAL.
func (h *HAL) Open(cfg sciuart.PortConfig) (sciuart.Port, error) {
	path, ok := h.paths[cfg.Channel]
	if !ok {
		return nil, fmt.Errorf("%w: no serial device for channel %d", sciuart.ErrConfiguration, cfg.Channel)
	}
	mode, err := Mode(cfg.BaudRate, cfg.Frame)
	if err != nil {
		return nil, err
	}
	sp, err := h.open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := sp.SetReadTimeout(h.readTimeout); err != nil {
		return nil, multierr.Append(fmt.Errorf("set read timeout: %w", err), sp.Close())
	}

	p := &Port{
		cfg:   cfg,
		sp:    sp,
		log:   h.log.With(zap.Int("channel", cfg.Channel), zap.String("path", path)),
		units: make(chan byte, 1),
		stop:  make(chan struct{}),
	}
	p.g.Go(p.reader)
	p.g.Go(p.writer)
	p.log.Info("serial port open", zap.Int("baud", mode.BaudRate), zap.Stringer("frame", cfg.Frame))
	return p, nil
}

// Port is an open serial-backed channel.
type Port struct {
	cfg sciuart.PortConfig
	sp  serial.Port
	log *zap.Logger

	mu        sync.Mutex
	window    []byte
	remaining int
	armed     bool
	inflight  bool
	readErr   error
	writeErr  error

	units     chan byte
	stop      chan struct{}
	g         errgroup.Group
	closeOnce sync.Once
	closeErr  error
}

var _ sciuart.Port = (*Port)(nil)

// RequestTransfer implements sciuart.Port.
func (p *Port) RequestTransfer(buf []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.window = buf
	p.remaining = len(buf)
	p.armed = true
	return nil
}

// TransferStatus implements sciuart.Port. It fails once the reader has
// stopped on a port error.
func (p *Port) TransferStatus() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readErr != nil {
		return 0, p.readErr
	}
	return p.remaining, nil
}

// SendUnit implements sciuart.Port.
func (p *Port) SendUnit(unit []byte) error {
	if len(unit) != 1 {
		return errors.New("serialhal: unit must be one byte")
	}
	p.mu.Lock()
	if p.writeErr != nil {
		err := p.writeErr
		p.mu.Unlock()
		return err
	}
	if p.inflight {
		p.mu.Unlock()
		return ErrUnitInFlight
	}
	p.inflight = true
	p.mu.Unlock()

	select {
	case p.units <- unit[0]:
		return nil
	case <-p.stop:
		return ErrPortClosed
	}
}

// Close implements sciuart.Port. It closes the serial port and waits for
// the reader and writer goroutines.
func (p *Port) Close() error {
	p.closeOnce.Do(func() {
		close(p.stop)
		err := p.sp.Close()
		p.closeErr = multierr.Combine(err, p.g.Wait())
		p.log.Info("serial port closed")
	})
	return p.closeErr
}

func (p *Port) stopping() bool {
	select {
	case <-p.stop:
		return true
	default:
		return false
	}
}

func (p *Port) emit(kind sciuart.EventKind) {
	p.cfg.Callback(sciuart.Event{Channel: p.cfg.Channel, Kind: kind})
}

// reader moves bytes from the serial port into the armed window. Bytes that
// arrive while no window is armed are lost, as on the hardware, and reported
// as an overflow.
func (p *Port) reader() error {
	var tmp [64]byte
	for {
		n, err := p.sp.Read(tmp[:])
		if p.stopping() {
			return nil
		}
		if err != nil {
			err = fmt.Errorf("read: %w", err)
			p.mu.Lock()
			p.readErr = err
			p.mu.Unlock()
			p.log.Error("serial read failed", zap.Error(err))
			p.emit(sciuart.EventOther)
			return err
		}
		for _, b := range tmp[:n] {
			p.mu.Lock()
			if !p.armed {
				p.mu.Unlock()
				p.emit(sciuart.EventOverflowError)
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
				p.emit(sciuart.EventRxComplete)
			}
		}
	}
}

// writer transmits queued units. A failed write still completes the unit
// so the driver sees the error on its next SendUnit.
func (p *Port) writer() error {
	for {
		select {
		case <-p.stop:
			return nil
		case b := <-p.units:
			_, err := p.sp.Write([]byte{b})
			p.mu.Lock()
			p.inflight = false
			if err != nil && p.writeErr == nil {
				p.writeErr = err
				p.log.Error("serial write failed", zap.Error(err))
			}
			p.mu.Unlock()
			if p.stopping() {
				return nil
			}
			p.emit(sciuart.EventTxComplete)
		}
	}
}
