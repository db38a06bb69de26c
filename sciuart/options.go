package sciuart

import (
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// LineErrorFunc is called from the event context for parity, framing and
// overflow events. It must not block.
type LineErrorFunc func(channel int, kind EventKind)

type options struct {
	rxSize      int
	txSize      int
	logger      *zap.Logger
	clock       clock.Clock
	onLineError LineErrorFunc
}

func defaultOptions() options {
	return options{
		rxSize: DefaultBufferSize,
		txSize: DefaultBufferSize,
		logger: zap.NewNop(),
		clock:  clock.New(),
	}
}

// Option configures a Channel created by Registry.NewChannel.
type Option func(*options)

// WithRxBufferSize sets the receive window size (power of two).
func WithRxBufferSize(n int) Option { return func(o *options) { o.rxSize = n } }

// WithTxBufferSize sets the transmit ring size (power of two).
func WithTxBufferSize(n int) Option { return func(o *options) { o.txSize = n } }

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock replaces the clock used for poll ticks and timeouts.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLineErrorHandler registers a callback for line errors.
func WithLineErrorHandler(fn LineErrorFunc) Option {
	return func(o *options) { o.onLineError = fn }
}
