package sciuart

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// MaxChannels is the number of hardware channel slots a Registry holds.
const MaxChannels = 10

// Registry maps hardware channel indices to their Channel so a shared
// hardware callback can dispatch events. Channels live as long as the
// registry; there is no unregister.
type Registry struct {
	hal      HAL
	log      *zap.Logger
	channels [MaxChannels]atomic.Pointer[Channel]
	dropped  atomic.Uint64
}

// NewRegistry returns a registry whose channels open ports on hal.
// A nil logger disables logging.
func NewRegistry(hal HAL, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{hal: hal, log: logger.Named("sciuart")}
}

// NewChannel creates and registers the channel with index id. An index
// outside [0, MaxChannels) or one already registered is a configuration error.
func (r *Registry) NewChannel(id int, opts ...Option) (*Channel, error) {
	if id < 0 || id >= MaxChannels {
		return nil, fmt.Errorf("%w: channel %d outside [0, %d)", ErrConfiguration, id, MaxChannels)
	}
	o := defaultOptions()
	o.logger = r.log
	for _, opt := range opts {
		opt(&o)
	}
	c := newChannel(id, r, o)
	if !r.channels[id].CompareAndSwap(nil, c) {
		return nil, fmt.Errorf("%w: channel %d already registered", ErrConfiguration, id)
	}
	return c, nil
}

// MustChannel is NewChannel for static setup; it panics on error.
func (r *Registry) MustChannel(id int, opts ...Option) *Channel {
	c, err := r.NewChannel(id, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Channel returns the channel registered at id.
func (r *Registry) Channel(id int) (*Channel, bool) {
	if id < 0 || id >= MaxChannels {
		return nil, false
	}
	c := r.channels[id].Load()
	return c, c != nil
}

// Channels returns the registered channels in index order.
func (r *Registry) Channels() []*Channel {
	var out []*Channel
	for i := range r.channels {
		if c := r.channels[i].Load(); c != nil {
			out = append(out, c)
		}
	}
	return out
}

// Dispatch forwards a hardware event to its channel. It is the callback
// handed to the HAL and runs in the event context. Events for unknown
// channels are dropped and counted.
func (r *Registry) Dispatch(ev Event) {
	c, ok := r.Channel(ev.Channel)
	if !ok {
		r.dropped.Add(1)
		return
	}
	c.handleEvent(ev.Kind)
}

// DroppedEvents returns how many events had no registered channel.
func (r *Registry) DroppedEvents() uint64 { return r.dropped.Load() }

// Close ends every registered channel and returns the combined errors.
func (r *Registry) Close() error {
	var err error
	for _, c := range r.Channels() {
		err = multierr.Append(err, c.End())
	}
	return err
}
