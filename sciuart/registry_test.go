package sciuart_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jangala-dev/tinygo-sciuart/sciuart"
	"github.com/jangala-dev/tinygo-sciuart/sciuart/simhal"
)

func newRegistry(t *testing.T, opts ...simhal.Option) (*sciuart.Registry, *simhal.HAL) {
	t.Helper()
	hal := simhal.New(opts...)
	reg := sciuart.NewRegistry(hal, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = reg.Close() })
	return reg, hal
}

func TestRegistry_ChannelIndexRange(t *testing.T) {
	reg, _ := newRegistry(t)
	for _, id := range []int{-1, sciuart.MaxChannels, 42} {
		_, err := reg.NewChannel(id)
		assert.ErrorIs(t, err, sciuart.ErrConfiguration, "id %d", id)
	}
	_, err := reg.NewChannel(sciuart.MaxChannels - 1)
	assert.NoError(t, err)
}

func TestRegistry_DuplicateChannel(t *testing.T) {
	reg, _ := newRegistry(t)
	first, err := reg.NewChannel(3)
	require.NoError(t, err)

	_, err = reg.NewChannel(3)
	assert.ErrorIs(t, err, sciuart.ErrConfiguration)

	got, ok := reg.Channel(3)
	require.True(t, ok)
	assert.Same(t, first, got)
}

func TestRegistry_Lookup(t *testing.T) {
	reg, _ := newRegistry(t)
	reg.MustChannel(7)
	reg.MustChannel(2)

	_, ok := reg.Channel(5)
	assert.False(t, ok)
	_, ok = reg.Channel(-3)
	assert.False(t, ok)

	chs := reg.Channels()
	require.Len(t, chs, 2)
	assert.Equal(t, 2, chs[0].ID())
	assert.Equal(t, 7, chs[1].ID())
}

func TestRegistry_MustChannelPanicsOnDuplicate(t *testing.T) {
	reg, _ := newRegistry(t)
	reg.MustChannel(0)
	assert.Panics(t, func() { reg.MustChannel(0) })
}

func TestRegistry_DispatchRoutesByChannel(t *testing.T) {
	reg, hal := newRegistry(t, simhal.WithManualTx())
	a := reg.MustChannel(1, sciuart.WithRxBufferSize(4))
	b := reg.MustChannel(4, sciuart.WithRxBufferSize(4))
	require.NoError(t, a.BeginDefault(0))
	require.NoError(t, b.BeginDefault(0))

	pa, _ := hal.Port(1)
	pb, _ := hal.Port(4)
	pa.Inject('a', 'a', 'a', 'a')
	pb.InjectEvent(sciuart.EventParityError)

	assert.Equal(t, uint64(1), a.Stats().RxWindows)
	assert.Zero(t, b.Stats().RxWindows)
	assert.Equal(t, uint64(1), b.Stats().ErrParity)
	assert.Zero(t, a.Stats().ErrParity)
}

func TestRegistry_DispatchUnknownChannelDropped(t *testing.T) {
	reg, _ := newRegistry(t)
	reg.MustChannel(0)

	reg.Dispatch(sciuart.Event{Channel: 6, Kind: sciuart.EventRxComplete})
	reg.Dispatch(sciuart.Event{Channel: 99, Kind: sciuart.EventTxComplete})
	assert.Equal(t, uint64(2), reg.DroppedEvents())
}

func TestRegistry_DispatchBeforeBeginIsSpurious(t *testing.T) {
	reg, _ := newRegistry(t)
	c := reg.MustChannel(0)

	reg.Dispatch(sciuart.Event{Channel: 0, Kind: sciuart.EventRxComplete})
	assert.Equal(t, uint64(1), c.Stats().SpuriousEvents)
	assert.Zero(t, c.Stats().RxWindows)
	assert.Zero(t, reg.DroppedEvents())
}

func TestRegistry_CloseEndsAllChannels(t *testing.T) {
	reg, hal := newRegistry(t)
	a := reg.MustChannel(0)
	b := reg.MustChannel(1)
	reg.MustChannel(2) // never begun
	require.NoError(t, a.BeginDefault(9600))
	require.NoError(t, b.BeginDefault(9600))

	require.NoError(t, reg.Close())
	assert.False(t, a.Ready())
	assert.False(t, b.Ready())
	for _, id := range []int{0, 1} {
		p, ok := hal.Port(id)
		require.True(t, ok)
		assert.True(t, p.Closed())
	}
}
