package sciuart_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jangala-dev/tinygo-sciuart/sciuart"
	"github.com/jangala-dev/tinygo-sciuart/sciuart/simhal"
)

// rig is a registry with one channel (index 0) on a simulated HAL.
type rig struct {
	hal *simhal.HAL
	reg *sciuart.Registry
	ch  *sciuart.Channel
}

func newRig(t *testing.T, halOpts []simhal.Option, opts ...sciuart.Option) *rig {
	t.Helper()
	hal := simhal.New(halOpts...)
	reg := sciuart.NewRegistry(hal, zaptest.NewLogger(t))
	ch, err := reg.NewChannel(0, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })
	return &rig{hal: hal, reg: reg, ch: ch}
}

// newManualRig completes TX units only when the test calls CompleteTx.
func newManualRig(t *testing.T, opts ...sciuart.Option) *rig {
	return newRig(t, []simhal.Option{simhal.WithManualTx()}, opts...)
}

func (r *rig) begin(t *testing.T) *simhal.Port {
	t.Helper()
	require.NoError(t, r.ch.Begin(115200, sciuart.Frame8N1))
	return r.port(t)
}

func (r *rig) port(t *testing.T) *simhal.Port {
	t.Helper()
	p, ok := r.hal.Port(r.ch.ID())
	require.True(t, ok, "no port opened for channel %d", r.ch.ID())
	return p
}
