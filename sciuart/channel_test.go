package sciuart_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jangala-dev/tinygo-sciuart/sciuart"
)

func TestBegin_OpensPortAndArmsReceive(t *testing.T) {
	r := newManualRig(t, sciuart.WithRxBufferSize(64))
	require.NoError(t, r.ch.Begin(9600, sciuart.Frame8E2))
	p := r.port(t)

	assert.True(t, r.ch.Ready())
	assert.True(t, p.Armed())
	assert.Equal(t, 1, p.Arms())
	assert.Equal(t, uint32(9600), p.Config().BaudRate)
	assert.Equal(t, sciuart.Frame8E2, p.Config().Frame)

	baud, frame := r.ch.Config()
	assert.Equal(t, uint32(9600), baud)
	assert.Equal(t, sciuart.Frame8E2, frame)
}

func TestBeginDefault_Uses8N1AndDefaultBaud(t *testing.T) {
	r := newManualRig(t)
	require.NoError(t, r.ch.BeginDefault(0))
	cfg := r.port(t).Config()
	assert.Equal(t, uint32(sciuart.DefaultBaudRate), cfg.BaudRate)
	assert.Equal(t, sciuart.Frame8N1, cfg.Frame)
}

func TestChannel_NotReadyBeforeBegin(t *testing.T) {
	r := newManualRig(t)
	c := r.ch

	assert.False(t, c.Ready())
	assert.Equal(t, 0, c.Available())

	_, err := c.Peek()
	assert.ErrorIs(t, err, sciuart.ErrNotReady)
	_, err = c.ReadByte()
	assert.ErrorIs(t, err, sciuart.ErrNotReady)
	assert.ErrorIs(t, c.TryWriteByte('a'), sciuart.ErrNotReady)
	assert.ErrorIs(t, c.WriteByte('a'), sciuart.ErrNotReady)
	assert.ErrorIs(t, c.Flush(), sciuart.ErrNotReady)
	n, err := c.Write([]byte("abc"))
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, sciuart.ErrNotReady)
}

func TestBegin_OpenFailureLeavesChannelNotReady(t *testing.T) {
	r := newManualRig(t)
	boom := errors.New("R_SCI_UART_Open failed")
	r.hal.FailOpen(0, boom)

	err := r.ch.Begin(115200, sciuart.Frame8N1)
	require.Error(t, err)
	assert.ErrorIs(t, err, sciuart.ErrHardwareFault)
	assert.ErrorIs(t, err, boom)

	var hf *sciuart.HardwareFault
	require.ErrorAs(t, err, &hf)
	assert.Equal(t, "open", hf.Op)
	assert.Equal(t, 0, hf.Channel)

	assert.False(t, r.ch.Ready())
	assert.Equal(t, 0, r.ch.Available())
	_, err = r.ch.ReadByte()
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, r.ch.WriteByte('x'), sciuart.ErrHardwareFault)
	assert.Equal(t, uint64(1), r.ch.Stats().HardwareFaults)

	// A later Begin recovers.
	require.NoError(t, r.ch.Begin(115200, sciuart.Frame8N1))
	assert.True(t, r.ch.Ready())
	assert.NoError(t, r.ch.Fault())
}

func TestBegin_ArmFailureClosesPort(t *testing.T) {
	r := newManualRig(t)
	r.hal.FailNextArm(0, errors.New("R_SCI_UART_Read failed"))

	err := r.ch.Begin(115200, sciuart.Frame8N1)
	assert.ErrorIs(t, err, sciuart.ErrHardwareFault)
	assert.False(t, r.ch.Ready())
	assert.True(t, r.port(t).Closed())
}

func TestBegin_InvalidFrameIsConfigurationError(t *testing.T) {
	r := newManualRig(t)
	err := r.ch.Begin(9600, sciuart.Frame{DataBits: 9, StopBits: 1})
	assert.ErrorIs(t, err, sciuart.ErrConfiguration)
	assert.False(t, r.ch.Ready())
	assert.Equal(t, 0, r.hal.Opens(0))
}

func TestBegin_InvalidBufferSizeIsConfigurationError(t *testing.T) {
	r := newManualRig(t, sciuart.WithRxBufferSize(100))
	err := r.ch.Begin(9600, sciuart.Frame8N1)
	assert.ErrorIs(t, err, sciuart.ErrConfiguration)
	assert.False(t, r.ch.Ready())
}

func TestBegin_WhileOpenReconfiguresInPlace(t *testing.T) {
	r := newManualRig(t)
	first := r.begin(t)
	first.Inject('a', 'b')
	require.NoError(t, r.ch.WriteByte('z'))

	require.NoError(t, r.ch.Begin(57600, sciuart.Frame8O1))
	second := r.port(t)

	assert.NotSame(t, first, second)
	assert.True(t, first.Closed())
	assert.Equal(t, 2, r.hal.Opens(0))
	assert.Equal(t, uint32(57600), second.Config().BaudRate)
	assert.True(t, r.ch.Ready())
	assert.Equal(t, 0, r.ch.Available(), "reconfigure resets the receive window")
	assert.False(t, r.ch.Sending())
	assert.NoError(t, r.ch.Flush())
}

func TestEnd_ThenBeginAgain(t *testing.T) {
	r := newManualRig(t)
	p := r.begin(t)
	require.NoError(t, r.ch.End())
	assert.True(t, p.Closed())
	assert.False(t, r.ch.Ready())
	assert.ErrorIs(t, r.ch.WriteByte('x'), sciuart.ErrNotReady)

	// End twice is harmless.
	require.NoError(t, r.ch.End())

	p2 := r.begin(t)
	p2.Inject('k')
	b, err := r.ch.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte('k'), b)
}

func TestEnd_ReleasesBlockedFlush(t *testing.T) {
	r := newManualRig(t)
	r.begin(t)
	require.NoError(t, r.ch.WriteByte('a'))

	done := make(chan error, 1)
	go func() { done <- r.ch.Flush() }()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, r.ch.End())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, sciuart.ErrNotReady)
	case <-time.After(time.Second):
		t.Fatal("Flush did not return after End")
	}
}

func TestLineErrors_CountedAndReported(t *testing.T) {
	type report struct {
		ch   int
		kind sciuart.EventKind
	}
	got := make(chan report, 8)
	r := newManualRig(t, sciuart.WithLineErrorHandler(func(ch int, kind sciuart.EventKind) {
		got <- report{ch, kind}
	}))
	p := r.begin(t)

	p.InjectEvent(sciuart.EventParityError)
	p.InjectEvent(sciuart.EventFramingError)
	p.InjectEvent(sciuart.EventFramingError)
	p.InjectEvent(sciuart.EventOverflowError)
	p.InjectEvent(sciuart.EventOther)

	s := r.ch.Stats()
	assert.Equal(t, uint64(1), s.ErrParity)
	assert.Equal(t, uint64(2), s.ErrFraming)
	assert.Equal(t, uint64(1), s.ErrOverflow)
	require.Len(t, got, 4)
	assert.Equal(t, report{0, sciuart.EventParityError}, <-got)

	// Line errors do not interrupt the stream.
	assert.True(t, r.ch.Ready())
	p.Inject('o', 'k')
	assert.Equal(t, 2, r.ch.Available())

	r.ch.ResetStats()
	assert.Equal(t, sciuart.Stats{}, r.ch.Stats())
}

func TestWriteByteContext_Cancelled(t *testing.T) {
	r := newManualRig(t, sciuart.WithTxBufferSize(2))
	r.begin(t)
	require.NoError(t, r.ch.WriteByte('a')) // fills the ring (size-1)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := r.ch.WriteByteContext(ctx, 'b')
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEnd_RacesPollingReaderAndWriter(t *testing.T) {
	r := newRig(t, nil, sciuart.WithRxBufferSize(16), sciuart.WithTxBufferSize(16))

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
			}
			r.ch.Available()
			r.ch.TxFree()
			if err := r.ch.TryWriteByte('x'); err != nil &&
				!errors.Is(err, sciuart.ErrNotReady) &&
				!errors.Is(err, sciuart.ErrWouldBlock) &&
				!errors.Is(err, sciuart.ErrHardwareFault) {
				t.Errorf("TryWriteByte: %v", err)
			}
			if _, err := r.ch.ReadByte(); err != nil &&
				!errors.Is(err, sciuart.ErrNotReady) &&
				!errors.Is(err, sciuart.ErrBufferEmpty) &&
				!errors.Is(err, sciuart.ErrHardwareFault) {
				t.Errorf("ReadByte: %v", err)
			}
		}
	}()

	for i := 0; i < 300; i++ {
		require.NoError(t, r.ch.BeginDefault(115200))
		_ = r.ch.End()
	}
	close(stop)
	<-done

	assert.False(t, r.ch.Ready())
	assert.Equal(t, 0, r.ch.Available())
}
