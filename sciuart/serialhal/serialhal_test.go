package serialhal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
	"go.uber.org/zap/zaptest"

	"github.com/jangala-dev/tinygo-sciuart/sciuart"
)

// mockSerialPort is an in-memory serial.Port.
type mockSerialPort struct {
	mu          sync.Mutex
	mode        *serial.Mode
	readTimeout time.Duration
	readData    []byte
	readError   error
	written     []byte
	closed      bool
}

func (m *mockSerialPort) Break(time.Duration) error                            { return nil }
func (m *mockSerialPort) Drain() error                                         { return nil }
func (m *mockSerialPort) GetModemStatusBits() (*serial.ModemStatusBits, error) { return nil, nil }
func (m *mockSerialPort) ResetInputBuffer() error                              { return nil }
func (m *mockSerialPort) ResetOutputBuffer() error                             { return nil }
func (m *mockSerialPort) SetDTR(bool) error                                    { return nil }
func (m *mockSerialPort) SetMode(mode *serial.Mode) error                      { m.mode = mode; return nil }
func (m *mockSerialPort) SetRTS(bool) error                                    { return nil }

func (m *mockSerialPort) SetReadTimeout(t time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readTimeout = t
	return nil
}

func (m *mockSerialPort) Read(p []byte) (int, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, errors.New("port closed")
	}
	if m.readError != nil {
		err := m.readError
		m.mu.Unlock()
		return 0, err
	}
	if len(m.readData) == 0 {
		m.mu.Unlock()
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	n := copy(p, m.readData)
	m.readData = m.readData[n:]
	m.mu.Unlock()
	return n, nil
}

func (m *mockSerialPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.written = append(m.written, p...)
	return len(p), nil
}

func (m *mockSerialPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockSerialPort) feed(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readData = append(m.readData, data...)
}

func (m *mockSerialPort) failRead(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readError = err
}

func (m *mockSerialPort) writtenData() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.written...)
}

func (m *mockSerialPort) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func TestMode(t *testing.T) {
	mode, err := Mode(9600, sciuart.Frame8E2)
	require.NoError(t, err)
	want := &serial.Mode{
		BaudRate: 9600,
		DataBits: 8,
		Parity:   serial.EvenParity,
		StopBits: serial.TwoStopBits,
	}
	if diff := cmp.Diff(want, mode); diff != "" {
		t.Errorf("Mode(9600, 8E2) mismatch (-want +got):\n%s", diff)
	}

	mode, err = Mode(115200, sciuart.Frame{DataBits: 7, Parity: sciuart.ParityOdd, StopBits: 1})
	require.NoError(t, err)
	assert.Equal(t, 7, mode.DataBits)
	assert.Equal(t, serial.OddParity, mode.Parity)
	assert.Equal(t, serial.OneStopBit, mode.StopBits)

	_, err = Mode(9600, sciuart.Frame{DataBits: 8, StopBits: 3})
	assert.ErrorIs(t, err, sciuart.ErrConfiguration)
}

type fixture struct {
	mock *mockSerialPort
	path string
	ch   *sciuart.Channel
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{mock: &mockSerialPort{}}
	opener := func(path string, mode *serial.Mode) (serial.Port, error) {
		f.path = path
		f.mock.mode = mode
		return f.mock, nil
	}
	log := zaptest.NewLogger(t)
	hal := New(map[int]string{1: "/dev/ttyUSB1"},
		WithOpener(opener), WithLogger(log), WithReadTimeout(5*time.Millisecond))
	reg := sciuart.NewRegistry(hal, log)
	t.Cleanup(func() { _ = reg.Close() })

	ch, err := reg.NewChannel(1, sciuart.WithRxBufferSize(8))
	require.NoError(t, err)
	f.ch = ch
	return f
}

func TestOpen_MissingPath(t *testing.T) {
	h := New(map[int]string{}, WithOpener(func(string, *serial.Mode) (serial.Port, error) {
		t.Fatal("opener called for an unmapped channel")
		return nil, nil
	}))
	_, err := h.Open(sciuart.PortConfig{Channel: 0, BaudRate: 9600, Frame: sciuart.Frame8N1})
	assert.ErrorIs(t, err, sciuart.ErrConfiguration)
}

func TestOpen_OpenerError(t *testing.T) {
	boom := errors.New("no such device")
	h := New(map[int]string{0: "/dev/null0"}, WithOpener(func(string, *serial.Mode) (serial.Port, error) {
		return nil, boom
	}))
	_, err := h.Open(sciuart.PortConfig{Channel: 0, BaudRate: 9600, Frame: sciuart.Frame8N1})
	assert.ErrorIs(t, err, boom)
}

func TestChannel_WriteAndReadThroughSerialPort(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ch.Begin(19200, sciuart.Frame8E1))

	assert.Equal(t, "/dev/ttyUSB1", f.path)
	assert.Equal(t, 19200, f.mock.mode.BaudRate)
	assert.Equal(t, serial.EvenParity, f.mock.mode.Parity)

	_, err := f.ch.Write([]byte("ping"))
	require.NoError(t, err)
	require.NoError(t, f.ch.Flush())
	assert.Equal(t, []byte("ping"), f.mock.writtenData())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// The second chunk completes the eight-byte window and wraps.
	var got []byte
	for _, chunk := range []string{"pong-", "pong-ok"} {
		f.mock.feed([]byte(chunk))
		buf := make([]byte, len(chunk))
		n, err := f.ch.ReadFullContext(ctx, buf)
		require.NoError(t, err)
		got = append(got, buf[:n]...)
	}
	assert.Equal(t, "pong-pong-ok", string(got))

	s := f.ch.Stats()
	assert.Equal(t, uint64(1), s.RxWindows)
	assert.Zero(t, s.RxOverruns)
}

func TestChannel_ReadErrorFaults(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ch.BeginDefault(0))

	boom := errors.New("device unplugged")
	f.mock.failRead(boom)

	require.Eventually(t, func() bool {
		f.ch.Available()
		return !f.ch.Ready()
	}, time.Second, time.Millisecond)
	assert.ErrorIs(t, f.ch.Fault(), boom)
}

func TestChannel_EndClosesSerialPort(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ch.BeginDefault(9600))
	require.NoError(t, f.ch.End())
	assert.True(t, f.mock.isClosed())
	assert.False(t, f.ch.Ready())
}
