package sciuart

// EventKind identifies a completion or error reported by the hardware layer.
type EventKind uint8

const (
	// EventOther covers events the driver does not act on (RX char, break, TX data empty).
	EventOther EventKind = iota
	// EventRxComplete fires when the armed receive window has been filled.
	EventRxComplete
	// EventTxComplete fires when the unit passed to SendUnit has left the transmitter.
	EventTxComplete
	EventParityError
	EventFramingError
	EventOverflowError
)

func (k EventKind) String() string {
	switch k {
	case EventRxComplete:
		return "rx_complete"
	case EventTxComplete:
		return "tx_complete"
	case EventParityError:
		return "parity_error"
	case EventFramingError:
		return "framing_error"
	case EventOverflowError:
		return "overflow_error"
	default:
		return "other"
	}
}

// Event is delivered by the hardware layer from its interrupt context.
type Event struct {
	Channel int
	Kind    EventKind
}

// EventFunc receives hardware events. It runs in the hardware layer's
// interrupt context: it must not block and must not be re-entered for the
// same channel.
type EventFunc func(Event)

// PortConfig is passed to HAL.Open.
type PortConfig struct {
	Channel  int
	BaudRate uint32
	Frame    Frame
	Callback EventFunc
}

// HAL opens hardware UART channels.
type HAL interface {
	Open(cfg PortConfig) (Port, error)
}

// Port is an open hardware UART channel.
//
// RequestTransfer arms a receive window: the hardware fills buf from index 0
// and raises EventRxComplete when it is full. TransferStatus reports how many
// bytes of the active window are still untransferred. SendUnit starts
// transmission of a single unit (one byte) and raises EventTxComplete when it
// is done; only one unit is ever in flight.
type Port interface {
	RequestTransfer(buf []byte) error
	TransferStatus() (remaining int, err error)
	SendUnit(unit []byte) error
	Close() error
}
