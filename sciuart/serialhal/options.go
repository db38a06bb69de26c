package serialhal

import (
	"fmt"
	"strings"

	"go.bug.st/serial"

	"github.com/jangala-dev/tinygo-sciuart/sciuart"
)

// PortOptions describes one serial-backed channel as it appears in a
// configuration file.
type PortOptions struct {
	Path     string `json:"path"`
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// Normalize validates the options and applies defaults for any unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o

	if strings.TrimSpace(opts.Path) == "" {
		return opts, fmt.Errorf("%w: serial path is empty", sciuart.ErrConfiguration)
	}
	if opts.BaudRate <= 0 {
		opts.BaudRate = sciuart.DefaultBaudRate
	}
	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.StopBits == 0 {
		opts.StopBits = 1
	}

	switch p := strings.TrimSpace(strings.ToUpper(opts.Parity)); p {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("%w: unsupported parity %q: expected N, E, or O", sciuart.ErrConfiguration, o.Parity)
	}

	if _, err := opts.frame(); err != nil {
		return opts, err
	}
	return opts, nil
}

func (o PortOptions) frame() (sciuart.Frame, error) {
	if o.DataBits < 0 || o.DataBits > 255 || o.StopBits < 0 || o.StopBits > 255 {
		return sciuart.Frame{}, fmt.Errorf("%w: data bits %d, stop bits %d", sciuart.ErrConfiguration, o.DataBits, o.StopBits)
	}
	f := sciuart.Frame{DataBits: uint8(o.DataBits), StopBits: uint8(o.StopBits)}
	switch o.Parity {
	case "E":
		f.Parity = sciuart.ParityEven
	case "O":
		f.Parity = sciuart.ParityOdd
	}
	return f, f.Validate()
}

// Frame returns the normalized character frame.
func (o PortOptions) Frame() (sciuart.Frame, error) {
	opts, err := o.Normalize()
	if err != nil {
		return sciuart.Frame{}, err
	}
	return opts.frame()
}

// SerialMode converts the port options into the serial.Mode required by
// go.bug.st/serial when opening a port.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	f, err := opts.frame()
	if err != nil {
		return nil, err
	}
	return Mode(uint32(opts.BaudRate), f)
}
