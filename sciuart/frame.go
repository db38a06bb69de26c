package sciuart

import (
	"fmt"
	"strings"
)

// Parity defines the parity setting used for UART communication.
type Parity uint8

const (
	// ParityNone disables parity generation and checking (the most common setting).
	ParityNone Parity = iota
	// ParityEven sets even parity (total number of 1 bits is even).
	ParityEven
	// ParityOdd sets odd parity (total number of 1 bits is odd).
	ParityOdd
)

func (p Parity) letter() byte {
	switch p {
	case ParityEven:
		return 'E'
	case ParityOdd:
		return 'O'
	default:
		return 'N'
	}
}

// Frame is a character format: data bits, parity and stop bits.
type Frame struct {
	DataBits uint8
	Parity   Parity
	StopBits uint8
}

// Frame presets recognised by Begin.
var (
	Frame8N1 = Frame{DataBits: 8, Parity: ParityNone, StopBits: 1}
	Frame8N2 = Frame{DataBits: 8, Parity: ParityNone, StopBits: 2}
	Frame8E1 = Frame{DataBits: 8, Parity: ParityEven, StopBits: 1}
	Frame8E2 = Frame{DataBits: 8, Parity: ParityEven, StopBits: 2}
	Frame8O1 = Frame{DataBits: 8, Parity: ParityOdd, StopBits: 1}
	Frame8O2 = Frame{DataBits: 8, Parity: ParityOdd, StopBits: 2}
)

// String returns the conventional short name, e.g. "8N1".
func (f Frame) String() string {
	return fmt.Sprintf("%d%c%d", f.DataBits, f.Parity.letter(), f.StopBits)
}

// Validate checks data bits (5..8), parity and stop bits (1 or 2).
func (f Frame) Validate() error {
	if f.DataBits < 5 || f.DataBits > 8 {
		return fmt.Errorf("%w: invalid data bits %d", ErrConfiguration, f.DataBits)
	}
	if f.StopBits != 1 && f.StopBits != 2 {
		return fmt.Errorf("%w: invalid stop bits %d", ErrConfiguration, f.StopBits)
	}
	if f.Parity > ParityOdd {
		return fmt.Errorf("%w: invalid parity %d", ErrConfiguration, f.Parity)
	}
	return nil
}

// ParseFrame parses a name such as "8N1" or "7e2".
func ParseFrame(s string) (Frame, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) != 3 {
		return Frame{}, fmt.Errorf("%w: unknown frame %q", ErrConfiguration, s)
	}
	f := Frame{DataBits: s[0] - '0', StopBits: s[2] - '0'}
	switch s[1] {
	case 'N':
		f.Parity = ParityNone
	case 'E':
		f.Parity = ParityEven
	case 'O':
		f.Parity = ParityOdd
	default:
		return Frame{}, fmt.Errorf("%w: unknown parity in frame %q", ErrConfiguration, s)
	}
	if err := f.Validate(); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// BitsPerChar returns the number of bit times one character occupies on the line.
func (f Frame) BitsPerChar() int {
	n := 1 + int(f.DataBits) + int(f.StopBits)
	if f.Parity != ParityNone {
		n++
	}
	return n
}
