package serialmux

import (
	"fmt"
	"strings"

	"go.bug.st/serial"
)

// DefaultBaudRate is the eye tracker's line rate.
const DefaultBaudRate = 115200

// DefaultFraming is the tracker's character framing.
const DefaultFraming = "8N1"

// PortOptions configures the serial link. The zero value is the tracker's
// native 115200 8N1.
type PortOptions struct {
	BaudRate int `json:"baud_rate"`
	// Framing is data bits, parity letter and stop bits, e.g. "8N1" or "7E2".
	Framing string `json:"framing,omitempty"`
}

type framing struct {
	dataBits int
	parity   serial.Parity
	letter   byte
	stopBits serial.StopBits
	stopN    int
}

func parseFraming(s string) (framing, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		s = DefaultFraming
	}
	if len(s) != 3 {
		return framing{}, fmt.Errorf("invalid framing %q: want <data><parity><stop>, e.g. 8N1", s)
	}
	f := framing{dataBits: int(s[0] - '0'), letter: s[1], stopN: int(s[2] - '0')}
	if f.dataBits < 5 || f.dataBits > 8 {
		return framing{}, fmt.Errorf("invalid framing %q: data bits must be between 5 and 8", s)
	}
	switch f.letter {
	case 'N':
		f.parity = serial.NoParity
	case 'E':
		f.parity = serial.EvenParity
	case 'O':
		f.parity = serial.OddParity
	default:
		return framing{}, fmt.Errorf("invalid framing %q: parity must be N, E or O", s)
	}
	switch f.stopN {
	case 1:
		f.stopBits = serial.OneStopBit
	case 2:
		f.stopBits = serial.TwoStopBits
	default:
		return framing{}, fmt.Errorf("invalid framing %q: stop bits must be 1 or 2", s)
	}
	return f, nil
}

// Normalize fills defaults and canonicalises Framing.
func (o PortOptions) Normalize() (PortOptions, error) {
	if o.BaudRate < 0 {
		return o, fmt.Errorf("invalid baud rate %d", o.BaudRate)
	}
	if o.BaudRate == 0 {
		o.BaudRate = DefaultBaudRate
	}
	f, err := parseFraming(o.Framing)
	if err != nil {
		return o, err
	}
	o.Framing = fmt.Sprintf("%d%c%d", f.dataBits, f.letter, f.stopN)
	return o, nil
}

// Equal reports whether both options open the link the same way.
func (o PortOptions) Equal(other PortOptions) bool {
	a, errA := o.Normalize()
	b, errB := other.Normalize()
	return errA == nil && errB == nil && a == b
}

func (o PortOptions) String() string {
	n, err := o.Normalize()
	if err != nil {
		return fmt.Sprintf("invalid(%d %s)", o.BaudRate, o.Framing)
	}
	return fmt.Sprintf("%d %s", n.BaudRate, n.Framing)
}

// SerialMode converts the options for go.bug.st/serial.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	n, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	f, _ := parseFraming(n.Framing)
	return &serial.Mode{
		BaudRate: n.BaudRate,
		DataBits: f.dataBits,
		Parity:   f.parity,
		StopBits: f.stopBits,
	}, nil
}
