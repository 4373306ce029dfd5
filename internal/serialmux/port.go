package serialmux

import "io"

// SerialPorter is the part of a serial port the device uses.
type SerialPorter interface {
	io.ReadWriteCloser
}

// InputResetter is implemented by ports that can drop bytes the driver has
// already received. go.bug.st/serial ports do.
type InputResetter interface {
	ResetInputBuffer() error
}

// SerialPortFactory opens serial ports by name.
type SerialPortFactory interface {
	Open(path string, opts PortOptions) (SerialPorter, error)
}

// PortInfo describes an enumerated serial device.
type PortInfo struct {
	Name         string `json:"name"`
	FriendlyName string `json:"friendly_name"`
	IsUSB        bool   `json:"is_usb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Product      string `json:"product,omitempty"`
}

// PortLister enumerates the serial devices present on the host.
type PortLister func() ([]PortInfo, error)
