package serialmux

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// readTimeout bounds each blocking read of the background reader so that it
// notices a closed port promptly.
const readTimeout = 100 * time.Millisecond

// RealPortFactory opens ports with go.bug.st/serial.
type RealPortFactory struct{}

// Open opens path with the given options.
func (RealPortFactory) Open(path string, opts PortOptions) (SerialPorter, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", path, err)
	}
	return port, nil
}

// ListPorts enumerates the host's serial devices, sorted by name. USB
// metadata is included where the platform reports it.
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		// some platforms lack detailed enumeration; fall back to names only
		names, nerr := serial.GetPortsList()
		if nerr != nil {
			return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
		}
		ports := make([]PortInfo, 0, len(names))
		for _, name := range names {
			ports = append(ports, PortInfo{Name: name, FriendlyName: FriendlyName(name)})
		}
		sortPorts(ports)
		return ports, nil
	}

	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		p := PortInfo{
			Name:         d.Name,
			FriendlyName: FriendlyName(d.Name),
			IsUSB:        d.IsUSB,
		}
		if d.IsUSB {
			p.VID = d.VID
			p.PID = d.PID
			p.SerialNumber = d.SerialNumber
			p.Product = d.Product
			if d.Product != "" {
				p.FriendlyName = d.Product
			}
		}
		ports = append(ports, p)
	}
	sortPorts(ports)
	return ports, nil
}

func sortPorts(ports []PortInfo) {
	sort.Slice(ports, func(i, j int) bool { return ports[i].Name < ports[j].Name })
}

// FriendlyName generates a user-friendly name for a serial port
func FriendlyName(portPath string) string {
	deviceName := filepath.Base(portPath)

	switch {
	case strings.HasPrefix(deviceName, "ttyUSB"):
		return "USB Serial (" + deviceName + ")"
	case strings.HasPrefix(deviceName, "ttyACM"):
		return "USB CDC (" + deviceName + ")"
	case strings.HasPrefix(deviceName, "ttyAMA"), strings.HasPrefix(deviceName, "ttyS"):
		return "Hardware Serial (" + deviceName + ")"
	case strings.HasPrefix(deviceName, "cu.usbserial"), strings.HasPrefix(deviceName, "tty.usbserial"):
		return "USB Serial (" + deviceName + ")"
	case strings.HasPrefix(strings.ToUpper(deviceName), "COM"):
		return "Serial Port (" + deviceName + ")"
	default:
		return deviceName
	}
}
