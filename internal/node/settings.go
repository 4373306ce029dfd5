package node

import (
	"fmt"

	"github.com/banshee-data/eyetrack/internal/config"
	"github.com/banshee-data/eyetrack/internal/monitoring"
	"github.com/banshee-data/eyetrack/internal/serialmux"
)

// ConfigFromSettings derives the node configuration from a settings document.
func ConfigFromSettings(s *config.Settings) Config {
	mode := InputAnalog
	if s.GetSerialCommunication() {
		mode = InputSerial
	}
	return Config{
		Mode:           mode,
		Channels:       s.GetChannels(),
		SamplingRateHz: s.GetEyeSamplingRateHz(),
		Calibration:    s.Calibration(),
	}
}

// Connector is the part of serialmux.Device used when applying settings.
type Connector interface {
	Connect(name string) error
	Disconnect() error
	Name() string
}

// ApplyDevice brings the serial link in line with s. In serial mode with a
// saved device name, the name is re-resolved against the enumerated ports
// and connected if found; a missing device leaves the link disconnected
// and is only logged. In analog mode the link is closed.
func ApplyDevice(dev Connector, list serialmux.PortLister, s *config.Settings) error {
	if !s.GetSerialCommunication() {
		return dev.Disconnect()
	}
	saved := s.GetDevice()
	if saved == "" {
		return nil
	}
	if dev.Name() == saved {
		return nil
	}

	name := saved
	if saved != serialmux.SimulatedDeviceName {
		ports, err := list()
		if err != nil {
			return fmt.Errorf("failed to list serial devices: %w", err)
		}
		resolved, err := serialmux.Resolve(ports, saved)
		if err != nil {
			monitoring.Logf("node: saved device %q is not available, staying disconnected", saved)
			return dev.Disconnect()
		}
		name = resolved
	}
	if err := dev.Connect(name); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", name, err)
	}
	return nil
}
