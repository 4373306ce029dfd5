// Package serialmux owns the serial link to the eye tracker: device
// enumeration, the tracking handshake, and a non-blocking byte source fed by
// a background reader. Raw traffic is fanned out to subscribers for the
// admin tail.
package serialmux

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/eyetrack/internal/monitoring"
	"github.com/banshee-data/eyetrack/internal/timeutil"
)

// Tracker output control bytes.
const (
	TrackingOn  byte = 0x80
	TrackingOff byte = 0x81
)

// DefaultSettleDelay is the pause after each handshake step.
const DefaultSettleDelay = 100 * time.Millisecond

var (
	ErrWriteFailed    = errors.New("failed to write to serial port")
	ErrNotConnected   = errors.New("serial device not connected")
	ErrDeviceNotFound = errors.New("serial device not found")
)

// Device is the eye tracker's serial link. It is safe for concurrent use:
// the host loop polls Source while the API connects and disconnects.
type Device struct {
	factory SerialPortFactory
	clock   timeutil.Clock
	opts    PortOptions

	// SettleDelay overrides DefaultSettleDelay when positive.
	SettleDelay time.Duration
	// PendingLimit bounds the byte source; zero selects DefaultPendingLimit.
	PendingLimit int

	// opMu serialises Connect, Disconnect and SetTracking; mu guards the
	// fields below and is only held briefly.
	opMu   sync.Mutex
	mu     sync.Mutex
	port   SerialPorter
	source *ByteSource
	name   string

	subscriberMu sync.Mutex
	subscribers  map[string]chan string
}

// NewDevice returns a disconnected device.
func NewDevice(factory SerialPortFactory, clock timeutil.Clock, opts PortOptions) *Device {
	return &Device{
		factory:     factory,
		clock:       clock,
		opts:        opts,
		subscribers: make(map[string]chan string),
	}
}

func (d *Device) settle() {
	delay := d.SettleDelay
	if delay <= 0 {
		delay = DefaultSettleDelay
	}
	d.clock.Sleep(delay)
}

// Connect opens name and starts tracker output: tracking off, settle, flush
// input, settle, tracking on, settle, then drop whatever arrived during the
// handshake. Any open port is closed first. On failure the device is left
// disconnected. The handshake runs without holding the lock Source takes, so
// a polling host loop is never held up by it.
func (d *Device) Connect(name string) error {
	d.opMu.Lock()
	defer d.opMu.Unlock()

	if err := d.disconnect(); err != nil {
		monitoring.Logf("serialmux: error closing previous device: %v", err)
	}

	port, err := d.factory.Open(name, d.opts)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", name, err)
	}
	source := NewByteSource(port, d.PendingLimit, d.publish)

	fail := func(step string, err error) error {
		port.Close()
		<-source.Done()
		return fmt.Errorf("%s on %s: %w", step, name, err)
	}

	if err := writeByte(port, TrackingOff); err != nil {
		return fail("failed to stop tracking", err)
	}
	d.settle()
	if r, ok := port.(InputResetter); ok {
		if err := r.ResetInputBuffer(); err != nil {
			return fail("failed to reset input buffer", err)
		}
	}
	source.Discard()
	d.settle()
	if err := writeByte(port, TrackingOn); err != nil {
		return fail("failed to start tracking", err)
	}
	d.settle()
	if n := source.Discard(); n > 0 {
		monitoring.Logf("serialmux: discarded %d handshake bytes from %s", n, name)
	}

	d.mu.Lock()
	d.port = port
	d.source = source
	d.name = name
	d.mu.Unlock()
	monitoring.Logf("serialmux: connected to %s (%s)", name, d.opts)
	return nil
}

// Disconnect stops tracker output and closes the port. It is a no-op when
// not connected.
func (d *Device) Disconnect() error {
	d.opMu.Lock()
	defer d.opMu.Unlock()
	return d.disconnect()
}

func (d *Device) disconnect() error {
	d.mu.Lock()
	port, name := d.port, d.name
	d.port = nil
	d.source = nil
	d.name = ""
	d.mu.Unlock()
	if port == nil {
		return nil
	}

	werr := writeByte(port, TrackingOff)
	d.settle()
	cerr := port.Close()
	monitoring.Logf("serialmux: disconnected from %s", name)
	if werr != nil {
		return fmt.Errorf("failed to stop tracking: %w", werr)
	}
	return cerr
}

// Close disconnects and closes every subscriber channel.
func (d *Device) Close() error {
	err := d.Disconnect()
	d.subscriberMu.Lock()
	defer d.subscriberMu.Unlock()
	for id, ch := range d.subscribers {
		close(ch)
		delete(d.subscribers, id)
	}
	return err
}

// Connected reports whether a port is open.
func (d *Device) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.port != nil
}

// Name returns the connected device name, or "" when disconnected.
func (d *Device) Name() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.name
}

// Source returns the byte source of the open port, or nil.
func (d *Device) Source() *ByteSource {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.source
}

// Options returns the configured port options.
func (d *Device) Options() PortOptions { return d.opts }

// SetTracking writes the tracking on/off control byte.
func (d *Device) SetTracking(on bool) error {
	d.opMu.Lock()
	defer d.opMu.Unlock()
	d.mu.Lock()
	port := d.port
	d.mu.Unlock()
	if port == nil {
		return ErrNotConnected
	}
	b := TrackingOff
	if on {
		b = TrackingOn
	}
	return writeByte(port, b)
}

func writeByte(w SerialPorter, b byte) error {
	n, err := w.Write([]byte{b})
	if err != nil {
		return err
	}
	if n != 1 {
		return ErrWriteFailed
	}
	return nil
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe returns a channel receiving raw serial chunks as text.
func (d *Device) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, 16)
	d.subscriberMu.Lock()
	defer d.subscriberMu.Unlock()
	d.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the device.
func (d *Device) Unsubscribe(id string) {
	d.subscriberMu.Lock()
	defer d.subscriberMu.Unlock()
	if ch, ok := d.subscribers[id]; ok {
		close(ch)
		delete(d.subscribers, id)
	}
}

func (d *Device) publish(chunk []byte) {
	d.subscriberMu.Lock()
	defer d.subscriberMu.Unlock()
	if len(d.subscribers) == 0 {
		return
	}
	text := string(chunk)
	for _, ch := range d.subscribers {
		select {
		case ch <- text:
		default:
			// if the channel is full/blocking skip so as not to block the reader
		}
	}
}

// Resolve maps a device selector to a port name. The selector is either a
// 1-based index into ports or a port name present in ports.
func Resolve(ports []PortInfo, selector string) (string, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return "", fmt.Errorf("%w: empty selector", ErrDeviceNotFound)
	}
	for _, p := range ports {
		if p.Name == selector {
			return p.Name, nil
		}
	}
	if i, err := strconv.Atoi(selector); err == nil {
		if i >= 1 && i <= len(ports) {
			return ports[i-1].Name, nil
		}
		return "", fmt.Errorf("%w: index %d out of range (1-%d)", ErrDeviceNotFound, i, len(ports))
	}
	return "", fmt.Errorf("%w: %q", ErrDeviceNotFound, selector)
}
