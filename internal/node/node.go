// Package node is the eye-tracking processing node: the per-cycle callback
// that drains control records and turns serial packets or analog samples
// into eye-position events.
package node

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/eyetrack/internal/analog"
	"github.com/banshee-data/eyetrack/internal/calibration"
	"github.com/banshee-data/eyetrack/internal/control"
	"github.com/banshee-data/eyetrack/internal/event"
	"github.com/banshee-data/eyetrack/internal/frame"
	"github.com/banshee-data/eyetrack/internal/monitoring"
	"github.com/banshee-data/eyetrack/internal/timeutil"
)

// NoContinuousSamples is returned by Process: the node writes no samples
// into the continuous buffer, it only emits events.
const NoContinuousSamples = 0

// DefaultInboxSize bounds the queue of records posted from other goroutines.
const DefaultInboxSize = 256

// InputMode selects where eye positions come from.
type InputMode int

const (
	// InputSerial decodes packets from the eye tracker's serial link.
	InputSerial InputMode = iota
	// InputAnalog decimates analog channels of the acquisition buffer.
	InputAnalog
)

func (m InputMode) String() string {
	switch m {
	case InputSerial:
		return "serial"
	case InputAnalog:
		return "analog"
	default:
		return fmt.Sprintf("input(%d)", int(m))
	}
}

// Cycle carries one invocation's inputs and outputs.
type Cycle struct {
	// Analog is the continuous acquisition buffer of this cycle.
	Analog analog.Buffer
	// Events are the out-of-band records delivered with this cycle.
	Events []event.Record
	// Out collects emitted records.
	Out *event.Collection
	// Calibrations lists the calibration commands applied this cycle.
	Calibrations []CalibrationEvent
}

// Reset clears the cycle for reuse.
func (c *Cycle) Reset() {
	c.Analog = analog.Buffer{}
	c.Events = c.Events[:0]
	c.Calibrations = c.Calibrations[:0]
	if c.Out != nil {
		c.Out.Reset()
	}
}

// CalibrationEvent records an applied calibration command.
type CalibrationEvent struct {
	Command control.Command
	State   calibration.State
	// Raw is the reading the offsets were solved against.
	Raw calibration.Point
	At  time.Time
}

// Config is the node configuration derived from settings.
type Config struct {
	Mode           InputMode
	Channels       analog.Channels
	SamplingRateHz int
	// Calibration replaces the calibration state when non-nil.
	Calibration *calibration.State
}

// State is everything the node mutates while processing. It is owned by the
// goroutine calling Process.
type State struct {
	Mode        InputMode
	Calibration *calibration.State
	// Previous is the last emitted position, used for de-duplication and as
	// the raw reference of calibration commands.
	Previous event.Position
	// Anchor is the latest hardware/software clock pair.
	Anchor event.TimestampSync
}

// Status is a copy of the node state safe to read from other goroutines.
type Status struct {
	Mode         string                   `json:"mode"`
	Calibration  calibration.State        `json:"calibration"`
	Fit          *calibration.LinearModel `json:"fit,omitempty"`
	Previous     event.Position           `json:"previous"`
	Anchor       event.TimestampSync      `json:"anchor"`
	Channels     analog.Channels          `json:"channels"`
	SamplingRate int                      `json:"eye_sampling_rate_hz"`
	Decoder      frame.Stats              `json:"decoder"`
	Control      control.Stats            `json:"control"`
	Cycles       uint64                   `json:"cycles"`
	InboxDropped uint64                   `json:"inbox_dropped"`
}

// SourceFunc returns the serial byte source for this cycle, or nil when no
// device is connected.
type SourceFunc func() frame.ByteSource

// Node is the processing node.
type Node struct {
	clock   timeutil.Clock
	source  SourceFunc
	decoder *frame.Decoder
	sampler *analog.Sampler
	control *control.Handler
	logf    func(format string, v ...interface{})

	state   State
	fit     *calibration.LinearModel
	cycles  uint64
	records []event.Record
	cycle   *Cycle

	// configured is the calibration last received through Configure
	configured *calibration.State

	pending atomic.Pointer[Config]
	inbox   chan event.Record
	dropped atomic.Uint64

	statusMu sync.Mutex
	status   Status
}

// New returns a node in serial mode with default calibration.
func New(clock timeutil.Clock, source SourceFunc) *Node {
	n := &Node{
		clock:   clock,
		source:  source,
		decoder: frame.NewDecoder(frame.Config{SamplingRateHz: frame.DefaultSamplingRateHz}, clock),
		sampler: analog.NewSampler(analog.UnsetChannels(), frame.DefaultSamplingRateHz),
		control: control.NewHandler(),
		logf:    monitoring.CycleLogf(10*time.Second, 3),
		inbox:   make(chan event.Record, DefaultInboxSize),
		state: State{
			Mode:        InputSerial,
			Calibration: calibration.NewState(),
		},
	}
	n.control.OnCalibrate = n.onCalibrate
	n.publishStatus()
	return n
}

// Configure schedules cfg to take effect at the start of the next cycle.
// It is safe to call from any goroutine.
func (n *Node) Configure(cfg Config) {
	if cfg.Calibration != nil {
		c := cfg.Calibration.Clone()
		cfg.Calibration = &c
	}
	n.pending.Store(&cfg)
}

// Post queues a record for the next cycle without blocking. It reports
// false when the queue is full and the record was dropped.
func (n *Node) Post(r event.Record) bool {
	select {
	case n.inbox <- r:
		return true
	default:
		n.dropped.Add(1)
		return false
	}
}

// Status returns the state published at the end of the last cycle.
func (n *Node) Status() Status {
	n.statusMu.Lock()
	defer n.statusMu.Unlock()
	return n.status
}

// TicksPerSecond is the resolution of the node's software timestamps.
func (n *Node) TicksPerSecond() int64 { return n.clock.TicksPerSecond() }

// State exposes the owned state. Only the goroutine calling Process may use it.
func (n *Node) State() *State { return &n.state }

// Process runs one cycle: apply pending configuration, drain control
// records, then decode serial bytes or sample analog channels into c.Out.
// It never blocks.
func (n *Node) Process(c *Cycle) int {
	n.applyPending()
	if c.Out == nil {
		c.Out = &event.Collection{}
	}
	n.cycle = c

	n.records = append(n.records[:0], c.Events...)
	n.records = n.drainInbox(n.records)
	n.control.Drain(n.records, &n.state.Anchor, n.state.Calibration, n.state.Previous)

	switch n.state.Mode {
	case InputSerial:
		if n.source == nil {
			break
		}
		if src := n.source(); src != nil {
			if err := n.decoder.Decode(src, n.state.Calibration, &n.state.Previous, n.state.Anchor.HardwareTimestamp, c.Out); err != nil {
				n.logf("node: %v", err)
			}
		}
	case InputAnalog:
		n.sampler.Sample(c.Analog, n.state.Anchor, n.clock.TicksPerSecond(), n.state.Calibration, &n.state.Previous, c.Out)
	}

	n.cycle = nil
	n.cycles++
	n.publishStatus()
	return NoContinuousSamples
}

func (n *Node) drainInbox(records []event.Record) []event.Record {
	for i := 0; i < cap(n.inbox); i++ {
		select {
		case r := <-n.inbox:
			records = append(records, r)
		default:
			return records
		}
	}
	return records
}

func (n *Node) applyPending() {
	cfg := n.pending.Swap(nil)
	if cfg == nil {
		return
	}
	if cfg.Mode != n.state.Mode {
		monitoring.Logf("node: input mode %s -> %s", n.state.Mode, cfg.Mode)
		n.decoder.Reset()
		n.sampler.Reset()
		n.state.Mode = cfg.Mode
	}
	rate := cfg.SamplingRateHz
	if rate <= 0 {
		rate = frame.DefaultSamplingRateHz
	}
	n.decoder.SetSamplingRate(rate)
	n.sampler.SamplingRateHz = rate
	n.sampler.Channels = cfg.Channels
	if cfg.Calibration != nil {
		n.applyCalibration(cfg.Calibration)
	}
}

// applyCalibration installs a calibration from settings. Settings that carry
// the parameters already configured, or already in effect, leave the running
// state alone so that offsets not yet persisted survive. Fit pairs are kept
// while the mode stays the same.
func (n *Node) applyCalibration(incoming *calibration.State) {
	cur := n.state.Calibration
	unchanged := incoming.SameParameters(cur) ||
		(n.configured != nil && incoming.SameParameters(n.configured))
	n.configured = incoming
	if unchanged {
		return
	}
	c := *incoming
	if c.Mode == cur.Mode {
		c.Fit = cur.Fit
	}
	n.state.Calibration = &c
	n.solveFit()
}

func (n *Node) solveFit() {
	n.fit = nil
	if n.state.Calibration.Mode != calibration.ModeLinear {
		return
	}
	if m, err := n.state.Calibration.Fit.Solve(); err == nil {
		n.fit = &m
	}
}

func (n *Node) onCalibrate(cmd control.Command, s calibration.State) {
	n.solveFit()
	if n.cycle == nil {
		return
	}
	n.cycle.Calibrations = append(n.cycle.Calibrations, CalibrationEvent{
		Command: cmd,
		State:   s.Clone(),
		Raw:     calibration.Point{X: n.state.Previous.X, Y: n.state.Previous.Y},
		At:      n.clock.Now(),
	})
}

func (n *Node) publishStatus() {
	cal := *n.state.Calibration
	cal.Fit = calibration.LinearFit{}
	s := Status{
		Mode:         n.state.Mode.String(),
		Calibration:  cal,
		Previous:     n.state.Previous,
		Anchor:       n.state.Anchor,
		Channels:     n.sampler.Channels,
		SamplingRate: n.sampler.SamplingRateHz,
		Decoder:      n.decoder.Stats(),
		Control:      n.control.Stats(),
		Cycles:       n.cycles,
		InboxDropped: n.dropped.Load(),
	}
	if n.fit != nil {
		m := *n.fit
		s.Fit = &m
	}
	n.statusMu.Lock()
	n.status = s
	n.statusMu.Unlock()
}
