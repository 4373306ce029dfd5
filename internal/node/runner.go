package node

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/eyetrack/internal/analog"
	"github.com/banshee-data/eyetrack/internal/event"
	"github.com/banshee-data/eyetrack/internal/timeutil"
)

// DefaultCycleInterval approximates a host processing callback period.
const DefaultCycleInterval = 10 * time.Millisecond

// Output is what one cycle produced, delivered to subscribers.
type Output struct {
	Positions    []event.Position
	Calibrations []CalibrationEvent
}

// AnalogSource supplies the continuous buffer of each cycle.
type AnalogSource interface {
	Next() analog.Buffer
}

// RunnerStats counts host loop activity.
type RunnerStats struct {
	Cycles    uint64 `json:"cycles"`
	Emitted   uint64 `json:"emitted"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
}

// Runner stands in for the host scheduler: it invokes Process on a ticker,
// delivers a timestamp anchor with every cycle and fans each cycle's output
// out to subscribers without blocking.
type Runner struct {
	node     *Node
	clock    timeutil.Clock
	interval time.Duration
	analog   AnalogSource

	cycle Cycle
	out   event.Collection
	// hardware counts acquisition samples delivered so far
	hardware int64

	subscriberMu sync.Mutex
	subscribers  map[string]chan Output

	cycles    atomic.Uint64
	emitted   atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// NewRunner returns a runner for n. analogSrc may be nil.
func NewRunner(n *Node, clock timeutil.Clock, interval time.Duration, analogSrc AnalogSource) *Runner {
	if interval <= 0 {
		interval = DefaultCycleInterval
	}
	r := &Runner{
		node:        n,
		clock:       clock,
		interval:    interval,
		analog:      analogSrc,
		subscribers: make(map[string]chan Output),
	}
	r.cycle.Out = &r.out
	return r
}

// randomID generates a random subscriber ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe returns a channel receiving every non-empty cycle output.
// Outputs are dropped for a subscriber whose channel is full.
func (r *Runner) Subscribe(buffer int) (string, <-chan Output) {
	id := randomID()
	ch := make(chan Output, buffer)
	r.subscriberMu.Lock()
	defer r.subscriberMu.Unlock()
	r.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscriber channel.
func (r *Runner) Unsubscribe(id string) {
	r.subscriberMu.Lock()
	defer r.subscriberMu.Unlock()
	if ch, ok := r.subscribers[id]; ok {
		close(ch)
		delete(r.subscribers, id)
	}
}

// Stats returns the loop counters.
func (r *Runner) Stats() RunnerStats {
	return RunnerStats{
		Cycles:    r.cycles.Load(),
		Emitted:   r.emitted.Load(),
		Delivered: r.delivered.Load(),
		Dropped:   r.dropped.Load(),
	}
}

// Run calls Step on every tick until ctx is done, then closes all
// subscriber channels.
func (r *Runner) Run(ctx context.Context) error {
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()
	defer r.closeSubscribers()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			r.Step()
		}
	}
}

// Step runs a single cycle and publishes its output.
func (r *Runner) Step() {
	r.cycle.Reset()
	if r.analog != nil {
		r.cycle.Analog = r.analog.Next()
	}
	r.cycle.Events = append(r.cycle.Events, event.NewTimestampRecord(r.anchor(r.cycle.Analog)))
	r.hardware += int64(r.cycle.Analog.NumSamples())
	r.node.Process(&r.cycle)
	r.cycles.Add(1)

	positions := r.out.Positions()
	if len(positions) == 0 && len(r.cycle.Calibrations) == 0 {
		return
	}
	r.emitted.Add(uint64(len(positions)))

	o := Output{Positions: positions}
	if len(r.cycle.Calibrations) > 0 {
		o.Calibrations = append([]CalibrationEvent(nil), r.cycle.Calibrations...)
	}
	r.publish(o)
}

// anchor pairs the hardware count of buf's first sample with the software
// time that sample was acquired.
func (r *Runner) anchor(buf analog.Buffer) event.TimestampSync {
	software := r.clock.Ticks()
	if n := buf.NumSamples(); n > 0 && buf.SampleRate > 0 {
		software -= int64(float64(n) * float64(r.clock.TicksPerSecond()) / buf.SampleRate)
	}
	return event.TimestampSync{HardwareTimestamp: r.hardware, SoftwareTimestamp: software}
}

func (r *Runner) publish(o Output) {
	r.subscriberMu.Lock()
	defer r.subscriberMu.Unlock()
	for _, ch := range r.subscribers {
		select {
		case ch <- o:
			r.delivered.Add(1)
		default:
			// if the channel is full/blocking skip so as not to block the loop
			r.dropped.Add(1)
		}
	}
}

func (r *Runner) closeSubscribers() {
	r.subscriberMu.Lock()
	defer r.subscriberMu.Unlock()
	for id, ch := range r.subscribers {
		close(ch)
		delete(r.subscribers, id)
	}
}
