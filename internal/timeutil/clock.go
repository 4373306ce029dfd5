// Package timeutil provides the acquisition clock used to timestamp eye
// positions, with a manually driven implementation for tests.
package timeutil

import (
	"sync"
	"time"
)

// NanoTicksPerSecond is the tick rate of RealClock and MockClock.
const NanoTicksPerSecond int64 = int64(time.Second)

// Clock is the host-side high-resolution clock plus the few time operations
// the node needs outside the real-time path.
type Clock interface {
	// Now returns the current wall time.
	Now() time.Time

	// Ticks returns the current high-resolution tick count. It never goes
	// backwards.
	Ticks() int64

	// TicksPerSecond returns the resolution of Ticks.
	TicksPerSecond() int64

	// Sleep pauses for the specified duration. Only used for device settle
	// delays, never inside a processing cycle.
	Sleep(d time.Duration)

	// NewTicker returns a Ticker that fires every d.
	NewTicker(d time.Duration) Ticker
}

// Ticker holds a channel that delivers ticks at intervals.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// epoch anchors RealClock ticks to wall time while keeping them monotonic.
var epoch = time.Now()

// RealClock implements Clock using the standard time package.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// Ticks returns nanoseconds since the Unix epoch, advanced by the monotonic
// reading so wall-clock steps do not affect it.
func (RealClock) Ticks() int64 {
	return epoch.UnixNano() + int64(time.Since(epoch))
}

func (RealClock) TicksPerSecond() int64 { return NanoTicksPerSecond }

func (RealClock) Sleep(d time.Duration) { time.Sleep(d) }

func (RealClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{ticker: time.NewTicker(d)}
}

type realTicker struct {
	ticker *time.Ticker
}

func (t *realTicker) C() <-chan time.Time { return t.ticker.C }
func (t *realTicker) Stop()               { t.ticker.Stop() }

// MockClock is a manually controlled clock for testing. Its tick rate
// defaults to nanoseconds and can be lowered to model coarser hardware
// counters.
type MockClock struct {
	mu      sync.Mutex
	now     time.Time
	rate    int64
	sleeps  []time.Duration
	tickers []*MockTicker
}

// NewMockClock creates a new MockClock set to the given time.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t, rate: NanoTicksPerSecond}
}

// SetTicksPerSecond changes the tick resolution. Non-positive rates are
// ignored.
func (c *MockClock) SetTicksPerSecond(rate int64) {
	if rate <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rate = rate
}

// Now returns the mocked current time.
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Ticks returns the mocked time since the Unix epoch at the clock's rate.
func (c *MockClock) Ticks() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rate == NanoTicksPerSecond {
		return c.now.UnixNano()
	}
	return c.now.Unix()*c.rate + int64(c.now.Nanosecond())*c.rate/NanoTicksPerSecond
}

func (c *MockClock) TicksPerSecond() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rate
}

// Set sets the mock clock to a specific time.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the mock clock forward by d and fires any due tickers.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	tickers := c.tickers
	c.mu.Unlock()

	for _, t := range tickers {
		t.checkAndFire(now)
	}
}

// Sleep records the sleep duration but returns immediately.
func (c *MockClock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
}

// Sleeps returns all recorded sleep durations.
func (c *MockClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]time.Duration, len(c.sleeps))
	copy(result, c.sleeps)
	return result
}

// NewTicker creates a new MockTicker.
func (c *MockClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &MockTicker{
		ch:       make(chan time.Time, 1),
		interval: d,
		nextTick: c.now.Add(d),
	}
	c.tickers = append(c.tickers, t)
	return t
}

// MockTicker is a manually controlled ticker for testing.
type MockTicker struct {
	mu       sync.Mutex
	ch       chan time.Time
	interval time.Duration
	nextTick time.Time
	stopped  bool
}

// C returns the ticker channel.
func (t *MockTicker) C() <-chan time.Time {
	return t.ch
}

// Stop turns off the ticker.
func (t *MockTicker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

// Trigger delivers a tick at now unless one is already pending. Like a
// real ticker, a slow reader loses ticks rather than queueing them.
func (t *MockTicker) Trigger(now time.Time) {
	select {
	case t.ch <- now:
	default:
	}
}

func (t *MockTicker) checkAndFire(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || now.Before(t.nextTick) {
		return
	}
	t.Trigger(now)
	t.nextTick = now.Add(t.interval)
}
