package serialmux

import (
	"fmt"
	"io"
	"math"
	"sync"
	"time"
)

// SimulatedDeviceName selects the built-in simulated tracker.
const SimulatedDeviceName = "simulated"

// SimulatedPort emits "x y pupil" lines at a fixed rate while tracking is on,
// tracing a slow Lissajous figure. It lets the node run without hardware.
type SimulatedPort struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu       sync.Mutex
	tracking bool
	stop     chan struct{}
	once     sync.Once
}

// NewSimulatedPort starts a generator at rateHz.
func NewSimulatedPort(rateHz int) *SimulatedPort {
	if rateHz <= 0 {
		rateHz = 120
	}
	r, w := io.Pipe()
	p := &SimulatedPort{r: r, w: w, stop: make(chan struct{})}
	go p.generate(time.Second / time.Duration(rateHz))
	return p
}

func (p *SimulatedPort) generate(period time.Duration) {
	defer p.w.Close()
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	var n int
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
		}
		p.mu.Lock()
		on := p.tracking
		p.mu.Unlock()
		if !on {
			continue
		}
		n++
		t := float64(n) / 120
		x := 256 + 200*math.Sin(t*0.7)
		y := 256 + 150*math.Sin(t*1.1)
		pupil := 40 + 5*math.Sin(t*0.2)
		if _, err := fmt.Fprintf(p.w, "%.1f %.1f %.1f\n", x, y, pupil); err != nil {
			return
		}
	}
}

func (p *SimulatedPort) Read(b []byte) (int, error) { return p.r.Read(b) }

// Write interprets the tracking control bytes and discards everything else.
func (p *SimulatedPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range b {
		switch c {
		case TrackingOn:
			p.tracking = true
		case TrackingOff:
			p.tracking = false
		}
	}
	return len(b), nil
}

func (p *SimulatedPort) Close() error {
	p.once.Do(func() { close(p.stop) })
	return p.r.Close()
}

// SimulatedFactory opens a SimulatedPort for SimulatedDeviceName and
// delegates every other name to Next.
type SimulatedFactory struct {
	RateHz int
	Next   SerialPortFactory
}

func (f SimulatedFactory) Open(path string, opts PortOptions) (SerialPorter, error) {
	if path == SimulatedDeviceName {
		return NewSimulatedPort(f.RateHz), nil
	}
	if f.Next == nil {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, path)
	}
	return f.Next.Open(path, opts)
}
