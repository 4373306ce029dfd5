package analog

import (
	"math"
	"time"

	"github.com/banshee-data/eyetrack/internal/timeutil"
)

// Simulator synthesises acquisition buffers for standalone runs. Each call
// to Next returns the samples accrued since the previous call on three
// channels: X, Y and pupil, in that order.
type Simulator struct {
	SampleRate float64

	clock timeutil.Clock
	last  time.Time
	n     int64
}

// NewSimulator returns a simulator producing sampleRate samples per second.
func NewSimulator(clock timeutil.Clock, sampleRate float64) *Simulator {
	return &Simulator{SampleRate: sampleRate, clock: clock, last: clock.Now()}
}

// Next returns the buffer for the elapsed interval.
func (s *Simulator) Next() Buffer {
	now := s.clock.Now()
	count := int(now.Sub(s.last).Seconds() * s.SampleRate)
	if count <= 0 {
		return Buffer{SampleRate: s.SampleRate}
	}
	// advance by whole samples so the fractional remainder carries over
	s.last = s.last.Add(time.Duration(float64(count) / s.SampleRate * float64(time.Second)))

	data := [][]float32{make([]float32, count), make([]float32, count), make([]float32, count)}
	for i := 0; i < count; i++ {
		t := float64(s.n) / s.SampleRate
		data[0][i] = float32(2.5 * math.Sin(2*math.Pi*0.2*t))
		data[1][i] = float32(2.0 * math.Sin(2*math.Pi*0.3*t))
		data[2][i] = float32(1.0 + 0.1*math.Sin(2*math.Pi*0.05*t))
		s.n++
	}
	return Buffer{Data: data, SampleRate: s.SampleRate}
}
