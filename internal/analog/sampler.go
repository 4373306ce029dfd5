// Package analog decimates continuous analog eye-position channels to the
// eye tracker's sampling rate. It is the fallback when the serial link is
// not in use.
package analog

import (
	"github.com/banshee-data/eyetrack/internal/calibration"
	"github.com/banshee-data/eyetrack/internal/event"
)

// Unset marks a channel index that has not been configured.
const Unset = -1

// Channels selects the acquisition channels carrying eye data.
type Channels struct {
	X     int `json:"x"`
	Y     int `json:"y"`
	Pupil int `json:"pupil"`
}

// UnsetChannels returns a selection with no channel configured.
func UnsetChannels() Channels {
	return Channels{X: Unset, Y: Unset, Pupil: Unset}
}

// Ready reports whether both position channels are configured.
func (c Channels) Ready() bool {
	return c.X >= 0 && c.Y >= 0
}

// Buffer is one cycle of continuous data, indexed [channel][sample].
type Buffer struct {
	Data [][]float32
	// SampleRate is the acquisition rate in Hz.
	SampleRate float64
}

// NumSamples returns the number of samples per channel.
func (b Buffer) NumSamples() int {
	if len(b.Data) == 0 {
		return 0
	}
	return len(b.Data[0])
}

func (b Buffer) has(ch int) bool {
	return ch >= 0 && ch < len(b.Data)
}

// Sampler emits one position every floor(adcRate / eyeRate) input samples.
// Decimation is a plain pick with no anti-alias filtering.
type Sampler struct {
	Channels       Channels
	SamplingRateHz int

	counter int
}

// NewSampler returns a sampler for the given channels.
func NewSampler(ch Channels, samplingRateHz int) *Sampler {
	return &Sampler{Channels: ch, SamplingRateHz: samplingRateHz}
}

// Interval returns the decimation factor for adcRate.
func (s *Sampler) Interval(adcRate float64) int {
	if s.SamplingRateHz <= 0 {
		return 1
	}
	n := int(adcRate) / s.SamplingRateHz
	if n < 1 {
		return 1
	}
	return n
}

// Reset restarts the decimation counter.
func (s *Sampler) Reset() { s.counter = 0 }

// Sample walks buf and appends a calibrated position to out at every
// decimation point. Timestamps are extrapolated from anchor: the hardware
// timestamp advances one tick per input sample, the software timestamp by
// the sample's fractional time at ticksPerSecond resolution. prev is updated
// to the last emitted position. It returns the number of emitted positions.
func (s *Sampler) Sample(buf Buffer, anchor event.TimestampSync, ticksPerSecond int64, cal *calibration.State, prev *event.Position, out *event.Collection) int {
	if !s.Channels.Ready() || !buf.has(s.Channels.X) || !buf.has(s.Channels.Y) || buf.SampleRate <= 0 {
		return 0
	}
	xs := buf.Data[s.Channels.X]
	ys := buf.Data[s.Channels.Y]
	var ps []float32
	if buf.has(s.Channels.Pupil) {
		ps = buf.Data[s.Channels.Pupil]
	}

	interval := s.Interval(buf.SampleRate)
	emitted := 0
	for k := 0; k < len(xs) && k < len(ys); k++ {
		s.counter++
		if s.counter < interval {
			continue
		}
		s.counter = 0

		p := event.Position{
			X:                 float64(xs[k]),
			Y:                 float64(ys[k]),
			SoftwareTimestamp: anchor.SoftwareTimestamp + int64(float64(k)*float64(ticksPerSecond)/buf.SampleRate),
			HardwareTimestamp: anchor.HardwareTimestamp + int64(k),
		}
		if ps != nil && k < len(ps) {
			p.Pupil = float64(ps[k])
		}
		p.XC = cal.Apply(p.X, calibration.AxisX)
		p.YC = cal.Apply(p.Y, calibration.AxisY)

		*prev = p
		out.AppendPosition(p)
		emitted++
	}
	return emitted
}
