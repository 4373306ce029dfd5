// Package frame segments the eye tracker's serial byte stream into
// newline-terminated "x y pupil" packets and turns them into calibrated,
// timestamped positions.
package frame

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/eyetrack/internal/calibration"
	"github.com/banshee-data/eyetrack/internal/event"
	"github.com/banshee-data/eyetrack/internal/monitoring"
	"github.com/banshee-data/eyetrack/internal/timeutil"
)

// DefaultMaxBufferBytes bounds the accumulation buffer. A device that never
// sends a terminator would otherwise grow it without limit.
const DefaultMaxBufferBytes = 64 * 1024

// DefaultSamplingRateHz is the eye tracker's nominal output rate.
const DefaultSamplingRateHz = 120

// ByteSource is the non-blocking view of the serial port used inside a
// processing cycle. Read must return immediately when asked for no more than
// Available bytes.
type ByteSource interface {
	Available() int
	Read(p []byte) (int, error)
}

// GapSource is a ByteSource that may drop bytes before they are read.
// ReadGap behaves like Read and also reports whether bytes were dropped
// ahead of the returned ones since the previous call.
type GapSource interface {
	ByteSource
	ReadGap(p []byte) (n int, gap bool, err error)
}

// Config holds the decoder parameters.
type Config struct {
	// SamplingRateHz is the expected packet rate, used to synthesize
	// per-packet software timestamps.
	SamplingRateHz int
	// MaxBufferBytes bounds the partial-line buffer; zero selects
	// DefaultMaxBufferBytes.
	MaxBufferBytes int
}

// Stats reports decoder counters.
type Stats struct {
	Lines      uint64 `json:"lines"`
	Malformed  uint64 `json:"malformed"`
	Duplicates uint64 `json:"duplicates"`
	Emitted    uint64 `json:"emitted"`
	Overflows  uint64 `json:"overflows"`
	Resyncs    uint64 `json:"resyncs"`
	Buffered   int    `json:"buffered"`
}

// Decoder is the serial frame decoder. It is not safe for concurrent use; it
// is owned by a single processing node.
type Decoder struct {
	cfg   Config
	clock timeutil.Clock
	logf  func(format string, v ...interface{})

	buf           []byte
	scratch       []byte
	firstTime     bool
	anchorTicks   int64
	packetCounter int64
	// discard drops input through the next terminator after bytes were lost
	discard bool
	stats   Stats
}

// NewDecoder returns a decoder that anchors synthetic timestamps on clock.
func NewDecoder(cfg Config, clock timeutil.Clock) *Decoder {
	if cfg.MaxBufferBytes <= 0 {
		cfg.MaxBufferBytes = DefaultMaxBufferBytes
	}
	return &Decoder{
		cfg:       cfg,
		clock:     clock,
		logf:      monitoring.CycleLogf(10*time.Second, 3),
		firstTime: true,
	}
}

// SetSamplingRate changes the rate used for synthetic timestamps.
func (d *Decoder) SetSamplingRate(hz int) { d.cfg.SamplingRateHz = hz }

// Stats returns a snapshot of the decoder counters.
func (d *Decoder) Stats() Stats {
	s := d.stats
	s.Buffered = len(d.buf)
	return s
}

// Reset drops any buffered partial line and re-anchors on the next cycle.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.discard = false
	d.firstTime = true
	d.packetCounter = 0
}

// Decode runs one cycle: it reads every byte src reports as available,
// extracts complete lines and appends one eye-position record to out for
// each accepted packet that differs from prev. prev is updated to the last
// emitted position. hardwareTimestamp is stamped on every emitted position.
func (d *Decoder) Decode(src ByteSource, cal *calibration.State, prev *event.Position, hardwareTimestamp int64, out *event.Collection) error {
	if len(d.buf) == 0 || d.firstTime {
		d.anchorTicks = d.clock.Ticks()
		d.firstTime = false
		d.packetCounter = 0
	}

	avail := src.Available()
	if avail <= 0 {
		return nil
	}

	if cap(d.scratch) < avail {
		d.scratch = make([]byte, avail)
	}
	var (
		n   int
		gap bool
		err error
	)
	if gs, ok := src.(GapSource); ok {
		n, gap, err = gs.ReadGap(d.scratch[:avail])
	} else {
		n, err = src.Read(d.scratch[:avail])
	}
	if err != nil {
		err = fmt.Errorf("read serial bytes: %w", err)
	}
	if gap {
		// the buffered partial line lost its continuation
		d.buf = d.buf[:0]
		d.startDiscard()
	}
	d.buf = append(d.buf, d.scratch[:n]...)

	if d.discard {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			d.buf = d.buf[:0]
			return err
		}
		d.buf = d.buf[:copy(d.buf, d.buf[idx+1:])]
		d.discard = false
	}

	for {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			break
		}
		if idx > d.cfg.MaxBufferBytes {
			// same verdict as a line that overflowed across cycles
			d.stats.Overflows++
			d.logf("serial line of %d bytes exceeds %d; dropped", idx, d.cfg.MaxBufferBytes)
		} else {
			d.handleLine(d.buf[:idx], cal, prev, hardwareTimestamp, out)
		}
		// shift the remainder down so the backing array is reused
		d.buf = d.buf[:copy(d.buf, d.buf[idx+1:])]
	}

	if len(d.buf) > d.cfg.MaxBufferBytes {
		d.stats.Overflows++
		d.logf("serial buffer exceeded %d bytes without a line terminator; dropping %d bytes", d.cfg.MaxBufferBytes, len(d.buf))
		d.buf = d.buf[:0]
		d.startDiscard()
	}

	return err
}

func (d *Decoder) startDiscard() {
	if !d.discard {
		d.stats.Resyncs++
	}
	d.discard = true
}

func (d *Decoder) handleLine(line []byte, cal *calibration.State, prev *event.Position, hardwareTimestamp int64, out *event.Collection) {
	d.stats.Lines++
	x, y, pupil, ok := ParseLine(line)
	if !ok {
		d.stats.Malformed++
		return
	}

	d.packetCounter++
	if prev.X == x && prev.Y == y && prev.Pupil == pupil {
		d.stats.Duplicates++
		return
	}

	rate := d.cfg.SamplingRateHz
	if rate <= 0 {
		rate = DefaultSamplingRateHz
	}
	elapsed := float64(d.packetCounter) * float64(d.clock.TicksPerSecond()) / float64(rate)

	*prev = event.Position{
		X:                 x,
		Y:                 y,
		XC:                cal.Apply(x, calibration.AxisX),
		YC:                cal.Apply(y, calibration.AxisY),
		Pupil:             pupil,
		SoftwareTimestamp: d.anchorTicks + int64(elapsed),
		HardwareTimestamp: hardwareTimestamp,
	}
	out.AppendPosition(*prev)
	d.stats.Emitted++
}

// ParseLine reads three floating-point values from the start of a packet,
// each optionally preceded by whitespace. Anything after the third value is
// ignored, so "1 2 3abc" parses as 1, 2, 3. Values that overflow to
// infinity, and the literals inf and nan, are rejected.
func ParseLine(line []byte) (x, y, pupil float64, ok bool) {
	s := string(line)
	var vals [3]float64
	for i := range vals {
		s = strings.TrimLeft(s, " \t\r\n\v\f")
		n := floatPrefix(s)
		if n == 0 {
			return 0, 0, 0, false
		}
		v, err := strconv.ParseFloat(s[:n], 64)
		if err != nil || math.IsInf(v, 0) {
			return 0, 0, 0, false
		}
		vals[i] = v
		s = s[n:]
	}
	return vals[0], vals[1], vals[2], true
}

// floatPrefix returns the length of the longest decimal float at the start
// of s, or 0 if there is none.
func floatPrefix(s string) int {
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	digits := 0
	for i < len(s) && isDigit(s[i]) {
		i++
		digits++
	}
	if i < len(s) && s[i] == '.' {
		i++
		for i < len(s) && isDigit(s[i]) {
			i++
			digits++
		}
	}
	if digits == 0 {
		return 0
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		if j < len(s) && isDigit(s[j]) {
			for j < len(s) && isDigit(s[j]) {
				j++
			}
			i = j
		}
	}
	return i
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
