// Package calibration maps raw eye-tracker readings (analog volts or serial
// units) onto screen-pixel coordinates.
package calibration

import (
	"fmt"
)

// Mode selects the transform applied to raw readings.
type Mode int

const (
	// ModeOff passes raw readings through unchanged.
	ModeOff Mode = iota
	// ModeFixedGain applies user supplied gains and offsets solved from the
	// most recent fixation target.
	ModeFixedGain
	// ModeLinear is reserved for a two-point pixel/analog fit. Readings pass
	// through unchanged; fixation pairs are only collected (see LinearFit).
	ModeLinear
)

func (m Mode) String() string {
	switch m {
	case ModeOff:
		return "off"
	case ModeFixedGain:
		return "fixed_gain"
	case ModeLinear:
		return "linear"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode converts the integer stored in settings documents into a Mode.
func ParseMode(v int) (Mode, error) {
	switch Mode(v) {
	case ModeOff, ModeFixedGain, ModeLinear:
		return Mode(v), nil
	}
	return ModeOff, fmt.Errorf("unknown calibration mode %d", v)
}

// Axis identifies the screen dimension a value belongs to.
type Axis int

const (
	AxisX Axis = iota
	AxisY
)

// Default screen geometry used until a calibration command reports one.
const (
	DefaultScreenWidth  = 1024
	DefaultScreenHeight = 768
)

// State is the calibration model. It is owned by the processing node and is
// only mutated from within a processing cycle or while loading settings.
type State struct {
	Mode          Mode    `json:"mode"`
	OffsetX       float64 `json:"offset_x"`
	OffsetY       float64 `json:"offset_y"`
	GainX         float64 `json:"gain_x"`
	GainY         float64 `json:"gain_y"`
	ScreenCenterX float64 `json:"screen_center_x"`
	ScreenCenterY float64 `json:"screen_center_y"`

	// Fit collects fixation pairs while in ModeLinear.
	Fit LinearFit `json:"-"`
}

// NewState returns a State with unit gains, zero offsets and the screen
// centre of the default geometry.
func NewState() *State {
	return &State{
		Mode:          ModeOff,
		GainX:         1,
		GainY:         1,
		ScreenCenterX: DefaultScreenWidth / 2,
		ScreenCenterY: DefaultScreenHeight / 2,
	}
}

// Clone returns a deep copy of s that shares no memory with it.
func (s *State) Clone() State {
	c := *s
	c.Fit = s.Fit.Clone()
	return c
}

// SameParameters reports whether s and o hold the same mode, gains, offsets
// and screen centre. Collected fit pairs are not compared.
func (s *State) SameParameters(o *State) bool {
	return s.Mode == o.Mode &&
		s.OffsetX == o.OffsetX && s.OffsetY == o.OffsetY &&
		s.GainX == o.GainX && s.GainY == o.GainY &&
		s.ScreenCenterX == o.ScreenCenterX && s.ScreenCenterY == o.ScreenCenterY
}

// Apply maps value on the given axis to a calibrated pixel coordinate.
func (s *State) Apply(value float64, axis Axis) float64 {
	switch s.Mode {
	case ModeFixedGain:
		if axis == AxisX {
			return (value-s.OffsetX)*s.GainX + s.ScreenCenterX
		}
		return (value-s.OffsetY)*s.GainY + s.ScreenCenterY
	case ModeLinear:
		// TODO: apply Fit once a two-point solution has been validated against
		// recorded sessions.
		return value
	default:
		return value
	}
}

// Target is the fixation point and screen geometry reported by a
// CalibrateEyePosition command.
type Target struct {
	FixateX      float64
	FixateY      float64
	ScreenWidth  int
	ScreenHeight int
}

// Point is a raw reading used as the calibration reference.
type Point struct {
	X, Y float64
}

// Calibrate updates the screen centre from target and, in ModeFixedGain,
// solves the offsets so that raw maps exactly onto the fixation target.
func (s *State) Calibrate(target Target, raw Point) {
	s.ScreenCenterX = float64(target.ScreenWidth / 2)
	s.ScreenCenterY = float64(target.ScreenHeight / 2)

	switch s.Mode {
	case ModeFixedGain:
		if s.GainX != 0 {
			s.OffsetX = raw.X - (target.FixateX-s.ScreenCenterX)/s.GainX
		}
		if s.GainY != 0 {
			s.OffsetY = raw.Y - (target.FixateY-s.ScreenCenterY)/s.GainY
		}
	case ModeLinear:
		s.Fit.Add(raw, target)
	}
}
