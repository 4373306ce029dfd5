package calibration

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApply_OffIsIdentity(t *testing.T) {
	s := NewState()
	s.GainX, s.GainY = 3, 4
	s.OffsetX, s.OffsetY = 10, -10

	for _, v := range []float64{0, -1, 1, 1e-300, -1e300, math.MaxFloat64, 512.25} {
		assert.Equal(t, v, s.Apply(v, AxisX))
		assert.Equal(t, v, s.Apply(v, AxisY))
	}
}

func TestApply_LinearPassesThrough(t *testing.T) {
	s := NewState()
	s.Mode = ModeLinear
	s.GainX = 7
	assert.Equal(t, 12.5, s.Apply(12.5, AxisX))
	assert.Equal(t, -3.0, s.Apply(-3, AxisY))
}

func TestApply_FixedGain(t *testing.T) {
	s := NewState()
	s.Mode = ModeFixedGain
	s.GainX, s.GainY = 2, 0.5
	s.OffsetX, s.OffsetY = 1, 2
	s.ScreenCenterX, s.ScreenCenterY = 400, 300

	assert.Equal(t, (5.0-1)*2+400, s.Apply(5, AxisX))
	assert.Equal(t, (5.0-2)*0.5+300, s.Apply(5, AxisY))
}

func TestCalibrate_FixedGainMapsFixationOntoTarget(t *testing.T) {
	s := NewState()
	s.Mode = ModeFixedGain
	s.GainX, s.GainY = 2, 2

	s.Calibrate(Target{FixateX: 100, FixateY: 200, ScreenWidth: 800, ScreenHeight: 600}, Point{X: 5, Y: 5})

	assert.Equal(t, 400.0, s.ScreenCenterX)
	assert.Equal(t, 300.0, s.ScreenCenterY)
	assert.Equal(t, 155.0, s.OffsetX)
	assert.Equal(t, 55.0, s.OffsetY)
	assert.Equal(t, 100.0, s.Apply(5, AxisX))
	assert.Equal(t, 200.0, s.Apply(5, AxisY))
}

func TestCalibrate_OffModeOnlyUpdatesScreenCentre(t *testing.T) {
	s := NewState()
	s.OffsetX, s.OffsetY = 3, 4

	s.Calibrate(Target{FixateX: 10, FixateY: 10, ScreenWidth: 1920, ScreenHeight: 1080}, Point{X: 1, Y: 1})

	assert.Equal(t, 960.0, s.ScreenCenterX)
	assert.Equal(t, 540.0, s.ScreenCenterY)
	assert.Equal(t, 3.0, s.OffsetX)
	assert.Equal(t, 4.0, s.OffsetY)
	assert.Zero(t, s.Fit.Len())
}

func TestCalibrate_ZeroGainLeavesOffset(t *testing.T) {
	s := NewState()
	s.Mode = ModeFixedGain
	s.GainX = 0
	s.OffsetX = 9

	s.Calibrate(Target{FixateX: 10, FixateY: 10, ScreenWidth: 800, ScreenHeight: 600}, Point{X: 1, Y: 1})

	assert.Equal(t, 9.0, s.OffsetX)
	assert.False(t, math.IsInf(s.OffsetY, 0))
}

func TestCalibrate_LinearCollectsPairs(t *testing.T) {
	s := NewState()
	s.Mode = ModeLinear

	s.Calibrate(Target{FixateX: 100, FixateY: 50, ScreenWidth: 800, ScreenHeight: 600}, Point{X: 1, Y: 1})
	_, err := s.Fit.Solve()
	assert.ErrorIs(t, err, ErrInsufficientPoints)

	s.Calibrate(Target{FixateX: 300, FixateY: 250, ScreenWidth: 800, ScreenHeight: 600}, Point{X: 2, Y: 3})
	model, err := s.Fit.Solve()
	require.NoError(t, err)
	assert.Equal(t, 2, model.Points)
	assert.InDelta(t, 200, model.SlopeX, 1e-9)
	assert.InDelta(t, -100, model.InterceptX, 1e-9)
	assert.InDelta(t, 100, model.SlopeY, 1e-9)
	assert.InDelta(t, -50, model.InterceptY, 1e-9)

	// Readings are still passed through unchanged.
	assert.Equal(t, 2.0, s.Apply(2, AxisX))

	s.Fit.Reset()
	assert.Zero(t, s.Fit.Len())
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      int
		want    Mode
		wantErr bool
	}{
		{0, ModeOff, false},
		{1, ModeFixedGain, false},
		{2, ModeLinear, false},
		{3, ModeOff, true},
		{-1, ModeOff, true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "ParseMode(%d)", tt.in)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
	assert.Equal(t, "fixed_gain", ModeFixedGain.String())
	assert.Equal(t, "mode(9)", Mode(9).String())
}

func TestClone_DoesNotShareFit(t *testing.T) {
	s := NewState()
	s.Mode = ModeLinear
	s.Calibrate(Target{FixateX: 10, FixateY: 20, ScreenWidth: 100, ScreenHeight: 100}, Point{X: 1, Y: 2})

	c := s.Clone()
	s.Calibrate(Target{FixateX: 30, FixateY: 40, ScreenWidth: 100, ScreenHeight: 100}, Point{X: 3, Y: 4})

	assert.Equal(t, 1, c.Fit.Len())
	assert.Equal(t, 2, s.Fit.Len())
	assert.Equal(t, s.ScreenCenterX, c.ScreenCenterX)
}

func TestSameParameters_IgnoresFit(t *testing.T) {
	s := NewState()
	s.Mode = ModeLinear
	o := s.Clone()
	s.Calibrate(Target{FixateX: 50, FixateY: 50, ScreenWidth: 1024, ScreenHeight: 768}, Point{X: 1, Y: 2})
	assert.True(t, s.SameParameters(&o))

	o.OffsetY = 1
	assert.False(t, s.SameParameters(&o))
}
