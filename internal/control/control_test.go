package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/eyetrack/internal/calibration"
	"github.com/banshee-data/eyetrack/internal/event"
	"github.com/banshee-data/eyetrack/internal/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

func TestParseCommand(t *testing.T) {
	cmd, err := ParseCommand("CalibrateEyePosition 100 200.5 800 600")
	require.NoError(t, err)
	assert.Equal(t, CommandCalibrateEyePosition, cmd.Name)
	assert.Equal(t, calibration.Target{FixateX: 100, FixateY: 200.5, ScreenWidth: 800, ScreenHeight: 600}, cmd.Target)
	assert.Equal(t, "CalibrateEyePosition 100 200.5 800 600", cmd.Format())

	// fractional screen sizes are truncated toward zero
	cmd, err = ParseCommand("  CalibrateEyePosition 1 2 1023.9 767.2 trailing")
	require.NoError(t, err)
	assert.Equal(t, 1023, cmd.Target.ScreenWidth)
	assert.Equal(t, 767, cmd.Target.ScreenHeight)
}

func TestParseCommand_Errors(t *testing.T) {
	for _, text := range []string{"", "   ", "StartRecording", "calibrateeyeposition 1 2 3 4"} {
		_, err := ParseCommand(text)
		assert.ErrorIs(t, err, ErrUnknownCommand, "%q", text)
	}
	for _, text := range []string{"CalibrateEyePosition", "CalibrateEyePosition 1 2 3", "CalibrateEyePosition 1 x 3 4"} {
		_, err := ParseCommand(text)
		assert.ErrorIs(t, err, ErrMalformedCommand, "%q", text)
	}
}

func TestDrain_TimestampUpdatesAnchor(t *testing.T) {
	h := NewHandler()
	var anchor event.TimestampSync
	cal := calibration.NewState()

	h.Drain([]event.Record{
		event.NewTimestampRecord(event.TimestampSync{HardwareTimestamp: 1, SoftwareTimestamp: 2}),
		event.NewTimestampRecord(event.TimestampSync{HardwareTimestamp: 30000, SoftwareTimestamp: 4000}),
	}, &anchor, cal, event.Position{})

	assert.Equal(t, event.TimestampSync{HardwareTimestamp: 30000, SoftwareTimestamp: 4000}, anchor)
	assert.Equal(t, uint64(2), h.Stats().TimestampSyncs)
}

func TestDrain_ShortTimestampIgnored(t *testing.T) {
	h := NewHandler()
	anchor := event.TimestampSync{HardwareTimestamp: 9}
	h.Drain([]event.Record{{Type: event.TypeTimestamp, Payload: []byte{1, 2, 3}}}, &anchor, calibration.NewState(), event.Position{})
	assert.Equal(t, int64(9), anchor.HardwareTimestamp)
	assert.Equal(t, uint64(1), h.Stats().Ignored)
}

func TestDrain_CalibrateFixedGain(t *testing.T) {
	h := NewHandler()
	var anchor event.TimestampSync
	cal := calibration.NewState()
	cal.Mode = calibration.ModeFixedGain
	cal.GainX, cal.GainY = 2, 2

	var seen []Command
	h.OnCalibrate = func(c Command, s calibration.State) {
		seen = append(seen, c)
		assert.Equal(t, 155.0, s.OffsetX)
	}

	h.Drain([]event.Record{event.NewCommandRecord("CalibrateEyePosition 100 200 800 600")}, &anchor, cal, event.Position{X: 5, Y: 5})

	assert.Equal(t, 400.0, cal.ScreenCenterX)
	assert.Equal(t, 300.0, cal.ScreenCenterY)
	assert.Equal(t, 155.0, cal.OffsetX)
	assert.Equal(t, 55.0, cal.OffsetY)
	assert.Equal(t, 100.0, cal.Apply(5, calibration.AxisX))
	assert.Equal(t, 200.0, cal.Apply(5, calibration.AxisY))
	assert.Len(t, seen, 1)
	assert.Equal(t, uint64(1), h.Stats().Calibrations)
}

func TestDrain_UnknownAndMalformedCommandsIgnored(t *testing.T) {
	h := NewHandler()
	var anchor event.TimestampSync
	cal := calibration.NewState()
	cal.Mode = calibration.ModeFixedGain
	before := *cal

	h.Drain([]event.Record{
		event.NewCommandRecord("StartRecording"),
		event.NewCommandRecord("CalibrateEyePosition 1 2"),
		{Type: event.TypeEyePosition, Payload: event.EncodePosition(event.Position{})},
	}, &anchor, cal, event.Position{X: 5, Y: 5})

	assert.Equal(t, before, *cal)
	assert.Equal(t, uint64(2), h.Stats().Ignored)
	assert.Zero(t, h.Stats().Calibrations)
}
