// Package control applies the out-of-band records that arrive on the host
// event bus: clock synchronisation and calibration commands.
package control

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/eyetrack/internal/calibration"
	"github.com/banshee-data/eyetrack/internal/event"
	"github.com/banshee-data/eyetrack/internal/monitoring"
)

// CommandCalibrateEyePosition reports a fixation target and the screen
// geometry: "CalibrateEyePosition <fixateX> <fixateY> <screenWidth> <screenHeight>".
const CommandCalibrateEyePosition = "CalibrateEyePosition"

var (
	// ErrUnknownCommand is returned by ParseCommand for commands this node
	// does not handle.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrMalformedCommand is returned when a known command has bad arguments.
	ErrMalformedCommand = errors.New("malformed command")
)

// Command is a parsed calibration command.
type Command struct {
	Name   string
	Target calibration.Target
}

// ParseCommand parses a space-delimited text command.
func ParseCommand(text string) (Command, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return Command{}, ErrUnknownCommand
	}
	if fields[0] != CommandCalibrateEyePosition {
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, fields[0])
	}
	if len(fields) < 5 {
		return Command{}, fmt.Errorf("%w: %s needs 4 arguments, got %d", ErrMalformedCommand, fields[0], len(fields)-1)
	}

	var args [4]float64
	for i := range args {
		v, err := strconv.ParseFloat(fields[i+1], 64)
		if err != nil {
			return Command{}, fmt.Errorf("%w: argument %d: %v", ErrMalformedCommand, i+1, err)
		}
		args[i] = v
	}
	return Command{
		Name: fields[0],
		Target: calibration.Target{
			FixateX:      args[0],
			FixateY:      args[1],
			ScreenWidth:  int(args[2]),
			ScreenHeight: int(args[3]),
		},
	}, nil
}

// Format renders the command in its wire form.
func (c Command) Format() string {
	return fmt.Sprintf("%s %g %g %d %d", CommandCalibrateEyePosition,
		c.Target.FixateX, c.Target.FixateY, c.Target.ScreenWidth, c.Target.ScreenHeight)
}

// Stats counts handled records.
type Stats struct {
	TimestampSyncs uint64 `json:"timestamp_syncs"`
	Calibrations   uint64 `json:"calibrations"`
	Ignored        uint64 `json:"ignored"`
}

// Handler drains control records into the node state it is given. It is
// owned by a single processing node.
type Handler struct {
	logf  func(format string, v ...interface{})
	stats Stats

	// OnCalibrate, if set, is called after every applied calibration command.
	OnCalibrate func(Command, calibration.State)
}

// NewHandler returns a Handler.
func NewHandler() *Handler {
	return &Handler{logf: monitoring.CycleLogf(10*time.Second, 3)}
}

// Stats returns the handler counters.
func (h *Handler) Stats() Stats { return h.stats }

// Drain applies every record in order. Timestamp records replace anchor;
// calibration commands recalibrate cal using prev as the raw reference.
// Records of other types are skipped.
func (h *Handler) Drain(records []event.Record, anchor *event.TimestampSync, cal *calibration.State, prev event.Position) {
	for _, r := range records {
		switch r.Type {
		case event.TypeTimestamp:
			ts, err := event.DecodeTimestampSync(r.Payload)
			if err != nil {
				h.stats.Ignored++
				h.logf("control: dropping timestamp record: %v", err)
				continue
			}
			*anchor = ts
			h.stats.TimestampSyncs++

		case event.TypeNetwork:
			cmd, err := ParseCommand(string(r.Payload))
			if err != nil {
				h.stats.Ignored++
				if errors.Is(err, ErrMalformedCommand) {
					h.logf("control: %v", err)
				}
				continue
			}
			cal.Calibrate(cmd.Target, calibration.Point{X: prev.X, Y: prev.Y})
			h.stats.Calibrations++
			if h.OnCalibrate != nil {
				h.OnCalibrate(cmd, *cal)
			}
		}
	}
}
