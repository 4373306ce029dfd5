package db

import (
	"database/sql"
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/eyetrack/internal/event"
)

// Session is one recording run.
type Session struct {
	ID          string `json:"session_id"`
	Device      string `json:"device"`
	InputMode   string `json:"input_mode"`
	StartedAt   int64  `json:"started_at"`
	EndedAt     *int64 `json:"ended_at,omitempty"`
	SampleCount int64  `json:"sample_count"`
}

// ListSessions returns sessions, newest first.
func (db *DB) ListSessions(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`SELECT session_id, device, input_mode, started_at, ended_at, sample_count
		FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		var ended sql.NullInt64
		if err := rows.Scan(&s.ID, &s.Device, &s.InputMode, &s.StartedAt, &ended, &s.SampleCount); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if ended.Valid {
			v := ended.Int64
			s.EndedAt = &v
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// SessionPositions returns up to limit positions of a session in emission
// order. A non-positive limit returns all of them.
func (db *DB) SessionPositions(id string, limit int) ([]event.Position, error) {
	q := `SELECT x, y, xc, yc, pupil, software_timestamp, hardware_timestamp
		FROM eye_positions WHERE session_id = ? ORDER BY rowid ASC`
	args := []any{id}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var out []event.Position
	for rows.Next() {
		var p event.Position
		if err := rows.Scan(&p.X, &p.Y, &p.XC, &p.YC, &p.Pupil, &p.SoftwareTimestamp, &p.HardwareTimestamp); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CalibrationRecord is a stored calibration event.
type CalibrationRecord struct {
	Command       string  `json:"command"`
	Mode          int     `json:"mode"`
	RawX          float64 `json:"raw_x"`
	RawY          float64 `json:"raw_y"`
	OffsetX       float64 `json:"offset_x"`
	OffsetY       float64 `json:"offset_y"`
	ScreenCenterX float64 `json:"screen_center_x"`
	ScreenCenterY float64 `json:"screen_center_y"`
	CreatedAt     int64   `json:"created_at"`
}

// SessionCalibrations returns the calibration log of a session.
func (db *DB) SessionCalibrations(id string) ([]CalibrationRecord, error) {
	rows, err := db.Query(`SELECT command, mode, raw_x, raw_y, offset_x, offset_y, screen_center_x, screen_center_y, created_at
		FROM calibration_events WHERE session_id = ? ORDER BY rowid ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query calibration events: %w", err)
	}
	defer rows.Close()

	var out []CalibrationRecord
	for rows.Next() {
		var c CalibrationRecord
		if err := rows.Scan(&c.Command, &c.Mode, &c.RawX, &c.RawY, &c.OffsetX, &c.OffsetY,
			&c.ScreenCenterX, &c.ScreenCenterY, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan calibration event: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// AxisStats summarises one channel of a session.
type AxisStats struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
}

// SessionStats summarises the calibrated gaze and pupil of a session.
type SessionStats struct {
	Samples int64     `json:"samples"`
	XC      AxisStats `json:"xc"`
	YC      AxisStats `json:"yc"`
	Pupil   AxisStats `json:"pupil"`
	// RateHz is the mean emission rate over the session's software clock
	// span. It is zero when fewer than two samples or no tick rate is known.
	RateHz float64 `json:"rate_hz"`
}

// ComputeSessionStats summarises positions. ticksPerSecond converts software
// timestamps to seconds; pass zero to skip the rate estimate.
func ComputeSessionStats(positions []event.Position, ticksPerSecond int64) SessionStats {
	s := SessionStats{Samples: int64(len(positions))}
	if len(positions) == 0 {
		return s
	}
	xc := make([]float64, len(positions))
	yc := make([]float64, len(positions))
	pupil := make([]float64, len(positions))
	for i, p := range positions {
		xc[i], yc[i], pupil[i] = p.XC, p.YC, p.Pupil
	}
	axis := func(v []float64) AxisStats {
		if len(v) < 2 {
			return AxisStats{Mean: stat.Mean(v, nil)}
		}
		m, sd := stat.MeanStdDev(v, nil)
		return AxisStats{Mean: m, StdDev: sd}
	}
	s.XC, s.YC, s.Pupil = axis(xc), axis(yc), axis(pupil)

	if ticksPerSecond > 0 && len(positions) > 1 {
		span := positions[len(positions)-1].SoftwareTimestamp - positions[0].SoftwareTimestamp
		if span > 0 {
			s.RateHz = float64(len(positions)-1) * float64(ticksPerSecond) / float64(span)
		}
	}
	return s
}

// GetSessionStats loads a session and summarises it.
func (db *DB) GetSessionStats(id string, ticksPerSecond int64) (SessionStats, error) {
	positions, err := db.SessionPositions(id, 0)
	if err != nil {
		return SessionStats{}, err
	}
	return ComputeSessionStats(positions, ticksPerSecond), nil
}
