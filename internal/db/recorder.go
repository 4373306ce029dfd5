package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/eyetrack/internal/event"
	"github.com/banshee-data/eyetrack/internal/monitoring"
	"github.com/banshee-data/eyetrack/internal/node"
)

const (
	// DefaultBatchSize is the number of positions buffered before a flush.
	DefaultBatchSize = 512
	// DefaultFlushInterval bounds how long positions stay buffered.
	DefaultFlushInterval = time.Second
	// DefaultMaxPending bounds the positions held while flushes fail.
	DefaultMaxPending = 64 * DefaultBatchSize
)

// StartSession opens a recording session and returns its ID.
func (db *DB) StartSession(device, inputMode string) (string, error) {
	id := uuid.New().String()
	_, err := db.Exec(`INSERT INTO sessions (session_id, device, input_mode, started_at) VALUES (?, ?, ?, ?)`,
		id, device, inputMode, time.Now().UnixNano())
	if err != nil {
		return "", fmt.Errorf("failed to start session: %w", err)
	}
	return id, nil
}

// EndSession marks a session finished and stores its sample count.
func (db *DB) EndSession(id string, samples int64) error {
	res, err := db.Exec(`UPDATE sessions SET ended_at = ?, sample_count = ? WHERE session_id = ?`,
		time.Now().UnixNano(), samples, id)
	if err != nil {
		return fmt.Errorf("failed to end session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("failed to end session %s: %w", id, sql.ErrNoRows)
	}
	return nil
}

// Recorder persists node output into one session. Positions are written in
// batched transactions; calibration events are written with the next batch.
type Recorder struct {
	db        *DB
	sessionID string

	BatchSize     int
	FlushInterval time.Duration
	// MaxPending caps buffered positions; the oldest are dropped beyond it.
	MaxPending int

	logf         func(format string, v ...interface{})
	positions    []event.Position
	calibrations []node.CalibrationEvent
	samples      int64
	dropped      int64
}

// NewRecorder returns a recorder writing into sessionID.
func NewRecorder(db *DB, sessionID string) *Recorder {
	return &Recorder{
		db:            db,
		sessionID:     sessionID,
		BatchSize:     DefaultBatchSize,
		FlushInterval: DefaultFlushInterval,
		MaxPending:    DefaultMaxPending,
		logf:          monitoring.CycleLogf(10*time.Second, 3),
	}
}

// SessionID returns the session being recorded.
func (r *Recorder) SessionID() string { return r.sessionID }

// Samples returns the number of positions written so far.
func (r *Recorder) Samples() int64 { return r.samples }

// Dropped returns the number of positions discarded because flushes kept
// failing.
func (r *Recorder) Dropped() int64 { return r.dropped }

// Pending returns the number of buffered positions.
func (r *Recorder) Pending() int { return len(r.positions) }

// Add buffers one cycle's output, flushing when the batch is full. Positions
// left unwritten beyond MaxPending are dropped, oldest first.
func (r *Recorder) Add(ctx context.Context, o node.Output) error {
	r.positions = append(r.positions, o.Positions...)
	r.calibrations = append(r.calibrations, o.Calibrations...)
	var err error
	if len(r.positions) >= r.BatchSize || len(r.calibrations) > 0 {
		err = r.Flush(ctx)
	}
	r.trim()
	return err
}

func (r *Recorder) trim() {
	limit := r.MaxPending
	if limit <= 0 {
		limit = DefaultMaxPending
	}
	if limit < r.BatchSize {
		limit = r.BatchSize
	}
	over := len(r.positions) - limit
	if over <= 0 {
		return
	}
	r.positions = r.positions[:copy(r.positions, r.positions[over:])]
	r.dropped += int64(over)
	r.logf("recorder: %d positions pending, dropped %d oldest (%d total)", limit, over, r.dropped)
}

// Flush writes everything buffered in a single transaction.
func (r *Recorder) Flush(ctx context.Context) error {
	if len(r.positions) == 0 && len(r.calibrations) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			monitoring.Logf("recorder: rollback failed: %v", err)
		}
	}()

	if len(r.positions) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO eye_positions
			(session_id, x, y, xc, yc, pupil, software_timestamp, hardware_timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare position insert: %w", err)
		}
		defer stmt.Close()
		for _, p := range r.positions {
			if _, err := stmt.ExecContext(ctx, r.sessionID, p.X, p.Y, p.XC, p.YC, p.Pupil,
				p.SoftwareTimestamp, p.HardwareTimestamp); err != nil {
				return fmt.Errorf("failed to insert position: %w", err)
			}
		}
	}

	for _, c := range r.calibrations {
		if _, err := tx.ExecContext(ctx, `INSERT INTO calibration_events
			(session_id, command, mode, raw_x, raw_y, offset_x, offset_y, screen_center_x, screen_center_y, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.sessionID, c.Command.Format(), int(c.State.Mode), c.Raw.X, c.Raw.Y,
			c.State.OffsetX, c.State.OffsetY, c.State.ScreenCenterX, c.State.ScreenCenterY,
			c.At.UnixNano()); err != nil {
			return fmt.Errorf("failed to insert calibration event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	r.samples += int64(len(r.positions))
	r.positions = r.positions[:0]
	r.calibrations = r.calibrations[:0]
	return nil
}

// Run records outputs from ch until ctx is done or ch is closed, then
// flushes and ends the session.
func (r *Recorder) Run(ctx context.Context, ch <-chan node.Output) error {
	interval := r.FlushInterval
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	finish := func() error {
		// the run context may already be cancelled; the final write must not be
		if err := r.Flush(context.Background()); err != nil {
			monitoring.Logf("recorder: final flush failed: %v", err)
		}
		return r.db.EndSession(r.sessionID, r.samples)
	}

	for {
		select {
		case <-ctx.Done():
			if err := finish(); err != nil {
				return err
			}
			return ctx.Err()
		case o, ok := <-ch:
			if !ok {
				return finish()
			}
			if err := r.Add(ctx, o); err != nil {
				monitoring.Logf("recorder: %v", err)
			}
		case <-ticker.C:
			if err := r.Flush(ctx); err != nil {
				monitoring.Logf("recorder: %v", err)
			}
		}
	}
}
