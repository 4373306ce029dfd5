// Package event defines the records exchanged with the host event bus: the
// eye-position record this node emits and the timestamp-sync and text command
// records it consumes.
package event

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Type tags a record in the host's generic event envelope.
type Type uint8

const (
	TypeTimestamp   Type = 0
	TypeNetwork     Type = 3
	TypeEyePosition Type = 7
)

func (t Type) String() string {
	switch t {
	case TypeTimestamp:
		return "timestamp"
	case TypeNetwork:
		return "network"
	case TypeEyePosition:
		return "eye_position"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// GenericEvent is the processor-specific subtype carried by every record this
// node produces.
const GenericEvent uint8 = 1

// Record is one entry of the generic event envelope.
type Record struct {
	Type    Type
	Subtype uint8
	Payload []byte
}

// Position is a calibrated eye position. X, Y and Pupil are raw readings; XC
// and YC are calibrated pixel coordinates.
type Position struct {
	X                 float64 `json:"x"`
	Y                 float64 `json:"y"`
	XC                float64 `json:"xc"`
	YC                float64 `json:"yc"`
	Pupil             float64 `json:"pupil"`
	SoftwareTimestamp int64   `json:"software_timestamp"`
	HardwareTimestamp int64   `json:"hardware_timestamp"`
}

// SameReading reports whether p and other carry the same raw triple.
func (p Position) SameReading(other Position) bool {
	return p.X == other.X && p.Y == other.Y && p.Pupil == other.Pupil
}

// EyePositionSize is the exact payload length of an eye-position record.
const EyePositionSize = 7 * 8

// ErrPayloadSize is returned when a payload does not have the expected length.
var ErrPayloadSize = errors.New("unexpected payload size")

// EncodePosition serializes p as seven little-endian 8-byte fields in the
// order x, y, xc, yc, pupil, softwareTimestamp, hardwareTimestamp.
func EncodePosition(p Position) []byte {
	buf := make([]byte, EyePositionSize)
	binary.LittleEndian.PutUint64(buf[0:], math.Float64bits(p.X))
	binary.LittleEndian.PutUint64(buf[8:], math.Float64bits(p.Y))
	binary.LittleEndian.PutUint64(buf[16:], math.Float64bits(p.XC))
	binary.LittleEndian.PutUint64(buf[24:], math.Float64bits(p.YC))
	binary.LittleEndian.PutUint64(buf[32:], math.Float64bits(p.Pupil))
	binary.LittleEndian.PutUint64(buf[40:], uint64(p.SoftwareTimestamp))
	binary.LittleEndian.PutUint64(buf[48:], uint64(p.HardwareTimestamp))
	return buf
}

// DecodePosition is the inverse of EncodePosition.
func DecodePosition(b []byte) (Position, error) {
	if len(b) != EyePositionSize {
		return Position{}, fmt.Errorf("eye position: %w: got %d bytes, want %d", ErrPayloadSize, len(b), EyePositionSize)
	}
	return Position{
		X:                 math.Float64frombits(binary.LittleEndian.Uint64(b[0:])),
		Y:                 math.Float64frombits(binary.LittleEndian.Uint64(b[8:])),
		XC:                math.Float64frombits(binary.LittleEndian.Uint64(b[16:])),
		YC:                math.Float64frombits(binary.LittleEndian.Uint64(b[24:])),
		Pupil:             math.Float64frombits(binary.LittleEndian.Uint64(b[32:])),
		SoftwareTimestamp: int64(binary.LittleEndian.Uint64(b[40:])),
		HardwareTimestamp: int64(binary.LittleEndian.Uint64(b[48:])),
	}, nil
}

// TimestampSync is the hardware/software clock pair carried by timestamp
// records.
type TimestampSync struct {
	HardwareTimestamp int64
	SoftwareTimestamp int64
}

// TimestampSyncSize is the payload length of a timestamp record: four
// reserved bytes followed by two int64 values.
const TimestampSyncSize = 4 + 8 + 8

// EncodeTimestampSync serializes ts with the reserved prefix zeroed.
func EncodeTimestampSync(ts TimestampSync) []byte {
	buf := make([]byte, TimestampSyncSize)
	binary.LittleEndian.PutUint64(buf[4:], uint64(ts.HardwareTimestamp))
	binary.LittleEndian.PutUint64(buf[12:], uint64(ts.SoftwareTimestamp))
	return buf
}

// DecodeTimestampSync reads the clock pair, skipping the reserved prefix.
// Trailing bytes are ignored.
func DecodeTimestampSync(b []byte) (TimestampSync, error) {
	if len(b) < TimestampSyncSize {
		return TimestampSync{}, fmt.Errorf("timestamp sync: %w: got %d bytes, want at least %d", ErrPayloadSize, len(b), TimestampSyncSize)
	}
	return TimestampSync{
		HardwareTimestamp: int64(binary.LittleEndian.Uint64(b[4:])),
		SoftwareTimestamp: int64(binary.LittleEndian.Uint64(b[12:])),
	}, nil
}

// NewPositionRecord wraps p in an eye-position record.
func NewPositionRecord(p Position) Record {
	return Record{Type: TypeEyePosition, Subtype: GenericEvent, Payload: EncodePosition(p)}
}

// NewTimestampRecord wraps ts in a timestamp record.
func NewTimestampRecord(ts TimestampSync) Record {
	return Record{Type: TypeTimestamp, Payload: EncodeTimestampSync(ts)}
}

// NewCommandRecord wraps a text command in a network record.
func NewCommandRecord(command string) Record {
	return Record{Type: TypeNetwork, Subtype: GenericEvent, Payload: []byte(command)}
}

// Collection is the ordered set of records produced during one processing
// cycle.
type Collection struct {
	records []Record
}

// AppendPosition encodes p and appends it to the collection.
func (c *Collection) AppendPosition(p Position) {
	c.records = append(c.records, NewPositionRecord(p))
}

// Append adds an arbitrary record.
func (c *Collection) Append(r Record) {
	c.records = append(c.records, r)
}

// Records returns the records in emission order.
func (c *Collection) Records() []Record { return c.records }

// Len returns the number of records.
func (c *Collection) Len() int { return len(c.records) }

// Reset empties the collection, keeping its capacity.
func (c *Collection) Reset() { c.records = c.records[:0] }

// Positions decodes every eye-position record in the collection.
func (c *Collection) Positions() []Position {
	out := make([]Position, 0, len(c.records))
	for _, r := range c.records {
		if r.Type != TypeEyePosition {
			continue
		}
		if p, err := DecodePosition(r.Payload); err == nil {
			out = append(out, p)
		}
	}
	return out
}
