package event

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// PositionV2Version is written as field 1 of every V2 record.
const PositionV2Version = 2

// V2 field numbers. Unknown fields are skipped on decode so the layout can
// grow without breaking older readers.
const (
	fieldVersion protowire.Number = 1
	fieldX       protowire.Number = 2
	fieldY       protowire.Number = 3
	fieldXC      protowire.Number = 4
	fieldYC      protowire.Number = 5
	fieldPupil   protowire.Number = 6
	fieldSoftTS  protowire.Number = 7
	fieldHardTS  protowire.Number = 8
)

var errUnsupportedVersion = errors.New("unsupported eye position encoding version")

// EncodePositionV2 serializes p in protobuf wire format. It is the versioned
// export encoding; the host bus keeps using the fixed 56-byte layout.
func EncodePositionV2(p Position) []byte {
	b := make([]byte, 0, 64)
	b = protowire.AppendTag(b, fieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, PositionV2Version)
	for _, f := range []struct {
		num protowire.Number
		v   float64
	}{
		{fieldX, p.X},
		{fieldY, p.Y},
		{fieldXC, p.XC},
		{fieldYC, p.YC},
		{fieldPupil, p.Pupil},
	} {
		b = protowire.AppendTag(b, f.num, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(f.v))
	}
	b = protowire.AppendTag(b, fieldSoftTS, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(p.SoftwareTimestamp))
	b = protowire.AppendTag(b, fieldHardTS, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(p.HardwareTimestamp))
	return b
}

// DecodePositionV2 is the inverse of EncodePositionV2.
func DecodePositionV2(b []byte) (Position, error) {
	var p Position
	var version uint64
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Position{}, fmt.Errorf("eye position v2: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case typ == protowire.Fixed64Type && num >= fieldX && num <= fieldPupil:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return Position{}, fmt.Errorf("eye position v2 field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			f := math.Float64frombits(v)
			switch num {
			case fieldX:
				p.X = f
			case fieldY:
				p.Y = f
			case fieldXC:
				p.XC = f
			case fieldYC:
				p.YC = f
			case fieldPupil:
				p.Pupil = f
			}
		case typ == protowire.VarintType && (num == fieldVersion || num == fieldSoftTS || num == fieldHardTS):
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Position{}, fmt.Errorf("eye position v2 field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldVersion:
				version = v
			case fieldSoftTS:
				p.SoftwareTimestamp = protowire.DecodeZigZag(v)
			case fieldHardTS:
				p.HardwareTimestamp = protowire.DecodeZigZag(v)
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Position{}, fmt.Errorf("eye position v2 field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if version != PositionV2Version {
		return Position{}, fmt.Errorf("%w: %d", errUnsupportedVersion, version)
	}
	return p, nil
}
