package encoder

import (
	"errors"
	"fmt"
)

var ErrInvalidArgument = errors.New("invalid encoder argument")

const (
	MaxPriority = 7
	MaxDGN      = 0x1FFFF
)

// Header is the decomposed 29-bit arbitration id:
// bits 26-28 priority, bit 25 reserved, bits 8-24 DGN, bits 0-7 source.
type Header struct {
	Priority uint8  `json:"priority"`
	DGN      uint32 `json:"dgn"`
	Source   uint8  `json:"source"`
}

// BuildArbitrationID packs priority, DGN and source address. Out-of-range
// values are rejected, never truncated.
func BuildArbitrationID(priority int, dgn uint32, source int) (uint32, error) {
	if priority < 0 || priority > MaxPriority {
		return 0, fmt.Errorf("%w: priority must be 0-%d, got %d", ErrInvalidArgument, MaxPriority, priority)
	}
	if dgn > MaxDGN {
		return 0, fmt.Errorf("%w: dgn must be 0-0x%X, got 0x%X", ErrInvalidArgument, MaxDGN, dgn)
	}
	if source < 0 || source > 0xFF {
		return 0, fmt.Errorf("%w: source address must be 0-255, got %d", ErrInvalidArgument, source)
	}
	return uint32(priority)<<26 | dgn<<8 | uint32(source), nil
}

// ParseArbitrationID splits a 29-bit id into its fields.
func ParseArbitrationID(id uint32) Header {
	return Header{
		Priority: uint8((id >> 26) & 0x7), // bit 26,27,28
		DGN:      (id >> 8) & MaxDGN,      // bit 8-24
		Source:   uint8(id),               // bit 0-7
	}
}
