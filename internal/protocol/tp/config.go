package tp

import (
	"fmt"
	"time"
)

// Config defines segmentation and reassembly limits.
type Config struct {
	// Unit is the alignment of segment offsets and non-final segment lengths.
	// It must divide WireUnit or be a multiple of it. A unit above WireUnit
	// makes the reassembler reject wire offsets that are not aligned to it.
	Unit              uint32
	MaxSegmentPayload uint32
	MaxMessageSize    uint32
	ReassemblyTimeout time.Duration
	SweepInterval     time.Duration
	MaxBuffers        int
}

func DefaultConfig() Config {
	return Config{
		Unit:              WireUnit,
		MaxSegmentPayload: 1392,
		MaxMessageSize:    1 << 20,
		ReassemblyTimeout: 5 * time.Second,
		SweepInterval:     time.Second,
		MaxBuffers:        256,
	}
}

func (c Config) Validate() error {
	if c.Unit == 0 {
		return fmt.Errorf("%w: unit must be positive", ErrInvalidConfig)
	}
	if WireUnit%c.Unit != 0 && c.Unit%WireUnit != 0 {
		return fmt.Errorf("%w: unit %d must divide or be a multiple of %d", ErrInvalidConfig, c.Unit, WireUnit)
	}
	if c.MaxMessageSize == 0 {
		return fmt.Errorf("%w: max_message_size must be positive", ErrInvalidConfig)
	}
	if c.ReassemblyTimeout <= 0 {
		return fmt.Errorf("%w: reassembly_timeout must be positive", ErrInvalidConfig)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("%w: sweep_interval must be positive", ErrInvalidConfig)
	}
	if c.MaxBuffers <= 0 {
		return fmt.Errorf("%w: max_buffers must be positive", ErrInvalidConfig)
	}
	return nil
}

// chunkSize is the largest segment payload that keeps every offset aligned
// to both the configured unit and the wire unit.
func (c Config) chunkSize() (uint32, error) {
	if err := c.Validate(); err != nil {
		return 0, err
	}
	align := lcm(c.Unit, WireUnit)
	chunk := c.MaxSegmentPayload - c.MaxSegmentPayload%align
	if chunk == 0 {
		return 0, fmt.Errorf("%w: max_segment_payload %d below alignment %d", ErrInvalidConfig, c.MaxSegmentPayload, align)
	}
	return chunk, nil
}

func gcd(a, b uint32) uint32 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b uint32) uint32 {
	return a / gcd(a, b) * b
}
