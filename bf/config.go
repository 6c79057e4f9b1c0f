package bf

import (
	"fmt"
	"math/big"
)

const (
	DefaultTapeSize    = 1024
	DefaultMaxTapeSize = 1 << 30
	MaxBitWidth        = 1 << 20
)

// Config holds the engine options fixed at construction.
type Config struct {
	// Initial number of cells on the tape.
	InitialTapeSize int
	// Hard ceiling on the tape length. Moving the pointer onto it is fatal.
	MaxTapeSize int
	// Cell width in bits. Zero leaves cells unbounded.
	BitWidth int
	// Maximum number of executed instructions. Zero means no limit.
	MaxSteps int64
}

func DefaultConfig() Config {
	return Config{
		InitialTapeSize: DefaultTapeSize,
		MaxTapeSize:     DefaultMaxTapeSize,
	}
}

func (c Config) Validate() error {
	if c.MaxTapeSize < 1 {
		return fmt.Errorf("%w: max tape size must be positive, got %d", ErrInvalidConfig, c.MaxTapeSize)
	}
	if c.InitialTapeSize < 1 || c.InitialTapeSize > c.MaxTapeSize {
		return fmt.Errorf("%w: initial tape size must be in [1, %d], got %d", ErrInvalidConfig, c.MaxTapeSize, c.InitialTapeSize)
	}
	if c.BitWidth < 0 || c.BitWidth > MaxBitWidth {
		return fmt.Errorf("%w: bitwidth must be in [0, %d], got %d", ErrInvalidConfig, MaxBitWidth, c.BitWidth)
	}
	if c.MaxSteps < 0 {
		return fmt.Errorf("%w: max steps must not be negative, got %d", ErrInvalidConfig, c.MaxSteps)
	}
	return nil
}

// Bounds is the inclusive range of a fixed-width cell.
type Bounds struct {
	Min *big.Int
	Max *big.Int
}

// NewBounds returns the two's complement range of a bitwidth-bit integer,
// or nil for a zero bitwidth.
func NewBounds(bitwidth int) *Bounds {
	if bitwidth <= 0 {
		return nil
	}
	hi := new(big.Int).Lsh(big.NewInt(1), uint(bitwidth-1))
	hi.Sub(hi, big.NewInt(1))
	lo := new(big.Int).Neg(hi)
	lo.Sub(lo, big.NewInt(1))
	return &Bounds{Min: lo, Max: hi}
}
