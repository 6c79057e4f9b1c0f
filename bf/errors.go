package bf

import (
	"errors"
	"fmt"
)

var (
	ErrOutOfBounds           = errors.New("data pointer out of bounds")
	ErrStackOverflow         = errors.New("stack overflow")
	ErrAddressSpaceExhausted = errors.New("address space exhausted")
	ErrUnterminatedLoop      = errors.New("unexpected end of code")
	ErrUnmatchedLoopEnd      = errors.New("loop end without loop start")
	ErrInputExhausted        = errors.New("input exhausted")
	ErrInvalidCodePoint      = errors.New("cell is not a valid character")
	ErrOutputFailed          = errors.New("output failed")
	ErrStepLimit             = errors.New("step limit reached")

	ErrInvalidConfig = errors.New("invalid config")
)

// RuntimeError is a fatal error raised while executing a program. Err is one
// of the sentinel errors above.
type RuntimeError struct {
	Err     error
	PC      int
	Pointer int
	Cause   error
}

func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%v at pc %d (pointer %d)", e.Err, e.PC, e.Pointer)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *RuntimeError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}
