package bf

import (
	"context"
	"errors"
	"io"
	"math/big"
	"unicode/utf8"

	"github.com/containerd/log"
)

// Interpreter executes a program directly from its source text. All machine
// state lives here: the tape, the program counter, the loop stack and the
// pending input.
type Interpreter struct {
	Output io.Writer

	program []rune
	pc      int
	tape    *Tape
	loops   []int
	input   *lineReader
	config  Config
	steps   int64
}

func NewInterpreter(config Config, input io.Reader, output io.Writer) (*Interpreter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Interpreter{
		Output: output,
		tape:   NewTape(config.InitialTapeSize, config.MaxTapeSize, NewBounds(config.BitWidth)),
		input:  newLineReader(input),
		config: config,
	}, nil
}

// Reset clears the tape and all execution state. Pending input is kept.
func (i *Interpreter) Reset() {
	i.program = nil
	i.pc = 0
	i.loops = nil
	i.steps = 0
	i.tape = NewTape(i.config.InitialTapeSize, i.config.MaxTapeSize, NewBounds(i.config.BitWidth))
}

func (i *Interpreter) TapeLength() int {
	return i.tape.Len()
}

// At returns the value of cell j. It panics if j is not on the tape.
func (i *Interpreter) At(j int) *big.Int {
	return i.tape.At(j)
}

func (i *Interpreter) Pointer() int {
	return i.tape.Pointer()
}

func (i *Interpreter) PC() int {
	return i.pc
}

func (i *Interpreter) LoopDepth() int {
	return len(i.loops)
}

// Steps is the number of instructions dispatched by the last run.
func (i *Interpreter) Steps() int64 {
	return i.steps
}

func (i *Interpreter) Run(code string) error {
	return i.RunContext(context.Background(), code)
}

// RunContext executes code until the program counter runs off its end or a
// fatal error occurs. The tape carries over from previous runs. ctx is
// polled between instructions; a blocked input read is not interrupted.
func (i *Interpreter) RunContext(ctx context.Context, code string) error {
	i.program = []rune(code)
	i.pc = 0
	i.loops = i.loops[:0]
	i.steps = 0

	log.G(ctx).WithField("length", len(i.program)).Debug("run")

	for i.pc < len(i.program) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if i.config.MaxSteps > 0 && i.steps >= i.config.MaxSteps {
			return i.fail(ctx, ErrStepLimit)
		}
		i.steps++
		if err := i.step(); err != nil {
			return i.fail(ctx, err)
		}
		i.pc++
	}

	log.G(ctx).WithFields(log.Fields{
		"steps": i.steps,
		"tape":  i.tape.Len(),
	}).Debug("halt")
	return nil
}

func (i *Interpreter) step() error {
	switch Decode(i.program[i.pc]) {
	case Increment:
		return i.tape.Increment()
	case Decrement:
		return i.tape.Decrement()
	case Right:
		return i.tape.Right()
	case Left:
		i.tape.Left()
	case Output:
		return i.putc()
	case Input:
		return i.getc()
	case LoopStart:
		return i.loopStart()
	case LoopEnd:
		return i.loopEnd()
	}
	return nil
}

func (i *Interpreter) putc() error {
	c, err := i.tape.Cell()
	if err != nil {
		return err
	}
	if !c.IsInt64() || c.Int64() < 0 || c.Int64() > utf8.MaxRune || !utf8.ValidRune(rune(c.Int64())) {
		return ErrInvalidCodePoint
	}
	if err := writeRune(i.Output, rune(c.Int64())); err != nil {
		return i.wrap(ErrOutputFailed, err)
	}
	return nil
}

// getc reads before the bounds check, so a bad pointer is only reported
// once a character has been consumed.
func (i *Interpreter) getc() error {
	c, err := i.input.next()
	if err != nil {
		if errors.Is(err, ErrInputExhausted) {
			return err
		}
		return i.wrap(ErrInputExhausted, err)
	}
	return i.tape.Store(int64(c))
}

func (i *Interpreter) wrap(kind, cause error) *RuntimeError {
	return &RuntimeError{
		Err:     kind,
		PC:      i.pc,
		Pointer: i.tape.Pointer(),
		Cause:   cause,
	}
}

func (i *Interpreter) fail(ctx context.Context, err error) error {
	var rerr *RuntimeError
	if !errors.As(err, &rerr) {
		rerr = i.wrap(err, nil)
	}
	log.G(ctx).WithFields(log.Fields{
		"pc":      rerr.PC,
		"pointer": rerr.Pointer,
		"steps":   i.steps,
	}).WithError(rerr.Err).Debug("fatal")
	return rerr
}
