package bf_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarcinKonowalczyk/bfvm/bf"
)

func newInterpreter(t *testing.T, config bf.Config, input string) (*bf.Interpreter, *strings.Builder) {
	t.Helper()
	out := &strings.Builder{}
	interpreter, err := bf.NewInterpreter(config, strings.NewReader(input), out)
	require.NoError(t, err)
	return interpreter, out
}

func run(t *testing.T, code string) *bf.Interpreter {
	t.Helper()
	interpreter, _ := newInterpreter(t, bf.DefaultConfig(), "")
	require.NoError(t, interpreter.Run(code))
	return interpreter
}

func TestInterpreter_OutputNilWriter(t *testing.T) {
	interpreter, err := bf.NewInterpreter(bf.DefaultConfig(), nil, nil)
	require.NoError(t, err)
	assert.NoError(t, interpreter.Run("+++."))
}

func TestInterpreter_InputNilReader(t *testing.T) {
	interpreter, err := bf.NewInterpreter(bf.DefaultConfig(), nil, nil)
	require.NoError(t, err)
	err = interpreter.Run(",")
	assert.ErrorIs(t, err, bf.ErrInputExhausted)
}

func TestInterpreter_Increment(t *testing.T) {
	interpreter := run(t, "+")
	assert.Equal(t, int64(1), interpreter.At(0).Int64())
}

func TestInterpreter_Decrement(t *testing.T) {
	interpreter := run(t, "-")
	assert.Equal(t, int64(-1), interpreter.At(0).Int64())
}

func TestInterpreter_MoveRight(t *testing.T) {
	interpreter := run(t, ">+")
	assert.Equal(t, int64(0), interpreter.At(0).Int64())
	assert.Equal(t, int64(1), interpreter.At(1).Int64())
	assert.Equal(t, 1, interpreter.Pointer())
}

func TestInterpreter_MoveLeftThenRight(t *testing.T) {
	interpreter := run(t, "<>+")
	assert.Equal(t, int64(1), interpreter.At(0).Int64())
	assert.Equal(t, 0, interpreter.Pointer())
}

func TestInterpreter_Comments(t *testing.T) {
	interpreter := run(t, "hello world + this is a comment")
	assert.Equal(t, int64(1), interpreter.At(0).Int64())
}

func TestInterpreter_Loop(t *testing.T) {
	interpreter := run(t, "+++[->+<]")
	assert.Equal(t, int64(0), interpreter.At(0).Int64())
	assert.Equal(t, int64(3), interpreter.At(1).Int64())
	assert.Equal(t, 0, interpreter.LoopDepth())
}

func TestInterpreter_NestedLoop(t *testing.T) {
	// 3 * 4 into cell 2
	interpreter := run(t, "+++[>++++[->+<]<-]")
	assert.Equal(t, int64(0), interpreter.At(0).Int64())
	assert.Equal(t, int64(0), interpreter.At(1).Int64())
	assert.Equal(t, int64(12), interpreter.At(2).Int64())
}

func TestInterpreter_SkipNestedLoops(t *testing.T) {
	interpreter := run(t, "[[]]")
	assert.Equal(t, 4, interpreter.PC())
	assert.Equal(t, int64(1), interpreter.Steps())
	assert.Equal(t, int64(0), interpreter.At(0).Int64())
	assert.Equal(t, 0, interpreter.LoopDepth())
}

func TestInterpreter_SkipLoopWithBody(t *testing.T) {
	interpreter := run(t, "[+[>+<-]+]+")
	assert.Equal(t, int64(1), interpreter.At(0).Int64())
	assert.Equal(t, int64(0), interpreter.At(1).Int64())
}

func TestInterpreter_HelloAt(t *testing.T) {
	interpreter, out := newInterpreter(t, bf.DefaultConfig(), "")
	require.NoError(t, interpreter.Run("++++++++[>++++++++<-]>."))
	assert.Equal(t, "@", out.String())
}

func TestInterpreter_HelloWorld(t *testing.T) {
	code := "++++++++[>++++[>++>+++>+++>+<<<<-]>+>+>->>+[<]<-]>>.>---.+++++++..+++.>>.<-.<.+++.------.--------.>>+.>++."
	interpreter, out := newInterpreter(t, bf.DefaultConfig(), "")
	require.NoError(t, interpreter.Run(code))
	assert.Equal(t, "Hello World!\n", out.String())
}

func TestInterpreter_Echo(t *testing.T) {
	interpreter, out := newInterpreter(t, bf.DefaultConfig(), "A\n")
	require.NoError(t, interpreter.Run(",."))
	assert.Equal(t, "A", out.String())
}

func TestInterpreter_EchoLineTerminator(t *testing.T) {
	// The last line has no terminator in the source but still gets one.
	interpreter, out := newInterpreter(t, bf.DefaultConfig(), "ab\nc")
	require.NoError(t, interpreter.Run(",.,.,.,.,."))
	assert.Equal(t, "ab\nc\n", out.String())
}

func TestInterpreter_EchoCRLF(t *testing.T) {
	interpreter, out := newInterpreter(t, bf.DefaultConfig(), "A\r\nB\r")
	require.NoError(t, interpreter.Run(",.,.,.,."))
	assert.Equal(t, "A\nB\n", out.String())
}

func TestInterpreter_EchoUnicode(t *testing.T) {
	interpreter, out := newInterpreter(t, bf.DefaultConfig(), "λ\n")
	require.NoError(t, interpreter.Run(",."))
	assert.Equal(t, "λ", out.String())
	assert.Equal(t, int64('λ'), interpreter.At(0).Int64())
}

func TestInterpreter_InputExhausted(t *testing.T) {
	interpreter, _ := newInterpreter(t, bf.DefaultConfig(), "x\n")
	err := interpreter.Run(",,,")

	var rerr *bf.RuntimeError
	require.ErrorAs(t, err, &rerr)
	assert.ErrorIs(t, err, bf.ErrInputExhausted)
	assert.Equal(t, 2, rerr.PC)
}

func TestInterpreter_InputReadFailure(t *testing.T) {
	boom := errors.New("boom")
	interpreter, err := bf.NewInterpreter(bf.DefaultConfig(), iotest.ErrReader(boom), nil)
	require.NoError(t, err)

	err = interpreter.Run(",")
	assert.ErrorIs(t, err, bf.ErrInputExhausted)
	assert.ErrorIs(t, err, boom)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("closed")
}

func TestInterpreter_OutputFailure(t *testing.T) {
	interpreter, err := bf.NewInterpreter(bf.DefaultConfig(), nil, failingWriter{})
	require.NoError(t, err)
	assert.ErrorIs(t, interpreter.Run("+."), bf.ErrOutputFailed)
}

func TestInterpreter_OutputInvalidCodePoint(t *testing.T) {
	interpreter, out := newInterpreter(t, bf.DefaultConfig(), "")
	err := interpreter.Run("-.")
	assert.ErrorIs(t, err, bf.ErrInvalidCodePoint)
	assert.Empty(t, out.String())
}

func TestInterpreter_LeftOfZero(t *testing.T) {
	interpreter, _ := newInterpreter(t, bf.DefaultConfig(), "")
	require.NoError(t, interpreter.Run("<<"))
	assert.Equal(t, -2, interpreter.Pointer())

	err := interpreter.Run("<+")
	var rerr *bf.RuntimeError
	require.ErrorAs(t, err, &rerr)
	assert.ErrorIs(t, err, bf.ErrOutOfBounds)
	assert.Equal(t, 1, rerr.PC)
	assert.Equal(t, -3, rerr.Pointer)
	assert.Equal(t, "data pointer out of bounds at pc 1 (pointer -3)", err.Error())
}

func TestInterpreter_OutOfBoundsOnEveryAccess(t *testing.T) {
	for _, code := range []string{"<+", "<-", "<.", "<[", "<]"} {
		interpreter, _ := newInterpreter(t, bf.DefaultConfig(), "")
		assert.ErrorIs(t, interpreter.Run(code), bf.ErrOutOfBounds, code)
	}
}

func TestInterpreter_InputOutOfBoundsAfterRead(t *testing.T) {
	interpreter, out := newInterpreter(t, bf.DefaultConfig(), "ab\n")
	assert.ErrorIs(t, interpreter.Run("<,"), bf.ErrOutOfBounds)

	// The character was consumed before the failed write.
	require.NoError(t, interpreter.Run(">,."))
	assert.Equal(t, "b", out.String())
}

func TestInterpreter_UnterminatedLoop(t *testing.T) {
	interpreter, _ := newInterpreter(t, bf.DefaultConfig(), "")
	err := interpreter.Run("[+")

	var rerr *bf.RuntimeError
	require.ErrorAs(t, err, &rerr)
	assert.ErrorIs(t, err, bf.ErrUnterminatedLoop)
	assert.Equal(t, 2, rerr.PC)
	assert.Equal(t, int64(0), interpreter.At(0).Int64())
}

func TestInterpreter_UnterminatedLoopEntered(t *testing.T) {
	interpreter := run(t, "+[+")
	assert.Equal(t, int64(2), interpreter.At(0).Int64())
	assert.Equal(t, 1, interpreter.LoopDepth())
}

func TestInterpreter_UnmatchedLoopEnd(t *testing.T) {
	for _, code := range []string{"]", "+]"} {
		interpreter, _ := newInterpreter(t, bf.DefaultConfig(), "")
		assert.ErrorIs(t, interpreter.Run(code), bf.ErrUnmatchedLoopEnd, code)
	}
}

func TestInterpreter_EmptyLoopNeverTerminates(t *testing.T) {
	config := bf.DefaultConfig()
	config.MaxSteps = 10_000
	interpreter, _ := newInterpreter(t, config, "")

	err := interpreter.Run("+[]")
	assert.ErrorIs(t, err, bf.ErrStepLimit)
	assert.Equal(t, int64(10_000), interpreter.Steps())
	assert.Equal(t, 1, interpreter.LoopDepth())
}

func TestInterpreter_StepLimitNotReached(t *testing.T) {
	config := bf.DefaultConfig()
	config.MaxSteps = 3
	interpreter, _ := newInterpreter(t, config, "")
	assert.NoError(t, interpreter.Run("+++"))
	assert.ErrorIs(t, interpreter.Run("++++"), bf.ErrStepLimit)
}

func TestInterpreter_Cancelled(t *testing.T) {
	interpreter, _ := newInterpreter(t, bf.DefaultConfig(), "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, interpreter.RunContext(ctx, "+[]"), context.Canceled)
}

func TestInterpreter_Wraparound(t *testing.T) {
	config := bf.DefaultConfig()
	config.BitWidth = 8

	interpreter, _ := newInterpreter(t, config, "")
	require.NoError(t, interpreter.Run(strings.Repeat("+", 127)))
	assert.Equal(t, int64(127), interpreter.At(0).Int64())
	require.NoError(t, interpreter.Run("+"))
	assert.Equal(t, int64(-128), interpreter.At(0).Int64())
	require.NoError(t, interpreter.Run("-"))
	assert.Equal(t, int64(127), interpreter.At(0).Int64())
}

func TestInterpreter_WraparoundFullCycle(t *testing.T) {
	for _, bitwidth := range []int{1, 2, 8, 12} {
		config := bf.DefaultConfig()
		config.BitWidth = bitwidth
		interpreter, _ := newInterpreter(t, config, "")

		require.NoError(t, interpreter.Run("+++"))
		start := interpreter.At(0)
		require.NoError(t, interpreter.Run(strings.Repeat("+", 1<<bitwidth)))
		assert.Equal(t, 0, start.Cmp(interpreter.At(0)), "bitwidth %d", bitwidth)
	}
}

func TestInterpreter_NoWraparound(t *testing.T) {
	interpreter := run(t, strings.Repeat("+", 300))
	assert.Equal(t, int64(300), interpreter.At(0).Int64())

	interpreter = run(t, strings.Repeat("-", 300))
	assert.Equal(t, int64(-300), interpreter.At(0).Int64())
}

func TestInterpreter_Growth(t *testing.T) {
	config := bf.DefaultConfig()
	config.InitialTapeSize = 4
	interpreter, _ := newInterpreter(t, config, "")

	for n := 1; n <= 40; n++ {
		require.NoError(t, interpreter.Run(">"))
		assert.GreaterOrEqual(t, interpreter.TapeLength(), n+1)
		assert.Equal(t, int64(0), interpreter.At(n).Int64())
	}
	assert.Equal(t, 64, interpreter.TapeLength())
}

func TestInterpreter_GrowthKeepsCells(t *testing.T) {
	config := bf.DefaultConfig()
	config.InitialTapeSize = 2
	interpreter, _ := newInterpreter(t, config, "")

	require.NoError(t, interpreter.Run("+>++>+++"))
	assert.Equal(t, 4, interpreter.TapeLength())
	assert.Equal(t, int64(1), interpreter.At(0).Int64())
	assert.Equal(t, int64(2), interpreter.At(1).Int64())
	assert.Equal(t, int64(3), interpreter.At(2).Int64())
	assert.Equal(t, int64(0), interpreter.At(3).Int64())
}

func TestInterpreter_AddressSpaceExhausted(t *testing.T) {
	config := bf.DefaultConfig()
	config.InitialTapeSize = 3
	config.MaxTapeSize = 5
	interpreter, _ := newInterpreter(t, config, "")

	require.NoError(t, interpreter.Run(">>>>"))
	assert.Equal(t, 5, interpreter.TapeLength())

	err := interpreter.Run(">")
	var rerr *bf.RuntimeError
	require.ErrorAs(t, err, &rerr)
	assert.ErrorIs(t, err, bf.ErrAddressSpaceExhausted)
	assert.Equal(t, 0, rerr.PC)
	assert.Equal(t, 5, rerr.Pointer)
	assert.Equal(t, 5, interpreter.TapeLength())
}

func TestInterpreter_Reset(t *testing.T) {
	config := bf.DefaultConfig()
	config.InitialTapeSize = 1
	interpreter, _ := newInterpreter(t, config, "")

	require.NoError(t, interpreter.Run(">>+"))
	interpreter.Reset()
	assert.Equal(t, 0, interpreter.Pointer())
	assert.Equal(t, 0, interpreter.PC())
	assert.Equal(t, 1, interpreter.TapeLength())
	assert.Equal(t, int64(0), interpreter.At(0).Int64())
}

func TestNewInterpreter_InvalidConfig(t *testing.T) {
	config := bf.DefaultConfig()
	config.InitialTapeSize = 0
	_, err := bf.NewInterpreter(config, nil, nil)
	assert.ErrorIs(t, err, bf.ErrInvalidConfig)
}

func TestRun(t *testing.T) {
	out := &strings.Builder{}
	err := bf.Run(context.Background(), ",+.", bf.DefaultConfig(), strings.NewReader("a\n"), out)
	require.NoError(t, err)
	assert.Equal(t, "b", out.String())
}
