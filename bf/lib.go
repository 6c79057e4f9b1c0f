package bf

import (
	"context"
	"io"
)

// Run executes source on a fresh interpreter.
func Run(ctx context.Context, source string, config Config, input io.Reader, output io.Writer) error {
	interpreter, err := NewInterpreter(config, input, output)
	if err != nil {
		return err
	}
	return interpreter.RunContext(ctx, source)
}
