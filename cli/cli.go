// Package cli is the command line front end shared by the bfvm binary and
// the brainfuck subcommand of the shim.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/containerd/log"

	"github.com/MarcinKonowalczyk/bfvm/bf"
	"github.com/MarcinKonowalczyk/bfvm/config"
)

var (
	ErrNoSource    = errors.New("no source: pass -file, -code or a source file argument")
	ErrExtraSource = errors.New("more than one source file given")
)

type options struct {
	file       string
	code       string
	configPath string
	debug      bool

	stackSize    int
	maxStackSize int
	bitwidth     int
	maxSteps     int64
}

func parseFlags(name string, args []string, stderr io.Writer) (*options, *flag.FlagSet, error) {
	d := bf.DefaultConfig()
	o := &options{}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.file, "file", "", "brainfuck source file")
	fs.StringVar(&o.code, "code", "", "code to run directly")
	fs.StringVar(&o.code, "c", "", "shorthand for -code")
	fs.StringVar(&o.configPath, "config", "", "bfvm.toml file with interpreter options")
	fs.BoolVar(&o.debug, "debug", false, "enable debug logging to stderr")
	fs.IntVar(&o.stackSize, "stack-size", d.InitialTapeSize, "initial number of cells")
	fs.IntVar(&o.maxStackSize, "max-stack-size", d.MaxTapeSize, "maximum number of cells")
	fs.IntVar(&o.bitwidth, "bitwidth", d.BitWidth, "bitwidth of the cells, 0 for unbounded")
	fs.IntVar(&o.bitwidth, "b", d.BitWidth, "shorthand for -bitwidth")
	fs.Int64Var(&o.maxSteps, "max-steps", d.MaxSteps, "stop after this many instructions, 0 for no limit")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: %s [flags] [file]\n", name)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	switch {
	case fs.NArg() > 1, fs.NArg() == 1 && o.file != "":
		return nil, nil, fmt.Errorf("%w: %q", ErrExtraSource, fs.Args())
	case fs.NArg() == 1:
		o.file = fs.Arg(0)
	}
	return o, fs, nil
}

// engineConfig layers the config file and then the flags set on the command
// line over the defaults.
func (o *options) engineConfig(fs *flag.FlagSet) (bf.Config, error) {
	c := bf.DefaultConfig()
	if o.configPath != "" {
		var err error
		if c, err = config.Load(o.configPath, c); err != nil {
			return c, err
		}
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "stack-size":
			c.InitialTapeSize = o.stackSize
		case "max-stack-size":
			c.MaxTapeSize = o.maxStackSize
		case "bitwidth", "b":
			c.BitWidth = o.bitwidth
		case "max-steps":
			c.MaxSteps = o.maxSteps
		}
	})
	return c, nil
}

func (o *options) source() (string, error) {
	if o.file != "" {
		data, err := os.ReadFile(o.file)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	if o.code != "" {
		return o.code, nil
	}
	return "", ErrNoSource
}

// Run parses args and executes the selected program with stdin and stdout
// as the program's input and output.
func Run(ctx context.Context, name string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	o, fs, err := parseFlags(name, args, stderr)
	if err != nil {
		return err
	}

	if o.debug {
		log.L.Logger.SetOutput(stderr)
		if err := log.SetLevel("debug"); err != nil {
			return err
		}
	}

	c, err := o.engineConfig(fs)
	if err != nil {
		return err
	}

	source, err := o.source()
	if err != nil {
		return err
	}

	ctx = log.WithLogger(ctx, log.G(ctx).WithField("program", o.file))
	return bf.Run(ctx, source, c, stdin, stdout)
}

// Main runs the command and converts its outcome to an exit status.
func Main(ctx context.Context, name string, args []string) int {
	err := Run(ctx, name, args, os.Stdin, os.Stdout, os.Stderr)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, flag.ErrHelp):
		return 0
	default:
		fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
		return 1
	}
}
