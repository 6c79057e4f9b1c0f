package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/containerd/containerd/v2/pkg/shim"

	"github.com/MarcinKonowalczyk/bfvm/cli"
	bfshim "github.com/MarcinKonowalczyk/bfvm/shim"
)

const runtimeName = "io.containerd.bfvm.v1"

func main() {
	// The init process of a task is this binary again, hijacked to run as
	// the interpreter.
	if args, ok := brainfuckArgs(os.Args[1:]); ok {
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		code := cli.Main(ctx, "brainfuck", args)
		cancel()
		os.Exit(code)
	}

	shim.Run(context.Background(), bfshim.NewManager(runtimeName))
}

func brainfuckArgs(args []string) ([]string, bool) {
	if len(args) > 0 && args[0] == "brainfuck" {
		return args[1:], true
	}
	return nil, false
}
