package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/MarcinKonowalczyk/bfvm/cli"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cli.Main(ctx, "bfvm", os.Args[1:])
	cancel()
	os.Exit(code)
}
