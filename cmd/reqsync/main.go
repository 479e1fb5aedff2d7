package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"reqsync/internal/cli"
)

// main is a thin boundary: every decision, including the exit code, is made
// by cli.Run.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
