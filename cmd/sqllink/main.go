package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sqllink/sqllink/internal/cli/sqllink"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := sqllink.Run(ctx, os.Args[1:], sqllink.Options{
		Lookup: os.LookupEnv,
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	})
	stop()
	os.Exit(code)
}
