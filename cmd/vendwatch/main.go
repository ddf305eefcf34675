package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/vendops/vendwatch/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		root.PrintErrln("Error:", err.Error())
		os.Exit(cli.GetExitCode(err))
	}
}
