package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"

	"github.com/munkey/munkeyd/internal/cmd/serve"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := serve.Command()
	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
