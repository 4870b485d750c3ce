package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/canopy-network/collatorx/app/healthcheck"
	_ "github.com/joho/godotenv/autoload"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app := healthcheck.Initialize(ctx)

	// Immediate pass; without a schedule that is all there is
	app.RunOnce(ctx)
	if !app.Scheduled() {
		app.Stop()
		return
	}

	app.Start(ctx)
}
