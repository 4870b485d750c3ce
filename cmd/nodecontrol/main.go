package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/canopy-network/collatorx/app/nodecontrol"
	_ "github.com/joho/godotenv/autoload"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app := nodecontrol.Initialize()

	app.Start(ctx)
}
