package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"studentportal/backend/internal/app"
)

func main() {
	cfg := app.LoadConfig()
	log := app.NewLogger(cfg.LogLevel)

	server, err := app.NewServer(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("backend startup failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = server.Run(ctx)
	stop()
	_ = server.Close()

	if err != nil {
		log.WithError(err).Fatal("backend stopped")
	}
}
