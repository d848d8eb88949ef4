package main

import (
	"context"
	"fmt"

	"studentportal/backend/internal/app"
)

func main() {
	cfg := app.LoadConfig()
	log := app.NewLogger(cfg.LogLevel)

	// Provisioning happens once, below.
	cfg.AdminInitEnabled = false

	server, err := app.NewServer(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("backend startup failed")
	}
	defer server.Close()

	if err := server.InitFirstAdmin(context.Background(), cfg.AdminInitUsername, cfg.AdminInitPass); err != nil {
		log.WithError(err).Fatal("admin init failed")
	}

	fmt.Println("admin init completed")
}
