package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/OFFIS-RIT/toolgraph/backend/internal/config"
	"github.com/OFFIS-RIT/toolgraph/backend/internal/server"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/logger/console"

	_ "github.com/lib/pq"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		console.NewConsoleLogger(console.ConsoleLoggerParams{}).Fatal("Invalid configuration", "err", err)
	}

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: cfg.Debug,
		JSON:  !cfg.IsDevelopment(),
	})
	logger.Init(consoleLogger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx, cfg); err != nil {
		logger.Fatal("Server stopped", "err", err)
	}
	logger.Info("Shutdown complete")
}
