// govfire - financial governance firewall for autonomous agent payouts
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mbd888/govfire/internal/config"
	"github.com/mbd888/govfire/internal/logging"
	"github.com/mbd888/govfire/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "text").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, "json")
	logger.Info("starting govfire",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
		"env", cfg.Env,
	)

	firewall, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to build firewall", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := firewall.Run(ctx); err != nil {
		logger.Error("firewall exited with error", "error", err)
		os.Exit(1)
	}
}
