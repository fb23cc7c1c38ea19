// Command conveyord is the background daemon: it serves the HTTP status
// API and executes queued jobs until stopped.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"conveyor/internal/config"
	"conveyor/internal/daemon"
	"conveyor/internal/jobs"
	"conveyor/internal/logging"
	"conveyor/internal/orchestrator"
	"conveyor/internal/worker"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("ensure directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	store, err := jobs.Open(cfg, logger)
	if err != nil {
		logger.Error("open job store", logging.Error(err))
		return
	}
	defer store.Close()

	runner, err := worker.NewRunner(cfg, logger)
	if err != nil {
		logger.Error("create worker runner", logging.Error(err))
		return
	}

	orch := orchestrator.New(cfg, store, runner, logger)
	api := daemon.NewAPIServer(cfg, store, logger)

	d := daemon.New(cfg, store, orch, api, logger)
	if err := d.Run(ctx); err != nil {
		logger.Error("daemon run", logging.Error(err))
		return
	}
	logger.Info("conveyord shut down")
}
