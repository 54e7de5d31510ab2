package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nemanja-m/casbatch/internal/coordinator/exec"
	"github.com/nemanja-m/casbatch/internal/shared/config"
	"github.com/nemanja-m/casbatch/internal/shared/logging"
	"github.com/nemanja-m/casbatch/internal/worker/api/grpc"
	"github.com/nemanja-m/casbatch/internal/worker/service"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.LoadWorker(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		slog.Error("Failed to create logger", "error", err)
		os.Exit(1)
	}

	runner, stopRunner := service.NewRunnerService(
		exec.NewProcessProvider(logger),
		cfg.Program,
		cfg.MaxConcurrent,
		logger,
	)
	server := grpc.NewServer(cfg.GRPC, runner, logger)

	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal("Runner agent server error", "error", err)
		}
	}()

	logger.Info("Runner agent started",
		"addr", cfg.GRPC.Addr,
		"max_concurrent", cfg.MaxConcurrent,
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down runner agent")

	// in-flight calls finish before the pool stops
	server.Stop()
	stopRunner()

	logger.Info("Runner agent stopped")
}
