package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aescanero/construtor/internal/application/orchestrator"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run queue workers against the shared Redis store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return work(cmd.Context())
		},
	}
}

func work(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := loadApp(ctx, true)
	if err != nil {
		return err
	}
	cfg, logger := a.cfg, a.logger

	logger.Info("starting construtor worker",
		zap.String("version", Version),
		zap.Int("worker_pool_size", cfg.Workers.PoolSize))

	if err := a.startStreams(ctx); err != nil {
		logger.Fatal("failed to start event streams", zap.Error(err))
	}

	routing, err := orchestrator.LoadRouting(cfg.Orchestrator.TeamsFile)
	if err != nil {
		logger.Fatal("failed to load teams table", zap.Error(err))
	}
	orchestrator.RegisterHandlers(a.queue, a.executor, routing)

	if err := a.queue.Start(cfg.Workers.PoolSize); err != nil {
		logger.Fatal("failed to start workers", zap.Error(err))
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-a.queue.Fatal():
		logger.Error("task store failed, stopping worker", zap.Error(err))
		runErr = fmt.Errorf("task store failed: %w", err)
	}

	shutdownCtx, cancel := shutdownContext(cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	if err := a.queue.Stop(cfg.Timeouts.ShutdownTimeout); err != nil {
		logger.Error("worker pool shutdown error", zap.Error(err))
	}

	logger.Info("construtor worker shut down complete")
	a.close(shutdownCtx)
	return runErr
}
