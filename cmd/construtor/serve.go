package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aescanero/construtor/internal/application/debate"
	"github.com/aescanero/construtor/internal/application/orchestrator"
	"github.com/aescanero/construtor/internal/config"
	"github.com/aescanero/construtor/pkg/api/grpc"
	"github.com/aescanero/construtor/pkg/api/http"
	"github.com/aescanero/construtor/pkg/api/websocket"
	"github.com/aescanero/construtor/pkg/ports"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server, orchestrator and local workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := loadApp(ctx, false)
	if err != nil {
		return err
	}
	cfg, logger := a.cfg, a.logger

	logger.Info("starting construtor",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("store", cfg.StoreBackend),
		zap.String("dispatch_mode", cfg.Orchestrator.DispatchMode))

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

	var stepExecutor ports.AgentExecutor = a.executor
	if cfg.Orchestrator.DispatchMode == config.DispatchQueue {
		stepExecutor = orchestrator.NewQueueExecutor(a.queue, cfg.Timeouts.StepTimeout, logger)
	}

	a.startMemoryCleanup()

	debateCfg := debate.Config{
		Executor:     a.executor,
		Bus:          a.bus,
		Participants: routing.DebateParticipants(),
		MaxRounds:    routing.Debate.MaxRounds,
		Retain:       cfg.Debate.Retain,
		Logger:       logger,
	}
	if cfg.Debate.MaxRounds > 0 {
		debateCfg.MaxRounds = cfg.Debate.MaxRounds
	}
	var debater orchestrator.Debater
	moderator, err := debate.New(debateCfg)
	if err != nil {
		logger.Warn("debates disabled", zap.Error(err))
	} else {
		debater = moderator
	}

	var recorder orchestrator.Recorder
	if cfg.Memory.RecordWorkflows {
		recorder = a.memory
	}

	manager, err := orchestrator.NewManager(orchestrator.Config{
		Bus:             a.bus,
		Storage:         a.workflows,
		Executor:        stepExecutor,
		Routing:         routing,
		Metrics:         a.metrics,
		Logger:          logger,
		StepRetryBase:   cfg.Orchestrator.StepRetryBase,
		StepMaxRetries:  cfg.Orchestrator.StepMaxRetries,
		WorkflowTimeout: cfg.Timeouts.WorkflowTimeout,
		RetainFinished:  cfg.Orchestrator.RetainFinished,
		Memory:          recorder,
		Debater:         debater,
	})
	if err != nil {
		logger.Fatal("failed to create orchestrator", zap.Error(err))
	}

	httpServer := http.NewServer(&http.Config{
		Addr:         cfg.GetHTTPAddr(),
		Orchestrator: manager,
		Queue:        a.queue,
		Bus:          a.bus,
		HealthChecks: map[string]http.HealthCheck{"store": a.pingStore},
		Memory:       a.memory,
		Debates:      moderator,
		Logger:       logger,
	})
	httpServer.SetupWebSocket(websocket.NewHandler(a.bus, logger).HandleWorkflowStream)

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Addr:     cfg.GetGRPCAddr(),
		Check:    a.healthy,
		Interval: cfg.Workers.HealthCheckInterval,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal("failed to create gRPC server", zap.Error(err))
	}

	serverErr := make(chan error, 2)
	go func() { serverErr <- httpServer.Start() }()
	go func() { serverErr <- grpcServer.Start() }()

	logger.Info("construtor started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Int("worker_pool_size", cfg.Workers.PoolSize))

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-a.queue.Fatal():
		logger.Error("task store failed, shutting down", zap.Error(err))
	case err := <-serverErr:
		if err != nil {
			logger.Error("server failed, shutting down", zap.Error(err))
		}
	}

	shutdownCtx, cancel := shutdownContext(cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", zap.Error(err))
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Error("orchestrator shutdown error", zap.Error(err))
	}
	if moderator != nil {
		if err := moderator.Shutdown(shutdownCtx); err != nil {
			logger.Error("debate shutdown error", zap.Error(err))
		}
	}
	if err := a.queue.Stop(cfg.Timeouts.ShutdownTimeout); err != nil {
		logger.Error("worker pool shutdown error", zap.Error(err))
	}

	logger.Info("construtor shut down complete")
	a.close(shutdownCtx)
	return nil
}
