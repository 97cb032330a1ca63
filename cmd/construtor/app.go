package main

import (
	"context"
	"fmt"
	"os"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aescanero/construtor/internal/application/agentmemory"
	"github.com/aescanero/construtor/internal/application/eventbus"
	"github.com/aescanero/construtor/internal/application/taskqueue"
	"github.com/aescanero/construtor/internal/config"
	"github.com/aescanero/construtor/internal/telemetry"
	eventstreams "github.com/aescanero/construtor/pkg/adapters/events/redis"
	"github.com/aescanero/construtor/pkg/adapters/llm"
	"github.com/aescanero/construtor/pkg/adapters/metrics/prometheus"
	"github.com/aescanero/construtor/pkg/adapters/storage/memory"
	redisstorage "github.com/aescanero/construtor/pkg/adapters/storage/redis"
	"github.com/aescanero/construtor/pkg/ports"
)

// app holds the components shared by serve and worker.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	metrics   *prometheus.Collector
	telemetry *telemetry.Provider

	redis     *goredis.Client
	tasks     ports.TaskStore
	workflows ports.WorkflowStorage
	memories  ports.MemoryStorage

	bus      *eventbus.Bus
	queue    *taskqueue.Queue
	executor ports.AgentExecutor
	memory   *agentmemory.Service

	relayDone chan struct{}
	stopRelay context.CancelFunc

	cleanupDone chan struct{}
	stopCleanup context.CancelFunc
}

func loadApp(ctx context.Context, requireRedis bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if requireRedis && cfg.StoreBackend != config.StoreRedis {
		return nil, fmt.Errorf("the worker requires STORE_BACKEND=redis")
	}

	logger := initLogger(cfg.LogLevel)
	a := &app{cfg: cfg, logger: logger}

	a.telemetry, err = telemetry.Init(ctx, cfg.Telemetry, logger)
	if err != nil {
		return nil, err
	}

	a.metrics = prometheus.NewCollector()
	a.bus = eventbus.New(eventbus.Config{
		HistoryLimit:          cfg.Events.HistoryLimit,
		MaxConcurrentHandlers: cfg.Events.MaxConcurrentHandlers,
		Metrics:               a.metrics,
		Logger:                logger,
	})

	switch cfg.StoreBackend {
	case config.StoreRedis:
		a.redis = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect to Redis", zap.Error(err))
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))

		a.tasks = redisstorage.NewTaskStore(a.redis, logger)
		a.workflows = redisstorage.NewWorkflowStore(a.redis, cfg.Redis.WorkflowTTL, logger)
		a.memories = redisstorage.NewMemoryStore(a.redis, logger)
	default:
		logger.Warn("using in-memory store; state is lost on restart")
		a.tasks = memory.NewTaskStore()
		a.workflows = memory.NewWorkflowStore()
		a.memories = memory.NewMemoryStore()
	}

	a.memory = agentmemory.New(agentmemory.Config{
		Storage:      a.memories,
		Logger:       logger,
		ShortTermTTL: cfg.Memory.ShortTermTTL,
	})

	a.executor, err = llm.NewExecutor(llm.Config{
		Provider:          cfg.LLM.Provider,
		APIKey:            cfg.LLM.APIKey,
		MaxTokens:         cfg.LLM.DefaultMaxTokens,
		FallbackModel:     cfg.LLM.FallbackModel,
		RequestsPerMinute: cfg.LLM.RateLimit,
		MaxConcurrent:     cfg.LLM.MaxConcurrentRequests,
		RequestTimeout:    cfg.LLM.RequestTimeout,
		Metrics:           a.metrics,
		Logger:            logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create agent executor: %w", err)
	}

	a.queue = taskqueue.New(taskqueue.Config{
		Store:               a.tasks,
		Events:              a.bus,
		Metrics:             a.metrics,
		Logger:              logger,
		PollInterval:        cfg.Queue.PollInterval,
		HealthCheckInterval: cfg.Workers.HealthCheckInterval,
		StallAfter:          cfg.Workers.StallAfter,
		Defaults: []taskqueue.Option{
			taskqueue.WithTimeout(cfg.Queue.DefaultTimeout),
			taskqueue.WithMaxRetries(cfg.Queue.DefaultMaxRetries),
			taskqueue.WithRetryDelay(cfg.Queue.DefaultRetryDelay),
		},
	})

	return a, nil
}

// startStreams mirrors local events to Redis streams and relays events of
// other processes into the local bus.
func (a *app) startStreams(ctx context.Context) error {
	if a.redis == nil || !a.cfg.Events.StreamsEnabled {
		return nil
	}

	origin := a.cfg.Events.ConsumerName
	if origin == "" {
		host, _ := os.Hostname()
		origin = fmt.Sprintf("%s-%d", host, os.Getpid())
	}

	a.bus.SubscribeAll(eventstreams.NewMirror(a.redis, origin, a.cfg.Events.StreamMaxLen, a.logger))

	relay := eventstreams.NewRelay(eventstreams.RelayConfig{
		Client: a.redis,
		Target: a.bus,
		Origin: origin,
		Group:  a.cfg.Events.ConsumerGroup,
		Logger: a.logger,
	})
	if err := relay.Setup(ctx); err != nil {
		return fmt.Errorf("failed to set up event relay: %w", err)
	}

	relayCtx, stop := context.WithCancel(context.Background())
	a.stopRelay = stop
	a.relayDone = make(chan struct{})
	go func() {
		defer close(a.relayDone)
		if err := relay.Run(relayCtx); err != nil && relayCtx.Err() == nil {
			a.logger.Error("event relay stopped", zap.Error(err))
		}
	}()

	a.logger.Info("event streams enabled", zap.String("origin", origin))
	return nil
}

// startMemoryCleanup removes expired memories in the background.
func (a *app) startMemoryCleanup() {
	ctx, stop := context.WithCancel(context.Background())
	a.stopCleanup = stop
	a.cleanupDone = make(chan struct{})
	go func() {
		defer close(a.cleanupDone)
		a.memory.RunCleanup(ctx, a.cfg.Memory.CleanupInterval)
	}()
}

// pingStore reports whether the task store answers.
func (a *app) pingStore(ctx context.Context) error {
	return a.tasks.Ping(ctx)
}

// healthy reports store reachability and worker pool health.
func (a *app) healthy(ctx context.Context) bool {
	if err := a.pingStore(ctx); err != nil {
		return false
	}
	h := a.queue.Health()
	return h == nil || h.Healthy
}

func (a *app) close(ctx context.Context) {
	if a.stopCleanup != nil {
		a.stopCleanup()
		select {
		case <-a.cleanupDone:
		case <-ctx.Done():
		}
	}
	if a.stopRelay != nil {
		a.stopRelay()
		select {
		case <-a.relayDone:
		case <-ctx.Done():
		}
	}
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.logger.Error("telemetry shutdown error", zap.Error(err))
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("Redis close error", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

func shutdownContext(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}
