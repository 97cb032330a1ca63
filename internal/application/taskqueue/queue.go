package taskqueue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/aescanero/construtor/internal/application/workers"
	"github.com/aescanero/construtor/pkg/domain"
	"github.com/aescanero/construtor/pkg/ports"
)

const (
	// Source set on events emitted by the queue.
	eventSource = "task_queue"

	tracerName = "github.com/aescanero/construtor/taskqueue"

	DefaultPollInterval = 500 * time.Millisecond
)

// Handler executes one task and returns its result. Handlers are
// process-local; the last registration for a task type wins. With a
// durable store the payload arrives decoded from JSON, so numbers are
// float64; the in-memory store keeps the enqueued Go types.
type Handler func(ctx context.Context, task *domain.Task) (map[string]any, error)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Config configures a Queue.
type Config struct {
	Store   ports.TaskStore
	Events  ports.EventEmitter
	Metrics ports.MetricsCollector
	Logger  *zap.Logger
	Tracer  trace.Tracer

	// PollInterval bounds how long an idle worker waits before checking
	// the store again. Local enqueues wake workers immediately.
	PollInterval time.Duration

	HealthCheckInterval time.Duration
	StallAfter          time.Duration

	// Sleep implements the retry backoff. Defaults to a timer select.
	Sleep Sleeper

	// Defaults apply to every enqueued task before the call's own options.
	Defaults []Option
}

// Queue is a durable priority task queue with a bounded worker pool,
// per-task timeouts and exponential-backoff retry.
type Queue struct {
	store    ports.TaskStore
	events   ports.EventEmitter
	metrics  ports.MetricsCollector
	logger   *zap.Logger
	tracer   trace.Tracer
	poll     time.Duration
	health   time.Duration
	stall    time.Duration
	sleep    Sleeper
	defaults []Option

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	wake *notifier

	waitersMu sync.Mutex
	waiters   map[string]chan struct{}

	stats   *counters
	running atomic.Int64

	poolMu sync.Mutex
	pool   *workers.Pool
	fatal  chan error
}

var _ workers.Source = (*Queue)(nil)

// New creates a Queue.
func New(cfg Config) *Queue {
	if cfg.Metrics == nil {
		cfg.Metrics = ports.NopMetrics{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	return &Queue{
		store:    cfg.Store,
		events:   cfg.Events,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		tracer:   cfg.Tracer,
		poll:     cfg.PollInterval,
		health:   cfg.HealthCheckInterval,
		stall:    cfg.StallAfter,
		sleep:    cfg.Sleep,
		defaults: cfg.Defaults,
		handlers: make(map[string]Handler),
		wake:     newNotifier(),
		waiters:  make(map[string]chan struct{}),
		stats:    newCounters(),
		fatal:    make(chan error, 1),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RegisterHandler sets the handler for taskType.
func (q *Queue) RegisterHandler(taskType string, h Handler) {
	q.handlersMu.Lock()
	_, replaced := q.handlers[taskType]
	q.handlers[taskType] = h
	q.handlersMu.Unlock()

	q.logger.Info("task handler registered",
		zap.String("task_type", taskType),
		zap.Bool("replaced", replaced))
}

// UnregisterHandler removes the handler for taskType.
func (q *Queue) UnregisterHandler(taskType string) {
	q.handlersMu.Lock()
	delete(q.handlers, taskType)
	q.handlersMu.Unlock()
}

func (q *Queue) handler(taskType string) (Handler, bool) {
	q.handlersMu.RLock()
	defer q.handlersMu.RUnlock()
	h, ok := q.handlers[taskType]
	return h, ok
}

// Option customizes an enqueued task.
type Option func(*domain.Task)

func WithPriority(p domain.Priority) Option {
	return func(t *domain.Task) { t.Priority = p }
}

func WithTimeout(d time.Duration) Option {
	return func(t *domain.Task) { t.Timeout = d }
}

func WithMaxRetries(n int) Option {
	return func(t *domain.Task) {
		if n < 0 {
			n = 0
		}
		t.MaxRetries = n
	}
}

func WithRetryDelay(d time.Duration) Option {
	return func(t *domain.Task) { t.RetryDelay = d }
}

func WithCorrelationID(id string) Option {
	return func(t *domain.Task) { t.CorrelationID = id }
}

func WithParentTask(id string) Option {
	return func(t *domain.Task) { t.ParentTaskID = id }
}

func WithAssignedAgent(agent string) Option {
	return func(t *domain.Task) { t.AssignedAgent = agent }
}

func WithMetadata(md map[string]any) Option {
	return func(t *domain.Task) {
		for k, v := range md {
			t.Metadata[k] = v
		}
	}
}

// Enqueue creates a QUEUED task and pushes it to the store. The only
// failure is an unreachable store.
func (q *Queue) Enqueue(ctx context.Context, name, taskType string, payload map[string]any, opts ...Option) (*domain.Task, error) {
	task := domain.NewTask(name, taskType, payload)
	for _, opt := range q.defaults {
		opt(task)
	}
	for _, opt := range opts {
		opt(task)
	}
	task.Status = domain.TaskQueued
	task.QueuedAt = domain.TimePtr(domain.Now())

	if err := q.store.Push(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	q.stats.enqueued(taskType)
	q.metrics.RecordTaskEnqueued(taskType)
	q.wake.notify()

	q.logger.Debug("task enqueued",
		zap.String("task_id", task.ID),
		zap.String("task_type", taskType),
		zap.Int("priority", int(task.Priority)),
		zap.String("correlation_id", task.CorrelationID))

	return task, nil
}

// Dequeue removes the most urgent QUEUED task and marks it RUNNING.
// Entries that are no longer QUEUED (cancelled while waiting) are
// dropped. It returns nil when nothing is ready.
func (q *Queue) Dequeue(ctx context.Context) (*domain.Task, error) {
	// Pop and claim commit together; running them to completion keeps a
	// cancelled caller from losing a committed claim.
	return q.store.PopMin(context.WithoutCancel(ctx), func(t *domain.Task) bool {
		if t.Status != domain.TaskQueued {
			q.logger.Debug("skipping task that is no longer queued",
				zap.String("task_id", t.ID),
				zap.String("status", string(t.Status)))
			return false
		}
		t.Status = domain.TaskRunning
		t.StartedAt = domain.TimePtr(domain.Now())
		return true
	})
}

// Next implements workers.Source.
func (q *Queue) Next(ctx context.Context) (workers.Job, error) {
	for {
		signal := q.wake.wait()

		task, err := q.Dequeue(ctx)
		if ctx.Err() != nil {
			if task != nil {
				q.requeue(context.WithoutCancel(ctx), task)
			}
			return nil, ctx.Err()
		}
		if err != nil {
			return nil, err
		}
		if task != nil {
			return func(runCtx context.Context) { q.execute(runCtx, task) }, nil
		}

		timer := time.NewTimer(q.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-signal:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// Start launches n workers pulling from the queue.
func (q *Queue) Start(n int) error {
	q.poolMu.Lock()
	defer q.poolMu.Unlock()

	if q.pool != nil {
		return fmt.Errorf("workers already running")
	}
	pool := workers.NewPool(workers.Config{
		Size:                n,
		Source:              q,
		Metrics:             q.metrics,
		Logger:              q.logger,
		HealthCheckInterval: q.health,
		StallAfter:          q.stall,
		OnFatal:             q.reportFatal,
	})
	if err := pool.Start(); err != nil {
		return err
	}
	q.pool = pool
	return nil
}

// Stop stops the workers, letting in-flight tasks finish within timeout
// before cancelling them.
func (q *Queue) Stop(timeout time.Duration) error {
	q.poolMu.Lock()
	pool := q.pool
	q.pool = nil
	q.poolMu.Unlock()

	if pool == nil {
		return nil
	}
	return pool.Stop(timeout)
}

// Health reports the worker pool health, nil when no workers run.
func (q *Queue) Health() *workers.HealthStatus {
	q.poolMu.Lock()
	defer q.poolMu.Unlock()
	if q.pool == nil {
		return nil
	}
	return q.pool.Health()
}

// Fatal delivers the first store failure seen by a worker. After it
// fires the workers no longer dequeue.
func (q *Queue) Fatal() <-chan error {
	return q.fatal
}

func (q *Queue) reportFatal(err error) {
	select {
	case q.fatal <- err:
	default:
	}
}

func (q *Queue) workersActive() int {
	q.poolMu.Lock()
	defer q.poolMu.Unlock()
	if q.pool == nil {
		return 0
	}
	return q.pool.Size()
}
