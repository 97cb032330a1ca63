package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/construtor/pkg/ports"
)

// Job is one unit of work handed to a worker. The context is cancelled
// only when the pool is force-stopped.
type Job func(ctx context.Context)

// Source supplies jobs. Next blocks until a job is available or ctx is
// done. A non-nil error that is not caused by ctx is treated as fatal:
// the pool stops acquiring work and reports it through OnFatal.
type Source interface {
	Next(ctx context.Context) (Job, error)
}

// Config configures a Pool.
type Config struct {
	Size                int
	Source              Source
	Metrics             ports.MetricsCollector
	Logger              *zap.Logger
	HealthCheckInterval time.Duration

	// StallAfter marks busy workers as stalled in health snapshots once
	// their job has run this long. Zero disables stall detection.
	StallAfter time.Duration

	// OnFatal is called once with the first fatal Source error.
	OnFatal func(error)
}

// Pool manages a fixed set of worker goroutines pulling jobs from a
// Source.
//
// Two contexts are kept: acquire stops workers from taking new jobs, run
// is passed to jobs and is cancelled only when a graceful stop times out.
type Pool struct {
	size    int
	source  Source
	metrics ports.MetricsCollector
	logger  *zap.Logger
	health  *healthMonitor
	onFatal func(error)

	workers []*worker
	wg      sync.WaitGroup

	acquireCtx    context.Context
	cancelAcquire context.CancelFunc
	runCtx        context.Context
	cancelRun     context.CancelFunc

	fatalOnce sync.Once
	started   bool
	mu        sync.Mutex
}

type worker struct {
	id      string
	pool    *Pool
	status  WorkerStatus
	mu      sync.RWMutex
	lastJob time.Time
	jobs    int
}

// WorkerStatus represents worker status
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusBusy    WorkerStatus = "busy"
	WorkerStatusStopped WorkerStatus = "stopped"
)

// NewPool creates a new worker pool
func NewPool(cfg Config) *Pool {
	if cfg.Metrics == nil {
		cfg.Metrics = ports.NopMetrics{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = 30 * time.Second
	}

	acquireCtx, cancelAcquire := context.WithCancel(context.Background())
	runCtx, cancelRun := context.WithCancel(context.Background())

	pool := &Pool{
		size:          cfg.Size,
		source:        cfg.Source,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
		onFatal:       cfg.OnFatal,
		workers:       make([]*worker, cfg.Size),
		acquireCtx:    acquireCtx,
		cancelAcquire: cancelAcquire,
		runCtx:        runCtx,
		cancelRun:     cancelRun,
	}

	pool.health = newHealthMonitor(pool, cfg.HealthCheckInterval, cfg.StallAfter, cfg.Logger)

	return pool
}

// Start starts the worker pool
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return fmt.Errorf("worker pool already started")
	}
	if p.size < 1 {
		return fmt.Errorf("worker pool size must be at least 1, got %d", p.size)
	}
	if p.source == nil {
		return fmt.Errorf("worker pool has no job source")
	}
	p.started = true

	p.logger.Info("starting worker pool", zap.Int("size", p.size))

	for i := 0; i < p.size; i++ {
		w := &worker{
			id:      fmt.Sprintf("worker-%d", i),
			pool:    p,
			status:  WorkerStatusIdle,
			lastJob: time.Now(),
		}
		p.workers[i] = w

		p.wg.Add(1)
		go w.run()
	}

	p.health.start()

	p.logger.Info("worker pool started", zap.Int("workers", p.size))
	return nil
}

// Stop stops acquiring new jobs and waits up to timeout for in-flight
// jobs. When the timeout expires the jobs' context is cancelled and Stop
// waits for the workers to return.
func (p *Pool) Stop(timeout time.Duration) error {
	p.logger.Info("stopping worker pool", zap.Duration("timeout", timeout))

	p.health.stop()
	p.cancelAcquire()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		p.cancelRun()
		p.logger.Info("worker pool stopped")
		return nil
	case <-timer.C:
	}

	busy := p.Health().BusyWorkers
	p.logger.Warn("worker pool stop timed out, cancelling in-flight jobs",
		zap.Int("busy", busy))
	p.cancelRun()
	<-done

	return fmt.Errorf("shutdown timeout: cancelled %d in-flight jobs", busy)
}

// Size returns the configured number of workers.
func (p *Pool) Size() int {
	return p.size
}

// Health returns the current health snapshot.
func (p *Pool) Health() *HealthStatus {
	return p.health.snapshot(time.Now())
}

func (p *Pool) fatal(err error) {
	p.fatalOnce.Do(func() {
		p.logger.Error("worker pool stopping after fatal source error", zap.Error(err))
		p.cancelAcquire()
		if p.onFatal != nil {
			p.onFatal(err)
		}
	})
}

func (w *worker) setStatus(s WorkerStatus) {
	w.mu.Lock()
	w.status = s
	if s == WorkerStatusBusy {
		w.lastJob = time.Now()
		w.jobs++
	}
	w.mu.Unlock()
}

// run is the main worker loop
func (w *worker) run() {
	defer w.pool.wg.Done()
	defer w.setStatus(WorkerStatusStopped)

	w.pool.logger.Debug("worker started", zap.String("worker_id", w.id))

	for {
		job, err := w.pool.source.Next(w.pool.acquireCtx)
		if err != nil {
			if w.pool.acquireCtx.Err() != nil || errors.Is(err, context.Canceled) {
				w.pool.logger.Debug("worker stopped", zap.String("worker_id", w.id))
				return
			}
			w.pool.fatal(err)
			return
		}
		if job == nil {
			continue
		}

		w.setStatus(WorkerStatusBusy)
		job(w.pool.runCtx)
		w.setStatus(WorkerStatusIdle)
	}
}
