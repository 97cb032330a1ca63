package workers

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HealthStatus is a point-in-time view of the pool's workers.
type HealthStatus struct {
	TotalWorkers   int `json:"total_workers"`
	IdleWorkers    int `json:"idle_workers"`
	BusyWorkers    int `json:"busy_workers"`
	StoppedWorkers int `json:"stopped_workers"`

	// StalledWorkers counts busy workers whose current job has run longer
	// than the stall threshold. Stalled workers do not make the pool
	// unhealthy; handlers are bounded by task timeouts.
	StalledWorkers int           `json:"stalled_workers"`
	LongestJob     time.Duration `json:"longest_job_ns"`
	JobsStarted    int           `json:"jobs_started"`

	Healthy   bool      `json:"healthy"`
	Timestamp time.Time `json:"timestamp"`
}

type healthMonitor struct {
	pool       *Pool
	interval   time.Duration
	stallAfter time.Duration
	logger     *zap.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

func newHealthMonitor(pool *Pool, interval, stallAfter time.Duration, logger *zap.Logger) *healthMonitor {
	return &healthMonitor{
		pool:       pool,
		interval:   interval,
		stallAfter: stallAfter,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

func (h *healthMonitor) start() {
	h.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		h.cancel = cancel
		go h.loop(ctx)
	})
}

// stop ends the loop and waits for it. Safe to call without start.
func (h *healthMonitor) stop() {
	h.stopOnce.Do(func() {
		if h.cancel == nil {
			close(h.done)
			return
		}
		h.cancel()
		<-h.done
	})
}

func (h *healthMonitor) loop(ctx context.Context) {
	defer close(h.done)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.report(h.snapshot(time.Now()))
		}
	}
}

func (h *healthMonitor) report(s *HealthStatus) {
	h.pool.metrics.RecordWorkerPoolStatus(s.TotalWorkers, s.IdleWorkers, s.BusyWorkers)

	fields := []zap.Field{
		zap.Int("total", s.TotalWorkers),
		zap.Int("busy", s.BusyWorkers),
		zap.Int("stopped", s.StoppedWorkers),
		zap.Int("stalled", s.StalledWorkers),
		zap.Duration("longest_job", s.LongestJob),
	}
	switch {
	case !s.Healthy:
		h.logger.Warn("worker pool unhealthy", fields...)
	case s.StalledWorkers > 0:
		h.logger.Warn("workers running past stall threshold",
			append(fields, zap.Duration("stall_after", h.stallAfter))...)
	case s.TotalWorkers > 0 && s.BusyWorkers == s.TotalWorkers:
		h.logger.Info("worker pool saturated", fields...)
	default:
		h.logger.Debug("worker pool health", fields...)
	}
}

// snapshot aggregates worker states as of now. The pool is healthy while
// it has workers and none of them has exited.
func (h *healthMonitor) snapshot(now time.Time) *HealthStatus {
	s := &HealthStatus{Timestamp: now}
	for _, w := range h.pool.workers {
		if w == nil {
			continue
		}
		w.mu.RLock()
		status, since, jobs := w.status, w.lastJob, w.jobs
		w.mu.RUnlock()

		s.TotalWorkers++
		s.JobsStarted += jobs
		switch status {
		case WorkerStatusIdle:
			s.IdleWorkers++
		case WorkerStatusStopped:
			s.StoppedWorkers++
		case WorkerStatusBusy:
			s.BusyWorkers++
			running := now.Sub(since)
			if running > s.LongestJob {
				s.LongestJob = running
			}
			if h.stallAfter > 0 && running > h.stallAfter {
				s.StalledWorkers++
			}
		}
	}
	s.Healthy = s.TotalWorkers > 0 && s.StoppedWorkers == 0
	return s
}
