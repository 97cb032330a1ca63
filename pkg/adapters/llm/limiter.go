package llm

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/aescanero/construtor/pkg/ports"
)

// Limited bounds an executor by a requests-per-minute rate and a maximum
// number of in-flight calls, and records every call.
type Limited struct {
	next    ports.AgentExecutor
	limiter *rate.Limiter
	sem     *semaphore.Weighted
	timeout time.Duration
	metrics ports.MetricsCollector
}

// LimitConfig configures Limited. Zero values disable the matching bound.
type LimitConfig struct {
	RequestsPerMinute int
	MaxConcurrent     int
	Timeout           time.Duration
	Metrics           ports.MetricsCollector
}

// NewLimited wraps next.
func NewLimited(next ports.AgentExecutor, cfg LimitConfig) *Limited {
	l := &Limited{next: next, timeout: cfg.Timeout, metrics: cfg.Metrics}
	if cfg.RequestsPerMinute > 0 {
		l.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	if cfg.MaxConcurrent > 0 {
		l.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}
	if l.metrics == nil {
		l.metrics = ports.NopMetrics{}
	}
	return l
}

// Execute implements ports.AgentExecutor
func (l *Limited) Execute(ctx context.Context, req ports.ExecutionRequest) (map[string]any, error) {
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}
	if l.sem != nil {
		if err := l.sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("concurrency limit wait: %w", err)
		}
		defer l.sem.Release(1)
	}

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := l.next.Execute(ctx, req)
	l.metrics.RecordExecutorCall(req.Model, req.Tier, err, time.Since(start))
	return out, err
}
