package llm

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/construtor/pkg/adapters/llm/static"
	"github.com/aescanero/construtor/pkg/domain"
	"github.com/aescanero/construtor/pkg/ports"
)

type callRecorder struct {
	ports.NopMetrics
	mu    sync.Mutex
	calls int
	errs  int
}

func (r *callRecorder) RecordExecutorCall(model, tier string, err error, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if err != nil {
		r.errs++
	}
}

func TestNewExecutor(t *testing.T) {
	exec, err := NewExecutor(Config{Provider: "static"})
	require.NoError(t, err)
	assert.NotNil(t, exec)

	_, err = NewExecutor(Config{Provider: "anthropic"})
	assert.Error(t, err, "anthropic needs an API key")

	_, err = NewExecutor(Config{Provider: "gemini"})
	assert.Error(t, err)
}

func TestLimited_BoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	slow := ports.ExecutorFunc(func(ctx context.Context, req ports.ExecutionRequest) (map[string]any, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return map[string]any{}, nil
	})

	rec := &callRecorder{}
	l := NewLimited(slow, LimitConfig{MaxConcurrent: 2, Metrics: rec})

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Execute(context.Background(), ports.ExecutionRequest{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, 6, rec.calls)
}

func TestLimited_TimeoutAndErrors(t *testing.T) {
	blocking := ports.ExecutorFunc(func(ctx context.Context, req ports.ExecutionRequest) (map[string]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	rec := &callRecorder{}
	l := NewLimited(blocking, LimitConfig{Timeout: 10 * time.Millisecond, Metrics: rec})

	_, err := l.Execute(context.Background(), ports.ExecutionRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 1, rec.errs)
}

func TestLimited_RateWaitHonoursContext(t *testing.T) {
	l := NewLimited(static.Executor{}, LimitConfig{RequestsPerMinute: 1})

	_, err := l.Execute(context.Background(), ports.ExecutionRequest{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Execute(ctx, ports.ExecutionRequest{})
	assert.Error(t, err)
}

func TestStaticExecutor_Deterministic(t *testing.T) {
	req := ports.ExecutionRequest{
		Agent:    domain.RoleTester,
		TaskType: domain.TaskTypeUnitTestGeneration,
		Model:    "gemini-2.5-flash-preview-05-20",
		Tier:     "fast",
		Input:    map[string]any{"b": 1, "a": 2},
	}
	first, err := static.Executor{}.Execute(context.Background(), req)
	require.NoError(t, err)
	second, err := static.Executor{}.Execute(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, "tester completed unit_test_generation", first["content"])
	assert.Equal(t, []string{"a", "b"}, first["input_keys"])
}
