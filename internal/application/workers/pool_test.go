package workers

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type chanSource struct {
	jobs chan Job
	err  error
}

func (s *chanSource) Next(ctx context.Context) (Job, error) {
	if s.err != nil {
		return nil, s.err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case j := <-s.jobs:
		return j, nil
	}
}

func TestPool_RunsJobsConcurrently(t *testing.T) {
	src := &chanSource{jobs: make(chan Job)}
	pool := NewPool(Config{Size: 3, Source: src, Logger: zaptest.NewLogger(t)})
	require.NoError(t, pool.Start())

	var running, peak atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{}, 3)
	for i := 0; i < 3; i++ {
		src.jobs <- func(ctx context.Context) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			started <- struct{}{}
			<-release
			running.Add(-1)
		}
	}
	for i := 0; i < 3; i++ {
		<-started
	}
	assert.Equal(t, int32(3), peak.Load())
	assert.Equal(t, 3, pool.Health().BusyWorkers)

	close(release)
	require.NoError(t, pool.Stop(time.Second))
	assert.Equal(t, 3, pool.Health().StoppedWorkers)
}

func TestPool_StopWaitsForInFlight(t *testing.T) {
	src := &chanSource{jobs: make(chan Job)}
	pool := NewPool(Config{Size: 1, Source: src, Logger: zaptest.NewLogger(t)})
	require.NoError(t, pool.Start())

	var finished atomic.Bool
	started := make(chan struct{})
	src.jobs <- func(ctx context.Context) {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
	}
	<-started

	require.NoError(t, pool.Stop(time.Second))
	assert.True(t, finished.Load())
}

func TestPool_StopForceCancelsAfterTimeout(t *testing.T) {
	src := &chanSource{jobs: make(chan Job)}
	pool := NewPool(Config{Size: 1, Source: src, Logger: zaptest.NewLogger(t)})
	require.NoError(t, pool.Start())

	var cancelled atomic.Bool
	started := make(chan struct{})
	src.jobs <- func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
	}
	<-started

	err := pool.Stop(20 * time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shutdown timeout")
	assert.True(t, cancelled.Load())
}

func TestPool_FatalSourceErrorStopsAcquisition(t *testing.T) {
	boom := errors.New("store down")
	src := &chanSource{err: boom}

	fatal := make(chan error, 1)
	pool := NewPool(Config{
		Size:    2,
		Source:  src,
		Logger:  zaptest.NewLogger(t),
		OnFatal: func(err error) { fatal <- err },
	})
	require.NoError(t, pool.Start())

	select {
	case err := <-fatal:
		assert.ErrorIs(t, err, boom)
	case <-time.After(time.Second):
		t.Fatal("fatal error not reported")
	}

	require.NoError(t, pool.Stop(time.Second))
	assert.False(t, pool.Health().Healthy)
}

func TestPool_StartValidation(t *testing.T) {
	assert.Error(t, NewPool(Config{Size: 0, Source: &chanSource{}}).Start())
	assert.Error(t, NewPool(Config{Size: 1}).Start())

	pool := NewPool(Config{Size: 1, Source: &chanSource{jobs: make(chan Job)}})
	require.NoError(t, pool.Start())
	assert.Error(t, pool.Start())
	require.NoError(t, pool.Stop(time.Second))
}

func TestHealth_ReportsStalledWorkers(t *testing.T) {
	src := &chanSource{jobs: make(chan Job)}
	pool := NewPool(Config{
		Size:       2,
		Source:     src,
		Logger:     zaptest.NewLogger(t),
		StallAfter: 200 * time.Millisecond,
	})
	require.NoError(t, pool.Start())

	release := make(chan struct{})
	started := make(chan struct{})
	src.jobs <- func(ctx context.Context) {
		close(started)
		<-release
	}
	<-started

	h := pool.Health()
	assert.Equal(t, 1, h.BusyWorkers)
	assert.Equal(t, 0, h.StalledWorkers)
	assert.True(t, h.Healthy)

	require.Eventually(t, func() bool {
		return pool.Health().StalledWorkers == 1
	}, 2*time.Second, 10*time.Millisecond)

	h = pool.Health()
	assert.GreaterOrEqual(t, h.LongestJob, 200*time.Millisecond)
	assert.Equal(t, 1, h.JobsStarted)
	assert.True(t, h.Healthy)

	close(release)
	require.NoError(t, pool.Stop(time.Second))
}
