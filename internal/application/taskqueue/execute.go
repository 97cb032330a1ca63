package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/aescanero/construtor/pkg/domain"
)

type outcome struct {
	result map[string]any
	err    error
}

// execute runs a claimed task to its next resting state. ctx is
// cancelled only when the pool is force-stopped.
func (q *Queue) execute(ctx context.Context, task *domain.Task) {
	ctx, span := q.tracer.Start(ctx, "taskqueue.execute", trace.WithAttributes(
		attribute.String("task.id", task.ID),
		attribute.String("task.type", task.TaskType),
		attribute.Int("task.priority", int(task.Priority)),
		attribute.Int("task.retry_count", task.RetryCount),
	))
	defer span.End()

	q.running.Add(1)
	defer q.running.Add(-1)

	// Store writes must land even if the run context is cancelled.
	storeCtx := context.WithoutCancel(ctx)
	start := time.Now()

	logger := q.logger.With(
		zap.String("task_id", task.ID),
		zap.String("task_type", task.TaskType),
		zap.Int("retry_count", task.RetryCount))

	q.emit(storeCtx, domain.EventAgentStarted, task, map[string]any{
		"retry_count": task.RetryCount,
	})

	h, ok := q.handler(task.TaskType)
	if !ok {
		err := fmt.Errorf("%w: no handler registered for type: %s", domain.ErrHandlerNotFound, task.TaskType)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("task failed", zap.Error(err))
		q.fail(storeCtx, task, err, time.Since(start))
		return
	}

	result, err := q.runHandler(ctx, h, task)
	switch {
	case err == nil:
		q.complete(storeCtx, task, result, time.Since(start))
		span.SetStatus(codes.Ok, "")
		logger.Info("task completed", zap.Duration("duration", time.Since(start)))

	case ctx.Err() != nil && !errors.Is(err, domain.ErrHandlerTimeout):
		// Force-stopped: hand the task back without spending a retry.
		logger.Warn("task interrupted by shutdown, requeueing")
		span.SetStatus(codes.Error, "interrupted")
		q.requeue(storeCtx, task)

	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, domain.ErrHandlerTimeout) {
			q.markTimeout(storeCtx, task, err)
		}
		logger.Warn("task attempt failed", zap.Error(err))
		q.retryOrFail(ctx, storeCtx, task, err, time.Since(start))
	}
}

// runHandler calls h with the task timeout. A handler that ignores its
// context keeps running in the background after the timeout fires; the
// queue only stops waiting for it.
func (q *Queue) runHandler(ctx context.Context, h Handler, task *domain.Task) (map[string]any, error) {
	hctx := ctx
	if task.Timeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("%w: panic: %v", domain.ErrHandlerException, r)}
			}
		}()
		res, err := h(hctx, task.Clone())
		done <- outcome{result: res, err: err}
	}()

	timeoutErr := func() error {
		return fmt.Errorf("%w: task timed out after %g seconds", domain.ErrHandlerTimeout, task.Timeout.Seconds())
	}

	select {
	case o := <-done:
		if o.err == nil {
			return o.result, nil
		}
		if errors.Is(o.err, domain.ErrHandlerException) {
			return nil, o.err
		}
		if ctx.Err() == nil && errors.Is(hctx.Err(), context.DeadlineExceeded) {
			return nil, timeoutErr()
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrHandlerException, o.err)
	case <-hctx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, timeoutErr()
	}
}

func (q *Queue) complete(ctx context.Context, task *domain.Task, result map[string]any, d time.Duration) {
	updated, _, err := q.store.Update(ctx, task.ID, func(t *domain.Task) bool {
		t.Status = domain.TaskCompleted
		t.Result = result
		t.Error = ""
		t.CompletedAt = domain.TimePtr(domain.Now())
		return true
	})
	if err != nil {
		q.logger.Error("failed to record task completion", zap.String("task_id", task.ID), zap.Error(err))
		return
	}

	q.stats.completed()
	q.metrics.RecordTaskFinished(task.TaskType, domain.TaskCompleted, d)
	q.emit(ctx, domain.EventAgentCompleted, updated, map[string]any{
		"result":      result,
		"duration_ms": d.Milliseconds(),
	})
	q.signalDone(task.ID)
}

func (q *Queue) markTimeout(ctx context.Context, task *domain.Task, cause error) {
	_, _, err := q.store.Update(ctx, task.ID, func(t *domain.Task) bool {
		t.Status = domain.TaskTimeout
		t.Error = cause.Error()
		return true
	})
	if err != nil {
		q.logger.Error("failed to record task timeout", zap.String("task_id", task.ID), zap.Error(err))
	}
}

// retryOrFail is the shared retry decision for timeouts and handler
// errors.
func (q *Queue) retryOrFail(runCtx, ctx context.Context, task *domain.Task, cause error, d time.Duration) {
	if task.RetryCount >= task.MaxRetries {
		q.logger.Error("task failed after exhausting retries",
			zap.String("task_id", task.ID),
			zap.Int("retry_count", task.RetryCount),
			zap.Error(cause))
		q.fail(ctx, task, cause, d)
		return
	}

	updated, _, err := q.store.Update(ctx, task.ID, func(t *domain.Task) bool {
		t.RetryCount++
		t.Status = domain.TaskRetrying
		t.Error = cause.Error()
		return true
	})
	if err != nil {
		q.logger.Error("failed to record task retry", zap.String("task_id", task.ID), zap.Error(err))
		return
	}

	delay := domain.BackoffDelay(updated.RetryDelay, updated.RetryCount)
	q.stats.retried()
	q.metrics.RecordTaskRetry(task.TaskType)
	q.emit(ctx, domain.EventSystemWarning, updated, map[string]any{
		"message":     "task retry scheduled",
		"retry_count": updated.RetryCount,
		"max_retries": updated.MaxRetries,
		"delay_ms":    delay.Milliseconds(),
		"error":       cause.Error(),
	})

	q.logger.Info("retrying task",
		zap.String("task_id", task.ID),
		zap.Int("retry_count", updated.RetryCount),
		zap.Duration("delay", delay))

	if err := q.sleep(runCtx, delay); err != nil {
		q.logger.Debug("retry backoff interrupted, requeueing now", zap.String("task_id", task.ID))
	}
	q.requeue(ctx, updated)
}

func (q *Queue) fail(ctx context.Context, task *domain.Task, cause error, d time.Duration) {
	updated, _, err := q.store.Update(ctx, task.ID, func(t *domain.Task) bool {
		t.Status = domain.TaskFailed
		t.Error = cause.Error()
		t.CompletedAt = domain.TimePtr(domain.Now())
		return true
	})
	if err != nil {
		q.logger.Error("failed to record task failure", zap.String("task_id", task.ID), zap.Error(err))
		return
	}

	q.stats.failed()
	q.metrics.RecordTaskFinished(task.TaskType, domain.TaskFailed, d)
	q.emit(ctx, domain.EventAgentError, updated, map[string]any{
		"error":       updated.Error,
		"retry_count": updated.RetryCount,
	})
	q.signalDone(task.ID)
}

// requeue puts a task back into the ready index with a fresh sequence.
func (q *Queue) requeue(ctx context.Context, task *domain.Task) {
	t := task.Clone()
	t.Status = domain.TaskQueued
	t.QueuedAt = domain.TimePtr(domain.Now())
	t.StartedAt = nil
	if err := q.store.Push(ctx, t); err != nil {
		q.logger.Error("failed to requeue task", zap.String("task_id", task.ID), zap.Error(err))
		return
	}
	q.wake.notify()
}

func (q *Queue) emit(ctx context.Context, eventType domain.EventType, task *domain.Task, payload map[string]any) {
	if q.events == nil {
		return
	}
	payload["task_id"] = task.ID
	payload["task_name"] = task.Name
	payload["task_type"] = task.TaskType
	if task.AssignedAgent != "" {
		payload["agent"] = task.AssignedAgent
	}

	e := domain.NewEvent(eventType, payload)
	e.Source = eventSource
	e.CorrelationID = task.CorrelationID
	e.Metadata["task_id"] = task.ID
	q.events.EmitEvent(ctx, e)
}
