package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/construtor/pkg/domain"
)

// Get returns the current record of a task.
func (q *Queue) Get(ctx context.Context, id string) (*domain.Task, error) {
	return q.store.Get(ctx, id)
}

// Cancel cancels a PENDING or QUEUED task. It returns false when the
// task is unknown or already past the point of cancellation, so calling
// it twice returns false the second time.
func (q *Queue) Cancel(ctx context.Context, id string) (bool, error) {
	_, changed, err := q.store.Update(ctx, id, func(t *domain.Task) bool {
		if !t.Status.Cancellable() {
			return false
		}
		t.Status = domain.TaskCancelled
		t.CompletedAt = domain.TimePtr(domain.Now())
		return true
	})
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to cancel task: %w", err)
	}
	if !changed {
		return false, nil
	}

	if err := q.store.RemoveReady(ctx, id); err != nil {
		// PopMin skips cancelled records, so a stale entry only inflates
		// the queue size until it is popped.
		q.logger.Warn("failed to remove cancelled task from queue",
			zap.String("task_id", id), zap.Error(err))
	}

	q.stats.cancelled()
	q.signalDone(id)
	q.logger.Info("task cancelled", zap.String("task_id", id))
	return true, nil
}

// Wait blocks until the task reaches COMPLETED, FAILED or CANCELLED.
// Completion in another process is picked up by polling.
func (q *Queue) Wait(ctx context.Context, id string) (*domain.Task, error) {
	ticker := time.NewTicker(q.poll)
	defer ticker.Stop()

	for {
		signal := q.doneSignal(id)

		task, err := q.store.Get(ctx, id)
		if err != nil {
			q.dropWaiter(id, signal)
			return nil, err
		}
		if task.Status.IsTerminal() {
			q.dropWaiter(id, signal)
			return task, nil
		}

		select {
		case <-ctx.Done():
			q.dropWaiter(id, signal)
			return task, ctx.Err()
		case <-signal:
		case <-ticker.C:
		}
	}
}

// Tasks returns the tasks in any of the given statuses, sorted by
// (priority, sequence).
func (q *Queue) Tasks(ctx context.Context, statuses ...domain.TaskStatus) ([]*domain.Task, error) {
	all, err := q.store.List(ctx)
	if err != nil {
		return nil, err
	}

	want := make(map[domain.TaskStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}

	out := make([]*domain.Task, 0, len(all))
	for _, t := range all {
		if len(want) == 0 || want[t.Status] {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Sequence < out[j].Sequence
	})
	return out, nil
}

// Pending returns tasks waiting to run.
func (q *Queue) Pending(ctx context.Context) ([]*domain.Task, error) {
	return q.Tasks(ctx, domain.TaskPending, domain.TaskQueued)
}

// Running returns tasks currently held by a worker.
func (q *Queue) Running(ctx context.Context) ([]*domain.Task, error) {
	return q.Tasks(ctx, domain.TaskRunning)
}

// Completed returns successfully finished tasks.
func (q *Queue) Completed(ctx context.Context) ([]*domain.Task, error) {
	return q.Tasks(ctx, domain.TaskCompleted)
}

// Failed returns tasks that failed terminally.
func (q *Queue) Failed(ctx context.Context) ([]*domain.Task, error) {
	return q.Tasks(ctx, domain.TaskFailed)
}

// ClearCompleted removes COMPLETED and CANCELLED task records and returns
// how many were removed. Failed tasks are kept for inspection.
func (q *Queue) ClearCompleted(ctx context.Context) (int, error) {
	done, err := q.Tasks(ctx, domain.TaskCompleted, domain.TaskCancelled)
	if err != nil {
		return 0, err
	}
	for _, t := range done {
		if err := q.store.Delete(ctx, t.ID); err != nil {
			return 0, fmt.Errorf("failed to delete task %s: %w", t.ID, err)
		}
	}
	if len(done) > 0 {
		q.logger.Info("cleared finished tasks", zap.Int("count", len(done)))
	}
	return len(done), nil
}
