package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aescanero/construtor/pkg/domain"
	"github.com/aescanero/construtor/pkg/ports"
)

const (
	taskKeyPrefix = "construtor:task:"
	queueKey      = "construtor:queue"
	sequenceKey   = "construtor:queue:seq"

	// priorityStride separates priority classes in the sorted-set score.
	// Sequences stay below it, so score order is (priority, sequence).
	priorityStride = 1e12

	maxUpdateAttempts = 16
)

var _ ports.TaskStore = (*TaskStore)(nil)

// TaskStore implements ports.TaskStore on Redis. Ready tasks live in a
// sorted set popped with ZPOPMIN; records are JSON strings updated under
// WATCH.
type TaskStore struct {
	client redis.UniversalClient
	logger *zap.Logger
}

// NewTaskStore creates a Redis-backed task store.
func NewTaskStore(client redis.UniversalClient, logger *zap.Logger) *TaskStore {
	return &TaskStore{client: client, logger: logger}
}

func taskKey(id string) string {
	return taskKeyPrefix + id
}

func score(priority domain.Priority, seq int64) float64 {
	return float64(priority)*priorityStride + float64(seq)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("failed to %s: %w: %w", op, domain.ErrStoreUnavailable, err)
}

// Push implements ports.TaskStore.
func (s *TaskStore) Push(ctx context.Context, task *domain.Task) error {
	seq, err := s.client.Incr(ctx, sequenceKey).Result()
	if err != nil {
		return unavailable("allocate sequence", err)
	}
	task.Sequence = seq

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, taskKey(task.ID), data, 0)
		pipe.ZAdd(ctx, queueKey, redis.Z{Score: score(task.Priority, seq), Member: task.ID})
		return nil
	})
	if err != nil {
		return unavailable("push task", err)
	}

	s.logger.Debug("task pushed",
		zap.String("task_id", task.ID),
		zap.Int("priority", int(task.Priority)),
		zap.Int64("sequence", seq))
	return nil
}

// PopMin implements ports.TaskStore. The head of the ready set and its
// record are read under WATCH; ZREM and the claimed record are written in
// one MULTI/EXEC, so a failed claim leaves the task indexed.
func (s *TaskStore) PopMin(ctx context.Context, claim func(*domain.Task) bool) (*domain.Task, error) {
	for conflicts := 0; conflicts < maxUpdateAttempts; {
		task, skipped, err := s.popHead(ctx, claim)
		switch {
		case errors.Is(err, redis.TxFailedErr):
			conflicts++
		case err != nil:
			return nil, unavailable("pop task", err)
		case skipped:
		default:
			return task, nil
		}
	}
	// Other consumers keep winning the head; report empty and let the
	// caller poll again.
	s.logger.Debug("task pop lost to contention")
	return nil, nil
}

// popHead tries to claim the current head of the ready set. skipped
// reports that the head was discarded without a claim.
func (s *TaskStore) popHead(ctx context.Context, claim func(*domain.Task) bool) (*domain.Task, bool, error) {
	var (
		claimed *domain.Task
		skipped bool
	)

	txf := func(tx *redis.Tx) error {
		claimed, skipped = nil, false

		head, err := tx.ZRangeWithScores(ctx, queueKey, 0, 0).Result()
		if err != nil {
			return err
		}
		if len(head) == 0 {
			return nil
		}
		id, _ := head[0].Member.(string)
		key := taskKey(id)
		if err := tx.Watch(ctx, key).Err(); err != nil {
			return err
		}

		var task *domain.Task
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case err == redis.Nil:
			// record removed by cleanup while still indexed
		case err != nil:
			return err
		default:
			var t domain.Task
			if uerr := json.Unmarshal(data, &t); uerr != nil {
				s.logger.Warn("dropping malformed task from queue",
					zap.String("task_id", id), zap.Error(uerr))
			} else {
				task = &t
			}
		}

		var updated []byte
		if task != nil && claim(task) {
			if updated, err = json.Marshal(task); err != nil {
				return fmt.Errorf("failed to marshal task: %w", err)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRem(ctx, queueKey, id)
			if updated != nil {
				pipe.Set(ctx, key, updated, 0)
			}
			return nil
		})
		if err != nil {
			return err
		}
		if updated == nil {
			skipped = true
			return nil
		}
		claimed = task
		return nil
	}

	if err := s.client.Watch(ctx, txf, queueKey); err != nil {
		return nil, false, err
	}
	return claimed, skipped, nil
}

// RemoveReady implements ports.TaskStore.
func (s *TaskStore) RemoveReady(ctx context.Context, id string) error {
	if err := s.client.ZRem(ctx, queueKey, id).Err(); err != nil {
		return unavailable("unindex task", err)
	}
	return nil
}

// Save implements ports.TaskStore.
func (s *TaskStore) Save(ctx context.Context, task *domain.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	if err := s.client.Set(ctx, taskKey(task.ID), data, 0).Err(); err != nil {
		return unavailable("save task", err)
	}
	return nil
}

// Update implements ports.TaskStore using optimistic locking.
func (s *TaskStore) Update(ctx context.Context, id string, fn func(*domain.Task) bool) (*domain.Task, bool, error) {
	key := taskKey(id)
	var (
		result  *domain.Task
		changed bool
	)

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
		}
		if err != nil {
			return err
		}

		var task domain.Task
		if err := json.Unmarshal(data, &task); err != nil {
			return fmt.Errorf("failed to unmarshal task: %w", err)
		}

		changed = fn(&task)
		result = &task
		if !changed {
			return nil
		}

		updated, err := json.Marshal(&task)
		if err != nil {
			return fmt.Errorf("failed to marshal task: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return result, changed, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, domain.ErrNotFound) {
			return nil, false, err
		}
		return nil, false, unavailable("update task", err)
	}
	return nil, false, fmt.Errorf("failed to update task %s: too much contention", id)
}

// Get implements ports.TaskStore.
func (s *TaskStore) Get(ctx context.Context, id string) (*domain.Task, error) {
	data, err := s.client.Get(ctx, taskKey(id)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("get task", err)
	}

	var task domain.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	return &task, nil
}

// Delete implements ports.TaskStore.
func (s *TaskStore) Delete(ctx context.Context, id string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, taskKey(id))
		pipe.ZRem(ctx, queueKey, id)
		return nil
	})
	if err != nil {
		return unavailable("delete task", err)
	}
	return nil
}

// List implements ports.TaskStore.
func (s *TaskStore) List(ctx context.Context) ([]*domain.Task, error) {
	keys, err := scanKeys(ctx, s.client, taskKeyPrefix+"*")
	if err != nil {
		return nil, unavailable("scan tasks", err)
	}

	tasks := make([]*domain.Task, 0, len(keys))
	for _, key := range keys {
		data, err := s.client.Get(ctx, key).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, unavailable("get task", err)
		}

		var task domain.Task
		if err := json.Unmarshal(data, &task); err != nil {
			s.logger.Warn("skipping malformed task record", zap.String("key", key), zap.Error(err))
			continue
		}
		tasks = append(tasks, &task)
	}
	return tasks, nil
}

// Len implements ports.TaskStore.
func (s *TaskStore) Len(ctx context.Context) (int, error) {
	n, err := s.client.ZCard(ctx, queueKey).Result()
	if err != nil {
		return 0, unavailable("count queue", err)
	}
	return int(n), nil
}

// Ping implements ports.TaskStore.
func (s *TaskStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping redis", err)
	}
	return nil
}

func scanKeys(ctx context.Context, client redis.UniversalClient, pattern string) ([]string, error) {
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}
