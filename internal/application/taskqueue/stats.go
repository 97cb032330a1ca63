package taskqueue

import (
	"context"
	"fmt"
	"sync"
)

type counters struct {
	mu             sync.Mutex
	totalEnqueued  int64
	totalCompleted int64
	totalFailed    int64
	totalRetried   int64
	totalCancelled int64
	byType         map[string]int64
}

func newCounters() *counters {
	return &counters{byType: map[string]int64{}}
}

func (c *counters) enqueued(taskType string) {
	c.mu.Lock()
	c.totalEnqueued++
	c.byType[taskType]++
	c.mu.Unlock()
}

func (c *counters) completed() {
	c.mu.Lock()
	c.totalCompleted++
	c.mu.Unlock()
}

func (c *counters) failed() {
	c.mu.Lock()
	c.totalFailed++
	c.mu.Unlock()
}

func (c *counters) retried() {
	c.mu.Lock()
	c.totalRetried++
	c.mu.Unlock()
}

func (c *counters) cancelled() {
	c.mu.Lock()
	c.totalCancelled++
	c.mu.Unlock()
}

// Stats summarizes queue activity. Counters are local to this process;
// QueueSize and TotalTasks reflect the shared store.
type Stats struct {
	TotalEnqueued  int64            `json:"total_enqueued"`
	TotalCompleted int64            `json:"total_completed"`
	TotalFailed    int64            `json:"total_failed"`
	TotalRetried   int64            `json:"total_retried"`
	TotalCancelled int64            `json:"total_cancelled"`
	ByType         map[string]int64 `json:"by_type"`
	QueueSize      int              `json:"queue_size"`
	RunningCount   int              `json:"running_count"`
	TotalTasks     int              `json:"total_tasks"`
	WorkersActive  int              `json:"workers_active"`
}

// Stats returns the current counters plus store-derived sizes.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	q.stats.mu.Lock()
	st := Stats{
		TotalEnqueued:  q.stats.totalEnqueued,
		TotalCompleted: q.stats.totalCompleted,
		TotalFailed:    q.stats.totalFailed,
		TotalRetried:   q.stats.totalRetried,
		TotalCancelled: q.stats.totalCancelled,
		ByType:         make(map[string]int64, len(q.stats.byType)),
	}
	for k, v := range q.stats.byType {
		st.ByType[k] = v
	}
	q.stats.mu.Unlock()

	size, err := q.store.Len(ctx)
	if err != nil {
		return st, fmt.Errorf("failed to read queue size: %w", err)
	}
	tasks, err := q.store.List(ctx)
	if err != nil {
		return st, fmt.Errorf("failed to list tasks: %w", err)
	}

	st.QueueSize = size
	st.TotalTasks = len(tasks)
	st.RunningCount = int(q.running.Load())
	st.WorkersActive = q.workersActive()

	q.metrics.SetQueueDepth(size)
	return st, nil
}

// QueueSize returns the number of entries waiting in the store.
func (q *Queue) QueueSize(ctx context.Context) (int, error) {
	n, err := q.store.Len(ctx)
	if err != nil {
		return 0, err
	}
	q.metrics.SetQueueDepth(n)
	return n, nil
}
