package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskRoundTrip(t *testing.T) {
	task := NewTask("build", "code_implementation", map[string]any{"repo": "x", "lines": float64(12)})
	task.Priority = PriorityHigh
	task.Status = TaskRunning
	task.RetryCount = 2
	task.Timeout = 1500 * time.Millisecond
	task.RetryDelay = 2 * time.Second
	task.CorrelationID = "corr-1"
	task.ParentTaskID = "parent-1"
	task.AssignedAgent = "developer"
	task.Sequence = 42
	queued := Now().Add(-time.Second)
	started := Now()
	task.QueuedAt = &queued
	task.StartedAt = &started

	data, err := json.Marshal(task)
	require.NoError(t, err)

	var got Task
	require.NoError(t, json.Unmarshal(data, &got))

	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, task.Name, got.Name)
	assert.Equal(t, task.TaskType, got.TaskType)
	assert.Equal(t, task.Status, got.Status)
	assert.Equal(t, task.Priority, got.Priority)
	assert.Equal(t, task.RetryCount, got.RetryCount)
	assert.Equal(t, task.MaxRetries, got.MaxRetries)
	assert.Equal(t, task.Timeout, got.Timeout)
	assert.Equal(t, task.RetryDelay, got.RetryDelay)
	assert.Equal(t, task.CorrelationID, got.CorrelationID)
	assert.Equal(t, task.ParentTaskID, got.ParentTaskID)
	assert.Equal(t, task.AssignedAgent, got.AssignedAgent)
	assert.Equal(t, task.Sequence, got.Sequence)
	assert.Equal(t, task.Payload, got.Payload)
	assert.True(t, task.CreatedAt.Equal(got.CreatedAt))
	require.NotNil(t, got.QueuedAt)
	require.NotNil(t, got.StartedAt)
	assert.True(t, queued.Equal(*got.QueuedAt))
	assert.True(t, started.Equal(*got.StartedAt))
	assert.Nil(t, got.CompletedAt)
}

func TestTaskRecordFields(t *testing.T) {
	task := NewTask("n", "t", nil)
	data, err := json.Marshal(task)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{
		"id", "name", "task_type", "payload", "status", "priority", "timeout_seconds",
		"max_retries", "retry_count", "created_at", "queued_at", "started_at",
		"completed_at", "result", "metadata",
	} {
		assert.Contains(t, raw, key)
	}
	assert.Equal(t, float64(300), raw["timeout_seconds"])
	assert.Equal(t, "pending", raw["status"])

	_, err = time.Parse(time.RFC3339Nano, raw["created_at"].(string))
	assert.NoError(t, err)
}

func TestBackoffDelay(t *testing.T) {
	base := 2 * time.Second
	assert.Equal(t, 2*time.Second, BackoffDelay(base, 1))
	assert.Equal(t, 4*time.Second, BackoffDelay(base, 2))
	assert.Equal(t, 8*time.Second, BackoffDelay(base, 3))
	assert.Equal(t, 2*time.Second, BackoffDelay(base, 0))
	assert.Zero(t, BackoffDelay(0, 3))
	assert.Zero(t, BackoffDelay(-time.Second, 3))
}

func TestBackoffDelay_Saturates(t *testing.T) {
	base := 5 * time.Second
	assert.Equal(t, base*(1<<30), BackoffDelay(base, 31))

	prev := BackoffDelay(base, 1)
	for attempt := 2; attempt <= 200; attempt++ {
		d := BackoffDelay(base, attempt)
		require.Positive(t, d, "attempt %d", attempt)
		require.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
		prev = d
	}
	assert.Equal(t, MaxBackoffDelay, BackoffDelay(base, 32))
	assert.Equal(t, MaxBackoffDelay, BackoffDelay(base, 64))
	assert.Equal(t, MaxBackoffDelay, BackoffDelay(20*time.Millisecond, 65))
	assert.Equal(t, MaxBackoffDelay, BackoffDelay(time.Nanosecond, 1<<20))
}

func TestTaskStatusPredicates(t *testing.T) {
	assert.True(t, TaskCompleted.IsTerminal())
	assert.True(t, TaskFailed.IsTerminal())
	assert.True(t, TaskCancelled.IsTerminal())
	assert.False(t, TaskTimeout.IsTerminal())
	assert.False(t, TaskRetrying.IsTerminal())

	assert.True(t, TaskPending.Cancellable())
	assert.True(t, TaskQueued.Cancellable())
	assert.False(t, TaskRunning.Cancellable())
}

func TestTaskCloneIsIndependent(t *testing.T) {
	task := NewTask("n", "t", map[string]any{
		"a":      "b",
		"nested": map[string]any{"k": "v"},
		"list":   []any{"x", map[string]any{"y": 1}},
	})
	queued := Now()
	task.QueuedAt = &queued

	c := task.Clone()
	c.Payload["a"] = "changed"
	c.Payload["nested"].(map[string]any)["k"] = "changed"
	c.Payload["list"].([]any)[1].(map[string]any)["y"] = 2
	*c.QueuedAt = queued.Add(time.Hour)

	assert.Equal(t, "b", task.Payload["a"])
	assert.Equal(t, "v", task.Payload["nested"].(map[string]any)["k"])
	assert.Equal(t, 1, task.Payload["list"].([]any)[1].(map[string]any)["y"])
	assert.Equal(t, queued, *task.QueuedAt)
}

func TestTaskCloneKeepsValueTypes(t *testing.T) {
	task := NewTask("n", "t", map[string]any{"count": 12, "ratio": float32(0.5)})
	task.Result = map[string]any{"lines": int64(7)}

	c := task.Clone()
	assert.IsType(t, 0, c.Payload["count"])
	assert.Equal(t, 12, c.Payload["count"])
	assert.Equal(t, float32(0.5), c.Payload["ratio"])
	assert.Equal(t, int64(7), c.Result["lines"])
	assert.Equal(t, task.ID, c.ID)
	assert.Equal(t, task.Timeout, c.Timeout)
}

func TestParsePriority(t *testing.T) {
	p, err := ParsePriority("")
	require.NoError(t, err)
	assert.Equal(t, PriorityNormal, p)

	p, err = ParsePriority("Critical")
	require.NoError(t, err)
	assert.Equal(t, PriorityCritical, p)
	assert.Equal(t, "critical", p.String())

	_, err = ParsePriority("urgent")
	assert.Error(t, err)
	assert.False(t, Priority(9).Valid())
}
