package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/aescanero/construtor/pkg/domain"
)

func claimAll(*domain.Task) bool { return true }

func TestTaskStore_PriorityThenFIFO(t *testing.T) {
	store := NewTaskStore()
	ctx := context.Background()

	push := func(name string, p domain.Priority) {
		task := domain.NewTask(name, "test", nil)
		task.Priority = p
		require.NoError(t, store.Push(ctx, task))
	}
	push("n1", domain.PriorityNormal)
	push("c1", domain.PriorityCritical)
	push("n2", domain.PriorityNormal)
	push("b1", domain.PriorityBackground)
	push("c2", domain.PriorityCritical)

	var got []string
	for {
		task, err := store.PopMin(ctx, claimAll)
		require.NoError(t, err)
		if task == nil {
			break
		}
		got = append(got, task.Name)
	}
	assert.Equal(t, []string{"c1", "c2", "n1", "n2", "b1"}, got)
}

// Dequeue order is always sorted by (priority, push order).
func TestTaskStore_OrderProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		store := NewTaskStore()
		ctx := context.Background()

		priorities := rapid.SliceOfN(rapid.IntRange(1, 5), 1, 40).Draw(rt, "priorities")
		for i, p := range priorities {
			task := domain.NewTask("t", "test", nil)
			task.Priority = domain.Priority(p)
			task.Metadata["index"] = float64(i)
			if err := store.Push(ctx, task); err != nil {
				rt.Fatal(err)
			}
		}

		lastPriority, lastIndex := 0, -1
		for range priorities {
			task, err := store.PopMin(ctx, claimAll)
			if err != nil || task == nil {
				rt.Fatalf("unexpected pop result: %v %v", task, err)
			}
			p := int(task.Priority)
			idx := int(task.Metadata["index"].(float64))
			if p < lastPriority {
				rt.Fatalf("priority went backwards: %d after %d", p, lastPriority)
			}
			if p == lastPriority && idx < lastIndex {
				rt.Fatalf("FIFO violated within priority %d: %d after %d", p, idx, lastIndex)
			}
			lastPriority, lastIndex = p, idx
		}
	})
}

func TestTaskStore_RecordsAreCopies(t *testing.T) {
	store := NewTaskStore()
	ctx := context.Background()

	task := domain.NewTask("t", "test", nil)
	require.NoError(t, store.Push(ctx, task))

	task.Status = domain.TaskFailed
	got, err := store.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskPending, got.Status)
}

func TestTaskStore_DeleteRemovesReadyEntry(t *testing.T) {
	store := NewTaskStore()
	ctx := context.Background()

	a := domain.NewTask("a", "test", nil)
	b := domain.NewTask("b", "test", nil)
	require.NoError(t, store.Push(ctx, a))
	require.NoError(t, store.Push(ctx, b))
	require.NoError(t, store.Delete(ctx, a.ID))

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.PopMin(ctx, claimAll)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)
}

func TestTaskStore_PopMinAppliesClaim(t *testing.T) {
	store := NewTaskStore()
	ctx := context.Background()

	skip := domain.NewTask("skip", "test", nil)
	skip.Status = domain.TaskCancelled
	take := domain.NewTask("take", "test", nil)
	take.Status = domain.TaskQueued
	require.NoError(t, store.Push(ctx, skip))
	require.NoError(t, store.Push(ctx, take))

	got, err := store.PopMin(ctx, func(t *domain.Task) bool {
		if t.Status != domain.TaskQueued {
			return false
		}
		t.Status = domain.TaskRunning
		return true
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, take.ID, got.ID)
	assert.Equal(t, domain.TaskRunning, got.Status)

	stored, err := store.Get(ctx, take.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskRunning, stored.Status)

	stored, err = store.Get(ctx, skip.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskCancelled, stored.Status)

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTaskStore_RemoveReady(t *testing.T) {
	store := NewTaskStore()
	ctx := context.Background()

	a := domain.NewTask("a", "test", nil)
	require.NoError(t, store.Push(ctx, a))
	require.NoError(t, store.RemoveReady(ctx, a.ID))
	require.NoError(t, store.RemoveReady(ctx, "missing"))

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = store.Get(ctx, a.ID)
	assert.NoError(t, err)
}

func TestWorkflowStore(t *testing.T) {
	store := NewWorkflowStore()
	ctx := context.Background()

	wf := domain.NewWorkflow("wf", "", nil)
	require.NoError(t, store.SaveWorkflow(ctx, wf))

	wf.State = domain.WorkflowFailed
	got, err := store.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowPending, got.State)

	require.NoError(t, store.DeleteWorkflow(ctx, wf.ID))
	_, err = store.GetWorkflow(ctx, wf.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
