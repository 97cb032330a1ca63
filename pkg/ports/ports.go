// Package ports defines the interfaces between the application layer and
// its adapters: durable stores, agent memory, the agent executor, event
// emission and metrics.
package ports

import (
	"context"
	"time"

	"github.com/aescanero/construtor/pkg/domain"
)

// TaskStore is the durable, shared priority structure behind the task
// queue. Implementations must make PopMin and Update atomic with respect
// to concurrent callers in any process sharing the store.
type TaskStore interface {
	// Push stores the task record and inserts it into the ready index,
	// assigning a fresh monotonic Sequence.
	Push(ctx context.Context, task *domain.Task) error

	// PopMin removes the ready entry with the lowest (priority, sequence)
	// and applies claim to its record in the same atomic step, writing
	// the claimed record back. Entries whose record is gone or whose
	// claim returns false are discarded and the next one is tried. It
	// returns the claimed record, or nil when nothing could be claimed.
	// On error the index and the record are left untouched.
	PopMin(ctx context.Context, claim func(*domain.Task) bool) (*domain.Task, error)

	// RemoveReady drops id from the ready index, leaving its record.
	RemoveReady(ctx context.Context, id string) error

	// Save upserts the task record without touching the ready index.
	Save(ctx context.Context, task *domain.Task) error

	// Update applies fn to the current record as one atomic
	// read-modify-write. When fn returns false nothing is written.
	// The returned task is the record after the call.
	Update(ctx context.Context, id string, fn func(*domain.Task) bool) (*domain.Task, bool, error)

	Get(ctx context.Context, id string) (*domain.Task, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*domain.Task, error)

	// Len returns the number of entries in the ready index.
	Len(ctx context.Context) (int, error)

	Ping(ctx context.Context) error
}

// WorkflowStorage persists workflow snapshots.
type WorkflowStorage interface {
	SaveWorkflow(ctx context.Context, wf *domain.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*domain.Workflow, error)
	ListWorkflows(ctx context.Context) ([]*domain.Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error
}

// MemoryStorage persists agent memories and project contexts. Expired
// memories are never returned.
type MemoryStorage interface {
	// SaveMemory upserts m under (Category, Key). A memory whose
	// ExpiresAt has passed is removed instead.
	SaveMemory(ctx context.Context, m *domain.Memory) error
	GetMemory(ctx context.Context, category, key string) (*domain.Memory, error)
	// DeleteMemory reports whether a memory was removed.
	DeleteMemory(ctx context.Context, category, key string) (bool, error)
	ListMemories(ctx context.Context) ([]*domain.Memory, error)
	// DeleteExpired removes expired memories and returns how many.
	DeleteExpired(ctx context.Context) (int, error)

	SaveProject(ctx context.Context, p *domain.ProjectContext) error
	GetProject(ctx context.Context, id string) (*domain.ProjectContext, error)
	ListProjects(ctx context.Context) ([]*domain.ProjectContext, error)
}

// ExecutionRequest is everything an agent executor receives for one call.
type ExecutionRequest struct {
	WorkflowID string
	StepID     string
	Agent      domain.AgentRole
	TaskType   string
	Model      string
	Tier       string
	Input      map[string]any
	Context    domain.WorkflowContext
}

// AgentExecutor runs one unit of agent work. Implementations may call an
// LLM, ask a human or apply static rules.
type AgentExecutor interface {
	Execute(ctx context.Context, req ExecutionRequest) (map[string]any, error)
}

// ExecutorFunc adapts a function to AgentExecutor.
type ExecutorFunc func(ctx context.Context, req ExecutionRequest) (map[string]any, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, req ExecutionRequest) (map[string]any, error) {
	return f(ctx, req)
}

// EventEmitter publishes a prebuilt event.
type EventEmitter interface {
	EmitEvent(ctx context.Context, event *domain.Event)
}

// MetricsCollector records operational metrics.
type MetricsCollector interface {
	RecordTaskEnqueued(taskType string)
	RecordTaskFinished(taskType string, status domain.TaskStatus, duration time.Duration)
	RecordTaskRetry(taskType string)
	SetQueueDepth(depth int)

	RecordEvent(eventType domain.EventType, source string)
	RecordEventHandlerError(eventType domain.EventType)

	RecordWorkflowStarted(requestType string)
	RecordWorkflowFinished(requestType string, state domain.WorkflowState, duration time.Duration)
	RecordStepFinished(role domain.AgentRole, taskType string, status domain.TaskStatus, duration time.Duration)
	RecordStepRetry(role domain.AgentRole, taskType string)
	SetActiveWorkflows(n int)

	RecordWorkerPoolStatus(total, idle, busy int)
	RecordExecutorCall(model, tier string, err error, duration time.Duration)
}
