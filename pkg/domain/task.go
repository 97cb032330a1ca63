package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskQueued    TaskStatus = "queued"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
	TaskTimeout   TaskStatus = "timeout"
	TaskRetrying  TaskStatus = "retrying"
)

// IsTerminal reports whether no further transition is possible.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// Cancellable reports whether a task in this status may be cancelled.
func (s TaskStatus) Cancellable() bool {
	return s == TaskPending || s == TaskQueued
}

// Priority orders tasks; lower values are dequeued first.
type Priority int

const (
	PriorityCritical   Priority = 1
	PriorityHigh       Priority = 2
	PriorityNormal     Priority = 3
	PriorityLow        Priority = 4
	PriorityBackground Priority = 5
)

var priorityNames = map[Priority]string{
	PriorityCritical:   "critical",
	PriorityHigh:       "high",
	PriorityNormal:     "normal",
	PriorityLow:        "low",
	PriorityBackground: "background",
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// Valid reports whether p is one of the five priority classes.
func (p Priority) Valid() bool {
	_, ok := priorityNames[p]
	return ok
}

// ParsePriority accepts a priority name. An empty string is NORMAL.
func ParsePriority(s string) (Priority, error) {
	if s == "" {
		return PriorityNormal, nil
	}
	for p, name := range priorityNames {
		if strings.EqualFold(name, s) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown priority: %q", s)
}

// Task defaults applied by NewTask when the caller leaves a field zero.
const (
	DefaultTaskTimeout    = 300 * time.Second
	DefaultTaskMaxRetries = 3
	DefaultTaskRetryDelay = 5 * time.Second
)

// Task is a schedulable unit of work.
//
// Sequence is assigned by the store on every push and breaks ties between
// tasks of equal priority so that dequeue order is FIFO within a class.
type Task struct {
	ID            string
	Name          string
	TaskType      string
	Payload       map[string]any
	Priority      Priority
	Status        TaskStatus
	AssignedAgent string
	Timeout       time.Duration
	MaxRetries    int
	RetryCount    int
	RetryDelay    time.Duration
	CreatedAt     time.Time
	QueuedAt      *time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	Result        map[string]any
	Error         string
	CorrelationID string
	ParentTaskID  string
	Metadata      map[string]any
	Sequence      int64
}

// NewTask builds a PENDING task with defaults filled in.
func NewTask(name, taskType string, payload map[string]any) *Task {
	if payload == nil {
		payload = map[string]any{}
	}
	return &Task{
		ID:         uuid.NewString(),
		Name:       name,
		TaskType:   taskType,
		Payload:    payload,
		Priority:   PriorityNormal,
		Status:     TaskPending,
		Timeout:    DefaultTaskTimeout,
		MaxRetries: DefaultTaskMaxRetries,
		RetryDelay: DefaultTaskRetryDelay,
		CreatedAt:  time.Now().UTC(),
		Metadata:   map[string]any{},
	}
}

// Clone returns a copy that shares no maps, slices or timestamps with t.
// Payload values keep their Go types; only records read back from a
// durable store carry JSON types (numbers as float64).
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.Payload = deepCopyMap(t.Payload)
	c.Result = deepCopyMap(t.Result)
	c.Metadata = deepCopyMap(t.Metadata)
	c.QueuedAt = copyTime(t.QueuedAt)
	c.StartedAt = copyTime(t.StartedAt)
	c.CompletedAt = copyTime(t.CompletedAt)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		return deepCopyMap(v)
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}

// MaxBackoffDelay is where BackoffDelay saturates.
const MaxBackoffDelay = time.Duration(math.MaxInt64)

// BackoffDelay returns the sleep before retry attempt n (1-based):
// base * 2^(n-1), saturating at MaxBackoffDelay. A non-positive base
// yields no delay.
func BackoffDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < attempt; i++ {
		if d > MaxBackoffDelay/2 {
			return MaxBackoffDelay
		}
		d *= 2
	}
	return d
}

type taskRecord struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	TaskType          string         `json:"task_type"`
	Payload           map[string]any `json:"payload"`
	Status            TaskStatus     `json:"status"`
	Priority          Priority       `json:"priority"`
	AssignedAgent     string         `json:"assigned_agent,omitempty"`
	TimeoutSeconds    float64        `json:"timeout_seconds"`
	MaxRetries        int            `json:"max_retries"`
	RetryCount        int            `json:"retry_count"`
	RetryDelaySeconds float64        `json:"retry_delay_seconds"`
	CreatedAt         string         `json:"created_at"`
	QueuedAt          *string        `json:"queued_at"`
	StartedAt         *string        `json:"started_at"`
	CompletedAt       *string        `json:"completed_at"`
	Result            map[string]any `json:"result"`
	Error             string         `json:"error,omitempty"`
	CorrelationID     string         `json:"correlation_id,omitempty"`
	ParentTaskID      string         `json:"parent_task_id,omitempty"`
	Metadata          map[string]any `json:"metadata"`
	Sequence          int64          `json:"sequence"`
}

// MarshalJSON encodes the task in its persisted record form.
func (t Task) MarshalJSON() ([]byte, error) {
	return json.Marshal(taskRecord{
		ID:                t.ID,
		Name:              t.Name,
		TaskType:          t.TaskType,
		Payload:           t.Payload,
		Status:            t.Status,
		Priority:          t.Priority,
		AssignedAgent:     t.AssignedAgent,
		TimeoutSeconds:    t.Timeout.Seconds(),
		MaxRetries:        t.MaxRetries,
		RetryCount:        t.RetryCount,
		RetryDelaySeconds: t.RetryDelay.Seconds(),
		CreatedAt:         formatTime(t.CreatedAt),
		QueuedAt:          formatTimePtr(t.QueuedAt),
		StartedAt:         formatTimePtr(t.StartedAt),
		CompletedAt:       formatTimePtr(t.CompletedAt),
		Result:            t.Result,
		Error:             t.Error,
		CorrelationID:     t.CorrelationID,
		ParentTaskID:      t.ParentTaskID,
		Metadata:          t.Metadata,
		Sequence:          t.Sequence,
	})
}

// UnmarshalJSON decodes the persisted record form.
func (t *Task) UnmarshalJSON(data []byte) error {
	var r taskRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	created, err := parseTime(r.CreatedAt)
	if err != nil {
		return err
	}
	queued, err := parseTimePtr(r.QueuedAt)
	if err != nil {
		return err
	}
	started, err := parseTimePtr(r.StartedAt)
	if err != nil {
		return err
	}
	completed, err := parseTimePtr(r.CompletedAt)
	if err != nil {
		return err
	}
	*t = Task{
		ID:            r.ID,
		Name:          r.Name,
		TaskType:      r.TaskType,
		Payload:       r.Payload,
		Priority:      r.Priority,
		Status:        r.Status,
		AssignedAgent: r.AssignedAgent,
		Timeout:       secondsToDuration(r.TimeoutSeconds),
		MaxRetries:    r.MaxRetries,
		RetryCount:    r.RetryCount,
		RetryDelay:    secondsToDuration(r.RetryDelaySeconds),
		CreatedAt:     created,
		QueuedAt:      queued,
		StartedAt:     started,
		CompletedAt:   completed,
		Result:        r.Result,
		Error:         r.Error,
		CorrelationID: r.CorrelationID,
		ParentTaskID:  r.ParentTaskID,
		Metadata:      r.Metadata,
		Sequence:      r.Sequence,
	}
	return nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
