package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// WorkflowState is the top-level state of a Workflow. PLANNING, REVIEWING,
// TESTING and DEPLOYING are descriptive labels only.
type WorkflowState string

const (
	WorkflowPending    WorkflowState = "pending"
	WorkflowPlanning   WorkflowState = "planning"
	WorkflowInProgress WorkflowState = "in_progress"
	WorkflowReviewing  WorkflowState = "reviewing"
	WorkflowTesting    WorkflowState = "testing"
	WorkflowDeploying  WorkflowState = "deploying"
	WorkflowCompleted  WorkflowState = "completed"
	WorkflowFailed     WorkflowState = "failed"
	WorkflowCancelled  WorkflowState = "cancelled"
)

// IsTerminal reports whether the workflow can no longer change state.
func (s WorkflowState) IsTerminal() bool {
	return s == WorkflowCompleted || s == WorkflowFailed || s == WorkflowCancelled
}

// AgentRole names a specialist agent.
type AgentRole string

const (
	RoleArchitect  AgentRole = "architect"
	RoleDeveloper  AgentRole = "developer"
	RoleReviewer   AgentRole = "reviewer"
	RoleTester     AgentRole = "tester"
	RoleDevOps     AgentRole = "devops"
	RoleDocumenter AgentRole = "documenter"
	RoleSecurity   AgentRole = "security"
	RoleOptimizer  AgentRole = "optimizer"
)

// AllRoles lists every agent role in a stable order.
func AllRoles() []AgentRole {
	return []AgentRole{
		RoleArchitect, RoleDeveloper, RoleReviewer, RoleTester,
		RoleDevOps, RoleDocumenter, RoleSecurity, RoleOptimizer,
	}
}

// DefaultStepMaxRetries is applied to template steps.
const DefaultStepMaxRetries = 3

// WorkflowStep is one stage of a Workflow.
type WorkflowStep struct {
	ID          string         `json:"id"`
	AgentRole   AgentRole      `json:"agent_role"`
	TaskType    string         `json:"task_type"`
	Description string         `json:"description,omitempty"`
	InputData   map[string]any `json:"input_data"`
	OutputData  *StepResult    `json:"output_data"`
	Status      TaskStatus     `json:"status"`
	StartedAt   *time.Time     `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at"`
	Error       string         `json:"error,omitempty"`
	RetryCount  int            `json:"retry_count"`
	MaxRetries  int            `json:"max_retries"`
}

// NewStep creates a PENDING step.
func NewStep(role AgentRole, taskType string, input map[string]any) WorkflowStep {
	if input == nil {
		input = map[string]any{}
	}
	return WorkflowStep{
		ID:         uuid.NewString(),
		AgentRole:  role,
		TaskType:   taskType,
		InputData:  input,
		Status:     TaskPending,
		MaxRetries: DefaultStepMaxRetries,
	}
}

// Workflow is an ordered plan of steps.
type Workflow struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Steps       []WorkflowStep  `json:"steps"`
	State       WorkflowState   `json:"state"`
	Context     WorkflowContext `json:"context"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	CompletedAt *time.Time      `json:"completed_at"`
	Metadata    map[string]any  `json:"metadata"`
}

// NewWorkflow creates a PENDING workflow.
func NewWorkflow(name, description string, steps []WorkflowStep) *Workflow {
	now := Now()
	return &Workflow{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Steps:       steps,
		State:       WorkflowPending,
		Context:     NewWorkflowContext(nil),
		CreatedAt:   now,
		UpdatedAt:   now,
		Metadata:    map[string]any{},
	}
}

// Clone copies the workflow so that the copy can be read while the
// original keeps executing. Step results are shared; they are never
// modified after being recorded.
func (w *Workflow) Clone() *Workflow {
	if w == nil {
		return nil
	}
	c := *w
	c.Steps = make([]WorkflowStep, len(w.Steps))
	for i, s := range w.Steps {
		s.InputData = copyMap(s.InputData)
		c.Steps[i] = s
	}
	c.Context = w.Context.Clone()
	c.Metadata = copyMap(w.Metadata)
	return &c
}

// CompletedSteps counts steps in COMPLETED status.
func (w *Workflow) CompletedSteps() int {
	n := 0
	for _, s := range w.Steps {
		if s.Status == TaskCompleted {
			n++
		}
	}
	return n
}

// Progress is completed/total as a percentage.
func (w *Workflow) Progress() float64 {
	if len(w.Steps) == 0 {
		return 0
	}
	return float64(w.CompletedSteps()) / float64(len(w.Steps)) * 100
}

// CurrentStep returns the index of the first RUNNING step or -1.
func (w *Workflow) CurrentStep() int {
	for i, s := range w.Steps {
		if s.Status == TaskRunning {
			return i
		}
	}
	return -1
}

// Status summarizes the workflow for callers.
func (w *Workflow) Status() *WorkflowStatus {
	st := &WorkflowStatus{
		WorkflowID:     w.ID,
		Name:           w.Name,
		State:          w.State,
		Progress:       w.Progress(),
		CompletedSteps: w.CompletedSteps(),
		TotalSteps:     len(w.Steps),
		Error:          w.Error,
	}
	if i := w.CurrentStep(); i >= 0 {
		s := w.Steps[i]
		st.CurrentStep = &StepRef{
			Index:      i,
			ID:         s.ID,
			AgentRole:  s.AgentRole,
			TaskType:   s.TaskType,
			RetryCount: s.RetryCount,
		}
	}
	return st
}

// WorkflowStatus is the user-visible view of a workflow.
type WorkflowStatus struct {
	WorkflowID     string        `json:"workflow_id"`
	Name           string        `json:"name"`
	State          WorkflowState `json:"state"`
	Progress       float64       `json:"progress"`
	CompletedSteps int           `json:"completed_steps"`
	TotalSteps     int           `json:"total_steps"`
	CurrentStep    *StepRef      `json:"current_step"`
	Error          string        `json:"error,omitempty"`
}

// StepRef identifies a step within a workflow.
type StepRef struct {
	Index      int       `json:"index"`
	ID         string    `json:"id"`
	AgentRole  AgentRole `json:"agent_role"`
	TaskType   string    `json:"task_type"`
	RetryCount int       `json:"retry_count"`
}

// WorkflowContext accumulates step results. Entries are keyed by step
// index and may only be added once.
type WorkflowContext struct {
	Request map[string]any      `json:"request"`
	Results map[int]*StepResult `json:"results"`
}

// NewWorkflowContext creates a context seeded with the original request.
func NewWorkflowContext(request map[string]any) WorkflowContext {
	if request == nil {
		request = map[string]any{}
	}
	return WorkflowContext{Request: request, Results: map[int]*StepResult{}}
}

// Add records the result of step index. Overwriting is an error.
func (c *WorkflowContext) Add(index int, r *StepResult) error {
	if c.Results == nil {
		c.Results = map[int]*StepResult{}
	}
	if _, ok := c.Results[index]; ok {
		return fmt.Errorf("step %d: %w", index, ErrContextEntryExists)
	}
	c.Results[index] = r
	return nil
}

// Result returns the result recorded for step index.
func (c WorkflowContext) Result(index int) (*StepResult, bool) {
	r, ok := c.Results[index]
	return r, ok
}

// Indexes returns the recorded step indexes in ascending order.
func (c WorkflowContext) Indexes() []int {
	idx := make([]int, 0, len(c.Results))
	for i := range c.Results {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}

// Clone copies the context maps.
func (c WorkflowContext) Clone() WorkflowContext {
	out := WorkflowContext{Request: copyMap(c.Request), Results: make(map[int]*StepResult, len(c.Results))}
	for k, v := range c.Results {
		out.Results[k] = v
	}
	return out
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
