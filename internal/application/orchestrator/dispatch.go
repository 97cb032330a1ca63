package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/construtor/internal/application/taskqueue"
	"github.com/aescanero/construtor/pkg/domain"
	"github.com/aescanero/construtor/pkg/ports"
)

// StepTaskType is the task type workflow steps are enqueued as.
const StepTaskType = "workflow.step"

// queuedStep is the task payload of a queued step.
type queuedStep struct {
	WorkflowID string                 `json:"workflow_id"`
	StepID     string                 `json:"step_id"`
	Agent      domain.AgentRole       `json:"agent"`
	TaskType   string                 `json:"task_type"`
	Model      string                 `json:"model"`
	Tier       string                 `json:"tier"`
	Input      map[string]any         `json:"input"`
	Context    domain.WorkflowContext `json:"context"`
}

func encodeStep(req ports.ExecutionRequest) (map[string]any, error) {
	data, err := json.Marshal(queuedStep{
		WorkflowID: req.WorkflowID,
		StepID:     req.StepID,
		Agent:      req.Agent,
		TaskType:   req.TaskType,
		Model:      req.Model,
		Tier:       req.Tier,
		Input:      req.Input,
		Context:    req.Context,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode step: %w", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to encode step: %w", err)
	}
	return payload, nil
}

func decodeStep(payload map[string]any) (ports.ExecutionRequest, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return ports.ExecutionRequest{}, fmt.Errorf("failed to decode step: %w", err)
	}
	var s queuedStep
	if err := json.Unmarshal(data, &s); err != nil {
		return ports.ExecutionRequest{}, fmt.Errorf("failed to decode step: %w", err)
	}
	return ports.ExecutionRequest{
		WorkflowID: s.WorkflowID,
		StepID:     s.StepID,
		Agent:      s.Agent,
		TaskType:   s.TaskType,
		Model:      s.Model,
		Tier:       s.Tier,
		Input:      s.Input,
		Context:    s.Context,
	}, nil
}

// QueueExecutor runs steps as tasks on the queue so that any worker
// process can execute them. Step retries stay with the orchestrator, so
// step tasks are enqueued without queue-level retries.
type QueueExecutor struct {
	queue   *taskqueue.Queue
	timeout time.Duration
	logger  *zap.Logger
}

var _ ports.AgentExecutor = (*QueueExecutor)(nil)

// NewQueueExecutor creates a QueueExecutor. timeout bounds each step task.
func NewQueueExecutor(queue *taskqueue.Queue, timeout time.Duration, logger *zap.Logger) *QueueExecutor {
	if timeout <= 0 {
		timeout = domain.DefaultTaskTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueExecutor{queue: queue, timeout: timeout, logger: logger}
}

// Execute enqueues the step and waits for its task to finish.
func (e *QueueExecutor) Execute(ctx context.Context, req ports.ExecutionRequest) (map[string]any, error) {
	payload, err := encodeStep(req)
	if err != nil {
		return nil, err
	}

	task, err := e.queue.Enqueue(ctx,
		fmt.Sprintf("%s/%s", req.Agent, req.TaskType),
		StepTaskType,
		payload,
		taskqueue.WithMaxRetries(0),
		taskqueue.WithTimeout(e.timeout),
		taskqueue.WithCorrelationID(req.WorkflowID),
		taskqueue.WithAssignedAgent(string(req.Agent)),
		taskqueue.WithMetadata(map[string]any{
			"step_id": req.StepID,
			"model":   req.Model,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue step: %w", err)
	}

	done, err := e.queue.Wait(ctx, task.ID)
	if err != nil {
		if ctx.Err() != nil {
			if _, cerr := e.queue.Cancel(context.WithoutCancel(ctx), task.ID); cerr != nil {
				e.logger.Warn("failed to cancel step task",
					zap.String("task_id", task.ID),
					zap.Error(cerr))
			}
		}
		return nil, fmt.Errorf("waiting for step task %s: %w", task.ID, err)
	}

	switch done.Status {
	case domain.TaskCompleted:
		return done.Result, nil
	case domain.TaskCancelled:
		return nil, fmt.Errorf("step task %s was cancelled", task.ID)
	default:
		return nil, fmt.Errorf("step task %s failed: %s", task.ID, done.Error)
	}
}

// StepHandler returns the queue handler that executes queued steps with
// exec. Worker processes register it under StepTaskType.
func StepHandler(exec ports.AgentExecutor) taskqueue.Handler {
	return func(ctx context.Context, task *domain.Task) (map[string]any, error) {
		req, err := decodeStep(task.Payload)
		if err != nil {
			return nil, err
		}
		return exec.Execute(ctx, req)
	}
}

var familyRoles = map[domain.TaskFamily]domain.AgentRole{
	domain.FamilyArchitecture:   domain.RoleArchitect,
	domain.FamilyImplementation: domain.RoleDeveloper,
	domain.FamilyReview:         domain.RoleReviewer,
	domain.FamilyTesting:        domain.RoleTester,
	domain.FamilyDevOps:         domain.RoleDevOps,
	domain.FamilyDocumentation:  domain.RoleDocumenter,
}

// roleFor picks the agent of a standalone task: the assigned agent when it
// names a role, otherwise the role owning the task family.
func roleFor(task *domain.Task) domain.AgentRole {
	for _, r := range domain.AllRoles() {
		if string(r) == task.AssignedAgent {
			return r
		}
	}
	if r, ok := familyRoles[domain.FamilyOf(task.TaskType)]; ok {
		return r
	}
	return domain.RoleArchitect
}

// AgentTaskHandler runs a standalone agent task, one submitted directly
// to the queue rather than as part of a workflow. The payload is the
// agent input; an optional "description" feeds complexity estimation.
func AgentTaskHandler(exec ports.AgentExecutor, routing *RoutingTable) taskqueue.Handler {
	return func(ctx context.Context, task *domain.Task) (map[string]any, error) {
		role := roleFor(task)
		description, _ := task.Payload["description"].(string)
		res := routing.Resolve(role, task.TaskType, description)

		out, err := exec.Execute(ctx, ports.ExecutionRequest{
			WorkflowID: task.CorrelationID,
			StepID:     task.ID,
			Agent:      role,
			TaskType:   task.TaskType,
			Model:      res.Model,
			Tier:       res.Tier,
			Input:      task.Payload,
			Context:    domain.NewWorkflowContext(nil),
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"agent":  string(role),
			"team":   res.Team,
			"model":  res.Model,
			"tier":   res.Tier,
			"output": out,
		}, nil
	}
}

// RegisterHandlers installs the step handler and one agent task handler
// per catalogued task type on q.
func RegisterHandlers(q *taskqueue.Queue, exec ports.AgentExecutor, routing *RoutingTable) {
	q.RegisterHandler(StepTaskType, StepHandler(exec))
	agent := AgentTaskHandler(exec, routing)
	for _, taskType := range domain.TaskTypes() {
		q.RegisterHandler(taskType, agent)
	}
}
