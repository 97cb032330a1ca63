package orchestrator

import (
	"fmt"

	"github.com/aescanero/construtor/pkg/domain"
)

// Validator checks workflows before they are registered
type Validator struct {
	routing *RoutingTable
}

// NewValidator creates a new workflow validator
func NewValidator(routing *RoutingTable) *Validator {
	return &Validator{routing: routing}
}

// Validate validates a workflow built from a template
func (v *Validator) Validate(wf *domain.Workflow) error {
	if wf == nil {
		return fmt.Errorf("workflow is nil")
	}
	if wf.ID == "" {
		return fmt.Errorf("workflow ID is required")
	}
	if len(wf.Steps) == 0 {
		return fmt.Errorf("workflow must have at least one step")
	}

	stepIDs := make(map[string]bool, len(wf.Steps))
	for i, step := range wf.Steps {
		if err := v.validateStep(step); err != nil {
			return fmt.Errorf("invalid step %d: %w", i, err)
		}
		if stepIDs[step.ID] {
			return fmt.Errorf("duplicate step ID: %s", step.ID)
		}
		stepIDs[step.ID] = true
	}
	return nil
}

func (v *Validator) validateStep(step domain.WorkflowStep) error {
	if step.ID == "" {
		return fmt.Errorf("step ID is required")
	}
	if step.TaskType == "" {
		return fmt.Errorf("task type is required")
	}
	if step.MaxRetries < 1 {
		return fmt.Errorf("max retries must be at least 1")
	}
	if step.Status != domain.TaskPending {
		return fmt.Errorf("step must start pending, got %s", step.Status)
	}

	known := false
	for _, r := range domain.AllRoles() {
		if r == step.AgentRole {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("unknown agent role: %s", step.AgentRole)
	}
	if _, ok := v.routing.Teams[v.routing.TeamOf(step.AgentRole)]; !ok {
		return fmt.Errorf("agent %s has no team", step.AgentRole)
	}
	return nil
}
