package agentmemory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/construtor/pkg/domain"
)

// ProjectIDKey is the request field that ties a workflow to a project.
const ProjectIDKey = "project_id"

// Project returns the context of a project.
func (s *Service) Project(ctx context.Context, id string) (*domain.ProjectContext, error) {
	return s.store.GetProject(ctx, id)
}

// loadProject returns the stored context or a fresh one. Callers hold mu.
func (s *Service) loadProject(ctx context.Context, id string) (*domain.ProjectContext, error) {
	p, err := s.store.GetProject(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.NewProjectContext(id), nil
	}
	return p, err
}

// UpdateProject applies u to the project, creating it when absent.
func (s *Service) UpdateProject(ctx context.Context, id string, u domain.ProjectUpdate) (*domain.ProjectContext, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: project id is required", ErrInvalidMemory)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.loadProject(ctx, id)
	if err != nil {
		return nil, err
	}
	u.Apply(p)
	if err := s.store.SaveProject(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// AddArchitectureDecision appends a timestamped decision to the project
// and keeps it as a semantic memory.
func (s *Service) AddArchitectureDecision(ctx context.Context, projectID string, decision map[string]any) (*domain.ProjectContext, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, fmt.Errorf("%w: project id is required", ErrInvalidMemory)
	}

	s.mu.Lock()
	p, err := s.loadProject(ctx, projectID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	d := make(map[string]any, len(decision)+1)
	for k, v := range decision {
		d[k] = v
	}
	d["timestamp"] = s.now().Format(time.RFC3339Nano)
	p.ArchitectureDecisions = append(p.ArchitectureDecisions, d)
	p.UpdatedAt = s.now()
	n := len(p.ArchitectureDecisions)
	err = s.store.SaveProject(ctx, p)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	_, err = s.Store(ctx, fmt.Sprintf("arch_decision_%d", n), d,
		WithType(domain.MemorySemantic),
		WithCategory(domain.CategoryArchitectureDecisions),
		WithProject(projectID),
		WithTags("architecture", "decision"))
	if err != nil {
		return nil, err
	}
	return p, nil
}

// AddCodePattern records a named code pattern on the project and keeps
// it as a procedural memory.
func (s *Service) AddCodePattern(ctx context.Context, projectID, name string, pattern any) (*domain.ProjectContext, error) {
	if strings.TrimSpace(projectID) == "" || strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: project id and pattern name are required", ErrInvalidMemory)
	}

	s.mu.Lock()
	p, err := s.loadProject(ctx, projectID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if p.CodePatterns == nil {
		p.CodePatterns = map[string]any{}
	}
	p.CodePatterns[name] = pattern
	p.UpdatedAt = s.now()
	err = s.store.SaveProject(ctx, p)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	_, err = s.Store(ctx, "code_pattern_"+name, pattern,
		WithType(domain.MemoryProcedural),
		WithCategory(domain.CategoryCodePatterns),
		WithProject(projectID),
		WithTags("code", "pattern"))
	if err != nil {
		return nil, err
	}
	return p, nil
}

func projectOf(wf *domain.Workflow) string {
	id, _ := wf.Context.Request[ProjectIDKey].(string)
	return id
}

// RecordStep keeps the output of a completed step as a memory of the
// agent that produced it. Architect output on a workflow tied to a
// project also becomes an architecture decision.
func (s *Service) RecordStep(ctx context.Context, wf *domain.Workflow, index int) error {
	step := wf.Steps[index]
	content := map[string]any{
		"workflow_id": wf.ID,
		"workflow":    wf.Name,
		"step_id":     step.ID,
		"task_type":   step.TaskType,
		"output":      step.OutputData.Primary(),
	}

	opts := []Option{WithTags("workflow_step", step.TaskType)}
	project := projectOf(wf)
	if project != "" {
		opts = append(opts, WithProject(project))
	}
	if _, err := s.StoreAgentMemory(ctx, string(step.AgentRole), wf.ID+":"+step.ID, content, opts...); err != nil {
		return err
	}

	if project != "" && step.AgentRole == domain.RoleArchitect {
		_, err := s.AddArchitectureDecision(ctx, project, map[string]any{
			"workflow_id": wf.ID,
			"step_id":     step.ID,
			"task_type":   step.TaskType,
			"decision":    step.OutputData.Primary(),
		})
		return err
	}
	return nil
}

// SaveWorkflow keeps a summary of a finished workflow as an episodic
// memory keyed by the workflow id.
func (s *Service) SaveWorkflow(ctx context.Context, wf *domain.Workflow) error {
	steps := make([]any, 0, len(wf.Steps))
	for _, step := range wf.Steps {
		steps = append(steps, map[string]any{
			"agent":     string(step.AgentRole),
			"task_type": step.TaskType,
			"status":    string(step.Status),
		})
	}
	content := map[string]any{
		"id":              wf.ID,
		"name":            wf.Name,
		"description":     wf.Description,
		"state":           string(wf.State),
		"completed_steps": wf.CompletedSteps(),
		"steps":           steps,
	}
	if wf.Error != "" {
		content["error"] = wf.Error
	}

	opts := []Option{
		WithType(domain.MemoryEpisodic),
		WithCategory(domain.CategoryWorkflows),
		WithTags("workflow", string(wf.State)),
	}
	if project := projectOf(wf); project != "" {
		opts = append(opts, WithProject(project))
	}
	if _, err := s.Store(ctx, wf.ID, content, opts...); err != nil {
		return err
	}
	s.logger.Debug("workflow remembered",
		zap.String("workflow_id", wf.ID),
		zap.String("state", string(wf.State)))
	return nil
}
