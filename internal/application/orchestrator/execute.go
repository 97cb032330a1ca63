package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/aescanero/construtor/internal/application/debate"
	"github.com/aescanero/construtor/internal/application/eventbus"
	"github.com/aescanero/construtor/pkg/domain"
	"github.com/aescanero/construtor/pkg/ports"
)

// phaseOf labels the workflow with what its running step is doing. The
// label is descriptive; the workflow state stays IN_PROGRESS.
func phaseOf(role domain.AgentRole) domain.WorkflowState {
	switch role {
	case domain.RoleArchitect:
		return domain.WorkflowPlanning
	case domain.RoleReviewer, domain.RoleSecurity, domain.RoleOptimizer:
		return domain.WorkflowReviewing
	case domain.RoleTester:
		return domain.WorkflowTesting
	case domain.RoleDevOps:
		return domain.WorkflowDeploying
	default:
		return domain.WorkflowInProgress
	}
}

type stepOutcome int

const (
	stepCompleted stepOutcome = iota
	stepFailed
	stepCancelled
)

func (m *Manager) execute(r *run) {
	ctx := m.baseCtx
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	defer r.stop()

	wf := r.snapshot()
	ctx, span := m.tracer.Start(ctx, "workflow.execute")
	span.SetAttributes(
		attribute.String("workflow.id", wf.ID),
		attribute.String("workflow.type", r.requestType),
		attribute.Int("workflow.steps", len(wf.Steps)),
	)
	defer span.End()

	r.started = time.Now()
	wf = r.update(func(wf *domain.Workflow) {
		if wf.State == domain.WorkflowPending {
			wf.State = domain.WorkflowInProgress
		}
	})
	m.persist(ctx, wf)
	m.emit(ctx, domain.EventWorkflowStarted, wf.ID, map[string]any{
		"name":        wf.Name,
		"total_steps": len(wf.Steps),
	})
	m.logger.Info("starting workflow execution",
		zap.String("workflow_id", wf.ID),
		zap.String("name", wf.Name))

	outcome := stepCompleted
	for i := range wf.Steps {
		if r.cancelled() {
			outcome = stepCancelled
			break
		}
		outcome = m.runStep(ctx, r, i)
		if outcome != stepCompleted {
			break
		}
		if r.cancelled() {
			outcome = stepCancelled
			break
		}
		if i+1 < len(wf.Steps) {
			m.handoff(ctx, r, i)
		}
	}

	m.finish(ctx, r, outcome)
	if outcome == stepFailed {
		span.SetStatus(codes.Error, "workflow failed")
	}
}

// handoff announces that step i's agent passes work to the next agent.
func (m *Manager) handoff(ctx context.Context, r *run, i int) {
	wf := r.snapshot()
	from, to := wf.Steps[i], wf.Steps[i+1]
	m.bus.Handoff(ctx, string(from.AgentRole), string(to.AgentRole),
		map[string]any{
			"workflow_id": wf.ID,
			"step_index":  i + 1,
			"task_type":   to.TaskType,
		},
		map[string]any{
			"completed_steps": wf.CompletedSteps(),
			"total_steps":     len(wf.Steps),
		},
		"",
		eventbus.WithCorrelationID(wf.ID))
}

func (m *Manager) finish(ctx context.Context, r *run, outcome stepOutcome) {
	var eventType domain.EventType
	wf := r.update(func(wf *domain.Workflow) {
		delete(wf.Metadata, "phase")
		switch {
		case wf.State == domain.WorkflowCancelled:
		case outcome == stepFailed:
			wf.State = domain.WorkflowFailed
			wf.CompletedAt = domain.TimePtr(domain.Now())
			eventType = domain.EventWorkflowFailed
		default:
			wf.State = domain.WorkflowCompleted
			wf.CompletedAt = domain.TimePtr(domain.Now())
			eventType = domain.EventWorkflowCompleted
		}
	})

	m.persist(ctx, wf)

	m.finished.Add(wf.ID, wf)
	m.mu.Lock()
	delete(m.active, wf.ID)
	activeCount := len(m.active)
	m.mu.Unlock()

	// A cancelled workflow already emitted workflow.cancelled.
	if eventType != "" {
		payload := map[string]any{"state": string(wf.State)}
		if wf.Error != "" {
			payload["error"] = wf.Error
		}
		m.emit(context.WithoutCancel(ctx), eventType, wf.ID, payload)
	}

	m.rememberWorkflow(context.WithoutCancel(ctx), wf)
	m.metrics.SetActiveWorkflows(activeCount)
	m.metrics.RecordWorkflowFinished(r.requestType, wf.State, time.Since(r.started))
	m.logger.Info("workflow finished",
		zap.String("workflow_id", wf.ID),
		zap.String("state", string(wf.State)),
		zap.Int("completed_steps", wf.CompletedSteps()),
		zap.Int("total_steps", len(wf.Steps)))
}

// runStep executes step i with retries until it completes, exhausts its
// retries or the workflow is cancelled.
func (m *Manager) runStep(ctx context.Context, r *run, i int) stepOutcome {
	wf := r.update(func(wf *domain.Workflow) {
		step := &wf.Steps[i]
		if i > 0 {
			step.InputData = copyInput(step.InputData)
			step.InputData["previous_output"] = wf.Steps[i-1].OutputData
			step.InputData["workflow_context"] = wf.Context.Clone()
		}
		step.Status = domain.TaskRunning
		step.StartedAt = domain.TimePtr(domain.Now())
		wf.Metadata["phase"] = string(phaseOf(step.AgentRole))
	})
	m.persist(ctx, wf)

	for {
		step := wf.Steps[i]
		m.emit(ctx, domain.EventWorkflowStepStarted, wf.ID, stepPayload(i, step))
		m.logger.Info("executing step",
			zap.String("workflow_id", wf.ID),
			zap.Int("step", i+1),
			zap.Int("total_steps", len(wf.Steps)),
			zap.String("agent", string(step.AgentRole)),
			zap.String("task_type", step.TaskType),
			zap.Int("retry_count", step.RetryCount))

		start := time.Now()
		result, err := m.attempt(ctx, wf, i)
		if err == nil {
			wf = r.update(func(wf *domain.Workflow) {
				step := &wf.Steps[i]
				step.OutputData = result
				step.Status = domain.TaskCompleted
				step.CompletedAt = domain.TimePtr(domain.Now())
				step.Error = ""
				if addErr := wf.Context.Add(i, result); addErr != nil {
					m.logger.Error("step result already recorded",
						zap.String("workflow_id", wf.ID),
						zap.Int("step", i),
						zap.Error(addErr))
				}
			})
			m.persist(ctx, wf)

			payload := stepPayload(i, wf.Steps[i])
			payload["kind"] = string(result.Kind)
			payload["model"] = result.Model
			m.emit(ctx, domain.EventWorkflowStepCompleted, wf.ID, payload)
			m.metrics.RecordStepFinished(step.AgentRole, step.TaskType, domain.TaskCompleted, time.Since(start))
			m.rememberStep(ctx, wf, i)
			return stepCompleted
		}

		var exhausted bool
		wf = r.update(func(wf *domain.Workflow) {
			step := &wf.Steps[i]
			step.RetryCount++
			step.Error = err.Error()
			exhausted = step.RetryCount >= step.MaxRetries || ctx.Err() != nil
		})
		step = wf.Steps[i]

		m.logger.Warn("step failed",
			zap.String("workflow_id", wf.ID),
			zap.Int("step", i+1),
			zap.Int("retry_count", step.RetryCount),
			zap.Int("max_retries", step.MaxRetries),
			zap.Error(err))

		if r.cancelled() {
			m.abandonStep(ctx, r, i)
			return stepCancelled
		}
		if !exhausted {
			m.metrics.RecordStepRetry(step.AgentRole, step.TaskType)
			delay := domain.BackoffDelay(m.retryBase, step.RetryCount+1)
			if err := m.sleep(r.stopCtx, delay); err == nil && !r.cancelled() {
				continue
			}
			if r.cancelled() {
				m.abandonStep(ctx, r, i)
				return stepCancelled
			}
			// Shutdown interrupted the backoff.
		}

		wf = r.update(func(wf *domain.Workflow) {
			step := &wf.Steps[i]
			step.Status = domain.TaskFailed
			step.CompletedAt = domain.TimePtr(domain.Now())
			wf.Error = fmt.Sprintf("step %d (%s/%s) failed: %s: %s",
				i, step.AgentRole, step.TaskType, domain.ErrStepExhausted, step.Error)
		})
		m.persist(ctx, wf)

		payload := stepPayload(i, wf.Steps[i])
		payload["error"] = wf.Steps[i].Error
		m.emit(ctx, domain.EventWorkflowStepFailed, wf.ID, payload)
		m.metrics.RecordStepFinished(step.AgentRole, step.TaskType, domain.TaskFailed, time.Since(start))
		return stepFailed
	}
}

// abandonStep closes a step left unfinished by a cancelled workflow.
func (m *Manager) abandonStep(ctx context.Context, r *run, i int) {
	wf := r.update(func(wf *domain.Workflow) {
		step := &wf.Steps[i]
		step.Status = domain.TaskCancelled
		step.CompletedAt = domain.TimePtr(domain.Now())
	})
	m.persist(ctx, wf)
}

// attempt runs step i once against the snapshot wf.
func (m *Manager) attempt(ctx context.Context, wf *domain.Workflow, i int) (*domain.StepResult, error) {
	step := wf.Steps[i]
	res := m.routing.Resolve(step.AgentRole, step.TaskType, step.Description)

	ctx, span := m.tracer.Start(ctx, "workflow.step")
	span.SetAttributes(
		attribute.String("workflow.id", wf.ID),
		attribute.Int("step.index", i),
		attribute.String("step.agent", string(step.AgentRole)),
		attribute.String("step.task_type", step.TaskType),
		attribute.String("step.tier", res.Tier),
		attribute.Int("step.retry_count", step.RetryCount),
	)
	defer span.End()

	base := ports.ExecutionRequest{
		WorkflowID: wf.ID,
		StepID:     step.ID,
		Agent:      step.AgentRole,
		TaskType:   step.TaskType,
		Tier:       res.Tier,
		Input:      step.InputData,
		Context:    wf.Context,
	}
	result := &domain.StepResult{
		TaskType: step.TaskType,
		Family:   domain.FamilyOf(step.TaskType),
		Agent:    step.AgentRole,
		Team:     res.Team,
		Tier:     res.Tier,
	}

	if m.debater != nil && m.routing.DebatesTask(step.TaskType) {
		span.SetAttributes(attribute.String("step.strategy", "debate"))
		out, err := m.debateStep(ctx, wf, i)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		result.Kind = domain.ResultDebate
		result.Model = "debate"
		result.Output = out
		return result, nil
	}

	name, collab, ok := m.routing.CollaborationFor(step.TaskType)
	if !ok {
		req := base
		req.Model = res.Model
		out, err := m.executor.Execute(ctx, req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		result.Kind = domain.ResultSimple
		result.Model = res.Model
		result.Output = out
		return result, nil
	}

	span.SetAttributes(attribute.String("step.collaboration", name))

	leaderReq := base
	leaderReq.Model = collab.Leader
	leaderOut, err := m.executor.Execute(ctx, leaderReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("leader %s: %w", collab.Leader, err)
	}

	assistantReq := base
	assistantReq.Model = collab.Assistant
	assistantReq.Input = copyInput(step.InputData)
	assistantReq.Input["leader_output"] = leaderOut
	assistantOut, err := m.executor.Execute(ctx, assistantReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("assistant %s: %w", collab.Assistant, err)
	}

	result.Kind = domain.ResultCollaborative
	result.Model = collab.Leader
	result.Collaboration = &domain.Collaboration{
		Workflow:  name,
		Leader:    domain.AgentOutput{Model: collab.Leader, Output: leaderOut},
		Assistant: domain.AgentOutput{Model: collab.Assistant, Output: assistantOut},
		Consolidated: domain.ConsolidatedResult{
			Source:    "collaborative",
			Leader:    leaderOut,
			Assistant: assistantOut,
			Timestamp: domain.Now(),
		},
	}
	return result, nil
}

// debateStep settles step i by debate and returns the step output.
func (m *Manager) debateStep(ctx context.Context, wf *domain.Workflow, i int) (map[string]any, error) {
	step := wf.Steps[i]
	subject := wf.Description
	if subject == "" {
		subject = wf.Name
	}
	session, err := m.debater.Run(ctx, debate.Request{
		Topic:         fmt.Sprintf("%s: %s", step.TaskType, subject),
		Context:       step.InputData,
		CorrelationID: wf.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("debate: %w", err)
	}

	participants := make([]any, 0, len(session.Participants))
	for _, p := range session.Participants {
		participants = append(participants, p.Name)
	}
	return map[string]any{
		"source":            "debate",
		"content":           session.FinalDecision,
		"debate_id":         session.ID,
		"consensus_reached": session.ConsensusReached,
		"forced":            session.Forced,
		"confidence":        session.Confidence,
		"rounds":            session.CurrentRound,
		"participants":      participants,
	}, nil
}

func (m *Manager) rememberStep(ctx context.Context, wf *domain.Workflow, i int) {
	if m.memory == nil {
		return
	}
	if err := m.memory.RecordStep(ctx, wf, i); err != nil {
		m.logger.Warn("failed to remember step",
			zap.String("workflow_id", wf.ID),
			zap.Int("step", i),
			zap.Error(err))
	}
}

func (m *Manager) rememberWorkflow(ctx context.Context, wf *domain.Workflow) {
	if m.memory == nil {
		return
	}
	if err := m.memory.SaveWorkflow(ctx, wf); err != nil {
		m.logger.Warn("failed to remember workflow",
			zap.String("workflow_id", wf.ID),
			zap.Error(err))
	}
}

func stepPayload(i int, step domain.WorkflowStep) map[string]any {
	return map[string]any{
		"step_id":     step.ID,
		"step_index":  i,
		"agent_role":  string(step.AgentRole),
		"task_type":   step.TaskType,
		"retry_count": step.RetryCount,
	}
}

func copyInput(in map[string]any) map[string]any {
	out := make(map[string]any, len(in)+2)
	for k, v := range in {
		out[k] = v
	}
	return out
}

// AgentInfo describes one agent role and the models it routes to.
type AgentInfo struct {
	Role        domain.AgentRole `json:"role"`
	Team        string           `json:"team"`
	TeamName    string           `json:"team_name"`
	Models      Team             `json:"models"`
	Status      string           `json:"status"`
	ActiveSteps int              `json:"active_steps"`
}

// AgentStatus reports every agent role with its team and whether a
// running workflow is currently executing one of its steps.
func (m *Manager) AgentStatus() map[domain.AgentRole]AgentInfo {
	busy := map[domain.AgentRole]int{}
	m.mu.RLock()
	runs := make([]*run, 0, len(m.active))
	for _, r := range m.active {
		runs = append(runs, r)
	}
	m.mu.RUnlock()
	for _, r := range runs {
		wf := r.snapshot()
		if i := wf.CurrentStep(); i >= 0 {
			busy[wf.Steps[i].AgentRole]++
		}
	}

	out := make(map[domain.AgentRole]AgentInfo, len(domain.AllRoles()))
	for _, role := range domain.AllRoles() {
		team := m.routing.TeamOf(role)
		info := AgentInfo{
			Role:        role,
			Team:        team,
			TeamName:    m.routing.Teams[team].Name,
			Models:      m.routing.Teams[team],
			Status:      "ready",
			ActiveSteps: busy[role],
		}
		if info.ActiveSteps > 0 {
			info.Status = "busy"
		}
		out[role] = info
	}
	return out
}
