package eventbus

import (
	"context"

	"github.com/aescanero/construtor/pkg/domain"
)

// DefaultHandoffReason is used when Handoff is called without a reason.
const DefaultHandoffReason = "task_completion"

// SendToAgent delivers a direct message from one agent to another.
func (b *Bus) SendToAgent(ctx context.Context, from, to string, message map[string]any, messageType string, opts ...EmitOption) *domain.Event {
	if messageType == "" {
		messageType = "general"
	}
	opts = append([]EmitOption{WithSource(from), WithTarget(to)}, opts...)
	return b.Emit(ctx, domain.EventAgentToAgent, map[string]any{
		"message":      message,
		"message_type": messageType,
	}, opts...)
}

// Handoff passes a task and its accumulated context to the next agent.
func (b *Bus) Handoff(ctx context.Context, from, to string, task, taskContext map[string]any, reason string, opts ...EmitOption) *domain.Event {
	if reason == "" {
		reason = DefaultHandoffReason
	}
	opts = append([]EmitOption{WithSource(from), WithTarget(to), WithPriority(3)}, opts...)
	return b.Emit(ctx, domain.EventHandoff, map[string]any{
		"task":           task,
		"context":        taskContext,
		"handoff_reason": reason,
	}, opts...)
}

// Feedback sends feedback with a severity (info, warning, error).
func (b *Bus) Feedback(ctx context.Context, from, to string, feedback map[string]any, severity string, opts ...EmitOption) *domain.Event {
	if severity == "" {
		severity = "info"
	}
	opts = append([]EmitOption{WithSource(from), WithTarget(to)}, opts...)
	return b.Emit(ctx, domain.EventFeedback, map[string]any{
		"feedback": feedback,
		"severity": severity,
	}, opts...)
}

// Broadcast sends message to the listed agents, or to everyone as a
// single untargeted event when agents is empty.
func (b *Bus) Broadcast(ctx context.Context, source string, message map[string]any, agents []string, opts ...EmitOption) []*domain.Event {
	if len(agents) == 0 {
		opts = append([]EmitOption{WithSource(source)}, opts...)
		e := b.Emit(ctx, domain.EventAgentToAgent, map[string]any{
			"message":   message,
			"broadcast": true,
		}, opts...)
		return []*domain.Event{e}
	}

	events := make([]*domain.Event, 0, len(agents))
	for _, agent := range agents {
		events = append(events, b.SendToAgent(ctx, source, agent, message, "", opts...))
	}
	return events
}
