package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType identifies an event. Values are grouped into dot-separated
// namespaces (workflow, agent, communication, debate, code, test, deploy,
// system, user).
type EventType string

const (
	EventWorkflowCreated       EventType = "workflow.created"
	EventWorkflowStarted       EventType = "workflow.started"
	EventWorkflowStepStarted   EventType = "workflow.step.started"
	EventWorkflowStepCompleted EventType = "workflow.step.completed"
	EventWorkflowStepFailed    EventType = "workflow.step.failed"
	EventWorkflowCompleted     EventType = "workflow.completed"
	EventWorkflowFailed        EventType = "workflow.failed"
	EventWorkflowCancelled     EventType = "workflow.cancelled"

	EventAgentStarted   EventType = "agent.started"
	EventAgentThinking  EventType = "agent.thinking"
	EventAgentResponse  EventType = "agent.response"
	EventAgentError     EventType = "agent.error"
	EventAgentCompleted EventType = "agent.completed"

	EventAgentToAgent EventType = "communication.agent_to_agent"
	EventHandoff      EventType = "communication.handoff"
	EventFeedback     EventType = "communication.feedback"
	EventQuestion     EventType = "communication.question"
	EventAnswer       EventType = "communication.answer"

	EventDebateStarted   EventType = "debate.started"
	EventDebateMessage   EventType = "debate.message"
	EventDebateRound     EventType = "debate.round.completed"
	EventDebateConsensus EventType = "debate.consensus"
	EventDebateCompleted EventType = "debate.completed"
	EventDebateFailed    EventType = "debate.failed"

	EventCodeGenerated EventType = "code.generated"
	EventCodeReviewed  EventType = "code.reviewed"
	EventCodeApproved  EventType = "code.approved"
	EventCodeRejected  EventType = "code.rejected"
	EventCodeMerged    EventType = "code.merged"

	EventTestStarted  EventType = "test.started"
	EventTestPassed   EventType = "test.passed"
	EventTestFailed   EventType = "test.failed"
	EventTestCoverage EventType = "test.coverage"

	EventDeployStarted   EventType = "deploy.started"
	EventDeployCompleted EventType = "deploy.completed"
	EventDeployFailed    EventType = "deploy.failed"
	EventDeployRollback  EventType = "deploy.rollback"

	EventSystemHealth  EventType = "system.health"
	EventSystemError   EventType = "system.error"
	EventSystemWarning EventType = "system.warning"

	EventUserInput    EventType = "user.input"
	EventUserFeedback EventType = "user.feedback"
	EventUserApproval EventType = "user.approval"
)

var knownEventTypes = map[EventType]struct{}{}

func init() {
	for _, t := range []EventType{
		EventWorkflowCreated, EventWorkflowStarted, EventWorkflowStepStarted,
		EventWorkflowStepCompleted, EventWorkflowStepFailed, EventWorkflowCompleted,
		EventWorkflowFailed, EventWorkflowCancelled,
		EventAgentStarted, EventAgentThinking, EventAgentResponse, EventAgentError, EventAgentCompleted,
		EventAgentToAgent, EventHandoff, EventFeedback, EventQuestion, EventAnswer,
		EventDebateStarted, EventDebateMessage, EventDebateRound, EventDebateConsensus,
		EventDebateCompleted, EventDebateFailed,
		EventCodeGenerated, EventCodeReviewed, EventCodeApproved, EventCodeRejected, EventCodeMerged,
		EventTestStarted, EventTestPassed, EventTestFailed, EventTestCoverage,
		EventDeployStarted, EventDeployCompleted, EventDeployFailed, EventDeployRollback,
		EventSystemHealth, EventSystemError, EventSystemWarning,
		EventUserInput, EventUserFeedback, EventUserApproval,
	} {
		knownEventTypes[t] = struct{}{}
	}
}

// Namespace returns the part of the type before the first dot.
func (t EventType) Namespace() string {
	ns, _, _ := strings.Cut(string(t), ".")
	return ns
}

// Known reports whether t is one of the predefined event types.
func (t EventType) Known() bool {
	_, ok := knownEventTypes[t]
	return ok
}

const (
	DefaultEventSource   = "system"
	DefaultEventPriority = 5
	MinEventPriority     = 1
	MaxEventPriority     = 10
)

// Event is an immutable notification. Handlers receive a pointer to the
// same value and must not modify it.
type Event struct {
	ID            string
	Type          EventType
	Source        string
	Target        string
	Payload       map[string]any
	Metadata      map[string]any
	Timestamp     time.Time
	CorrelationID string
	ParentEventID string
	Priority      int
}

// NewEvent creates an event with a fresh id, current timestamp and the
// default source and priority.
func NewEvent(eventType EventType, payload map[string]any) *Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    DefaultEventSource,
		Payload:   payload,
		Metadata:  map[string]any{},
		Timestamp: Now(),
		Priority:  DefaultEventPriority,
	}
}

// ClampEventPriority bounds p to [1, 10].
func ClampEventPriority(p int) int {
	if p < MinEventPriority {
		return MinEventPriority
	}
	if p > MaxEventPriority {
		return MaxEventPriority
	}
	return p
}

type eventRecord struct {
	ID            string         `json:"id"`
	Type          EventType      `json:"type"`
	Source        string         `json:"source"`
	Target        *string        `json:"target"`
	Payload       map[string]any `json:"payload"`
	Metadata      map[string]any `json:"metadata"`
	Timestamp     string         `json:"timestamp"`
	CorrelationID *string        `json:"correlation_id"`
	ParentEventID *string        `json:"parent_event_id"`
	Priority      int            `json:"priority"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// MarshalJSON encodes the event record.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(eventRecord{
		ID:            e.ID,
		Type:          e.Type,
		Source:        e.Source,
		Target:        optional(e.Target),
		Payload:       e.Payload,
		Metadata:      e.Metadata,
		Timestamp:     formatTime(e.Timestamp),
		CorrelationID: optional(e.CorrelationID),
		ParentEventID: optional(e.ParentEventID),
		Priority:      e.Priority,
	})
}

// UnmarshalJSON decodes the event record.
func (e *Event) UnmarshalJSON(data []byte) error {
	var r eventRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	ts, err := parseTime(r.Timestamp)
	if err != nil {
		return err
	}
	*e = Event{
		ID:            r.ID,
		Type:          r.Type,
		Source:        r.Source,
		Target:        deref(r.Target),
		Payload:       r.Payload,
		Metadata:      r.Metadata,
		Timestamp:     ts,
		CorrelationID: deref(r.CorrelationID),
		ParentEventID: deref(r.ParentEventID),
		Priority:      r.Priority,
	}
	return nil
}
