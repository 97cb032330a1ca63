package ports

import (
	"time"

	"github.com/aescanero/construtor/pkg/domain"
)

// NopMetrics discards every measurement.
type NopMetrics struct{}

var _ MetricsCollector = NopMetrics{}

func (NopMetrics) RecordTaskEnqueued(string) {}

func (NopMetrics) RecordTaskFinished(string, domain.TaskStatus, time.Duration) {}

func (NopMetrics) RecordTaskRetry(string) {}

func (NopMetrics) SetQueueDepth(int) {}

func (NopMetrics) RecordEvent(domain.EventType, string) {}

func (NopMetrics) RecordEventHandlerError(domain.EventType) {}

func (NopMetrics) RecordWorkflowStarted(string) {}

func (NopMetrics) RecordWorkflowFinished(string, domain.WorkflowState, time.Duration) {}

func (NopMetrics) RecordStepFinished(domain.AgentRole, string, domain.TaskStatus, time.Duration) {}

func (NopMetrics) RecordStepRetry(domain.AgentRole, string) {}

func (NopMetrics) SetActiveWorkflows(int) {}

func (NopMetrics) RecordWorkerPoolStatus(int, int, int) {}

func (NopMetrics) RecordExecutorCall(string, string, error, time.Duration) {}
