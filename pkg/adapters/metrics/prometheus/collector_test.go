package prometheus

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/aescanero/construtor/pkg/domain"
)

func TestCollector_Tasks(t *testing.T) {
	c := NewCollectorWithRegistry(prometheus.NewRegistry())

	c.RecordTaskEnqueued("build")
	c.RecordTaskEnqueued("build")
	c.RecordTaskRetry("build")
	c.RecordTaskFinished("build", domain.TaskCompleted, 2*time.Second)
	c.SetQueueDepth(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.tasksEnqueued.WithLabelValues("build")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.taskRetries.WithLabelValues("build")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.tasksFinished.WithLabelValues("build", "completed")))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.queueDepth))
}

func TestCollector_EventsUseNamespace(t *testing.T) {
	c := NewCollectorWithRegistry(prometheus.NewRegistry())

	c.RecordEvent(domain.EventWorkflowStarted, "orchestrator")
	c.RecordEvent(domain.EventWorkflowCompleted, "orchestrator")
	c.RecordEventHandlerError(domain.EventAgentError)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.events.WithLabelValues("workflow", "orchestrator")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.handlerErrors.WithLabelValues(string(domain.EventAgentError))))
}

func TestCollector_WorkflowsAndPool(t *testing.T) {
	c := NewCollectorWithRegistry(prometheus.NewRegistry())

	c.RecordWorkflowStarted("feature")
	c.RecordWorkflowFinished("feature", domain.WorkflowCompleted, time.Minute)
	c.RecordStepFinished(domain.RoleArchitect, domain.TaskTypeArchitecture, domain.TaskCompleted, time.Second)
	c.RecordStepRetry(domain.RoleDeveloper, domain.TaskTypeCodeImplementation)
	c.SetActiveWorkflows(3)
	c.RecordWorkerPoolStatus(5, 3, 2)
	c.RecordExecutorCall("m", "lead", nil, time.Second)
	c.RecordExecutorCall("m", "lead", errors.New("boom"), time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.workflowsStarted.WithLabelValues("feature")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.workflowsFinished.WithLabelValues("feature", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.stepsFinished.WithLabelValues("architect", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.stepRetries.WithLabelValues("developer")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.activeWorkflows))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.workerPoolTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.workerPoolBusy))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.executorCalls.WithLabelValues("m", "lead", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.executorCalls.WithLabelValues("m", "lead", "error")))
}
