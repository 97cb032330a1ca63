package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/aescanero/construtor/pkg/domain"
	"github.com/aescanero/construtor/pkg/ports"
)

var _ ports.MetricsCollector = (*Collector)(nil)

// Collector implements ports.MetricsCollector using Prometheus
type Collector struct {
	tasksEnqueued *prometheus.CounterVec
	tasksFinished *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	taskRetries   *prometheus.CounterVec
	queueDepth    prometheus.Gauge

	events        *prometheus.CounterVec
	handlerErrors *prometheus.CounterVec

	workflowsStarted  *prometheus.CounterVec
	workflowsFinished *prometheus.CounterVec
	workflowDuration  *prometheus.HistogramVec
	stepsFinished     *prometheus.CounterVec
	stepDuration      *prometheus.HistogramVec
	stepRetries       *prometheus.CounterVec
	activeWorkflows   prometheus.Gauge

	workerPoolTotal prometheus.Gauge
	workerPoolIdle  prometheus.Gauge
	workerPoolBusy  prometheus.Gauge

	executorCalls   *prometheus.CounterVec
	executorLatency *prometheus.HistogramVec
}

// NewCollector creates a collector registered on the default registry.
func NewCollector() *Collector {
	return NewCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector registered on reg.
// Tests pass a fresh prometheus.NewRegistry().
func NewCollectorWithRegistry(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		tasksEnqueued: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "construtor_tasks_enqueued_total",
				Help: "Total number of tasks enqueued",
			},
			[]string{"task_type"},
		),
		tasksFinished: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "construtor_tasks_finished_total",
				Help: "Total number of task attempts that reached a final status",
			},
			[]string{"task_type", "status"},
		),
		taskDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "construtor_task_duration_seconds",
				Help:    "Task execution duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"task_type"},
		),
		taskRetries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "construtor_task_retries_total",
				Help: "Total number of task retries",
			},
			[]string{"task_type"},
		),
		queueDepth: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "construtor_queue_depth",
				Help: "Number of tasks waiting in the queue",
			},
		),
		events: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "construtor_events_total",
				Help: "Total number of events dispatched by the bus",
			},
			[]string{"namespace", "source"},
		),
		handlerErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "construtor_event_handler_errors_total",
				Help: "Total number of event handler failures",
			},
			[]string{"event_type"},
		),
		workflowsStarted: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "construtor_workflows_started_total",
				Help: "Total number of workflows started",
			},
			[]string{"request_type"},
		),
		workflowsFinished: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "construtor_workflows_finished_total",
				Help: "Total number of workflows finished",
			},
			[]string{"request_type", "state"},
		),
		workflowDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "construtor_workflow_duration_seconds",
				Help:    "Workflow duration in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"request_type"},
		),
		stepsFinished: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "construtor_steps_finished_total",
				Help: "Total number of workflow steps finished",
			},
			[]string{"agent_role", "status"},
		),
		stepDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "construtor_step_duration_seconds",
				Help:    "Workflow step duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"agent_role", "task_type"},
		),
		stepRetries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "construtor_step_retries_total",
				Help: "Total number of workflow step retries",
			},
			[]string{"agent_role"},
		),
		activeWorkflows: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "construtor_active_workflows",
				Help: "Number of workflows currently running",
			},
		),
		workerPoolTotal: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "construtor_worker_pool_total",
				Help: "Number of workers in the pool",
			},
		),
		workerPoolIdle: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "construtor_worker_pool_idle",
				Help: "Number of idle workers",
			},
		),
		workerPoolBusy: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "construtor_worker_pool_busy",
				Help: "Number of busy workers",
			},
		),
		executorCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "construtor_executor_calls_total",
				Help: "Total number of agent executor calls",
			},
			[]string{"model", "tier", "outcome"},
		),
		executorLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "construtor_executor_latency_seconds",
				Help:    "Agent executor call latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 60},
			},
			[]string{"model"},
		),
	}
}

// RecordTaskEnqueued counts an enqueued task
func (c *Collector) RecordTaskEnqueued(taskType string) {
	c.tasksEnqueued.WithLabelValues(taskType).Inc()
}

// RecordTaskFinished counts a finished attempt and observes its duration
func (c *Collector) RecordTaskFinished(taskType string, status domain.TaskStatus, duration time.Duration) {
	c.tasksFinished.WithLabelValues(taskType, string(status)).Inc()
	c.taskDuration.WithLabelValues(taskType).Observe(duration.Seconds())
}

// RecordTaskRetry counts a task retry
func (c *Collector) RecordTaskRetry(taskType string) {
	c.taskRetries.WithLabelValues(taskType).Inc()
}

// SetQueueDepth sets the current queue depth
func (c *Collector) SetQueueDepth(depth int) {
	c.queueDepth.Set(float64(depth))
}

// RecordEvent counts a dispatched event by namespace. Full event types are
// not used as labels since custom types are unbounded.
func (c *Collector) RecordEvent(eventType domain.EventType, source string) {
	c.events.WithLabelValues(eventType.Namespace(), source).Inc()
}

// RecordEventHandlerError counts a failed handler invocation
func (c *Collector) RecordEventHandlerError(eventType domain.EventType) {
	c.handlerErrors.WithLabelValues(string(eventType)).Inc()
}

// RecordWorkflowStarted counts a started workflow
func (c *Collector) RecordWorkflowStarted(requestType string) {
	c.workflowsStarted.WithLabelValues(requestType).Inc()
}

// RecordWorkflowFinished counts a finished workflow and observes its duration
func (c *Collector) RecordWorkflowFinished(requestType string, state domain.WorkflowState, duration time.Duration) {
	c.workflowsFinished.WithLabelValues(requestType, string(state)).Inc()
	c.workflowDuration.WithLabelValues(requestType).Observe(duration.Seconds())
}

// RecordStepFinished counts a finished step and observes its duration
func (c *Collector) RecordStepFinished(role domain.AgentRole, taskType string, status domain.TaskStatus, duration time.Duration) {
	c.stepsFinished.WithLabelValues(string(role), string(status)).Inc()
	c.stepDuration.WithLabelValues(string(role), taskType).Observe(duration.Seconds())
}

// RecordStepRetry counts a step retry
func (c *Collector) RecordStepRetry(role domain.AgentRole, taskType string) {
	c.stepRetries.WithLabelValues(string(role)).Inc()
}

// SetActiveWorkflows sets the number of running workflows
func (c *Collector) SetActiveWorkflows(n int) {
	c.activeWorkflows.Set(float64(n))
}

// RecordWorkerPoolStatus records worker pool status
func (c *Collector) RecordWorkerPoolStatus(total, idle, busy int) {
	c.workerPoolTotal.Set(float64(total))
	c.workerPoolIdle.Set(float64(idle))
	c.workerPoolBusy.Set(float64(busy))
}

// RecordExecutorCall counts an executor call and observes its latency
func (c *Collector) RecordExecutorCall(model, tier string, err error, duration time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	c.executorCalls.WithLabelValues(model, tier, outcome).Inc()
	c.executorLatency.WithLabelValues(model).Observe(duration.Seconds())
}
