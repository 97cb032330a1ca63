package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/aescanero/construtor/internal/application/debate"
	"github.com/aescanero/construtor/internal/application/eventbus"
	"github.com/aescanero/construtor/pkg/domain"
	"github.com/aescanero/construtor/pkg/ports"
)

const (
	eventSource = "orchestrator"
	tracerName  = "github.com/aescanero/construtor/orchestrator"

	DefaultStepRetryBase  = time.Second
	DefaultRetainFinished = 256
)

// ErrShuttingDown is returned by ProcessRequest after Shutdown.
var ErrShuttingDown = errors.New("orchestrator is shutting down")

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Recorder remembers completed steps and finished workflows.
type Recorder interface {
	RecordStep(ctx context.Context, wf *domain.Workflow, index int) error
	SaveWorkflow(ctx context.Context, wf *domain.Workflow) error
}

// Debater settles a step by debate between models.
type Debater interface {
	Run(ctx context.Context, req debate.Request) (*domain.DebateSession, error)
}

// Config configures a Manager.
type Config struct {
	Bus      *eventbus.Bus
	Storage  ports.WorkflowStorage
	Executor ports.AgentExecutor
	Routing  *RoutingTable
	Metrics  ports.MetricsCollector
	Logger   *zap.Logger
	Tracer   trace.Tracer

	// Memory, when set, records step outputs and finished workflows.
	Memory Recorder
	// Debater, when set, runs the task types routed to debate.
	Debater Debater

	// StepRetryBase scales the step backoff: 2^retry_count * base.
	StepRetryBase time.Duration
	// StepMaxRetries overrides the template default when positive.
	StepMaxRetries int
	// WorkflowTimeout bounds a whole run when positive.
	WorkflowTimeout time.Duration
	// RetainFinished is how many finished workflows stay in memory.
	RetainFinished int
	Sleep          Sleeper
}

// Manager coordinates workflow execution
type Manager struct {
	bus       *eventbus.Bus
	storage   ports.WorkflowStorage
	executor  ports.AgentExecutor
	memory    Recorder
	debater   Debater
	routing   *RoutingTable
	validator *Validator
	metrics   ports.MetricsCollector
	logger    *zap.Logger
	tracer    trace.Tracer

	retryBase  time.Duration
	maxRetries int
	timeout    time.Duration
	sleep      Sleeper

	baseCtx context.Context
	stopAll context.CancelFunc
	wg      sync.WaitGroup

	mu       sync.RWMutex
	active   map[string]*run
	finished *lru.Cache[string, *domain.Workflow]
	closed   bool
}

// run holds one executing workflow. wf is written only by the execution
// goroutine, except for the CANCELLED transition made by CancelWorkflow.
type run struct {
	mu          sync.RWMutex
	wf          *domain.Workflow
	requestType string
	started     time.Time

	// stop interrupts backoff sleeps once the run is cancelled.
	stopCtx context.Context
	stop    context.CancelFunc
}

func (r *run) snapshot() *domain.Workflow {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.wf.Clone()
}

func (r *run) update(fn func(wf *domain.Workflow)) *domain.Workflow {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.wf)
	r.wf.UpdatedAt = domain.Now()
	return r.wf.Clone()
}

func (r *run) cancelled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.wf.State == domain.WorkflowCancelled
}

// NewManager creates a new orchestrator manager
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Bus == nil {
		return nil, fmt.Errorf("event bus is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("agent executor is required")
	}
	if cfg.Routing == nil {
		cfg.Routing = DefaultRouting()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = ports.NopMetrics{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}
	if cfg.StepRetryBase <= 0 {
		cfg.StepRetryBase = DefaultStepRetryBase
	}
	if cfg.RetainFinished <= 0 {
		cfg.RetainFinished = DefaultRetainFinished
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}

	finished, err := lru.New[string, *domain.Workflow](cfg.RetainFinished)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow cache: %w", err)
	}

	baseCtx, stopAll := context.WithCancel(context.Background())
	return &Manager{
		bus:        cfg.Bus,
		storage:    cfg.Storage,
		executor:   cfg.Executor,
		memory:     cfg.Memory,
		debater:    cfg.Debater,
		routing:    cfg.Routing,
		validator:  NewValidator(cfg.Routing),
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		tracer:     cfg.Tracer,
		retryBase:  cfg.StepRetryBase,
		maxRetries: cfg.StepMaxRetries,
		timeout:    cfg.WorkflowTimeout,
		sleep:      cfg.Sleep,
		baseCtx:    baseCtx,
		stopAll:    stopAll,
		active:     make(map[string]*run),
		finished:   finished,
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ProcessRequest builds the workflow for requestType, registers it and
// starts executing it in the background. The returned workflow is a
// snapshot taken before execution begins.
func (m *Manager) ProcessRequest(ctx context.Context, requestType string, requestData map[string]any, priority string) (*domain.Workflow, error) {
	p, err := domain.ParsePriority(priority)
	if err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	wf := BuildWorkflow(requestType, requestData)
	if _, known := templates[requestType]; !known {
		requestType = RequestFeature
	}
	wf.Metadata["priority"] = p.String()
	wf.Metadata["request_type"] = requestType
	if m.maxRetries > 0 {
		for i := range wf.Steps {
			wf.Steps[i].MaxRetries = m.maxRetries
		}
	}
	if err := m.validator.Validate(wf); err != nil {
		m.logger.Error("workflow validation failed",
			zap.String("workflow_id", wf.ID),
			zap.Error(err))
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	stopCtx, stop := context.WithCancel(m.baseCtx)
	r := &run{wf: wf, requestType: requestType, stopCtx: stopCtx, stop: stop}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		stop()
		return nil, ErrShuttingDown
	}
	m.active[wf.ID] = r
	activeCount := len(m.active)
	m.wg.Add(1)
	m.mu.Unlock()

	m.metrics.SetActiveWorkflows(activeCount)
	m.metrics.RecordWorkflowStarted(requestType)

	snapshot := r.snapshot()
	m.persist(ctx, snapshot)
	m.bus.Emit(ctx, domain.EventWorkflowCreated, map[string]any{
		"workflow_id": wf.ID,
		"type":        requestType,
		"name":        wf.Name,
		"priority":    p.String(),
		"total_steps": len(wf.Steps),
	}, eventbus.WithSource(eventSource), eventbus.WithCorrelationID(wf.ID))

	m.logger.Info("workflow created",
		zap.String("workflow_id", wf.ID),
		zap.String("type", requestType),
		zap.String("priority", p.String()),
		zap.Int("steps", len(wf.Steps)))

	go func() {
		defer m.wg.Done()
		m.execute(r)
	}()

	return snapshot, nil
}

// GetWorkflow returns a snapshot of a running, recently finished or
// persisted workflow.
func (m *Manager) GetWorkflow(ctx context.Context, id string) (*domain.Workflow, error) {
	m.mu.RLock()
	r, ok := m.active[id]
	m.mu.RUnlock()
	if ok {
		return r.snapshot(), nil
	}
	if wf, ok := m.finished.Get(id); ok {
		return wf.Clone(), nil
	}
	if m.storage != nil {
		wf, err := m.storage.GetWorkflow(ctx, id)
		if err == nil {
			return wf, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("failed to load workflow: %w", err)
		}
	}
	return nil, fmt.Errorf("workflow %s: %w", id, domain.ErrNotFound)
}

// GetWorkflowStatus returns state, progress and the running step.
func (m *Manager) GetWorkflowStatus(ctx context.Context, id string) (*domain.WorkflowStatus, error) {
	wf, err := m.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	return wf.Status(), nil
}

// ListWorkflows returns known workflows, newest first.
func (m *Manager) ListWorkflows(ctx context.Context) ([]*domain.Workflow, error) {
	seen := map[string]*domain.Workflow{}

	if m.storage != nil {
		stored, err := m.storage.ListWorkflows(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list workflows: %w", err)
		}
		for _, wf := range stored {
			seen[wf.ID] = wf
		}
	}
	for _, id := range m.finished.Keys() {
		if wf, ok := m.finished.Peek(id); ok {
			seen[id] = wf.Clone()
		}
	}

	m.mu.RLock()
	runs := make([]*run, 0, len(m.active))
	for _, r := range m.active {
		runs = append(runs, r)
	}
	m.mu.RUnlock()
	for _, r := range runs {
		wf := r.snapshot()
		seen[wf.ID] = wf
	}

	out := make([]*domain.Workflow, 0, len(seen))
	for _, wf := range seen {
		out = append(out, wf)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// CancelWorkflow marks a running workflow CANCELLED. The step in flight
// runs to completion; no later step or retry starts. It returns false for
// unknown or finished workflows.
func (m *Manager) CancelWorkflow(ctx context.Context, id string) bool {
	m.mu.RLock()
	r, ok := m.active[id]
	m.mu.RUnlock()
	if !ok {
		return false
	}

	changed := false
	snapshot := r.update(func(wf *domain.Workflow) {
		if wf.State.IsTerminal() {
			return
		}
		wf.State = domain.WorkflowCancelled
		wf.CompletedAt = domain.TimePtr(domain.Now())
		changed = true
	})
	if !changed {
		return false
	}
	r.stop()

	m.persist(ctx, snapshot)
	m.bus.Emit(ctx, domain.EventWorkflowCancelled, map[string]any{
		"workflow_id": id,
		"state":       string(domain.WorkflowCancelled),
	}, eventbus.WithSource(eventSource), eventbus.WithCorrelationID(id))

	m.logger.Info("workflow cancelled", zap.String("workflow_id", id))
	return true
}

// ActiveCount returns the number of running workflows.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// Shutdown stops accepting requests, interrupts running workflows and
// waits for their goroutines until ctx is done.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down orchestrator manager")

	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.stopAll()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("orchestrator manager shut down complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("orchestrator shutdown: %w", ctx.Err())
	}
}

func (m *Manager) persist(ctx context.Context, wf *domain.Workflow) {
	if m.storage == nil {
		return
	}
	if err := m.storage.SaveWorkflow(context.WithoutCancel(ctx), wf); err != nil {
		m.logger.Warn("failed to persist workflow",
			zap.String("workflow_id", wf.ID),
			zap.Error(err))
	}
}

func (m *Manager) emit(ctx context.Context, eventType domain.EventType, workflowID string, payload map[string]any) {
	payload["workflow_id"] = workflowID
	m.bus.Emit(ctx, eventType, payload,
		eventbus.WithSource(eventSource),
		eventbus.WithCorrelationID(workflowID))
}
