package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aescanero/construtor/internal/application/agentmemory"
	"github.com/aescanero/construtor/internal/application/debate"
	"github.com/aescanero/construtor/internal/application/eventbus"
	"github.com/aescanero/construtor/internal/application/orchestrator"
	"github.com/aescanero/construtor/internal/application/taskqueue"
	"github.com/aescanero/construtor/pkg/adapters/storage/memory"
	"github.com/aescanero/construtor/pkg/domain"
	"github.com/aescanero/construtor/pkg/ports"
)

type testServer struct {
	server  *Server
	manager *orchestrator.Manager
	queue   *taskqueue.Queue
	bus     *eventbus.Bus
	memory  *agentmemory.Service
	debates *debate.Moderator
	release chan struct{}
}

// agreeable answers debate rounds by agreeing with everyone else.
var agreeable = ports.ExecutorFunc(func(ctx context.Context, req ports.ExecutionRequest) (map[string]any, error) {
	others, _ := req.Input["participants"].([]string)
	if req.Input["round"] == 1 {
		return map[string]any{"content": "Start with a modular monolith."}, nil
	}
	return map[string]any{"content": "I agree with " + strings.Join(others, " and ") + "."}, nil
})

func newTestServer(t *testing.T, checks map[string]HealthCheck) *testServer {
	t.Helper()
	logger := zaptest.NewLogger(t)

	ts := &testServer{release: make(chan struct{})}
	ts.bus = eventbus.New(eventbus.Config{Logger: logger})
	ts.queue = taskqueue.New(taskqueue.Config{
		Store:        memory.NewTaskStore(),
		Events:       ts.bus,
		Logger:       logger,
		PollInterval: 10 * time.Millisecond,
	})

	// Steps of "review" requests block until release is closed so that
	// cancellation can be observed on a running workflow.
	exec := ports.ExecutorFunc(func(ctx context.Context, req ports.ExecutionRequest) (map[string]any, error) {
		if req.TaskType == domain.TaskTypePerformanceAnalysis {
			select {
			case <-ts.release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return map[string]any{"done": req.TaskType}, nil
	})

	manager, err := orchestrator.NewManager(orchestrator.Config{
		Bus:      ts.bus,
		Storage:  memory.NewWorkflowStore(),
		Executor: exec,
		Logger:   logger,
	})
	require.NoError(t, err)
	ts.manager = manager

	ts.memory = agentmemory.New(agentmemory.Config{Storage: memory.NewMemoryStore(), Logger: logger})
	ts.debates, err = debate.New(debate.Config{
		Executor: agreeable,
		Bus:      ts.bus,
		Participants: []domain.DebateParticipant{
			{Name: "claude", Model: "claude-opus-4-5-20251101", Role: domain.RoleArchitect},
			{Name: "gpt", Model: "gpt-5.1", Role: domain.RoleDeveloper},
		},
		MaxRounds: 3,
		Logger:    logger,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		select {
		case <-ts.release:
		default:
			close(ts.release)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = manager.Shutdown(ctx)
		_ = ts.debates.Shutdown(ctx)
	})

	ts.server = NewServer(&Config{
		Orchestrator:   manager,
		Queue:          ts.queue,
		Bus:            ts.bus,
		HealthChecks:   checks,
		Memory:         ts.memory,
		Debates:        ts.debates,
		MetricsHandler: promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{}),
		Logger:         logger,
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, map[string]HealthCheck{
		"store": func(ctx context.Context) error { return nil },
	})

	w := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "ok", body["checks"].(map[string]any)["store"])
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
}

func TestHealth_FailingCheck(t *testing.T) {
	ts := newTestServer(t, map[string]HealthCheck{
		"store": func(ctx context.Context) error { return errors.New("connection refused") },
	})

	w := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "unhealthy", body["status"])
	assert.Equal(t, "connection refused", body["checks"].(map[string]any)["store"])
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	w := ts.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateAndGetWorkflow(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/api/v1/workflows", WorkflowRequest{
		Type:     "bugfix",
		Data:     map[string]any{"title": "crash on save"},
		Priority: "high",
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	created := decode[domain.Workflow](t, w)
	assert.Equal(t, "Bugfix: crash on save", created.Name)
	require.Len(t, created.Steps, 3)

	require.Eventually(t, func() bool {
		w := ts.do(t, http.MethodGet, "/api/v1/workflows/"+created.ID+"/status", nil)
		if w.Code != http.StatusOK {
			return false
		}
		st := decode[domain.WorkflowStatus](t, w)
		return st.State == domain.WorkflowCompleted
	}, 5*time.Second, 10*time.Millisecond)

	w = ts.do(t, http.MethodGet, "/api/v1/workflows/"+created.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	wf := decode[domain.Workflow](t, w)
	assert.Equal(t, domain.WorkflowCompleted, wf.State)
	assert.Equal(t, 3, wf.CompletedSteps())

	w = ts.do(t, http.MethodGet, "/api/v1/workflows?state=COMPLETED", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[map[string]any](t, w)
	assert.EqualValues(t, 1, list["total"])

	w = ts.do(t, http.MethodGet, "/api/v1/events/correlation/"+created.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	chain := decode[map[string]any](t, w)
	assert.Greater(t, chain["total"], 0.0)
}

func TestCreateWorkflow_Invalid(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/api/v1/workflows", map[string]any{"data": map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decode[ErrorResponse](t, w)
	assert.Equal(t, "INVALID_REQUEST", body.Error.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/workflows", WorkflowRequest{Type: "feature", Priority: "whenever"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body = decode[ErrorResponse](t, w)
	assert.Equal(t, "SUBMISSION_FAILED", body.Error.Code)
}

func TestGetWorkflow_NotFound(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, path := range []string{
		"/api/v1/workflows/missing",
		"/api/v1/workflows/missing/status",
	} {
		w := ts.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
		body := decode[ErrorResponse](t, w)
		assert.Equal(t, "NOT_FOUND", body.Error.Code)
	}

	w := ts.do(t, http.MethodPost, "/api/v1/workflows/missing/cancel", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelWorkflow(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/api/v1/workflows", WorkflowRequest{Type: "review"})
	require.Equal(t, http.StatusAccepted, w.Code)
	created := decode[domain.Workflow](t, w)

	require.Eventually(t, func() bool {
		st, err := ts.manager.GetWorkflowStatus(context.Background(), created.ID)
		return err == nil && st.CurrentStep != nil && st.CurrentStep.TaskType == domain.TaskTypePerformanceAnalysis
	}, 5*time.Second, 5*time.Millisecond)

	w = ts.do(t, http.MethodPost, "/api/v1/workflows/"+created.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	close(ts.release)

	require.Eventually(t, func() bool { return ts.manager.ActiveCount() == 0 }, 5*time.Second, 5*time.Millisecond)

	w = ts.do(t, http.MethodPost, "/api/v1/workflows/"+created.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	body := decode[ErrorResponse](t, w)
	assert.Equal(t, "CANCELLATION_FAILED", body.Error.Code)
}

func TestTasks(t *testing.T) {
	ts := newTestServer(t, nil)

	timeout := 30.0
	w := ts.do(t, http.MethodPost, "/api/v1/tasks", TaskRequest{
		Name:     "lint",
		TaskType: "lint",
		Payload:  map[string]any{"path": "."},
		Priority: "critical",
		Timeout:  &timeout,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	task := decode[domain.Task](t, w)
	assert.Equal(t, domain.TaskQueued, task.Status)
	assert.Equal(t, domain.PriorityCritical, task.Priority)
	assert.Equal(t, 30*time.Second, task.Timeout)

	w = ts.do(t, http.MethodGet, "/api/v1/tasks/"+task.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/tasks/"+task.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/tasks/"+task.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/tasks/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[taskqueue.Stats](t, w)
	assert.EqualValues(t, 1, stats.TotalEnqueued)
	assert.EqualValues(t, 1, stats.TotalCancelled)

	w = ts.do(t, http.MethodDelete, "/api/v1/tasks/completed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode[map[string]any](t, w)["removed"])

	w = ts.do(t, http.MethodGet, "/api/v1/tasks/"+task.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubmitTask_Invalid(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/api/v1/tasks", map[string]any{"name": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/tasks", TaskRequest{Name: "x", TaskType: "y", Priority: "asap"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/tasks/missing/cancel", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubmitTask_RejectsBadRetrySettings(t *testing.T) {
	ts := newTestServer(t, nil)

	for name, body := range map[string]map[string]any{
		"negative delay":   {"name": "x", "task_type": "y", "retry_delay_seconds": -1},
		"negative retries": {"name": "x", "task_type": "y", "max_retries": -1},
		"too many retries": {"name": "x", "task_type": "y", "max_retries": 64},
	} {
		t.Run(name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/api/v1/tasks", body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "INVALID_REQUEST", decode[ErrorResponse](t, w).Error.Code)
		})
	}

	w := ts.do(t, http.MethodPost, "/api/v1/tasks", map[string]any{
		"name": "x", "task_type": "y", "max_retries": 10, "retry_delay_seconds": 0,
	})
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestEvents(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx := context.Background()

	ts.bus.Emit(ctx, domain.EventSystemWarning, map[string]any{"n": 1}, eventbus.WithSource("a"))
	ts.bus.Emit(ctx, domain.EventSystemWarning, map[string]any{"n": 2}, eventbus.WithSource("b"))
	ts.bus.Emit(ctx, domain.EventSystemError, nil, eventbus.WithSource("a"))

	w := ts.do(t, http.MethodGet, "/api/v1/events?type=system.warning", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode[map[string]any](t, w)["total"])

	w = ts.do(t, http.MethodGet, "/api/v1/events?source=a&limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	require.EqualValues(t, 1, body["total"])
	assert.Equal(t, "system.error", body["events"].([]any)[0].(map[string]any)["type"])

	w = ts.do(t, http.MethodGet, "/api/v1/events?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/events/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[eventbus.Stats](t, w)
	assert.Equal(t, 3, stats.TotalEvents)

	w = ts.do(t, http.MethodGet, "/api/v1/events/correlation/none", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decode[map[string]any](t, w)["total"])
}

func TestAgents(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodGet, "/api/v1/agents", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	agents := body["agents"].(map[string]any)
	assert.Len(t, agents, len(domain.AllRoles()))
	assert.Equal(t, "anthropic", agents["architect"].(map[string]any)["team"])
}
