package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/construtor/internal/application/debate"
	"github.com/aescanero/construtor/pkg/domain"
	"github.com/aescanero/construtor/pkg/ports"
)

type fakeRecorder struct {
	mu        sync.Mutex
	steps     []string
	workflows []domain.WorkflowState
	fail      bool
}

func (r *fakeRecorder) RecordStep(ctx context.Context, wf *domain.Workflow, index int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, wf.Steps[index].TaskType)
	if r.fail {
		return errors.New("memory down")
	}
	return nil
}

func (r *fakeRecorder) SaveWorkflow(ctx context.Context, wf *domain.Workflow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workflows = append(r.workflows, wf.State)
	if r.fail {
		return errors.New("memory down")
	}
	return nil
}

func (r *fakeRecorder) snapshot() ([]string, []domain.WorkflowState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.steps...), append([]domain.WorkflowState(nil), r.workflows...)
}

func TestRecorder_RemembersStepsAndWorkflow(t *testing.T) {
	rec := &fakeRecorder{}
	f := newFixture(t, plainRouting, func(cfg *Config) { cfg.Memory = rec })

	created, err := f.manager.ProcessRequest(context.Background(), RequestBugfix, nil, "")
	require.NoError(t, err)
	wf := f.waitFinished(t, created.ID)
	require.Equal(t, domain.WorkflowCompleted, wf.State)

	require.Eventually(t, func() bool {
		_, wfs := rec.snapshot()
		return len(wfs) == 1
	}, 2*time.Second, 5*time.Millisecond)

	steps, wfs := rec.snapshot()
	assert.Equal(t, []string{
		domain.TaskTypeBugFix,
		domain.TaskTypeCodeReview,
		domain.TaskTypeUnitTestGeneration,
	}, steps)
	assert.Equal(t, []domain.WorkflowState{domain.WorkflowCompleted}, wfs)
}

func TestRecorder_FailureDoesNotFailWorkflow(t *testing.T) {
	rec := &fakeRecorder{fail: true}
	f := newFixture(t, plainRouting, func(cfg *Config) { cfg.Memory = rec })

	created, err := f.manager.ProcessRequest(context.Background(), RequestBugfix, nil, "")
	require.NoError(t, err)
	wf := f.waitFinished(t, created.ID)
	assert.Equal(t, domain.WorkflowCompleted, wf.State)
}

func TestRecorder_FailedWorkflowIsRemembered(t *testing.T) {
	rec := &fakeRecorder{}
	f := newFixture(t, plainRouting, func(cfg *Config) {
		cfg.Memory = rec
		cfg.StepMaxRetries = 1
	})
	f.exec.fn = func(ctx context.Context, req ports.ExecutionRequest) (map[string]any, error) {
		return nil, errors.New("model unavailable")
	}

	created, err := f.manager.ProcessRequest(context.Background(), RequestBugfix, nil, "")
	require.NoError(t, err)
	f.waitFinished(t, created.ID)

	require.Eventually(t, func() bool {
		_, wfs := rec.snapshot()
		return len(wfs) == 1
	}, 2*time.Second, 5*time.Millisecond)
	steps, wfs := rec.snapshot()
	assert.Empty(t, steps)
	assert.Equal(t, domain.WorkflowFailed, wfs[0])
}

// debateRouting settles bug fixes by debate between two teams.
const debateRouting = `
default_team: a
teams:
  a: {lead: big-a, mid: mid-a, fast: small-a}
  b: {lead: big-b, mid: mid-b, fast: small-b}
debate:
  participants:
    - {name: one, team: a}
    - {name: two, team: b}
task_debate: [bug_fix]
`

type fakeDebater struct {
	mu       sync.Mutex
	requests []debate.Request
	err      error
}

func (d *fakeDebater) Run(ctx context.Context, req debate.Request) (*domain.DebateSession, error) {
	d.mu.Lock()
	d.requests = append(d.requests, req)
	err := d.err
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &domain.DebateSession{
		ID:               "debate-1",
		Topic:            req.Topic,
		Participants:     []domain.DebateParticipant{{Name: "one"}, {Name: "two"}},
		CurrentRound:     2,
		Stage:            domain.DebateFinalConsensus,
		ConsensusReached: true,
		FinalDecision:    "Roll back the cache change.",
		Confidence:       0.8,
	}, nil
}

func (d *fakeDebater) recorded() []debate.Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]debate.Request(nil), d.requests...)
}

func TestDebateStep(t *testing.T) {
	d := &fakeDebater{}
	f := newFixture(t, debateRouting, func(cfg *Config) { cfg.Debater = d })

	created, err := f.manager.ProcessRequest(context.Background(), RequestBugfix,
		map[string]any{"title": "stale cache", "description": "users see old prices"}, "")
	require.NoError(t, err)
	wf := f.waitFinished(t, created.ID)
	require.Equal(t, domain.WorkflowCompleted, wf.State)

	result := wf.Steps[0].OutputData
	require.NotNil(t, result)
	assert.Equal(t, domain.ResultDebate, result.Kind)
	assert.Equal(t, "debate", result.Model)
	assert.Equal(t, "Roll back the cache change.", result.Output["content"])
	assert.Equal(t, "debate-1", result.Output["debate_id"])
	assert.Equal(t, true, result.Output["consensus_reached"])
	assert.Equal(t, []any{"one", "two"}, result.Output["participants"])

	reqs := d.recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, "bug_fix: users see old prices", reqs[0].Topic)
	assert.Equal(t, wf.ID, reqs[0].CorrelationID)
	assert.Contains(t, reqs[0].Context, "bug_report")

	// Only the debated step skipped the executor.
	assert.Zero(t, f.exec.callsFor(domain.RoleDeveloper))
	assert.Equal(t, 1, f.exec.callsFor(domain.RoleReviewer))
	assert.Equal(t, domain.ResultSimple, wf.Steps[1].OutputData.Kind)
}

func TestDebateStep_FailureRetriesStep(t *testing.T) {
	d := &fakeDebater{err: debate.ErrNoResponses}
	f := newFixture(t, debateRouting, func(cfg *Config) {
		cfg.Debater = d
		cfg.StepMaxRetries = 2
	})

	created, err := f.manager.ProcessRequest(context.Background(), RequestBugfix, nil, "")
	require.NoError(t, err)
	wf := f.waitFinished(t, created.ID)

	assert.Equal(t, domain.WorkflowFailed, wf.State)
	assert.Contains(t, wf.Error, "debate")
	assert.Len(t, d.recorded(), 2)
	assert.Equal(t, 2, wf.Steps[0].RetryCount)
}

func TestDebateStep_WithoutDebaterUsesExecutor(t *testing.T) {
	f := newFixture(t, debateRouting, nil)

	created, err := f.manager.ProcessRequest(context.Background(), RequestBugfix, nil, "")
	require.NoError(t, err)
	wf := f.waitFinished(t, created.ID)

	require.Equal(t, domain.WorkflowCompleted, wf.State)
	assert.Equal(t, domain.ResultSimple, wf.Steps[0].OutputData.Kind)
	assert.Equal(t, 1, f.exec.callsFor(domain.RoleDeveloper))
}
