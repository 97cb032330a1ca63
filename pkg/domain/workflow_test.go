package domain

import (
	"encoding/json"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowProgressAndCurrentStep(t *testing.T) {
	wf := NewWorkflow("wf", "", []WorkflowStep{
		NewStep(RoleArchitect, TaskTypeSystemDesign, nil),
		NewStep(RoleDeveloper, TaskTypeCodeImplementation, nil),
		NewStep(RoleReviewer, TaskTypeCodeReview, nil),
		NewStep(RoleTester, TaskTypeUnitTestGeneration, nil),
	})
	assert.Equal(t, float64(0), wf.Progress())
	assert.Equal(t, -1, wf.CurrentStep())

	wf.Steps[0].Status = TaskCompleted
	wf.Steps[1].Status = TaskRunning
	assert.Equal(t, float64(25), wf.Progress())
	assert.Equal(t, 1, wf.CurrentStep())

	st := wf.Status()
	require.NotNil(t, st.CurrentStep)
	assert.Equal(t, TaskTypeCodeImplementation, st.CurrentStep.TaskType)
	assert.Equal(t, 4, st.TotalSteps)
}

func TestWorkflowContextIsAppendOnly(t *testing.T) {
	c := NewWorkflowContext(map[string]any{"title": "x"})
	require.NoError(t, c.Add(0, &StepResult{Kind: ResultSimple}))
	err := c.Add(0, &StepResult{Kind: ResultSimple})
	assert.ErrorIs(t, err, ErrContextEntryExists)
	require.NoError(t, c.Add(1, &StepResult{Kind: ResultSimple}))
	assert.Equal(t, []int{0, 1}, c.Indexes())
}

func TestWorkflowCloneDoesNotShareMutableState(t *testing.T) {
	wf := NewWorkflow("wf", "", []WorkflowStep{NewStep(RoleDeveloper, TaskTypeBugFix, map[string]any{"a": 1})})
	c := wf.Clone()
	c.Steps[0].Status = TaskRunning
	c.Steps[0].InputData["b"] = 2
	require.NoError(t, c.Context.Add(0, &StepResult{}))

	assert.Equal(t, TaskPending, wf.Steps[0].Status)
	assert.NotContains(t, wf.Steps[0].InputData, "b")
	assert.Empty(t, wf.Context.Results)
}

func TestEventTypeNamespace(t *testing.T) {
	assert.Equal(t, "workflow", EventWorkflowStepFailed.Namespace())
	assert.Equal(t, "communication", EventHandoff.Namespace())
	assert.True(t, EventSystemError.Known())
	assert.False(t, EventType("custom.thing").Known())
}

func TestEventRoundTrip(t *testing.T) {
	e := NewEvent(EventHandoff, map[string]any{"task": "t"})
	e.Target = "reviewer"
	e.CorrelationID = "c"

	data, err := json.Marshal(e)
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Nil(t, raw["parent_event_id"])

	var got Event
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, e.Type, got.Type)
	assert.Equal(t, "reviewer", got.Target)
	assert.Equal(t, "c", got.CorrelationID)
	assert.Equal(t, "", got.ParentEventID)
	assert.True(t, e.Timestamp.Equal(got.Timestamp))
}

func TestFamilyOf(t *testing.T) {
	assert.Equal(t, FamilyImplementation, FamilyOf(TaskTypeBugFix))
	assert.Equal(t, FamilyTesting, FamilyOf(TaskTypeUnitTestGeneration))
	assert.Equal(t, FamilyGeneral, FamilyOf("unknown"))
	assert.Equal(t, 1, ClampEventPriority(-3))
	assert.Equal(t, 10, ClampEventPriority(99))
}

func TestTaskTypes(t *testing.T) {
	types := TaskTypes()
	assert.Len(t, types, 27)
	assert.True(t, sort.StringsAreSorted(types))
	for _, tt := range types {
		assert.NotEqual(t, FamilyGeneral, FamilyOf(tt), tt)
	}
}
