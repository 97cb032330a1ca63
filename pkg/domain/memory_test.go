package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMemoryType(t *testing.T) {
	got, err := ParseMemoryType("")
	require.NoError(t, err)
	assert.Equal(t, MemoryLongTerm, got)

	got, err = ParseMemoryType("episodic")
	require.NoError(t, err)
	assert.Equal(t, MemoryEpisodic, got)

	_, err = ParseMemoryType("forever")
	assert.Error(t, err)
}

func TestMemoryExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	m := &Memory{Category: "general", Key: "k"}
	assert.False(t, m.Expired(now))
	assert.Equal(t, "general:k", m.StorageKey())

	m.ExpiresAt = TimePtr(now.Add(time.Second))
	assert.False(t, m.Expired(now))
	assert.True(t, m.Expired(now.Add(2*time.Second)))
}

func TestMemoryCloneIsIndependent(t *testing.T) {
	m := &Memory{
		Content:   map[string]any{"steps": []any{"a"}, "n": 3},
		Metadata:  map[string]any{"source": "api"},
		Tags:      []string{"x"},
		ExpiresAt: TimePtr(Now()),
	}
	c := m.Clone()
	c.Content.(map[string]any)["steps"].([]any)[0] = "b"
	c.Metadata["source"] = "cli"
	c.Tags[0] = "y"
	*c.ExpiresAt = c.ExpiresAt.Add(time.Hour)

	assert.Equal(t, "a", m.Content.(map[string]any)["steps"].([]any)[0])
	assert.Equal(t, 3, c.Content.(map[string]any)["n"])
	assert.Equal(t, "api", m.Metadata["source"])
	assert.Equal(t, []string{"x"}, m.Tags)
	assert.True(t, m.ExpiresAt.Before(*c.ExpiresAt))

	assert.True(t, m.HasAnyTag([]string{"z", "x"}))
	assert.False(t, m.HasAnyTag([]string{"z"}))
}

func TestProjectUpdateApply(t *testing.T) {
	p := NewProjectContext("shop")
	p.Description = "kept"
	name := "Shop"
	stack := []string{"go", "redis"}

	ProjectUpdate{Name: &name, TechStack: stack}.Apply(p)
	stack[0] = "rust"

	assert.Equal(t, "Shop", p.Name)
	assert.Equal(t, "kept", p.Description)
	assert.Equal(t, []string{"go", "redis"}, p.TechStack)
	assert.Empty(t, p.KnownIssues)
}

func TestDebateSessionCloneAndRounds(t *testing.T) {
	s := &DebateSession{
		Context: map[string]any{"service": "billing"},
		Messages: []DebateMessage{
			{Participant: "a", Round: 1, Content: "one"},
			{Participant: "b", Round: 1, Content: "two"},
			{Participant: "a", Round: 2, Content: "three", AgreesWith: []string{"b"}},
		},
	}
	assert.Len(t, s.RoundMessages(1), 2)
	assert.Equal(t, "three", s.RoundMessages(2)[0].Content)
	assert.Empty(t, s.RoundMessages(3))
	assert.False(t, s.Done())

	c := s.Clone()
	c.Messages[2].AgreesWith[0] = "c"
	c.Context["service"] = "search"
	c.EndedAt = TimePtr(Now())

	assert.Equal(t, []string{"b"}, s.Messages[2].AgreesWith)
	assert.Equal(t, "billing", s.Context["service"])
	assert.False(t, s.Done())
	assert.True(t, c.Done())
}

func TestDebateEventsAreKnown(t *testing.T) {
	for _, et := range []EventType{
		EventDebateStarted, EventDebateMessage, EventDebateRound,
		EventDebateConsensus, EventDebateCompleted, EventDebateFailed,
	} {
		assert.True(t, et.Known(), et)
		assert.Equal(t, "debate", et.Namespace())
	}
}
