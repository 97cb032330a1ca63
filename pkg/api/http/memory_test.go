package http

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/construtor/pkg/domain"
)

func TestMemory_StoreRetrieveDelete(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/api/v1/memory", map[string]any{
		"key":         "db-choice",
		"content":     map[string]any{"engine": "postgres"},
		"category":    "decisions",
		"memory_type": "semantic",
		"tags":        []string{"database"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[domain.Memory](t, w)
	assert.Equal(t, domain.MemorySemantic, created.Type)
	assert.Nil(t, created.ExpiresAt)

	w = ts.do(t, http.MethodGet, "/api/v1/memory/decisions/db-choice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[domain.Memory](t, w)
	assert.Equal(t, 1, got.AccessCount)
	assert.Equal(t, "postgres", got.Content.(map[string]any)["engine"])

	w = ts.do(t, http.MethodDelete, "/api/v1/memory/decisions/db-choice", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = ts.do(t, http.MethodDelete, "/api/v1/memory/decisions/db-choice", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = ts.do(t, http.MethodGet, "/api/v1/memory/decisions/db-choice", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMemory_RejectsBadRequests(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing key", map[string]any{"content": "x"}},
		{"unknown type", map[string]any{"key": "k", "content": "x", "memory_type": "forever"}},
		{"zero ttl", map[string]any{"key": "k", "content": "x", "ttl_seconds": 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/api/v1/memory", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			body := decode[ErrorResponse](t, w)
			assert.Equal(t, "INVALID_REQUEST", body.Error.Code)
		})
	}

	w := ts.do(t, http.MethodGet, "/api/v1/memory?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMemory_SearchAndStats(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, body := range []map[string]any{
		{"key": "cache", "content": "use redis for sessions", "tags": []string{"infra"}},
		{"key": "queue", "content": "use redis streams", "tags": []string{"infra"}, "relevance_score": 2},
		{"key": "ui", "content": "react", "category": "frontend"},
	} {
		require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/v1/memory", body).Code)
	}

	w := ts.do(t, http.MethodGet, "/api/v1/memory?query=REDIS", nil)
	require.Equal(t, http.StatusOK, w.Code)
	found := decode[struct {
		Memories []domain.Memory `json:"memories"`
		Count    int             `json:"count"`
	}](t, w)
	require.Equal(t, 2, found.Count)
	assert.Equal(t, "queue", found.Memories[0].Key)

	w = ts.do(t, http.MethodGet, "/api/v1/memory?category=frontend", nil)
	assert.Contains(t, w.Body.String(), `"count":1`)

	w = ts.do(t, http.MethodGet, "/api/v1/memory/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[map[string]any](t, w)
	assert.EqualValues(t, 3, stats["total_memories"])
	assert.EqualValues(t, 2, stats["by_category"].(map[string]any)["general"])

	w = ts.do(t, http.MethodGet, "/health", nil)
	checks := decode[map[string]any](t, w)["checks"].(map[string]any)
	assert.EqualValues(t, 3, checks["memory"].(map[string]any)["items_count"])
}

func TestProjects_ContextDecisionsAndPatterns(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodGet, "/api/v1/projects/shop", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodPatch, "/api/v1/projects/shop", map[string]any{
		"name":       "Shop",
		"tech_stack": []string{"go", "redis"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, http.MethodPost, "/api/v1/projects/shop/decisions", map[string]any{
		"title": "Use event sourcing for orders",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/projects/shop/patterns", map[string]any{
		"name":    "repository",
		"pattern": "one repository per aggregate",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/projects/shop/decisions", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/projects/shop", nil)
	require.Equal(t, http.StatusOK, w.Code)
	p := decode[domain.ProjectContext](t, w)
	assert.Equal(t, "Shop", p.Name)
	assert.Equal(t, []string{"go", "redis"}, p.TechStack)
	require.Len(t, p.ArchitectureDecisions, 1)
	assert.Equal(t, "Use event sourcing for orders", p.ArchitectureDecisions[0]["title"])
	assert.NotEmpty(t, p.ArchitectureDecisions[0]["timestamp"])
	assert.Equal(t, "one repository per aggregate", p.CodePatterns["repository"])

	w = ts.do(t, http.MethodGet, "/api/v1/memory?category="+domain.CategoryArchitectureDecisions, nil)
	assert.Contains(t, w.Body.String(), `"key":"arch_decision_1"`)
}

func TestAgentMemory_ListsHistory(t *testing.T) {
	ts := newTestServer(t, nil)

	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/v1/memory", map[string]any{
		"key": "architect:note", "content": "prefer small services", "agent_id": "architect",
	}).Code)

	w := ts.do(t, http.MethodGet, "/api/v1/agents/architect/memory", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)

	w = ts.do(t, http.MethodGet, "/api/v1/agents/tester/memory", nil)
	assert.Contains(t, w.Body.String(), `"count":0`)
}

func TestDebates_StartAndFetch(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodGet, "/api/v1/debates/participants", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name":"claude"`)

	w = ts.do(t, http.MethodPost, "/api/v1/debates", map[string]any{"topic": "Monolith or microservices?"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	started := decode[domain.DebateSession](t, w)
	require.NotEmpty(t, started.ID)

	var final domain.DebateSession
	require.Eventually(t, func() bool {
		w := ts.do(t, http.MethodGet, "/api/v1/debates/"+started.ID, nil)
		if w.Code != http.StatusOK {
			return false
		}
		final = decode[domain.DebateSession](t, w)
		return final.EndedAt != nil
	}, 5*time.Second, 10*time.Millisecond)

	assert.True(t, final.ConsensusReached)
	assert.Equal(t, 2, final.CurrentRound)
	assert.Equal(t, domain.DebateFinalConsensus, final.Stage)
	assert.Contains(t, final.FinalDecision, "Consensus reached on: Monolith or microservices?")

	w = ts.do(t, http.MethodGet, "/api/v1/debates", nil)
	assert.Contains(t, w.Body.String(), started.ID)

	w = ts.do(t, http.MethodGet, "/api/v1/debates/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDebates_RejectsBadRequests(t *testing.T) {
	ts := newTestServer(t, nil)

	for name, body := range map[string]map[string]any{
		"missing topic":       {},
		"too many rounds":     {"topic": "x", "max_rounds": 50},
		"unknown participant": {"topic": "x", "participants": []string{"claude", "llama"}},
		"single participant":  {"topic": "x", "participants": []string{"claude"}},
	} {
		t.Run(name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/api/v1/debates", body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}
