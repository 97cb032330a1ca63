package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/aescanero/construtor/internal/application/agentmemory"
	"github.com/aescanero/construtor/pkg/domain"
)

// MemoryRequest is the body of POST /memory.
type MemoryRequest struct {
	Key        string         `json:"key" binding:"required"`
	Content    any            `json:"content" binding:"required"`
	Category   string         `json:"category"`
	MemoryType string         `json:"memory_type"`
	TTL        *float64       `json:"ttl_seconds"`
	ProjectID  string         `json:"project_id"`
	AgentID    string         `json:"agent_id"`
	Tags       []string       `json:"tags"`
	Metadata   map[string]any `json:"metadata"`
	Relevance  *float64       `json:"relevance_score"`
}

func (r MemoryRequest) options() ([]agentmemory.Option, error) {
	t, err := domain.ParseMemoryType(r.MemoryType)
	if err != nil {
		return nil, err
	}
	opts := []agentmemory.Option{agentmemory.WithType(t)}
	if r.Category != "" {
		opts = append(opts, agentmemory.WithCategory(r.Category))
	}
	if r.TTL != nil {
		if *r.TTL <= 0 {
			return nil, errors.New("ttl_seconds must be positive")
		}
		opts = append(opts, agentmemory.WithTTL(seconds(*r.TTL)))
	}
	if r.ProjectID != "" {
		opts = append(opts, agentmemory.WithProject(r.ProjectID))
	}
	if r.AgentID != "" {
		opts = append(opts, agentmemory.WithAgent(r.AgentID))
	}
	if len(r.Tags) > 0 {
		opts = append(opts, agentmemory.WithTags(r.Tags...))
	}
	if len(r.Metadata) > 0 {
		opts = append(opts, agentmemory.WithMetadata(r.Metadata))
	}
	if r.Relevance != nil {
		opts = append(opts, agentmemory.WithRelevance(*r.Relevance))
	}
	return opts, nil
}

func respondMemoryError(c *gin.Context, err error, what, id string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		respondNotFound(c, what, id)
	case errors.Is(err, agentmemory.ErrInvalidMemory):
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
	default:
		respondError(c, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "memory store failed", err.Error())
	}
}

func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a non-negative integer", nil)
		return 0, false
	}
	return n, true
}

func (s *Server) handleStoreMemory(c *gin.Context) {
	var req MemoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}
	opts, err := req.options()
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}

	m, err := s.memory.Store(c.Request.Context(), req.Key, req.Content, opts...)
	if err != nil {
		respondMemoryError(c, err, "memory", req.Key)
		return
	}
	c.JSON(http.StatusCreated, m)
}

func (s *Server) handleSearchMemory(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	q := agentmemory.Query{
		Text:      c.Query("query"),
		Category:  c.Query("category"),
		ProjectID: c.Query("project_id"),
		AgentID:   c.Query("agent_id"),
		Limit:     limit,
	}
	if tags := c.Query("tags"); tags != "" {
		q.Tags = strings.Split(tags, ",")
	}

	memories, err := s.memory.Search(c.Request.Context(), q)
	if err != nil {
		respondMemoryError(c, err, "memory", "")
		return
	}
	c.JSON(http.StatusOK, gin.H{"memories": memories, "count": len(memories)})
}

func (s *Server) handleGetMemory(c *gin.Context) {
	category, key := c.Param("category"), c.Param("key")
	m, err := s.memory.Retrieve(c.Request.Context(), category, key)
	if err != nil {
		respondMemoryError(c, err, "memory", domain.MemoryKey(category, key))
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) handleDeleteMemory(c *gin.Context) {
	category, key := c.Param("category"), c.Param("key")
	deleted, err := s.memory.Delete(c.Request.Context(), category, key)
	if err != nil {
		respondMemoryError(c, err, "memory", domain.MemoryKey(category, key))
		return
	}
	if !deleted {
		respondNotFound(c, "memory", domain.MemoryKey(category, key))
		return
	}
	c.JSON(http.StatusOK, gin.H{"category": category, "key": key, "deleted": true})
}

func (s *Server) handleMemoryStats(c *gin.Context) {
	stats, err := s.memory.Stats(c.Request.Context())
	if err != nil {
		respondMemoryError(c, err, "memory", "")
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleAgentMemory(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	role := c.Param("role")
	history, err := s.memory.AgentHistory(c.Request.Context(), role, limit)
	if err != nil {
		respondMemoryError(c, err, "agent", role)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent": role, "memories": history, "count": len(history)})
}

func (s *Server) handleGetProject(c *gin.Context) {
	id := c.Param("id")
	p, err := s.memory.Project(c.Request.Context(), id)
	if err != nil {
		respondMemoryError(c, err, "project", id)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleUpdateProject(c *gin.Context) {
	var req domain.ProjectUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}
	id := c.Param("id")
	p, err := s.memory.UpdateProject(c.Request.Context(), id, req)
	if err != nil {
		respondMemoryError(c, err, "project", id)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleAddDecision(c *gin.Context) {
	var decision map[string]any
	if err := c.ShouldBindJSON(&decision); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}
	if len(decision) == 0 {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "decision must not be empty", nil)
		return
	}
	id := c.Param("id")
	p, err := s.memory.AddArchitectureDecision(c.Request.Context(), id, decision)
	if err != nil {
		respondMemoryError(c, err, "project", id)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// PatternRequest is the body of POST /projects/:id/patterns.
type PatternRequest struct {
	Name    string `json:"name" binding:"required"`
	Pattern any    `json:"pattern" binding:"required"`
}

func (s *Server) handleAddPattern(c *gin.Context) {
	var req PatternRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}
	id := c.Param("id")
	p, err := s.memory.AddCodePattern(c.Request.Context(), id, req.Name, req.Pattern)
	if err != nil {
		respondMemoryError(c, err, "project", id)
		return
	}
	c.JSON(http.StatusCreated, p)
}
