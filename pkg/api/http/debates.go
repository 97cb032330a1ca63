package http

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aescanero/construtor/internal/application/debate"
)

// maxDebateRounds bounds max_rounds on requested debates.
const maxDebateRounds = 10

// DebateRequest is the body of POST /debates.
type DebateRequest struct {
	Topic        string         `json:"topic" binding:"required"`
	Context      map[string]any `json:"context"`
	MaxRounds    int            `json:"max_rounds"`
	Participants []string       `json:"participants"`
}

func (s *Server) handleStartDebate(c *gin.Context) {
	var req DebateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}
	if req.MaxRounds < 0 || req.MaxRounds > maxDebateRounds {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", fmt.Sprintf("max_rounds must be between 0 and %d", maxDebateRounds), nil)
		return
	}

	session, err := s.debates.Start(debate.Request{
		Topic:        req.Topic,
		Context:      req.Context,
		MaxRounds:    req.MaxRounds,
		Participants: req.Participants,
	})
	switch {
	case errors.Is(err, debate.ErrShuttingDown):
		respondError(c, http.StatusServiceUnavailable, "SHUTTING_DOWN", err.Error(), nil)
		return
	case err != nil:
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}
	c.JSON(http.StatusAccepted, session)
}

func (s *Server) handleGetDebate(c *gin.Context) {
	id := c.Param("id")
	session, ok := s.debates.Get(id)
	if !ok {
		respondNotFound(c, "debate", id)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (s *Server) handleListDebates(c *gin.Context) {
	sessions := s.debates.List()
	c.JSON(http.StatusOK, gin.H{"debates": sessions, "count": len(sessions)})
}

func (s *Server) handleDebateParticipants(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"participants": s.debates.Participants()})
}
