package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/aescanero/construtor/internal/application/eventbus"
	"github.com/aescanero/construtor/pkg/domain"
)

func (s *Server) handleListEvents(c *gin.Context) {
	q := eventbus.HistoryQuery{
		Type:   domain.EventType(c.Query("type")),
		Source: c.Query("source"),
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a positive integer", gin.H{"limit": raw})
			return
		}
		q.Limit = limit
	}

	events := s.bus.History(q)
	if events == nil {
		events = []*domain.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "total": len(events)})
}

func (s *Server) handleCorrelationChain(c *gin.Context) {
	id := c.Param("id")
	events := s.bus.CorrelationChain(id)
	if events == nil {
		events = []*domain.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"correlation_id": id, "events": events, "total": len(events)})
}

func (s *Server) handleEventStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.bus.Stats())
}
