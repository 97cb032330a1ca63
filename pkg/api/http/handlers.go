package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aescanero/construtor/pkg/domain"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func respondError(c *gin.Context, status int, code, message string, details any) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error: ErrorDetail{Code: code, Message: message, Details: details},
	})
}

func respondNotFound(c *gin.Context, what, id string) {
	respondError(c, http.StatusNotFound, "NOT_FOUND", what+" not found", gin.H{"id": id})
}

// WorkflowRequest is the body of POST /workflows.
type WorkflowRequest struct {
	Type     string         `json:"type" binding:"required"`
	Data     map[string]any `json:"data"`
	Priority string         `json:"priority"`
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	healthy := true
	checks := gin.H{"orchestrator": "ok"}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			healthy = false
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}
	if s.memory != nil {
		if st, err := s.memory.Stats(ctx); err != nil {
			healthy = false
			checks["memory"] = err.Error()
		} else {
			checks["memory"] = gin.H{"status": "ok", "items_count": st.TotalMemories}
		}
	}
	if s.queue != nil {
		if h := s.queue.Health(); h != nil {
			checks["workers"] = h
			if !h.Healthy {
				healthy = false
			}
		}
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": domain.Now(),
		"checks":    checks,
	})
}

func (s *Server) handleCreateWorkflow(c *gin.Context) {
	var req WorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}

	wf, err := s.orchestrator.ProcessRequest(c.Request.Context(), req.Type, req.Data, req.Priority)
	if err != nil {
		s.logger.Error("failed to create workflow", zap.Error(err))
		respondError(c, http.StatusUnprocessableEntity, "SUBMISSION_FAILED", err.Error(), nil)
		return
	}

	c.JSON(http.StatusAccepted, wf)
}

func (s *Server) handleListWorkflows(c *gin.Context) {
	workflows, err := s.orchestrator.ListWorkflows(c.Request.Context())
	if err != nil {
		s.logger.Error("failed to list workflows", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "STORE_ERROR", "failed to list workflows", err.Error())
		return
	}

	if state := c.Query("state"); state != "" {
		filtered := workflows[:0]
		for _, wf := range workflows {
			if string(wf.State) == state {
				filtered = append(filtered, wf)
			}
		}
		workflows = filtered
	}

	c.JSON(http.StatusOK, gin.H{
		"workflows": workflows,
		"total":     len(workflows),
	})
}

func (s *Server) handleGetWorkflow(c *gin.Context) {
	id := c.Param("id")
	wf, err := s.orchestrator.GetWorkflow(c.Request.Context(), id)
	if err != nil {
		s.workflowError(c, id, err)
		return
	}
	c.JSON(http.StatusOK, wf)
}

func (s *Server) handleGetWorkflowStatus(c *gin.Context) {
	id := c.Param("id")
	status, err := s.orchestrator.GetWorkflowStatus(c.Request.Context(), id)
	if err != nil {
		s.workflowError(c, id, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleCancelWorkflow(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	if s.orchestrator.CancelWorkflow(ctx, id) {
		c.JSON(http.StatusOK, gin.H{
			"workflow_id":  id,
			"state":        domain.WorkflowCancelled,
			"cancelled_at": domain.Now(),
		})
		return
	}

	wf, err := s.orchestrator.GetWorkflow(ctx, id)
	if err != nil {
		s.workflowError(c, id, err)
		return
	}
	respondError(c, http.StatusConflict, "CANCELLATION_FAILED",
		"workflow is not running", gin.H{"id": id, "state": wf.State})
}

func (s *Server) workflowError(c *gin.Context, id string, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		respondNotFound(c, "workflow", id)
		return
	}
	s.logger.Error("failed to load workflow", zap.String("workflow_id", id), zap.Error(err))
	respondError(c, http.StatusInternalServerError, "STORE_ERROR", "failed to load workflow", err.Error())
}

func (s *Server) handleListAgents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"agents":           s.orchestrator.AgentStatus(),
		"active_workflows": s.orchestrator.ActiveCount(),
	})
}
