package http

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aescanero/construtor/internal/application/taskqueue"
	"github.com/aescanero/construtor/pkg/domain"
)

// TaskRequest is the body of POST /tasks.
type TaskRequest struct {
	Name          string         `json:"name" binding:"required"`
	TaskType      string         `json:"task_type" binding:"required"`
	Payload       map[string]any `json:"payload"`
	Priority      string         `json:"priority"`
	Timeout       *float64       `json:"timeout_seconds"`
	MaxRetries    *int           `json:"max_retries"`
	RetryDelay    *float64       `json:"retry_delay_seconds"`
	CorrelationID string         `json:"correlation_id"`
	ParentTaskID  string         `json:"parent_task_id"`
	AssignedAgent string         `json:"assigned_agent"`
	Metadata      map[string]any `json:"metadata"`
}

// maxTaskRetries bounds max_retries on submitted tasks.
const maxTaskRetries = 20

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func (r TaskRequest) options() ([]taskqueue.Option, error) {
	p, err := domain.ParsePriority(r.Priority)
	if err != nil {
		return nil, err
	}
	opts := []taskqueue.Option{taskqueue.WithPriority(p)}
	if r.Timeout != nil {
		if *r.Timeout <= 0 {
			return nil, errors.New("timeout_seconds must be positive")
		}
		opts = append(opts, taskqueue.WithTimeout(seconds(*r.Timeout)))
	}
	if r.MaxRetries != nil {
		if *r.MaxRetries < 0 || *r.MaxRetries > maxTaskRetries {
			return nil, fmt.Errorf("max_retries must be between 0 and %d", maxTaskRetries)
		}
		opts = append(opts, taskqueue.WithMaxRetries(*r.MaxRetries))
	}
	if r.RetryDelay != nil {
		if *r.RetryDelay < 0 {
			return nil, errors.New("retry_delay_seconds must not be negative")
		}
		opts = append(opts, taskqueue.WithRetryDelay(seconds(*r.RetryDelay)))
	}
	if r.CorrelationID != "" {
		opts = append(opts, taskqueue.WithCorrelationID(r.CorrelationID))
	}
	if r.ParentTaskID != "" {
		opts = append(opts, taskqueue.WithParentTask(r.ParentTaskID))
	}
	if r.AssignedAgent != "" {
		opts = append(opts, taskqueue.WithAssignedAgent(r.AssignedAgent))
	}
	if len(r.Metadata) > 0 {
		opts = append(opts, taskqueue.WithMetadata(r.Metadata))
	}
	return opts, nil
}

func (s *Server) handleSubmitTask(c *gin.Context) {
	var req TaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}
	opts, err := req.options()
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}

	task, err := s.queue.Enqueue(c.Request.Context(), req.Name, req.TaskType, req.Payload, opts...)
	if err != nil {
		s.logger.Error("failed to enqueue task", zap.Error(err))
		respondError(c, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "failed to enqueue task", err.Error())
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (s *Server) handleGetTask(c *gin.Context) {
	id := c.Param("id")
	task, err := s.queue.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			respondNotFound(c, "task", id)
			return
		}
		respondError(c, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "failed to load task", err.Error())
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleCancelTask(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	cancelled, err := s.queue.Cancel(ctx, id)
	if err != nil {
		respondError(c, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "failed to cancel task", err.Error())
		return
	}
	if cancelled {
		c.JSON(http.StatusOK, gin.H{"task_id": id, "cancelled": true})
		return
	}

	task, err := s.queue.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		respondNotFound(c, "task", id)
		return
	}
	details := gin.H{"id": id}
	if task != nil {
		details["status"] = task.Status
	}
	respondError(c, http.StatusConflict, "CANCELLATION_FAILED", "task can no longer be cancelled", details)
}

func (s *Server) handleTaskStats(c *gin.Context) {
	stats, err := s.queue.Stats(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "failed to read queue stats", err.Error())
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleClearCompleted(c *gin.Context) {
	n, err := s.queue.ClearCompleted(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "failed to clear tasks", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": n})
}
