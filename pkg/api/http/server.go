package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/aescanero/construtor/internal/application/agentmemory"
	"github.com/aescanero/construtor/internal/application/debate"
	"github.com/aescanero/construtor/internal/application/eventbus"
	"github.com/aescanero/construtor/internal/application/orchestrator"
	"github.com/aescanero/construtor/internal/application/taskqueue"
)

// HealthCheck checks one dependency. A nil error means healthy.
type HealthCheck func(ctx context.Context) error

// Server represents the HTTP API server
type Server struct {
	router       *gin.Engine
	server       *http.Server
	orchestrator *orchestrator.Manager
	queue        *taskqueue.Queue
	bus          *eventbus.Bus
	memory       *agentmemory.Service
	debates      *debate.Moderator
	checks       map[string]HealthCheck
	logger       *zap.Logger
}

// Config holds HTTP server configuration
type Config struct {
	Addr         string
	Orchestrator *orchestrator.Manager
	Queue        *taskqueue.Queue
	Bus          *eventbus.Bus
	HealthChecks map[string]HealthCheck

	// Memory and Debates mount their routes when set.
	Memory  *agentmemory.Service
	Debates *debate.Moderator

	// MetricsHandler serves /metrics. Defaults to the global Prometheus
	// registry.
	MetricsHandler http.Handler
	Logger         *zap.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := cfg.MetricsHandler
	if metrics == nil {
		metrics = promhttp.Handler()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(requestLogger(logger))
	router.Use(corsMiddleware())

	s := &Server{
		router:       router,
		orchestrator: cfg.Orchestrator,
		queue:        cfg.Queue,
		bus:          cfg.Bus,
		memory:       cfg.Memory,
		debates:      cfg.Debates,
		checks:       cfg.HealthChecks,
		logger:       logger,
	}

	s.setupRoutes(metrics)

	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes(metrics http.Handler) {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(metrics))

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/workflows", s.handleCreateWorkflow)
		v1.GET("/workflows", s.handleListWorkflows)
		v1.GET("/workflows/:id", s.handleGetWorkflow)
		v1.GET("/workflows/:id/status", s.handleGetWorkflowStatus)
		v1.POST("/workflows/:id/cancel", s.handleCancelWorkflow)

		v1.POST("/tasks", s.handleSubmitTask)
		v1.GET("/tasks/stats", s.handleTaskStats)
		v1.DELETE("/tasks/completed", s.handleClearCompleted)
		v1.GET("/tasks/:id", s.handleGetTask)
		v1.POST("/tasks/:id/cancel", s.handleCancelTask)

		v1.GET("/events", s.handleListEvents)
		v1.GET("/events/stats", s.handleEventStats)
		v1.GET("/events/correlation/:id", s.handleCorrelationChain)

		v1.GET("/agents", s.handleListAgents)

		if s.memory != nil {
			v1.POST("/memory", s.handleStoreMemory)
			v1.GET("/memory", s.handleSearchMemory)
			v1.GET("/memory/stats", s.handleMemoryStats)
			v1.GET("/memory/:category/:key", s.handleGetMemory)
			v1.DELETE("/memory/:category/:key", s.handleDeleteMemory)
			v1.GET("/agents/:role/memory", s.handleAgentMemory)

			v1.GET("/projects/:id", s.handleGetProject)
			v1.PATCH("/projects/:id", s.handleUpdateProject)
			v1.POST("/projects/:id/decisions", s.handleAddDecision)
			v1.POST("/projects/:id/patterns", s.handleAddPattern)
		}

		if s.debates != nil {
			v1.POST("/debates", s.handleStartDebate)
			v1.GET("/debates", s.handleListDebates)
			v1.GET("/debates/participants", s.handleDebateParticipants)
			v1.GET("/debates/:id", s.handleGetDebate)
		}
	}
}

// SetupWebSocket mounts the workflow event stream.
func (s *Server) SetupWebSocket(handler gin.HandlerFunc) {
	s.router.GET("/api/v1/workflows/:id/ws", handler)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info("HTTP server shut down complete")
	return nil
}
