package llm

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/construtor/pkg/adapters/llm/anthropic"
	"github.com/aescanero/construtor/pkg/adapters/llm/static"
	"github.com/aescanero/construtor/pkg/ports"
)

// Config holds agent executor configuration
type Config struct {
	Provider          string
	APIKey            string
	MaxTokens         int
	FallbackModel     string
	RequestsPerMinute int
	MaxConcurrent     int
	RequestTimeout    time.Duration
	Metrics           ports.MetricsCollector
	Logger            *zap.Logger
}

// NewExecutor creates a limited executor based on provider
func NewExecutor(cfg Config) (ports.AgentExecutor, error) {
	var exec ports.AgentExecutor
	switch cfg.Provider {
	case "anthropic":
		a, err := anthropic.NewExecutor(anthropic.Config{
			APIKey:        cfg.APIKey,
			MaxTokens:     int64(cfg.MaxTokens),
			FallbackModel: cfg.FallbackModel,
			Logger:        cfg.Logger,
		})
		if err != nil {
			return nil, err
		}
		exec = a
	case "static":
		exec = static.Executor{}
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}

	return NewLimited(exec, LimitConfig{
		RequestsPerMinute: cfg.RequestsPerMinute,
		MaxConcurrent:     cfg.MaxConcurrent,
		Timeout:           cfg.RequestTimeout,
		Metrics:           cfg.Metrics,
	}), nil
}
