package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("LLM_API_KEY", "test-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, ":9090", cfg.GetGRPCAddr())
	assert.Equal(t, StoreRedis, cfg.StoreBackend)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 5, cfg.Workers.PoolSize)
	assert.Equal(t, 10*time.Minute, cfg.Workers.StallAfter)
	assert.Equal(t, 300*time.Second, cfg.Queue.DefaultTimeout)
	assert.Equal(t, 3, cfg.Queue.DefaultMaxRetries)
	assert.Equal(t, 5*time.Second, cfg.Queue.DefaultRetryDelay)
	assert.Equal(t, 1000, cfg.Events.HistoryLimit)
	assert.Equal(t, DispatchDirect, cfg.Orchestrator.DispatchMode)
	assert.Equal(t, time.Second, cfg.Orchestrator.StepRetryBase)
	assert.Equal(t, 30*time.Second, cfg.Timeouts.ShutdownTimeout)
	assert.Equal(t, time.Hour, cfg.Memory.ShortTermTTL)
	assert.Equal(t, 10*time.Minute, cfg.Memory.CleanupInterval)
	assert.True(t, cfg.Memory.RecordWorkflows)
	assert.Equal(t, 0, cfg.Debate.MaxRounds)
	assert.Equal(t, 128, cfg.Debate.Retain)
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestLoad_StaticProviderNeedsNoKey(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "static")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("CONSTRUTOR_HTTP_PORT", "18080")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":18080", cfg.GetHTTPAddr())
	assert.Equal(t, StoreMemory, cfg.StoreBackend)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			HTTPPort:     8080,
			GRPCPort:     9090,
			LogLevel:     "info",
			StoreBackend: StoreRedis,
			Redis:        RedisConfig{Addr: "localhost:6379"},
			LLM:          LLMConfig{Provider: "static", MaxConcurrentRequests: 1},
			Workers:      WorkerConfig{PoolSize: 1},
			Queue:        QueueConfig{PollInterval: time.Second},
			Events:       EventsConfig{HistoryLimit: 10},
			Orchestrator: OrchestratorConfig{DispatchMode: DispatchDirect, StepMaxRetries: 3},
			Memory:       MemoryConfig{CleanupInterval: time.Minute},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad http port", func(c *Config) { c.HTTPPort = 0 }, "invalid HTTP port"},
		{"bad grpc port", func(c *Config) { c.GRPCPort = 70000 }, "invalid gRPC port"},
		{"missing redis", func(c *Config) { c.Redis.Addr = "" }, "redis address is required"},
		{"unknown store", func(c *Config) { c.StoreBackend = "etcd" }, "unsupported store backend"},
		{"anthropic without key", func(c *Config) { c.LLM.Provider = "anthropic" }, "API key is required"},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "other" }, "unsupported LLM provider"},
		{"no workers", func(c *Config) { c.Workers.PoolSize = 0 }, "worker pool size"},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }, "invalid log level"},
		{"bad dispatch", func(c *Config) { c.Orchestrator.DispatchMode = "remote" }, "invalid dispatch mode"},
		{"no memory cleanup", func(c *Config) { c.Memory.CleanupInterval = 0 }, "memory cleanup interval"},
		{"negative debate rounds", func(c *Config) { c.Debate.MaxRounds = -1 }, "debate max rounds"},
		{"queue dispatch in memory", func(c *Config) {
			c.StoreBackend = StoreMemory
			c.Orchestrator.DispatchMode = DispatchQueue
		}, "requires the redis store"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
