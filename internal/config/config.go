package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Store backends
const (
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// Step dispatch modes
const (
	DispatchDirect = "direct"
	DispatchQueue  = "queue"
)

// Config holds all configuration for construtor
type Config struct {
	// Server configuration
	HTTPPort int    `env:"CONSTRUTOR_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"CONSTRUTOR_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// StoreBackend selects where tasks and workflows live. The worker
	// process always requires redis.
	StoreBackend string `env:"STORE_BACKEND" envDefault:"redis"`

	Redis        RedisConfig
	LLM          LLMConfig
	Workers      WorkerConfig
	Queue        QueueConfig
	Events       EventsConfig
	Orchestrator OrchestratorConfig
	Memory       MemoryConfig
	Debate       DebateConfig
	Timeouts     TimeoutConfig
	Telemetry    TelemetryConfig
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`

	// WorkflowTTL bounds how long workflow snapshots are kept
	WorkflowTTL time.Duration `env:"REDIS_WORKFLOW_TTL" envDefault:"168h"`
}

// LLMConfig holds agent executor configuration
type LLMConfig struct {
	// Provider is "anthropic" or "static". static needs no API key and
	// returns deterministic outputs.
	Provider string `env:"LLM_PROVIDER" envDefault:"anthropic"`
	APIKey   string `env:"LLM_API_KEY"`

	// Rate limiting
	MaxConcurrentRequests int           `env:"LLM_MAX_CONCURRENT_REQUESTS" envDefault:"10"`
	RateLimit             int           `env:"LLM_RATE_LIMIT" envDefault:"60"`
	RequestTimeout        time.Duration `env:"LLM_REQUEST_TIMEOUT" envDefault:"120s"`

	DefaultMaxTokens int `env:"LLM_DEFAULT_MAX_TOKENS" envDefault:"4096"`

	// FallbackModel serves routed models the provider cannot call.
	FallbackModel string `env:"LLM_FALLBACK_MODEL"`
}

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	PoolSize            int           `env:"WORKER_POOL_SIZE" envDefault:"5"`
	HealthCheckInterval time.Duration `env:"WORKER_HEALTH_CHECK_INTERVAL" envDefault:"30s"`
	StallAfter          time.Duration `env:"WORKER_STALL_AFTER" envDefault:"10m"`
}

// QueueConfig holds task defaults and polling
type QueueConfig struct {
	DefaultTimeout    time.Duration `env:"QUEUE_DEFAULT_TIMEOUT" envDefault:"300s"`
	DefaultMaxRetries int           `env:"QUEUE_DEFAULT_MAX_RETRIES" envDefault:"3"`
	DefaultRetryDelay time.Duration `env:"QUEUE_DEFAULT_RETRY_DELAY" envDefault:"5s"`
	PollInterval      time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"500ms"`
}

// EventsConfig holds event bus and stream settings
type EventsConfig struct {
	HistoryLimit          int    `env:"EVENT_HISTORY_LIMIT" envDefault:"1000"`
	MaxConcurrentHandlers int    `env:"EVENT_MAX_CONCURRENT_HANDLERS" envDefault:"0"`
	StreamsEnabled        bool   `env:"EVENT_STREAMS_ENABLED" envDefault:"true"`
	StreamMaxLen          int64  `env:"EVENT_STREAM_MAX_LEN" envDefault:"10000"`
	ConsumerGroup         string `env:"EVENT_CONSUMER_GROUP" envDefault:"construtor"`
	ConsumerName          string `env:"EVENT_CONSUMER_NAME"`
}

// OrchestratorConfig holds workflow execution settings
type OrchestratorConfig struct {
	DispatchMode   string        `env:"ORCHESTRATOR_DISPATCH_MODE" envDefault:"direct"`
	StepRetryBase  time.Duration `env:"ORCHESTRATOR_STEP_RETRY_BASE" envDefault:"1s"`
	StepMaxRetries int           `env:"ORCHESTRATOR_STEP_MAX_RETRIES" envDefault:"3"`
	RetainFinished int           `env:"ORCHESTRATOR_RETAIN_FINISHED" envDefault:"256"`
	TeamsFile      string        `env:"TEAMS_FILE"`
}

// MemoryConfig holds agent memory settings
type MemoryConfig struct {
	ShortTermTTL    time.Duration `env:"MEMORY_SHORT_TERM_TTL" envDefault:"1h"`
	CleanupInterval time.Duration `env:"MEMORY_CLEANUP_INTERVAL" envDefault:"10m"`
	// RecordWorkflows stores step outputs and workflow summaries.
	RecordWorkflows bool `env:"MEMORY_RECORD_WORKFLOWS" envDefault:"true"`
}

// DebateConfig holds debate settings. Participants come from the teams
// table.
type DebateConfig struct {
	// MaxRounds overrides the teams table limit when positive.
	MaxRounds int `env:"DEBATE_MAX_ROUNDS" envDefault:"0"`
	Retain    int `env:"DEBATE_RETAIN" envDefault:"128"`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	WorkflowTimeout time.Duration `env:"TIMEOUT_WORKFLOW" envDefault:"3600s"`
	StepTimeout     time.Duration `env:"TIMEOUT_STEP" envDefault:"300s"`
	ShutdownTimeout time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// TelemetryConfig holds OpenTelemetry settings
type TelemetryConfig struct {
	Enabled      bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTLPEndpoint string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	ServiceName  string  `env:"OTEL_SERVICE_NAME" envDefault:"construtor"`
	SampleRate   float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}

	switch c.StoreBackend {
	case StoreRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis address is required")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unsupported store backend: %s (must be redis or memory)", c.StoreBackend)
	}

	switch c.LLM.Provider {
	case "anthropic":
		if c.LLM.APIKey == "" {
			return fmt.Errorf("LLM API key is required for provider anthropic")
		}
	case "static":
	default:
		return fmt.Errorf("unsupported LLM provider: %s", c.LLM.Provider)
	}
	if c.LLM.MaxConcurrentRequests < 1 {
		return fmt.Errorf("LLM max concurrent requests must be at least 1")
	}

	if c.Workers.PoolSize < 1 {
		return fmt.Errorf("worker pool size must be at least 1")
	}
	if c.Queue.DefaultMaxRetries < 0 {
		return fmt.Errorf("queue default max retries must not be negative")
	}
	if c.Queue.PollInterval <= 0 {
		return fmt.Errorf("queue poll interval must be positive")
	}
	if c.Events.HistoryLimit < 1 {
		return fmt.Errorf("event history limit must be at least 1")
	}

	switch c.Orchestrator.DispatchMode {
	case DispatchDirect:
	case DispatchQueue:
		if c.StoreBackend != StoreRedis {
			return fmt.Errorf("dispatch mode queue requires the redis store backend")
		}
	default:
		return fmt.Errorf("invalid dispatch mode: %s (must be direct or queue)", c.Orchestrator.DispatchMode)
	}
	if c.Orchestrator.StepMaxRetries < 1 {
		return fmt.Errorf("step max retries must be at least 1")
	}
	if c.Memory.CleanupInterval <= 0 {
		return fmt.Errorf("memory cleanup interval must be positive")
	}
	if c.Debate.MaxRounds < 0 {
		return fmt.Errorf("debate max rounds must not be negative")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}
