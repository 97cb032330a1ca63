package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/aescanero/construtor/pkg/domain"
	"github.com/aescanero/construtor/pkg/ports"
)

// DefaultFallbackModel serves routed models this client cannot call,
// such as the Gemini and GPT entries of the team table.
const DefaultFallbackModel = "claude-sonnet-4-5-20250929"

const defaultMaxTokens = 4096

// Config configures the Anthropic executor.
type Config struct {
	APIKey        string
	FallbackModel string
	MaxTokens     int64
	// Options are appended to the client options; tests use them to
	// point the client at a local server.
	Options []option.RequestOption
	Logger  *zap.Logger
}

// Executor runs agent steps as Anthropic Messages API calls.
type Executor struct {
	client    anthropic.Client
	fallback  string
	maxTokens int64
	logger    *zap.Logger
}

var _ ports.AgentExecutor = (*Executor)(nil)

// NewExecutor creates a new Anthropic executor
func NewExecutor(cfg Config) (*Executor, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	fallback := cfg.FallbackModel
	if fallback == "" {
		fallback = DefaultFallbackModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	opts := append([]option.RequestOption{option.WithAPIKey(cfg.APIKey)}, cfg.Options...)
	return &Executor{
		client:    anthropic.NewClient(opts...),
		fallback:  fallback,
		maxTokens: maxTokens,
		logger:    logger,
	}, nil
}

// Model returns the Anthropic model used for a routed model name.
func (e *Executor) Model(requested string) string {
	if strings.HasPrefix(requested, "claude-") && requested != "claude-code" {
		return requested
	}
	return e.fallback
}

// Execute implements ports.AgentExecutor
func (e *Executor) Execute(ctx context.Context, req ports.ExecutionRequest) (map[string]any, error) {
	model := e.Model(req.Model)
	prompt, err := buildPrompt(req)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("calling anthropic",
		zap.String("workflow_id", req.WorkflowID),
		zap.String("step_id", req.StepID),
		zap.String("agent", string(req.Agent)),
		zap.String("requested_model", req.Model),
		zap.String("model", model),
	)

	msg, err := e.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: e.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt(req.Agent)}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic request failed: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return map[string]any{
		"content":         text.String(),
		"model":           model,
		"requested_model": req.Model,
		"stop_reason":     string(msg.StopReason),
		"usage": map[string]any{
			"input_tokens":  msg.Usage.InputTokens,
			"output_tokens": msg.Usage.OutputTokens,
		},
	}, nil
}

var rolePrompts = map[domain.AgentRole]string{
	domain.RoleArchitect:  "You are a software architect. Produce clear designs, name components and their trade-offs.",
	domain.RoleDeveloper:  "You are a senior developer. Produce working, idiomatic code with brief notes.",
	domain.RoleReviewer:   "You are a code reviewer. List concrete issues by severity and suggest fixes.",
	domain.RoleTester:     "You are a test engineer. Produce focused tests that cover edge cases.",
	domain.RoleDevOps:     "You are a DevOps engineer. Produce deployable configuration.",
	domain.RoleDocumenter: "You are a technical writer. Produce concise documentation.",
	domain.RoleSecurity:   "You are a security analyst. Report vulnerabilities with severity and remediation.",
	domain.RoleOptimizer:  "You are a performance engineer. Identify bottlenecks and propose measurable improvements.",
}

func systemPrompt(role domain.AgentRole) string {
	if p, ok := rolePrompts[role]; ok {
		return p
	}
	return "You are a helpful software engineering agent."
}

// buildPrompt renders the task input and the results of earlier steps.
func buildPrompt(req ports.ExecutionRequest) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Task type: %s\n", req.TaskType)

	input, err := json.MarshalIndent(req.Input, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode step input: %w", err)
	}
	fmt.Fprintf(&b, "\nInput:\n%s\n", input)

	for _, i := range req.Context.Indexes() {
		r, ok := req.Context.Result(i)
		if !ok || r == nil {
			continue
		}
		out, err := json.Marshal(r.Primary())
		if err != nil {
			return "", fmt.Errorf("failed to encode step %d result: %w", i, err)
		}
		fmt.Fprintf(&b, "\nResult of step %d (%s):\n%s\n", i, r.Agent, out)
	}
	return b.String(), nil
}
