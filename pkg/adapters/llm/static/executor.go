// Package static provides a deterministic agent executor that needs no
// external service. It backs local runs and tests.
package static

import (
	"context"
	"fmt"
	"sort"

	"github.com/aescanero/construtor/pkg/ports"
)

// Executor answers every request with a summary derived from the request.
type Executor struct{}

var _ ports.AgentExecutor = Executor{}

// Execute implements ports.AgentExecutor
func (Executor) Execute(ctx context.Context, req ports.ExecutionRequest) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(req.Input))
	for k := range req.Input {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return map[string]any{
		"content":    fmt.Sprintf("%s completed %s", req.Agent, req.TaskType),
		"model":      req.Model,
		"tier":       req.Tier,
		"input_keys": keys,
		"prior":      len(req.Context.Results),
	}, nil
}
