package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aescanero/construtor/pkg/domain"
	"github.com/aescanero/construtor/pkg/ports"
)

const workflowKeyPrefix = "construtor:workflow:"

var _ ports.WorkflowStorage = (*WorkflowStore)(nil)

// WorkflowStore persists workflow snapshots in Redis as JSON with a TTL.
type WorkflowStore struct {
	client redis.UniversalClient
	logger *zap.Logger
	ttl    time.Duration
}

// NewWorkflowStore creates a Redis workflow store. A zero ttl keeps
// records forever.
func NewWorkflowStore(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *WorkflowStore {
	return &WorkflowStore{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// SaveWorkflow implements ports.WorkflowStorage.
func (s *WorkflowStore) SaveWorkflow(ctx context.Context, wf *domain.Workflow) error {
	data, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow: %w", err)
	}

	if err := s.client.Set(ctx, getWorkflowKey(wf.ID), data, s.ttl).Err(); err != nil {
		return unavailable("save workflow", err)
	}

	s.logger.Debug("workflow saved",
		zap.String("workflow_id", wf.ID),
		zap.String("state", string(wf.State)))
	return nil
}

// GetWorkflow implements ports.WorkflowStorage.
func (s *WorkflowStore) GetWorkflow(ctx context.Context, id string) (*domain.Workflow, error) {
	data, err := s.client.Get(ctx, getWorkflowKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("workflow %s: %w", id, domain.ErrNotFound)
		}
		return nil, unavailable("get workflow", err)
	}

	var wf domain.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow: %w", err)
	}
	return &wf, nil
}

// ListWorkflows implements ports.WorkflowStorage.
func (s *WorkflowStore) ListWorkflows(ctx context.Context) ([]*domain.Workflow, error) {
	keys, err := scanKeys(ctx, s.client, workflowKeyPrefix+"*")
	if err != nil {
		return nil, unavailable("scan workflows", err)
	}

	workflows := make([]*domain.Workflow, 0, len(keys))
	for _, key := range keys {
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}

		var wf domain.Workflow
		if err := json.Unmarshal(data, &wf); err != nil {
			continue
		}
		workflows = append(workflows, &wf)
	}
	return workflows, nil
}

// DeleteWorkflow implements ports.WorkflowStorage.
func (s *WorkflowStore) DeleteWorkflow(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, getWorkflowKey(id)).Err(); err != nil {
		return unavailable("delete workflow", err)
	}

	s.logger.Debug("workflow deleted", zap.String("workflow_id", id))
	return nil
}

func getWorkflowKey(id string) string {
	return workflowKeyPrefix + id
}
