package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/aescanero/construtor/pkg/domain"
	"github.com/aescanero/construtor/pkg/ports"
)

var _ ports.WorkflowStorage = (*WorkflowStore)(nil)

// WorkflowStore keeps workflow snapshots in a map.
// Intended for tests and single-process development runs.
type WorkflowStore struct {
	workflows map[string]*domain.Workflow
	mu        sync.RWMutex
}

// NewWorkflowStore creates an empty in-memory workflow store.
func NewWorkflowStore() *WorkflowStore {
	return &WorkflowStore{
		workflows: make(map[string]*domain.Workflow),
	}
}

// SaveWorkflow stores a copy of wf.
func (s *WorkflowStore) SaveWorkflow(ctx context.Context, wf *domain.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.workflows[wf.ID] = wf.Clone()
	return nil
}

// GetWorkflow returns a copy of the stored workflow.
func (s *WorkflowStore) GetWorkflow(ctx context.Context, id string) (*domain.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wf, ok := s.workflows[id]
	if !ok {
		return nil, fmt.Errorf("workflow %s: %w", id, domain.ErrNotFound)
	}
	return wf.Clone(), nil
}

// ListWorkflows returns copies of every stored workflow.
func (s *WorkflowStore) ListWorkflows(ctx context.Context) ([]*domain.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Workflow, 0, len(s.workflows))
	for _, wf := range s.workflows {
		out = append(out, wf.Clone())
	}
	return out, nil
}

// DeleteWorkflow removes a workflow.
func (s *WorkflowStore) DeleteWorkflow(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.workflows, id)
	return nil
}
