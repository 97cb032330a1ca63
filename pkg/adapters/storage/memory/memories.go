package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aescanero/construtor/pkg/domain"
	"github.com/aescanero/construtor/pkg/ports"
)

var _ ports.MemoryStorage = (*MemoryStore)(nil)

// MemoryStore keeps agent memories and project contexts in maps.
// Expired entries are hidden on read and dropped by DeleteExpired.
type MemoryStore struct {
	mu       sync.RWMutex
	memories map[string]*domain.Memory
	projects map[string]*domain.ProjectContext
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		memories: make(map[string]*domain.Memory),
		projects: make(map[string]*domain.ProjectContext),
		now:      domain.Now,
	}
}

// SaveMemory stores a copy of m.
func (s *MemoryStore) SaveMemory(ctx context.Context, m *domain.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.Expired(s.now()) {
		delete(s.memories, m.StorageKey())
		return nil
	}
	s.memories[m.StorageKey()] = m.Clone()
	return nil
}

// GetMemory returns a copy of the memory at (category, key).
func (s *MemoryStore) GetMemory(ctx context.Context, category, key string) (*domain.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.memories[domain.MemoryKey(category, key)]
	if !ok || m.Expired(s.now()) {
		return nil, fmt.Errorf("memory %s: %w", domain.MemoryKey(category, key), domain.ErrNotFound)
	}
	return m.Clone(), nil
}

// DeleteMemory removes the memory at (category, key).
func (s *MemoryStore) DeleteMemory(ctx context.Context, category, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := domain.MemoryKey(category, key)
	_, ok := s.memories[k]
	delete(s.memories, k)
	return ok, nil
}

// ListMemories returns copies of every unexpired memory.
func (s *MemoryStore) ListMemories(ctx context.Context) ([]*domain.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	out := make([]*domain.Memory, 0, len(s.memories))
	for _, m := range s.memories {
		if !m.Expired(now) {
			out = append(out, m.Clone())
		}
	}
	return out, nil
}

// DeleteExpired drops every expired memory.
func (s *MemoryStore) DeleteExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for k, m := range s.memories {
		if m.Expired(now) {
			delete(s.memories, k)
			removed++
		}
	}
	return removed, nil
}

// SaveProject stores a copy of p.
func (s *MemoryStore) SaveProject(ctx context.Context, p *domain.ProjectContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.projects[p.ProjectID] = p.Clone()
	return nil
}

// GetProject returns a copy of the project context.
func (s *MemoryStore) GetProject(ctx context.Context, id string) (*domain.ProjectContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, domain.ErrNotFound)
	}
	return p.Clone(), nil
}

// ListProjects returns copies of every project context.
func (s *MemoryStore) ListProjects(ctx context.Context) ([]*domain.ProjectContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.ProjectContext, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p.Clone())
	}
	return out, nil
}
