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

const (
	memoryKeyPrefix  = "construtor:memory:"
	projectKeyPrefix = "construtor:project:"
)

var _ ports.MemoryStorage = (*MemoryStore)(nil)

// MemoryStore implements ports.MemoryStorage on Redis. Each memory is a
// JSON string whose key expires with the memory; project contexts never
// expire.
type MemoryStore struct {
	client redis.UniversalClient
	logger *zap.Logger
	now    func() time.Time
}

// NewMemoryStore creates a Redis-backed memory store.
func NewMemoryStore(client redis.UniversalClient, logger *zap.Logger) *MemoryStore {
	return &MemoryStore{client: client, logger: logger, now: domain.Now}
}

func memoryKey(category, key string) string {
	return memoryKeyPrefix + domain.MemoryKey(category, key)
}

func projectKey(id string) string {
	return projectKeyPrefix + id
}

// SaveMemory implements ports.MemoryStorage.
func (s *MemoryStore) SaveMemory(ctx context.Context, m *domain.Memory) error {
	key := memoryKey(m.Category, m.Key)

	var ttl time.Duration
	if m.ExpiresAt != nil {
		ttl = m.ExpiresAt.Sub(s.now())
		if ttl <= 0 {
			if err := s.client.Del(ctx, key).Err(); err != nil {
				return unavailable("delete memory", err)
			}
			return nil
		}
	}

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal memory: %w", err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return unavailable("save memory", err)
	}

	s.logger.Debug("memory saved",
		zap.String("category", m.Category),
		zap.String("key", m.Key),
		zap.Duration("ttl", ttl))
	return nil
}

// GetMemory implements ports.MemoryStorage.
func (s *MemoryStore) GetMemory(ctx context.Context, category, key string) (*domain.Memory, error) {
	m, err := s.load(ctx, memoryKey(category, key))
	if err != nil {
		return nil, err
	}
	if m == nil || m.Expired(s.now()) {
		return nil, fmt.Errorf("memory %s: %w", domain.MemoryKey(category, key), domain.ErrNotFound)
	}
	return m, nil
}

func (s *MemoryStore) load(ctx context.Context, key string) (*domain.Memory, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get memory", err)
	}

	var m domain.Memory
	if err := json.Unmarshal(data, &m); err != nil {
		s.logger.Warn("skipping malformed memory record", zap.String("key", key), zap.Error(err))
		return nil, nil
	}
	return &m, nil
}

// DeleteMemory implements ports.MemoryStorage.
func (s *MemoryStore) DeleteMemory(ctx context.Context, category, key string) (bool, error) {
	n, err := s.client.Del(ctx, memoryKey(category, key)).Result()
	if err != nil {
		return false, unavailable("delete memory", err)
	}
	return n > 0, nil
}

// ListMemories implements ports.MemoryStorage.
func (s *MemoryStore) ListMemories(ctx context.Context) ([]*domain.Memory, error) {
	keys, err := scanKeys(ctx, s.client, memoryKeyPrefix+"*")
	if err != nil {
		return nil, unavailable("scan memories", err)
	}

	now := s.now()
	out := make([]*domain.Memory, 0, len(keys))
	for _, key := range keys {
		m, err := s.load(ctx, key)
		if err != nil {
			return nil, err
		}
		if m == nil || m.Expired(now) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// DeleteExpired implements ports.MemoryStorage. Redis expires keys on its
// own; this catches records whose expiry passed by the caller's clock.
func (s *MemoryStore) DeleteExpired(ctx context.Context) (int, error) {
	keys, err := scanKeys(ctx, s.client, memoryKeyPrefix+"*")
	if err != nil {
		return 0, unavailable("scan memories", err)
	}

	now := s.now()
	removed := 0
	for _, key := range keys {
		m, err := s.load(ctx, key)
		if err != nil {
			return removed, err
		}
		if m == nil || !m.Expired(now) {
			continue
		}
		n, err := s.client.Del(ctx, key).Result()
		if err != nil {
			return removed, unavailable("delete memory", err)
		}
		removed += int(n)
	}
	return removed, nil
}

// SaveProject implements ports.MemoryStorage.
func (s *MemoryStore) SaveProject(ctx context.Context, p *domain.ProjectContext) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal project context: %w", err)
	}
	if err := s.client.Set(ctx, projectKey(p.ProjectID), data, 0).Err(); err != nil {
		return unavailable("save project context", err)
	}
	return nil
}

// GetProject implements ports.MemoryStorage.
func (s *MemoryStore) GetProject(ctx context.Context, id string) (*domain.ProjectContext, error) {
	data, err := s.client.Get(ctx, projectKey(id)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("project %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("get project context", err)
	}

	var p domain.ProjectContext
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal project context: %w", err)
	}
	return &p, nil
}

// ListProjects implements ports.MemoryStorage.
func (s *MemoryStore) ListProjects(ctx context.Context) ([]*domain.ProjectContext, error) {
	keys, err := scanKeys(ctx, s.client, projectKeyPrefix+"*")
	if err != nil {
		return nil, unavailable("scan projects", err)
	}

	out := make([]*domain.ProjectContext, 0, len(keys))
	for _, key := range keys {
		data, err := s.client.Get(ctx, key).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, unavailable("get project context", err)
		}

		var p domain.ProjectContext
		if err := json.Unmarshal(data, &p); err != nil {
			s.logger.Warn("skipping malformed project record", zap.String("key", key), zap.Error(err))
			continue
		}
		out = append(out, &p)
	}
	return out, nil
}
