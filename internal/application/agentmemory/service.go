package agentmemory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aescanero/construtor/pkg/domain"
	"github.com/aescanero/construtor/pkg/ports"
)

const (
	DefaultSearchLimit  = 10
	DefaultListLimit    = 100
	DefaultShortTermTTL = time.Hour
)

// ErrInvalidMemory is returned for a memory without a key.
var ErrInvalidMemory = errors.New("invalid memory")

// Config configures a Service.
type Config struct {
	Storage ports.MemoryStorage
	Logger  *zap.Logger

	// ShortTermTTL is the lifetime of short-term memories stored without
	// an explicit TTL. Negative keeps them until deleted.
	ShortTermTTL time.Duration
}

// Service is the agent and project memory: keyed knowledge with optional
// expiry, per-agent history and per-project context.
type Service struct {
	store    ports.MemoryStorage
	logger   *zap.Logger
	shortTTL time.Duration
	now      func() time.Time

	// mu serialises read-modify-write cycles within this process.
	mu sync.Mutex
}

// New creates a Service.
func New(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.ShortTermTTL == 0 {
		cfg.ShortTermTTL = DefaultShortTermTTL
	}
	return &Service{
		store:    cfg.Storage,
		logger:   cfg.Logger,
		shortTTL: cfg.ShortTermTTL,
		now:      domain.Now,
	}
}

// Option customises a stored memory.
type Option func(*storeOptions)

type storeOptions struct {
	memType   domain.MemoryType
	category  string
	ttl       time.Duration
	projectID string
	agentID   string
	tags      []string
	metadata  map[string]any
	relevance float64
}

func WithType(t domain.MemoryType) Option {
	return func(o *storeOptions) { o.memType = t }
}

func WithCategory(c string) Option {
	return func(o *storeOptions) { o.category = c }
}

// WithTTL makes the memory expire after d. Zero or negative keeps it
// until deleted.
func WithTTL(d time.Duration) Option {
	return func(o *storeOptions) { o.ttl = d }
}

func WithProject(id string) Option {
	return func(o *storeOptions) { o.projectID = id }
}

func WithAgent(id string) Option {
	return func(o *storeOptions) { o.agentID = id }
}

func WithTags(tags ...string) Option {
	return func(o *storeOptions) { o.tags = append(o.tags, tags...) }
}

func WithMetadata(md map[string]any) Option {
	return func(o *storeOptions) { o.metadata = md }
}

func WithRelevance(score float64) Option {
	return func(o *storeOptions) { o.relevance = score }
}

// Store saves content under (category, key), replacing any memory
// already there.
func (s *Service) Store(ctx context.Context, key string, content any, opts ...Option) (*domain.Memory, error) {
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("%w: key is required", ErrInvalidMemory)
	}
	o := storeOptions{
		memType:   domain.MemoryLongTerm,
		category:  domain.CategoryGeneral,
		relevance: 1,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.category == "" {
		o.category = domain.CategoryGeneral
	}
	if o.ttl == 0 && o.memType == domain.MemoryShortTerm && s.shortTTL > 0 {
		o.ttl = s.shortTTL
	}

	now := s.now()
	m := &domain.Memory{
		ID:             uuid.NewString(),
		Type:           o.memType,
		Category:       o.category,
		Key:            key,
		Content:        content,
		Metadata:       o.metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
		RelevanceScore: o.relevance,
		ProjectID:      o.projectID,
		AgentID:        o.agentID,
		Tags:           o.tags,
	}
	if m.Metadata == nil {
		m.Metadata = map[string]any{}
	}
	if m.Tags == nil {
		m.Tags = []string{}
	}
	if o.ttl > 0 {
		m.ExpiresAt = domain.TimePtr(now.Add(o.ttl))
	}

	if err := s.store.SaveMemory(ctx, m); err != nil {
		return nil, err
	}
	s.logger.Debug("memory stored",
		zap.String("category", m.Category),
		zap.String("key", m.Key),
		zap.String("type", string(m.Type)))
	return m, nil
}

// Retrieve returns the memory at (category, key) and counts the access.
func (s *Service) Retrieve(ctx context.Context, category, key string) (*domain.Memory, error) {
	if category == "" {
		category = domain.CategoryGeneral
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.store.GetMemory(ctx, category, key)
	if err != nil {
		return nil, err
	}
	m.AccessCount++
	m.UpdatedAt = s.now()
	if err := s.store.SaveMemory(ctx, m); err != nil {
		s.logger.Warn("failed to record memory access",
			zap.String("category", category),
			zap.String("key", key),
			zap.Error(err))
	}
	return m, nil
}

// Delete removes the memory at (category, key).
func (s *Service) Delete(ctx context.Context, category, key string) (bool, error) {
	if category == "" {
		category = domain.CategoryGeneral
	}
	return s.store.DeleteMemory(ctx, category, key)
}

// Query filters Search. Empty fields match everything; Tags matches a
// memory carrying any of them.
type Query struct {
	Text      string
	Category  string
	Tags      []string
	ProjectID string
	AgentID   string
	Limit     int
}

func (q Query) matches(m *domain.Memory, text string) bool {
	if q.Category != "" && m.Category != q.Category {
		return false
	}
	if q.ProjectID != "" && m.ProjectID != q.ProjectID {
		return false
	}
	if q.AgentID != "" && m.AgentID != q.AgentID {
		return false
	}
	if len(q.Tags) > 0 && !m.HasAnyTag(q.Tags) {
		return false
	}
	if text == "" {
		return true
	}
	if strings.Contains(strings.ToLower(m.Key), text) {
		return true
	}
	raw, err := json.Marshal(m.Content)
	return err == nil && strings.Contains(strings.ToLower(string(raw)), text)
}

// Search returns matching memories, most relevant and most accessed
// first.
func (s *Service) Search(ctx context.Context, q Query) ([]*domain.Memory, error) {
	if q.Limit <= 0 {
		q.Limit = DefaultSearchLimit
	}
	all, err := s.store.ListMemories(ctx)
	if err != nil {
		return nil, err
	}

	text := strings.ToLower(strings.TrimSpace(q.Text))
	var out []*domain.Memory
	for _, m := range all {
		if q.matches(m, text) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.RelevanceScore != b.RelevanceScore {
			return a.RelevanceScore > b.RelevanceScore
		}
		if a.AccessCount != b.AccessCount {
			return a.AccessCount > b.AccessCount
		}
		return a.StorageKey() < b.StorageKey()
	})
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// ByCategory returns up to limit memories of a category.
func (s *Service) ByCategory(ctx context.Context, category string, limit int) ([]*domain.Memory, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return s.Search(ctx, Query{Category: category, Limit: limit})
}

// ByTags returns up to limit memories carrying any of tags.
func (s *Service) ByTags(ctx context.Context, tags []string, limit int) ([]*domain.Memory, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return s.Search(ctx, Query{Tags: tags, Limit: limit})
}

func agentKey(agentID, key string) string {
	return agentID + ":" + key
}

// StoreAgentMemory records an episodic memory owned by agentID.
func (s *Service) StoreAgentMemory(ctx context.Context, agentID, key string, content any, opts ...Option) (*domain.Memory, error) {
	opts = append([]Option{
		WithType(domain.MemoryEpisodic),
		WithCategory(domain.CategoryAgentMemory),
	}, opts...)
	opts = append(opts, WithAgent(agentID))
	return s.Store(ctx, agentKey(agentID, key), content, opts...)
}

// AgentMemory retrieves a memory stored with StoreAgentMemory.
func (s *Service) AgentMemory(ctx context.Context, agentID, key string) (*domain.Memory, error) {
	return s.Retrieve(ctx, domain.CategoryAgentMemory, agentKey(agentID, key))
}

// AgentHistory returns agentID's memories, newest first.
func (s *Service) AgentHistory(ctx context.Context, agentID string, limit int) ([]*domain.Memory, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	all, err := s.store.ListMemories(ctx)
	if err != nil {
		return nil, err
	}

	var out []*domain.Memory
	for _, m := range all {
		if m.AgentID == agentID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Key < out[j].Key
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CleanupExpired removes expired memories.
func (s *Service) CleanupExpired(ctx context.Context) (int, error) {
	n, err := s.store.DeleteExpired(ctx)
	if err != nil {
		return n, err
	}
	if n > 0 {
		s.logger.Info("expired memories removed", zap.Int("count", n))
	}
	return n, nil
}

// RunCleanup calls CleanupExpired every interval until ctx is done.
func (s *Service) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.CleanupExpired(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("memory cleanup failed", zap.Error(err))
			}
		}
	}
}

// Stats summarises the stored memories and projects.
type Stats struct {
	TotalMemories int            `json:"total_memories"`
	TotalProjects int            `json:"total_projects"`
	ByType        map[string]int `json:"by_type"`
	ByCategory    map[string]int `json:"by_category"`
}

// Stats counts unexpired memories by type and category.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	memories, err := s.store.ListMemories(ctx)
	if err != nil {
		return Stats{}, err
	}
	projects, err := s.store.ListProjects(ctx)
	if err != nil {
		return Stats{}, err
	}

	st := Stats{
		TotalMemories: len(memories),
		TotalProjects: len(projects),
		ByType:        map[string]int{},
		ByCategory:    map[string]int{},
	}
	for _, m := range memories {
		st.ByType[string(m.Type)]++
		st.ByCategory[m.Category]++
	}
	return st, nil
}
