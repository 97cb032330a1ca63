package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/construtor/pkg/domain"
)

func newMemory(category, key string, expires *time.Time) *domain.Memory {
	return &domain.Memory{
		ID:        key,
		Type:      domain.MemoryLongTerm,
		Category:  category,
		Key:       key,
		Content:   map[string]any{"n": 1},
		ExpiresAt: expires,
	}
}

func TestMemoryStore_SaveGetDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.SaveMemory(ctx, newMemory("general", "a", nil)))

	got, err := store.GetMemory(ctx, "general", "a")
	require.NoError(t, err)
	got.Content.(map[string]any)["n"] = 2

	again, err := store.GetMemory(ctx, "general", "a")
	require.NoError(t, err)
	assert.Equal(t, 1, again.Content.(map[string]any)["n"])

	_, err = store.GetMemory(ctx, "other", "a")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	deleted, err := store.DeleteMemory(ctx, "general", "a")
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = store.DeleteMemory(ctx, "general", "a")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestMemoryStore_HidesAndPurgesExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	require.NoError(t, store.SaveMemory(ctx, newMemory("general", "short", domain.TimePtr(now.Add(time.Minute)))))
	require.NoError(t, store.SaveMemory(ctx, newMemory("general", "long", nil)))
	require.NoError(t, store.SaveMemory(ctx, newMemory("general", "stale", domain.TimePtr(now.Add(-time.Second)))))

	all, err := store.ListMemories(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	now = now.Add(2 * time.Minute)
	_, err = store.GetMemory(ctx, "general", "short")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	all, err = store.ListMemories(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	n, err := store.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = store.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemoryStore_Projects(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.GetProject(ctx, "shop")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	p := domain.NewProjectContext("shop")
	p.TechStack = []string{"go"}
	require.NoError(t, store.SaveProject(ctx, p))
	p.TechStack[0] = "rust"

	got, err := store.GetProject(ctx, "shop")
	require.NoError(t, err)
	assert.Equal(t, []string{"go"}, got.TechStack)

	list, err := store.ListProjects(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
