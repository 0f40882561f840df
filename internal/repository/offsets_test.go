package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"rsvp/internal/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryOffsetRepository(t *testing.T) {
	repo := NewMemoryOffsetRepository()
	ctx := context.Background()

	_, ok, err := repo.GetOffset(ctx, "exporter")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.SetOffset(ctx, "exporter", 10))
	seq, ok, err := repo.GetOffset(ctx, "exporter")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(10), seq)

	// Stale ack must not rewind.
	require.NoError(t, repo.SetOffset(ctx, "exporter", 7))
	seq, _, _ = repo.GetOffset(ctx, "exporter")
	assert.Equal(t, int64(10), seq)

	require.NoError(t, repo.ClearOffset(ctx, "exporter"))
	_, ok, err = repo.GetOffset(ctx, "exporter")
	require.NoError(t, err)
	assert.False(t, ok)
}

func setupRedisRepo(t *testing.T) (*miniredis.Miniredis, *RedisOffsetRepository) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := NewRedisClient(config.RedisConfig{Address: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisOffsetRepository(client, time.Hour)
}

func TestRedisOffsetRepository(t *testing.T) {
	mr, repo := setupRedisRepo(t)
	ctx := context.Background()

	_, ok, err := repo.GetOffset(ctx, "exporter")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.SetOffset(ctx, "exporter", 42))
	seq, ok, err := repo.GetOffset(ctx, "exporter")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(42), seq)

	val, err := mr.Get("feed_offset:exporter")
	require.NoError(t, err)
	assert.Equal(t, "42", val)

	require.NoError(t, repo.SetOffset(ctx, "exporter", 41))
	seq, _, _ = repo.GetOffset(ctx, "exporter")
	assert.Equal(t, int64(42), seq)

	require.NoError(t, repo.ClearOffset(ctx, "exporter"))
	_, ok, _ = repo.GetOffset(ctx, "exporter")
	assert.False(t, ok)
}

func TestRedisOffsetRepositoryCorruptValue(t *testing.T) {
	mr, repo := setupRedisRepo(t)

	require.NoError(t, mr.Set("feed_offset:exporter", "not-a-number"))
	_, _, err := repo.GetOffset(context.Background(), "exporter")
	assert.Error(t, err)
}

// brokenOffsetRepository fails every call until revived.
type brokenOffsetRepository struct {
	down bool
}

var errRepoDown = errors.New("repository down")

func (b *brokenOffsetRepository) GetOffset(context.Context, string) (int64, bool, error) {
	if b.down {
		return 0, false, errRepoDown
	}
	return 0, false, nil
}

func (b *brokenOffsetRepository) SetOffset(context.Context, string, int64) error {
	if b.down {
		return errRepoDown
	}
	return nil
}

func (b *brokenOffsetRepository) ClearOffset(context.Context, string) error {
	if b.down {
		return errRepoDown
	}
	return nil
}

func TestFailoverFallsBackOnPrimaryError(t *testing.T) {
	logger := zerolog.New(io.Discard)
	primary := &brokenOffsetRepository{down: true}
	fallback := NewMemoryOffsetRepository()
	repo := NewFailoverOffsetRepository(primary, fallback, &logger)
	ctx := context.Background()

	require.NoError(t, repo.SetOffset(ctx, "exporter", 5))

	seq, ok, err := repo.GetOffset(ctx, "exporter")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(5), seq)

	// Subsequent Set goes straight to the fallback without touching the
	// primary again inside the probe cooldown.
	require.NoError(t, repo.SetOffset(ctx, "exporter", 6))
	seq, _, _ = fallback.GetOffset(ctx, "exporter")
	assert.Equal(t, int64(6), seq)
}

func TestFailoverMirrorsToFallback(t *testing.T) {
	logger := zerolog.New(io.Discard)
	primary := NewMemoryOffsetRepository()
	fallback := NewMemoryOffsetRepository()
	repo := NewFailoverOffsetRepository(primary, fallback, &logger)
	ctx := context.Background()

	require.NoError(t, repo.SetOffset(ctx, "exporter", 9))

	seq, ok, _ := primary.GetOffset(ctx, "exporter")
	assert.True(t, ok)
	assert.Equal(t, int64(9), seq)

	seq, ok, _ = fallback.GetOffset(ctx, "exporter")
	assert.True(t, ok, "healthy writes are mirrored for a clean failover")
	assert.Equal(t, int64(9), seq)
}
