package redisx

import (
	"context"
	"io"
	"log"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EgorLis/my-media/internal/domain"
)

// Интеграционные тесты: нужен живой Redis в REDIS_TEST_ADDR.
func newTestCache(t *testing.T) *Cache {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	c := New(Config{Addr: addr, AssetTTL: time.Minute}, log.New(io.Discard, "", 0))
	require.NoError(t, c.Ping(context.Background()))
	t.Cleanup(c.Close)
	return c
}

func TestCache_AssetRoundTrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	a := domain.Asset{
		ID:         uuid.New(),
		Seq:        42,
		OwnerID:    uuid.New(),
		MIME:       "image/png",
		Category:   domain.CategoryGallerySet,
		Lifecycle:  domain.LifecycleActive,
		Processing: domain.ProcessingDone,
		Variants:   domain.Variants{"thumb_sm": {Path: "o/ab/x.thumb_sm.jpg", Size: 10}},
	}

	_, ok, err := c.GetAsset(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, ok, "miss is not an error")

	require.NoError(t, c.PutAsset(ctx, a))
	got, ok, err := c.GetAsset(ctx, a.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(42), got.Seq, "seq survives the cache")
	assert.Equal(t, a.Variants, got.Variants)

	ttl, err := c.Client().TTL(ctx, domain.CacheKeyAssetMeta(a.ID)).Result()
	require.NoError(t, err)
	assert.InDelta(t, time.Minute.Seconds(), ttl.Seconds(), 2)

	require.NoError(t, c.DropAsset(ctx, a.ID))
	_, ok, err = c.GetAsset(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_DeletedAssetIsNotCached(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	a := domain.Asset{ID: uuid.New(), Lifecycle: domain.LifecycleActive}
	require.NoError(t, c.PutAsset(ctx, a))

	a.Lifecycle = domain.LifecycleDeleted
	require.NoError(t, c.PutAsset(ctx, a))
	_, ok, err := c.GetAsset(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_CorruptEntryIsMiss(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	id := uuid.New()
	require.NoError(t, c.Client().Set(ctx, domain.CacheKeyAssetMeta(id), "{not json", time.Minute).Err())

	_, ok, err := c.GetAsset(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
	n, err := c.Client().Exists(ctx, domain.CacheKeyAssetMeta(id)).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCache_Revoke(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	jti := uuid.NewString()

	revoked, err := c.IsRevoked(ctx, jti)
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, c.Revoke(ctx, jti, time.Now().Add(time.Hour)))
	revoked, err = c.IsRevoked(ctx, jti)
	require.NoError(t, err)
	assert.True(t, revoked)
	ttl, err := c.Client().TTL(ctx, domain.CacheKeyTokenJTI(jti)).Result()
	require.NoError(t, err)
	assert.InDelta(t, time.Hour.Seconds(), ttl.Seconds(), 5)

	old := uuid.NewString()
	require.NoError(t, c.Revoke(ctx, old, time.Now().Add(-time.Hour)))
	ttl, err = c.Client().TTL(ctx, domain.CacheKeyTokenJTI(old)).Result()
	require.NoError(t, err)
	assert.InDelta(t, time.Minute.Seconds(), ttl.Seconds(), 2)
}

func TestLease_ExclusiveUntilReleased(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	key := "test:lease:" + uuid.NewString()
	l := NewLease(c.Client(), time.Minute, log.New(io.Discard, "", 0))

	release, err := l.Acquire(ctx, key)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, key)
	assert.ErrorIs(t, err, domain.ErrLeaseHeld)

	release()
	release()

	release2, err := l.Acquire(ctx, key)
	require.NoError(t, err)
	release2()
}
