package postgres

import (
	"context"
	"io"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EgorLis/my-media/internal/domain"
)

// Интеграционные тесты: нужна живая база в POSTGRES_TEST_DSN.
// Миграции применяются к ней же; каждый тест работает со своим владельцем.
func newIntegrationRepo(t *testing.T) *PGRepo {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	r, err := NewPGRepo(context.Background(), log.New(io.Discard, "", 0), dsn, "media")
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

func newAsset(owner uuid.UUID, hash string, c domain.Category) domain.Asset {
	return domain.Asset{
		OwnerID:     owner,
		TenantID:    owner,
		ContentHash: hash,
		MIME:        "image/jpeg",
		SizeBytes:   3,
		ShardPath:   hash[:2] + "/" + hash[2:4],
		StoredName:  hash + ".jpg",
		Category:    c,
		SlotKey:     c.NormalizeSlot(""),
	}
}

func TestPG_LiveContentIsUnique(t *testing.T) {
	r := newIntegrationRepo(t)
	ctx := context.Background()
	owner := uuid.New()

	a, err := r.Create(ctx, newAsset(owner, "aaaa1111", domain.CategoryGeneric))
	require.NoError(t, err)
	assert.Positive(t, a.Seq)
	assert.Equal(t, domain.LifecycleActive, a.Lifecycle)

	// ON CONFLICT ... WHERE находит частичный индекс: дубль не вставляется
	_, err = r.Create(ctx, newAsset(owner, "aaaa1111", domain.CategoryGeneric))
	assert.ErrorIs(t, err, domain.ErrConflict)

	other := newAsset(owner, "aaaa1111", domain.CategoryGeneric)
	other.MIME = "image/pjpeg"
	b, err := r.Create(ctx, other)
	require.NoError(t, err)

	inUse, err := r.KeyInUse(ctx, a.StorageKey(), a.ID)
	require.NoError(t, err)
	assert.True(t, inUse, "same key under another mime")

	// захваченная сборщиком строка индекс не занимает
	changed, err := r.RequestDeletion(ctx, a.ID, owner, time.Now())
	require.NoError(t, err)
	require.True(t, changed)
	claimed, err := r.ClaimForDeletion(ctx, a.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	again, err := r.Create(ctx, newAsset(owner, "aaaa1111", domain.CategoryGeneric))
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, again.ID)

	found, err := r.FindByOwnerAndHash(ctx, owner, "aaaa1111", "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, again.ID, found.ID, "live row wins over claimed one")

	deleted, err := r.DeleteClaimed(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = r.DeleteClaimed(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, deleted, "only claimed rows are deleted")
}

func TestPG_SlotAllowsSingleActive(t *testing.T) {
	r := newIntegrationRepo(t)
	ctx := context.Background()
	owner := uuid.New()

	first, err := r.Create(ctx, newAsset(owner, "bbbb0001", domain.CategoryProfilePicture))
	require.NoError(t, err)

	// прямая вставка второго active в слот упирается в EXCLUDE
	_, err = r.Create(ctx, newAsset(owner, "bbbb0002", domain.CategoryProfilePicture))
	assert.ErrorIs(t, err, domain.ErrConflict)

	// вставка раньше вытеснения в одной транзакции: проверка отложена до коммита
	second, n, err := r.CreateExclusive(ctx, newAsset(owner, "bbbb0003", domain.CategoryProfilePicture), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	active, err := r.FindActiveBySlot(ctx, second.Slot())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, second.ID, active[0].ID)

	got, err := r.ByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LifecyclePendingDeletion, got.Lifecycle)
	require.NotNil(t, got.DeletionRequestedBy)
	assert.Equal(t, owner, *got.DeletionRequestedBy)
}

func TestPG_ConcurrentSlotUploads(t *testing.T) {
	r := newIntegrationRepo(t)
	ctx := context.Background()
	owner := uuid.New()

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			hash := "cccc" + uuid.NewString()[:8]
			_, _, errs[i] = r.CreateExclusive(ctx, newAsset(owner, hash, domain.CategoryProfilePicture), time.Now())
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err, "advisory lock serialises slot writers")
	}

	active, err := r.FindActiveBySlot(ctx, domain.SlotRef{OwnerID: owner, Category: domain.CategoryProfilePicture, SlotKey: domain.DefaultSlotKey})
	require.NoError(t, err)
	assert.Len(t, active, 1)

	slots, err := r.FindOvercrowdedSlots(ctx, 1000)
	require.NoError(t, err)
	for _, s := range slots {
		assert.NotEqual(t, owner, s.OwnerID)
	}
}

func TestPG_ResurrectExclusive(t *testing.T) {
	r := newIntegrationRepo(t)
	ctx := context.Background()
	owner := uuid.New()

	a, err := r.Create(ctx, newAsset(owner, "dddd0001", domain.CategoryProfilePicture))
	require.NoError(t, err)
	b, _, err := r.CreateExclusive(ctx, newAsset(owner, "dddd0002", domain.CategoryProfilePicture), time.Now())
	require.NoError(t, err)

	ok, n, err := r.ResurrectExclusive(ctx, a, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1), n)

	gotB, err := r.ByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LifecyclePendingDeletion, gotB.Lifecycle)

	ok, _, err = r.ResurrectExclusive(ctx, a, time.Now())
	require.NoError(t, err)
	assert.False(t, ok, "already active")
}

func TestPG_LockKey(t *testing.T) {
	r := newIntegrationRepo(t)
	ctx := context.Background()
	key := "owner/" + uuid.NewString()

	unlock, err := r.LockKey(ctx, key)
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	_, err = r.LockKey(short, key)
	assert.Error(t, err, "same key is held")

	other, err := r.LockKey(ctx, key+"-other")
	require.NoError(t, err)
	other()

	unlock()
	unlock()
	again, err := r.LockKey(ctx, key)
	require.NoError(t, err)
	again()
}
