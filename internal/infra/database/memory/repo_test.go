package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EgorLis/my-media/internal/domain"
)

func asset(owner uuid.UUID, hash string, c domain.Category) domain.Asset {
	return domain.Asset{
		OwnerID:     owner,
		ContentHash: hash,
		MIME:        "image/jpeg",
		SizeBytes:   10,
		ShardPath:   "ab/cd",
		StoredName:  hash + ".jpg",
		Category:    c,
		SlotKey:     c.NormalizeSlot(""),
	}
}

func TestCreate_ConflictOnLiveDuplicate(t *testing.T) {
	r := New()
	ctx := context.Background()
	owner := uuid.New()

	first, err := r.Create(ctx, asset(owner, "aaaa", domain.CategoryGeneric))
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Seq)
	assert.Equal(t, domain.LifecycleActive, first.Lifecycle)
	assert.Equal(t, domain.ProcessingUnprocessed, first.Processing)

	_, err = r.Create(ctx, asset(owner, "aaaa", domain.CategoryGeneric))
	assert.ErrorIs(t, err, domain.ErrConflict)

	// другой владелец — отдельная копия
	_, err = r.Create(ctx, asset(uuid.New(), "aaaa", domain.CategoryGeneric))
	assert.NoError(t, err)
}

func TestCreateExclusive_SupersedesOthers(t *testing.T) {
	r := New()
	ctx := context.Background()
	owner := uuid.New()
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	a, n, err := r.CreateExclusive(ctx, asset(owner, "aaaa", domain.CategoryProfilePicture), at)
	require.NoError(t, err)
	assert.Zero(t, n)

	b, n, err := r.CreateExclusive(ctx, asset(owner, "bbbb", domain.CategoryProfilePicture), at)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	active, err := r.FindActiveBySlot(ctx, b.Slot())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, b.ID, active[0].ID)

	old, err := r.ByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LifecyclePendingDeletion, old.Lifecycle)
	require.NotNil(t, old.DeletionRequestedAt)
	assert.True(t, old.DeletionRequestedAt.Equal(at))
	require.NotNil(t, old.DeletionRequestedBy)
	assert.Equal(t, owner, *old.DeletionRequestedBy)
}

func TestRequestDeletion_Idempotent(t *testing.T) {
	r := New()
	ctx := context.Background()
	a, err := r.Create(ctx, asset(uuid.New(), "aaaa", domain.CategoryGeneric))
	require.NoError(t, err)

	first := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	changed, err := r.RequestDeletion(ctx, a.ID, a.OwnerID, first)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = r.RequestDeletion(ctx, a.ID, a.OwnerID, first.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, changed)

	got, err := r.ByID(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.DeletionRequestedAt.Equal(first), "second request must not move the clock")

	_, err = r.RequestDeletion(ctx, uuid.New(), a.OwnerID, first)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClaimAndDelete(t *testing.T) {
	r := New()
	ctx := context.Background()
	a, err := r.Create(ctx, asset(uuid.New(), "aaaa", domain.CategoryGeneric))
	require.NoError(t, err)

	ok, err := r.ClaimForDeletion(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, ok, "active row cannot be claimed")

	_, err = r.RequestDeletion(ctx, a.ID, a.OwnerID, time.Now())
	require.NoError(t, err)

	ok, err = r.ClaimForDeletion(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.Resurrect(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, ok, "claimed row cannot be resurrected")

	claimed, err := r.FindClaimed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	// после захвата тот же контент можно вставить заново
	_, err = r.Create(ctx, asset(a.OwnerID, "aaaa", domain.CategoryGeneric))
	require.NoError(t, err)

	ok, err = r.DeleteClaimed(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = r.ByID(ctx, a.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFindExpiredPendingDeletions_StrictCutoff(t *testing.T) {
	r := New()
	ctx := context.Background()
	owner := uuid.New()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	early, _ := r.Create(ctx, asset(owner, "aaaa", domain.CategoryGallerySet))
	exact, _ := r.Create(ctx, asset(owner, "bbbb", domain.CategoryGallerySet))
	_, _ = r.RequestDeletion(ctx, early.ID, owner, base.Add(-time.Second))
	_, _ = r.RequestDeletion(ctx, exact.ID, owner, base)

	got, err := r.FindExpiredPendingDeletions(ctx, domain.CategoryGallerySet, base, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, early.ID, got[0].ID)

	got, err = r.FindExpiredPendingDeletions(ctx, domain.CategoryGeneric, base.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestKeyInUse(t *testing.T) {
	r := New()
	ctx := context.Background()
	owner := uuid.New()
	a, _ := r.Create(ctx, asset(owner, "aaaa", domain.CategoryGeneric))
	b := asset(owner, "aaaa", domain.CategoryGeneric)
	b.MIME = "image/jpg"
	b, err := r.Create(ctx, b)
	require.NoError(t, err)

	inUse, err := r.KeyInUse(ctx, a.StorageKey(), a.ID)
	require.NoError(t, err)
	assert.True(t, inUse)

	_, _ = r.RequestDeletion(ctx, b.ID, owner, time.Now())
	_, _ = r.ClaimForDeletion(ctx, b.ID)
	inUse, err = r.KeyInUse(ctx, a.StorageKey(), a.ID)
	require.NoError(t, err)
	assert.False(t, inUse)
}

func TestLockKey(t *testing.T) {
	r := New()
	ctx := context.Background()

	unlock, err := r.LockKey(ctx, "k")
	require.NoError(t, err)

	// другой ключ не ждёт
	other, err := r.LockKey(ctx, "other")
	require.NoError(t, err)
	other()

	// тот же ключ ждёт до отмены контекста
	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = r.LockKey(short, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	got := make(chan struct{})
	go func() {
		u, err := r.LockKey(ctx, "k")
		if err == nil {
			u()
		}
		close(got)
	}()
	unlock()
	unlock() // повторный вызов безопасен
	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("waiter not released")
	}
}

func TestFindOvercrowdedSlots(t *testing.T) {
	r := New()
	owner := uuid.New()
	r.Put(domain.Asset{OwnerID: owner, Category: domain.CategoryProfilePicture, SlotKey: "default", Lifecycle: domain.LifecycleActive})
	r.Put(domain.Asset{OwnerID: owner, Category: domain.CategoryProfilePicture, SlotKey: "default", Lifecycle: domain.LifecycleActive})
	r.Put(domain.Asset{OwnerID: owner, Category: domain.CategoryGallerySet, Lifecycle: domain.LifecycleActive})
	r.Put(domain.Asset{OwnerID: owner, Category: domain.CategoryGallerySet, Lifecycle: domain.LifecycleActive})

	got, err := r.FindOvercrowdedSlots(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.SlotRef{OwnerID: owner, Category: domain.CategoryProfilePicture, SlotKey: "default"}, got[0])
}

func TestMarkProcessed_StoresVariantsCopy(t *testing.T) {
	r := New()
	ctx := context.Background()
	a, _ := r.Create(ctx, asset(uuid.New(), "aaaa", domain.CategoryGeneric))

	v := domain.Variants{"thumb_sm": {Path: "x/y.thumb_sm.jpg", Size: 3}}
	require.NoError(t, r.MarkProcessed(ctx, a.ID, v))
	v["thumb_sm"] = domain.Variant{Path: "mutated"}

	got, err := r.ByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProcessingDone, got.Processing)
	assert.Equal(t, "x/y.thumb_sm.jpg", got.Variants["thumb_sm"].Path)

	assert.ErrorIs(t, r.MarkFailed(ctx, uuid.New()), domain.ErrNotFound)
}
