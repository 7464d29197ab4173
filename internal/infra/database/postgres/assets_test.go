package postgres

import (
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EgorLis/my-media/internal/domain"
)

func newTestRepo() *PGRepo {
	return &PGRepo{schema: "media", logger: log.New(io.Discard, "", 0)}
}

func TestInsertQuery_OnConflictDoNothing(t *testing.T) {
	r := newTestRepo()
	a := domain.Asset{
		ID:          uuid.New(),
		OwnerID:     uuid.New(),
		ContentHash: "abcd",
		MIME:        "image/jpeg",
		ShardPath:   "ab/cd",
		StoredName:  "abcd.jpg",
		Category:    domain.CategoryProfilePicture,
		SlotKey:     "default",
	}
	ib, err := r.insertQuery(a)
	require.NoError(t, err)
	sqlStr, args, err := ib.ToSql()
	require.NoError(t, err)

	assert.Contains(t, sqlStr, "INSERT INTO media.assets")
	assert.Contains(t, sqlStr, "ON CONFLICT (owner_id, content_hash, mime_type) WHERE lifecycle_state <> 'deleted' DO NOTHING")
	assert.Contains(t, sqlStr, "RETURNING id, seq")
	assert.Contains(t, args, a.StorageKey())
	assert.Contains(t, args, true, "slot_exclusive must be derived from category")
	assert.Contains(t, args, "{}", "nil variants stored as empty object")
	assert.Contains(t, args, string(domain.ProcessingUnprocessed))
}

func TestSupersedeQuery(t *testing.T) {
	r := newTestRepo()
	owner, keep := uuid.New(), uuid.New()
	slot := domain.SlotRef{OwnerID: owner, Category: domain.CategoryProfilePicture, SlotKey: "default"}

	sqlStr, args, err := r.supersedeQuery(slot, keep, time.Now()).ToSql()
	require.NoError(t, err)
	assert.Contains(t, sqlStr, "UPDATE media.assets SET")
	assert.Contains(t, sqlStr, "lifecycle_state = $")
	assert.Contains(t, sqlStr, "id <> $")
	assert.Contains(t, args, string(domain.LifecyclePendingDeletion))
	assert.Contains(t, args, string(domain.LifecycleActive))
	assert.Contains(t, args, keep)
}

func TestResurrectQuery_OnlyFromPending(t *testing.T) {
	r := newTestRepo()
	id := uuid.New()
	sqlStr, args, err := r.resurrectQuery(id).ToSql()
	require.NoError(t, err)
	assert.Contains(t, sqlStr, "deletion_requested_at = $")
	assert.Contains(t, sqlStr, "WHERE id = $")
	assert.Contains(t, args, string(domain.LifecyclePendingDeletion))
	assert.Contains(t, args, string(domain.LifecycleActive))
}

func TestExpiredQuery_StrictCutoffAndLimit(t *testing.T) {
	r := newTestRepo()
	cutoff := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sqlStr, args, err := r.expiredQuery(domain.CategoryGallerySet, cutoff, 0).ToSql()
	require.NoError(t, err)
	assert.Contains(t, sqlStr, "deletion_requested_at < $")
	assert.Contains(t, sqlStr, "LIMIT 100")
	assert.Contains(t, args, cutoff)
	assert.Contains(t, args, string(domain.CategoryGallerySet))
}

func TestSlotLockQuery_KeyIncludesSlotAddress(t *testing.T) {
	r := newTestRepo()
	owner := uuid.New()
	sqlStr, args := r.slotLockQuery(domain.SlotRef{OwnerID: owner, Category: domain.CategoryApplicationPhoto, SlotKey: "front"})
	assert.Contains(t, sqlStr, "pg_advisory_xact_lock")
	require.Len(t, args, 1)
	assert.Equal(t, owner.String()+"|application_photo|front", args[0])
}

func TestMapErr(t *testing.T) {
	assert.NoError(t, mapErr(nil))
	assert.ErrorIs(t, mapErr(pgx.ErrNoRows), domain.ErrNotFound)
	assert.ErrorIs(t, mapErr(&pgconn.PgError{Code: "23505", ConstraintName: "assets_live_content_uq"}), domain.ErrConflict)
	assert.ErrorIs(t, mapErr(&pgconn.PgError{Code: "23P01"}), domain.ErrConflict)

	other := errors.New("boom")
	assert.Equal(t, other, mapErr(other))
}

func TestNormLimit(t *testing.T) {
	assert.Equal(t, 100, normLimit(0))
	assert.Equal(t, 100, normLimit(-5))
	assert.Equal(t, 100, normLimit(5000))
	assert.Equal(t, 25, normLimit(25))
}
