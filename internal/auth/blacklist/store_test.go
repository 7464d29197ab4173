package blacklist

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRevoke(t *testing.T) {
	s := NewStore()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	revoked, err := s.IsRevoked(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, s.Revoke(ctx, "abc", now.Add(time.Hour)))
	revoked, err = s.IsRevoked(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, revoked)

	// после exp запись больше не нужна
	now = now.Add(time.Hour + time.Second)
	revoked, err = s.IsRevoked(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, revoked)
	assert.Zero(t, s.Len())
}

func TestRevoke_ExpiredTokenKeptForAMinute(t *testing.T) {
	s := NewStore()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.Revoke(ctx, "old", now.Add(-time.Hour)))
	revoked, _ := s.IsRevoked(ctx, "old")
	assert.True(t, revoked)

	now = now.Add(61 * time.Second)
	revoked, _ = s.IsRevoked(ctx, "old")
	assert.False(t, revoked)
}

func TestRevoke_PrunesExpired(t *testing.T) {
	s := NewStore()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	for _, jti := range []string{"a", "b", "c"} {
		require.NoError(t, s.Revoke(ctx, jti, now.Add(time.Minute)))
	}
	require.Equal(t, 3, s.Len())

	now = now.Add(2 * time.Minute)
	require.NoError(t, s.Revoke(ctx, "d", now.Add(time.Hour)))
	assert.Equal(t, 1, s.Len())
}
