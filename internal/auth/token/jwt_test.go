package token

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EgorLis/my-media/internal/domain"
)

func TestIssueParse(t *testing.T) {
	m := New("secret", "my-media", time.Hour)
	ctx := context.Background()
	p := domain.Principal{ID: uuid.New(), Login: "alice", Tenant: uuid.New(), Admin: true}

	raw, issued, err := m.Issue(ctx, p)
	require.NoError(t, err)
	assert.NotEmpty(t, issued.JTI)

	got, err := m.Parse(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.UserID)
	assert.Equal(t, p.Tenant, got.Tenant)
	assert.Equal(t, "alice", got.Login)
	assert.True(t, got.Admin)
	assert.Equal(t, issued.JTI, got.JTI)
}

func TestParse_Rejects(t *testing.T) {
	ctx := context.Background()
	p := domain.Principal{ID: uuid.New()}

	raw, _, err := New("secret", "my-media", time.Hour).Issue(ctx, p)
	require.NoError(t, err)

	_, err = New("other", "my-media", time.Hour).Parse(ctx, raw)
	assert.Error(t, err, "wrong secret")

	_, err = New("secret", "someone-else", time.Hour).Parse(ctx, raw)
	assert.Error(t, err, "wrong issuer")

	expired, _, err := New("secret", "my-media", -time.Minute).Issue(ctx, p)
	require.NoError(t, err)
	_, err = New("secret", "my-media", time.Hour).Parse(ctx, expired)
	assert.Error(t, err, "expired")

	_, err = New("secret", "my-media", time.Hour).Parse(ctx, "not-a-token")
	assert.Error(t, err)
}
