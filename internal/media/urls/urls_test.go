package urls

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EgorLis/my-media/internal/domain"
)

func TestResolve(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://cdn.example.com/media", "https://cdn.example.com/media/u1/ab/cd/name.jpg"},
		{"https://cdn.example.com/media/", "https://cdn.example.com/media/u1/ab/cd/name.jpg"},
		{"/static", "/static/u1/ab/cd/name.jpg"},
		{"", "/media/u1/ab/cd/name.jpg"},
	}
	for _, tc := range cases {
		r, err := New(tc.base)
		require.NoError(t, err)
		assert.Equal(t, tc.want, r.Resolve("u1", "ab/cd", "name.jpg"))
	}
}

func TestResolve_AssetAndVariants(t *testing.T) {
	owner := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	a := domain.Asset{
		OwnerID:    owner,
		ShardPath:  "2c/f2/4d/ba",
		StoredName: "2cf2.png",
		Variants: domain.Variants{
			"thumb_sm": {Path: owner.String() + "/2c/f2/4d/ba/2cf2.thumb_sm.jpg", Size: 10},
		},
	}
	r, _ := New("https://cdn.example.com")
	assert.Equal(t, "https://cdn.example.com/"+owner.String()+"/2c/f2/4d/ba/2cf2.png", r.Asset(a))
	assert.Equal(t,
		map[string]string{"thumb_sm": "https://cdn.example.com/" + owner.String() + "/2c/f2/4d/ba/2cf2.thumb_sm.jpg"},
		r.Variants(a))

	// Адрес не зависит от состояния и всегда пересчитывается одинаково
	a.Lifecycle = domain.LifecyclePendingDeletion
	assert.Equal(t, r.Asset(a), r.Asset(a))
}
