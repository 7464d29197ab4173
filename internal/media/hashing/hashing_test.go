package hashing

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHash_Deterministic(t *testing.T) {
	for _, algo := range []Algorithm{SHA256, BLAKE3} {
		t.Run(string(algo), func(t *testing.T) {
			h, err := New(algo)
			require.NoError(t, err)

			a := h.Hash([]byte("hello"))
			b := h.Hash([]byte("hello"))
			assert.Equal(t, a, b)
			assert.Len(t, a, 64)
			assert.True(t, Valid(a))
			assert.NotEqual(t, a, h.Hash([]byte("hello!")))
		})
	}
}

func TestHash_KnownSHA256(t *testing.T) {
	h := NewDefault()
	assert.Equal(t,
		"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		h.Hash([]byte("hello")))
}

func TestHash_AlgorithmsDiffer(t *testing.T) {
	s, _ := New(SHA256)
	b, _ := New(BLAKE3)
	assert.NotEqual(t, s.Hash([]byte("x")), b.Hash([]byte("x")))
}

func TestHashReader_MatchesHash(t *testing.T) {
	for _, algo := range []Algorithm{SHA256, BLAKE3} {
		h, _ := New(algo)
		data := bytes.Repeat([]byte("abc"), 10000)
		got, n, err := h.HashReader(bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, int64(len(data)), n)
		assert.Equal(t, h.Hash(data), got)
	}
}

func TestNew_Unknown(t *testing.T) {
	_, err := New("md5")
	assert.Error(t, err)

	h, err := New("")
	require.NoError(t, err)
	assert.Equal(t, SHA256, h.Algorithm())
}

func TestValid(t *testing.T) {
	assert.False(t, Valid("abc"))
	assert.False(t, Valid("ZZf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"))
}
