package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/zeebo/blake3"
)

// Algorithm — алгоритм контент-хэша. Меняется только вместе с миграцией данных:
// дедупликация и раскладка по шардам зависят от значения хэша.
type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	BLAKE3 Algorithm = "blake3"
)

// Hasher считает детерминированный отпечаток содержимого.
// Результат — 64 hex-символа в нижнем регистре, безопасен для имени файла.
type Hasher struct {
	algo Algorithm
}

func New(algo Algorithm) (*Hasher, error) {
	switch Algorithm(strings.ToLower(string(algo))) {
	case "", SHA256:
		return &Hasher{algo: SHA256}, nil
	case BLAKE3:
		return &Hasher{algo: BLAKE3}, nil
	default:
		return nil, fmt.Errorf("unknown hash algorithm %q", algo)
	}
}

// NewDefault — sha256
func NewDefault() *Hasher { return &Hasher{algo: SHA256} }

func (h *Hasher) Algorithm() Algorithm { return h.algo }

func (h *Hasher) Hash(data []byte) string {
	switch h.algo {
	case BLAKE3:
		sum := blake3.Sum256(data)
		return hex.EncodeToString(sum[:])
	default:
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:])
	}
}

// HashReader считает хэш потоком и возвращает число прочитанных байт.
func (h *Hasher) HashReader(r io.Reader) (string, int64, error) {
	w := h.newHash()
	n, err := io.Copy(w, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(w.Sum(nil)), n, nil
}

func (h *Hasher) newHash() hash.Hash {
	if h.algo == BLAKE3 {
		return blake3.New()
	}
	return sha256.New()
}

// Valid проверяет, что строка похожа на наш дайджест.
func Valid(digest string) bool {
	if len(digest) != 64 {
		return false
	}
	for _, c := range digest {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}
