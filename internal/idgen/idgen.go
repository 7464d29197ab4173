package idgen

import (
	"errors"
	"fmt"
	mrand "math/rand"

	"github.com/sqids/sqids-go"
)

const DefaultAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Тег сущности внутри public id: не даёт подставить id одной сущности вместо другой
const entityAsset uint64 = 1

var ErrMalformed = errors.New("malformed public id")

// Encoder строит публичный непрозрачный id из монотонного номера строки.
// Номер никогда не переиспользуется, значит и public id тоже.
type Encoder struct {
	sq *sqids.Sqids
}

// New: seed перемешивает алфавит, чтобы id разных инсталляций не совпадали.
func New(seed string) (*Encoder, error) {
	alphabet := DefaultAlphabet
	if seed != "" {
		alphabet = shuffle(seed)
	}
	s, err := sqids.New(sqids.Options{MinLength: 6, Alphabet: alphabet})
	if err != nil {
		return nil, fmt.Errorf("init sqids: %w", err)
	}
	return &Encoder{sq: s}, nil
}

func (e *Encoder) Encode(seq int64) (string, error) {
	if seq <= 0 {
		return "", fmt.Errorf("sequence must be positive: %d", seq)
	}
	return e.sq.Encode([]uint64{uint64(seq), entityAsset})
}

func (e *Encoder) Decode(id string) (int64, error) {
	nums := e.sq.Decode(id)
	if len(nums) != 2 || nums[1] != entityAsset || nums[0] == 0 {
		return 0, ErrMalformed
	}
	// защита от неканоничных строк, которые декодируются в те же числа
	canon, err := e.sq.Encode(nums)
	if err != nil || canon != id {
		return 0, ErrMalformed
	}
	return int64(nums[0]), nil
}

func shuffle(seed string) string {
	var n int64
	for i, c := range seed {
		n += int64(c) * int64(i+1)
	}
	r := mrand.New(mrand.NewSource(n))
	a := []rune(DefaultAlphabet)
	r.Shuffle(len(a), func(i, j int) { a[i], a[j] = a[j], a[i] })
	return string(a)
}
