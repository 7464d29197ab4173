package blacklist

import (
	"context"
	"sync"
	"time"

	"github.com/EgorLis/my-media/internal/domain"
)

// Store — отозванные jti в памяти процесса, для запуска без Redis.
// Запись живёт до истечения токена: дальше его отклонит проверка exp.
type Store struct {
	mu   sync.Mutex
	jtis map[string]time.Time // jti -> до какого момента помнить
	now  func() time.Time
}

var _ domain.TokenBlacklist = (*Store)(nil)

func NewStore() *Store {
	return &Store{jtis: make(map[string]time.Time), now: time.Now}
}

// Revoke помечает jti отозванным до exp. Уже истёкший токен держим минуту,
// как и Redis-реализация.
func (s *Store) Revoke(_ context.Context, jti string, exp time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if exp.Sub(now) < time.Second {
		exp = now.Add(time.Minute)
	}
	s.pruneLocked(now)
	if prev, ok := s.jtis[jti]; !ok || exp.After(prev) {
		s.jtis[jti] = exp
	}
	return nil
}

func (s *Store) IsRevoked(_ context.Context, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.jtis[jti]
	if !ok {
		return false, nil
	}
	if !s.now().Before(until) {
		delete(s.jtis, jti)
		return false, nil
	}
	return true, nil
}

// Len — сколько jti сейчас помним.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jtis)
}

func (s *Store) pruneLocked(now time.Time) {
	for jti, until := range s.jtis {
		if !now.Before(until) {
			delete(s.jtis, jti)
		}
	}
}
