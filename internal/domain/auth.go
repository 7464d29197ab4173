package domain

import (
	"context"
	"time"
)

// Аутентификация вызывающих — внешняя: здесь только проверка bearer-токенов.

type Token string

type TokenClaims struct {
	JTI       string // уникальный id токена
	UserID    OwnerID
	Login     string
	Tenant    TenantID
	Admin     bool
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Управление токенами (JWT — реализация в internal/auth/token)
type TokenManager interface {
	Issue(ctx context.Context, p Principal) (Token, TokenClaims, error)
	Parse(ctx context.Context, t Token) (TokenClaims, error)
}

// Блэклист/ревокация токенов (Redis)
type TokenBlacklist interface {
	Revoke(ctx context.Context, jti string, exp time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}
