package token

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/EgorLis/my-media/internal/domain"
)

// Manager выпускает и проверяет HS256-токены. Аутентификация внешняя:
// сервис медиа только проверяет подпись и достаёт из токена владельца и тенант.
type Manager struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

func New(secret string, issuer string, ttl time.Duration) *Manager {
	return &Manager{secret: []byte(secret), issuer: issuer, ttl: ttl}
}

// внутренний тип для подписи/парсинга с jwt.RegisteredClaims
type jwtClaims struct {
	UserID uuid.UUID `json:"uid"`
	Login  string    `json:"login"`
	Tenant uuid.UUID `json:"tid"`
	Admin  bool      `json:"adm,omitempty"`
	jwt.RegisteredClaims
}

var _ domain.TokenManager = (*Manager)(nil)

// Issue нужен CLI (mediactl token) и тестам
func (m *Manager) Issue(_ context.Context, p domain.Principal) (domain.Token, domain.TokenClaims, error) {
	now := time.Now().UTC()
	jti := uuid.NewString()

	cl := jwtClaims{
		UserID: p.ID,
		Login:  p.Login,
		Tenant: p.Tenant,
		Admin:  p.Admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   p.ID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        jti,
		},
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, cl)
	tokenStr, err := t.SignedString(m.secret)
	if err != nil {
		return "", domain.TokenClaims{}, err
	}
	return domain.Token(tokenStr), toDomain(cl), nil
}

// Parse валидирует подпись/сроки и возвращает доменные клеймы
func (m *Manager) Parse(_ context.Context, raw domain.Token) (domain.TokenClaims, error) {
	var out jwtClaims
	tkn, err := jwt.ParseWithClaims(string(raw), &out, func(token *jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return domain.TokenClaims{}, err
	}
	if !tkn.Valid || out.UserID == uuid.Nil {
		return domain.TokenClaims{}, jwt.ErrTokenInvalidClaims
	}
	return toDomain(out), nil
}

func toDomain(cl jwtClaims) domain.TokenClaims {
	tc := domain.TokenClaims{
		JTI:    cl.ID,
		UserID: cl.UserID,
		Login:  cl.Login,
		Tenant: cl.Tenant,
		Admin:  cl.Admin,
	}
	if cl.IssuedAt != nil {
		tc.IssuedAt = cl.IssuedAt.Time
	}
	if cl.ExpiresAt != nil {
		tc.ExpiresAt = cl.ExpiresAt.Time
	}
	return tc
}
