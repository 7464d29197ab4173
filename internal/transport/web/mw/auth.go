package mw

import (
	"net/http"
	"strings"

	"github.com/EgorLis/my-media/internal/domain"
)

type AuthDeps struct {
	Tokens    domain.TokenManager
	Blacklist domain.TokenBlacklist // nil — ревокация не проверяется
}

const (
	unauthorizedBody = `{"error":{"code":1001,"text":"unauthorized"}}`
	forbiddenBody    = `{"error":{"code":1003,"text":"forbidden"}}`
)

// RequireAuth пропускает только запросы с валидным неотозванным bearer-токеном
// и кладёт Principal в контекст.
func RequireAuth(deps AuthDeps, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := TokenFromRequest(r)
		if raw == "" {
			deny(w, http.StatusUnauthorized, unauthorizedBody)
			return
		}
		claims, err := deps.Tokens.Parse(r.Context(), domain.Token(raw))
		if err != nil {
			deny(w, http.StatusUnauthorized, unauthorizedBody)
			return
		}
		if deps.Blacklist != nil {
			// недоступный Redis трактуем как отказ: отозванный токен не должен пройти
			revoked, err := deps.Blacklist.IsRevoked(r.Context(), claims.JTI)
			if err != nil || revoked {
				deny(w, http.StatusUnauthorized, unauthorizedBody)
				return
			}
		}
		p := domain.Principal{ID: claims.UserID, Login: claims.Login, Tenant: claims.Tenant, Admin: claims.Admin}
		next.ServeHTTP(w, r.WithContext(domain.WithPrincipal(r.Context(), p)))
	})
}

// RequireAdmin ставится после RequireAuth.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := domain.PrincipalFromCtx(r.Context())
		if !ok {
			deny(w, http.StatusUnauthorized, unauthorizedBody)
			return
		}
		if !p.Admin {
			deny(w, http.StatusForbidden, forbiddenBody)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// TokenFromRequest: Authorization: Bearer ..., затем ?token=
func TokenFromRequest(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return r.URL.Query().Get("token")
}

func deny(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body + "\n"))
}
