package auth

import (
	"log"
	"net/http"

	"github.com/EgorLis/my-media/internal/domain"
	"github.com/EgorLis/my-media/internal/transport/web/logx"
	"github.com/EgorLis/my-media/internal/transport/web/mw"
	v1 "github.com/EgorLis/my-media/internal/transport/web/v1"
)

type HandlerLogout struct {
	Log       *log.Logger
	Tokens    domain.TokenManager
	Blacklist domain.TokenBlacklist
}

type logoutResponse struct {
	Revoked string `json:"revoked"` // jti
}

// Logout — DELETE /v1/auth/token: отзывает предъявленный токен до истечения exp.
func (h *HandlerLogout) Logout(w http.ResponseWriter, r *http.Request) {
	const op = "auth.logout"
	reqID := mw.RequestIDFromCtx(r.Context())

	if h.Blacklist == nil {
		v1.WriteDomainError(w, r, domain.ErrNotImplemented)
		return
	}

	raw := mw.TokenFromRequest(r)
	if raw == "" {
		logx.Error(h.Log, reqID, op, "missing token", domain.ErrBadParams)
		v1.WriteDomainError(w, r, domain.ErrBadParams)
		return
	}

	claims, err := h.Tokens.Parse(r.Context(), domain.Token(raw))
	if err != nil {
		logx.Error(h.Log, reqID, op, "parse token failed", err)
		v1.WriteDomainError(w, r, domain.ErrUnauth)
		return
	}

	// ревокация до exp
	if err := h.Blacklist.Revoke(r.Context(), claims.JTI, claims.ExpiresAt); err != nil {
		logx.Error(h.Log, reqID, op, "revoke failed", err, "jti", claims.JTI)
		v1.WriteDomainError(w, r, domain.ErrUnexpected)
		return
	}

	logx.Info(h.Log, reqID, op, "ok", "jti", claims.JTI, "user_id", claims.UserID)
	v1.WriteOKResponse(w, r, logoutResponse{Revoked: claims.JTI})
}
