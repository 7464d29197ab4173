package assets

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/EgorLis/my-media/internal/domain"
	"github.com/EgorLis/my-media/internal/transport/web/logx"
	"github.com/EgorLis/my-media/internal/transport/web/mw"
	v1 "github.com/EgorLis/my-media/internal/transport/web/v1"
)

// Get — GET /v1/assets/{id}; id — uuid или публичный id
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	const op = "assets.get"
	reqID := mw.RequestIDFromCtx(r.Context())

	me, ok := domain.PrincipalFromCtx(r.Context())
	if !ok {
		v1.WriteDomainError(w, r, domain.ErrUnauth)
		return
	}
	raw := r.PathValue("id")

	// кеш метаданных — только по uuid: публичный id без БД не развернуть
	if id, err := uuid.Parse(raw); err == nil && h.Cache != nil {
		a, hit, err := h.Cache.GetAsset(r.Context(), id)
		if err != nil {
			logx.Error(h.Log, reqID, op, "cache get failed", err, "asset_id", id)
		}
		if hit {
			h.respond(w, r, me, a, "ok (cache)", reqID, op)
			return
		}
	}

	a, err := h.lookup(r.Context(), raw)
	if err != nil {
		if !isNotFound(err) {
			logx.Error(h.Log, reqID, op, "lookup failed", err, "id", raw)
		}
		v1.WriteDomainError(w, r, err)
		return
	}
	if h.Cache != nil {
		if err := h.Cache.PutAsset(r.Context(), a); err != nil {
			logx.Error(h.Log, reqID, op, "cache put failed", err, "asset_id", a.ID)
		}
	}
	h.respond(w, r, me, a, "ok", reqID, op)
}

// respond проверяет видимость и отдаёт представление; кешированная запись проходит ту же проверку
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, me domain.Principal, a domain.Asset, msg, reqID, op string) {
	if err := visible(me, a); err != nil {
		v1.WriteDomainError(w, r, err)
		return
	}
	w.Header().Set("Last-Modified", v1.HTTPTime(a.UpdatedAt))
	logx.Info(h.Log, reqID, op, msg, "asset_id", a.ID)
	v1.WriteOKData(w, r, h.view(a))
}
