package assets

import (
	"net/http"

	"github.com/EgorLis/my-media/internal/domain"
	"github.com/EgorLis/my-media/internal/transport/web/logx"
	"github.com/EgorLis/my-media/internal/transport/web/mw"
	v1 "github.com/EgorLis/my-media/internal/transport/web/v1"
)

// Delete — DELETE /v1/assets/{id}: запрос удаления (только владелец).
// Файлы удалит сборщик после срока хранения категории.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	const op = "assets.delete"
	reqID := mw.RequestIDFromCtx(r.Context())

	me, ok := domain.PrincipalFromCtx(r.Context())
	if !ok {
		v1.WriteDomainError(w, r, domain.ErrUnauth)
		return
	}
	raw := r.PathValue("id")

	a, err := h.lookup(r.Context(), raw)
	if err != nil {
		if !isNotFound(err) {
			logx.Error(h.Log, reqID, op, "lookup failed", err, "id", raw)
		}
		v1.WriteDomainError(w, r, err)
		return
	}
	if a.OwnerID != me.ID {
		// не подтверждаем существование чужих ассетов
		v1.WriteDomainError(w, r, domain.ErrNotFound)
		return
	}

	upd, err := h.Ingest.RequestDeletion(r.Context(), a.ID, me.ID)
	if err != nil {
		logx.Error(h.Log, reqID, op, "request deletion failed", err, "asset_id", a.ID)
		v1.WriteDomainError(w, r, err)
		return
	}

	if h.Cache != nil {
		if err := h.Cache.DropAsset(r.Context(), a.ID); err != nil {
			logx.Error(h.Log, reqID, op, "cache del failed", err, "asset_id", a.ID)
		}
	}

	logx.Info(h.Log, reqID, op, "ok", "asset_id", a.ID, "lifecycle", upd.Lifecycle)
	v1.WriteOKData(w, r, h.view(upd))
}
