package assets

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/EgorLis/my-media/internal/domain"
	"github.com/EgorLis/my-media/internal/service/ingest"
	"github.com/EgorLis/my-media/internal/transport/web/logx"
	"github.com/EgorLis/my-media/internal/transport/web/mw"
	v1 "github.com/EgorLis/my-media/internal/transport/web/v1"
)

// запас на заголовки и поля multipart сверх самого файла
const multipartOverhead = 1 << 20

// Upload — POST /v1/assets, multipart: file, category, slot, tenant
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	const op = "assets.upload"
	reqID := mw.RequestIDFromCtx(r.Context())

	me, ok := domain.PrincipalFromCtx(r.Context())
	if !ok {
		v1.WriteDomainError(w, r, domain.ErrUnauth)
		return
	}

	if h.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes+multipartOverhead)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			logx.Error(h.Log, reqID, op, "body too large", err, "limit", tooBig.Limit)
			v1.WriteDomainError(w, r, domain.NewValidationError("size", "request body exceeds %d bytes", h.MaxUploadBytes))
			return
		}
		logx.Error(h.Log, reqID, op, "parse multipart failed", err)
		v1.WriteDomainError(w, r, domain.ErrBadParams)
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	fh, hdr, err := r.FormFile("file")
	if err != nil {
		logx.Error(h.Log, reqID, op, "missing file", err)
		v1.WriteDomainError(w, r, domain.NewValidationError("file", "file part is required"))
		return
	}
	defer fh.Close()

	data, err := io.ReadAll(fh)
	if err != nil {
		logx.Error(h.Log, reqID, op, "read file failed", err)
		v1.WriteDomainError(w, r, domain.ErrBadParams)
		return
	}

	tenant := me.Tenant
	if raw := strings.TrimSpace(r.FormValue("tenant")); raw != "" {
		t, err := uuid.Parse(raw)
		if err != nil {
			logx.Error(h.Log, reqID, op, "bad tenant", err, "tenant", raw)
			v1.WriteDomainError(w, r, domain.NewValidationError("tenant", "must be a uuid"))
			return
		}
		// чужой тенант может указать только админ
		if t != me.Tenant && !me.Admin {
			v1.WriteDomainError(w, r, domain.ErrForbidden)
			return
		}
		tenant = t
	}

	req := ingest.Request{
		OwnerID:      me.ID,
		TenantID:     tenant,
		Category:     domain.Category(strings.TrimSpace(r.FormValue("category"))),
		SlotKey:      r.FormValue("slot"),
		Data:         data,
		MIME:         detectMIME(hdr.Header.Get("Content-Type"), data),
		OriginalName: hdr.Filename,
	}

	res, err := h.Ingest.Ingest(r.Context(), req)
	if err != nil {
		logx.Error(h.Log, reqID, op, "ingest failed", err, "owner_id", me.ID, "category", req.Category)
		v1.WriteDomainError(w, r, err)
		return
	}

	out := h.view(res.Asset)
	out.Duplicate = res.Duplicate
	logx.Info(h.Log, reqID, op, "ok", "asset_id", res.Asset.ID, "duplicate", res.Duplicate,
		"resurrected", res.Resurrected, "size", res.Asset.SizeBytes)

	if res.Duplicate {
		v1.WriteOKData(w, r, out)
		return
	}
	v1.WriteCreatedData(w, r, out)
}

// detectMIME: заявленный тип, если он конкретный, иначе сниффинг по первым байтам
func detectMIME(declared string, data []byte) string {
	d := strings.ToLower(strings.TrimSpace(declared))
	if d != "" && !strings.HasPrefix(d, "application/octet-stream") {
		return declared
	}
	return http.DetectContentType(data)
}
