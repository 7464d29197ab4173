package assets

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/EgorLis/my-media/internal/domain"
	"github.com/EgorLis/my-media/internal/service/ingest"
)

// Ingester — сценарии загрузки и запроса удаления
type Ingester interface {
	Ingest(ctx context.Context, req ingest.Request) (ingest.Result, error)
	RequestDeletion(ctx context.Context, id domain.AssetID, by domain.OwnerID) (domain.Asset, error)
}

// Reader — только чтение метаданных
type Reader interface {
	ByID(ctx context.Context, id domain.AssetID) (domain.Asset, error)
	BySeq(ctx context.Context, seq int64) (domain.Asset, error)
}

// IDCodec — публичный непрозрачный id <-> номер строки
type IDCodec interface {
	Encode(seq int64) (string, error)
	Decode(id string) (int64, error)
}

// URLResolver — внешний адрес оригинала и вариантов
type URLResolver interface {
	Asset(a domain.Asset) string
	Variants(a domain.Asset) map[string]string
}

type Handler struct {
	Log    *log.Logger
	Ingest Ingester
	Assets Reader
	IDs    IDCodec
	URLs   URLResolver
	Cache  domain.AssetCache // nil — без кеша

	MaxUploadBytes int64
}

// assetView — то, что видит клиент
type assetView struct {
	ID          domain.AssetID    `json:"id"`
	PublicID    string            `json:"public_id"`
	OwnerID     domain.OwnerID    `json:"owner_id"`
	TenantID    domain.TenantID   `json:"tenant_id"`
	Category    domain.Category   `json:"category"`
	SlotKey     string            `json:"slot_key,omitempty"`
	MIME        string            `json:"mime"`
	SizeBytes   int64             `json:"size_bytes"`
	ContentHash string            `json:"content_hash"`
	Name        string            `json:"original_name,omitempty"`
	Lifecycle   string            `json:"lifecycle"`
	Processing  string            `json:"processing"`
	URL         string            `json:"url"`
	Variants    map[string]string `json:"variants,omitempty"`
	Duplicate   bool              `json:"duplicate,omitempty"`
	CreatedAt   time.Time         `json:"created"`
	UpdatedAt   time.Time         `json:"updated"`
}

func (h *Handler) view(a domain.Asset) assetView {
	v := assetView{
		ID:          a.ID,
		OwnerID:     a.OwnerID,
		TenantID:    a.TenantID,
		Category:    a.Category,
		SlotKey:     a.SlotKey,
		MIME:        a.MIME,
		SizeBytes:   a.SizeBytes,
		ContentHash: a.ContentHash,
		Name:        a.OriginalName,
		Lifecycle:   string(a.Lifecycle),
		Processing:  string(a.Processing),
		URL:         h.URLs.Asset(a),
		Variants:    h.URLs.Variants(a),
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
	if a.Seq > 0 {
		if pid, err := h.IDs.Encode(a.Seq); err == nil {
			v.PublicID = pid
		}
	}
	return v
}

// lookup принимает uuid или публичный id. Битый публичный id — это просто "не найдено".
func (h *Handler) lookup(ctx context.Context, raw string) (domain.Asset, error) {
	if id, err := uuid.Parse(raw); err == nil {
		return h.Assets.ByID(ctx, id)
	}
	seq, err := h.IDs.Decode(raw)
	if err != nil {
		return domain.Asset{}, domain.ErrNotFound
	}
	return h.Assets.BySeq(ctx, seq)
}

// visible: владелец или админ; физически удалённые (deleted) не показываем никому
func visible(p domain.Principal, a domain.Asset) error {
	if a.Lifecycle == domain.LifecycleDeleted {
		return domain.ErrNotFound
	}
	if p.Admin || p.ID == a.OwnerID {
		return nil
	}
	// чужой ассет не отличаем от несуществующего
	return domain.ErrNotFound
}

func isNotFound(err error) bool { return errors.Is(err, domain.ErrNotFound) }
