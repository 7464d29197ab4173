package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/EgorLis/my-media/internal/domain"
	"github.com/EgorLis/my-media/internal/media/hashing"
	"github.com/EgorLis/my-media/internal/media/policy"
	"github.com/EgorLis/my-media/internal/media/sharding"
)

// LimitsSource — источник лимитов загрузки по категории (policy.Table).
type LimitsSource interface {
	LimitsFor(c domain.Category) policy.Limits
}

// Enqueuer принимает задачу на генерацию вариантов. Не блокирует.
type Enqueuer interface {
	Enqueue(id domain.AssetID) bool
}

// Observer — счётчики исходов загрузки (metrics).
type Observer interface {
	Ingested(category domain.Category, outcome string)
}

// Исходы загрузки
const (
	OutcomeCreated     = "created"
	OutcomeDuplicate   = "duplicate"
	OutcomeResurrected = "resurrected"
	OutcomeRejected    = "rejected"
	OutcomeConflict    = "conflict"
	OutcomeFailed      = "failed"
)

type Request struct {
	OwnerID      domain.OwnerID
	TenantID     domain.TenantID
	Category     domain.Category
	SlotKey      string
	Data         []byte
	MIME         string
	OriginalName string
}

type Result struct {
	Asset     domain.Asset
	Duplicate bool
	// Resurrected: дубликат был pending_deletion и вернулся в active
	Resurrected bool
}

type Service struct {
	repo    domain.AssetRepo
	store   domain.BlobStorage
	hasher  *hashing.Hasher
	sharder *sharding.Sharder
	limits  LimitsSource
	queue   Enqueuer
	obs     Observer
	logger  *log.Logger
	now     func() time.Time
}

type Option func(*Service)

func WithEnqueuer(q Enqueuer) Option { return func(s *Service) { s.queue = q } }
func WithObserver(o Observer) Option { return func(s *Service) { s.obs = o } }

// WithClock подменяет часы (deletion_requested_at при вытеснении).
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func New(repo domain.AssetRepo, store domain.BlobStorage, hasher *hashing.Hasher, sharder *sharding.Sharder,
	limits LimitsSource, logger *log.Logger, opts ...Option) *Service {
	s := &Service{
		repo:    repo,
		store:   store,
		hasher:  hasher,
		sharder: sharder,
		limits:  limits,
		logger:  logger,
		now:     time.Now,
	}
	if s.hasher == nil {
		s.hasher = hashing.NewDefault()
	}
	if s.sharder == nil {
		s.sharder = sharding.NewDefault()
	}
	if s.limits == nil {
		s.limits = policy.Defaults()
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Ingest принимает файл: валидация, dedup по (owner, hash, mime), запись байтов,
// создание записи и вытеснение остальных ассетов слота.
func (s *Service) Ingest(ctx context.Context, req Request) (res Result, err error) {
	req.MIME = normalizeMIME(req.MIME)
	req.SlotKey = req.Category.NormalizeSlot(req.SlotKey)
	defer func() { s.observe(req.Category, res, err) }()

	if err := s.validate(req); err != nil {
		s.logger.Printf("ingest rejected owner=%s category=%s: %v", req.OwnerID, req.Category, err)
		return Result{}, err
	}

	digest := s.hasher.Hash(req.Data)
	shardPath, err := s.sharder.Path(digest)
	if err != nil {
		return Result{}, fmt.Errorf("shard: %w", err)
	}

	// 1) dedup: существующая запись важнее новой записи
	if res, ok, err := s.reuseExisting(ctx, req.OwnerID, digest, req.MIME); ok || err != nil {
		return res, err
	}

	a := domain.Asset{
		OwnerID:      req.OwnerID,
		TenantID:     req.TenantID,
		ContentHash:  digest,
		MIME:         req.MIME,
		SizeBytes:    int64(len(req.Data)),
		ShardPath:    shardPath,
		StoredName:   sharding.StoredName(digest, extension(req.OriginalName, req.MIME)),
		OriginalName: filepath.Base(strings.TrimSpace(req.OriginalName)),
		Category:     req.Category,
		SlotKey:      req.SlotKey,
		Processing:   domain.ProcessingUnprocessed,
	}
	if a.OriginalName == "." || a.OriginalName == string(filepath.Separator) {
		a.OriginalName = ""
	}

	// 2) байты до метаданных: запись без файла не появляется никогда.
	// Ключ под блокировкой: сборщик не удалит общий файл между записью и созданием строки.
	key := a.StorageKey()
	unlock, err := s.repo.LockKey(ctx, key)
	if err != nil {
		return Result{}, fmt.Errorf("lock key: %w", err)
	}
	a, superseded, err := s.persist(ctx, a, req.Data)
	unlock()
	if errors.Is(err, domain.ErrConflict) {
		// проиграли гонку одинаковых загрузок: победитель уже создан
		if res, ok, lookupErr := s.reuseExisting(ctx, req.OwnerID, digest, req.MIME); ok || lookupErr != nil {
			return res, lookupErr
		}
		return Result{}, err
	}
	if err != nil {
		s.logger.Printf("ingest failed hash=%s: %v", digest, err)
		return Result{}, err
	}

	s.logger.Printf("ingest created id=%s owner=%s category=%s slot=%q size=%d superseded=%d",
		a.ID, a.OwnerID, a.Category, a.SlotKey, a.SizeBytes, superseded)
	s.enqueue(a.ID)
	return Result{Asset: a}, nil
}

// persist пишет байты и создаёт запись; для слотовых категорий — вместе с вытеснением.
func (s *Service) persist(ctx context.Context, a domain.Asset, data []byte) (domain.Asset, int64, error) {
	key := a.StorageKey()
	stored, err := s.store.Write(ctx, key, data, a.MIME)
	if err != nil {
		s.logger.Printf("ingest write failed key=%s: %v", key, err)
		if !errors.Is(err, domain.ErrStorageIO) {
			err = domain.StorageError("write", key, err)
		}
		return domain.Asset{}, 0, err
	}
	if !stored {
		s.logger.Printf("ingest key=%s already stored, reusing bytes", key)
	}

	if a.Category.SlotExclusive() {
		return s.repo.CreateExclusive(ctx, a, s.now())
	}
	a, err = s.repo.Create(ctx, a)
	return a, 0, err
}

// reuseExisting возвращает ok=true, если загрузка разрешилась существующей записью.
func (s *Service) reuseExisting(ctx context.Context, owner domain.OwnerID, digest, mimeType string) (Result, bool, error) {
	existing, err := s.repo.FindByOwnerAndHash(ctx, owner, digest, mimeType)
	if errors.Is(err, domain.ErrNotFound) {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, err
	}

	switch existing.Lifecycle {
	case domain.LifecycleActive:
		s.logger.Printf("ingest dedup hit id=%s hash=%s", existing.ID, digest)
		return Result{Asset: existing, Duplicate: true}, true, nil

	case domain.LifecyclePendingDeletion:
		var (
			ok         bool
			superseded int64
		)
		if existing.Category.SlotExclusive() {
			ok, superseded, err = s.repo.ResurrectExclusive(ctx, existing, s.now())
		} else {
			ok, err = s.repo.Resurrect(ctx, existing.ID)
		}
		if err != nil {
			return Result{}, false, err
		}
		fresh, err := s.repo.ByID(ctx, existing.ID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return Result{}, false, err
		}
		if err == nil && fresh.Lifecycle == domain.LifecycleActive {
			if ok {
				s.logger.Printf("ingest resurrected id=%s superseded=%d", fresh.ID, superseded)
			}
			return Result{Asset: fresh, Duplicate: true, Resurrected: ok}, true, nil
		}
		// сборщик успел забрать строку: загружаем заново
		s.logger.Printf("ingest id=%s collected meanwhile, creating new asset", existing.ID)
		return Result{}, false, nil

	default:
		// строка захвачена сборщиком (возможно, зависла на ошибке хранилища);
		// уникальный индекс её не учитывает, общий файл защищён блокировкой ключа
		s.logger.Printf("ingest id=%s is being collected, creating new asset", existing.ID)
		return Result{}, false, nil
	}
}

func (s *Service) validate(req Request) error {
	if req.OwnerID == (domain.OwnerID{}) {
		return domain.NewValidationError("owner_id", "required")
	}
	if !req.Category.Valid() {
		return domain.NewValidationError("category", "unknown category %q", req.Category)
	}
	if len(req.Data) == 0 {
		return domain.NewValidationError("file", "empty upload")
	}
	if req.MIME == "" {
		return domain.NewValidationError("mime", "content type is required")
	}
	lim := s.limits.LimitsFor(req.Category)
	if lim.MaxBytes > 0 && int64(len(req.Data)) > lim.MaxBytes {
		return domain.NewValidationError("size", "%d bytes exceeds limit %d for %s", len(req.Data), lim.MaxBytes, req.Category)
	}
	if !lim.Allows(req.MIME) {
		return domain.NewValidationError("mime", "%s is not allowed for %s", req.MIME, req.Category)
	}
	return nil
}

func (s *Service) enqueue(id domain.AssetID) {
	if s.queue == nil {
		return
	}
	if !s.queue.Enqueue(id) {
		// не страшно: cron-задача переподберёт необработанные ассеты
		s.logger.Printf("variant queue full, id=%s left for requeue", id)
	}
}

func (s *Service) observe(c domain.Category, res Result, err error) {
	if s.obs == nil {
		return
	}
	outcome := OutcomeCreated
	switch {
	case errors.Is(err, domain.ErrValidation):
		outcome = OutcomeRejected
	case errors.Is(err, domain.ErrConflict):
		outcome = OutcomeConflict
	case err != nil:
		outcome = OutcomeFailed
	case res.Resurrected:
		outcome = OutcomeResurrected
	case res.Duplicate:
		outcome = OutcomeDuplicate
	}
	s.obs.Ingested(c, outcome)
}

// RequestDeletion — явный запрос удаления владельцем: active -> pending_deletion.
// Повторный запрос ничего не меняет и возвращает запись как есть.
func (s *Service) RequestDeletion(ctx context.Context, id domain.AssetID, by domain.OwnerID) (domain.Asset, error) {
	a, err := s.repo.ByID(ctx, id)
	if err != nil {
		return domain.Asset{}, err
	}
	if a.Lifecycle == domain.LifecycleDeleted {
		return domain.Asset{}, domain.ErrNotFound
	}
	if a.OwnerID != by {
		return domain.Asset{}, domain.ErrForbidden
	}

	changed, err := s.repo.RequestDeletion(ctx, id, by, s.now())
	if err != nil {
		return domain.Asset{}, err
	}
	if changed {
		s.logger.Printf("deletion requested id=%s by=%s", id, by)
	}
	return s.repo.ByID(ctx, id)
}

func normalizeMIME(m string) string {
	m = strings.ToLower(strings.TrimSpace(m))
	if m == "" {
		return ""
	}
	if parsed, _, err := mime.ParseMediaType(m); err == nil {
		return parsed
	}
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = strings.TrimSpace(m[:i])
	}
	return m
}

// extension берёт расширение из имени файла, иначе — из MIME.
// Только [a-z0-9], не длиннее 10 символов: имя идёт в ключ хранилища.
func extension(name, mimeType string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(strings.TrimSpace(name)), "."))
	if !safeExt(ext) {
		ext = ""
	}
	if ext == "" {
		ext = knownExt[mimeType]
	}
	if ext == "" {
		if exts, _ := mime.ExtensionsByType(mimeType); len(exts) > 0 {
			ext = strings.TrimPrefix(exts[0], ".")
		}
	}
	if !safeExt(ext) {
		return ""
	}
	return ext
}

var knownExt = map[string]string{
	"image/jpeg":      "jpg",
	"image/png":       "png",
	"image/gif":       "gif",
	"image/webp":      "webp",
	"video/mp4":       "mp4",
	"video/quicktime": "mov",
	"audio/mpeg":      "mp3",
	"application/pdf": "pdf",
}

func safeExt(ext string) bool {
	if ext == "" || len(ext) > 10 {
		return false
	}
	for _, r := range ext {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
