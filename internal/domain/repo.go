package domain

import (
	"context"
	"time"
)

// AssetRepo — узкий контракт хранилища метаданных.
// Все переходы состояний — условные обновления: кто первый закоммитил, тот и выиграл.
type AssetRepo interface {
	Ping(context.Context) error
	Close()

	// Create вставляет active-ассет. Если live-строка с тем же (owner, hash, mime)
	// уже есть — ErrConflict.
	Create(ctx context.Context, a Asset) (Asset, error)
	// CreateExclusive вставляет ассет и в той же транзакции переводит остальные active
	// ассеты слота в pending_deletion. Возвращает число вытесненных.
	CreateExclusive(ctx context.Context, a Asset, at time.Time) (Asset, int64, error)

	ByID(ctx context.Context, id AssetID) (Asset, error)
	BySeq(ctx context.Context, seq int64) (Asset, error)
	// FindByOwnerAndHash ищет строку в любом состоянии, кроме физически удалённой.
	FindByOwnerAndHash(ctx context.Context, owner OwnerID, hash, mime string) (Asset, error)
	FindActiveBySlot(ctx context.Context, slot SlotRef) ([]Asset, error)
	// KeyInUse: ссылается ли другая live-строка на тот же ключ хранилища
	KeyInUse(ctx context.Context, key string, except AssetID) (bool, error)
	// LockKey — взаимоисключение по ключу хранилища: запись байтов и создание строки
	// при загрузке против проверки ссылок и удаления файлов в сборщике.
	LockKey(ctx context.Context, key string) (unlock func(), err error)

	// MarkSupersededExcept: все active в слоте, кроме keep -> pending_deletion одним UPDATE.
	MarkSupersededExcept(ctx context.Context, slot SlotRef, keep AssetID, at time.Time) (int64, error)
	// Resurrect: pending_deletion -> active (условно). false — строка уже не pending.
	Resurrect(ctx context.Context, id AssetID) (bool, error)
	// ResurrectExclusive: Resurrect + вытеснение остальных в слоте, атомарно.
	ResurrectExclusive(ctx context.Context, a Asset, at time.Time) (bool, int64, error)
	// RequestDeletion: active -> pending_deletion. Повторный запрос — no-op (false).
	RequestDeletion(ctx context.Context, id AssetID, by OwnerID, at time.Time) (bool, error)

	MarkProcessing(ctx context.Context, id AssetID) error
	MarkProcessed(ctx context.Context, id AssetID, v Variants) error
	MarkFailed(ctx context.Context, id AssetID) error
	FindUnprocessed(ctx context.Context, olderThan time.Time, limit int) ([]Asset, error)

	// FindExpiredPendingDeletions: pending_deletion с deletion_requested_at < cutoff.
	FindExpiredPendingDeletions(ctx context.Context, c Category, cutoff time.Time, limit int) ([]Asset, error)
	// FindClaimed: строки в состоянии deleted (захвачены сборщиком, но не дочищены).
	FindClaimed(ctx context.Context, limit int) ([]Asset, error)
	// ClaimForDeletion: pending_deletion -> deleted. false — строку воскресили или забрал другой.
	ClaimForDeletion(ctx context.Context, id AssetID) (bool, error)
	// DeleteClaimed удаляет строку только если она в состоянии deleted.
	DeleteClaimed(ctx context.Context, id AssetID) (bool, error)

	// FindOvercrowdedSlots: слоты, где active больше одного (сигнал качества данных).
	FindOvercrowdedSlots(ctx context.Context, limit int) ([]SlotRef, error)
}
