package collector

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/EgorLis/my-media/internal/domain"
)

// Retention — срок ожидания по категории (retention.Policy).
type Retention interface {
	Cutoff(c domain.Category, now time.Time) time.Time
}

// Locker — взаимоисключение сборщиков между репликами (Redis lease).
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Observer получает итог каждого прогона (metrics).
type Observer interface {
	Collected(r Report)
}

// NoopLocker — для одиночного процесса без Redis.
type NoopLocker struct{}

func (NoopLocker) Acquire(context.Context, string) (func(), error) { return func() {}, nil }

// MutexLocker — взаимоисключение внутри процесса (cron и ручной запуск из API).
type MutexLocker struct{ mu sync.Mutex }

func (l *MutexLocker) Acquire(context.Context, string) (func(), error) {
	if !l.mu.TryLock() {
		return nil, domain.ErrLeaseHeld
	}
	return l.mu.Unlock, nil
}

type Failure struct {
	AssetID  domain.AssetID  `json:"asset_id"`
	Category domain.Category `json:"category"`
	Reason   string          `json:"reason"`
}

// Report — итог одного прогона сборщика
type Report struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Skipped    bool      `json:"skipped,omitempty"` // аренду держит другой процесс
	Reconciled int64     `json:"reconciled"`
	Scanned    int       `json:"scanned"`
	Deleted    int       `json:"deleted"`
	// Raced — строку воскресила загрузка между выборкой и захватом
	Raced int `json:"raced"`
	// Retried — добиты строки, зависшие в deleted после прошлых прогонов
	Retried  int       `json:"retried"`
	Failed   int       `json:"failed"`
	Failures []Failure `json:"failures,omitempty"`
}

func (r *Report) fail(a domain.Asset, err error) {
	r.Failed++
	r.Failures = append(r.Failures, Failure{AssetID: a.ID, Category: a.Category, Reason: err.Error()})
}

// Collector — единственный компонент, который физически удаляет файлы.
type Collector struct {
	repo      domain.AssetRepo
	store     domain.BlobStorage
	retention Retention
	locker    Locker
	obs       Observer
	logger    *log.Logger
	now       func() time.Time
	batch     int
}

type Option func(*Collector)

func WithLocker(l Locker) Option     { return func(c *Collector) { c.locker = l } }
func WithObserver(o Observer) Option { return func(c *Collector) { c.obs = o } }
func WithBatch(n int) Option         { return func(c *Collector) { c.batch = n } }

// WithClock подменяет часы (расчёт cutoff).
func WithClock(now func() time.Time) Option { return func(c *Collector) { c.now = now } }

func New(repo domain.AssetRepo, store domain.BlobStorage, retention Retention, logger *log.Logger, opts ...Option) *Collector {
	c := &Collector{
		repo:      repo,
		store:     store,
		retention: retention,
		locker:    NoopLocker{},
		logger:    logger,
		now:       time.Now,
		batch:     200,
	}
	for _, o := range opts {
		o(c)
	}
	if c.batch <= 0 {
		c.batch = 200
	}
	return c
}

// Collect удаляет файлы и записи ассетов, у которых истёк срок ожидания.
func (c *Collector) Collect(ctx context.Context) (Report, error) {
	return c.run(ctx, false)
}

// Sweep — плановый прогон: сначала сверка переполненных слотов, затем сборка.
func (c *Collector) Sweep(ctx context.Context) (Report, error) {
	return c.run(ctx, true)
}

func (c *Collector) run(ctx context.Context, reconcile bool) (Report, error) {
	rep := Report{StartedAt: c.now().UTC()}

	release, err := c.locker.Acquire(ctx, domain.CacheKeyGCLease)
	if errors.Is(err, domain.ErrLeaseHeld) {
		c.logger.Println("another collector holds the lease, skipping")
		rep.Skipped = true
		rep.FinishedAt = c.now().UTC()
		return rep, nil
	}
	if err != nil {
		return rep, fmt.Errorf("acquire lease: %w", err)
	}
	defer release()

	if reconcile {
		n, err := c.Reconcile(ctx)
		rep.Reconciled = n
		if err != nil {
			// сверка — сигнал качества данных, сборку не блокирует
			c.logger.Printf("reconcile failed: %v", err)
		}
	}

	err = c.collect(ctx, &rep)
	rep.FinishedAt = c.now().UTC()
	c.logger.Printf("sweep done scanned=%d deleted=%d failed=%d raced=%d retried=%d reconciled=%d in %s",
		rep.Scanned, rep.Deleted, rep.Failed, rep.Raced, rep.Retried, rep.Reconciled, rep.FinishedAt.Sub(rep.StartedAt))
	if c.obs != nil {
		c.obs.Collected(rep)
	}
	return rep, err
}

func (c *Collector) collect(ctx context.Context, rep *Report) error {
	// 1) недочищенные строки прошлых прогонов
	claimed, err := c.repo.FindClaimed(ctx, c.batch)
	if err != nil {
		return fmt.Errorf("find claimed: %w", err)
	}
	for _, a := range claimed {
		if err := ctx.Err(); err != nil {
			return err
		}
		rep.Scanned++
		if err := c.purge(ctx, a); err != nil {
			c.logger.Printf("retry purge id=%s failed: %v", a.ID, err)
			rep.fail(a, err)
			continue
		}
		rep.Retried++
		rep.Deleted++
	}

	// 2) истёкшие pending_deletion по категориям
	now := c.now()
	for _, cat := range domain.Categories() {
		cutoff := c.retention.Cutoff(cat, now)
		if err := c.collectCategory(ctx, cat, cutoff, rep); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collector) collectCategory(ctx context.Context, cat domain.Category, cutoff time.Time, rep *Report) error {
	seen := make(map[domain.AssetID]struct{})
	for {
		page, err := c.repo.FindExpiredPendingDeletions(ctx, cat, cutoff, c.batch)
		if err != nil {
			return fmt.Errorf("find expired %s: %w", cat, err)
		}
		progressed := false
		for _, a := range page {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, ok := seen[a.ID]; ok {
				continue
			}
			seen[a.ID] = struct{}{}
			progressed = true
			rep.Scanned++
			c.collectOne(ctx, a, rep)
		}
		// строки, на которых захват упал, вернутся снова — выходим без прогресса
		if len(page) < c.batch || !progressed {
			return nil
		}
	}
}

// collectOne: захват pending -> deleted, файлы, затем запись.
// Ошибка одного ассета попадает в отчёт и не останавливает остальные.
func (c *Collector) collectOne(ctx context.Context, a domain.Asset, rep *Report) {
	ok, err := c.repo.ClaimForDeletion(ctx, a.ID)
	if err != nil {
		c.logger.Printf("claim id=%s failed: %v", a.ID, err)
		rep.fail(a, err)
		return
	}
	if !ok {
		c.logger.Printf("id=%s no longer pending, skipped", a.ID)
		rep.Raced++
		return
	}
	// варианты могли дописаться между выборкой и захватом
	if fresh, err := c.repo.ByID(ctx, a.ID); err == nil {
		a = fresh
	}
	if err := c.purge(ctx, a); err != nil {
		c.logger.Printf("purge id=%s failed: %v", a.ID, err)
		rep.fail(a, err)
		return
	}
	rep.Deleted++
}

// purge удаляет оригинал, варианты и запись строки в состоянии deleted.
func (c *Collector) purge(ctx context.Context, a domain.Asset) error {
	if err := c.purgeFiles(ctx, a); err != nil {
		return err
	}
	deleted, err := c.repo.DeleteClaimed(ctx, a.ID)
	if err != nil {
		return err
	}
	if !deleted {
		c.logger.Printf("id=%s row already gone", a.ID)
	}
	return nil
}

// purgeFiles держит блокировку ключа от проверки ссылок до последнего удаления:
// загрузка того же файла ждёт и запишет байты заново.
func (c *Collector) purgeFiles(ctx context.Context, a domain.Asset) error {
	primary := a.StorageKey()
	unlock, err := c.repo.LockKey(ctx, primary)
	if err != nil {
		return fmt.Errorf("lock key: %w", err)
	}
	defer unlock()

	// тот же хэш под другим MIME лежит по тому же ключу
	shared, err := c.repo.KeyInUse(ctx, primary, a.ID)
	if err != nil {
		return err
	}
	if shared {
		c.logger.Printf("id=%s key=%s still referenced, keeping files", a.ID, primary)
		return nil
	}
	for _, key := range a.Keys() {
		if err := c.store.Delete(ctx, key); err != nil {
			if !errors.Is(err, domain.ErrStorageIO) {
				err = domain.StorageError("delete", key, err)
			}
			return err
		}
	}
	return nil
}

// Reconcile находит слоты с несколькими active и вытесняет всё, кроме самого нового.
func (c *Collector) Reconcile(ctx context.Context) (int64, error) {
	slots, err := c.repo.FindOvercrowdedSlots(ctx, c.batch)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, slot := range slots {
		active, err := c.repo.FindActiveBySlot(ctx, slot)
		if err != nil {
			return total, err
		}
		if len(active) < 2 {
			continue
		}
		keep := newest(active)
		n, err := c.repo.MarkSupersededExcept(ctx, slot, keep.ID, c.now())
		if err != nil {
			return total, err
		}
		c.logger.Printf("reconciled slot owner=%s category=%s slot=%q keep=%s superseded=%d",
			slot.OwnerID, slot.Category, slot.SlotKey, keep.ID, n)
		total += n
	}
	return total, nil
}

func newest(as []domain.Asset) domain.Asset {
	best := as[0]
	for _, a := range as[1:] {
		if a.Seq > best.Seq {
			best = a
		}
	}
	return best
}
