package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/EgorLis/my-media/internal/domain"
)

// Repo — AssetRepo в памяти процесса. Держит те же условные переходы, что и Postgres:
// каждая операция выполняется под одним мьютексом, то есть атомарно.
// Используется в тестах и в режиме DB_DRIVER=memory.
type Repo struct {
	mu     sync.Mutex
	rows   map[domain.AssetID]domain.Asset
	seq    int64
	now    func() time.Time
	closed bool
	keys   keyLocks
}

var _ domain.AssetRepo = (*Repo)(nil)

func New() *Repo {
	return &Repo{rows: make(map[domain.AssetID]domain.Asset), now: time.Now}
}

// WithClock подменяет часы для created_at/updated_at (тесты).
func (r *Repo) WithClock(now func() time.Time) *Repo {
	r.now = now
	return r
}

func (r *Repo) Ping(context.Context) error { return nil }
func (r *Repo) Close()                     { r.mu.Lock(); r.closed = true; r.mu.Unlock() }

// All — снимок всех строк (для тестов и отладки).
func (r *Repo) All() []domain.Asset {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Asset, 0, len(r.rows))
	for _, a := range r.rows {
		out = append(out, clone(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (r *Repo) Create(_ context.Context, a domain.Asset) (domain.Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertLocked(a)
}

func (r *Repo) CreateExclusive(_ context.Context, a domain.Asset, at time.Time) (domain.Asset, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out, err := r.insertLocked(a)
	if err != nil {
		return domain.Asset{}, 0, err
	}
	n := r.supersedeLocked(out.Slot(), out.ID, at)
	return out, n, nil
}

func (r *Repo) insertLocked(a domain.Asset) (domain.Asset, error) {
	for _, row := range r.rows {
		if row.Lifecycle != domain.LifecycleDeleted && row.OwnerID == a.OwnerID &&
			row.ContentHash == a.ContentHash && row.MIME == a.MIME {
			return domain.Asset{}, domain.ErrConflict
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	r.seq++
	now := r.now().UTC()
	a.Seq = r.seq
	a.Lifecycle = domain.LifecycleActive
	a.DeletionRequestedAt, a.DeletionRequestedBy = nil, nil
	if a.Processing == "" {
		a.Processing = domain.ProcessingUnprocessed
	}
	a.CreatedAt, a.UpdatedAt = now, now
	r.rows[a.ID] = clone(a)
	return clone(a), nil
}

func (r *Repo) supersedeLocked(slot domain.SlotRef, keep domain.AssetID, at time.Time) int64 {
	var n int64
	at = at.UTC()
	for id, row := range r.rows {
		if id == keep || row.Lifecycle != domain.LifecycleActive || row.Slot() != slot {
			continue
		}
		row.Lifecycle = domain.LifecyclePendingDeletion
		t := at
		row.DeletionRequestedAt = &t
		by := slot.OwnerID
		row.DeletionRequestedBy = &by
		row.UpdatedAt = r.now().UTC()
		r.rows[id] = row
		n++
	}
	return n
}

func (r *Repo) ByID(_ context.Context, id domain.AssetID) (domain.Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[id]
	if !ok {
		return domain.Asset{}, domain.ErrNotFound
	}
	return clone(a), nil
}

func (r *Repo) BySeq(_ context.Context, seq int64) (domain.Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.rows {
		if a.Seq == seq {
			return clone(a), nil
		}
	}
	return domain.Asset{}, domain.ErrNotFound
}

func (r *Repo) FindByOwnerAndHash(_ context.Context, owner domain.OwnerID, hash, mime string) (domain.Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found *domain.Asset
	for _, a := range r.rows {
		if a.OwnerID != owner || a.ContentHash != hash || a.MIME != mime {
			continue
		}
		// live-строка приоритетнее захваченной сборщиком
		if found == nil || found.Lifecycle == domain.LifecycleDeleted {
			cp := a
			found = &cp
		}
	}
	if found == nil {
		return domain.Asset{}, domain.ErrNotFound
	}
	return clone(*found), nil
}

func (r *Repo) FindActiveBySlot(_ context.Context, slot domain.SlotRef) ([]domain.Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Asset
	for _, a := range r.rows {
		if a.Lifecycle == domain.LifecycleActive && a.Slot() == slot {
			out = append(out, clone(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq > out[j].Seq })
	return out, nil
}

func (r *Repo) KeyInUse(_ context.Context, key string, except domain.AssetID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, a := range r.rows {
		if id != except && a.Lifecycle != domain.LifecycleDeleted && a.StorageKey() == key {
			return true, nil
		}
	}
	return false, nil
}

func (r *Repo) LockKey(ctx context.Context, key string) (func(), error) {
	return r.keys.lock(ctx, key)
}

func (r *Repo) MarkSupersededExcept(_ context.Context, slot domain.SlotRef, keep domain.AssetID, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.supersedeLocked(slot, keep, at), nil
}

func (r *Repo) Resurrect(_ context.Context, id domain.AssetID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resurrectLocked(id), nil
}

func (r *Repo) ResurrectExclusive(_ context.Context, a domain.Asset, at time.Time) (bool, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.resurrectLocked(a.ID) {
		return false, 0, nil
	}
	return true, r.supersedeLocked(r.rows[a.ID].Slot(), a.ID, at), nil
}

func (r *Repo) resurrectLocked(id domain.AssetID) bool {
	a, ok := r.rows[id]
	if !ok || a.Lifecycle != domain.LifecyclePendingDeletion {
		return false
	}
	a.Lifecycle = domain.LifecycleActive
	a.DeletionRequestedAt, a.DeletionRequestedBy = nil, nil
	a.UpdatedAt = r.now().UTC()
	r.rows[id] = a
	return true
}

func (r *Repo) RequestDeletion(_ context.Context, id domain.AssetID, by domain.OwnerID, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if a.Lifecycle != domain.LifecycleActive {
		return false, nil
	}
	t := at.UTC()
	a.Lifecycle = domain.LifecyclePendingDeletion
	a.DeletionRequestedAt = &t
	a.DeletionRequestedBy = &by
	a.UpdatedAt = r.now().UTC()
	r.rows[id] = a
	return true, nil
}

func (r *Repo) setProcessing(id domain.AssetID, st domain.ProcessingState, v domain.Variants) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.Processing = st
	if v != nil {
		a.Variants = cloneVariants(v)
	}
	a.UpdatedAt = r.now().UTC()
	r.rows[id] = a
	return nil
}

func (r *Repo) MarkProcessing(_ context.Context, id domain.AssetID) error {
	return r.setProcessing(id, domain.ProcessingRunning, nil)
}

func (r *Repo) MarkProcessed(_ context.Context, id domain.AssetID, v domain.Variants) error {
	if v == nil {
		v = domain.Variants{}
	}
	return r.setProcessing(id, domain.ProcessingDone, v)
}

func (r *Repo) MarkFailed(_ context.Context, id domain.AssetID) error {
	return r.setProcessing(id, domain.ProcessingFailed, nil)
}

func (r *Repo) FindUnprocessed(_ context.Context, olderThan time.Time, limit int) ([]domain.Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Asset
	for _, a := range r.rows {
		if a.Lifecycle != domain.LifecycleActive {
			continue
		}
		if a.Processing != domain.ProcessingUnprocessed && a.Processing != domain.ProcessingRunning {
			continue
		}
		if !a.UpdatedAt.Before(olderThan) {
			continue
		}
		out = append(out, clone(a))
	}
	return limitSorted(out, limit), nil
}

func (r *Repo) FindExpiredPendingDeletions(_ context.Context, c domain.Category, cutoff time.Time, limit int) ([]domain.Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Asset
	for _, a := range r.rows {
		if a.Category != c || a.Lifecycle != domain.LifecyclePendingDeletion || a.DeletionRequestedAt == nil {
			continue
		}
		if a.DeletionRequestedAt.Before(cutoff) {
			out = append(out, clone(a))
		}
	}
	return limitSorted(out, limit), nil
}

func (r *Repo) FindClaimed(_ context.Context, limit int) ([]domain.Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Asset
	for _, a := range r.rows {
		if a.Lifecycle == domain.LifecycleDeleted {
			out = append(out, clone(a))
		}
	}
	return limitSorted(out, limit), nil
}

func (r *Repo) ClaimForDeletion(_ context.Context, id domain.AssetID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[id]
	if !ok || a.Lifecycle != domain.LifecyclePendingDeletion {
		return false, nil
	}
	a.Lifecycle = domain.LifecycleDeleted
	a.UpdatedAt = r.now().UTC()
	r.rows[id] = a
	return true, nil
}

func (r *Repo) DeleteClaimed(_ context.Context, id domain.AssetID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[id]
	if !ok || a.Lifecycle != domain.LifecycleDeleted {
		return false, nil
	}
	delete(r.rows, id)
	return true, nil
}

func (r *Repo) FindOvercrowdedSlots(_ context.Context, limit int) ([]domain.SlotRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[domain.SlotRef]int)
	for _, a := range r.rows {
		if a.Lifecycle == domain.LifecycleActive && a.Category.SlotExclusive() {
			counts[a.Slot()]++
		}
	}
	var out []domain.SlotRef
	for s, n := range counts {
		if n > 1 {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OwnerID != out[j].OwnerID {
			return out[i].OwnerID.String() < out[j].OwnerID.String()
		}
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].SlotKey < out[j].SlotKey
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Put кладёт строку как есть, минуя проверки (подготовка данных в тестах,
// например слот с двумя active после сбоя).
func (r *Repo) Put(a domain.Asset) domain.Asset {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Seq == 0 {
		r.seq++
		a.Seq = r.seq
	}
	r.rows[a.ID] = clone(a)
	return clone(a)
}

func limitSorted(in []domain.Asset, limit int) []domain.Asset {
	sort.Slice(in, func(i, j int) bool { return in[i].Seq < in[j].Seq })
	if limit > 0 && len(in) > limit {
		in = in[:limit]
	}
	return in
}

func clone(a domain.Asset) domain.Asset {
	a.Variants = cloneVariants(a.Variants)
	if a.DeletionRequestedAt != nil {
		t := *a.DeletionRequestedAt
		a.DeletionRequestedAt = &t
	}
	if a.DeletionRequestedBy != nil {
		b := *a.DeletionRequestedBy
		a.DeletionRequestedBy = &b
	}
	return a
}

func cloneVariants(v domain.Variants) domain.Variants {
	if v == nil {
		return nil
	}
	out := make(domain.Variants, len(v))
	for k, x := range v {
		out[k] = x
	}
	return out
}
