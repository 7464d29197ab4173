package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/EgorLis/my-media/internal/domain"
)

var _ domain.AssetRepo = (*PGRepo)(nil)

var assetColumns = []string{
	"id", "seq", "owner_id", "tenant_id",
	"content_hash", "mime_type", "size_bytes",
	"shard_path", "stored_name", "original_name",
	"category", "slot_key",
	"lifecycle_state", "deletion_requested_at", "deletion_requested_by",
	"processing_state", "variants",
	"created_at", "updated_at",
}

const returningAsset = "RETURNING id, seq, owner_id, tenant_id, content_hash, mime_type, size_bytes, " +
	"shard_path, stored_name, original_name, category, slot_key, " +
	"lifecycle_state, deletion_requested_at, deletion_requested_by, " +
	"processing_state, variants, created_at, updated_at"

func scanAsset(row pgx.Row) (domain.Asset, error) {
	var (
		a        domain.Asset
		variants []byte
	)
	if err := row.Scan(
		&a.ID, &a.Seq, &a.OwnerID, &a.TenantID,
		&a.ContentHash, &a.MIME, &a.SizeBytes,
		&a.ShardPath, &a.StoredName, &a.OriginalName,
		&a.Category, &a.SlotKey,
		&a.Lifecycle, &a.DeletionRequestedAt, &a.DeletionRequestedBy,
		&a.Processing, &variants,
		&a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return domain.Asset{}, err
	}
	if len(variants) > 0 {
		if err := json.Unmarshal(variants, &a.Variants); err != nil {
			return domain.Asset{}, fmt.Errorf("decode variants: %w", err)
		}
	}
	if len(a.Variants) == 0 {
		a.Variants = nil
	}
	return a, nil
}

func collectAssets(rows pgx.Rows) ([]domain.Asset, error) {
	defer rows.Close()
	var out []domain.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// mapErr: нет строки -> ErrNotFound; уникальность/исключение -> ErrConflict
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "23P01": // unique_violation, exclusion_violation
			return fmt.Errorf("%w: %s", domain.ErrConflict, pgErr.ConstraintName)
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %s", domain.ErrConflict, pgErr.Code)
		}
	}
	return err
}

// querier — общий интерфейс пула и транзакции
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ---------- builders ----------

func (r *PGRepo) insertQuery(a domain.Asset) (sq.InsertBuilder, error) {
	variants := a.Variants
	if variants == nil {
		variants = domain.Variants{}
	}
	payload, err := json.Marshal(variants)
	if err != nil {
		return sq.InsertBuilder{}, err
	}
	processing := a.Processing
	if processing == "" {
		processing = domain.ProcessingUnprocessed
	}
	return r.qb().Insert(r.table()).
		Columns(
			"id", "owner_id", "tenant_id",
			"content_hash", "mime_type", "size_bytes",
			"shard_path", "stored_name", "storage_key", "original_name",
			"category", "slot_key", "slot_exclusive",
			"lifecycle_state", "processing_state", "variants",
		).
		Values(
			a.ID, a.OwnerID, a.TenantID,
			a.ContentHash, a.MIME, a.SizeBytes,
			a.ShardPath, a.StoredName, a.StorageKey(), a.OriginalName,
			string(a.Category), a.SlotKey, a.Category.SlotExclusive(),
			string(domain.LifecycleActive), string(processing), string(payload),
		).
		// гонка двух одинаковых загрузок решается здесь: второй INSERT не вставит ничего
		Suffix("ON CONFLICT (owner_id, content_hash, mime_type) WHERE lifecycle_state <> 'deleted' DO NOTHING " +
			returningAsset), nil
}

func (r *PGRepo) supersedeQuery(slot domain.SlotRef, keep domain.AssetID, at time.Time) sq.UpdateBuilder {
	return r.qb().Update(r.table()).
		SetMap(map[string]any{
			"lifecycle_state":       string(domain.LifecyclePendingDeletion),
			"deletion_requested_at": at.UTC(),
			"deletion_requested_by": slot.OwnerID,
			"updated_at":            sq.Expr("now()"),
		}).
		Where(sq.Eq{
			"owner_id":        slot.OwnerID,
			"category":        string(slot.Category),
			"slot_key":        slot.SlotKey,
			"lifecycle_state": string(domain.LifecycleActive),
		}).
		Where(sq.NotEq{"id": keep})
}

func (r *PGRepo) resurrectQuery(id domain.AssetID) sq.UpdateBuilder {
	return r.qb().Update(r.table()).
		SetMap(map[string]any{
			"lifecycle_state":       string(domain.LifecycleActive),
			"deletion_requested_at": nil,
			"deletion_requested_by": nil,
			"updated_at":            sq.Expr("now()"),
		}).
		Where(sq.Eq{"id": id, "lifecycle_state": string(domain.LifecyclePendingDeletion)})
}

func (r *PGRepo) expiredQuery(c domain.Category, cutoff time.Time, limit int) sq.SelectBuilder {
	return r.qb().Select(assetColumns...).From(r.table()).
		Where(sq.Eq{"category": string(c), "lifecycle_state": string(domain.LifecyclePendingDeletion)}).
		Where(sq.Lt{"deletion_requested_at": cutoff.UTC()}).
		OrderBy("deletion_requested_at ASC", "seq ASC").
		Limit(uint64(normLimit(limit)))
}

func (r *PGRepo) slotLockQuery(slot domain.SlotRef) (string, []any) {
	// блокировка на время транзакции, ключ — хэш адреса слота
	key := slot.OwnerID.String() + "|" + string(slot.Category) + "|" + slot.SlotKey
	return "SELECT pg_advisory_xact_lock(hashtextextended($1, 0))", []any{key}
}

const (
	keyLockSQL   = "SELECT pg_advisory_lock(hashtextextended($1, 1))"
	keyUnlockSQL = "SELECT pg_advisory_unlock(hashtextextended($1, 1))"
)

func normLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}

// ---------- create ----------

func (r *PGRepo) insert(ctx context.Context, q querier, op string, a domain.Asset) (domain.Asset, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	ib, err := r.insertQuery(a)
	if err != nil {
		return domain.Asset{}, err
	}
	sqlStr, args, err := ib.ToSql()
	if err != nil {
		return domain.Asset{}, err
	}
	r.logSQL(op, sqlStr, args)

	out, err := scanAsset(q.QueryRow(ctx, sqlStr, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		// ON CONFLICT DO NOTHING: живая строка с тем же контентом уже есть
		return domain.Asset{}, fmt.Errorf("%w: live asset with same content exists", domain.ErrConflict)
	}
	return out, mapErr(err)
}

func (r *PGRepo) Create(ctx context.Context, a domain.Asset) (domain.Asset, error) {
	start := time.Now()
	out, err := r.insert(ctx, r.pool, "Create", a)
	if err != nil {
		r.logger.Printf("Create error after %s: %v", time.Since(start), err)
		return domain.Asset{}, err
	}
	r.logger.Printf("Create ok in %s id=%s hash=%s", time.Since(start), out.ID, out.ContentHash)
	return out, nil
}

func (r *PGRepo) CreateExclusive(ctx context.Context, a domain.Asset, at time.Time) (domain.Asset, int64, error) {
	start := time.Now()
	var (
		out        domain.Asset
		superseded int64
	)
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		lockSQL, lockArgs := r.slotLockQuery(a.Slot())
		if _, err := tx.Exec(ctx, lockSQL, lockArgs...); err != nil {
			return err
		}
		var err error
		if out, err = r.insert(ctx, tx, "CreateExclusive.insert", a); err != nil {
			return err
		}
		superseded, err = r.supersede(ctx, tx, out.Slot(), out.ID, at)
		return err
	})
	if err != nil {
		err = mapErr(err)
		r.logger.Printf("CreateExclusive error after %s: %v", time.Since(start), err)
		return domain.Asset{}, 0, err
	}
	r.logger.Printf("CreateExclusive ok in %s id=%s superseded=%d", time.Since(start), out.ID, superseded)
	return out, superseded, nil
}

// ---------- read ----------

func (r *PGRepo) getOne(ctx context.Context, op string, where sq.Sqlizer) (domain.Asset, error) {
	sqlStr, args, err := r.qb().Select(assetColumns...).From(r.table()).Where(where).Limit(1).ToSql()
	if err != nil {
		return domain.Asset{}, err
	}
	r.logSQL(op, sqlStr, args)
	a, err := scanAsset(r.pool.QueryRow(ctx, sqlStr, args...))
	return a, mapErr(err)
}

func (r *PGRepo) ByID(ctx context.Context, id domain.AssetID) (domain.Asset, error) {
	return r.getOne(ctx, "ByID", sq.Eq{"id": id})
}

func (r *PGRepo) BySeq(ctx context.Context, seq int64) (domain.Asset, error) {
	return r.getOne(ctx, "BySeq", sq.Eq{"seq": seq})
}

func (r *PGRepo) FindByOwnerAndHash(ctx context.Context, owner domain.OwnerID, hash, mime string) (domain.Asset, error) {
	// live-строка приоритетнее захваченной сборщиком (deleted)
	sqlStr, args, err := r.qb().Select(assetColumns...).From(r.table()).
		Where(sq.Eq{"owner_id": owner, "content_hash": hash, "mime_type": mime}).
		OrderBy("(lifecycle_state = 'deleted') ASC", "seq DESC").
		Limit(1).ToSql()
	if err != nil {
		return domain.Asset{}, err
	}
	r.logSQL("FindByOwnerAndHash", sqlStr, args)
	a, err := scanAsset(r.pool.QueryRow(ctx, sqlStr, args...))
	return a, mapErr(err)
}

func (r *PGRepo) FindActiveBySlot(ctx context.Context, slot domain.SlotRef) ([]domain.Asset, error) {
	sqlStr, args, err := r.qb().Select(assetColumns...).From(r.table()).
		Where(sq.Eq{
			"owner_id":        slot.OwnerID,
			"category":        string(slot.Category),
			"slot_key":        slot.SlotKey,
			"lifecycle_state": string(domain.LifecycleActive),
		}).
		OrderBy("seq DESC").ToSql()
	if err != nil {
		return nil, err
	}
	return r.list(ctx, "FindActiveBySlot", sqlStr, args)
}

func (r *PGRepo) KeyInUse(ctx context.Context, key string, except domain.AssetID) (bool, error) {
	sqlStr, args, err := r.qb().Select("1").From(r.table()).
		Where(sq.Eq{"storage_key": key}).
		Where(sq.NotEq{"id": except, "lifecycle_state": string(domain.LifecycleDeleted)}).
		Prefix("SELECT EXISTS (").Suffix(")").ToSql()
	if err != nil {
		return false, err
	}
	r.logSQL("KeyInUse", sqlStr, args)
	var ok bool
	if err := r.pool.QueryRow(ctx, sqlStr, args...).Scan(&ok); err != nil {
		return false, mapErr(err)
	}
	return ok, nil
}

// LockKey берёт сессионную advisory-блокировку по ключу хранилища (seed 1, чтобы
// не пересекаться с блокировками слотов). Соединение занято до unlock.
func (r *PGRepo) LockKey(ctx context.Context, key string) (func(), error) {
	conn, err := r.locks.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock conn: %w", err)
	}
	if _, err := conn.Exec(ctx, keyLockSQL, key); err != nil {
		// отменённое ожидание могло успеть взять блокировку: сессию не возвращаем в пул
		_ = conn.Conn().Close(context.Background())
		conn.Release()
		return nil, fmt.Errorf("lock key %s: %w", key, err)
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := conn.Exec(ctx, keyUnlockSQL, key); err != nil {
				// блокировка живёт, пока жива сессия: закрываем соединение
				r.logger.Printf("unlock key=%s failed, dropping conn: %v", key, err)
				_ = conn.Conn().Close(ctx)
			}
			conn.Release()
		})
	}, nil
}

func (r *PGRepo) list(ctx context.Context, op, sqlStr string, args []any) ([]domain.Asset, error) {
	r.logSQL(op, sqlStr, args)
	start := time.Now()
	rows, err := r.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		r.logger.Printf("%s query error after %s: %v", op, time.Since(start), err)
		return nil, err
	}
	out, err := collectAssets(rows)
	if err != nil {
		r.logger.Printf("%s scan error: %v", op, err)
		return nil, err
	}
	r.logger.Printf("%s ok in %s count=%d", op, time.Since(start), len(out))
	return out, nil
}

// ---------- lifecycle ----------

func (r *PGRepo) supersede(ctx context.Context, q querier, slot domain.SlotRef, keep domain.AssetID, at time.Time) (int64, error) {
	sqlStr, args, err := r.supersedeQuery(slot, keep, at).ToSql()
	if err != nil {
		return 0, err
	}
	r.logSQL("MarkSupersededExcept", sqlStr, args)
	tag, err := q.Exec(ctx, sqlStr, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PGRepo) MarkSupersededExcept(ctx context.Context, slot domain.SlotRef, keep domain.AssetID, at time.Time) (int64, error) {
	n, err := r.supersede(ctx, r.pool, slot, keep, at)
	return n, mapErr(err)
}

func (r *PGRepo) exec(ctx context.Context, q querier, op string, b sq.Sqlizer) (int64, error) {
	sqlStr, args, err := b.ToSql()
	if err != nil {
		return 0, err
	}
	r.logSQL(op, sqlStr, args)
	start := time.Now()
	tag, err := q.Exec(ctx, sqlStr, args...)
	if err != nil {
		r.logger.Printf("%s exec error after %s: %v", op, time.Since(start), err)
		return 0, mapErr(err)
	}
	r.logger.Printf("%s ok in %s rows=%d", op, time.Since(start), tag.RowsAffected())
	return tag.RowsAffected(), nil
}

func (r *PGRepo) Resurrect(ctx context.Context, id domain.AssetID) (bool, error) {
	n, err := r.exec(ctx, r.pool, "Resurrect", r.resurrectQuery(id))
	return n == 1, err
}

func (r *PGRepo) ResurrectExclusive(ctx context.Context, a domain.Asset, at time.Time) (bool, int64, error) {
	var (
		ok         bool
		superseded int64
	)
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		lockSQL, lockArgs := r.slotLockQuery(a.Slot())
		if _, err := tx.Exec(ctx, lockSQL, lockArgs...); err != nil {
			return err
		}
		n, err := r.exec(ctx, tx, "ResurrectExclusive.resurrect", r.resurrectQuery(a.ID))
		if err != nil || n == 0 {
			return err
		}
		ok = true
		superseded, err = r.supersede(ctx, tx, a.Slot(), a.ID, at)
		return err
	})
	if err != nil {
		return false, 0, mapErr(err)
	}
	return ok, superseded, nil
}

func (r *PGRepo) RequestDeletion(ctx context.Context, id domain.AssetID, by domain.OwnerID, at time.Time) (bool, error) {
	n, err := r.exec(ctx, r.pool, "RequestDeletion", r.qb().Update(r.table()).
		SetMap(map[string]any{
			"lifecycle_state":       string(domain.LifecyclePendingDeletion),
			"deletion_requested_at": at.UTC(),
			"deletion_requested_by": by,
			"updated_at":            sq.Expr("now()"),
		}).
		Where(sq.Eq{"id": id, "lifecycle_state": string(domain.LifecycleActive)}))
	if err != nil {
		return false, err
	}
	if n == 0 {
		// либо уже pending (no-op), либо строки нет вовсе
		if _, err := r.ByID(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// ---------- processing ----------

func (r *PGRepo) setProcessing(ctx context.Context, op string, id domain.AssetID, st domain.ProcessingState, v domain.Variants) error {
	set := map[string]any{
		"processing_state": string(st),
		"updated_at":       sq.Expr("now()"),
	}
	if v != nil {
		payload, err := json.Marshal(v)
		if err != nil {
			return err
		}
		set["variants"] = string(payload)
	}
	n, err := r.exec(ctx, r.pool, op, r.qb().Update(r.table()).SetMap(set).Where(sq.Eq{"id": id}))
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *PGRepo) MarkProcessing(ctx context.Context, id domain.AssetID) error {
	return r.setProcessing(ctx, "MarkProcessing", id, domain.ProcessingRunning, nil)
}

func (r *PGRepo) MarkProcessed(ctx context.Context, id domain.AssetID, v domain.Variants) error {
	if v == nil {
		v = domain.Variants{}
	}
	return r.setProcessing(ctx, "MarkProcessed", id, domain.ProcessingDone, v)
}

func (r *PGRepo) MarkFailed(ctx context.Context, id domain.AssetID) error {
	return r.setProcessing(ctx, "MarkFailed", id, domain.ProcessingFailed, nil)
}

func (r *PGRepo) FindUnprocessed(ctx context.Context, olderThan time.Time, limit int) ([]domain.Asset, error) {
	sqlStr, args, err := r.qb().Select(assetColumns...).From(r.table()).
		Where(sq.Eq{
			"lifecycle_state":  string(domain.LifecycleActive),
			"processing_state": []string{string(domain.ProcessingUnprocessed), string(domain.ProcessingRunning)},
		}).
		Where(sq.Lt{"updated_at": olderThan.UTC()}).
		OrderBy("updated_at ASC").
		Limit(uint64(normLimit(limit))).ToSql()
	if err != nil {
		return nil, err
	}
	return r.list(ctx, "FindUnprocessed", sqlStr, args)
}

// ---------- collection ----------

func (r *PGRepo) FindExpiredPendingDeletions(ctx context.Context, c domain.Category, cutoff time.Time, limit int) ([]domain.Asset, error) {
	sqlStr, args, err := r.expiredQuery(c, cutoff, limit).ToSql()
	if err != nil {
		return nil, err
	}
	return r.list(ctx, "FindExpiredPendingDeletions", sqlStr, args)
}

func (r *PGRepo) FindClaimed(ctx context.Context, limit int) ([]domain.Asset, error) {
	sqlStr, args, err := r.qb().Select(assetColumns...).From(r.table()).
		Where(sq.Eq{"lifecycle_state": string(domain.LifecycleDeleted)}).
		OrderBy("updated_at ASC").
		Limit(uint64(normLimit(limit))).ToSql()
	if err != nil {
		return nil, err
	}
	return r.list(ctx, "FindClaimed", sqlStr, args)
}

func (r *PGRepo) ClaimForDeletion(ctx context.Context, id domain.AssetID) (bool, error) {
	n, err := r.exec(ctx, r.pool, "ClaimForDeletion", r.qb().Update(r.table()).
		SetMap(map[string]any{
			"lifecycle_state": string(domain.LifecycleDeleted),
			"updated_at":      sq.Expr("now()"),
		}).
		Where(sq.Eq{"id": id, "lifecycle_state": string(domain.LifecyclePendingDeletion)}))
	return n == 1, err
}

func (r *PGRepo) DeleteClaimed(ctx context.Context, id domain.AssetID) (bool, error) {
	n, err := r.exec(ctx, r.pool, "DeleteClaimed", r.qb().Delete(r.table()).
		Where(sq.Eq{"id": id, "lifecycle_state": string(domain.LifecycleDeleted)}))
	return n == 1, err
}

func (r *PGRepo) FindOvercrowdedSlots(ctx context.Context, limit int) ([]domain.SlotRef, error) {
	sqlStr, args, err := r.qb().Select("owner_id", "category", "slot_key").From(r.table()).
		Where(sq.Eq{"lifecycle_state": string(domain.LifecycleActive), "slot_exclusive": true}).
		GroupBy("owner_id", "category", "slot_key").
		Having("count(*) > 1").
		Limit(uint64(normLimit(limit))).ToSql()
	if err != nil {
		return nil, err
	}
	r.logSQL("FindOvercrowdedSlots", sqlStr, args)

	rows, err := r.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.SlotRef
	for rows.Next() {
		var s domain.SlotRef
		if err := rows.Scan(&s.OwnerID, &s.Category, &s.SlotKey); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
