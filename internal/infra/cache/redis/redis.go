package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/EgorLis/my-media/internal/domain"
)

// Cache — кеш метаданных ассетов и список отозванных jti поверх одного клиента.
type Cache struct {
	rdb      *redis.Client
	logger   *log.Logger
	assetTTL time.Duration
}

type Config struct {
	Addr     string
	DB       int
	Password string
	// AssetTTL — срок жизни записи метаданных; 0 — по умолчанию
	AssetTTL time.Duration
}

const defaultAssetTTL = 5 * time.Minute

var (
	_ domain.AssetCache     = (*Cache)(nil)
	_ domain.TokenBlacklist = (*Cache)(nil)
)

func New(cfg Config, logger *log.Logger) *Cache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		DB:       cfg.DB,
		Password: cfg.Password,
	})
	ttl := cfg.AssetTTL
	if ttl <= 0 {
		ttl = defaultAssetTTL
	}
	return &Cache{rdb: rdb, logger: logger, assetTTL: ttl}
}

// Client — общий клиент для Lease, чтобы не держать второй пул соединений.
func (c *Cache) Client() *redis.Client { return c.rdb }

func (c *Cache) Ping(ctx context.Context) error {
	err := c.rdb.Ping(ctx).Err()
	if err != nil {
		c.logger.Printf("PING failed: %v", err)
	}
	return err
}

func (c *Cache) Close() {
	if err := c.rdb.Close(); err != nil {
		c.logger.Printf("error while closing: %v", err)
		return
	}
	c.logger.Println("closed")
}

// cachedAsset — запись в кеше. Seq в JSON ассета скрыт, а без него не построить public id.
type cachedAsset struct {
	domain.Asset
	Seq int64 `json:"seq"`
}

// GetAsset читает метаданные ассета. Битая запись считается промахом и удаляется.
func (c *Cache) GetAsset(ctx context.Context, id domain.AssetID) (domain.Asset, bool, error) {
	key := domain.CacheKeyAssetMeta(id)
	b, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Asset{}, false, nil
	}
	if err != nil {
		c.logger.Printf("GET %q: %v", key, err)
		return domain.Asset{}, false, err
	}
	var rec cachedAsset
	if err := json.Unmarshal(b, &rec); err != nil || rec.ID != id {
		c.logger.Printf("GET %q: corrupt entry, dropping", key)
		_ = c.rdb.Del(ctx, key).Err()
		return domain.Asset{}, false, nil
	}
	rec.Asset.Seq = rec.Seq
	return rec.Asset, true, nil
}

// PutAsset кладёт метаданные на assetTTL. Физически удалённые строки не кешируются.
func (c *Cache) PutAsset(ctx context.Context, a domain.Asset) error {
	if a.Lifecycle == domain.LifecycleDeleted {
		return c.DropAsset(ctx, a.ID)
	}
	b, err := json.Marshal(cachedAsset{Asset: a, Seq: a.Seq})
	if err != nil {
		return fmt.Errorf("encode asset %s: %w", a.ID, err)
	}
	key := domain.CacheKeyAssetMeta(a.ID)
	if err := c.rdb.Set(ctx, key, b, c.assetTTL).Err(); err != nil {
		c.logger.Printf("SET %q failed: %v", key, err)
		return err
	}
	return nil
}

// DropAsset — инвалидация после смены состояния ассета.
func (c *Cache) DropAsset(ctx context.Context, id domain.AssetID) error {
	key := domain.CacheKeyAssetMeta(id)
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		c.logger.Printf("DEL %q failed: %v", key, err)
		return err
	}
	return nil
}

// Revoke помечает jti отозванным до exp. Истёкший токен держим минуту:
// часы реплик могут расходиться.
func (c *Cache) Revoke(ctx context.Context, jti string, exp time.Time) error {
	ttl := time.Until(exp)
	if ttl < time.Second {
		ttl = time.Minute
	}
	key := domain.CacheKeyTokenJTI(jti)
	if err := c.rdb.SetNX(ctx, key, "1", ttl).Err(); err != nil {
		c.logger.Printf("SETNX %q failed: %v", key, err)
		return err
	}
	c.logger.Printf("revoked jti=%s (ttl=%s)", jti, ttl.Round(time.Second))
	return nil
}

func (c *Cache) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := c.rdb.Exists(ctx, domain.CacheKeyTokenJTI(jti)).Result()
	if err != nil {
		c.logger.Printf("EXISTS jti=%s failed: %v", jti, err)
		return false, err
	}
	return n == 1, nil
}
