package domain

import "context"

// Ключи кеша — единое место, чтобы не расползались по коду.
func CacheKeyAssetMeta(id AssetID) string { return "assetmeta:" + id.String() }
func CacheKeyTokenJTI(jti string) string  { return "jti:" + jti }

const CacheKeyGCLease = "gc:lease"

// AssetCache — кеш метаданных ассетов по id (Redis).
// Промах — (Asset{}, false, nil), а не ошибка.
type AssetCache interface {
	GetAsset(ctx context.Context, id AssetID) (Asset, bool, error)
	PutAsset(ctx context.Context, a Asset) error
	DropAsset(ctx context.Context, id AssetID) error
	Ping(ctx context.Context) error
}
