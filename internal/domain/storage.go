package domain

import "context"

// Хранилище бинарного контента (локальный диск или S3/MinIO).
// Ключи — относительные пути вида {ownerScope}/{shard...}/{name}.
type BlobStorage interface {
	// Write идемпотентен: если по ключу уже лежит объект того же размера,
	// возвращает stored=false без перезаписи.
	Write(ctx context.Context, key string, data []byte, mime string) (stored bool, err error)
	Exists(ctx context.Context, key string) (ok bool, size int64, err error)
	Read(ctx context.Context, key string) ([]byte, error)
	// Delete на отсутствующем ключе — успех.
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}
