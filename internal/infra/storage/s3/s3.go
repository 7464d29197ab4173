package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/EgorLis/my-media/internal/domain"
)

type Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	PathStyle bool
}

type Storage struct {
	cl     *minio.Client
	bucket string
	logger *log.Logger
}

var _ domain.BlobStorage = (*Storage)(nil)

func New(ctx context.Context, cfg Config, logger *log.Logger) (*Storage, error) {
	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	}
	if cfg.PathStyle {
		opts.BucketLookup = minio.BucketLookupPath
	}
	cl, err := minio.New(cfg.Endpoint, opts)
	if err != nil {
		return nil, err
	}
	s := &Storage{cl: cl, bucket: cfg.Bucket, logger: logger}
	if err := s.ensureBucket(ctx, cfg.Region); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Storage) ensureBucket(ctx context.Context, region string) error {
	ok, err := s.cl.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("bucket exists %q: %w", s.bucket, err)
	}
	if ok {
		return nil
	}
	s.logger.Printf("bucket %q not found, creating", s.bucket)
	if err := s.cl.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("make bucket %q: %w", s.bucket, err)
	}
	return nil
}

// Write: ключ производный от контента, поэтому объект того же размера
// считаем уже сохранённым и не перезаливаем.
func (s *Storage) Write(ctx context.Context, key string, data []byte, mime string) (bool, error) {
	if ok, size, err := s.Exists(ctx, key); err != nil {
		return false, err
	} else if ok && size == int64(len(data)) {
		s.logger.Printf("put %s: already stored (%d bytes)", key, size)
		return false, nil
	}

	if mime == "" {
		mime = "application/octet-stream"
	}
	info, err := s.cl.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: mime,
	})
	if err != nil {
		return false, domain.StorageError("put", key, err)
	}
	s.logger.Printf("put %s ok (%d bytes, etag=%s)", key, info.Size, info.ETag)
	return true, nil
}

func (s *Storage) Exists(ctx context.Context, key string) (bool, int64, error) {
	info, err := s.cl.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return false, 0, nil
		}
		return false, 0, domain.StorageError("stat", key, err)
	}
	return true, info.Size, nil
}

func (s *Storage) Read(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.cl.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, domain.StorageError("get", key, err)
	}
	defer obj.Close()

	b, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, key)
		}
		return nil, domain.StorageError("get", key, err)
	}
	return b, nil
}

// Delete: RemoveObject в S3 и так идемпотентен, но MinIO в некоторых режимах
// отвечает NoSuchKey — это тоже успех.
func (s *Storage) Delete(ctx context.Context, key string) error {
	err := s.cl.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err != nil && !isNotFound(err) {
		return domain.StorageError("remove", key, err)
	}
	s.logger.Printf("remove %s ok", key)
	return nil
}

func (s *Storage) Ping(ctx context.Context) error {
	ok, err := s.cl.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("bucket %q does not exist", s.bucket)
	}
	return nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NotFound" || resp.StatusCode == http.StatusNotFound
}
