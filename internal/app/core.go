package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/EgorLis/my-media/internal/auth/blacklist"
	"github.com/EgorLis/my-media/internal/auth/token"
	"github.com/EgorLis/my-media/internal/config"
	"github.com/EgorLis/my-media/internal/domain"
	"github.com/EgorLis/my-media/internal/idgen"
	redisx "github.com/EgorLis/my-media/internal/infra/cache/redis"
	"github.com/EgorLis/my-media/internal/infra/database/memory"
	"github.com/EgorLis/my-media/internal/infra/database/postgres"
	"github.com/EgorLis/my-media/internal/infra/storage/local"
	s3storage "github.com/EgorLis/my-media/internal/infra/storage/s3"
	"github.com/EgorLis/my-media/internal/jobs"
	"github.com/EgorLis/my-media/internal/media/hashing"
	"github.com/EgorLis/my-media/internal/media/policy"
	"github.com/EgorLis/my-media/internal/media/retention"
	"github.com/EgorLis/my-media/internal/media/sharding"
	"github.com/EgorLis/my-media/internal/media/urls"
	"github.com/EgorLis/my-media/internal/metrics"
	"github.com/EgorLis/my-media/internal/service/collector"
	"github.com/EgorLis/my-media/internal/service/ingest"
	"github.com/EgorLis/my-media/internal/service/variants"
)

// Core — всё, кроме HTTP: хранилища и сервисы медиа-подсистемы.
// Используется и сервером, и mediactl.
type Core struct {
	Config *config.Config
	Policy policy.Table

	Repo    domain.AssetRepo
	Storage domain.BlobStorage
	Redis   *redisx.Cache // nil — Redis не настроен

	Hasher    *hashing.Hasher
	Sharder   *sharding.Sharder
	Retention *retention.Policy
	IDs       *idgen.Encoder
	URLs      *urls.Resolver
	Tokens    *token.Manager
	Blacklist domain.TokenBlacklist // Redis или память процесса

	Metrics   *metrics.Metrics
	Queue     *jobs.Queue
	Variants  *variants.Generator
	Ingest    *ingest.Service
	Collector *collector.Collector

	log *log.Logger
}

// NewCore открывает хранилища и собирает сервисы. Очередь не запускается.
func NewCore(ctx context.Context, cfg *config.Config, base *log.Logger) (*Core, error) {
	c := &Core{Config: cfg, log: base}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	table, problems := config.LoadPolicy(cfg.MediaConfigFile)
	for _, p := range problems {
		// битая политика не роняет процесс: остаются значения по умолчанию
		base.Printf("media policy ignored: %v", p)
	}
	c.Policy = table
	c.Retention = retention.FromTable(table)

	var err error
	if c.Hasher, err = hashing.New(hashing.Algorithm(cfg.HashAlgorithm)); err != nil {
		return nil, err
	}
	if c.Sharder, err = sharding.New(cfg.ShardDepth, cfg.ShardWidth); err != nil {
		return nil, err
	}
	if c.IDs, err = idgen.New(cfg.PublicIDSeed); err != nil {
		return nil, err
	}
	if c.URLs, err = urls.New(cfg.PublicBaseURL); err != nil {
		return nil, fmt.Errorf("public base url: %w", err)
	}
	c.Tokens = token.New(cfg.AuthJWTSecret, cfg.AuthIssuer, cfg.AuthTokenTTL)

	if err := c.openRepo(ctx); err != nil {
		return nil, err
	}
	if err := c.openStorage(ctx); err != nil {
		return nil, err
	}
	if err := c.openRedis(ctx); err != nil {
		return nil, err
	}
	if c.Redis != nil {
		c.Blacklist = c.Redis
	} else {
		c.Blacklist = blacklist.NewStore()
	}

	c.Metrics = metrics.New()

	c.Variants = variants.New(c.Repo, c.Storage, variantsConfig(cfg), sub(base, "variants")).WithObserver(c.Metrics)
	c.Queue = jobs.NewQueue(jobs.QueueConfig{
		Workers:     cfg.VariantWorkers,
		Capacity:    cfg.VariantQueueSize,
		MaxAttempts: cfg.VariantMaxAttempts,
		Backoff:     cfg.VariantBackoff,
	}, c.generate, sub(base, "queue"))
	c.Metrics.QueueDepth(c.Queue.Len)

	c.Ingest = ingest.New(c.Repo, c.Storage, c.Hasher, c.Sharder, c.Policy, sub(base, "ingest"),
		ingest.WithEnqueuer(c.Queue),
		ingest.WithObserver(c.Metrics),
	)

	var locker collector.Locker = &collector.MutexLocker{}
	if c.Redis != nil {
		locker = redisx.NewLease(c.Redis.Client(), cfg.GCLeaseTTL, sub(base, "lease"))
	}
	c.Collector = collector.New(c.Repo, c.Storage, c.Retention, sub(base, "gc"),
		collector.WithLocker(locker),
		collector.WithObserver(c.Metrics),
		collector.WithBatch(cfg.GCBatch),
	)

	ok = true
	return c, nil
}

func (c *Core) openRepo(ctx context.Context) error {
	switch c.Config.DBDriver {
	case "memory":
		c.log.Println("metadata store: in-memory (data is lost on restart)")
		c.Repo = memory.New()
	default:
		c.log.Println("init PostgreSQL")
		pg, err := postgres.NewPGRepo(ctx, sub(c.log, "postgres"), c.Config.GetDSN(), c.Config.DBScheme)
		if err != nil {
			return fmt.Errorf("failed init postgres: %w", err)
		}
		c.Repo = pg
		c.log.Println("PostgreSQL is initialized")
	}
	return nil
}

func (c *Core) openStorage(ctx context.Context) error {
	switch c.Config.StorageDriver {
	case "s3":
		c.log.Println("init S3 storage")
		s3, err := s3storage.New(ctx, s3storage.Config{
			Endpoint:  c.Config.S3Endpoint,
			Region:    c.Config.S3Region,
			Bucket:    c.Config.S3Bucket,
			AccessKey: c.Config.S3AccessKey,
			SecretKey: c.Config.S3SecretKey,
			UseSSL:    c.Config.S3UseSSL,
			PathStyle: c.Config.S3PathStyle,
		}, sub(c.log, "s3"))
		if err != nil {
			return fmt.Errorf("failed init s3: %w", err)
		}
		c.Storage = s3
	default:
		st, err := local.New(c.Config.StorageRoot, sub(c.log, "local"))
		if err != nil {
			return fmt.Errorf("failed init local storage: %w", err)
		}
		c.Storage = st
	}
	c.log.Printf("blob storage %q is initialized", c.Config.StorageDriver)
	return nil
}

func (c *Core) openRedis(ctx context.Context) error {
	if c.Config.RedisAddr == "" {
		c.log.Println("Redis is not configured: no metadata cache, revocations and GC lock are process-local")
		return nil
	}
	c.log.Println("init Redis")
	rc := redisx.New(redisx.Config{
		Addr:     c.Config.RedisAddr,
		DB:       c.Config.RedisDB,
		Password: c.Config.RedisPassword,
		AssetTTL: time.Duration(c.Config.CacheTTLSec) * time.Second,
	}, sub(c.log, "redis"))
	if err := rc.Ping(ctx); err != nil {
		rc.Close()
		return fmt.Errorf("failed init redis: %w", err)
	}
	c.Redis = rc
	c.log.Println("Redis is initialized")
	return nil
}

func variantsConfig(cfg *config.Config) variants.Config {
	vc := variants.DefaultConfig()
	vc.FFmpegPath = cfg.FFmpegPath
	return vc
}

// generate — обработчик очереди
func (c *Core) generate(ctx context.Context, id domain.AssetID) error {
	_, err := c.Variants.Generate(ctx, id)
	return err
}

// RequeueStale ставит в очередь ассеты, застрявшие в unprocessed/processing
// дольше staleAfter (очередь была переполнена или процесс упал).
func (c *Core) RequeueStale(ctx context.Context, staleAfter time.Duration) (int, error) {
	const batch = 500
	stale, err := c.Repo.FindUnprocessed(ctx, time.Now().Add(-staleAfter), batch)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, a := range stale {
		if c.Queue.Enqueue(a.ID) {
			n++
		}
	}
	if n > 0 {
		c.log.Printf("requeued %d of %d stale assets", n, len(stale))
	}
	return n, nil
}

// Close освобождает соединения. Безопасен на частично собранном Core.
func (c *Core) Close() {
	if c.Repo != nil {
		c.Repo.Close()
	}
	if c.Redis != nil {
		c.Redis.Close()
	}
}
