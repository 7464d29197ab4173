package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	AppEnv        string `mapstructure:"APP_ENV"`
	AppPort       string `mapstructure:"APP_PORT"`
	PublicBaseURL string `mapstructure:"PUBLIC_BASE_URL"`

	// --- Metadata store: postgres | memory ---
	DBDriver   string `mapstructure:"DB_DRIVER"`
	DBHost     string `mapstructure:"DB_HOST"`
	DBPort     int    `mapstructure:"DB_PORT"`
	DBUser     string `mapstructure:"DB_USER"`
	DBPassword string `mapstructure:"DB_PASSWORD"`
	DBName     string `mapstructure:"DB_NAME"`
	DBScheme   string `mapstructure:"DB_SCHEME"`

	// --- Blob storage: local | s3 ---
	StorageDriver string `mapstructure:"STORAGE_DRIVER"`
	StorageRoot   string `mapstructure:"STORAGE_ROOT"`

	// --- S3 ---
	S3Endpoint  string `mapstructure:"S3_ENDPOINT"`
	S3Region    string `mapstructure:"S3_REGION"`
	S3Bucket    string `mapstructure:"S3_BUCKET"`
	S3AccessKey string `mapstructure:"S3_ACCESS_KEY"`
	S3SecretKey string `mapstructure:"S3_SECRET_KEY"`
	S3UseSSL    bool   `mapstructure:"S3_USE_SSL"`
	S3PathStyle bool   `mapstructure:"S3_PATH_STYLE"`

	// --- Redis (пусто — без кеша и без распределённой аренды GC) ---
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	CacheTTLSec   int    `mapstructure:"CACHE_TTL_SEC"`

	// --- Auth ---
	AuthJWTSecret string        `mapstructure:"AUTH_JWT_SECRET"`
	AuthIssuer    string        `mapstructure:"AUTH_ISSUER"`
	AuthTokenTTL  time.Duration `mapstructure:"AUTH_TOKEN_TTL"`

	// --- Media ---
	HashAlgorithm   string `mapstructure:"HASH_ALGORITHM"`
	ShardDepth      int    `mapstructure:"SHARD_DEPTH"`
	ShardWidth      int    `mapstructure:"SHARD_WIDTH"`
	PublicIDSeed    string `mapstructure:"PUBLIC_ID_SEED"`
	UploadMaxBytes  int64  `mapstructure:"UPLOAD_MAX_BYTES"`
	MediaConfigFile string `mapstructure:"MEDIA_CONFIG_FILE"`

	// --- GC ---
	GCEnabled  bool          `mapstructure:"GC_ENABLED"`
	GCSchedule string        `mapstructure:"GC_SCHEDULE"`
	GCBatch    int           `mapstructure:"GC_BATCH"`
	GCLeaseTTL time.Duration `mapstructure:"GC_LEASE_TTL"`
	GCTimeout  time.Duration `mapstructure:"GC_TIMEOUT"`

	// --- Variants ---
	VariantWorkers     int           `mapstructure:"VARIANT_WORKERS"`
	VariantQueueSize   int           `mapstructure:"VARIANT_QUEUE_SIZE"`
	VariantMaxAttempts int           `mapstructure:"VARIANT_MAX_ATTEMPTS"`
	VariantBackoff     time.Duration `mapstructure:"VARIANT_BACKOFF"`
	VariantStaleAfter  time.Duration `mapstructure:"VARIANT_STALE_AFTER"`
	RequeueSchedule    string        `mapstructure:"REQUEUE_SCHEDULE"`
	FFmpegPath         string        `mapstructure:"FFMPEG_PATH"`

	// --- Logging ---
	LogFile       string `mapstructure:"LOG_FILE"`
	LogMaxSizeMB  int    `mapstructure:"LOG_MAX_SIZE_MB"`
	LogMaxBackups int    `mapstructure:"LOG_MAX_BACKUPS"`
	LogMaxAgeDays int    `mapstructure:"LOG_MAX_AGE_DAYS"`
}

var defaults = map[string]any{
	"APP_ENV":         "dev",
	"APP_PORT":        "8080",
	"PUBLIC_BASE_URL": "/media",

	"DB_DRIVER": "postgres",
	"DB_HOST":   "localhost",
	"DB_PORT":   5432,
	"DB_SCHEME": "media",

	"STORAGE_DRIVER": "local",
	"STORAGE_ROOT":   "./data/media",
	"S3_REGION":      "us-east-1",
	"S3_PATH_STYLE":  true,

	"CACHE_TTL_SEC": 300,

	"AUTH_ISSUER":    "my-media",
	"AUTH_TOKEN_TTL": "1h",

	"HASH_ALGORITHM":   "sha256",
	"SHARD_DEPTH":      4,
	"SHARD_WIDTH":      2,
	"UPLOAD_MAX_BYTES": 200 << 20,

	"GC_ENABLED":   true,
	"GC_SCHEDULE":  "@every 15m",
	"GC_BATCH":     200,
	"GC_LEASE_TTL": "10m",
	"GC_TIMEOUT":   "30m",

	"VARIANT_WORKERS":      2,
	"VARIANT_QUEUE_SIZE":   1000,
	"VARIANT_MAX_ATTEMPTS": 3,
	"VARIANT_BACKOFF":      "2s",
	"VARIANT_STALE_AFTER":  "10m",
	"REQUEUE_SCHEDULE":     "@every 5m",

	"LOG_MAX_SIZE_MB":  100,
	"LOG_MAX_BACKUPS":  5,
	"LOG_MAX_AGE_DAYS": 30,
}

// String реализует интерфейс Stringer
func (c *Config) String() string {
	var sb strings.Builder
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "  AppEnv: %s\n", c.AppEnv)
	fmt.Fprintf(&sb, "  AppPort: %s\n", c.AppPort)
	fmt.Fprintf(&sb, "  PublicBaseURL: %s\n", c.PublicBaseURL)

	fmt.Fprintf(&sb, "  DBDriver: %s\n", c.DBDriver)
	if c.DBDriver == "postgres" {
		fmt.Fprintf(&sb, "  DBHost: %s\n", c.DBHost)
		fmt.Fprintf(&sb, "  DBPort: %d\n", c.DBPort)
		fmt.Fprintf(&sb, "  DBUser: %s\n", c.DBUser)
		fmt.Fprintf(&sb, "  DBName: %s\n", c.DBName)
		fmt.Fprintf(&sb, "  DBScheme: %s\n", c.DBScheme)
		sb.WriteString("  DBPassword: " + mask(c.DBPassword) + "\n")
	}

	fmt.Fprintf(&sb, "  StorageDriver: %s\n", c.StorageDriver)
	if c.StorageDriver == "s3" {
		fmt.Fprintf(&sb, "  S3Endpoint: %s\n", c.S3Endpoint)
		fmt.Fprintf(&sb, "  S3Region: %s\n", c.S3Region)
		fmt.Fprintf(&sb, "  S3Bucket: %s\n", c.S3Bucket)
		sb.WriteString("  S3AccessKey: " + mask(c.S3AccessKey) + "\n")
		sb.WriteString("  S3SecretKey: " + mask(c.S3SecretKey) + "\n")
		fmt.Fprintf(&sb, "  S3UseSSL: %v\n", c.S3UseSSL)
		fmt.Fprintf(&sb, "  S3PathStyle: %v\n", c.S3PathStyle)
	} else {
		fmt.Fprintf(&sb, "  StorageRoot: %s\n", c.StorageRoot)
	}

	fmt.Fprintf(&sb, "  RedisAddr: %s\n", c.RedisAddr)
	sb.WriteString("  RedisPassword: " + mask(c.RedisPassword) + "\n")
	sb.WriteString("  AuthJWTSecret: " + mask(c.AuthJWTSecret) + "\n")
	fmt.Fprintf(&sb, "  AuthTokenTTL: %s\n", c.AuthTokenTTL)

	fmt.Fprintf(&sb, "  Hash: %s, Shard: %dx%d\n", c.HashAlgorithm, c.ShardDepth, c.ShardWidth)
	fmt.Fprintf(&sb, "  MediaConfigFile: %s\n", c.MediaConfigFile)
	fmt.Fprintf(&sb, "  GC: enabled=%v schedule=%q batch=%d lease=%s\n", c.GCEnabled, c.GCSchedule, c.GCBatch, c.GCLeaseTTL)
	fmt.Fprintf(&sb, "  Variants: workers=%d queue=%d attempts=%d backoff=%s\n",
		c.VariantWorkers, c.VariantQueueSize, c.VariantMaxAttempts, c.VariantBackoff)
	fmt.Fprintf(&sb, "  LogFile: %s\n", c.LogFile)

	return sb.String()
}

func mask(s string) string {
	if s == "" {
		return "(empty)"
	}
	return "********"
}

// LoadFromEnv загружает конфигурацию из переменных окружения
func LoadFromEnv() (*Config, error) {
	// Загружаем .env только для локальной разработки
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, errors.New("failed to load .env")
		}
	}

	v := viper.New()
	v.AutomaticEnv()

	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	// Регистрируем ключи без дефолта, чтобы Unmarshal их увидел
	keys := []string{
		"DB_USER", "DB_PASSWORD", "DB_NAME",
		"S3_ENDPOINT", "S3_BUCKET", "S3_ACCESS_KEY", "S3_SECRET_KEY", "S3_USE_SSL",
		"REDIS_ADDR", "REDIS_DB", "REDIS_PASSWORD",
		"AUTH_JWT_SECRET", "PUBLIC_ID_SEED", "MEDIA_CONFIG_FILE", "FFMPEG_PATH", "LOG_FILE",
	}
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет только то, без чего процесс не поднимется.
func (c *Config) Validate() error {
	var errs []error
	switch c.DBDriver {
	case "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER: unknown driver %q", c.DBDriver))
	}
	switch c.StorageDriver {
	case "local":
		if c.StorageRoot == "" {
			errs = append(errs, errors.New("STORAGE_ROOT is required for local storage"))
		}
	case "s3":
		if c.S3Bucket == "" || c.S3Endpoint == "" {
			errs = append(errs, errors.New("S3_ENDPOINT and S3_BUCKET are required for s3 storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE_DRIVER: unknown driver %q", c.StorageDriver))
	}
	if c.AuthJWTSecret == "" && c.AppEnv != "dev" {
		errs = append(errs, errors.New("AUTH_JWT_SECRET is required outside dev"))
	}
	return errors.Join(errs...)
}

func (c *Config) GetDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DBUser,
		c.DBPassword,
		c.DBHost,
		c.DBPort,
		c.DBName,
	)
}
