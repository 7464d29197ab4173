package app

import (
	"bytes"
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EgorLis/my-media/internal/auth/blacklist"
	"github.com/EgorLis/my-media/internal/config"
	"github.com/EgorLis/my-media/internal/domain"
	"github.com/EgorLis/my-media/internal/service/ingest"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		AppPort:            "0",
		PublicBaseURL:      "/media",
		DBDriver:           "memory",
		StorageDriver:      "local",
		StorageRoot:        t.TempDir(),
		AuthJWTSecret:      "secret",
		AuthIssuer:         "my-media",
		AuthTokenTTL:       time.Hour,
		HashAlgorithm:      "sha256",
		ShardDepth:         4,
		ShardWidth:         2,
		GCEnabled:          true,
		GCSchedule:         "@every 1h",
		GCBatch:            50,
		GCTimeout:          time.Minute,
		VariantWorkers:     1,
		VariantQueueSize:   10,
		VariantMaxAttempts: 1,
		VariantBackoff:     time.Millisecond,
		VariantStaleAfter:  0,
		RequeueSchedule:    "@every 5m",
	}
}

func TestNewCore_MemoryAndLocal(t *testing.T) {
	cfg := testConfig(t)
	core, err := NewCore(context.Background(), cfg, log.New(io.Discard, "", 0))
	require.NoError(t, err)
	defer core.Close()

	assert.Nil(t, core.Redis)
	// без Redis отзыв токенов живёт в памяти процесса
	assert.IsType(t, &blacklist.Store{}, core.Blacklist)
	require.NoError(t, core.Repo.Ping(context.Background()))
	require.NoError(t, core.Storage.Ping(context.Background()))

	res, err := core.Ingest.Ingest(context.Background(), ingest.Request{
		OwnerID:  uuid.New(),
		Category: domain.CategoryGeneric,
		Data:     []byte("hello"),
		MIME:     "text/plain",
	})
	require.NoError(t, err)
	assert.Equal(t, "2c/f2/4d/ba", res.Asset.ShardPath)
	// очередь не запущена: задача лежит в буфере
	assert.Equal(t, 1, core.Queue.Len())
}

func TestNewCore_BadHashAlgorithm(t *testing.T) {
	cfg := testConfig(t)
	cfg.HashAlgorithm = "md5"
	_, err := NewCore(context.Background(), cfg, log.New(io.Discard, "", 0))
	require.Error(t, err)
}

func TestNewCore_BrokenPolicyFileIsIgnored(t *testing.T) {
	cfg := testConfig(t)
	cfg.MediaConfigFile = filepath.Join(t.TempDir(), "missing.yaml")

	var buf bytes.Buffer
	core, err := NewCore(context.Background(), cfg, log.New(&buf, "", 0))
	require.NoError(t, err)
	defer core.Close()
	assert.Contains(t, buf.String(), "media policy ignored")
	assert.Equal(t, 24*time.Hour, core.Retention.DelayFor(domain.CategoryProfilePicture))
}

func TestRequeueStale(t *testing.T) {
	cfg := testConfig(t)
	core, err := NewCore(context.Background(), cfg, log.New(io.Discard, "", 0))
	require.NoError(t, err)
	defer core.Close()

	for _, body := range []string{"a", "b", "c"} {
		_, err := core.Ingest.Ingest(context.Background(), ingest.Request{
			OwnerID: uuid.New(), Category: domain.CategoryGeneric, Data: []byte(body), MIME: "text/plain",
		})
		require.NoError(t, err)
	}
	require.Equal(t, 3, core.Queue.Len())

	// уже стоящие в очереди принимаются, но не дублируются
	time.Sleep(time.Millisecond)
	n, err := core.RequeueStale(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, core.Queue.Len())
}

func TestQueueProcessesVariants(t *testing.T) {
	cfg := testConfig(t)
	core, err := NewCore(context.Background(), cfg, log.New(io.Discard, "", 0))
	require.NoError(t, err)
	defer core.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	core.Queue.Start(ctx)

	res, err := core.Ingest.Ingest(ctx, ingest.Request{
		OwnerID:  uuid.New(),
		Category: domain.CategoryGeneric,
		Data:     []byte(strings.Repeat("compressible text ", 200)),
		MIME:     "text/plain",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		a, err := core.Repo.ByID(ctx, res.Asset.ID)
		return err == nil && a.Processing == domain.ProcessingDone
	}, 5*time.Second, 10*time.Millisecond)

	a, err := core.Repo.ByID(ctx, res.Asset.ID)
	require.NoError(t, err)
	require.Contains(t, a.Variants, "compressed")

	stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	require.NoError(t, core.Queue.Stop(stopCtx))
}

func TestNewScheduler_RejectsBadSpec(t *testing.T) {
	cfg := testConfig(t)
	cfg.GCSchedule = "every now and then"
	core, err := NewCore(context.Background(), cfg, log.New(io.Discard, "", 0))
	require.NoError(t, err)
	defer core.Close()

	_, err = newScheduler(core, log.New(io.Discard, "", 0))
	require.Error(t, err)

	cfg.GCEnabled = false
	s, err := newScheduler(core, log.New(io.Discard, "", 0))
	require.NoError(t, err)
	require.NotNil(t, s)
}

func TestNewBaseLogger_TeesIntoFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.LogFile = filepath.Join(t.TempDir(), "media.log")
	cfg.LogMaxSizeMB = 1

	var stdout bytes.Buffer
	base, closer := newBaseLogger(cfg, &stdout)
	require.NotNil(t, closer)
	sub(base, "gc").Println("hello")
	require.NoError(t, closer.Close())

	assert.Contains(t, stdout.String(), "[app] [gc] hello")
	b, err := os.ReadFile(cfg.LogFile)
	require.NoError(t, err)
	assert.Contains(t, string(b), "[app] [gc] hello")
}
