package variants

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EgorLis/my-media/internal/domain"
	"github.com/EgorLis/my-media/internal/infra/database/memory"
	"github.com/EgorLis/my-media/internal/infra/storage/local"
	"github.com/EgorLis/my-media/internal/media/hashing"
	"github.com/EgorLis/my-media/internal/media/sharding"
)

type env struct {
	gen   *Generator
	repo  *memory.Repo
	store *local.Storage
}

func newEnv(t *testing.T) *env {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	store, err := local.New(t.TempDir(), logger)
	require.NoError(t, err)
	repo := memory.New()
	gen := New(repo, store, DefaultConfig(), logger)
	gen.poster.bin = ""
	return &env{gen: gen, repo: repo, store: store}
}

// seed кладёт файл и строку так же, как это делает загрузка
func (e *env) seed(t *testing.T, data []byte, mime, ext string) domain.Asset {
	t.Helper()
	digest := hashing.NewDefault().Hash(data)
	shard, err := sharding.NewDefault().Path(digest)
	require.NoError(t, err)
	a, err := e.repo.Create(context.Background(), domain.Asset{
		OwnerID:     uuid.New(),
		ContentHash: digest,
		MIME:        mime,
		SizeBytes:   int64(len(data)),
		ShardPath:   shard,
		StoredName:  sharding.StoredName(digest, ext),
		Category:    domain.CategoryGallerySet,
	})
	require.NoError(t, err)
	_, err = e.store.Write(context.Background(), a.StorageKey(), data, mime)
	require.NoError(t, err)
	return a
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: 200, G: 40, B: 40, A: 255})
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))
	return buf.Bytes()
}

func TestGenerate_ImageThumbnails(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.seed(t, pngBytes(t, 800, 400), "image/png", "png")

	out, err := e.gen.Generate(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, out, 4)

	sm := out[ThumbSmall]
	assert.True(t, strings.HasSuffix(sm.Path, a.ContentHash+".thumb_sm.jpg"), sm.Path)
	assert.True(t, strings.HasPrefix(sm.Path, a.OwnerScope()+"/"+a.ShardPath+"/"))

	raw, err := e.store.Read(ctx, sm.Path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(raw)), sm.Size)
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 160, cfg.Width)
	assert.Equal(t, 80, cfg.Height)

	// исходник меньше рамки — не растягиваем
	raw, err = e.store.Read(ctx, out[ThumbLarge].Path)
	require.NoError(t, err)
	cfg, _, err = image.DecodeConfig(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 800, cfg.Width)

	got, err := e.repo.ByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProcessingDone, got.Processing)
	assert.Equal(t, out, got.Variants)
}

func TestGenerate_Idempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.seed(t, pngBytes(t, 300, 300), "image/png", "png")

	first, err := e.gen.Generate(ctx, a.ID)
	require.NoError(t, err)
	second, err := e.gen.Generate(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestGenerate_CorruptImageMarksFailed(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.seed(t, []byte("definitely not a jpeg"), "image/jpeg", "jpg")

	_, err := e.gen.Generate(ctx, a.ID)
	require.ErrorIs(t, err, domain.ErrProcessing)

	got, err := e.repo.ByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProcessingFailed, got.Processing)
	assert.Equal(t, domain.LifecycleActive, got.Lifecycle, "processing failure never touches lifecycle")
}

// panickyStore падает с паникой на чтении исходника
type panickyStore struct{ domain.BlobStorage }

func (panickyStore) Read(context.Context, string) ([]byte, error) { panic("decoder exploded") }

func TestGenerate_PanicMarksFailed(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.seed(t, pngBytes(t, 10, 10), "image/png", "png")
	gen := New(e.repo, panickyStore{e.store}, DefaultConfig(), log.New(io.Discard, "", 0))

	_, err := gen.Generate(ctx, a.ID)
	require.ErrorIs(t, err, domain.ErrProcessing)
	assert.Contains(t, err.Error(), "decoder exploded")

	got, err := e.repo.ByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProcessingFailed, got.Processing)

	// requeue-unprocessed больше не подберёт строку
	stale, err := e.repo.FindUnprocessed(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestGenerate_DocumentCompressedWithZstd(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.seed(t, []byte(strings.Repeat("lorem ipsum dolor sit amet ", 200)), "text/plain", "txt")

	out, err := e.gen.Generate(ctx, a.ID)
	require.NoError(t, err)
	require.Contains(t, out, Compressed)
	assert.True(t, strings.HasSuffix(out[Compressed].Path, ".compressed.zst"))
	assert.Less(t, out[Compressed].Size, a.SizeBytes)
}

func TestGenerate_VideoWithoutFFmpeg(t *testing.T) {
	e := newEnv(t)
	a := e.seed(t, []byte("fake mp4"), "video/mp4", "mp4")

	out, err := e.gen.Generate(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Empty(t, out)

	got, err := e.repo.ByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProcessingDone, got.Processing)
}

func TestGenerate_SkipsClaimedAsset(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.seed(t, pngBytes(t, 10, 10), "image/png", "png")
	_, err := e.repo.RequestDeletion(ctx, a.ID, a.OwnerID, time.Now())
	require.NoError(t, err)
	_, err = e.repo.ClaimForDeletion(ctx, a.ID)
	require.NoError(t, err)

	out, err := e.gen.Generate(ctx, a.ID)
	require.NoError(t, err)
	assert.Nil(t, out)

	got, err := e.repo.ByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProcessingUnprocessed, got.Processing)
}

func TestGenerate_MissingSourceFails(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, err := e.repo.Create(ctx, domain.Asset{
		OwnerID: uuid.New(), ContentHash: "ffff", MIME: "image/png",
		ShardPath: "ff/ff", StoredName: "ffff.png", Category: domain.CategoryGeneric,
	})
	require.NoError(t, err)

	_, err = e.gen.Generate(ctx, a.ID)
	assert.ErrorIs(t, err, domain.ErrProcessing)
}
