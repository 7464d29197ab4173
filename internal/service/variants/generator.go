package variants

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"path"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/klauspost/compress/zstd"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/EgorLis/my-media/internal/domain"
	"github.com/EgorLis/my-media/internal/media/sharding"
)

// Имена вариантов
const (
	ThumbSmall = "thumb_sm"
	ThumbMed   = "thumb_md"
	ThumbLarge = "thumb_lg"
	Compressed = "compressed"
	Poster     = "poster"
)

// Thumb — квадрат, в который вписывается превью
type Thumb struct {
	Name string
	Size int
}

type Config struct {
	Thumbs       []Thumb
	ThumbQuality int
	// Качество JPEG для сжатой копии оригинала
	CompressedQuality int
	// Защита от «бомб»: больше пикселей — не декодируем
	MaxPixels int
	// Путь к ffmpeg; пусто — искать в PATH
	FFmpegPath string
}

func DefaultConfig() Config {
	return Config{
		Thumbs: []Thumb{
			{Name: ThumbSmall, Size: 160},
			{Name: ThumbMed, Size: 480},
			{Name: ThumbLarge, Size: 1024},
		},
		ThumbQuality:      82,
		CompressedQuality: 60,
		MaxPixels:         64_000_000,
	}
}

// Observer — счётчики результатов генерации (metrics).
type Observer interface {
	Generated(outcome string)
}

// Generator строит производные артефакты ассета вне пути запроса.
// Повторный вызов для того же ассета перезаписывает те же ключи.
type Generator struct {
	repo   domain.AssetRepo
	store  domain.BlobStorage
	poster *posterExtractor
	cfg    Config
	obs    Observer
	logger *log.Logger
}

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdErr  error
)

func encoder() (*zstd.Encoder, error) {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	return zstdEnc, zstdErr
}

func New(repo domain.AssetRepo, store domain.BlobStorage, cfg Config, logger *log.Logger) *Generator {
	def := DefaultConfig()
	if len(cfg.Thumbs) == 0 {
		cfg.Thumbs = def.Thumbs
	}
	if cfg.ThumbQuality <= 0 || cfg.ThumbQuality > 100 {
		cfg.ThumbQuality = def.ThumbQuality
	}
	if cfg.CompressedQuality <= 0 || cfg.CompressedQuality > 100 {
		cfg.CompressedQuality = def.CompressedQuality
	}
	if cfg.MaxPixels <= 0 {
		cfg.MaxPixels = def.MaxPixels
	}
	return &Generator{
		repo:   repo,
		store:  store,
		poster: newPosterExtractor(cfg.FFmpegPath, logger),
		cfg:    cfg,
		logger: logger,
	}
}

func (g *Generator) WithObserver(o Observer) *Generator {
	g.obs = o
	return g
}

// Generate строит набор вариантов для ассета и фиксирует результат в processing_state.
// При ошибке уже записанные варианты остаются на месте.
func (g *Generator) Generate(ctx context.Context, id domain.AssetID) (domain.Variants, error) {
	a, err := g.repo.ByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Lifecycle == domain.LifecycleDeleted {
		// строку уже забрал сборщик: новые файлы стали бы мусором
		g.logger.Printf("skip id=%s: lifecycle=%s", id, a.Lifecycle)
		g.observe("skipped")
		return nil, nil
	}

	if err := g.repo.MarkProcessing(ctx, id); err != nil {
		return nil, err
	}

	out, err := g.safeBuild(ctx, a)
	if err != nil {
		g.logger.Printf("generate id=%s failed: %v", id, err)
		if markErr := g.repo.MarkFailed(ctx, id); markErr != nil {
			g.logger.Printf("mark failed id=%s: %v", id, markErr)
		}
		g.observe("failed")
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrProcessing, id, err)
	}

	if err := g.repo.MarkProcessed(ctx, id, out); err != nil {
		return nil, err
	}
	g.logger.Printf("generated id=%s variants=%d", id, len(out))
	g.observe("processed")
	return out, nil
}

// safeBuild превращает панику декодера в обычный отказ: строка уйдёт в failed,
// а не останется в processing навсегда.
func (g *Generator) safeBuild(ctx context.Context, a domain.Asset) (out domain.Variants, err error) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Printf("build id=%s panicked: %v\n%s", a.ID, r, debug.Stack())
			out, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return g.build(ctx, a)
}

func (g *Generator) build(ctx context.Context, a domain.Asset) (domain.Variants, error) {
	src, err := g.store.Read(ctx, a.StorageKey())
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}

	switch {
	case strings.HasPrefix(a.MIME, "image/"):
		return g.imageVariants(ctx, a, src)
	case strings.HasPrefix(a.MIME, "video/"):
		return g.videoVariants(ctx, a, src)
	default:
		return g.compressedCopy(ctx, a, src)
	}
}

func (g *Generator) imageVariants(ctx context.Context, a domain.Asset, src []byte) (domain.Variants, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Width*cfg.Height > g.cfg.MaxPixels {
		return nil, fmt.Errorf("image %dx%d exceeds pixel limit", cfg.Width, cfg.Height)
	}
	img, err := imaging.Decode(bytes.NewReader(src), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	out := make(domain.Variants, len(g.cfg.Thumbs)+1)
	for _, t := range g.cfg.Thumbs {
		// Fit не увеличивает картинку меньше рамки
		thumb := imaging.Fit(img, t.Size, t.Size, imaging.Lanczos)
		v, err := g.putJPEG(ctx, a, t.Name, thumb, g.cfg.ThumbQuality)
		if err != nil {
			return nil, err
		}
		out[t.Name] = v
	}

	v, err := g.putJPEG(ctx, a, Compressed, img, g.cfg.CompressedQuality)
	if err != nil {
		return nil, err
	}
	out[Compressed] = v
	return out, nil
}

func (g *Generator) putJPEG(ctx context.Context, a domain.Asset, name string, img image.Image, quality int) (domain.Variant, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return domain.Variant{}, fmt.Errorf("encode %s: %w", name, err)
	}
	return g.put(ctx, a, name, "jpg", buf.Bytes(), "image/jpeg")
}

func (g *Generator) videoVariants(ctx context.Context, a domain.Asset, src []byte) (domain.Variants, error) {
	frame, err := g.poster.Extract(ctx, src)
	if errors.Is(err, errNoFFmpeg) {
		// без ffmpeg у видео просто нет вариантов
		return domain.Variants{}, nil
	}
	if err != nil {
		return nil, err
	}
	v, err := g.put(ctx, a, Poster, "jpg", frame, "image/jpeg")
	if err != nil {
		return nil, err
	}
	return domain.Variants{Poster: v}, nil
}

func (g *Generator) compressedCopy(ctx context.Context, a domain.Asset, src []byte) (domain.Variants, error) {
	enc, err := encoder()
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	packed := enc.EncodeAll(src, nil)
	if len(packed) >= len(src) {
		// несжимаемый контент: копия не нужна
		return domain.Variants{}, nil
	}
	v, err := g.put(ctx, a, Compressed, "zst", packed, "application/zstd")
	if err != nil {
		return nil, err
	}
	return domain.Variants{Compressed: v}, nil
}

// put пишет вариант рядом с оригиналом: {owner}/{shard}/{stem}.{variant}.{ext}
func (g *Generator) put(ctx context.Context, a domain.Asset, name, ext string, data []byte, mime string) (domain.Variant, error) {
	key := path.Join(a.OwnerScope(), a.ShardPath, sharding.VariantName(a.StoredName, name, ext))
	if _, err := g.store.Write(ctx, key, data, mime); err != nil {
		return domain.Variant{}, fmt.Errorf("write %s: %w", name, err)
	}
	return domain.Variant{Path: key, Size: int64(len(data))}, nil
}

func (g *Generator) observe(outcome string) {
	if g.obs != nil {
		g.obs.Generated(outcome)
	}
}
