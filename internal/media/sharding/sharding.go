package sharding

import (
	"fmt"
	"path"
	"strings"
)

// Значения по умолчанию: 4 уровня по 2 hex-символа, т.е. не больше 256 записей на каталог.
const (
	DefaultDepth = 4
	DefaultWidth = 2
)

// Sharder раскладывает дайджест во вложенный путь. Чистая функция от входа:
// ingestion и сборщик мусора обязаны получать один и тот же путь.
type Sharder struct {
	depth int
	width int
}

func New(depth, width int) (*Sharder, error) {
	if depth <= 0 || width <= 0 {
		return nil, fmt.Errorf("shard depth and width must be positive (depth=%d width=%d)", depth, width)
	}
	return &Sharder{depth: depth, width: width}, nil
}

func NewDefault() *Sharder { return &Sharder{depth: DefaultDepth, width: DefaultWidth} }


// Segments делит ведущие depth*width символов дайджеста на сегменты.
func (s *Sharder) Segments(digest string) ([]string, error) {
	return Shard(digest, s.depth, s.width)
}

// Path — сегменты, склеенные через "/".
func (s *Sharder) Path(digest string) (string, error) {
	segs, err := s.Segments(digest)
	if err != nil {
		return "", err
	}
	return path.Join(segs...), nil
}

func Shard(digest string, depth, width int) ([]string, error) {
	if depth <= 0 || width <= 0 {
		return nil, fmt.Errorf("shard depth and width must be positive (depth=%d width=%d)", depth, width)
	}
	need := depth * width
	if len(digest) < need {
		return nil, fmt.Errorf("digest too short for %dx%d sharding: %d chars", depth, width, len(digest))
	}
	digest = strings.ToLower(digest)
	out := make([]string, depth)
	for i := 0; i < depth; i++ {
		seg := digest[i*width : (i+1)*width]
		if strings.ContainsAny(seg, "/\\.") {
			return nil, fmt.Errorf("digest contains path characters: %q", seg)
		}
		out[i] = seg
	}
	return out, nil
}

// StoredName: <digest>.<ext> (или просто <digest>, если расширения нет).
// Имя содержит хэш целиком, поэтому путь для одного и того же контента вычисляется
// независимо и одинаково.
func StoredName(digest, ext string) string {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		return digest
	}
	return digest + "." + ext
}

// VariantName: <stem>.<variant>.<ext> рядом с оригиналом.
func VariantName(storedName, variant, ext string) string {
	stem := storedName
	if i := strings.IndexByte(storedName, '.'); i > 0 {
		stem = storedName[:i]
	}
	return stem + "." + variant + "." + strings.TrimPrefix(ext, ".")
}
