package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/EgorLis/my-media/internal/domain"
)

// Limits — ограничения на загрузку для категории.
type Limits struct {
	MaxBytes int64    `mapstructure:"max_bytes" yaml:"max_bytes"`
	MIME     []string `mapstructure:"mime" yaml:"mime"` // шаблоны: "image/*", "application/pdf"
}

// Allows проверяет MIME по списку шаблонов. Пустой список — разрешено всё.
func (l Limits) Allows(mime string) bool {
	if len(l.MIME) == 0 {
		return true
	}
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	for _, p := range l.MIME {
		p = strings.ToLower(strings.TrimSpace(p))
		switch {
		case p == "*/*" || p == "*":
			return true
		case strings.HasSuffix(p, "/*"):
			if strings.HasPrefix(mime, strings.TrimSuffix(p, "*")) {
				return true
			}
		case p == mime:
			return true
		}
	}
	return false
}

// Table — таблица политик по категориям: лимиты загрузки и сроки хранения.
// Собирается один раз при старте процесса и дальше только читается.
type Table struct {
	Limits    map[domain.Category]Limits
	Retention map[domain.Category]time.Duration
}

var (
	imageMIME = []string{"image/jpeg", "image/png", "image/gif", "image/webp", "image/bmp"}
	mediaMIME = []string{"image/*", "video/*", "audio/*"}
	anyMIME   = []string{"image/*", "video/*", "audio/*", "application/pdf", "text/plain",
		"application/msword", "application/vnd.openxmlformats-officedocument.wordprocessingml.document"}
)

// Defaults — зашитые безопасные значения; работают, если конфигурации нет вовсе.
func Defaults() Table {
	return Table{
		Limits: map[domain.Category]Limits{
			domain.CategoryProfilePicture:    {MaxBytes: 10 << 20, MIME: imageMIME},
			domain.CategoryGallerySet:        {MaxBytes: 25 << 20, MIME: imageMIME},
			domain.CategoryPortfolioItem:     {MaxBytes: 200 << 20, MIME: mediaMIME},
			domain.CategoryApplicationPhoto:  {MaxBytes: 15 << 20, MIME: imageMIME},
			domain.CategoryVerificationPhoto: {MaxBytes: 15 << 20, MIME: append(append([]string{}, imageMIME...), "application/pdf")},
			domain.CategoryGeneric:           {MaxBytes: 50 << 20, MIME: anyMIME},
		},
		Retention: map[domain.Category]time.Duration{
			domain.CategoryGeneric:           0,
			domain.CategoryGallerySet:        time.Hour,
			domain.CategoryPortfolioItem:     6 * time.Hour,
			domain.CategoryProfilePicture:    24 * time.Hour,
			domain.CategoryApplicationPhoto:  72 * time.Hour,
			domain.CategoryVerificationPhoto: 30 * 24 * time.Hour,
		},
	}
}

// LimitsFor — лимиты категории; для неизвестной берутся лимиты generic.
func (t Table) LimitsFor(c domain.Category) Limits {
	if l, ok := t.Limits[c]; ok {
		return l
	}
	if l, ok := Defaults().Limits[c]; ok {
		return l
	}
	return Defaults().Limits[domain.CategoryGeneric]
}

// Merge накладывает переопределения поверх таблицы. Невалидные значения
// (отрицательные размеры/сроки, неизвестные категории) отбрасываются с ошибкой в списке.
func (t Table) Merge(limits map[domain.Category]Limits, retention map[domain.Category]time.Duration) (Table, []error) {
	out := Table{
		Limits:    make(map[domain.Category]Limits, len(t.Limits)),
		Retention: make(map[domain.Category]time.Duration, len(t.Retention)),
	}
	for k, v := range t.Limits {
		out.Limits[k] = v
	}
	for k, v := range t.Retention {
		out.Retention[k] = v
	}

	var errs []error
	for c, l := range limits {
		if !c.Valid() {
			errs = append(errs, fmt.Errorf("limits: unknown category %q", c))
			continue
		}
		cur := out.Limits[c]
		if l.MaxBytes < 0 {
			errs = append(errs, fmt.Errorf("limits: %s: negative max_bytes", c))
		} else if l.MaxBytes > 0 {
			cur.MaxBytes = l.MaxBytes
		}
		if len(l.MIME) > 0 {
			cur.MIME = l.MIME
		}
		out.Limits[c] = cur
	}
	for c, d := range retention {
		if !c.Valid() {
			errs = append(errs, fmt.Errorf("retention: unknown category %q", c))
			continue
		}
		if d < 0 {
			errs = append(errs, fmt.Errorf("retention: %s: negative duration", c))
			continue
		}
		out.Retention[c] = d
	}
	return out, errs
}
