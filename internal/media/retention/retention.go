package retention

import (
	"time"

	"github.com/EgorLis/my-media/internal/domain"
	"github.com/EgorLis/my-media/internal/media/policy"
)

// Policy — срок ожидания между мягким и физическим удалением по категории.
// Ноль означает «можно собирать, как только сборщик увидит pending», а не
// «удалять синхронно»: удаляет всегда только сборщик.
type Policy struct {
	delays   map[domain.Category]time.Duration
	fallback time.Duration
}

// New копирует таблицу — после создания политика неизменяема.
func New(delays map[domain.Category]time.Duration) *Policy {
	p := &Policy{delays: make(map[domain.Category]time.Duration, len(delays))}
	for c, d := range delays {
		if d < 0 {
			d = 0
		}
		p.delays[c] = d
	}
	// для неизвестной категории берём самый длинный срок
	for _, d := range p.delays {
		if d > p.fallback {
			p.fallback = d
		}
	}
	return p
}

func FromTable(t policy.Table) *Policy { return New(t.Retention) }

func Default() *Policy { return FromTable(policy.Defaults()) }

func (p *Policy) DelayFor(c domain.Category) time.Duration {
	if d, ok := p.delays[c]; ok {
		return d
	}
	return p.fallback
}

// Cutoff: pending-ассеты с deletion_requested_at строго раньше этого момента можно собирать.
func (p *Policy) Cutoff(c domain.Category, now time.Time) time.Time {
	return now.Add(-p.DelayFor(c))
}
