package urls

import (
	"net/url"
	"path"
	"strings"

	"github.com/EgorLis/my-media/internal/domain"
)

// Resolver вычисляет внешний адрес ассета. Ничего не хранит и не читает:
// смена CDN-префикса не требует миграции данных.
type Resolver struct {
	base *url.URL
	raw  string
}

// New принимает базовый адрес вида "https://cdn.example.com/media" или "/media".
func New(baseURL string) (*Resolver, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "/media"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	return &Resolver{base: u, raw: baseURL}, nil
}

func (r *Resolver) Resolve(ownerScope, shardPath, storedName string) string {
	return r.join(path.Join(ownerScope, shardPath, storedName))
}

func (r *Resolver) Asset(a domain.Asset) string {
	return r.Resolve(a.OwnerScope(), a.ShardPath, a.StoredName)
}

// Variants возвращает адреса всех вариантов ассета по имени варианта.
func (r *Resolver) Variants(a domain.Asset) map[string]string {
	if len(a.Variants) == 0 {
		return nil
	}
	out := make(map[string]string, len(a.Variants))
	for name, v := range a.Variants {
		out[name] = r.join(v.Path)
	}
	return out
}

func (r *Resolver) join(rel string) string {
	u := *r.base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(rel, "/")
	u.RawPath = ""
	return u.String()
}
