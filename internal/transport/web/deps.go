package web

import (
	"net/http"

	"github.com/EgorLis/my-media/internal/domain"
	"github.com/EgorLis/my-media/internal/transport/web/mw"
	"github.com/EgorLis/my-media/internal/transport/web/v1/admin"
	"github.com/EgorLis/my-media/internal/transport/web/v1/assets"
	"github.com/EgorLis/my-media/internal/transport/web/v1/health"
)

// Deps — всё, что нужно HTTP-слою. Собирается в internal/app.
type Deps struct {
	Repo      health.Pinger
	Storage   health.Pinger
	Cache     domain.AssetCache // nil — Redis не настроен
	Ingest    assets.Ingester
	Assets    assets.Reader
	IDs       assets.IDCodec
	URLs      assets.URLResolver
	Collector admin.Collector

	Tokens    domain.TokenManager
	Blacklist domain.TokenBlacklist // nil — без ревокации

	Metrics        mw.Recorder
	MetricsHandler http.Handler // nil — /metrics не публикуется

	MaxUploadBytes int64
}
