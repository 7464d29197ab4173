package web

import (
	"log"
	"net/http"

	"github.com/EgorLis/my-media/internal/transport/web/mw"
	"github.com/EgorLis/my-media/internal/transport/web/v1/admin"
	"github.com/EgorLis/my-media/internal/transport/web/v1/assets"
	"github.com/EgorLis/my-media/internal/transport/web/v1/auth"
	"github.com/EgorLis/my-media/internal/transport/web/v1/health"
)

type handlers struct {
	health *health.Handler
	assets *assets.Handler
	gc     *admin.GCHandler
	logout *auth.HandlerLogout
}

func newRouter(h handlers, deps Deps, logger *log.Logger) http.Handler {
	mux := http.NewServeMux()
	authDeps := mw.AuthDeps{Tokens: deps.Tokens, Blacklist: deps.Blacklist}
	private := func(f http.HandlerFunc) http.Handler { return mw.RequireAuth(authDeps, f) }

	// health
	mux.HandleFunc("GET /v1/healthz", h.health.Liveness)
	mux.HandleFunc("GET /v1/readyz", h.health.Readiness)

	// assets
	mux.Handle("POST /v1/assets", private(h.assets.Upload))
	mux.Handle("GET /v1/assets/{id}", private(h.assets.Get))
	mux.Handle("DELETE /v1/assets/{id}", private(h.assets.Delete))

	// auth
	mux.Handle("DELETE /v1/auth/token", private(h.logout.Logout))

	// admin
	mux.Handle("POST /v1/admin/gc", mw.RequireAuth(authDeps, mw.RequireAdmin(http.HandlerFunc(h.gc.Run))))

	if deps.MetricsHandler != nil {
		mux.Handle("GET /metrics", deps.MetricsHandler)
	}

	// 🔗 middleware
	return mw.WithRequestID(mw.Logging(logger, deps.Metrics)(mux))
}
