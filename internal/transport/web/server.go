package web

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/EgorLis/my-media/internal/transport/web/v1/admin"
	"github.com/EgorLis/my-media/internal/transport/web/v1/assets"
	"github.com/EgorLis/my-media/internal/transport/web/v1/auth"
	"github.com/EgorLis/my-media/internal/transport/web/v1/health"
)

type Server struct {
	log    *log.Logger
	server *http.Server
}

func New(logger *log.Logger, port string, deps Deps) *Server {
	healthLog := log.New(logger.Writer(), logger.Prefix()+"[health] ", logger.Flags())
	assetsLog := log.New(logger.Writer(), logger.Prefix()+"[assets] ", logger.Flags())
	adminLog := log.New(logger.Writer(), logger.Prefix()+"[admin] ", logger.Flags())
	authLog := log.New(logger.Writer(), logger.Prefix()+"[auth] ", logger.Flags())

	h := handlers{
		health: &health.Handler{Log: healthLog, DB: deps.Repo, Storage: deps.Storage},
		assets: &assets.Handler{
			Log:            assetsLog,
			Ingest:         deps.Ingest,
			Assets:         deps.Assets,
			IDs:            deps.IDs,
			URLs:           deps.URLs,
			Cache:          deps.Cache,
			MaxUploadBytes: deps.MaxUploadBytes,
		},
		gc:     &admin.GCHandler{Log: adminLog, Collector: deps.Collector},
		logout: &auth.HandlerLogout{Log: authLog, Tokens: deps.Tokens, Blacklist: deps.Blacklist},
	}
	if deps.Cache != nil {
		h.health.Cache = deps.Cache
	}

	addr := port
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(h, deps, logger),
		ReadTimeout:       2 * time.Minute, // большие загрузки
		WriteTimeout:      2 * time.Minute,
		MaxHeaderBytes:    1 << 20,
		ReadHeaderTimeout: 2 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return &Server{server: srv, log: logger}
}

// Handler — корневой обработчик (для httptest)
func (ws *Server) Handler() http.Handler { return ws.server.Handler }

func (ws *Server) Run() {
	ws.log.Printf("started on %s", ws.server.Addr)
	if err := ws.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		ws.log.Fatalf("error: %v", err)
	}
}

func (ws *Server) Close(ctx context.Context) {
	if err := ws.server.Shutdown(ctx); err != nil {
		ws.log.Printf("forced to shutdown: %v", err)
	}
	ws.log.Println("exited gracefully")
}
