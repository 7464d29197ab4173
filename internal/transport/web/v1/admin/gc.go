package admin

import (
	"context"
	"log"
	"net/http"
	"strconv"

	"github.com/EgorLis/my-media/internal/service/collector"
	"github.com/EgorLis/my-media/internal/transport/web/logx"
	"github.com/EgorLis/my-media/internal/transport/web/mw"
	v1 "github.com/EgorLis/my-media/internal/transport/web/v1"
)

// Collector — сборщик мусора: Collect — один проход, Sweep — проход + сверка слотов
type Collector interface {
	Collect(ctx context.Context) (collector.Report, error)
	Sweep(ctx context.Context) (collector.Report, error)
}

type GCHandler struct {
	Log       *log.Logger
	Collector Collector
}

// Run — POST /v1/admin/gc[?reconcile=true]: внеплановая сборка, отдаёт отчёт
func (h *GCHandler) Run(w http.ResponseWriter, r *http.Request) {
	const op = "admin.gc"
	reqID := mw.RequestIDFromCtx(r.Context())

	reconcile, _ := strconv.ParseBool(r.URL.Query().Get("reconcile"))

	// проход не должен обрываться вместе с клиентским соединением
	ctx := context.WithoutCancel(r.Context())
	run := h.Collector.Collect
	if reconcile {
		run = h.Collector.Sweep
	}
	rep, err := run(ctx)
	if err != nil {
		logx.Error(h.Log, reqID, op, "collection failed", err)
		v1.WriteDomainError(w, r, err)
		return
	}

	logx.Info(h.Log, reqID, op, "ok", "skipped", rep.Skipped, "deleted", rep.Deleted,
		"failed", rep.Failed, "reconciled", rep.Reconciled)
	v1.WriteOKData(w, r, rep)
}
