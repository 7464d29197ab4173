package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/EgorLis/my-media/internal/config"
	"github.com/EgorLis/my-media/internal/jobs"
	"github.com/EgorLis/my-media/internal/transport/web"
)

type App struct {
	config    *config.Config
	core      *Core
	server    *web.Server
	scheduler *jobs.Scheduler
	log       *log.Logger
	logFile   io.Closer
}

func Build(ctx context.Context) (*App, error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed load config: %w", err)
	}

	base, logFile := newBaseLogger(cfg, os.Stdout)
	base.Printf("\n  configuration: %s-------------------", cfg)

	core, err := NewCore(ctx, cfg, base)
	if err != nil {
		return nil, err
	}

	base.Println("init Scheduler")
	scheduler, err := newScheduler(core, sub(base, "cron"))
	if err != nil {
		core.Close()
		return nil, err
	}

	base.Println("init Server")
	deps := web.Deps{
		Repo:      core.Repo,
		Storage:   core.Storage,
		Ingest:    core.Ingest,
		Assets:    core.Repo,
		IDs:       core.IDs,
		URLs:      core.URLs,
		Collector: core.Collector,
		Tokens:    core.Tokens,
		Blacklist: core.Blacklist,

		Metrics:        core.Metrics,
		MetricsHandler: core.Metrics.Handler(),

		MaxUploadBytes: cfg.UploadMaxBytes,
	}
	// только непустой интерфейс: typed nil сломал бы проверки на nil в хендлерах
	if core.Redis != nil {
		deps.Cache = core.Redis
	}
	server := web.New(sub(base, "server"), cfg.AppPort, deps)
	base.Println("Server is initialized")

	base.Println("build ended")
	return &App{
		config:    cfg,
		core:      core,
		server:    server,
		scheduler: scheduler,
		log:       base,
		logFile:   logFile,
	}, nil
}

// newScheduler регистрирует периодические задачи: сборку мусора и
// перепостановку застрявших задач генерации вариантов.
func newScheduler(core *Core, logger *log.Logger) (*jobs.Scheduler, error) {
	cfg := core.Config
	s := jobs.NewScheduler(logger, cfg.GCTimeout)

	if cfg.GCEnabled {
		err := s.Register(cfg.GCSchedule, jobs.FuncJob{JobName: "gc-sweep", Fn: func(ctx context.Context) error {
			_, err := core.Collector.Sweep(ctx)
			return err
		}})
		if err != nil {
			return nil, err
		}
	}

	err := s.Register(cfg.RequeueSchedule, jobs.FuncJob{JobName: "requeue-unprocessed", Fn: func(ctx context.Context) error {
		_, err := core.RequeueStale(ctx, cfg.VariantStaleAfter)
		return err
	}})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (a *App) Run(ctx context.Context) error {
	a.log.Println("start application...")
	a.core.Queue.Start(ctx)
	a.scheduler.Start()
	go a.server.Run()
	<-ctx.Done()
	a.log.Println("stop application...")

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	a.server.Close(stopCtx)
	if err := a.scheduler.Stop(stopCtx); err != nil {
		a.log.Printf("scheduler stop: %v", err)
	}
	if err := a.core.Queue.Stop(stopCtx); err != nil {
		a.log.Printf("queue stop: %v", err)
	}
	a.core.Close()
	if a.logFile != nil {
		_ = a.logFile.Close()
	}

	return nil
}
