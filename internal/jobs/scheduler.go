package jobs

import (
	"context"
	"log"
	"reflect"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Job — периодическая задача с именем для логов.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// FuncJob — задача из функции
type FuncJob struct {
	JobName string
	Fn      func(ctx context.Context) error
}

func (f FuncJob) Name() string                  { return f.JobName }
func (f FuncJob) Run(ctx context.Context) error { return f.Fn(ctx) }

// Scheduler — обёртка над cron: восстановление после паники, лог каждого запуска,
// пропуск запуска, если предыдущий ещё идёт.
type Scheduler struct {
	cron    *cron.Cron
	logger  *log.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
}

func NewScheduler(logger *log.Logger, timeout time.Duration) *Scheduler {
	cl := cron.PrintfLogger(logger)
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(
			cron.SkipIfStillRunning(cl),
			recoverWrapper(logger),
			loggingWrapper(logger),
		),
	)
	ctx, cancel := context.WithCancel(context.Background())
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &Scheduler{cron: c, logger: logger, ctx: ctx, cancel: cancel, timeout: timeout}
}

// Register добавляет задачу по расписанию ("@every 5m", "0 3 * * *").
func (s *Scheduler) Register(spec string, j Job) error {
	_, err := s.cron.AddJob(spec, &cronJob{job: j, parent: s.ctx, timeout: s.timeout, logger: s.logger})
	if err != nil {
		return err
	}
	s.logger.Printf("registered job %q schedule=%q", j.Name(), spec)
	return nil
}

func (s *Scheduler) Start() {
	s.logger.Println("scheduler started")
	s.cron.Start()
}

// Stop отменяет контекст идущих задач и ждёт их завершения.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.logger.Println("stopping scheduler...")
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Println("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type cronJob struct {
	job     Job
	parent  context.Context
	timeout time.Duration
	logger  *log.Logger
}

func (c *cronJob) Name() string { return c.job.Name() }

func (c *cronJob) Run() {
	ctx, cancel := context.WithTimeout(c.parent, c.timeout)
	defer cancel()
	if err := c.job.Run(ctx); err != nil {
		c.logger.Printf("job %q error: %v", c.job.Name(), err)
	}
}

// namedFunc сохраняет имя задачи через цепочку обёрток
type namedFunc struct {
	name string
	fn   func()
}

func (n namedFunc) Name() string { return n.name }
func (n namedFunc) Run()         { n.fn() }

func loggingWrapper(logger *log.Logger) cron.JobWrapper {
	return func(j cron.Job) cron.Job {
		name := jobName(j)
		return namedFunc{name: name, fn: func() {
			execID := uuid.NewString()
			start := time.Now()
			logger.Printf("job %q exec=%s started", name, execID)
			j.Run()
			logger.Printf("job %q exec=%s finished in %s", name, execID, time.Since(start))
		}}
	}
}

func recoverWrapper(logger *log.Logger) cron.JobWrapper {
	return func(j cron.Job) cron.Job {
		name := jobName(j)
		return namedFunc{name: name, fn: func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Printf("job %q panicked: %v\n%s", name, r, debug.Stack())
				}
			}()
			j.Run()
		}}
	}
}

func jobName(j cron.Job) string {
	if named, ok := j.(interface{ Name() string }); ok {
		return named.Name()
	}
	t := reflect.TypeOf(j)
	if t.Kind() == reflect.Ptr {
		return t.Elem().String()
	}
	return t.String()
}
