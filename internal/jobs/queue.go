package jobs

import (
	"context"
	"errors"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/EgorLis/my-media/internal/domain"
)

// Handler обрабатывает один ассет (генерация вариантов).
type Handler func(ctx context.Context, id domain.AssetID) error

type QueueConfig struct {
	Workers     int
	Capacity    int
	MaxAttempts int
	Backoff     time.Duration // первая пауза; дальше удваивается
	MaxBackoff  time.Duration
}

func (c *QueueConfig) normalize() {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.Capacity <= 0 {
		c.Capacity = 1000
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = time.Minute
	}
}

// Queue — очередь фоновых задач с фиксированным пулом воркеров.
// Отказ задачи никогда не возвращается тому, кто её поставил.
type Queue struct {
	cfg     QueueConfig
	handle  Handler
	logger  *log.Logger
	jobs    chan domain.AssetID
	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	pending sync.Map // id -> struct{}: не ставим один ассет дважды
	sleep   func(ctx context.Context, d time.Duration) bool
}

func NewQueue(cfg QueueConfig, handle Handler, logger *log.Logger) *Queue {
	cfg.normalize()
	return &Queue{
		cfg:    cfg,
		handle: handle,
		logger: logger,
		jobs:   make(chan domain.AssetID, cfg.Capacity),
		sleep:  sleepCtx,
	}
}

// Start поднимает воркеры. Они работают до Stop или отмены ctx.
func (q *Queue) Start(ctx context.Context) {
	ctx, q.cancel = context.WithCancel(ctx)
	q.logger.Printf("starting %d workers (capacity=%d)", q.cfg.Workers, q.cfg.Capacity)
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i+1)
	}
}

// Enqueue не блокирует: при полной очереди возвращает false.
func (q *Queue) Enqueue(id domain.AssetID) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	if _, dup := q.pending.LoadOrStore(id, struct{}{}); dup {
		return true
	}
	select {
	case q.jobs <- id:
		return true
	default:
		q.pending.Delete(id)
		q.logger.Printf("queue full, dropped id=%s", id)
		return false
	}
}

// Len — сколько задач ждёт воркера.
func (q *Queue) Len() int { return len(q.jobs) }

// Stop закрывает приём и ждёт, пока воркеры разберут очередь, но не дольше ctx.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { q.wg.Wait(); close(done) }()
	select {
	case <-done:
		q.logger.Println("workers stopped")
		return nil
	case <-ctx.Done():
		if q.cancel != nil {
			q.cancel()
		}
		<-done
		return ctx.Err()
	}
}

func (q *Queue) worker(ctx context.Context, n int) {
	defer q.wg.Done()
	for id := range q.jobs {
		q.pending.Delete(id)
		q.run(ctx, n, id)
	}
}

func (q *Queue) run(ctx context.Context, worker int, id domain.AssetID) {
	delay := q.cfg.Backoff
	for attempt := 1; attempt <= q.cfg.MaxAttempts; attempt++ {
		err := q.safeHandle(ctx, id)
		if err == nil {
			return
		}
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrProcessing) {
			// строки нет или контент не обрабатывается: повтор не поможет
			q.logger.Printf("worker=%d id=%s gave up: %v", worker, id, err)
			return
		}
		if attempt == q.cfg.MaxAttempts {
			q.logger.Printf("worker=%d id=%s failed after %d attempts: %v", worker, id, attempt, err)
			return
		}
		q.logger.Printf("worker=%d id=%s attempt %d failed, retry in %s: %v", worker, id, attempt, delay, err)
		if !q.sleep(ctx, delay) {
			return
		}
		delay *= 2
		if delay > q.cfg.MaxBackoff {
			delay = q.cfg.MaxBackoff
		}
	}
}

func (q *Queue) safeHandle(ctx context.Context, id domain.AssetID) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Printf("id=%s panicked: %v\n%s", id, r, debug.Stack())
			err = domain.ErrProcessing
		}
	}()
	return q.handle(ctx, id)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
