package jobs

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EgorLis/my-media/internal/domain"
)

var discard = log.New(io.Discard, "", 0)

func TestQueue_ProcessesAll(t *testing.T) {
	var mu sync.Mutex
	seen := map[domain.AssetID]int{}
	q := NewQueue(QueueConfig{Workers: 3, Capacity: 50}, func(_ context.Context, id domain.AssetID) error {
		mu.Lock()
		seen[id]++
		mu.Unlock()
		return nil
	}, discard)
	q.Start(context.Background())

	ids := make([]domain.AssetID, 20)
	for i := range ids {
		ids[i] = uuid.New()
		require.True(t, q.Enqueue(ids[i]))
	}
	require.NoError(t, q.Stop(context.Background()))

	assert.Len(t, seen, 20)
	for _, id := range ids {
		assert.Equal(t, 1, seen[id])
	}
	assert.False(t, q.Enqueue(uuid.New()), "closed queue rejects work")
}

func TestQueue_RetriesWithBackoff(t *testing.T) {
	var calls atomic.Int32
	q := NewQueue(QueueConfig{Workers: 1, MaxAttempts: 4, Backoff: time.Second, MaxBackoff: 3 * time.Second},
		func(context.Context, domain.AssetID) error {
			if calls.Add(1) < 4 {
				return errors.New("transient")
			}
			return nil
		}, discard)

	var waits []time.Duration
	q.sleep = func(_ context.Context, d time.Duration) bool {
		waits = append(waits, d)
		return true
	}
	q.Start(context.Background())
	q.Enqueue(uuid.New())
	require.NoError(t, q.Stop(context.Background()))

	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, waits)
}

func TestQueue_PermanentErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	q := NewQueue(QueueConfig{Workers: 1, MaxAttempts: 5}, func(context.Context, domain.AssetID) error {
		calls.Add(1)
		return domain.ErrProcessing
	}, discard)
	q.sleep = func(context.Context, time.Duration) bool { return true }
	q.Start(context.Background())
	q.Enqueue(uuid.New())
	require.NoError(t, q.Stop(context.Background()))
	assert.Equal(t, int32(1), calls.Load())
}

func TestQueue_PanicDoesNotKillWorker(t *testing.T) {
	var calls atomic.Int32
	q := NewQueue(QueueConfig{Workers: 1, MaxAttempts: 1}, func(context.Context, domain.AssetID) error {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return nil
	}, discard)
	q.Start(context.Background())
	q.Enqueue(uuid.New())
	q.Enqueue(uuid.New())
	require.NoError(t, q.Stop(context.Background()))
	assert.Equal(t, int32(2), calls.Load())
}

func TestQueue_FullQueueDrops(t *testing.T) {
	block := make(chan struct{})
	q := NewQueue(QueueConfig{Workers: 1, Capacity: 1}, func(context.Context, domain.AssetID) error {
		<-block
		return nil
	}, discard)
	// воркеры не запущены: очередь заполняется сразу
	assert.True(t, q.Enqueue(uuid.New()))
	assert.False(t, q.Enqueue(uuid.New()))
	assert.Equal(t, 1, q.Len())

	q.Start(context.Background())
	close(block)
	require.NoError(t, q.Stop(context.Background()))
}

func TestQueue_DeduplicatesPending(t *testing.T) {
	q := NewQueue(QueueConfig{Workers: 1, Capacity: 10}, func(context.Context, domain.AssetID) error { return nil }, discard)
	id := uuid.New()
	assert.True(t, q.Enqueue(id))
	assert.True(t, q.Enqueue(id))
	assert.Equal(t, 1, q.Len())
}
