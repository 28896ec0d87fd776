package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueRetriesFailedJobs(t *testing.T) {
	var calls int32
	done := make(chan struct{})
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			return errors.New("transient")
		}
		close(done)
		return nil
	}, QueueConfig{Workers: 1, MaxRetries: 2, RetryDelay: 10 * time.Millisecond})

	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Submit(Job{ID: "j1", Type: "follow_up"}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not retried")
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestQueueSubmitDoesNotBlockWhenFull(t *testing.T) {
	release := make(chan struct{})
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		<-release
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 1})
	q.Start(context.Background())

	var err error
	for i := 0; i < 3 && err == nil; i++ {
		err = q.Submit(Job{ID: "j"})
	}
	assert.ErrorIs(t, err, ErrQueueFull)

	close(release)
	q.Stop()
}

func TestQueueStopDrainsBufferedJobs(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		mu.Lock()
		seen = append(seen, job.ID)
		mu.Unlock()
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 8})
	q.Start(context.Background())

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Submit(Job{ID: id}))
	}
	q.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"a", "b", "c"}, seen)
	assert.ErrorIs(t, q.Submit(Job{ID: "late"}), ErrQueueClosed)
}

func TestSubmitBeforeStart(t *testing.T) {
	q := NewQueue("idle", func(context.Context, Job) error { return nil }, QueueConfig{})
	assert.ErrorIs(t, q.Submit(Job{ID: "x"}), ErrQueueClosed)
}
