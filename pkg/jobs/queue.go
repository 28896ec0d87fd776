package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned by Submit when the buffer has no room.
	ErrQueueFull = errors.New("queue full")
	// ErrQueueClosed is returned once the queue has not been started or has been stopped.
	ErrQueueClosed = errors.New("queue closed")
)

// Job is a unit of fire-and-forget work.
type Job struct {
	ID       string
	Type     string
	TenantID string
	Payload  interface{}
	Attempt  int
	Enqueued time.Time
}

// Handler processes a job.
type Handler func(context.Context, Job) error

// QueueConfig configures worker pool behaviour.
type QueueConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
	Logger     *zap.Logger
}

// Queue is an in-memory dispatcher backed by a fixed set of goroutines.
// Submit never blocks the caller.
type Queue struct {
	name    string
	handler Handler

	workers    int
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger

	jobs     chan Job
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	retries  sync.WaitGroup
	mu       sync.RWMutex
	started  bool
	stopping bool
}

// NewQueue builds a queue with the provided handler.
func NewQueue(name string, handler Handler, cfg QueueConfig) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = cfg.Workers * 4
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Queue{
		name:       name,
		handler:    handler,
		workers:    cfg.Workers,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     cfg.Logger.With(zap.String("queue", name)),
		jobs:       make(chan Job, cfg.BufferSize),
	}
}

// Start launches the workers. Subsequent calls are no-ops.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	q.started = true
	q.logger.Info("queue started", zap.Int("workers", q.workers))
}

// Stop refuses new jobs, lets workers drain what is buffered and waits for them.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started || q.stopping {
		q.mu.Unlock()
		return
	}
	q.stopping = true
	q.mu.Unlock()

	q.retries.Wait()
	close(q.jobs)
	q.wg.Wait()
	q.cancel()
	q.logger.Info("queue stopped")
}

// Submit enqueues job without blocking.
func (q *Queue) Submit(job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if !q.started || q.stopping {
		return fmt.Errorf("submit to %s: %w", q.name, ErrQueueClosed)
	}
	if job.Enqueued.IsZero() {
		job.Enqueued = time.Now().UTC()
	}

	select {
	case q.jobs <- job:
		return nil
	default:
		return fmt.Errorf("submit to %s: %w", q.name, ErrQueueFull)
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for job := range q.jobs {
		if err := q.handler(q.ctx, job); err != nil {
			q.handleFailure(job, err)
		}
	}
}

func (q *Queue) handleFailure(job Job, err error) {
	job.Attempt++
	fields := []zap.Field{
		zap.String("job_id", job.ID),
		zap.String("type", job.Type),
		zap.String("tenant_id", job.TenantID),
		zap.Int("attempt", job.Attempt),
		zap.Error(err),
	}
	if job.Attempt > q.maxRetries {
		q.logger.Error("job exceeded retries", fields...)
		return
	}
	q.logger.Warn("job failed, retrying", fields...)

	q.mu.RLock()
	if q.stopping {
		q.mu.RUnlock()
		q.logger.Error("job dropped during shutdown", fields...)
		return
	}
	q.retries.Add(1)
	q.mu.RUnlock()

	go func(j Job) {
		defer q.retries.Done()
		timer := time.NewTimer(q.retryDelay)
		defer timer.Stop()
		select {
		case <-q.ctx.Done():
			return
		case <-timer.C:
		}
		select {
		case q.jobs <- j:
		default:
			q.logger.Error("failed to requeue job", zap.String("job_id", j.ID), zap.Error(ErrQueueFull))
		}
	}(job)
}
