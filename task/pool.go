package task

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Sentinel errors for pool operations.
var (
	ErrClosed  = errors.New("task: pool is closed")
	ErrNilFunc = errors.New("task: nil task func")
)

// Config configures a Pool.
type Config struct {
	// MaxConcurrent is the maximum number of tasks running at once.
	// Default: 8
	MaxConcurrent int

	// MaxAttempts is the maximum number of attempts per task
	// (including the initial one). Default: 1 (no retries)
	MaxAttempts int

	// RetryDelay is the delay before the first retry; subsequent
	// delays grow exponentially. Default: 100ms
	RetryDelay time.Duration

	// MaxRetryDelay caps the delay between attempts.
	// Default: 30s
	MaxRetryDelay time.Duration

	// ResultTTL is how long terminal task records stay pollable.
	// Default: 5m
	ResultTTL time.Duration

	// Clock supplies the current time. Default: time.Now
	Clock func() time.Time
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 8
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 100 * time.Millisecond
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = 30 * time.Second
	}
	if c.ResultTTL <= 0 {
		c.ResultTTL = 5 * time.Minute
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

type record struct {
	info    Info
	cancel  context.CancelFunc
	purgeAt time.Time
}

// Pool runs tasks on a bounded set of workers. Concurrency is gated by
// a weighted semaphore; submissions beyond the limit queue as pending
// until a slot frees.
type Pool struct {
	config Config
	sem    *semaphore.Weighted

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu     sync.Mutex
	tasks  map[string]*record
	closed bool
	wg     sync.WaitGroup
}

var _ Backend = (*Pool)(nil)

// NewPool creates a new pool.
func NewPool(config Config) *Pool {
	config = config.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		config:     config,
		sem:        semaphore.NewWeighted(int64(config.MaxConcurrent)),
		baseCtx:    ctx,
		baseCancel: cancel,
		tasks:      make(map[string]*record),
	}
}

// Submit enqueues fn and returns its handle. The task runs on the
// pool's own context; the submission context only gates admission.
func (p *Pool) Submit(ctx context.Context, fn Func) (string, error) {
	if fn == nil {
		return "", ErrNilFunc
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := uuid.NewString()
	taskCtx, taskCancel := context.WithCancel(p.baseCtx)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		taskCancel()
		return "", ErrClosed
	}
	p.sweepLocked()
	p.tasks[id] = &record{
		info: Info{
			ID:          id,
			Status:      StatusPending,
			MaxAttempts: p.config.MaxAttempts,
			SubmittedAt: p.config.Clock(),
		},
		cancel: taskCancel,
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go p.run(id, taskCtx, fn)
	return id, nil
}

// Poll reports the current state of a task.
func (p *Pool) Poll(id string) (*Info, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.tasks[id]
	if !ok {
		return nil, false
	}
	if rec.info.Status.Terminal() && p.config.Clock().After(rec.purgeAt) {
		delete(p.tasks, id)
		return nil, false
	}
	return snapshot(&rec.info), true
}

// Cancel stops a task.
func (p *Pool) Cancel(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.tasks[id]
	if !ok || rec.info.Status.Terminal() {
		return false
	}
	rec.cancel()
	if rec.info.Status == StatusPending {
		p.finishLocked(rec, StatusCancelled, nil, context.Canceled)
	}
	return true
}

// Forget drops a task record immediately.
func (p *Pool) Forget(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.tasks[id]
	if !ok {
		return false
	}
	rec.cancel()
	delete(p.tasks, id)
	return true
}

// Close cancels all tasks and waits for workers to exit. The pool
// rejects submissions afterwards.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.baseCancel()
	p.wg.Wait()
	return nil
}

func (p *Pool) run(id string, ctx context.Context, fn Func) {
	defer p.wg.Done()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		p.finish(id, StatusCancelled, nil, err)
		return
	}
	defer p.sem.Release(1)

	p.mu.Lock()
	rec, ok := p.tasks[id]
	if !ok || rec.info.Status != StatusPending {
		// Cancelled or forgotten while queued.
		p.mu.Unlock()
		return
	}
	rec.info.Status = StatusProcessing
	rec.info.StartedAt = p.config.Clock()
	p.mu.Unlock()

	runCtx := withReporter(ctx, func(progress Progress) {
		p.mu.Lock()
		if rec, ok := p.tasks[id]; ok && rec.info.Status == StatusProcessing {
			rec.info.Progress = progress
		}
		p.mu.Unlock()
	})

	result, err := p.execute(id, runCtx, fn)
	switch {
	case err == nil:
		p.finish(id, StatusComplete, result, nil)
	case errors.Is(err, context.Canceled):
		p.finish(id, StatusCancelled, nil, err)
	default:
		p.finish(id, StatusFailed, nil, err)
	}
}

// execute runs fn with exponential-backoff retries, recording each
// failed attempt on the task.
func (p *Pool) execute(id string, ctx context.Context, fn Func) (any, error) {
	delay := p.config.RetryDelay
	var lastErr error

	for attempt := 1; attempt <= p.config.MaxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) || attempt >= p.config.MaxAttempts {
			break
		}

		p.recordAttempt(id, RetryAttempt{
			Attempt: attempt,
			Error:   err.Error(),
			Delay:   delay,
			At:      p.config.Clock(),
		})

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > p.config.MaxRetryDelay {
			delay = p.config.MaxRetryDelay
		}
	}
	return nil, lastErr
}

func (p *Pool) recordAttempt(id string, attempt RetryAttempt) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rec, ok := p.tasks[id]; ok {
		rec.info.Attempts = append(rec.info.Attempts, attempt)
	}
}

func (p *Pool) finish(id string, status Status, result any, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rec, ok := p.tasks[id]; ok && !rec.info.Status.Terminal() {
		p.finishLocked(rec, status, result, err)
	}
}

func (p *Pool) finishLocked(rec *record, status Status, result any, err error) {
	rec.info.Status = status
	rec.info.Result = result
	if err != nil {
		rec.info.Error = err.Error()
	}
	rec.info.CompletedAt = p.config.Clock()
	rec.purgeAt = rec.info.CompletedAt.Add(p.config.ResultTTL)
}

// sweepLocked drops terminal records past their retention window.
// Caller holds p.mu.
func (p *Pool) sweepLocked() {
	now := p.config.Clock()
	for id, rec := range p.tasks {
		if rec.info.Status.Terminal() && now.After(rec.purgeAt) {
			delete(p.tasks, id)
		}
	}
}

func snapshot(info *Info) *Info {
	out := *info
	if len(info.Attempts) > 0 {
		out.Attempts = append([]RetryAttempt(nil), info.Attempts...)
	}
	return &out
}
