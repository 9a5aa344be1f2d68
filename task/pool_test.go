package task

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeClock is a mutable clock for retention tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func waitStatus(t *testing.T, pool *Pool, id string, want Status) *Info {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		info, ok := pool.Poll(id)
		if !ok {
			t.Fatalf("task %s disappeared", id)
		}
		if info.Status == want {
			return info
		}
		time.Sleep(time.Millisecond)
	}
	info, _ := pool.Poll(id)
	t.Fatalf("task %s never reached %s (last: %+v)", id, want, info)
	return nil
}

func TestPoolSubmitAndComplete(t *testing.T) {
	pool := NewPool(Config{})
	defer pool.Close()

	id, err := pool.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return "done", nil
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if id == "" {
		t.Fatal("Submit returned empty id")
	}

	info := waitStatus(t, pool, id, StatusComplete)
	if info.Result != "done" {
		t.Errorf("Result = %v", info.Result)
	}
	if info.Error != "" {
		t.Errorf("Error = %q, want empty", info.Error)
	}
	if info.SubmittedAt.IsZero() || info.StartedAt.IsZero() || info.CompletedAt.IsZero() {
		t.Error("lifecycle timestamps should all be set")
	}
}

func TestPoolFailure(t *testing.T) {
	pool := NewPool(Config{})
	defer pool.Close()

	id, err := pool.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return nil, errors.New("boom")
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	info := waitStatus(t, pool, id, StatusFailed)
	if info.Error != "boom" {
		t.Errorf("Error = %q", info.Error)
	}
	if info.Result != nil {
		t.Errorf("Result = %v, want nil", info.Result)
	}
}

func TestPoolRetriesRecordAttempts(t *testing.T) {
	pool := NewPool(Config{MaxAttempts: 3, RetryDelay: time.Millisecond})
	defer pool.Close()

	var calls atomic.Int32
	id, err := pool.Submit(context.Background(), func(ctx context.Context) (any, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("transient")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	info := waitStatus(t, pool, id, StatusComplete)
	if info.Result != "ok" {
		t.Errorf("Result = %v", info.Result)
	}
	if len(info.Attempts) != 2 {
		t.Fatalf("Attempts = %d, want 2", len(info.Attempts))
	}
	if info.Attempts[0].Attempt != 1 || info.Attempts[1].Attempt != 2 {
		t.Errorf("attempt numbering wrong: %+v", info.Attempts)
	}
	if info.Attempts[0].Error != "transient" {
		t.Errorf("attempt error = %q", info.Attempts[0].Error)
	}
}

func TestPoolProgressAndETA(t *testing.T) {
	pool := NewPool(Config{})
	defer pool.Close()

	release := make(chan struct{})
	id, err := pool.Submit(context.Background(), func(ctx context.Context) (any, error) {
		ReportProgress(ctx, 40, 100, "crunching")
		<-release
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	var info *Info
	for time.Now().Before(deadline) {
		info, _ = pool.Poll(id)
		if info != nil && info.Progress.Current == 40 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if info == nil || info.Progress.Current != 40 || info.Progress.Total != 100 {
		t.Fatalf("progress not observed: %+v", info)
	}
	if info.Progress.Message != "crunching" {
		t.Errorf("Message = %q", info.Progress.Message)
	}
	if _, ok := info.ETA(time.Now()); !ok {
		t.Error("ETA should be available once progress is reported")
	}

	close(release)
	waitStatus(t, pool, id, StatusComplete)
}

func TestPoolConcurrencyBound(t *testing.T) {
	pool := NewPool(Config{MaxConcurrent: 2})
	defer pool.Close()

	var active, maxActive atomic.Int32
	release := make(chan struct{})
	var ids []string
	for i := 0; i < 5; i++ {
		id, err := pool.Submit(context.Background(), func(ctx context.Context) (any, error) {
			n := active.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			<-release
			active.Add(-1)
			return nil, nil
		})
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		ids = append(ids, id)
	}

	// Let the workers saturate.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && active.Load() < 2 {
		time.Sleep(time.Millisecond)
	}
	close(release)

	for _, id := range ids {
		waitStatus(t, pool, id, StatusComplete)
	}
	if maxActive.Load() > 2 {
		t.Errorf("max concurrent = %d, want <= 2", maxActive.Load())
	}
}

func TestPoolCancelPending(t *testing.T) {
	pool := NewPool(Config{MaxConcurrent: 1})
	defer pool.Close()

	release := make(chan struct{})
	blocker, err := pool.Submit(context.Background(), func(ctx context.Context) (any, error) {
		<-release
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitStatus(t, pool, blocker, StatusProcessing)

	queued, err := pool.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if !pool.Cancel(queued) {
		t.Fatal("Cancel should succeed for a pending task")
	}
	info, ok := pool.Poll(queued)
	if !ok || info.Status != StatusCancelled {
		t.Errorf("queued task = %+v, want cancelled", info)
	}
	if pool.Cancel(queued) {
		t.Error("Cancel should report false for a terminal task")
	}

	close(release)
	waitStatus(t, pool, blocker, StatusComplete)
}

func TestPoolCancelProcessing(t *testing.T) {
	pool := NewPool(Config{})
	defer pool.Close()

	started := make(chan struct{})
	id, err := pool.Submit(context.Background(), func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	<-started

	if !pool.Cancel(id) {
		t.Fatal("Cancel should succeed for a processing task")
	}
	waitStatus(t, pool, id, StatusCancelled)
}

func TestPoolRetention(t *testing.T) {
	clock := newFakeClock()
	pool := NewPool(Config{ResultTTL: time.Minute, Clock: clock.Now})
	defer pool.Close()

	id, err := pool.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitStatus(t, pool, id, StatusComplete)

	// Still pollable inside the retention window.
	clock.Advance(59 * time.Second)
	if _, ok := pool.Poll(id); !ok {
		t.Fatal("task should stay pollable inside the retention window")
	}

	clock.Advance(2 * time.Second)
	if _, ok := pool.Poll(id); ok {
		t.Error("task should purge after the retention window")
	}
}

func TestPoolForget(t *testing.T) {
	pool := NewPool(Config{})
	defer pool.Close()

	id, err := pool.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitStatus(t, pool, id, StatusComplete)

	if !pool.Forget(id) {
		t.Fatal("Forget should succeed for a known task")
	}
	if _, ok := pool.Poll(id); ok {
		t.Error("forgotten task should not be pollable")
	}
	if pool.Forget(id) {
		t.Error("Forget should report false for an unknown id")
	}
}

func TestPoolCloseRejectsSubmissions(t *testing.T) {
	pool := NewPool(Config{})
	if err := pool.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	_, err := pool.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return nil, nil
	})
	if !errors.Is(err, ErrClosed) {
		t.Errorf("want ErrClosed, got %v", err)
	}
}

func TestPoolSubmitNilFunc(t *testing.T) {
	pool := NewPool(Config{})
	defer pool.Close()

	if _, err := pool.Submit(context.Background(), nil); !errors.Is(err, ErrNilFunc) {
		t.Errorf("want ErrNilFunc, got %v", err)
	}
}
