package task

import (
	"context"
	"time"
)

// Status is the lifecycle state of a background task.
type Status string

const (
	// StatusPending means the task is queued but not yet running.
	StatusPending Status = "pending"
	// StatusProcessing means the task is running.
	StatusProcessing Status = "processing"
	// StatusComplete means the task finished and its result is ready.
	StatusComplete Status = "complete"
	// StatusFailed means the task exhausted its attempts with an error.
	StatusFailed Status = "failed"
	// StatusCancelled means the task was cancelled before completing.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusComplete, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Progress is a point-in-time progress report from a running task.
type Progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Message string `json:"message,omitempty"`
}

// Percent returns completion as 0-100. Zero total reports 0.
func (p Progress) Percent() float64 {
	if p.Total <= 0 {
		return 0
	}
	pct := float64(p.Current) / float64(p.Total) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// RetryAttempt records one failed attempt of a retried task.
type RetryAttempt struct {
	Attempt int           `json:"attempt"`
	Error   string        `json:"error"`
	Delay   time.Duration `json:"delay"`
	At      time.Time     `json:"at"`
}

// Info is a poll snapshot of a task. It is a copy; mutating it does
// not affect the task.
type Info struct {
	ID          string         `json:"task_id"`
	Status      Status         `json:"status"`
	Progress    Progress       `json:"progress"`
	Result      any            `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	Attempts    []RetryAttempt `json:"attempts,omitempty"`
	MaxAttempts int            `json:"max_attempts"`
	SubmittedAt time.Time      `json:"submitted_at"`
	StartedAt   time.Time      `json:"started_at,omitzero"`
	CompletedAt time.Time      `json:"completed_at,omitzero"`
}

// CanRetry reports whether a failed task still has attempts left.
// Retries run automatically inside the backend, so a failed task with
// attempts remaining is one the backend gave up on early (for example
// a non-retryable error) rather than one a caller may resubmit.
func (i *Info) CanRetry() bool {
	return i.Status == StatusFailed && len(i.Attempts)+1 < i.MaxAttempts
}

// ETA estimates time remaining from the progress rate so far. It
// returns (0, false) until the task is processing and has reported
// nonzero progress.
func (i *Info) ETA(now time.Time) (time.Duration, bool) {
	if i.Status != StatusProcessing || i.StartedAt.IsZero() {
		return 0, false
	}
	if i.Progress.Current <= 0 || i.Progress.Total <= 0 {
		return 0, false
	}
	elapsed := now.Sub(i.StartedAt)
	remaining := i.Progress.Total - i.Progress.Current
	if remaining <= 0 {
		return 0, true
	}
	eta := time.Duration(int64(elapsed) * int64(remaining) / int64(i.Progress.Current))
	return eta, true
}

// Func is the unit of background work. The context carries a progress
// reporter and is cancelled when the task is cancelled or the pool
// closes.
type Func func(ctx context.Context) (any, error)

// Backend is the task execution contract consumed by the cache layer.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Handles: Submit returns an opaque id usable from any goroutine.
// - Retention: terminal tasks stay pollable for an
//   implementation-defined window, after which Poll reports absent.
type Backend interface {
	// Submit enqueues fn for background execution.
	Submit(ctx context.Context, fn Func) (string, error)

	// Poll reports the current state of a task. Returns (nil, false)
	// for unknown or purged ids.
	Poll(id string) (*Info, bool)

	// Forget drops a task record without waiting for the retention
	// window. Running tasks are stopped first.
	Forget(id string) bool
}

type progressKey struct{}

// ReportProgress records progress from inside a running task. It is a
// no-op outside a task context.
func ReportProgress(ctx context.Context, current, total int, message string) {
	report, ok := ctx.Value(progressKey{}).(func(Progress))
	if !ok {
		return
	}
	report(Progress{Current: current, Total: total, Message: message})
}

func withReporter(ctx context.Context, report func(Progress)) context.Context {
	return context.WithValue(ctx, progressKey{}, report)
}
