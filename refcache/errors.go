package refcache

import "errors"

// Sentinel errors for cache operations.
var (
	// ErrNotFound reports an absent, expired, or inaccessible entry.
	// Callers cannot distinguish the three; the distinction leaks
	// entry existence to actors without access.
	ErrNotFound = errors.New("refcache: entry not found")

	// ErrInvalidName reports a cache name outside the allowed grammar.
	ErrInvalidName = errors.New("refcache: invalid cache name")

	// ErrDuplicateName reports a second registration under a name.
	ErrDuplicateName = errors.New("refcache: cache name already registered")

	// ErrNilFunc reports an attempt to wrap a nil tool function.
	ErrNilFunc = errors.New("refcache: nil tool func")

	// ErrTaskNotFound reports an unknown or purged task handle.
	ErrTaskNotFound = errors.New("refcache: task not found")

	// ErrNoTasks reports an async option on a cache without a task
	// backend.
	ErrNoTasks = errors.New("refcache: no task backend configured")
)
