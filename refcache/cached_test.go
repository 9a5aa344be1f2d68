package refcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonwraymond/refcache/access"
	"github.com/jonwraymond/refcache/preview"
	"github.com/jonwraymond/refcache/ref"
	"github.com/jonwraymond/refcache/task"
)

func respMap(t *testing.T, v any) map[string]any {
	t.Helper()
	m, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("response is %T, want map[string]any", v)
	}
	return m
}

func TestCachedMissThenHit(t *testing.T) {
	c := newTestCache(t)
	ctx := asUser("alice", "s1")

	var calls atomic.Int32
	search := c.Cached("search", func(ctx context.Context, args map[string]any) (any, error) {
		calls.Add(1)
		return []any{"r1", "r2", "r3"}, nil
	})

	first := respMap(t, mustCall(t, search, ctx, map[string]any{"query": "go caches"}))
	second := respMap(t, mustCall(t, search, ctx, map[string]any{"query": "go caches"}))

	if calls.Load() != 1 {
		t.Errorf("tool ran %d times, want 1", calls.Load())
	}
	if first[FieldRefID] == nil || first[FieldRefID] != second[FieldRefID] {
		t.Errorf("hit should return the same reference: %v vs %v", first[FieldRefID], second[FieldRefID])
	}
	if first[FieldCacheName] != "results" {
		t.Errorf("cache_name = %v", first[FieldCacheName])
	}
	if first[FieldPreview] == nil {
		t.Error("default response should carry a preview")
	}
	if first[FieldTotalItems] != 3 {
		t.Errorf("total_items = %v, want 3", first[FieldTotalItems])
	}
}

func mustCall(t *testing.T, fn ToolFunc, ctx context.Context, args map[string]any) any {
	t.Helper()
	out, err := fn(ctx, args)
	if err != nil {
		t.Fatalf("tool call failed: %v", err)
	}
	return out
}

func TestCachedResponseTypes(t *testing.T) {
	c := newTestCache(t)
	ctx := asUser("alice", "s1")

	var calls atomic.Int32
	tool := c.Cached("fetch", func(ctx context.Context, args map[string]any) (any, error) {
		calls.Add(1)
		return map[string]any{"body": "hello"}, nil
	})

	full := respMap(t, mustCall(t, tool, ctx, map[string]any{"query": "x", "response_type": "full"}))
	if full[FieldValue] == nil {
		t.Error("full response should include the value")
	}

	refOnly := respMap(t, mustCall(t, tool, ctx, map[string]any{"query": "x", "response_type": "reference"}))
	if refOnly[FieldValue] != nil || refOnly[FieldPreview] != nil {
		t.Error("reference response should carry no value or preview")
	}

	// Reserved keys select shape without forking the cache key.
	if calls.Load() != 1 {
		t.Errorf("tool ran %d times, want 1", calls.Load())
	}
	if full[FieldRefID] != refOnly[FieldRefID] {
		t.Error("response_type variants should share one reference")
	}
}

func TestCachedPagination(t *testing.T) {
	c := newTestCache(t)
	ctx := asUser("alice", "s1")

	tool := c.Cached("list", func(ctx context.Context, args map[string]any) (any, error) {
		items := make([]any, 25)
		for i := range items {
			items[i] = i
		}
		return items, nil
	})

	// JSON-decoded arguments arrive as float64.
	resp := respMap(t, mustCall(t, tool, ctx, map[string]any{
		"query": "x", "page": float64(2), "page_size": float64(10),
	}))
	page, ok := resp[FieldPage].(*preview.Page)
	if !ok {
		t.Fatalf("page missing: %v", resp)
	}
	if page.Page != 2 || len(page.Items) != 10 || page.Items[0] != 10 {
		t.Errorf("page = %+v", page)
	}
}

func TestCachedPrimaryInputPreference(t *testing.T) {
	c := newTestCache(t)
	ctx := asUser("alice", "s1")

	var calls atomic.Int32
	tool := c.Cached("search", func(ctx context.Context, args map[string]any) (any, error) {
		calls.Add(1)
		return "out", nil
	})

	// trace differs but query is the primary input, so one execution.
	mustCall(t, tool, ctx, map[string]any{"query": "same", "trace": 1})
	mustCall(t, tool, ctx, map[string]any{"query": "same", "trace": 2})
	if calls.Load() != 1 {
		t.Errorf("tool ran %d times, want 1", calls.Load())
	}

	mustCall(t, tool, ctx, map[string]any{"query": "different"})
	if calls.Load() != 2 {
		t.Errorf("tool ran %d times after new query, want 2", calls.Load())
	}
}

// A search stores its result; a summarize tool receives the reference
// and works on the resolved value.
func TestCachedReferenceChaining(t *testing.T) {
	c := newTestCache(t)
	ctx := asUser("alice", "s1")

	search := c.Cached("search", func(ctx context.Context, args map[string]any) (any, error) {
		return []any{"doc-a", "doc-b"}, nil
	})
	var seen any
	summarize := c.Cached("summarize", func(ctx context.Context, args map[string]any) (any, error) {
		seen = args["input_data"]
		return "summary", nil
	})

	searchResp := respMap(t, mustCall(t, search, ctx, map[string]any{"query": "docs"}))
	refID := searchResp[FieldRefID].(string)

	sumResp := respMap(t, mustCall(t, summarize, ctx, map[string]any{"input_data": refID}))
	if sumResp[FieldIsError] == true {
		t.Fatalf("summarize errored: %v", sumResp)
	}

	docs, ok := seen.([]any)
	if !ok || len(docs) != 2 || docs[0] != "doc-a" {
		t.Errorf("summarize saw %v, want the resolved search result", seen)
	}
}

func TestCachedUnresolvableReference(t *testing.T) {
	c := newTestCache(t)
	ctx := asUser("alice", "s1")

	var calls atomic.Int32
	tool := c.Cached("summarize", func(ctx context.Context, args map[string]any) (any, error) {
		calls.Add(1)
		return "summary", nil
	})

	resp := respMap(t, mustCall(t, tool, ctx, map[string]any{"input_data": "results:deadbeefdeadbeef"}))
	if resp[FieldIsError] != true {
		t.Fatalf("want error response, got %v", resp)
	}
	if resp[FieldError] != "reference cannot be resolved" {
		t.Errorf("error text = %v", resp[FieldError])
	}
	if calls.Load() != 0 {
		t.Error("tool should not run with unresolvable arguments")
	}
}

// Session-scoped results stay invisible to other sessions.
func TestCachedSessionScoping(t *testing.T) {
	c := newTestCache(t)

	tool := c.Cached("scratch", func(ctx context.Context, args map[string]any) (any, error) {
		return map[string]any{"private": true}, nil
	}, SessionScoped())

	s1 := asUser("alice", "s1")
	resp := respMap(t, mustCall(t, tool, s1, map[string]any{"query": "x"}))
	refID := resp[FieldRefID].(string)

	// Same session reads it back.
	if _, err := c.Get(s1, refID); err != nil {
		t.Fatalf("same-session Get failed: %v", err)
	}

	// Another session is denied, indistinguishably from missing.
	s2 := asUser("alice", "s2")
	if _, err := c.Get(s2, refID); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-session Get = %v, want ErrNotFound", err)
	}

	// And the other session's identical call gets its own result, not
	// the cached one.
	resp2 := respMap(t, mustCall(t, tool, s2, map[string]any{"query": "x"}))
	if resp2[FieldRefID] == resp[FieldRefID] {
		t.Error("sessions should not share session-scoped cache keys")
	}
}

func TestCachedOwnerTemplate(t *testing.T) {
	c := newTestCache(t)

	locked := access.Policy{} // nobody but the owner
	tool := c.Cached("vault", func(ctx context.Context, args map[string]any) (any, error) {
		return "sensitive", nil
	}, WithNamespace("user:{user_id}"), WithOwner("user:{user_id}"), WithPolicy(locked))

	alice := asUser("alice", "s1")
	resp := respMap(t, mustCall(t, tool, alice, map[string]any{"query": "x"}))
	refID, _ := resp[FieldRefID].(string)
	if refID == "" {
		t.Fatalf("no reference minted: %v", resp)
	}
	if resp[FieldNamespace] != "user:alice" {
		t.Errorf("namespace = %v", resp[FieldNamespace])
	}

	if _, err := c.Get(alice, refID); err != nil {
		t.Errorf("owner Get failed: %v", err)
	}
	if _, err := c.Get(asUser("mallory", "s9"), refID); !errors.Is(err, ErrNotFound) {
		t.Errorf("stranger Get = %v, want ErrNotFound", err)
	}
}

func TestCachedErrorResponseNotCached(t *testing.T) {
	c := newTestCache(t)
	ctx := asUser("alice", "s1")

	var calls atomic.Int32
	tool := c.Cached("flaky", func(ctx context.Context, args map[string]any) (any, error) {
		calls.Add(1)
		return nil, errors.New("upstream down")
	})

	resp := respMap(t, mustCall(t, tool, ctx, map[string]any{"query": "x"}))
	if resp[FieldIsError] != true || resp[FieldError] != "upstream down" {
		t.Fatalf("want error response, got %v", resp)
	}
	if resp[FieldToolName] != "flaky" {
		t.Errorf("tool_name = %v", resp[FieldToolName])
	}

	mustCall(t, tool, ctx, map[string]any{"query": "x"})
	if calls.Load() != 2 {
		t.Errorf("failed calls must not be cached: ran %d times", calls.Load())
	}
}

func TestCachedRetries(t *testing.T) {
	c := newTestCache(t)
	ctx := asUser("alice", "s1")

	var calls atomic.Int32
	tool := c.Cached("wobbly", func(ctx context.Context, args map[string]any) (any, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("transient")
		}
		return "ok", nil
	}, WithMaxRetries(2))

	resp := respMap(t, mustCall(t, tool, ctx, map[string]any{"query": "x"}))
	if resp[FieldIsError] == true {
		t.Fatalf("retried call should succeed: %v", resp)
	}
	if calls.Load() != 3 {
		t.Errorf("ran %d times, want 3", calls.Load())
	}
}

func TestCachedInFlightDeduplication(t *testing.T) {
	c := newTestCache(t)
	ctx := asUser("alice", "s1")

	var calls atomic.Int32
	tool := c.Cached("slow", func(ctx context.Context, args map[string]any) (any, error) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		return "out", nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := tool(ctx, map[string]any{"query": "x"}); err != nil {
				t.Errorf("tool call failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("concurrent identical calls ran the tool %d times, want 1", calls.Load())
	}
}

// Slow executions hand off to the task backend and complete through
// polling.
func TestCachedAsyncHandoff(t *testing.T) {
	pool := task.NewPool(task.Config{})
	defer pool.Close()
	c := newTestCache(t, WithTasks(pool))
	ctx := asUser("alice", "s1")

	release := make(chan struct{})
	tool := c.Cached("crunch", func(ctx context.Context, args map[string]any) (any, error) {
		task.ReportProgress(ctx, 1, 2, "crunching")
		<-release
		return []any{"crunched"}, nil
	}, WithAsyncTimeout(20*time.Millisecond))

	resp := respMap(t, mustCall(t, tool, ctx, map[string]any{"query": "x"}))
	if resp[FieldIsAsync] != true {
		t.Fatalf("want async handoff, got %v", resp)
	}
	taskID, _ := resp[FieldTaskID].(string)
	if taskID == "" {
		t.Fatal("async response missing task_id")
	}

	status, err := c.GetTaskStatus(ctx, taskID)
	if err != nil {
		t.Fatalf("GetTaskStatus failed: %v", err)
	}
	if status[FieldIsComplete] == true {
		t.Fatalf("task should still be running: %v", status)
	}

	close(release)

	var final map[string]any
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		final, err = c.GetTaskStatus(ctx, taskID)
		if err != nil {
			t.Fatalf("GetTaskStatus failed: %v", err)
		}
		if final[FieldIsComplete] == true {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if final[FieldIsComplete] != true {
		t.Fatalf("task never completed: %v", final)
	}
	refID, _ := final[FieldRefID].(string)
	if refID == "" {
		t.Fatalf("completed status missing ref_id: %v", final)
	}

	// Outcome delivered; the handle is purged.
	if _, err := c.GetTaskStatus(ctx, taskID); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("polled-out task = %v, want ErrTaskNotFound", err)
	}

	// The result landed in the cache.
	value, err := c.Get(ctx, refID)
	if err != nil {
		t.Fatalf("Get after async completion failed: %v", err)
	}
	if v, ok := value.([]any); !ok || v[0] != "crunched" {
		t.Errorf("value = %v", value)
	}

	// A repeat call is now a plain hit.
	hit := respMap(t, mustCall(t, tool, ctx, map[string]any{"query": "x"}))
	if hit[FieldIsAsync] == true {
		t.Error("repeat call should hit the cache, not go async")
	}
	if hit[FieldRefID] != refID {
		t.Errorf("hit ref = %v, want %v", hit[FieldRefID], refID)
	}
}

// The async handle is itself a reference id: the processing response
// carries it under ref_id, and Get polls it until the stored value is
// ready.
func TestCachedAsyncPollingThroughGet(t *testing.T) {
	pool := task.NewPool(task.Config{})
	defer pool.Close()
	c := newTestCache(t, WithTasks(pool))
	ctx := asUser("alice", "s1")

	release := make(chan struct{})
	tool := c.Cached("crunch", func(ctx context.Context, args map[string]any) (any, error) {
		<-release
		return []any{"crunched"}, nil
	}, WithAsyncTimeout(20*time.Millisecond))

	resp := respMap(t, mustCall(t, tool, ctx, map[string]any{"query": "x"}))
	if resp[FieldIsAsync] != true {
		t.Fatalf("want async handoff, got %v", resp)
	}
	handle, _ := resp[FieldRefID].(string)
	if handle == "" || handle != resp[FieldTaskID] {
		t.Fatalf("processing response should carry the handle as ref_id: %v", resp)
	}
	if _, ok := resp[FieldStartedAt]; !ok {
		t.Errorf("processing response missing started_at: %v", resp)
	}

	// While the task runs, Get reports its status instead of failing.
	polled, err := c.Get(ctx, handle)
	if err != nil {
		t.Fatalf("Get on a running handle failed: %v", err)
	}
	status := respMap(t, polled)
	if status[FieldIsComplete] == true || status[FieldIsAsync] != true {
		t.Fatalf("running handle status = %v", status)
	}

	close(release)

	// Poll Get until it yields the cached result itself.
	var value any
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		value, err = c.Get(ctx, handle)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if m, ok := value.(map[string]any); !ok || m[FieldIsAsync] != true {
			break
		}
		time.Sleep(time.Millisecond)
	}
	v, ok := value.([]any)
	if !ok || v[0] != "crunched" {
		t.Fatalf("polling never yielded the result, last = %v", value)
	}

	// Outcome delivered; the handle is spent.
	if _, err := c.Get(ctx, handle); !errors.Is(err, ErrNotFound) {
		t.Errorf("spent handle Get = %v, want ErrNotFound", err)
	}
}

func TestCachedAsyncFailureThroughGet(t *testing.T) {
	pool := task.NewPool(task.Config{})
	defer pool.Close()
	c := newTestCache(t, WithTasks(pool))
	ctx := asUser("alice", "s1")

	release := make(chan struct{})
	tool := c.Cached("crunch", func(ctx context.Context, args map[string]any) (any, error) {
		<-release
		return nil, errors.New("boom")
	}, WithAsyncTimeout(20*time.Millisecond))

	resp := respMap(t, mustCall(t, tool, ctx, map[string]any{"query": "x"}))
	handle, _ := resp[FieldRefID].(string)
	if resp[FieldIsAsync] != true || handle == "" {
		t.Fatalf("want async handoff with a handle, got %v", resp)
	}

	close(release)

	var final map[string]any
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		value, err := c.Get(ctx, handle)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		final = respMap(t, value)
		if final[FieldIsComplete] == true {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if final[FieldIsError] != true || final[FieldStatus] != string(task.StatusFailed) {
		t.Fatalf("failed handle = %v", final)
	}
	if final[FieldError] != "boom" {
		t.Errorf("error text = %v", final[FieldError])
	}
}

func TestCachedFastExecutionStaysSync(t *testing.T) {
	pool := task.NewPool(task.Config{})
	defer pool.Close()
	c := newTestCache(t, WithTasks(pool))
	ctx := asUser("alice", "s1")

	tool := c.Cached("quick", func(ctx context.Context, args map[string]any) (any, error) {
		return "fast", nil
	}, WithAsyncTimeout(time.Second))

	resp := respMap(t, mustCall(t, tool, ctx, map[string]any{"query": "x"}))
	if resp[FieldIsAsync] == true {
		t.Errorf("fast execution should return synchronously: %v", resp)
	}
	if resp[FieldRefID] == nil {
		t.Errorf("missing reference: %v", resp)
	}
}

func TestCachedAllowedResponseTypes(t *testing.T) {
	c := newTestCache(t)
	ctx := asUser("alice", "s1")

	tool := c.Cached("locked", func(ctx context.Context, args map[string]any) (any, error) {
		return "v", nil
	}, WithAllowedResponseTypes(ref.ResponseReference, ref.ResponsePreview))

	resp := respMap(t, mustCall(t, tool, ctx, map[string]any{"query": "x", "response_type": "full"}))
	if resp[FieldIsError] != true {
		t.Errorf("disallowed response type should error: %v", resp)
	}

	ok := respMap(t, mustCall(t, tool, ctx, map[string]any{"query": "x", "response_type": "preview"}))
	if ok[FieldIsError] == true {
		t.Errorf("allowed response type failed: %v", ok)
	}
}

func TestCachedNilFunc(t *testing.T) {
	c := newTestCache(t)
	tool := c.Cached("broken", nil)
	if _, err := tool(context.Background(), nil); !errors.Is(err, ErrNilFunc) {
		t.Errorf("want ErrNilFunc, got %v", err)
	}
}

func TestGetTaskStatusWithoutBackend(t *testing.T) {
	c := newTestCache(t)
	if _, err := c.GetTaskStatus(context.Background(), "x"); !errors.Is(err, ErrNoTasks) {
		t.Errorf("want ErrNoTasks, got %v", err)
	}
}
