package refcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/jonwraymond/refcache/access"
	"github.com/jonwraymond/refcache/observe"
	"github.com/jonwraymond/refcache/preview"
	"github.com/jonwraymond/refcache/ref"
	"github.com/jonwraymond/refcache/resolve"
	"github.com/jonwraymond/refcache/store"
	"github.com/jonwraymond/refcache/task"
)

// ToolFunc is the shape of a wrappable tool function: string-keyed
// arguments in, any JSON-like value out.
type ToolFunc func(ctx context.Context, args map[string]any) (any, error)

// defaultPrimaryInputs are checked in order; the first present becomes
// the sole cache key basis so incidental arguments do not fork keys.
var defaultPrimaryInputs = []string{"input_data", "query", "data", "request"}

// indexNamespace holds the key-to-reference index records backing hit
// detection. It never appears in Keys listings.
const indexNamespace = "index"

type cachedConfig struct {
	namespaceTmpl string
	ownerTmpl     string
	sessionScoped bool
	ttl           time.Duration
	asyncTimeout  time.Duration
	policy        *access.Policy
	primaryInputs []string
	maxRetries    int
	previewCfg    preview.Config
	allowed       []ref.ResponseType
}

// CachedOption configures one wrapped tool.
type CachedOption func(*cachedConfig)

// WithNamespace sets the namespace template for stored results.
// Placeholders like {user_id} and {session_id} expand from the request
// context. Default: "public".
func WithNamespace(template string) CachedOption {
	return func(c *cachedConfig) { c.namespaceTmpl = template }
}

// WithOwner sets the owner template ("user:{user_id}"). The expanded
// owner receives full permissions on stored results.
func WithOwner(template string) CachedOption {
	return func(c *cachedConfig) { c.ownerTmpl = template }
}

// SessionScoped binds stored results to the calling session.
func SessionScoped() CachedOption {
	return func(c *cachedConfig) { c.sessionScoped = true }
}

// WithTTL sets the expiry for stored results. TTLNever disables
// expiry.
func WithTTL(d time.Duration) CachedOption {
	return func(c *cachedConfig) { c.ttl = d }
}

// WithAsyncTimeout hands executions exceeding d off to the task
// backend, returning a pollable handle instead of blocking.
func WithAsyncTimeout(d time.Duration) CachedOption {
	return func(c *cachedConfig) { c.asyncTimeout = d }
}

// WithPolicy overrides the cache default policy for stored results.
func WithPolicy(p access.Policy) CachedOption {
	return func(c *cachedConfig) { c.policy = &p }
}

// WithPrimaryInput replaces the primary-input key preference order.
func WithPrimaryInput(keys ...string) CachedOption {
	return func(c *cachedConfig) { c.primaryInputs = keys }
}

// WithMaxRetries retries failed executions up to n times.
func WithMaxRetries(n int) CachedOption {
	return func(c *cachedConfig) { c.maxRetries = n }
}

// WithPreviewConfig sets the per-tool preview configuration, layered
// between the cache default and per-call settings.
func WithPreviewConfig(cfg preview.Config) CachedOption {
	return func(c *cachedConfig) { c.previewCfg = cfg }
}

// WithAllowedResponseTypes restricts the response shapes consumers may
// request for this tool's results.
func WithAllowedResponseTypes(types ...ref.ResponseType) CachedOption {
	return func(c *cachedConfig) { c.allowed = types }
}

// callControls are the reserved per-call keys after extraction.
type callControls struct {
	responseType ref.ResponseType
	page         int
	pageSize     int
}

// missOutcome is what one deduplicated execution produced: a stored
// reference, an async handoff, or an error-shaped response.
type missOutcome struct {
	refID     string
	asyncResp map[string]any
	errResp   map[string]any
}

// Cached wraps a tool function with caching, reference resolution,
// in-flight deduplication, and async handoff. The returned function
// never surfaces tool errors as Go errors; they come back as
// error-shaped response maps so agents can react to them.
func (c *RefCache) Cached(toolName string, fn ToolFunc, opts ...CachedOption) ToolFunc {
	cfg := cachedConfig{
		namespaceTmpl: DefaultNamespace,
		primaryInputs: defaultPrimaryInputs,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if fn == nil {
		return func(ctx context.Context, args map[string]any) (any, error) {
			return nil, ErrNilFunc
		}
	}

	return func(ctx context.Context, args map[string]any) (any, error) {
		return c.runCached(ctx, toolName, fn, cfg, args)
	}
}

func (c *RefCache) runCached(ctx context.Context, toolName string, fn ToolFunc, cfg cachedConfig, args map[string]any) (any, error) {
	ctx, span := c.tracer.StartSpan(ctx, c.name, observe.OpExecute)
	defer func() { c.tracer.EndSpan(span, nil) }()

	rc, _ := RequestContextFrom(ctx)
	stripped, controls := extractControls(args)
	cacheKey, err := c.callKey(toolName, cfg, rc, stripped)
	if err != nil {
		return errorResponse(toolName, err.Error()), nil
	}
	idxKey := "idx:" + cacheKey

	// Hit path: key index points at a live entry.
	if idx, ok := c.backend.Get(ctx, idxKey); ok {
		if refID, ok := idx.Value.(string); ok {
			if entry, ok := c.backend.Get(ctx, refID); ok {
				c.metrics.RecordLookup(ctx, c.name, true)
				c.logger.Debug(ctx, "cache hit",
					observe.Field{Key: "tool", Value: toolName},
					observe.Field{Key: "ref_id", Value: refID},
				)
				return c.shapeResponse(ctx, refID, entry, controls, cfg), nil
			}
		}
	}
	c.metrics.RecordLookup(ctx, c.name, false)

	out, err, _ := c.group.Do(cacheKey, func() (any, error) {
		return c.executeMiss(ctx, toolName, fn, cfg, stripped, cacheKey, idxKey, rc)
	})
	if err != nil {
		return nil, err
	}

	outcome := out.(*missOutcome)
	switch {
	case outcome.errResp != nil:
		return outcome.errResp, nil
	case outcome.asyncResp != nil:
		return outcome.asyncResp, nil
	}

	entry, ok := c.backend.Get(ctx, outcome.refID)
	if !ok {
		return nil, ErrNotFound
	}
	return c.shapeResponse(ctx, outcome.refID, entry, controls, cfg), nil
}

// executeMiss resolves arguments, runs the tool (directly or through
// the task backend), and stores the result.
func (c *RefCache) executeMiss(ctx context.Context, toolName string, fn ToolFunc, cfg cachedConfig, args map[string]any, cacheKey, idxKey string, rc RequestContext) (*missOutcome, error) {
	// Reference arguments resolve under Execute so blind-compute
	// inputs flow into the tool without being readable.
	resolved, _, err := c.resolver.ResolveArgs(ctx, args, actorFrom(ctx), resolve.Options{
		Permission:    access.Execute,
		FailOnMissing: true,
	})
	if err != nil {
		return &missOutcome{errResp: errorResponse(toolName, "reference cannot be resolved")}, nil
	}

	exec := func(execCtx context.Context) (any, error) {
		execCtx = WithRequestContext(execCtx, rc)
		value, err := c.executeWithRetries(execCtx, fn, resolved, cfg.maxRetries)
		if err != nil {
			return nil, err
		}
		reference, err := c.storeResult(execCtx, toolName, cfg, rc, cacheKey, idxKey, value)
		if err != nil {
			return nil, err
		}
		return reference.ID, nil
	}

	if cfg.asyncTimeout > 0 && c.tasks != nil {
		return c.executeAsync(ctx, toolName, cfg, exec)
	}

	refID, err := exec(ctx)
	if err != nil {
		c.logger.Warn(ctx, "tool execution failed",
			observe.Field{Key: "tool", Value: toolName},
			observe.Field{Key: "error", Value: err.Error()},
		)
		return &missOutcome{errResp: errorResponse(toolName, err.Error())}, nil
	}
	return &missOutcome{refID: refID.(string)}, nil
}

// executeAsync submits the execution to the task backend and waits up
// to the configured timeout before handing back a pollable handle.
func (c *RefCache) executeAsync(ctx context.Context, toolName string, cfg cachedConfig, exec func(context.Context) (any, error)) (*missOutcome, error) {
	type outcome struct {
		refID any
		err   error
	}
	done := make(chan outcome, 1)

	id, err := c.tasks.Submit(ctx, func(tctx context.Context) (any, error) {
		refID, err := exec(tctx)
		done <- outcome{refID: refID, err: err}
		return refID, err
	})
	if err != nil {
		return nil, err
	}
	c.metrics.RecordTask(ctx, c.name, string(task.StatusPending))

	timer := time.NewTimer(cfg.asyncTimeout)
	defer timer.Stop()

	select {
	case out := <-done:
		c.tasks.Forget(id)
		if out.err != nil {
			return &missOutcome{errResp: errorResponse(toolName, out.err.Error())}, nil
		}
		return &missOutcome{refID: out.refID.(string)}, nil

	case <-timer.C:
		info, ok := c.tasks.Poll(id)
		if !ok {
			info = &task.Info{ID: id, Status: task.StatusPending, SubmittedAt: c.clock()}
		}
		c.logger.Info(ctx, "execution handed off",
			observe.Field{Key: "tool", Value: toolName},
			observe.Field{Key: "task_id", Value: id},
		)
		return &missOutcome{asyncResp: asyncResponse(c.name, info, c.clock())}, nil

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *RefCache) executeWithRetries(ctx context.Context, fn ToolFunc, args map[string]any, maxRetries int) (any, error) {
	delay := 100 * time.Millisecond
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		value, err := fn(ctx, args)
		if err == nil {
			return value, nil
		}
		lastErr = err
		if attempt >= maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return nil, lastErr
}

// storeResult writes the tool result and the key index record.
func (c *RefCache) storeResult(ctx context.Context, toolName string, cfg cachedConfig, rc RequestContext, cacheKey, idxKey string, value any) (*ref.Reference, error) {
	namespace := expandTemplate(cfg.namespaceTmpl, rc)

	policy := c.defaultPolicy
	if cfg.policy != nil {
		policy = *cfg.policy
	}
	if cfg.ownerTmpl != "" {
		policy = policy.WithOwner(expandTemplate(cfg.ownerTmpl, rc))
	}
	if cfg.sessionScoped {
		session := rc.SessionID
		if session == "" {
			session = fallbackSession
		}
		policy = policy.WithBoundSession(session)
	}

	reference, err := c.set(ctx, cacheKey, value, SetOptions{
		TTL:                  cfg.ttl,
		Namespace:            namespace,
		Policy:               &policy,
		ToolName:             toolName,
		AllowedResponseTypes: cfg.allowed,
	})
	if err != nil {
		return nil, err
	}

	// Index record under the same expiry so hit detection never
	// outlives the entry.
	entry, _ := c.backend.Get(ctx, reference.ID)
	idx := &store.Entry{
		Value:     reference.ID,
		Namespace: indexNamespace,
		CreatedAt: reference.CreatedAt,
	}
	if entry != nil {
		idx.ExpiresAt = entry.ExpiresAt
	}
	if err := c.backend.Set(ctx, idxKey, idx); err != nil {
		return nil, err
	}
	return reference, nil
}

// shapeResponse builds the caller-facing response for a stored entry
// under the requested response type. Actors without Read fall back to
// the reference-only shape.
func (c *RefCache) shapeResponse(ctx context.Context, refID string, entry *store.Entry, controls callControls, cfg cachedConfig) map[string]any {
	reference := referenceFromEntry(c.name, refID, entry)

	rt := controls.responseType
	if rt == "" {
		rt = ref.ResponsePreview
	}
	if !reference.Allows(rt) {
		return errorResponse(reference.ToolName, "response type not allowed: "+string(rt))
	}

	resp := withResponseType(referenceResponse(reference), rt)
	if rt == ref.ResponseReference {
		return resp
	}

	actor := actorFrom(ctx)
	if err := c.checker.Check(entry.Policy, access.Read, actor, entry.Namespace); err != nil {
		// Execute-only actors still get the handle for blind compute.
		return withResponseType(referenceResponse(reference), ref.ResponseReference)
	}

	if controls.page > 0 {
		page, err := c.previews.Paginate(entry.Value, controls.page, controls.pageSize)
		if err != nil {
			return errorResponse(reference.ToolName, err.Error())
		}
		return withPage(resp, page)
	}

	if rt == ref.ResponseFull {
		resp[FieldValue] = entry.Value
		return resp
	}

	p, err := c.previews.Generate(entry.Value, cfg.previewCfg)
	if err != nil {
		return errorResponse(reference.ToolName, err.Error())
	}
	return withPreview(resp, p)
}

// taskValue serves Get for async handles. Running tasks report their
// status response; completed ones deliver the stored value (the
// terminal poll drops the handle, after which the minted reference id
// is the durable way in). Unknown handles report (nil, false).
func (c *RefCache) taskValue(ctx context.Context, handle string) (any, bool) {
	if c.tasks == nil {
		return nil, false
	}
	info, ok := c.tasks.Poll(handle)
	if !ok {
		return nil, false
	}
	c.metrics.RecordTask(ctx, c.name, string(info.Status))

	if !info.Status.Terminal() {
		return asyncResponse(c.name, info, c.clock()), true
	}

	if info.Status == task.StatusComplete {
		refID, _ := info.Result.(string)
		entry, err := c.readable(ctx, refID, access.Read)
		if err != nil {
			// Unreadable result stays indistinguishable from a missing
			// one; the handle survives for GetTaskStatus.
			return nil, false
		}
		c.tasks.Forget(handle)
		return entry.Value, true
	}

	resp := asyncResponse(c.name, info, c.clock())
	if info.Error != "" {
		resp[FieldError] = info.Error
		resp[FieldIsError] = true
	}
	c.tasks.Forget(handle)
	return resp, true
}

// GetTaskStatus polls an async execution. Terminal tasks are dropped
// from the backend once their outcome has been delivered.
func (c *RefCache) GetTaskStatus(ctx context.Context, taskID string) (map[string]any, error) {
	if c.tasks == nil {
		return nil, ErrNoTasks
	}
	info, ok := c.tasks.Poll(taskID)
	if !ok {
		return nil, ErrTaskNotFound
	}
	c.metrics.RecordTask(ctx, c.name, string(info.Status))

	resp := asyncResponse(c.name, info, c.clock())
	if !info.Status.Terminal() {
		return resp, nil
	}

	if info.Status == task.StatusComplete {
		if refID, ok := info.Result.(string); ok {
			resp[FieldRefID] = refID
			if entry, ok := c.backend.Get(ctx, refID); ok {
				reference := referenceFromEntry(c.name, refID, entry)
				if reference.TotalItems > 0 {
					resp[FieldTotalItems] = reference.TotalItems
				}
				if reference.ToolName != "" {
					resp[FieldToolName] = reference.ToolName
				}
			}
		}
	} else if info.Error != "" {
		resp[FieldError] = info.Error
		resp[FieldIsError] = true
	}
	c.tasks.Forget(taskID)
	return resp, nil
}

// callKey derives the deterministic cache key for a call. The first
// primary input present becomes the sole key basis; otherwise the
// whole stripped argument map does. The expanded namespace (and the
// session, for session-scoped tools) joins the digest so isolated
// scopes never share results. The canonical form is digested so keys
// stay short and storable regardless of argument size.
func (c *RefCache) callKey(toolName string, cfg cachedConfig, rc RequestContext, args map[string]any) (string, error) {
	var basis any = args
	for _, k := range cfg.primaryInputs {
		if v, ok := args[k]; ok {
			basis = map[string]any{k: v}
			break
		}
	}

	canonical, err := ref.Canonicalize(basis)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	h.Write([]byte(toolName))
	h.Write([]byte{0})
	h.Write([]byte(expandTemplate(cfg.namespaceTmpl, rc)))
	h.Write([]byte{0})
	if cfg.sessionScoped {
		h.Write([]byte(rc.SessionID))
		h.Write([]byte{0})
	}
	h.Write(canonical)
	return toolName + ":" + hex.EncodeToString(h.Sum(nil)[:16]), nil
}

// extractControls splits the reserved per-call keys out of the
// argument map, leaving key computation unaffected by them.
func extractControls(args map[string]any) (map[string]any, callControls) {
	var controls callControls
	stripped := make(map[string]any, len(args))
	for k, v := range args {
		switch k {
		case ArgResponseType:
			if s, ok := v.(string); ok {
				controls.responseType = ref.ResponseType(s)
			}
		case ArgPage:
			if n, ok := intArg(v); ok {
				controls.page = n
			}
		case ArgPageSize:
			if n, ok := intArg(v); ok {
				controls.pageSize = n
			}
		default:
			stripped[k] = v
		}
	}
	return stripped, controls
}

// intArg coerces the numeric shapes JSON decoding produces.
func intArg(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// referenceFromEntry rebuilds the reference view of a stored entry.
func referenceFromEntry(cacheName, refID string, entry *store.Entry) *ref.Reference {
	r := &ref.Reference{
		ID:        refID,
		CacheName: cacheName,
		Namespace: entry.Namespace,
		CreatedAt: entry.CreatedAt,
	}
	if tool, ok := entry.Metadata[store.MetaToolName].(string); ok {
		r.ToolName = tool
	}
	if n, ok := intArg(entry.Metadata[store.MetaTotalItems]); ok {
		r.TotalItems = n
	}
	switch allowed := entry.Metadata[store.MetaResponseTypes].(type) {
	case []string:
		for _, s := range allowed {
			r.AllowedResponseTypes = append(r.AllowedResponseTypes, ref.ResponseType(s))
		}
	case []any:
		for _, s := range allowed {
			if str, ok := s.(string); ok {
				r.AllowedResponseTypes = append(r.AllowedResponseTypes, ref.ResponseType(str))
			}
		}
	}
	return r
}
