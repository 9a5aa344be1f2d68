package refcache

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/refcache/access"
	"github.com/jonwraymond/refcache/observe"
	"github.com/jonwraymond/refcache/preview"
	"github.com/jonwraymond/refcache/ref"
	"github.com/jonwraymond/refcache/resolve"
	"github.com/jonwraymond/refcache/store"
	"github.com/jonwraymond/refcache/task"
)

// DefaultNamespace is where entries land when no namespace is given.
const DefaultNamespace = "public"

// TTLNever disables expiry for one entry regardless of the cache
// default.
const TTLNever = time.Duration(-1)

// RefCache stores values and hands out deterministic references.
type RefCache struct {
	name          string
	backend       store.Backend
	clock         store.Clock
	defaultTTL    time.Duration
	defaultPolicy access.Policy

	sizeMode   preview.SizeMode
	tokenizer  preview.Tokenizer
	previewCfg preview.Config
	previews   *preview.Generator

	checker  access.Checker
	resolver *resolve.Resolver

	logger  observe.Logger
	metrics observe.Metrics
	tracer  observe.Tracer
	tasks   task.Backend

	group singleflight.Group
}

// Option configures a RefCache.
type Option func(*RefCache)

// WithBackend sets the storage backend. Default: in-memory.
func WithBackend(b store.Backend) Option {
	return func(c *RefCache) { c.backend = b }
}

// WithClock injects the time source. Default: time.Now.
func WithClock(clock store.Clock) Option {
	return func(c *RefCache) { c.clock = clock }
}

// WithDefaultTTL sets the expiry applied when a store gives none.
// Zero means entries never expire.
func WithDefaultTTL(d time.Duration) Option {
	return func(c *RefCache) { c.defaultTTL = d }
}

// WithDefaultPolicy sets the policy applied when a store gives none.
func WithDefaultPolicy(p access.Policy) Option {
	return func(c *RefCache) { c.defaultPolicy = p }
}

// WithPreviewDefaults sets the cache-wide preview configuration.
func WithPreviewDefaults(cfg preview.Config) Option {
	return func(c *RefCache) { c.previewCfg = cfg }
}

// WithSizeMode selects token or character measurement.
func WithSizeMode(mode preview.SizeMode) Option {
	return func(c *RefCache) { c.sizeMode = mode }
}

// WithTokenizer injects the tokenizer used in token size mode.
func WithTokenizer(t preview.Tokenizer) Option {
	return func(c *RefCache) { c.tokenizer = t }
}

// WithLogger sets the structured logger.
func WithLogger(l observe.Logger) Option {
	return func(c *RefCache) { c.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observe.Metrics) Option {
	return func(c *RefCache) { c.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t observe.Tracer) Option {
	return func(c *RefCache) { c.tracer = t }
}

// WithObserver wires the logger, tracer, and metric instruments from
// one Observer. Equivalent to WithLogger + WithTracer + WithMetrics.
func WithObserver(obs observe.Observer) Option {
	return func(c *RefCache) {
		c.logger = obs.Logger()
		c.tracer = observe.NewTracer(obs.Tracer())
		if m, err := observe.NewMetrics(obs.Meter()); err == nil {
			c.metrics = m
		}
	}
}

// WithTasks sets the background task backend used for async
// executions.
func WithTasks(b task.Backend) Option {
	return func(c *RefCache) { c.tasks = b }
}

// New creates a cache. The name becomes the prefix of every reference
// id the cache mints.
func New(name string, opts ...Option) (*RefCache, error) {
	if !ref.ValidCacheName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	c := &RefCache{
		name:          name,
		clock:         time.Now,
		defaultPolicy: access.DefaultPolicy(),
		checker:       access.NewChecker(),
		logger:        observe.NoopLogger(),
		metrics:       observe.NoopMetrics(),
		tracer:        observe.NewNoopTracer(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.backend == nil {
		c.backend = store.NewMemoryWithClock(c.clock)
	}

	c.previews = preview.NewGenerator(preview.NewMeasurer(c.sizeMode, c.tokenizer), c.previewCfg)
	c.resolver = resolve.New(c)
	c.logger = c.logger.WithCache(name)
	return c, nil
}

// Name returns the cache name.
func (c *RefCache) Name() string { return c.name }

// SetOptions configure one store.
type SetOptions struct {
	// TTL overrides the cache default expiry. Zero inherits the
	// default; TTLNever stores without expiry.
	TTL time.Duration

	// Namespace places the entry. Empty means DefaultNamespace.
	Namespace string

	// Policy overrides the cache default policy.
	Policy *access.Policy

	// ToolName records which tool produced the value.
	ToolName string

	// Metadata is merged into the entry metadata.
	Metadata map[string]any

	// AllowedResponseTypes restricts the response shapes consumers may
	// request for this reference. Empty allows all.
	AllowedResponseTypes []ref.ResponseType
}

// Set stores a value and returns its reference. Storing the same key
// and value again yields the same reference id.
func (c *RefCache) Set(ctx context.Context, key string, value any, opts SetOptions) (*ref.Reference, error) {
	ctx, span := c.tracer.StartSpan(ctx, c.name, observe.OpSet)
	reference, err := c.set(ctx, key, value, opts)
	c.tracer.EndSpan(span, err)
	return reference, err
}

func (c *RefCache) set(ctx context.Context, key string, value any, opts SetOptions) (*ref.Reference, error) {
	if err := store.ValidateKey(key); err != nil {
		return nil, err
	}

	actor := actorFrom(ctx)
	namespace := opts.Namespace
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if !access.ValidateNamespaceAccess(namespace, actor) {
		return nil, &access.DeniedError{
			Actor:     actor,
			Required:  access.Write,
			Reason:    access.ReasonNamespaceOwnership,
			Namespace: namespace,
		}
	}

	policy := c.defaultPolicy
	if opts.Policy != nil {
		policy = *opts.Policy
	}

	id, err := ref.MintID(c.name, key, value)
	if err != nil {
		return nil, err
	}

	now := c.clock()
	var expiresAt time.Time
	ttl := opts.TTL
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}

	totalItems := countItems(value)
	metadata := make(map[string]any, len(opts.Metadata)+2)
	for k, v := range opts.Metadata {
		metadata[k] = v
	}
	if opts.ToolName != "" {
		metadata[store.MetaToolName] = opts.ToolName
	}
	if totalItems > 0 {
		metadata[store.MetaTotalItems] = totalItems
	}
	if len(opts.AllowedResponseTypes) > 0 {
		allowed := make([]string, len(opts.AllowedResponseTypes))
		for i, rt := range opts.AllowedResponseTypes {
			allowed[i] = string(rt)
		}
		metadata[store.MetaResponseTypes] = allowed
	}

	entry := &store.Entry{
		Value:     value,
		Namespace: namespace,
		Policy:    policy,
		CreatedAt: now,
		ExpiresAt: expiresAt,
		Metadata:  metadata,
	}
	if err := c.backend.Set(ctx, id, entry); err != nil {
		return nil, err
	}

	c.metrics.RecordStore(ctx, c.name, c.clock().Sub(now))
	c.logger.Debug(ctx, "stored entry",
		observe.Field{Key: "ref_id", Value: id},
		observe.Field{Key: "namespace", Value: namespace},
	)

	return &ref.Reference{
		ID:                   id,
		CacheName:            c.name,
		Namespace:            namespace,
		ToolName:             opts.ToolName,
		CreatedAt:            now,
		TotalItems:           totalItems,
		TotalTokens:          c.previews.Measurer().Measure(value),
		AllowedResponseTypes: opts.AllowedResponseTypes,
	}, nil
}

// Entry retrieves the raw entry for a reference id with no permission
// check. It implements the resolver's lookup contract; external
// callers go through Get.
func (c *RefCache) Entry(ctx context.Context, refID string) (*store.Entry, bool) {
	return c.backend.Get(ctx, refID)
}

// Get returns the full value behind a reference id. Async handles are
// reference ids whose value is still being computed: while the task
// runs Get returns its status response, and once it completes Get
// yields the stored value like any other id. Missing, expired, and
// permission-denied entries all return ErrNotFound so callers cannot
// probe for entries they may not read.
func (c *RefCache) Get(ctx context.Context, refID string) (any, error) {
	ctx, span := c.tracer.StartSpan(ctx, c.name, observe.OpGet)
	entry, err := c.readable(ctx, refID, access.Read)
	if err == nil {
		c.tracer.EndSpan(span, nil)
		return entry.Value, nil
	}
	if value, ok := c.taskValue(ctx, refID); ok {
		c.tracer.EndSpan(span, nil)
		return value, nil
	}
	c.tracer.EndSpan(span, err)
	return nil, err
}

// readable fetches an entry and gates it behind a permission check.
func (c *RefCache) readable(ctx context.Context, refID string, required access.Permission) (*store.Entry, error) {
	entry, ok := c.backend.Get(ctx, refID)
	c.metrics.RecordLookup(ctx, c.name, ok)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, refID)
	}

	actor := actorFrom(ctx)
	if err := c.checker.Check(entry.Policy, required, actor, entry.Namespace); err != nil {
		c.logger.Debug(ctx, "access denied",
			observe.Field{Key: "ref_id", Value: refID},
			observe.Field{Key: "actor", Value: actor.String()},
			observe.Field{Key: "reason", Value: err.Error()},
		)
		return nil, fmt.Errorf("%w: %s", ErrNotFound, refID)
	}
	return entry, nil
}

// Preview returns a size-bounded preview of the value behind a
// reference id.
func (c *RefCache) Preview(ctx context.Context, refID string, overrides ...preview.Config) (*preview.Preview, error) {
	entry, err := c.readable(ctx, refID, access.Read)
	if err != nil {
		return nil, err
	}
	return c.previews.Generate(entry.Value, overrides...)
}

// Paginate returns one page of the collection behind a reference id.
func (c *RefCache) Paginate(ctx context.Context, refID string, page, pageSize int) (*preview.Page, error) {
	entry, err := c.readable(ctx, refID, access.Read)
	if err != nil {
		return nil, err
	}
	return c.previews.Paginate(entry.Value, page, pageSize)
}

// Resolve substitutes references nested anywhere in value.
func (c *RefCache) Resolve(ctx context.Context, value any, opts resolve.Options) (*resolve.Result, error) {
	ctx, span := c.tracer.StartSpan(ctx, c.name, observe.OpResolve)
	res, err := c.resolver.Resolve(ctx, value, actorFrom(ctx), opts)
	c.tracer.EndSpan(span, err)
	if res != nil {
		c.metrics.RecordResolution(ctx, c.name, res.ResolvedCount, len(res.Errors))
	}
	return res, err
}

// Delete removes the entry behind a reference id. Missing and
// permission-denied entries both report (false, nil).
func (c *RefCache) Delete(ctx context.Context, refID string) (bool, error) {
	ctx, span := c.tracer.StartSpan(ctx, c.name, observe.OpDelete)
	defer func() { c.tracer.EndSpan(span, nil) }()

	if _, err := c.readable(ctx, refID, access.Delete); err != nil {
		return false, nil
	}
	return c.backend.Delete(ctx, refID)
}

// Exists reports whether a reference id is present and readable by
// the calling actor.
func (c *RefCache) Exists(ctx context.Context, refID string) bool {
	_, err := c.readable(ctx, refID, access.Read)
	return err == nil
}

// Clear removes all entries in a namespace ("" clears everything).
// Only SYSTEM actors and namespace owners may clear.
func (c *RefCache) Clear(ctx context.Context, namespace string) (int, error) {
	ctx, span := c.tracer.StartSpan(ctx, c.name, observe.OpClear)
	actor := actorFrom(ctx)
	if namespace != "" && !access.ValidateNamespaceAccess(namespace, actor) {
		err := &access.DeniedError{
			Actor:     actor,
			Required:  access.Delete,
			Reason:    access.ReasonNamespaceOwnership,
			Namespace: namespace,
		}
		c.tracer.EndSpan(span, err)
		return 0, err
	}
	if namespace == "" && actor.Type != access.ActorSystem {
		err := &access.DeniedError{
			Actor:    actor,
			Required: access.Delete,
			Reason:   access.ReasonNamespaceOwnership,
		}
		c.tracer.EndSpan(span, err)
		return 0, err
	}

	n, err := c.backend.Clear(ctx, namespace)
	c.tracer.EndSpan(span, err)
	c.metrics.RecordEviction(ctx, c.name, n)
	return n, err
}

// Keys lists live reference ids, optionally filtered by namespace.
// Internal index records are excluded.
func (c *RefCache) Keys(ctx context.Context, namespace string) ([]string, error) {
	keys, err := c.backend.Keys(ctx, namespace)
	if err != nil {
		return nil, err
	}
	out := keys[:0]
	for _, k := range keys {
		if ref.IsRefID(k) {
			out = append(out, k)
		}
	}
	return out, nil
}

// countItems returns the element count of collection values, zero for
// scalars.
func countItems(value any) int {
	switch v := value.(type) {
	case []any:
		return len(v)
	case map[string]any:
		return len(v)
	default:
		return 0
	}
}
