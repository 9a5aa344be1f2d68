package resolve

import (
	"context"
	"fmt"
	"reflect"

	"github.com/jonwraymond/refcache/access"
	"github.com/jonwraymond/refcache/ref"
	"github.com/jonwraymond/refcache/store"
)

// opaqueError is the caller-facing message for every resolution
// failure. Missing references and permission-denied references must
// read identically so a caller cannot probe for entry existence.
const opaqueError = "reference cannot be resolved"

// Lookup retrieves the live entry backing a reference id.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Expiry: expired entries must report absent, never a stale value.
type Lookup interface {
	Entry(ctx context.Context, refID string) (*store.Entry, bool)
}

// Options control one resolution pass.
type Options struct {
	// FailOnMissing aborts the walk with an error on the first
	// failure. When false, the original token stays in place, the
	// error is recorded, and the walk continues elsewhere.
	FailOnMissing bool

	// Permission is the capability checked per reference. Zero means
	// Read; blind-compute call sites pass Execute instead.
	Permission access.Permission
}

func (o Options) permission() access.Permission {
	if o.Permission == access.None {
		return access.Read
	}
	return o.Permission
}

// Result reports what a resolution pass did.
type Result struct {
	// Value is the structure with references substituted.
	Value any

	// ResolvedCount is the number of successful substitutions.
	ResolvedCount int

	// ResolvedRefs lists the ids that were substituted.
	ResolvedRefs []string

	// Errors maps original reference tokens to an opaque message.
	Errors map[string]string
}

// Resolver walks input structures substituting references.
//
// The walk dispatches on the closed set of JSON-like container shapes:
// map[string]any (keys preserved), []any (order preserved), and
// scalars. Fixed-size arrays are rebuilt as []any slices. Other Go
// container types pass through untouched; values arriving from JSON
// decoding always fit the closed set. Resolution never mutates the
// backend, so concurrent passes over the same references are freely
// parallel.
type Resolver struct {
	lookup  Lookup
	checker access.Checker
}

// New creates a resolver over the given lookup.
func New(lookup Lookup) *Resolver {
	return &Resolver{lookup: lookup, checker: access.NewChecker()}
}

// Resolve substitutes every reference nested in value.
func (r *Resolver) Resolve(ctx context.Context, value any, actor access.Actor, opts Options) (*Result, error) {
	res := &Result{Errors: make(map[string]string)}
	out, err := r.walk(ctx, value, actor, opts, res)
	if err != nil {
		return nil, err
	}
	res.Value = out
	return res, nil
}

// ResolveArgs substitutes references in a keyword-argument mapping,
// returning a new mapping with the same keys.
func (r *Resolver) ResolveArgs(ctx context.Context, args map[string]any, actor access.Actor, opts Options) (map[string]any, *Result, error) {
	res, err := r.Resolve(ctx, args, actor, opts)
	if err != nil {
		return nil, nil, err
	}
	out, _ := res.Value.(map[string]any)
	return out, res, nil
}

// ResolveCall substitutes references in a positional/keyword argument
// pair, for wrapping arbitrary callables.
func (r *Resolver) ResolveCall(ctx context.Context, args []any, kwargs map[string]any, actor access.Actor, opts Options) ([]any, map[string]any, *Result, error) {
	res := &Result{Errors: make(map[string]string)}

	outArgs, err := r.walk(ctx, args, actor, opts, res)
	if err != nil {
		return nil, nil, nil, err
	}
	outKwargs, err := r.walk(ctx, kwargs, actor, opts, res)
	if err != nil {
		return nil, nil, nil, err
	}

	resolvedArgs, _ := outArgs.([]any)
	resolvedKwargs, _ := outKwargs.(map[string]any)
	return resolvedArgs, resolvedKwargs, res, nil
}

func (r *Resolver) walk(ctx context.Context, value any, actor access.Actor, opts Options, res *Result) (any, error) {
	switch v := value.(type) {
	case string:
		if !ref.IsRefID(v) {
			return v, nil
		}
		return r.substitute(ctx, v, v, actor, opts, res)

	case *ref.Reference:
		return r.substitute(ctx, v.ID, v, actor, opts, res)

	case map[string]any:
		if structured, ok := ref.FromMap(v); ok {
			return r.substitute(ctx, structured.ID, v, actor, opts, res)
		}
		out := make(map[string]any, len(v))
		for key, elem := range v {
			resolved, err := r.walk(ctx, elem, actor, opts, res)
			if err != nil {
				return nil, err
			}
			out[key] = resolved
		}
		return out, nil

	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			resolved, err := r.walk(ctx, elem, actor, opts, res)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil

	default:
		// Fixed-size arrays walk like slices; the resolved structure
		// comes back as []any since elements may change type.
		if rv := reflect.ValueOf(value); rv.Kind() == reflect.Array {
			out := make([]any, rv.Len())
			for i := range out {
				resolved, err := r.walk(ctx, rv.Index(i).Interface(), actor, opts, res)
				if err != nil {
					return nil, err
				}
				out[i] = resolved
			}
			return out, nil
		}
		return value, nil
	}
}

// substitute resolves one detected reference. orig is the original
// form left in place on lenient failure; Errors is keyed by the
// reference id.
func (r *Resolver) substitute(ctx context.Context, refID string, orig any, actor access.Actor, opts Options, res *Result) (any, error) {
	entry, ok := r.lookup.Entry(ctx, refID)
	if !ok {
		if opts.FailOnMissing {
			return nil, fmt.Errorf("resolve: %q: %w", refID, store.ErrNotFound)
		}
		res.Errors[refID] = opaqueError
		return orig, nil
	}

	if err := r.checker.Check(entry.Policy, opts.permission(), actor, entry.Namespace); err != nil {
		if opts.FailOnMissing {
			return nil, err
		}
		res.Errors[refID] = opaqueError
		return orig, nil
	}

	res.ResolvedCount++
	res.ResolvedRefs = append(res.ResolvedRefs, refID)
	return entry.Value, nil
}
