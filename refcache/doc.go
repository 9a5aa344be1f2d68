// Package refcache is the orchestration layer tying storage, access
// control, previews, resolution, and background tasks into a
// reference-returning cache for tool-calling frameworks.
//
// A RefCache stores tool results and hands callers a compact reference
// instead of the full payload. References are deterministic: caching
// the same key and value twice yields the same id. The Cached wrapper
// turns any tool function into a cache-backed one that resolves
// reference arguments, deduplicates identical in-flight calls, and
// offloads slow executions to a background task pool.
package refcache
