// Package observe provides observability primitives for cache and
// resolution operations.
//
// It is a pure instrumentation library: no caching, no transport, no
// I/O beyond exporter setup. Consumers wire the observer into the
// cache orchestration layer.
package observe
