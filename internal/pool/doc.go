// Package pool supplies tokenizer handles to an inference server. A base
// tokenizer is always resident; requests that name an adapter get that
// adapter's tokenizer, loaded on demand and kept in a bounded LRU cache.
// It is structured into small files by concern:
//
//   - config.go: Config, package defaults and validation.
//   - types.go: AdapterRef, Request, results and the TokenizerGroup interface.
//   - errors.go: error types and helpers (IsAdapterLoad, IsPoolUnhealthy, ...).
//   - cache.go: adapter tokenizer cache (single-flight loads, LRU eviction).
//   - workers.go: encode workers, bounded dispatch and restart policy.
//   - health.go: worker probes and the optional periodic monitor.
//   - core.go: tokenizer resolution and length enforcement shared by both variants.
//   - group.go: Pool, the worker-backed TokenizerGroup.
//   - inline.go: Inline, a TokenizerGroup that encodes on the calling goroutine.
//   - events.go, eventpub_memory.go: lifecycle events.
//   - metrics.go: Prometheus collectors.
//   - status.go: Status snapshot for /status.
//
// Loaded tokenizer handles are immutable and shared read-only by every
// worker. Cancelling a caller's context stops the caller from waiting; a
// load or encode already running completes and its result is dropped.
package pool
