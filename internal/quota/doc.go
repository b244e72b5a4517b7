// Package quota implements the sole path for LLM calls made by the
// extraction pipeline: a quota-aware client that rotates across a pool of
// API keys, tracks each key's free-tier request/token budget, retries
// transient failures behind a per-(operation, key) circuit breaker, and
// stitches together multi-call transcription responses that exceed a
// single completion's output token cap.
//
// Manager presents three operations mirroring the pipeline's three shapes
// of model call: Chat (free-text completion), ChatJSON (schema-constrained
// completion consumed by internal/speaker and internal/convanalysis), and
// Transcribe (the continuation-stitching protocol used by the external
// transcription collaborator, included here because it shares the same key
// pool and budget accounting).
//
// All operations return one of the sentinel errors in
// github.com/MrWong99/podgraph/internal/pipelineerr
// (QuotaExceeded, CircuitOpen, Transient) wrapped with call-specific
// context, so callers can branch with errors.Is regardless of which key or
// attempt produced the failure.
package quota
