// Package checkpoint implements durable, resumable per-episode pipeline
// state. internal/orchestrator calls Save after every successfully
// completed phase and Load at the start of a run to decide which phases to
// skip.
//
// Checkpointing is an optimization, never a correctness requirement: a
// failed Save is logged and ignored rather than propagated, since the
// pipeline can always redo the work from scratch. Files are written
// atomically (temp file + rename) and optionally gzip-compressed.
package checkpoint
