// Package graphstore defines the Writer contract C8 (the transactional
// graph store) satisfies: a two-stage per-episode write with full rollback
// on failure, fronted by an idempotency check against a previously
// processed VTT file.
//
// internal/graphstore/pgstore provides the concrete PostgreSQL/pgvector
// implementation; internal/orchestrator depends only on this package's
// interface so it can be tested against an in-memory fake.
package graphstore
