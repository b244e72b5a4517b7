// Package pgstore implements internal/graphstore.Writer against PostgreSQL
// with the pgvector extension, grounded on the teacher's three-layer
// memory store: one pgxpool.Pool, idempotent CREATE TABLE/INDEX IF NOT
// EXISTS DDL run on startup, and jsonb columns for every open-vocabulary
// field.
package pgstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlCore = `
CREATE TABLE IF NOT EXISTS podcasts (
    id   TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS episodes (
    id             TEXT        PRIMARY KEY,
    podcast_id     TEXT        REFERENCES podcasts (id) ON DELETE SET NULL,
    title          TEXT        NOT NULL DEFAULT '',
    published_date TEXT        NOT NULL DEFAULT '',
    youtube_url    TEXT        NOT NULL DEFAULT '',
    description    TEXT        NOT NULL DEFAULT '',
    vtt_filename   TEXT        NOT NULL DEFAULT '',
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_episodes_vtt_filename
    ON episodes (vtt_filename) WHERE vtt_filename <> '';

CREATE TABLE IF NOT EXISTS topics (
    id          BIGSERIAL   PRIMARY KEY,
    episode_id  TEXT        NOT NULL REFERENCES episodes (id) ON DELETE CASCADE,
    name        TEXT        NOT NULL,
    description TEXT        NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_topics_episode_id ON topics (episode_id);

CREATE TABLE IF NOT EXISTS entities (
    id          TEXT        PRIMARY KEY,
    episode_id  TEXT        NOT NULL REFERENCES episodes (id) ON DELETE CASCADE,
    value       TEXT        NOT NULL,
    type        TEXT        NOT NULL,
    confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
    properties  JSONB       NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_entities_episode_id ON entities (episode_id);
CREATE INDEX IF NOT EXISTS idx_entities_type ON entities (type);

CREATE TABLE IF NOT EXISTS quotes (
    id                 BIGSERIAL PRIMARY KEY,
    episode_id         TEXT      NOT NULL REFERENCES episodes (id) ON DELETE CASCADE,
    meaningful_unit_id TEXT      NOT NULL,
    text               TEXT      NOT NULL,
    speaker            TEXT      NOT NULL DEFAULT '',
    quote_type         TEXT      NOT NULL DEFAULT '',
    confidence         DOUBLE PRECISION NOT NULL DEFAULT 0,
    importance_score   DOUBLE PRECISION NOT NULL DEFAULT 0,
    properties         JSONB     NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_quotes_episode_id ON quotes (episode_id);
CREATE INDEX IF NOT EXISTS idx_quotes_unit_id ON quotes (meaningful_unit_id);

CREATE TABLE IF NOT EXISTS insights (
    id                 BIGSERIAL PRIMARY KEY,
    episode_id         TEXT      NOT NULL REFERENCES episodes (id) ON DELETE CASCADE,
    meaningful_unit_id TEXT      NOT NULL,
    content            TEXT      NOT NULL,
    type               TEXT      NOT NULL DEFAULT '',
    confidence         DOUBLE PRECISION NOT NULL DEFAULT 0,
    complexity         DOUBLE PRECISION NOT NULL DEFAULT 0,
    supporting_entities JSONB    NOT NULL DEFAULT '[]',
    properties         JSONB     NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_insights_episode_id ON insights (episode_id);
CREATE INDEX IF NOT EXISTS idx_insights_unit_id ON insights (meaningful_unit_id);

CREATE TABLE IF NOT EXISTS sentiments (
    unit_id             TEXT    PRIMARY KEY,
    episode_id          TEXT    NOT NULL REFERENCES episodes (id) ON DELETE CASCADE,
    overall_polarity     TEXT    NOT NULL DEFAULT '',
    overall_score        DOUBLE PRECISION NOT NULL DEFAULT 0,
    per_speaker          JSONB   NOT NULL DEFAULT '{}',
    emotional_moments     JSONB   NOT NULL DEFAULT '[]',
    trajectory           JSONB   NOT NULL DEFAULT '[]',
    interaction_harmony   DOUBLE PRECISION NOT NULL DEFAULT 0,
    discovered_tags       JSONB   NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_sentiments_episode_id ON sentiments (episode_id);

CREATE TABLE IF NOT EXISTS relationships (
    id          BIGSERIAL PRIMARY KEY,
    episode_id  TEXT      NOT NULL REFERENCES episodes (id) ON DELETE CASCADE,
    source_id   TEXT      NOT NULL,
    target_id   TEXT      NOT NULL,
    rel_type    TEXT      NOT NULL,
    confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
    properties  JSONB     NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_relationships_episode_id ON relationships (episode_id);
CREATE INDEX IF NOT EXISTS idx_relationships_source ON relationships (source_id);
CREATE INDEX IF NOT EXISTS idx_relationships_target ON relationships (target_id);
`

// ddlVector returns the meaningful_units DDL with the embedding column's
// vector width baked in, matching the teacher's pattern of substituting the
// embedding dimension into the CREATE TABLE statement at migration time.
func ddlVector(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS meaningful_units (
    id                   TEXT        PRIMARY KEY,
    episode_id           TEXT        NOT NULL REFERENCES episodes (id) ON DELETE CASCADE,
    text                 TEXT        NOT NULL,
    primary_speaker      TEXT        NOT NULL DEFAULT '',
    unit_type            TEXT        NOT NULL DEFAULT '',
    start_time           DOUBLE PRECISION NOT NULL DEFAULT 0,
    end_time             DOUBLE PRECISION NOT NULL DEFAULT 0,
    speaker_distribution JSONB       NOT NULL DEFAULT '{}',
    themes               JSONB       NOT NULL DEFAULT '[]',
    segment_refs         JSONB       NOT NULL DEFAULT '[]',
    embedding            vector(%d),
    sequence_index       INT         NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_meaningful_units_episode_id ON meaningful_units (episode_id);
CREATE INDEX IF NOT EXISTS idx_meaningful_units_embedding
    ON meaningful_units USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures all required tables, indexes, and extensions
// exist. Idempotent; safe to call on every process start.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{ddlCore, ddlVector(embeddingDimensions)}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("pgstore: migrate: %w", err)
		}
	}
	return nil
}
