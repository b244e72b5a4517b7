package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/MrWong99/podgraph/internal/graphstore"
	"github.com/MrWong99/podgraph/pkg/model"
)

// batchSize bounds how many rows one INSERT statement covers, mirroring the
// teacher's bulk-write batching.
const batchSize = 1000

// AlreadyProcessed implements graphstore.Writer.
func (s *Store) AlreadyProcessed(ctx context.Context, vttFilename string) (bool, error) {
	if vttFilename == "" {
		return false, nil
	}
	const q = `SELECT 1 FROM episodes WHERE vtt_filename = $1 LIMIT 1`
	var found int
	err := s.pool.QueryRow(ctx, q, vttFilename).Scan(&found)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("pgstore: already processed check: %w", err)
	}
	return true, nil
}

// WriteSkeleton implements graphstore.Writer's Stage A: Podcast, Episode,
// Topic, and MeaningfulUnit nodes in a single transaction.
func (s *Store) WriteSkeleton(ctx context.Context, skeleton graphstore.EpisodeSkeleton) (string, error) {
	episodeID := skeleton.Episode.ID
	err := withRetry(ctx, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("pgstore: begin skeleton tx: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if err := writePodcast(ctx, tx, skeleton.Episode.PodcastID); err != nil {
			return err
		}
		if err := writeEpisode(ctx, tx, skeleton.Episode); err != nil {
			return err
		}
		if err := writeTopics(ctx, tx, episodeID, skeleton.Themes); err != nil {
			return err
		}
		if err := writeMeaningfulUnits(ctx, tx, episodeID, skeleton.Units); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("pgstore: commit skeleton tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return episodeID, nil
}

func writePodcast(ctx context.Context, tx pgx.Tx, podcastID string) error {
	if podcastID == "" {
		return nil
	}
	const q = `INSERT INTO podcasts (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`
	if _, err := tx.Exec(ctx, q, podcastID); err != nil {
		return fmt.Errorf("pgstore: write podcast: %w", err)
	}
	return nil
}

func writeEpisode(ctx context.Context, tx pgx.Tx, ep model.Episode) error {
	const q = `
		INSERT INTO episodes (id, podcast_id, title, published_date, youtube_url, description, vtt_filename)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
		    podcast_id     = EXCLUDED.podcast_id,
		    title          = EXCLUDED.title,
		    published_date = EXCLUDED.published_date,
		    youtube_url    = EXCLUDED.youtube_url,
		    description    = EXCLUDED.description,
		    vtt_filename   = EXCLUDED.vtt_filename`
	_, err := tx.Exec(ctx, q, ep.ID, ep.PodcastID, ep.Title, ep.PublishedDate, ep.YoutubeURL, ep.Description, ep.VTTFilename)
	if err != nil {
		return fmt.Errorf("pgstore: write episode: %w", err)
	}
	return nil
}

func writeTopics(ctx context.Context, tx pgx.Tx, episodeID string, themes []model.Theme) error {
	for _, chunk := range chunkThemes(themes, batchSize) {
		batch := &pgx.Batch{}
		for _, th := range chunk {
			batch.Queue(`INSERT INTO topics (episode_id, name, description) VALUES ($1, $2, $3)`,
				episodeID, th.Name, th.Description)
		}
		if err := sendBatch(ctx, tx, batch, len(chunk)); err != nil {
			return fmt.Errorf("pgstore: write topics: %w", err)
		}
	}
	return nil
}

func writeMeaningfulUnits(ctx context.Context, tx pgx.Tx, episodeID string, units []model.MeaningfulUnit) error {
	for _, chunk := range chunkUnits(units, batchSize) {
		batch := &pgx.Batch{}
		for i, u := range chunk {
			themesJSON, _ := json.Marshal(u.Themes)
			refsJSON, _ := json.Marshal(u.SegmentRefs)
			distJSON, _ := json.Marshal(u.SpeakerDistribution)

			var embedding any
			if u.Embedding != nil {
				embedding = pgvector.NewVector(u.Embedding)
			}

			batch.Queue(`
				INSERT INTO meaningful_units
				    (id, episode_id, text, primary_speaker, unit_type, start_time, end_time,
				     speaker_distribution, themes, segment_refs, embedding, sequence_index)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
				ON CONFLICT (id) DO UPDATE SET
				    text                 = EXCLUDED.text,
				    primary_speaker      = EXCLUDED.primary_speaker,
				    unit_type            = EXCLUDED.unit_type,
				    start_time           = EXCLUDED.start_time,
				    end_time             = EXCLUDED.end_time,
				    speaker_distribution = EXCLUDED.speaker_distribution,
				    themes               = EXCLUDED.themes,
				    segment_refs         = EXCLUDED.segment_refs,
				    embedding            = EXCLUDED.embedding,
				    sequence_index       = EXCLUDED.sequence_index`,
				u.ID, episodeID, u.Text, u.PrimarySpeaker, u.UnitType, u.StartTime, u.EndTime,
				distJSON, themesJSON, refsJSON, embedding, i)
		}
		if err := sendBatch(ctx, tx, batch, len(chunk)); err != nil {
			return fmt.Errorf("pgstore: write meaningful units: %w", err)
		}
	}
	return nil
}

// WriteKnowledge implements graphstore.Writer's Stage B: Entity, Quote,
// Insight, Sentiment nodes and Relationship edges, in a single transaction.
// Relationships whose endpoints cannot be resolved are dropped with a
// logged warning rather than failing the write.
func (s *Store) WriteKnowledge(ctx context.Context, episodeID string, batch graphstore.KnowledgeBatch) error {
	return withRetry(ctx, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("pgstore: begin knowledge tx: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		entityIDs, err := writeEntities(ctx, tx, episodeID, batch.Entities)
		if err != nil {
			return err
		}
		quoteIDs, err := writeQuotes(ctx, tx, episodeID, batch.Quotes)
		if err != nil {
			return err
		}
		if err := writeInsights(ctx, tx, episodeID, batch.Insights); err != nil {
			return err
		}
		if err := writeSentiments(ctx, tx, episodeID, batch.Sentiments); err != nil {
			return err
		}
		if err := s.writeRelationships(ctx, tx, episodeID, batch.Relationships, entityIDs, quoteIDs); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("pgstore: commit knowledge tx: %w", err)
		}
		return nil
	})
}

// writeEntities persists entities (already deduplicated by
// internal/resolver) and returns a map from Entity.Value to its row id, for
// relationship endpoint resolution.
func writeEntities(ctx context.Context, tx pgx.Tx, episodeID string, entities []model.Entity) (map[string]string, error) {
	ids := make(map[string]string, len(entities))
	for _, chunks := range chunkEntities(entities, batchSize) {
		b := &pgx.Batch{}
		for _, e := range chunks {
			id := entityRowID(episodeID, e.Type, e.Value)
			ids[e.Value] = id
			propsJSON, _ := json.Marshal(e.Properties)
			b.Queue(`
				INSERT INTO entities (id, episode_id, value, type, confidence, properties)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (id) DO UPDATE SET
				    value      = EXCLUDED.value,
				    type       = EXCLUDED.type,
				    confidence = EXCLUDED.confidence,
				    properties = EXCLUDED.properties`,
				id, episodeID, e.Value, e.Type, e.Confidence, propsJSON)
		}
		if err := sendBatch(ctx, tx, b, len(chunks)); err != nil {
			return nil, fmt.Errorf("pgstore: write entities: %w", err)
		}
	}
	return ids, nil
}

func entityRowID(episodeID, entityType, value string) string {
	return episodeID + ":" + strings.ToLower(strings.TrimSpace(entityType)) + ":" + strings.ToLower(strings.TrimSpace(value))
}

// writeQuotes persists quotes and returns a map from quote text to a
// synthetic id, for relationship endpoint resolution against quotes.
func writeQuotes(ctx context.Context, tx pgx.Tx, episodeID string, quotes []model.Quote) (map[string]string, error) {
	ids := make(map[string]string, len(quotes))
	for _, chunk := range chunkQuotes(quotes, batchSize) {
		b := &pgx.Batch{}
		for _, q := range chunk {
			propsJSON, _ := json.Marshal(q.Properties)
			b.Queue(`
				INSERT INTO quotes
				    (episode_id, meaningful_unit_id, text, speaker, quote_type, confidence, importance_score, properties)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				episodeID, q.MeaningfulUnitID, q.Text, q.Speaker, q.QuoteType, q.Confidence, q.ImportanceScore, propsJSON)
			ids[q.Text] = "quote:" + episodeID + ":" + q.Text
		}
		if err := sendBatch(ctx, tx, b, len(chunk)); err != nil {
			return nil, fmt.Errorf("pgstore: write quotes: %w", err)
		}
	}
	return ids, nil
}

func writeInsights(ctx context.Context, tx pgx.Tx, episodeID string, insights []model.Insight) error {
	for _, chunk := range chunkInsights(insights, batchSize) {
		b := &pgx.Batch{}
		for _, ins := range chunk {
			supportingJSON, _ := json.Marshal(ins.SupportingEntities)
			propsJSON, _ := json.Marshal(ins.Properties)
			b.Queue(`
				INSERT INTO insights
				    (episode_id, meaningful_unit_id, content, type, confidence, complexity, supporting_entities, properties)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				episodeID, ins.MeaningfulUnitID, ins.Content, ins.Type, ins.Confidence, ins.Complexity, supportingJSON, propsJSON)
		}
		if err := sendBatch(ctx, tx, b, len(chunk)); err != nil {
			return fmt.Errorf("pgstore: write insights: %w", err)
		}
	}
	return nil
}

func writeSentiments(ctx context.Context, tx pgx.Tx, episodeID string, sentiments []model.Sentiment) error {
	for _, chunk := range chunkSentiments(sentiments, batchSize) {
		b := &pgx.Batch{}
		for _, sn := range chunk {
			perSpeakerJSON, _ := json.Marshal(sn.PerSpeaker)
			momentsJSON, _ := json.Marshal(sn.EmotionalMoments)
			trajectoryJSON, _ := json.Marshal(sn.Trajectory)
			tagsJSON, _ := json.Marshal(sn.DiscoveredTags)
			b.Queue(`
				INSERT INTO sentiments
				    (unit_id, episode_id, overall_polarity, overall_score, per_speaker,
				     emotional_moments, trajectory, interaction_harmony, discovered_tags)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				ON CONFLICT (unit_id) DO UPDATE SET
				    overall_polarity    = EXCLUDED.overall_polarity,
				    overall_score       = EXCLUDED.overall_score,
				    per_speaker         = EXCLUDED.per_speaker,
				    emotional_moments   = EXCLUDED.emotional_moments,
				    trajectory          = EXCLUDED.trajectory,
				    interaction_harmony = EXCLUDED.interaction_harmony,
				    discovered_tags     = EXCLUDED.discovered_tags`,
				sn.UnitID, episodeID, sn.OverallPolarity, sn.OverallScore, perSpeakerJSON,
				momentsJSON, trajectoryJSON, sn.InteractionHarmony, tagsJSON)
		}
		if err := sendBatch(ctx, tx, b, len(chunk)); err != nil {
			return fmt.Errorf("pgstore: write sentiments: %w", err)
		}
	}
	return nil
}

// writeRelationships resolves each relationship's endpoints via the
// resolved-entity id map, then the quote-text id map; relationships whose
// endpoints resolve to neither are dropped with a logged warning rather
// than failing the write.
func (s *Store) writeRelationships(ctx context.Context, tx pgx.Tx, episodeID string, relationships []model.Relationship, entityIDs, quoteIDs map[string]string) error {
	resolve := func(endpoint string) (string, bool) {
		if id, ok := entityIDs[endpoint]; ok {
			return id, true
		}
		if id, ok := quoteIDs[endpoint]; ok {
			return id, true
		}
		return "", false
	}

	var resolved []model.Relationship
	var resolvedIDs [][2]string
	for _, r := range relationships {
		sourceID, sOK := resolve(r.Source)
		targetID, tOK := resolve(r.Target)
		if !sOK || !tOK {
			s.logger.Warn("dropping relationship with unresolved endpoint", "episode_id", episodeID, "source", r.Source, "target", r.Target, "type", r.Type)
			continue
		}
		resolved = append(resolved, r)
		resolvedIDs = append(resolvedIDs, [2]string{sourceID, targetID})
	}

	for start := 0; start < len(resolved); start += batchSize {
		end := start + batchSize
		if end > len(resolved) {
			end = len(resolved)
		}
		b := &pgx.Batch{}
		for i := start; i < end; i++ {
			r := resolved[i]
			ids := resolvedIDs[i]
			propsJSON, _ := json.Marshal(r.Properties)
			b.Queue(`
				INSERT INTO relationships (episode_id, source_id, target_id, rel_type, confidence, properties)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				episodeID, ids[0], ids[1], r.Type, r.Confidence, propsJSON)
		}
		if err := sendBatch(ctx, tx, b, end-start); err != nil {
			return fmt.Errorf("pgstore: write relationships: %w", err)
		}
	}
	return nil
}

// Rollback implements graphstore.Writer: deletes every row referencing
// episodeID across all tables (relying on ON DELETE CASCADE from episodes),
// in its own transaction, and reports how many episode rows were removed.
func (s *Store) Rollback(ctx context.Context, episodeID string) (int, error) {
	var deleted int
	err := withRetry(ctx, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("pgstore: begin rollback tx: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		tag, err := tx.Exec(ctx, `DELETE FROM episodes WHERE id = $1`, episodeID)
		if err != nil {
			return fmt.Errorf("pgstore: rollback delete: %w", err)
		}
		deleted = int(tag.RowsAffected())

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("pgstore: commit rollback tx: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("CRITICAL: manual cleanup required, rollback failed", "episode_id", episodeID, "error", err)
		return 0, err
	}
	s.logger.Info("episode rolled back", "episode_id", episodeID, "deleted", deleted)
	return deleted, nil
}

func sendBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch, n int) error {
	if n == 0 {
		return nil
	}
	br := tx.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return br.Close()
}

func chunkThemes(v []model.Theme, size int) [][]model.Theme {
	var out [][]model.Theme
	for i := 0; i < len(v); i += size {
		end := i + size
		if end > len(v) {
			end = len(v)
		}
		out = append(out, v[i:end])
	}
	return out
}

func chunkUnits(v []model.MeaningfulUnit, size int) [][]model.MeaningfulUnit {
	var out [][]model.MeaningfulUnit
	for i := 0; i < len(v); i += size {
		end := i + size
		if end > len(v) {
			end = len(v)
		}
		out = append(out, v[i:end])
	}
	return out
}

func chunkEntities(v []model.Entity, size int) [][]model.Entity {
	var out [][]model.Entity
	for i := 0; i < len(v); i += size {
		end := i + size
		if end > len(v) {
			end = len(v)
		}
		out = append(out, v[i:end])
	}
	return out
}

func chunkQuotes(v []model.Quote, size int) [][]model.Quote {
	var out [][]model.Quote
	for i := 0; i < len(v); i += size {
		end := i + size
		if end > len(v) {
			end = len(v)
		}
		out = append(out, v[i:end])
	}
	return out
}

func chunkInsights(v []model.Insight, size int) [][]model.Insight {
	var out [][]model.Insight
	for i := 0; i < len(v); i += size {
		end := i + size
		if end > len(v) {
			end = len(v)
		}
		out = append(out, v[i:end])
	}
	return out
}

func chunkSentiments(v []model.Sentiment, size int) [][]model.Sentiment {
	var out [][]model.Sentiment
	for i := 0; i < len(v); i += size {
		end := i + size
		if end > len(v) {
			end = len(v)
		}
		out = append(out, v[i:end])
	}
	return out
}
