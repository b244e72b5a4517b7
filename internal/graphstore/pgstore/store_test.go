package pgstore_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/podgraph/internal/graphstore"
	"github.com/MrWong99/podgraph/internal/graphstore/pgstore"
	"github.com/MrWong99/podgraph/pkg/model"
)

const testEmbeddingDim = 4

// testDSN returns the test database DSN from the environment, or skips the
// test if PODGRAPH_TEST_POSTGRES_DSN is not set. The target database must
// have the pgvector extension available (e.g. the pgvector/pgvector image).
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("PODGRAPH_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PODGRAPH_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [pgstore.Store] with a clean schema. It calls
// t.Cleanup to close the store when the test finishes.
func newTestStore(t *testing.T) *pgstore.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	cleanPool := mustPool(t, ctx, dsn)
	t.Cleanup(cleanPool.Close)
	dropSchema(t, ctx, cleanPool)

	store, err := pgstore.NewStore(ctx, dsn, testEmbeddingDim)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func mustPool(t *testing.T, ctx context.Context, dsn string) *pgxpool.Pool {
	t.Helper()
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_ = pgxvec.RegisterTypes(ctx, conn)
		return nil
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	return pool
}

// dropSchema removes all tables created by Migrate in reverse dependency order.
func dropSchema(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS relationships CASCADE",
		"DROP TABLE IF EXISTS sentiments CASCADE",
		"DROP TABLE IF EXISTS insights CASCADE",
		"DROP TABLE IF EXISTS quotes CASCADE",
		"DROP TABLE IF EXISTS entities CASCADE",
		"DROP TABLE IF EXISTS meaningful_units CASCADE",
		"DROP TABLE IF EXISTS topics CASCADE",
		"DROP TABLE IF EXISTS episodes CASCADE",
		"DROP TABLE IF EXISTS podcasts CASCADE",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("dropSchema %q: %v", stmt, err)
		}
	}
}

func testSkeleton(episodeID string) graphstore.EpisodeSkeleton {
	return graphstore.EpisodeSkeleton{
		Episode: model.Episode{
			ID:          episodeID,
			Title:       "Episode One",
			VTTFilename: episodeID + ".vtt",
			PodcastID:   "pod-1",
		},
		Themes: []model.Theme{
			{Name: "onboarding", Description: "getting started", SegmentRefs: []string{"seg-1"}},
		},
		Units: []model.MeaningfulUnit{
			{
				ID:                  episodeID + "-unit-0",
				Text:                "Alex: welcome to the show.",
				PrimarySpeaker:      "Alex",
				UnitType:            "discussion",
				StartTime:           0,
				EndTime:             12,
				SpeakerDistribution: map[string]float64{"Alex": 1.0},
				Themes:              []string{"onboarding"},
				SegmentRefs:         []string{"seg-1"},
				Embedding:           []float32{1, 0, 0, 0},
			},
		},
	}
}

func TestStore_AlreadyProcessed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	processed, err := store.AlreadyProcessed(ctx, "episode-42.vtt")
	if err != nil {
		t.Fatalf("AlreadyProcessed: %v", err)
	}
	if processed {
		t.Error("AlreadyProcessed: want false before any write")
	}

	if _, err := store.WriteSkeleton(ctx, testSkeleton("episode-42")); err != nil {
		t.Fatalf("WriteSkeleton: %v", err)
	}

	processed, err = store.AlreadyProcessed(ctx, "episode-42.vtt")
	if err != nil {
		t.Fatalf("AlreadyProcessed after write: %v", err)
	}
	if !processed {
		t.Error("AlreadyProcessed: want true after WriteSkeleton")
	}
}

func TestStore_WriteSkeletonAndKnowledge(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	skeleton := testSkeleton("episode-knowledge")
	episodeID, err := store.WriteSkeleton(ctx, skeleton)
	if err != nil {
		t.Fatalf("WriteSkeleton: %v", err)
	}
	if episodeID != "episode-knowledge" {
		t.Errorf("WriteSkeleton: want episode id %q, got %q", "episode-knowledge", episodeID)
	}

	batch := graphstore.KnowledgeBatch{
		Entities: []model.Entity{
			{Value: "Kubernetes", Type: "technology", Confidence: 0.9},
		},
		Quotes: []model.Quote{
			{Text: "welcome to the show.", Speaker: "Alex", QuoteType: "memorable", Confidence: 0.8, MeaningfulUnitID: skeleton.Units[0].ID},
		},
		Insights: []model.Insight{
			{Content: "the show opens with a greeting.", Type: "observation", Confidence: 0.7, MeaningfulUnitID: skeleton.Units[0].ID, SupportingEntities: []string{"Kubernetes"}},
		},
		Sentiments: []model.Sentiment{
			{UnitID: skeleton.Units[0].ID, OverallPolarity: "positive", OverallScore: 0.5, InteractionHarmony: 0.8},
		},
		Relationships: []model.Relationship{
			{Source: "Kubernetes", Target: "welcome to the show.", Type: "mentioned_in", Confidence: 0.6},
			{Source: "Kubernetes", Target: "does-not-exist", Type: "mentioned_in", Confidence: 0.6},
		},
	}

	if err := store.WriteKnowledge(ctx, episodeID, batch); err != nil {
		t.Fatalf("WriteKnowledge: %v", err)
	}

	pool := mustPool(t, ctx, testDSN(t))
	defer pool.Close()

	var entityCount, relCount int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM entities WHERE episode_id = $1`, episodeID).Scan(&entityCount); err != nil {
		t.Fatalf("count entities: %v", err)
	}
	if entityCount != 1 {
		t.Errorf("entities: want 1, got %d", entityCount)
	}
	// Only the resolvable relationship should have been written; the one
	// with a nonexistent target is dropped rather than failing the write.
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM relationships WHERE episode_id = $1`, episodeID).Scan(&relCount); err != nil {
		t.Fatalf("count relationships: %v", err)
	}
	if relCount != 1 {
		t.Errorf("relationships: want 1 resolvable edge written, got %d", relCount)
	}
}

func TestStore_Rollback(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	episodeID, err := store.WriteSkeleton(ctx, testSkeleton("episode-rollback"))
	if err != nil {
		t.Fatalf("WriteSkeleton: %v", err)
	}

	deleted, err := store.Rollback(ctx, episodeID)
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Rollback: want 1 episode row deleted, got %d", deleted)
	}

	processed, err := store.AlreadyProcessed(ctx, episodeID+".vtt")
	if err != nil {
		t.Fatalf("AlreadyProcessed after rollback: %v", err)
	}
	if processed {
		t.Error("AlreadyProcessed: want false after rollback")
	}

	// Rollback of an episode that was never written deletes nothing and is
	// not an error.
	deleted, err = store.Rollback(ctx, "never-existed")
	if err != nil {
		t.Fatalf("Rollback nonexistent: %v", err)
	}
	if deleted != 0 {
		t.Errorf("Rollback nonexistent: want 0, got %d", deleted)
	}
}

func TestStore_WriteSkeletonUpsertsOnRerun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	skeleton := testSkeleton("episode-rerun")
	if _, err := store.WriteSkeleton(ctx, skeleton); err != nil {
		t.Fatalf("WriteSkeleton first run: %v", err)
	}

	skeleton.Episode.Title = "Episode One, Revised"
	if _, err := store.WriteSkeleton(ctx, skeleton); err != nil {
		t.Fatalf("WriteSkeleton second run: %v", err)
	}

	pool := mustPool(t, ctx, testDSN(t))
	defer pool.Close()
	var title string
	if err := pool.QueryRow(ctx, `SELECT title FROM episodes WHERE id = $1`, skeleton.Episode.ID).Scan(&title); err != nil {
		t.Fatalf("select title: %v", err)
	}
	if title != "Episode One, Revised" {
		t.Errorf("title: want revised title after rerun, got %q", title)
	}
}
