package graphstore

import (
	"context"

	"github.com/MrWong99/podgraph/pkg/model"
)

// EpisodeSkeleton is Stage A's input: the episode header, its conversation
// themes (persisted as Topic nodes), and the MeaningfulUnits it spans.
type EpisodeSkeleton struct {
	Episode model.Episode
	Themes  []model.Theme
	Units   []model.MeaningfulUnit
}

// KnowledgeBatch is Stage B's input: the resolved entity set and every
// quote/insight/relationship/sentiment extracted for the episode.
// Relationship.Source/Target must already be resolved to canonical entity
// values (or, for entity-less endpoints, to quote text) by internal/resolver
// before being passed here.
type KnowledgeBatch struct {
	Entities      []model.Entity
	Quotes        []model.Quote
	Insights      []model.Insight
	Relationships []model.Relationship
	Sentiments    []model.Sentiment
}

// Writer is the transactional contract C9's orchestrator drives.
type Writer interface {
	// AlreadyProcessed reports whether an episode with this VTT filename has
	// already been written, for the pipeline's idempotency check before
	// Stage A begins.
	AlreadyProcessed(ctx context.Context, vttFilename string) (bool, error)

	// WriteSkeleton performs Stage A: creates/merges the Podcast, Episode,
	// Topic, and MeaningfulUnit nodes in a single transaction. Returns the
	// episode ID that downstream stages and rollback should reference.
	WriteSkeleton(ctx context.Context, skeleton EpisodeSkeleton) (string, error)

	// WriteKnowledge performs Stage B: creates Entity, Quote, Insight,
	// Sentiment nodes and all Relationship edges in a single transaction.
	// Relationships whose endpoints cannot be resolved are dropped with a
	// logged warning rather than failing the write.
	WriteKnowledge(ctx context.Context, episodeID string, batch KnowledgeBatch) error

	// Rollback issues the compensating delete for episodeID: every node
	// reachable from the episode, plus the episode itself, in its own
	// transaction. Returns the number of episode records deleted (0 or 1);
	// dependent rows removed along with the episode are not counted. Rollback is called
	// by the orchestrator on any unrecoverable failure once Stage A has run.
	Rollback(ctx context.Context, episodeID string) (int, error)
}
