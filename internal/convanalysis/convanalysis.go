package convanalysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/podgraph/internal/pipelineerr"
	"github.com/MrWong99/podgraph/internal/quota"
	"github.com/MrWong99/podgraph/pkg/llmclient"
	"github.com/MrWong99/podgraph/pkg/model"
)

// MinCoverageRatio is the fraction of segments that must fall inside some
// unit for a ConversationStructure to be accepted.
const MinCoverageRatio = 0.9

// Config tunes the conversation-analysis phase.
type Config struct {
	// Attempts is the total number of analysis attempts, including the first.
	Attempts int

	// RetryGap is the pause between attempts.
	RetryGap time.Duration
}

func (c Config) withDefaults() Config {
	if c.Attempts <= 0 {
		c.Attempts = 2
	}
	if c.RetryGap <= 0 {
		c.RetryGap = 3 * time.Second
	}
	return c
}

// Analyzer groups segments into a model.ConversationStructure.
type Analyzer struct {
	cfg    Config
	client *quota.Manager
	logger *slog.Logger
}

// Option configures an Analyzer at construction time.
type Option func(*Analyzer)

// WithLogger attaches a structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(a *Analyzer) { a.logger = logger }
}

// New creates an Analyzer backed by client.
func New(cfg Config, client *quota.Manager, opts ...Option) *Analyzer {
	a := &Analyzer{cfg: cfg.withDefaults(), client: client, logger: slog.Default()}
	for _, o := range opts {
		o(a)
	}
	return a
}

var structureSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"units": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"start_index": map[string]any{"type": "integer"},
					"end_index":   map[string]any{"type": "integer"},
					"unit_type":   map[string]any{"type": "string"},
				},
				"required": []string{"start_index", "end_index"},
			},
		},
		"themes": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":         map[string]any{"type": "string"},
					"description":  map[string]any{"type": "string"},
					"segment_refs": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
			},
		},
		"boundaries": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"segment_index": map[string]any{"type": "integer"},
					"reason":        map[string]any{"type": "string"},
				},
			},
		},
	},
	"required": []string{"units"},
}

// Analyze groups segments into a model.ConversationStructure, retrying up
// to cfg.Attempts times when the model's output is malformed or fails the
// coverage post-condition. Fails with
// *pipelineerr.ConversationAnalysisError after the final failed attempt.
func (a *Analyzer) Analyze(ctx context.Context, episodeID string, segments []model.Segment) (*model.ConversationStructure, error) {
	var lastErr error

	for attempt := 1; attempt <= a.cfg.Attempts; attempt++ {
		structure, err := a.attempt(ctx, segments)
		if err == nil {
			if verr := validateCoverage(structure, len(segments)); verr != nil {
				lastErr = verr
				a.logger.Warn("conversation analysis failed coverage check", "episode_id", episodeID, "attempt", attempt, "error", verr)
			} else {
				return structure, nil
			}
		} else {
			lastErr = err
			a.logger.Warn("conversation analysis attempt failed", "episode_id", episodeID, "attempt", attempt, "error", err)
		}

		if attempt < a.cfg.Attempts {
			select {
			case <-time.After(a.cfg.RetryGap):
			case <-ctx.Done():
				return nil, &pipelineerr.ConversationAnalysisError{EpisodeID: episodeID, Attempts: attempt, Cause: ctx.Err()}
			}
		}
	}

	return nil, &pipelineerr.ConversationAnalysisError{EpisodeID: episodeID, Attempts: a.cfg.Attempts, Cause: lastErr}
}

func (a *Analyzer) attempt(ctx context.Context, segments []model.Segment) (*model.ConversationStructure, error) {
	resp, err := a.client.ChatJSON(ctx, quota.ChatRequest{
		SystemPrompt: systemPrompt,
		Messages: []llmclient.Message{
			{Role: "user", Content: buildPrompt(segments)},
		},
		Temperature: 0.2,
	}, structureSchema)
	if err != nil {
		return nil, err
	}

	var structure model.ConversationStructure
	if err := json.Unmarshal(resp, &structure); err != nil {
		return nil, fmt.Errorf("convanalysis: parse response: %w", err)
	}
	return &structure, nil
}

func validateCoverage(structure *model.ConversationStructure, segmentCount int) error {
	if len(structure.Units) == 0 {
		return fmt.Errorf("convanalysis: model produced no units")
	}
	if segmentCount == 0 {
		return nil
	}

	covered := make([]bool, segmentCount)
	for _, u := range structure.Units {
		start, end := u.StartIndex, u.EndIndex
		if start < 0 {
			start = 0
		}
		if end >= segmentCount {
			end = segmentCount - 1
		}
		for i := start; i <= end && i < segmentCount; i++ {
			if i >= 0 {
				covered[i] = true
			}
		}
	}

	coveredCount := 0
	for _, c := range covered {
		if c {
			coveredCount++
		}
	}
	ratio := float64(coveredCount) / float64(segmentCount)
	if ratio < MinCoverageRatio {
		return fmt.Errorf("convanalysis: segment coverage %.2f below required %.2f", ratio, MinCoverageRatio)
	}
	return nil
}

const systemPrompt = `You analyze a podcast transcript's segment list and group it into conversational ` +
	`units. Respond with JSON: "units" (each with start_index, end_index, unit_type), "themes" ` +
	`(recurring topics with name/description/segment_refs), and "boundaries" (segment_index where ` +
	`the topic shifts, with a reason). Units must collectively cover nearly all segments.`

func buildPrompt(segments []model.Segment) string {
	var b strings.Builder
	b.WriteString("Segments (index: speaker: text):\n")
	for i, s := range segments {
		fmt.Fprintf(&b, "%d: %s: %s\n", i, s.Speaker, s.Text)
	}
	return b.String()
}
