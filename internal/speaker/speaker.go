package speaker

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

// Config tunes the speaker-identification phase.
type Config struct {
	// MaxWindowSegments bounds how many segments' text is sent as context
	// in a single identification call.
	MaxWindowSegments int

	// MinConfidence filters out individual speaker mappings below this
	// score; the segment keeps its original generic label in that case.
	MinConfidence float64

	// Attempts is the total number of identification attempts (including
	// the first), not additional retries.
	Attempts int

	// RetryGap is the pause between attempts.
	RetryGap time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxWindowSegments <= 0 {
		c.MaxWindowSegments = 50
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = 0.5
	}
	if c.Attempts <= 0 {
		c.Attempts = 2
	}
	if c.RetryGap <= 0 {
		c.RetryGap = 2 * time.Second
	}
	return c
}

// EpisodeMetadata supplies the episode-level context that often contains
// guest names and roles absent from the transcript text itself.
type EpisodeMetadata struct {
	PodcastName string
	Title       string
	Description string
}

// Identifier assigns real speaker names to generically-labeled segments.
type Identifier struct {
	cfg    Config
	client *quota.Manager
	logger *slog.Logger
}

// Option configures an Identifier at construction time.
type Option func(*Identifier)

// WithLogger attaches a structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(i *Identifier) { i.logger = logger }
}

// New creates an Identifier backed by client.
func New(cfg Config, client *quota.Manager, opts ...Option) *Identifier {
	i := &Identifier{cfg: cfg.withDefaults(), client: client, logger: slog.Default()}
	for _, o := range opts {
		o(i)
	}
	return i
}

type speakerMapping struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

var speakerSchema = map[string]any{
	"type": "object",
	"additionalProperties": map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":       map[string]any{"type": "string"},
			"confidence": map[string]any{"type": "number"},
		},
		"required": []string{"name", "confidence"},
	},
}

// Identify rewrites segments' Speaker/Confidence fields in place, returning
// the same slice for chaining. Segments whose generic label has no mapping
// above cfg.MinConfidence retain their original label and confidence.
//
// Fails with *pipelineerr.SpeakerIdentificationError only when every attempt
// produces zero speaker mappings; below-floor mappings are not treated as a
// failure so long as at least one speaker was identified overall.
func (id *Identifier) Identify(ctx context.Context, episodeID string, segments []model.Segment, meta EpisodeMetadata) ([]model.Segment, error) {
	var lastErr error
	var mapping map[string]speakerMapping

	for attempt := 1; attempt <= id.cfg.Attempts; attempt++ {
		resp, err := id.client.ChatJSON(ctx, quota.ChatRequest{
			SystemPrompt: systemPrompt,
			Messages: []llmclient.Message{
				{Role: "user", Content: id.buildPrompt(segments, meta)},
			},
			Temperature: 0.2,
		}, speakerSchema)
		if err != nil {
			lastErr = err
			id.logger.Warn("speaker identification attempt failed", "episode_id", episodeID, "attempt", attempt, "error", err)
		} else {
			var parsed map[string]speakerMapping
			if err := json.Unmarshal(resp, &parsed); err != nil {
				lastErr = fmt.Errorf("speaker: parse response: %w", err)
				id.logger.Warn("speaker identification response unparsable", "episode_id", episodeID, "attempt", attempt, "error", err)
			} else if len(parsed) > 0 {
				mapping = parsed
				break
			} else {
				lastErr = fmt.Errorf("speaker: model returned no speakers")
			}
		}

		if attempt < id.cfg.Attempts {
			select {
			case <-time.After(id.cfg.RetryGap):
			case <-ctx.Done():
				return segments, &pipelineerr.SpeakerIdentificationError{EpisodeID: episodeID, Attempts: attempt, Cause: ctx.Err()}
			}
		}
	}

	if len(mapping) == 0 {
		return segments, &pipelineerr.SpeakerIdentificationError{EpisodeID: episodeID, Attempts: id.cfg.Attempts, Cause: lastErr}
	}

	for i := range segments {
		m, ok := mapping[segments[i].Speaker]
		if !ok || m.Confidence < id.cfg.MinConfidence {
			continue
		}
		segments[i].Speaker = m.Name
		segments[i].Confidence = m.Confidence
	}
	return segments, nil
}

const systemPrompt = `You identify real speaker names and roles in a podcast transcript. ` +
	`Given generic speaker labels and surrounding context, respond with a JSON object ` +
	`mapping each generic label to {"name": "Full Name (role)", "confidence": 0.0-1.0}. ` +
	`Only include labels you have evidence for; omit labels you cannot identify.`

func (id *Identifier) buildPrompt(segments []model.Segment, meta EpisodeMetadata) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Podcast: %s\nEpisode: %s\nDescription: %s\n\nTranscript excerpt:\n", meta.PodcastName, meta.Title, meta.Description)

	window := segments
	if len(window) > id.cfg.MaxWindowSegments {
		window = window[:id.cfg.MaxWindowSegments]
	}
	for _, s := range window {
		fmt.Fprintf(&b, "[%s] %s\n", s.Speaker, s.Text)
	}
	return b.String()
}
