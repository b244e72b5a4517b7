package unitbuilder

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/podgraph/pkg/embedclient"
	"github.com/MrWong99/podgraph/pkg/model"
)

// embeddingFailure records one unit whose embedding call failed, kept for
// later offline recovery.
type embeddingFailure struct {
	UnitID    string    `json:"unit_id"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Builder turns ConversationStructure units into persisted MeaningfulUnits.
type Builder struct {
	embed embedclient.Provider

	mu       sync.Mutex
	failures []embeddingFailure

	logger *slog.Logger
}

// Option configures a Builder at construction time.
type Option func(*Builder)

// WithLogger attaches a structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) { b.logger = logger }
}

// New creates a Builder backed by embed.
func New(embed embedclient.Provider, opts ...Option) *Builder {
	b := &Builder{embed: embed, logger: slog.Default()}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Build produces one MeaningfulUnit per structure.Units entry, in order.
// Embedding failures are recorded internally (see FlushFailures) and leave
// that unit's Embedding nil rather than aborting the batch.
func (b *Builder) Build(ctx context.Context, episodeID string, segments []model.Segment, structure *model.ConversationStructure) ([]model.MeaningfulUnit, error) {
	units := make([]model.MeaningfulUnit, 0, len(structure.Units))

	for idx, u := range structure.Units {
		start, end := clampRange(u.StartIndex, u.EndIndex, len(segments))
		if start > end {
			continue
		}
		member := segments[start : end+1]

		unit := model.MeaningfulUnit{
			ID:                  deterministicID(episodeID, idx),
			Text:                concatText(member),
			UnitType:            u.UnitType,
			StartTime:           startTimeWithLeadIn(member[0].StartTime),
			EndTime:             member[len(member)-1].EndTime,
			SegmentRefs:         segmentRefs(member),
			Themes:              matchingThemes(structure.Themes, segmentRefs(member)),
			SpeakerDistribution: speakerDistribution(member),
		}
		unit.PrimarySpeaker = primarySpeaker(member, unit.SpeakerDistribution)

		if vec, err := b.embed.Embed(ctx, unit.Text); err != nil {
			b.recordFailure(unit.ID, err)
			b.logger.Warn("unit embedding failed", "episode_id", episodeID, "unit_id", unit.ID, "error", err)
		} else {
			unit.Embedding = vec
		}

		units = append(units, unit)
	}

	return units, nil
}

func clampRange(start, end, n int) (int, int) {
	if start < 0 {
		start = 0
	}
	if end >= n {
		end = n - 1
	}
	return start, end
}

func concatText(segments []model.Segment) string {
	parts := make([]string, len(segments))
	for i, s := range segments {
		parts[i] = fmt.Sprintf("%s: %s", s.Speaker, s.Text)
	}
	return strings.Join(parts, " ")
}

func segmentRefs(segments []model.Segment) []string {
	refs := make([]string, len(segments))
	for i, s := range segments {
		refs[i] = s.ID
	}
	return refs
}

// startTimeWithLeadIn shifts a unit's start two seconds earlier, floored at
// zero, so citation links land slightly before the first word.
func startTimeWithLeadIn(segmentStart float64) float64 {
	t := segmentStart - 2.0
	if t < 0 {
		return 0
	}
	return t
}

func speakerDistribution(segments []model.Segment) map[string]float64 {
	durations := map[string]float64{}
	total := 0.0
	for _, s := range segments {
		d := s.Duration()
		durations[s.Speaker] += d
		total += d
	}
	if total == 0 {
		return map[string]float64{}
	}
	dist := make(map[string]float64, len(durations))
	for speaker, d := range durations {
		dist[speaker] = d / total
	}
	return dist
}

// primarySpeaker picks the speaker with the most cumulative duration,
// breaking ties by first occurrence in segments.
func primarySpeaker(segments []model.Segment, distribution map[string]float64) string {
	if len(segments) == 0 {
		return "Unknown"
	}

	order := make([]string, 0, len(distribution))
	seen := map[string]bool{}
	for _, s := range segments {
		if !seen[s.Speaker] {
			seen[s.Speaker] = true
			order = append(order, s.Speaker)
		}
	}

	best := ""
	bestFraction := -1.0
	for _, speaker := range order {
		if f := distribution[speaker]; f > bestFraction {
			bestFraction = f
			best = speaker
		}
	}
	if best == "" {
		return "Unknown"
	}
	return best
}

func matchingThemes(themes []model.Theme, refs []string) []string {
	if len(themes) == 0 {
		return nil
	}
	refSet := make(map[string]bool, len(refs))
	for _, r := range refs {
		refSet[r] = true
	}

	var matched []string
	for _, theme := range themes {
		for _, r := range theme.SegmentRefs {
			if refSet[r] {
				matched = append(matched, theme.Name)
				break
			}
		}
	}
	return matched
}

// deterministicID hashes episodeID and index with FNV-1a so re-running the
// pipeline on the same episode reproduces identical unit IDs.
func deterministicID(episodeID string, index int) string {
	h := fnv.New64a()
	h.Write([]byte(episodeID))
	h.Write([]byte{0})
	fmt.Fprintf(h, "%d", index)
	return fmt.Sprintf("unit-%016x", h.Sum64())
}

func (b *Builder) recordFailure(unitID string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = append(b.failures, embeddingFailure{
		UnitID:    unitID,
		Error:     err.Error(),
		Timestamp: time.Now().UTC(),
	})
}

// HasFailures reports whether any embedding call has failed so far.
func (b *Builder) HasFailures() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.failures) > 0
}

// FlushFailures writes any recorded embedding failures for episodeID to
// embedding_failures/failures_<timestamp>_<episodeID>.json under dir,
// for later offline recovery. No-op if there are no recorded failures.
func (b *Builder) FlushFailures(dir, episodeID string, now time.Time) error {
	b.mu.Lock()
	failures := b.failures
	b.mu.Unlock()

	if len(failures) == 0 {
		return nil
	}

	outDir := filepath.Join(dir, "embedding_failures")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("unitbuilder: create failure log dir: %w", err)
	}

	name := fmt.Sprintf("failures_%s_%s.json", now.UTC().Format("20060102T150405Z"), episodeID)
	data, err := json.MarshalIndent(failures, "", "  ")
	if err != nil {
		return fmt.Errorf("unitbuilder: marshal failures: %w", err)
	}
	if err := os.WriteFile(filepath.Join(outDir, name), data, 0o644); err != nil {
		return fmt.Errorf("unitbuilder: write failure log: %w", err)
	}
	return nil
}
