package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/podgraph/internal/pipelineerr"
	"github.com/MrWong99/podgraph/internal/quota"
	"github.com/MrWong99/podgraph/pkg/llmclient"
	"github.com/MrWong99/podgraph/pkg/model"
)

// Config tunes the extraction worker pool.
type Config struct {
	// MaxConcurrentUnits bounds how many units are extracted in parallel.
	// Default: 4.
	MaxConcurrentUnits int

	// UnitTimeout is the wall-clock budget for one unit's extraction,
	// including its combined/fallback calls and sentiment call. Default: 120s.
	UnitTimeout time.Duration

	// MaxFailureRate is the fraction of units (failures/total) above which
	// the whole batch is rejected with *pipelineerr.ExtractionError.
	// Default: 0.5.
	MaxFailureRate float64
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentUnits <= 0 {
		c.MaxConcurrentUnits = 4
	}
	if c.UnitTimeout <= 0 {
		c.UnitTimeout = 120 * time.Second
	}
	if c.MaxFailureRate <= 0 {
		c.MaxFailureRate = 0.5
	}
	return c
}

// UnitFailure records one unit that could not be extracted.
type UnitFailure struct {
	UnitIndex    int
	UnitID       string
	ErrorType    string
	ErrorMessage string
}

// BatchResult aggregates every unit's contribution in unit-index order,
// regardless of the order workers actually completed in.
type BatchResult struct {
	Entities      []model.Entity
	Quotes        []model.Quote
	Insights      []model.Insight
	Relationships []model.Relationship
	Sentiments    []model.Sentiment
	Failures      []UnitFailure
}

// Extractor runs the extraction worker pool.
type Extractor struct {
	cfg    Config
	client *quota.Manager
	logger *slog.Logger
}

// Option configures an Extractor at construction time.
type Option func(*Extractor)

// WithLogger attaches a structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) { e.logger = logger }
}

// New creates an Extractor backed by client.
func New(cfg Config, client *quota.Manager, opts ...Option) *Extractor {
	e := &Extractor{cfg: cfg.withDefaults(), client: client, logger: slog.Default()}
	for _, o := range opts {
		o(e)
	}
	return e
}

type unitOutcome struct {
	index         int
	unitID        string
	entities      []model.Entity
	quotes        []model.Quote
	insights      []model.Insight
	relationships []model.Relationship
	sentiment     *model.Sentiment
	err           error
}

// Extract runs extraction over units with bounded concurrency, returning a
// *pipelineerr.ExtractionError if the aggregate failure rate exceeds
// Config.MaxFailureRate.
func (e *Extractor) Extract(ctx context.Context, episodeID string, units []model.MeaningfulUnit) (*BatchResult, error) {
	if len(units) == 0 {
		return &BatchResult{}, nil
	}

	batchDeadline := time.Duration(len(units)) * e.cfg.UnitTimeout
	batchCtx, cancel := context.WithTimeout(ctx, batchDeadline)
	defer cancel()

	g, gctx := errgroup.WithContext(batchCtx)
	g.SetLimit(e.cfg.MaxConcurrentUnits)

	outcomes := make([]unitOutcome, len(units))
	var progressMu sync.Mutex
	completed := 0

	for i, u := range units {
		i, u := i, u
		g.Go(func() error {
			unitCtx, unitCancel := context.WithTimeout(gctx, e.cfg.UnitTimeout)
			defer unitCancel()

			outcomes[i] = e.extractUnit(unitCtx, episodeID, i, u)

			progressMu.Lock()
			completed++
			n := completed
			progressMu.Unlock()
			e.logger.Debug("unit extraction progress", "episode_id", episodeID, "completed", n, "total", len(units))
			return nil
		})
	}
	_ = g.Wait()

	return e.aggregate(episodeID, outcomes)
}

func (e *Extractor) extractUnit(ctx context.Context, episodeID string, index int, unit model.MeaningfulUnit) unitOutcome {
	if err := ctx.Err(); err != nil {
		return unitOutcome{index: index, unitID: unit.ID, err: fmt.Errorf("%w: unit cancelled before extraction", err)}
	}

	combined, err := e.extractCombined(ctx, unit)
	if err != nil {
		e.logger.Warn("combined extraction failed, falling back to per-field calls", "episode_id", episodeID, "unit_id", unit.ID, "error", err)
		combined, err = e.extractFallback(ctx, unit)
		if err != nil {
			return unitOutcome{index: index, unitID: unit.ID, err: err}
		}
	}
	injectUnitIDs(combined, unit.ID)
	scoreQuotes(combined.Quotes)
	scoreInsights(combined.Insights)

	sentiment, serr := e.analyzeSentiment(ctx, unit)
	if serr != nil {
		e.logger.Warn("sentiment analysis failed", "episode_id", episodeID, "unit_id", unit.ID, "error", serr)
		sentiment = nil
	}

	return unitOutcome{
		index:         index,
		unitID:        unit.ID,
		entities:      combined.Entities,
		quotes:        combined.Quotes,
		insights:      combined.Insights,
		relationships: combined.Relationships,
		sentiment:     sentiment,
	}
}

func (e *Extractor) aggregate(episodeID string, outcomes []unitOutcome) (*BatchResult, error) {
	result := &BatchResult{}
	failed := 0

	for _, oc := range outcomes {
		if oc.err != nil {
			failed++
			result.Failures = append(result.Failures, UnitFailure{
				UnitIndex:    oc.index,
				UnitID:       oc.unitID,
				ErrorType:    classifyError(oc.err),
				ErrorMessage: oc.err.Error(),
			})
			continue
		}
		result.Entities = append(result.Entities, oc.entities...)
		result.Quotes = append(result.Quotes, oc.quotes...)
		result.Insights = append(result.Insights, oc.insights...)
		result.Relationships = append(result.Relationships, oc.relationships...)
		if oc.sentiment != nil {
			result.Sentiments = append(result.Sentiments, *oc.sentiment)
		}
	}

	rate := float64(failed) / float64(len(outcomes))
	if rate > e.cfg.MaxFailureRate {
		return nil, &pipelineerr.ExtractionError{
			EpisodeID: episodeID,
			Cause:     fmt.Errorf("extraction failure rate %.2f exceeds threshold %.2f (%d/%d units failed)", rate, e.cfg.MaxFailureRate, failed, len(outcomes)),
		}
	}
	if failed > 0 {
		e.logger.Warn("extraction completed with partial failures", "episode_id", episodeID, "failed", failed, "total", len(outcomes), "rate", rate)
	}
	return result, nil
}

func classifyError(err error) string {
	switch {
	case errors.Is(err, pipelineerr.QuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, pipelineerr.CircuitOpen):
		return "circuit_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, pipelineerr.Transient):
		return "transient"
	default:
		return "unknown"
	}
}

func injectUnitIDs(c *combinedExtraction, unitID string) {
	for i := range c.Quotes {
		if c.Quotes[i].MeaningfulUnitID == "" {
			c.Quotes[i].MeaningfulUnitID = unitID
		}
	}
	for i := range c.Insights {
		if c.Insights[i].MeaningfulUnitID == "" {
			c.Insights[i].MeaningfulUnitID = unitID
		}
	}
}

type combinedExtraction struct {
	Entities      []model.Entity       `json:"entities"`
	Quotes        []model.Quote        `json:"quotes"`
	Insights      []model.Insight      `json:"insights"`
	Relationships []model.Relationship `json:"relationships"`
}

func (e *Extractor) extractCombined(ctx context.Context, unit model.MeaningfulUnit) (*combinedExtraction, error) {
	resp, err := e.client.ChatJSON(ctx, quota.ChatRequest{
		SystemPrompt: combinedSystemPrompt,
		Messages:     []llmclient.Message{{Role: "user", Content: unit.Text}},
		Temperature:  0.3,
	}, combinedSchema)
	if err != nil {
		return nil, err
	}
	var c combinedExtraction
	if err := json.Unmarshal(resp, &c); err != nil {
		return nil, fmt.Errorf("extraction: parse combined response: %w", err)
	}
	return &c, nil
}

// extractFallback reproduces the combined extraction as four separate
// calls, for the rare case where a provider rejects the combined prompt's
// shape outright.
func (e *Extractor) extractFallback(ctx context.Context, unit model.MeaningfulUnit) (*combinedExtraction, error) {
	var c combinedExtraction

	if err := e.fallbackCall(ctx, "entities", unit, &c.Entities); err != nil {
		return nil, err
	}
	if err := e.fallbackCall(ctx, "quotes", unit, &c.Quotes); err != nil {
		return nil, err
	}
	if err := e.fallbackCall(ctx, "insights", unit, &c.Insights); err != nil {
		return nil, err
	}
	if err := e.fallbackCall(ctx, "relationships", unit, &c.Relationships); err != nil {
		return nil, err
	}
	return &c, nil
}

func (e *Extractor) fallbackCall(ctx context.Context, kind string, unit model.MeaningfulUnit, out any) error {
	resp, err := e.client.ChatJSON(ctx, quota.ChatRequest{
		SystemPrompt: fallbackSystemPrompts[kind],
		Messages:     []llmclient.Message{{Role: "user", Content: unit.Text}},
		Temperature:  0.3,
	}, fallbackSchemas[kind])
	if err != nil {
		return fmt.Errorf("extraction: fallback %s call: %w", kind, err)
	}
	if err := json.Unmarshal(resp, out); err != nil {
		return fmt.Errorf("extraction: parse fallback %s response: %w", kind, err)
	}
	return nil
}

func (e *Extractor) analyzeSentiment(ctx context.Context, unit model.MeaningfulUnit) (*model.Sentiment, error) {
	resp, err := e.client.ChatJSON(ctx, quota.ChatRequest{
		SystemPrompt: sentimentSystemPrompt,
		Messages:     []llmclient.Message{{Role: "user", Content: unit.Text}},
		Temperature:  0.4,
	}, sentimentSchema)
	if err != nil {
		return nil, err
	}
	var s model.Sentiment
	if err := json.Unmarshal(resp, &s); err != nil {
		return nil, fmt.Errorf("extraction: parse sentiment response: %w", err)
	}
	s.UnitID = unit.ID
	return &s, nil
}
