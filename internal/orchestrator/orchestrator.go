// Package orchestrator drives one episode through the full pipeline: VTT
// parsing, speaker identification, conversation analysis, meaningful-unit
// construction, transactional graph storage, bounded-concurrency knowledge
// extraction, entity resolution, and a final analysis pass — saving a
// checkpoint after every phase and rolling back any graph state written for
// an episode that ultimately fails.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrWong99/podgraph/internal/checkpoint"
	"github.com/MrWong99/podgraph/internal/convanalysis"
	"github.com/MrWong99/podgraph/internal/extraction"
	"github.com/MrWong99/podgraph/internal/graphstore"
	"github.com/MrWong99/podgraph/internal/observe"
	"github.com/MrWong99/podgraph/internal/pipelineerr"
	"github.com/MrWong99/podgraph/internal/resolver"
	"github.com/MrWong99/podgraph/internal/speaker"
	"github.com/MrWong99/podgraph/internal/unitbuilder"
	"github.com/MrWong99/podgraph/pkg/model"
	"github.com/MrWong99/podgraph/pkg/vttparse"
)

// Config tunes the orchestrator's checkpoint and opt-in-phase behavior.
type Config struct {
	// DisableCheckpoints skips loading and saving checkpoints entirely —
	// every run starts from VTT_PARSING and nothing is persisted to resume
	// from.
	DisableCheckpoints bool

	// EnableSpeakerMapping opts into the POST_PROCESS_SPEAKERS phase: a
	// second speaker-identification pass that reports any
	// segments still carrying a generic label after SPEAKER_IDENTIFICATION.
	// It does not rewrite already-written graph state; see DESIGN.md.
	EnableSpeakerMapping bool

	// EmbeddingFailureLogDir is where the unit builder's embedding-failure
	// log is flushed on a successful run. Default: "./logs".
	EmbeddingFailureLogDir string
}

func (c Config) withDefaults() Config {
	if c.EmbeddingFailureLogDir == "" {
		c.EmbeddingFailureLogDir = "./logs"
	}
	return c
}

// Dependencies bundles every collaborator one episode run needs. All fields
// are required except Metrics.
type Dependencies struct {
	Parser      vttparse.Parser
	Speakers    *speaker.Identifier
	Conversations *convanalysis.Analyzer
	Units       *unitbuilder.Builder
	Extractor   *extraction.Extractor
	Writer      graphstore.Writer
	Checkpoints *checkpoint.Store

	// Metrics is optional; when nil, phase/episode metrics are not recorded.
	Metrics *observe.Metrics
}

// Orchestrator runs the phase state machine described in this package's doc
// comment for one episode at a time.
type Orchestrator struct {
	cfg    Config
	deps   Dependencies
	logger *slog.Logger
}

// Option configures an Orchestrator at construction time.
type Option func(*Orchestrator)

// WithLogger attaches a structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// New creates an Orchestrator from cfg and deps.
func New(cfg Config, deps Dependencies, opts ...Option) *Orchestrator {
	o := &Orchestrator{cfg: cfg.withDefaults(), deps: deps, logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// phaseStep pairs a phase with the function that executes it.
type phaseStep struct {
	phase model.Phase
	run   func(context.Context, *runState) error
}

// runState carries everything accumulated across phases for one episode run,
// so each phase function can read what it needs and append its own output.
type runState struct {
	episodeID     string
	episode       model.Episode
	segments      []model.Segment
	vttMeta       model.VTTMetadata
	structure     *model.ConversationStructure
	units         []model.MeaningfulUnit
	batch         *extraction.BatchResult
	resolved      resolver.Resolved
	stageAWritten bool
	payloads      map[model.Phase]json.RawMessage
	cp            *model.Checkpoint
}

// ProcessEpisode runs episode through every phase, skipping phases a loaded
// checkpoint already completed. It always returns a non-nil
// *model.PipelineResult. A phase failure returns a typed
// *pipelineerr.PipelineError; a failed idempotency check returns the
// writer's error wrapped with fmt.Errorf instead. The error is nil when the
// episode was skipped as already-processed.
func (o *Orchestrator) ProcessEpisode(ctx context.Context, episode model.Episode) (*model.PipelineResult, error) {
	start := time.Now()
	episodeID := episode.ID
	if episodeID == "" {
		episodeID = deriveEpisodeID(episode.VTTFilename)
	}

	result := &model.PipelineResult{
		EpisodeID:    episodeID,
		PhaseTimings: map[model.Phase]time.Duration{},
		StartTime:    start,
	}

	alreadyProcessed, err := o.deps.Writer.AlreadyProcessed(ctx, episode.VTTFilename)
	if err != nil {
		return o.finish(result, model.StatusFailed, fmt.Errorf("orchestrator: idempotency check: %w", err))
	}
	if alreadyProcessed {
		o.logger.Info("episode already processed, skipping", "episode_id", episodeID, "vtt_filename", episode.VTTFilename)
		return o.finish(result, model.StatusSkipped, nil)
	}

	st := &runState{episodeID: episodeID, episode: episode, payloads: map[model.Phase]json.RawMessage{}}
	if !o.cfg.DisableCheckpoints {
		cp, err := o.deps.Checkpoints.Load(episodeID)
		if err == nil {
			st.cp = cp
			st.payloads = cp.Payloads
			o.logger.Info("resuming from checkpoint", "episode_id", episodeID, "last_phase", cp.LastCompletedPhase)
		} else if err != checkpoint.ErrNotFound {
			o.logger.Warn("checkpoint load failed, starting fresh", "episode_id", episodeID, "error", err)
		}
	}

	phases := []phaseStep{
		{model.PhaseVTTParsing, o.runVTTParsing},
		{model.PhaseSpeakerIdentification, o.runSpeakerIdentification},
		{model.PhaseConversationAnalysis, o.runConversationAnalysis},
		{model.PhaseMeaningfulUnitCreation, o.runUnitCreation},
		{model.PhaseEpisodeStorage, o.runEpisodeStorage},
		{model.PhaseKnowledgeExtraction, o.runKnowledgeExtraction},
		{model.PhaseKnowledgeStorage, o.runKnowledgeStorage},
		{model.PhaseAnalysis, o.runAnalysis(result)},
	}
	if o.cfg.EnableSpeakerMapping {
		phases = append(phases, phaseStep{model.PhasePostProcessSpeakers, o.runPostProcessSpeakers})
	}

	for _, p := range phases {
		if st.cp != nil && st.cp.LastCompletedPhase.AtLeast(p.phase) {
			o.logger.Debug("skipping already-completed phase", "episode_id", episodeID, "phase", p.phase)
			continue
		}

		phaseCtx, span := observe.StartSpan(ctx, string(p.phase))
		phaseStart := time.Now()
		err := p.run(phaseCtx, st)
		elapsed := time.Since(phaseStart)
		span.End()
		result.PhaseTimings[p.phase] = elapsed
		if o.deps.Metrics != nil {
			o.deps.Metrics.RecordPhase(ctx, string(p.phase), elapsed.Seconds())
		}

		if err != nil {
			observe.Logger(phaseCtx).Error("phase failed", "episode_id", episodeID, "phase", p.phase, "error", err)
			return o.fail(ctx, st, p.phase, err, result)
		}

		result.PhasesCompleted = append(result.PhasesCompleted, p.phase)
		o.saveCheckpoint(phaseCtx, st, p.phase)
	}

	if err := o.deps.Units.FlushFailures(o.cfg.EmbeddingFailureLogDir, episodeID, time.Now()); err != nil {
		o.logger.Warn("failed to flush embedding failure log", "episode_id", episodeID, "error", err)
	}
	if !o.cfg.DisableCheckpoints {
		if err := o.deps.Checkpoints.Delete(episodeID); err != nil {
			o.logger.Warn("failed to delete checkpoint after success", "episode_id", episodeID, "error", err)
		}
	}

	return o.finish(result, model.StatusCompleted, nil)
}

// fail rolls back any graph state written for st.episodeID (if Stage A has
// run), wraps cause as a *pipelineerr.PipelineError attributed to phase, and
// finalizes result as failed. The checkpoint is deliberately left in place
// for inspection.
func (o *Orchestrator) fail(ctx context.Context, st *runState, phase model.Phase, cause error, result *model.PipelineResult) (*model.PipelineResult, error) {
	if st.stageAWritten {
		n, rerr := o.deps.Writer.Rollback(ctx, st.episodeID)
		if rerr != nil {
			o.logger.Error("CRITICAL: manual cleanup required", "episode_id", st.episodeID, "phase", phase, "rollback_error", rerr)
		} else {
			o.logger.Warn("episode rolled back", "episode_id", st.episodeID, "phase", phase, "nodes_deleted", n)
		}
	}
	return o.finish(result, model.StatusFailed, &pipelineerr.PipelineError{EpisodeID: st.episodeID, Phase: phase, Cause: cause})
}

func (o *Orchestrator) finish(result *model.PipelineResult, status model.PipelineStatus, err error) (*model.PipelineResult, error) {
	result.Status = status
	result.EndTime = time.Now()
	result.TotalTime = result.EndTime.Sub(result.StartTime)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
	}
	if o.deps.Metrics != nil {
		o.deps.Metrics.RecordEpisodeProcessed(context.Background(), string(status))
	}
	return result, err
}

func (o *Orchestrator) saveCheckpoint(ctx context.Context, st *runState, phase model.Phase) {
	if o.cfg.DisableCheckpoints {
		return
	}
	var metadata map[string]any
	if cid := observe.CorrelationID(ctx); cid != "" {
		metadata = map[string]any{"trace_id": cid}
	}
	if err := o.deps.Checkpoints.Save(st.episodeID, phase, st.payloads, metadata); err != nil {
		o.logger.Warn("checkpoint save failed", "episode_id", st.episodeID, "phase", phase, "error", err)
		return
	}
	if o.deps.Metrics != nil {
		o.deps.Metrics.RecordCheckpointWrite(context.Background(), string(phase))
	}
}

func setPayload(st *runState, phase model.Phase, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		st.payloads[phase] = json.RawMessage(`{"completed":true}`)
		return
	}
	st.payloads[phase] = data
}

// deriveEpisodeID turns a VTT filename into a stable episode ID when the
// caller did not supply one: the base filename without its extension.
func deriveEpisodeID(vttFilename string) string {
	base := filepath.Base(vttFilename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
