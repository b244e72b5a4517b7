package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MrWong99/podgraph/internal/extraction"
	"github.com/MrWong99/podgraph/internal/graphstore"
	"github.com/MrWong99/podgraph/internal/pipelineerr"
	"github.com/MrWong99/podgraph/internal/resolver"
	"github.com/MrWong99/podgraph/internal/speaker"
	"github.com/MrWong99/podgraph/pkg/model"
)

type vttPayload struct {
	Segments []model.Segment   `json:"segments"`
	Metadata model.VTTMetadata `json:"metadata"`
}

func (o *Orchestrator) runVTTParsing(_ context.Context, st *runState) error {
	segments, meta, err := o.deps.Parser.Parse(st.episode.VTTFilename)
	if err != nil {
		return &pipelineerr.VTTProcessingError{Filename: st.episode.VTTFilename, Cause: err}
	}
	if len(segments) == 0 {
		return &pipelineerr.VTTProcessingError{Filename: st.episode.VTTFilename, Cause: fmt.Errorf("transcript contains no cues")}
	}
	st.segments = segments
	st.vttMeta = meta
	setPayload(st, model.PhaseVTTParsing, vttPayload{Segments: segments, Metadata: meta})
	return nil
}

func (o *Orchestrator) runSpeakerIdentification(ctx context.Context, st *runState) error {
	if err := o.ensureSegments(st); err != nil {
		return err
	}

	meta := speaker.EpisodeMetadata{
		PodcastName: st.episode.PodcastID,
		Title:       st.episode.Title,
		Description: st.episode.Description,
	}
	segments, err := o.deps.Speakers.Identify(ctx, st.episodeID, st.segments, meta)
	if err != nil {
		return err
	}
	st.segments = segments
	setPayload(st, model.PhaseSpeakerIdentification, segments)
	return nil
}

func (o *Orchestrator) runConversationAnalysis(ctx context.Context, st *runState) error {
	if err := o.ensureSegments(st); err != nil {
		return err
	}
	structure, err := o.deps.Conversations.Analyze(ctx, st.episodeID, st.segments)
	if err != nil {
		return err
	}
	st.structure = structure
	setPayload(st, model.PhaseConversationAnalysis, structure)
	return nil
}

func (o *Orchestrator) runUnitCreation(ctx context.Context, st *runState) error {
	if err := o.ensureSegments(st); err != nil {
		return err
	}
	if err := o.ensureStructure(st); err != nil {
		return err
	}
	units, err := o.deps.Units.Build(ctx, st.episodeID, st.segments, st.structure)
	if err != nil {
		return fmt.Errorf("orchestrator: build meaningful units: %w", err)
	}
	st.units = units
	setPayload(st, model.PhaseMeaningfulUnitCreation, units)
	return nil
}

func (o *Orchestrator) runEpisodeStorage(ctx context.Context, st *runState) error {
	if err := o.ensureStructure(st); err != nil {
		return err
	}
	if err := o.ensureUnits(st); err != nil {
		return err
	}
	skeleton := graphstore.EpisodeSkeleton{
		Episode: withEpisodeID(st.episode, st.episodeID),
		Themes:  themesOf(st.structure),
		Units:   st.units,
	}
	id, err := o.deps.Writer.WriteSkeleton(ctx, skeleton)
	if err != nil {
		return fmt.Errorf("orchestrator: write episode skeleton: %w", err)
	}
	st.episodeID = id
	st.stageAWritten = true
	setPayload(st, model.PhaseEpisodeStorage, map[string]string{"episode_id": id})
	return nil
}

func (o *Orchestrator) runKnowledgeExtraction(ctx context.Context, st *runState) error {
	if err := o.ensureUnits(st); err != nil {
		return err
	}
	batch, err := o.deps.Extractor.Extract(ctx, st.episodeID, st.units)
	if err != nil {
		return err
	}
	st.batch = batch
	if o.deps.Metrics != nil {
		for _, f := range batch.Failures {
			o.deps.Metrics.RecordExtractionFailure(ctx, f.ErrorType)
		}
	}

	st.resolved = resolver.Resolve(batch.Entities)
	rewriteRelationshipEndpoints(batch.Relationships, st.resolved.CanonicalValues)

	setPayload(st, model.PhaseKnowledgeExtraction, batch)
	return nil
}

func (o *Orchestrator) runKnowledgeStorage(ctx context.Context, st *runState) error {
	if err := o.ensureBatch(st); err != nil {
		return err
	}
	batch := graphstore.KnowledgeBatch{
		Entities:      st.resolved.Entities,
		Quotes:        st.batch.Quotes,
		Insights:      st.batch.Insights,
		Relationships: st.batch.Relationships,
		Sentiments:    st.batch.Sentiments,
	}
	if err := o.deps.Writer.WriteKnowledge(ctx, st.episodeID, batch); err != nil {
		return fmt.Errorf("orchestrator: write knowledge batch: %w", err)
	}
	setPayload(st, model.PhaseKnowledgeStorage, map[string]bool{"written": true})
	return nil
}

// runAnalysis returns a phase function that finalizes result's stats once
// every prior phase has produced its output. Bound to result via closure
// since model.PipelineResult is this run's caller-visible accumulator, not
// part of runState.
func (o *Orchestrator) runAnalysis(result *model.PipelineResult) func(context.Context, *runState) error {
	return func(_ context.Context, st *runState) error {
		if err := o.ensureBatch(st); err != nil {
			return err
		}
		result.Stats = model.PipelineStats{
			SegmentsParsed:         len(st.segments),
			SpeakersIdentified:     countDistinctSpeakers(st.segments),
			MeaningfulUnitsCreated: len(st.units),
			EntitiesExtracted:      len(st.batch.Entities),
			QuotesExtracted:        len(st.batch.Quotes),
			InsightsExtracted:      len(st.batch.Insights),
			RelationshipsExtracted: len(st.batch.Relationships),
			NodesCreated:           len(st.resolved.Entities) + len(st.batch.Quotes) + len(st.batch.Insights) + len(st.batch.Sentiments) + len(st.units),
			RelationshipsCreated:   len(st.batch.Relationships),
		}
		setPayload(st, model.PhaseAnalysis, result.Stats)
		return nil
	}
}

// runPostProcessSpeakers re-runs identification (with the same context
// window as SPEAKER_IDENTIFICATION) and reports any segment whose label is still generic; it does not rewrite
// already-written graph state (see DESIGN.md's Open Question resolution).
func (o *Orchestrator) runPostProcessSpeakers(ctx context.Context, st *runState) error {
	if err := o.ensureSegments(st); err != nil {
		return err
	}
	meta := speaker.EpisodeMetadata{
		PodcastName: st.episode.PodcastID,
		Title:       st.episode.Title,
		Description: st.episode.Description,
	}
	segments, err := o.deps.Speakers.Identify(ctx, st.episodeID, st.segments, meta)
	if err != nil {
		o.logger.Warn("post-process speaker mapping failed, keeping first-pass labels", "episode_id", st.episodeID, "error", err)
		setPayload(st, model.PhasePostProcessSpeakers, map[string]bool{"attempted": true, "improved": false})
		return nil
	}

	remaining := remainingGenericSpeakers(segments)
	if len(remaining) > 0 {
		o.logger.Warn("segments remain unidentified after post-process pass", "episode_id", st.episodeID, "labels", remaining)
	}
	setPayload(st, model.PhasePostProcessSpeakers, map[string]any{"attempted": true, "remaining_generic_labels": remaining})
	return nil
}

// ensureSegments restores st.segments from the most advanced checkpointed
// phase that carries them, for when speaker identification or a later phase
// runs without VTT_PARSING/SPEAKER_IDENTIFICATION having run in this process.
func (o *Orchestrator) ensureSegments(st *runState) error {
	if st.segments != nil {
		return nil
	}
	if raw, ok := st.payloads[model.PhaseSpeakerIdentification]; ok {
		var segments []model.Segment
		if err := json.Unmarshal(raw, &segments); err == nil {
			st.segments = segments
			return nil
		}
	}
	if raw, ok := st.payloads[model.PhaseVTTParsing]; ok {
		var p vttPayload
		if err := json.Unmarshal(raw, &p); err == nil {
			st.segments = p.Segments
			st.vttMeta = p.Metadata
			return nil
		}
	}
	return fmt.Errorf("orchestrator: no segments available to resume from checkpoint")
}

func (o *Orchestrator) ensureStructure(st *runState) error {
	if st.structure != nil {
		return nil
	}
	raw, ok := st.payloads[model.PhaseConversationAnalysis]
	if !ok {
		return fmt.Errorf("orchestrator: missing conversation_analysis payload on resume")
	}
	var structure model.ConversationStructure
	if err := json.Unmarshal(raw, &structure); err != nil {
		return fmt.Errorf("orchestrator: decode conversation_analysis payload: %w", err)
	}
	st.structure = &structure
	return nil
}

func (o *Orchestrator) ensureUnits(st *runState) error {
	if st.units != nil {
		return nil
	}
	raw, ok := st.payloads[model.PhaseMeaningfulUnitCreation]
	if !ok {
		return fmt.Errorf("orchestrator: missing meaningful_unit_creation payload on resume")
	}
	var units []model.MeaningfulUnit
	if err := json.Unmarshal(raw, &units); err != nil {
		return fmt.Errorf("orchestrator: decode meaningful_unit_creation payload: %w", err)
	}
	st.units = units
	return nil
}

// ensureBatch restores st.batch and recomputes st.resolved from the
// checkpointed knowledge_extraction payload. Re-running resolver.Resolve is
// cheap and deterministic, so the resolved view is derived rather than
// separately persisted.
func (o *Orchestrator) ensureBatch(st *runState) error {
	if st.batch != nil {
		return nil
	}
	raw, ok := st.payloads[model.PhaseKnowledgeExtraction]
	if !ok {
		return fmt.Errorf("orchestrator: missing knowledge_extraction payload on resume")
	}
	var batch extraction.BatchResult
	if err := json.Unmarshal(raw, &batch); err != nil {
		return fmt.Errorf("orchestrator: decode knowledge_extraction payload: %w", err)
	}
	st.batch = &batch
	st.resolved = resolver.Resolve(batch.Entities)
	rewriteRelationshipEndpoints(batch.Relationships, st.resolved.CanonicalValues)
	return nil
}

func withEpisodeID(ep model.Episode, id string) model.Episode {
	ep.ID = id
	return ep
}

func themesOf(structure *model.ConversationStructure) []model.Theme {
	if structure == nil {
		return nil
	}
	return structure.Themes
}

func rewriteRelationshipEndpoints(relationships []model.Relationship, canonical map[string]string) {
	for i := range relationships {
		if v, ok := canonical[relationships[i].Source]; ok {
			relationships[i].Source = v
		}
		if v, ok := canonical[relationships[i].Target]; ok {
			relationships[i].Target = v
		}
	}
}

func countDistinctSpeakers(segments []model.Segment) int {
	seen := map[string]bool{}
	for _, s := range segments {
		if s.Speaker == "" {
			continue
		}
		seen[s.Speaker] = true
	}
	return len(seen)
}

func remainingGenericSpeakers(segments []model.Segment) []string {
	seen := map[string]bool{}
	var remaining []string
	for _, s := range segments {
		if !isGenericLabel(s.Speaker) || seen[s.Speaker] {
			continue
		}
		seen[s.Speaker] = true
		remaining = append(remaining, s.Speaker)
	}
	return remaining
}

// isGenericLabel reports whether label still looks like a raw VTT voice tag
// or placeholder rather than an identified name, e.g. "Speaker 1" or "SPEAKER_00".
func isGenericLabel(label string) bool {
	if label == "" {
		return true
	}
	lower := []byte(label)
	for i := range lower {
		if lower[i] >= 'A' && lower[i] <= 'Z' {
			lower[i] += 'a' - 'A'
		}
	}
	s := string(lower)
	return len(s) > 0 && (hasPrefix(s, "speaker") || hasPrefix(s, "voice"))
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
