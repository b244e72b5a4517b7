package model

import (
	"encoding/json"
	"time"
)

// Phase names a durable boundary in the per-episode pipeline state machine.
// Phases are ordered; internal/orchestrator executes them strictly in the
// order declared below and internal/checkpoint compares them by that order
// (not by string value) to decide what to skip on resume.
type Phase string

const (
	PhaseVTTParsing             Phase = "VTT_PARSING"
	PhaseSpeakerIdentification  Phase = "SPEAKER_IDENTIFICATION"
	PhaseConversationAnalysis   Phase = "CONVERSATION_ANALYSIS"
	PhaseMeaningfulUnitCreation Phase = "MEANINGFUL_UNIT_CREATION"
	PhaseEpisodeStorage         Phase = "EPISODE_STORAGE"
	PhaseKnowledgeExtraction    Phase = "KNOWLEDGE_EXTRACTION"
	PhaseKnowledgeStorage       Phase = "KNOWLEDGE_STORAGE"
	PhaseAnalysis               Phase = "ANALYSIS"
	// PhasePostProcessSpeakers is optional and only runs when the pipeline is
	// configured to re-pass over already-stored segments for a second
	// speaker-mapping attempt (see internal/config's
	// speakers.enable_post_process_mapping).
	PhasePostProcessSpeakers Phase = "POST_PROCESS_SPEAKERS"
)

// phaseOrder fixes the sequence internal/orchestrator and internal/checkpoint
// use to compare two phases ("is P already completed").
var phaseOrder = []Phase{
	PhaseVTTParsing,
	PhaseSpeakerIdentification,
	PhaseConversationAnalysis,
	PhaseMeaningfulUnitCreation,
	PhaseEpisodeStorage,
	PhaseKnowledgeExtraction,
	PhaseKnowledgeStorage,
	PhaseAnalysis,
	PhasePostProcessSpeakers,
}

// Index returns p's position in the canonical phase ordering, or -1 if p is
// not a recognized phase.
func (p Phase) Index() int {
	for i, candidate := range phaseOrder {
		if candidate == p {
			return i
		}
	}
	return -1
}

// AtLeast reports whether p has reached or passed other in the canonical
// phase ordering. An unrecognized phase is never considered to have reached
// anything.
func (p Phase) AtLeast(other Phase) bool {
	pi, oi := p.Index(), other.Index()
	if pi < 0 || oi < 0 {
		return false
	}
	return pi >= oi
}

// CheckpointEnvelopeVersion is the current on-disk checkpoint format
// version written by internal/checkpoint. Older versions are migrated
// in place on load.
const CheckpointEnvelopeVersion = 3

// Checkpoint is the durable, resumable snapshot of one episode's pipeline
// progress, keyed by episode ID.
type Checkpoint struct {
	EpisodeID string `json:"episode_id"`

	// LastCompletedPhase is the last phase whose work was fully saved.
	LastCompletedPhase Phase `json:"last_phase"`

	// Payloads holds a serialized snapshot per completed phase, enough to
	// resume from the next phase without redoing earlier work. A phase
	// whose output fails to marshal stores a `{"completed":true}` marker
	// instead. On resume that phase is still skipped and the marker is
	// decoded like any other payload; the phase's data is not regenerated.
	Payloads map[Phase]json.RawMessage `json:"payloads"`

	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Version   int            `json:"version"`
}
