package model

import "time"

// PipelineStatus is the terminal status of one episode's pipeline run.
type PipelineStatus string

const (
	StatusCompleted PipelineStatus = "completed"
	StatusFailed    PipelineStatus = "failed"
	StatusSkipped   PipelineStatus = "skipped"
)

// PipelineStats counts the artifacts produced by one pipeline run, surfaced
// in the result object and as internal/observe summary metrics.
type PipelineStats struct {
	SegmentsParsed         int `json:"segments_parsed"`
	SpeakersIdentified     int `json:"speakers_identified"`
	MeaningfulUnitsCreated int `json:"meaningful_units_created"`
	EntitiesExtracted      int `json:"entities_extracted"`
	QuotesExtracted        int `json:"quotes_extracted"`
	InsightsExtracted      int `json:"insights_extracted"`
	RelationshipsExtracted int `json:"relationships_extracted"`
	NodesCreated           int `json:"nodes_created"`
	RelationshipsCreated   int `json:"relationships_created"`
}

// PipelineResult is internal/orchestrator's return value for one episode
// run: what happened, how long each phase took, and what it produced.
type PipelineResult struct {
	EpisodeID       string         `json:"episode_id"`
	Status          PipelineStatus `json:"status"`
	PhasesCompleted []Phase        `json:"phases_completed"`
	PhaseTimings    map[Phase]time.Duration `json:"phase_timings"`
	Stats           PipelineStats  `json:"stats"`
	Errors          []string       `json:"errors,omitempty"`
	StartTime       time.Time      `json:"start_time"`
	EndTime         time.Time      `json:"end_time"`
	TotalTime       time.Duration  `json:"total_time"`
}

// VTTMetadata carries source-file facts discovered while parsing a WebVTT
// transcript. internal/orchestrator keeps it in the VTT_PARSING checkpoint
// payload; it is not attached to the Episode.
type VTTMetadata struct {
	// CueCount is the number of cues parsed, before any merging.
	CueCount int `json:"cue_count"`

	// Duration is the transcript's total span in seconds (last cue's end
	// time minus the first cue's start time).
	Duration float64 `json:"duration"`

	// HasVoiceTags reports whether the source VTT used WebVTT <v Speaker>
	// voice tags. internal/speaker does not read it; identification runs
	// the same way whether or not voice tags were present.
	HasVoiceTags bool `json:"has_voice_tags"`
}
