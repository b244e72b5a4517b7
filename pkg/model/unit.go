package model

// MeaningfulUnit is a single contiguous stretch of dialogue built by
// internal/unitbuilder from one ConversationStructure Unit and its
// underlying Segments. It is the unit of work that internal/extraction
// sends to the LLM for knowledge extraction and that internal/graphstore
// persists with its embedding for similarity search.
type MeaningfulUnit struct {
	// ID is deterministic: a hash of the episode ID and the unit's index so
	// that re-running the pipeline on the same episode reproduces the same
	// IDs instead of minting new ones each time.
	ID string `json:"id"`

	// Text is the concatenated speaker-prefixed dialogue of every segment
	// the unit spans.
	Text string `json:"text"`

	// PrimarySpeaker is the speaker with the most cumulative speaking time
	// in the unit, with ties broken by first occurrence.
	PrimarySpeaker string `json:"primary_speaker"`

	// UnitType mirrors the originating ConversationStructure Unit's type
	// (e.g. "discussion", "story", "debate").
	UnitType string `json:"unit_type"`

	// StartTime is max(0, first segment's start time - 2.0), a small lead-in
	// so playback or citation links land slightly before the first word.
	StartTime float64 `json:"start_time"`

	// EndTime is the last spanned segment's end time.
	EndTime float64 `json:"end_time"`

	// SpeakerDistribution maps speaker label to the fraction of the unit's
	// total duration that speaker held the floor. Values sum to ~1.0.
	SpeakerDistribution map[string]float64 `json:"speaker_distribution"`

	// Themes carries through any Theme names from the ConversationStructure
	// whose SegmentRefs overlap this unit's segment range.
	Themes []string `json:"themes,omitempty"`

	// SegmentRefs lists the IDs of every Segment the unit spans, in order.
	SegmentRefs []string `json:"segment_refs"`

	// Embedding is the unit's text embedding, populated by
	// pkg/embedclient.Provider. Nil if embedding failed; see
	// internal/unitbuilder's failure log.
	Embedding []float32 `json:"embedding,omitempty"`
}
