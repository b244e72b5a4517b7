package model

// Episode is the podcast episode metadata that accompanies a transcript
// through the whole pipeline, used both for LLM prompt context (the
// description is folded into the speaker-identification prompt) and for the
// graph store's podcasts/episodes tables.
type Episode struct {
	// ID uniquely identifies the episode. If empty when the pipeline starts,
	// internal/orchestrator derives one from VTTFilename.
	ID string `json:"id" yaml:"id"`

	Title         string `json:"title" yaml:"title"`
	PublishedDate string `json:"published_date,omitempty" yaml:"published_date,omitempty"`
	YoutubeURL    string `json:"youtube_url,omitempty" yaml:"youtube_url,omitempty"`
	Description   string `json:"description,omitempty" yaml:"description,omitempty"`

	// VTTFilename is the source transcript file's path, recorded for audit
	// and for resuming a checkpointed run against the same input.
	VTTFilename string `json:"vtt_filename" yaml:"vtt_filename"`

	// PodcastID groups episodes under a parent podcast/show in the graph
	// store's podcasts table. Optional; a bare episode run may leave it empty.
	PodcastID string `json:"podcast_id,omitempty" yaml:"podcast_id,omitempty"`
}
