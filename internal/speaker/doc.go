// Package speaker replaces generic VTT speaker labels (e.g. "SPEAKER_1")
// with real names and roles using internal/quota's ChatJSON operation over a
// windowed slice of the episode's segments.
//
// Identification is allowed to fail partially: any speaker label whose
// mapping falls below the configured confidence floor keeps its generic
// label rather than adopting a low-confidence guess. The phase only fails
// outright — via pipelineerr.SpeakerIdentificationError — when the model
// produces no usable mapping at all after retries.
package speaker
