// Package vttparse defines the boundary interface between the pipeline and
// whatever WebVTT lexing library or hand-rolled scanner produces
// (model.Segment, model.VTTMetadata) pairs from a transcript file.
//
// internal/orchestrator depends only on Parser, never on a concrete
// implementation, so tests can inject a fixture parser without touching
// disk. pkg/vttparse/webvtt is the reference implementation used by
// cmd/podgraph and the package's own end-to-end tests.
package vttparse

import "github.com/MrWong99/podgraph/pkg/model"

// Parser turns a WebVTT transcript file into timed segments plus metadata
// derived from its cues (count, duration, voice-tag presence).
type Parser interface {
	// Parse reads and lexes the WebVTT file at path. An empty transcript (0
	// cues) is a caller error, not silently accepted — internal/orchestrator
	// wraps it as a pipelineerr.VTTProcessingError.
	Parse(path string) ([]model.Segment, model.VTTMetadata, error)
}
