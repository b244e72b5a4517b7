// Package pipelineerr defines the error taxonomy shared across the episode
// pipeline's components (internal/quota, internal/speaker,
// internal/convanalysis, internal/extraction, internal/graphstore,
// internal/orchestrator).
//
// Sentinel errors (Transient, QuotaExceeded, CircuitOpen) classify *why* a
// call failed and are meant to be tested with errors.Is, since a single
// underlying cause (e.g. a 429 response) can surface through several
// layers of wrapping. The phase-specific struct types
// (VTTProcessingError, SpeakerIdentificationError, ConversationAnalysisError,
// ExtractionError) carry *where* the failure happened and wrap the
// underlying cause so errors.As and errors.Unwrap still reach it.
package pipelineerr

import (
	"errors"
	"fmt"

	"github.com/MrWong99/podgraph/pkg/model"
)

// Sentinel errors classifying the nature of a failure, independent of which
// phase produced it. Components should wrap one of these with %w so callers
// can branch with errors.Is regardless of how many layers deep it is.
var (
	// Transient marks a failure expected to succeed on retry (timeouts,
	// 5xx responses, connection resets). internal/quota's retry policy and
	// its per-key circuit breaker both key off this.
	Transient = errors.New("transient failure")

	// QuotaExceeded marks a failure caused by exhausting a key's RPM, RPD,
	// or TPD budget. internal/quota returns this when no eligible key
	// remains after the bounded wait.
	QuotaExceeded = errors.New("quota exceeded")

	// CircuitOpen marks a call rejected because the (operation, key)
	// circuit breaker tripped. internal/quota wraps its own breaker-open
	// sentinel with this one so callers only need to errors.Is against
	// pipelineerr.
	CircuitOpen = errors.New("circuit breaker open")
)

// VTTProcessingError reports a failure parsing or validating a WebVTT
// transcript, raised by pkg/vttparse or internal/orchestrator's VTT_PARSING
// phase.
type VTTProcessingError struct {
	Filename string
	Cause    error
}

func (e *VTTProcessingError) Error() string {
	return fmt.Sprintf("vtt processing %q: %v", e.Filename, e.Cause)
}

func (e *VTTProcessingError) Unwrap() error { return e.Cause }

// SpeakerIdentificationError reports that internal/speaker exhausted its
// retries without identifying at least one speaker.
type SpeakerIdentificationError struct {
	EpisodeID string
	Attempts  int
	Cause     error
}

func (e *SpeakerIdentificationError) Error() string {
	return fmt.Sprintf("speaker identification for episode %q failed after %d attempts: %v", e.EpisodeID, e.Attempts, e.Cause)
}

func (e *SpeakerIdentificationError) Unwrap() error { return e.Cause }

// ConversationAnalysisError reports that internal/convanalysis exhausted its
// retries without producing a valid ConversationStructure.
type ConversationAnalysisError struct {
	EpisodeID string
	Attempts  int
	Cause     error
}

func (e *ConversationAnalysisError) Error() string {
	return fmt.Sprintf("conversation analysis for episode %q failed after %d attempts: %v", e.EpisodeID, e.Attempts, e.Cause)
}

func (e *ConversationAnalysisError) Unwrap() error { return e.Cause }

// ExtractionError reports that internal/extraction could not produce
// knowledge for one meaningful unit, either from a timeout or an exhausted
// per-unit retry budget. It does not by itself fail the whole batch — see
// internal/extraction's partial-failure policy.
type ExtractionError struct {
	EpisodeID string
	UnitID    string
	Cause     error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("knowledge extraction for unit %q (episode %q): %v", e.UnitID, e.EpisodeID, e.Cause)
}

func (e *ExtractionError) Unwrap() error { return e.Cause }

// PipelineError is internal/orchestrator's top-level wrapper, re-raised to
// the pipeline's caller carrying the phase in which the failure occurred
// and the underlying cause (often one of the phase-specific error types
// above).
type PipelineError struct {
	EpisodeID string
	Phase     model.Phase
	Cause     error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline failed for episode %q at phase %s: %v", e.EpisodeID, e.Phase, e.Cause)
}

func (e *PipelineError) Unwrap() error { return e.Cause }
