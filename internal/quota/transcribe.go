package quota

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/podgraph/pkg/llmclient"
)

// TranscribeMetadata carries the episode context folded into the
// transcription and continuation prompts.
type TranscribeMetadata struct {
	PodcastName     string
	Title           string
	PublicationDate string

	// ExpectedDuration is the episode's known length in seconds, used to
	// compute coverage. If zero, Transcribe makes a single call and returns
	// without validating completeness.
	ExpectedDuration float64
}

// TranscribeResult is Transcribe's return value.
type TranscribeResult struct {
	// VTT is the stitched WebVTT transcript text.
	VTT string

	// Coverage is the fraction of ExpectedDuration the final transcript
	// reaches, in [0, 1+]. 0 if ExpectedDuration was not provided.
	Coverage float64

	// Complete is true if Coverage reached Config.MinCoverageRatio.
	Complete bool

	// ContinuationAttempts is how many continuation calls were issued.
	ContinuationAttempts int
}

// Transcribe produces a WebVTT transcript for one audio reference via the
// quota-managed key pool, issuing continuation calls as needed to cover
// episodes whose length exceeds a single completion's output token cap.
//
// prompt builds the initial transcription request; it is the caller's
// responsibility to embed audio content or a reference to it, since the
// concrete mechanism (inline audio, file URI, etc.) is provider-specific
// and outside this package's concern.
func (m *Manager) Transcribe(ctx context.Context, initialPrompt string, meta TranscribeMetadata) (*TranscribeResult, error) {
	initial, err := m.Chat(ctx, ChatRequest{
		Messages:    []llmclient.Message{{Role: "user", Content: initialPrompt}},
		Temperature: 0.1,
		MaxTokens:   8192,
	})
	if err != nil {
		return nil, fmt.Errorf("quota: transcribe: initial call: %w", err)
	}

	if meta.ExpectedDuration <= 0 {
		return &TranscribeResult{VTT: initial, Coverage: 0, Complete: true}, nil
	}

	segments := []string{initial}
	attempts := 0

	for attempts < m.cfg.MaxContinuations {
		stitched := m.stitchTranscripts(segments)
		complete, coverage := validateCompleteness(stitched, meta.ExpectedDuration, m.cfg.MinCoverageRatio)

		m.logger.Info("quota: transcript coverage check",
			"attempt", attempts, "coverage", coverage, "complete", complete)

		if complete {
			return &TranscribeResult{
				VTT:                  stitched,
				Coverage:             coverage,
				Complete:             true,
				ContinuationAttempts: attempts,
			}, nil
		}

		lastEnd, ok := lastCueEndSeconds(stitched)
		if !ok {
			m.logger.Warn("quota: no timestamps found in transcript, stopping continuation loop")
			break
		}

		contPrompt := buildContinuationPrompt(meta, lastEnd, extractContextLines(stitched, 5))
		continuation, err := m.Chat(ctx, ChatRequest{
			Messages:    []llmclient.Message{{Role: "user", Content: contPrompt}},
			Temperature: 0.1,
			MaxTokens:   8192,
		})
		if err != nil {
			m.logger.Warn("quota: continuation call failed, stopping continuation loop", "error", err)
			break
		}
		if strings.TrimSpace(continuation) == "" {
			m.logger.Warn("quota: empty continuation returned, stopping continuation loop")
			break
		}

		segments = append(segments, continuation)
		attempts++
	}

	final := m.stitchTranscripts(segments)
	complete, coverage := validateCompleteness(final, meta.ExpectedDuration, m.cfg.MinCoverageRatio)
	if !complete {
		m.logger.Warn("quota: transcript remains incomplete after continuation loop",
			"coverage", coverage, "min_coverage", m.cfg.MinCoverageRatio, "attempts", attempts)
	}

	return &TranscribeResult{
		VTT:                   final,
		Coverage:              coverage,
		Complete:              complete,
		ContinuationAttempts: attempts,
	}, nil
}

// vttCue is one parsed WebVTT cue, used only by the stitching pipeline.
type vttCue struct {
	startSeconds float64
	endSeconds   float64
	startText    string
	endText      string
	text         string
}

var cuePattern = regexp.MustCompile(`(?s)(\d{1,2}:\d{2}:\d{2}\.\d{3})\s*-->\s*(\d{1,2}:\d{2}:\d{2}\.\d{3})[^\n]*\n(.*?)(?:\n{2,}|$)`)

// stitchTranscripts combines raw VTT segments into one WebVTT document,
// sorted by cue start time with overlapping duplicate cues removed.
func (m *Manager) stitchTranscripts(segments []string) string {
	if len(segments) == 0 {
		return ""
	}
	if len(segments) == 1 {
		return segments[0]
	}

	var cues []vttCue
	for _, seg := range segments {
		cues = append(cues, parseCues(seg)...)
	}
	sort.SliceStable(cues, func(i, j int) bool { return cues[i].startSeconds < cues[j].startSeconds })

	deduped := m.removeOverlappingCues(cues)
	return rebuildVTT(deduped)
}

func parseCues(vtt string) []vttCue {
	matches := cuePattern.FindAllStringSubmatch(vtt, -1)
	cues := make([]vttCue, 0, len(matches))
	for _, g := range matches {
		start, ok1 := parseVTTTimestamp(g[1])
		end, ok2 := parseVTTTimestamp(g[2])
		if !ok1 || !ok2 {
			continue
		}
		cues = append(cues, vttCue{
			startSeconds: start,
			endSeconds:   end,
			startText:    g[1],
			endText:      g[2],
			text:         strings.TrimSpace(g[3]),
		})
	}
	return cues
}

// removeOverlappingCues drops cues that overlap the previous kept cue's end
// by more than Config.OverlapTolerance *and* whose text is a near-duplicate;
// a non-duplicate overlapping cue instead has its start time nudged forward.
func (m *Manager) removeOverlappingCues(cues []vttCue) []vttCue {
	if len(cues) == 0 {
		return nil
	}
	out := []vttCue{cues[0]}
	tolerance := m.cfg.OverlapTolerance.Seconds()

	for _, cue := range cues[1:] {
		last := out[len(out)-1]
		gap := cue.startSeconds - last.endSeconds

		if gap >= -tolerance {
			out = append(out, cue)
			continue
		}

		if textsSimilar(cue.text, last.text, m.cfg.SimilarityThreshold) {
			continue // duplicate of the previous cue, drop it
		}

		adjusted := last.endSeconds + 0.1
		cue.startSeconds = adjusted
		cue.startText = secondsToVTTTimestamp(adjusted)
		out = append(out, cue)
	}
	return out
}

var voiceTagPattern = regexp.MustCompile(`<v [^>]+>`)

// textsSimilar reports whether two cue texts are similar enough to be
// treated as a continuation duplicate, using exact match, substring
// containment, and Jaro-Winkler similarity as fallbacks.
func textsSimilar(a, b string, threshold float64) bool {
	clean1 := strings.ToLower(strings.TrimSpace(voiceTagPattern.ReplaceAllString(a, "")))
	clean2 := strings.ToLower(strings.TrimSpace(voiceTagPattern.ReplaceAllString(b, "")))
	if clean1 == "" || clean2 == "" {
		return false
	}
	if clean1 == clean2 {
		return true
	}

	shorter, longer := clean1, clean2
	if len(clean2) < len(clean1) {
		shorter, longer = clean2, clean1
	}
	if strings.Contains(longer, shorter) && float64(len(shorter))/float64(len(longer)) > threshold {
		return true
	}

	return matchr.JaroWinkler(clean1, clean2, false) >= threshold
}

func rebuildVTT(cues []vttCue) string {
	var b strings.Builder
	b.WriteString("WEBVTT\n\n")
	for _, c := range cues {
		fmt.Fprintf(&b, "%s --> %s\n%s\n\n", c.startText, c.endText, c.text)
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

var timestampPairPattern = regexp.MustCompile(`(\d{1,2}:\d{2}:\d{2}\.\d{3})\s*-->\s*(\d{1,2}:\d{2}:\d{2}\.\d{3})`)

// validateCompleteness reports whether transcript's last cue end time
// reaches minCoverage of expectedDuration, and the raw coverage fraction.
func validateCompleteness(transcript string, expectedDuration, minCoverage float64) (bool, float64) {
	if transcript == "" || expectedDuration <= 0 {
		return false, 0
	}
	last, ok := lastCueEndSeconds(transcript)
	if !ok {
		return false, 0
	}
	coverage := last / expectedDuration
	return coverage >= minCoverage, coverage
}

func lastCueEndSeconds(transcript string) (float64, bool) {
	matches := timestampPairPattern.FindAllStringSubmatch(transcript, -1)
	if len(matches) == 0 {
		return 0, false
	}
	last := matches[len(matches)-1]
	seconds, ok := parseVTTTimestamp(last[2])
	return seconds, ok
}

// extractContextLines returns the text of the last n cues in transcript,
// formatted for inclusion in a continuation prompt.
func extractContextLines(transcript string, n int) []string {
	cues := parseCues(transcript)
	if len(cues) == 0 {
		return nil
	}
	if len(cues) > n {
		cues = cues[len(cues)-n:]
	}
	lines := make([]string, 0, len(cues))
	for _, c := range cues {
		clean := voiceTagPattern.ReplaceAllString(c.text, "")
		lines = append(lines, fmt.Sprintf("%s --> %s: %s", c.startText, c.endText, strings.TrimSpace(clean)))
	}
	return lines
}

func buildContinuationPrompt(meta TranscribeMetadata, lastTimestamp float64, contextLines []string) string {
	start := secondsToVTTTimestamp(lastTimestamp)
	context := "No previous context available"
	if len(contextLines) > 0 {
		context = strings.Join(contextLines, "\n")
	}

	return fmt.Sprintf(`Continue transcribing this podcast episode from timestamp %s onward.

Episode Information:
- Podcast: %s
- Title: %s
- Date: %s

Previous transcript context (last few segments):
%s

Please continue the transcript from %s onward using the same format:
1. Use WebVTT format with proper timestamps (HH:MM:SS.mmm --> HH:MM:SS.mmm)
2. Include speaker identification with <v SPEAKER_N> tags
3. Maintain consistent speaker numbering from the context above
4. Keep segments 5-7 seconds long and under 2 lines of text
5. Start immediately from %s - do not repeat previous content

Continue the transcript:`, start, firstNonEmpty(meta.PodcastName, "Unknown"), firstNonEmpty(meta.Title, "Unknown"), firstNonEmpty(meta.PublicationDate, "Unknown"), context, start, start)
}

func firstNonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// parseVTTTimestamp parses a WebVTT timestamp (HH:MM:SS.mmm or MM:SS.mmm)
// into seconds.
func parseVTTTimestamp(ts string) (float64, bool) {
	parts := strings.Split(ts, ":")
	switch len(parts) {
	case 3:
		h, err1 := strconv.Atoi(parts[0])
		min, err2 := strconv.Atoi(parts[1])
		sec, err3 := strconv.ParseFloat(parts[2], 64)
		if err1 != nil || err2 != nil || err3 != nil {
			return 0, false
		}
		return float64(h)*3600 + float64(min)*60 + sec, true
	case 2:
		min, err1 := strconv.Atoi(parts[0])
		sec, err2 := strconv.ParseFloat(parts[1], 64)
		if err1 != nil || err2 != nil {
			return 0, false
		}
		return float64(min)*60 + sec, true
	default:
		return 0, false
	}
}

func secondsToVTTTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	d := time.Duration(seconds * float64(time.Second))
	h := d / time.Hour
	d -= h * time.Hour
	min := d / time.Minute
	d -= min * time.Minute
	sec := d / time.Second
	d -= sec * time.Second
	ms := d / time.Millisecond
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, min, sec, ms)
}
