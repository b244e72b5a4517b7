// Package webvtt is the reference implementation of vttparse.Parser: a
// WebVTT 1.0 lexer that produces timed segments and transcript-level
// metadata from a transcript file.
package webvtt

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/MrWong99/podgraph/pkg/model"
	"github.com/MrWong99/podgraph/pkg/vttparse"
)

var _ vttparse.Parser = (*Parser)(nil)

// recognizedNoteKeys are the metadata keys a NOTE block may carry, per the
// transcript ingestion contract. Unrecognized keys are logged and ignored.
var recognizedNoteKeys = map[string]bool{
	"podcast":        true,
	"episode":        true,
	"author":         true,
	"youtube_url":    true,
	"published_date": true,
	"description":    true,
	"duration":       true,
}

// Parser parses WebVTT 1.0 transcript files.
type Parser struct {
	logger *slog.Logger
}

// Option configures a Parser at construction time.
type Option func(*Parser)

// WithLogger attaches a structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Parser) { p.logger = logger }
}

// New creates a Parser.
func New(opts ...Option) *Parser {
	p := &Parser{logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse reads and lexes the WebVTT file at path. It satisfies
// vttparse.Parser. Cues without a "-->" line are skipped; NOTE blocks are
// scanned for recognized metadata keys and otherwise discarded.
func (p *Parser) Parse(path string) ([]model.Segment, model.VTTMetadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, model.VTTMetadata{}, fmt.Errorf("webvtt: open %s: %w", path, err)
	}
	defer f.Close()

	segments, meta, err := parse(f, p.logger)
	if err != nil {
		return nil, model.VTTMetadata{}, fmt.Errorf("webvtt: parse %s: %w", path, err)
	}
	return segments, meta, nil
}

func parse(r *os.File, logger *slog.Logger) ([]model.Segment, model.VTTMetadata, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		segments    []model.Segment
		hasVoice    bool
		seenHeader  bool
		cueIndex    int
		lines       []string
		collecting  bool
		isNoteBlock bool
	)

	flush := func() {
		if len(lines) == 0 {
			return
		}
		if isNoteBlock {
			applyNoteMetadata(lines, logger)
		} else if seg, ok := parseCueBlock(lines, cueIndex); ok {
			if strings.Contains(seg.Text, voiceTagMarker) {
				hasVoice = true
			}
			seg.Text = stripVoiceTag(seg.Text, &seg.Speaker)
			cueIndex++
			segments = append(segments, seg)
		}
		lines = nil
		collecting = false
		isNoteBlock = false
	}

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if !seenHeader {
			if strings.HasPrefix(trimmed, "WEBVTT") {
				seenHeader = true
				continue
			}
			if trimmed == "" {
				continue
			}
			return nil, model.VTTMetadata{}, fmt.Errorf("missing WEBVTT header")
		}

		if trimmed == "" {
			flush()
			continue
		}

		if !collecting {
			collecting = true
			isNoteBlock = strings.HasPrefix(trimmed, "NOTE")
		}
		lines = append(lines, line)
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, model.VTTMetadata{}, fmt.Errorf("scan: %w", err)
	}

	meta := model.VTTMetadata{
		CueCount:     len(segments),
		HasVoiceTags: hasVoice,
	}
	if n := len(segments); n > 0 {
		meta.Duration = segments[n-1].EndTime - segments[0].StartTime
	}
	return segments, meta, nil
}

const voiceTagMarker = "<v "

// parseCueBlock turns the lines of one cue block (optional identifier line,
// a timing line, then text lines) into a Segment.
func parseCueBlock(lines []string, index int) (model.Segment, bool) {
	timingIdx := -1
	for i, l := range lines {
		if strings.Contains(l, "-->") {
			timingIdx = i
			break
		}
	}
	if timingIdx == -1 {
		return model.Segment{}, false
	}

	start, end, ok := parseTiming(lines[timingIdx])
	if !ok {
		return model.Segment{}, false
	}

	text := strings.TrimSpace(strings.Join(lines[timingIdx+1:], "\n"))
	if text == "" {
		return model.Segment{}, false
	}

	id := ""
	if timingIdx > 0 {
		id = strings.TrimSpace(lines[0])
	}
	if id == "" {
		id = fmt.Sprintf("cue-%d", index)
	}

	return model.Segment{
		ID:        id,
		Text:      text,
		StartTime: start,
		EndTime:   end,
		Speaker:   "SPEAKER_UNKNOWN",
	}, true
}

// parseTiming parses a "HH:MM:SS.mmm --> HH:MM:SS.mmm [cue settings]" line.
func parseTiming(line string) (start, end float64, ok bool) {
	parts := strings.SplitN(line, "-->", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	start, ok = parseTimestamp(strings.TrimSpace(parts[0]))
	if !ok {
		return 0, 0, false
	}
	rest := strings.TrimSpace(parts[1])
	endField := strings.Fields(rest)
	if len(endField) == 0 {
		return 0, 0, false
	}
	end, ok = parseTimestamp(endField[0])
	return start, end, ok
}

// parseTimestamp parses "HH:MM:SS.mmm" or "MM:SS.mmm" into seconds.
func parseTimestamp(ts string) (float64, bool) {
	fields := strings.Split(ts, ":")
	var h, m int
	var secStr string
	switch len(fields) {
	case 3:
		hh, err := strconv.Atoi(fields[0])
		if err != nil {
			return 0, false
		}
		h = hh
		mm, err := strconv.Atoi(fields[1])
		if err != nil {
			return 0, false
		}
		m = mm
		secStr = fields[2]
	case 2:
		mm, err := strconv.Atoi(fields[0])
		if err != nil {
			return 0, false
		}
		m = mm
		secStr = fields[1]
	default:
		return 0, false
	}
	sec, err := strconv.ParseFloat(secStr, 64)
	if err != nil {
		return 0, false
	}
	return float64(h*3600+m*60) + sec, true
}

// stripVoiceTag removes a leading "<v Speaker>" tag from text, setting
// speaker to the captured name when present, and strips any other inline
// markup tags (<i>, <b>, <c>, ...) with a small state machine.
func stripVoiceTag(text string, speaker *string) string {
	if strings.HasPrefix(text, voiceTagMarker) {
		closeIdx := strings.Index(text, ">")
		if closeIdx > 0 {
			name := strings.TrimSpace(text[len(voiceTagMarker):closeIdx])
			if name != "" {
				*speaker = name
			}
			text = text[closeIdx+1:]
		}
	}
	return stripTags(text)
}

// stripTags removes inline WebVTT markup tags (<i>, <b>, <c.classname>, ...)
// from s, leaving their text content.
func stripTags(s string) string {
	if !strings.ContainsRune(s, '<') {
		return strings.TrimSpace(s)
	}
	var b strings.Builder
	b.Grow(len(s))
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// applyNoteMetadata scans a NOTE block's lines for "key: value" pairs among
// the recognized metadata keys. Recognized values are currently
// informational only — pkg/model.VTTMetadata carries cue-derived facts, not
// free-form NOTE metadata — so this only guards against silently mistaking
// an unrecognized NOTE block for a cue.
func applyNoteMetadata(lines []string, logger *slog.Logger) {
	for _, l := range lines[1:] {
		parts := strings.SplitN(l, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(parts[0]))
		if !recognizedNoteKeys[key] {
			if logger != nil {
				logger.Debug("webvtt: unrecognized NOTE metadata key", "key", key)
			}
			continue
		}
	}
}
