package quota

import (
	"strings"
	"testing"
)

func TestParseVTTTimestamp(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"00:00:05.000", 5},
		{"00:01:00.500", 60.5},
		{"01:00:00.000", 3600},
	}
	for _, c := range cases {
		got, ok := parseVTTTimestamp(c.in)
		if !ok {
			t.Fatalf("parseVTTTimestamp(%q) failed to parse", c.in)
		}
		if got != c.want {
			t.Errorf("parseVTTTimestamp(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestSecondsToVTTTimestamp_RoundTrip(t *testing.T) {
	ts := secondsToVTTTimestamp(3725.125)
	got, ok := parseVTTTimestamp(ts)
	if !ok {
		t.Fatalf("parseVTTTimestamp(%q) failed", ts)
	}
	if diff := got - 3725.125; diff > 0.001 || diff < -0.001 {
		t.Errorf("round trip mismatch: got %v, want ~3725.125", got)
	}
}

func TestValidateCompleteness(t *testing.T) {
	transcript := "WEBVTT\n\n00:00:00.000 --> 00:01:00.000\nhello\n\n00:01:00.000 --> 00:01:52.000\nworld\n"

	complete, coverage := validateCompleteness(transcript, 120, 0.95)
	if complete {
		t.Fatalf("expected incomplete at 112/120s coverage with a 0.95 minimum")
	}
	if coverage < 0.9 || coverage > 0.94 {
		t.Errorf("coverage = %v, want ~0.933", coverage)
	}

	complete, coverage = validateCompleteness(transcript, 100, 0.85)
	if !complete {
		t.Errorf("expected complete at 112/100s coverage")
	}
	_ = coverage
}

func TestManager_StitchTranscripts_RemovesOverlapDuplicates(t *testing.T) {
	m := newTestManager(t, Config{}, nil)
	_ = m // constructed only for its config defaults; stitching needs no provider

	seg1 := "WEBVTT\n\n00:00:00.000 --> 00:00:05.000\n<v SPEAKER_1>hello there\n\n" +
		"00:00:05.000 --> 00:00:10.000\n<v SPEAKER_2>how are you\n"
	seg2 := "WEBVTT\n\n00:00:05.000 --> 00:00:10.000\n<v SPEAKER_2>how are you\n\n" +
		"00:00:10.000 --> 00:00:15.000\n<v SPEAKER_1>doing great\n"

	stitched := m.stitchTranscripts([]string{seg1, seg2})

	if strings.Count(stitched, "how are you") != 1 {
		t.Errorf("expected duplicate overlapping cue to be removed, got:\n%s", stitched)
	}
	if !strings.Contains(stitched, "doing great") {
		t.Errorf("expected continuation content to survive stitching, got:\n%s", stitched)
	}
}

func TestTextsSimilar(t *testing.T) {
	if !textsSimilar("<v SPEAKER_1>hello there", "hello there", 0.8) {
		t.Errorf("expected identical text (modulo voice tag) to be similar")
	}
	if textsSimilar("completely different content", "something else entirely unrelated", 0.8) {
		t.Errorf("expected dissimilar text to not match")
	}
}
