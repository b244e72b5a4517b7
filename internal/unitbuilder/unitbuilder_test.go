package unitbuilder

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/podgraph/pkg/embedclient/mock"
	"github.com/MrWong99/podgraph/pkg/model"
)

func testSegments() []model.Segment {
	return []model.Segment{
		{ID: "s0", Text: "hello there", Speaker: "Alex", StartTime: 10, EndTime: 15},
		{ID: "s1", Text: "hi Alex", Speaker: "Jamie", StartTime: 15, EndTime: 16},
		{ID: "s2", Text: "great to have you", Speaker: "Alex", StartTime: 16, EndTime: 20},
	}
}

func testStructure() *model.ConversationStructure {
	return &model.ConversationStructure{
		Units: []model.Unit{{StartIndex: 0, EndIndex: 2, UnitType: "intro"}},
		Themes: []model.Theme{
			{Name: "greeting", SegmentRefs: []string{"s0"}},
		},
	}
}

func TestBuilder_Build_ComputesTimingSpeakerAndEmbedding(t *testing.T) {
	embed := &mock.Provider{EmbedResult: []float32{0.1, 0.2}}
	b := New(embed)

	units, err := b.Build(context.Background(), "ep-1", testSegments(), testStructure())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(units) != 1 {
		t.Fatalf("got %d units, want 1", len(units))
	}
	u := units[0]

	if u.StartTime != 8 {
		t.Errorf("StartTime = %v, want 8 (10 - 2 lead-in)", u.StartTime)
	}
	if u.EndTime != 20 {
		t.Errorf("EndTime = %v, want 20", u.EndTime)
	}
	if u.PrimarySpeaker != "Alex" {
		t.Errorf("PrimarySpeaker = %q, want Alex (9s vs Jamie's 1s)", u.PrimarySpeaker)
	}
	if len(u.Embedding) != 2 {
		t.Errorf("Embedding = %v, want length 2", u.Embedding)
	}
	if len(u.Themes) != 1 || u.Themes[0] != "greeting" {
		t.Errorf("Themes = %v, want [greeting]", u.Themes)
	}
	if len(u.SegmentRefs) != 3 {
		t.Errorf("SegmentRefs = %v, want 3 entries", u.SegmentRefs)
	}

	sum := 0.0
	for _, f := range u.SpeakerDistribution {
		sum += f
	}
	if sum < 0.999 || sum > 1.001 {
		t.Errorf("SpeakerDistribution fractions sum to %v, want ~1.0", sum)
	}
}

func TestBuilder_Build_DeterministicID(t *testing.T) {
	embed := &mock.Provider{EmbedResult: []float32{0.1}}
	b1 := New(embed)
	b2 := New(embed)

	units1, _ := b1.Build(context.Background(), "ep-1", testSegments(), testStructure())
	units2, _ := b2.Build(context.Background(), "ep-1", testSegments(), testStructure())

	if units1[0].ID != units2[0].ID {
		t.Errorf("IDs differ across runs: %q vs %q, want deterministic", units1[0].ID, units2[0].ID)
	}
}

func TestBuilder_Build_RecordsEmbeddingFailureAndFlushes(t *testing.T) {
	embed := &mock.Provider{EmbedErr: errors.New("embedding backend down")}
	b := New(embed)

	units, err := b.Build(context.Background(), "ep-1", testSegments(), testStructure())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if units[0].Embedding != nil {
		t.Errorf("Embedding = %v, want nil on failure", units[0].Embedding)
	}
	if !b.HasFailures() {
		t.Fatal("expected HasFailures to be true")
	}

	dir := t.TempDir()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := b.FlushFailures(dir, "ep-1", now); err != nil {
		t.Fatalf("FlushFailures: %v", err)
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "embedding_failures", "failures_*_ep-1.json"))
	if len(matches) != 1 {
		t.Fatalf("expected one failure log file, found %d", len(matches))
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read failure log: %v", err)
	}
	var entries []map[string]any
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("unmarshal failure log: %v", err)
	}
	if len(entries) != 1 || entries[0]["unit_id"] != units[0].ID {
		t.Errorf("failure log entries = %v, want one entry for unit %q", entries, units[0].ID)
	}
}
