package resolver

import (
	"sort"
	"testing"

	"github.com/MrWong99/podgraph/pkg/model"
)

func TestResolve_MergesByNormalizedTypeAndValue(t *testing.T) {
	entities := []model.Entity{
		{Value: "Kubernetes", Type: "Technology", Confidence: 0.6, Properties: map[string]any{
			"description":         "a container orchestrator",
			"meaningful_unit_ids": []string{"u1"},
		}},
		{Value: " kubernetes ", Type: "technology", Confidence: 0.9, Properties: map[string]any{
			"description":         "an open source project",
			"meaningful_unit_ids": []string{"u2", "u1"},
		}},
	}

	resolved := Resolve(entities)
	if len(resolved.Entities) != 1 {
		t.Fatalf("got %d entities, want 1", len(resolved.Entities))
	}

	merged := resolved.Entities[0]
	if merged.Value != "Kubernetes" {
		t.Errorf("Value = %q, want first-seen spelling %q", merged.Value, "Kubernetes")
	}
	if merged.Confidence != 0.9 {
		t.Errorf("Confidence = %v, want 0.9 (highest-confidence record)", merged.Confidence)
	}

	desc, _ := merged.Properties["description"].(string)
	if desc != "a container orchestrator; an open source project" {
		t.Errorf("description = %q, want concatenated distinct descriptions", desc)
	}

	ids := merged.Properties["meaningful_unit_ids"].([]string)
	sort.Strings(ids)
	want := []string{"u1", "u2"}
	if len(ids) != len(want) || ids[0] != want[0] || ids[1] != want[1] {
		t.Errorf("meaningful_unit_ids = %v, want deduped union %v", ids, want)
	}

	for _, rawValue := range []string{"Kubernetes", " kubernetes "} {
		if resolved.CanonicalIDs[rawValue] == "" {
			t.Errorf("CanonicalIDs missing entry for %q", rawValue)
		}
	}
	if resolved.CanonicalIDs["Kubernetes"] != resolved.CanonicalIDs[" kubernetes "] {
		t.Errorf("expected both raw spellings to map to the same canonical id")
	}
}

func TestResolve_DistinctTypesDoNotMerge(t *testing.T) {
	entities := []model.Entity{
		{Value: "Go", Type: "language", Confidence: 0.8},
		{Value: "Go", Type: "company", Confidence: 0.5},
	}

	resolved := Resolve(entities)
	if len(resolved.Entities) != 2 {
		t.Fatalf("got %d entities, want 2 (different types should not merge)", len(resolved.Entities))
	}
}

func TestResolve_IsIdempotent(t *testing.T) {
	entities := []model.Entity{
		{Value: "Alex", Type: "person", Confidence: 0.7, Properties: map[string]any{
			"meaningful_unit_ids": []string{"u1"},
		}},
		{Value: "alex", Type: "Person", Confidence: 0.8, Properties: map[string]any{
			"meaningful_unit_ids": []string{"u2"},
		}},
	}

	first := Resolve(entities)
	second := Resolve(first.Entities)

	if len(second.Entities) != len(first.Entities) {
		t.Fatalf("second pass produced %d entities, want %d", len(second.Entities), len(first.Entities))
	}
	if first.Entities[0].Value != second.Entities[0].Value {
		t.Errorf("Value changed across passes: %q vs %q", first.Entities[0].Value, second.Entities[0].Value)
	}
	if first.Entities[0].Confidence != second.Entities[0].Confidence {
		t.Errorf("Confidence changed across passes: %v vs %v", first.Entities[0].Confidence, second.Entities[0].Confidence)
	}
}
