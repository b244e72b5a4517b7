package resolver

import (
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/MrWong99/podgraph/pkg/model"
)

// Resolved is the output of Resolve: the deduplicated entity set plus a map
// from every raw Entity.Value string seen to the canonical id of the merged
// entity it was folded into.
type Resolved struct {
	Entities     []model.Entity
	CanonicalIDs map[string]string

	// CanonicalValues maps every raw Entity.Value string seen to the
	// first-seen spelling of the merged entity it was folded into — i.e.
	// Entities[i].Value for the group it belongs to. internal/orchestrator
	// uses this (not CanonicalIDs) to rewrite Relationship.Source/Target
	// before handing the batch to internal/graphstore, since the writer
	// resolves relationship endpoints against the Entity.Value strings it
	// was given, not against CanonicalIDs' opaque hashes.
	CanonicalValues map[string]string
}

type group struct {
	key        string
	firstValue string
	entities   []model.Entity
}

// Resolve groups entities by (lowercased type, trimmed lowercased value)
// and merges each group into a single canonical entity: the
// highest-confidence record's scalar fields win, distinct descriptions are
// concatenated with "; ", meaningful_unit_ids lists are unioned, and the
// first-seen spelling of Value is preserved as canonical.
//
// Resolve is idempotent: resolving its own output again returns the same
// entities and id assignments.
func Resolve(entities []model.Entity) Resolved {
	groups := make(map[string]*group)
	var order []string

	for _, e := range entities {
		key := normalizeKey(e.Type, e.Value)
		g, ok := groups[key]
		if !ok {
			g = &group{key: key, firstValue: e.Value}
			groups[key] = g
			order = append(order, key)
		}
		g.entities = append(g.entities, e)
	}

	result := Resolved{
		CanonicalIDs:    make(map[string]string),
		CanonicalValues: make(map[string]string),
	}
	for _, key := range order {
		g := groups[key]
		id := canonicalID(key)
		merged := mergeGroup(g.entities, g.firstValue)
		result.Entities = append(result.Entities, merged)

		seenValues := make(map[string]bool)
		for _, e := range g.entities {
			if !seenValues[e.Value] {
				seenValues[e.Value] = true
				result.CanonicalIDs[e.Value] = id
				result.CanonicalValues[e.Value] = merged.Value
			}
		}
	}
	return result
}

func normalizeKey(entityType, value string) string {
	return strings.ToLower(strings.TrimSpace(entityType)) + "\x00" + strings.ToLower(strings.TrimSpace(value))
}

func canonicalID(key string) string {
	h := fnv.New64a()
	h.Write([]byte(key))
	return fmt.Sprintf("entity-%016x", h.Sum64())
}

func mergeGroup(entities []model.Entity, canonicalValue string) model.Entity {
	best := entities[0]
	for _, e := range entities[1:] {
		if e.Confidence > best.Confidence {
			best = e
		}
	}

	merged := model.Entity{
		Value:      canonicalValue,
		Type:       best.Type,
		Confidence: best.Confidence,
		Properties: map[string]any{},
	}
	for k, v := range best.Properties {
		merged.Properties[k] = v
	}

	if descriptions := distinctDescriptions(entities); len(descriptions) > 0 {
		merged.Properties["description"] = strings.Join(descriptions, "; ")
	} else {
		delete(merged.Properties, "description")
	}

	if unitIDs := unionUnitIDs(entities); len(unitIDs) > 0 {
		merged.Properties["meaningful_unit_ids"] = unitIDs
	}

	if len(merged.Properties) == 0 {
		merged.Properties = nil
	}
	return merged
}

func distinctDescriptions(entities []model.Entity) []string {
	var descriptions []string
	seen := make(map[string]bool)
	for _, e := range entities {
		desc, _ := e.Properties["description"].(string)
		desc = strings.TrimSpace(desc)
		if desc == "" || seen[desc] {
			continue
		}
		seen[desc] = true
		descriptions = append(descriptions, desc)
	}
	return descriptions
}

func unionUnitIDs(entities []model.Entity) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, e := range entities {
		for _, id := range toStringSlice(e.Properties["meaningful_unit_ids"]) {
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

// toStringSlice accepts []string (built in-process) and []any (decoded
// from JSON model responses) and normalizes both to []string.
func toStringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
