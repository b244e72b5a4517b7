// Package resolver merges entities extracted independently from separate
// MeaningfulUnits into a single canonical set, so the same person or thing
// mentioned across multiple units becomes one graph node instead of many.
//
// Entities merge when their type and value agree after case/whitespace
// normalization. internal/orchestrator uses the returned raw-value-to-
// canonical-value map to rewrite Relationship.Source/Target before the
// edges are written.
package resolver
