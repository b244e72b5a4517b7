// Package unitbuilder turns a model.ConversationStructure's segment ranges
// into persisted model.MeaningfulUnit values: concatenated text, timing
// with a 2-second lead-in, primary-speaker and speaker-distribution
// statistics, a deterministic ID, and an embedding vector.
//
// Embedding failures are not fatal to the unit: the unit is still returned
// with Embedding left nil, and the failure is recorded for later recovery
// via Builder.FlushFailures.
package unitbuilder
