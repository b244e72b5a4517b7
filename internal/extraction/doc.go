// Package extraction runs schemaless knowledge extraction over an episode's
// MeaningfulUnits with bounded concurrency.
//
// Each unit is processed by one worker: a combined entities/quotes/insights/
// relationships call (falling back to four separate calls if the combined
// prompt fails to parse), a separate sentiment call, and local-only
// importance/complexity scoring. Workers share no mutable state beyond an
// indexed results slice and a progress counter, both safe under concurrent
// access. A unit that errors out does not stop the batch — failures are
// aggregated and only turn fatal once they exceed Config.MaxFailureRate.
package extraction
