// Package model defines the data types shared across the podgraph
// extraction pipeline: transcript segments, conversation structure,
// meaningful units, the open-vocabulary knowledge graph (entities, quotes,
// insights, relationships, sentiment), and the checkpoint/episode metadata
// that ties a pipeline run together.
//
// Fields that the original transcript-analysis prompts populate from
// free-form LLM output (entity types, relationship types, properties) are
// represented as maps rather than closed Go enums or struct fields, since
// the set of entity/relationship types is open-vocabulary by design: the
// pipeline must be able to store "mentioned_book" or "running_joke" without
// a code change. See internal/extraction and internal/resolver.
package model
