// Package config provides the YAML configuration schema and loader for the
// podgraph episode pipeline: API key pools, graph store connection,
// checkpoint/embedding-failure paths, and the per-component tuning knobs
// described in the specification's resource-limits table.
package config

import "time"

// Config is the root configuration structure for a podgraph run.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	LLM        LLMConfig        `yaml:"llm"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	GraphStore GraphStoreConfig `yaml:"graph_store"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Speakers   SpeakersConfig   `yaml:"speakers"`
	Extraction ExtractionConfig `yaml:"extraction"`
}

// ServerConfig holds process-wide logging settings.
type ServerConfig struct {
	// LogLevel controls verbosity. Valid values: "debug", "info", "warn", "error".
	LogLevel LogLevel `yaml:"log_level"`
}

// LogLevel is a validated logging verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is one of the recognized log levels.
func (l LogLevel) IsValid() bool {
	switch l {
	case "", LogDebug, LogInfo, LogWarn, LogError:
		return true
	default:
		return false
	}
}

// LLMConfig declares the key pool and quota policy internal/quota's Manager
// is constructed from, plus which backend each key talks to.
type LLMConfig struct {
	// Provider names the any-llm-go backend shared by every key (e.g.
	// "gemini", "openai", "anthropic"). Per-key model overrides are not
	// supported — a single model keeps prompt/response shape stable across
	// rotation.
	Provider string `yaml:"provider"`

	// Model is the model identifier passed to Provider for every key.
	Model string `yaml:"model"`

	// Keys is the rotation pool. Must be non-empty.
	Keys []KeyEntry `yaml:"keys"`

	// RPM, RPD, TPD override the free-tier budgets applied to every
	// non-paid key. Zero means use internal/quota's defaults (5/25/1_000_000).
	RPM int `yaml:"rpm"`
	RPD int `yaml:"rpd"`
	TPD int `yaml:"tpd"`

	// Rotation selects the tie-break policy among eligible free keys:
	// "deterministic" or "round_robin".
	Rotation string `yaml:"rotation"`

	// RetryAttempts is the total attempts per operation, including the first.
	RetryAttempts int `yaml:"retry_attempts"`

	// UsageFilePath is where per-key usage counters are persisted between
	// runs. Default: "./data/.podgraph_usage.json".
	UsageFilePath string `yaml:"usage_file_path"`

	// UsePaidKeyOnly restricts the pool to keys marked IsPaidTier, skipping
	// free-tier spacing and budget checks entirely. Mirrors the
	// USE_PAID_KEY_ONLY environment knob.
	UsePaidKeyOnly bool `yaml:"use_paid_key_only"`
}

// KeyEntry describes one API key in LLMConfig.Keys.
type KeyEntry struct {
	// APIKey is the raw key value. Never logged; Validate redacts it in
	// any error message.
	APIKey string `yaml:"api_key"`

	// IsPaidTier marks this key exempt from free-tier RPD/TPD budgets.
	IsPaidTier bool `yaml:"is_paid_tier"`
}

// EmbeddingsConfig selects the single embedding backend internal/unitbuilder
// calls once per MeaningfulUnit.
type EmbeddingsConfig struct {
	// Provider selects the embedclient implementation: "openai" or "mock".
	Provider string `yaml:"provider"`

	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`

	// Dimensions must match Provider's model output width; used to size the
	// graph store's vector column.
	Dimensions int `yaml:"dimensions"`

	// FailureLogDir is the directory under which unitbuilder writes dated
	// JSON files recording embedding failures for later recovery; the files
	// go in its embedding_failures subdirectory. Default: "./logs".
	FailureLogDir string `yaml:"failure_log_dir"`
}

// GraphStoreConfig configures the Postgres-backed labeled-property-graph store.
type GraphStoreConfig struct {
	// PostgresDSN is the connection string for the graph store's pool.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// CheckpointConfig configures phase-keyed checkpointing.
type CheckpointConfig struct {
	// Dir is the directory checkpoint files are written under. Default: "./checkpoints".
	Dir string `yaml:"dir"`

	// Compress gzip-compresses checkpoint files on disk.
	Compress bool `yaml:"compress"`

	// MaxAge is the age at which a stale checkpoint is considered suspect.
	// It is parsed and kept on the config only: checkpoint loading does not
	// check a checkpoint's age, logs no warning for old checkpoints and
	// deletes none, and no default is applied.
	MaxAge time.Duration `yaml:"max_age"`

	// Disabled mirrors the DISABLE_CHECKPOINTS environment knob: when true,
	// the orchestrator neither loads nor saves checkpoints for any episode.
	Disabled bool `yaml:"disabled"`
}

// SpeakersConfig tunes speaker identification and the optional
// post-processing pass.
type SpeakersConfig struct {
	// MaxWindowSegments bounds how much transcript text is sent as context
	// to a single identification call. Default: 50.
	MaxWindowSegments int `yaml:"max_window_segments"`

	// MinConfidence floors individual speaker mappings; below-floor
	// mappings keep their generic label. Default: 0.5.
	MinConfidence float64 `yaml:"min_confidence"`

	// EnablePostProcessMapping opts into the optional PHASE_POST_PROCESS_SPEAKERS
	// pass. Default: false — see SPEC_FULL.md's Open Question on the two
	// overlapping speaker-mapping passes in the original pipeline.
	EnablePostProcessMapping bool `yaml:"enable_post_process_mapping"`
}

// ExtractionConfig tunes the worker pool's concurrency, timeout, and
// partial-failure policy.
type ExtractionConfig struct {
	// MaxConcurrentUnits bounds how many units are extracted in parallel.
	// Default: 4.
	MaxConcurrentUnits int `yaml:"max_concurrent_units"`

	// UnitTimeout is the wall-clock budget for one unit's extraction.
	// Default: 120s.
	UnitTimeout time.Duration `yaml:"unit_timeout"`

	// MaxFailureRate is the fraction of units (failures/total) above which
	// the whole batch is rejected. Default: 0.5 — configurable per
	// SPEC_FULL.md's Open Question on the original's hard-coded threshold.
	MaxFailureRate float64 `yaml:"max_failure_rate"`
}
