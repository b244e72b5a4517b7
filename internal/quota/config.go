package quota

import "time"

// Rotation selects how the key selector breaks ties among multiple eligible
// free-tier keys.
type Rotation string

const (
	// RotationDeterministic always prefers the lowest-indexed eligible key.
	RotationDeterministic Rotation = "deterministic"

	// RotationRoundRobin cycles through eligible keys across calls, to
	// spread load (and risk) evenly across a key pool.
	RotationRoundRobin Rotation = "round_robin"
)

// KeyConfig describes one API key in the rotation pool.
type KeyConfig struct {
	// APIKey is the raw key value. Never logged.
	APIKey string

	// IsPaidTier marks a key as exempt from the free-tier RPD/TPD budgets
	// and from RPM spacing; a paid key is eligible whenever it is available.
	IsPaidTier bool
}

// Config configures a Manager's key pool, budgets, and resilience policy.
// Zero-value fields are replaced with the defaults noted below, which
// mirror the Gemini free tier the original pipeline was built against.
type Config struct {
	// Keys is the pool of API keys to rotate across. Must be non-empty.
	Keys []KeyConfig

	// RPM, RPD, TPD are the free-tier requests-per-minute,
	// requests-per-day, and tokens-per-day budgets applied to every
	// non-paid key. Defaults: 5, 25, 1_000_000.
	RPM int
	RPD int
	TPD int

	// Rotation selects the tie-break policy among eligible free keys.
	// Default: RotationDeterministic.
	Rotation Rotation

	// RetryAttempts is the total number of attempts (including the first)
	// made per operation before giving up. Default: 2.
	RetryAttempts int

	// BreakerMaxFailures and BreakerResetTimeout configure the
	// per-(operation, key) circuit breaker. Defaults: 5, 60s.
	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration

	// MaxContinuations caps the number of continuation calls issued by
	// Transcribe before returning a best-effort result. Default: 10.
	MaxContinuations int

	// MinCoverageRatio is the fraction of expected duration a stitched
	// transcript must cover before Transcribe stops requesting
	// continuations. Default: 0.85.
	MinCoverageRatio float64

	// OverlapTolerance is how far a continuation cue may start before the
	// previous cue's end and still be kept as is during stitching; a cue
	// overlapping by more than this is dropped as a duplicate when its text
	// is similar enough, and otherwise moved to start at the previous end.
	// Default: 2 * time.Second.
	OverlapTolerance time.Duration

	// SimilarityThreshold is the minimum Jaro-Winkler similarity between
	// two overlapping cues' text for them to be treated as duplicates
	// during stitching. Default: 0.8.
	SimilarityThreshold float64

	// UsageFilePath is where persisted per-key usage counters are read from
	// and written to. Default: "./data/.podgraph_usage.json".
	UsageFilePath string
}

func (c Config) withDefaults() Config {
	if c.RPM <= 0 {
		c.RPM = 5
	}
	if c.RPD <= 0 {
		c.RPD = 25
	}
	if c.TPD <= 0 {
		c.TPD = 1_000_000
	}
	if c.Rotation == "" {
		c.Rotation = RotationDeterministic
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 2
	}
	if c.BreakerMaxFailures <= 0 {
		c.BreakerMaxFailures = 5
	}
	if c.BreakerResetTimeout <= 0 {
		c.BreakerResetTimeout = 60 * time.Second
	}
	if c.MaxContinuations <= 0 {
		c.MaxContinuations = 10
	}
	if c.MinCoverageRatio <= 0 {
		c.MinCoverageRatio = 0.85
	}
	if c.OverlapTolerance <= 0 {
		c.OverlapTolerance = 2 * time.Second
	}
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = 0.8
	}
	if c.UsageFilePath == "" {
		c.UsageFilePath = "./data/.podgraph_usage.json"
	}
	return c
}
