package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent, runnable configuration. It
// returns a joined error listing every validation failure found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if len(cfg.LLM.Keys) == 0 {
		errs = append(errs, errors.New("llm.keys must contain at least one entry"))
	}
	for i, k := range cfg.LLM.Keys {
		if k.APIKey == "" {
			errs = append(errs, fmt.Errorf("llm.keys[%d].api_key is required", i))
		}
	}
	if cfg.LLM.Provider == "" {
		errs = append(errs, errors.New("llm.provider is required"))
	}
	switch cfg.LLM.Rotation {
	case "", "deterministic", "round_robin":
	default:
		errs = append(errs, fmt.Errorf("llm.rotation %q is invalid; valid values: deterministic, round_robin", cfg.LLM.Rotation))
	}

	if cfg.GraphStore.PostgresDSN == "" {
		errs = append(errs, errors.New("graph_store.postgres_dsn is required"))
	}

	if cfg.Embeddings.Provider != "" && cfg.Embeddings.Dimensions <= 0 {
		errs = append(errs, errors.New("embeddings.dimensions must be positive when embeddings.provider is set"))
	}

	if cfg.Speakers.MinConfidence < 0 || cfg.Speakers.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("speakers.min_confidence %.2f is out of range [0, 1]", cfg.Speakers.MinConfidence))
	}

	if cfg.Extraction.MaxFailureRate < 0 || cfg.Extraction.MaxFailureRate > 1 {
		errs = append(errs, fmt.Errorf("extraction.max_failure_rate %.2f is out of range [0, 1]", cfg.Extraction.MaxFailureRate))
	}
	if cfg.Extraction.MaxConcurrentUnits < 0 {
		errs = append(errs, errors.New("extraction.max_concurrent_units must not be negative"))
	}

	return errors.Join(errs...)
}
