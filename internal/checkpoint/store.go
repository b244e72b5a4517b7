package checkpoint

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/MrWong99/podgraph/pkg/model"
)

// ErrNotFound is returned by Load when no checkpoint exists for an episode.
var ErrNotFound = errors.New("checkpoint: not found")

// Store persists model.Checkpoint values to a directory, one file per
// episode. Store is safe for concurrent use across different episode IDs;
// concurrent Save calls for the *same* episode ID are not serialized by
// Store itself — internal/orchestrator only ever has one active run per
// episode, so this is not a concern in practice.
type Store struct {
	dir      string
	compress bool
	logger   *slog.Logger
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithCompression enables gzip compression of checkpoint files. Default: off.
func WithCompression(enabled bool) Option {
	return func(s *Store) { s.compress = enabled }
}

// WithLogger attaches a structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// NewStore creates a Store rooted at dir, creating the directory if needed.
func NewStore(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("checkpoint: create dir %q: %w", dir, err)
	}
	s := &Store{dir: dir, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Store) path(episodeID string) string {
	name := episodeID + ".checkpoint.json"
	if s.compress {
		name += ".gz"
	}
	return filepath.Join(s.dir, name)
}

// Save writes a checkpoint recording that episodeID has completed phase,
// storing payloads exactly as given and replacing any earlier checkpoint file;
// callers pass every phase's payload accumulated so far.
// Save failures are logged, not returned, per this package's optimization-only
// contract — but Save still returns an error so callers that want stricter
// behavior (e.g. tests) are not forced to ignore it.
func (s *Store) Save(episodeID string, phase model.Phase, payloads map[model.Phase]json.RawMessage, metadata map[string]any) error {
	cp := model.Checkpoint{
		EpisodeID:          episodeID,
		LastCompletedPhase: phase,
		Payloads:           payloads,
		Metadata:           metadata,
		Timestamp:          time.Now().UTC(),
		Version:            model.CheckpointEnvelopeVersion,
	}

	if err := s.write(episodeID, cp); err != nil {
		s.logger.Warn("checkpoint: save failed", "episode_id", episodeID, "phase", phase, "error", err)
		return err
	}
	return nil
}

func (s *Store) write(episodeID string, cp model.Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: marshal: %w", err)
	}

	path := s.path(episodeID)
	tmp, err := os.CreateTemp(s.dir, ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("checkpoint: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	var w io.Writer = tmp
	var gz *gzip.Writer
	if s.compress {
		gz = gzip.NewWriter(tmp)
		w = gz
	}
	if _, err := w.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("checkpoint: write temp file: %w", err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			tmp.Close()
			return fmt.Errorf("checkpoint: close gzip writer: %w", err)
		}
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("checkpoint: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("checkpoint: rename temp file: %w", err)
	}
	return nil
}

// Load reads the checkpoint for episodeID, applying version migrations if
// needed. Returns ErrNotFound if no checkpoint file exists.
func (s *Store) Load(episodeID string) (*model.Checkpoint, error) {
	path := s.path(episodeID)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: read %q: %w", path, err)
	}

	if s.compress {
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("checkpoint: gzip reader: %w", err)
		}
		defer r.Close()
		data, err = io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("checkpoint: gzip read: %w", err)
		}
	}

	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("checkpoint: unmarshal envelope: %w", err)
	}

	migrated, err := migrate(raw, s.dir, episodeID, path, data)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: migrate: %w", err)
	}

	var cp model.Checkpoint
	if err := json.Unmarshal(migrated, &cp); err != nil {
		return nil, fmt.Errorf("checkpoint: unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

// Delete removes episodeID's checkpoint file. A missing file is not an error.
func (s *Store) Delete(episodeID string) error {
	path := s.path(episodeID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("checkpoint: delete %q: %w", path, err)
	}
	return nil
}

// Age returns how long ago episodeID's checkpoint was last saved.
func (s *Store) Age(episodeID string) (time.Duration, error) {
	cp, err := s.Load(episodeID)
	if err != nil {
		return 0, err
	}
	return time.Since(cp.Timestamp), nil
}
