package quota

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/MrWong99/podgraph/pkg/model"
)

// usageFile is the on-disk envelope written to Config.UsageFilePath.
type usageFile struct {
	LastUpdated time.Time        `json:"last_updated"`
	Trackers    []model.KeyUsage `json:"trackers"`
}

// usageSnapshotLocked returns a copy of every key's current usage. Callers
// must hold m.mu.
func (m *Manager) usageSnapshotLocked() []model.KeyUsage {
	out := make([]model.KeyUsage, len(m.keys))
	for i, ks := range m.keys {
		out[i] = ks.usage
	}
	return out
}

// loadUsage reads a previously persisted usage table. A missing file
// returns (nil, nil); any other read or parse failure is returned as an
// error for the caller to log and ignore.
func loadUsage(path string) ([]model.KeyUsage, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("quota: read usage file: %w", err)
	}

	var f usageFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("quota: parse usage file: %w", err)
	}
	return f.Trackers, nil
}

// saveUsage writes trackers to path atomically (temp file + rename) so a
// crash mid-write never leaves a truncated or corrupt usage file.
func saveUsage(path string, trackers []model.KeyUsage) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("quota: create usage dir: %w", err)
	}

	f := usageFile{
		LastUpdated: time.Now().UTC(),
		Trackers:    trackers,
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("quota: marshal usage: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".usage-*.tmp")
	if err != nil {
		return fmt.Errorf("quota: create temp usage file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("quota: write temp usage file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("quota: close temp usage file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("quota: rename usage file: %w", err)
	}
	return nil
}
