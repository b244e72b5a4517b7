package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// migrate brings a raw checkpoint envelope up to model.CheckpointEnvelopeVersion,
// writing a `.bak` backup of the pre-migration file before any rewrite. raw is
// the decoded top-level JSON object; rawBytes is the original file content
// (post-decompression) used for the backup.
func migrate(raw map[string]json.RawMessage, dir, episodeID, path string, rawBytes []byte) (json.RawMessage, error) {
	version := envelopeVersion(raw)
	if version >= 3 {
		data, _ := json.Marshal(raw)
		return data, nil
	}

	if err := backup(dir, episodeID, rawBytes); err != nil {
		return nil, fmt.Errorf("write backup before migration: %w", err)
	}

	if version < 2 {
		migrateV1ToV2(raw)
		version = 2
	}
	if version < 3 {
		migrateV2ToV3(raw)
		version = 3
	}

	raw["version"] = json.RawMessage(`3`)
	return json.Marshal(raw)
}

func envelopeVersion(raw map[string]json.RawMessage) int {
	v, ok := raw["version"]
	if !ok {
		return 1
	}
	var version int
	if err := json.Unmarshal(v, &version); err != nil || version <= 0 {
		return 1
	}
	return version
}

// migrateV1ToV2 adds the extraction_mode metadata field introduced in v2,
// defaulting to "combined" (the pipeline's preferred single-call extraction
// strategy) for checkpoints saved before the field existed.
func migrateV1ToV2(raw map[string]json.RawMessage) {
	metadata := decodeMetadata(raw)
	if _, ok := metadata["extraction_mode"]; !ok {
		metadata["extraction_mode"] = "combined"
	}
	encodeMetadata(raw, metadata)
}

// migrateV2ToV3 adds the schema_discovery metadata section introduced in
// v3, recording that no schema discovery has run yet for pre-v3 checkpoints.
func migrateV2ToV3(raw map[string]json.RawMessage) {
	metadata := decodeMetadata(raw)
	if _, ok := metadata["schema_discovery"]; !ok {
		metadata["schema_discovery"] = map[string]any{"discovered_types": []string{}}
	}
	encodeMetadata(raw, metadata)
}

func decodeMetadata(raw map[string]json.RawMessage) map[string]any {
	metadata := map[string]any{}
	if m, ok := raw["metadata"]; ok {
		_ = json.Unmarshal(m, &metadata)
	}
	return metadata
}

func encodeMetadata(raw map[string]json.RawMessage, metadata map[string]any) {
	data, err := json.Marshal(metadata)
	if err != nil {
		return
	}
	raw["metadata"] = data
}

func backup(dir, episodeID string, data []byte) error {
	backupPath := filepath.Join(dir, episodeID+".checkpoint.json.bak")
	return os.WriteFile(backupPath, data, 0o644)
}
