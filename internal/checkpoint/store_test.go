package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrWong99/podgraph/pkg/model"
)

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	payloads := map[model.Phase]json.RawMessage{
		model.PhaseVTTParsing: json.RawMessage(`{"segments":3}`),
	}
	if err := store.Save("ep-1", model.PhaseVTTParsing, payloads, map[string]any{"foo": "bar"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	cp, err := store.Load("ep-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cp.LastCompletedPhase != model.PhaseVTTParsing {
		t.Errorf("LastCompletedPhase = %v, want %v", cp.LastCompletedPhase, model.PhaseVTTParsing)
	}
	if cp.Metadata["foo"] != "bar" {
		t.Errorf("Metadata[foo] = %v, want bar", cp.Metadata["foo"])
	}
}

func TestStore_Load_NotFound(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, err := store.Load("missing"); err != ErrNotFound {
		t.Fatalf("Load error = %v, want ErrNotFound", err)
	}
}

func TestStore_Delete(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	_ = store.Save("ep-1", model.PhaseVTTParsing, nil, nil)

	if err := store.Delete("ep-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Load("ep-1"); err != ErrNotFound {
		t.Fatalf("Load after delete = %v, want ErrNotFound", err)
	}
}

func TestStore_Compression(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, WithCompression(true))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := store.Save("ep-1", model.PhaseConversationAnalysis, nil, nil); err != nil {
		t.Fatalf("Save: %v", err)
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "*.gz"))
	if len(matches) != 1 {
		t.Fatalf("expected exactly one .gz checkpoint file, found %d", len(matches))
	}

	cp, err := store.Load("ep-1")
	if err != nil {
		t.Fatalf("Load compressed checkpoint: %v", err)
	}
	if cp.LastCompletedPhase != model.PhaseConversationAnalysis {
		t.Errorf("LastCompletedPhase = %v, want %v", cp.LastCompletedPhase, model.PhaseConversationAnalysis)
	}
}

func TestMigrate_V1ToV3AddsFieldsAndBackupFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	v1 := map[string]json.RawMessage{
		"episode_id": json.RawMessage(`"ep-1"`),
		"last_phase": json.RawMessage(`"VTT_PARSING"`),
		"payloads":   json.RawMessage(`{}`),
		"timestamp":  json.RawMessage(`"2025-01-01T00:00:00Z"`),
	}
	data, _ := json.Marshal(v1)
	if err := os.WriteFile(filepath.Join(dir, "ep-1.checkpoint.json"), data, 0o644); err != nil {
		t.Fatalf("write v1 fixture: %v", err)
	}

	cp, err := store.Load("ep-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cp.Version != model.CheckpointEnvelopeVersion {
		t.Errorf("Version = %d, want %d", cp.Version, model.CheckpointEnvelopeVersion)
	}
	if cp.Metadata["extraction_mode"] != "combined" {
		t.Errorf("Metadata[extraction_mode] = %v, want combined", cp.Metadata["extraction_mode"])
	}
	if _, ok := cp.Metadata["schema_discovery"]; !ok {
		t.Errorf("expected schema_discovery metadata to be added")
	}

	if _, err := os.Stat(filepath.Join(dir, "ep-1.checkpoint.json.bak")); err != nil {
		t.Errorf("expected backup file to exist: %v", err)
	}
}
