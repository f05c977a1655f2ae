package discovery

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCheckpointRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "scan.json")
	store := NewCheckpointStore(path, true)

	if err := store.Save("fp-1", 300); err != nil {
		t.Fatalf("save: %v", err)
	}

	cp, ok, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !ok {
		t.Fatalf("expected a checkpoint")
	}
	if cp.Fingerprint != "fp-1" || cp.NextOffset != 300 {
		t.Fatalf("unexpected checkpoint %+v", cp)
	}
	if _, err := time.Parse(time.RFC3339Nano, cp.UpdatedAt); err != nil {
		t.Fatalf("updated_at not RFC3339Nano: %v", err)
	}
}

func TestCheckpointOverwrite(t *testing.T) {
	store := NewCheckpointStore(filepath.Join(t.TempDir(), "scan.json"), true)

	if err := store.Save("fp-1", 100); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save("fp-1", 200); err != nil {
		t.Fatalf("save again: %v", err)
	}

	cp, ok, err := store.Load()
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if cp.NextOffset != 200 {
		t.Fatalf("offset %d, want the later save", cp.NextOffset)
	}
}

func TestCheckpointLoadMissing(t *testing.T) {
	store := NewCheckpointStore(filepath.Join(t.TempDir(), "scan.json"), true)
	_, ok, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ok {
		t.Fatalf("expected no checkpoint")
	}
}

func TestCheckpointLoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := NewCheckpointStore(path, true).Load(); err == nil {
		t.Fatalf("expected an error for a corrupt checkpoint")
	}
}

func TestCheckpointClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.json")
	store := NewCheckpointStore(path, true)

	if err := store.Save("fp-1", 50); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := store.Load(); ok {
		t.Fatalf("checkpoint survived clear")
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("clearing a missing checkpoint: %v", err)
	}
}

func TestCheckpointDisabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.json")
	store := NewCheckpointStore(path, false)

	if err := store.Save("fp-1", 50); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("disabled store wrote a file")
	}
	if _, ok, err := store.Load(); ok || err != nil {
		t.Fatalf("disabled load: ok=%v err=%v", ok, err)
	}
}
