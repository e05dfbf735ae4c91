package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestInboxWatcher_StartStop verifies that the watcher can start and stop cleanly.
func TestInboxWatcher_StartStop(t *testing.T) {
	w, err := NewInboxWatcher()
	if err != nil {
		t.Fatalf("NewInboxWatcher() failed: %v", err)
	}
	if w.IsRunning() {
		t.Error("Newly created watcher should not be running")
	}

	if err := w.Start(t.TempDir()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if !w.IsRunning() {
		t.Error("Watcher should be running after Start()")
	}
	if err := w.Start(t.TempDir()); err == nil {
		t.Error("Second Start() should fail when watcher is already running")
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if w.IsRunning() {
		t.Error("Watcher should not be running after Stop()")
	}
}

func TestInboxWatcher_MissingDir(t *testing.T) {
	w, err := NewInboxWatcher()
	if err != nil {
		t.Fatalf("NewInboxWatcher() failed: %v", err)
	}
	defer w.Stop()

	if err := w.Start(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("Start() should fail for a missing directory")
	}
}

// TestInboxWatcher_JSONLCreated verifies that a new JSONL file emits an event
// carrying its source.
func TestInboxWatcher_JSONLCreated(t *testing.T) {
	dir := t.TempDir()
	w, err := NewInboxWatcher()
	if err != nil {
		t.Fatalf("NewInboxWatcher() failed: %v", err)
	}
	defer w.Stop()
	if err := w.Start(dir); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "skip.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "posts.2026.jsonl")
	if err := os.WriteFile(path, []byte("{}\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-w.Events():
		if ev.Path != path {
			t.Errorf("event path = %s, want %s", ev.Path, path)
		}
		if ev.Source != "posts" {
			t.Errorf("event source = %s, want posts", ev.Source)
		}
		if ev.Op != OpCreate && ev.Op != OpModify {
			t.Errorf("event op = %s, want create or modify", ev.Op)
		}
	case err := <-w.Errors():
		t.Fatalf("watcher error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for inbox event")
	}
}

func TestEventOp_String(t *testing.T) {
	tests := map[EventOp]string{OpCreate: "create", OpModify: "modify", EventOp(9): "unknown"}
	for op, want := range tests {
		if got := op.String(); got != want {
			t.Errorf("EventOp(%d).String() = %q, want %q", op, got, want)
		}
	}
}
