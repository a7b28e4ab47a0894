package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type readyRecorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *readyRecorder) record(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
}

func (r *readyRecorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func newTestWatcher(t *testing.T, dir string) (*Watcher, *readyRecorder) {
	t.Helper()
	w, err := New(dir, "*.task.md", 50*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	rec := &readyRecorder{}
	if err := w.Start(context.Background(), rec.record); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(w.Stop)
	return w, rec
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestWatcher_SingleSignalForBurst(t *testing.T) {
	dir := t.TempDir()
	_, rec := newTestWatcher(t, dir)

	path := filepath.Join(dir, "demo.task.md")
	// Simulate an editor burst: several rapid writes to the same file
	for i := 0; i < 4; i++ {
		if err := os.WriteFile(path, []byte("---\ntype: fix\n---\n# Demo\n"), 0644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if !waitFor(t, 2*time.Second, func() bool { return len(rec.list()) >= 1 }) {
		t.Fatal("ready signal never fired")
	}

	// Allow extra quiet windows to pass, then check no duplicates arrived
	time.Sleep(300 * time.Millisecond)
	got := rec.list()
	if len(got) != 1 {
		t.Fatalf("ready signals = %d, want 1 (%v)", len(got), got)
	}
	if got[0] != path {
		t.Errorf("ready path = %q, want %q", got[0], path)
	}
}

func TestWatcher_AtomicRename(t *testing.T) {
	dir := t.TempDir()
	_, rec := newTestWatcher(t, dir)

	tmp := filepath.Join(dir, ".demo.tmp")
	final := filepath.Join(dir, "demo.task.md")
	if err := os.WriteFile(tmp, []byte("---\ntype: fix\n---\n# Demo\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, final); err != nil {
		t.Fatal(err)
	}

	if !waitFor(t, 2*time.Second, func() bool { return len(rec.list()) == 1 }) {
		t.Fatalf("ready signals = %d, want 1", len(rec.list()))
	}
}

func TestWatcher_IgnoresNonMatching(t *testing.T) {
	dir := t.TempDir()
	_, rec := newTestWatcher(t, dir)

	if err := os.WriteFile(filepath.Join(dir, "notes.md"), []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}

	time.Sleep(300 * time.Millisecond)
	if len(rec.list()) != 0 {
		t.Errorf("non-matching file produced signals: %v", rec.list())
	}
}

func TestWatcher_DropsEmptyFile(t *testing.T) {
	dir := t.TempDir()
	_, rec := newTestWatcher(t, dir)

	if err := os.WriteFile(filepath.Join(dir, "empty.task.md"), nil, 0644); err != nil {
		t.Fatal(err)
	}

	time.Sleep(300 * time.Millisecond)
	if len(rec.list()) != 0 {
		t.Errorf("empty file produced signals: %v", rec.list())
	}
}

func TestWatcher_DropsDeletedFile(t *testing.T) {
	dir := t.TempDir()
	_, rec := newTestWatcher(t, dir)

	path := filepath.Join(dir, "gone.task.md")
	if err := os.WriteFile(path, []byte("content"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	time.Sleep(300 * time.Millisecond)
	if len(rec.list()) != 0 {
		t.Errorf("deleted file produced signals: %v", rec.list())
	}
}

func TestWatcher_PicksUpExistingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "preexisting.task.md")
	if err := os.WriteFile(path, []byte("---\ntype: fix\n---\n# Old\n"), 0644); err != nil {
		t.Fatal(err)
	}

	_, rec := newTestWatcher(t, dir)

	if !waitFor(t, 2*time.Second, func() bool { return len(rec.list()) == 1 }) {
		t.Fatalf("existing file not picked up, signals = %v", rec.list())
	}
}
