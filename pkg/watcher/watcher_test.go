package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/0xmhha/quota-monitor/pkg/logger"
)

func newTestWatcher(t *testing.T, debounce time.Duration) Watcher {
	t.Helper()
	w, err := New(Config{DebounceInterval: debounce}, logger.Noop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		if err := w.Close(); err != nil {
			t.Logf("Close() error = %v", err)
		}
	})
	return w
}

func startWatcher(t *testing.T, w Watcher, dirs ...string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	if err := w.Start(ctx, dirs); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
}

func waitEvent(t *testing.T, w Watcher, timeout time.Duration) (Event, bool) {
	t.Helper()
	select {
	case ev := <-w.Events():
		return ev, true
	case <-time.After(timeout):
		return Event{}, false
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
}

func TestStartInvalidPath(t *testing.T) {
	w := newTestWatcher(t, 0)

	err := w.Start(context.Background(), []string{filepath.Join(t.TempDir(), "nonexistent")})
	if !errors.Is(err, ErrInvalidPath) {
		t.Errorf("Start() error = %v, want ErrInvalidPath", err)
	}
}

func TestStartAlreadyStarted(t *testing.T) {
	tmpDir := t.TempDir()
	w := newTestWatcher(t, 0)
	startWatcher(t, w, tmpDir)

	if err := w.Start(context.Background(), []string{tmpDir}); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("Start() error = %v, want ErrAlreadyStarted", err)
	}
}

func TestFileWriteEmitsEvent(t *testing.T) {
	tmpDir := t.TempDir()
	w := newTestWatcher(t, 50*time.Millisecond)
	startWatcher(t, w, tmpDir)

	testFile := filepath.Join(tmpDir, "test.jsonl")
	writeFile(t, testFile, "test")

	ev, ok := waitEvent(t, w, 2*time.Second)
	if !ok {
		t.Fatal("Timeout waiting for change event")
	}
	if len(ev.Paths) != 1 || ev.Paths[0] != testFile {
		t.Errorf("Event paths = %v, want [%s]", ev.Paths, testFile)
	}
	if ev.At.IsZero() {
		t.Error("Event.At is zero")
	}
}

func TestBurstIsCoalesced(t *testing.T) {
	tmpDir := t.TempDir()
	w := newTestWatcher(t, 200*time.Millisecond)
	startWatcher(t, w, tmpDir)

	a := filepath.Join(tmpDir, "a.jsonl")
	b := filepath.Join(tmpDir, "b.jsonl")
	for i := 0; i < 5; i++ {
		writeFile(t, a, "content")
		writeFile(t, b, "content")
		time.Sleep(30 * time.Millisecond) // Less than debounce interval.
	}

	ev, ok := waitEvent(t, w, 2*time.Second)
	if !ok {
		t.Fatal("Timeout waiting for change event")
	}
	if len(ev.Paths) != 2 || ev.Paths[0] != a || ev.Paths[1] != b {
		t.Errorf("Event paths = %v, want [%s %s]", ev.Paths, a, b)
	}

	if extra, ok := waitEvent(t, w, 400*time.Millisecond); ok {
		t.Errorf("unexpected second event %v, burst was not coalesced", extra.Paths)
	}
}

func TestNonJSONLFilesIgnored(t *testing.T) {
	tmpDir := t.TempDir()
	w := newTestWatcher(t, 50*time.Millisecond)
	startWatcher(t, w, tmpDir)

	writeFile(t, filepath.Join(tmpDir, "notes.txt"), "x")
	writeFile(t, filepath.Join(tmpDir, "data.json"), "x")

	if ev, ok := waitEvent(t, w, 300*time.Millisecond); ok {
		t.Errorf("unexpected event for non-JSONL files: %v", ev.Paths)
	}
}

func TestSubdirectoryWatching(t *testing.T) {
	tmpDir := t.TempDir()
	existing := filepath.Join(tmpDir, "project")
	if err := os.MkdirAll(existing, 0700); err != nil {
		t.Fatal(err)
	}

	w := newTestWatcher(t, 50*time.Millisecond)
	startWatcher(t, w, tmpDir)

	testFile := filepath.Join(existing, "session.jsonl")
	writeFile(t, testFile, "x")

	ev, ok := waitEvent(t, w, 2*time.Second)
	if !ok || len(ev.Paths) != 1 || ev.Paths[0] != testFile {
		t.Fatalf("event = %v (ok=%v), want change to %s", ev.Paths, ok, testFile)
	}

	// A directory created after Start is picked up too.
	created := filepath.Join(tmpDir, "new-project")
	if err := os.Mkdir(created, 0700); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	newFile := filepath.Join(created, "session.jsonl")
	writeFile(t, newFile, "x")

	ev, ok = waitEvent(t, w, 2*time.Second)
	if !ok || len(ev.Paths) != 1 || ev.Paths[0] != newFile {
		t.Errorf("event = %v (ok=%v), want change to %s", ev.Paths, ok, newFile)
	}
}

func TestStopNotStarted(t *testing.T) {
	w := newTestWatcher(t, 0)

	if err := w.Stop(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Stop() error = %v, want ErrNotStarted", err)
	}
}

func TestCloseTwice(t *testing.T) {
	w, err := New(Config{}, logger.Noop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := w.Close(); err != nil {
		t.Errorf("First Close() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Second Close() error = %v", err)
	}

	if _, ok := <-w.Events(); ok {
		t.Error("Events() channel not closed after Close()")
	}
}

func TestStartAfterClose(t *testing.T) {
	w, err := New(Config{}, logger.Noop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if err := w.Start(context.Background(), []string{t.TempDir()}); !errors.Is(err, ErrWatcherClosed) {
		t.Errorf("Start() error = %v, want ErrWatcherClosed", err)
	}
}
