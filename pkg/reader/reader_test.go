package reader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/0xmhha/quota-monitor/pkg/logger"
)

const (
	line1 = `{"timestamp":"2024-01-01T00:00:00Z","requestId":"req_1","message":{"id":"msg_1","model":"claude-3-5-sonnet-20241022","usage":{"input_tokens":100,"output_tokens":50}}}`
	line2 = `{"timestamp":"2024-01-01T00:01:00Z","requestId":"req_2","message":{"id":"msg_2","model":"claude-3-5-sonnet-20241022","usage":{"input_tokens":200,"output_tokens":100}}}`
)

func newTestReader(t *testing.T, cfg Config) Reader {
	t.Helper()
	if cfg.PositionStore == nil {
		cfg.PositionStore = NewMemoryPositionStore()
	}
	r, err := New(cfg, logger.Noop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		if closeErr := r.Close(); closeErr != nil {
			t.Errorf("Close() error = %v", closeErr)
		}
	})
	return r
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.jsonl")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}
	return path
}

func appendFile(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		t.Fatalf("Failed to open test file: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("Failed to append: %v", err)
	}
}

func TestNewMissingStore(t *testing.T) {
	_, err := New(Config{}, logger.Noop())
	if !errors.Is(err, ErrMissingStore) {
		t.Errorf("New() error = %v, want ErrMissingStore", err)
	}
}

func TestRead(t *testing.T) {
	path := writeFile(t, line1+"\n"+line2+"\n")
	r := newTestReader(t, Config{})
	ctx := context.Background()

	res, err := r.Read(ctx, path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(res.Records) != 2 {
		t.Fatalf("Read() returned %d records, want 2", len(res.Records))
	}
	if res.Records[0]["requestId"] != "req_1" {
		t.Errorf("first record = %v", res.Records[0])
	}

	// Second read returns nothing new.
	res, err = r.Read(ctx, path)
	if err != nil {
		t.Fatalf("Second Read() error = %v", err)
	}
	if len(res.Records) != 0 {
		t.Errorf("Second Read() returned %d records, want 0", len(res.Records))
	}
}

func TestReadIncremental(t *testing.T) {
	path := writeFile(t, line1+"\n")
	r := newTestReader(t, Config{})
	ctx := context.Background()

	if _, err := r.Read(ctx, path); err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	appendFile(t, path, line2+"\n")

	res, err := r.Read(ctx, path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(res.Records) != 1 || res.Records[0]["requestId"] != "req_2" {
		t.Errorf("Read() = %+v, want only the appended record", res.Records)
	}
}

func TestReadLeavesPartialLine(t *testing.T) {
	half := len(line2) / 2
	path := writeFile(t, line1+"\n"+line2[:half])
	r := newTestReader(t, Config{})
	ctx := context.Background()

	res, err := r.Read(ctx, path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(res.Records) != 1 || res.Malformed != 0 {
		t.Fatalf("Read() = %d records, %d malformed; want 1, 0", len(res.Records), res.Malformed)
	}
	if want := int64(len(line1) + 1); res.Offset != want {
		t.Errorf("Offset = %d, want %d", res.Offset, want)
	}

	// The writer finishes the line.
	appendFile(t, path, line2[half:]+"\n")

	res, err = r.Read(ctx, path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(res.Records) != 1 || res.Records[0]["requestId"] != "req_2" {
		t.Errorf("Read() = %+v, want the completed record", res.Records)
	}
}

func TestReadSkipsMalformedLines(t *testing.T) {
	content := strings.Join([]string{
		line1,
		`{"invalid json`,
		"",
		"   ",
		`[1,2,3]`,
		line2,
	}, "\n") + "\n"
	path := writeFile(t, content)
	r := newTestReader(t, Config{})

	res, err := r.Read(context.Background(), path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(res.Records) != 2 {
		t.Errorf("Read() returned %d records, want 2", len(res.Records))
	}
	if res.Malformed != 2 {
		t.Errorf("Malformed = %d, want 2", res.Malformed)
	}
	if res.Offset != int64(len(content)) {
		t.Errorf("Offset = %d, want %d", res.Offset, len(content))
	}
}

func TestReadSkipsOversizedLines(t *testing.T) {
	long := fmt.Sprintf(`{"pad":"%s"}`, strings.Repeat("x", 200))
	path := writeFile(t, long+"\n"+line1+"\n")
	r := newTestReader(t, Config{MaxLineLength: 100})

	res, err := r.Read(context.Background(), path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(res.Records) != 0 || res.Malformed != 2 {
		t.Errorf("Read() = %d records, %d malformed; want 0, 2", len(res.Records), res.Malformed)
	}
}

func TestReadBudget(t *testing.T) {
	path := writeFile(t, line1+"\n"+line2+"\n")
	r := newTestReader(t, Config{MaxReadBytes: int64(len(line1) + 10)})
	ctx := context.Background()

	res, err := r.Read(ctx, path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(res.Records) != 1 {
		t.Fatalf("first Read() returned %d records, want 1", len(res.Records))
	}

	res, err = r.Read(ctx, path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(res.Records) != 1 || res.Records[0]["requestId"] != "req_2" {
		t.Errorf("second Read() = %+v, want the second record", res.Records)
	}
}

func TestReadFrom(t *testing.T) {
	path := writeFile(t, line1+"\n"+line2+"\n")
	store := NewMemoryPositionStore()
	r := newTestReader(t, Config{PositionStore: store})

	res, err := r.ReadFrom(context.Background(), path, int64(len(line1)+1))
	if err != nil {
		t.Fatalf("ReadFrom() error = %v", err)
	}
	if len(res.Records) != 1 {
		t.Errorf("ReadFrom() returned %d records, want 1", len(res.Records))
	}

	// ReadFrom does not touch the stored position.
	offset, err := store.GetPosition(path)
	if err != nil {
		t.Fatalf("GetPosition() error = %v", err)
	}
	if offset != 0 {
		t.Errorf("stored offset = %d, want 0", offset)
	}
}

func TestReadFromInvalidOffset(t *testing.T) {
	r := newTestReader(t, Config{})

	_, err := r.ReadFrom(context.Background(), "test.jsonl", -1)
	if !errors.Is(err, ErrInvalidOffset) {
		t.Errorf("ReadFrom() error = %v, want ErrInvalidOffset", err)
	}
}

func TestReadFileNotFound(t *testing.T) {
	r := newTestReader(t, Config{MaxRetries: 3, RetryDelay: time.Second})

	start := time.Now()
	_, err := r.Read(context.Background(), filepath.Join(t.TempDir(), "nonexistent.jsonl"))

	if !errors.Is(err, ErrFileNotFound) {
		t.Errorf("Read() error = %v, want ErrFileNotFound", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Read() took %v, a missing file must not be retried", elapsed)
	}
}

func TestReadFileTruncated(t *testing.T) {
	path := writeFile(t, line1+"\n")
	store := NewMemoryPositionStore()

	// Set position beyond file size (simulating truncation).
	if err := store.SetPosition(path, 10000); err != nil {
		t.Fatalf("SetPosition() error = %v", err)
	}

	r := newTestReader(t, Config{PositionStore: store})

	// Should reset to beginning and read all records.
	res, err := r.Read(context.Background(), path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(res.Records) != 1 {
		t.Errorf("Read() returned %d records, want 1", len(res.Records))
	}
}

func TestReset(t *testing.T) {
	path := writeFile(t, line1+"\n")
	r := newTestReader(t, Config{})
	ctx := context.Background()

	if _, err := r.Read(ctx, path); err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if err := r.Reset(path); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	// Read again should get the same record.
	res, err := r.Read(ctx, path)
	if err != nil {
		t.Fatalf("Second Read() error = %v", err)
	}
	if len(res.Records) != 1 {
		t.Errorf("Second Read() returned %d records, want 1", len(res.Records))
	}
}

func TestReadClosed(t *testing.T) {
	r, err := New(Config{PositionStore: NewMemoryPositionStore()}, logger.Noop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if closeErr := r.Close(); closeErr != nil {
		t.Errorf("Close() error = %v", closeErr)
	}
	// Second close should not error.
	if closeErr := r.Close(); closeErr != nil {
		t.Errorf("Second Close() error = %v", closeErr)
	}

	if _, err := r.Read(context.Background(), "test.jsonl"); !errors.Is(err, ErrReaderClosed) {
		t.Errorf("Read() error = %v, want ErrReaderClosed", err)
	}
}

func TestReadContextCanceled(t *testing.T) {
	path := writeFile(t, line1+"\n")
	r := newTestReader(t, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately.

	if _, err := r.Read(ctx, path); !errors.Is(err, context.Canceled) {
		t.Errorf("Read() error = %v, want context.Canceled", err)
	}
}

func TestReadEmptyFile(t *testing.T) {
	path := writeFile(t, "")
	r := newTestReader(t, Config{})

	res, err := r.Read(context.Background(), path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(res.Records) != 0 {
		t.Errorf("Read() returned %d records, want 0 for empty file", len(res.Records))
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{ErrFileLocked, true},
		{fmt.Errorf("wrapped: %w", ErrFileLocked), true},
		{errors.New("transient"), true},
		{ErrFileNotFound, false},
		{ErrPermissionDenied, false},
		{ErrInvalidOffset, false},
		{context.Canceled, false},
		{fmt.Errorf("read: %w", context.DeadlineExceeded), false},
	}

	for _, tt := range tests {
		if got := isRetryable(tt.err); got != tt.want {
			t.Errorf("isRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestMemoryPositionStore(t *testing.T) {
	testPositionStore(t, NewMemoryPositionStore())
}

func TestBoltPositionStore(t *testing.T) {
	db, err := bolt.Open(filepath.Join(t.TempDir(), "positions.db"), 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		t.Fatalf("bolt.Open() error = %v", err)
	}
	defer db.Close()

	store, err := NewBoltPositionStore(db)
	if err != nil {
		t.Fatalf("NewBoltPositionStore() error = %v", err)
	}
	testPositionStore(t, store)
}

func testPositionStore(t *testing.T, store PositionStore) {
	t.Helper()

	// Get non-existent position.
	offset, err := store.GetPosition("/test/path")
	if err != nil {
		t.Fatalf("GetPosition() error = %v", err)
	}
	if offset != 0 {
		t.Errorf("GetPosition() = %d, want 0 for non-existent path", offset)
	}

	if setErr := store.SetPosition("/test/path", 12345); setErr != nil {
		t.Fatalf("SetPosition() error = %v", setErr)
	}
	if setErr := store.SetPosition("/test/path", 67890); setErr != nil {
		t.Fatalf("SetPosition() error = %v", setErr)
	}

	offset, err = store.GetPosition("/test/path")
	if err != nil {
		t.Fatalf("GetPosition() error = %v", err)
	}
	if offset != 67890 {
		t.Errorf("GetPosition() = %d, want 67890", offset)
	}

	if err := store.SetPosition("/test/path", -1); !errors.Is(err, ErrInvalidOffset) {
		t.Errorf("SetPosition(-1) error = %v, want ErrInvalidOffset", err)
	}

	if err := store.SetPosition("/test/gone", 42); err != nil {
		t.Fatalf("SetPosition() error = %v", err)
	}
	removed, err := store.Prune(func(path string) bool { return path == "/test/path" })
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("Prune() removed %d, want 1", removed)
	}
	if offset, _ = store.GetPosition("/test/gone"); offset != 0 {
		t.Errorf("GetPosition() after Prune = %d, want 0", offset)
	}
	if offset, _ = store.GetPosition("/test/path"); offset != 67890 {
		t.Errorf("kept position = %d, want 67890", offset)
	}
	if removed, _ = store.Prune(func(string) bool { return true }); removed != 0 {
		t.Errorf("Prune() with nothing stale removed %d", removed)
	}

	if clearErr := store.Clear(); clearErr != nil {
		t.Fatalf("Clear() error = %v", clearErr)
	}

	offset, err = store.GetPosition("/test/path")
	if err != nil {
		t.Fatalf("GetPosition() after Clear error = %v", err)
	}
	if offset != 0 {
		t.Errorf("GetPosition() after Clear = %d, want 0", offset)
	}
}
