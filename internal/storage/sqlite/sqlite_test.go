package sqlite

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/Jazzman94/agentai/internal/audit"
	"github.com/Jazzman94/agentai/internal/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "db", "agentai.db")}, logger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func TestOpen_RequiresPath(t *testing.T) {
	if _, err := Open(Config{}, slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestStore_Lifecycle(t *testing.T) {
	s := openTestStore(t)
	if s.Driver() != storage.DriverSQLite {
		t.Errorf("Driver = %q", s.Driver())
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
	if s.Audit() != s.Audit() {
		t.Error("Audit() should return the same repository")
	}
}

func TestAudit_AppendAndRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	calls := []struct {
		op      string
		success bool
		kind    string
	}{
		{"write_file", true, ""},
		{"get_file_content", false, "containment_violation"},
		{"write_file", true, ""},
	}
	for i, c := range calls {
		e := audit.NewEntry("call-"+string(rune('a'+i)), c.op, "/srv/root",
			map[string]any{"file_path": "main.py"}, c.success, c.kind, "out", 3*time.Millisecond)
		e.Caller = "orchestrator"
		e.Timestamp = time.Date(2026, 1, 1, 0, 0, i, 0, time.UTC)
		if err := s.Audit().Append(ctx, e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	all, err := s.Audit().Recent(ctx, "", 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d entries, want 3", len(all))
	}
	if all[0].CallID != "call-c" {
		t.Errorf("newest entry = %q, want call-c", all[0].CallID)
	}

	writes, err := s.Audit().Recent(ctx, "write_file", 10)
	if err != nil {
		t.Fatalf("Recent(write_file): %v", err)
	}
	if len(writes) != 2 {
		t.Errorf("got %d write_file entries, want 2", len(writes))
	}

	reads, err := s.Audit().Recent(ctx, "get_file_content", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(reads) != 1 {
		t.Fatalf("got %d read entries, want 1", len(reads))
	}
	got := reads[0]
	if got.Success || got.Kind != "containment_violation" || got.Caller != "orchestrator" {
		t.Errorf("entry = %+v", got)
	}
	if got.Args["file_path"] != "main.py" || got.DurationMS != 3 {
		t.Errorf("entry fields not round-tripped: %+v", got)
	}
}

func TestAudit_ThroughRecorder(t *testing.T) {
	s := openTestStore(t)
	rec := audit.NewStoreRecorder(s.Audit(), nil)

	if err := rec.Record(context.Background(), audit.NewEntry("x", "get_files_info", "/r", nil, true, "", "", 0)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	entries, err := s.Audit().Recent(context.Background(), "get_files_info", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Args != nil {
		t.Errorf("entries = %+v", entries)
	}
}

func TestAudit_Prune(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, age := range []time.Duration{72 * time.Hour, 49 * time.Hour, time.Hour} {
		e := audit.Entry{
			Timestamp: now.Add(-age),
			CallID:    string(rune('a' + i)),
			Operation: "get_files_info",
			Root:      "/work",
			Success:   true,
		}
		if err := s.Audit().Append(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	pruner, ok := s.Audit().(audit.Pruner)
	if !ok {
		t.Fatal("sqlite audit store does not implement audit.Pruner")
	}
	n, err := pruner.Prune(ctx, now.Add(-48*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("pruned %d rows, want 2", n)
	}

	left, err := s.Audit().Recent(ctx, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 1 || left[0].CallID != "c" {
		t.Errorf("remaining = %+v", left)
	}
}
