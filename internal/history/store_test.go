package history

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	store, err := Open(filepath.Join(t.TempDir(), "history.db"), logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_RecordAndRecent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	for i, outcome := range []string{"success", "timeout", "success"} {
		err := store.Record(ctx, Entry{
			Channel:    "slack",
			ChatID:     "C123",
			MessageID:  "1700000000.00010" + string(rune('0'+i)),
			URL:        "https://notes.granola.ai/d/abc",
			Outcome:    outcome,
			DurationMS: int64(100 * i),
		})
		if err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	entries, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	// Most recent first.
	if entries[0].Outcome != "success" || entries[1].Outcome != "timeout" {
		t.Errorf("unexpected order: %v", entries)
	}
}

func TestStore_RecentLimit(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		store.Record(ctx, Entry{Channel: "slack", ChatID: "C", MessageID: "m", URL: "u", Outcome: "success"})
	}

	entries, err := store.Recent(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("expected 2 entries, got %d", len(entries))
	}
}

func TestStore_RecordFailureWithError(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	err := store.Record(ctx, Entry{
		Channel:   "slack",
		ChatID:    "C123",
		MessageID: "1700000000.000100",
		URL:       "https://notes.granola.ai/d/abc",
		Outcome:   "navigation",
		Error:     "navigation failed: dns lookup",
	})
	if err != nil {
		t.Fatal(err)
	}

	entries, _ := store.Recent(ctx, 1)
	if len(entries) != 1 || entries[0].Error == "" {
		t.Errorf("error text lost: %v", entries)
	}
}

func TestStore_Prune(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	store.Record(ctx, Entry{Channel: "slack", ChatID: "C", MessageID: "m", URL: "u", Outcome: "success"})

	// Nothing is older than an hour yet.
	n, err := store.Prune(ctx, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("expected 0 pruned, got %d", n)
	}
}
