package queue

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestReapTerminalHonoursRetention(t *testing.T) {
	store, err := OpenPath(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("OpenPath failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }

	for _, id := range []string{"old-done", "old-failed", "active"} {
		if _, err := store.Add(ctx, id, 0); err != nil {
			t.Fatalf("Add %s: %v", id, err)
		}
	}
	_ = store.MarkCompleted(ctx, "old-done")
	_ = store.MarkFailed(ctx, "old-failed", "exit 1")

	store.now = func() time.Time { return base.Add(30 * time.Minute) }
	if _, err := store.Add(ctx, "recent", 0); err != nil {
		t.Fatalf("Add recent: %v", err)
	}
	_ = store.MarkCompleted(ctx, "recent")

	store.now = func() time.Time { return base.Add(2 * time.Hour) }
	removed, err := store.ReapTerminal(ctx, time.Hour)
	if err != nil {
		t.Fatalf("ReapTerminal failed: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed %d entries, want 2", removed)
	}
	stats, _ := store.Stats(ctx)
	if stats[StatusCompleted] != 1 || stats[StatusPending] != 1 {
		t.Fatalf("unexpected stats after reap: %v", stats)
	}
}

func TestSchemaMismatchIsReported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	store, err := OpenPath(path)
	if err != nil {
		t.Fatalf("OpenPath failed: %v", err)
	}
	if _, err := store.db.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = store.Close()

	if _, err := OpenPath(path); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}
