package reaper

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"audiojoin/internal/logging"
	"audiojoin/internal/services"
	"audiojoin/internal/session"
)

func TestSweepInvalidPaths(t *testing.T) {
	for _, dir := range []string{"", "   ", "/nonexistent/path/12345"} {
		result := Sweep(context.Background(), dir, time.Hour, logging.NewNop())
		if len(result.Removed) != 0 || len(result.Errors) != 0 {
			t.Errorf("expected empty result for path %q", dir)
		}
	}
}

func TestSweepRemovesExpiredDirectories(t *testing.T) {
	root := t.TempDir()
	oldTime := time.Now().Add(-2 * time.Hour)

	oldDir := filepath.Join(root, "0123456789abcdef0123456789abcdef")
	if err := os.MkdirAll(filepath.Join(oldDir, "nested"), 0o755); err != nil {
		t.Fatalf("create old dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(oldDir, "0000_a.mp3"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(oldDir, oldTime, oldTime); err != nil {
		t.Fatalf("set old time: %v", err)
	}

	recentDir := filepath.Join(root, "fedcba9876543210fedcba9876543210")
	if err := os.Mkdir(recentDir, 0o755); err != nil {
		t.Fatalf("create recent dir: %v", err)
	}

	stray := filepath.Join(root, "stray.txt")
	if err := os.WriteFile(stray, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(stray, oldTime, oldTime); err != nil {
		t.Fatal(err)
	}

	result := Sweep(context.Background(), root, time.Hour, logging.NewNop())
	if len(result.Removed) != 1 || result.Removed[0] != oldDir {
		t.Fatalf("unexpected removal set %v", result.Removed)
	}
	if _, err := os.Stat(oldDir); !os.IsNotExist(err) {
		t.Error("expired directory should have been removed")
	}
	if _, err := os.Stat(recentDir); err != nil {
		t.Error("recent directory should still exist")
	}
	if _, err := os.Stat(stray); err != nil {
		t.Error("top-level files are not swept")
	}

	again := Sweep(context.Background(), root, time.Hour, logging.NewNop())
	if len(again.Removed) != 0 || len(again.Errors) != 0 {
		t.Fatalf("second sweep should be a no-op, got %+v", again)
	}
}

func TestRemoveSession(t *testing.T) {
	store := session.NewStore(filepath.Join(t.TempDir(), "sessions"), logging.NewNop(), nil)
	ctx := context.Background()
	sess, err := store.Create(ctx, []session.Upload{{Name: "a.mp3", Body: strings.NewReader("x")}}, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := RemoveSession(ctx, store, sess.ID); err != nil {
		t.Fatalf("RemoveSession: %v", err)
	}
	if _, err := store.Load(ctx, sess.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected session to be gone, got %v", err)
	}
	if err := RemoveSession(ctx, store, sess.ID); err != nil {
		t.Fatalf("second RemoveSession: %v", err)
	}
}

func TestList(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "abc")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "f"), make([]byte, 10), 0o644); err != nil {
		t.Fatal(err)
	}
	dirs, err := List(root)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(dirs) != 1 || dirs[0].Name != "abc" || dirs[0].Size != 10 {
		t.Fatalf("unexpected dirs %+v", dirs)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Run(ctx, t.TempDir(), time.Hour, 10*time.Millisecond, logging.NewNop())
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
