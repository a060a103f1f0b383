package logs_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"audiojoin/internal/logs"
)

func TestTailLastLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ffmpeg.log")
	content := "a\nb\nc\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	result, err := logs.Tail(context.Background(), path, logs.TailOptions{Offset: -1, Limit: 2})
	if err != nil {
		t.Fatalf("tail returned error: %v", err)
	}
	if len(result.Lines) != 2 || result.Lines[0] != "b" || result.Lines[1] != "c" {
		t.Fatalf("unexpected lines: %#v", result.Lines)
	}
	if result.Offset == 0 {
		t.Fatal("expected offset to advance")
	}
}

func TestTailFollowWaits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ffmpeg.log")
	if err := os.WriteFile(path, []byte("start\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	opts := logs.TailOptions{Offset: -1, Limit: 1}
	result, err := logs.Tail(ctx, path, opts)
	if err != nil {
		t.Fatalf("initial tail: %v", err)
	}
	if len(result.Lines) != 1 {
		t.Fatalf("expected initial line, got %#v", result.Lines)
	}

	done := make(chan struct{})
	go func(offset int64) {
		res, err := logs.Tail(ctx, path, logs.TailOptions{Offset: offset, Follow: true, Wait: 5 * time.Second})
		if err != nil {
			t.Errorf("follow tail error: %v", err)
		}
		if len(res.Lines) != 1 || res.Lines[0] != "later" {
			t.Errorf("unexpected follow lines: %#v", res.Lines)
		}
		close(done)
	}(result.Offset)

	time.Sleep(200 * time.Millisecond)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("stat log: %v", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open append: %v", err)
	}
	if _, err := f.WriteString("later\n"); err != nil {
		t.Fatalf("append log: %v", err)
	}
	_ = f.Close()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("tail follow did not return")
	}
}

func TestFollowStopsWhenDone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ffmpeg.log")
	if err := os.WriteFile(path, []byte("one\ntwo\nthree\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	var finished atomic.Bool
	var out bytes.Buffer
	errCh := make(chan error, 1)
	go func() {
		errCh <- logs.Follow(context.Background(), path, &out, logs.FollowOptions{
			Lines: 2,
			Wait:  100 * time.Millisecond,
			Done:  finished.Load,
		})
	}()

	time.Sleep(150 * time.Millisecond)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open append: %v", err)
	}
	_, _ = f.WriteString("size=1kB time=00:00:01.00\n")
	_ = f.Close()
	finished.Store(true)

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Follow: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Follow did not return after completion")
	}
	want := "two\nthree\nsize=1kB time=00:00:01.00\n"
	if out.String() != want {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestFollowMissingFilePrintsNothing(t *testing.T) {
	var out bytes.Buffer
	err := logs.Follow(context.Background(), filepath.Join(t.TempDir(), "absent.log"), &out, logs.FollowOptions{
		Done: func() bool { return true },
	})
	if err != nil {
		t.Fatalf("Follow: %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("expected no output, got %q", out.String())
	}
}

func TestTailSplitsCarriageReturnsAndHoldsPartialLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ffmpeg.log")
	content := "Input #0, mp3\r\n" +
		"size=     128kB time=00:00:01.00 bitrate= 1.0kbits/s\r" +
		"size=     256kB time=00:00:02.00 bitrate= 1.0kbits/s\r" +
		"size=     384kB time=00:00:0"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	ctx := context.Background()

	held, err := logs.Tail(ctx, path, logs.TailOptions{Offset: -1, Limit: 5})
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	want := []string{
		"Input #0, mp3",
		"size=     128kB time=00:00:01.00 bitrate= 1.0kbits/s",
		"size=     256kB time=00:00:02.00 bitrate= 1.0kbits/s",
	}
	if diff := cmp.Diff(want, held.Lines); diff != "" {
		t.Fatalf("lines mismatch (-want +got):\n%s", diff)
	}
	if held.Offset != int64(strings.LastIndex(content, "\r")+1) {
		t.Fatalf("offset %d should stop before the partial line", held.Offset)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open append: %v", err)
	}
	_, _ = f.WriteString("3.00 bitrate= 1.0kbits/s\r\nvideo:0kB audio:384kB")
	_ = f.Close()

	next, err := logs.Tail(ctx, path, logs.TailOptions{Offset: held.Offset})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if diff := cmp.Diff([]string{"size=     384kB time=00:00:03.00 bitrate= 1.0kbits/s"}, next.Lines); diff != "" {
		t.Fatalf("resumed lines mismatch (-want +got):\n%s", diff)
	}

	flushed, err := logs.Tail(ctx, path, logs.TailOptions{Offset: next.Offset, Flush: true})
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if diff := cmp.Diff([]string{"video:0kB audio:384kB"}, flushed.Lines); diff != "" {
		t.Fatalf("flushed lines mismatch (-want +got):\n%s", diff)
	}
}
