package process

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestValidPID(t *testing.T) {
	cases := map[int]bool{0: false, -1: false, 1: true, 4194304: true, 4194305: false}
	for pid, want := range cases {
		if got := ValidPID(pid); got != want {
			t.Errorf("ValidPID(%d) = %v, want %v", pid, got, want)
		}
	}
	if _, ok := ParsePID("12; rm -rf /"); ok {
		t.Fatal("expected non-numeric pid to be rejected")
	}
	if pid, ok := ParsePID("4242"); !ok || pid != 4242 {
		t.Fatalf("unexpected parse result %d %v", pid, ok)
	}
}

func TestSpawnRedirectsOutputAndWaits(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "child.log")
	proc, err := Spawn(SpawnOptions{
		Binary:  "/bin/sh",
		Args:    []string{"-c", "echo out; echo err 1>&2; pwd; exit 3"},
		Dir:     dir,
		LogPath: logPath,
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if !ValidPID(proc.PID) {
		t.Fatalf("unexpected pid %d", proc.PID)
	}
	if proc.StartedAt.IsZero() {
		t.Fatal("expected start time to be recorded")
	}

	waitErr := proc.Wait()
	if code := ExitCode(waitErr); code != 3 {
		t.Fatalf("exit code = %d, want 3 (err=%v)", code, waitErr)
	}
	if again := proc.Wait(); ExitCode(again) != 3 {
		t.Fatalf("second Wait returned %v", again)
	}

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	text := string(content)
	for _, want := range []string{"out", "err"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in log %q", want, text)
		}
	}
	if proc.IsAlive() {
		t.Fatal("expected exited process to be reported dead")
	}
}

func TestSpawnMissingBinary(t *testing.T) {
	_, err := Spawn(SpawnOptions{Binary: filepath.Join(t.TempDir(), "nope"), LogPath: filepath.Join(t.TempDir(), "log")})
	if err == nil {
		t.Fatal("expected spawn error for missing binary")
	}
}

func TestCheckAliveThenExited(t *testing.T) {
	proc, err := Spawn(SpawnOptions{
		Binary:  "/bin/sh",
		Args:    []string{"-c", "sleep 0.5"},
		LogPath: filepath.Join(t.TempDir(), "sleep.log"),
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if state := proc.Check(); state != StateAlive {
		t.Fatalf("expected running process alive, got %s", state)
	}

	// Without a Wait the child lingers as a zombie, which must read as exited.
	deadline := time.Now().Add(5 * time.Second)
	for proc.Check() == StateAlive {
		if time.Now().After(deadline) {
			t.Fatal("process never reported as exited")
		}
		time.Sleep(50 * time.Millisecond)
	}
	_ = proc.Wait()
	if state := proc.Check(); state != StateExited {
		t.Fatalf("expected exited after wait, got %s", state)
	}
}

func TestCheckDetectsRecycledPID(t *testing.T) {
	self := Handle{PID: os.Getpid()}
	if state := self.Check(); state != StateAlive {
		t.Fatalf("expected own process alive, got %s", state)
	}
	stale := Handle{PID: os.Getpid(), StartedAt: time.Now().Add(-24 * time.Hour)}
	if state := stale.Check(); state != StateRecycled {
		t.Fatalf("expected recycled pid, got %s", state)
	}
	if state := (Handle{PID: 0}).Check(); state != StateInvalid {
		t.Fatalf("expected invalid pid, got %s", state)
	}
}
