package progress

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadTailDropsPartialFirstLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ffmpeg.log")
	content := "first line that is long\rsecond time=00:00:02.00 x\rthird time=00:00:03.00 x\r"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	tail, err := ReadTail(path, 40)
	if err != nil {
		t.Fatalf("ReadTail: %v", err)
	}
	if strings.Contains(tail, "second") || !strings.HasPrefix(tail, "third") {
		t.Fatalf("unexpected tail %q", tail)
	}

	full, err := ReadTail(path, 4096)
	if err != nil || full != content {
		t.Fatalf("full read = %q, %v", full, err)
	}
}

func TestReadTailMissingFile(t *testing.T) {
	tail, err := ReadTail(filepath.Join(t.TempDir(), "absent.log"), 100)
	if err != nil || tail != "" {
		t.Fatalf("ReadTail = %q, %v", tail, err)
	}
}

func TestLastLine(t *testing.T) {
	tail := "size=1kB time=00:00:01.00\rconcat.txt: Invalid data found\n\n"
	if got := LastLine(tail); got != "concat.txt: Invalid data found" {
		t.Fatalf("LastLine = %q", got)
	}
	if got := LastLine(" \n\r"); got != "" {
		t.Fatalf("LastLine blank = %q", got)
	}
}
