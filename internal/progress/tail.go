package progress

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ReadTail returns up to the last n bytes of path. When the read starts
// mid-file the leading partial line is dropped. A missing file reads as empty.
func ReadTail(path string, n int) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("stat log file: %w", err)
	}
	size := info.Size()
	if size == 0 || n <= 0 {
		return "", nil
	}

	offset := max(int64(0), size-int64(n))
	buf := make([]byte, size-offset)
	if _, err := file.ReadAt(buf, offset); err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read log file: %w", err)
	}
	tail := string(buf)
	if offset > 0 {
		if idx := strings.IndexAny(tail, "\r\n"); idx >= 0 {
			tail = tail[idx+1:]
		} else {
			tail = ""
		}
	}
	return tail, nil
}

// LastLine returns the last non-blank line of tail. ffmpeg separates its
// status updates with carriage returns, so both terminators split lines.
func LastLine(tail string) string {
	lines := strings.FieldsFunc(tail, func(r rune) bool { return r == '\n' || r == '\r' })
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
