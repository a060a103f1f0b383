package logs

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const (
	pollInterval = 250 * time.Millisecond
	maxLineBytes = 1 << 20
)

// TailOptions selects what Tail reads.
type TailOptions struct {
	// Offset is the byte position to resume from; negative means "the last
	// Limit lines of the file".
	Offset int64
	Limit  int
	// Follow waits up to Wait for output when nothing new is available.
	Follow bool
	Wait   time.Duration
	// Flush includes a trailing line that has no terminator yet. Without it
	// the partial line stays unread until its writer finishes it.
	Flush bool
}

// TailResult holds the lines read and the offset to resume from.
type TailResult struct {
	Lines  []string
	Offset int64
}

// Tail reads lines from an ffmpeg log. Both "\n" and "\r" end a line since
// ffmpeg rewrites its status line with carriage returns; blank lines are
// dropped. A missing file reads as empty.
func Tail(ctx context.Context, path string, opts TailOptions) (TailResult, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return TailResult{}, nil
	}
	if err != nil {
		return TailResult{Offset: opts.Offset}, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return TailResult{Offset: opts.Offset}, fmt.Errorf("log path %q is a directory", path)
	}

	if opts.Offset < 0 {
		lines, next, err := readLines(path, 0, opts.Flush)
		if err != nil {
			return TailResult{}, err
		}
		if opts.Limit <= 0 {
			lines = nil
		} else if len(lines) > opts.Limit {
			lines = lines[len(lines)-opts.Limit:]
		}
		return TailResult{Lines: lines, Offset: next}, nil
	}

	offset := min(opts.Offset, info.Size())
	deadline := time.Now().Add(max(opts.Wait, 0))
	for {
		lines, next, err := readLines(path, offset, opts.Flush)
		if err != nil {
			return TailResult{Offset: offset}, err
		}
		if len(lines) > 0 || !opts.Follow || !time.Now().Before(deadline) {
			return TailResult{Lines: lines, Offset: next}, nil
		}
		timer := time.NewTimer(pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return TailResult{Offset: next}, ctx.Err()
		case <-timer.C:
		}
		offset = next
	}
}

// readLines returns the complete lines after offset and the position just
// past the last one consumed.
func readLines(path string, offset int64, flush bool) ([]string, int64, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, offset, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, fmt.Errorf("seek log file: %w", err)
	}

	consumed := offset
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	scanner.Split(func(data []byte, atEOF bool) (int, []byte, error) {
		if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
			consumed += int64(i + 1)
			return i + 1, data[:i], nil
		}
		if atEOF && flush && len(data) > 0 {
			consumed += int64(len(data))
			return len(data), data, nil
		}
		return 0, nil, nil
	})

	var lines []string
	for scanner.Scan() {
		if line := strings.TrimRight(scanner.Text(), " \t"); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, offset, fmt.Errorf("read log file: %w", err)
	}
	return lines, consumed, nil
}
