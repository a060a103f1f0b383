package logs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

const defaultFollowWait = time.Second

// FollowOptions controls Follow.
type FollowOptions struct {
	// Lines is how many existing lines to print first.
	Lines int
	// Wait bounds each poll for new output.
	Wait time.Duration
	// Done reports whether the writer has finished. Follow drains remaining
	// output once it returns true.
	Done func() bool
}

// Follow writes the tail of path to w and keeps streaming appended lines
// until ctx is cancelled or opts.Done reports completion. A partial final
// line is printed only once the writer is done.
func Follow(ctx context.Context, path string, w io.Writer, opts FollowOptions) error {
	wait := opts.Wait
	if wait <= 0 {
		wait = defaultFollowWait
	}
	limit := opts.Lines
	if limit <= 0 {
		limit = 20
	}
	result, err := Tail(ctx, path, TailOptions{Offset: -1, Limit: limit})
	if err != nil {
		return err
	}
	if err := writeLines(w, result.Lines); err != nil {
		return err
	}
	offset := result.Offset
	for {
		finished := opts.Done != nil && opts.Done()
		next, err := Tail(ctx, path, TailOptions{Offset: offset, Follow: !finished, Wait: wait, Flush: finished})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		if err := writeLines(w, next.Lines); err != nil {
			return err
		}
		offset = next.Offset
		if finished && len(next.Lines) == 0 {
			return nil
		}
	}
}

func writeLines(w io.Writer, lines []string) error {
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
