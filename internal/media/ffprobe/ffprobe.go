package ffprobe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

// entries limits ffprobe to the fields the join pipeline reads.
const entries = "format=duration:stream=index,codec_type,codec_name"

// Result is the parsed subset of ffprobe's JSON output.
type Result struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
}

// Stream describes a single stream in the container.
type Stream struct {
	Index     int    `json:"index"`
	CodecName string `json:"codec_name"`
	CodecType string `json:"codec_type"`
}

// Format captures container-level metadata.
type Format struct {
	Duration string `json:"duration"`
}

// Inspect runs ffprobe against path and decodes its JSON response. Only
// stdout is parsed; stderr is folded into the error when ffprobe fails.
func Inspect(ctx context.Context, binary string, path string) (Result, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffprobe"
	}
	if strings.TrimSpace(path) == "" {
		return Result{}, errors.New("ffprobe inspect: empty path")
	}

	cmd := exec.CommandContext(ctx, binary, "-v", "error", "-show_entries", entries, "-of", "json", "--", path)
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if detail := lastLine(string(exitErr.Stderr)); detail != "" {
				return Result{}, fmt.Errorf("ffprobe inspect: %w: %s", err, detail)
			}
		}
		return Result{}, fmt.Errorf("ffprobe inspect: %w", err)
	}
	return parse(output)
}

func parse(data []byte) (Result, error) {
	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return Result{}, fmt.Errorf("ffprobe parse: %w", err)
	}
	return result, nil
}

// AudioCodec returns the codec name of the first audio stream, lower-cased,
// or "" when the file has no audio stream.
func (r Result) AudioCodec() string {
	for _, stream := range r.Streams {
		if strings.EqualFold(stream.CodecType, "audio") {
			return strings.ToLower(strings.TrimSpace(stream.CodecName))
		}
	}
	return ""
}

// DurationSeconds returns the container duration in seconds: 0 when ffprobe
// reported none, NaN when it reported something unparseable.
func (r Result) DurationSeconds() float64 {
	value := strings.TrimSpace(r.Format.Duration)
	if value == "" || value == "N/A" {
		return 0
	}
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return math.NaN()
	}
	return seconds
}

func lastLine(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
