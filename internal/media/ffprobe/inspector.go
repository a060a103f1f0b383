package ffprobe

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"

	"audiojoin/internal/logging"
)

// Inspector runs ffprobe across a set of session inputs.
type Inspector struct {
	Binary string
	Logger *slog.Logger
}

// NewInspector returns a Inspector using binary (empty means "ffprobe" on PATH).
func NewInspector(binary string, logger *slog.Logger) *Inspector {
	return &Inspector{Binary: binary, Logger: logging.NewComponentLogger(logger, "ffprobe")}
}

// TotalDuration sums the container durations of paths in seconds. Files that
// ffprobe cannot read contribute nothing; 0 means the duration is unknown.
func (i *Inspector) TotalDuration(ctx context.Context, paths []string) float64 {
	total := 0.0
	for _, path := range paths {
		result, err := Inspect(ctx, i.Binary, path)
		if err != nil {
			logging.WarnWithContext(i.Logger, "duration lookup failed; file excluded from total", "duration_lookup_failed",
				logging.String("file", filepath.Base(path)),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "verify ffprobe is installed and the upload is a readable audio file"),
				logging.String(logging.FieldImpact, "progress percentage may be estimated heuristically"),
			)
			continue
		}
		seconds := result.DurationSeconds()
		if math.IsNaN(seconds) || seconds <= 0 {
			continue
		}
		total += seconds
	}
	return total
}

// Codecs returns the first audio codec of each path in order. Any ffprobe
// failure, or a file without audio, is returned as an error.
func (i *Inspector) Codecs(ctx context.Context, paths []string) ([]string, error) {
	codecs := make([]string, 0, len(paths))
	for _, path := range paths {
		result, err := Inspect(ctx, i.Binary, path)
		if err != nil {
			return nil, err
		}
		codec := result.AudioCodec()
		if codec == "" {
			return nil, fmt.Errorf("ffprobe: no audio stream in %s", filepath.Base(path))
		}
		codecs = append(codecs, codec)
	}
	return codecs, nil
}
