// Package deps checks that the conversion binaries are installed.
package deps

import (
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"path/filepath"
	"strings"

	"audiojoin/internal/config"
)

// Status reports one binary from the [conversion] config.
type Status struct {
	Name        string
	Command     string
	Path        string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Check resolves the configured ffmpeg and ffprobe. ffprobe is optional:
// without it progress has no duration and stream copy is never chosen.
func Check(cfg *config.Config) []Status {
	return []Status{
		check("FFmpeg", cfg.Conversion.FFmpegBinary, "Joins and encodes uploaded audio", false),
		check("FFprobe", cfg.Conversion.FFprobeBinary, "Measures input durations for progress and detects stream-copy inputs", true),
	}
}

func check(name, command, description string, optional bool) Status {
	status := Status{
		Name:        name,
		Command:     strings.TrimSpace(command),
		Description: description,
		Optional:    optional,
	}
	path, err := Resolve(status.Command)
	switch {
	case status.Command == "":
		status.Detail = "command not configured"
	case errors.Is(err, fs.ErrPermission):
		status.Detail = fmt.Sprintf("%s is not executable", status.Command)
	case err != nil:
		status.Detail = fmt.Sprintf("binary %q not found", status.Command)
	default:
		status.Path = path
		status.Available = true
	}
	return status
}

// Missing returns the required binaries that are unavailable.
func Missing(statuses []Status) []Status {
	var out []Status
	for _, status := range statuses {
		if !status.Available && !status.Optional {
			out = append(out, status)
		}
	}
	return out
}

// Resolve looks command up on PATH and returns the absolute path of the
// file that would run.
func Resolve(command string) (string, error) {
	if command == "" {
		return "", exec.ErrNotFound
	}
	path, err := exec.LookPath(command)
	if err != nil {
		return "", err
	}
	return filepath.Abs(path)
}
