package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// RetentionTarget names the files in Dir, matched by the glob Pattern, that
// log retention may remove.
type RetentionTarget struct {
	Dir     string
	Pattern string
}

// PruneLogs removes target files last modified more than days ago and
// returns how many were removed. days <= 0 keeps everything.
func PruneLogs(logger *slog.Logger, days int, targets ...RetentionTarget) int {
	if days <= 0 {
		return 0
	}
	if logger == nil {
		logger = NewNop()
	}
	cutoff := time.Now().AddDate(0, 0, -days)
	removed := 0
	for _, target := range targets {
		if target.Dir == "" || target.Pattern == "" {
			continue
		}
		matches, err := filepath.Glob(filepath.Join(target.Dir, target.Pattern))
		if err != nil {
			continue
		}
		for _, path := range matches {
			info, err := os.Lstat(path)
			if err != nil || !info.Mode().IsRegular() || info.ModTime().After(cutoff) {
				continue
			}
			if err := os.Remove(path); err != nil {
				WarnWithContext(logger, "log retention could not remove file", "log_retention_failed",
					String("path", path),
					Error(err),
					String(FieldErrorHint, "check ownership of the log directory"),
					String(FieldImpact, "expired log stays on disk"),
				)
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		logger.Info("expired logs pruned",
			Int("removed", removed),
			Int("retention_days", days),
			String(FieldEventType, "logs_pruned"),
		)
	}
	return removed
}
