package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory locations.
type Paths struct {
	SessionsDir string `toml:"sessions_dir"`
	LogDir      string `toml:"log_dir"`
	QueueDBPath string `toml:"queue_db_path"`
}

// Server contains HTTP surface settings and upload limits.
type Server struct {
	Bind               string   `toml:"bind"`
	MaxUploadFiles     int      `toml:"max_upload_files"`
	MaxFileBytes       int64    `toml:"max_file_bytes"`
	AllowedExtensions  []string `toml:"allowed_extensions"`
	RateLimitPerMinute int      `toml:"rate_limit_per_minute"`
	AllowedOrigin      string   `toml:"allowed_origin"`
}

// Queue contains settings for queued conversion mode and the worker supervisor.
type Queue struct {
	Enabled                  bool `toml:"enabled"`
	MaxConcurrentJobs        int  `toml:"max_concurrent_jobs"`
	PollIntervalSeconds      int  `toml:"poll_interval_seconds"`
	MaxRuntimeSeconds        int  `toml:"max_runtime_seconds"`
	ClaimPauseMillis         int  `toml:"claim_pause_ms"`
	TerminalRetentionSeconds int  `toml:"terminal_retention_seconds"`
}

// Cleanup contains session retention settings.
type Cleanup struct {
	MaxAgeSeconds   int `toml:"max_age_seconds"`
	IntervalSeconds int `toml:"interval_seconds"`
}

// Conversion contains transcoder settings shared by every output format.
type Conversion struct {
	FFmpegBinary    string `toml:"ffmpeg_binary"`
	FFprobeBinary   string `toml:"ffprobe_binary"`
	DefaultFormat   string `toml:"default_format"`
	DefaultBitrate  int    `toml:"default_bitrate"`
	AllowedBitrates []int  `toml:"allowed_bitrates"`
	Threads         int    `toml:"threads"`
	StreamCopy      bool   `toml:"stream_copy"`
	LogTailBytes    int    `toml:"log_tail_bytes"`
	ProgressFloor   int    `toml:"progress_floor"`
}

// Notifications contains ntfy settings. An empty topic disables delivery.
type Notifications struct {
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	NotifyQueueRuns       bool   `toml:"notify_queue_runs"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for audiojoin.
//
// Configuration sections by subsystem:
//   - Paths: session storage, logs, queue database
//   - Server: HTTP bind address, upload limits, rate limiting
//   - Queue: queued mode toggle and supervisor pacing
//   - Cleanup: session retention and sweep interval
//   - Conversion: ffmpeg binaries, defaults, progress tuning
//   - Formats: output format table keyed by format name
//   - Logging: log format, level, and retention
//   - Notifications: optional ntfy topic for conversion outcomes
type Config struct {
	Paths      Paths             `toml:"paths"`
	Server     Server            `toml:"server"`
	Queue      Queue             `toml:"queue"`
	Cleanup    Cleanup           `toml:"cleanup"`
	Conversion Conversion        `toml:"conversion"`
	Formats    map[string]Format `toml:"formats"`
	Logging    Logging           `toml:"logging"`

	Notifications Notifications `toml:"notifications"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/audiojoin/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		loadDotEnv(filepath.Join(filepath.Dir(resolvedPath), ".env"))

		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// loadDotEnv populates unset environment variables from an optional .env file.
func loadDotEnv(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	_ = godotenv.Load(path)
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("audiojoin.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.SessionsDir, c.Paths.LogDir, filepath.Dir(c.Paths.QueueDBPath)} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// PollInterval is the supervisor back-pressure sleep.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Queue.PollIntervalSeconds) * time.Second
}

// MaxRuntime bounds a single supervisor invocation.
func (c *Config) MaxRuntime() time.Duration {
	return time.Duration(c.Queue.MaxRuntimeSeconds) * time.Second
}

// ClaimPause is the pause between consecutive jobs within one supervisor run.
func (c *Config) ClaimPause() time.Duration {
	return time.Duration(c.Queue.ClaimPauseMillis) * time.Millisecond
}

// TerminalRetention is how long completed and failed queue rows are kept.
func (c *Config) TerminalRetention() time.Duration {
	return time.Duration(c.Queue.TerminalRetentionSeconds) * time.Second
}

// NotifyTimeout bounds one ntfy request.
func (c *Config) NotifyTimeout() time.Duration {
	return time.Duration(c.Notifications.RequestTimeoutSeconds) * time.Second
}

// SessionMaxAge is the retention threshold used by the reaper.
func (c *Config) SessionMaxAge() time.Duration {
	return time.Duration(c.Cleanup.MaxAgeSeconds) * time.Second
}

// CleanupInterval is how often the daemon sweeps expired sessions.
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.Cleanup.IntervalSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
