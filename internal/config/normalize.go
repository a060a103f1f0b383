package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeServer()
	c.normalizeQueue()
	c.normalizeCleanup()
	c.normalizeConversion()
	c.normalizeFormats()
	c.normalizeLogging()
	c.normalizeNotifications()
	return nil
}

func (c *Config) normalizePaths() error {
	if value, ok := os.LookupEnv("AUDIOJOIN_SESSIONS_DIR"); ok && strings.TrimSpace(value) != "" {
		c.Paths.SessionsDir = strings.TrimSpace(value)
	}
	if value, ok := os.LookupEnv("AUDIOJOIN_LOG_DIR"); ok && strings.TrimSpace(value) != "" {
		c.Paths.LogDir = strings.TrimSpace(value)
	}
	if strings.TrimSpace(c.Paths.SessionsDir) == "" {
		c.Paths.SessionsDir = defaultSessionsDir
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}

	var err error
	if c.Paths.SessionsDir, err = expandPath(c.Paths.SessionsDir); err != nil {
		return fmt.Errorf("paths.sessions_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.QueueDBPath) == "" {
		c.Paths.QueueDBPath = filepath.Join(c.Paths.LogDir, "queue.db")
	}
	if c.Paths.QueueDBPath, err = expandPath(c.Paths.QueueDBPath); err != nil {
		return fmt.Errorf("paths.queue_db_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeServer() {
	c.Server.Bind = strings.TrimSpace(c.Server.Bind)
	if c.Server.Bind == "" {
		c.Server.Bind = defaultBind
	}
	exts := make([]string, 0, len(c.Server.AllowedExtensions))
	seen := make(map[string]struct{}, len(c.Server.AllowedExtensions))
	for _, ext := range c.Server.AllowedExtensions {
		normalized := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		exts = append(exts, normalized)
	}
	c.Server.AllowedExtensions = exts
	c.Server.AllowedOrigin = strings.TrimSpace(c.Server.AllowedOrigin)
}

func (c *Config) normalizeQueue() {
	if value, ok := os.LookupEnv("AUDIOJOIN_QUEUE_ENABLED"); ok {
		if enabled, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			c.Queue.Enabled = enabled
		}
	}
	if c.Queue.ClaimPauseMillis < 0 {
		c.Queue.ClaimPauseMillis = 0
	}
}

func (c *Config) normalizeCleanup() {
	if c.Cleanup.IntervalSeconds <= 0 {
		c.Cleanup.IntervalSeconds = defaultCleanupIntervalSec
	}
}

func (c *Config) normalizeConversion() {
	c.Conversion.FFmpegBinary = strings.TrimSpace(c.Conversion.FFmpegBinary)
	if c.Conversion.FFmpegBinary == "" {
		c.Conversion.FFmpegBinary = defaultFFmpegBinary
	}
	c.Conversion.FFprobeBinary = strings.TrimSpace(c.Conversion.FFprobeBinary)
	if c.Conversion.FFprobeBinary == "" {
		c.Conversion.FFprobeBinary = defaultFFprobeBinary
	}
	c.Conversion.DefaultFormat = strings.ToLower(strings.TrimSpace(c.Conversion.DefaultFormat))
	if c.Conversion.DefaultFormat == "" {
		c.Conversion.DefaultFormat = defaultFormat
	}
	if c.Conversion.LogTailBytes <= 0 {
		c.Conversion.LogTailBytes = defaultLogTailBytes
	}
}

// normalizeFormats lower-cases format keys and fills fields omitted for the
// built-in formats from their defaults.
func (c *Config) normalizeFormats() {
	builtin := defaultFormats()
	if len(c.Formats) == 0 {
		c.Formats = builtin
		return
	}
	normalized := make(map[string]Format, len(c.Formats))
	for name, f := range c.Formats {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		base, known := builtin[key]
		f.Extension = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(f.Extension)), ".")
		f.MimeType = strings.TrimSpace(f.MimeType)
		f.Codec = strings.TrimSpace(f.Codec)
		f.NativeCodec = strings.ToLower(strings.TrimSpace(f.NativeCodec))
		f.BitrateFlag = strings.TrimSpace(f.BitrateFlag)
		if known {
			f = fillFormat(f, base)
		}
		if f.Extension == "" {
			f.Extension = key
		}
		if f.BitrateFlag == "" {
			f.BitrateFlag = "-b:a"
		}
		if f.MaxBitrate <= 0 {
			f.MaxBitrate = defaultMaxBitrate
		}
		if strings.TrimSpace(f.Label) == "" {
			f.Label = strings.ToUpper(key)
		}
		normalized[key] = f
	}
	c.Formats = normalized
}

func fillFormat(f, base Format) Format {
	if f.Label == "" {
		f.Label = base.Label
	}
	if f.Extension == "" {
		f.Extension = base.Extension
	}
	if f.MimeType == "" {
		f.MimeType = base.MimeType
	}
	if f.Codec == "" {
		f.Codec = base.Codec
	}
	if f.NativeCodec == "" {
		f.NativeCodec = base.NativeCodec
	}
	if f.BitrateFlag == "" {
		f.BitrateFlag = base.BitrateFlag
	}
	if f.MaxBitrate <= 0 {
		f.MaxBitrate = base.MaxBitrate
	}
	return f
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

func (c *Config) normalizeNotifications() {
	if value, ok := os.LookupEnv("AUDIOJOIN_NTFY_TOPIC"); ok {
		c.Notifications.NtfyTopic = value
	}
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeoutSeconds <= 0 {
		c.Notifications.RequestTimeoutSeconds = defaultNotifyTimeoutSec
	}
}
