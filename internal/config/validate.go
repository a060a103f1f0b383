package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateConversion(); err != nil {
		return err
	}
	if err := c.validateFormats(); err != nil {
		return err
	}
	return c.validateNotifications()
}

func (c *Config) validateNotifications() error {
	if c.Notifications.NtfyTopic == "" {
		return nil
	}
	u, err := url.Parse(c.Notifications.NtfyTopic)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("notifications.ntfy_topic must be an http(s) URL, got %q", c.Notifications.NtfyTopic)
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.SessionsDir) == "" {
		return errors.New("paths.sessions_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateServer() error {
	if err := ensurePositiveMap(map[string]int{
		"server.max_upload_files":      c.Server.MaxUploadFiles,
		"server.rate_limit_per_minute": c.Server.RateLimitPerMinute,
	}); err != nil {
		return err
	}
	if c.Server.MaxFileBytes <= 0 {
		return errors.New("server.max_file_bytes must be positive")
	}
	if len(c.Server.AllowedExtensions) == 0 {
		return errors.New("server.allowed_extensions must list at least one extension")
	}
	return nil
}

func (c *Config) validateQueue() error {
	return ensurePositiveMap(map[string]int{
		"queue.max_concurrent_jobs":        c.Queue.MaxConcurrentJobs,
		"queue.poll_interval_seconds":      c.Queue.PollIntervalSeconds,
		"queue.max_runtime_seconds":        c.Queue.MaxRuntimeSeconds,
		"queue.terminal_retention_seconds": c.Queue.TerminalRetentionSeconds,
		"cleanup.max_age_seconds":          c.Cleanup.MaxAgeSeconds,
	})
}

func (c *Config) validateConversion() error {
	if c.Conversion.Threads <= 0 {
		return errors.New("conversion.threads must be positive")
	}
	if len(c.Conversion.AllowedBitrates) == 0 {
		return errors.New("conversion.allowed_bitrates must not be empty")
	}
	for _, kbps := range c.Conversion.AllowedBitrates {
		if kbps <= 0 {
			return fmt.Errorf("conversion.allowed_bitrates contains non-positive value %d", kbps)
		}
	}
	if !c.BitrateAllowed(c.Conversion.DefaultBitrate) {
		return fmt.Errorf("conversion.default_bitrate %d must be one of conversion.allowed_bitrates", c.Conversion.DefaultBitrate)
	}
	if c.Conversion.ProgressFloor < 0 || c.Conversion.ProgressFloor > 99 {
		return errors.New("conversion.progress_floor must be between 0 and 99")
	}
	return nil
}

func (c *Config) validateFormats() error {
	if len(c.Formats) == 0 {
		return errors.New("formats must define at least one output format")
	}
	if _, ok := c.Formats[c.Conversion.DefaultFormat]; !ok {
		return fmt.Errorf("conversion.default_format %q is not defined under [formats]", c.Conversion.DefaultFormat)
	}
	for _, name := range c.FormatNames() {
		f := c.Formats[name]
		if f.Codec == "" {
			return fmt.Errorf("formats.%s.codec must be set", name)
		}
		if f.MimeType == "" {
			return fmt.Errorf("formats.%s.mime_type must be set", name)
		}
		if strings.ContainsAny(f.Extension, "/\\") {
			return fmt.Errorf("formats.%s.extension must not contain path separators", name)
		}
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
