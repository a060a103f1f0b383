package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"audiojoin/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.SessionsDir = filepath.Join(base, "sessions")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.QueueDBPath = filepath.Join(base, "logs", "queue.db")
	cfgVal.Server.Bind = "127.0.0.1:0"
	cfgVal.Queue.PollIntervalSeconds = 1
	cfgVal.Queue.ClaimPauseMillis = 0

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithQueue enables queued mode with the given concurrency limit.
func WithQueue(maxConcurrent int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Queue.Enabled = true
		b.cfg.Queue.MaxConcurrentJobs = maxConcurrent
	}
}

// WithNotifyTopic points notifications at an ntfy endpoint.
func WithNotifyTopic(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Notifications.NtfyTopic = url
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, ffmpeg and ffprobe are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"ffmpeg", "ffprobe"}
		}
		binDir := b.binDir()
		for _, name := range names {
			writeScript(b.t, filepath.Join(binDir, name), "#!/bin/sh\nexit 0\n")
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// WithFFmpeg installs an ffmpeg stand-in with the given behaviour and points
// the config at it.
func WithFFmpeg(stub FFmpegStub) ConfigOption {
	return func(b *configBuilder) {
		target := filepath.Join(b.binDir(), "ffmpeg")
		writeScript(b.t, target, stub.script())
		b.cfg.Conversion.FFmpegBinary = target
	}
}

// WithFFprobe installs an ffprobe stand-in and points the config at it.
func WithFFprobe(stub FFprobeStub) ConfigOption {
	return func(b *configBuilder) {
		target := filepath.Join(b.binDir(), "ffprobe")
		writeScript(b.t, target, stub.script())
		b.cfg.Conversion.FFprobeBinary = target
	}
}

func (b *configBuilder) binDir() string {
	binDir := filepath.Join(b.baseDir, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		b.t.Fatalf("mkdir bin dir: %v", err)
	}
	return binDir
}

func writeScript(t testing.TB, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatalf("write stub %s: %v", path, err)
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.SessionsDir)
}
