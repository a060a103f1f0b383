package config

const (
	defaultSessionsDir          = "~/.local/share/audiojoin/sessions"
	defaultLogDir               = "~/.local/share/audiojoin/logs"
	defaultLogRetentionDays     = 30
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultBind                 = "127.0.0.1:7490"
	defaultMaxUploadFiles       = 200
	defaultMaxFileBytes         = 500 << 20
	defaultRateLimitPerMinute   = 60
	defaultMaxConcurrentJobs    = 3
	defaultPollIntervalSeconds  = 5
	defaultMaxRuntimeSeconds    = 300
	defaultClaimPauseMillis     = 1000
	defaultTerminalRetentionSec = 3600
	defaultCleanupMaxAgeSeconds = 3600
	defaultCleanupIntervalSec   = 300
	defaultFFmpegBinary         = "ffmpeg"
	defaultFFprobeBinary        = "ffprobe"
	defaultFormat               = "webm"
	defaultBitrate              = 192
	defaultMaxBitrate           = 320
	defaultThreads              = 4
	defaultLogTailBytes         = 4096
	defaultProgressFloor        = 5
	defaultNotifyTimeoutSec     = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			SessionsDir: defaultSessionsDir,
			LogDir:      defaultLogDir,
		},
		Server: Server{
			Bind:               defaultBind,
			MaxUploadFiles:     defaultMaxUploadFiles,
			MaxFileBytes:       defaultMaxFileBytes,
			AllowedExtensions:  []string{"mp3", "wav"},
			RateLimitPerMinute: defaultRateLimitPerMinute,
		},
		Queue: Queue{
			Enabled:                  false,
			MaxConcurrentJobs:        defaultMaxConcurrentJobs,
			PollIntervalSeconds:      defaultPollIntervalSeconds,
			MaxRuntimeSeconds:        defaultMaxRuntimeSeconds,
			ClaimPauseMillis:         defaultClaimPauseMillis,
			TerminalRetentionSeconds: defaultTerminalRetentionSec,
		},
		Cleanup: Cleanup{
			MaxAgeSeconds:   defaultCleanupMaxAgeSeconds,
			IntervalSeconds: defaultCleanupIntervalSec,
		},
		Conversion: Conversion{
			FFmpegBinary:    defaultFFmpegBinary,
			FFprobeBinary:   defaultFFprobeBinary,
			DefaultFormat:   defaultFormat,
			DefaultBitrate:  defaultBitrate,
			AllowedBitrates: []int{64, 128, 192, 256, 320},
			Threads:         defaultThreads,
			StreamCopy:      true,
			LogTailBytes:    defaultLogTailBytes,
			ProgressFloor:   defaultProgressFloor,
		},
		Formats: defaultFormats(),
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNotifyTimeoutSec,
		},
	}
}
