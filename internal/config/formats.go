package config

import (
	"slices"
	"sort"
	"strings"
)

// Format describes one supported output encoding.
type Format struct {
	Label       string `toml:"label"`
	Extension   string `toml:"extension"`
	MimeType    string `toml:"mime_type"`
	Codec       string `toml:"codec"`
	NativeCodec string `toml:"native_codec"`
	BitrateFlag string `toml:"bitrate_flag"`
	MaxBitrate  int    `toml:"max_bitrate"`
}

// Format returns the named output format.
func (c *Config) Format(name string) (Format, bool) {
	f, ok := c.Formats[strings.ToLower(strings.TrimSpace(name))]
	return f, ok
}

// FormatNames returns the configured format names in stable order.
func (c *Config) FormatNames() []string {
	names := make([]string, 0, len(c.Formats))
	for name := range c.Formats {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BitrateAllowed reports whether kbps is in the allowed bitrate set.
func (c *Config) BitrateAllowed(kbps int) bool {
	return slices.Contains(c.Conversion.AllowedBitrates, kbps)
}

func defaultFormats() map[string]Format {
	return map[string]Format{
		"webm": {
			Label:       "WebM (Opus)",
			Extension:   "webm",
			MimeType:    "audio/webm",
			Codec:       "libopus",
			NativeCodec: "opus",
			BitrateFlag: "-b:a",
			MaxBitrate:  defaultMaxBitrate,
		},
		"mp3": {
			Label:       "MP3",
			Extension:   "mp3",
			MimeType:    "audio/mpeg",
			Codec:       "libmp3lame",
			NativeCodec: "mp3",
			BitrateFlag: "-b:a",
			MaxBitrate:  defaultMaxBitrate,
		},
		"ogg": {
			Label:       "OGG (Vorbis)",
			Extension:   "ogg",
			MimeType:    "audio/ogg",
			Codec:       "libvorbis",
			NativeCodec: "vorbis",
			BitrateFlag: "-b:a",
			MaxBitrate:  defaultMaxBitrate,
		},
	}
}
