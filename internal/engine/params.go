package engine

import (
	"strconv"
	"strings"

	"audiojoin/internal/config"
	"audiojoin/internal/session"
)

// Params are the resolved output settings for one conversion.
type Params struct {
	FormatName string
	Format     config.Format
	Bitrate    int
	Threads    int
}

// Resolve maps a requested format and bitrate onto supported values. Unknown
// formats fall back to the default format, bitrates outside the allowed set
// fall back to the default bitrate, and the result is clamped to the format's
// maximum. It never fails.
func Resolve(cfg *config.Config, format string, bitrate int) Params {
	name := strings.ToLower(strings.TrimSpace(format))
	f, ok := cfg.Format(name)
	if !ok {
		name = strings.ToLower(cfg.Conversion.DefaultFormat)
		f, _ = cfg.Format(name)
	}
	if !cfg.BitrateAllowed(bitrate) {
		bitrate = cfg.Conversion.DefaultBitrate
	}
	if f.MaxBitrate > 0 && bitrate > f.MaxBitrate {
		bitrate = f.MaxBitrate
	}
	threads := cfg.Conversion.Threads
	if threads <= 0 {
		threads = 1
	}
	return Params{FormatName: name, Format: f, Bitrate: bitrate, Threads: threads}
}

// OutputName is the artifact file name for p.
func (p Params) OutputName() string {
	return session.OutputPrefix + "." + p.Format.Extension
}

// CanStreamCopy reports whether every input already uses the output format's
// native codec, so the streams can be joined without re-encoding.
func CanStreamCopy(codecs []string, p Params) bool {
	native := strings.TrimSpace(p.Format.NativeCodec)
	if native == "" || len(codecs) == 0 {
		return false
	}
	for _, codec := range codecs {
		if !strings.EqualFold(strings.TrimSpace(codec), native) {
			return false
		}
	}
	return true
}

// BuildArgs returns the ffmpeg argument list. Paths are relative to the
// session directory, which is the process working directory.
func BuildArgs(p Params, streamCopy bool) []string {
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-f", "concat",
		"-safe", "0",
		"-i", session.ManifestFile,
	}
	if streamCopy {
		args = append(args, "-c:a", "copy")
	} else {
		flag := p.Format.BitrateFlag
		if flag == "" {
			flag = "-b:a"
		}
		args = append(args,
			"-c:a", p.Format.Codec,
			flag, strconv.Itoa(p.Bitrate)+"k",
			"-threads", strconv.Itoa(p.Threads),
		)
	}
	return append(args, "-y", p.OutputName())
}
