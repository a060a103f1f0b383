package testsupport

import (
	"fmt"
	"strconv"
)

// FFmpegStub describes how the fake ffmpeg behaves. The output path is the
// last argument, as with the real binary. Every invocation records its
// arguments to ffmpeg.args in the working directory.
type FFmpegStub struct {
	// Fail exits 1 without writing output.
	Fail bool
	// Delay is how long the stub runs between progress lines, in seconds.
	Delay float64
}

func (s FFmpegStub) script() string {
	delay := strconv.FormatFloat(s.Delay, 'f', -1, 64)
	if s.Fail {
		return fmt.Sprintf(`#!/bin/sh
echo "$@" > ffmpeg.args
echo "ffmpeg version stub"
sleep %s
echo "concat.txt: Invalid data found when processing input" 1>&2
exit 1
`, delay)
	}
	return fmt.Sprintf(`#!/bin/sh
for last; do :; done
echo "$@" > ffmpeg.args
echo "ffmpeg version stub"
echo "size=       1kB time=00:00:01.00 bitrate= 128.0kbits/s speed=1.0x"
sleep %s
echo "size=       2kB time=00:00:02.50 bitrate= 128.0kbits/s speed=1.0x"
printf 'joined-audio-payload' > "$last"
exit 0
`, delay)
}

// FFprobeStub answers every call with one audio stream. Files ending in .wav
// report pcm_s16le regardless of Codec.
type FFprobeStub struct {
	Codec    string
	Duration float64
	// Fail makes every run exit 1.
	Fail bool
}

func (s FFprobeStub) script() string {
	if s.Fail {
		return "#!/bin/sh\necho 'ffprobe failed' 1>&2\nexit 1\n"
	}
	codec := s.Codec
	if codec == "" {
		codec = "mp3"
	}
	return fmt.Sprintf(`#!/bin/sh
for last; do :; done
codec=%s
case "$last" in
  *.wav) codec=pcm_s16le ;;
esac
printf '{"streams":[{"index":0,"codec_type":"audio","codec_name":"%%s"}],"format":{"duration":"%s"}}' "$codec"
`, codec, strconv.FormatFloat(s.Duration, 'f', -1, 64))
}
