package ffprobe

import (
	"math"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		codec    string
		duration float64
		nan      bool
	}{
		{
			name: "cover art before audio",
			payload: `{"programs":[],"streams":[
				{"index":0,"codec_name":"mjpeg","codec_type":"video"},
				{"index":1,"codec_name":"MP3","codec_type":"audio"},
				{"index":2,"codec_name":"aac","codec_type":"audio"}],
				"format":{"duration":"123.450000"}}`,
			codec:    "mp3",
			duration: 123.45,
		},
		{
			name:    "no audio stream and unknown duration",
			payload: `{"streams":[{"index":0,"codec_name":"png","codec_type":"video"}],"format":{"duration":"N/A"}}`,
		},
		{
			name:    "garbled duration",
			payload: `{"streams":[{"index":0,"codec_name":"flac","codec_type":"audio"}],"format":{"duration":"bad"}}`,
			codec:   "flac",
			nan:     true,
		},
		{
			name:    "empty object",
			payload: `{}`,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := parse([]byte(tc.payload))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if got := result.AudioCodec(); got != tc.codec {
				t.Fatalf("AudioCodec = %q, want %q", got, tc.codec)
			}
			got := result.DurationSeconds()
			if tc.nan {
				if !math.IsNaN(got) {
					t.Fatalf("DurationSeconds = %v, want NaN", got)
				}
				return
			}
			if got != tc.duration {
				t.Fatalf("DurationSeconds = %v, want %v", got, tc.duration)
			}
		})
	}
}

func TestParseRejectsNonJSON(t *testing.T) {
	if _, err := parse([]byte("Invalid data found when processing input")); err == nil {
		t.Fatal("expected parse error")
	}
}
