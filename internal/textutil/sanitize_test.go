package textutil

import "testing"

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"track one.mp3", "track_one.mp3"},
		{"Café del Mar.mp3", "Cafe_del_Mar.mp3"},
		{"../../etc/passwd", "passwd"},
		{`C:\music\song.wav`, "song.wav"},
		{"it's (live).mp3", "it_s__live_.mp3"},
		{"", "file"},
		{"..", "file"},
		{"日本.mp3", "__.mp3"},
	}
	for _, tt := range tests {
		if got := SanitizeFileName(tt.in); got != tt.want {
			t.Errorf("SanitizeFileName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeToken(t *testing.T) {
	if got := SanitizeToken("  WebM (Opus) "); got != "webm__opus" {
		t.Fatalf("unexpected token %q", got)
	}
	if got := SanitizeToken(""); got != "unknown" {
		t.Fatalf("expected unknown, got %q", got)
	}
}
