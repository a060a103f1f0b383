package session

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
)

// StoredName is the on-disk name of the upload at index.
func StoredName(index int, sanitized string) string {
	return fmt.Sprintf("%04d_%s", index, sanitized)
}

// Manifest renders the ffmpeg concat demuxer list for files in order.
func Manifest(files []string) []byte {
	var buf bytes.Buffer
	for _, name := range files {
		buf.WriteString("file '")
		buf.WriteString(strings.ReplaceAll(name, "'", `'\''`))
		buf.WriteString("'\n")
	}
	return buf.Bytes()
}

var manifestLine = regexp.MustCompile(`^file '(.+)'$`)

// ParseManifest reverses Manifest. Lines that are not file entries are ignored.
func ParseManifest(data []byte) []string {
	var files []string
	for _, line := range strings.Split(string(data), "\n") {
		m := manifestLine.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		files = append(files, strings.ReplaceAll(m[1], `'\''`, "'"))
	}
	return files
}
