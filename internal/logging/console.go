package logging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

const (
	consoleTimeLayout = "2006-01-02 15:04:05"
	// infoFieldLimit caps the bullet list under an info line.
	infoFieldLimit = 8
	// maxSubjects bounds the repeat-suppression memory; sessions come and go
	// for the life of the daemon.
	maxSubjects = 512
	maxValueLen = 120
	maxErrorLen = 200
)

// leadKeys are rendered first, in this order, when present.
var leadKeys = []string{
	FieldAlert,
	FieldEventType,
	"status",
	"previous_status",
	FieldProgressPercent,
	"format",
	"bitrate_kbps",
	"strategy",
	"stream_copy",
	"queue_position",
	"file_count",
	"total_duration",
	"file_size",
	"output_size_bytes",
	"conversion_duration",
	"elapsed",
	"pid",
	"exit_code",
	"removed",
	"reason",
	"error",
	"error_message",
	FieldErrorHint,
	FieldImpact,
}

var labels = map[string]string{
	FieldAlert:           "Alert",
	FieldEventType:       "Event",
	FieldErrorHint:       "Hint",
	FieldProgressPercent: "Progress",
	"bitrate_kbps":       "Bitrate",
	"stream_copy":        "Copy",
	"file_count":         "Files",
	"file_size":          "Size",
	"output_size_bytes":  "Output",
	"elapsed":            "Took",
	"pid":                "PID",
}

type field struct {
	key   string
	value slog.Value
}

// consoleState is shared by a handler and every handler derived from it.
type consoleState struct {
	mu       sync.Mutex
	w        io.Writer
	subjects map[string]map[string]string
}

// consoleHandler renders one header line per record followed by an indented
// field list. Info lines list at most infoFieldLimit fields, skip path noise
// unless the level is debug, and omit values unchanged since the previous
// line about the same session.
type consoleHandler struct {
	state     *consoleState
	level     *slog.LevelVar
	addSource bool
	attrs     []field
	prefix    string
}

func newPrettyHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	return &consoleHandler{
		state:     &consoleState{w: w, subjects: make(map[string]map[string]string)},
		level:     lvl,
		addSource: addSource,
	}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = slices.Clip(h.attrs)
	for _, attr := range attrs {
		next.attrs = appendFlat(next.attrs, h.prefix, attr)
	}
	return &next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

func (h *consoleHandler) Handle(_ context.Context, record slog.Record) error {
	fields := slices.Clone(h.attrs)
	record.Attrs(func(attr slog.Attr) bool {
		fields = appendFlat(fields, h.prefix, attr)
		return true
	})
	fields = lastWins(fields)

	var component, sessionID, jobID string
	rest := fields[:0:0]
	for _, f := range fields {
		switch f.key {
		case FieldComponent:
			component = plain(f.value)
			continue
		case FieldSessionID:
			sessionID = plain(f.value)
		case FieldJobID:
			jobID = plain(f.value)
		}
		rest = append(rest, f)
	}

	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	var buf bytes.Buffer
	buf.WriteString(ts.Local().Format(consoleTimeLayout))
	buf.WriteByte(' ')
	buf.WriteString(levelName(record.Level))
	if component != "" {
		fmt.Fprintf(&buf, " [%s]", component)
	}
	if subject := formatSubject(sessionID, jobID); subject != "" {
		buf.WriteByte(' ')
		buf.WriteString(subject)
	}
	msg := strings.TrimSpace(record.Message)
	if msg == "" {
		msg = "(no message)"
	}
	buf.WriteString(" – ")
	buf.WriteString(msg)
	if h.addSource && record.PC != 0 {
		if src := record.Source(); src != nil {
			fmt.Fprintf(&buf, " [%s:%d]", filepath.Base(src.File), src.Line)
		}
	}
	buf.WriteByte('\n')

	h.state.mu.Lock()
	defer h.state.mu.Unlock()
	if record.Level < slog.LevelInfo {
		for _, f := range fields {
			fmt.Fprintf(&buf, "    %s: %s\n", f.key, quoted(f.value))
		}
	} else {
		h.writeInfoFields(&buf, record.Level, subjectKey(component, sessionID), rest)
	}
	_, err := h.state.w.Write(buf.Bytes())
	return err
}

func (h *consoleHandler) writeInfoFields(buf *bytes.Buffer, level slog.Level, subject string, fields []field) {
	verbose := h.level.Level() <= slog.LevelDebug
	slices.SortStableFunc(fields, func(a, b field) int { return leadRank(a.key) - leadRank(b.key) })

	seen := h.state.seen(subject)
	shown, hidden := 0, 0
	for _, f := range fields {
		if f.key == FieldSessionID || f.key == FieldJobID {
			continue
		}
		value := display(f.key, f.value)
		if !verbose && (isNoiseKey(f.key) || (len(value) > maxValueLen && !isErrorKey(f.key))) {
			hidden++
			continue
		}
		name := label(f.key)
		// Warnings and errors always repeat their context.
		if seen != nil && level <= slog.LevelInfo && seen[name] == value {
			continue
		}
		if !verbose && shown >= infoFieldLimit {
			hidden++
			continue
		}
		if seen != nil {
			seen[name] = value
		}
		fmt.Fprintf(buf, "    - %s: %s\n", name, value)
		shown++
	}
	if hidden == 1 {
		buf.WriteString("    + 1 more field hidden\n")
	} else if hidden > 1 {
		fmt.Fprintf(buf, "    + %d more fields hidden\n", hidden)
	}
}

func (s *consoleState) seen(subject string) map[string]string {
	if subject == "" {
		return nil
	}
	if m, ok := s.subjects[subject]; ok {
		return m
	}
	if len(s.subjects) >= maxSubjects {
		clear(s.subjects)
	}
	m := make(map[string]string)
	s.subjects[subject] = m
	return m
}

func appendFlat(dst []field, prefix string, attr slog.Attr) []field {
	if attr.Equal(slog.Attr{}) {
		return dst
	}
	value := attr.Value.Resolve()
	if value.Kind() == slog.KindGroup {
		inner := prefix
		if attr.Key != "" {
			inner = prefix + attr.Key + "."
		}
		for _, a := range value.Group() {
			dst = appendFlat(dst, inner, a)
		}
		return dst
	}
	return append(dst, field{key: prefix + attr.Key, value: value})
}

// lastWins keeps the first position of each key with its latest value.
func lastWins(fields []field) []field {
	index := make(map[string]int, len(fields))
	out := make([]field, 0, len(fields))
	for _, f := range fields {
		if f.key == "" {
			continue
		}
		if i, ok := index[f.key]; ok {
			out[i].value = f.value
			continue
		}
		index[f.key] = len(out)
		out = append(out, f)
	}
	return out
}

func leadRank(key string) int {
	if i := slices.Index(leadKeys, key); i >= 0 {
		return i
	}
	return len(leadKeys)
}

func label(key string) string {
	if l, ok := labels[key]; ok {
		return l
	}
	words := strings.FieldsFunc(key, func(r rune) bool { return r == '_' || r == '-' || r == '.' })
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}

func isNoiseKey(key string) bool {
	switch key {
	case FieldCorrelationID, "args", "run_id", "log_path":
		return true
	}
	return strings.HasPrefix(key, "ffprobe.") || strings.Contains(key, "_path") || strings.Contains(key, "_dir") || key == "path"
}

func isErrorKey(key string) bool {
	return key == "error" || key == "error_message" || key == "reason" || key == "command"
}

// display formats a value for the info field list.
func display(key string, v slog.Value) string {
	switch {
	case v.Kind() == slog.KindBool:
		if v.Bool() {
			return "yes"
		}
		return "no"
	case isSizeKey(key) && v.Kind() == slog.KindInt64 && v.Int64() >= 0:
		return humanize.IBytes(uint64(v.Int64()))
	case v.Kind() == slog.KindDuration:
		d := v.Duration()
		if d < time.Second {
			return d.Round(time.Millisecond).String()
		}
		return d.Round(time.Second).String()
	case key == FieldProgressPercent && v.Kind() == slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10) + "%"
	case strings.HasSuffix(key, "_percent") && v.Kind() == slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', 1, 64) + "%"
	case key == "total_duration" && v.Kind() == slog.KindFloat64:
		return (time.Duration(v.Float64() * float64(time.Second))).Round(time.Second).String()
	}
	s := quoted(v)
	if isErrorKey(key) && len(s) > maxErrorLen {
		s = s[:maxErrorLen] + "…"
	}
	return s
}

func isSizeKey(key string) bool {
	return key == "bytes" || key == "size" || strings.HasSuffix(key, "_size") || strings.HasSuffix(key, "_bytes")
}

// plain renders v without quoting, for header parts.
func plain(v slog.Value) string {
	if v.Kind() == slog.KindAny {
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
	}
	return v.String()
}

func quoted(v slog.Value) string {
	var s string
	switch v.Kind() {
	case slog.KindTime:
		return v.Time().Local().Format(consoleTimeLayout)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			s = err.Error()
		} else {
			s = fmt.Sprint(v.Any())
		}
	default:
		s = v.String()
	}
	if s == "" || strings.ContainsFunc(s, func(r rune) bool { return r <= ' ' || r == '=' || r == '"' }) {
		return strconv.Quote(s)
	}
	return s
}

// formatSubject shortens session identifiers to their first eight characters.
func formatSubject(sessionID, jobID string) string {
	sessionID = strings.TrimSpace(sessionID)
	if len(sessionID) > 8 {
		sessionID = sessionID[:8]
	}
	jobID = strings.TrimSpace(jobID)
	switch {
	case sessionID != "" && jobID != "":
		return "Session " + sessionID + " (job #" + jobID + ")"
	case sessionID != "":
		return "Session " + sessionID
	case jobID != "":
		return "Job #" + jobID
	}
	return ""
}

func subjectKey(component, sessionID string) string {
	if sessionID != "" {
		return sessionID
	}
	return component
}

func levelName(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	}
	return "DEBUG"
}
