package session

import (
	"time"

	"audiojoin/internal/process"
)

// Status represents the lifecycle of a session.
type Status string

const (
	StatusUploaded   Status = "uploaded"
	StatusQueued     Status = "queued"
	StatusConverting Status = "converting"
	StatusDone       Status = "done"
	StatusError      Status = "error"
)

var transitions = map[Status][]Status{
	StatusUploaded:   {StatusQueued, StatusConverting, StatusError},
	StatusQueued:     {StatusConverting, StatusError},
	StatusConverting: {StatusDone, StatusError},
}

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusError
}

// CanTransition reports whether moving from s to next is a legal step.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Session is the persisted meta.json record.
type Session struct {
	ID              string          `json:"session_id"`
	Files           []string        `json:"files"`
	Status          Status          `json:"status"`
	Progress        int             `json:"progress"`
	OutputFormat    string          `json:"output_format,omitempty"`
	OutputExtension string          `json:"output_extension,omitempty"`
	Bitrate         int             `json:"bitrate,omitempty"`
	StreamCopy      bool            `json:"stream_copy,omitempty"`
	TotalDuration   float64         `json:"total_duration,omitempty"`
	Process         *process.Handle `json:"process,omitempty"`
	StartTime       time.Time       `json:"start_time,omitzero"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at,omitzero"`
	FileSize        int64           `json:"file_size,omitempty"`
	Error           string          `json:"error,omitempty"`
	QueuePosition   int             `json:"queue_position,omitempty"`
}

// OutputName is the artifact file name inside the session directory.
func (s *Session) OutputName() string {
	if s.OutputExtension == "" {
		return ""
	}
	return OutputPrefix + "." + s.OutputExtension
}

// Fail moves a non-terminal session to error with msg. It returns false when
// the session was already terminal.
func (s *Session) Fail(msg string) bool {
	if s.Status.IsTerminal() {
		return false
	}
	s.Status = StatusError
	s.Error = msg
	s.Process = nil
	return true
}

// Elapsed returns how long the conversion has been running at now.
func (s *Session) Elapsed(now time.Time) time.Duration {
	if s.StartTime.IsZero() {
		return 0
	}
	if d := now.Sub(s.StartTime); d > 0 {
		return d
	}
	return 0
}

// File names inside a session directory.
const (
	MetaFile     = "meta.json"
	LockFile     = "meta.lock"
	ManifestFile = "concat.txt"
	LogFile      = "ffmpeg.log"
	OutputPrefix = "playlist"
)
