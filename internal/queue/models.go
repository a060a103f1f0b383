package queue

import "time"

// Status represents the lifecycle of a queue entry.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
}

// AllStatuses returns every status in lifecycle order.
func AllStatuses() []Status {
	return append([]Status(nil), allStatuses...)
}

// ParseStatus converts a string to a Status.
func ParseStatus(value string) (Status, bool) {
	for _, status := range allStatuses {
		if string(status) == value {
			return status, true
		}
	}
	return "", false
}

// IsActive reports whether the entry still occupies the session's slot.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusProcessing
}

// Entry is one row of the queue table.
type Entry struct {
	ID         int64
	SessionID  string
	Status     Status
	Priority   int
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
	Error      string
}

// Wait returns how long the entry sat pending before it was claimed, or
// until now when it has not been claimed yet.
func (e *Entry) Wait(now time.Time) time.Duration {
	if e == nil {
		return 0
	}
	end := now
	if e.StartedAt != nil {
		end = *e.StartedAt
	}
	if d := end.Sub(e.CreatedAt); d > 0 {
		return d
	}
	return 0
}

// DatabaseHealth captures diagnostic information about the queue database.
type DatabaseHealth struct {
	DBPath         string
	DatabaseExists bool
	Readable       bool
	SchemaVersion  int
	IntegrityCheck bool
	TotalEntries   int
	Error          string
}
