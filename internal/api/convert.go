package api

import (
	"time"

	"audiojoin/internal/conversion"
	"audiojoin/internal/deps"
	"audiojoin/internal/queue"
)

// FromQueueEntry converts a queue entry into its API representation.
func FromQueueEntry(entry *queue.Entry) QueueItem {
	if entry == nil {
		return QueueItem{}
	}
	item := QueueItem{
		ID:        entry.ID,
		SessionID: entry.SessionID,
		Status:    string(entry.Status),
		Priority:  entry.Priority,
		Error:     entry.Error,
		CreatedAt: FormatTime(entry.CreatedAt),
	}
	if entry.StartedAt != nil {
		item.StartedAt = FormatTime(*entry.StartedAt)
	}
	if entry.FinishedAt != nil {
		item.FinishedAt = FormatTime(*entry.FinishedAt)
	}
	return item
}

// FromQueueEntries converts a slice of queue entries.
func FromQueueEntries(entries []*queue.Entry) []QueueItem {
	if len(entries) == 0 {
		return nil
	}
	out := make([]QueueItem, 0, len(entries))
	for _, entry := range entries {
		out = append(out, FromQueueEntry(entry))
	}
	return out
}

// MergeQueueStats converts status keyed stats into string keys, filling in
// zero counts for statuses with no entries.
func MergeQueueStats(stats map[queue.Status]int) map[string]int {
	out := make(map[string]int, len(queue.AllStatuses()))
	for _, status := range queue.AllStatuses() {
		out[string(status)] = 0
	}
	for status, count := range stats {
		out[string(status)] = count
	}
	return out
}

// FromStatusView converts a conversion status into the polling payload.
// error is always present, null when the session has none.
func FromStatusView(view conversion.StatusView) StatusResponse {
	resp := StatusResponse{
		Status:        string(view.Status),
		Progress:      view.Progress,
		QueuePosition: view.QueuePosition,
		FileSize:      view.FileSize,
	}
	if view.Error != "" {
		msg := view.Error
		resp.Error = &msg
	}
	return resp
}

// FromDependencies converts preflight results.
func FromDependencies(statuses []deps.Status) []DependencyStatus {
	out := make([]DependencyStatus, len(statuses))
	for i, dep := range statuses {
		out[i] = DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Path:        dep.Path,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
		}
	}
	return out
}

// FromDatabaseHealth converts a queue health check.
func FromDatabaseHealth(health queue.DatabaseHealth, stats map[queue.Status]int) *QueueHealth {
	out := &QueueHealth{
		Path:          health.DBPath,
		Readable:      health.Readable,
		SchemaVersion: health.SchemaVersion,
		Integrity:     health.IntegrityCheck,
		Error:         health.Error,
	}
	if stats != nil {
		out.Counts = MergeQueueStats(stats)
	}
	return out
}

// FormatTime renders t for API payloads; the zero time renders empty.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
