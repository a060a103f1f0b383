package queue

import (
	"database/sql"
	"time"
)

const entryColumns = "id, session_id, status, priority, created_at, started_at, finished_at, error"

func scanEntry(scanner interface{ Scan(dest ...any) error }) (*Entry, error) {
	var (
		entry     Entry
		statusStr string
		created   int64
		started   sql.NullInt64
		finished  sql.NullInt64
		errorText sql.NullString
	)
	if err := scanner.Scan(
		&entry.ID,
		&entry.SessionID,
		&statusStr,
		&entry.Priority,
		&created,
		&started,
		&finished,
		&errorText,
	); err != nil {
		return nil, err
	}
	entry.Status = Status(statusStr)
	entry.CreatedAt = fromUnixNano(created)
	entry.StartedAt = nullableUnix(started)
	entry.FinishedAt = nullableUnix(finished)
	entry.Error = errorText.String
	return &entry, nil
}

func fromUnixNano(v int64) time.Time {
	return time.Unix(0, v).UTC()
}

func nullableUnix(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromUnixNano(v.Int64)
	return &t
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
