package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Add enqueues sessionID. A prior terminal row for the session is replaced;
// an active one yields ErrAlreadyQueued.
func (s *Store) Add(ctx context.Context, sessionID string, priority int) (*Entry, error) {
	ctx = ensureContext(ctx)
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}

	var id int64
	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM queue WHERE session_id = ? AND status IN ('completed', 'failed')`,
			sessionID,
		); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO queue (session_id, status, priority, created_at) VALUES (?, 'pending', ?, ?)`,
			sessionID, priority, s.now().UnixNano(),
		)
		if err != nil {
			return err
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAlreadyQueued
		}
		return nil, fmt.Errorf("add queue entry: %w", err)
	}
	return s.getByID(ctx, id)
}

// Position returns the 1-based place of sessionID's pending entry in claim
// order. Processing entries count as ahead of every pending entry. Zero means
// the session has no pending entry.
func (s *Store) Position(ctx context.Context, sessionID string) (int, error) {
	ctx = ensureContext(ctx)
	entry, err := s.activeEntry(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if entry == nil || entry.Status != StatusPending {
		return 0, nil
	}

	created := entry.CreatedAt.UnixNano()
	var ahead int
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM queue
         WHERE status = 'processing'
            OR (status = 'pending' AND (
                   priority > ?
                OR (priority = ? AND created_at < ?)
                OR (priority = ? AND created_at = ? AND id < ?)))`,
		entry.Priority, entry.Priority, created, entry.Priority, created, entry.ID,
	).Scan(&ahead)
	if err != nil {
		return 0, fmt.Errorf("queue position: %w", err)
	}
	return ahead + 1, nil
}

// ClaimNext atomically moves the highest ranked pending entry to processing
// and returns it. It returns nil, nil when nothing is pending. Concurrent
// callers, in this process or another, never receive the same entry.
func (s *Store) ClaimNext(ctx context.Context) (*Entry, error) {
	ctx = ensureContext(ctx)
	var entry *Entry
	err := retryOnBusy(ctx, func() error {
		row := s.db.QueryRowContext(ctx,
			`UPDATE queue
             SET status = 'processing', started_at = ?
             WHERE id = (
                 SELECT id FROM queue
                 WHERE status = 'pending'
                 ORDER BY priority DESC, created_at ASC, id ASC
                 LIMIT 1
             ) AND status = 'pending'
             RETURNING `+entryColumns,
			s.now().UnixNano(),
		)
		var scanErr error
		entry, scanErr = scanEntry(row)
		return scanErr
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim queue entry: %w", err)
	}
	return entry, nil
}

// MarkCompleted finishes the active entry of sessionID. Entries that are
// already terminal are left alone.
func (s *Store) MarkCompleted(ctx context.Context, sessionID string) error {
	return s.finish(ctx, sessionID, StatusCompleted, "")
}

// MarkFailed records reason on the active entry of sessionID.
func (s *Store) MarkFailed(ctx context.Context, sessionID, reason string) error {
	return s.finish(ctx, sessionID, StatusFailed, reason)
}

func (s *Store) finish(ctx context.Context, sessionID string, status Status, reason string) error {
	_, err := s.execWithRetry(ctx,
		`UPDATE queue SET status = ?, finished_at = ?, error = ?
         WHERE session_id = ? AND status IN ('pending', 'processing')`,
		status, s.now().UnixNano(), nullableString(reason), sessionID,
	)
	if err != nil {
		return fmt.Errorf("mark %s: %w", status, err)
	}
	return nil
}

// Get returns the most recent entry for sessionID, or nil when there is none.
func (s *Store) Get(ctx context.Context, sessionID string) (*Entry, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM queue WHERE session_id = ? ORDER BY id DESC LIMIT 1`,
		sessionID,
	)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get queue entry: %w", err)
	}
	return entry, nil
}

func (s *Store) activeEntry(ctx context.Context, sessionID string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM queue WHERE session_id = ? AND status IN ('pending', 'processing')`,
		sessionID,
	)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active queue entry: %w", err)
	}
	return entry, nil
}

func (s *Store) getByID(ctx context.Context, id int64) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM queue WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if err != nil {
		return nil, fmt.Errorf("get queue entry %d: %w", id, err)
	}
	return entry, nil
}

// ActiveCount returns the number of pending and processing entries.
func (s *Store) ActiveCount(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(1) FROM queue WHERE status IN ('pending', 'processing')`)
}

// ProcessingCount returns the number of processing entries.
func (s *Store) ProcessingCount(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(1) FROM queue WHERE status = 'processing'`)
}

func (s *Store) count(ctx context.Context, query string) (int, error) {
	ctx = ensureContext(ctx)
	var n int
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count queue entries: %w", err)
	}
	return n, nil
}

// List returns entries with the given statuses (all when none are given),
// processing first and then in claim order.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Entry, error) {
	ctx = ensureContext(ctx)
	query := `SELECT ` + entryColumns + ` FROM queue`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, string(status))
		}
	}
	query += ` ORDER BY CASE status WHEN 'processing' THEN 0 WHEN 'pending' THEN 1 ELSE 2 END,
               priority DESC, created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list queue entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
