package api

import (
	"context"

	"audiojoin/internal/queue"
)

// QueueReader abstracts queue persistence interactions needed for API queries.
type QueueReader interface {
	List(ctx context.Context, statuses ...queue.Status) ([]*queue.Entry, error)
	Stats(ctx context.Context) (map[queue.Status]int, error)
	Get(ctx context.Context, sessionID string) (*queue.Entry, error)
	CheckHealth(ctx context.Context) (queue.DatabaseHealth, error)
}

// QueueService exposes read-only queue operations returning API DTOs.
type QueueService struct {
	store QueueReader
}

// NewQueueService constructs a QueueService around the provided reader.
func NewQueueService(store QueueReader) *QueueService {
	if store == nil {
		return nil
	}
	return &QueueService{store: store}
}

// List returns queue entries filtered by status.
func (s *QueueService) List(ctx context.Context, statuses ...queue.Status) ([]QueueItem, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	entries, err := s.store.List(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	return FromQueueEntries(entries), nil
}

// Stats returns queue summary counts keyed by status string.
func (s *QueueService) Stats(ctx context.Context) (map[string]int, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return MergeQueueStats(stats), nil
}

// Describe fetches the latest entry for a session.
func (s *QueueService) Describe(ctx context.Context, sessionID string) (*QueueItem, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	entry, err := s.store.Get(ctx, sessionID)
	if err != nil || entry == nil {
		return nil, err
	}
	dto := FromQueueEntry(entry)
	return &dto, nil
}

// Health checks the queue database and includes per-status counts when the
// database is readable.
func (s *QueueService) Health(ctx context.Context) (*QueueHealth, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	health, err := s.store.CheckHealth(ctx)
	if err != nil {
		return nil, err
	}
	var stats map[queue.Status]int
	if health.Readable {
		stats, _ = s.store.Stats(ctx)
	}
	return FromDatabaseHealth(health, stats), nil
}
