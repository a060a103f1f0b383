package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"audiojoin/internal/config"
)

const userAgent = "audiojoin/1.0"

// Event identifies a notification kind.
type Event string

const (
	EventConversionDone   Event = "conversion_done"
	EventConversionFailed Event = "conversion_failed"
	EventQueueCompleted   Event = "queue_completed"
	EventTest             Event = "test"
)

// Payload carries event fields. Known keys: session_id, file_size, elapsed,
// error, processed, failed, duration.
type Payload map[string]string

// Service publishes events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
	Enabled() bool
}

// NewService builds an ntfy-backed Service, or a no-op when no topic is set.
func NewService(cfg *config.Config) Service {
	if cfg == nil || strings.TrimSpace(cfg.Notifications.NtfyTopic) == "" {
		return noopService{}
	}
	timeout := cfg.NotifyTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint:  strings.TrimSpace(cfg.Notifications.NtfyTopic),
		client:    &http.Client{Timeout: timeout},
		queueRuns: cfg.Notifications.NotifyQueueRuns,
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint  string
	client    *http.Client
	queueRuns bool
}

func (n *ntfyService) Enabled() bool { return true }

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := n.format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) format(event Event, payload Payload) (message, bool) {
	id := shortID(payload["session_id"])
	switch event {
	case EventConversionDone:
		body := fmt.Sprintf("Joined audio ready: session %s", id)
		if size := payload["file_size"]; size != "" {
			var bytes uint64
			if _, err := fmt.Sscan(size, &bytes); err == nil {
				body += " (" + humanize.IBytes(bytes) + ")"
			}
		}
		if elapsed := payload["elapsed"]; elapsed != "" {
			body += " in " + elapsed
		}
		return message{
			title: "audiojoin - Conversion Complete",
			body:  body,
			tags:  []string{"audiojoin", "conversion", "done"},
		}, true
	case EventConversionFailed:
		reason := strings.TrimSpace(payload["error"])
		if reason == "" {
			reason = "unknown"
		}
		return message{
			title:    "audiojoin - Conversion Failed",
			body:     fmt.Sprintf("Session %s failed: %s", id, reason),
			tags:     []string{"audiojoin", "conversion", "error"},
			priority: "high",
		}, true
	case EventQueueCompleted:
		if !n.queueRuns {
			return message{}, false
		}
		body := fmt.Sprintf("Queue run finished: %s converted", payload["processed"])
		if failed := payload["failed"]; failed != "" && failed != "0" {
			body = fmt.Sprintf("Queue run finished: %s converted, %s failed", payload["processed"], failed)
		}
		if d := payload["duration"]; d != "" {
			body += " in " + d
		}
		return message{
			title: "audiojoin - Queue Run Complete",
			body:  body,
			tags:  []string{"audiojoin", "queue", "completed"},
		}, true
	case EventTest:
		return message{
			title:    "audiojoin - Test",
			body:     "Notification system test",
			tags:     []string{"audiojoin", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Title", msg.title)
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "unknown"
	}
	return id
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
func (noopService) Enabled() bool                                 { return false }
