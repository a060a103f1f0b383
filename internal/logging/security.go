package logging

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// SecurityEvent is one line of the security log.
type SecurityEvent struct {
	Timestamp string            `json:"timestamp"`
	Type      string            `json:"type"`
	Details   map[string]string `json:"details,omitempty"`
}

// SecurityLog appends integrity anomalies (path escapes, implausible process
// ids, malformed identifiers) to a per-day JSON lines file and mirrors them
// to the application logger as warnings.
type SecurityLog struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time
	mu     sync.Mutex
}

// NewSecurityLog writes into dir. An empty dir keeps only the logger mirror.
func NewSecurityLog(dir string, logger *slog.Logger) *SecurityLog {
	return &SecurityLog{
		dir:    strings.TrimSpace(dir),
		logger: NewComponentLogger(logger, "security"),
		now:    time.Now,
	}
}

// Record appends an event. Failures to write the file are reported through
// the logger only; security logging never fails the caller.
func (s *SecurityLog) Record(eventType string, details map[string]string) {
	if s == nil {
		return
	}
	ts := s.now().UTC()
	attrs := []Attr{String(FieldAlert, eventType)}
	for k, v := range details {
		attrs = append(attrs, String(k, v))
	}
	WarnWithContext(s.logger, "security event", "security_"+eventType, append(attrs,
		String(FieldErrorHint, "inspect the security log for the originating request"),
		String(FieldImpact, "request treated as not found"),
	)...)

	if s.dir == "" {
		return
	}
	line, err := json.Marshal(SecurityEvent{
		Timestamp: ts.Format(time.RFC3339),
		Type:      eventType,
		Details:   details,
	})
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLine(ts, line); err != nil {
		s.logger.Error("security log write failed", Error(err), String(FieldEventType, "security_log_write_failed"))
	}
}

// Path returns the file the event at ts is written to.
func (s *SecurityLog) Path(ts time.Time) string {
	return filepath.Join(s.dir, fmt.Sprintf("security_%s.log", ts.UTC().Format("2006-01-02")))
}

func (s *SecurityLog) appendLine(ts time.Time, line []byte) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	file, err := os.OpenFile(s.Path(ts), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = file.Write(append(line, '\n'))
	return err
}

// RetentionTarget returns the pruning target matching the daily security files.
func (s *SecurityLog) RetentionTarget() RetentionTarget {
	return RetentionTarget{Dir: s.dir, Pattern: "security_*.log"}
}
