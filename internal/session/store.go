package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/renameio/v2"

	"audiojoin/internal/fileutil"
	"audiojoin/internal/logging"
	"audiojoin/internal/services"
	"audiojoin/internal/textutil"
)

var idPattern = regexp.MustCompile(`^[a-f0-9]{32}$`)

const lockRetryDelay = 20 * time.Millisecond

// DurationSource sums the playable duration of the stored inputs. Zero means
// unknown.
type DurationSource interface {
	TotalDuration(ctx context.Context, paths []string) float64
}

// Upload is one client file in ingest order.
type Upload struct {
	Name string
	Body io.Reader
}

// Option customizes a Store.
type Option func(*Store)

// WithMaxFileBytes rejects uploads larger than n bytes. Zero disables the check.
func WithMaxFileBytes(n int64) Option {
	return func(s *Store) { s.maxFileBytes = n }
}

// WithClock overrides the time source used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store persists sessions beneath a single root directory.
type Store struct {
	root         string
	logger       *slog.Logger
	security     *logging.SecurityLog
	maxFileBytes int64
	now          func() time.Time
}

// NewStore returns a store rooted at root. security may be nil.
func NewStore(root string, logger *slog.Logger, security *logging.SecurityLog, opts ...Option) *Store {
	s := &Store{
		root:     root,
		logger:   logging.NewComponentLogger(logger, "session"),
		security: security,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the sessions root.
func (s *Store) Root() string { return s.root }

// ValidID reports whether id has the session identifier shape.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// NewID returns a fresh 128-bit identifier.
func NewID() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}

// Dir returns the confined directory for id.
func (s *Store) Dir(id string) (string, error) {
	if !ValidID(id) {
		s.security.Record("invalid_session_id", map[string]string{"session_id": truncate(id, 64)})
		return "", services.Wrap(services.Public(services.ErrValidation, "invalid session id"), "session", "resolve", "malformed id", nil)
	}
	dir, err := fileutil.ConfineRelPath(s.root, id)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", services.Wrap(services.ErrNotFound, "session", "resolve", "sessions root missing", err)
		}
		s.security.Record("path_escape", map[string]string{"session_id": id, "reason": err.Error()})
		return "", services.Wrap(services.ErrIntegrity, "session", "resolve", "path escapes sessions root", err)
	}
	return dir, nil
}

// Path returns the confined path of name inside the session directory.
func (s *Store) Path(id, name string) (string, error) {
	if _, err := s.Dir(id); err != nil {
		return "", err
	}
	p, err := fileutil.ConfineRelPath(s.root, filepath.Join(id, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", services.Wrap(services.ErrNotFound, "session", "resolve", name, err)
		}
		s.security.Record("path_escape", map[string]string{"session_id": id, "name": name, "reason": err.Error()})
		return "", services.Wrap(services.ErrIntegrity, "session", "resolve", "path escapes sessions root", err)
	}
	return p, nil
}

// Create stores uploads in order, writes the concat manifest, measures the
// total duration once and persists the record as uploaded.
func (s *Store) Create(ctx context.Context, uploads []Upload, durations DurationSource) (*Session, error) {
	if len(uploads) == 0 {
		return nil, services.Wrap(services.Public(services.ErrValidation, "no valid audio files"), "session", "create", "empty upload", nil)
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "session", "create", "sessions root", err)
	}
	id, err := NewID()
	if err != nil {
		return nil, services.Wrap(services.ErrRuntime, "session", "create", "generate id", err)
	}
	if err := os.Mkdir(filepath.Join(s.root, id), 0o750); err != nil {
		return nil, services.Wrap(services.ErrRuntime, "session", "create", "make directory", err)
	}
	dir, err := s.Dir(id)
	if err != nil {
		return nil, err
	}

	sess := &Session{
		ID:        id,
		Status:    StatusUploaded,
		CreatedAt: s.now().UTC(),
	}
	paths := make([]string, 0, len(uploads))
	for i, upload := range uploads {
		name := StoredName(i, textutil.SanitizeFileName(upload.Name))
		target := filepath.Join(dir, name)
		if _, err := fileutil.WriteLimited(target, upload.Body, s.maxFileBytes, 0o640); err != nil {
			_ = fileutil.RemoveTree(dir)
			if errors.Is(err, fileutil.ErrTooLarge) {
				return nil, services.Wrap(services.Public(services.ErrValidation, "file too large"), "session", "create", upload.Name, err)
			}
			return nil, services.Wrap(services.ErrRuntime, "session", "create", "store upload", err)
		}
		sess.Files = append(sess.Files, name)
		paths = append(paths, target)
	}

	if err := os.WriteFile(filepath.Join(dir, ManifestFile), Manifest(sess.Files), 0o640); err != nil {
		_ = fileutil.RemoveTree(dir)
		return nil, services.Wrap(services.ErrRuntime, "session", "create", "write manifest", err)
	}
	if durations != nil {
		sess.TotalDuration = durations.TotalDuration(ctx, paths)
	}
	if err := s.Save(ctx, sess); err != nil {
		_ = fileutil.RemoveTree(dir)
		return nil, err
	}

	s.logger.Info("session created",
		logging.String(logging.FieldSessionID, id),
		logging.String(logging.FieldEventType, "session_created"),
		logging.Int("file_count", len(sess.Files)),
		logging.Float64("total_duration", sess.TotalDuration),
	)
	return sess, nil
}

// Load reads the record for id.
func (s *Store) Load(_ context.Context, id string) (*Session, error) {
	dir, err := s.Dir(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, MetaFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, services.Wrap(services.ErrNotFound, "session", "load", id, nil)
		}
		return nil, services.Wrap(services.ErrRuntime, "session", "load", "read meta", err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, services.Wrap(services.ErrRuntime, "session", "load", "decode meta", err)
	}
	if sess.ID != id {
		s.security.Record("session_id_mismatch", map[string]string{"session_id": id, "recorded": truncate(sess.ID, 64)})
		return nil, services.Wrap(services.ErrIntegrity, "session", "load", "record id mismatch", nil)
	}
	return &sess, nil
}

// Save atomically replaces the full record.
func (s *Store) Save(_ context.Context, sess *Session) error {
	if sess == nil {
		return services.Wrap(services.ErrValidation, "session", "save", "nil session", nil)
	}
	dir, err := s.Dir(sess.ID)
	if err != nil {
		return err
	}
	sess.UpdatedAt = s.now().UTC()
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return services.Wrap(services.ErrRuntime, "session", "save", "encode meta", err)
	}
	if err := renameio.WriteFile(filepath.Join(dir, MetaFile), data, 0o640); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return services.Wrap(services.ErrNotFound, "session", "save", sess.ID, err)
		}
		return services.Wrap(services.ErrRuntime, "session", "save", "write meta", err)
	}
	return nil
}

// Update loads id, applies fn and saves the result while holding the
// session's meta lock. fn returning an error aborts without saving.
func (s *Store) Update(ctx context.Context, id string, fn func(*Session) error) (*Session, error) {
	dir, err := s.Dir(id)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, services.Wrap(services.ErrNotFound, "session", "update", id, nil)
	}
	lock := flock.New(filepath.Join(dir, LockFile))
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !locked {
		return nil, services.Wrap(services.ErrRuntime, "session", "update", "acquire meta lock", err)
	}
	defer func() {
		_ = lock.Unlock()
	}()

	sess, err := s.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(sess); err != nil {
		return sess, err
	}
	if err := s.Save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Remove deletes the session directory. Removing an absent session succeeds.
func (s *Store) Remove(_ context.Context, id string) error {
	dir, err := s.Dir(id)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return nil
		}
		return err
	}
	if err := fileutil.RemoveTree(dir); err != nil {
		return services.Wrap(services.ErrRuntime, "session", "remove", id, err)
	}
	s.logger.Info("session removed",
		logging.String(logging.FieldSessionID, id),
		logging.String(logging.FieldEventType, "session_removed"),
	)
	return nil
}

// List returns every readable session, newest first. Directories that are
// not sessions are skipped.
func (s *Store) List(ctx context.Context) ([]*Session, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, services.Wrap(services.ErrRuntime, "session", "list", "read root", err)
	}
	var out []*Session
	for _, entry := range entries {
		if !entry.IsDir() || !ValidID(entry.Name()) {
			continue
		}
		sess, err := s.Load(ctx, entry.Name())
		if err != nil {
			s.logger.Debug("skipping unreadable session", logging.String(logging.FieldSessionID, entry.Name()), logging.Error(err))
			continue
		}
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func truncate(value string, n int) string {
	if len(value) <= n {
		return value
	}
	return fmt.Sprintf("%s...", value[:n])
}
