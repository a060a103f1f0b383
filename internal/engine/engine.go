package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"audiojoin/internal/config"
	"audiojoin/internal/logging"
	"audiojoin/internal/metrics"
	"audiojoin/internal/notifications"
	"audiojoin/internal/process"
	"audiojoin/internal/progress"
	"audiojoin/internal/services"
	"audiojoin/internal/session"
)

const maxDiagnosticLen = 240

// ErrDetached is returned by Wait when its context ends first. The
// conversion keeps running and a later Poll or Reconcile settles it.
var ErrDetached = errors.New("stopped waiting; conversion continues in the background")

var errSettled = errors.New("session already settled")

// CodecSource reports the audio codec of each input.
type CodecSource interface {
	Codecs(ctx context.Context, paths []string) ([]string, error)
}

// Engine launches ffmpeg for sessions and records the outcome.
type Engine struct {
	cfg    *config.Config
	store  *session.Store
	media  CodecSource
	logger *slog.Logger
	notify notifications.Service
	now    func() time.Time

	mu      sync.Mutex
	running map[string]*process.Process
	// reaping counts children whose exit status has not been collected.
	reaping sync.WaitGroup
}

// Option customises an Engine.
type Option func(*Engine)

// WithNotifier publishes conversion outcomes through svc.
func WithNotifier(svc notifications.Service) Option {
	return func(e *Engine) {
		if svc != nil {
			e.notify = svc
		}
	}
}

// New constructs an Engine. media may be nil, which disables stream copy.
func New(cfg *config.Config, store *session.Store, media CodecSource, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		cfg:     cfg,
		store:   store,
		media:   media,
		logger:  logging.NewComponentLogger(logger, "engine"),
		notify:  notifications.NewService(nil),
		now:     time.Now,
		running: make(map[string]*process.Process),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Resolve applies the configured format table and bitrate policy.
func (e *Engine) Resolve(format string, bitrate int) Params {
	return Resolve(e.cfg, format, bitrate)
}

// Owns reports whether a process launched by this engine is still being
// waited on for id.
func (e *Engine) Owns(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.running[id]
	return ok
}

// Running returns the number of conversions this engine is waiting on.
func (e *Engine) Running() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.running)
}

// Launch starts ffmpeg for sess and returns without waiting for it. The
// session must be uploaded, queued, or converting without a process (a
// reservation). On spawn failure the session is forced to error.
func (e *Engine) Launch(ctx context.Context, sess *session.Session) (*process.Process, *session.Session, error) {
	if sess == nil {
		return nil, nil, services.Wrap(services.ErrValidation, "engine", "launch", "nil session", nil)
	}
	id := sess.ID
	logger := e.logger.With(logging.String(logging.FieldSessionID, id))
	params := e.Resolve(sess.OutputFormat, sess.Bitrate)

	dir, err := e.store.Dir(id)
	if err != nil {
		return nil, nil, err
	}
	streamCopy := e.cfg.Conversion.StreamCopy && e.streamCopy(ctx, logger, dir, sess.Files, params)
	args := BuildArgs(params, streamCopy)
	_ = os.Remove(filepath.Join(dir, params.OutputName()))

	proc, err := process.Spawn(process.SpawnOptions{
		Binary:  e.cfg.Conversion.FFmpegBinary,
		Args:    args,
		Dir:     dir,
		LogPath: filepath.Join(dir, session.LogFile),
	})
	if err != nil {
		logging.ErrorWithContext(logger, "ffmpeg spawn failed", "conversion_spawn_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check that ffmpeg_binary points at an executable"),
		)
		e.forceError(ctx, id, "failed to start conversion")
		return nil, nil, services.Wrap(services.ErrSpawn, "engine", "launch", "spawn ffmpeg", err)
	}

	e.track(id, proc)
	now := e.now().UTC()
	updated, err := e.store.Update(ctx, id, func(s *session.Session) error {
		reserved := s.Status == session.StatusConverting && s.Process == nil
		if !reserved && !s.Status.CanTransition(session.StatusConverting) {
			return services.Wrap(services.ErrConflict, "engine", "launch", fmt.Sprintf("session is %s", s.Status), nil)
		}
		s.Status = session.StatusConverting
		s.Progress = 0
		s.Error = ""
		s.QueuePosition = 0
		handle := proc.Handle
		s.Process = &handle
		s.StartTime = now
		s.OutputFormat = params.FormatName
		s.OutputExtension = params.Format.Extension
		s.Bitrate = params.Bitrate
		s.StreamCopy = streamCopy
		return nil
	})
	if err != nil {
		_ = proc.Kill()
		_ = proc.Wait()
		e.untrack(id)
		return nil, nil, err
	}

	logger.Info("conversion started",
		logging.String(logging.FieldEventType, "conversion_started"),
		logging.Int("pid", proc.PID),
		logging.String("format", params.FormatName),
		logging.Int("bitrate_kbps", params.Bitrate),
		logging.Bool("stream_copy", streamCopy),
		logging.Int("file_count", len(sess.Files)),
	)
	return proc, updated, nil
}

// Wait joins proc and finalizes id. If ctx ends first Wait returns the
// session as stored with ErrDetached: ffmpeg is left running, its exit status
// is still collected in the background, and the session stays converting
// with its process handle.
func (e *Engine) Wait(ctx context.Context, id string, proc *process.Process) (*session.Session, error) {
	defer e.untrack(id)
	waited := make(chan error, 1)
	e.reaping.Add(1)
	go func() {
		defer e.reaping.Done()
		waited <- proc.Wait()
	}()

	select {
	case waitErr := <-waited:
		return e.Finalize(context.WithoutCancel(ctx), id, waitErr)
	case <-ctx.Done():
	}
	e.logger.Info("conversion left running",
		logging.String(logging.FieldSessionID, id),
		logging.String(logging.FieldEventType, "conversion_detached"),
		logging.Int("pid", proc.PID),
	)
	sess, err := e.store.Load(context.WithoutCancel(ctx), id)
	if err != nil {
		return nil, err
	}
	return sess, ErrDetached
}

// Reaped blocks until every ffmpeg process this engine started has exited,
// or ctx ends.
func (e *Engine) Reaped(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.reaping.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Finalize settles a converting session: done with the artifact size when
// ffmpeg succeeded and left a non-empty output, error with a diagnostic
// otherwise. Terminal sessions are returned unchanged.
func (e *Engine) Finalize(ctx context.Context, id string, waitErr error) (*session.Session, error) {
	dir, err := e.store.Dir(id)
	if err != nil {
		return nil, err
	}
	now := e.now().UTC()
	var result string
	updated, err := e.store.Update(ctx, id, func(s *session.Session) error {
		if s.Status != session.StatusConverting {
			return errSettled
		}
		var size int64
		if name := s.OutputName(); name != "" {
			if info, statErr := os.Stat(filepath.Join(dir, name)); statErr == nil && info.Mode().IsRegular() {
				size = info.Size()
			}
		}
		if waitErr == nil && size > 0 {
			s.Status = session.StatusDone
			s.Progress = 100
			s.FileSize = size
			s.Process = nil
			s.Error = ""
			result = metrics.ResultDone
			return nil
		}
		s.Fail(e.diagnostic(dir, waitErr))
		result = metrics.ResultError
		return nil
	})
	if errors.Is(err, errSettled) {
		return updated, nil
	}
	if err != nil {
		return nil, err
	}

	metrics.RecordFinish(result, updated.StartTime, now)
	logger := e.logger.With(logging.String(logging.FieldSessionID, id))
	if result == metrics.ResultDone {
		logger.Info("conversion finished",
			logging.String(logging.FieldEventType, "conversion_finished"),
			logging.Int64("file_size", updated.FileSize),
			logging.Duration("elapsed", updated.Elapsed(now)),
		)
	} else {
		logging.WarnWithContext(logger, "conversion failed", "conversion_failed",
			logging.String("reason", updated.Error),
			logging.String(logging.FieldErrorHint, "inspect ffmpeg.log in the session directory"),
		)
	}
	e.publish(result, updated, now)
	return updated, nil
}

// publish sends the outcome without holding up the caller; delivery
// failures are logged only.
func (e *Engine) publish(result string, sess *session.Session, now time.Time) {
	if !e.notify.Enabled() {
		return
	}
	event := notifications.EventConversionFailed
	payload := notifications.Payload{"session_id": sess.ID, "error": sess.Error}
	if result == metrics.ResultDone {
		event = notifications.EventConversionDone
		payload = notifications.Payload{
			"session_id": sess.ID,
			"file_size":  strconv.FormatInt(sess.FileSize, 10),
			"elapsed":    sess.Elapsed(now).Round(time.Second).String(),
		}
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.NotifyTimeout())
		defer cancel()
		if err := e.notify.Publish(ctx, event, payload); err != nil {
			e.logger.Warn("notification failed",
				logging.String(logging.FieldSessionID, sess.ID),
				logging.String(logging.FieldEventType, "notification_failed"),
				logging.Error(err),
			)
		}
	}()
}

func (e *Engine) diagnostic(dir string, waitErr error) string {
	var msg string
	switch {
	case errors.Is(waitErr, progress.ErrNeverStarted):
		return waitErr.Error()
	case waitErr == nil:
		msg = "ffmpeg produced no output"
	default:
		if code := process.ExitCode(waitErr); code >= 0 {
			msg = fmt.Sprintf("ffmpeg exited with code %d", code)
		} else {
			msg = "ffmpeg terminated abnormally"
		}
	}
	tail, _ := progress.ReadTail(filepath.Join(dir, session.LogFile), e.cfg.Conversion.LogTailBytes)
	if line := progress.LastLine(tail); line != "" {
		msg += ": " + line
	}
	if len(msg) > maxDiagnosticLen {
		msg = msg[:maxDiagnosticLen]
	}
	return msg
}

func (e *Engine) streamCopy(ctx context.Context, logger *slog.Logger, dir string, files []string, p Params) bool {
	if e.media == nil || len(files) == 0 {
		return false
	}
	paths := make([]string, 0, len(files))
	for _, name := range files {
		paths = append(paths, filepath.Join(dir, name))
	}
	codecs, err := e.media.Codecs(ctx, paths)
	if err != nil {
		logger.Debug("codec detection failed; transcoding", logging.Error(err))
		return false
	}
	return CanStreamCopy(codecs, p)
}

func (e *Engine) forceError(ctx context.Context, id, msg string) {
	if _, err := e.store.Update(ctx, id, func(s *session.Session) error {
		if !s.Fail(msg) {
			return errSettled
		}
		return nil
	}); err != nil && !errors.Is(err, errSettled) {
		e.logger.Error("failed to record spawn failure",
			logging.String(logging.FieldSessionID, id),
			logging.Error(err),
		)
	}
}

func (e *Engine) track(id string, proc *process.Process) {
	e.mu.Lock()
	e.running[id] = proc
	e.mu.Unlock()
}

func (e *Engine) untrack(id string) {
	e.mu.Lock()
	delete(e.running, id)
	e.mu.Unlock()
}
