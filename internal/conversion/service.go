// Package conversion ties the session store, queue, engine and progress
// poller into the operations exposed over HTTP and the CLI.
package conversion

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"audiojoin/internal/config"
	"audiojoin/internal/engine"
	"audiojoin/internal/logging"
	"audiojoin/internal/metrics"
	"audiojoin/internal/progress"
	"audiojoin/internal/queue"
	"audiojoin/internal/reaper"
	"audiojoin/internal/services"
	"audiojoin/internal/session"
)

// enqueueGrace bounds the gap between a session turning queued and its queue
// entry appearing.
const enqueueGrace = 30 * time.Second

// SubmitResult acknowledges an accepted conversion request.
type SubmitResult struct {
	SessionID     string         `json:"session_id"`
	Status        session.Status `json:"status"`
	Queued        bool           `json:"queued"`
	QueuePosition int            `json:"queue_position,omitempty"`
	Format        string         `json:"format"`
	Bitrate       int            `json:"bitrate"`
}

// StatusView is what a client sees when polling a session.
type StatusView struct {
	SessionID     string         `json:"session_id"`
	Status        session.Status `json:"status"`
	Progress      int            `json:"progress"`
	Error         string         `json:"error,omitempty"`
	QueuePosition int            `json:"queue_position,omitempty"`
	FileSize      int64          `json:"file_size,omitempty"`
}

// Download is an open artifact ready to stream. The caller closes File.
type Download struct {
	File     *os.File
	Size     int64
	ModTime  time.Time
	MimeType string
	Filename string
}

// Service runs conversions in direct mode or hands them to the queue.
type Service struct {
	cfg      *config.Config
	sessions *session.Store
	queue    *queue.Store
	engine   *engine.Engine
	poller   *progress.Poller
	media    session.DurationSource
	logger   *slog.Logger
	now      func() time.Time

	waitCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a Service. q may be nil when queueing is disabled.
func New(cfg *config.Config, sessions *session.Store, q *queue.Store, eng *engine.Engine, poller *progress.Poller, media session.DurationSource, logger *slog.Logger) *Service {
	waitCtx, stop := context.WithCancel(context.Background())
	return &Service{
		cfg:      cfg,
		sessions: sessions,
		queue:    q,
		engine:   eng,
		poller:   poller,
		media:    media,
		logger:   logging.NewComponentLogger(logger, "conversion"),
		now:      time.Now,
		waitCtx:  waitCtx,
		stop:     stop,
	}
}

func (s *Service) queued() bool {
	return s.cfg.Queue.Enabled && s.queue != nil
}

// Ingest stores uploads as a new session.
func (s *Service) Ingest(ctx context.Context, uploads []session.Upload) (*session.Session, error) {
	return s.sessions.Create(ctx, uploads, s.media)
}

// Submit starts or enqueues the conversion of id. Only uploaded sessions
// are accepted; anything else is a conflict and leaves the session as is.
// Unsupported formats and bitrates fall back to the configured defaults and
// the bitrate is clamped to the format's maximum; the result reports what
// was chosen.
func (s *Service) Submit(ctx context.Context, id, format string, bitrate int) (SubmitResult, error) {
	params := s.engine.Resolve(format, bitrate)
	ctx = services.WithSessionID(ctx, id)
	if s.queued() {
		return s.enqueue(ctx, id, params)
	}
	return s.launch(ctx, id, params)
}

// claim moves an uploaded session to next, recording the output settings.
func (s *Service) claim(ctx context.Context, id string, next session.Status, params engine.Params) (*session.Session, error) {
	now := s.now().UTC()
	return s.sessions.Update(ctx, id, func(sess *session.Session) error {
		if sess.Status != session.StatusUploaded {
			return conflict(sess.Status)
		}
		sess.Status = next
		sess.Progress = 0
		sess.Error = ""
		sess.OutputFormat = params.FormatName
		sess.OutputExtension = params.Format.Extension
		sess.Bitrate = params.Bitrate
		if next == session.StatusConverting {
			sess.StartTime = now
		}
		return nil
	})
}

func conflict(status session.Status) error {
	msg := "conversion already in progress"
	if status.IsTerminal() {
		msg = "session already finished"
	}
	return services.Wrap(services.Public(services.ErrConflict, msg), "conversion", "submit", "session is "+string(status), nil)
}

func (s *Service) enqueue(ctx context.Context, id string, params engine.Params) (SubmitResult, error) {
	logger := logging.WithContext(ctx, s.logger)
	if _, err := s.claim(ctx, id, session.StatusQueued, params); err != nil {
		return SubmitResult{}, err
	}
	if _, err := s.queue.Add(ctx, id, 0); err != nil {
		logging.ErrorWithContext(logger, "failed to enqueue session", "queue_add_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check queue database access"),
		)
		s.fail(context.WithoutCancel(ctx), id, "failed to queue conversion")
		if errors.Is(err, queue.ErrAlreadyQueued) {
			return SubmitResult{}, services.Wrap(services.Public(services.ErrConflict, "conversion already in progress"), "conversion", "submit", "queue entry exists", err)
		}
		return SubmitResult{}, services.Wrap(services.ErrRuntime, "conversion", "submit", "enqueue", err)
	}

	position, err := s.queue.Position(ctx, id)
	if err != nil {
		logger.Warn("queue position unavailable", logging.Error(err), logging.String(logging.FieldEventType, "queue_position_failed"))
	}
	s.recordPosition(ctx, id, position)

	logger.Info("conversion queued",
		logging.String(logging.FieldEventType, "conversion_queued"),
		logging.Int("queue_position", position),
		logging.String("format", params.FormatName),
		logging.Int("bitrate_kbps", params.Bitrate),
	)
	return SubmitResult{
		SessionID:     id,
		Status:        session.StatusQueued,
		Queued:        true,
		QueuePosition: position,
		Format:        params.FormatName,
		Bitrate:       params.Bitrate,
	}, nil
}

func (s *Service) launch(ctx context.Context, id string, params engine.Params) (SubmitResult, error) {
	reserved, err := s.claim(ctx, id, session.StatusConverting, params)
	if err != nil {
		return SubmitResult{}, err
	}
	proc, launched, err := s.engine.Launch(ctx, reserved)
	if err != nil {
		if !errors.Is(err, services.ErrSpawn) {
			s.fail(context.WithoutCancel(ctx), id, "failed to start conversion")
		}
		return SubmitResult{}, err
	}
	metrics.RecordStart(metrics.ModeDirect, launched.OutputFormat, launched.StreamCopy)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, err := s.engine.Wait(s.waitCtx, id, proc)
		if errors.Is(err, engine.ErrDetached) {
			return
		}
		if err != nil {
			s.logger.Error("conversion could not be finalized",
				logging.String(logging.FieldSessionID, id),
				logging.Error(err),
				logging.String(logging.FieldEventType, "conversion_finalize_failed"),
			)
		}
	}()

	return SubmitResult{
		SessionID: id,
		Status:    session.StatusConverting,
		Format:    launched.OutputFormat,
		Bitrate:   launched.Bitrate,
	}, nil
}

// Status reports the current state of id, refreshing progress for running
// conversions and the live rank for queued ones.
func (s *Service) Status(ctx context.Context, id string) (StatusView, error) {
	sess, err := s.sessions.Load(ctx, id)
	if err != nil {
		return StatusView{}, err
	}
	switch sess.Status {
	case session.StatusQueued:
		if s.queue != nil {
			return s.queuedStatus(ctx, sess)
		}
	case session.StatusConverting:
		if s.poller != nil {
			if sess, err = s.poller.Poll(ctx, id); err != nil {
				return StatusView{}, err
			}
		}
	}
	return view(sess), nil
}

func (s *Service) queuedStatus(ctx context.Context, sess *session.Session) (StatusView, error) {
	entry, err := s.queue.Get(ctx, sess.ID)
	if err != nil {
		return StatusView{}, services.Wrap(services.ErrRuntime, "conversion", "status", "queue lookup", err)
	}
	out := view(sess)
	switch {
	case entry == nil && s.now().Sub(sess.UpdatedAt) < enqueueGrace:
		// Submit has marked the session but not yet inserted its entry.
	case entry == nil || entry.Status == queue.StatusFailed:
		reason := "conversion was not queued"
		if entry != nil && entry.Error != "" {
			reason = entry.Error
		}
		if updated, err := s.fail(ctx, sess.ID, reason); err == nil && updated != nil {
			return view(updated), nil
		}
		out.Status = session.StatusError
		out.Error = reason
		out.QueuePosition = 0
	case entry.Status == queue.StatusProcessing:
		out.Status = session.StatusConverting
		out.QueuePosition = 0
	case entry.Status == queue.StatusPending:
		position, err := s.queue.Position(ctx, sess.ID)
		if err != nil {
			return StatusView{}, services.Wrap(services.ErrRuntime, "conversion", "status", "queue position", err)
		}
		if position != sess.QueuePosition {
			s.recordPosition(ctx, sess.ID, position)
		}
		out.QueuePosition = position
	}
	return out, nil
}

func view(sess *session.Session) StatusView {
	out := StatusView{
		SessionID: sess.ID,
		Status:    sess.Status,
		Progress:  sess.Progress,
		Error:     sess.Error,
	}
	switch sess.Status {
	case session.StatusQueued:
		out.QueuePosition = sess.QueuePosition
	case session.StatusDone:
		out.FileSize = sess.FileSize
	}
	return out
}

// OpenDownload opens the finished artifact of id. Sessions that are not done
// or whose artifact has gone are reported as not found.
func (s *Service) OpenDownload(ctx context.Context, id string) (*Download, error) {
	sess, err := s.sessions.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status != session.StatusDone || sess.OutputName() == "" {
		return nil, services.Wrap(services.Public(services.ErrNotFound, "file not ready"), "conversion", "download", "session is "+string(sess.Status), nil)
	}
	path, err := s.sessions.Path(id, sess.OutputName())
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, services.Wrap(services.ErrNotFound, "conversion", "download", "open artifact", err)
	}
	info, err := file.Stat()
	if err != nil || !info.Mode().IsRegular() {
		_ = file.Close()
		return nil, services.Wrap(services.ErrNotFound, "conversion", "download", "stat artifact", err)
	}

	mimeType := "application/octet-stream"
	if f, ok := s.cfg.Format(sess.OutputFormat); ok && f.MimeType != "" {
		mimeType = f.MimeType
	}
	return &Download{
		File:     file,
		Size:     info.Size(),
		ModTime:  info.ModTime(),
		MimeType: mimeType,
		Filename: sess.OutputName(),
	}, nil
}

// Discard removes id once its artifact has been delivered.
func (s *Service) Discard(ctx context.Context, id string) error {
	return reaper.RemoveSession(ctx, s.sessions, id)
}

// Session returns the stored record for id without refreshing it.
func (s *Service) Session(ctx context.Context, id string) (*session.Session, error) {
	return s.sessions.Load(ctx, id)
}

// Shutdown stops waiting on direct-mode conversions and returns once every
// waiter has let go, or ctx expires. ffmpeg keeps running; the next Poll
// settles each session.
func (s *Service) Shutdown(ctx context.Context) error {
	s.stop()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every direct-mode conversion has settled.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) recordPosition(ctx context.Context, id string, position int) {
	if position <= 0 {
		return
	}
	_, err := s.sessions.Update(ctx, id, func(sess *session.Session) error {
		if sess.Status == session.StatusQueued {
			sess.QueuePosition = position
		}
		return nil
	})
	if err != nil {
		s.logger.Debug("queue position not recorded", logging.String(logging.FieldSessionID, id), logging.Error(err))
	}
}

func (s *Service) fail(ctx context.Context, id, reason string) (*session.Session, error) {
	return s.sessions.Update(ctx, id, func(sess *session.Session) error {
		sess.Fail(reason)
		return nil
	})
}
