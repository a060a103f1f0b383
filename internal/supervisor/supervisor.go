package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"audiojoin/internal/config"
	"audiojoin/internal/engine"
	"audiojoin/internal/logging"
	"audiojoin/internal/metrics"
	"audiojoin/internal/notifications"
	"audiojoin/internal/progress"
	"audiojoin/internal/queue"
	"audiojoin/internal/services"
	"audiojoin/internal/session"
)

const (
	reapTimeout = 5 * time.Second
	// claimGrace is how long a claimed entry may sit with a still-queued
	// session before another supervisor treats its worker as dead.
	claimGrace = time.Minute
)

// Stop reasons reported in Summary.
const (
	ReasonDrained    = "queue drained"
	ReasonMaxRuntime = "max runtime reached"
	ReasonCancelled  = "cancelled"
)

// Summary describes one Run.
type Summary struct {
	RunID      string
	Claimed    int
	Completed  int
	Failed     int
	// Detached counts conversions still running when the run was cancelled.
	Detached   int
	Reconciled int
	Reaped     int64
	Reason     string
	Elapsed    time.Duration
}

// Supervisor claims queue entries and runs their conversions.
type Supervisor struct {
	cfg      *config.Config
	queue    *queue.Store
	sessions *session.Store
	engine   *engine.Engine
	poller   *progress.Poller
	notify   notifications.Service
	logger   *slog.Logger
	now      func() time.Time
}

// Option customises a Supervisor.
type Option func(*Supervisor)

// WithNotifier reports finished runs that claimed work through svc.
func WithNotifier(svc notifications.Service) Option {
	return func(s *Supervisor) {
		if svc != nil {
			s.notify = svc
		}
	}
}

// New constructs a Supervisor.
func New(cfg *config.Config, q *queue.Store, sessions *session.Store, eng *engine.Engine, poller *progress.Poller, logger *slog.Logger, opts ...Option) *Supervisor {
	s := &Supervisor{
		cfg:      cfg,
		queue:    q,
		sessions: sessions,
		engine:   eng,
		poller:   poller,
		notify:   notifications.NewService(nil),
		logger:   logging.NewComponentLogger(logger, "supervisor"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run drains the queue until it is empty, the runtime budget is spent, or
// ctx is cancelled. Terminal entries past retention are reaped on the way out.
func (s *Supervisor) Run(ctx context.Context) (Summary, error) {
	start := s.now()
	summary := Summary{RunID: uuid.NewString()}
	logger := s.logger.With(logging.String("run_id", summary.RunID))
	defer func() {
		summary.Elapsed = s.now().Sub(start)
	}()

	if n, err := s.Reconcile(ctx); err != nil {
		logger.Warn("queue reconcile failed; stale processing entries may hold slots",
			logging.Error(err),
			logging.String(logging.FieldEventType, "queue_reconcile_failed"),
			logging.String(logging.FieldErrorHint, "check queue database access"),
		)
	} else {
		summary.Reconciled = n
	}

	maxRuntime := s.cfg.MaxRuntime()
	maxJobs := s.cfg.Queue.MaxConcurrentJobs
	for {
		if ctx.Err() != nil {
			summary.Reason = ReasonCancelled
			break
		}
		if maxRuntime > 0 && s.now().Sub(start) > maxRuntime {
			summary.Reason = ReasonMaxRuntime
			break
		}

		processing, err := s.queue.ProcessingCount(ctx)
		if err != nil {
			s.logFetchError(logger, err)
			s.sleep(ctx, s.cfg.PollInterval())
			continue
		}
		if processing >= maxJobs {
			logger.Debug("concurrency limit reached; waiting", logging.Int("processing", processing))
			s.sleep(ctx, s.cfg.PollInterval())
			continue
		}
		active, err := s.queue.ActiveCount(ctx)
		if err != nil {
			s.logFetchError(logger, err)
			s.sleep(ctx, s.cfg.PollInterval())
			continue
		}
		if active == 0 {
			summary.Reason = ReasonDrained
			break
		}

		entry, err := s.queue.ClaimNext(ctx)
		if err != nil {
			s.logFetchError(logger, err)
			s.sleep(ctx, s.cfg.PollInterval())
			continue
		}
		if entry == nil {
			s.sleep(ctx, s.cfg.PollInterval())
			continue
		}

		metrics.QueueClaims.Inc()
		summary.Claimed++
		switch s.process(ctx, logger, entry) {
		case outcomeDone:
			summary.Completed++
		case outcomeDetached:
			summary.Detached++
		default:
			summary.Failed++
		}
		s.sleep(ctx, s.cfg.ClaimPause())
	}

	reapCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reapTimeout)
	defer cancel()
	reaped, err := s.queue.ReapTerminal(reapCtx, s.cfg.TerminalRetention())
	if err != nil {
		logger.Warn("terminal entry cleanup failed", logging.Error(err), logging.String(logging.FieldEventType, "queue_reap_failed"))
	}
	summary.Reaped = reaped

	logger.Info("supervisor run finished",
		logging.String(logging.FieldEventType, "supervisor_run_finished"),
		logging.String("reason", summary.Reason),
		logging.Int("claimed", summary.Claimed),
		logging.Int("completed", summary.Completed),
		logging.Int("failed", summary.Failed),
		logging.Int("detached", summary.Detached),
		logging.Int64("reaped", summary.Reaped),
	)
	if summary.Claimed > 0 && s.notify.Enabled() {
		s.publishRun(context.WithoutCancel(ctx), logger, summary, s.now().Sub(start))
	}
	if summary.Reason == ReasonCancelled {
		return summary, ctx.Err()
	}
	return summary, nil
}

// Loop repeats Run every poll interval until ctx is cancelled.
func (s *Supervisor) Loop(ctx context.Context) error {
	for {
		if _, err := s.Run(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("supervisor run failed", logging.Error(err), logging.String(logging.FieldEventType, "supervisor_run_failed"))
		}
		if !s.sleep(ctx, s.cfg.PollInterval()) {
			return nil
		}
	}
}

type outcome int

const (
	outcomeFailed outcome = iota
	outcomeDone
	// outcomeDetached leaves the entry processing; Reconcile settles it once
	// ffmpeg has exited.
	outcomeDetached
)

// process runs one claimed entry to completion. A cancelled ctx stops the
// wait but not the conversion.
func (s *Supervisor) process(ctx context.Context, logger *slog.Logger, entry *queue.Entry) outcome {
	ctx = services.WithJobID(services.WithSessionID(ctx, entry.SessionID), entry.ID)
	logger = logging.WithContext(ctx, logger)
	settleCtx := context.WithoutCancel(ctx)

	logger.Info("queue entry claimed",
		logging.String(logging.FieldEventType, "queue_entry_claimed"),
		logging.Duration("waited", entry.Wait(s.now())),
	)

	sess, err := s.sessions.Load(ctx, entry.SessionID)
	if err != nil {
		s.markFailed(settleCtx, logger, entry.SessionID, "session unavailable")
		return outcomeFailed
	}
	if sess.Status != session.StatusQueued {
		s.markFailed(settleCtx, logger, entry.SessionID, "session is "+string(sess.Status))
		return outcomeFailed
	}

	proc, launched, err := s.engine.Launch(ctx, sess)
	if err != nil {
		s.markFailed(settleCtx, logger, entry.SessionID, services.PublicMessage(err))
		return outcomeFailed
	}
	metrics.RecordStart(metrics.ModeQueued, launched.OutputFormat, launched.StreamCopy)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.watch(ctx, logger, entry.SessionID, done)
	}()
	final, err := s.engine.Wait(ctx, entry.SessionID, proc)
	close(done)
	wg.Wait()

	if errors.Is(err, engine.ErrDetached) {
		return outcomeDetached
	}
	if err != nil {
		s.markFailed(settleCtx, logger, entry.SessionID, "conversion state unavailable")
		return outcomeFailed
	}
	if final.Status == session.StatusDone {
		if err := s.queue.MarkCompleted(settleCtx, entry.SessionID); err != nil {
			logger.Error("failed to mark queue entry completed", logging.Error(err), logging.String(logging.FieldEventType, "queue_mark_failed"))
		}
		return outcomeDone
	}
	s.markFailed(settleCtx, logger, entry.SessionID, final.Error)
	return outcomeFailed
}

// watch refreshes progress on the poll interval while a conversion runs so
// the record stays current without client polls.
func (s *Supervisor) watch(ctx context.Context, logger *slog.Logger, id string, done <-chan struct{}) {
	if s.poller == nil {
		return
	}
	sampler := logging.NewProgressSampler(25)
	ticker := time.NewTicker(s.cfg.PollInterval())
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		sess, err := s.poller.Poll(ctx, id)
		if err != nil || sess.Status != session.StatusConverting {
			continue
		}
		if sampler.ShouldLog(sess.Progress, string(sess.Status)) {
			logger.Info("conversion progress",
				logging.String(logging.FieldEventType, "conversion_progress"),
				logging.Int(logging.FieldProgressPercent, sess.Progress),
			)
		}
	}
}

// Reconcile settles processing entries that no live supervisor in this
// process is holding: conversions whose process has gone are finalized and
// reported, and entries whose session vanished or never launched are failed.
func (s *Supervisor) Reconcile(ctx context.Context) (int, error) {
	entries, err := s.queue.List(ctx, queue.StatusProcessing)
	if err != nil {
		return 0, err
	}
	settled := 0
	for _, entry := range entries {
		if s.engine != nil && s.engine.Owns(entry.SessionID) {
			continue
		}
		logger := s.logger.With(logging.String(logging.FieldSessionID, entry.SessionID), logging.Int64(logging.FieldJobID, entry.ID))
		sess, err := s.currentSession(ctx, entry.SessionID)
		switch {
		case errors.Is(err, services.ErrNotFound), errors.Is(err, services.ErrIntegrity), errors.Is(err, services.ErrValidation):
			s.markFailed(ctx, logger, entry.SessionID, "session no longer exists")
			settled++
		case err != nil:
			logger.Debug("reconcile skipped entry", logging.Error(err))
		case sess.Status == session.StatusDone:
			if err := s.queue.MarkCompleted(ctx, entry.SessionID); err == nil {
				settled++
			}
		case sess.Status == session.StatusError:
			s.markFailed(ctx, logger, entry.SessionID, sess.Error)
			settled++
		case sess.Status == session.StatusQueued && entry.StartedAt != nil && s.now().Sub(*entry.StartedAt) > claimGrace:
			if _, uerr := s.sessions.Update(ctx, entry.SessionID, func(cur *session.Session) error {
				cur.Fail("worker stopped before launch")
				return nil
			}); uerr != nil {
				logger.Debug("could not fail abandoned session", logging.Error(uerr))
			}
			s.markFailed(ctx, logger, entry.SessionID, "worker stopped before launch")
			settled++
		}
	}
	return settled, nil
}

func (s *Supervisor) currentSession(ctx context.Context, id string) (*session.Session, error) {
	if s.poller != nil {
		return s.poller.Poll(ctx, id)
	}
	return s.sessions.Load(ctx, id)
}

func (s *Supervisor) markFailed(ctx context.Context, logger *slog.Logger, id, reason string) {
	if reason == "" {
		reason = "conversion failed"
	}
	if err := s.queue.MarkFailed(ctx, id, reason); err != nil {
		logger.Error("failed to mark queue entry failed", logging.Error(err), logging.String(logging.FieldEventType, "queue_mark_failed"))
		return
	}
	logging.WarnWithContext(logger, "queue entry failed", "queue_entry_failed",
		logging.String("reason", reason),
		logging.String(logging.FieldErrorHint, "inspect the session's ffmpeg.log"),
	)
}

func (s *Supervisor) publishRun(ctx context.Context, logger *slog.Logger, summary Summary, elapsed time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.NotifyTimeout())
	defer cancel()
	err := s.notify.Publish(ctx, notifications.EventQueueCompleted, notifications.Payload{
		"processed": strconv.Itoa(summary.Completed),
		"failed":    strconv.Itoa(summary.Failed),
		"duration":  elapsed.Round(time.Second).String(),
	})
	if err != nil {
		logger.Warn("queue run notification failed", logging.Error(err), logging.String(logging.FieldEventType, "notification_failed"))
	}
}

func (s *Supervisor) logFetchError(logger *slog.Logger, err error) {
	logger.Error("queue access failed",
		logging.Error(err),
		logging.String(logging.FieldEventType, "queue_fetch_failed"),
		logging.String(logging.FieldErrorHint, "check queue database access"),
	)
}

// sleep waits for d or until ctx is done, reporting whether ctx is still live.
func (s *Supervisor) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
