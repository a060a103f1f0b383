package progress

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"audiojoin/internal/config"
	"audiojoin/internal/logging"
	"audiojoin/internal/metrics"
	"audiojoin/internal/process"
	"audiojoin/internal/session"
)

// spawnGrace is how long a converting session may go without a recorded
// process before it is considered abandoned.
const spawnGrace = 30 * time.Second

// ErrNeverStarted is the wait error used when a converting session never
// recorded a process.
var ErrNeverStarted = errors.New("conversion never started")

// Finalizer settles a converting session once its process is gone.
type Finalizer interface {
	Finalize(ctx context.Context, id string, waitErr error) (*session.Session, error)
	// Owns reports whether a live waiter in this process will finalize id.
	Owns(id string) bool
}

// Poller refreshes converting sessions on demand.
type Poller struct {
	store     *session.Store
	finalizer Finalizer
	security  *logging.SecurityLog
	logger    *slog.Logger
	estimator Estimator
	tailBytes int
	now       func() time.Time
	check     func(process.Handle) process.State
}

// NewPoller wires a poller from configuration.
func NewPoller(cfg *config.Config, store *session.Store, finalizer Finalizer, security *logging.SecurityLog, logger *slog.Logger) *Poller {
	return &Poller{
		store:     store,
		finalizer: finalizer,
		security:  security,
		logger:    logging.NewComponentLogger(logger, "progress"),
		estimator: Estimator{Floor: cfg.Conversion.ProgressFloor},
		tailBytes: cfg.Conversion.LogTailBytes,
		now:       time.Now,
		check:     process.Handle.Check,
	}
}

// Poll loads id and, when it is converting, either finalizes it because its
// process has gone or raises its progress estimate.
func (p *Poller) Poll(ctx context.Context, id string) (*session.Session, error) {
	sess, err := p.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status != session.StatusConverting {
		return sess, nil
	}
	owned := p.finalizer != nil && p.finalizer.Owns(id)

	if sess.Process == nil {
		if !owned && sess.Elapsed(p.now()) > spawnGrace {
			metrics.RecordPoll("abandoned")
			return p.finalize(ctx, id, ErrNeverStarted)
		}
		// Reserved but not spawned yet: report the floor.
		metrics.RecordPoll("starting")
		return p.refresh(ctx, sess)
	}

	if !owned {
		switch state := p.liveness(id, *sess.Process); state {
		case process.StateAlive:
		default:
			metrics.RecordPoll(state.String())
			return p.finalize(ctx, id, nil)
		}
	}
	metrics.RecordPoll("running")
	return p.refresh(ctx, sess)
}

func (p *Poller) liveness(id string, handle process.Handle) process.State {
	if !process.ValidPID(handle.PID) {
		p.security.Record("invalid_pid", map[string]string{
			"session_id": id,
			"pid":        strconv.Itoa(handle.PID),
		})
		return process.StateInvalid
	}
	state := p.check(handle)
	if state == process.StateRecycled {
		p.security.Record("pid_recycled", map[string]string{
			"session_id": id,
			"pid":        strconv.Itoa(handle.PID),
			"started_at": handle.StartedAt.UTC().Format(time.RFC3339),
		})
	}
	return state
}

func (p *Poller) finalize(ctx context.Context, id string, waitErr error) (*session.Session, error) {
	if p.finalizer == nil {
		return p.store.Load(ctx, id)
	}
	return p.finalizer.Finalize(ctx, id, waitErr)
}

func (p *Poller) refresh(ctx context.Context, sess *session.Session) (*session.Session, error) {
	logPath, err := p.store.Path(sess.ID, session.LogFile)
	if err != nil {
		return nil, err
	}
	tail, err := ReadTail(logPath, p.tailBytes)
	if err != nil {
		p.logger.Debug("log tail unavailable", logging.String(logging.FieldSessionID, sess.ID), logging.Error(err))
	}
	pct := p.estimator.Estimate(tail, sess.TotalDuration, sess.Progress, sess.Elapsed(p.now()))
	if pct == sess.Progress {
		return sess, nil
	}
	return p.store.Update(ctx, sess.ID, func(s *session.Session) error {
		if s.Status == session.StatusConverting && pct > s.Progress {
			s.Progress = pct
		}
		return nil
	})
}
