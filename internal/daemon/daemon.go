package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"audiojoin/internal/api"
	"audiojoin/internal/config"
	"audiojoin/internal/conversion"
	"audiojoin/internal/deps"
	"audiojoin/internal/engine"
	"audiojoin/internal/logging"
	"audiojoin/internal/media/ffprobe"
	"audiojoin/internal/notifications"
	"audiojoin/internal/progress"
	"audiojoin/internal/queue"
	"audiojoin/internal/reaper"
	"audiojoin/internal/session"
	"audiojoin/internal/supervisor"
)

const (
	lockFileName = "audiojoin.lock"
	pidFileName  = "audiojoin.pid"

	shutdownTimeout    = 10 * time.Second
	logRetentionPeriod = 24 * time.Hour
)

var (
	// ErrAlreadyRunning is returned when another instance holds the lock.
	ErrAlreadyRunning = errors.New("another audiojoin daemon instance is already running")
	ErrQueueDisabled  = errors.New("queued mode is disabled")
)

// Daemon owns the conversion components and the HTTP surface, and enforces
// single-instance execution per log directory.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	lockPath string
	pidPath  string
	lock     *flock.Flock

	sessions   *session.Store
	queue      *queue.Store
	engine     *engine.Engine
	service    *conversion.Service
	supervisor *supervisor.Supervisor
	server     *api.Server
	security   *logging.SecurityLog

	running atomic.Bool
	address atomic.Value
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	Mode         string
	Address      string
	ActiveJobs   int
	QueueDBPath  string
	LockFilePath string
}

// Option customises a Daemon.
type Option func(*api.Options)

// WithDependencies overrides the dependency check reported by /api/health.
func WithDependencies(fn func() []deps.Status) Option {
	return func(o *api.Options) { o.Dependencies = fn }
}

// New wires every component from cfg. The queue database is opened only in
// queued mode.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	security := logging.NewSecurityLog(cfg.Paths.LogDir, logger)
	sessions := session.NewStore(cfg.Paths.SessionsDir, logger, security, session.WithMaxFileBytes(cfg.Server.MaxFileBytes))
	inspector := ffprobe.NewInspector(cfg.Conversion.FFprobeBinary, logger)
	notifier := notifications.NewService(cfg)
	eng := engine.New(cfg, sessions, inspector, logger, engine.WithNotifier(notifier))
	poller := progress.NewPoller(cfg, sessions, eng, security, logger)

	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		lockPath: filepath.Join(cfg.Paths.LogDir, lockFileName),
		pidPath:  filepath.Join(cfg.Paths.LogDir, pidFileName),
		sessions: sessions,
		engine:   eng,
		security: security,
	}
	d.lock = flock.New(d.lockPath)

	var queueService *api.QueueService
	if cfg.Queue.Enabled {
		store, err := queue.Open(cfg)
		if err != nil {
			return nil, fmt.Errorf("open queue: %w", err)
		}
		d.queue = store
		d.supervisor = supervisor.New(cfg, store, sessions, eng, poller, logger, supervisor.WithNotifier(notifier))
		queueService = api.NewQueueService(store)
	}
	d.service = conversion.New(cfg, sessions, d.queue, eng, poller, inspector, logger)

	apiOpts := api.Options{
		Config:  cfg,
		Service: d.service,
		Queue:   queueService,
		Engine:  eng,
		Logger:  logger,
	}
	for _, opt := range opts {
		opt(&apiOpts)
	}
	d.server = api.New(apiOpts)
	return d, nil
}

// Run listens on the configured bind address and serves until ctx ends.
func (d *Daemon) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", d.cfg.Server.Bind)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", d.cfg.Server.Bind, err)
	}
	return d.Serve(ctx, ln)
}

// Serve runs the HTTP server, the session reaper, log retention and, in
// queued mode, one supervisor loop per job slot. It returns after ctx is
// cancelled and every conversion waiter has let go; ffmpeg processes still
// running are settled by the next status poll or queue reconcile.
func (d *Daemon) Serve(ctx context.Context, ln net.Listener) error {
	if d.running.Load() {
		_ = ln.Close()
		return errors.New("daemon already running")
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		_ = ln.Close()
		return ErrAlreadyRunning
	}
	defer func() {
		_ = d.lock.Unlock()
	}()
	if err := writePIDFile(d.pidPath); err != nil {
		d.logger.Warn("pid file not written",
			logging.Error(err),
			logging.String(logging.FieldEventType, "pid_file_failed"),
			logging.String(logging.FieldImpact, "status command cannot report the daemon pid"),
		)
	}
	defer os.Remove(d.pidPath)

	d.running.Store(true)
	d.address.Store(ln.Addr().String())
	defer d.running.Store(false)

	d.logDependencySnapshot()
	d.logger.Info("audiojoin daemon started",
		logging.String(logging.FieldEventType, "daemon_start"),
		logging.String("address", ln.Addr().String()),
		logging.String("mode", d.mode()),
		logging.String("sessions_dir", d.cfg.Paths.SessionsDir),
		logging.Bool("notifications", d.cfg.Notifications.NtfyTopic != ""),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.server.Serve(gctx, ln)
	})
	g.Go(func() error {
		reaper.Run(gctx, d.cfg.Paths.SessionsDir, d.cfg.SessionMaxAge(), d.cfg.CleanupInterval(), d.logger)
		return nil
	})
	g.Go(func() error {
		d.pruneLogs(gctx)
		return nil
	})
	if d.supervisor != nil {
		for range d.cfg.Queue.MaxConcurrentJobs {
			g.Go(func() error {
				return d.supervisor.Loop(gctx)
			})
		}
	}
	err = g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if serr := d.service.Shutdown(shutdownCtx); serr != nil {
		d.logger.Warn("conversion waiters did not stop before shutdown timeout",
			logging.Error(serr),
			logging.String(logging.FieldEventType, "daemon_shutdown_timeout"),
			logging.String(logging.FieldImpact, "running conversions are settled on next status poll"),
		)
	}
	d.logger.Info("audiojoin daemon stopped", logging.String(logging.FieldEventType, "daemon_stop"))
	return err
}

// Drain runs one supervisor pass over the queue without serving HTTP. It
// is safe alongside a running daemon since claims are atomic in SQLite.
func (d *Daemon) Drain(ctx context.Context) (supervisor.Summary, error) {
	if d.supervisor == nil {
		return supervisor.Summary{}, ErrQueueDisabled
	}
	summary, err := d.supervisor.Run(ctx)
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	_ = d.service.Shutdown(shutdownCtx)
	return summary, err
}

// Status reports the daemon's current state.
func (d *Daemon) Status() Status {
	status := Status{
		Running:      d.running.Load(),
		Mode:         d.mode(),
		ActiveJobs:   d.engine.Running(),
		LockFilePath: d.lockPath,
	}
	if addr, ok := d.address.Load().(string); ok {
		status.Address = addr
	}
	if d.queue != nil {
		status.QueueDBPath = d.queue.Path()
	}
	return status
}

// Server exposes the HTTP surface.
func (d *Daemon) Server() *api.Server {
	return d.server
}

// Close releases the queue database.
func (d *Daemon) Close() error {
	if d.queue == nil {
		return nil
	}
	return d.queue.Close()
}

func (d *Daemon) mode() string {
	if d.cfg.Queue.Enabled {
		return "queued"
	}
	return "direct"
}

// pruneLogs applies log retention on start and once a day after.
func (d *Daemon) pruneLogs(ctx context.Context) {
	targets := []logging.RetentionTarget{
		{Dir: d.cfg.Paths.LogDir, Pattern: "audiojoin-*.log"},
		d.security.RetentionTarget(),
	}
	logging.PruneLogs(d.logger, d.cfg.Logging.RetentionDays, targets...)
	ticker := time.NewTicker(logRetentionPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logging.PruneLogs(d.logger, d.cfg.Logging.RetentionDays, targets...)
		}
	}
}

func (d *Daemon) logDependencySnapshot() {
	statuses := deps.Check(d.cfg)
	attrs := []logging.Attr{logging.String(logging.FieldEventType, "dependency_snapshot")}
	for _, status := range statuses {
		key := strings.ToLower(status.Name)
		attrs = append(attrs,
			logging.Bool(key+"_available", status.Available),
			logging.String(key+"_binary", status.Command),
		)
	}
	d.logger.Info("dependency snapshot", logging.Args(attrs...)...)
	for _, status := range deps.Missing(statuses) {
		logging.WarnWithContext(d.logger, "required dependency unavailable", "dependency_missing",
			logging.String("dependency", status.Name),
			logging.String("detail", status.Detail),
			logging.String(logging.FieldImpact, "conversions will fail until it is installed"),
			logging.String(logging.FieldErrorHint, "install ffmpeg or set conversion.ffmpeg_binary"),
		)
	}
}

// ProcessInfo describes a daemon found through its lock and pid files.
type ProcessInfo struct {
	Running  bool
	PID      int
	LockPath string
}

// Lookup reports whether a daemon holds the lock in cfg's log directory.
func Lookup(cfg *config.Config) (ProcessInfo, error) {
	info := ProcessInfo{LockPath: filepath.Join(cfg.Paths.LogDir, lockFileName)}
	if _, err := os.Stat(info.LockPath); errors.Is(err, os.ErrNotExist) {
		return info, nil
	}
	lock := flock.New(info.LockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return info, fmt.Errorf("check lock: %w", err)
	}
	if ok {
		_ = lock.Unlock()
		return info, nil
	}
	info.Running = true
	if data, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, pidFileName)); err == nil {
		if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil {
			info.PID = pid
		}
	}
	return info, nil
}

func writePIDFile(path string) error {
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
