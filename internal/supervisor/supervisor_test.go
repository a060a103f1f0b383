package supervisor_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"audiojoin/internal/config"
	"audiojoin/internal/engine"
	"audiojoin/internal/logging"
	"audiojoin/internal/media/ffprobe"
	"audiojoin/internal/notifications"
	"audiojoin/internal/progress"
	"audiojoin/internal/queue"
	"audiojoin/internal/session"
	"audiojoin/internal/supervisor"
	"audiojoin/internal/testsupport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

type fixture struct {
	cfg        *config.Config
	queue      *queue.Store
	sessions   *session.Store
	engine     *engine.Engine
	supervisor *supervisor.Supervisor
}

func newFixture(t *testing.T, stub testsupport.FFmpegStub, opts ...testsupport.ConfigOption) fixture {
	t.Helper()
	opts = append([]testsupport.ConfigOption{
		testsupport.WithQueue(2),
		testsupport.WithFFmpeg(stub),
		testsupport.WithFFprobe(testsupport.FFprobeStub{Duration: 2}),
	}, opts...)
	cfg := testsupport.NewConfig(t, opts...)
	q := testsupport.MustOpenQueue(t, cfg)
	logger := logging.NewNop()
	sessions := session.NewStore(cfg.Paths.SessionsDir, logger, nil)
	eng := engine.New(cfg, sessions, ffprobe.NewInspector(cfg.Conversion.FFprobeBinary, logger), logger)
	poller := progress.NewPoller(cfg, sessions, eng, nil, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = eng.Reaped(ctx)
	})
	return fixture{
		cfg:        cfg,
		queue:      q,
		sessions:   sessions,
		engine:     eng,
		supervisor: supervisor.New(cfg, q, sessions, eng, poller, logger),
	}
}

func (f fixture) enqueue(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	sess, err := f.sessions.Create(ctx, []session.Upload{{Name: "a.mp3", Body: strings.NewReader("x")}}, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.sessions.Update(ctx, sess.ID, func(s *session.Session) error {
		s.Status = session.StatusQueued
		s.OutputFormat = "webm"
		s.Bitrate = 128
		return nil
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := f.queue.Add(ctx, sess.ID, 0); err != nil {
		t.Fatalf("Add: %v", err)
	}
	return sess.ID
}

func TestRunDrainsQueue(t *testing.T) {
	f := newFixture(t, testsupport.FFmpegStub{})
	ids := []string{f.enqueue(t), f.enqueue(t), f.enqueue(t)}

	summary, err := f.supervisor.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Claimed != 3 || summary.Completed != 3 || summary.Reason != supervisor.ReasonDrained {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if summary.RunID == "" {
		t.Fatal("run id missing")
	}
	for _, id := range ids {
		sess, err := f.sessions.Load(context.Background(), id)
		if err != nil || sess.Status != session.StatusDone || sess.Progress != 100 {
			t.Fatalf("session %s = %+v, %v", id, sess, err)
		}
		entry, _ := f.queue.Get(context.Background(), id)
		if entry.Status != queue.StatusCompleted {
			t.Fatalf("entry %s status %s", id, entry.Status)
		}
	}
}

func TestRunReportsFailures(t *testing.T) {
	f := newFixture(t, testsupport.FFmpegStub{Fail: true})
	id := f.enqueue(t)

	summary, err := f.supervisor.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Failed != 1 || summary.Completed != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	entry, _ := f.queue.Get(context.Background(), id)
	if entry.Status != queue.StatusFailed || !strings.Contains(entry.Error, "exited with code 1") {
		t.Fatalf("entry = %+v", entry)
	}
	sess, _ := f.sessions.Load(context.Background(), id)
	if sess.Status != session.StatusError {
		t.Fatalf("session status %s", sess.Status)
	}
}

func TestRunExitsOnEmptyQueue(t *testing.T) {
	f := newFixture(t, testsupport.FFmpegStub{})

	start := time.Now()
	summary, err := f.supervisor.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Reason != supervisor.ReasonDrained || summary.Claimed != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("empty queue should exit without waiting")
	}
}

func TestRunRespectsConcurrencyLimitAndRuntime(t *testing.T) {
	f := newFixture(t, testsupport.FFmpegStub{})
	f.cfg.Queue.MaxConcurrentJobs = 1
	f.cfg.Queue.MaxRuntimeSeconds = 1
	ctx := context.Background()

	busy := f.enqueue(t)
	if _, err := f.queue.ClaimNext(ctx); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	// Simulate another worker's conversion that has reserved but not yet
	// recorded its process.
	if _, err := f.sessions.Update(ctx, busy, func(s *session.Session) error {
		s.Status = session.StatusConverting
		s.StartTime = time.Now()
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	waiting := f.enqueue(t)

	summary, err := f.supervisor.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Reason != supervisor.ReasonMaxRuntime || summary.Claimed != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if pos, _ := f.queue.Position(ctx, waiting); pos != 2 {
		t.Fatalf("waiting entry position = %d, want 2", pos)
	}
}

func TestRunCancelledLeavesConversionRunning(t *testing.T) {
	f := newFixture(t, testsupport.FFmpegStub{Delay: 2.5})
	id := f.enqueue(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	summary, err := f.supervisor.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context error, got %v", err)
	}
	if summary.Reason != supervisor.ReasonCancelled || summary.Detached != 1 || summary.Failed != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	bg := context.Background()
	entry, _ := f.queue.Get(bg, id)
	if entry.Status != queue.StatusProcessing {
		t.Fatalf("entry status after cancel = %s, want processing", entry.Status)
	}
	sess, err := f.sessions.Load(bg, id)
	if err != nil {
		t.Fatal(err)
	}
	if sess.Status != session.StatusConverting || sess.Process == nil {
		t.Fatalf("session after cancel = %s process=%v", sess.Status, sess.Process)
	}

	reapCtx, stop := context.WithTimeout(bg, 10*time.Second)
	defer stop()
	if err := f.engine.Reaped(reapCtx); err != nil {
		t.Fatalf("ffmpeg did not exit: %v", err)
	}
	n, err := f.supervisor.Reconcile(bg)
	if err != nil || n != 1 {
		t.Fatalf("Reconcile = %d, %v", n, err)
	}
	if e, _ := f.queue.Get(bg, id); e.Status != queue.StatusCompleted {
		t.Fatalf("entry after reconcile = %s", e.Status)
	}
	if sess, _ := f.sessions.Load(bg, id); sess.Status != session.StatusDone || sess.Progress != 100 {
		t.Fatalf("session after reconcile = %s %d%%", sess.Status, sess.Progress)
	}
}

func TestReconcileSettlesOrphanedEntries(t *testing.T) {
	f := newFixture(t, testsupport.FFmpegStub{})
	ctx := context.Background()

	finished := f.enqueue(t)
	vanished := f.enqueue(t)
	for i := 0; i < 2; i++ {
		if _, err := f.queue.ClaimNext(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.sessions.Update(ctx, finished, func(s *session.Session) error {
		s.Status = session.StatusDone
		s.Progress = 100
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := f.sessions.Remove(ctx, vanished); err != nil {
		t.Fatal(err)
	}

	n, err := f.supervisor.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if n != 2 {
		t.Fatalf("settled %d entries, want 2", n)
	}
	if e, _ := f.queue.Get(ctx, finished); e.Status != queue.StatusCompleted {
		t.Fatalf("finished entry = %s", e.Status)
	}
	if e, _ := f.queue.Get(ctx, vanished); e.Status != queue.StatusFailed {
		t.Fatalf("vanished entry = %s", e.Status)
	}
}

func TestLoopStopsOnCancel(t *testing.T) {
	f := newFixture(t, testsupport.FFmpegStub{})
	id := f.enqueue(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.supervisor.Loop(ctx) }()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if entry, _ := f.queue.Get(context.Background(), id); entry != nil && entry.Status == queue.StatusCompleted {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Loop: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Loop did not stop after cancel")
	}
	if entry, _ := f.queue.Get(context.Background(), id); entry.Status != queue.StatusCompleted {
		t.Fatalf("entry status %s", entry.Status)
	}
}

func TestRunPublishesQueueSummary(t *testing.T) {
	bodies := make(chan string, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		bodies <- r.Header.Get("Title") + ": " + string(data)
	}))
	defer server.Close()

	base := newFixture(t, testsupport.FFmpegStub{})
	base.cfg.Notifications.NtfyTopic = server.URL
	base.cfg.Notifications.NotifyQueueRuns = true
	logger := logging.NewNop()
	eng := engine.New(base.cfg, base.sessions, nil, logger)
	sup := supervisor.New(base.cfg, base.queue, base.sessions, eng, nil, logger,
		supervisor.WithNotifier(notifications.NewService(base.cfg)))

	if _, err := sup.Run(context.Background()); err != nil {
		t.Fatalf("Run on empty queue: %v", err)
	}
	if len(bodies) != 0 {
		t.Fatalf("empty run should not notify, got %q", <-bodies)
	}

	base.enqueue(t)
	if _, err := sup.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	select {
	case got := <-bodies:
		if !strings.HasPrefix(got, "audiojoin - Queue Run Complete: Queue run finished: 1 converted") {
			t.Fatalf("unexpected notification %q", got)
		}
	default:
		t.Fatal("queue run notification missing")
	}
}
