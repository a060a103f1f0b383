package progress

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"audiojoin/internal/logging"
	"audiojoin/internal/process"
	"audiojoin/internal/session"
	"audiojoin/internal/testsupport"
)

type fakeFinalizer struct {
	owned   bool
	calls   int
	waitErr error
	store   *session.Store
}

func (f *fakeFinalizer) Owns(string) bool { return f.owned }

func (f *fakeFinalizer) Finalize(ctx context.Context, id string, waitErr error) (*session.Session, error) {
	f.calls++
	f.waitErr = waitErr
	return f.store.Update(ctx, id, func(s *session.Session) error {
		s.Status = session.StatusDone
		s.Progress = 100
		s.Process = nil
		return nil
	})
}

type pollerFixture struct {
	poller    *Poller
	store     *session.Store
	finalizer *fakeFinalizer
	logDir    string
}

func newPollerFixture(t *testing.T) pollerFixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	security := logging.NewSecurityLog(cfg.Paths.LogDir, logging.NewNop())
	store := session.NewStore(cfg.Paths.SessionsDir, logging.NewNop(), security)
	finalizer := &fakeFinalizer{store: store}
	return pollerFixture{
		poller:    NewPoller(cfg, store, finalizer, security, logging.NewNop()),
		store:     store,
		finalizer: finalizer,
		logDir:    cfg.Paths.LogDir,
	}
}

func (f pollerFixture) converting(t *testing.T, pid int, log string) *session.Session {
	t.Helper()
	ctx := context.Background()
	sess, err := f.store.Create(ctx, []session.Upload{{Name: "a.mp3", Body: strings.NewReader("x")}}, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	sess, err = f.store.Update(ctx, sess.ID, func(s *session.Session) error {
		s.Status = session.StatusConverting
		s.TotalDuration = 10
		s.StartTime = time.Now()
		s.Process = &process.Handle{PID: pid, StartedAt: time.Now()}
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	dir, _ := f.store.Dir(sess.ID)
	if err := os.WriteFile(filepath.Join(dir, session.LogFile), []byte(log), 0o644); err != nil {
		t.Fatal(err)
	}
	return sess
}

func TestPollRaisesProgressWhileAlive(t *testing.T) {
	f := newPollerFixture(t)
	f.poller.check = func(process.Handle) process.State { return process.StateAlive }
	sess := f.converting(t, 1234, "size=1kB time=00:00:05.00 bitrate=1\r")

	got, err := f.poller.Poll(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if got.Progress != 50 || got.Status != session.StatusConverting {
		t.Fatalf("unexpected session %+v", got)
	}
	if f.finalizer.calls != 0 {
		t.Fatal("alive process must not be finalized")
	}
}

func TestPollFinalizesExitedProcess(t *testing.T) {
	f := newPollerFixture(t)
	f.poller.check = func(process.Handle) process.State { return process.StateExited }
	sess := f.converting(t, 1234, "")

	got, err := f.poller.Poll(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if f.finalizer.calls != 1 || f.finalizer.waitErr != nil || got.Status != session.StatusDone {
		t.Fatalf("expected one finalize, calls=%d status=%s", f.finalizer.calls, got.Status)
	}
}

func TestPollRecordsRecycledPID(t *testing.T) {
	f := newPollerFixture(t)
	f.poller.check = func(process.Handle) process.State { return process.StateRecycled }
	sess := f.converting(t, 1234, "")

	if _, err := f.poller.Poll(context.Background(), sess.ID); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if f.finalizer.calls != 1 {
		t.Fatalf("recycled pid should finalize, calls=%d", f.finalizer.calls)
	}
	matches, _ := filepath.Glob(filepath.Join(f.logDir, "security_*.log"))
	if len(matches) != 1 {
		t.Fatalf("expected security log entry, found %v", matches)
	}
	data, _ := os.ReadFile(matches[0])
	if !strings.Contains(string(data), "pid_recycled") {
		t.Fatalf("security log missing event: %s", data)
	}
}

func TestPollInvalidPIDNeverChecksLiveness(t *testing.T) {
	f := newPollerFixture(t)
	f.poller.check = func(process.Handle) process.State {
		t.Fatal("liveness check must not run for an implausible pid")
		return process.StateAlive
	}
	sess := f.converting(t, process.MaxPID+1, "")

	if _, err := f.poller.Poll(context.Background(), sess.ID); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if f.finalizer.calls != 1 {
		t.Fatalf("invalid pid should finalize, calls=%d", f.finalizer.calls)
	}
}

func TestPollLeavesOwnedProcessToItsWaiter(t *testing.T) {
	f := newPollerFixture(t)
	f.finalizer.owned = true
	f.poller.check = func(process.Handle) process.State { return process.StateExited }
	sess := f.converting(t, 1234, "")

	got, err := f.poller.Poll(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if f.finalizer.calls != 0 || got.Status != session.StatusConverting {
		t.Fatalf("owned session was finalized by the poller")
	}
	if got.Progress != DefaultFloor {
		t.Fatalf("progress = %d, want floor", got.Progress)
	}
}

func TestPollAbandonedReservation(t *testing.T) {
	f := newPollerFixture(t)
	sess := f.converting(t, 1234, "")
	if _, err := f.store.Update(context.Background(), sess.ID, func(s *session.Session) error {
		s.Process = nil
		s.StartTime = time.Now().Add(-time.Minute)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := f.poller.Poll(context.Background(), sess.ID); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if f.finalizer.calls != 1 || f.finalizer.waitErr != ErrNeverStarted {
		t.Fatalf("expected abandoned finalize, calls=%d err=%v", f.finalizer.calls, f.finalizer.waitErr)
	}
}

func TestPollReservationReportsFloor(t *testing.T) {
	f := newPollerFixture(t)
	sess := f.converting(t, 1234, "")
	if _, err := f.store.Update(context.Background(), sess.ID, func(s *session.Session) error {
		s.Process = nil
		s.Progress = 0
		s.StartTime = time.Now()
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	got, err := f.poller.Poll(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if f.finalizer.calls != 0 || got.Status != session.StatusConverting {
		t.Fatalf("reservation was finalized: %+v", got)
	}
	if got.Progress != DefaultFloor {
		t.Fatalf("progress = %d, want floor %d", got.Progress, DefaultFloor)
	}
}

func TestPollNonConvertingIsReadOnly(t *testing.T) {
	f := newPollerFixture(t)
	sess, err := f.store.Create(context.Background(), []session.Upload{{Name: "a.mp3", Body: strings.NewReader("x")}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := f.poller.Poll(context.Background(), sess.ID)
	if err != nil || got.Status != session.StatusUploaded {
		t.Fatalf("Poll = %+v, %v", got, err)
	}
}
