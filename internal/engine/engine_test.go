package engine_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
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
	"audiojoin/internal/services"
	"audiojoin/internal/session"
	"audiojoin/internal/testsupport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	cfg    *config.Config
	store  *session.Store
	engine *engine.Engine
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := session.NewStore(cfg.Paths.SessionsDir, logging.NewNop(), nil)
	inspector := ffprobe.NewInspector(cfg.Conversion.FFprobeBinary, logging.NewNop())
	eng := engine.New(cfg, store, inspector, logging.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = eng.Reaped(ctx)
	})
	return fixture{cfg: cfg, store: store, engine: eng}
}

func (f fixture) session(t *testing.T, format string, names ...string) *session.Session {
	t.Helper()
	ctx := context.Background()
	uploads := make([]session.Upload, 0, len(names))
	for _, name := range names {
		uploads = append(uploads, session.Upload{Name: name, Body: strings.NewReader("audio")})
	}
	sess, err := f.store.Create(ctx, uploads, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	sess.OutputFormat = format
	sess.Bitrate = 128
	return sess
}

func (f fixture) recordedArgs(t *testing.T, id string) string {
	t.Helper()
	dir, _ := f.store.Dir(id)
	data, err := os.ReadFile(filepath.Join(dir, "ffmpeg.args"))
	if err != nil {
		t.Fatalf("read recorded args: %v", err)
	}
	return strings.TrimSpace(string(data))
}

func TestLaunchAndWaitTranscodes(t *testing.T) {
	f := newFixture(t,
		testsupport.WithFFmpeg(testsupport.FFmpegStub{}),
		testsupport.WithFFprobe(testsupport.FFprobeStub{Codec: "mp3", Duration: 3}),
	)
	sess := f.session(t, "webm", "a.mp3", "b.wav")
	ctx := context.Background()

	proc, launched, err := f.engine.Launch(ctx, sess)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if launched.Status != session.StatusConverting || launched.Process == nil || launched.Process.PID != proc.PID {
		t.Fatalf("launch not recorded: %+v", launched)
	}
	if launched.StreamCopy {
		t.Fatal("webm output from mp3 inputs must transcode")
	}
	if !f.engine.Owns(sess.ID) {
		t.Fatal("engine should own the running conversion")
	}

	done, err := f.engine.Wait(ctx, sess.ID, proc)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if done.Status != session.StatusDone || done.Progress != 100 || done.FileSize != int64(len("joined-audio-payload")) {
		t.Fatalf("unexpected final session %+v", done)
	}
	if done.Process != nil {
		t.Fatal("process handle should be cleared when done")
	}
	if f.engine.Owns(sess.ID) {
		t.Fatal("engine should release the session after Wait")
	}
	args := f.recordedArgs(t, sess.ID)
	if !strings.Contains(args, "-c:a libopus -b:a 128k") || !strings.HasSuffix(args, "-y playlist.webm") {
		t.Fatalf("unexpected ffmpeg args %q", args)
	}
}

func TestLaunchStreamCopiesMatchingInputs(t *testing.T) {
	f := newFixture(t,
		testsupport.WithFFmpeg(testsupport.FFmpegStub{}),
		testsupport.WithFFprobe(testsupport.FFprobeStub{Codec: "mp3", Duration: 3}),
	)
	sess := f.session(t, "mp3", "a.mp3", "b.mp3")
	ctx := context.Background()

	proc, launched, err := f.engine.Launch(ctx, sess)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if _, err := f.engine.Wait(ctx, sess.ID, proc); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !launched.StreamCopy {
		t.Fatal("expected stream copy for mp3 inputs to mp3 output")
	}
	if args := f.recordedArgs(t, sess.ID); !strings.Contains(args, "-c:a copy") || strings.Contains(args, "-threads") {
		t.Fatalf("unexpected ffmpeg args %q", args)
	}
}

func TestCodecDetectionFailureDisablesStreamCopy(t *testing.T) {
	f := newFixture(t,
		testsupport.WithFFmpeg(testsupport.FFmpegStub{}),
		testsupport.WithFFprobe(testsupport.FFprobeStub{Fail: true}),
	)
	sess := f.session(t, "mp3", "a.mp3")
	ctx := context.Background()

	proc, launched, err := f.engine.Launch(ctx, sess)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if _, err := f.engine.Wait(ctx, sess.ID, proc); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if launched.StreamCopy {
		t.Fatal("codec detection failure must disable stream copy")
	}
}

func TestFailedConversionRecordsDiagnostic(t *testing.T) {
	f := newFixture(t,
		testsupport.WithFFmpeg(testsupport.FFmpegStub{Fail: true}),
		testsupport.WithFFprobe(testsupport.FFprobeStub{}),
	)
	sess := f.session(t, "ogg", "a.mp3")
	ctx := context.Background()

	proc, _, err := f.engine.Launch(ctx, sess)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	failed, err := f.engine.Wait(ctx, sess.ID, proc)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if failed.Status != session.StatusError {
		t.Fatalf("expected error status, got %s", failed.Status)
	}
	if !strings.Contains(failed.Error, "exited with code 1") || !strings.Contains(failed.Error, "Invalid data found") {
		t.Fatalf("diagnostic missing detail: %q", failed.Error)
	}
}

func TestSpawnFailureForcesError(t *testing.T) {
	f := newFixture(t, testsupport.WithFFprobe(testsupport.FFprobeStub{}))
	f.cfg.Conversion.FFmpegBinary = filepath.Join(t.TempDir(), "missing-ffmpeg")
	sess := f.session(t, "webm", "a.mp3")
	ctx := context.Background()

	_, _, err := f.engine.Launch(ctx, sess)
	if !errors.Is(err, services.ErrSpawn) {
		t.Fatalf("expected spawn error, got %v", err)
	}
	got, err := f.store.Load(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Status != session.StatusError || got.Error == "" {
		t.Fatalf("spawn failure not recorded: %+v", got)
	}
}

func TestLaunchRejectsTerminalSession(t *testing.T) {
	f := newFixture(t,
		testsupport.WithFFmpeg(testsupport.FFmpegStub{Delay: 5}),
		testsupport.WithFFprobe(testsupport.FFprobeStub{}),
	)
	sess := f.session(t, "webm", "a.mp3")
	ctx := context.Background()
	if _, err := f.store.Update(ctx, sess.ID, func(s *session.Session) error {
		s.Status = session.StatusDone
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	if _, _, err := f.engine.Launch(ctx, sess); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if f.engine.Running() != 0 {
		t.Fatal("rejected launch left a tracked process")
	}
}

func TestFinalizeNeverRewritesTerminalSession(t *testing.T) {
	f := newFixture(t)
	sess := f.session(t, "webm", "a.mp3")
	ctx := context.Background()
	if _, err := f.store.Update(ctx, sess.ID, func(s *session.Session) error {
		s.Status = session.StatusError
		s.Error = "original"
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	got, err := f.engine.Finalize(ctx, sess.ID, nil)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if got.Status != session.StatusError || got.Error != "original" {
		t.Fatalf("terminal session rewritten: %+v", got)
	}
}

func TestWaitCancelledLeavesConversionRunning(t *testing.T) {
	f := newFixture(t,
		testsupport.WithFFmpeg(testsupport.FFmpegStub{Delay: 1.5}),
		testsupport.WithFFprobe(testsupport.FFprobeStub{}),
	)
	sess := f.session(t, "webm", "a.mp3")
	bg := context.Background()

	proc, _, err := f.engine.Launch(bg, sess)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	ctx, cancel := context.WithTimeout(bg, 200*time.Millisecond)
	defer cancel()

	got, err := f.engine.Wait(ctx, sess.ID, proc)
	if !errors.Is(err, engine.ErrDetached) {
		t.Fatalf("Wait error = %v, want ErrDetached", err)
	}
	if got.Status != session.StatusConverting || got.Process == nil || got.Process.PID != proc.PID {
		t.Fatalf("session after cancelled wait: %+v", got)
	}
	if f.engine.Owns(sess.ID) {
		t.Fatal("engine still owns a detached conversion")
	}
	if !got.Process.IsAlive() {
		t.Fatal("ffmpeg stopped when the wait was cancelled")
	}

	reapCtx, stop := context.WithTimeout(bg, 10*time.Second)
	defer stop()
	if err := f.engine.Reaped(reapCtx); err != nil {
		t.Fatalf("ffmpeg did not exit: %v", err)
	}
	poller := progress.NewPoller(f.cfg, f.store, f.engine, nil, logging.NewNop())
	polled, err := poller.Poll(bg, sess.ID)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if polled.Status != session.StatusDone || polled.Progress != 100 || polled.Process != nil {
		t.Fatalf("detached conversion not finalized: %+v", polled)
	}
}

type recordingNotifier struct {
	events chan notifications.Event
	last   chan notifications.Payload
}

func (r *recordingNotifier) Enabled() bool { return true }

func (r *recordingNotifier) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	r.events <- event
	r.last <- payload
	return nil
}

func TestFinalizePublishesOutcome(t *testing.T) {
	tests := []struct {
		name  string
		stub  testsupport.FFmpegStub
		event notifications.Event
		key   string
	}{
		{name: "done", stub: testsupport.FFmpegStub{}, event: notifications.EventConversionDone, key: "file_size"},
		{name: "failed", stub: testsupport.FFmpegStub{Fail: true}, event: notifications.EventConversionFailed, key: "error"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testsupport.NewConfig(t,
				testsupport.WithFFmpeg(tc.stub),
				testsupport.WithFFprobe(testsupport.FFprobeStub{}),
			)
			store := session.NewStore(cfg.Paths.SessionsDir, logging.NewNop(), nil)
			rec := &recordingNotifier{events: make(chan notifications.Event, 1), last: make(chan notifications.Payload, 1)}
			f := fixture{cfg: cfg, store: store, engine: engine.New(cfg, store, nil, logging.NewNop(), engine.WithNotifier(rec))}
			sess := f.session(t, "mp3", "a.mp3")
			ctx := context.Background()

			proc, _, err := f.engine.Launch(ctx, sess)
			if err != nil {
				t.Fatalf("Launch: %v", err)
			}
			if _, err := f.engine.Wait(ctx, sess.ID, proc); err != nil {
				t.Fatalf("Wait: %v", err)
			}
			select {
			case got := <-rec.events:
				payload := <-rec.last
				if got != tc.event || payload["session_id"] != sess.ID || payload[tc.key] == "" {
					t.Fatalf("unexpected notification %s %+v", got, payload)
				}
			case <-time.After(5 * time.Second):
				t.Fatal("no notification published")
			}
		})
	}
}
