package conversion

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"audiojoin/internal/config"
	"audiojoin/internal/engine"
	"audiojoin/internal/logging"
	"audiojoin/internal/media/ffprobe"
	"audiojoin/internal/progress"
	"audiojoin/internal/queue"
	"audiojoin/internal/services"
	"audiojoin/internal/session"
	"audiojoin/internal/supervisor"
	"audiojoin/internal/testsupport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	cfg        *config.Config
	service    *Service
	sessions   *session.Store
	queue      *queue.Store
	engine     *engine.Engine
	supervisor *supervisor.Supervisor
}

func newFixture(t *testing.T, stub testsupport.FFmpegStub, opts ...testsupport.ConfigOption) fixture {
	t.Helper()
	opts = append([]testsupport.ConfigOption{
		testsupport.WithFFmpeg(stub),
		testsupport.WithFFprobe(testsupport.FFprobeStub{Codec: "mp3", Duration: 3}),
	}, opts...)
	cfg := testsupport.NewConfig(t, opts...)
	logger := logging.NewNop()
	sessions := session.NewStore(cfg.Paths.SessionsDir, logger, nil)
	inspector := ffprobe.NewInspector(cfg.Conversion.FFprobeBinary, logger)
	eng := engine.New(cfg, sessions, inspector, logger)
	poller := progress.NewPoller(cfg, sessions, eng, nil, logger)

	f := fixture{cfg: cfg, sessions: sessions, engine: eng}
	if cfg.Queue.Enabled {
		f.queue = testsupport.MustOpenQueue(t, cfg)
		f.supervisor = supervisor.New(cfg, f.queue, sessions, eng, poller, logger)
	}
	f.service = New(cfg, sessions, f.queue, eng, poller, inspector, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = f.service.Shutdown(ctx)
		_ = eng.Reaped(ctx)
	})
	return f
}

func (f fixture) ingest(t *testing.T, names ...string) *session.Session {
	t.Helper()
	uploads := make([]session.Upload, 0, len(names))
	for _, name := range names {
		uploads = append(uploads, session.Upload{Name: name, Body: strings.NewReader("audio-" + name)})
	}
	sess, err := f.service.Ingest(context.Background(), uploads)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	return sess
}

func (f fixture) status(t *testing.T, id string) StatusView {
	t.Helper()
	view, err := f.service.Status(context.Background(), id)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	return view
}

func TestDirectConversionRunsToDone(t *testing.T) {
	f := newFixture(t, testsupport.FFmpegStub{Delay: 0.2})
	ctx := context.Background()
	sess := f.ingest(t, "one.mp3", "two.mp3", "three.mp3")
	if sess.Status != session.StatusUploaded || sess.TotalDuration != 9 {
		t.Fatalf("unexpected ingested session: %+v", sess)
	}

	result, err := f.service.Submit(ctx, sess.ID, "webm", 128)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if result.Queued || result.Status != session.StatusConverting || result.Format != "webm" || result.Bitrate != 128 {
		t.Fatalf("unexpected submit result: %+v", result)
	}

	last := 0
	seenConverting := false
	deadline := time.Now().Add(10 * time.Second)
	for {
		view := f.status(t, sess.ID)
		if view.Progress < last {
			t.Fatalf("progress regressed from %d to %d", last, view.Progress)
		}
		last = view.Progress
		if view.Status == session.StatusConverting {
			seenConverting = true
		}
		if view.Status == session.StatusDone {
			if view.Progress != 100 || view.FileSize <= 0 {
				t.Fatalf("unexpected done view: %+v", view)
			}
			break
		}
		if view.Status == session.StatusError {
			t.Fatalf("conversion failed: %s", view.Error)
		}
		if time.Now().After(deadline) {
			t.Fatalf("conversion did not finish, last view %+v", view)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !seenConverting {
		t.Fatal("expected at least one converting poll")
	}
	f.service.Wait()

	dl, err := f.service.OpenDownload(ctx, sess.ID)
	if err != nil {
		t.Fatalf("OpenDownload: %v", err)
	}
	body, err := io.ReadAll(dl.File)
	_ = dl.File.Close()
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if dl.Filename != "playlist.webm" || dl.MimeType != "audio/webm" || string(body) != "joined-audio-payload" {
		t.Fatalf("unexpected download: %+v body=%q", dl, body)
	}

	if err := f.service.Discard(ctx, sess.ID); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if _, err := f.service.Status(ctx, sess.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found after discard, got %v", err)
	}
}

func TestDirectConversionFailureRecordsDiagnostic(t *testing.T) {
	f := newFixture(t, testsupport.FFmpegStub{Fail: true})
	sess := f.ingest(t, "a.mp3")

	if _, err := f.service.Submit(context.Background(), sess.ID, "mp3", 192); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	f.service.Wait()

	view := f.status(t, sess.ID)
	if view.Status != session.StatusError || view.Error == "" {
		t.Fatalf("expected error with diagnostic, got %+v", view)
	}
	if !strings.Contains(view.Error, "exited with code 1") {
		t.Fatalf("diagnostic missing exit code: %q", view.Error)
	}
	if _, err := f.service.OpenDownload(context.Background(), sess.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found for failed session, got %v", err)
	}
}

func TestSubmitRejectsDuplicatesAndUnknownSessions(t *testing.T) {
	f := newFixture(t, testsupport.FFmpegStub{Delay: 0.3})
	ctx := context.Background()
	sess := f.ingest(t, "a.mp3")

	if _, err := f.service.Submit(ctx, "not-a-session", "mp3", 128); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for id, got %v", err)
	}
	if _, err := f.service.Submit(ctx, strings.Repeat("a", 32), "mp3", 128); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found for unknown id, got %v", err)
	}

	if _, err := f.service.Submit(ctx, sess.ID, "", 0); err != nil {
		t.Fatalf("Submit with defaults: %v", err)
	}
	_, err := f.service.Submit(ctx, sess.ID, "mp3", 128)
	if !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if got := services.PublicMessage(err); got != "conversion already in progress" {
		t.Fatalf("unexpected public message %q", got)
	}

	f.service.Wait()
	stored, err := f.service.Session(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if stored.OutputFormat != f.cfg.Conversion.DefaultFormat || stored.Bitrate != f.cfg.Conversion.DefaultBitrate {
		t.Fatalf("duplicate submit changed settings: %+v", stored)
	}
	if _, err := f.service.Submit(ctx, sess.ID, "mp3", 128); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict for finished session, got %v", err)
	}
}

func TestSubmitFallsBackAndClampsParameters(t *testing.T) {
	f := newFixture(t, testsupport.FFmpegStub{}, testsupport.WithQueue(1))
	mp3 := f.cfg.Formats["mp3"]
	mp3.MaxBitrate = 160
	f.cfg.Formats["mp3"] = mp3
	def := f.cfg.Conversion

	tests := []struct {
		name        string
		format      string
		bitrate     int
		wantFormat  string
		wantBitrate int
	}{
		{"unknown format", "flac", 128, def.DefaultFormat, 128},
		{"bitrate outside allowed set", "webm", 100, "webm", def.DefaultBitrate},
		{"bitrate above every allowed value", "webm", 384, "webm", def.DefaultBitrate},
		{"bitrate above format maximum", "mp3", 256, "mp3", 160},
		{"defaults", "", 0, def.DefaultFormat, def.DefaultBitrate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			sess := f.ingest(t, "a.mp3")
			got, err := f.service.Submit(ctx, sess.ID, tt.format, tt.bitrate)
			if err != nil {
				t.Fatalf("Submit(%q, %d): %v", tt.format, tt.bitrate, err)
			}
			if got.Format != tt.wantFormat || got.Bitrate != tt.wantBitrate {
				t.Fatalf("Submit(%q, %d) chose %s/%d, want %s/%d", tt.format, tt.bitrate, got.Format, got.Bitrate, tt.wantFormat, tt.wantBitrate)
			}
			stored, err := f.service.Session(ctx, sess.ID)
			if err != nil {
				t.Fatalf("Session: %v", err)
			}
			if stored.OutputFormat != tt.wantFormat || stored.Bitrate != tt.wantBitrate {
				t.Fatalf("stored settings %s/%d, want %s/%d", stored.OutputFormat, stored.Bitrate, tt.wantFormat, tt.wantBitrate)
			}
		})
	}
}

func TestQueuedPositionsFollowCompletion(t *testing.T) {
	f := newFixture(t, testsupport.FFmpegStub{}, testsupport.WithQueue(1))
	ctx := context.Background()
	first := f.ingest(t, "a.mp3")
	second := f.ingest(t, "b.mp3")

	r1, err := f.service.Submit(ctx, first.ID, "mp3", 128)
	if err != nil {
		t.Fatalf("Submit first: %v", err)
	}
	r2, err := f.service.Submit(ctx, second.ID, "mp3", 128)
	if err != nil {
		t.Fatalf("Submit second: %v", err)
	}
	if !r1.Queued || r1.QueuePosition != 1 || r2.QueuePosition != 2 {
		t.Fatalf("unexpected positions: %+v %+v", r1, r2)
	}
	if _, err := f.service.Submit(ctx, first.ID, "mp3", 128); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict for queued session, got %v", err)
	}

	entry, err := f.queue.ClaimNext(ctx)
	if err != nil || entry == nil || entry.SessionID != first.ID {
		t.Fatalf("ClaimNext: %+v %v", entry, err)
	}
	if view := f.status(t, first.ID); view.Status != session.StatusConverting || view.QueuePosition != 0 {
		t.Fatalf("claimed entry should report converting: %+v", view)
	}
	if view := f.status(t, second.ID); view.Status != session.StatusQueued || view.QueuePosition != 2 {
		t.Fatalf("second should still be at 2: %+v", view)
	}

	loaded, err := f.sessions.Load(ctx, first.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	proc, _, err := f.engine.Launch(ctx, loaded)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	done, err := f.engine.Wait(ctx, first.ID, proc)
	if err != nil || done.Status != session.StatusDone {
		t.Fatalf("Wait: %+v %v", done, err)
	}
	if err := f.queue.MarkCompleted(ctx, first.ID); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	if view := f.status(t, second.ID); view.QueuePosition != 1 {
		t.Fatalf("second should move to 1: %+v", view)
	}

	summary, err := f.supervisor.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Completed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if view := f.status(t, second.ID); view.Status != session.StatusDone || view.Progress != 100 || view.FileSize <= 0 {
		t.Fatalf("second should be done: %+v", view)
	}
}

func TestQueuedFailureMarksEntryFailed(t *testing.T) {
	f := newFixture(t, testsupport.FFmpegStub{Fail: true}, testsupport.WithQueue(1))
	ctx := context.Background()
	sess := f.ingest(t, "a.mp3")
	if _, err := f.service.Submit(ctx, sess.ID, "ogg", 128); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := f.supervisor.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	view := f.status(t, sess.ID)
	if view.Status != session.StatusError || view.Error == "" {
		t.Fatalf("expected error view, got %+v", view)
	}
	entry, err := f.queue.Get(ctx, sess.ID)
	if err != nil || entry == nil {
		t.Fatalf("Get: %+v %v", entry, err)
	}
	if entry.Status != queue.StatusFailed || entry.Error == "" {
		t.Fatalf("expected failed entry, got %+v", entry)
	}
}

func TestQueuedSessionWithoutEntryBecomesError(t *testing.T) {
	f := newFixture(t, testsupport.FFmpegStub{}, testsupport.WithQueue(1))
	ctx := context.Background()
	sess := f.ingest(t, "a.mp3")
	if _, err := f.sessions.Update(ctx, sess.ID, func(s *session.Session) error {
		s.Status = session.StatusQueued
		return nil
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if view := f.status(t, sess.ID); view.Status != session.StatusQueued {
		t.Fatalf("fresh queued session should wait for its entry: %+v", view)
	}

	f.service.now = func() time.Time { return time.Now().Add(time.Hour) }
	view := f.status(t, sess.ID)
	if view.Status != session.StatusError || view.Error != "conversion was not queued" {
		t.Fatalf("expected orphaned queued session to fail, got %+v", view)
	}
}
