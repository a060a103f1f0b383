package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"audiojoin/internal/config"
	"audiojoin/internal/conversion"
	"audiojoin/internal/deps"
	"audiojoin/internal/engine"
	"audiojoin/internal/logging"
	"audiojoin/internal/queue"
	"audiojoin/internal/services"
)

const (
	maxConvertBody  = 4 << 10
	shutdownTimeout = 5 * time.Second
)

// Options wires a Server.
type Options struct {
	Config  *config.Config
	Service *conversion.Service
	// Queue is nil when queueing is disabled.
	Queue  *QueueService
	Engine *engine.Engine
	Logger *slog.Logger
	// Dependencies overrides the preflight used by /api/health.
	Dependencies func() []deps.Status
}

// Server routes HTTP requests to the conversion service.
type Server struct {
	cfg     *config.Config
	service *conversion.Service
	queue   *QueueService
	engine  *engine.Engine
	logger  *slog.Logger
	deps    func() []deps.Status
	router  chi.Router
}

// New builds a Server and its routes.
func New(opts Options) *Server {
	s := &Server{
		cfg:     opts.Config,
		service: opts.Service,
		queue:   opts.Queue,
		engine:  opts.Engine,
		logger:  logging.NewComponentLogger(opts.Logger, "api"),
		deps:    opts.Dependencies,
	}
	if s.deps == nil {
		s.deps = func() []deps.Status { return deps.Check(s.cfg) }
	}

	r := chi.NewRouter()
	r.Use(recoverer(s.logger))
	r.Use(requestID)
	r.Use(requestLogger(s.logger))
	r.Use(cors(s.cfg.Server.AllowedOrigin))
	r.Use(securityHeaders)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(rateLimit(s.cfg.Server.RateLimitPerMinute, s.logger))
			r.Post("/upload", s.handleUpload)
			r.Post("/convert", s.handleConvert)
		})
		r.Get("/status", s.handleStatus)
		r.Get("/download", s.handleDownload)
		r.Get("/queue", s.handleQueue)
		r.Get("/health", s.handleHealth)
	})
	r.Handle("/metrics", promhttp.Handler())
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	s.router = r
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve accepts connections on listener until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(listener)
	}()
	s.logger.Info("api server listening",
		logging.String("address", listener.Addr().String()),
		logging.String(logging.FieldEventType, "api_listening"),
	)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api serve: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		_ = srv.Close()
	}
	<-errCh
	return nil
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	var req ConvertRequest
	body := http.MaxBytesReader(w, r.Body, maxConvertBody)
	if mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mediaType != "" && mediaType != "application/json" {
		s.writeError(w, http.StatusUnsupportedMediaType, "expected application/json")
		return
	}
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	result, err := s.service.Submit(r.Context(), strings.TrimSpace(req.SessionID), strings.TrimSpace(req.Format), req.Bitrate)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	msg := "conversion started"
	if result.Queued {
		msg = "conversion queued"
	}
	s.writeJSON(w, http.StatusOK, ConvertResponse{
		Success:       true,
		Message:       msg,
		Status:        string(result.Status),
		QueuePosition: result.QueuePosition,
		Format:        result.Format,
		Bitrate:       result.Bitrate,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.Status(r.Context(), r.URL.Query().Get("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	s.writeJSON(w, http.StatusOK, FromStatusView(view))
}

// handleDownload streams the artifact and removes the session once the
// response has been written or the client has gone away.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	dl, err := s.service.OpenDownload(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer func() {
		if err := s.service.Discard(context.WithoutCancel(r.Context()), id); err != nil {
			s.log(r).Warn("post-download cleanup failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "download_cleanup_failed"),
				logging.String(logging.FieldImpact, "session removed by the next expiry sweep"),
			)
		}
	}()
	defer dl.File.Close()

	h := w.Header()
	h.Set("Content-Type", dl.MimeType)
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": dl.Filename}))
	h.Set("Content-Length", strconv.FormatInt(dl.Size, 10))
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if n, err := io.Copy(w, dl.File); err != nil {
		s.log(r).Debug("download interrupted", logging.Int64("bytes", n), logging.Error(err))
	}
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		s.writeJSON(w, http.StatusOK, QueueListResponse{Items: []QueueItem{}})
		return
	}
	var statuses []queue.Status
	for _, value := range r.URL.Query()["status"] {
		if strings.TrimSpace(value) == "" {
			continue
		}
		status, ok := queue.ParseStatus(value)
		if !ok {
			s.writeError(w, http.StatusBadRequest, "unknown queue status")
			return
		}
		statuses = append(statuses, status)
	}
	items, err := s.queue.List(r.Context(), statuses...)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if items == nil {
		items = []QueueItem{}
	}
	s.writeJSON(w, http.StatusOK, QueueListResponse{Items: items})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:       "ok",
		Mode:         "direct",
		Dependencies: FromDependencies(s.deps()),
	}
	if s.engine != nil {
		resp.Running = s.engine.Running()
	}
	for _, dep := range resp.Dependencies {
		if !dep.Available && !dep.Optional {
			resp.Status = "degraded"
		}
	}
	if s.cfg.Queue.Enabled {
		resp.Mode = "queued"
		health, err := s.queue.Health(r.Context())
		switch {
		case err != nil:
			resp.Status = "degraded"
			resp.Queue = &QueueHealth{Error: "queue database unavailable"}
			s.log(r).Warn("queue health check failed", logging.Error(err), logging.String(logging.FieldEventType, "queue_health_failed"))
		case health == nil || !health.Readable || !health.Integrity:
			resp.Status = "degraded"
			resp.Queue = health
		default:
			resp.Queue = health
		}
	}
	code := http.StatusOK
	if resp.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, resp)
}

// fail renders err using the services taxonomy. Only server-side failures
// are logged with detail.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusCode(err)
	if code >= http.StatusInternalServerError {
		logging.ErrorWithContext(s.log(r), "request failed", "http_request_failed",
			logging.String("path", r.URL.Path),
			logging.Error(err),
		)
	}
	s.writeError(w, code, services.PublicMessage(err))
}

// StatusCode maps an error onto an HTTP status.
func StatusCode(err error) int {
	switch services.Classify(err) {
	case services.ErrValidation:
		return http.StatusBadRequest
	case services.ErrNotFound, services.ErrIntegrity:
		return http.StatusNotFound
	case services.ErrConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	writeJSON(w, s.logger, status, payload)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Success: false, Error: message})
}

func (s *Server) log(r *http.Request) *slog.Logger {
	return logging.WithContext(r.Context(), s.logger)
}
