package api

import (
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"audiojoin/internal/logging"
	"audiojoin/internal/session"
)

const multipartMemory = 32 << 20

var allowedMIMETypes = []string{"audio/mpeg", "audio/wav", "audio/x-wav", "audio/wave"}

type upload struct {
	order  int
	name   string
	header *multipart.FileHeader
}

// handleUpload stores the accepted files of a multipart request as a new
// session. Files that fail validation are skipped; the request fails only
// when none remain.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	limit := int64(s.cfg.Server.MaxUploadFiles)*s.cfg.Server.MaxFileBytes + multipartMemory
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid upload")
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	headers := r.MultipartForm.File["files[]"]
	if len(headers) == 0 {
		headers = r.MultipartForm.File["files"]
	}
	if len(headers) == 0 {
		s.writeError(w, http.StatusBadRequest, "no files uploaded")
		return
	}
	orders := r.MultipartForm.Value["order[]"]
	if len(orders) == 0 {
		orders = r.MultipartForm.Value["order"]
	}

	logger := s.log(r)
	var (
		accepted []upload
		skipped  []string
	)
	for i, header := range headers {
		if i >= s.cfg.Server.MaxUploadFiles {
			skipped = append(skipped, header.Filename)
			continue
		}
		if reason := s.rejectUpload(header); reason != "" {
			logger.Info("upload skipped",
				logging.String("file", header.Filename),
				logging.String("reason", reason),
				logging.String(logging.FieldEventType, "upload_rejected"),
			)
			skipped = append(skipped, header.Filename)
			continue
		}
		order := i
		if i < len(orders) {
			if v, err := strconv.Atoi(strings.TrimSpace(orders[i])); err == nil && v >= 0 {
				order = v
			}
		}
		accepted = append(accepted, upload{order: order, name: header.Filename, header: header})
	}
	if len(accepted) == 0 {
		s.writeError(w, http.StatusBadRequest, "no valid audio files")
		return
	}
	sort.SliceStable(accepted, func(i, j int) bool { return accepted[i].order < accepted[j].order })

	uploads := make([]session.Upload, 0, len(accepted))
	for _, u := range accepted {
		file, err := u.header.Open()
		if err != nil {
			s.fail(w, r, err)
			closeUploads(uploads)
			return
		}
		uploads = append(uploads, session.Upload{Name: u.name, Body: file})
	}
	defer closeUploads(uploads)

	sess, err := s.service.Ingest(r.Context(), uploads)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, UploadResponse{
		Success:   true,
		SessionID: sess.ID,
		FileCount: len(sess.Files),
		Skipped:   skipped,
	})
}

// rejectUpload returns why header cannot be accepted, or "".
func (s *Server) rejectUpload(header *multipart.FileHeader) string {
	if header.Size > s.cfg.Server.MaxFileBytes {
		return "file too large"
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(header.Filename)), ".")
	if !slices.Contains(s.cfg.Server.AllowedExtensions, ext) {
		return "extension not allowed"
	}
	file, err := header.Open()
	if err != nil {
		return "unreadable"
	}
	defer file.Close()
	detected, err := mimetype.DetectReader(file)
	if err != nil {
		return "unreadable"
	}
	for _, allowed := range allowedMIMETypes {
		if detected.Is(allowed) {
			return ""
		}
	}
	return "unsupported content type " + detected.String()
}

func closeUploads(uploads []session.Upload) {
	for _, u := range uploads {
		if c, ok := u.Body.(io.Closer); ok {
			_ = c.Close()
		}
	}
}
