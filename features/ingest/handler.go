package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"medichat/internal/apperr"
	"medichat/internal/respond"
)

type Handler struct {
	service   *Service
	uploadDir string
	maxUpload int64
	logger    *slog.Logger
}

func NewHandler(s *Service, uploadDir string, maxUploadMB int64, logger *slog.Logger) *Handler {
	if maxUploadMB <= 0 {
		maxUploadMB = 50
	}
	return &Handler{service: s, uploadDir: uploadDir, maxUpload: maxUploadMB << 20, logger: logger}
}

type IngestRequest struct {
	Directory string `json:"directory"`
	Async     bool   `json:"async"`
}

func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req IngestRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respond.Error(ctx, w, http.StatusBadRequest, "BAD_REQUEST", "Invalid JSON")
			return
		}
	}

	h.logger.InfoContext(ctx, "ingest requested", "directory", req.Directory, "async", req.Async)

	if req.Async {
		runID, err := h.service.Enqueue(ctx, req.Directory)
		if err != nil {
			h.writeServiceError(ctx, w, err)
			return
		}
		respond.Data(ctx, w, http.StatusAccepted, map[string]interface{}{"runId": runID, "status": "pending"})
		return
	}

	out, err := h.service.Ingest(ctx, req.Directory)
	if err != nil {
		h.writeServiceError(ctx, w, err)
		return
	}
	respond.Data(ctx, w, http.StatusOK, out)
}

// Upload stores each PDF under UPLOAD_DIR/<uuid>/<basename> and indexes the batch with
// source values upload/<basename>.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		respond.Error(ctx, w, http.StatusBadRequest, "BAD_REQUEST", "File too large")
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	headers = append(headers, r.MultipartForm.File["file"]...)
	if len(headers) == 0 {
		respond.Error(ctx, w, http.StatusBadRequest, "BAD_REQUEST", "No files uploaded")
		return
	}
	for _, fh := range headers {
		if !strings.EqualFold(filepath.Ext(fh.Filename), ".pdf") {
			respond.Error(ctx, w, http.StatusBadRequest, "BAD_REQUEST", fmt.Sprintf("Unsupported file type: %s", filepath.Base(fh.Filename)))
			return
		}
	}

	batchDir := filepath.Join(h.uploadDir, uuid.New().String())
	if err := os.MkdirAll(batchDir, 0o750); err != nil { // #nosec G301 -- batchDir is UPLOAD_DIR plus a generated uuid
		h.logger.ErrorContext(ctx, "failed to create upload directory", "error", err, "path", batchDir)
		respond.Error(ctx, w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create upload directory")
		return
	}

	files := make([]string, 0, len(headers))
	for _, fh := range headers {
		path, err := save(batchDir, fh)
		if err != nil {
			h.logger.ErrorContext(ctx, "failed to save upload", "error", err, "file", filepath.Base(fh.Filename))
			respond.Error(ctx, w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to save file")
			return
		}
		files = append(files, path)
	}

	out, err := h.service.IngestFiles(ctx, batchDir, files, UploadLabel)
	if err != nil {
		h.writeServiceError(ctx, w, err)
		return
	}
	respond.Data(ctx, w, http.StatusCreated, out)
}

// UploadLabel is the source value recorded for an uploaded file.
func UploadLabel(path string) string {
	return "upload/" + filepath.Base(path)
}

func save(dir string, fh *multipart.FileHeader) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	path := filepath.Join(dir, filepath.Base(fh.Filename))
	dst, err := os.Create(path) // #nosec G304 -- path is a generated dir plus the upload's base name
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", err
	}
	return path, nil
}

func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrOutsideDataDir):
		respond.Error(ctx, w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
	case errors.Is(err, ErrQueueUnavailable):
		respond.Error(ctx, w, http.StatusServiceUnavailable, "UNAVAILABLE", err.Error())
	case errors.Is(err, apperr.ErrConfiguration):
		respond.Error(ctx, w, http.StatusBadRequest, "CONFIGURATION_ERROR", err.Error())
	case errors.Is(err, apperr.ErrIngestion):
		respond.Error(ctx, w, http.StatusBadGateway, "INGESTION_FAILED", "ingestion failed, see run details")
	default:
		h.logger.ErrorContext(ctx, "ingestion request failed", "error", err)
		respond.Error(ctx, w, http.StatusInternalServerError, "INTERNAL_ERROR", "ingestion failed")
	}
}
