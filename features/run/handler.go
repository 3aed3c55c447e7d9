package run

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"medichat/internal/middleware"
	"medichat/internal/respond"
)

type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(s *Service, logger *slog.Logger) *Handler {
	return &Handler{service: s, logger: logger}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	h.logger.InfoContext(ctx, "listing ingestion runs", "correlationId", correlationID)

	runs, err := h.service.List(ctx, limit)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list runs", "error", err, "correlationId", correlationID)
		respond.Error(ctx, w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list runs")
		return
	}

	if runs == nil {
		runs = []Run{}
	}

	respond.List(ctx, w, runs, len(runs))
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		respond.Error(ctx, w, http.StatusBadRequest, "BAD_REQUEST", "invalid run id")
		return
	}

	run, err := h.service.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respond.Error(ctx, w, http.StatusNotFound, "NOT_FOUND", "Run not found")
			return
		}
		h.logger.ErrorContext(ctx, "failed to get run", "id", id, "error", err)
		respond.Error(ctx, w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to get run")
		return
	}

	respond.Data(ctx, w, http.StatusOK, run)
}

func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)
	id := r.PathValue("id")

	h.logger.InfoContext(ctx, "retrying run", "id", id, "correlationId", correlationID)

	if _, err := uuid.Parse(id); err != nil {
		respond.Error(ctx, w, http.StatusBadRequest, "BAD_REQUEST", "invalid run id")
		return
	}

	if err := h.service.Retry(ctx, id); err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			respond.Error(ctx, w, http.StatusNotFound, "NOT_FOUND", "Run not found")
		case errors.Is(err, ErrNotRetryable):
			respond.Error(ctx, w, http.StatusConflict, "CONFLICT", err.Error())
		case errors.Is(err, ErrQueueUnavailable):
			respond.Error(ctx, w, http.StatusServiceUnavailable, "UNAVAILABLE", err.Error())
		default:
			h.logger.ErrorContext(ctx, "failed to retry run", "id", id, "error", err, "correlationId", correlationID)
			respond.Error(ctx, w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to retry run")
		}
		return
	}

	respond.Data(ctx, w, http.StatusAccepted, map[string]string{"runId": id, "status": string(StatusPending)})
}
