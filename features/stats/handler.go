package stats

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"medichat/features/run"
	"medichat/internal/apperr"
	"medichat/internal/middleware"
	"medichat/internal/respond"
	"medichat/internal/vector"
)

// RunCounter is the run ledger; nil when the ledger is disabled.
type RunCounter interface {
	Count(ctx context.Context) (int, error)
	CountByStatus(ctx context.Context, status run.Status) (int, error)
	ChunksIndexed(ctx context.Context) (int, error)
}

type IndexLister interface {
	ListIndexes(ctx context.Context) ([]vector.IndexInfo, error)
}

type Handler struct {
	runs    RunCounter
	indexes IndexLister
	counter vector.Counter
	logger  *slog.Logger
}

// NewHandler takes the vector store twice over: as a lister, and as a counter when the
// store supports counting (counter may be nil).
func NewHandler(runs RunCounter, indexes IndexLister, counter vector.Counter, logger *slog.Logger) *Handler {
	return &Handler{runs: runs, indexes: indexes, counter: counter, logger: logger}
}

type StatsResponse struct {
	Runs          int  `json:"runs"`
	FailedRuns    int  `json:"failedRuns"`
	ChunksIndexed int  `json:"chunksIndexed"`
	Indexes       int  `json:"indexes"`
	Vectors       *int `json:"vectors,omitempty"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	h.logger.InfoContext(ctx, "getting stats", "correlationId", correlationID)

	var resp StatsResponse
	if h.runs != nil {
		var err error
		if resp.Runs, err = h.runs.Count(ctx); err != nil {
			h.logger.ErrorContext(ctx, "failed to count runs", "error", err, "correlationId", correlationID)
			respond.Error(ctx, w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to count runs")
			return
		}
		if resp.FailedRuns, err = h.runs.CountByStatus(ctx, run.StatusFailed); err != nil {
			h.logger.ErrorContext(ctx, "failed to count failed runs", "error", err, "correlationId", correlationID)
			respond.Error(ctx, w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to count failed runs")
			return
		}
		if resp.ChunksIndexed, err = h.runs.ChunksIndexed(ctx); err != nil {
			h.logger.ErrorContext(ctx, "failed to sum indexed chunks", "error", err, "correlationId", correlationID)
			respond.Error(ctx, w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to sum indexed chunks")
			return
		}
	}

	infos, err := h.indexes.ListIndexes(ctx)
	if err != nil {
		h.storeFailure(ctx, "failed to list indexes", err)
		respond.Error(ctx, w, http.StatusBadGateway, "INDEX_UNAVAILABLE", "failed to list indexes")
		return
	}
	resp.Indexes = len(infos)

	if h.counter != nil {
		n, err := h.counter.Count(ctx)
		switch {
		case err == nil:
			resp.Vectors = &n
		case errors.Is(err, vector.ErrCountUnsupported):
		default:
			h.storeFailure(ctx, "failed to count vectors", err)
		}
	}

	respond.Data(ctx, w, http.StatusOK, resp)
}

// ListIndexes serves the index listing.
func (h *Handler) ListIndexes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	infos, err := h.indexes.ListIndexes(ctx)
	if err != nil {
		h.storeFailure(ctx, "failed to list indexes", err)
		respond.Error(ctx, w, http.StatusBadGateway, "INDEX_UNAVAILABLE", "failed to list indexes")
		return
	}
	if infos == nil {
		infos = []vector.IndexInfo{}
	}

	respond.Data(ctx, w, http.StatusOK, infos)
}

// storeFailure logs a vector store error unless the store already classified and logged it.
func (h *Handler) storeFailure(ctx context.Context, msg string, err error) {
	if apperr.KindOf(err) == nil {
		h.logger.ErrorContext(ctx, msg, "error", err, "correlationId", middleware.GetCorrelationID(ctx))
	}
}
