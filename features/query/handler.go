package query

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"medichat/internal/apperr"
	"medichat/internal/respond"
	"medichat/internal/retrieval"
)

type Answerer interface {
	Answer(ctx context.Context, question string, topK int) (*retrieval.Answer, error)
}

type Handler struct {
	service Answerer
	logger  *slog.Logger
}

func NewHandler(s Answerer, logger *slog.Logger) *Handler {
	return &Handler{service: s, logger: logger}
}

type Request struct {
	Question string `json:"question"`
	TopK     int    `json:"topK"`
}

func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(ctx, w, http.StatusBadRequest, "BAD_REQUEST", "Invalid JSON")
		return
	}

	ans, err := h.service.Answer(ctx, req.Question, req.TopK)
	if err != nil {
		status, code := statusFor(err)
		msg := err.Error()
		if status >= http.StatusInternalServerError {
			msg = failureMessages[code]
		}
		// Classified failures were logged by the component that classified them.
		if apperr.KindOf(err) == nil {
			h.logger.ErrorContext(ctx, "query failed", "error", err)
		}
		respond.Error(ctx, w, status, code, msg)
		return
	}

	respond.Data(ctx, w, http.StatusOK, ans)
}

// Upstream failures never echo provider responses.
var failureMessages = map[string]string{
	"EMBEDDING_FAILED": "embedding service unavailable",
	"INDEX_FAILED":     "vector index unavailable",
	"LLM_FAILED":       "language model unavailable",
	"TIMEOUT":          "query timed out",
	"INTERNAL_ERROR":   "query failed",
}

func statusFor(err error) (int, string) {
	switch apperr.KindOf(err) {
	case apperr.ErrConfiguration:
		return http.StatusBadRequest, "INVALID_QUERY"
	case apperr.ErrEmbedding:
		return http.StatusBadGateway, "EMBEDDING_FAILED"
	case apperr.ErrIndex:
		return http.StatusBadGateway, "INDEX_FAILED"
	case apperr.ErrLLM:
		return http.StatusBadGateway, "LLM_FAILED"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, "TIMEOUT"
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}
