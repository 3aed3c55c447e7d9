package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nsqio/go-nsq"
	"medichat/internal/apperr"
	"medichat/internal/middleware"
	"medichat/internal/retry"
)

// RunExecutor runs a recorded ingestion run and keeps its ledger entry current.
type RunExecutor interface {
	ExecuteRun(ctx context.Context, runID, dir string) error
}

type IngestConsumer struct {
	executor    RunExecutor
	maxAttempts uint16
	timeout     time.Duration
	logger      *slog.Logger
}

// NewIngestConsumer handles ingest.run messages. A failed run is requeued by returning the
// error until the message has been attempted maxAttempts times; timeout bounds a single run
// (zero means no bound).
func NewIngestConsumer(e RunExecutor, maxAttempts uint16, timeout time.Duration, logger *slog.Logger) *IngestConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestConsumer{executor: e, maxAttempts: maxAttempts, timeout: timeout, logger: logger}
}

func (h *IngestConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload IngestRunPayload
	if err := json.Unmarshal(m.Body, &payload); err != nil {
		// Poison Pill: Invalid JSON, don't retry
		h.logger.Error("poison pill: invalid json", "error", err)
		return nil
	}
	if payload.RunID == "" || payload.Directory == "" {
		h.logger.Error("poison pill: run id and directory are required", "run_id", payload.RunID)
		return nil
	}

	ctx := context.Background()
	if payload.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, payload.CorrelationID)
	}
	ctx = middleware.WithRunID(ctx, payload.RunID)

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	start := time.Now()
	err := h.executor.ExecuteRun(ctx, payload.RunID, payload.Directory)
	if err == nil {
		h.logger.InfoContext(ctx, "run finished", "run_id", payload.RunID, "duration", time.Since(start))
		return nil
	}

	switch {
	case retry.IsPermanent(err):
		h.failed(ctx, "run failed permanently", err, "run_id", payload.RunID)
		return nil
	case h.maxAttempts > 0 && m.Attempts >= h.maxAttempts:
		h.failed(ctx, "run failed, attempts exhausted", err, "run_id", payload.RunID, "attempts", m.Attempts)
		return nil
	default:
		h.logger.WarnContext(ctx, "run failed, requeueing", append(cause(err), "run_id", payload.RunID, "attempts", m.Attempts)...)
		return err // Retry
	}
}

// failed records a final run outcome. Classified errors were logged at error level where
// they were classified, so only their kind is repeated here.
func (h *IngestConsumer) failed(ctx context.Context, msg string, err error, attrs ...any) {
	if apperr.KindOf(err) != nil {
		h.logger.WarnContext(ctx, msg, append(cause(err), attrs...)...)
		return
	}
	h.logger.ErrorContext(ctx, msg, append(cause(err), attrs...)...)
}

func cause(err error) []any {
	if k := apperr.KindOf(err); k != nil {
		return []any{"kind", k.Error()}
	}
	return []any{"error", err}
}
