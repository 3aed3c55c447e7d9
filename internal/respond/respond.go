// Package respond writes the JSON envelopes shared by every HTTP handler:
// {"data": ...} on success and {"error": {"code","message"}, "correlationId"} on failure.
package respond

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"medichat/internal/middleware"
)

type errorBody struct {
	Error         errorDetail `json:"error"`
	CorrelationID string      `json:"correlationId"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type dataBody struct {
	Data any            `json:"data"`
	Meta map[string]int `json:"meta,omitempty"`
}

// Data writes {"data": v} with the given status.
func Data(ctx context.Context, w http.ResponseWriter, status int, v any) {
	write(ctx, w, status, dataBody{Data: v})
}

// List writes {"data": items, "meta": {"count": n}}.
func List(ctx context.Context, w http.ResponseWriter, items any, n int) {
	write(ctx, w, http.StatusOK, dataBody{Data: items, Meta: map[string]int{"count": n}})
}

func Error(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	write(ctx, w, status, errorBody{
		Error:         errorDetail{Code: code, Message: message},
		CorrelationID: middleware.GetCorrelationID(ctx),
	})
}

func write(ctx context.Context, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}
