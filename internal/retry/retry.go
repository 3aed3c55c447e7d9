// Package retry runs calls to external providers with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"medichat/internal/apperr"
)

type Policy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
}

// Do calls fn until it succeeds, returns a permanent error, or MaxAttempts is reached.
// Each attempt gets its own AttemptTimeout. The last error is returned unchanged.
func Do(ctx context.Context, p Policy, logger *slog.Logger, op string, fn func(ctx context.Context) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.BaseDelay
	if p.MaxDelay > 0 {
		eb.MaxInterval = p.MaxDelay
	}
	eb.MaxElapsedTime = 0
	bo := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(maxAttempts-1)), ctx)

	attempt := 0
	operation := func() error {
		attempt++
		actx := ctx
		if p.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
			defer cancel()
		}

		err := fn(actx)
		if err == nil {
			if attempt > 1 {
				logger.DebugContext(ctx, "operation succeeded after retry", "op", op, "attempt", attempt)
			}
			return nil
		}
		if ctx.Err() != nil || IsPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, next time.Duration) {
		logger.WarnContext(ctx, "operation failed, will retry", "op", op, "attempt", attempt, "max_attempts", maxAttempts, "delay", next, "error", err)
	}

	return backoff.RetryNotify(operation, bo, notify)
}

// StatusError carries the HTTP status of a failed provider call. Adapters whose client
// reports the status only in its message attach it with WithStatus.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string { return e.Err.Error() }

func (e *StatusError) Unwrap() error { return e.Err }

// WithStatus wraps err with an HTTP status code; a zero code returns err unchanged.
func WithStatus(code int, err error) error {
	if err == nil || code == 0 {
		return err
	}
	return &StatusError{Code: code, Err: err}
}

// httpCoder is implemented by gax apierror.APIError.
type httpCoder interface {
	HTTPCode() int
}

var permanentPhrases = []string{
	"invalid api key", "incorrect api key", "api key not valid", "unauthorized",
	"permission denied", "unauthenticated", "forbidden",
}

// IsPermanent reports errors that retrying cannot fix: cancellation, configuration or
// dimension errors, and authentication or request errors reported by a provider.
// Only typed statuses and the innermost cause are inspected; stage subjects added by
// apperr never influence the result.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, apperr.ErrConfiguration) || errors.Is(err, apperr.ErrDimensionMismatch) {
		return true
	}

	var se *StatusError
	if errors.As(err, &se) {
		return permanentStatus(se.Code)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return permanentStatus(gerr.Code)
	}
	var hc httpCoder
	if errors.As(err, &hc) && hc.HTTPCode() > 0 {
		return permanentStatus(hc.HTTPCode())
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unauthenticated, codes.PermissionDenied, codes.InvalidArgument:
			return true
		}
		return false
	}

	msg := strings.ToLower(innermost(err).Error())
	for _, p := range permanentPhrases {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func permanentStatus(code int) bool {
	switch code {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity:
		return true
	}
	return false
}

func innermost(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}
