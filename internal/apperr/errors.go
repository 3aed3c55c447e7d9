// Package apperr defines the error kinds shared by the ingestion and query pipelines.
//
// Errors are wrapped once, at the stage boundary where they are detected. Callers classify
// them with errors.Is against the sentinel kinds below.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConfiguration = errors.New("configuration error")
	ErrExtraction    = errors.New("extraction error")
	ErrEmbedding     = errors.New("embedding error")
	ErrIndex         = errors.New("index error")
	ErrLLM           = errors.New("llm error")
	ErrIngestion     = errors.New("ingestion error")

	// ErrDimensionMismatch marks a vector whose length differs from the index dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// Error carries the failing stage and the subject it was working on (a file, a batch, an
// index name) alongside the cause.
type Error struct {
	Kind    error
	Stage   string
	Subject string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Stage != "" {
		b.WriteString(" [")
		b.WriteString(e.Stage)
		b.WriteString("]")
	}
	if e.Subject != "" {
		b.WriteString(" ")
		b.WriteString(e.Subject)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == e.Kind }

func wrap(kind error, stage, subject string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Subject: subject, Err: err}
}

func Configuration(stage, format string, args ...any) *Error {
	return wrap(ErrConfiguration, stage, "", fmt.Errorf(format, args...))
}

func Extraction(path string, err error) *Error {
	return wrap(ErrExtraction, "extract", path, err)
}

func Embedding(subject string, err error) *Error {
	return wrap(ErrEmbedding, "embed", subject, err)
}

func Index(stage, subject string, err error) *Error {
	return wrap(ErrIndex, stage, subject, err)
}

func LLM(err error) *Error {
	return wrap(ErrLLM, "complete", "", err)
}

// Ingestion wraps a stage failure of an ingestion run. The cause keeps its own kind, so
// errors.Is(err, ErrEmbedding) still matches through the wrapper.
func Ingestion(stage, subject string, err error) *Error {
	return wrap(ErrIngestion, stage, subject, err)
}

// KindOf returns the outermost known kind in err's chain, or nil.
func KindOf(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return nil
}
