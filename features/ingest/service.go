package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"medichat/features/run"
	"medichat/internal/config"
	"medichat/internal/document"
	"medichat/internal/ingest"
	"medichat/internal/middleware"
	"medichat/internal/worker"
)

var (
	ErrQueueUnavailable = errors.New("async ingestion needs the run ledger and a queue")
	ErrOutsideDataDir   = errors.New("directory must be inside the data directory")
)

// Runner is the ingestion pipeline.
type Runner interface {
	Run(ctx context.Context, dir string) (*ingest.Result, error)
	RunFiles(ctx context.Context, files []string, label func(string) string) (*ingest.Result, error)
	IndexName() string
}

// Ledger records run state. It is nil when the ledger is disabled.
type Ledger interface {
	Create(ctx context.Context, r *run.Run) error
	Start(ctx context.Context, id string) error
	Complete(ctx context.Context, id string, files, chunks int, skipped []document.FileFailure) error
	Fail(ctx context.Context, id, reason string) error
}

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

// Outcome is a finished run: the ledger id (empty without a ledger) and the pipeline result.
type Outcome struct {
	RunID string `json:"runId,omitempty"`
	*ingest.Result
}

type Service struct {
	pipeline Runner
	ledger   Ledger
	pub      EventPublisher
	dataDir  string
	logger   *slog.Logger
}

func NewService(p Runner, ledger Ledger, pub EventPublisher, dataDir string, logger *slog.Logger) *Service {
	return &Service{pipeline: p, ledger: ledger, pub: pub, dataDir: dataDir, logger: logger}
}

// ResolveDir maps a requested directory onto the data directory. Empty means the data
// directory itself; relative paths are taken relative to it; nothing may escape it.
func (s *Service) ResolveDir(dir string) (string, error) {
	base := filepath.Clean(s.dataDir)
	if dir == "" {
		return base, nil
	}

	target := filepath.Clean(dir)
	if !filepath.IsAbs(target) && !strings.HasPrefix(target, base+string(filepath.Separator)) && target != base {
		target = filepath.Join(base, target)
	}

	rel, err := filepath.Rel(base, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideDataDir, dir)
	}
	return target, nil
}

// Ingest runs the pipeline synchronously on dir and records the run.
func (s *Service) Ingest(ctx context.Context, dir string) (*Outcome, error) {
	resolved, err := s.ResolveDir(dir)
	if err != nil {
		return nil, err
	}

	var runID string
	if s.ledger != nil {
		r := &run.Run{Directory: resolved, IndexName: s.pipeline.IndexName(), Status: run.StatusPending}
		if err := s.ledger.Create(ctx, r); err != nil {
			return nil, fmt.Errorf("record run: %w", err)
		}
		runID = r.ID
	}

	return s.Execute(ctx, runID, resolved)
}

// Execute runs the pipeline for an existing ledger entry (runID may be empty).
func (s *Service) Execute(ctx context.Context, runID, dir string) (*Outcome, error) {
	return s.track(ctx, runID, func(ctx context.Context) (*ingest.Result, error) {
		return s.pipeline.Run(ctx, dir)
	})
}

// IngestFiles indexes stored uploads; label maps each stored path to its source value.
func (s *Service) IngestFiles(ctx context.Context, dir string, files []string, label func(string) string) (*Outcome, error) {
	var runID string
	if s.ledger != nil {
		r := &run.Run{Directory: dir, IndexName: s.pipeline.IndexName(), Status: run.StatusPending}
		if err := s.ledger.Create(ctx, r); err != nil {
			return nil, fmt.Errorf("record run: %w", err)
		}
		runID = r.ID
	}
	return s.track(ctx, runID, func(ctx context.Context) (*ingest.Result, error) {
		return s.pipeline.RunFiles(ctx, files, label)
	})
}

func (s *Service) track(ctx context.Context, runID string, fn func(ctx context.Context) (*ingest.Result, error)) (*Outcome, error) {
	if runID != "" {
		ctx = middleware.WithRunID(ctx, runID)
		if err := s.ledger.Start(ctx, runID); err != nil {
			s.logger.WarnContext(ctx, "failed to mark run running", "error", err)
		}
	}

	res, err := fn(ctx)
	if err != nil {
		if runID != "" {
			if ferr := s.ledger.Fail(context.WithoutCancel(ctx), runID, err.Error()); ferr != nil {
				s.logger.WarnContext(ctx, "failed to mark run failed", "error", ferr)
			}
		}
		return nil, err
	}

	if runID != "" {
		if cerr := s.ledger.Complete(ctx, runID, res.Files, res.Chunks, res.Skipped); cerr != nil {
			s.logger.WarnContext(ctx, "failed to mark run succeeded", "error", cerr)
		}
	}
	return &Outcome{RunID: runID, Result: res}, nil
}

// Enqueue records a pending run and publishes it for a worker.
func (s *Service) Enqueue(ctx context.Context, dir string) (string, error) {
	if s.ledger == nil || s.pub == nil {
		return "", ErrQueueUnavailable
	}
	resolved, err := s.ResolveDir(dir)
	if err != nil {
		return "", err
	}

	r := &run.Run{Directory: resolved, IndexName: s.pipeline.IndexName(), Status: run.StatusPending}
	if err := s.ledger.Create(ctx, r); err != nil {
		return "", fmt.Errorf("record run: %w", err)
	}

	payload, err := json.Marshal(worker.IngestRunPayload{
		RunID:         r.ID,
		Directory:     resolved,
		CorrelationID: middleware.GetCorrelationID(ctx),
	})
	if err != nil {
		return "", err
	}
	if err := s.pub.Publish(config.TopicIngestRun, payload); err != nil {
		_ = s.ledger.Fail(ctx, r.ID, "enqueue: "+err.Error())
		return "", fmt.Errorf("publish run: %w", err)
	}

	s.logger.InfoContext(ctx, "run queued", "run_id", r.ID, "directory", resolved)
	return r.ID, nil
}

// ExecuteRun runs a queued ledger entry; the worker only needs the error.
func (s *Service) ExecuteRun(ctx context.Context, runID, dir string) error {
	_, err := s.Execute(ctx, runID, dir)
	return err
}
