package run

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"medichat/internal/config"
	"medichat/internal/middleware"
	"medichat/internal/worker"
)

var (
	ErrNotRetryable     = errors.New("only failed runs can be retried")
	ErrQueueUnavailable = errors.New("ingestion queue is not configured")
)

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type Service struct {
	repo   Repository
	pub    EventPublisher
	logger *slog.Logger
}

func NewService(repo Repository, pub EventPublisher, logger *slog.Logger) *Service {
	return &Service{repo: repo, pub: pub, logger: logger}
}

func (s *Service) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.List(ctx, limit)
}

func (s *Service) Get(ctx context.Context, id string) (*Run, error) {
	return s.repo.Get(ctx, id)
}

// Retry puts a failed run back on the ingestion queue.
func (s *Service) Retry(ctx context.Context, id string) error {
	if s.pub == nil {
		return ErrQueueUnavailable
	}

	r, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if r.Status != StatusFailed {
		return ErrNotRetryable
	}

	if err := s.repo.Requeue(ctx, id); err != nil {
		return err
	}

	payload, err := json.Marshal(worker.IngestRunPayload{
		RunID:         r.ID,
		Directory:     r.Directory,
		CorrelationID: middleware.GetCorrelationID(ctx),
	})
	if err != nil {
		return err
	}
	if err := s.pub.Publish(config.TopicIngestRun, payload); err != nil {
		_ = s.repo.Fail(ctx, id, "requeue: "+err.Error())
		return err
	}

	s.logger.InfoContext(ctx, "run requeued", "run_id", id)
	return nil
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}

func (s *Service) CountByStatus(ctx context.Context, status Status) (int, error) {
	return s.repo.CountByStatus(ctx, status)
}
