package vector

import (
	"context"
	"log/slog"

	"medichat/internal/apperr"
	"medichat/internal/retry"
)

// Retrying bounds every call to the wrapped store with the policy's timeout and retries,
// and reports final failures as index errors. Each final failure is logged here once;
// callers pass it on without logging it again.
type Retrying struct {
	store  Store
	name   string
	policy retry.Policy
	logger *slog.Logger
}

func NewRetrying(s Store, indexName string, p retry.Policy, logger *slog.Logger) *Retrying {
	return &Retrying{store: s, name: indexName, policy: p, logger: logger}
}

func (r *Retrying) wrap(ctx context.Context, stage string, err error) error {
	if err == nil {
		return nil
	}
	if apperr.KindOf(err) == nil {
		err = apperr.Index(stage, r.name, err)
	}
	r.logger.ErrorContext(ctx, "vector store call failed", "op", stage, "index", r.name, "error", err)
	return err
}

func (r *Retrying) EnsureIndex(ctx context.Context, cfg IndexConfig) error {
	err := retry.Do(ctx, r.policy, r.logger, "ensure_index", func(ctx context.Context) error {
		return r.store.EnsureIndex(ctx, cfg)
	})
	return r.wrap(ctx, "ensure_index", err)
}

func (r *Retrying) Upsert(ctx context.Context, records []Record) error {
	err := retry.Do(ctx, r.policy, r.logger, "upsert", func(ctx context.Context) error {
		return r.store.Upsert(ctx, records)
	})
	return r.wrap(ctx, "upsert", err)
}

func (r *Retrying) Query(ctx context.Context, vec []float32, topK int) ([]Match, error) {
	var matches []Match
	err := retry.Do(ctx, r.policy, r.logger, "query", func(ctx context.Context) error {
		var err error
		matches, err = r.store.Query(ctx, vec, topK)
		return err
	})
	if err != nil {
		return nil, r.wrap(ctx, "query", err)
	}
	return matches, nil
}

func (r *Retrying) ListIndexes(ctx context.Context) ([]IndexInfo, error) {
	var infos []IndexInfo
	err := retry.Do(ctx, r.policy, r.logger, "list_indexes", func(ctx context.Context) error {
		var err error
		infos, err = r.store.ListIndexes(ctx)
		return err
	})
	if err != nil {
		return nil, r.wrap(ctx, "list_indexes", err)
	}
	return infos, nil
}

// Count reports the record count when the wrapped store supports it.
func (r *Retrying) Count(ctx context.Context) (int, error) {
	c, ok := r.store.(Counter)
	if !ok {
		return 0, ErrCountUnsupported
	}
	var n int
	err := retry.Do(ctx, r.policy, r.logger, "count", func(ctx context.Context) error {
		var err error
		n, err = c.Count(ctx)
		return err
	})
	if err != nil {
		return 0, r.wrap(ctx, "count", err)
	}
	return n, nil
}
