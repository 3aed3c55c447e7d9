// Package embedding batches, rate limits and retries calls to an embedding provider.
package embedding

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/time/rate"
	"medichat/internal/apperr"
	"medichat/internal/retry"
)

// Provider maps texts to vectors, one per text, in input order.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Batcher is a Provider that splits its input into batches, runs them on a worker pool,
// and checks every returned vector against the index dimension.
type Batcher struct {
	provider    Provider
	dimension   int
	batchSize   int
	concurrency int
	limiter     *rate.Limiter
	policy      retry.Policy
	logger      *slog.Logger
	pool        *ants.Pool
}

type Option func(*Batcher)

func WithBatchSize(n int) Option {
	return func(b *Batcher) {
		if n > 0 {
			b.batchSize = n
		}
	}
}

func WithConcurrency(n int) Option {
	return func(b *Batcher) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// WithRateLimit caps provider calls per second. rps <= 0 disables the limiter.
func WithRateLimit(rps float64, burst int) Option {
	return func(b *Batcher) {
		if rps <= 0 {
			b.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		b.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithRetry(p retry.Policy) Option {
	return func(b *Batcher) { b.policy = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(b *Batcher) { b.logger = l }
}

func NewBatcher(p Provider, dimension int, opts ...Option) (*Batcher, error) {
	if dimension <= 0 {
		return nil, apperr.Configuration("embed", "dimension must be positive, got %d", dimension)
	}
	b := &Batcher{
		provider:    p,
		dimension:   dimension,
		batchSize:   32,
		concurrency: 4,
		policy:      retry.Policy{MaxAttempts: 3},
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(b)
	}

	pool, err := ants.NewPool(b.concurrency)
	if err != nil {
		return nil, fmt.Errorf("embedding pool: %w", err)
	}
	b.pool = pool
	return b, nil
}

func (b *Batcher) Dimension() int { return b.dimension }

// Release stops the worker pool. The Batcher must not be used afterwards.
func (b *Batcher) Release() {
	b.pool.Release()
}

// Embed returns one vector per text. The first failing batch cancels the rest and its
// error is returned as an embedding error (or a configuration error on dimension mismatch).
func (b *Batcher) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make([][]float32, len(texts))
	total := (len(texts) + b.batchSize - 1) / b.batchSize

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for i := 0; i < total; i++ {
		lo := i * b.batchSize
		hi := min(lo+b.batchSize, len(texts))
		subject := fmt.Sprintf("batch %d/%d", i+1, total)

		wg.Add(1)
		err := b.pool.Submit(func() {
			defer wg.Done()
			if err := ctx.Err(); err != nil {
				// Cancelled before this batch started; fail is a no-op after a batch error.
				fail(wrap(subject, err))
				return
			}
			vecs, err := b.embedBatch(ctx, texts[lo:hi])
			if err != nil {
				fail(wrap(subject, err))
				return
			}
			copy(out[lo:hi], vecs)
		})
		if err != nil {
			wg.Done()
			fail(wrap(subject, err))
			break
		}
	}
	wg.Wait()

	if firstErr == nil {
		if err := ctx.Err(); err != nil {
			firstErr = apperr.Embedding(fmt.Sprintf("%d batches", total), err)
		}
	}
	if firstErr != nil {
		b.logger.ErrorContext(ctx, "embedding failed", "texts", len(texts), "batches", total, "error", firstErr)
		return nil, firstErr
	}
	return out, nil
}

func (b *Batcher) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	var vecs [][]float32
	err := retry.Do(ctx, b.policy, b.logger, "embed", func(ctx context.Context) error {
		if b.limiter != nil {
			if err := b.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		var err error
		vecs, err = b.provider.Embed(ctx, batch)
		return err
	})
	if err != nil {
		return nil, err
	}

	if len(vecs) != len(batch) {
		return nil, fmt.Errorf("provider returned %d vectors for %d texts", len(vecs), len(batch))
	}
	for _, v := range vecs {
		if len(v) != b.dimension {
			return nil, apperr.Configuration("embed", "provider returned %d-dimensional vectors, index expects %d", len(v), b.dimension)
		}
	}
	return vecs, nil
}

func wrap(subject string, err error) error {
	if apperr.KindOf(err) == apperr.ErrConfiguration {
		return err
	}
	return apperr.Embedding(subject, err)
}
