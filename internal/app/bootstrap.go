package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"medichat/internal/adapter/gemini"
	"medichat/internal/adapter/openai"
	"medichat/internal/adapter/pinecone"
	wstore "medichat/internal/adapter/weaviate"
	"medichat/internal/apperr"
	"medichat/internal/config"
	"medichat/internal/embedcache"
	"medichat/internal/embedding"
	"medichat/internal/retrieval"
	"medichat/internal/retry"
	"medichat/internal/vector"
)

// Dependencies are the external clients a process needs. Fields are nil when the
// corresponding feature is not requested.
type Dependencies struct {
	DB        *sql.DB
	Store     vector.Store
	Embedder  *embedding.Batcher
	LLM       retrieval.LLM
	Publisher TaskPublisher
	QueryLog  *retrieval.QueryLogger

	closers []func() error
}

// Needs selects what Bootstrap connects to. The vector store and embedder are always built.
type Needs struct {
	Ledger   bool
	Queue    bool
	LLM      bool
	QueryLog bool
}

func (d *Dependencies) onClose(fn func() error) {
	d.closers = append(d.closers, fn)
}

// Close releases everything Bootstrap opened, in reverse order.
func (d *Dependencies) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

func Bootstrap(ctx context.Context, cfg *config.Config, needs Needs, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{}
	fail := func(err error) (*Dependencies, error) {
		_ = deps.Close()
		return nil, err
	}

	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second

	// Database
	if needs.Ledger && cfg.RunLedgerEnabled {
		db, err := OpenLedger(ctx, cfg, logger)
		if err != nil {
			return fail(err)
		}
		deps.DB = db
		deps.onClose(db.Close)
	}

	// Vector store
	store, err := NewVectorStore(cfg, logger)
	if err != nil {
		return fail(err)
	}
	if c, ok := store.(interface{ Close() error }); ok {
		deps.onClose(c.Close)
	}
	deps.Store = vector.NewRetrying(store, cfg.IndexName, IndexPolicy(cfg), logger)

	if err := EnsureIndexWithRetry(ctx, deps.Store, IndexConfig(cfg), cfg.BootstrapRetryAttempts, retryDelay, logger); err != nil {
		return fail(fmt.Errorf("vector index error: %w", err))
	}

	// Embeddings
	embedder, err := NewEmbedder(ctx, cfg, logger, deps.onClose)
	if err != nil {
		return fail(err)
	}
	deps.Embedder = embedder

	if needs.LLM {
		llm, err := openai.NewChatModel(openai.Config{APIKey: cfg.OpenAIAPIKey, BaseURL: cfg.LLMBaseURL, Model: cfg.LLMModel}, logger)
		if err != nil {
			return fail(err)
		}
		deps.LLM = llm
	}

	if needs.QueryLog {
		ql, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath, logger)
		if err != nil {
			logger.Warn("failed to open query log, query logging disabled", "error", err, "path", cfg.QueryLogPath)
		} else {
			deps.QueryLog = ql
			deps.onClose(ql.Close)
		}
	}

	// NSQ Producer
	if needs.Queue && deps.DB != nil {
		producer, err := nsq.NewProducer(cfg.NSQDHost, nsq.NewConfig())
		if err != nil {
			return fail(fmt.Errorf("nsq producer error: %w", err))
		}
		producer.SetLogger(nsqLogger{logger: logger}, nsq.LogLevelWarning)
		deps.Publisher = producer
		deps.onClose(func() error { producer.Stop(); return nil })

		createTopics(cfg.NSQDHTTP, logger)
	}

	return deps, nil
}

// OpenLedger connects to the run ledger database, retrying while it starts, and applies
// the migrations.
func OpenLedger(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	// Retry loop
	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second
	for i := 0; i < cfg.BootstrapRetryAttempts; i++ {
		if err := db.PingContext(ctx); err == nil {
			break
		}
		logger.Warn("failed to ping db, retrying...", "attempt", i+1, "max_attempts", cfg.BootstrapRetryAttempts)
		time.Sleep(retryDelay)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	// Migrations
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(cfg.MigrationPath, "postgres", driver)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		_ = db.Close()
		return nil, fmt.Errorf("migration up error: %w", err)
	}
	logger.Info("migrations applied successfully")
	return db, nil
}

// IndexConfig is the vector index described by cfg.
func IndexConfig(cfg *config.Config) vector.IndexConfig {
	return vector.IndexConfig{
		Name:      cfg.IndexName,
		Dimension: cfg.EmbedDimension,
		Metric:    vector.Metric(cfg.SimilarityMetric),
		Cloud:     cfg.PineconeCloud,
		Region:    cfg.PineconeRegion,
	}
}

// IndexPolicy is the retry policy for vector store calls.
func IndexPolicy(cfg *config.Config) retry.Policy {
	return retry.Policy{
		MaxAttempts:    cfg.IndexMaxAttempts,
		BaseDelay:      500 * time.Millisecond,
		MaxDelay:       10 * time.Second,
		AttemptTimeout: cfg.IndexTimeout,
	}
}

// NewVectorStore builds the store selected by VECTOR_STORE, without retries.
func NewVectorStore(cfg *config.Config, logger *slog.Logger) (vector.Store, error) {
	switch cfg.VectorStore {
	case config.VectorStorePinecone:
		store, err := pinecone.New(cfg.PineconeAPIKey, IndexConfig(cfg), logger,
			pinecone.WithReadyTimeout(cfg.IndexReadyTimeout),
			pinecone.WithNamespace(cfg.PineconeNamespace),
		)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.VectorStoreWeaviate:
		client, err := weaviate.NewClient(weaviate.Config{Host: cfg.WeaviateHost, Scheme: cfg.WeaviateScheme})
		if err != nil {
			return nil, fmt.Errorf("weaviate client error: %w", err)
		}
		return wstore.NewStore(client, IndexConfig(cfg)), nil
	default:
		return nil, apperr.Configuration("config", "unknown VECTOR_STORE %q", cfg.VectorStore)
	}
}

// NewEmbedder builds provider, optional cache and batcher. Resources are handed to onClose.
func NewEmbedder(ctx context.Context, cfg *config.Config, logger *slog.Logger, onClose func(func() error)) (*embedding.Batcher, error) {
	var provider embedding.Provider
	switch cfg.EmbeddingProvider {
	case config.EmbeddingProviderGemini:
		g, err := gemini.NewEmbedder(ctx, cfg.GeminiAPIKey, cfg.EmbeddingModel, logger)
		if err != nil {
			return nil, apperr.Configuration("embed", "gemini client: %w", err)
		}
		onClose(g.Close)
		provider = g
	default:
		o, err := openai.NewEmbedder(openai.Config{APIKey: cfg.OpenAIAPIKey, BaseURL: cfg.EmbeddingBaseURL, Model: cfg.EmbeddingModel}, logger)
		if err != nil {
			return nil, err
		}
		provider = o
	}

	if cfg.EmbedCacheDir != "" {
		cache, err := embedcache.Open(cfg.EmbedCacheDir, cfg.EmbeddingModel, provider, logger)
		if err != nil {
			return nil, err
		}
		onClose(cache.Close)
		provider = cache
	}

	b, err := embedding.NewBatcher(provider, cfg.EmbedDimension,
		embedding.WithBatchSize(cfg.EmbedBatchSize),
		embedding.WithConcurrency(cfg.EmbedConcurrency),
		embedding.WithRateLimit(cfg.EmbedRPS, cfg.EmbedBurst),
		embedding.WithRetry(retry.Policy{
			MaxAttempts:    cfg.EmbedMaxAttempts,
			BaseDelay:      cfg.EmbedRetryBaseDelay,
			MaxDelay:       30 * time.Second,
			AttemptTimeout: cfg.EmbedTimeout,
		}),
		embedding.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	onClose(func() error { b.Release(); return nil })
	return b, nil
}

// EnsureIndexWithRetry waits for the vector index while its service starts. Configuration
// errors (a dimension or metric mismatch) fail at once.
func EnsureIndexWithRetry(ctx context.Context, store vector.Store, cfg vector.IndexConfig, attempts int, delay time.Duration, logger *slog.Logger) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = store.EnsureIndex(ctx, cfg); err == nil {
			logger.Info("vector index ready", "index", cfg.Name, "dimension", cfg.Dimension, "metric", cfg.Metric)
			return nil
		}
		if retry.IsPermanent(err) {
			return err
		}
		if i < attempts-1 {
			logger.Warn("failed to ensure vector index, retrying...", "attempt", i+1, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return err
}

func createTopics(nsqdHTTP string, logger *slog.Logger) {
	create := func(topic string) {
		url := fmt.Sprintf("http://%s/topic/create?topic=%s", nsqdHTTP, topic)
		resp, err := http.Post(url, "application/json", nil) // #nosec G107 -- URL is built from internal NSQ config, not user input
		if err != nil {
			logger.Warn("failed to create NSQ topic", "topic", topic, "error", err)
			return
		}
		if closeErr := resp.Body.Close(); closeErr != nil {
			logger.Warn("failed to close NSQ topic creation response body", "error", closeErr)
		}
	}

	go func() {
		time.Sleep(2 * time.Second)
		create(config.TopicIngestRun)
	}()
}

// nsqLogger routes go-nsq's printf logging into slog.
type nsqLogger struct {
	logger *slog.Logger
}

func (l nsqLogger) Output(calldepth int, s string) error {
	l.logger.Info(s, "component", "nsq")
	return nil
}
