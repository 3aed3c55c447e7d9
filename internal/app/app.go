package app

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/nsqio/go-nsq"
	"golang.org/x/sync/errgroup"
	featureingest "medichat/features/ingest"
	"medichat/features/query"
	"medichat/features/run"
	"medichat/features/stats"
	"medichat/internal/config"
	"medichat/internal/document"
	"medichat/internal/embedding"
	"medichat/internal/ingest"
	"medichat/internal/middleware"
	"medichat/internal/retrieval"
	"medichat/internal/retry"
	"medichat/internal/text"
	"medichat/internal/vector"
	"medichat/internal/watch"
	"medichat/internal/worker"
)

// TaskPublisher is satisfied by *nsq.Producer.
type TaskPublisher interface {
	Publish(topic string, body []byte) error
}

type App struct {
	Handler        http.Handler
	Pipeline       *ingest.Pipeline
	Retrieval      *retrieval.Service
	Ingest         *featureingest.Service
	IngestConsumer *worker.IngestConsumer

	cfg    *config.Config
	logger *slog.Logger
}

// NewPipeline builds the ingestion pipeline over the PDF folder source.
func NewPipeline(cfg *config.Config, store vector.Store, embedder embedding.Provider, logger *slog.Logger) (*ingest.Pipeline, error) {
	splitter, err := text.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap, text.WithBoundaries(cfg.ChunkPreferBoundaries))
	if err != nil {
		return nil, err
	}
	source := document.NewDirectorySource(document.PDFExtractor{}, cfg.IngestRecursive, logger)
	return ingest.New(source, splitter, embedder, store, IndexConfig(cfg),
		ingest.WithUpsertBatchSize(cfg.UpsertBatchSize),
		ingest.WithKeepEmptyDocuments(cfg.KeepEmptyDocuments),
		ingest.WithSourceRoot(cfg.DataDir),
		ingest.WithLogger(logger),
	), nil
}

// NewRetrieval builds the question-answering service.
func NewRetrieval(cfg *config.Config, store vector.Store, embedder embedding.Provider, llm retrieval.LLM, queryLog *retrieval.QueryLogger, logger *slog.Logger) *retrieval.Service {
	opts := []retrieval.Option{
		retrieval.WithTopK(cfg.RetrievalK, cfg.RetrievalMaxK),
		retrieval.WithDimension(cfg.EmbedDimension),
		retrieval.WithLLMRetry(retry.Policy{
			MaxAttempts:    cfg.LLMMaxAttempts,
			BaseDelay:      time.Second,
			MaxDelay:       10 * time.Second,
			AttemptTimeout: cfg.LLMTimeout,
		}),
		retrieval.WithLogger(logger),
	}
	if queryLog != nil {
		opts = append(opts, retrieval.WithQueryLogger(queryLog))
	}
	return retrieval.NewService(embedder, store, llm, opts...)
}

// New wires the HTTP features. db and pub may be nil: without db there is no run ledger,
// without pub no async ingestion or retries.
func New(cfg *config.Config, db *sql.DB, store vector.Store, embedder embedding.Provider, llm retrieval.LLM, pub TaskPublisher, queryLog *retrieval.QueryLogger, logger *slog.Logger) (*App, error) {
	pipeline, err := NewPipeline(cfg, store, embedder, logger)
	if err != nil {
		return nil, err
	}
	retrievalService := NewRetrieval(cfg, store, embedder, llm, queryLog, logger)

	// Feature: Runs
	var (
		ledger     featureingest.Ledger
		runCounter stats.RunCounter
		runHandler *run.Handler
	)
	if db != nil {
		runRepo := run.NewPostgresRepo(db)
		ledger = runRepo
		runCounter = runRepo
		runHandler = run.NewHandler(run.NewService(runRepo, pub, logger), logger)
	}

	// Feature: Ingest
	var ingestPub featureingest.EventPublisher
	if pub != nil {
		ingestPub = pub
	}
	ingestService := featureingest.NewService(pipeline, ledger, ingestPub, cfg.DataDir, logger)
	ingestHandler := featureingest.NewHandler(ingestService, cfg.UploadDir, cfg.MaxUploadSizeMB, logger)

	// Feature: Query
	queryHandler := query.NewHandler(retrievalService, logger)

	// Feature: Stats
	var counter vector.Counter
	if c, ok := store.(vector.Counter); ok {
		counter = c
	}
	statsHandler := stats.NewHandler(runCounter, store, counter, logger)

	// Routes
	withMiddleware := func(h http.HandlerFunc) http.Handler {
		return middleware.CorrelationID(logger)(middleware.CORS(h))
	}

	mux := http.NewServeMux()

	mux.Handle("POST /ingest", withMiddleware(ingestHandler.Ingest))
	mux.Handle("POST /ingest/upload", withMiddleware(ingestHandler.Upload))
	mux.Handle("POST /query", withMiddleware(queryHandler.Query))
	mux.Handle("GET /indexes", withMiddleware(statsHandler.ListIndexes))
	mux.Handle("GET /stats", withMiddleware(statsHandler.GetStats))

	if runHandler != nil {
		mux.Handle("GET /runs", withMiddleware(runHandler.List))
		mux.Handle("GET /runs/{id}", withMiddleware(runHandler.Get))
		mux.Handle("POST /runs/{id}/retry", withMiddleware(runHandler.Retry))
	}

	// Preflight for every route; CORS answers before the handler runs.
	mux.Handle("OPTIONS /", withMiddleware(func(w http.ResponseWriter, r *http.Request) {}))

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	a := &App{
		Handler:   mux,
		Pipeline:  pipeline,
		Retrieval: retrievalService,
		Ingest:    ingestService,
		cfg:       cfg,
		logger:    logger,
	}

	// Worker (Ingest Consumer)
	if cfg.EnableIngestWorker && ledger != nil {
		a.IngestConsumer = worker.NewIngestConsumer(ingestService, cfg.NSQMaxAttempts, 0, logger)
	}
	return a, nil
}

// Run serves HTTP until ctx is done, alongside the ingest worker and the folder watcher
// when they are enabled. The first component to fail stops the others.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:              a.cfg.ListenAddr(),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		a.logger.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown failed", "error", err)
			return err
		}
		return nil
	})

	if a.IngestConsumer != nil {
		g.Go(func() error { return a.runConsumer(ctx) })
	}

	if a.cfg.WatchDir != "" {
		w := watch.New(a.cfg.WatchDir, a.cfg.WatchDebounce, func(ctx context.Context, files []string) error {
			_, err := a.Ingest.IngestFiles(ctx, a.cfg.WatchDir, files, nil)
			return err
		}, a.logger)
		g.Go(func() error { return w.Run(ctx) })
	}

	return g.Wait()
}

func (a *App) runConsumer(ctx context.Context) error {
	nsqCfg := nsq.NewConfig()
	nsqCfg.MaxAttempts = a.cfg.NSQMaxAttempts

	consumer, err := nsq.NewConsumer(config.TopicIngestRun, config.ChannelIngestWorker, nsqCfg)
	if err != nil {
		return err
	}
	consumer.SetLogger(nsqLogger{logger: a.logger}, nsq.LogLevelWarning)
	consumer.AddHandler(a.IngestConsumer)

	if a.cfg.NSQLookupd != "" {
		err = consumer.ConnectToNSQLookupd(a.cfg.NSQLookupd)
	} else {
		err = consumer.ConnectToNSQD(a.cfg.NSQDHost)
	}
	if err != nil {
		return err
	}
	a.logger.Info("NSQ ingest consumer connected", "topic", config.TopicIngestRun)

	<-ctx.Done()
	consumer.Stop()
	<-consumer.StopChan
	return nil
}
