package cli

import (
	"context"
	"log/slog"
	"os"

	"medichat/internal/app"
	"medichat/internal/config"
	"medichat/internal/logger"
	"medichat/internal/vector"
	"medichat/internal/watch"
)

// DefaultBuilder loads the environment configuration and connects what cmd needs.
func DefaultBuilder(ctx context.Context, cmd Command, o Overrides) (*Runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if o.IndexName != "" {
		cfg.IndexName = o.IndexName
	}
	if o.DataDir != "" {
		cfg.DataDir = o.DataDir
	}
	// The CLI runs without the ledger unless it serves.
	if cmd != CommandServe {
		cfg.RunLedgerEnabled = false
	}

	log := logger.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)
	log.Info("configuration loaded", "command", string(cmd), "config", cfg)

	rt := &Runtime{DataDir: cfg.DataDir, Logger: log}

	if cmd == CommandIndexes {
		store, err := app.NewVectorStore(cfg, log)
		if err != nil {
			return nil, err
		}
		rt.Indexes = vector.NewRetrying(store, cfg.IndexName, app.IndexPolicy(cfg), log)
		if c, ok := store.(interface{ Close() error }); ok {
			rt.Close = c.Close
		}
		return rt, nil
	}

	needs := app.Needs{}
	switch cmd {
	case CommandServe:
		needs = app.Needs{Ledger: true, Queue: true, LLM: true, QueryLog: true}
	case CommandAsk:
		needs = app.Needs{LLM: true, QueryLog: true}
	}

	deps, err := app.Bootstrap(ctx, cfg, needs, log)
	if err != nil {
		return nil, err
	}
	rt.Close = deps.Close

	switch cmd {
	case CommandIngest:
		pipeline, err := app.NewPipeline(cfg, deps.Store, deps.Embedder, log)
		if err != nil {
			_ = deps.Close()
			return nil, err
		}
		rt.Ingester = pipeline
		rt.Watch = func(dir string, handle watch.Handler) *watch.Watcher {
			return watch.New(dir, cfg.WatchDebounce, handle, log)
		}

	case CommandAsk:
		rt.Answerer = app.NewRetrieval(cfg, deps.Store, deps.Embedder, deps.LLM, deps.QueryLog, log)

	case CommandServe:
		a, err := app.New(cfg, deps.DB, deps.Store, deps.Embedder, deps.LLM, deps.Publisher, deps.QueryLog, log)
		if err != nil {
			_ = deps.Close()
			return nil, err
		}
		rt.Serve = a.Run
	}
	return rt, nil
}
