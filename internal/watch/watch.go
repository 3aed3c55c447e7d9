// Package watch re-runs ingestion when PDFs appear or change in a folder.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"medichat/internal/apperr"
)

// Handler receives the PDFs that changed during one quiet period, sorted.
type Handler func(ctx context.Context, files []string) error

type Watcher struct {
	dir      string
	debounce time.Duration
	handle   Handler
	logger   *slog.Logger
}

func New(dir string, debounce time.Duration, handle Handler, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Watcher{dir: dir, debounce: debounce, handle: handle, logger: logger.With("component", "watch")}
}

// Run blocks until ctx is done. Handler errors are logged; the watch continues.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.logger.InfoContext(ctx, "watching folder", "dir", w.dir, "debounce", w.debounce)

	pending := map[string]struct{}{}
	timer := time.NewTimer(w.debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !relevant(ev) {
				continue
			}
			w.logger.DebugContext(ctx, "file changed", "path", ev.Name, "op", ev.Op.String())
			pending[ev.Name] = struct{}{}
			timer.Reset(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.WarnContext(ctx, "watch error", "error", err)

		case <-timer.C:
			files := make([]string, 0, len(pending))
			for f := range pending {
				files = append(files, f)
			}
			clear(pending)
			sort.Strings(files)

			w.flush(ctx, files)
		}
	}
}

func (w *Watcher) flush(ctx context.Context, files []string) {
	w.logger.InfoContext(ctx, "re-ingesting changed files", "count", len(files))
	err := w.handle(ctx, files)
	switch {
	case err == nil:
	case apperr.KindOf(err) != nil:
		// The failing stage logged the cause.
		w.logger.WarnContext(ctx, "re-ingest failed", "kind", apperr.KindOf(err).Error())
	default:
		w.logger.ErrorContext(ctx, "re-ingest failed", "error", err)
	}
}

func relevant(ev fsnotify.Event) bool {
	if !strings.EqualFold(filepath.Ext(ev.Name), ".pdf") {
		return false
	}
	return ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write)
}
