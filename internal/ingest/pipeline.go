// Package ingest turns a folder of PDFs into embedded, upserted chunk records.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"medichat/internal/apperr"
	"medichat/internal/document"
	"medichat/internal/embedding"
	"medichat/internal/text"
	"medichat/internal/vector"
)

// Source enumerates and extracts the files of one run.
type Source interface {
	Files(dir string) ([]string, error)
	Load(ctx context.Context, files []string, label func(string) string) document.LoadResult
}

type Result struct {
	Files     int                    `json:"files"`
	Documents int                    `json:"documents"`
	Chunks    int                    `json:"chunks"`
	Skipped   []document.FileFailure `json:"skipped"`
	IndexName string                 `json:"indexName"`
	Duration  time.Duration          `json:"duration"`
}

type Pipeline struct {
	source      Source
	splitter    *text.Splitter
	embedder    embedding.Provider
	store       vector.Store
	index       vector.IndexConfig
	upsertBatch int
	normalize   []document.NormalizeOption
	label       func(string) string
	logger      *slog.Logger
}

type Option func(*Pipeline)

func WithUpsertBatchSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.upsertBatch = n
		}
	}
}

// WithKeepEmptyDocuments keeps whitespace-only pages through normalization.
func WithKeepEmptyDocuments(keep bool) Option {
	return func(p *Pipeline) {
		if keep {
			p.normalize = append(p.normalize, document.WithKeepEmpty())
		}
	}
}

// WithSourceRoot records sources relative to root, so a file gets the same source and
// record ids however the folder was spelled.
func WithSourceRoot(root string) Option {
	return func(p *Pipeline) { p.label = SourceLabel(root) }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

func New(source Source, splitter *text.Splitter, embedder embedding.Provider, store vector.Store, index vector.IndexConfig, opts ...Option) *Pipeline {
	p := &Pipeline{
		source:      source,
		splitter:    splitter,
		embedder:    embedder,
		store:       store,
		index:       index,
		upsertBatch: 100,
		label:       SourceLabel(""),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) IndexName() string { return p.index.Name }

// Run ingests every PDF in dir. Files that cannot be extracted are skipped and reported
// in the result; any other stage failure aborts the run with an ingestion error.
func (p *Pipeline) Run(ctx context.Context, dir string) (*Result, error) {
	files, err := p.source.Files(dir)
	if err != nil {
		return nil, p.fail(ctx, "enumerate", dir, err)
	}
	if len(files) == 0 {
		p.logger.WarnContext(ctx, "no pdf files found", "directory", dir)
	}
	return p.RunFiles(ctx, files, nil)
}

// RunFiles ingests an explicit list of files. label, when set, maps each file path to the
// source recorded on its chunks; otherwise the source root decides.
func (p *Pipeline) RunFiles(ctx context.Context, files []string, label func(string) string) (*Result, error) {
	start := time.Now()
	if label == nil {
		label = p.label
	}
	res := &Result{IndexName: p.index.Name, Skipped: []document.FileFailure{}}

	loaded := p.source.Load(ctx, files, label)
	res.Files = loaded.Files
	res.Skipped = append(res.Skipped, loaded.Skipped...)
	if err := ctx.Err(); err != nil {
		return nil, p.fail(ctx, "extract", "", err)
	}

	docs := document.Normalize(loaded.Documents, p.normalize...)
	res.Documents = len(docs)
	chunks := p.splitter.Split(docs)

	p.logger.InfoContext(ctx, "documents split",
		"files", res.Files, "skipped", len(res.Skipped), "documents", res.Documents, "chunks", len(chunks))

	if err := p.store.EnsureIndex(ctx, p.index); err != nil {
		return nil, p.fail(ctx, "ensure_index", p.index.Name, err)
	}

	if len(chunks) == 0 {
		res.Duration = time.Since(start)
		p.logger.WarnContext(ctx, "no chunks to index", "files", res.Files)
		return res, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, p.fail(ctx, "embed", fmt.Sprintf("%d chunks", len(chunks)), err)
	}
	if len(vecs) != len(chunks) {
		return nil, p.fail(ctx, "embed", "", fmt.Errorf("embedder returned %d vectors for %d chunks", len(vecs), len(chunks)))
	}

	for lo := 0; lo < len(chunks); lo += p.upsertBatch {
		hi := min(lo+p.upsertBatch, len(chunks))
		records := make([]vector.Record, 0, hi-lo)
		for i := lo; i < hi; i++ {
			records = append(records, vector.Record{
				ID:       vector.RecordID(chunks[i].SourcePath, chunks[i].SequenceIndex),
				Vector:   vecs[i],
				Text:     chunks[i].Text,
				Metadata: map[string]any{document.MetadataSource: chunks[i].SourcePath},
			})
		}
		if err := p.store.Upsert(ctx, records); err != nil {
			return nil, p.fail(ctx, "upsert", fmt.Sprintf("records %d-%d", lo, hi-1), err)
		}
	}

	res.Chunks = len(chunks)
	res.Duration = time.Since(start)
	p.logger.InfoContext(ctx, "ingestion complete",
		"index", p.index.Name, "files", res.Files, "chunks", res.Chunks, "skipped", len(res.Skipped), "duration", res.Duration)
	return res, nil
}

// fail wraps a stage failure as an ingestion error. Causes that already carry a kind were
// logged by the embedder or store that classified them, so only unclassified causes are
// logged here.
func (p *Pipeline) fail(ctx context.Context, stage, subject string, cause error) error {
	err := apperr.Ingestion(stage, subject, cause)
	if apperr.KindOf(cause) == nil {
		p.logger.ErrorContext(ctx, "ingestion failed", "stage", stage, "index", p.index.Name, "error", err)
	}
	return err
}

// SourceLabel maps a file path to its source value: the root's base name joined with the
// path relative to root, in slash form. "/srv/data/a.pdf" and "data/a.pdf" both become
// "data/a.pdf" for root "data" run from /srv. Paths outside root, or any path when root
// is empty, are only cleaned.
func SourceLabel(root string) func(string) string {
	clean := func(path string) string { return filepath.ToSlash(filepath.Clean(path)) }
	if root == "" {
		return clean
	}
	base, err := filepath.Abs(root)
	if err != nil {
		return clean
	}
	prefix := filepath.Base(base)
	return func(path string) string {
		abs, err := filepath.Abs(path)
		if err != nil {
			return clean(path)
		}
		rel, err := filepath.Rel(base, abs)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return clean(path)
		}
		return filepath.ToSlash(filepath.Join(prefix, rel))
	}
}
