// Package pinecone implements the vector store on a Pinecone serverless index.
package pinecone

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pinecone-io/go-pinecone/v4/pinecone"
	"google.golang.org/protobuf/types/known/structpb"
	"medichat/internal/apperr"
	"medichat/internal/vector"
)

// ControlPlane is the subset of *pinecone.Client used to manage indexes.
type ControlPlane interface {
	ListIndexes(ctx context.Context) ([]*pinecone.Index, error)
	DescribeIndex(ctx context.Context, idxName string) (*pinecone.Index, error)
	CreateServerlessIndex(ctx context.Context, in *pinecone.CreateServerlessIndexRequest) (*pinecone.Index, error)
}

// IndexConn is the subset of *pinecone.IndexConnection used for data operations.
type IndexConn interface {
	UpsertVectors(ctx context.Context, in []*pinecone.Vector) (uint32, error)
	QueryByVectorValues(ctx context.Context, in *pinecone.QueryByVectorValuesRequest) (*pinecone.QueryVectorsResponse, error)
	DescribeIndexStats(ctx context.Context) (*pinecone.DescribeIndexStatsResponse, error)
	Close() error
}

// Connector opens a data-plane connection to the index served at host.
type Connector func(host string) (IndexConn, error)

type Option func(*Store)

func WithReadyTimeout(d time.Duration) Option {
	return func(s *Store) { s.readyTimeout = d }
}

func WithPollInterval(d time.Duration) Option {
	return func(s *Store) { s.pollInterval = d }
}

func WithNamespace(ns string) Option {
	return func(s *Store) { s.namespace = ns }
}

type Store struct {
	control      ControlPlane
	connect      Connector
	cfg          vector.IndexConfig
	namespace    string
	readyTimeout time.Duration
	pollInterval time.Duration
	logger       *slog.Logger

	mu   sync.Mutex
	host string
	conn IndexConn
}

// New connects to Pinecone with an API key.
func New(apiKey string, cfg vector.IndexConfig, logger *slog.Logger, opts ...Option) (*Store, error) {
	pc, err := pinecone.NewClient(pinecone.NewClientParams{ApiKey: apiKey})
	if err != nil {
		return nil, apperr.Configuration("pinecone", "create client: %w", err)
	}

	s := NewWithClients(pc, nil, cfg, logger, opts...)
	s.connect = func(host string) (IndexConn, error) {
		conn, err := pc.Index(pinecone.NewIndexConnParams{Host: host, Namespace: s.namespace})
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
	return s, nil
}

// NewWithClients builds a store on explicit control and data plane clients.
func NewWithClients(control ControlPlane, connect Connector, cfg vector.IndexConfig, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		control:      control,
		connect:      connect,
		cfg:          cfg,
		readyTimeout: 30 * time.Second,
		pollInterval: time.Second,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureIndex creates the serverless index if it is absent and waits until it is ready.
// An existing index with another dimension or metric is a configuration error, and so is
// a cfg other than the one the store was built with.
func (s *Store) EnsureIndex(ctx context.Context, cfg vector.IndexConfig) error {
	if err := s.cfg.CheckBound(cfg); err != nil {
		return err
	}
	cfg = s.cfg

	indexes, err := s.control.ListIndexes(ctx)
	if err != nil {
		return err
	}

	var existing *pinecone.Index
	for _, idx := range indexes {
		if idx != nil && idx.Name == cfg.Name {
			existing = idx
			break
		}
	}

	if existing != nil {
		if existing.Dimension != nil && int(*existing.Dimension) != cfg.Dimension {
			return apperr.Configuration("ensure_index", "%w: index %s has dimension %d, configured %d",
				apperr.ErrDimensionMismatch, cfg.Name, *existing.Dimension, cfg.Dimension)
		}
		if existing.Metric != "" && string(existing.Metric) != string(cfg.Metric) {
			return apperr.Configuration("ensure_index", "index %s uses metric %s, configured %s", cfg.Name, existing.Metric, cfg.Metric)
		}
		s.logger.DebugContext(ctx, "index exists", "index", cfg.Name)
	} else {
		dim := int32(cfg.Dimension)
		metric := pinecone.IndexMetric(cfg.Metric)
		_, err := s.control.CreateServerlessIndex(ctx, &pinecone.CreateServerlessIndexRequest{
			Name:      cfg.Name,
			Dimension: &dim,
			Metric:    &metric,
			Cloud:     pinecone.Cloud(cfg.Cloud),
			Region:    cfg.Region,
		})
		switch {
		case err == nil:
			s.logger.InfoContext(ctx, "index created", "index", cfg.Name, "dimension", cfg.Dimension, "metric", cfg.Metric)
		case alreadyExists(err):
			s.logger.InfoContext(ctx, "index created concurrently", "index", cfg.Name)
		default:
			return err
		}
	}

	idx, err := s.waitReady(ctx, cfg.Name, existing)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.host != idx.Host && s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.host = idx.Host
	return nil
}

func alreadyExists(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "409")
}

func (s *Store) waitReady(ctx context.Context, name string, idx *pinecone.Index) (*pinecone.Index, error) {
	if idx != nil && idx.Status != nil && idx.Status.Ready {
		return idx, nil
	}

	deadline := time.Now().Add(s.readyTimeout)
	for {
		idx, err := s.control.DescribeIndex(ctx, name)
		if err != nil {
			return nil, err
		}
		if idx.Status != nil && idx.Status.Ready {
			return idx, nil
		}
		if time.Now().After(deadline) {
			return nil, apperr.Index("ensure_index", name, fmt.Errorf("index not ready after %s", s.readyTimeout))
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}
}

func (s *Store) index(ctx context.Context) (IndexConn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return s.conn, nil
	}
	if s.host == "" {
		idx, err := s.control.DescribeIndex(ctx, s.cfg.Name)
		if err != nil {
			return nil, err
		}
		s.host = idx.Host
	}
	conn, err := s.connect(s.host)
	if err != nil {
		return nil, err
	}
	s.conn = conn
	return conn, nil
}

func (s *Store) Upsert(ctx context.Context, records []vector.Record) error {
	if len(records) == 0 {
		return nil
	}

	vectors := make([]*pinecone.Vector, 0, len(records))
	for _, rec := range records {
		if err := vector.CheckDimension("upsert", rec.Vector, s.cfg.Dimension); err != nil {
			return err
		}
		fields := make(map[string]interface{}, len(rec.Metadata)+1)
		for k, v := range rec.Metadata {
			fields[k] = v
		}
		fields[vector.MetadataText] = rec.Text
		md, err := structpb.NewStruct(fields)
		if err != nil {
			return apperr.Index("upsert", rec.ID, fmt.Errorf("metadata: %w", err))
		}
		values := rec.Vector
		vectors = append(vectors, &pinecone.Vector{Id: rec.ID, Values: &values, Metadata: md})
	}

	conn, err := s.index(ctx)
	if err != nil {
		return err
	}
	n, err := conn.UpsertVectors(ctx, vectors)
	if err != nil {
		return err
	}
	if int(n) != len(vectors) {
		return fmt.Errorf("upserted %d of %d vectors", n, len(vectors))
	}
	return nil
}

func (s *Store) Query(ctx context.Context, vec []float32, topK int) ([]vector.Match, error) {
	if err := vector.CheckDimension("query", vec, s.cfg.Dimension); err != nil {
		return nil, err
	}

	conn, err := s.index(ctx)
	if err != nil {
		return nil, err
	}
	res, err := conn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          vec,
		TopK:            uint32(topK),
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, err
	}

	matches := make([]vector.Match, 0, len(res.Matches))
	for _, m := range res.Matches {
		if m == nil || m.Vector == nil {
			continue
		}
		match := vector.Match{ID: m.Vector.Id, Score: m.Score, Metadata: map[string]interface{}{}}
		if m.Vector.Metadata != nil {
			for k, v := range m.Vector.Metadata.AsMap() {
				if k == vector.MetadataText {
					match.Text, _ = v.(string)
					continue
				}
				match.Metadata[k] = v
			}
		}
		matches = append(matches, match)
	}
	return matches, nil
}

func (s *Store) ListIndexes(ctx context.Context) ([]vector.IndexInfo, error) {
	indexes, err := s.control.ListIndexes(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]vector.IndexInfo, 0, len(indexes))
	for _, idx := range indexes {
		if idx == nil {
			continue
		}
		info := vector.IndexInfo{Name: idx.Name, Metric: string(idx.Metric), Host: idx.Host}
		if idx.Dimension != nil {
			info.Dimension = int(*idx.Dimension)
		}
		if idx.Status != nil {
			info.Ready = idx.Status.Ready
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Count returns the vectors stored in the configured namespace, or in the whole index
// when no namespace is set.
func (s *Store) Count(ctx context.Context) (int, error) {
	conn, err := s.index(ctx)
	if err != nil {
		return 0, err
	}
	stats, err := conn.DescribeIndexStats(ctx)
	if err != nil {
		return 0, err
	}
	if s.namespace != "" {
		if ns, ok := stats.Namespaces[s.namespace]; ok && ns != nil {
			return int(ns.VectorCount), nil
		}
		return 0, nil
	}
	return int(stats.TotalVectorCount), nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
