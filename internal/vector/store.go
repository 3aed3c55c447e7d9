// Package vector defines the index store contract shared by the pinecone and weaviate
// adapters, and the stable record ids used by ingestion.
package vector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"medichat/internal/apperr"
)

type Metric string

const (
	MetricCosine     Metric = "cosine"
	MetricEuclidean  Metric = "euclidean"
	MetricDotProduct Metric = "dotproduct"
)

// MetadataText is the metadata key under which stores keep the chunk text.
const MetadataText = "text"

type IndexConfig struct {
	Name      string
	Dimension int
	Metric    Metric
	Cloud     string
	Region    string
}

// CheckBound fails with a configuration error when asked differs from the index a store
// was built for. Stores keep their construction config and never rebind.
func (c IndexConfig) CheckBound(asked IndexConfig) error {
	if asked.Name != c.Name || asked.Dimension != c.Dimension || asked.Metric != c.Metric {
		return apperr.Configuration("ensure_index", "store is bound to index %s (dimension %d, metric %s), asked for %s (dimension %d, metric %s)",
			c.Name, c.Dimension, c.Metric, asked.Name, asked.Dimension, asked.Metric)
	}
	return nil
}

type Record struct {
	ID       string
	Vector   []float32
	Text     string
	Metadata map[string]any
}

type Match struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
	Score    float32        `json:"score"`
}

type IndexInfo struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension,omitempty"`
	Metric    string `json:"metric,omitempty"`
	Host      string `json:"host,omitempty"`
	Ready     bool   `json:"ready"`
}

// Store is a managed vector index with a create-if-absent lifecycle. Upsert is keyed by
// Record.ID, so writing the same ids twice leaves one copy of each record.
type Store interface {
	EnsureIndex(ctx context.Context, cfg IndexConfig) error
	Upsert(ctx context.Context, records []Record) error
	// Query returns at most topK matches ordered by descending score.
	Query(ctx context.Context, vec []float32, topK int) ([]Match, error)
	ListIndexes(ctx context.Context) ([]IndexInfo, error)
}

// RecordID is the stable id of a chunk: the same source path and sequence index always
// produce the same id, so re-ingesting an unchanged corpus overwrites instead of growing.
func RecordID(sourcePath string, sequenceIndex int) string {
	h := sha256.New()
	h.Write([]byte(sourcePath))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(sequenceIndex)))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// CheckDimension fails with an index error when vec does not fit the index.
func CheckDimension(stage string, vec []float32, dimension int) error {
	if len(vec) != dimension {
		return apperr.Index(stage, "", fmt.Errorf("%w: got %d, index has %d", apperr.ErrDimensionMismatch, len(vec), dimension))
	}
	return nil
}

// ErrCountUnsupported is returned by Count when the underlying store cannot count records.
var ErrCountUnsupported = errors.New("store does not report record counts")

// Counter is implemented by stores that can report how many records an index holds.
type Counter interface {
	Count(ctx context.Context) (int, error)
}
