package app_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"medichat/internal/app"
	"medichat/internal/apperr"
	"medichat/internal/config"
	"medichat/internal/vector"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type MockVectorStore struct{ mock.Mock }

func (m *MockVectorStore) EnsureIndex(ctx context.Context, cfg vector.IndexConfig) error {
	return m.Called(ctx, cfg).Error(0)
}
func (m *MockVectorStore) Upsert(ctx context.Context, records []vector.Record) error {
	return m.Called(ctx, records).Error(0)
}
func (m *MockVectorStore) Query(ctx context.Context, vec []float32, topK int) ([]vector.Match, error) {
	args := m.Called(ctx, vec, topK)
	matches, _ := args.Get(0).([]vector.Match)
	return matches, args.Error(1)
}
func (m *MockVectorStore) ListIndexes(ctx context.Context) ([]vector.IndexInfo, error) {
	args := m.Called(ctx)
	infos, _ := args.Get(0).([]vector.IndexInfo)
	return infos, args.Error(1)
}

var indexCfg = vector.IndexConfig{Name: "medi-chat", Dimension: 384, Metric: vector.MetricCosine}

func TestEnsureIndexWithRetry_Success(t *testing.T) {
	store := new(MockVectorStore)
	store.On("EnsureIndex", mock.Anything, indexCfg).Return(nil).Once()

	err := app.EnsureIndexWithRetry(context.Background(), store, indexCfg, 1, time.Millisecond, discard)
	assert.NoError(t, err)
	store.AssertExpectations(t)
}

func TestEnsureIndexWithRetry_Retries(t *testing.T) {
	store := new(MockVectorStore)
	store.On("EnsureIndex", mock.Anything, indexCfg).Return(errors.New("connection refused")).Twice()
	store.On("EnsureIndex", mock.Anything, indexCfg).Return(nil).Once()

	err := app.EnsureIndexWithRetry(context.Background(), store, indexCfg, 5, time.Millisecond, discard)
	assert.NoError(t, err)
	store.AssertNumberOfCalls(t, "EnsureIndex", 3)
}

func TestEnsureIndexWithRetry_Fail(t *testing.T) {
	store := new(MockVectorStore)
	store.On("EnsureIndex", mock.Anything, indexCfg).Return(errors.New("connection refused"))

	err := app.EnsureIndexWithRetry(context.Background(), store, indexCfg, 3, time.Millisecond, discard)
	assert.Error(t, err)
	store.AssertNumberOfCalls(t, "EnsureIndex", 3)
}

func TestEnsureIndexWithRetry_ConfigurationErrorIsNotRetried(t *testing.T) {
	store := new(MockVectorStore)
	mismatch := apperr.Configuration("ensure_index", "index has dimension 768, want 384: %w", apperr.ErrDimensionMismatch)
	store.On("EnsureIndex", mock.Anything, indexCfg).Return(mismatch)

	err := app.EnsureIndexWithRetry(context.Background(), store, indexCfg, 5, time.Millisecond, discard)
	assert.ErrorIs(t, err, apperr.ErrDimensionMismatch)
	store.AssertNumberOfCalls(t, "EnsureIndex", 1)
}

func TestIndexConfig(t *testing.T) {
	cfg := &config.Config{
		IndexName:        "medi-chat",
		EmbedDimension:   384,
		SimilarityMetric: "dotproduct",
		PineconeCloud:    "aws",
		PineconeRegion:   "us-east-1",
	}
	assert.Equal(t, vector.IndexConfig{
		Name:      "medi-chat",
		Dimension: 384,
		Metric:    vector.MetricDotProduct,
		Cloud:     "aws",
		Region:    "us-east-1",
	}, app.IndexConfig(cfg))
}

func TestNewVectorStore_Unknown(t *testing.T) {
	_, err := app.NewVectorStore(&config.Config{VectorStore: "milvus"}, discard)
	assert.ErrorIs(t, err, apperr.ErrConfiguration)
}

func TestNewEmbedder_OpenAIRequiresKey(t *testing.T) {
	cfg := &config.Config{EmbeddingProvider: config.EmbeddingProviderOpenAI, EmbedDimension: 384}
	_, err := app.NewEmbedder(context.Background(), cfg, discard, func(func() error) {})
	assert.ErrorIs(t, err, apperr.ErrConfiguration)
}

func TestNewEmbedder_WithCache(t *testing.T) {
	cfg := &config.Config{
		EmbeddingProvider: config.EmbeddingProviderOpenAI,
		EmbeddingBaseURL:  "http://localhost:1/v1",
		EmbeddingModel:    "all-minilm",
		EmbedDimension:    384,
		EmbedCacheDir:     t.TempDir(),
	}

	var closers []func() error
	b, err := app.NewEmbedder(context.Background(), cfg, discard, func(fn func() error) { closers = append(closers, fn) })
	require.NoError(t, err)
	assert.Equal(t, 384, b.Dimension())
	assert.Len(t, closers, 2)
	for i := len(closers) - 1; i >= 0; i-- {
		assert.NoError(t, closers[i]())
	}
}

func TestBootstrap_ConfigurationError(t *testing.T) {
	cfg := &config.Config{
		RunLedgerEnabled: false,
		VectorStore:      "unknown",
	}
	deps, err := app.Bootstrap(context.Background(), cfg, app.Needs{}, discard)
	assert.Error(t, err)
	assert.Nil(t, deps)
}
