package vector_test

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
	"medichat/internal/apperr"
	"medichat/internal/logtest"
	"medichat/internal/retry"
	"medichat/internal/vector"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) EnsureIndex(ctx context.Context, cfg vector.IndexConfig) error {
	return m.Called(ctx, cfg).Error(0)
}

func (m *MockStore) Upsert(ctx context.Context, records []vector.Record) error {
	return m.Called(ctx, records).Error(0)
}

func (m *MockStore) Query(ctx context.Context, vec []float32, topK int) ([]vector.Match, error) {
	args := m.Called(ctx, vec, topK)
	matches, _ := args.Get(0).([]vector.Match)
	return matches, args.Error(1)
}

func (m *MockStore) ListIndexes(ctx context.Context) ([]vector.IndexInfo, error) {
	args := m.Called(ctx)
	infos, _ := args.Get(0).([]vector.IndexInfo)
	return infos, args.Error(1)
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func policy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestRetrying_UpsertRetriesTransientFailure(t *testing.T) {
	store := new(MockStore)
	recs := []vector.Record{{ID: "a", Vector: []float32{1}}}
	store.On("Upsert", mock.Anything, recs).Return(errors.New("503 unavailable")).Once()
	store.On("Upsert", mock.Anything, recs).Return(nil).Once()

	r := vector.NewRetrying(store, "medi-chat", policy(), discard)
	require.NoError(t, r.Upsert(context.Background(), recs))
	store.AssertNumberOfCalls(t, "Upsert", 2)
}

func TestRetrying_QueryWrapsFinalFailure(t *testing.T) {
	store := new(MockStore)
	store.On("Query", mock.Anything, []float32{1}, 3).Return(nil, errors.New("connection reset"))

	r := vector.NewRetrying(store, "medi-chat", policy(), discard)
	_, err := r.Query(context.Background(), []float32{1}, 3)

	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrIndex)
	assert.Contains(t, err.Error(), "medi-chat")
	store.AssertNumberOfCalls(t, "Query", 3)
}

func TestRetrying_ConfigurationErrorNotRetried(t *testing.T) {
	store := new(MockStore)
	cfg := vector.IndexConfig{Name: "medi-chat", Dimension: 384, Metric: vector.MetricCosine}
	store.On("EnsureIndex", mock.Anything, cfg).Return(apperr.Configuration("ensure_index", "dimension 768 != 384"))

	r := vector.NewRetrying(store, "medi-chat", policy(), discard)
	err := r.EnsureIndex(context.Background(), cfg)

	assert.ErrorIs(t, err, apperr.ErrConfiguration)
	assert.NotErrorIs(t, err, apperr.ErrIndex)
	store.AssertNumberOfCalls(t, "EnsureIndex", 1)
}

func TestRetrying_ListIndexes(t *testing.T) {
	store := new(MockStore)
	store.On("ListIndexes", mock.Anything).Return([]vector.IndexInfo{{Name: "medi-chat", Ready: true}}, nil)

	r := vector.NewRetrying(store, "medi-chat", policy(), discard)
	infos, err := r.ListIndexes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "medi-chat", infos[0].Name)
}

func TestRetrying_CountUnsupported(t *testing.T) {
	r := vector.NewRetrying(new(MockStore), "medi-chat", policy(), discard)
	_, err := r.Count(context.Background())
	assert.ErrorIs(t, err, vector.ErrCountUnsupported)
}

func TestRetrying_LogsFinalFailureOnce(t *testing.T) {
	store := new(MockStore)
	recs := []vector.Record{{ID: "a", Vector: []float32{1}}}
	store.On("Upsert", mock.Anything, recs).Return(errors.New("503 unavailable"))

	logger, rec := logtest.New()
	r := vector.NewRetrying(store, "medi-chat", policy(), logger)
	err := r.Upsert(context.Background(), recs)

	require.ErrorIs(t, err, apperr.ErrIndex)
	assert.Equal(t, []string{"vector store call failed"}, rec.Messages(slog.LevelError))
	// Intermediate attempts are warnings.
	assert.Equal(t, 2, rec.Count(slog.LevelWarn))
}
