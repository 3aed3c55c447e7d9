package run_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"medichat/features/run"
	"medichat/internal/config"
	"medichat/internal/document"
	"medichat/internal/worker"
)

// MockRepo implements run.Repository
type MockRepo struct {
	mock.Mock
}

func (m *MockRepo) Create(ctx context.Context, r *run.Run) error {
	return m.Called(ctx, r).Error(0)
}
func (m *MockRepo) Start(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}
func (m *MockRepo) Complete(ctx context.Context, id string, files, chunks int, skipped []document.FileFailure) error {
	return m.Called(ctx, id, files, chunks, skipped).Error(0)
}
func (m *MockRepo) Fail(ctx context.Context, id, reason string) error {
	return m.Called(ctx, id, reason).Error(0)
}
func (m *MockRepo) Requeue(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}
func (m *MockRepo) Get(ctx context.Context, id string) (*run.Run, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*run.Run), args.Error(1)
}
func (m *MockRepo) List(ctx context.Context, limit int) ([]run.Run, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]run.Run), args.Error(1)
}
func (m *MockRepo) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}
func (m *MockRepo) CountByStatus(ctx context.Context, status run.Status) (int, error) {
	args := m.Called(ctx, status)
	return args.Int(0), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(topic string, body []byte) error {
	return m.Called(topic, body).Error(0)
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

const runID = "6b1f9a52-7a4e-4d0e-9a39-2f4f3c1a0b11"

func TestHandler_List(t *testing.T) {
	repo := new(MockRepo)
	repo.On("List", mock.Anything, 50).Return(nil, nil)
	handler := run.NewHandler(run.NewService(repo, nil, discard), discard)

	req := httptest.NewRequest("GET", "/runs", nil)
	w := httptest.NewRecorder()
	handler.List(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data []run.Run     `json:"data"`
		Meta map[string]int `json:"meta"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.NotNil(t, resp.Data)
	assert.Equal(t, 0, resp.Meta["count"])
}

func TestHandler_Get(t *testing.T) {
	repo := new(MockRepo)
	repo.On("Get", mock.Anything, runID).Return(&run.Run{ID: runID, Status: run.StatusSucceeded, Chunks: 12}, nil)
	repo.On("Get", mock.Anything, "6b1f9a52-0000-4d0e-9a39-2f4f3c1a0b11").Return(nil, sql.ErrNoRows)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /runs/{id}", run.NewHandler(run.NewService(repo, nil, discard), discard).Get)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/runs/"+runID, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"chunks":12`)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/runs/6b1f9a52-0000-4d0e-9a39-2f4f3c1a0b11", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/runs/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_Retry(t *testing.T) {
	repo := new(MockRepo)
	pub := new(MockPublisher)
	repo.On("Get", mock.Anything, runID).Return(&run.Run{ID: runID, Directory: "data/", Status: run.StatusFailed}, nil)
	repo.On("Requeue", mock.Anything, runID).Return(nil)

	var body []byte
	pub.On("Publish", config.TopicIngestRun, mock.Anything).
		Run(func(args mock.Arguments) { body = args.Get(1).([]byte) }).
		Return(nil)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /runs/{id}/retry", run.NewHandler(run.NewService(repo, pub, discard), discard).Retry)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("POST", "/runs/"+runID+"/retry", nil))

	assert.Equal(t, http.StatusAccepted, w.Code)
	var payload worker.IngestRunPayload
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, runID, payload.RunID)
	assert.Equal(t, "data/", payload.Directory)
}

func TestHandler_RetryErrors(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(repo *MockRepo, pub *MockPublisher)
		noPub  bool
		status int
	}{
		{
			name: "not found",
			setup: func(repo *MockRepo, pub *MockPublisher) {
				repo.On("Get", mock.Anything, runID).Return(nil, sql.ErrNoRows)
			},
			status: http.StatusNotFound,
		},
		{
			name: "not failed",
			setup: func(repo *MockRepo, pub *MockPublisher) {
				repo.On("Get", mock.Anything, runID).Return(&run.Run{ID: runID, Status: run.StatusSucceeded}, nil)
			},
			status: http.StatusConflict,
		},
		{
			name:   "no queue",
			setup:  func(repo *MockRepo, pub *MockPublisher) {},
			noPub:  true,
			status: http.StatusServiceUnavailable,
		},
		{
			name: "publish fails",
			setup: func(repo *MockRepo, pub *MockPublisher) {
				repo.On("Get", mock.Anything, runID).Return(&run.Run{ID: runID, Status: run.StatusFailed}, nil)
				repo.On("Requeue", mock.Anything, runID).Return(nil)
				repo.On("Fail", mock.Anything, runID, mock.Anything).Return(nil)
				pub.On("Publish", mock.Anything, mock.Anything).Return(errors.New("nsqd unreachable"))
			},
			status: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, pub := new(MockRepo), new(MockPublisher)
			tt.setup(repo, pub)

			var svc *run.Service
			if tt.noPub {
				svc = run.NewService(repo, nil, discard)
			} else {
				svc = run.NewService(repo, pub, discard)
			}

			mux := http.NewServeMux()
			mux.HandleFunc("POST /runs/{id}/retry", run.NewHandler(svc, discard).Retry)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest("POST", "/runs/"+runID+"/retry", nil))

			assert.Equal(t, tt.status, w.Code)
			var resp map[string]interface{}
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Contains(t, resp, "error")
			assert.Contains(t, resp, "correlationId")
		})
	}
}
