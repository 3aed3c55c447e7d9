package run

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"medichat/internal/document"
)

func newMock(t *testing.T) (*PostgresRepo, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresRepo(db), mock
}

func TestPostgresRepo_Create(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO ingestion_runs (directory, index_name, status) VALUES ($1, $2, $3) RETURNING id, created_at, updated_at`)).
		WithArgs("data/", "medi-chat", "pending").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow("run-1", now, now))

	r := &Run{Directory: "data/", IndexName: "medi-chat"}
	require.NoError(t, repo.Create(context.Background(), r))
	assert.Equal(t, "run-1", r.ID)
	assert.Equal(t, StatusPending, r.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_Complete(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE ingestion_runs SET status = 'succeeded', files = $2, chunks = $3, skipped = $4, error = '', updated_at = NOW() WHERE id = $1`)).
		WithArgs("run-1", 3, 42, []byte(`[{"path":"bad.pdf","reason":"malformed"}]`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Complete(context.Background(), "run-1", 3, 42, []document.FileFailure{{Path: "bad.pdf", Reason: "malformed"}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_FailUnknownRun(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE ingestion_runs SET status = 'failed', error = $2, updated_at = NOW() WHERE id = $1`)).
		WithArgs("missing", "boom").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Fail(context.Background(), "missing", "boom")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestPostgresRepo_Get(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now()

	cols := []string{"id", "directory", "index_name", "status", "files", "chunks", "skipped", "error", "created_at", "updated_at"}
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, directory, index_name, status, files, chunks, skipped, error, created_at, updated_at FROM ingestion_runs WHERE id = $1`)).
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("run-1", "data/", "medi-chat", "succeeded", 2, 10, []byte(`[{"path":"x.pdf","reason":"eof"}]`), "", now, now))

	r, err := repo.Get(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, r.Status)
	assert.Equal(t, 10, r.Chunks)
	assert.Equal(t, []document.FileFailure{{Path: "x.pdf", Reason: "eof"}}, r.Skipped)
}

func TestPostgresRepo_List(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now()

	cols := []string{"id", "directory", "index_name", "status", "files", "chunks", "skipped", "error", "created_at", "updated_at"}
	mock.ExpectQuery(regexp.QuoteMeta(`FROM ingestion_runs ORDER BY created_at DESC LIMIT $1`)).
		WithArgs(50).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("run-2", "data/", "medi-chat", "failed", 0, 0, []byte(`[]`), "index error", now, now).
			AddRow("run-1", "data/", "medi-chat", "succeeded", 1, 5, []byte(`[]`), "", now, now))

	runs, err := repo.List(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID)
	assert.Equal(t, "index error", runs[0].Error)
	assert.Empty(t, runs[1].Skipped)
}

func TestPostgresRepo_Counts(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM ingestion_runs`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM ingestion_runs WHERE status = $1`)).
		WithArgs("failed").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COALESCE(SUM(chunks), 0) FROM ingestion_runs WHERE status = 'succeeded'`)).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(420))

	total, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, total)

	failed, err := repo.CountByStatus(context.Background(), StatusFailed)
	require.NoError(t, err)
	assert.Equal(t, 2, failed)

	chunks, err := repo.ChunksIndexed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 420, chunks)
	assert.NoError(t, mock.ExpectationsWereMet())
}
