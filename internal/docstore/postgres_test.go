// internal/docstore/postgres_test.go
package docstore

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPostgresTestStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db, "postgres://test"), mock
}

// ==========================
// Point Operation Tests
// ==========================

func TestPostgresStore_Get(t *testing.T) {
	s, mock := newPostgresTestStore(t)

	rows := sqlmock.NewRows([]string{"data"}).AddRow([]byte(`{"title":"Cook","views":5}`))
	mock.ExpectQuery("SELECT data FROM documents").
		WithArgs("jobs", "job-1").
		WillReturnRows(rows)

	doc, err := s.Get(context.Background(), CollectionJobs, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "Cook", doc["title"])
	assert.Equal(t, float64(5), doc["views"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetMissing(t *testing.T) {
	s, mock := newPostgresTestStore(t)

	mock.ExpectQuery("SELECT data FROM documents").
		WithArgs("jobs", "nope").
		WillReturnError(sql.ErrNoRows)

	_, err := s.Get(context.Background(), CollectionJobs, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetUpsertsAndNotifies(t *testing.T) {
	s, mock := newPostgresTestStore(t)

	mock.ExpectExec("INSERT INTO documents").
		WithArgs("jobs", "job-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("SELECT pg_notify").
		WithArgs("document_changes", "jobs:job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Set(context.Background(), CollectionJobs, "job-1", Document{"title": "Cook"}, false)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateConflict(t *testing.T) {
	s, mock := newPostgresTestStore(t)

	// ON CONFLICT DO NOTHING reports zero affected rows on collision; no
	// notify must follow.
	mock.ExpectExec("INSERT INTO documents").
		WithArgs("applications", "cand-1:job-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Create(context.Background(), CollectionApplications, "cand-1:job-1", Document{"status": "pending"})
	assert.ErrorIs(t, err, ErrExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateSuccess(t *testing.T) {
	s, mock := newPostgresTestStore(t)

	mock.ExpectExec("INSERT INTO documents").
		WithArgs("applications", "cand-1:job-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("SELECT pg_notify").
		WithArgs("document_changes", "applications:cand-1:job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Create(context.Background(), CollectionApplications, "cand-1:job-1", Document{"status": "pending"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_IncrementMissingDoc(t *testing.T) {
	s, mock := newPostgresTestStore(t)

	mock.ExpectExec("UPDATE documents").
		WithArgs("jobs", "nope", "views", int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Increment(context.Background(), CollectionJobs, "nope", "views", 1)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Increment(t *testing.T) {
	s, mock := newPostgresTestStore(t)

	mock.ExpectExec("UPDATE documents").
		WithArgs("jobs", "job-1", "applicants", int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("SELECT pg_notify").
		WithArgs("document_changes", "jobs:job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Increment(context.Background(), CollectionJobs, "job-1", "applicants", 1)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteNotifies(t *testing.T) {
	s, mock := newPostgresTestStore(t)

	mock.ExpectExec("DELETE FROM documents").
		WithArgs("jobs", "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("SELECT pg_notify").
		WithArgs("document_changes", "jobs:job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Delete(context.Background(), CollectionJobs, "job-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EnsureSchema(t *testing.T) {
	s, mock := newPostgresTestStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS documents").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
