package execution

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var columns = []string{
	"id", "job_id", "job_type", "status", "payload", "result", "error", "retry_count",
	"user_id", "organization_id", "started_at", "completed_at", "created_at", "updated_at",
}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewPostgresStore(sqlx.NewDb(db, "sqlmock"), logger), mock
}

func TestPostgresStore_Create(t *testing.T) {
	store, mock := newMockStore(t)
	user := "user-1"

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO job_executions")).
		WithArgs("job-1", "send-email", "pending", `{"to":"a@example.com"}`, 0, "user-1", nil, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	e := &Execution{
		JobID:   "job-1",
		JobType: "send-email",
		Status:  StatusPending,
		Payload: json.RawMessage(`{"to":"a@example.com"}`),
		UserID:  &user,
	}
	require.NoError(t, store.Create(context.Background(), e))

	assert.Equal(t, int64(42), e.ID)
	assert.False(t, e.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateDuplicate(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "lib/pq", err: &pq.Error{Code: "23505"}},
		{name: "pgx", err: &pgconn.PgError{Code: "23505"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)

			mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO job_executions")).
				WillReturnError(tt.err)

			err := store.Create(context.Background(), &Execution{JobID: "job-1", JobType: "send-email", Status: StatusPending})
			assert.ErrorIs(t, err, ErrDuplicateJob)
		})
	}
}

func TestPostgresStore_CreateError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO job_executions")).
		WillReturnError(errors.New("connection reset"))

	err := store.Create(context.Background(), &Execution{JobID: "job-1", JobType: "send-email", Status: StatusPending})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicateJob)
	assert.Contains(t, err.Error(), "failed to create job execution")
}

func TestPostgresStore_GetByJobID(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	started := created.Add(time.Second)

	mock.ExpectQuery(regexp.QuoteMeta("FROM job_executions WHERE job_id = $1")).
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			int64(7), "job-1", "send-email", "processing", []byte(`{"to":"a@example.com"}`), nil, nil, int64(2),
			"user-1", nil, started, nil, created, started,
		))

	e, err := store.GetByJobID(context.Background(), "job-1")
	require.NoError(t, err)

	assert.Equal(t, int64(7), e.ID)
	assert.Equal(t, StatusProcessing, e.Status)
	assert.Equal(t, 2, e.RetryCount)
	assert.JSONEq(t, `{"to":"a@example.com"}`, string(e.Payload))
	require.NotNil(t, e.UserID)
	assert.Equal(t, "user-1", *e.UserID)
	assert.Nil(t, e.OrganizationID)
	assert.Nil(t, e.Result)
	require.NotNil(t, e.StartedAt)
	assert.Equal(t, started, *e.StartedAt)
	assert.Nil(t, e.CompletedAt)
}

func TestPostgresStore_GetByJobID_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM job_executions WHERE job_id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(columns))

	_, err := store.GetByJobID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_Update(t *testing.T) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	tests := []struct {
		name     string
		update   Update
		args     []interface{}
		affected int64
		wantErr  error
	}{
		{
			name:     "processing increments retry count",
			update:   Processing(now),
			args:     []interface{}{"job-1", "processing", now, nil, nil, 1},
			affected: 1,
		},
		{
			name:     "failed records error",
			update:   Failed(now, "boom"),
			args:     []interface{}{"job-1", "failed", nil, now, "boom", 0},
			affected: 1,
		},
		{
			name:     "missing row",
			update:   Completed(now),
			args:     []interface{}{"job-1", "completed", nil, now, nil, 0},
			affected: 0,
			wantErr:  ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)

			args := make([]driver.Value, len(tt.args))
			for i, a := range tt.args {
				args[i] = a
			}

			mock.ExpectExec(regexp.QuoteMeta("UPDATE job_executions")).
				WithArgs(args...).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			err := store.Update(context.Background(), "job-1", tt.update)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresStore_List(t *testing.T) {
	store, mock := newMockStore(t)
	cursorAt := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("AND job_type = $1 AND status = $2 AND (created_at, job_id) < ($3, $4) ORDER BY created_at DESC, job_id DESC LIMIT $5")).
		WithArgs("send-email", "failed", cursorAt, "job-9", 21).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			int64(1), "job-1", "send-email", "failed", []byte(`{}`), nil, "boom", int64(4),
			nil, "org-1", cursorAt, cursorAt, cursorAt, cursorAt,
		))

	rows, err := store.List(context.Background(), Filter{
		JobType:  "send-email",
		Status:   StatusFailed,
		PageSize: 20,
		Cursor:   &Cursor{CreatedAt: cursorAt, JobID: "job-9"},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	assert.Equal(t, "job-1", rows[0].JobID)
	require.NotNil(t, rows[0].Error)
	assert.Equal(t, "boom", *rows[0].Error)
	require.NotNil(t, rows[0].OrganizationID)
	assert.Equal(t, "org-1", *rows[0].OrganizationID)
}

func TestStatus_Valid(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, Status("running").Valid())
	assert.False(t, Status("").Valid())
}
