package queue

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*Queue, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestAddUpsertsKeepingLowerPriority(t *testing.T) {
	q, mock := newMock(t)
	mock.ExpectExec(`INSERT INTO queue .* priority = LEAST\(queue\.priority, EXCLUDED\.priority\)`).
		WithArgs("foo", "0.1.0", 0).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, q.Add(context.Background(), "foo", "0.1.0", 0))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNextEmpty(t *testing.T) {
	q, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT name, version, priority, attempts`).
		WillReturnRows(sqlmock.NewRows([]string{"name", "version", "priority", "attempts"}))
	mock.ExpectRollback()

	_, err := q.Next(context.Background())
	require.ErrorIs(t, err, ErrEmpty)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNextCompleteCommitsOnce(t *testing.T) {
	q, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT name, version, priority, attempts`).
		WillReturnRows(sqlmock.NewRows([]string{"name", "version", "priority", "attempts"}).
			AddRow("foo", "0.1.0", 0, 0))
	mock.ExpectExec(`DELETE FROM queue`).
		WithArgs("foo", "0.1.0").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	entry, err := q.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, "foo", entry.Name)

	require.NoError(t, q.Complete(context.Background(), entry))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailBelowMaxAttemptsBacksOff(t *testing.T) {
	q, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT name, version, priority, attempts`).
		WillReturnRows(sqlmock.NewRows([]string{"name", "version", "priority", "attempts"}).
			AddRow("bar", "1.0.0", 0, 1))
	mock.ExpectExec(`UPDATE queue SET attempts`).
		WithArgs("bar", "1.0.0", 2, "1m0s").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	entry, err := q.Next(context.Background())
	require.NoError(t, err)

	ok, err := q.Fail(context.Background(), entry)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailAtMaxAttemptsRemovesRow(t *testing.T) {
	q, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT name, version, priority, attempts`).
		WillReturnRows(sqlmock.NewRows([]string{"name", "version", "priority", "attempts"}).
			AddRow("broken", "0.0.1", 0, MaxAttempts-1))
	mock.ExpectExec(`DELETE FROM queue`).
		WithArgs("broken", "0.0.1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	entry, err := q.Next(context.Background())
	require.NoError(t, err)

	ok, err := q.Fail(context.Background(), entry)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBackoffForCapsAtMax(t *testing.T) {
	require.Equal(t, 30*time.Second, backoffFor(1))
	require.Equal(t, 1*time.Minute, backoffFor(2))
	require.Equal(t, 15*time.Minute, backoffFor(20))
}
