package store

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func newStoreMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestConfigGetMissingReturnsFalse(t *testing.T) {
	s, mock := newStoreMock(t)
	mock.ExpectQuery(`SELECT value FROM config WHERE key = \$1`).
		WithArgs("essential_files_short_hash").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	v, ok, err := s.ConfigGet(context.Background(), "essential_files_short_hash")
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, v)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConfigSetUpserts(t *testing.T) {
	s, mock := newStoreMock(t)
	mock.ExpectExec(`INSERT INTO config`).
		WithArgs("k", "v").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.ConfigSet(context.Background(), "k", "v"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIsBlacklisted(t *testing.T) {
	s, mock := newStoreMock(t)
	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM blacklist`).
		WithArgs("evilcrate").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := s.IsBlacklisted(context.Background(), "evilcrate")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHasSuccessfulBuild(t *testing.T) {
	s, mock := newStoreMock(t)
	mock.ExpectQuery(`SELECT EXISTS\(`).
		WithArgs("foo", "0.1.0").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	ok, err := s.HasSuccessfulBuild(context.Background(), "foo", "0.1.0")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadBuildLimitsFallsBackToDefault(t *testing.T) {
	s, mock := newStoreMock(t)
	mock.ExpectQuery(`SELECT memory_mb, cpu_limit`).
		WithArgs("foo").
		WillReturnRows(sqlmock.NewRows(nil))

	l, err := s.LoadBuildLimits(context.Background(), "foo")
	require.NoError(t, err)
	require.Equal(t, DefaultBuildLimits, l)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadBuildLimitsUsesOverrideRow(t *testing.T) {
	s, mock := newStoreMock(t)
	mock.ExpectQuery(`SELECT memory_mb, cpu_limit`).
		WithArgs("big-crate").
		WillReturnRows(sqlmock.NewRows(
			[]string{"memory_mb", "cpu_limit", "timeout_seconds", "max_targets", "max_log_size", "max_upload_size", "networking_enabled"},
		).AddRow(int64(8192), 4.0, 1800, 20, int64(20<<20), int64(4<<30), true))

	l, err := s.LoadBuildLimits(context.Background(), "big-crate")
	require.NoError(t, err)
	require.Equal(t, int64(8192), l.MemoryMB)
	require.True(t, l.NetworkingEnabled)
	require.NoError(t, mock.ExpectationsWereMet())
}
