package dbstore

import (
	"context"
	"database/sql"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"docsbuild.dev/docsbuild/pkg/blobstore"
	"docsbuild.dev/docsbuild/pkg/compress"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestExists(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`SELECT 1 FROM blobs WHERE path = \$1`).
		WithArgs("a/b").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	ok, err := s.Exists(context.Background(), "a/b")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExistsNotFound(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`SELECT 1 FROM blobs WHERE path = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	ok, err := s.Exists(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetRawNotFound(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`SELECT content, mime, compression FROM blobs WHERE path = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, _, _, err := s.GetRaw(context.Background(), "missing")
	require.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestGetRawDefaultsAlgorithmWhenTagIsNull(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`SELECT content, mime, compression FROM blobs WHERE path = \$1`).
		WithArgs("a/b").
		WillReturnRows(sqlmock.NewRows([]string{"content", "mime", "compression"}).
			AddRow([]byte("data"), "text/plain", nil))

	_, alg, mimeType, err := s.GetRaw(context.Background(), "a/b")
	require.NoError(t, err)
	require.Equal(t, compress.Default, alg)
	require.Equal(t, "text/plain", mimeType)
}

func TestPutRawUpserts(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(`INSERT INTO blobs`).
		WithArgs("a/b", "text/html", "zstd", []byte("data")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.PutRaw(context.Background(), "a/b", []byte("data"), compress.Zstd, "text/html")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeletePrefixEscapesWildcards(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(`DELETE FROM blobs WHERE path LIKE \$1`).
		WithArgs(`100\%\_done`).
		WillReturnResult(sqlmock.NewResult(0, 2))

	err := s.DeletePrefix(context.Background(), "100%_done")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEscapeLike(t *testing.T) {
	require.Equal(t, `100\%\_done`, escapeLike("100%_done"))
	require.Equal(t, `back\\slash`, escapeLike(`back\slash`))
	require.Equal(t, "plain", escapeLike("plain"))
}
