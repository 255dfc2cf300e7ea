package store

import (
	"context"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"docsbuild.dev/docsbuild/pkg/blobstore/dbstore"
	"docsbuild.dev/docsbuild/pkg/compress"
)

type fakeDest struct {
	puts    map[string][]byte
	failN   int
	callNum int
}

func (f *fakeDest) Exists(ctx context.Context, path string) (bool, error) { return false, nil }
func (f *fakeDest) GetRaw(ctx context.Context, path string) ([]byte, compress.Algorithm, string, error) {
	return nil, 0, "", nil
}
func (f *fakeDest) GetRangeRaw(ctx context.Context, path string, start, end int64) ([]byte, error) {
	return nil, nil
}
func (f *fakeDest) PutRaw(ctx context.Context, path string, data []byte, alg compress.Algorithm, mimeType string) error {
	f.callNum++
	if f.callNum <= f.failN {
		return errors.New("transient upload error")
	}
	f.puts[path] = data
	return nil
}
func (f *fakeDest) DeletePrefix(ctx context.Context, prefix string) error { return nil }
func (f *fakeDest) Close() error                                         { return nil }

func TestMoveToS3CopiesAllBlobs(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	source := dbstore.New(db)

	mock.ExpectQuery(`SELECT path FROM blobs WHERE path > \$1`).
		WithArgs("", moveToS3BatchSize).
		WillReturnRows(sqlmock.NewRows([]string{"path"}).AddRow("a/1").AddRow("a/2"))
	mock.ExpectQuery(`SELECT content, mime, compression FROM blobs WHERE path = \$1`).
		WithArgs("a/1").
		WillReturnRows(sqlmock.NewRows([]string{"content", "mime", "compression"}).AddRow([]byte("one"), "text/plain", "zstd"))
	mock.ExpectQuery(`SELECT content, mime, compression FROM blobs WHERE path = \$1`).
		WithArgs("a/2").
		WillReturnRows(sqlmock.NewRows([]string{"content", "mime", "compression"}).AddRow([]byte("two"), "text/plain", "zstd"))
	mock.ExpectQuery(`SELECT path FROM blobs WHERE path > \$1`).
		WithArgs("a/2", moveToS3BatchSize).
		WillReturnRows(sqlmock.NewRows([]string{"path"}))

	dest := &fakeDest{puts: map[string][]byte{}}
	err = MoveToS3(context.Background(), source, dest, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, []byte("one"), dest.puts["a/1"])
	require.Equal(t, []byte("two"), dest.puts["a/2"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMoveToS3RetriesTransientUploadFailures(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	source := dbstore.New(db)

	mock.ExpectQuery(`SELECT path FROM blobs WHERE path > \$1`).
		WithArgs("", moveToS3BatchSize).
		WillReturnRows(sqlmock.NewRows([]string{"path"}).AddRow("a/1"))
	mock.ExpectQuery(`SELECT content, mime, compression FROM blobs WHERE path = \$1`).
		WithArgs("a/1").
		WillReturnRows(sqlmock.NewRows([]string{"content", "mime", "compression"}).AddRow([]byte("one"), "text/plain", "zstd"))
	mock.ExpectQuery(`SELECT path FROM blobs WHERE path > \$1`).
		WithArgs("a/1", moveToS3BatchSize).
		WillReturnRows(sqlmock.NewRows([]string{"path"}))

	dest := &fakeDest{puts: map[string][]byte{}, failN: 2}
	err = MoveToS3(context.Background(), source, dest, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, []byte("one"), dest.puts["a/1"])
}
