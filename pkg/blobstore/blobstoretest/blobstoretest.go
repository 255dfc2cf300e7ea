// Package blobstoretest runs one conformance suite against any
// blobstore.Backend implementation, the way the teacher's
// storagetest package exercises every blobserver.Storage the same
// way regardless of backing medium.
package blobstoretest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"docsbuild.dev/docsbuild/pkg/blobstore"
	"docsbuild.dev/docsbuild/pkg/compress"
)

// Opts configures the suite. New must return a fresh backend and an
// optional cleanup func, mirroring storagetest.Opts.
type Opts struct {
	New func(t *testing.T) (backend blobstore.Backend, cleanup func())
}

// Test runs the full conformance suite against fn's backend.
func Test(t *testing.T, fn func(t *testing.T) (blobstore.Backend, func())) {
	TestOpt(t, Opts{New: fn})
}

func TestOpt(t *testing.T, opt Opts) {
	backend, cleanup := opt.New(t)
	defer func() {
		if t.Failed() {
			t.Logf("test %T FAILED, skipping cleanup", backend)
			return
		}
		if cleanup != nil {
			cleanup()
		}
	}()
	ctx := context.Background()

	t.Run("MissingReturnsNotFound", func(t *testing.T) {
		testMissing(ctx, t, backend)
	})
	t.Run("PutGetRoundTrip", func(t *testing.T) {
		testPutGetRoundTrip(ctx, t, backend)
	})
	t.Run("Overwrite", func(t *testing.T) {
		testOverwrite(ctx, t, backend)
	})
	t.Run("RangeRead", func(t *testing.T) {
		testRangeRead(ctx, t, backend)
	})
	t.Run("DeletePrefix", func(t *testing.T) {
		testDeletePrefix(ctx, t, backend)
	})
	t.Run("DeletePrefixLiteralWildcards", func(t *testing.T) {
		testDeletePrefixLiteralWildcards(ctx, t, backend)
	})
}

func testMissing(ctx context.Context, t *testing.T, b blobstore.Backend) {
	exists, err := b.Exists(ctx, "nonexistent/path")
	require.NoError(t, err)
	require.False(t, exists)

	_, _, _, err = b.GetRaw(ctx, "nonexistent/path")
	require.ErrorIs(t, err, blobstore.ErrNotFound)
}

func testPutGetRoundTrip(ctx context.Context, t *testing.T, b blobstore.Backend) {
	raw, err := compress.Compress([]byte("hello, docs"), compress.Zstd)
	require.NoError(t, err)
	require.NoError(t, b.PutRaw(ctx, "crate/1.0.0/index.html", raw, compress.Zstd, "text/html"))

	exists, err := b.Exists(ctx, "crate/1.0.0/index.html")
	require.NoError(t, err)
	require.True(t, exists)

	gotRaw, alg, mimeType, err := b.GetRaw(ctx, "crate/1.0.0/index.html")
	require.NoError(t, err)
	require.Equal(t, compress.Zstd, alg)
	require.Equal(t, "text/html", mimeType)

	got, err := compress.Decompress(gotRaw, alg, 1<<20)
	require.NoError(t, err)
	require.Equal(t, "hello, docs", string(got))
}

func testOverwrite(ctx context.Context, t *testing.T, b blobstore.Backend) {
	path := "crate/1.0.0/overwrite.html"
	first, err := compress.Compress([]byte("first"), compress.Zstd)
	require.NoError(t, err)
	require.NoError(t, b.PutRaw(ctx, path, first, compress.Zstd, "text/html"))

	second, err := compress.Compress([]byte("second"), compress.Gzip)
	require.NoError(t, err)
	require.NoError(t, b.PutRaw(ctx, path, second, compress.Gzip, "text/html"))

	gotRaw, alg, _, err := b.GetRaw(ctx, path)
	require.NoError(t, err)
	require.Equal(t, compress.Gzip, alg)
	got, err := compress.Decompress(gotRaw, alg, 1<<20)
	require.NoError(t, err)
	require.Equal(t, "second", string(got))
}

func testRangeRead(ctx context.Context, t *testing.T, b blobstore.Backend) {
	path := "archive/packed.zip"
	payload := []byte("0123456789abcdefghij")
	require.NoError(t, b.PutRaw(ctx, path, payload, compress.Zstd, "application/zip"))

	chunk, err := b.GetRangeRaw(ctx, path, 5, 9)
	require.NoError(t, err)
	require.Equal(t, "56789", string(chunk))
}

func testDeletePrefix(ctx context.Context, t *testing.T, b blobstore.Backend) {
	for _, p := range []string{"del/a", "del/b", "keep/c"} {
		require.NoError(t, b.PutRaw(ctx, p, []byte("x"), compress.Zstd, "text/plain"))
	}
	require.NoError(t, b.DeletePrefix(ctx, "del/"))

	for _, p := range []string{"del/a", "del/b"} {
		exists, err := b.Exists(ctx, p)
		require.NoError(t, err)
		require.Falsef(t, exists, "expected %s deleted", p)
	}
	exists, err := b.Exists(ctx, "keep/c")
	require.NoError(t, err)
	require.True(t, exists)
}

// testDeletePrefixLiteralWildcards asserts that a prefix containing
// characters significant to SQL LIKE ('%' and '_') is matched
// literally, not as a wildcard pattern.
func testDeletePrefixLiteralWildcards(ctx context.Context, t *testing.T, b blobstore.Backend) {
	literalPath := "weird/100%_done/file"
	siblingPath := "weird/100Xdone_should_survive/file"
	require.NoError(t, b.PutRaw(ctx, literalPath, []byte("x"), compress.Zstd, "text/plain"))
	require.NoError(t, b.PutRaw(ctx, siblingPath, []byte("x"), compress.Zstd, "text/plain"))

	require.NoError(t, b.DeletePrefix(ctx, "weird/100%_done/"))

	exists, err := b.Exists(ctx, literalPath)
	require.NoError(t, err)
	require.False(t, exists)

	exists, err = b.Exists(ctx, siblingPath)
	require.NoError(t, err)
	require.True(t, exists, "a prefix containing %% and _ must not act as a wildcard against unrelated paths")
}
