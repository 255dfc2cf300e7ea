package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"docsbuild.dev/docsbuild/pkg/blobstore"
	"docsbuild.dev/docsbuild/pkg/compress"
)

// memBackend is a tiny in-memory blobstore.Backend, just enough to
// exercise Pack/ExistsInArchive/GetFromArchive without a real store.
type memBackend struct {
	data map[string][]byte
	alg  map[string]compress.Algorithm
	mime map[string]string
}

func newMemBackend() *memBackend {
	return &memBackend{data: map[string][]byte{}, alg: map[string]compress.Algorithm{}, mime: map[string]string{}}
}

func (m *memBackend) Exists(ctx context.Context, path string) (bool, error) {
	_, ok := m.data[path]
	return ok, nil
}

func (m *memBackend) GetRaw(ctx context.Context, path string) ([]byte, compress.Algorithm, string, error) {
	d, ok := m.data[path]
	if !ok {
		return nil, 0, "", blobstore.ErrNotFound
	}
	return d, m.alg[path], m.mime[path], nil
}

func (m *memBackend) GetRangeRaw(ctx context.Context, path string, start, end int64) ([]byte, error) {
	d, ok := m.data[path]
	if !ok {
		return nil, blobstore.ErrNotFound
	}
	return d[start : end+1], nil
}

func (m *memBackend) PutRaw(ctx context.Context, path string, data []byte, alg compress.Algorithm, mimeType string) error {
	m.data[path] = data
	m.alg[path] = alg
	m.mime[path] = mimeType
	return nil
}

func (m *memBackend) DeletePrefix(ctx context.Context, prefix string) error {
	for k := range m.data {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(m.data, k)
		}
	}
	return nil
}

func (m *memBackend) Close() error { return nil }

func TestIndexSerializeRoundTrip(t *testing.T) {
	idx := NewIndex()
	idx.Entries["a/b.html"] = Entry{Path: "a/b.html", Offset: 0, Length: 10, Compression: compress.Bzip2, MIME: "text/html"}
	idx.Entries["c.md"] = Entry{Path: "c.md", Offset: 10, Length: 5, Compression: compress.Bzip2, MIME: "text/markdown"}

	data, err := idx.Serialize()
	require.NoError(t, err)

	got, err := ParseIndex(data)
	require.NoError(t, err)
	require.Equal(t, idx.Entries, got.Entries)

	// Serialization is deterministic regardless of map iteration order.
	data2, err := idx.Serialize()
	require.NoError(t, err)
	require.Equal(t, data, data2)
}

func TestPackAndReadBack(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>hi</h1>"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "foo"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "foo", "bar.md"), []byte("# bar"), 0o644))

	backend := newMemBackend()
	store := blobstore.New(backend)
	ctx := context.Background()

	result, err := Pack(ctx, store, "rustdoc/crate/1.0.0.zip", dir)
	require.NoError(t, err)
	require.Len(t, result.Index.Entries, 2)

	cacheDir := t.TempDir()
	cache, err := NewCache(cacheDir)
	require.NoError(t, err)

	exists, err := ExistsInArchive(ctx, store, cache, "rustdoc/crate/1.0.0.zip", "index.html")
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = ExistsInArchive(ctx, store, cache, "rustdoc/crate/1.0.0.zip", "missing.html")
	require.NoError(t, err)
	require.False(t, exists)

	b, err := GetFromArchive(ctx, store, cache, "rustdoc/crate/1.0.0.zip", "index.html", 1<<20)
	require.NoError(t, err)
	require.Equal(t, "<h1>hi</h1>", string(b.Content))
	require.Equal(t, "rustdoc/crate/1.0.0.zip/index.html", b.Path)

	b, err = GetFromArchive(ctx, store, cache, "rustdoc/crate/1.0.0.zip", "foo/bar.md", 1<<20)
	require.NoError(t, err)
	require.Equal(t, "# bar", string(b.Content))
	require.Equal(t, "text/markdown", b.MIME)
}

func TestGetFromArchiveUsesCacheOnSecondRead(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("aaa"), 0o644))

	backend := newMemBackend()
	store := blobstore.New(backend)
	ctx := context.Background()
	_, err := Pack(ctx, store, "archive.zip", dir)
	require.NoError(t, err)

	cacheDir := t.TempDir()
	cache, err := NewCache(cacheDir)
	require.NoError(t, err)

	_, err = GetFromArchive(ctx, store, cache, "archive.zip", "a.txt", 1<<20)
	require.NoError(t, err)

	// Delete the index blob from the backing store; a correctly
	// cached second read must not need it.
	require.NoError(t, backend.DeletePrefix(ctx, "archive.zip.index"))

	b, err := GetFromArchive(ctx, store, cache, "archive.zip", "a.txt", 1<<20)
	require.NoError(t, err)
	require.Equal(t, "aaa", string(b.Content))
}
