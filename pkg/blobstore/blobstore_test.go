package blobstore

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"docsbuild.dev/docsbuild/pkg/compress"
)

// memBackend is a minimal in-memory Backend used only to exercise the
// Storage façade (compression, batching, MIME detection) in isolation
// from any real backend's I/O.
type memBackend struct {
	mu   sync.Mutex
	data map[string]entry
}

type entry struct {
	raw      []byte
	alg      compress.Algorithm
	mimeType string
}

func newMemBackend() *memBackend { return &memBackend{data: make(map[string]entry)} }

func (m *memBackend) Exists(ctx context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[path]
	return ok, nil
}

func (m *memBackend) GetRaw(ctx context.Context, path string) ([]byte, compress.Algorithm, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[path]
	if !ok {
		return nil, 0, "", ErrNotFound
	}
	return e.raw, e.alg, e.mimeType, nil
}

func (m *memBackend) GetRangeRaw(ctx context.Context, path string, start, end int64) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[path]
	if !ok {
		return nil, ErrNotFound
	}
	return e.raw[start : end+1], nil
}

func (m *memBackend) PutRaw(ctx context.Context, path string, data []byte, alg compress.Algorithm, mimeType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[path] = entry{raw: data, alg: alg, mimeType: mimeType}
	return nil
}

func (m *memBackend) DeletePrefix(ctx context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.data {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(m.data, k)
		}
	}
	return nil
}

func (m *memBackend) Close() error { return nil }

func TestStoreOneGet(t *testing.T) {
	s := New(newMemBackend())
	ctx := context.Background()

	alg, err := s.StoreOne(ctx, "crate/1.0.0/README.md", []byte("# hello"))
	require.NoError(t, err)
	require.Equal(t, compress.Default, alg)

	got, err := s.Get(ctx, "crate/1.0.0/README.md", 1<<20)
	require.NoError(t, err)
	require.Equal(t, "# hello", string(got.Content))
	require.Equal(t, "text/markdown", got.MIME)
}

func TestGetTooLarge(t *testing.T) {
	s := New(newMemBackend())
	ctx := context.Background()
	_, err := s.StoreOne(ctx, "big.txt", make([]byte, 1<<16))

	require.NoError(t, err)
	_, err = s.Get(ctx, "big.txt", 10)
	var tooLarge *TooLargeError
	require.ErrorAs(t, err, &tooLarge)
}

func TestStoreAllWalksDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html></html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "notes.md"), []byte("# notes"), 0o644))

	s := New(newMemBackend())
	ctx := context.Background()
	result, err := s.StoreAll(ctx, "crate/1.0.0", dir)
	require.NoError(t, err)
	require.Len(t, result.MIMEByPath, 2)
	require.Equal(t, "text/html", result.MIMEByPath["crate/1.0.0/index.html"])
	require.Equal(t, "text/markdown", result.MIMEByPath["crate/1.0.0/sub/notes.md"])

	got, err := s.Get(ctx, "crate/1.0.0/sub/notes.md", 1<<20)
	require.NoError(t, err)
	require.Equal(t, "# notes", string(got.Content))
}

func TestDeletePrefixThroughFacade(t *testing.T) {
	s := New(newMemBackend())
	ctx := context.Background()
	_, err := s.StoreOne(ctx, "crate/1.0.0/index.html", []byte("x"))
	require.NoError(t, err)

	require.NoError(t, s.DeletePrefix(ctx, "crate/1.0.0"))
	exists, err := s.Exists(ctx, "crate/1.0.0/index.html")
	require.NoError(t, err)
	require.False(t, exists)
}
