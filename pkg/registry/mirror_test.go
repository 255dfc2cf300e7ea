package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestForEachReleaseStreamsJSONLines(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "fo", "ob"), 0o755))
	indexFile := filepath.Join(dir, "fo", "ob", "foobar")
	content := `{"name":"foobar","vers":"0.1.0","deps":[]}
{"name":"foobar","vers":"0.2.0","deps":[]}
`
	require.NoError(t, os.WriteFile(indexFile, []byte(content), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{"dl":"x"}`), 0o644))

	m := &Mirror{path: dir}
	var got [][2]string
	err := m.ForEachRelease(func(name, version string) error {
		got = append(got, [2]string{name, version})
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, [][2]string{{"foobar", "0.1.0"}, {"foobar", "0.2.0"}}, got)
}

func TestForEachReleaseSkipsNonIndexFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("not json"), 0o644))

	m := &Mirror{path: dir}
	calls := 0
	err := m.ForEachRelease(func(name, version string) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 0, calls)
}
