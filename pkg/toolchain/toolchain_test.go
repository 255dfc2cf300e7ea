package toolchain

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	values map[string]string
}

func newFakeStore() *fakeStore { return &fakeStore{values: map[string]string{}} }

func (f *fakeStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok := f.values[key]
	return v, ok, nil
}

func (f *fakeStore) Set(ctx context.Context, key, value string) error {
	f.values[key] = value
	return nil
}

// scriptedRunner records every invocation and returns canned output
// for `target list` and for `run <channel> rustc`, and "" otherwise.
type scriptedRunner struct {
	calls   [][]string
	version string
}

func (s *scriptedRunner) run(ctx context.Context, args ...string) (string, error) {
	s.calls = append(s.calls, args)
	switch {
	case len(args) >= 2 && args[0] == "target" && args[1] == "list":
		return "x86_64-unknown-linux-gnu\nwasm32-unknown-unknown\n", nil
	case len(args) >= 3 && args[0] == "run" && args[2] == "rustc":
		return s.version, nil
	default:
		return "", nil
	}
}

func newTestManager(t *testing.T) (*Manager, *scriptedRunner) {
	m := New("rustup", "nightly-test", newFakeStore(), zerolog.Nop())
	s := &scriptedRunner{version: "rustc 1.0.0 (abc 2024-01-01)"}
	m.run = s.run
	return m, s
}

func TestUpdateRemovesUnwantedTargetsBeforeUpdating(t *testing.T) {
	m, s := newTestManager(t)

	changed, err := m.Update(context.Background(), []string{"x86_64-unknown-linux-gnu"})
	require.NoError(t, err)
	require.False(t, changed)

	var removed, updated, added bool
	for _, call := range s.calls {
		joined := strings.Join(call, " ")
		switch {
		case strings.HasPrefix(joined, "target remove") && strings.Contains(joined, "wasm32-unknown-unknown"):
			removed = true
		case joined == "update nightly-test":
			updated = true
		case strings.HasPrefix(joined, "target add") && strings.Contains(joined, "x86_64-unknown-linux-gnu"):
			added = true
		}
	}
	require.True(t, removed, "expected the no-longer-wanted target to be removed")
	require.True(t, updated)
	require.True(t, added)
}

func TestUpdateDetectsVersionChange(t *testing.T) {
	m, s := newTestManager(t)
	calls := 0
	base := s.run
	m.run = func(ctx context.Context, args ...string) (string, error) {
		calls++
		if calls > 2 && len(args) >= 3 && args[0] == "run" && args[2] == "rustc" {
			return "rustc 1.1.0 (def 2024-02-01)", nil
		}
		return base(ctx, args...)
	}

	changed, err := m.Update(context.Background(), nil)
	require.NoError(t, err)
	require.True(t, changed)
}

func TestVersion(t *testing.T) {
	m, _ := newTestManager(t)
	v, err := m.Version(context.Background())
	require.NoError(t, err)
	require.Equal(t, "rustc 1.0.0 (abc 2024-01-01)", v)
}

func TestShortHashIsStableAndDeterministic(t *testing.T) {
	require.Equal(t, shortHash("rustc 1.0.0"), shortHash("rustc 1.0.0"))
	require.NotEqual(t, shortHash("rustc 1.0.0"), shortHash("rustc 1.0.1"))
	require.Len(t, shortHash("rustc 1.0.0"), 8)
}

func TestEssentialFilesHashEmptyWhenUnset(t *testing.T) {
	m, _ := newTestManager(t)
	h, err := m.EssentialFilesHash(context.Background())
	require.NoError(t, err)
	require.Empty(t, h)
}
