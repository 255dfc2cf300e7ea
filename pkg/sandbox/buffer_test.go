package sandbox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCappedBufferTruncates(t *testing.T) {
	b := newCappedBuffer(5)
	n, err := b.Write([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, 11, n)
	require.Equal(t, []byte("hello"), b.Bytes())
}

func TestCappedBufferAccumulatesAcrossWrites(t *testing.T) {
	b := newCappedBuffer(100)
	b.Write([]byte("foo"))
	b.Write([]byte("bar"))
	require.Equal(t, []byte("foobar"), b.Bytes())
}

func TestCappedBufferZeroLimitDefaults(t *testing.T) {
	b := newCappedBuffer(0)
	require.Equal(t, int64(1<<20), b.limit)
}
