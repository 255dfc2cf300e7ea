package compress

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	for _, alg := range []Algorithm{None, Zstd, Gzip, Bzip2} {
		t.Run(alg.String(), func(t *testing.T) {
			data := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog. ", 200))
			packed, err := Compress(data, alg)
			require.NoError(t, err)
			require.NotEmpty(t, packed)

			unpacked, err := Decompress(packed, alg, int64(len(data)))
			require.NoError(t, err)
			require.Equal(t, data, unpacked)
		})
	}
}

func TestDecompressEnforcesMaxSizeDuringStreaming(t *testing.T) {
	data := []byte(strings.Repeat("a", 1<<20))
	packed, err := Compress(data, Zstd)
	require.NoError(t, err)

	_, err = Decompress(packed, Zstd, 1024)
	require.Error(t, err)
	var tooLarge *TooLargeError
	require.ErrorAs(t, err, &tooLarge)
	require.Equal(t, int64(1024), tooLarge.MaxSize)
}

func TestParse(t *testing.T) {
	for _, alg := range []Algorithm{None, Zstd, Gzip, Bzip2} {
		got, err := Parse(alg.String())
		require.NoError(t, err)
		require.Equal(t, alg, got)
	}
	_, err := Parse("lz4")
	require.Error(t, err)
}

func TestDefaultIsZstd(t *testing.T) {
	require.Equal(t, Zstd, Algorithm(Default))
}

func TestCompressUnsupportedAlgorithm(t *testing.T) {
	_, err := Compress([]byte("x"), Algorithm(255))
	require.Error(t, err)
}
