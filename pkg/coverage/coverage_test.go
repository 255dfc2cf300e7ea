package coverage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractSumsQualifyingLines(t *testing.T) {
	log := []byte(`Compiling foobar v0.1.0
{"total": 10, "with_docs": 4}
   warning: unused import
{"total": 5, "with_docs": 5}
Finished in 1.2s
`)
	sum := Extract(log)
	require.Equal(t, Totals{Total: 15, WithDocs: 9}, sum)
	require.False(t, sum.Empty())
}

func TestExtractIgnoresMalformedJSONLookingLines(t *testing.T) {
	log := []byte("{not json}\n{\"total\": 1}\n")
	sum := Extract(log)
	require.Equal(t, Totals{Total: 1, WithDocs: 0}, sum)
}

func TestExtractNoCoverageLinesIsEmpty(t *testing.T) {
	sum := Extract([]byte("nothing interesting here\n"))
	require.True(t, sum.Empty())
}
