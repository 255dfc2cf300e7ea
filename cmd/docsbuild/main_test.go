package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRootCommandWiresExpectedSubcommands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	require.ElementsMatch(t, []string{"daemon", "build", "build-local", "queue", "database"}, names)
}

func TestConfigErrorUnwraps(t *testing.T) {
	inner := errors.New("DATABASE_URL is required")
	ce := &configError{inner}
	require.Equal(t, inner.Error(), ce.Error())
	require.ErrorIs(t, ce, inner)
}
