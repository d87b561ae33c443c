package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExitCodeFromError_StartupErrorMapsToTwo(t *testing.T) {
	err := wrapStartup(errors.New("boom"))
	code, ok := exitCodeFromError(err)
	require.True(t, ok)
	require.Equal(t, exitStartupFail, code)
}

func TestExitCodeFromError_PlainErrorIsUnmapped(t *testing.T) {
	_, ok := exitCodeFromError(errors.New("boom"))
	require.False(t, ok)
}

func TestWrapStartup_NilPassesThrough(t *testing.T) {
	require.NoError(t, wrapStartup(nil))
}
