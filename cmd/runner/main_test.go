package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRootCmd_RegistersEverySubcommand(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	require.True(t, names["server"])
	require.True(t, names["worker"])
	require.True(t, names["scheduler"])
}

func TestCheckOriginFromHosts_EmptyReturnsNil(t *testing.T) {
	require.Nil(t, checkOriginFromHosts(nil))
}

func TestCheckOriginFromHosts_RestrictsToConfiguredHosts(t *testing.T) {
	check := checkOriginFromHosts([]string{"example.com"})
	require.NotNil(t, check)
}
