package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{
		"produce", "upload", "encode", "leftovers", "compare", "audit", "fetch", "auth",
	} {
		assert.True(t, names[want], "command %q not registered", want)
	}
}

func TestPersistentFlags(t *testing.T) {
	cfg := rootCmd.PersistentFlags().Lookup("config")
	require.NotNil(t, cfg)
	assert.Equal(t, "config.yaml", cfg.DefValue)

	dbg := rootCmd.PersistentFlags().Lookup("debug")
	require.NotNil(t, dbg)
	assert.Equal(t, "false", dbg.DefValue)
}

func TestLeftoversFlagDefaults(t *testing.T) {
	f := leftoversCmd.Flags()
	for flag, want := range map[string]string{
		"bucket":      "raw",
		"skip-closed": "true",
		"check-drive": "true",
		"fail-closed": "false",
	} {
		lookup := f.Lookup(flag)
		require.NotNil(t, lookup, flag)
		assert.Equal(t, want, lookup.DefValue, flag)
	}
}

func TestNewLogger(t *testing.T) {
	logger := newLogger()
	require.NotNil(t, logger)
	logger.Debug("suppressed at default level")
}
