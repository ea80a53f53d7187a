package main

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offlinekit/recsync/internal/config"
)

// Global flag reset pattern: newRootCmd() binds flags via StringVar/BoolVar,
// which reset the global flag variables to their zero values. Tests set
// globals AFTER newRootCmd() returns, and restore them in cleanup.

func saveFlags(t *testing.T) {
	t.Helper()

	oldVerbose, oldQuiet, oldJSON := flagVerbose, flagQuiet, flagJSON
	oldCfg := resolvedCfg

	t.Cleanup(func() {
		flagVerbose, flagQuiet, flagJSON = oldVerbose, oldQuiet, oldJSON
		resolvedCfg = oldCfg
	})
}

func TestBuildLoggerDefault(t *testing.T) {
	saveFlags(t)

	flagVerbose = false
	flagQuiet = false
	resolvedCfg = config.DefaultConfig()

	logger := buildLogger()

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLoggerVerbose(t *testing.T) {
	saveFlags(t)

	flagVerbose = true
	flagQuiet = false
	resolvedCfg = config.DefaultConfig()

	logger := buildLogger()

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLoggerQuietBeatsConfig(t *testing.T) {
	saveFlags(t)

	flagVerbose = false
	flagQuiet = true
	resolvedCfg = config.DefaultConfig()
	resolvedCfg.Logging.LogLevel = "debug"

	logger := buildLogger()

	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelWarn))
	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelError))
}

func TestNewRootCmdRegistersSubcommands(t *testing.T) {
	cmd := newRootCmd()

	want := []string{"add", "done", "rm", "list", "sync", "status", "reset"}

	for _, name := range want {
		found := false

		for _, sub := range cmd.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}

		assert.True(t, found, "missing subcommand %q", name)
	}
}

func TestRootCmdBindsSyncOnReadFlag(t *testing.T) {
	cmd := newRootCmd()

	flag := cmd.PersistentFlags().Lookup("sync-on-read")
	require.NotNil(t, flag)
	assert.Equal(t, "false", flag.DefValue)
}

func TestNewSessionRequiresBaseURL(t *testing.T) {
	saveFlags(t)

	resolvedCfg = config.DefaultConfig()
	resolvedCfg.Storage.DataDir = t.TempDir()

	_, err := newSession(slog.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no sync service configured")
}

func TestNewSessionWithBaseURL(t *testing.T) {
	saveFlags(t)

	resolvedCfg = config.DefaultConfig()
	resolvedCfg.Remote.BaseURL = "https://sync.example.com"
	resolvedCfg.Remote.Token = "secret"
	resolvedCfg.Storage.DataDir = t.TempDir()

	s, err := newSession(slog.Default())
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.NoError(t, s.Close())
}
