package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/acctsync/internal/config"
)

// Global flag reset pattern: newRootCmd() binds flags via StringVar/BoolVar,
// which resets the global flag variables to their defaults. Set globals
// after newRootCmd() returns, or let Cobra parse them via SetArgs.

func nonTerminal(t *testing.T) *os.File {
	t.Helper()

	f, err := os.CreateTemp(t.TempDir(), "stderr")
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })

	return f
}

func TestBuildLogger_Levels(t *testing.T) {
	tests := []struct {
		level   string
		enabled slog.Level
		hidden  slog.Level
	}{
		{"debug", slog.LevelDebug, slog.LevelDebug - 1},
		{"info", slog.LevelInfo, slog.LevelDebug},
		{"warn", slog.LevelWarn, slog.LevelInfo},
		{"error", slog.LevelError, slog.LevelWarn},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			lc := config.DefaultConfig().Logging
			lc.LogLevel = tt.level

			logger, closeLog := buildLogger(lc, nonTerminal(t))
			defer closeLog()

			ctx := context.Background()
			assert.True(t, logger.Handler().Enabled(ctx, tt.enabled))
			assert.False(t, logger.Handler().Enabled(ctx, tt.hidden))
		})
	}
}

func TestBuildLogger_Format(t *testing.T) {
	tests := []struct {
		format string
		json   bool
	}{
		{"auto", true}, // a regular file is not a terminal
		{"json", true},
		{"text", false},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			lc := config.DefaultConfig().Logging
			lc.LogFormat = tt.format

			logger, closeLog := buildLogger(lc, nonTerminal(t))
			defer closeLog()

			_, isJSON := logger.Handler().(*slog.JSONHandler)
			assert.Equal(t, tt.json, isJSON)
		})
	}
}

func TestBuildLogger_LogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "acctsync.log")

	lc := config.DefaultConfig().Logging
	lc.LogFile = path

	stderr := nonTerminal(t)

	logger, closeLog := buildLogger(lc, stderr)
	logger.Info("hello", slog.String("k", "v"))
	require.NoError(t, closeLog())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)

	info, err := stderr.Stat()
	require.NoError(t, err)
	assert.Zero(t, info.Size(), "nothing goes to stderr when a log file is set")
}

func TestFlagLogLevel(t *testing.T) {
	assert.Equal(t, "debug", flagLogLevel(CLIFlags{Verbose: true}))
	assert.Equal(t, "error", flagLogLevel(CLIFlags{Quiet: true}))
	assert.Empty(t, flagLogLevel(CLIFlags{}))
}

func TestRootCmd_VerboseAndQuietConflict(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"-v", "-q", "status"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "none of the others can be")
}

func TestRootCmd_RegistersCommands(t *testing.T) {
	cmd := newRootCmd()

	for _, name := range []string{
		"sync", "enqueue", "sweep", "status", "audit", "connect", "import",
		"serve", "reload", "token", "config",
	} {
		found, _, err := cmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, found.Name())
	}
}

func TestMustCLIContext_PanicsWithoutContext(t *testing.T) {
	assert.Panics(t, func() { mustCLIContext(context.Background()) })

	cc := &CLIContext{Flags: CLIFlags{Actor: "u-9"}}
	assert.Same(t, cc, mustCLIContext(withCLIContext(context.Background(), cc)))
}

func TestRequireActor(t *testing.T) {
	_, err := (&CLIContext{}).requireActor("enqueue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "enqueue")

	actor, err := (&CLIContext{Flags: CLIFlags{Actor: "u-9"}}).requireActor("enqueue")
	require.NoError(t, err)
	assert.Equal(t, "u-9", actor)
}
