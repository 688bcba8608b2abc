package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tonimelisma/acctsync/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// skipConfigAnnotation marks commands that must run without a resolved
// config, such as `config init` which creates the file in the first place.
const skipConfigAnnotation = "skipConfig"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagDBPath     string
	flagActor      string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// CLIFlags is a snapshot of the global flags for one invocation.
type CLIFlags struct {
	ConfigPath string
	DBPath     string
	Actor      string
	JSON       bool
	Verbose    bool
	Quiet      bool
}

// CLIContext carries everything the root pre-run resolved. Subcommands get
// it from their command context with mustCLIContext.
type CLIContext struct {
	Flags   CLIFlags
	Cfg     *config.Config // nil for skipConfig commands
	CfgPath string
	Env     config.EnvOverrides
	CLI     config.CLIOverrides
	Logger  *slog.Logger

	closeLog func() error
}

type cliContextKey struct{}

func withCLIContext(ctx context.Context, cc *CLIContext) context.Context {
	return context.WithValue(ctx, cliContextKey{}, cc)
}

// mustCLIContext returns the CLIContext stored by the root pre-run. A
// missing context is a programming error.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("acctsync: command context has no CLIContext")
	}

	return cc
}

// requireActor returns --actor or an error naming the command.
func (cc *CLIContext) requireActor(command string) (string, error) {
	if cc.Flags.Actor == "" {
		return "", fmt.Errorf("--actor is required for %s", command)
	}

	return cc.Flags.Actor, nil
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "acctsync",
		Short: "Accounting sync engine",
		Long: `Push locally created vendors, customers, projects, bills, invoices and
payments into the accounting provider, tracking every record's sync state and
retrying transient failures in the background.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			cc, ok := cmd.Context().Value(cliContextKey{}).(*CLIContext)
			if !ok || cc.closeLog == nil {
				return nil
			}

			return cc.closeLog()
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagDBPath, "db", "", "sync database path")
	cmd.PersistentFlags().StringVar(&flagActor, "actor", "", "actor (user) id the command acts for")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")
	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newEnqueueCmd())
	cmd.AddCommand(newSweepCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newAuditCmd())
	cmd.AddCommand(newConnectCmd())
	cmd.AddCommand(newImportCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newReloadCmd())
	cmd.AddCommand(newTokenCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

func currentFlags() CLIFlags {
	return CLIFlags{
		ConfigPath: flagConfigPath,
		DBPath:     flagDBPath,
		Actor:      flagActor,
		JSON:       flagJSON,
		Verbose:    flagVerbose,
		Quiet:      flagQuiet,
	}
}

// flagLogLevel maps --verbose / --quiet onto a log level. Empty means the
// flags leave the configured level alone.
func flagLogLevel(f CLIFlags) string {
	switch {
	case f.Verbose:
		return "debug"
	case f.Quiet:
		return "error"
	default:
		return ""
	}
}

// loadConfig resolves the effective configuration from the four-layer
// override chain, builds the logger, and stores both in the command context.
func loadConfig(cmd *cobra.Command) error {
	flags := currentFlags()
	cc := &CLIContext{Flags: flags}

	cc.CLI = config.CLIOverrides{ConfigPath: flags.ConfigPath}

	if cmd.Flags().Changed("db") {
		cc.CLI.DBPath = &flags.DBPath
	}

	if lvl := flagLogLevel(flags); lvl != "" {
		cc.CLI.LogLevel = &lvl
	}

	if cmd.Annotations[skipConfigAnnotation] != "" {
		lc := config.DefaultConfig().Logging
		if cc.CLI.LogLevel != nil {
			lc.LogLevel = *cc.CLI.LogLevel
		}

		cc.CfgPath = config.ConfigPath(config.ReadEnvOverrides(), cc.CLI)
		cc.Logger, cc.closeLog = buildLogger(lc, os.Stderr)
		cmd.SetContext(withCLIContext(cmd.Context(), cc))

		return nil
	}

	if err := config.LoadDotEnv(); err != nil {
		return err
	}

	cc.Env = config.ReadEnvOverrides()
	cc.CfgPath = config.ConfigPath(cc.Env, cc.CLI)

	cfg, err := config.Resolve(cc.Env, cc.CLI)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cc.Cfg = cfg
	cc.Logger, cc.closeLog = buildLogger(cfg.Logging, os.Stderr)

	cc.Logger.Debug("config resolved",
		slog.String("path", cc.CfgPath),
		slog.String("db", cfg.Store.Path),
	)

	cmd.SetContext(withCLIContext(cmd.Context(), cc))

	return nil
}

// buildLogger creates the process logger from the logging section. With
// log_file set, output goes to a size-rotated file instead of stderr. The
// auto format is text on a terminal and JSON everywhere else. The returned
// function closes the log file, if any.
func buildLogger(lc config.LoggingConfig, stderr *os.File) (*slog.Logger, func() error) {
	var (
		out      io.Writer = stderr
		closeLog           = func() error { return nil }
		terminal           = isatty.IsTerminal(stderr.Fd()) || isatty.IsCygwinTerminal(stderr.Fd())
	)

	if lc.LogFile != "" {
		rotator := &lumberjack.Logger{
			Filename: lc.LogFile,
			MaxSize:  lc.LogMaxSizeMB,
			MaxAge:   lc.LogRetentionDays,
		}

		out = rotator
		closeLog = rotator.Close
		terminal = false
	}

	opts := &slog.HandlerOptions{Level: parseLevel(lc.LogLevel)}

	useJSON := lc.LogFormat == "json" || (lc.LogFormat != "text" && !terminal)
	if useJSON {
		return slog.New(slog.NewJSONHandler(out, opts)), closeLog
	}

	return slog.New(slog.NewTextHandler(out, opts)), closeLog
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
