package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/offlinekit/recsync/internal/config"
	"github.com/offlinekit/recsync/internal/remote"
	isync "github.com/offlinekit/recsync/internal/sync"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagBaseURL    string
	flagToken      string
	flagDataDir    string
	flagSyncOnRead bool
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// resolvedCfg holds the effective configuration loaded by PersistentPreRunE.
// It is available to all subcommands after the root pre-run phase completes.
var resolvedCfg *config.Config

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recsync",
		Short: "Offline-first record sync client",
		Long: `recsync keeps a local replica of your records and synchronizes it
with the sync service when you ask it to. All edits land locally first, so
every command works offline; run 'recsync sync' to exchange changes.`,
		Version: version,
		// Silence Cobra's default error/usage printing — we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return loadConfig()
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagBaseURL, "base-url", "", "sync service endpoint")
	cmd.PersistentFlags().StringVar(&flagToken, "token", "", "bearer token for the sync service")
	cmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "state directory (default: platform data dir)")
	cmd.PersistentFlags().BoolVar(&flagSyncOnRead, "sync-on-read", false, "synchronize before list commands (best effort)")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	// Register subcommands.
	cmd.AddCommand(newAddCmd())
	cmd.AddCommand(newDoneCmd())
	cmd.AddCommand(newRmCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newResetCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the four-layer
// override chain and stores the result in resolvedCfg for use by
// subcommands. Flag values only override when explicitly set, so an empty
// --token does not clobber RECSYNC_TOKEN.
func loadConfig() error {
	cli := config.CLIOverrides{
		ConfigPath: flagConfigPath,
	}

	if flagBaseURL != "" {
		cli.BaseURL = &flagBaseURL
	}

	if flagToken != "" {
		cli.Token = &flagToken
	}

	if flagDataDir != "" {
		cli.DataDir = &flagDataDir
	}

	if flagSyncOnRead {
		cli.SyncOnRead = &flagSyncOnRead
	}

	resolved, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolvedCfg = resolved

	return nil
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Config-file log level provides the baseline; --verbose and
// --quiet override it because CLI flags always win. Format "auto" picks
// text for terminals and JSON otherwise.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo

	format := "auto"

	if resolvedCfg != nil {
		switch resolvedCfg.Logging.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}

		format = resolvedCfg.Logging.LogFormat
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if format == "json" || (format == "auto" && !isatty.IsTerminal(os.Stderr.Fd())) {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}

	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// newSession builds the sync session from the resolved config: the
// authenticated HTTP client, the remote client, and the lazily-initialized
// engine. The session owns the replica database; callers must Close it.
func newSession(logger *slog.Logger) (*isync.Session, error) {
	if resolvedCfg.Remote.BaseURL == "" {
		return nil, fmt.Errorf("no sync service configured — set base_url in %s, %s, or --base-url",
			config.DefaultConfigPath(), config.EnvBaseURL)
	}

	if err := os.MkdirAll(resolvedCfg.Storage.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	client := remote.NewClient(resolvedCfg.Remote.BaseURL, httpClient(), logger)

	return isync.NewSession(&isync.SessionConfig{
		DBPath:  config.StatePath(resolvedCfg.Storage.DataDir),
		Remote:  client,
		Queries: resolvedCfg.Sync.Queries,
		Policy: isync.ConflictPolicy{
			DiscardUnresolvedUpdates: resolvedCfg.Sync.DiscardUnresolvedUpdates,
		},
		Logger: logger,
	}), nil
}

// httpClient returns the HTTP client for the sync service: bearer-token
// authenticated when a token is configured, plain otherwise.
func httpClient() *http.Client {
	timeout := resolvedCfg.Timeout()

	if resolvedCfg.Remote.Token == "" {
		return &http.Client{Timeout: timeout}
	}

	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: resolvedCfg.Remote.Token})

	client := oauth2.NewClient(context.Background(), src)
	client.Timeout = timeout

	return client
}

// withSession wires the standard command scaffolding: logger, session,
// signal-aware context, and session teardown.
func withSession(fn func(ctx context.Context, s *isync.Session, logger *slog.Logger) error) error {
	logger := buildLogger()

	s, err := newSession(logger)
	if err != nil {
		return err
	}
	defer s.Close() //nolint:errcheck // read-mostly teardown

	return fn(shutdownContext(context.Background(), logger), s, logger)
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
