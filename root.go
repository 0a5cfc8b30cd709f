package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/anotepad/notesync/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// skipConfigAnnotation marks commands that work without a valid config
// file (they may be the ones that write it).
const skipConfigAnnotation = "skipConfig"

// CLIFlags are the global persistent flags.
type CLIFlags struct {
	ConfigPath string
	SyncDir    string
	JSON       bool
	Verbose    bool
	Quiet      bool
}

// CLIContext carries per-invocation state from the root pre-run to the
// subcommands through the command context.
type CLIContext struct {
	Flags    CLIFlags
	Logger   *slog.Logger
	Env      config.EnvOverrides
	Resolved *config.Resolved // nil for skipConfig commands whose config failed to load
}

type cliContextKey struct{}

func withCLIContext(ctx context.Context, cc *CLIContext) context.Context {
	return context.WithValue(ctx, cliContextKey{}, cc)
}

// mustCLIContext returns the CLIContext set by the root pre-run. Missing
// context is a programming error.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("CLIContext missing from command context")
	}

	return cc
}

// cliOverrides returns the CLI layer of the override chain.
func (cc *CLIContext) cliOverrides() config.CLIOverrides {
	return config.CLIOverrides{ConfigPath: cc.Flags.ConfigPath, SyncDir: cc.Flags.SyncDir}
}

// configPath is the file commands write to: --config, NOTESYNC_CONFIG,
// then the default location.
func (cc *CLIContext) configPath() string {
	if cc.Resolved != nil {
		return cc.Resolved.ConfigPath
	}

	switch {
	case cc.Flags.ConfigPath != "":
		return cc.Flags.ConfigPath
	case cc.Env.ConfigPath != "":
		return cc.Env.ConfigPath
	default:
		return config.DefaultConfigPath()
	}
}

// requireResolved returns the resolved config or the load error message
// for commands that cannot run without one.
func (cc *CLIContext) requireResolved() (*config.Resolved, error) {
	if cc.Resolved == nil {
		return nil, errors.New("configuration could not be loaded")
	}

	return cc.Resolved, nil
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered.
func newRootCmd() *cobra.Command {
	var flags CLIFlags

	cmd := &cobra.Command{
		Use:     "notesync",
		Short:   "Sync a folder of notes with Google Drive",
		Long:    "notesync keeps a local directory of .txt and .md notes in two-way sync with a Google Drive folder.",
		Version: version,
		// We print errors ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setupCLIContext(cmd, flags)
		},
	}

	cmd.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flags.SyncDir, "sync-dir", "", "local notes directory (overrides config)")
	cmd.PersistentFlags().BoolVar(&flags.JSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "suppress informational output")
	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newConflictsCmd())
	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newPauseCmd())
	cmd.AddCommand(newResumeCmd())
	cmd.AddCommand(newFoldersCmd())
	cmd.AddCommand(newUseFolderCmd())

	return cmd
}

// setupCLIContext resolves configuration, builds the logger and stores
// both in the command context.
func setupCLIContext(cmd *cobra.Command, flags CLIFlags) error {
	cc := &CLIContext{Flags: flags, Env: config.ReadEnvOverrides()}

	resolved, err := config.Resolve(cc.Env, cc.cliOverrides())
	if err != nil {
		if cmd.Annotations[skipConfigAnnotation] == "" {
			return fmt.Errorf("loading config: %w", err)
		}

		// Commands that edit the config still run; they report the
		// problem at debug level only.
		cc.Logger = buildLogger(os.Stderr, nil, flags)
		cc.Logger.Debug("config not loaded", slog.String("error", err.Error()))
	} else {
		cc.Resolved = resolved
		cc.Logger = buildLogger(os.Stderr, &resolved.Config.Logging, flags)
	}

	slog.SetDefault(cc.Logger)
	cmd.SetContext(withCLIContext(cmd.Context(), cc))

	return nil
}

// buildLogger creates the process logger. The config file sets the
// baseline level and format; --verbose and --quiet override the level.
// Format "auto" picks a colored tint handler on a terminal and plain text
// otherwise.
func buildLogger(w io.Writer, lc *config.LoggingConfig, flags CLIFlags) *slog.Logger {
	level := slog.LevelInfo
	format := "auto"

	if lc != nil {
		switch lc.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}

		format = lc.LogFormat
	}

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	case "text":
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	}

	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		return slog.New(tint.NewHandler(w, &tint.Options{Level: level, TimeFormat: time.Kitchen}))
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// newHTTPClient returns the client used for Drive API calls.
func newHTTPClient(timeout time.Duration, transport http.RoundTripper) *http.Client {
	return &http.Client{Timeout: timeout, Transport: transport}
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
