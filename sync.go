package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/anotepad/notesync/internal/metrics"
	"github.com/anotepad/notesync/internal/runner"
	"github.com/anotepad/notesync/internal/sync"
)

// errSyncRetryable marks one-shot failures that a later run may fix. main
// maps it to exit code 75.
var errSyncRetryable = errors.New("sync failed, retry later")

// metricsShutdownTimeout bounds how long the metrics listener may take to
// drain on exit.
const metricsShutdownTimeout = 5 * time.Second

func newSyncCmd() *cobra.Command {
	var (
		watch       bool
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize notes with Google Drive",
		Long: `Run one sync pass between the local notes directory and the Drive folder.

With --watch, keep running: sync on local changes, on every poll interval,
and after "notesync pause" or "notesync resume" edit the config. Transient
failures are retried with exponential backoff.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd.Context(), mustCLIContext(cmd.Context()), watch, metricsAddr)
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "keep running and sync on changes")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address in watch mode (e.g. :9464)")

	return cmd
}

func runSync(ctx context.Context, cc *CLIContext, watch bool, metricsAddr string) error {
	a, err := openApp(ctx, cc)
	if err != nil {
		return err
	}
	defer a.Close()

	r := runner.New(a.engine(), a.paths.Lock(), a.logger)

	if watch {
		return runWatch(ctx, cc, a, r, metricsAddr)
	}

	return runOneShot(ctx, cc, r)
}

func runOneShot(ctx context.Context, cc *CLIContext, r *runner.Runner) error {
	out, res, err := r.Execute(shutdownContext(ctx, cc.Logger))

	if errors.Is(err, runner.ErrAlreadyRunning) {
		cc.Statusf("Another sync is running, nothing to do\n")

		return nil
	}

	switch out.Decision {
	case runner.Done:
		printResult(cc, res)

		return nil
	case runner.Retry:
		return fmt.Errorf("%w: %w", errSyncRetryable, err)
	case runner.Fail:
		return syncFailure(out, res, err)
	}

	return nil
}

// syncFailure turns a terminal outcome into the user-facing error.
func syncFailure(out runner.Outcome, res sync.Result, err error) error {
	reason := ""

	switch {
	case err != nil:
		reason = err.Error()
	case res != nil:
		if f, ok := res.(sync.Failure); ok {
			reason = f.Reason
		} else {
			reason = res.String()
		}
	}

	if out.AuthRequired {
		return fmt.Errorf("%s (run 'notesync login')", reason)
	}

	return errors.New(reason)
}

func printResult(cc *CLIContext, res sync.Result) {
	switch v := res.(type) {
	case sync.Success:
		if v.Report.Changed() {
			cc.Statusf("Synced: %s\n", v.Report)
		} else {
			cc.Statusf("Already in sync\n")
		}
	case sync.Skipped:
		cc.Statusf("Sync skipped: %s\n", v.Reason)
	}
}

func runWatch(ctx context.Context, cc *CLIContext, a *app, r *runner.Runner, metricsAddr string) error {
	cleanup, err := writePIDFile(filepath.Join(a.paths.DataDir, pidFileName))
	if err != nil {
		return err
	}
	defer cleanup()

	ctx = shutdownContext(ctx, a.logger)

	if metricsAddr != "" {
		stop := serveMetrics(metricsAddr, a.logger)
		defer stop()
	}

	a.logger.Info("watch mode started",
		slog.String("sync_dir", a.holder.Config().Sync.SyncDir),
		slog.String("config", a.holder.Path()),
	)

	err = r.Watch(ctx, runner.WatchOptions{
		PollInterval: func() time.Duration { return a.holder.Config().Sync.PollIntervalDuration() },
		SyncDir:      func() string { return a.holder.Config().Sync.SyncDir },
		Reload:       a.holder.Reload,
		Triggers:     reloadTriggers(ctx, a.logger),
	})

	if err != nil {
		return err
	}

	cc.Statusf("Stopped\n")

	return nil
}

// serveMetrics exposes /metrics until the returned stop function runs.
func serveMetrics(addr string, logger *slog.Logger) (stop func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		logger.Info("serving metrics", slog.String("addr", addr))

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("stopping metrics server", slog.String("error", err.Error()))
		}
	}
}
