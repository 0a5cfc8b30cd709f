package runner

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/anotepad/notesync/internal/metrics"
	"github.com/anotepad/notesync/internal/sync"
)

// ErrAuthRequired stops watch mode when the credential is missing or was
// rejected.
var ErrAuthRequired = errors.New("runner: authorization required, run 'notesync login'")

// defaultPollInterval applies when the options supply none.
const defaultPollInterval = 5 * time.Minute

// WatchOptions configure watch mode. Functions are consulted before every
// run so a config reload takes effect immediately.
type WatchOptions struct {
	PollInterval func() time.Duration
	SyncDir      func() string

	// Reload refreshes configuration before each run. Optional.
	Reload func() error

	// Triggers requests an immediate run, e.g. on SIGHUP. Optional.
	Triggers <-chan struct{}
}

// Execute performs one pass and classifies it, logging the outcome.
func (r *Runner) Execute(ctx context.Context) (Outcome, sync.Result, error) {
	res, err := r.RunOnce(ctx)
	out := Decide(res, err)

	switch {
	case errors.Is(err, ErrAlreadyRunning):
		r.logger.Info("sync skipped, another sync is running")
	case out.Unexpected:
		r.logger.Error("unexpected sync error", slog.String("error", err.Error()))
	case err != nil && out.Decision == Retry:
		r.logger.Warn("sync failed, will retry", slog.String("error", err.Error()))
	case err != nil && out.Decision == Fail:
		r.logger.Error("sync failed", slog.String("error", err.Error()), slog.Bool("auth_required", out.AuthRequired))
	case out.Decision == Fail:
		r.logger.Error("sync cannot run", slog.String("result", res.String()), slog.Bool("auth_required", out.AuthRequired))
	case res != nil:
		r.logger.Debug("sync finished", slog.String("result", res.String()))
	}

	return out, res, err
}

// Watch runs passes until ctx is canceled: immediately, then on every poll
// interval, after local filesystem changes settle, on external triggers,
// and on scheduled retries with exponential backoff. It returns
// ErrAuthRequired when the user has to sign in again; other terminal
// failures wait for a config change.
func (r *Runner) Watch(ctx context.Context, opts WatchOptions) error {
	w := &watchState{r: r, opts: opts}
	defer w.closeWatcher()

	poll := time.NewTimer(0)
	defer poll.Stop()

	var (
		retries int
		retry   *time.Timer
		retryC  <-chan time.Time
	)

	defer func() {
		if retry != nil {
			retry.Stop()
		}
	}()

	for {
		var trigger string

		select {
		case <-ctx.Done():
			return nil
		case <-poll.C:
			trigger = "poll"
		case <-w.changes():
			trigger = "local change"
		case <-retryC:
			trigger = "retry"
			retryC = nil
		case <-opts.Triggers:
			trigger = "signal"
		}

		if opts.Reload != nil {
			if err := opts.Reload(); err != nil {
				r.logger.Warn("config reload failed, keeping previous config", slog.String("error", err.Error()))
			}
		}

		w.ensureWatcher(ctx)

		r.logger.Debug("sync triggered", slog.String("trigger", trigger))

		out, _, _ := r.Execute(ctx)
		if ctx.Err() != nil {
			return nil
		}

		switch out.Decision {
		case Retry:
			retries++
			delay := r.backoff(retries, out.RetryAfter)

			if retry != nil {
				retry.Stop()
			}

			retry = time.NewTimer(delay)
			retryC = retry.C

			r.logger.Info("retry scheduled", slog.Int("attempt", retries), slog.Duration("delay", delay))
		case Fail:
			if out.AuthRequired {
				return ErrAuthRequired
			}

			retries = 0
		default:
			retries = 0
		}

		metrics.SetConsecutiveRetries(retries)
		resetTimer(poll, w.pollInterval())
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}

	t.Reset(d)
}

// watchState tracks the local watcher, which follows sync_dir across
// reloads.
type watchState struct {
	r      *Runner
	opts   WatchOptions
	dir    string
	lw     *localWatcher
	cancel context.CancelFunc
}

func (w *watchState) pollInterval() time.Duration {
	if w.opts.PollInterval == nil {
		return defaultPollInterval
	}

	if d := w.opts.PollInterval(); d > 0 {
		return d
	}

	return defaultPollInterval
}

// changes returns the debounced local change channel, or nil (blocks
// forever) when no directory is watched.
func (w *watchState) changes() <-chan struct{} {
	if w.lw == nil {
		return nil
	}

	return w.lw.C()
}

func (w *watchState) ensureWatcher(ctx context.Context) {
	dir := ""
	if w.opts.SyncDir != nil {
		dir = w.opts.SyncDir()
	}

	if dir == w.dir && w.lw != nil {
		return
	}

	w.closeWatcher()
	w.dir = dir

	if dir == "" {
		return
	}

	lw, err := newLocalWatcher(dir, w.r.logger)
	if err != nil {
		w.r.logger.Warn("local change watching unavailable, relying on polling",
			slog.String("sync_dir", dir),
			slog.String("error", err.Error()),
		)

		return
	}

	wctx, cancel := context.WithCancel(ctx)
	w.lw = lw
	w.cancel = cancel

	go lw.run(wctx)
}

func (w *watchState) closeWatcher() {
	if w.lw == nil {
		return
	}

	w.cancel()

	if err := w.lw.Close(); err != nil {
		w.r.logger.Debug("closing local watcher", slog.String("error", err.Error()))
	}

	w.lw = nil
	w.cancel = nil
}
