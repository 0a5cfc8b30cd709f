// Package runner invokes the sync engine: it enforces a single run at a
// time within and across processes, classifies outcomes into done, retry
// or fail, and drives watch mode.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/singleflight"

	"github.com/anotepad/notesync/internal/metrics"
	"github.com/anotepad/notesync/internal/sync"
)

// ErrAlreadyRunning is returned when another process holds the sync lock.
var ErrAlreadyRunning = errors.New("runner: another sync is already running")

// lockDirPermissions matches the data directory permissions.
const lockDirPermissions = 0o700

// singleflightKey groups concurrent in-process callers onto one run.
const singleflightKey = "sync"

// Syncer runs one reconciliation pass, satisfied by *sync.Engine.
type Syncer interface {
	RunSync(ctx context.Context) (sync.Result, error)
}

// Runner serializes sync passes.
type Runner struct {
	syncer  Syncer
	lock    *flock.Flock
	group   singleflight.Group
	logger  *slog.Logger
	nowFunc func() time.Time

	// backoff computes retry delays; tests shorten it.
	backoff func(n int, retryAfter time.Duration) time.Duration
}

// New creates a Runner guarding runs with a lock file at lockPath.
func New(syncer Syncer, lockPath string, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		syncer:  syncer,
		lock:    flock.New(lockPath),
		logger:  logger,
		nowFunc: time.Now,
		backoff: func(n int, retryAfter time.Duration) time.Duration {
			return backoffDuration(n, retryAfter, nil)
		},
	}
}

// RunOnce performs one pass. Concurrent callers in this process share the
// pass already in flight; a pass held by another process yields
// ErrAlreadyRunning.
func (r *Runner) RunOnce(ctx context.Context) (sync.Result, error) {
	v, err, shared := r.group.Do(singleflightKey, func() (any, error) {
		return r.runLocked(ctx)
	})

	if shared {
		r.logger.Debug("joined sync already in flight")
	}

	res, _ := v.(sync.Result)

	return res, err
}

func (r *Runner) runLocked(ctx context.Context) (sync.Result, error) {
	if err := os.MkdirAll(filepath.Dir(r.lock.Path()), lockDirPermissions); err != nil {
		return nil, fmt.Errorf("runner: creating lock directory: %w", err)
	}

	locked, err := r.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("runner: acquiring lock %s: %w", r.lock.Path(), err)
	}

	if !locked {
		return nil, ErrAlreadyRunning
	}

	defer func() {
		if err := r.lock.Unlock(); err != nil {
			r.logger.Warn("failed to release sync lock", slog.String("error", err.Error()))
		}
	}()

	started := r.nowFunc()
	res, err := r.safeRun(ctx)
	record(res, err, r.nowFunc().Sub(started), r.nowFunc())

	return res, err
}

// safeRun calls the engine with panic recovery so a bug in one pass does
// not take down watch mode.
func (r *Runner) safeRun(ctx context.Context) (res sync.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("panic in sync run", slog.Any("panic", p))
			res = nil
			err = fmt.Errorf("runner: panic in sync run: %v", p)
		}
	}()

	return r.syncer.RunSync(ctx)
}

// record feeds the run outcome to metrics.
func record(res sync.Result, err error, elapsed time.Duration, finished time.Time) {
	outcome := metrics.OutcomeError

	switch v := res.(type) {
	case sync.Success:
		outcome = metrics.OutcomeSuccess
		rep := v.Report
		metrics.RecordFileOps("upload", rep.Uploads)
		metrics.RecordFileOps("download", rep.Downloads)
		metrics.RecordFileOps("conflict", rep.Conflicts)
		metrics.RecordFileOps("remote_delete", rep.RemoteDeletes)
		metrics.RecordFileOps("local_trash", rep.LocalTrashed)
		metrics.RecordFileOps("detach", rep.Detached)
		metrics.RecordFileOps("folder_create", rep.FoldersCreated)
		metrics.RecordFileOps("relocate", rep.Relocations)
	case sync.Skipped:
		outcome = metrics.OutcomeSkipped
	case sync.Failure:
		outcome = metrics.OutcomeFailure
	}

	if err != nil {
		outcome = metrics.OutcomeError
	}

	metrics.RecordRun(outcome, elapsed, finished)
}
