// Package sync reconciles a local directory of notes with a remote folder
// tree. One RunSync call is a single sequential pass: ensure the remote
// root, push local changes, pull remote changes.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/anotepad/notesync/internal/drive"
	"github.com/anotepad/notesync/internal/state"
)

// DefaultFolderName names the remote root created on first sync.
const DefaultFolderName = "MiniNoteViewer"

// Status messages persisted for display.
const (
	msgDisabled     = "Sync disabled"
	msgPaused       = "Sync paused"
	msgNoLocalRoot  = "No local folder selected"
	msgSignIn       = "Sign in required"
	msgRunning      = "Syncing..."
	msgSynced       = "Synced"
	msgNetwork      = "Network error, will retry"
	msgCanceled     = "Sync canceled"
	msgUnexpected   = "Unexpected error"
	msgAuthRequired = "Authorization required"
)

// ErrNoLocalRoot is the reason carried by the precondition failure when no
// usable local directory is configured.
var ErrNoLocalRoot = errors.New("sync: no local folder selected")

// Deps are the collaborators of an Engine.
type Deps struct {
	Remote    RemoteClient
	Store     StateStore
	Creds     CredentialProvider
	Settings  SettingsSource
	OpenLocal LocalOpener
	Logger    *slog.Logger
}

// Engine runs reconciliation passes. It holds no state between runs; the
// store is the only memory.
type Engine struct {
	remote    RemoteClient
	store     StateStore
	creds     CredentialProvider
	settings  SettingsSource
	openLocal LocalOpener
	logger    *slog.Logger
	nowFunc   func() time.Time // injectable for deterministic tests
}

// NewEngine wires an engine.
func NewEngine(d Deps) *Engine {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		remote:    d.Remote,
		store:     d.Store,
		creds:     d.Creds,
		settings:  d.Settings,
		openLocal: d.OpenLocal,
		logger:    logger,
		nowFunc:   time.Now,
	}
}

// RunSync performs one pass. A non-nil error means the pass aborted after
// the status was set to ERROR; the persisted records reflect only fully
// completed file operations.
func (e *Engine) RunSync(ctx context.Context) (Result, error) {
	runID := uuid.NewString()
	logger := e.logger.With(slog.String("run_id", runID))
	s := e.settings.SyncSettings()

	if !s.Enabled {
		e.setStatus(ctx, logger, state.StatusIdle, msgDisabled, 0)

		return Skipped{Reason: "disabled"}, nil
	}

	if s.Paused || (!s.PausedUntil.IsZero() && e.nowFunc().Before(s.PausedUntil)) {
		e.setStatus(ctx, logger, state.StatusPending, msgPaused, 0)

		return Skipped{Reason: "paused"}, nil
	}

	if s.SyncDir == "" {
		e.setStatus(ctx, logger, state.StatusError, msgNoLocalRoot, 0)

		return Failure{Reason: ErrNoLocalRoot.Error()}, nil
	}

	local, err := e.openLocal(s.SyncDir)
	if err != nil {
		logger.Warn("local root unusable", slog.String("sync_dir", s.SyncDir), slog.String("error", err.Error()))
		e.setStatus(ctx, logger, state.StatusError, msgNoLocalRoot, 0)

		return Failure{Reason: err.Error()}, nil
	}

	tok, err := e.creds.AccessToken(ctx)
	if err != nil || tok == "" {
		var netErr *drive.NetworkError
		if errors.As(err, &netErr) || ctx.Err() != nil {
			e.setStatus(ctx, logger, state.StatusError, describeError(err), 0)

			return nil, fmt.Errorf("sync: obtaining access token: %w", err)
		}

		reason := "no access token"
		if err != nil {
			reason = err.Error()
		}

		e.setStatus(ctx, logger, state.StatusError, msgSignIn, 0)

		return Failure{AuthRequired: true, Reason: reason}, nil
	}

	if s.FolderName == "" {
		s.FolderName = DefaultFolderName
	}

	if s.RemoteDeletePolicy == "" {
		s.RemoteDeletePolicy = DeleteTrash
	}

	if err := e.store.SetStatus(ctx, state.StatusRunning, msgRunning, 0); err != nil {
		e.setStatus(ctx, logger, state.StatusError, describeError(err), 0)

		return nil, fmt.Errorf("sync: recording start: %w", err)
	}

	logger.Info("sync started", slog.String("sync_dir", s.SyncDir))

	started := e.nowFunc()
	r := &run{
		e:        e,
		ctx:      ctx,
		tok:      tok,
		local:    local,
		settings: s,
		logger:   logger,
	}

	if err := r.execute(); err != nil {
		msg := describeError(err)
		logger.Error("sync failed",
			slog.String("error", err.Error()),
			slog.String("status_message", msg),
			slog.Any("report", r.report),
		)
		e.setStatus(ctx, logger, state.StatusError, msg, 0)

		return nil, err
	}

	now := e.nowFunc()
	if err := e.store.SetStatus(ctx, state.StatusSynced, msgSynced, now.UnixMilli()); err != nil {
		logger.Error("sync finished but status not saved", slog.String("error", err.Error()))
		e.setStatus(ctx, logger, state.StatusError, describeError(err), 0)

		return nil, fmt.Errorf("sync: recording completion: %w", err)
	}

	logger.Info("sync complete",
		slog.Any("report", r.report),
		slog.Duration("elapsed", now.Sub(started)),
	)

	return Success{Report: r.report}, nil
}

// setStatus records a status even when ctx is already canceled, so the
// last failure stays visible.
func (e *Engine) setStatus(ctx context.Context, logger *slog.Logger, st state.Status, msg string, last int64) {
	if err := e.store.SetStatus(context.WithoutCancel(ctx), st, msg, last); err != nil {
		logger.Warn("failed to record status",
			slog.String("status", string(st)),
			slog.String("error", err.Error()),
		)
	}
}

// describeError renders an error as the one-line status message.
func describeError(err error) string {
	var (
		apiErr *drive.APIError
		netErr *drive.NetworkError
	)

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return msgCanceled
	case errors.As(err, &netErr):
		return msgNetwork
	case errors.As(err, &apiErr):
		msg := apiErr.UserMessage()
		if apiErr.AuthRequired() {
			if msg == "" {
				return msgAuthRequired
			}

			return msgAuthRequired + ": " + msg
		}

		if msg == "" {
			return fmt.Sprintf("Drive error %d", apiErr.StatusCode)
		}

		return fmt.Sprintf("Drive error %d: %s", apiErr.StatusCode, msg)
	default:
		return msgUnexpected
	}
}
