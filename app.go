package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/anotepad/notesync/internal/config"
	"github.com/anotepad/notesync/internal/drive"
	"github.com/anotepad/notesync/internal/localfs"
	"github.com/anotepad/notesync/internal/metrics"
	"github.com/anotepad/notesync/internal/state"
	"github.com/anotepad/notesync/internal/sync"
)

// dataDirPermissions keeps the token and state owner-only.
const dataDirPermissions = 0o700

// app bundles the collaborators shared by sync-related commands.
type app struct {
	logger *slog.Logger
	holder *config.Holder
	paths  config.Paths
	store  *state.Store
	client *drive.Client
	creds  *drive.TokenProvider
}

// openApp wires the state store, API client and credential provider from
// the resolved configuration. Callers must Close the result.
func openApp(ctx context.Context, cc *CLIContext) (*app, error) {
	resolved, err := cc.requireResolved()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(resolved.Paths.DataDir, dataDirPermissions); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	store, err := state.Open(ctx, resolved.Paths.StateDB(), cc.Logger)
	if err != nil {
		return nil, err
	}

	cfg := resolved.Config

	return &app{
		logger: cc.Logger,
		holder: config.NewHolder(cfg, resolved.ConfigPath, cc.Env, cc.cliOverrides()),
		paths:  resolved.Paths,
		store:  store,
		client: newDriveClient(cfg, cc.Logger),
		creds:  newTokenProvider(cfg, resolved.Paths, cc.Logger),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing state store", slog.String("error", err.Error()))
	}
}

// newDriveClient builds the API client with instrumented transport.
func newDriveClient(cfg *config.Config, logger *slog.Logger) *drive.Client {
	httpClient := newHTTPClient(cfg.Network.TimeoutDuration(), metrics.InstrumentTransport(nil))
	client := drive.NewClient(cfg.Network.APIURL, cfg.Network.UploadURL, httpClient, logger, cfg.Network.UserAgent)
	client.SetMaxRetries(cfg.Network.MaxRetries)

	return client
}

func newTokenProvider(cfg *config.Config, paths config.Paths, logger *slog.Logger) *drive.TokenProvider {
	return drive.NewTokenProvider(paths.Token(), credentialsFrom(cfg), logger)
}

func credentialsFrom(cfg *config.Config) drive.Credentials {
	return drive.Credentials{ClientID: cfg.Auth.ClientID, ClientSecret: cfg.Auth.ClientSecret}
}

// engine builds a sync engine reading settings through the holder, so a
// reload between runs takes effect on the next run.
func (a *app) engine() *sync.Engine {
	return sync.NewEngine(sync.Deps{
		Remote: a.client,
		Store:  a.store,
		Creds:  a.creds,
		Settings: sync.SettingsFunc(func() sync.Settings {
			return settingsFrom(a.holder.Config())
		}),
		OpenLocal: func(dir string) (sync.LocalStorage, error) {
			fs, err := localfs.New(dir, localOptionsFrom(a.holder.Config()), a.logger)
			if err != nil {
				return nil, err
			}

			return fs, nil
		},
		Logger: a.logger,
	})
}

// settingsFrom maps the [sync] section onto engine settings. A pause with
// paused_until expires on its own; paused_until without paused is ignored.
func settingsFrom(cfg *config.Config) sync.Settings {
	s := &cfg.Sync

	paused, until := s.Paused, s.PausedUntilTime()
	if !paused {
		until = time.Time{}
	} else if !until.IsZero() {
		paused = false
	}

	return sync.Settings{
		Enabled:             s.Enabled,
		Paused:              paused,
		PausedUntil:         until,
		SyncDir:             s.SyncDir,
		FolderName:          s.FolderName,
		IgnoreRemoteDeletes: s.IgnoreRemoteDeletes,
		RemoteDeletePolicy:  sync.DeletePolicy(s.RemoteDeletePolicy),
		FullScanInterval:    s.FullScanIntervalDuration(),
	}
}

func localOptionsFrom(cfg *config.Config) localfs.Options {
	return localfs.Options{
		SkipDirs:     cfg.Filter.SkipDirs,
		SkipFiles:    cfg.Filter.SkipFiles,
		SkipDotfiles: cfg.Filter.SkipDotfiles,
		CacheTTL:     cfg.Local.CacheTTLDuration(),
	}
}
