package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err)

	return path
}

func TestLoad_ValidFullConfig(t *testing.T) {
	path := writeTestConfig(t, `
[sync]
enabled = true
paused = true
paused_until = "2024-05-01T10:00:00Z"
sync_dir = "/notes"
folder_name = "Notes"
ignore_remote_deletes = true
remote_delete_policy = "delete"
poll_interval = "10m"
full_scan_interval = "6h"

[filter]
skip_dirs = ["build"]
skip_files = ["*.bak"]
skip_dotfiles = true

[local]
cache_ttl = "5s"

[logging]
log_level = "debug"
log_format = "json"

[network]
timeout = "30s"
max_retries = 5
user_agent = "test/1.0"
api_url = "http://localhost:8080/drive/v3"
upload_url = "http://localhost:8080/upload/drive/v3"

[auth]
client_id = "abc.apps.googleusercontent.com"
client_secret = "s3cret"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Sync.Paused)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), cfg.Sync.PausedUntilTime())
	assert.Equal(t, "/notes", cfg.Sync.SyncDir)
	assert.Equal(t, "Notes", cfg.Sync.FolderName)
	assert.True(t, cfg.Sync.IgnoreRemoteDeletes)
	assert.Equal(t, "delete", cfg.Sync.RemoteDeletePolicy)
	assert.Equal(t, 10*time.Minute, cfg.Sync.PollIntervalDuration())
	assert.Equal(t, 6*time.Hour, cfg.Sync.FullScanIntervalDuration())
	assert.Equal(t, []string{"build"}, cfg.Filter.SkipDirs)
	assert.Equal(t, []string{"*.bak"}, cfg.Filter.SkipFiles)
	assert.True(t, cfg.Filter.SkipDotfiles)
	assert.Equal(t, 5*time.Second, cfg.Local.CacheTTLDuration())
	assert.Equal(t, "debug", cfg.Logging.LogLevel)
	assert.Equal(t, "json", cfg.Logging.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.Network.TimeoutDuration())
	assert.Equal(t, 5, cfg.Network.MaxRetries)
	assert.Equal(t, "abc.apps.googleusercontent.com", cfg.Auth.ClientID)
}

func TestLoad_PartialConfigKeepsDefaults(t *testing.T) {
	path := writeTestConfig(t, "[sync]\nsync_dir = \"/notes\"\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/notes", cfg.Sync.SyncDir)
	assert.True(t, cfg.Sync.Enabled)
	assert.Equal(t, defaultFolderName, cfg.Sync.FolderName)
	assert.Equal(t, "trash", cfg.Sync.RemoteDeletePolicy)
	assert.Equal(t, 5*time.Minute, cfg.Sync.PollIntervalDuration())
	assert.Equal(t, "info", cfg.Logging.LogLevel)
	assert.Equal(t, defaultMaxRetries, cfg.Network.MaxRetries)
}

func TestLoad_SyntaxError(t *testing.T) {
	path := writeTestConfig(t, "[sync\nenabled = true\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoad_UnknownKeySuggestion(t *testing.T) {
	path := writeTestConfig(t, "[sync]\npoll_intervall = \"5m\"\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown config key "poll_intervall" in [sync]; did you mean "poll_interval"?`)
}

func TestLoad_ValidationErrorsAccumulate(t *testing.T) {
	path := writeTestConfig(t, `
[sync]
remote_delete_policy = "shred"
poll_interval = "1s"

[logging]
log_level = "loud"
`)

	_, err := Load(path)
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "config validation failed")
	assert.Contains(t, msg, "remote_delete_policy")
	assert.Contains(t, msg, "poll_interval")
	assert.Contains(t, msg, "log_level")
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestResolve_OverrideChain(t *testing.T) {
	path := writeTestConfig(t, "[sync]\nsync_dir = \"/from-file\"\n")
	dataDir := t.TempDir()

	r, err := Resolve(EnvOverrides{ConfigPath: path, SyncDir: "/from-env", DataDir: dataDir}, CLIOverrides{})
	require.NoError(t, err)
	assert.Equal(t, "/from-env", r.Config.Sync.SyncDir)
	assert.Equal(t, path, r.ConfigPath)
	assert.Equal(t, filepath.Join(dataDir, "state.db"), r.Paths.StateDB())
	assert.Equal(t, filepath.Join(dataDir, "token.json"), r.Paths.Token())
	assert.Equal(t, filepath.Join(dataDir, "sync.lock"), r.Paths.Lock())

	r, err = Resolve(
		EnvOverrides{ConfigPath: "/nonexistent.toml", SyncDir: "/from-env", DataDir: dataDir},
		CLIOverrides{ConfigPath: path, SyncDir: "/from-cli"},
	)
	require.NoError(t, err)
	assert.Equal(t, "/from-cli", r.Config.Sync.SyncDir)
	assert.Equal(t, path, r.ConfigPath)
}

func TestResolve_ExpandsHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	path := writeTestConfig(t, "[sync]\nsync_dir = \"~/Notes\"\n")

	r, err := Resolve(EnvOverrides{ConfigPath: path, DataDir: t.TempDir()}, CLIOverrides{})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "Notes"), r.Config.Sync.SyncDir)
}

func TestHolder_Reload(t *testing.T) {
	path := writeTestConfig(t, "[sync]\npaused = false\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	h := NewHolder(cfg, path, EnvOverrides{}, CLIOverrides{SyncDir: "/cli"})
	require.NoError(t, os.WriteFile(path, []byte("[sync]\npaused = true\n"), 0o600))
	require.NoError(t, h.Reload())
	assert.True(t, h.Config().Sync.Paused)
	assert.Equal(t, "/cli", h.Config().Sync.SyncDir)

	require.NoError(t, os.WriteFile(path, []byte("[sync]\npaused = maybe\n"), 0o600))
	require.Error(t, h.Reload())
	assert.True(t, h.Config().Sync.Paused, "failed reload keeps the previous config")
}

func TestReadEnvOverrides(t *testing.T) {
	t.Setenv(EnvConfig, "/c.toml")
	t.Setenv(EnvSyncDir, "/s")
	t.Setenv(EnvDataDir, "/d")

	assert.Equal(t, EnvOverrides{ConfigPath: "/c.toml", SyncDir: "/s", DataDir: "/d"}, ReadEnvOverrides())
}

func TestDefaultDirs_XDG(t *testing.T) {
	if runtime.GOOS != platformLinux {
		t.Skip("XDG directories apply to Linux only")
	}

	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	t.Setenv("XDG_DATA_HOME", xdg)

	assert.Equal(t, filepath.Join(xdg, "notesync", "config.toml"), DefaultConfigPath())
	assert.Equal(t, filepath.Join(xdg, "notesync"), DefaultDataDir())
}
