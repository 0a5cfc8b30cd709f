package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Platform identifiers.
const (
	platformLinux  = "linux"
	platformDarwin = "darwin"
)

// Application directory name used across all platforms.
const appName = "notesync"

// File names inside the config and data directories.
const (
	configFileName = "config.toml"
	stateFileName  = "state.db"
	tokenFileName  = "token.json"
	lockFileName   = "sync.lock"
)

// DefaultConfigDir returns the platform-specific directory for config files.
// On Linux, respects XDG_CONFIG_HOME (defaults to ~/.config/notesync).
// On macOS, uses ~/Library/Application Support/notesync.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return xdgDir("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".config", appName)
	}
}

// DefaultDataDir returns the platform-specific directory for the state
// database, token file and lock file. On Linux, respects XDG_DATA_HOME
// (defaults to ~/.local/share/notesync).
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return xdgDir("XDG_DATA_HOME", filepath.Join(home, ".local", "share"))
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".local", "share", appName)
	}
}

func xdgDir(envVar, fallback string) string {
	if xdg := os.Getenv(envVar); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(fallback, appName)
}

// DefaultConfigPath returns the full path to the default config file, used
// when neither NOTESYNC_CONFIG nor --config is given.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}

// Paths locates the files notesync keeps in its data directory.
type Paths struct {
	DataDir string
}

// StateDB is the sync state database.
func (p Paths) StateDB() string { return filepath.Join(p.DataDir, stateFileName) }

// Token is the saved OAuth token.
func (p Paths) Token() string { return filepath.Join(p.DataDir, tokenFileName) }

// Lock is the cross-process single-flight lock file.
func (p Paths) Lock() string { return filepath.Join(p.DataDir, lockFileName) }
