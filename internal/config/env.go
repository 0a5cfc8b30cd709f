package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig  = "NOTESYNC_CONFIG"
	EnvSyncDir = "NOTESYNC_SYNC_DIR"
	EnvDataDir = "NOTESYNC_DATA_DIR"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // NOTESYNC_CONFIG: override config file path
	SyncDir    string // NOTESYNC_SYNC_DIR: sync directory override
	DataDir    string // NOTESYNC_DATA_DIR: state, token and lock directory
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found. It does not modify a Config; Resolve applies them.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		SyncDir:    os.Getenv(EnvSyncDir),
		DataDir:    os.Getenv(EnvDataDir),
	}
}

// CLIOverrides holds values from command-line flags, the highest layer.
type CLIOverrides struct {
	ConfigPath string
	SyncDir    string
}
