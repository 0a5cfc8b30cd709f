package config

import "time"

// Default values for configuration options. These are layer 0 of the
// override chain and work without any config file.
const (
	defaultFolderName         = "MiniNoteViewer"
	defaultRemoteDeletePolicy = "trash"
	defaultPollInterval       = "5m"
	defaultFullScanInterval   = "24h"
	defaultCacheTTL           = "2s"
	defaultLogLevel           = "info"
	defaultLogFormat          = "auto"
	defaultTimeout            = "60s"
	defaultMaxRetries         = 3
	defaultUserAgent          = "notesync/0.1"
)

// Validation bounds.
const (
	minPollInterval = 30 * time.Second
	minTimeout      = 1 * time.Second
	maxMaxRetries   = 10
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding so unset fields keep their defaults.
func DefaultConfig() *Config {
	return &Config{
		Sync:    defaultSyncConfig(),
		Filter:  defaultFilterConfig(),
		Local:   LocalConfig{CacheTTL: defaultCacheTTL},
		Logging: defaultLoggingConfig(),
		Network: defaultNetworkConfig(),
	}
}

func defaultSyncConfig() SyncConfig {
	return SyncConfig{
		Enabled:            true,
		FolderName:         defaultFolderName,
		RemoteDeletePolicy: defaultRemoteDeletePolicy,
		PollInterval:       defaultPollInterval,
		FullScanInterval:   defaultFullScanInterval,
	}
}

func defaultFilterConfig() FilterConfig {
	return FilterConfig{
		SkipDirs:  []string{".git", "node_modules"},
		SkipFiles: []string{"*.tmp", "*.swp", "~*"},
	}
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		LogLevel:  defaultLogLevel,
		LogFormat: defaultLogFormat,
	}
}

func defaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		Timeout:    defaultTimeout,
		MaxRetries: defaultMaxRetries,
		UserAgent:  defaultUserAgent,
	}
}
