// Package config implements TOML configuration loading, validation, and
// override resolution for notesync.
package config

// Config is the top-level configuration structure. Each section maps to a
// TOML table of the same name.
type Config struct {
	Sync    SyncConfig    `toml:"sync"`
	Filter  FilterConfig  `toml:"filter"`
	Local   LocalConfig   `toml:"local"`
	Logging LoggingConfig `toml:"logging"`
	Network NetworkConfig `toml:"network"`
	Auth    AuthConfig    `toml:"auth"`
}

// SyncConfig controls what is synced and when.
type SyncConfig struct {
	Enabled             bool   `toml:"enabled"`
	Paused              bool   `toml:"paused"`
	PausedUntil         string `toml:"paused_until"` // RFC 3339, empty = indefinitely when paused
	SyncDir             string `toml:"sync_dir"`
	FolderName          string `toml:"folder_name"`
	IgnoreRemoteDeletes bool   `toml:"ignore_remote_deletes"`
	RemoteDeletePolicy  string `toml:"remote_delete_policy"`
	PollInterval        string `toml:"poll_interval"`
	FullScanInterval    string `toml:"full_scan_interval"`
}

// FilterConfig controls which local files and directories are skipped.
type FilterConfig struct {
	SkipDirs     []string `toml:"skip_dirs"`
	SkipFiles    []string `toml:"skip_files"`
	SkipDotfiles bool     `toml:"skip_dotfiles"`
}

// LocalConfig tunes local storage.
type LocalConfig struct {
	CacheTTL string `toml:"cache_ttl"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls the HTTP client used for the Drive API.
type NetworkConfig struct {
	Timeout    string `toml:"timeout"`
	MaxRetries int    `toml:"max_retries"`
	UserAgent  string `toml:"user_agent"`
	APIURL     string `toml:"api_url"`
	UploadURL  string `toml:"upload_url"`
}

// AuthConfig identifies the OAuth client registered for notesync.
type AuthConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
}
