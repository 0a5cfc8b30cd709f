package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal, with "did you mean?"
// suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolved is the outcome of the override chain.
type Resolved struct {
	Config     *Config
	ConfigPath string
	Paths      Paths
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment variables -> CLI flags.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	applyOverrides(cfg, env, cli)

	dataDir := DefaultDataDir()
	if env.DataDir != "" {
		dataDir = env.DataDir
	}

	if dataDir == "" {
		return nil, errors.New("config: cannot determine data directory; set " + EnvDataDir)
	}

	return &Resolved{
		Config:     cfg,
		ConfigPath: cfgPath,
		Paths:      Paths{DataDir: dataDir},
	}, nil
}

// Reload re-reads the config file at path and re-applies the environment
// and CLI layers. Watch mode calls it before every run so edits made by
// pause and resume take effect without a restart.
func Reload(path string, env EnvOverrides, cli CLIOverrides) (*Config, error) {
	cfg, err := LoadOrDefault(path)
	if err != nil {
		return nil, err
	}

	applyOverrides(cfg, env, cli)

	return cfg, nil
}

func applyOverrides(cfg *Config, env EnvOverrides, cli CLIOverrides) {
	if env.SyncDir != "" {
		cfg.Sync.SyncDir = env.SyncDir
	}

	if cli.SyncDir != "" {
		cfg.Sync.SyncDir = cli.SyncDir
	}

	cfg.Sync.SyncDir = expandHome(cfg.Sync.SyncDir)
}

// expandHome replaces a leading "~/" with the user's home directory.
func expandHome(p string) string {
	if len(p) < 2 || p[:2] != "~/" {
		return p
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}

	return home + p[1:]
}

// Durations parsed from validated config strings. Validate has already
// rejected malformed values, so parse failures fall back to zero.

// PollIntervalDuration returns sync.poll_interval.
func (s *SyncConfig) PollIntervalDuration() time.Duration {
	return parseDurationOrZero(s.PollInterval)
}

// FullScanIntervalDuration returns sync.full_scan_interval; zero disables
// periodic full scans.
func (s *SyncConfig) FullScanIntervalDuration() time.Duration {
	return parseDurationOrZero(s.FullScanInterval)
}

// PausedUntilTime returns sync.paused_until, or the zero time.
func (s *SyncConfig) PausedUntilTime() time.Time {
	if s.PausedUntil == "" {
		return time.Time{}
	}

	t, err := time.Parse(time.RFC3339, s.PausedUntil)
	if err != nil {
		return time.Time{}
	}

	return t
}

// CacheTTLDuration returns local.cache_ttl.
func (l *LocalConfig) CacheTTLDuration() time.Duration {
	return parseDurationOrZero(l.CacheTTL)
}

// TimeoutDuration returns network.timeout.
func (n *NetworkConfig) TimeoutDuration() time.Duration {
	return parseDurationOrZero(n.Timeout)
}

func parseDurationOrZero(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}

	return d
}
