package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnknownKeys(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"typo in section", "[logging]\nlog_levl = \"info\"\n", `unknown config key "log_levl" in [logging]; did you mean "log_level"?`},
		{"no close match", "[sync]\nwebsocket = true\n", `unknown config key "websocket" in [sync]`},
		{"misspelled section", "[synk]\nenabled = true\n", `unknown config section "synk"; did you mean "sync"?`},
		{"key outside section", "sync_dir = \"/n\"\n", `config key "sync_dir" must be in the [sync] section`},
		{"unknown top level", "colour = \"red\"\n", `unknown config key "colour"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeTestConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, levenshtein("sync", "sync"))
	assert.Equal(t, 3, levenshtein("", "abc"))
	assert.Equal(t, 1, levenshtein("timout", "timeout"))
	assert.Equal(t, 3, levenshtein("kitten", "sitting"))
}

func TestClosestMatch(t *testing.T) {
	assert.Equal(t, "timeout", closestMatch("timout", knownKeys["network"]))
	assert.Empty(t, closestMatch("completely_different", knownKeys["network"]))
}

func TestValidate_Defaults(t *testing.T) {
	require.NoError(t, Validate(DefaultConfig()))
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"policy", func(c *Config) { c.Sync.RemoteDeletePolicy = "shred" }, "remote_delete_policy"},
		{"paused until", func(c *Config) { c.Sync.PausedUntil = "tomorrow" }, "paused_until"},
		{"poll too short", func(c *Config) { c.Sync.PollInterval = "10s" }, "poll_interval: must be >= 30s"},
		{"negative full scan", func(c *Config) { c.Sync.FullScanInterval = "-1h" }, "full_scan_interval"},
		{"bad pattern", func(c *Config) { c.Filter.SkipFiles = []string{"[abc"} }, "skip_files: invalid pattern"},
		{"cache ttl", func(c *Config) { c.Local.CacheTTL = "soon" }, "cache_ttl: invalid duration"},
		{"log format", func(c *Config) { c.Logging.LogFormat = "xml" }, "log_format"},
		{"timeout", func(c *Config) { c.Network.Timeout = "1ms" }, "timeout: must be >= 1s"},
		{"retries", func(c *Config) { c.Network.MaxRetries = 11 }, "max_retries"},
		{"api url", func(c *Config) { c.Network.APIURL = "localhost:80" }, "api_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
