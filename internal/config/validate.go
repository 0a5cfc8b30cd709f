package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Validate checks all configuration values and returns every error found,
// so users can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateFilter(&cfg.Filter)...)
	errs = append(errs, validateDurationNonNeg("cache_ttl", cfg.Local.CacheTTL)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)

	return errors.Join(errs...)
}

var validDeletePolicies = map[string]bool{
	"trash":  true,
	"delete": true,
	"ignore": true,
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	if !validDeletePolicies[s.RemoteDeletePolicy] {
		errs = append(errs, fmt.Errorf(
			"remote_delete_policy: must be one of trash, delete, ignore; got %q", s.RemoteDeletePolicy))
	}

	if s.PausedUntil != "" {
		if _, err := time.Parse(time.RFC3339, s.PausedUntil); err != nil {
			errs = append(errs, fmt.Errorf("paused_until: invalid RFC 3339 time %q: %w", s.PausedUntil, err))
		}
	}

	errs = append(errs, validateDurationMin("poll_interval", s.PollInterval, minPollInterval)...)
	errs = append(errs, validateDurationNonNeg("full_scan_interval", s.FullScanInterval)...)

	return errs
}

func validateFilter(f *FilterConfig) []error {
	var errs []error

	for _, p := range f.SkipDirs {
		if !doublestar.ValidatePattern(p) {
			errs = append(errs, fmt.Errorf("skip_dirs: invalid pattern %q", p))
		}
	}

	for _, p := range f.SkipFiles {
		if !doublestar.ValidatePattern(p) {
			errs = append(errs, fmt.Errorf("skip_files: invalid pattern %q", p))
		}
	}

	return errs
}

// validateDuration checks that a duration string is valid and meets a minimum.
func validateDuration(field, value string, minimum time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < minimum {
		return fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)
	}

	return nil
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	if err := validateDuration(field, value, minimum); err != nil {
		return []error{err}
	}

	return nil
}

func validateDurationNonNeg(field, value string) []error {
	if err := validateDuration(field, value, 0); err != nil {
		return []error{err}
	}

	return nil
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	errs = append(errs, validateLogLevel(l.LogLevel)...)
	errs = append(errs, validateLogFormat(l.LogFormat)...)

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogFormat(format string) []error {
	if !validLogFormats[format] {
		return []error{fmt.Errorf("log_format: must be one of auto, text, json; got %q", format)}
	}

	return nil
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("timeout", n.Timeout, minTimeout)...)

	if n.MaxRetries < 0 || n.MaxRetries > maxMaxRetries {
		errs = append(errs, fmt.Errorf("max_retries: must be between 0 and %d, got %d", maxMaxRetries, n.MaxRetries))
	}

	errs = append(errs, validateURL("api_url", n.APIURL)...)
	errs = append(errs, validateURL("upload_url", n.UploadURL)...)

	return errs
}

// validateURL accepts an empty value (the public endpoint) or an absolute
// http(s) URL.
func validateURL(field, value string) []error {
	if value == "" {
		return nil
	}

	u, err := url.Parse(value)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return []error{fmt.Errorf("%s: must be an absolute http(s) URL, got %q", field, value)}
	}

	return nil
}
