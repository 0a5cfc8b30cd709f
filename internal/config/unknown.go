package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys lists the valid keys of each section.
var knownKeys = map[string][]string{
	"sync": {
		"enabled", "paused", "paused_until", "sync_dir", "folder_name",
		"ignore_remote_deletes", "remote_delete_policy", "poll_interval", "full_scan_interval",
	},
	"filter":  {"skip_dirs", "skip_files", "skip_dotfiles"},
	"local":   {"cache_ttl"},
	"logging": {"log_level", "log_format"},
	"network": {"timeout", "max_retries", "user_agent", "api_url", "upload_url"},
	"auth":    {"client_id", "client_secret"},
}

// knownSections is the sorted section list for Levenshtein matching.
var knownSections = func() []string {
	keys := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}()

// allKeys maps every known leaf key to its section, for pointing a key
// placed in the wrong section at the right one.
var allKeys = func() map[string]string {
	m := make(map[string]string)

	for section, keys := range knownKeys {
		for _, k := range keys {
			m[k] = section
		}
	}

	return m
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var errs []error

	for _, key := range undecoded {
		errs = append(errs, unknownKeyError(key))
	}

	return errors.Join(errs...)
}

// unknownKeyError describes one undecoded key, suggesting the closest
// known section or key.
func unknownKeyError(key toml.Key) error {
	switch len(key) {
	case 0:
		return nil
	case 1:
		name := key[0]
		if section, ok := allKeys[name]; ok {
			return fmt.Errorf("config key %q must be in the [%s] section", name, section)
		}

		if s := closestMatch(name, knownSections); s != "" {
			return fmt.Errorf("unknown config section %q; did you mean %q?", name, s)
		}

		return fmt.Errorf("unknown config key %q", name)
	}

	section, name := key[0], strings.Join(key[1:], ".")

	keys, ok := knownKeys[section]
	if !ok {
		if s := closestMatch(section, knownSections); s != "" {
			return fmt.Errorf("unknown config section %q; did you mean %q?", section, s)
		}

		return fmt.Errorf("unknown config section %q", section)
	}

	if s := closestMatch(name, keys); s != "" {
		return fmt.Errorf("unknown config key %q in [%s]; did you mean %q?", name, section, s)
	}

	return fmt.Errorf("unknown config key %q in [%s]", name, section)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings using a
// single pair of rows.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
