package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// configFilePermissions is the standard permission mode for config files.
// The file may hold an OAuth client secret, so it is owner-only.
const configFilePermissions = 0o600

// configDirPermissions is the standard permission mode for config directories.
const configDirPermissions = 0o755

// configTemplate is the config file written when a command first needs to
// persist a setting. Every option is present as a commented-out default.
// Later edits are line-based so user comments survive.
const configTemplate = `# notesync configuration

[sync]
# enabled = true
# paused = false
# paused_until = ""
# sync_dir = "~/Notes"
# folder_name = "MiniNoteViewer"
# ignore_remote_deletes = false
# remote_delete_policy = "trash"   # trash, delete or ignore
# poll_interval = "5m"
# full_scan_interval = "24h"

[filter]
# skip_dirs = [".git", "node_modules"]
# skip_files = ["*.tmp", "*.swp", "~*"]
# skip_dotfiles = false

[local]
# cache_ttl = "2s"

[logging]
# log_level = "info"      # debug, info, warn, error
# log_format = "auto"     # auto, text, json

[network]
# timeout = "60s"
# max_retries = 3

[auth]
# client_id = ""
# client_secret = ""
`

// SetKey sets key = value inside [section] of the config file at path,
// creating the file from the template when it does not exist. An existing
// key line in the section is replaced; otherwise the key is inserted after
// the section header. A missing section is appended.
//
// Booleans ("true"/"false") are written bare; all other values are quoted.
func SetKey(path, section, key, value string) error {
	slog.Info("setting config key",
		slog.String("path", path),
		slog.String("section", section),
		slog.String("key", key),
		slog.String("value", value),
	)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		data = []byte(configTemplate)
	} else if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	lines := strings.Split(string(data), "\n")
	newLine := fmt.Sprintf("%s = %s", key, formatTOMLValue(value))

	headerLine := findSectionHeader(lines, section)
	if headerLine < 0 {
		if n := len(lines); n > 0 && lines[n-1] == "" {
			lines = lines[:n-1]
		}

		lines = append(lines, "", "["+section+"]", newLine, "")
	} else {
		lines = setKeyInSection(lines, headerLine, key, newLine)
	}

	return atomicWriteFile(path, []byte(strings.Join(lines, "\n")))
}

// findSectionHeader returns the line index of the [section] header, or -1.
func findSectionHeader(lines []string, section string) int {
	header := "[" + section + "]"

	for i, line := range lines {
		if strings.TrimSpace(line) == header {
			return i
		}
	}

	return -1
}

// findSectionEnd returns the index of the first line after the section's
// own content. Blank lines and comments preceding the next header belong
// to the next section's preamble.
func findSectionEnd(lines []string, headerLine int) int {
	nextHeader := len(lines)

	for i := headerLine + 1; i < len(lines); i++ {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), "[") {
			nextHeader = i

			break
		}
	}

	end := nextHeader
	for end > headerLine+1 {
		trimmed := strings.TrimSpace(lines[end-1])
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			end--

			continue
		}

		break
	}

	return end
}

// setKeyInSection either replaces an existing key line or inserts a new
// one after the section header. Commented-out keys are left alone.
func setKeyInSection(lines []string, headerLine int, key, newLine string) []string {
	if i := findKeyLine(lines, headerLine, key); i >= 0 {
		lines[i] = newLine

		return lines
	}

	inserted := make([]string, 0, len(lines)+1)
	inserted = append(inserted, lines[:headerLine+1]...)
	inserted = append(inserted, newLine)
	inserted = append(inserted, lines[headerLine+1:]...)

	return inserted
}

// DeleteKey removes key from [section] of the config file at path. A
// missing file, section or key is not an error.
func DeleteKey(path, section, key string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	} else if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	lines := strings.Split(string(data), "\n")

	headerLine := findSectionHeader(lines, section)
	if headerLine < 0 {
		return nil
	}

	i := findKeyLine(lines, headerLine, key)
	if i < 0 {
		return nil
	}

	slog.Info("removing config key",
		slog.String("path", path),
		slog.String("section", section),
		slog.String("key", key),
	)

	lines = append(lines[:i], lines[i+1:]...)

	return atomicWriteFile(path, []byte(strings.Join(lines, "\n")))
}

// findKeyLine returns the index of key's line inside the section, or -1.
// Commented-out keys do not match.
func findKeyLine(lines []string, headerLine int, key string) int {
	sectionEnd := findSectionEnd(lines, headerLine)
	keyPrefix := key + " "
	keyPrefixEq := key + "="

	for i := headerLine + 1; i < sectionEnd; i++ {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(trimmed, keyPrefix) || strings.HasPrefix(trimmed, keyPrefixEq) {
			return i
		}
	}

	return -1
}

// formatTOMLValue formats a value for TOML output. Booleans are written
// bare (true/false); all other values are quoted strings.
func formatTOMLValue(value string) string {
	if value == "true" || value == "false" {
		return value
	}

	return fmt.Sprintf("%q", value)
}

// atomicWriteFile writes data to a temporary file in the same directory as
// path, then renames it over the target, so a crash never leaves a partial
// config. Parent directories are created as needed.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
