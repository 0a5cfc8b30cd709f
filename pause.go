package main

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/anotepad/notesync/internal/config"
)

func newPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause [duration]",
		Short: "Pause syncing",
		Long: `Pause syncing. An optional duration argument (e.g. "2h", "30m", "1d")
resumes automatically after the interval.

Without a duration, syncing stays paused until "notesync resume".
If a sync --watch is running, it receives a SIGHUP to pick up the change.

Examples:
  notesync pause
  notesync pause 2h
  notesync pause 1d`,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runPause,
		Args:        cobra.MaximumNArgs(1),
	}
}

func runPause(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	cfgPath := cc.configPath()

	var until string

	if len(args) > 0 {
		duration, err := parseDuration(args[0])
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", args[0], err)
		}

		until = time.Now().Add(duration).UTC().Format(time.RFC3339)
	}

	if err := config.SetKey(cfgPath, "sync", "paused", "true"); err != nil {
		return fmt.Errorf("setting paused flag: %w", err)
	}

	if until != "" {
		if err := config.SetKey(cfgPath, "sync", "paused_until", until); err != nil {
			return fmt.Errorf("setting paused_until: %w", err)
		}

		cc.Statusf("Sync paused until %s\n", until)
	} else {
		if err := config.DeleteKey(cfgPath, "sync", "paused_until"); err != nil {
			return fmt.Errorf("clearing paused_until: %w", err)
		}

		cc.Statusf("Sync paused\n")
	}

	notifyDaemon(cc, cc.dataDir())

	return nil
}

// dataDir locates the data directory even when the config did not load.
func (cc *CLIContext) dataDir() string {
	if cc.Resolved != nil {
		return cc.Resolved.Paths.DataDir
	}

	if cc.Env.DataDir != "" {
		return cc.Env.DataDir
	}

	return config.DefaultDataDir()
}

// hoursPerDay converts day durations to hours.
const hoursPerDay = 24

// durationPattern matches the extended form "1d", "1d12h", "2h30m".
var (
	durationPattern     = regexp.MustCompile(`^(\d+d)?(\d+h)?(\d+m)?(\d+s)?$`)
	durationPartPattern = regexp.MustCompile(`(\d+)([dhms])`)
)

var errNonPositiveDuration = errors.New("duration must be positive")

// parseDuration accepts Go duration syntax plus a "d" suffix for days.
func parseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return 0, errNonPositiveDuration
		}

		return d, nil
	}

	if s == "" || !durationPattern.MatchString(s) {
		return 0, errors.New("expected format like 30m, 2h, 1d, or 1h30m")
	}

	units := map[string]time.Duration{
		"d": hoursPerDay * time.Hour,
		"h": time.Hour,
		"m": time.Minute,
		"s": time.Second,
	}

	var total time.Duration

	for _, match := range durationPartPattern.FindAllStringSubmatch(s, -1) {
		n, err := strconv.Atoi(match[1])
		if err != nil {
			return 0, fmt.Errorf("invalid number %q: %w", match[1], err)
		}

		total += time.Duration(n) * units[match[2]]
	}

	if total <= 0 {
		return 0, errNonPositiveDuration
	}

	return total, nil
}
