package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anotepad/notesync/internal/config"
)

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume syncing after a pause",
		Long: `Clear the paused flag and any scheduled resume time.

If a sync --watch is running, it receives a SIGHUP and syncs right away.`,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runResume,
	}
}

func runResume(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	cfgPath := cc.configPath()

	if cc.Resolved != nil && !cc.Resolved.Config.Sync.Paused {
		cc.Statusf("Sync is not paused\n")

		return nil
	}

	if err := clearPausedKeys(cfgPath); err != nil {
		return err
	}

	cc.Statusf("Sync resumed\n")
	notifyDaemon(cc, cc.dataDir())

	return nil
}

// clearPausedKeys removes both paused and paused_until from [sync].
func clearPausedKeys(cfgPath string) error {
	if err := config.DeleteKey(cfgPath, "sync", "paused"); err != nil {
		return fmt.Errorf("clearing paused flag: %w", err)
	}

	if err := config.DeleteKey(cfgPath, "sync", "paused_until"); err != nil {
		return fmt.Errorf("clearing paused_until: %w", err)
	}

	return nil
}
