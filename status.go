package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/anotepad/notesync/internal/config"
	"github.com/anotepad/notesync/internal/state"
	"github.com/anotepad/notesync/internal/tokenfile"
)

// Token state constants for status reporting.
const (
	tokenStateMissing = "missing"
	tokenStateExpired = "expired"
	tokenStateValid   = "valid"
)

// Sync mode constants shown by status.
const (
	modeActive   = "active"
	modePaused   = "paused"
	modeDisabled = "disabled"
	notSet       = "(not set)"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync status, pending work and login state",
		Long: `Display the last sync result, per-file counts, the linked Drive folder
and whether a login token is saved.`,
		RunE: runStatus,
	}
}

// statusOutput is the JSON schema for `status --json`.
type statusOutput struct {
	State        string         `json:"state"`
	Message      string         `json:"message,omitempty"`
	LastSyncedAt string         `json:"last_synced_at,omitempty"`
	Mode         string         `json:"mode"`
	PausedUntil  string         `json:"paused_until,omitempty"`
	SyncDir      string         `json:"sync_dir"`
	FolderID     string         `json:"folder_id,omitempty"`
	FolderName   string         `json:"folder_name"`
	LastFullScan string         `json:"last_full_scan_at,omitempty"`
	HasCursor    bool           `json:"has_cursor"`
	Token        string         `json:"token"`
	TokenExpiry  string         `json:"token_expiry,omitempty"`
	Items        map[string]int `json:"items"`
	ConfigPath   string         `json:"config_path"`
	DataDir      string         `json:"data_dir"`

	// Raw timestamps for the relative text rendering.
	lastSyncedMs   int64
	lastFullScanMs int64
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	a, err := openApp(ctx, cc)
	if err != nil {
		return err
	}
	defer a.Close()

	out, err := buildStatus(ctx, a, time.Now())
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		return printJSON(os.Stdout, out)
	}

	printStatusText(os.Stdout, out)

	return nil
}

func buildStatus(ctx context.Context, a *app, now time.Time) (*statusOutput, error) {
	cfg := a.holder.Config()

	info, err := a.store.Status(ctx)
	if err != nil {
		return nil, err
	}

	folderID, folderName, err := a.store.RootFolder(ctx)
	if err != nil {
		return nil, err
	}

	if folderName == "" {
		folderName = cfg.Sync.FolderName
	}

	cursor, err := a.store.Cursor(ctx)
	if err != nil {
		return nil, err
	}

	fullScan, err := a.store.LastFullScanAt(ctx)
	if err != nil {
		return nil, err
	}

	counts, err := a.store.CountItems(ctx)
	if err != nil {
		return nil, err
	}

	items := make(map[string]int, len(counts))
	for st, n := range counts {
		items[string(st)] = n
	}

	out := &statusOutput{
		State:          string(info.State),
		Message:        info.Message,
		LastSyncedAt:   formatRFC3339(info.LastSyncedAt),
		SyncDir:        cfg.Sync.SyncDir,
		FolderID:       folderID,
		FolderName:     folderName,
		LastFullScan:   formatRFC3339(fullScan),
		HasCursor:      cursor != "",
		Items:          items,
		ConfigPath:     a.holder.Path(),
		DataDir:        a.paths.DataDir,
		lastSyncedMs:   info.LastSyncedAt,
		lastFullScanMs: fullScan,
	}

	out.Mode, out.PausedUntil = syncMode(&cfg.Sync, now)
	out.Token, out.TokenExpiry = tokenState(a.paths.Token(), now)

	return out, nil
}

// syncMode reports whether syncing is active, paused or disabled. A timed
// pause that has expired counts as active.
func syncMode(s *config.SyncConfig, now time.Time) (mode, until string) {
	if !s.Enabled {
		return modeDisabled, ""
	}

	if !s.Paused {
		return modeActive, ""
	}

	t := s.PausedUntilTime()
	if t.IsZero() {
		return modePaused, ""
	}

	if !now.Before(t) {
		return modeActive, ""
	}

	return modePaused, t.Format(time.RFC3339)
}

// tokenState reports whether a usable token is saved. A token past its
// expiry is still usable when it carries a refresh token.
func tokenState(path string, now time.Time) (st, expiry string) {
	ts, err := tokenfile.Inspect(path)
	if err != nil || !ts.Present {
		return tokenStateMissing, ""
	}

	if !ts.Expiry.IsZero() {
		expiry = ts.Expiry.Format(time.RFC3339)
	}

	if !ts.Refreshing && !ts.Expiry.IsZero() && now.After(ts.Expiry) {
		return tokenStateExpired, expiry
	}

	return tokenStateValid, expiry
}

func printStatusText(w io.Writer, s *statusOutput) {
	syncDir := s.SyncDir
	if syncDir == "" {
		syncDir = notSet
	}

	mode := s.Mode
	if s.PausedUntil != "" {
		mode += " until " + s.PausedUntil
	}

	fmt.Fprintf(w, "Status:      %s\n", s.State)

	if s.Message != "" {
		fmt.Fprintf(w, "Message:     %s\n", s.Message)
	}

	fmt.Fprintf(w, "Last sync:   %s\n", formatMillis(s.lastSyncedMs))
	fmt.Fprintf(w, "Full scan:   %s\n", formatMillis(s.lastFullScanMs))
	fmt.Fprintf(w, "Mode:        %s\n", mode)
	fmt.Fprintf(w, "Sync dir:    %s\n", syncDir)

	if s.FolderID != "" {
		fmt.Fprintf(w, "Folder:      %s (%s)\n", s.FolderName, s.FolderID)
	} else {
		fmt.Fprintf(w, "Folder:      %s (not created yet)\n", s.FolderName)
	}

	fmt.Fprintf(w, "Login:       %s\n", s.Token)
	fmt.Fprintf(w, "Files:       %d synced, %d pending upload, %d in conflict\n",
		s.Items[string(state.StateSynced)],
		s.Items[string(state.StatePendingUpload)],
		s.Items[string(state.StateConflict)],
	)

	if s.Items[string(state.StateConflict)] > 0 {
		fmt.Fprintln(w, "\nRun 'notesync conflicts' to list files in conflict.")
	}

	if s.Token == tokenStateMissing {
		fmt.Fprintln(w, "\nRun 'notesync login' to connect Google Drive.")
	}
}
