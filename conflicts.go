package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/anotepad/notesync/internal/state"
)

// remoteIDPrefixLen is the number of characters of the Drive file id shown
// in table output.
const remoteIDPrefixLen = 12

func newConflictsCmd() *cobra.Command {
	var pending bool

	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List files in conflict",
		Long: `Display files that changed on both sides since the last sync.

The remote version was saved next to the local file with a
"(conflict <timestamp>)" suffix. Merge by hand, delete the copy you do not
want, and the next sync clears the conflict.

With --pending, also list files waiting to be uploaded and their last error.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConflicts(cmd.Context(), mustCLIContext(cmd.Context()), pending)
		},
	}

	cmd.Flags().BoolVar(&pending, "pending", false, "also list files waiting to be uploaded")

	return cmd
}

// conflictJSON is the JSON-serializable representation of one item.
type conflictJSON struct {
	Path           string `json:"path"`
	State          string `json:"state"`
	Size           int64  `json:"size"`
	RemoteID       string `json:"remote_id,omitempty"`
	LocalModified  string `json:"local_modified,omitempty"`
	RemoteModified string `json:"remote_modified,omitempty"`
	LastSyncedAt   string `json:"last_synced_at,omitempty"`
	LastError      string `json:"last_error,omitempty"`
}

func runConflicts(ctx context.Context, cc *CLIContext, pending bool) error {
	a, err := openApp(ctx, cc)
	if err != nil {
		return err
	}
	defer a.Close()

	items, err := listAttentionItems(ctx, a.store, pending)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		return printConflictsJSON(os.Stdout, items)
	}

	if len(items) == 0 {
		fmt.Println("No conflicts.")

		return nil
	}

	printConflictsTable(os.Stdout, items)

	return nil
}

func listAttentionItems(ctx context.Context, store *state.Store, pending bool) ([]*state.Item, error) {
	items, err := store.ItemsInState(ctx, state.StateConflict)
	if err != nil {
		return nil, err
	}

	if !pending {
		return items, nil
	}

	more, err := store.ItemsInState(ctx, state.StatePendingUpload)
	if err != nil {
		return nil, err
	}

	return append(items, more...), nil
}

func printConflictsJSON(w io.Writer, items []*state.Item) error {
	out := make([]conflictJSON, 0, len(items))

	for _, it := range items {
		out = append(out, conflictJSON{
			Path:           it.Path,
			State:          string(it.State),
			Size:           it.LocalSize,
			RemoteID:       it.RemoteID,
			LocalModified:  formatRFC3339(it.LocalModified),
			RemoteModified: formatRFC3339(it.RemoteModified),
			LastSyncedAt:   formatRFC3339(it.LastSyncedAt),
			LastError:      it.LastError,
		})
	}

	return printJSON(w, out)
}

func printConflictsTable(w io.Writer, items []*state.Item) {
	headers := []string{"PATH", "STATE", "SIZE", "REMOTE ID", "LOCAL CHANGED", "REMOTE CHANGED", "ERROR"}
	rows := make([][]string, 0, len(items))

	for _, it := range items {
		remoteID := it.RemoteID
		if len(remoteID) > remoteIDPrefixLen {
			remoteID = remoteID[:remoteIDPrefixLen]
		}

		if remoteID == "" {
			remoteID = "-"
		}

		rows = append(rows, []string{
			it.Path,
			string(it.State),
			formatSize(it.LocalSize),
			remoteID,
			formatMillis(it.LocalModified),
			formatMillis(it.RemoteModified),
			it.LastError,
		})
	}

	printTable(w, headers, rows)
}
