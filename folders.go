package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/anotepad/notesync/internal/config"
	"github.com/anotepad/notesync/internal/drive"
)

// maxFolderPages bounds the folder listing for accounts with huge trees.
const maxFolderPages = 50

func newFoldersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "folders",
		Short: "List Drive folders that can be used as the sync root",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFolders(cmd.Context(), mustCLIContext(cmd.Context()))
		},
	}
}

func newUseFolderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use-folder <folder-id>",
		Short: "Sync with an existing Drive folder",
		Long: `Bind the notes directory to an existing Drive folder instead of the one
notesync created. All sync records are forgotten, so the next sync compares
every file afresh. Local files are not touched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUseFolder(cmd.Context(), mustCLIContext(cmd.Context()), args[0])
		},
	}
}

// folderJSON is one row of `folders --json`.
type folderJSON struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Modified string `json:"modified,omitempty"`
	Current  bool   `json:"current"`
}

func runFolders(ctx context.Context, cc *CLIContext) error {
	a, err := openApp(ctx, cc)
	if err != nil {
		return err
	}
	defer a.Close()

	tok, err := a.creds.AccessToken(ctx)
	if err != nil {
		return loginHint(err)
	}

	folders, err := listAllFolders(ctx, a.client, tok)
	if err != nil {
		return err
	}

	currentID, _, err := a.store.RootFolder(ctx)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		out := make([]folderJSON, 0, len(folders))
		for i := range folders {
			out = append(out, folderJSON{
				ID:       folders[i].ID,
				Name:     folders[i].Name,
				Modified: formatRFC3339(folders[i].ModifiedTime),
				Current:  folders[i].ID == currentID,
			})
		}

		return printJSON(os.Stdout, out)
	}

	if len(folders) == 0 {
		fmt.Println("No folders found.")

		return nil
	}

	printFoldersTable(os.Stdout, folders, currentID)

	return nil
}

// folderLister is the part of the Drive client folder listing needs.
type folderLister interface {
	ListFolders(ctx context.Context, tok, pageToken string) (*drive.FolderPage, error)
}

// listAllFolders follows page tokens and returns the folders sorted by name.
func listAllFolders(ctx context.Context, c folderLister, tok string) ([]drive.File, error) {
	var (
		all       []drive.File
		pageToken string
	)

	for range maxFolderPages {
		page, err := c.ListFolders(ctx, tok, pageToken)
		if err != nil {
			return nil, err
		}

		all = append(all, page.Folders...)

		pageToken = page.NextPageToken
		if pageToken == "" {
			break
		}
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].Name < all[j].Name })

	return all, nil
}

func printFoldersTable(w io.Writer, folders []drive.File, currentID string) {
	rows := make([][]string, 0, len(folders))

	for i := range folders {
		mark := ""
		if folders[i].ID == currentID {
			mark = "*"
		}

		rows = append(rows, []string{mark, folders[i].Name, folders[i].ID, formatMillis(folders[i].ModifiedTime)})
	}

	printTable(w, []string{"", "NAME", "ID", "MODIFIED"}, rows)
}

func runUseFolder(ctx context.Context, cc *CLIContext, id string) error {
	a, err := openApp(ctx, cc)
	if err != nil {
		return err
	}
	defer a.Close()

	tok, err := a.creds.AccessToken(ctx)
	if err != nil {
		return loginHint(err)
	}

	f, err := a.client.GetFile(ctx, tok, id)
	if err != nil {
		if drive.IsNotFound(err) {
			return fmt.Errorf("folder %q not found", id)
		}

		return err
	}

	if !f.IsFolder() || f.Trashed {
		return fmt.Errorf("%q (%s) is not a usable folder", f.Name, id)
	}

	// Hold the sync lock so no pass runs against half-reset state.
	lock := flock.New(a.paths.Lock())

	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("locking sync state: %w", err)
	}

	if !locked {
		return errors.New("a sync is running; try again when it finishes")
	}
	defer lock.Unlock()

	if err := a.store.ResetForNewFolder(ctx, f.ID, f.Name); err != nil {
		return err
	}

	if err := config.SetKey(a.holder.Path(), "sync", "folder_name", f.Name); err != nil {
		return fmt.Errorf("saving folder_name: %w", err)
	}

	cc.Statusf("Now syncing with %q (%s)\n", f.Name, f.ID)
	notifyDaemon(cc, a.paths.DataDir)

	return nil
}

// loginHint adds the login instruction to a missing-credential error.
func loginHint(err error) error {
	if errors.Is(err, drive.ErrNotLoggedIn) {
		return fmt.Errorf("%w: run 'notesync login' first", err)
	}

	return err
}
