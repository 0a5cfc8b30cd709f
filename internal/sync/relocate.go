package sync

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/anotepad/notesync/internal/drive"
	"github.com/anotepad/notesync/internal/state"
)

// renameCandidate is a local directory that could be the new home of a
// mapped directory that vanished.
type renameCandidate struct {
	dir        string
	hashesSame bool
}

// detectLocalRenames finds mapped directories that disappeared locally and
// reappeared elsewhere with the same files, and moves the remote folder
// instead of deleting and re-uploading its content.
func (r *run) detectLocalRenames(files map[string]*localFile) error {
	dirs, err := r.local.ListDirs(r.ctx)
	if err != nil {
		return err
	}

	tried := make(map[string]bool)

	for {
		missing, err := r.nextMissingFolder(tried)
		if err != nil {
			return err
		}

		if missing == nil {
			return nil
		}

		tried[missing.Path] = true

		target, err := r.matchRenamedDir(missing.Path, files, dirs)
		if err != nil {
			return err
		}

		if target == "" {
			continue
		}

		if err := r.relocateRemoteFolder(missing, target); err != nil {
			return err
		}
	}
}

// nextMissingFolder returns the shallowest mapping whose directory is gone
// and that has not been examined yet.
func (r *run) nextMissingFolder(tried map[string]bool) (*state.Folder, error) {
	folders, err := r.e.store.AllFolders(r.ctx)
	if err != nil {
		return nil, err
	}

	var missing []*state.Folder

	for _, f := range folders {
		if f.Path == "" || tried[f.Path] || r.local.IsDir(f.Path) || r.local.Excluded(f.Path, true) {
			continue
		}

		missing = append(missing, f)
	}

	if len(missing) == 0 {
		return nil, nil
	}

	sort.SliceStable(missing, func(i, j int) bool {
		return strings.Count(missing[i].Path, "/") < strings.Count(missing[j].Path, "/")
	})

	return missing[0], nil
}

// matchRenamedDir returns the unique unmapped local directory whose files
// mirror the records under oldDir, or "".
func (r *run) matchRenamedDir(oldDir string, files map[string]*localFile, dirs []string) (string, error) {
	records, err := r.e.store.ItemsUnder(r.ctx, oldDir)
	if err != nil {
		return "", err
	}

	if len(records) == 0 {
		return "", nil
	}

	want := make(map[string]string, len(records))
	for _, it := range records {
		want[strings.TrimPrefix(it.Path, oldDir+"/")] = it.LocalHash
	}

	items, err := r.itemsByPath()
	if err != nil {
		return "", err
	}

	var candidates []renameCandidate

	for _, dir := range dirs {
		if dir == oldDir || r.local.Excluded(dir, true) {
			continue
		}

		mapped, err := r.e.store.FolderByPath(r.ctx, dir)
		if err != nil {
			return "", err
		}

		if mapped != nil {
			continue
		}

		c, ok := compareDir(dir, want, files, items)
		if ok {
			candidates = append(candidates, c)
		}
	}

	var exact, loose []string

	for _, c := range candidates {
		if c.hashesSame {
			exact = append(exact, c.dir)
		} else {
			loose = append(loose, c.dir)
		}
	}

	switch {
	case len(exact) == 1:
		return exact[0], nil
	case len(exact) == 0 && len(loose) == 1:
		return loose[0], nil
	case len(candidates) > 1:
		r.logger.Warn("ambiguous folder rename, treating as delete",
			slog.String("path", oldDir),
			slog.Int("candidates", len(candidates)),
		)
	}

	return "", nil
}

// compareDir checks that dir holds exactly the relative suffixes in want
// and that none of its files is already tracked.
func compareDir(
	dir string, want map[string]string, files map[string]*localFile, items map[string]*state.Item,
) (renameCandidate, bool) {
	c := renameCandidate{dir: dir, hashesSame: true}
	seen := 0

	for p, lf := range files {
		if !isUnder(p, dir) {
			continue
		}

		if _, tracked := items[p]; tracked {
			return c, false
		}

		hash, ok := want[strings.TrimPrefix(p, dir+"/")]
		if !ok {
			return c, false
		}

		if hash != lf.hash {
			c.hashesSame = false
		}

		seen++
	}

	return c, seen == len(want)
}

// relocateRemoteFolder renames or reparents the remote folder of old so it
// matches newDir locally, then rewrites the bookkeeping.
func (r *run) relocateRemoteFolder(old *state.Folder, newDir string) error {
	newParentID, err := r.ensureFolderChain(parentDir(newDir))
	if err != nil {
		return err
	}

	oldParentID, err := r.folderID(parentDir(old.Path))
	if err != nil {
		return err
	}

	u := drive.MetadataUpdate{}
	if pathBase(newDir) != pathBase(old.Path) {
		u.Name = pathBase(newDir)
	}

	if newParentID != oldParentID {
		u.AddParent = newParentID
		u.RemoveParent = oldParentID
	}

	if _, err := r.e.remote.UpdateMetadata(r.ctx, r.tok, old.RemoteID, u); err != nil {
		if drive.IsNotFound(err) {
			r.logger.Warn("renamed folder is gone remotely",
				slog.String("from", old.Path),
				slog.String("to", newDir),
			)

			return nil
		}

		return err
	}

	if err := r.e.store.RelocatePrefix(r.ctx, old.Path, newDir); err != nil {
		return err
	}

	moved, err := r.e.store.ItemsUnder(r.ctx, newDir)
	if err != nil {
		return err
	}

	for _, it := range moved {
		if it.RemoteID == "" {
			continue
		}

		f, err := r.e.remote.UpdateMetadata(r.ctx, r.tok, it.RemoteID, drive.MetadataUpdate{
			AppProperties: map[string]string{drive.AppPropertyPath: it.Path},
		})
		if drive.IsNotFound(err) {
			continue
		}

		if err != nil {
			return err
		}

		// Our own metadata edit must not read as a remote change later.
		if f.ModifiedTime != it.RemoteModified {
			updated := *it
			updated.RemoteModified = f.ModifiedTime

			if err := r.e.store.UpsertItem(r.ctx, &updated); err != nil {
				return err
			}
		}
	}

	r.report.Relocations++

	r.logger.Info("propagated local folder rename",
		slog.String("from", old.Path),
		slog.String("to", newDir),
		slog.Int("files", len(moved)),
	)

	return nil
}

// folderID returns the remote id mapped to dir, "" when unmapped.
func (r *run) folderID(dir string) (string, error) {
	if dir == "" {
		return r.rootID, nil
	}

	f, err := r.e.store.FolderByPath(r.ctx, dir)
	if err != nil || f == nil {
		return "", err
	}

	return f.RemoteID, nil
}
