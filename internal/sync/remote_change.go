package sync

import (
	"log/slog"
	"strings"

	"github.com/anotepad/notesync/internal/drive"
	"github.com/anotepad/notesync/internal/localfs"
	"github.com/anotepad/notesync/internal/state"
)

// applyChange processes one entry of the change feed.
func (r *run) applyChange(ch drive.Change) error {
	if ch.Removed {
		return r.remoteDeleted(ch.FileID)
	}

	f := ch.File
	if f == nil {
		got, err := r.e.remote.GetFile(r.ctx, r.tok, ch.FileID)
		if drive.IsNotFound(err) {
			return r.remoteDeleted(ch.FileID)
		}

		if err != nil {
			return err
		}

		f = got
	}

	if f.Trashed {
		return r.remoteDeleted(f.ID)
	}

	if f.ID == r.rootID {
		return nil
	}

	if f.IsFolder() {
		return r.applyFolderChange(f)
	}

	return r.applyFileChange(f)
}

func (r *run) applyFolderChange(f *drive.File) error {
	parent, ok, err := r.parentPath(f, 0)
	if err != nil {
		return err
	}

	p := joinPath(parent, safeName(f.Name))

	if !ok || r.local.Excluded(p, true) {
		existing, err := r.e.store.FolderByRemoteID(r.ctx, f.ID)
		if err != nil || existing == nil {
			return err
		}

		// A mapped folder now skipped locally is only forgotten.
		if r.local.Excluded(existing.Path, true) {
			return r.forgetFolder(existing)
		}

		// A mapped folder that left the synced tree counts as deleted.
		return r.remoteDeleted(f.ID)
	}

	return r.placeFolder(f, p, true)
}

// forgetFolder stops tracking a folder and everything beneath it. Local
// files and the remote copies stay where they are.
func (r *run) forgetFolder(folder *state.Folder) error {
	items, err := r.e.store.ItemsUnder(r.ctx, folder.Path)
	if err != nil {
		return err
	}

	for _, it := range items {
		if err := r.e.store.DeleteItem(r.ctx, it.Path); err != nil {
			return err
		}
	}

	if err := r.e.store.DeleteFoldersUnder(r.ctx, folder.Path); err != nil {
		return err
	}

	r.logger.Info("stopped tracking skipped folder",
		slog.String("path", folder.Path),
		slog.Int("files", len(items)),
	)

	return nil
}

// placeFolder binds a remote folder to local path p. A folder already
// mapped elsewhere was renamed or moved remotely and its local directory
// follows. A newly mapped folder has its subtree pulled when scan is set.
func (r *run) placeFolder(f *drive.File, p string, scan bool) error {
	existing, err := r.e.store.FolderByRemoteID(r.ctx, f.ID)
	if err != nil {
		return err
	}

	if existing != nil && existing.Path == p {
		return r.local.MkdirAll(p)
	}

	if existing != nil {
		return r.renameLocalDir(existing.Path, p)
	}

	if err := r.e.store.UpsertFolder(r.ctx, &state.Folder{Path: p, RemoteID: f.ID}); err != nil {
		return err
	}

	if err := r.local.MkdirAll(p); err != nil {
		return err
	}

	if !scan {
		return nil
	}

	return r.scanFolder(f.ID, p)
}

// renameLocalDir follows a remote folder rename. When the destination
// already exists locally the tracked files are moved one by one.
func (r *run) renameLocalDir(oldDir, newDir string) error {
	if isUnder(newDir, oldDir) {
		r.logger.Warn("remote folder moved beneath itself, skipping",
			slog.String("from", oldDir),
			slog.String("to", newDir),
		)

		return nil
	}

	if r.local.IsDir(oldDir) {
		if !r.local.Exists(newDir) {
			if err := r.local.Move(oldDir, newDir); err != nil {
				return err
			}
		} else {
			items, err := r.e.store.ItemsUnder(r.ctx, oldDir)
			if err != nil {
				return err
			}

			for _, it := range items {
				target := newDir + strings.TrimPrefix(it.Path, oldDir)
				if r.local.Exists(it.Path) && !r.local.Exists(target) {
					if err := r.local.Move(it.Path, target); err != nil {
						return err
					}
				}
			}

			if _, err := r.local.RemoveDirIfEmpty(oldDir); err != nil {
				return err
			}
		}
	}

	if err := r.e.store.RelocatePrefix(r.ctx, oldDir, newDir); err != nil {
		return err
	}

	r.report.Relocations++

	r.logger.Info("followed remote folder rename",
		slog.String("from", oldDir),
		slog.String("to", newDir),
	)

	return r.local.MkdirAll(newDir)
}

func (r *run) applyFileChange(f *drive.File) error {
	if !localfs.IsSupported(f.Name) {
		return r.dropIfTracked(f.ID)
	}

	p, ok, err := r.filePath(f)
	if err != nil {
		return err
	}

	if !ok {
		return r.dropIfTracked(f.ID)
	}

	return r.placeFile(f, p)
}

// dropIfTracked handles a remote file that left the synced tree. A record
// under a locally skipped path is forgotten without touching the file.
func (r *run) dropIfTracked(id string) error {
	rec, err := r.e.store.ItemByRemoteID(r.ctx, id)
	if err != nil || rec == nil {
		return err
	}

	if r.local.Excluded(rec.Path, false) {
		return r.e.store.DeleteItem(r.ctx, rec.Path)
	}

	return r.remoteDeleted(id)
}

// filePath resolves the local path of a remote file. The parent mapping
// is authoritative; the path app property is used only when the server
// reports no parents, then the previous record for the id.
func (r *run) filePath(f *drive.File) (string, bool, error) {
	if len(f.Parents) > 0 {
		parent, ok, err := r.parentPath(f, 0)
		if err != nil || !ok {
			return "", false, err
		}

		p := joinPath(parent, safeName(f.Name))
		if hint := f.PathHint(); hint != "" && hint != p {
			r.logger.Debug("stale path hint", slog.String("hint", hint), slog.String("path", p))
		}

		return p, true, nil
	}

	if hint := localfs.Normalize(f.PathHint()); validHint(hint) {
		return hint, true, nil
	}

	rec, err := r.e.store.ItemByRemoteID(r.ctx, f.ID)
	if err != nil || rec == nil {
		return "", false, err
	}

	return rec.Path, true, nil
}

// parentPath returns the local directory of f's first parent, walking up
// and mapping unknown ancestors. ok is false when f is outside the tree.
func (r *run) parentPath(f *drive.File, depth int) (string, bool, error) {
	if len(f.Parents) == 0 || depth > maxAncestorDepth {
		return "", false, nil
	}

	parentID := f.Parents[0]
	if parentID == r.rootID {
		return "", true, nil
	}

	if r.outside[parentID] {
		return "", false, nil
	}

	mapped, err := r.e.store.FolderByRemoteID(r.ctx, parentID)
	if err != nil {
		return "", false, err
	}

	if mapped != nil {
		return mapped.Path, true, nil
	}

	parent, err := r.e.remote.GetFile(r.ctx, r.tok, parentID)
	if drive.IsNotFound(err) {
		r.markOutside(parentID)

		return "", false, nil
	}

	if err != nil {
		return "", false, err
	}

	if parent.Trashed || !parent.IsFolder() {
		r.markOutside(parentID)

		return "", false, nil
	}

	grand, ok, err := r.parentPath(parent, depth+1)
	if err != nil {
		return "", false, err
	}

	p := joinPath(grand, safeName(parent.Name))

	if !ok || r.local.Excluded(p, true) {
		r.markOutside(parentID)

		return "", false, nil
	}

	if err := r.placeFolder(parent, p, true); err != nil {
		return "", false, err
	}

	return p, true, nil
}

func (r *run) markOutside(id string) {
	if r.outside == nil {
		r.outside = make(map[string]bool)
	}

	r.outside[id] = true
}

// placeFile pulls f into path p, first following a remote rename or move
// of a file tracked at another path.
func (r *run) placeFile(f *drive.File, p string) error {
	if !localfs.IsSupported(f.Name) || r.local.Excluded(p, false) {
		return nil
	}

	rec, err := r.e.store.ItemByRemoteID(r.ctx, f.ID)
	if err != nil {
		return err
	}

	if rec != nil && rec.Path != p {
		if r.local.Exists(p) {
			r.logger.Warn("remote rename target exists locally, skipping",
				slog.String("from", rec.Path),
				slog.String("to", p),
			)

			return nil
		}

		if r.local.Exists(rec.Path) {
			if err := r.local.Move(rec.Path, p); err != nil {
				return err
			}
		}

		if err := r.e.store.RelocatePrefix(r.ctx, rec.Path, p); err != nil {
			return err
		}

		r.report.Relocations++

		r.logger.Info("followed remote file rename",
			slog.String("from", rec.Path),
			slog.String("to", p),
		)
	}

	return r.pullFile(f, p)
}

// remoteDeleted handles a file or folder removed or trashed remotely.
func (r *run) remoteDeleted(id string) error {
	if r.settings.IgnoreRemoteDeletes {
		return nil
	}

	folder, err := r.e.store.FolderByRemoteID(r.ctx, id)
	if err != nil {
		return err
	}

	if folder != nil {
		return r.remoteFolderDeleted(folder)
	}

	rec, err := r.e.store.ItemByRemoteID(r.ctx, id)
	if err != nil || rec == nil {
		return err
	}

	return r.localDelete(rec)
}

func (r *run) remoteFolderDeleted(folder *state.Folder) error {
	if folder.Path == "" {
		r.logger.Warn("remote root folder removed; local files kept",
			slog.String("remote_id", folder.RemoteID),
		)

		return nil
	}

	items, err := r.e.store.ItemsUnder(r.ctx, folder.Path)
	if err != nil {
		return err
	}

	for _, it := range items {
		if it.RemoteID == "" {
			continue
		}

		if err := r.localDelete(it); err != nil {
			return err
		}
	}

	if err := r.e.store.DeleteFoldersUnder(r.ctx, folder.Path); err != nil {
		return err
	}

	if _, err := r.local.RemoveDirIfEmpty(folder.Path); err != nil {
		return err
	}

	r.logger.Info("remote folder removed", slog.String("path", folder.Path))

	return nil
}

// localDelete mirrors a remote deletion of one file. A local edit since the
// last sync keeps the file and queues it for re-upload as a new file.
func (r *run) localDelete(rec *state.Item) error {
	info, exists, err := r.local.Stat(rec.Path)
	if err != nil {
		return err
	}

	if exists && info.ModTime > rec.LastSyncedAt {
		detached := *rec
		detached.RemoteID = ""
		detached.RemoteModified = 0
		detached.State = state.StatePendingUpload

		if err := r.e.store.UpsertItem(r.ctx, &detached); err != nil {
			return err
		}

		r.report.Detached++

		r.logger.Info("remote copy deleted but local edited, re-uploading",
			slog.String("path", rec.Path),
		)

		return nil
	}

	if exists {
		dst, err := r.trashName(rec.Path)
		if err != nil {
			return err
		}

		if err := r.local.Move(rec.Path, dst); err != nil {
			return err
		}

		r.report.LocalTrashed++

		r.logger.Info("moved remotely deleted file to trash",
			slog.String("path", rec.Path),
			slog.String("trash", dst),
		)
	}

	return r.e.store.DeleteItem(r.ctx, rec.Path)
}
