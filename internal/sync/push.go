package sync

import (
	"errors"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	"github.com/anotepad/notesync/internal/drive"
	"github.com/anotepad/notesync/internal/localfs"
	"github.com/anotepad/notesync/internal/state"
)

// localFile is an enumerated file with its content hash.
type localFile struct {
	localfs.FileInfo
	hash string
	data []byte // nil until read
}

// push propagates local state to the remote tree.
func (r *run) push() error {
	files, err := r.local.ListFiles(r.ctx)
	if err != nil {
		return err
	}

	items, err := r.itemsByPath()
	if err != nil {
		return err
	}

	hashed := make(map[string]*localFile, len(files))

	for _, fi := range files {
		lf, err := r.hashFile(fi, items[fi.Path])
		if errors.Is(err, fs.ErrNotExist) {
			r.logger.Debug("file vanished during scan", slog.String("path", fi.Path))

			continue
		}

		if err != nil {
			return err
		}

		hashed[fi.Path] = lf
	}

	if err := r.detectLocalRenames(hashed); err != nil {
		return err
	}

	// Relocation rewrote record paths; reload before classifying.
	if items, err = r.itemsByPath(); err != nil {
		return err
	}

	paths := make([]string, 0, len(hashed))
	for p := range hashed {
		paths = append(paths, p)
	}

	sort.Strings(paths)

	for _, p := range paths {
		if err := r.pushFile(hashed[p], items[p]); err != nil {
			return err
		}
	}

	if err := r.pushDeletions(hashed, items); err != nil {
		return err
	}

	return r.cleanupFolders()
}

func (r *run) itemsByPath() (map[string]*state.Item, error) {
	all, err := r.e.store.AllItems(r.ctx)
	if err != nil {
		return nil, err
	}

	m := make(map[string]*state.Item, len(all))
	for _, it := range all {
		m[it.Path] = it
	}

	return m, nil
}

// hashFile reuses the recorded hash when size and mtime are unchanged.
func (r *run) hashFile(fi localfs.FileInfo, rec *state.Item) (*localFile, error) {
	lf := &localFile{FileInfo: fi}

	if rec != nil && rec.LocalHash != "" && rec.LocalModified == fi.ModTime && rec.LocalSize == fi.Size {
		lf.hash = rec.LocalHash

		return lf, nil
	}

	data, err := r.local.ReadFile(fi.Path)
	if err != nil {
		return nil, err
	}

	lf.data = data
	lf.hash = hashContent(data)

	return lf, nil
}

func isCandidate(lf *localFile, rec *state.Item) bool {
	switch {
	case rec == nil:
		return true
	case lf.hash != rec.LocalHash:
		return true
	case rec.State == state.StatePendingUpload:
		return true
	case rec.State == state.StateSynced && rec.RemoteID == "":
		return true
	default:
		return false
	}
}

func (r *run) pushFile(lf *localFile, rec *state.Item) error {
	if !isCandidate(lf, rec) {
		if rec.LocalModified == lf.ModTime && rec.LocalSize == lf.Size {
			return nil
		}

		updated := *rec
		updated.LocalModified = lf.ModTime
		updated.LocalSize = lf.Size

		return r.e.store.UpsertItem(r.ctx, &updated)
	}

	if lf.data == nil {
		data, err := r.local.ReadFile(lf.Path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}

		if err != nil {
			return err
		}

		lf.data = data
		lf.hash = hashContent(data)
	}

	remoteID := ""
	if rec != nil {
		remoteID = rec.RemoteID
	}

	if remoteID != "" && rec.LastSyncedAt > 0 {
		var err error
		if remoteID, rec, err = r.checkPushConflict(lf, rec); err != nil {
			return err
		}
	}

	return r.upload(lf, rec, remoteID)
}

// checkPushConflict fetches the remote metadata of a record about to be
// overwritten. It returns the remote id to update, or "" when the remote
// copy is gone and the file must be created anew, along with the record
// the upload should start from.
//
// Once the remote version is saved as a conflict copy the record moves
// past it, so a failed upload retried later does not copy it again.
func (r *run) checkPushConflict(lf *localFile, rec *state.Item) (string, *state.Item, error) {
	remote, err := r.e.remote.GetFile(r.ctx, r.tok, rec.RemoteID)
	if drive.IsNotFound(err) || (err == nil && remote.Trashed) {
		r.report.Detached++

		r.logger.Info("remote copy gone, uploading as new file",
			slog.String("path", lf.Path),
			slog.String("remote_id", rec.RemoteID),
		)

		return "", rec, nil
	}

	if err != nil {
		return "", rec, err
	}

	remoteMod := maxInt64(rec.RemoteModified, remote.ModifiedTime)
	if lf.ModTime <= rec.LastSyncedAt || remoteMod <= rec.LastSyncedAt {
		return rec.RemoteID, rec, nil
	}

	if err := r.writeConflictCopy(lf.Path, rec.RemoteID); err != nil {
		return "", rec, err
	}

	updated := *rec
	updated.RemoteModified = remoteMod
	updated.LastSyncedAt = maxInt64(r.now(), remoteMod)
	updated.State = state.StatePendingUpload

	if err := r.e.store.UpsertItem(r.ctx, &updated); err != nil {
		return "", rec, err
	}

	return rec.RemoteID, &updated, nil
}

// upload creates or updates the remote file and records the outcome. A
// failed upload leaves the record PENDING_UPLOAD so the next run retries.
func (r *run) upload(lf *localFile, rec *state.Item, remoteID string) error {
	parentID, err := r.ensureFolderChain(parentDir(lf.Path))
	if err != nil {
		return r.markPending(lf, rec, err)
	}

	req := drive.UploadRequest{
		FileID:        remoteID,
		Name:          pathBase(lf.Path),
		ParentID:      parentID,
		MimeType:      mimeFor(lf.Path),
		AppProperties: map[string]string{drive.AppPropertyPath: lf.Path},
		Content:       lf.data,
	}

	f, err := r.e.remote.UploadFile(r.ctx, r.tok, req)
	if remoteID != "" && drive.IsNotFound(err) {
		r.report.Detached++
		req.FileID = ""
		f, err = r.e.remote.UploadFile(r.ctx, r.tok, req)
	}

	if err != nil {
		return r.markPending(lf, rec, err)
	}

	r.report.Uploads++

	r.logger.Debug("uploaded",
		slog.String("path", lf.Path),
		slog.String("remote_id", f.ID),
		slog.Bool("created", req.FileID == ""),
	)

	return r.e.store.UpsertItem(r.ctx, &state.Item{
		Path:           lf.Path,
		LocalModified:  lf.ModTime,
		LocalSize:      lf.Size,
		LocalHash:      lf.hash,
		RemoteID:       f.ID,
		RemoteModified: f.ModifiedTime,
		LastSyncedAt:   maxInt64(r.now(), lf.ModTime),
		State:          state.StateSynced,
	})
}

func (r *run) markPending(lf *localFile, rec *state.Item, cause error) error {
	it := &state.Item{
		Path:          lf.Path,
		LocalModified: lf.ModTime,
		LocalSize:     lf.Size,
		LocalHash:     lf.hash,
		State:         state.StatePendingUpload,
		LastError:     cause.Error(),
	}

	if rec != nil {
		it.RemoteID = rec.RemoteID
		it.RemoteModified = rec.RemoteModified
		it.LastSyncedAt = rec.LastSyncedAt
	}

	if err := r.e.store.UpsertItem(r.ctx, it); err != nil {
		r.logger.Warn("failed to record pending upload",
			slog.String("path", lf.Path),
			slog.String("error", err.Error()),
		)
	}

	return cause
}

// pushDeletions handles records whose local file is gone.
func (r *run) pushDeletions(present map[string]*localFile, items map[string]*state.Item) error {
	paths := make([]string, 0, len(items))
	for p := range items {
		if _, ok := present[p]; !ok {
			paths = append(paths, p)
		}
	}

	sort.Strings(paths)

	for _, p := range paths {
		rec := items[p]

		if r.local.Excluded(p, false) {
			continue
		}

		// Enumeration may be stale; only act on a confirmed absence.
		_, ok, err := r.local.Stat(p)
		if err != nil {
			return err
		}

		if ok {
			continue
		}

		if rec.RemoteID != "" {
			removed, err := r.applyDeletePolicy(rec.RemoteID)
			if err != nil {
				return err
			}

			if removed {
				r.report.RemoteDeletes++
			}

			r.logger.Info("local file deleted",
				slog.String("path", p),
				slog.String("policy", string(r.settings.RemoteDeletePolicy)),
			)
		}

		if err := r.e.store.DeleteItem(r.ctx, p); err != nil {
			return err
		}
	}

	return nil
}

// cleanupFolders drops mappings of directories gone locally once nothing
// tracked remains beneath them, deepest first.
func (r *run) cleanupFolders() error {
	folders, err := r.e.store.AllFolders(r.ctx)
	if err != nil {
		return err
	}

	sort.Slice(folders, func(i, j int) bool {
		return strings.Count(folders[i].Path, "/") > strings.Count(folders[j].Path, "/")
	})

	for _, f := range folders {
		if f.Path == "" || r.local.IsDir(f.Path) || r.local.Excluded(f.Path, true) {
			continue
		}

		// A parent processed earlier may have dropped this mapping.
		cur, err := r.e.store.FolderByPath(r.ctx, f.Path)
		if err != nil {
			return err
		}

		if cur == nil {
			continue
		}

		remaining, err := r.e.store.ItemsUnder(r.ctx, f.Path)
		if err != nil {
			return err
		}

		if len(remaining) > 0 {
			continue
		}

		if r.settings.RemoteDeletePolicy != DeleteIgnore {
			if err := r.deleteRemoteFolderIfEmpty(f); err != nil {
				return err
			}
		}

		if err := r.e.store.DeleteFoldersUnder(r.ctx, f.Path); err != nil {
			return err
		}
	}

	return nil
}

func (r *run) deleteRemoteFolderIfEmpty(f *state.Folder) error {
	page, err := r.e.remote.ListChildren(r.ctx, r.tok, f.RemoteID, "")
	if drive.IsNotFound(err) {
		return nil
	}

	if err != nil {
		return err
	}

	if len(page.Files) > 0 {
		r.logger.Info("keeping non-empty remote folder", slog.String("path", f.Path))

		return nil
	}

	removed, err := r.applyDeletePolicy(f.RemoteID)
	if err != nil {
		return err
	}

	if removed {
		r.report.RemoteDeletes++
	}

	return nil
}

func pathBase(p string) string {
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}

	return p
}
