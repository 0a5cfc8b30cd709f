package sync

import (
	"errors"
	"io/fs"
	"log/slog"
	"time"

	"github.com/anotepad/notesync/internal/drive"
	"github.com/anotepad/notesync/internal/state"
)

// maxAncestorDepth bounds the parent walk used to place remote items whose
// parent folder is not mapped yet.
const maxAncestorDepth = 32

// pull brings remote changes down, through a full scan when there is no
// cursor and through the change feed otherwise.
func (r *run) pull() error {
	cursor, err := r.e.store.Cursor(r.ctx)
	if err != nil {
		return err
	}

	if cursor != "" && r.settings.FullScanInterval > 0 {
		last, err := r.e.store.LastFullScanAt(r.ctx)
		if err != nil {
			return err
		}

		if r.e.nowFunc().Sub(time.UnixMilli(last)) >= r.settings.FullScanInterval {
			r.logger.Info("full scan interval elapsed, rescanning")

			if err := r.e.store.ClearCursor(r.ctx); err != nil {
				return err
			}

			cursor = ""
		}
	}

	if cursor == "" {
		return r.fullScan()
	}

	return r.incremental(cursor)
}

// fullScan walks the whole remote tree. The fresh cursor is taken before
// walking so changes made during the scan are replayed next time.
func (r *run) fullScan() error {
	token, err := r.e.remote.StartPageToken(r.ctx, r.tok)
	if err != nil {
		return err
	}

	r.seen = make(map[string]bool)
	defer func() { r.seen = nil }()

	if err := r.scanFolder(r.rootID, ""); err != nil {
		return err
	}

	if err := r.sweepUnseen(); err != nil {
		return err
	}

	if err := r.e.store.SetCursor(r.ctx, token); err != nil {
		return err
	}

	if err := r.e.store.SetLastFullScanAt(r.ctx, r.now()); err != nil {
		return err
	}

	r.report.FullScan = true

	return nil
}

type scanEntry struct {
	id   string
	path string
}

// scanFolder pulls every folder and file beneath folderID breadth first.
func (r *run) scanFolder(folderID, dir string) error {
	queue := []scanEntry{{id: folderID, path: dir}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		pageToken := ""

		for {
			page, err := r.e.remote.ListChildren(r.ctx, r.tok, cur.id, pageToken)
			if err != nil {
				return err
			}

			for i := range page.Files {
				f := &page.Files[i]
				r.markSeen(f.ID)

				p := joinPath(cur.path, safeName(f.Name))

				if f.IsFolder() {
					if r.local.Excluded(p, true) {
						continue
					}

					if err := r.placeFolder(f, p, false); err != nil {
						return err
					}

					queue = append(queue, scanEntry{id: f.ID, path: p})

					continue
				}

				if err := r.placeFile(f, p); err != nil {
					return err
				}
			}

			if page.NextPageToken == "" {
				break
			}

			pageToken = page.NextPageToken
		}
	}

	return nil
}

func (r *run) markSeen(id string) {
	if r.seen != nil {
		r.seen[id] = true
	}
}

// sweepUnseen rechecks tracked remote ids a full scan did not reach; they
// were deleted or moved while no cursor was held.
func (r *run) sweepUnseen() error {
	items, err := r.e.store.AllItems(r.ctx)
	if err != nil {
		return err
	}

	var ids []string

	for _, it := range items {
		if it.RemoteID != "" && !r.seen[it.RemoteID] {
			ids = append(ids, it.RemoteID)
		}
	}

	folders, err := r.e.store.AllFolders(r.ctx)
	if err != nil {
		return err
	}

	for _, f := range folders {
		if f.Path != "" && !r.seen[f.RemoteID] {
			ids = append(ids, f.RemoteID)
		}
	}

	for _, id := range ids {
		if err := r.applyChange(drive.Change{FileID: id}); err != nil {
			return err
		}
	}

	return nil
}

// incremental replays the change feed from cursor. Each page's token is
// persisted once the page is applied so an interrupted run resumes there.
func (r *run) incremental(cursor string) error {
	for {
		page, err := r.e.remote.ListChanges(r.ctx, r.tok, cursor)
		if err != nil {
			if drive.IsNotFound(err) || errors.Is(err, drive.ErrBadRequest) {
				r.logger.Warn("change cursor rejected, falling back to full scan",
					slog.String("error", err.Error()),
				)

				if err := r.e.store.ClearCursor(r.ctx); err != nil {
					return err
				}

				return r.fullScan()
			}

			return err
		}

		for _, ch := range page.Changes {
			if err := r.applyChange(ch); err != nil {
				return err
			}
		}

		if page.NextPageToken != "" {
			if err := r.e.store.SetCursor(r.ctx, page.NextPageToken); err != nil {
				return err
			}

			cursor = page.NextPageToken

			continue
		}

		next := page.NewStartPageToken
		if next == "" {
			if next, err = r.e.remote.StartPageToken(r.ctx, r.tok); err != nil {
				return err
			}
		}

		return r.e.store.SetCursor(r.ctx, next)
	}
}

// pullFile reconciles one remote file against its local path.
func (r *run) pullFile(f *drive.File, p string) error {
	rec, err := r.e.store.ItemByPath(r.ctx, p)
	if err != nil {
		return err
	}

	if rec != nil && rec.RemoteID != "" && rec.RemoteID != f.ID {
		r.logger.Warn("path bound to another remote file, skipping",
			slog.String("path", p),
			slog.String("remote_id", f.ID),
			slog.String("bound_id", rec.RemoteID),
		)

		return nil
	}

	info, exists, err := r.local.Stat(p)
	if err != nil {
		return err
	}

	var lastSynced int64
	if rec != nil {
		lastSynced = rec.LastSyncedAt
	}

	localChanged := exists && info.ModTime > lastSynced

	remoteChanged := rec == nil || lastSynced == 0 || f.ModifiedTime > lastSynced
	if rec != nil && rec.RemoteID == f.ID && rec.RemoteModified == f.ModifiedTime {
		remoteChanged = false
	}

	if !remoteChanged {
		return nil
	}

	if localChanged && rec != nil {
		same, err := r.sameAsRecorded(p, rec)
		if err != nil {
			return err
		}

		// A touched file whose content matches the record is not an edit.
		localChanged = !same
	}

	if localChanged {
		if err := r.writeConflictCopy(p, f.ID); err != nil {
			return err
		}

		if rec == nil {
			return nil
		}

		// The remote version is preserved in the copy. The local edit is
		// queued and overwrites the remote on the next push.
		updated := *rec
		updated.RemoteModified = f.ModifiedTime
		updated.LastSyncedAt = maxInt64(r.now(), f.ModifiedTime)
		updated.State = state.StatePendingUpload

		return r.e.store.UpsertItem(r.ctx, &updated)
	}

	data, err := r.e.remote.Download(r.ctx, r.tok, f.ID)
	if err != nil {
		return err
	}

	if err := r.local.WriteFile(p, data); err != nil {
		return err
	}

	if err := r.recordLocal(p, data, f, state.StateSynced); err != nil {
		return err
	}

	r.report.Downloads++

	r.logger.Debug("downloaded", slog.String("path", p), slog.String("remote_id", f.ID))

	return nil
}

// sameAsRecorded reports whether the local file at p still holds the
// content last synced for rec. A file that vanished counts as unchanged.
func (r *run) sameAsRecorded(p string, rec *state.Item) (bool, error) {
	if rec.LocalHash == "" {
		return false, nil
	}

	data, err := r.local.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}

	if err != nil {
		return false, err
	}

	return hashContent(data) == rec.LocalHash, nil
}
