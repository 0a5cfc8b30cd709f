package sync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/anotepad/notesync/internal/drive"
	"github.com/anotepad/notesync/internal/state"
)

// run carries the state of one RunSync pass.
type run struct {
	e        *Engine
	ctx      context.Context
	tok      string
	local    LocalStorage
	settings Settings
	logger   *slog.Logger
	rootID   string
	report   Report

	seen    map[string]bool // remote ids reached by the current full scan
	outside map[string]bool // folder ids known to be outside the tree
}

func (r *run) execute() error {
	if err := r.ensureRoot(); err != nil {
		return err
	}

	if err := r.push(); err != nil {
		return err
	}

	return r.pull()
}

func (r *run) now() int64 {
	return r.e.nowFunc().UnixMilli()
}

// ensureRoot creates the remote root folder on first use and keeps the
// root mapping in place.
func (r *run) ensureRoot() error {
	id, _, err := r.e.store.RootFolder(r.ctx)
	if err != nil {
		return err
	}

	if id == "" {
		f, err := r.e.remote.CreateFolder(r.ctx, r.tok, r.settings.FolderName, "")
		if err != nil {
			return err
		}

		if err := r.e.store.SetRootFolder(r.ctx, f.ID, r.settings.FolderName); err != nil {
			return err
		}

		r.report.FoldersCreated++
		id = f.ID

		r.logger.Info("created remote root folder",
			slog.String("name", r.settings.FolderName),
			slog.String("id", id),
		)
	}

	r.rootID = id

	return r.e.store.UpsertFolder(r.ctx, &state.Folder{Path: "", RemoteID: id})
}

// ensureFolderChain returns the remote id for a local directory, creating
// each missing remote folder along the way and recording the mappings.
func (r *run) ensureFolderChain(dir string) (string, error) {
	if dir == "" {
		return r.rootID, nil
	}

	if f, err := r.e.store.FolderByPath(r.ctx, dir); err != nil {
		return "", err
	} else if f != nil {
		return f.RemoteID, nil
	}

	parentID, err := r.ensureFolderChain(parentDir(dir))
	if err != nil {
		return "", err
	}

	created, err := r.e.remote.CreateFolder(r.ctx, r.tok, path.Base(dir), parentID)
	if err != nil {
		return "", err
	}

	if err := r.e.store.UpsertFolder(r.ctx, &state.Folder{Path: dir, RemoteID: created.ID}); err != nil {
		return "", err
	}

	r.report.FoldersCreated++

	return created.ID, nil
}

// applyDeletePolicy removes the remote counterpart of a local deletion. A
// remote object that is already gone counts as removed.
func (r *run) applyDeletePolicy(remoteID string) (bool, error) {
	var err error

	switch r.settings.RemoteDeletePolicy {
	case DeleteIgnore:
		return false, nil
	case DeletePermanent:
		err = r.e.remote.DeleteFile(r.ctx, r.tok, remoteID)
	default:
		err = r.e.remote.TrashFile(r.ctx, r.tok, remoteID)
	}

	if drive.IsNotFound(err) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	return true, nil
}

// parentDir returns the parent of a relative path, "" for top level.
func parentDir(p string) string {
	d := path.Dir(p)
	if d == "." || d == "/" {
		return ""
	}

	return d
}

// joinPath joins a directory and a name, treating "" as the root.
func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}

	return dir + "/" + name
}

// isUnder reports whether p is strictly beneath dir.
func isUnder(p, dir string) bool {
	if dir == "" {
		return p != ""
	}

	return strings.HasPrefix(p, dir+"/")
}

// safeName maps a remote name to a single local path segment.
func safeName(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	if name == "." || name == ".." {
		return "_"
	}

	return name
}

// validHint reports whether an app-property path is a usable relative path.
func validHint(p string) bool {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return false
	}

	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return false
		}
	}

	return true
}

func hashContent(data []byte) string {
	sum := sha256.Sum256(data)

	return hex.EncodeToString(sum[:])
}

// mimeFor infers the upload content type from the extension.
func mimeFor(name string) string {
	if strings.EqualFold(path.Ext(name), ".md") {
		return "text/markdown"
	}

	return "text/plain"
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}

	return b
}

// recordLocal stats a freshly written file and records it.
func (r *run) recordLocal(relPath string, data []byte, remote *drive.File, st state.SyncState) error {
	info, ok, err := r.local.Stat(relPath)
	if err != nil {
		return err
	}

	if !ok {
		return fmt.Errorf("sync: %s vanished after write", relPath)
	}

	it := &state.Item{
		Path:          relPath,
		LocalModified: info.ModTime,
		LocalSize:     info.Size,
		LocalHash:     hashContent(data),
		LastSyncedAt:  maxInt64(r.now(), info.ModTime),
		State:         st,
	}

	if remote != nil {
		it.RemoteID = remote.ID
		it.RemoteModified = remote.ModifiedTime
	}

	return r.e.store.UpsertItem(r.ctx, it)
}

// writeConflictCopy downloads the remote version of relPath into a fresh
// conflict-named sibling tracked as CONFLICT with no remote id.
func (r *run) writeConflictCopy(relPath, remoteID string) error {
	data, err := r.e.remote.Download(r.ctx, r.tok, remoteID)
	if err != nil {
		return err
	}

	name, err := r.freeConflictName(relPath)
	if err != nil {
		return err
	}

	if err := r.local.WriteFile(name, data); err != nil {
		return err
	}

	if err := r.recordLocal(name, data, nil, state.StateConflict); err != nil {
		return err
	}

	r.report.Conflicts++

	r.logger.Warn("conflict: kept remote version as copy",
		slog.String("path", relPath),
		slog.String("copy", name),
	)

	return nil
}
