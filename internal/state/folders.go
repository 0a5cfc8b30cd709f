package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Folder maps a local directory (empty path = sync root) to a remote
// folder id.
type Folder struct {
	Path     string
	RemoteID string
}

func (s *Store) queryFolders(ctx context.Context, query string, args ...any) ([]*Folder, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("state: querying folders: %w", err)
	}
	defer rows.Close()

	var out []*Folder

	for rows.Next() {
		var f Folder
		if err := rows.Scan(&f.Path, &f.RemoteID); err != nil {
			return nil, fmt.Errorf("state: scanning folder: %w", err)
		}

		out = append(out, &f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("state: iterating folders: %w", err)
	}

	return out, nil
}

func (s *Store) queryFolder(ctx context.Context, query string, args ...any) (*Folder, error) {
	var f Folder

	err := s.db.QueryRowContext(ctx, query, args...).Scan(&f.Path, &f.RemoteID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // absent mapping
	}

	if err != nil {
		return nil, fmt.Errorf("state: reading folder: %w", err)
	}

	return &f, nil
}

// AllFolders returns every mapping ordered by path, so parents precede
// their children.
func (s *Store) AllFolders(ctx context.Context) ([]*Folder, error) {
	return s.queryFolders(ctx, `SELECT path, remote_id FROM sync_folders ORDER BY path`)
}

// FolderByPath returns the mapping for a directory, or nil.
func (s *Store) FolderByPath(ctx context.Context, path string) (*Folder, error) {
	return s.queryFolder(ctx, `SELECT path, remote_id FROM sync_folders WHERE path = ?`, path)
}

// FolderByRemoteID returns the mapping for a remote folder id, or nil.
func (s *Store) FolderByRemoteID(ctx context.Context, id string) (*Folder, error) {
	return s.queryFolder(ctx, `SELECT path, remote_id FROM sync_folders WHERE remote_id = ? LIMIT 1`, id)
}

// UpsertFolder records a mapping.
func (s *Store) UpsertFolder(ctx context.Context, f *Folder) error {
	if _, err := s.db.ExecContext(ctx, `INSERT INTO sync_folders (path, remote_id) VALUES (?, ?)
		ON CONFLICT(path) DO UPDATE SET remote_id = excluded.remote_id`, f.Path, f.RemoteID); err != nil {
		return fmt.Errorf("state: upserting folder %q: %w", f.Path, err)
	}

	return nil
}

// DeleteFolder removes one mapping.
func (s *Store) DeleteFolder(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_folders WHERE path = ?`, path); err != nil {
		return fmt.Errorf("state: deleting folder %q: %w", path, err)
	}

	return nil
}

// DeleteFoldersUnder removes the mapping for dir and every mapping beneath it.
func (s *Store) DeleteFoldersUnder(ctx context.Context, dir string) error {
	lo, hi := prefixRange(dir)

	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_folders
		WHERE path = ? OR (path >= ? AND path < ?)`, dir, lo, hi); err != nil {
		return fmt.Errorf("state: deleting folders under %q: %w", dir, err)
	}

	return nil
}

// ErrRelocateIntoSelf is returned when a directory would move beneath itself.
var ErrRelocateIntoSelf = errors.New("state: cannot relocate a directory beneath itself")

// RelocatePrefix rewrites every item and folder path equal to or beneath
// oldDir so it sits beneath newDir instead, in one transaction. Records
// already occupying a destination path are replaced.
func (s *Store) RelocatePrefix(ctx context.Context, oldDir, newDir string) error {
	if oldDir == newDir {
		return nil
	}

	if oldDir == "" || strings.HasPrefix(newDir+"/", oldDir+"/") {
		return ErrRelocateIntoSelf
	}

	lo, hi := prefixRange(oldDir)
	rewrite := func(p string) string {
		return newDir + strings.TrimPrefix(p, oldDir)
	}

	var moved int

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"sync_items", "sync_folders"} {
			n, err := relocateTable(ctx, tx, table, oldDir, lo, hi, rewrite)
			if err != nil {
				return err
			}

			moved += n
		}

		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("relocated records",
		slog.String("from", oldDir),
		slog.String("to", newDir),
		slog.Int("rows", moved),
	)

	return nil
}

func relocateTable(
	ctx context.Context, tx *sql.Tx, table, oldDir, lo, hi string, rewrite func(string) string,
) (int, error) {
	rows, err := tx.QueryContext(ctx, `SELECT path FROM `+table+`
		WHERE path = ? OR (path >= ? AND path < ?) ORDER BY path`, oldDir, lo, hi) //nolint:gosec // table is a constant
	if err != nil {
		return 0, fmt.Errorf("state: selecting %s for relocation: %w", table, err)
	}

	var paths []string

	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return 0, fmt.Errorf("state: scanning %s path: %w", table, err)
		}

		paths = append(paths, p)
	}

	rows.Close()

	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("state: iterating %s paths: %w", table, err)
	}

	for _, p := range paths {
		np := rewrite(p)

		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE path = ?`, np); err != nil { //nolint:gosec // table is a constant
			return 0, fmt.Errorf("state: clearing %s destination %s: %w", table, np, err)
		}

		if _, err := tx.ExecContext(ctx, `UPDATE `+table+` SET path = ? WHERE path = ?`, np, p); err != nil { //nolint:gosec // table is a constant
			return 0, fmt.Errorf("state: relocating %s %s: %w", table, p, err)
		}
	}

	return len(paths), nil
}
