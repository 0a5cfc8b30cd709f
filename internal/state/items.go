package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SyncState is the per-file sync status.
type SyncState string

const (
	StateSynced        SyncState = "SYNCED"
	StatePendingUpload SyncState = "PENDING_UPLOAD"
	StateConflict      SyncState = "CONFLICT"
)

// Item is the bookkeeping record for one local file. Zero values of
// RemoteID, RemoteModified and LastSyncedAt mean "absent". Timestamps are
// Unix milliseconds.
type Item struct {
	Path           string
	LocalModified  int64
	LocalSize      int64
	LocalHash      string
	RemoteID       string
	RemoteModified int64
	LastSyncedAt   int64
	State          SyncState
	LastError      string
}

const itemColumns = `path, local_modified, local_size, local_hash, remote_id,
	remote_modified, last_synced_at, sync_state, last_error`

const sqlUpsertItem = `INSERT INTO sync_items (` + itemColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(path) DO UPDATE SET
	 local_modified = excluded.local_modified,
	 local_size = excluded.local_size,
	 local_hash = excluded.local_hash,
	 remote_id = excluded.remote_id,
	 remote_modified = excluded.remote_modified,
	 last_synced_at = excluded.last_synced_at,
	 sync_state = excluded.sync_state,
	 last_error = excluded.last_error`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*Item, error) {
	var (
		it             Item
		state          string
		remoteID       sql.NullString
		remoteModified sql.NullInt64
		lastSynced     sql.NullInt64
		lastError      sql.NullString
	)

	if err := row.Scan(&it.Path, &it.LocalModified, &it.LocalSize, &it.LocalHash,
		&remoteID, &remoteModified, &lastSynced, &state, &lastError); err != nil {
		return nil, err
	}

	it.RemoteID = remoteID.String
	it.RemoteModified = remoteModified.Int64
	it.LastSyncedAt = lastSynced.Int64
	it.State = SyncState(state)
	it.LastError = lastError.String

	return &it, nil
}

func (s *Store) queryItems(ctx context.Context, query string, args ...any) ([]*Item, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("state: querying items: %w", err)
	}
	defer rows.Close()

	var items []*Item

	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("state: scanning item: %w", err)
		}

		items = append(items, it)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("state: iterating items: %w", err)
	}

	return items, nil
}

func (s *Store) queryItem(ctx context.Context, query string, args ...any) (*Item, error) {
	it, err := scanItem(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // absent record
	}

	if err != nil {
		return nil, fmt.Errorf("state: reading item: %w", err)
	}

	return it, nil
}

// AllItems returns every record ordered by path.
func (s *Store) AllItems(ctx context.Context) ([]*Item, error) {
	return s.queryItems(ctx, `SELECT `+itemColumns+` FROM sync_items ORDER BY path`)
}

// ItemsInState returns records in the given state ordered by path.
func (s *Store) ItemsInState(ctx context.Context, st SyncState) ([]*Item, error) {
	return s.queryItems(ctx, `SELECT `+itemColumns+` FROM sync_items WHERE sync_state = ? ORDER BY path`, string(st))
}

// ItemsUnder returns the records strictly beneath dir. An empty dir
// returns every record.
func (s *Store) ItemsUnder(ctx context.Context, dir string) ([]*Item, error) {
	if dir == "" {
		return s.AllItems(ctx)
	}

	lo, hi := prefixRange(dir)

	return s.queryItems(ctx, `SELECT `+itemColumns+` FROM sync_items
		WHERE path >= ? AND path < ? ORDER BY path`, lo, hi)
}

// ItemByPath returns the record for path, or nil.
func (s *Store) ItemByPath(ctx context.Context, path string) (*Item, error) {
	return s.queryItem(ctx, `SELECT `+itemColumns+` FROM sync_items WHERE path = ?`, path)
}

// ItemByRemoteID returns the record bound to a remote id, or nil.
func (s *Store) ItemByRemoteID(ctx context.Context, id string) (*Item, error) {
	if id == "" {
		return nil, nil //nolint:nilnil // no id, no record
	}

	return s.queryItem(ctx, `SELECT `+itemColumns+` FROM sync_items WHERE remote_id = ? LIMIT 1`, id)
}

// UpsertItem inserts or replaces the record keyed by its path.
func (s *Store) UpsertItem(ctx context.Context, it *Item) error {
	if it.State == "" {
		it.State = StateSynced
	}

	if _, err := s.db.ExecContext(ctx, sqlUpsertItem,
		it.Path, it.LocalModified, it.LocalSize, it.LocalHash,
		nullString(it.RemoteID), nullInt(it.RemoteModified), nullInt(it.LastSyncedAt),
		string(it.State), nullString(it.LastError),
	); err != nil {
		return fmt.Errorf("state: upserting item %s: %w", it.Path, err)
	}

	return nil
}

// DeleteItem removes the record for path. Missing records are ignored.
func (s *Store) DeleteItem(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_items WHERE path = ?`, path); err != nil {
		return fmt.Errorf("state: deleting item %s: %w", path, err)
	}

	return nil
}

// CountItems returns the number of records per state.
func (s *Store) CountItems(ctx context.Context) (map[SyncState]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT sync_state, COUNT(*) FROM sync_items GROUP BY sync_state`)
	if err != nil {
		return nil, fmt.Errorf("state: counting items: %w", err)
	}
	defer rows.Close()

	counts := make(map[SyncState]int)

	for rows.Next() {
		var (
			st string
			n  int
		)

		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("state: scanning count: %w", err)
		}

		counts[SyncState(st)] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("state: iterating counts: %w", err)
	}

	return counts, nil
}
