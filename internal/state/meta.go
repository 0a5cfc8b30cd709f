package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
)

// Meta keys.
const (
	keyRootFolderID   = "remote_root_folder_id"
	keyRootFolderName = "remote_root_folder_name"
	keyCursor         = "change_feed_cursor"
	keyLastFullScan   = "last_full_scan_at"
	keyStatus         = "sync_status"
	keyStatusMessage  = "sync_status_message"
	keyLastSyncedAt   = "last_synced_at"
)

// Status is the coarse engine status shown to the user.
type Status string

const (
	StatusIdle    Status = "IDLE"
	StatusPending Status = "PENDING"
	StatusRunning Status = "RUNNING"
	StatusSynced  Status = "SYNCED"
	StatusError   Status = "ERROR"
)

// StatusInfo is the persisted status triple.
type StatusInfo struct {
	State        Status
	Message      string
	LastSyncedAt int64 // Unix ms, 0 when never synced
}

// Meta returns the value for key and whether it is set.
func (s *Store) Meta(ctx context.Context, key string) (string, bool, error) {
	var v string

	err := s.db.QueryRowContext(ctx, `SELECT value FROM sync_meta WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}

	if err != nil {
		return "", false, fmt.Errorf("state: reading meta %s: %w", key, err)
	}

	return v, true, nil
}

// SetMeta stores a value.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	return setMeta(ctx, s.db, key, value, s.nowFunc().UnixMilli())
}

// DeleteMeta removes a key.
func (s *Store) DeleteMeta(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_meta WHERE key = ?`, key); err != nil {
		return fmt.Errorf("state: deleting meta %s: %w", key, err)
	}

	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func setMeta(ctx context.Context, db execer, key, value string, now int64) error {
	if _, err := db.ExecContext(ctx, `INSERT INTO sync_meta (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now); err != nil {
		return fmt.Errorf("state: writing meta %s: %w", key, err)
	}

	return nil
}

func (s *Store) metaInt(ctx context.Context, key string) (int64, error) {
	v, ok, err := s.Meta(ctx, key)
	if err != nil || !ok {
		return 0, err
	}

	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		s.logger.Warn("ignoring malformed meta value", slog.String("key", key), slog.String("value", v))

		return 0, nil
	}

	return n, nil
}

// RootFolder returns the remote root folder id and name; id is empty when
// no root has been chosen or created yet.
func (s *Store) RootFolder(ctx context.Context) (id, name string, err error) {
	if id, _, err = s.Meta(ctx, keyRootFolderID); err != nil {
		return "", "", err
	}

	if name, _, err = s.Meta(ctx, keyRootFolderName); err != nil {
		return "", "", err
	}

	return id, name, nil
}

// SetRootFolder persists the remote root folder.
func (s *Store) SetRootFolder(ctx context.Context, id, name string) error {
	now := s.nowFunc().UnixMilli()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := setMeta(ctx, tx, keyRootFolderID, id, now); err != nil {
			return err
		}

		return setMeta(ctx, tx, keyRootFolderName, name, now)
	})
}

// Cursor returns the change feed cursor, or "" when a full scan is due.
func (s *Store) Cursor(ctx context.Context) (string, error) {
	v, _, err := s.Meta(ctx, keyCursor)

	return v, err
}

// SetCursor persists the change feed cursor.
func (s *Store) SetCursor(ctx context.Context, cursor string) error {
	return s.SetMeta(ctx, keyCursor, cursor)
}

// ClearCursor forces the next pull to run a full scan.
func (s *Store) ClearCursor(ctx context.Context) error {
	return s.DeleteMeta(ctx, keyCursor)
}

// LastFullScanAt returns the time of the last completed full scan (Unix ms).
func (s *Store) LastFullScanAt(ctx context.Context) (int64, error) {
	return s.metaInt(ctx, keyLastFullScan)
}

// SetLastFullScanAt records the completion of a full scan.
func (s *Store) SetLastFullScanAt(ctx context.Context, ms int64) error {
	return s.SetMeta(ctx, keyLastFullScan, strconv.FormatInt(ms, 10))
}

// SetStatus records the engine status. A zero lastSyncedAt leaves the
// previous value in place.
func (s *Store) SetStatus(ctx context.Context, st Status, message string, lastSyncedAt int64) error {
	now := s.nowFunc().UnixMilli()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := setMeta(ctx, tx, keyStatus, string(st), now); err != nil {
			return err
		}

		if err := setMeta(ctx, tx, keyStatusMessage, message, now); err != nil {
			return err
		}

		if lastSyncedAt == 0 {
			return nil
		}

		return setMeta(ctx, tx, keyLastSyncedAt, strconv.FormatInt(lastSyncedAt, 10), now)
	})
}

// Status returns the persisted status. A fresh store reports IDLE.
func (s *Store) Status(ctx context.Context) (StatusInfo, error) {
	st, ok, err := s.Meta(ctx, keyStatus)
	if err != nil {
		return StatusInfo{}, err
	}

	if !ok {
		st = string(StatusIdle)
	}

	msg, _, err := s.Meta(ctx, keyStatusMessage)
	if err != nil {
		return StatusInfo{}, err
	}

	last, err := s.metaInt(ctx, keyLastSyncedAt)
	if err != nil {
		return StatusInfo{}, err
	}

	return StatusInfo{State: Status(st), Message: msg, LastSyncedAt: last}, nil
}

// ResetForNewFolder forgets every record and mapping, clears the cursor
// and scan time, and binds the store to a different remote root.
func (s *Store) ResetForNewFolder(ctx context.Context, id, name string) error {
	now := s.nowFunc().UnixMilli()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM sync_items`,
			`DELETE FROM sync_folders`,
			`DELETE FROM sync_meta WHERE key IN ('` + keyCursor + `', '` + keyLastFullScan + `')`,
		} {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("state: resetting: %w", err)
			}
		}

		if err := setMeta(ctx, tx, keyRootFolderID, id, now); err != nil {
			return err
		}

		return setMeta(ctx, tx, keyRootFolderName, name, now)
	})
	if err != nil {
		return err
	}

	s.logger.Info("state reset for new remote folder", slog.String("folder_id", id), slog.String("name", name))

	return nil
}
