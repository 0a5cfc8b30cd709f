package sync

import (
	"context"
	"time"

	"github.com/anotepad/notesync/internal/drive"
	"github.com/anotepad/notesync/internal/localfs"
	"github.com/anotepad/notesync/internal/state"
)

// RemoteClient is the subset of drive.Client the engine uses.
type RemoteClient interface {
	ListChildren(ctx context.Context, tok, folderID, pageToken string) (*drive.FilePage, error)
	GetFile(ctx context.Context, tok, id string) (*drive.File, error)
	CreateFolder(ctx context.Context, tok, name, parentID string) (*drive.File, error)
	UploadFile(ctx context.Context, tok string, req drive.UploadRequest) (*drive.File, error)
	UpdateMetadata(ctx context.Context, tok, id string, u drive.MetadataUpdate) (*drive.File, error)
	TrashFile(ctx context.Context, tok, id string) error
	DeleteFile(ctx context.Context, tok, id string) error
	Download(ctx context.Context, tok, id string) ([]byte, error)
	StartPageToken(ctx context.Context, tok string) (string, error)
	ListChanges(ctx context.Context, tok, cursor string) (*drive.ChangePage, error)
}

// LocalStorage is the local file tree, satisfied by *localfs.FS.
type LocalStorage interface {
	ListFiles(ctx context.Context) ([]localfs.FileInfo, error)
	ListDirs(ctx context.Context) ([]string, error)
	Stat(rel string) (localfs.FileInfo, bool, error)
	Exists(rel string) bool
	IsDir(rel string) bool
	Excluded(rel string, isDir bool) bool
	ReadFile(rel string) ([]byte, error)
	WriteFile(rel string, data []byte) error
	ListNames(dir string) ([]string, error)
	MkdirAll(dir string) error
	Move(from, to string) error
	Remove(rel string) error
	RemoveDirIfEmpty(dir string) (bool, error)
}

// StateStore is the bookkeeping database, satisfied by *state.Store.
type StateStore interface {
	AllItems(ctx context.Context) ([]*state.Item, error)
	ItemsUnder(ctx context.Context, dir string) ([]*state.Item, error)
	ItemByPath(ctx context.Context, path string) (*state.Item, error)
	ItemByRemoteID(ctx context.Context, id string) (*state.Item, error)
	UpsertItem(ctx context.Context, it *state.Item) error
	DeleteItem(ctx context.Context, path string) error

	AllFolders(ctx context.Context) ([]*state.Folder, error)
	FolderByPath(ctx context.Context, path string) (*state.Folder, error)
	FolderByRemoteID(ctx context.Context, id string) (*state.Folder, error)
	UpsertFolder(ctx context.Context, f *state.Folder) error
	DeleteFoldersUnder(ctx context.Context, dir string) error

	RelocatePrefix(ctx context.Context, oldDir, newDir string) error

	RootFolder(ctx context.Context) (id, name string, err error)
	SetRootFolder(ctx context.Context, id, name string) error
	Cursor(ctx context.Context) (string, error)
	SetCursor(ctx context.Context, cursor string) error
	ClearCursor(ctx context.Context) error
	LastFullScanAt(ctx context.Context) (int64, error)
	SetLastFullScanAt(ctx context.Context, ms int64) error
	SetStatus(ctx context.Context, st state.Status, message string, lastSyncedAt int64) error
}

// CredentialProvider yields a bearer token for the current user.
type CredentialProvider interface {
	AccessToken(ctx context.Context) (string, error)
}

// DeletePolicy decides what happens to the remote copy of a locally
// deleted file or folder.
type DeletePolicy string

const (
	DeleteTrash     DeletePolicy = "trash"
	DeletePermanent DeletePolicy = "delete"
	DeleteIgnore    DeletePolicy = "ignore"
)

// Settings are the user preferences read at the start of every run.
type Settings struct {
	Enabled             bool
	Paused              bool
	PausedUntil         time.Time
	SyncDir             string
	FolderName          string
	IgnoreRemoteDeletes bool
	RemoteDeletePolicy  DeletePolicy
	FullScanInterval    time.Duration
}

// SettingsSource supplies fresh Settings.
type SettingsSource interface {
	SyncSettings() Settings
}

// SettingsFunc adapts a function to SettingsSource.
type SettingsFunc func() Settings

// SyncSettings implements SettingsSource.
func (f SettingsFunc) SyncSettings() Settings {
	return f()
}

// LocalOpener opens the local tree rooted at dir.
type LocalOpener func(dir string) (LocalStorage, error)
