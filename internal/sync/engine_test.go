package sync

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anotepad/notesync/internal/drive"
	"github.com/anotepad/notesync/internal/localfs"
	"github.com/anotepad/notesync/internal/state"
)

type fakeCreds struct {
	tok string
	err error
}

func (c *fakeCreds) AccessToken(context.Context) (string, error) {
	return c.tok, c.err
}

// harness wires an engine to a temp directory, a temp SQLite store and an
// in-memory remote.
type harness struct {
	t        *testing.T
	ctx      context.Context
	root     string
	store    *state.Store
	remote   *fakeDrive
	creds    *fakeCreds
	settings Settings
	engine   *Engine
	skipDirs []string

	mtime int64 // next local mtime handed out by write
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	remote := newFakeDrive(func() int64 { return time.Now().UnixMilli() })

	return newHarnessWithRemote(t, remote)
}

func newHarnessWithRemote(t *testing.T, remote *fakeDrive) *harness {
	t.Helper()

	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)

	store, err := state.Open(ctx, filepath.Join(t.TempDir(), "state.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	h := &harness{
		t:      t,
		ctx:    ctx,
		root:   t.TempDir(),
		store:  store,
		remote: remote,
		creds:  &fakeCreds{tok: "token"},
		mtime:  time.Now().Add(time.Hour).UnixMilli(),
	}

	h.settings = Settings{Enabled: true, SyncDir: h.root}
	h.engine = h.newEngine(store)

	return h
}

// newEngine wires an engine over store and the harness remote. Skipped
// directories are read at every run.
func (h *harness) newEngine(store StateStore) *Engine {
	logger := slog.New(slog.DiscardHandler)

	return NewEngine(Deps{
		Remote:   h.remote,
		Store:    store,
		Creds:    h.creds,
		Settings: SettingsFunc(func() Settings { return h.settings }),
		OpenLocal: func(dir string) (LocalStorage, error) {
			return localfs.New(dir, localfs.Options{SkipDirs: h.skipDirs}, logger)
		},
		Logger: logger,
	})
}

// tick returns a timestamp later than anything recorded so far.
func (h *harness) tick() int64 {
	h.mtime += int64(time.Minute / time.Millisecond)

	return h.mtime
}

func (h *harness) abs(rel string) string {
	return filepath.Join(h.root, filepath.FromSlash(rel))
}

// write creates or edits a local file with a fresh, strictly later mtime.
func (h *harness) write(rel, content string) {
	h.t.Helper()

	p := h.abs(rel)
	require.NoError(h.t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(h.t, os.WriteFile(p, []byte(content), 0o644))

	mt := time.UnixMilli(h.tick())
	require.NoError(h.t, os.Chtimes(p, mt, mt))
}

func (h *harness) read(rel string) string {
	h.t.Helper()

	data, err := os.ReadFile(h.abs(rel))
	require.NoError(h.t, err)

	return string(data)
}

func (h *harness) exists(rel string) bool {
	_, err := os.Stat(h.abs(rel))

	return err == nil
}

func (h *harness) sync() Report {
	h.t.Helper()

	res, err := h.engine.RunSync(h.ctx)
	require.NoError(h.t, err)

	s, ok := res.(Success)
	require.True(h.t, ok, "unexpected result %v", res)

	return s.Report
}

func (h *harness) item(rel string) *state.Item {
	h.t.Helper()

	it, err := h.store.ItemByPath(h.ctx, rel)
	require.NoError(h.t, err)

	return it
}

func (h *harness) rootID() string {
	h.t.Helper()

	id, _, err := h.store.RootFolder(h.ctx)
	require.NoError(h.t, err)
	require.NotEmpty(h.t, id)

	return id
}

func (h *harness) status() state.StatusInfo {
	h.t.Helper()

	st, err := h.store.Status(h.ctx)
	require.NoError(h.t, err)

	return st
}

// localTree maps every supported file under root to its content.
func (h *harness) localTree() map[string]string {
	h.t.Helper()

	out := make(map[string]string)

	err := filepath.WalkDir(h.root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, _ := filepath.Rel(h.root, p)
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel == localfs.TrashDir {
				return filepath.SkipDir
			}

			return nil
		}

		if localfs.IsSupported(rel) {
			data, err := os.ReadFile(p)
			if err != nil {
				return err
			}

			out[rel] = string(data)
		}

		return nil
	})
	require.NoError(h.t, err)

	return out
}

// --- preconditions ---

func TestRunSync_Disabled(t *testing.T) {
	h := newHarness(t)
	h.settings.Enabled = false

	res, err := h.engine.RunSync(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, Skipped{Reason: "disabled"}, res)
	assert.Equal(t, state.StatusInfo{State: state.StatusIdle, Message: "Sync disabled"}, h.status())
	assert.Zero(t, h.remote.callCount("CreateFolder"))
}

func TestRunSync_Paused(t *testing.T) {
	h := newHarness(t)
	h.settings.Paused = true

	res, err := h.engine.RunSync(h.ctx)
	require.NoError(t, err)
	assert.IsType(t, Skipped{}, res)
	assert.Equal(t, state.StatusPending, h.status().State)
	assert.Equal(t, "Sync paused", h.status().Message)
}

func TestRunSync_PausedUntil(t *testing.T) {
	h := newHarness(t)
	h.settings.PausedUntil = time.Now().Add(time.Hour)

	res, err := h.engine.RunSync(h.ctx)
	require.NoError(t, err)
	assert.IsType(t, Skipped{}, res)

	// An expired pause no longer applies.
	h.settings.PausedUntil = time.Now().Add(-time.Hour)
	h.sync()
	assert.Equal(t, state.StatusSynced, h.status().State)
}

func TestRunSync_NoLocalRoot(t *testing.T) {
	h := newHarness(t)
	h.settings.SyncDir = ""

	res, err := h.engine.RunSync(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, Failure{AuthRequired: false, Reason: ErrNoLocalRoot.Error()}, res)
	assert.Equal(t, state.StatusInfo{State: state.StatusError, Message: "No local folder selected"}, h.status())

	h.settings.SyncDir = filepath.Join(h.root, "missing")

	res, err = h.engine.RunSync(h.ctx)
	require.NoError(t, err)

	f, ok := res.(Failure)
	require.True(t, ok)
	assert.False(t, f.AuthRequired)
}

func TestRunSync_SignInRequired(t *testing.T) {
	h := newHarness(t)
	h.creds.tok = ""
	h.creds.err = drive.ErrNotLoggedIn

	res, err := h.engine.RunSync(h.ctx)
	require.NoError(t, err)

	f, ok := res.(Failure)
	require.True(t, ok)
	assert.True(t, f.AuthRequired)
	assert.Equal(t, "Sign in required", h.status().Message)

	h.creds.err = nil

	res, err = h.engine.RunSync(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, Failure{AuthRequired: true, Reason: "no access token"}, res)
}

func TestRunSync_TokenNetworkError(t *testing.T) {
	h := newHarness(t)
	h.creds.tok = ""
	h.creds.err = &drive.NetworkError{Op: "refreshing token", Err: errors.New("dial tcp: refused")}

	res, err := h.engine.RunSync(h.ctx)
	require.Error(t, err)
	assert.Nil(t, res)

	var netErr *drive.NetworkError
	assert.ErrorAs(t, err, &netErr)
	assert.Equal(t, state.StatusInfo{State: state.StatusError, Message: "Network error, will retry"}, h.status())
}

// failingStatusStore rejects one status transition.
type failingStatusStore struct {
	StateStore
	fail state.Status
}

func (s *failingStatusStore) SetStatus(ctx context.Context, st state.Status, msg string, last int64) error {
	if st == s.fail {
		return errors.New("disk I/O error")
	}

	return s.StateStore.SetStatus(ctx, st, msg, last)
}

func TestRunSync_StatusWriteFailureRecordsError(t *testing.T) {
	for _, st := range []state.Status{state.StatusRunning, state.StatusSynced} {
		t.Run(string(st), func(t *testing.T) {
			h := newHarness(t)
			h.engine = h.newEngine(&failingStatusStore{StateStore: h.store, fail: st})
			h.write("a.txt", "a")

			res, err := h.engine.RunSync(h.ctx)
			require.Error(t, err)
			assert.Nil(t, res)

			info := h.status()
			assert.Equal(t, state.StatusError, info.State)
			assert.Equal(t, msgUnexpected, info.Message)
		})
	}
}

func TestRunSync_CreatesRootOnce(t *testing.T) {
	h := newHarness(t)

	rep := h.sync()
	assert.Equal(t, 1, rep.FoldersCreated)
	assert.True(t, rep.FullScan)

	id, name, err := h.store.RootFolder(h.ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, DefaultFolderName, name)

	rep = h.sync()
	assert.Zero(t, rep.FoldersCreated)
	assert.False(t, rep.FullScan)
	assert.Equal(t, 1, h.remote.callCount("CreateFolder"))

	st := h.status()
	assert.Equal(t, state.StatusSynced, st.State)
	assert.Equal(t, "Synced", st.Message)
	assert.Positive(t, st.LastSyncedAt)
}

// --- push ---

func TestPush_UploadsNewFilesWithFolders(t *testing.T) {
	h := newHarness(t)
	h.write("a.txt", "alpha")
	h.write("Notes/Work/b.md", "# beta")
	h.write("Notes/skip.pdf", "ignored")

	rep := h.sync()
	assert.Equal(t, 2, rep.Uploads)
	assert.Equal(t, 3, rep.FoldersCreated) // root, Notes, Notes/Work

	root := h.rootID()
	notes := h.remote.findChild(root, "Notes")
	work := h.remote.findChild(notes, "Work")
	require.NotEmpty(t, work)

	bID := h.remote.findChild(work, "b.md")
	require.NotEmpty(t, bID)
	assert.Equal(t, "# beta", h.remote.content(bID))

	f, err := h.remote.GetFile(h.ctx, "", bID)
	require.NoError(t, err)
	assert.Equal(t, "text/markdown", f.MimeType)
	assert.Equal(t, "Notes/Work/b.md", f.PathHint())

	it := h.item("Notes/Work/b.md")
	require.NotNil(t, it)
	assert.Equal(t, state.StateSynced, it.State)
	assert.Equal(t, bID, it.RemoteID)
	assert.Equal(t, hashContent([]byte("# beta")), it.LocalHash)
	assert.Nil(t, h.item("Notes/skip.pdf"))
}

func TestPush_EditUpdatesInPlace(t *testing.T) {
	h := newHarness(t)
	h.write("a.txt", "one")
	h.sync()

	id := h.item("a.txt").RemoteID

	h.write("a.txt", "two")
	rep := h.sync()

	assert.Equal(t, 1, rep.Uploads)
	assert.Zero(t, rep.Conflicts)
	assert.Equal(t, id, h.item("a.txt").RemoteID)
	assert.Equal(t, "two", h.remote.content(id))
}

func TestPush_UploadFailureLeavesPending(t *testing.T) {
	h := newHarness(t)
	h.sync()

	h.remote.uploadErr = &drive.APIError{StatusCode: 503, Err: drive.ErrServerError}
	h.write("a.txt", "x")

	res, err := h.engine.RunSync(h.ctx)
	require.Error(t, err)
	assert.Nil(t, res)

	it := h.item("a.txt")
	require.NotNil(t, it)
	assert.Equal(t, state.StatePendingUpload, it.State)
	assert.NotEmpty(t, it.LastError)
	assert.Empty(t, it.RemoteID)
	assert.Equal(t, "Drive error 503", h.status().Message)

	h.remote.uploadErr = nil

	rep := h.sync()
	assert.Equal(t, 1, rep.Uploads)
	assert.Equal(t, state.StateSynced, h.item("a.txt").State)
	assert.NotEmpty(t, h.item("a.txt").RemoteID)
}

func TestPush_RemoteGoneReuploads(t *testing.T) {
	h := newHarness(t)
	h.settings.IgnoreRemoteDeletes = true
	h.write("a.txt", "one")
	h.sync()

	oldID := h.item("a.txt").RemoteID
	h.remote.trash(oldID)
	h.write("a.txt", "two")

	rep := h.sync()
	assert.Equal(t, 1, rep.Detached)
	assert.Equal(t, 1, rep.Uploads)

	newID := h.item("a.txt").RemoteID
	assert.NotEqual(t, oldID, newID)
	assert.Equal(t, "two", h.remote.content(newID))
}

func TestPush_SyncedRecordWithoutRemoteIsUploaded(t *testing.T) {
	h := newHarness(t)
	h.sync()
	h.write("a.txt", "x")

	require.NoError(t, h.store.UpsertItem(h.ctx, &state.Item{
		Path:         "a.txt",
		LocalSize:    1,
		LocalHash:    hashContent([]byte("x")),
		LastSyncedAt: h.tick(),
		State:        state.StateSynced,
	}))

	rep := h.sync()
	assert.Equal(t, 1, rep.Uploads)

	it := h.item("a.txt")
	require.NotNil(t, it)
	require.NotEmpty(t, it.RemoteID)
	assert.Equal(t, state.StateSynced, it.State)
	assert.Equal(t, "x", h.remote.content(it.RemoteID))
}

func TestPush_ConflictCopiedOnceAcrossFailedUploads(t *testing.T) {
	h := newHarness(t)
	h.write("a.txt", "base")
	h.sync()

	id := h.item("a.txt").RemoteID

	h.write("a.txt", "local edit")
	h.remote.editFile(id, "remote edit", h.tick())
	h.remote.uploadErr = &drive.APIError{StatusCode: 503, Err: drive.ErrServerError}

	for range 3 {
		_, err := h.engine.RunSync(h.ctx)
		require.Error(t, err)
		assert.Equal(t, state.StatePendingUpload, h.item("a.txt").State)
	}

	copies := h.conflictCopies()
	require.Len(t, copies, 1)
	assert.Equal(t, "remote edit", h.read(copies[0]))

	h.remote.uploadErr = nil

	rep := h.sync()
	assert.Equal(t, 1, rep.Uploads)
	assert.Zero(t, rep.Conflicts)
	assert.Equal(t, "local edit", h.remote.content(id))
	assert.Equal(t, state.StateSynced, h.item("a.txt").State)
	assert.Len(t, h.conflictCopies(), 1)

	assert.False(t, h.sync().Changed())
}

func TestPush_FolderRenameRefreshesRemoteModified(t *testing.T) {
	var clock int64 = 1_000

	remote := newFakeDrive(func() int64 {
		clock++

		return clock
	})

	h := newHarnessWithRemote(t, remote)
	h.write("Old/a.txt", "a")
	h.sync()

	before := h.item("Old/a.txt").RemoteModified

	require.NoError(t, os.Rename(h.abs("Old"), h.abs("New")))

	rep := h.sync()
	require.Equal(t, 1, rep.Relocations)

	it := h.item("New/a.txt")
	require.NotNil(t, it)

	f, err := h.remote.GetFile(h.ctx, "", it.RemoteID)
	require.NoError(t, err)
	assert.Equal(t, f.ModifiedTime, it.RemoteModified)
	assert.Greater(t, it.RemoteModified, before)

	assert.False(t, h.sync().Changed())
}

// --- pull ---

func TestPull_DownloadsNewRemoteFiles(t *testing.T) {
	h := newHarness(t)
	h.sync()

	root := h.rootID()
	folder := h.remote.putFolder("Ideas", root)
	h.remote.putFile("x.txt", folder, "remote x")
	h.remote.putFile("photo.jpg", folder, "binary")

	rep := h.sync()
	assert.Equal(t, 1, rep.Downloads)
	assert.Equal(t, "remote x", h.read("Ideas/x.txt"))
	assert.False(t, h.exists("Ideas/photo.jpg"))

	f, err := h.store.FolderByPath(h.ctx, "Ideas")
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, folder, f.RemoteID)
}

func TestPull_RemoteEditOverwritesUnchangedLocal(t *testing.T) {
	h := newHarness(t)
	h.write("a.txt", "one")
	h.sync()

	id := h.item("a.txt").RemoteID
	h.remote.editFile(id, "remote two", h.tick())

	rep := h.sync()
	assert.Equal(t, 1, rep.Downloads)
	assert.Zero(t, rep.Conflicts)
	assert.Equal(t, "remote two", h.read("a.txt"))
}

func TestPull_RemoteFileRename(t *testing.T) {
	h := newHarness(t)
	h.write("a.txt", "one")
	h.sync()

	id := h.item("a.txt").RemoteID
	h.remote.rename(id, "b.txt")

	rep := h.sync()
	assert.Equal(t, 1, rep.Relocations)
	assert.False(t, h.exists("a.txt"))
	assert.Equal(t, "one", h.read("b.txt"))
	assert.Nil(t, h.item("a.txt"))
	assert.Equal(t, id, h.item("b.txt").RemoteID)
}

func TestPull_RemoteFolderRename(t *testing.T) {
	h := newHarness(t)
	h.write("Old/a.txt", "a")
	h.write("Old/sub/b.md", "b")
	h.sync()

	f, err := h.store.FolderByPath(h.ctx, "Old")
	require.NoError(t, err)
	h.remote.rename(f.RemoteID, "New")

	rep := h.sync()
	assert.Equal(t, 1, rep.Relocations)
	assert.Zero(t, rep.Downloads)
	assert.False(t, h.exists("Old"))
	assert.Equal(t, "a", h.read("New/a.txt"))
	assert.Equal(t, "b", h.read("New/sub/b.md"))

	sub, err := h.store.FolderByPath(h.ctx, "New/sub")
	require.NoError(t, err)
	assert.NotNil(t, sub)
	assert.NotNil(t, h.item("New/sub/b.md"))
}

func TestPull_FullScanInterval(t *testing.T) {
	h := newHarness(t)
	h.sync()

	assert.False(t, h.sync().FullScan)

	h.settings.FullScanInterval = time.Millisecond
	time.Sleep(5 * time.Millisecond)
	assert.True(t, h.sync().FullScan)
}

func TestPull_RejectedCursorFallsBackToFullScan(t *testing.T) {
	h := newHarness(t)
	h.sync()

	require.NoError(t, h.store.SetCursor(h.ctx, "bogus"))

	rep := h.sync()
	assert.True(t, rep.FullScan)

	cursor, err := h.store.Cursor(h.ctx)
	require.NoError(t, err)
	assert.NotEqual(t, "bogus", cursor)
}

func TestPull_FullScanSweepsRemovedFiles(t *testing.T) {
	h := newHarness(t)
	h.write("a.txt", "one")
	h.sync()

	id := h.item("a.txt").RemoteID
	h.remote.trash(id)
	require.NoError(t, h.store.ClearCursor(h.ctx))

	rep := h.sync()
	assert.True(t, rep.FullScan)
	assert.Equal(t, 1, rep.LocalTrashed)
	assert.False(t, h.exists("a.txt"))
	assert.Nil(t, h.item("a.txt"))
}

func TestPull_PathBoundToOtherRemoteIsSkipped(t *testing.T) {
	h := newHarness(t)
	h.write("a.txt", "mine")
	h.sync()

	h.remote.putFile("a.txt", h.rootID(), "theirs")

	rep := h.sync()
	assert.Zero(t, rep.Downloads)
	assert.Equal(t, "mine", h.read("a.txt"))
}

func TestPull_IgnoreRemoteDeletes(t *testing.T) {
	h := newHarness(t)
	h.settings.IgnoreRemoteDeletes = true
	h.write("a.txt", "one")
	h.sync()

	h.remote.trash(h.item("a.txt").RemoteID)

	rep := h.sync()
	assert.Zero(t, rep.LocalTrashed)
	assert.Equal(t, "one", h.read("a.txt"))
}

// newRun builds a run against the harness for exercising one step.
func (h *harness) newRun() *run {
	h.t.Helper()

	local, err := localfs.New(h.root, localfs.Options{}, nil)
	require.NoError(h.t, err)

	s := h.settings
	if s.RemoteDeletePolicy == "" {
		s.RemoteDeletePolicy = DeleteTrash
	}

	return &run{
		e:        h.engine,
		ctx:      h.ctx,
		tok:      "token",
		local:    local,
		settings: s,
		logger:   h.engine.logger,
		rootID:   h.rootID(),
	}
}

func TestPull_RemoteDeleteOfEditedFileDetaches(t *testing.T) {
	h := newHarness(t)
	h.write("a.txt", "one")
	h.sync()

	oldID := h.item("a.txt").RemoteID
	h.remote.trash(oldID)

	// Edited after this run's push phase looked at it.
	h.write("a.txt", "edited")

	r := h.newRun()
	require.NoError(t, r.remoteDeleted(oldID))
	assert.Equal(t, 1, r.report.Detached)
	assert.Zero(t, r.report.LocalTrashed)

	it := h.item("a.txt")
	require.NotNil(t, it)
	assert.Equal(t, state.StatePendingUpload, it.State)
	assert.Empty(t, it.RemoteID)
	assert.Equal(t, "edited", h.read("a.txt"))

	rep := h.sync()
	assert.Equal(t, 1, rep.Uploads)

	newID := h.item("a.txt").RemoteID
	assert.NotEqual(t, oldID, newID)
	assert.Equal(t, "edited", h.remote.content(newID))
}

func TestPull_RemoteFolderDeleted(t *testing.T) {
	h := newHarness(t)
	h.write("Box/a.txt", "a")
	h.write("Box/b.txt", "b")
	h.sync()

	f, err := h.store.FolderByPath(h.ctx, "Box")
	require.NoError(t, err)
	h.remote.trash(f.RemoteID)

	rep := h.sync()
	assert.Equal(t, 2, rep.LocalTrashed)
	assert.False(t, h.exists("Box"))
	assert.True(t, h.exists(".trash"))

	f, err = h.store.FolderByPath(h.ctx, "Box")
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestPull_TouchedFileTakesRemoteEdit(t *testing.T) {
	h := newHarness(t)
	h.write("a.txt", "one")
	h.sync()

	id := h.item("a.txt").RemoteID

	// Same content with a later mtime.
	h.write("a.txt", "one")
	h.remote.editFile(id, "remote two", h.tick())

	rep := h.sync()
	assert.Equal(t, 1, rep.Downloads)
	assert.Zero(t, rep.Conflicts)
	assert.Zero(t, rep.Uploads)
	assert.Equal(t, "remote two", h.read("a.txt"))
	assert.Empty(t, h.conflictCopies())
	assert.Equal(t, state.StateSynced, h.item("a.txt").State)

	assert.False(t, h.sync().Changed())
}

func TestPull_ConflictQueuesLocalEditForUpload(t *testing.T) {
	h := newHarness(t)
	h.write("a.txt", "one")
	h.sync()

	id := h.item("a.txt").RemoteID
	h.remote.editFile(id, "remote two", h.tick())

	// Edited after this run's push phase looked at it.
	h.write("a.txt", "local two")

	f, err := h.remote.GetFile(h.ctx, "", id)
	require.NoError(t, err)

	r := h.newRun()
	require.NoError(t, r.pullFile(f, "a.txt"))
	assert.Equal(t, 1, r.report.Conflicts)
	assert.Equal(t, "local two", h.read("a.txt"))

	it := h.item("a.txt")
	require.NotNil(t, it)
	assert.Equal(t, state.StatePendingUpload, it.State)
	assert.Equal(t, f.ModifiedTime, it.RemoteModified)

	rep := h.sync()
	assert.Equal(t, 1, rep.Uploads)
	assert.Zero(t, rep.Conflicts)
	assert.Equal(t, "local two", h.remote.content(id))
	assert.Equal(t, state.StateSynced, h.item("a.txt").State)

	copies := h.conflictCopies()
	require.Len(t, copies, 1)
	assert.Equal(t, "remote two", h.read(copies[0]))
}

func TestPull_SkippedFolderIsForgottenNotDeleted(t *testing.T) {
	h := newHarness(t)
	h.write("Box/a.txt", "a")
	h.write("keep.txt", "k")
	h.sync()

	box, err := h.store.FolderByPath(h.ctx, "Box")
	require.NoError(t, err)
	require.NotNil(t, box)

	aID := h.item("Box/a.txt").RemoteID

	h.skipDirs = []string{"Box"}
	h.remote.rename(box.RemoteID, "Box")

	rep := h.sync()
	assert.Zero(t, rep.LocalTrashed)
	assert.Zero(t, rep.RemoteDeletes)
	assert.Equal(t, "a", h.read("Box/a.txt"))
	assert.False(t, h.exists(localfs.TrashDir))
	assert.False(t, h.remote.isTrashed(aID))
	assert.False(t, h.remote.isTrashed(box.RemoteID))
	assert.Nil(t, h.item("Box/a.txt"))
	assert.NotNil(t, h.item("keep.txt"))

	f, err := h.store.FolderByPath(h.ctx, "Box")
	require.NoError(t, err)
	assert.Nil(t, f)

	// Later remote edits beneath the skipped folder leave the local copy be.
	h.remote.editFile(aID, "remote a", h.tick())

	rep = h.sync()
	assert.Zero(t, rep.Downloads)
	assert.Zero(t, rep.LocalTrashed)
	assert.Equal(t, "a", h.read("Box/a.txt"))
}

func TestPull_FullScanFollowsPages(t *testing.T) {
	remote := newFakeDrive(func() int64 { return time.Now().UnixMilli() })
	remote.pageSize = 1

	h := newHarnessWithRemote(t, remote)
	h.sync()

	root := h.rootID()
	notes := remote.putFolder("Notes", root)

	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		remote.putFile(name, root, name)
		remote.putFile(name, notes, "notes "+name)
	}

	require.NoError(t, h.store.ClearCursor(h.ctx))

	rep := h.sync()
	assert.True(t, rep.FullScan)
	assert.Equal(t, 6, rep.Downloads)
	assert.Equal(t, "c.txt", h.read("c.txt"))
	assert.Equal(t, "notes c.txt", h.read("Notes/c.txt"))
}

// --- properties ---

// conflictCopies lists the local conflict-named files.
func (h *harness) conflictCopies() []string {
	h.t.Helper()

	var out []string

	for p := range h.localTree() {
		if strings.Contains(p, "(conflict ") {
			out = append(out, p)
		}
	}

	return out
}

func TestProperty_Idempotence(t *testing.T) {
	h := newHarness(t)
	h.write("a.txt", "a")
	h.write("Notes/b.md", "b")
	h.write("Notes/Deep/c.txt", "c")

	first := h.sync()
	require.True(t, first.Changed())

	uploads := h.remote.callCount("UploadFile")
	before := h.localTree()

	for range 3 {
		rep := h.sync()
		assert.False(t, rep.Changed(), "second run changed something: %+v", rep)
	}

	assert.Equal(t, uploads, h.remote.callCount("UploadFile"))
	assert.Equal(t, before, h.localTree())
}

func TestProperty_ConflictKeepsBothVersions(t *testing.T) {
	h := newHarness(t)
	h.write("Notes/today.txt", "base")
	h.sync()

	id := h.item("Notes/today.txt").RemoteID

	h.write("Notes/today.txt", "local edit")
	h.remote.editFile(id, "remote edit", h.tick())

	rep := h.sync()
	assert.Equal(t, 1, rep.Conflicts)
	assert.Equal(t, 1, rep.Uploads)

	// Local version wins the original path on both sides.
	assert.Equal(t, "local edit", h.read("Notes/today.txt"))
	assert.Equal(t, "local edit", h.remote.content(id))

	var copies []string

	for p, content := range h.localTree() {
		if strings.Contains(p, "(conflict ") {
			copies = append(copies, p)
			assert.Equal(t, "remote edit", content)
		}
	}

	require.Len(t, copies, 1)
	assert.True(t, strings.HasPrefix(copies[0], "Notes/today (conflict "))

	it := h.item(copies[0])
	require.NotNil(t, it)
	assert.Equal(t, state.StateConflict, it.State)
	assert.Empty(t, it.RemoteID)

	// Stable afterwards: the copy is neither uploaded nor duplicated.
	rep = h.sync()
	assert.False(t, rep.Changed(), "%+v", rep)
}

func TestProperty_LocalDeletionPropagates(t *testing.T) {
	h := newHarness(t)
	h.write("a.txt", "a")
	h.write("Box/b.txt", "b")
	h.sync()

	aID := h.item("a.txt").RemoteID
	bID := h.item("Box/b.txt").RemoteID
	box, err := h.store.FolderByPath(h.ctx, "Box")
	require.NoError(t, err)

	require.NoError(t, os.Remove(h.abs("a.txt")))
	require.NoError(t, os.RemoveAll(h.abs("Box")))

	rep := h.sync()
	assert.Equal(t, 3, rep.RemoteDeletes) // two files and the emptied folder
	assert.True(t, h.remote.isTrashed(aID))
	assert.True(t, h.remote.isTrashed(bID))
	assert.True(t, h.remote.isTrashed(box.RemoteID))
	assert.Nil(t, h.item("a.txt"))

	f, err := h.store.FolderByPath(h.ctx, "Box")
	require.NoError(t, err)
	assert.Nil(t, f)

	assert.False(t, h.sync().Changed())
}

func TestProperty_LocalDeletionPolicies(t *testing.T) {
	t.Run("delete", func(t *testing.T) {
		h := newHarness(t)
		h.settings.RemoteDeletePolicy = DeletePermanent
		h.write("a.txt", "a")
		h.sync()

		require.NoError(t, os.Remove(h.abs("a.txt")))
		h.sync()

		assert.Equal(t, 1, h.remote.callCount("DeleteFile"))
		assert.Zero(t, h.remote.liveFiles())
	})

	t.Run("ignore", func(t *testing.T) {
		h := newHarness(t)
		h.settings.RemoteDeletePolicy = DeleteIgnore
		h.write("a.txt", "a")
		h.sync()

		require.NoError(t, os.Remove(h.abs("a.txt")))
		rep := h.sync()

		assert.Zero(t, rep.RemoteDeletes)
		assert.Zero(t, h.remote.callCount("TrashFile"))
		assert.Equal(t, 1, h.remote.liveFiles())
		assert.Nil(t, h.item("a.txt"))
	})
}

func TestProperty_RemoteDeletionPropagates(t *testing.T) {
	h := newHarness(t)
	h.write("Notes/a.txt", "a")
	h.sync()

	h.remote.trash(h.item("Notes/a.txt").RemoteID)

	rep := h.sync()
	assert.Equal(t, 1, rep.LocalTrashed)
	assert.False(t, h.exists("Notes/a.txt"))
	assert.Nil(t, h.item("Notes/a.txt"))

	names, err := os.ReadDir(h.abs(localfs.TrashDir))
	require.NoError(t, err)
	require.Len(t, names, 1)
	assert.True(t, strings.HasPrefix(names[0].Name(), "a (conflict "))
}

func TestProperty_FolderRenamePropagates(t *testing.T) {
	h := newHarness(t)

	for i := range 10 {
		h.write("Old/"+string(rune('a'+i))+".txt", strings.Repeat("x", i+1))
	}

	h.sync()

	oldFolder, err := h.store.FolderByPath(h.ctx, "Old")
	require.NoError(t, err)

	ids := make(map[string]string)
	for i := range 10 {
		name := string(rune('a'+i)) + ".txt"
		ids[name] = h.item("Old/" + name).RemoteID
	}

	uploads := h.remote.callCount("UploadFile")

	require.NoError(t, os.Rename(h.abs("Old"), h.abs("New")))

	rep := h.sync()
	assert.Equal(t, 1, rep.Relocations)
	assert.Zero(t, rep.Uploads)
	assert.Zero(t, rep.RemoteDeletes)
	assert.Equal(t, uploads, h.remote.callCount("UploadFile"))
	assert.Equal(t, oldFolder.RemoteID, h.remote.findChild(h.rootID(), "New"))

	for name, id := range ids {
		it := h.item("New/" + name)
		require.NotNil(t, it, name)
		assert.Equal(t, id, it.RemoteID)
		assert.False(t, h.remote.isTrashed(id))

		f, err := h.remote.GetFile(h.ctx, "", id)
		require.NoError(t, err)
		assert.Equal(t, "New/"+name, f.PathHint())
	}

	f, err := h.store.FolderByPath(h.ctx, "Old")
	require.NoError(t, err)
	assert.Nil(t, f)

	assert.False(t, h.sync().Changed())
}

func TestProperty_FolderMovePropagates(t *testing.T) {
	h := newHarness(t)
	h.write("Inbox/a.txt", "a")
	h.write("Archive/keep.txt", "k")
	h.sync()

	inbox, err := h.store.FolderByPath(h.ctx, "Inbox")
	require.NoError(t, err)

	require.NoError(t, os.Rename(h.abs("Inbox"), h.abs("Archive/Inbox")))

	rep := h.sync()
	assert.Equal(t, 1, rep.Relocations)
	assert.Zero(t, rep.Uploads)

	archive, err := h.store.FolderByPath(h.ctx, "Archive")
	require.NoError(t, err)
	assert.Equal(t, inbox.RemoteID, h.remote.findChild(archive.RemoteID, "Inbox"))
}

// populateRemote builds three folders and five files beneath root.
func populateRemote(d *fakeDrive, root string) {
	work := d.putFolder("Work", root)
	home := d.putFolder("Home", root)
	deep := d.putFolder("Deep", work)

	d.putFile("top.txt", root, "top")
	d.putFile("plan.md", work, "plan")
	d.putFile("todo.txt", home, "todo")
	d.putFile("notes.md", deep, "deep notes")
	d.putFile("more.txt", deep, "more")
	d.putFile("image.png", home, "png")
}

func TestProperty_FullScanMatchesIncremental(t *testing.T) {
	remote := newFakeDrive(func() int64 { return time.Now().UnixMilli() })
	remote.pageSize = 2

	inc := newHarnessWithRemote(t, remote)
	inc.sync()

	root := inc.rootID()
	mark := len(remote.changes)
	populateRemote(remote, root)

	// Replay the feed newest first so files arrive before their folders.
	tail := remote.changes[mark:]
	for i, j := 0, len(tail)-1; i < j; i, j = i+1, j-1 {
		tail[i], tail[j] = tail[j], tail[i]
	}

	rep := inc.sync()
	assert.False(t, rep.FullScan)
	assert.Equal(t, 5, rep.Downloads)

	full := newHarnessWithRemote(t, remote)
	require.NoError(t, full.store.SetRootFolder(full.ctx, root, DefaultFolderName))

	rep = full.sync()
	assert.True(t, rep.FullScan)
	assert.Equal(t, 5, rep.Downloads)

	want := map[string]string{
		"top.txt":            "top",
		"Work/plan.md":       "plan",
		"Home/todo.txt":      "todo",
		"Work/Deep/notes.md": "deep notes",
		"Work/Deep/more.txt": "more",
	}

	assert.Equal(t, want, inc.localTree())
	assert.Equal(t, want, full.localTree())

	incFolders, err := inc.store.AllFolders(inc.ctx)
	require.NoError(t, err)
	fullFolders, err := full.store.AllFolders(full.ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, incFolders, fullFolders)

	assert.ElementsMatch(t, recordSummary(t, inc), recordSummary(t, full))
}

// recordSummary reduces the item records to the fields both pull paths
// must agree on.
func recordSummary(t *testing.T, h *harness) []string {
	t.Helper()

	items, err := h.store.AllItems(h.ctx)
	require.NoError(t, err)

	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, strings.Join([]string{it.Path, it.RemoteID, it.LocalHash, string(it.State)}, "|"))
	}

	return out
}
