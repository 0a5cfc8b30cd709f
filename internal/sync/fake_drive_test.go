package sync

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"sort"
	"strconv"
	gosync "sync"

	"github.com/anotepad/notesync/internal/drive"
)

// fakeEntry is one resource held by fakeDrive.
type fakeEntry struct {
	file    drive.File
	content []byte
	deleted bool
}

// fakeDrive is an in-memory RemoteClient with a change feed. Every
// mutation appends the touched id to the feed, like the real service.
type fakeDrive struct {
	mu       gosync.Mutex
	nextID   int
	entries  map[string]*fakeEntry
	changes  []string
	pageSize int
	clock    func() int64

	calls     map[string]int
	uploadErr error
}

func newFakeDrive(clock func() int64) *fakeDrive {
	return &fakeDrive{
		entries:  make(map[string]*fakeEntry),
		pageSize: 100,
		clock:    clock,
		calls:    make(map[string]int),
	}
}

func notFound(id string) error {
	return &drive.APIError{StatusCode: http.StatusNotFound, Path: "/files/" + id, Err: drive.ErrNotFound}
}

func (d *fakeDrive) live(id string) (*fakeEntry, bool) {
	e, ok := d.entries[id]
	if !ok || e.deleted {
		return nil, false
	}

	return e, true
}

func (d *fakeDrive) touch(id string) {
	d.changes = append(d.changes, id)
}

func cloneFile(f drive.File) *drive.File {
	f.Parents = slices.Clone(f.Parents)
	f.AppProperties = maps.Clone(f.AppProperties)

	return &f
}

func (d *fakeDrive) add(name, mime, parentID string, content []byte, props map[string]string) *fakeEntry {
	d.nextID++
	id := fmt.Sprintf("id%03d", d.nextID)

	e := &fakeEntry{
		file: drive.File{
			ID:            id,
			Name:          name,
			MimeType:      mime,
			ModifiedTime:  d.clock(),
			AppProperties: maps.Clone(props),
		},
		content: slices.Clone(content),
	}

	if parentID != "" {
		e.file.Parents = []string{parentID}
	}

	d.entries[id] = e
	d.touch(id)

	return e
}

// ListChildren pages by name using the offset as page token. Pages hold
// at most pageSize entries.
func (d *fakeDrive) ListChildren(_ context.Context, _, folderID, pageToken string) (*drive.FilePage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls["ListChildren"]++

	if _, ok := d.live(folderID); !ok {
		return nil, notFound(folderID)
	}

	var all []drive.File

	for _, e := range d.entries {
		if e.deleted || e.file.Trashed || !slices.Contains(e.file.Parents, folderID) {
			continue
		}

		all = append(all, *cloneFile(e.file))
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })

	start := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil || n < 0 || n > len(all) {
			return nil, &drive.APIError{StatusCode: http.StatusBadRequest, Err: drive.ErrBadRequest}
		}

		start = n
	}

	end := min(start+d.pageSize, len(all))
	page := &drive.FilePage{Files: all[start:end]}

	if end < len(all) {
		page.NextPageToken = strconv.Itoa(end)
	}

	return page, nil
}

func (d *fakeDrive) GetFile(_ context.Context, _, id string) (*drive.File, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls["GetFile"]++

	e, ok := d.live(id)
	if !ok {
		return nil, notFound(id)
	}

	return cloneFile(e.file), nil
}

func (d *fakeDrive) CreateFolder(_ context.Context, _, name, parentID string) (*drive.File, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls["CreateFolder"]++

	return cloneFile(d.add(name, drive.FolderMimeType, parentID, nil, nil).file), nil
}

func (d *fakeDrive) UploadFile(_ context.Context, _ string, req drive.UploadRequest) (*drive.File, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls["UploadFile"]++

	if d.uploadErr != nil {
		return nil, d.uploadErr
	}

	if req.FileID == "" {
		return cloneFile(d.add(req.Name, req.MimeType, req.ParentID, req.Content, req.AppProperties).file), nil
	}

	e, ok := d.live(req.FileID)
	if !ok {
		return nil, notFound(req.FileID)
	}

	e.content = slices.Clone(req.Content)
	e.file.Name = req.Name
	e.file.ModifiedTime = d.clock()

	if e.file.AppProperties == nil {
		e.file.AppProperties = map[string]string{}
	}

	maps.Copy(e.file.AppProperties, req.AppProperties)
	d.touch(e.file.ID)

	return cloneFile(e.file), nil
}

func (d *fakeDrive) UpdateMetadata(_ context.Context, _, id string, u drive.MetadataUpdate) (*drive.File, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls["UpdateMetadata"]++

	e, ok := d.live(id)
	if !ok {
		return nil, notFound(id)
	}

	if u.Name != "" {
		e.file.Name = u.Name
	}

	if u.RemoveParent != "" {
		e.file.Parents = slices.DeleteFunc(e.file.Parents, func(p string) bool { return p == u.RemoveParent })
	}

	if u.AddParent != "" {
		e.file.Parents = append(e.file.Parents, u.AddParent)
	}

	if u.AppProperties != nil {
		if e.file.AppProperties == nil {
			e.file.AppProperties = map[string]string{}
		}

		maps.Copy(e.file.AppProperties, u.AppProperties)
	}

	e.file.ModifiedTime = d.clock()
	d.touch(id)

	return cloneFile(e.file), nil
}

func (d *fakeDrive) TrashFile(_ context.Context, _, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls["TrashFile"]++

	e, ok := d.live(id)
	if !ok {
		return notFound(id)
	}

	e.file.Trashed = true
	d.touch(id)

	return nil
}

func (d *fakeDrive) DeleteFile(_ context.Context, _, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls["DeleteFile"]++

	e, ok := d.live(id)
	if !ok {
		return notFound(id)
	}

	e.deleted = true
	d.touch(id)

	return nil
}

func (d *fakeDrive) Download(_ context.Context, _, id string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls["Download"]++

	e, ok := d.live(id)
	if !ok {
		return nil, notFound(id)
	}

	return slices.Clone(e.content), nil
}

func (d *fakeDrive) StartPageToken(context.Context, string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls["StartPageToken"]++

	return strconv.Itoa(len(d.changes)), nil
}

func (d *fakeDrive) ListChanges(_ context.Context, _, cursor string) (*drive.ChangePage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls["ListChanges"]++

	start, err := strconv.Atoi(cursor)
	if err != nil || start < 0 || start > len(d.changes) {
		return nil, &drive.APIError{StatusCode: http.StatusBadRequest, Err: drive.ErrBadRequest}
	}

	end := min(start+d.pageSize, len(d.changes))
	page := &drive.ChangePage{}

	for _, id := range d.changes[start:end] {
		e := d.entries[id]
		if e.deleted {
			page.Changes = append(page.Changes, drive.Change{FileID: id, Removed: true})

			continue
		}

		page.Changes = append(page.Changes, drive.Change{FileID: id, File: cloneFile(e.file)})
	}

	if end < len(d.changes) {
		page.NextPageToken = strconv.Itoa(end)
	} else {
		page.NewStartPageToken = strconv.Itoa(len(d.changes))
	}

	return page, nil
}

// --- helpers simulating edits made by another client ---

func (d *fakeDrive) putFile(name, parentID, content string) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.add(name, "text/plain", parentID, []byte(content), nil).file.ID
}

func (d *fakeDrive) putFolder(name, parentID string) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.add(name, drive.FolderMimeType, parentID, nil, nil).file.ID
}

func (d *fakeDrive) editFile(id, content string, modified int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e := d.entries[id]
	e.content = []byte(content)
	e.file.ModifiedTime = modified
	d.touch(id)
}

func (d *fakeDrive) rename(id, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.entries[id].file.Name = name
	d.touch(id)
}

func (d *fakeDrive) trash(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.entries[id].file.Trashed = true
	d.touch(id)
}

func (d *fakeDrive) content(id string) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return string(d.entries[id].content)
}

// findChild returns the id of the live child named name, or "".
func (d *fakeDrive) findChild(parentID, name string) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	for id, e := range d.entries {
		if !e.deleted && !e.file.Trashed && e.file.Name == name && slices.Contains(e.file.Parents, parentID) {
			return id
		}
	}

	return ""
}

// liveFiles counts non-folder resources that are neither trashed nor deleted.
func (d *fakeDrive) liveFiles() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0

	for _, e := range d.entries {
		if !e.deleted && !e.file.Trashed && e.file.MimeType != drive.FolderMimeType {
			n++
		}
	}

	return n
}

func (d *fakeDrive) isTrashed(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.entries[id].file.Trashed
}

func (d *fakeDrive) callCount(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.calls[name]
}
