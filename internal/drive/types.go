package drive

import (
	"log/slog"
	"time"
)

// FolderMimeType identifies folders in the remote store.
const FolderMimeType = "application/vnd.google-apps.folder"

// AppPropertyPath is the app property carrying the file's path relative
// to the synced root. It is a hint only and may be stale.
const AppPropertyPath = "localRelativePath"

// fileFields is the field mask requested for every file resource.
const fileFields = "id,name,mimeType,modifiedTime,parents,trashed,appProperties"

// File is a normalized remote file or folder.
type File struct {
	ID            string
	Name          string
	MimeType      string
	ModifiedTime  int64 // Unix ms; 0 when the server omitted or garbled it
	Trashed       bool
	Parents       []string
	AppProperties map[string]string
}

// IsFolder reports whether the resource is a folder.
func (f *File) IsFolder() bool {
	return f.MimeType == FolderMimeType
}

// PathHint returns the localRelativePath app property, if any.
func (f *File) PathHint() string {
	if f.AppProperties == nil {
		return ""
	}

	return f.AppProperties[AppPropertyPath]
}

// FilePage is one page of a folder listing.
type FilePage struct {
	Files         []File
	NextPageToken string
}

// FolderPage is one page of the user's folders.
type FolderPage struct {
	Folders       []File
	NextPageToken string
}

// Change is one entry of the change feed. File is nil when the server did
// not embed the resource.
type Change struct {
	FileID  string
	Removed bool
	File    *File
}

// ChangePage is one page of the change feed. Exactly one of NextPageToken
// (more pages follow) and NewStartPageToken (feed exhausted) is normally set.
type ChangePage struct {
	Changes           []Change
	NextPageToken     string
	NewStartPageToken string
}

// fileResponse mirrors the Drive file JSON.
type fileResponse struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	MimeType      string            `json:"mimeType"`
	ModifiedTime  string            `json:"modifiedTime"`
	Trashed       bool              `json:"trashed"`
	Parents       []string          `json:"parents"`
	AppProperties map[string]string `json:"appProperties"`
}

type fileListResponse struct {
	Files         []fileResponse `json:"files"`
	NextPageToken string         `json:"nextPageToken"`
}

type changeResponse struct {
	FileID  string        `json:"fileId"`
	Removed bool          `json:"removed"`
	File    *fileResponse `json:"file"`
}

type changeListResponse struct {
	Changes           []changeResponse `json:"changes"`
	NextPageToken     string           `json:"nextPageToken"`
	NewStartPageToken string           `json:"newStartPageToken"`
}

// toFile normalizes a response. Timestamps that fail to parse are dropped
// with a warning.
func (r *fileResponse) toFile(logger *slog.Logger) File {
	f := File{
		ID:            r.ID,
		Name:          r.Name,
		MimeType:      r.MimeType,
		Trashed:       r.Trashed,
		Parents:       r.Parents,
		AppProperties: r.AppProperties,
	}

	if r.ModifiedTime != "" {
		t, err := time.Parse(time.RFC3339Nano, r.ModifiedTime)
		if err != nil {
			logger.Warn("unparsable modifiedTime",
				slog.String("id", r.ID),
				slog.String("value", r.ModifiedTime),
			)
		} else {
			f.ModifiedTime = t.UnixMilli()
		}
	}

	return f
}
