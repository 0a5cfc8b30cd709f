package drive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// listPageSize is the pageSize used for folder listings.
const listPageSize = 1000

// escapeQuery escapes a literal for use inside a single-quoted q= term.
func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)

	return strings.ReplaceAll(s, `'`, `\'`)
}

func (c *Client) fileURL(id string, q url.Values) string {
	u := c.baseURL + "/files"
	if id != "" {
		u += "/" + url.PathEscape(id)
	}

	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	return u
}

func (c *Client) list(ctx context.Context, tok, query, pageToken string) (*fileListResponse, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("fields", "nextPageToken,files("+fileFields+")")
	q.Set("pageSize", fmt.Sprint(listPageSize))
	q.Set("spaces", "drive")

	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}

	var out fileListResponse
	if err := c.doJSON(ctx, tok, request{
		method: http.MethodGet,
		url:    c.fileURL("", q),
		path:   "/files",
	}, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// ListChildren returns one page of non-trashed children of a folder.
func (c *Client) ListChildren(ctx context.Context, tok, folderID, pageToken string) (*FilePage, error) {
	out, err := c.list(ctx, tok, fmt.Sprintf("'%s' in parents and trashed=false", escapeQuery(folderID)), pageToken)
	if err != nil {
		return nil, fmt.Errorf("drive: listing children of %s: %w", folderID, err)
	}

	page := &FilePage{NextPageToken: out.NextPageToken, Files: make([]File, 0, len(out.Files))}
	for i := range out.Files {
		page.Files = append(page.Files, out.Files[i].toFile(c.logger))
	}

	c.logger.Debug("listed children",
		slog.String("folder_id", folderID),
		slog.Int("count", len(page.Files)),
		slog.Bool("more", page.NextPageToken != ""),
	)

	return page, nil
}

// ListFolders returns one page of the user's non-trashed folders.
func (c *Client) ListFolders(ctx context.Context, tok, pageToken string) (*FolderPage, error) {
	out, err := c.list(ctx, tok, fmt.Sprintf("mimeType='%s' and trashed=false", FolderMimeType), pageToken)
	if err != nil {
		return nil, fmt.Errorf("drive: listing folders: %w", err)
	}

	page := &FolderPage{NextPageToken: out.NextPageToken, Folders: make([]File, 0, len(out.Files))}
	for i := range out.Files {
		page.Folders = append(page.Folders, out.Files[i].toFile(c.logger))
	}

	return page, nil
}

// GetFile fetches metadata for a file or folder by id.
func (c *Client) GetFile(ctx context.Context, tok, id string) (*File, error) {
	q := url.Values{}
	q.Set("fields", fileFields)

	var out fileResponse
	if err := c.doJSON(ctx, tok, request{
		method: http.MethodGet,
		url:    c.fileURL(id, q),
		path:   "/files/" + id,
	}, &out); err != nil {
		return nil, fmt.Errorf("drive: getting file %s: %w", id, err)
	}

	f := out.toFile(c.logger)

	return &f, nil
}

type createFolderRequest struct {
	Name     string   `json:"name"`
	MimeType string   `json:"mimeType"`
	Parents  []string `json:"parents,omitempty"`
}

// CreateFolder creates a folder. An empty parentID creates it at the top
// level of the user's drive.
func (c *Client) CreateFolder(ctx context.Context, tok, name, parentID string) (*File, error) {
	reqBody := createFolderRequest{Name: name, MimeType: FolderMimeType}
	if parentID != "" {
		reqBody.Parents = []string{parentID}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("drive: encoding create folder request: %w", err)
	}

	q := url.Values{}
	q.Set("fields", fileFields)

	var out fileResponse
	if err := c.doJSON(ctx, tok, request{
		method: http.MethodPost,
		url:    c.fileURL("", q),
		path:   "/files",
		body:   body,
	}, &out); err != nil {
		return nil, fmt.Errorf("drive: creating folder %q: %w", name, err)
	}

	f := out.toFile(c.logger)

	c.logger.Info("created folder",
		slog.String("name", name),
		slog.String("id", f.ID),
		slog.String("parent_id", parentID),
	)

	return &f, nil
}

// MetadataUpdate is a content-less update. Empty fields are left unchanged.
type MetadataUpdate struct {
	Name          string
	AddParent     string
	RemoveParent  string
	AppProperties map[string]string
}

type metadataRequest struct {
	Name          string            `json:"name,omitempty"`
	AppProperties map[string]string `json:"appProperties,omitempty"`
}

// UpdateMetadata renames, reparents, or sets app properties on a resource.
func (c *Client) UpdateMetadata(ctx context.Context, tok, id string, u MetadataUpdate) (*File, error) {
	body, err := json.Marshal(metadataRequest{Name: u.Name, AppProperties: u.AppProperties})
	if err != nil {
		return nil, fmt.Errorf("drive: encoding metadata update: %w", err)
	}

	q := url.Values{}
	q.Set("fields", fileFields)

	if u.AddParent != "" {
		q.Set("addParents", u.AddParent)
	}

	if u.RemoveParent != "" {
		q.Set("removeParents", u.RemoveParent)
	}

	var out fileResponse
	if err := c.doJSON(ctx, tok, request{
		method: http.MethodPatch,
		url:    c.fileURL(id, q),
		path:   "/files/" + id,
		body:   body,
	}, &out); err != nil {
		return nil, fmt.Errorf("drive: updating metadata of %s: %w", id, err)
	}

	f := out.toFile(c.logger)

	return &f, nil
}

// TrashFile moves a file or folder to the remote trash.
func (c *Client) TrashFile(ctx context.Context, tok, id string) error {
	if err := c.doJSON(ctx, tok, request{
		method: http.MethodPatch,
		url:    c.fileURL(id, url.Values{"fields": {"id"}}),
		path:   "/files/" + id,
		body:   []byte(`{"trashed":true}`),
	}, nil); err != nil {
		return fmt.Errorf("drive: trashing %s: %w", id, err)
	}

	c.logger.Info("trashed remote item", slog.String("id", id))

	return nil
}

// DeleteFile permanently deletes a file or folder.
func (c *Client) DeleteFile(ctx context.Context, tok, id string) error {
	if err := c.doJSON(ctx, tok, request{
		method: http.MethodDelete,
		url:    c.fileURL(id, nil),
		path:   "/files/" + id,
	}, nil); err != nil {
		return fmt.Errorf("drive: deleting %s: %w", id, err)
	}

	c.logger.Info("deleted remote item", slog.String("id", id))

	return nil
}

// Download returns the content of a file.
func (c *Client) Download(ctx context.Context, tok, id string) ([]byte, error) {
	resp, err := c.do(ctx, tok, request{
		method: http.MethodGet,
		url:    c.fileURL(id, url.Values{"alt": {"media"}}),
		path:   "/files/" + id,
	})
	if err != nil {
		return nil, fmt.Errorf("drive: downloading %s: %w", id, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("drive: downloading %s: %w", id, ctx.Err())
		}

		return nil, &NetworkError{Op: "reading download of " + id, Err: err}
	}

	c.logger.Debug("downloaded file", slog.String("id", id), slog.Int("bytes", len(data)))

	return data, nil
}
