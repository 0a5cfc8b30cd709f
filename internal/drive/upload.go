package drive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
)

// UploadRequest describes a content upload. FileID set means update in
// place; empty means create under ParentID.
type UploadRequest struct {
	FileID        string
	Name          string
	ParentID      string
	MimeType      string
	AppProperties map[string]string
	Content       []byte
}

type uploadMetadata struct {
	Name          string            `json:"name,omitempty"`
	MimeType      string            `json:"mimeType,omitempty"`
	Parents       []string          `json:"parents,omitempty"`
	AppProperties map[string]string `json:"appProperties,omitempty"`
}

// UploadFile creates or updates a file through a resumable session: the
// metadata request opens the session, then the content is sent in one PUT.
func (c *Client) UploadFile(ctx context.Context, tok string, req UploadRequest) (*File, error) {
	sessionURL, err := c.openUploadSession(ctx, tok, req)
	if err != nil {
		return nil, err
	}

	var out fileResponse
	if err := c.doJSON(ctx, tok, request{
		method:      http.MethodPut,
		url:         sessionURL,
		path:        "/upload/session",
		body:        req.Content,
		contentType: req.MimeType,
	}, &out); err != nil {
		return nil, fmt.Errorf("drive: uploading %q: %w", req.Name, err)
	}

	f := out.toFile(c.logger)

	c.logger.Info("uploaded file",
		slog.String("name", req.Name),
		slog.String("id", f.ID),
		slog.Bool("update", req.FileID != ""),
		slog.Int("bytes", len(req.Content)),
	)

	return &f, nil
}

func (c *Client) openUploadSession(ctx context.Context, tok string, req UploadRequest) (string, error) {
	meta := uploadMetadata{
		Name:          req.Name,
		MimeType:      req.MimeType,
		AppProperties: req.AppProperties,
	}

	method := http.MethodPatch
	u := c.uploadURL + "/files"
	path := "/upload/files"

	if req.FileID == "" {
		method = http.MethodPost

		if req.ParentID != "" {
			meta.Parents = []string{req.ParentID}
		}
	} else {
		u += "/" + url.PathEscape(req.FileID)
		path += "/" + req.FileID
	}

	q := url.Values{}
	q.Set("uploadType", "resumable")
	q.Set("fields", fileFields)

	body, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("drive: encoding upload metadata: %w", err)
	}

	resp, err := c.do(ctx, tok, request{
		method: method,
		url:    u + "?" + q.Encode(),
		path:   path,
		body:   body,
		header: http.Header{"X-Upload-Content-Type": {req.MimeType}},
	})
	if err != nil {
		return "", fmt.Errorf("drive: opening upload session for %q: %w", req.Name, err)
	}
	resp.Body.Close()

	loc := resp.Header.Get("Location")
	if loc == "" {
		return "", &APIError{
			StatusCode: resp.StatusCode,
			Method:     method,
			Path:       path,
			Err:        ErrNoUploadSession,
		}
	}

	return loc, nil
}
