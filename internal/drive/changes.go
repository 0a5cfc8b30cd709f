package drive

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
)

const changePageSize = 1000

// StartPageToken returns the cursor marking "now" in the change feed.
func (c *Client) StartPageToken(ctx context.Context, tok string) (string, error) {
	var out struct {
		StartPageToken string `json:"startPageToken"`
	}

	if err := c.doJSON(ctx, tok, request{
		method: http.MethodGet,
		url:    c.baseURL + "/changes/startPageToken",
		path:   "/changes/startPageToken",
	}, &out); err != nil {
		return "", fmt.Errorf("drive: getting start page token: %w", err)
	}

	if out.StartPageToken == "" {
		return "", fmt.Errorf("drive: empty start page token")
	}

	return out.StartPageToken, nil
}

// ListChanges returns one page of the change feed starting at cursor.
func (c *Client) ListChanges(ctx context.Context, tok, cursor string) (*ChangePage, error) {
	q := url.Values{}
	q.Set("pageToken", cursor)
	q.Set("spaces", "drive")
	q.Set("pageSize", fmt.Sprint(changePageSize))
	q.Set("fields", "nextPageToken,newStartPageToken,changes(fileId,removed,file("+fileFields+"))")

	var out changeListResponse
	if err := c.doJSON(ctx, tok, request{
		method: http.MethodGet,
		url:    c.baseURL + "/changes?" + q.Encode(),
		path:   "/changes",
	}, &out); err != nil {
		return nil, fmt.Errorf("drive: listing changes: %w", err)
	}

	page := &ChangePage{
		NextPageToken:     out.NextPageToken,
		NewStartPageToken: out.NewStartPageToken,
		Changes:           make([]Change, 0, len(out.Changes)),
	}

	for i := range out.Changes {
		ch := Change{FileID: out.Changes[i].FileID, Removed: out.Changes[i].Removed}
		if out.Changes[i].File != nil {
			f := out.Changes[i].File.toFile(c.logger)
			ch.File = &f
		}

		page.Changes = append(page.Changes, ch)
	}

	c.logger.Debug("listed changes",
		slog.Int("count", len(page.Changes)),
		slog.Bool("more", page.NextPageToken != ""),
	)

	return page, nil
}
