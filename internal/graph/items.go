package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// listChildrenPageSize is the $top value for children requests.
// 200 is the maximum allowed by the Graph API for drive item collections.
const listChildrenPageSize = 200

// RootID addresses the root folder of a drive.
const RootID = "root"

// Timestamp validation bounds. Timestamps outside this range are replaced
// with the current time and a warning is logged.
const (
	minValidYear = 1970
	maxValidYear = 2100
)

// driveItemResponse mirrors the Graph API driveItem JSON exactly.
// Unexported; callers use Item via toItem() normalization.
type driveItemResponse struct {
	ID                   string           `json:"id"`
	Name                 string           `json:"name"`
	Size                 int64            `json:"size"`
	ETag                 string           `json:"eTag"`
	CTag                 string           `json:"cTag"`
	CreatedDateTime      string           `json:"createdDateTime"`
	LastModifiedDateTime string           `json:"lastModifiedDateTime"`
	ParentReference      *parentRef       `json:"parentReference"`
	File                 *fileFacet       `json:"file"`
	Folder               *folderFacet     `json:"folder"`
	Root                 *json.RawMessage `json:"root"`
	Deleted              *json.RawMessage `json:"deleted"`
	DownloadURL          string           `json:"@microsoft.graph.downloadUrl"` //nolint:tagliatelle // Graph API annotation key
}

type parentRef struct {
	ID      string `json:"id,omitempty"`
	DriveID string `json:"driveId,omitempty"`
	Path    string `json:"path,omitempty"`
}

type fileFacet struct {
	MimeType string     `json:"mimeType"`
	Hashes   *hashFacet `json:"hashes"`
}

type hashFacet struct {
	QuickXorHash string `json:"quickXorHash"`
	SHA1Hash     string `json:"sha1Hash"`
}

type folderFacet struct {
	ChildCount int `json:"childCount"`
}

type listChildrenResponse struct {
	Value    []driveItemResponse `json:"value"`
	NextLink string              `json:"@odata.nextLink"` //nolint:tagliatelle // OData annotation key
}

type createFolderRequest struct {
	Name             string      `json:"name"`
	Folder           folderFacet `json:"folder"`
	ConflictBehavior string      `json:"@microsoft.graph.conflictBehavior"` //nolint:tagliatelle // Graph API annotation key
}

type moveItemRequest struct {
	ParentReference *parentRef `json:"parentReference,omitempty"`
	Name            string     `json:"name,omitempty"`
}

// toItem normalizes a Graph API driveItem response into our Item type.
func (d *driveItemResponse) toItem(logger *slog.Logger) Item {
	item := Item{
		ID:          d.ID,
		Name:        d.Name,
		Size:        d.Size,
		ETag:        d.ETag,
		CTag:        d.CTag,
		IsFolder:    d.Folder != nil || d.Root != nil,
		IsDeleted:   d.Deleted != nil,
		IsRoot:      d.Root != nil,
		ChildCount:  ChildCountUnknown,
		DownloadURL: d.DownloadURL,
	}

	// Graph API returns inconsistent casing for drive IDs across endpoints.
	if d.ParentReference != nil {
		item.DriveID = strings.ToLower(d.ParentReference.DriveID)
		item.ParentID = d.ParentReference.ID
		item.ParentPath = parentPath(d.ParentReference.Path)
	}

	if d.Folder != nil {
		item.ChildCount = d.Folder.ChildCount
	}

	// File hashes, nil-safe at each level
	if d.File != nil {
		item.MimeType = d.File.MimeType

		if d.File.Hashes != nil {
			item.QuickXorHash = d.File.Hashes.QuickXorHash
			item.SHA1Hash = d.File.Hashes.SHA1Hash
		}
	}

	item.CreatedAt = parseTimestamp(d.CreatedDateTime, "createdDateTime", d.ID, logger)
	item.ModifiedAt = parseTimestamp(d.LastModifiedDateTime, "lastModifiedDateTime", d.ID, logger)

	return item
}

// parentPath converts a parentReference.path such as "/drive/root:/a/b"
// into the drive-relative "/a/b". Returns "" when the API omitted it.
func parentPath(raw string) string {
	_, rel, found := strings.Cut(raw, "root:")
	if !found {
		return ""
	}

	if unescaped, err := url.PathUnescape(rel); err == nil {
		rel = unescaped
	}

	if rel == "" {
		return "/"
	}

	return rel
}

// parseTimestamp parses an RFC3339 timestamp and validates the year range.
// Missing timestamps (deleted items in delta) yield the zero time.
func parseTimestamp(raw, field, itemID string, logger *slog.Logger) time.Time {
	if raw == "" {
		return time.Time{}
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		logger.Warn("invalid timestamp, using current time",
			slog.String("field", field),
			slog.String("item_id", itemID),
			slog.String("raw", raw),
			slog.String("error", err.Error()),
		)

		return time.Now().UTC()
	}

	if t.Year() < minValidYear || t.Year() > maxValidYear {
		logger.Warn("timestamp out of valid range, using current time",
			slog.String("field", field),
			slog.String("item_id", itemID),
			slog.String("raw", raw),
		)

		return time.Now().UTC()
	}

	return t
}

// drivePath returns the API prefix for a drive. An empty ID or "me"
// addresses the signed-in user's default drive.
func drivePath(driveID string) string {
	if driveID == "" || driveID == "me" {
		return "/me/drive"
	}

	return "/drives/" + url.PathEscape(driveID)
}

func itemPath(driveID, itemID string) string {
	return drivePath(driveID) + "/items/" + url.PathEscape(itemID)
}

// childPath addresses a named child of a folder with path-relative syntax.
func childPath(driveID, parentID, name string) string {
	return itemPath(driveID, parentID) + ":/" + url.PathEscape(name) + ":"
}

// fetchItem fetches a single drive item from the given API path and decodes it.
func (c *Client) fetchItem(ctx context.Context, apiPath string) (*Item, error) {
	resp, err := c.Do(ctx, http.MethodGet, apiPath, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return c.decodeItem(resp.Body, "item")
}

func (c *Client) decodeItem(body io.Reader, what string) (*Item, error) {
	var dir driveItemResponse
	if err := json.NewDecoder(body).Decode(&dir); err != nil {
		return nil, fmt.Errorf("graph: decoding %s response: %w", what, err)
	}

	item := dir.toItem(c.logger)

	return &item, nil
}

// GetItem retrieves a single drive item by ID. Use RootID for the root folder.
func (c *Client) GetItem(ctx context.Context, driveID, itemID string) (*Item, error) {
	c.logger.Info("getting item",
		slog.String("drive_id", driveID),
		slog.String("item_id", itemID),
	)

	return c.fetchItem(ctx, itemPath(driveID, itemID))
}

// GetChild retrieves the child of parentID named name.
// Returns ErrNotFound when no such child exists.
func (c *Client) GetChild(ctx context.Context, driveID, parentID, name string) (*Item, error) {
	c.logger.Info("getting child",
		slog.String("drive_id", driveID),
		slog.String("parent_id", parentID),
		slog.String("name", name),
	)

	return c.fetchItem(ctx, childPath(driveID, parentID, name))
}

// ListChildrenPage fetches one page of a folder's children. Pass an empty
// nextLink for the first page, then the NextLink of the previous page.
// A nextLink outside the client's base URL is a protocol violation.
func (c *Client) ListChildrenPage(ctx context.Context, driveID, parentID, nextLink string) (*ChildrenPage, error) {
	apiPath := fmt.Sprintf("%s/children?$top=%d", itemPath(driveID, parentID), listChildrenPageSize)

	if nextLink != "" {
		var err error

		apiPath, err = c.stripBaseURL(nextLink)
		if err != nil {
			return nil, err
		}
	}

	resp, err := c.Do(ctx, http.MethodGet, apiPath, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var lcr listChildrenResponse
	if err := json.NewDecoder(resp.Body).Decode(&lcr); err != nil {
		return nil, fmt.Errorf("graph: decoding children response: %w", err)
	}

	page := &ChildrenPage{
		Items:    make([]Item, 0, len(lcr.Value)),
		NextLink: lcr.NextLink,
	}

	for i := range lcr.Value {
		page.Items = append(page.Items, lcr.Value[i].toItem(c.logger))
	}

	c.logger.Debug("fetched children page",
		slog.String("parent_id", parentID),
		slog.Int("count", len(page.Items)),
		slog.Bool("has_next_link", page.NextLink != ""),
	)

	return page, nil
}

// stripBaseURL removes the client's base URL prefix from a full URL,
// returning the path + query string for use with Do().
func (c *Client) stripBaseURL(fullURL string) (string, error) {
	if !strings.HasPrefix(fullURL, c.baseURL) {
		return "", fmt.Errorf("%w: link %q is outside base URL %q", ErrProtocolViolation, fullURL, c.baseURL)
	}

	return fullURL[len(c.baseURL):], nil
}

// CreateFolder creates a new folder under the given parent.
// Uses conflictBehavior "fail"; returns ErrConflict (409) on name collision.
func (c *Client) CreateFolder(ctx context.Context, driveID, parentID, name string) (*Item, error) {
	c.logger.Info("creating folder",
		slog.String("drive_id", driveID),
		slog.String("parent_id", parentID),
		slog.String("name", name),
	)

	bodyBytes, err := json.Marshal(createFolderRequest{
		Name:             name,
		Folder:           folderFacet{},
		ConflictBehavior: "fail",
	})
	if err != nil {
		return nil, fmt.Errorf("graph: marshaling create folder request: %w", err)
	}

	resp, err := c.Do(ctx, http.MethodPost, itemPath(driveID, parentID)+"/children", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return c.decodeItem(resp.Body, "create folder")
}

// ErrMoveNoChanges is returned when MoveItem is called with both newParentID
// and newName empty.
var ErrMoveNoChanges = errors.New("graph: MoveItem requires at least one of newParentID or newName")

// MoveItem moves and/or renames an item. At least one of newParentID or newName must be non-empty.
func (c *Client) MoveItem(ctx context.Context, driveID, itemID, newParentID, newName string) (*Item, error) {
	if newParentID == "" && newName == "" {
		return nil, ErrMoveNoChanges
	}

	c.logger.Info("moving item",
		slog.String("drive_id", driveID),
		slog.String("item_id", itemID),
		slog.String("new_parent_id", newParentID),
		slog.String("new_name", newName),
	)

	req := moveItemRequest{Name: newName}
	if newParentID != "" {
		req.ParentReference = &parentRef{ID: newParentID}
	}

	bodyBytes, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("graph: marshaling move request: %w", err)
	}

	resp, err := c.Do(ctx, http.MethodPatch, itemPath(driveID, itemID), bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return c.decodeItem(resp.Body, "move")
}

type fileSystemInfoRequest struct {
	FileSystemInfo fileSystemInfo `json:"fileSystemInfo"`
}

type fileSystemInfo struct {
	LastModifiedDateTime string `json:"lastModifiedDateTime"`
}

// SetModified updates an item's client-side modification time.
func (c *Client) SetModified(ctx context.Context, driveID, itemID string, mtime time.Time) (*Item, error) {
	c.logger.Info("setting modification time",
		slog.String("drive_id", driveID),
		slog.String("item_id", itemID),
		slog.Time("mtime", mtime),
	)

	bodyBytes, err := json.Marshal(fileSystemInfoRequest{
		FileSystemInfo: fileSystemInfo{LastModifiedDateTime: mtime.UTC().Format(time.RFC3339)},
	})
	if err != nil {
		return nil, fmt.Errorf("graph: marshaling fileSystemInfo request: %w", err)
	}

	resp, err := c.Do(ctx, http.MethodPatch, itemPath(driveID, itemID), bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return c.decodeItem(resp.Body, "set modified")
}

// DeleteItem moves a drive item to the recycle bin. Returns nil on success (HTTP 204).
func (c *Client) DeleteItem(ctx context.Context, driveID, itemID string) error {
	c.logger.Info("deleting item",
		slog.String("drive_id", driveID),
		slog.String("item_id", itemID),
	)

	resp, err := c.Do(ctx, http.MethodDelete, itemPath(driveID, itemID), nil)
	if err != nil {
		return err
	}

	return drain(resp, "delete")
}

// PermanentDeleteItem deletes a drive item without sending it to the recycle bin.
func (c *Client) PermanentDeleteItem(ctx context.Context, driveID, itemID string) error {
	c.logger.Info("permanently deleting item",
		slog.String("drive_id", driveID),
		slog.String("item_id", itemID),
	)

	resp, err := c.Do(ctx, http.MethodPost, itemPath(driveID, itemID)+"/permanentDelete", nil)
	if err != nil {
		return err
	}

	return drain(resp, "permanent delete")
}

// drain discards and closes a response body so the connection can be reused.
func drain(resp *http.Response, what string) error {
	defer resp.Body.Close()

	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return fmt.Errorf("graph: draining %s response body: %w", what, err)
	}

	return nil
}
