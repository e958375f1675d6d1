package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// ChunkAlignment is the required alignment for upload chunk sizes (320 KiB).
// All chunks except the final one must be a multiple of this value.
const ChunkAlignment = 320 * 1024

// SimpleUploadMaxSize is the maximum file size for simple (single-request) upload (4 MiB).
// Files larger than this must use resumable upload sessions.
const SimpleUploadMaxSize = 4 * 1024 * 1024

// SizeUnknown marks a chunk whose total upload size is not yet known.
// Such uploads need a session opened with deferCommit.
const SizeUnknown = -1

type createUploadSessionRequest struct {
	Item        uploadSessionItem `json:"item"`
	DeferCommit bool              `json:"deferCommit,omitempty"`
}

type uploadSessionItem struct {
	ConflictBehavior string `json:"@microsoft.graph.conflictBehavior"` //nolint:tagliatelle // Graph API annotation key
}

type uploadSessionResponse struct {
	UploadURL          string   `json:"uploadUrl"`
	ExpirationDateTime string   `json:"expirationDateTime"`
	NextExpectedRanges []string `json:"nextExpectedRanges"`
}

// SimpleUpload uploads content up to SimpleUploadMaxSize with a single PUT,
// replacing any existing file of the same name.
func (c *Client) SimpleUpload(ctx context.Context, driveID, parentID, name string, content []byte) (*Item, error) {
	c.logger.Info("simple upload",
		slog.String("drive_id", driveID),
		slog.String("parent_id", parentID),
		slog.String("name", name),
		slog.Int("size", len(content)),
	)

	path := childPath(driveID, parentID, name) + "/content"

	resp, err := c.doRequest(ctx, &request{
		method:      http.MethodPut,
		url:         c.baseURL + path,
		logPath:     path,
		body:        bytes.NewReader(content),
		contentType: "application/octet-stream",
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return c.decodeItem(resp.Body, "simple upload")
}

// CreateUploadSession opens a resumable upload session for parentID/name with
// conflictBehavior "replace". With deferCommit the server holds the content
// until CommitUploadSession, which allows uploads of unknown total size.
func (c *Client) CreateUploadSession(
	ctx context.Context, driveID, parentID, name string, deferCommit bool,
) (*UploadSession, error) {
	c.logger.Info("creating upload session",
		slog.String("drive_id", driveID),
		slog.String("parent_id", parentID),
		slog.String("name", name),
		slog.Bool("defer_commit", deferCommit),
	)

	bodyBytes, err := json.Marshal(createUploadSessionRequest{
		Item:        uploadSessionItem{ConflictBehavior: "replace"},
		DeferCommit: deferCommit,
	})
	if err != nil {
		return nil, fmt.Errorf("graph: marshaling upload session request: %w", err)
	}

	path := childPath(driveID, parentID, name) + "/createUploadSession"

	resp, err := c.Do(ctx, http.MethodPost, path, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var usr uploadSessionResponse
	if decErr := json.NewDecoder(resp.Body).Decode(&usr); decErr != nil {
		return nil, fmt.Errorf("graph: decoding upload session response: %w", decErr)
	}

	if usr.UploadURL == "" {
		return nil, fmt.Errorf("%w: upload session response has no uploadUrl", ErrProtocolViolation)
	}

	expTime, parseErr := time.Parse(time.RFC3339, usr.ExpirationDateTime)
	if parseErr != nil {
		c.logger.Warn("invalid upload session expiration, using zero time",
			slog.String("raw", usr.ExpirationDateTime),
			slog.String("error", parseErr.Error()),
		)
	}

	session := &UploadSession{
		UploadURL:          usr.UploadURL,
		ExpirationTime:     expTime,
		NextExpectedRanges: usr.NextExpectedRanges,
	}

	c.logger.Debug("upload session created",
		slog.Time("expires", session.ExpirationTime),
	)

	return session, nil
}

// UploadChunk sends chunk at offset to an upload session. total is the full
// upload size, or SizeUnknown for deferred-commit sessions.
// Returns the completed Item on the final chunk (201/200), nil for intermediate chunks (202).
// The session URL is pre-authenticated, so no Authorization header is sent.
func (c *Client) UploadChunk(
	ctx context.Context, session *UploadSession, chunk []byte, offset, total int64,
) (*Item, error) {
	if len(chunk) == 0 {
		return nil, fmt.Errorf("%w: empty upload chunk", ErrProtocolViolation)
	}

	end := offset + int64(len(chunk)) - 1

	contentRange := fmt.Sprintf("bytes %d-%d/%d", offset, end, total)
	if total == SizeUnknown {
		contentRange = fmt.Sprintf("bytes %d-%d/*", offset, end)
	}

	c.logger.Debug("uploading chunk",
		slog.Int64("offset", offset),
		slog.Int("length", len(chunk)),
		slog.Int64("total", total),
	)

	resp, err := c.doPreAuth(ctx, http.MethodPut, session.UploadURL, bytes.NewReader(chunk), int64(len(chunk)),
		http.Header{"Content-Range": {contentRange}})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted {
		if _, drainErr := io.Copy(io.Discard, resp.Body); drainErr != nil {
			return nil, fmt.Errorf("graph: draining chunk response body: %w", drainErr)
		}

		return nil, nil
	}

	item, err := c.decodeItem(resp.Body, "final chunk")
	if err != nil {
		return nil, err
	}

	c.logger.Debug("upload complete",
		slog.String("item_id", item.ID),
		slog.String("item_name", item.Name),
	)

	return item, nil
}

// CommitUploadSession finalizes a deferred-commit session once every byte
// has been sent.
func (c *Client) CommitUploadSession(ctx context.Context, session *UploadSession) (*Item, error) {
	c.logger.Info("committing upload session")

	resp, err := c.doPreAuth(ctx, http.MethodPost, session.UploadURL, nil, 0, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return c.decodeItem(resp.Body, "commit upload session")
}

// CancelUploadSession cancels an in-progress upload session.
// The session URL is pre-authenticated, so no Authorization header is sent.
func (c *Client) CancelUploadSession(ctx context.Context, session *UploadSession) error {
	c.logger.Info("canceling upload session")

	resp, err := c.doPreAuth(ctx, http.MethodDelete, session.UploadURL, nil, 0, nil)
	if err != nil {
		return err
	}

	return drain(resp, "cancel session")
}
