package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// deltaResponse mirrors the Graph API delta response JSON structure.
// Unexported; callers receive normalized DeltaPage values.
type deltaResponse struct {
	Value     []driveItemResponse `json:"value"`
	NextLink  string              `json:"@odata.nextLink"`  //nolint:tagliatelle // OData annotation key
	DeltaLink string              `json:"@odata.deltaLink"` //nolint:tagliatelle // OData annotation key
}

// Delta fetches one page of changes for a drive.
// Pass an empty link to enumerate from scratch, or the NextLink or DeltaLink
// of a previous page. HTTP 410 (Gone) means the link has expired; the
// returned error matches ErrGone and the caller should start over.
func (c *Client) Delta(ctx context.Context, driveID, link string) (*DeltaPage, error) {
	path := drivePath(driveID) + "/root/delta"

	if link != "" {
		var err error

		path, err = c.stripBaseURL(link)
		if err != nil {
			return nil, err
		}
	}

	c.logger.Info("fetching delta page",
		slog.String("drive_id", driveID),
		slog.Bool("initial", link == ""),
	)

	resp, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var dr deltaResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return nil, fmt.Errorf("graph: decoding delta response: %w", err)
	}

	if dr.NextLink == "" && dr.DeltaLink == "" {
		return nil, fmt.Errorf("%w: delta page has neither nextLink nor deltaLink", ErrProtocolViolation)
	}

	items := make([]Item, 0, len(dr.Value))
	for i := range dr.Value {
		items = append(items, dr.Value[i].toItem(c.logger))
	}

	items = normalizeDeltaItems(items, c.logger)

	c.logger.Debug("fetched delta page",
		slog.Int("raw_count", len(dr.Value)),
		slog.Int("normalized_count", len(items)),
		slog.Bool("has_next_link", dr.NextLink != ""),
	)

	return &DeltaPage{
		Items:     items,
		NextLink:  dr.NextLink,
		DeltaLink: dr.DeltaLink,
	}, nil
}
