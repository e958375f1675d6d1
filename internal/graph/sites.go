package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

type idResponse struct {
	ID string `json:"id"`
}

// SitePath returns the API path of a SharePoint site given as
// "host:/server/relative/path", or as a bare host for the root site.
func SitePath(site string) (string, error) {
	host, rel, hasPath := strings.Cut(strings.TrimSpace(site), ":")
	if host == "" || strings.Contains(host, "/") || strings.HasPrefix(rel, "//") {
		return "", fmt.Errorf("graph: site %q: want host or host:/path", site)
	}

	rel = strings.Trim(rel, "/")
	if !hasPath || rel == "" {
		return "/sites/" + url.PathEscape(host), nil
	}

	segs := strings.Split(rel, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}

	return "/sites/" + url.PathEscape(host) + ":/" + strings.Join(segs, "/"), nil
}

// SiteDrive resolves a SharePoint site to the ID of its default document
// library.
func (c *Client) SiteDrive(ctx context.Context, site string) (string, error) {
	sitePath, err := SitePath(site)
	if err != nil {
		return "", err
	}

	c.logger.Info("resolving site drive", slog.String("site", site))

	siteID, err := c.fetchID(ctx, sitePath, "site")
	if err != nil {
		return "", err
	}

	driveID, err := c.fetchID(ctx, "/sites/"+url.PathEscape(siteID)+"/drive", "site drive")
	if err != nil {
		return "", err
	}

	c.logger.Debug("resolved site drive",
		slog.String("site_id", siteID),
		slog.String("drive_id", driveID),
	)

	return driveID, nil
}

func (c *Client) fetchID(ctx context.Context, apiPath, what string) (string, error) {
	resp, err := c.Do(ctx, http.MethodGet, apiPath+"?$select=id", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var r idResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return "", fmt.Errorf("graph: decoding %s response: %w", what, err)
	}

	if r.ID == "" {
		return "", fmt.Errorf("%w: %s response has no id", ErrProtocolViolation, what)
	}

	return r.ID, nil
}
