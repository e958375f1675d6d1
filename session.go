package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/tonimelisma/graphfs/internal/auth"
	"github.com/tonimelisma/graphfs/internal/config"
	"github.com/tonimelisma/graphfs/internal/drivefs"
	"github.com/tonimelisma/graphfs/internal/graph"
)

// newHTTPClient builds the transport from the network settings. There is no
// overall request timeout because content transfers may run for a long time;
// data_timeout bounds the wait for response headers instead.
func newHTTPClient(cfg *config.Resolved) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone() //nolint:forcetypeassert // stdlib default

	transport.DialContext = (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext
	transport.TLSHandshakeTimeout = cfg.ConnectTimeout
	transport.ResponseHeaderTimeout = cfg.DataTimeout

	return &http.Client{Transport: transport}
}

// newTokenProvider returns the provider selected by auth.method.
func newTokenProvider(cfg *config.Resolved, logger *slog.Logger) (graph.TokenProvider, error) {
	switch cfg.AuthMethod {
	case config.AuthClientSecret:
		return auth.NewClientSecretProvider(cfg.TenantID, cfg.ClientID, cfg.ClientSecret, logger)
	default:
		return newOAuthProvider(cfg, logger), nil
	}
}

func newOAuthProvider(cfg *config.Resolved, logger *slog.Logger) *auth.OAuthProvider {
	return auth.NewOAuthProvider(cfg.ClientID, cfg.TenantID, cfg.TokenDir, logger)
}

// newGraphClient creates a Graph client for the configured account.
func newGraphClient(cfg *config.Resolved, tokens graph.TokenProvider, logger *slog.Logger) *graph.Client {
	client := graph.NewClient(cfg.BaseURL, newHTTPClient(cfg), tokens, logger, cfg.UserAgent)
	client.SetAccount(cfg.Account)
	client.SetMaxRetries(cfg.MaxRetries)

	return client
}

// openFS builds the filesystem view of the configured drive. A configured
// site is resolved to its document library unless a drive ID is given.
func openFS(ctx context.Context, cfg *config.Resolved, logger *slog.Logger) (*drivefs.FS, error) {
	tokens, err := newTokenProvider(cfg, logger)
	if err != nil {
		return nil, err
	}

	client := newGraphClient(cfg, tokens, logger)

	driveID := cfg.DriveID
	if driveID == "" && cfg.Site != "" {
		driveID, err = client.SiteDrive(ctx, cfg.Site)
		if err != nil {
			return nil, fmt.Errorf("resolving site %s: %w", cfg.Site, err)
		}
	}

	// A zero TTL in the config file means "do not cache".
	ttl := cfg.MetadataTTL
	if ttl == 0 {
		ttl = -1
	}

	fsys, err := drivefs.New(client, drivefs.Options{
		DriveID:            driveID,
		MetadataTTL:        ttl,
		ChunkSize:          cfg.ChunkSize,
		SmallFileThreshold: cfg.SmallFileThreshold,
		ReadBlockSize:      cfg.ReadBlockSize,
		ReadCacheSize:      cfg.ReadCacheSize,
		UseRecycleBin:      cfg.UseRecycleBin,
		Parallel:           cfg.Parallel,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("opening drive: %w", err)
	}

	return fsys, nil
}
