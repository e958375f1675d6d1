package driveops

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tonimelisma/graphfs/internal/graph"
	"github.com/tonimelisma/graphfs/internal/metacache"
)

// defaultCopyPollInterval is the delay between copy monitor polls.
const defaultCopyPollInterval = time.Second

// Copier performs server-side copies, which the API runs asynchronously.
type Copier struct {
	api      ItemCopier
	cache    *metacache.Cache
	driveID  string
	interval time.Duration
	logger   *slog.Logger

	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewCopier creates a Copier for driveID.
func NewCopier(api ItemCopier, cache *metacache.Cache, driveID string, logger *slog.Logger) *Copier {
	if logger == nil {
		logger = slog.Default()
	}

	return &Copier{
		api:       api,
		cache:     cache,
		driveID:   driveID,
		interval:  defaultCopyPollInterval,
		logger:    logger,
		sleepFunc: sleepCtx,
	}
}

// Copy copies itemID into newParentID as dst and blocks until the monitor
// reports completion. It returns the new item's ID.
func (c *Copier) Copy(ctx context.Context, itemID, newParentID, dst string) (string, error) {
	dst = metacache.Clean(dst)

	monitor, err := c.api.CopyItem(ctx, c.driveID, itemID, newParentID, metacache.Base(dst))
	if err != nil {
		return "", fmt.Errorf("driveops: copying to %s: %w", dst, err)
	}

	for {
		progress, err := c.api.CopyStatus(ctx, monitor)
		if err != nil {
			return "", fmt.Errorf("driveops: polling copy to %s: %w", dst, err)
		}

		switch progress.Status {
		case graph.CopyCompleted:
			c.cache.Invalidate(dst)
			c.cache.InvalidateListing(metacache.Parent(dst))

			c.logger.Info("copy complete",
				slog.String("path", dst),
				slog.String("item_id", progress.ResourceID),
			)

			return progress.ResourceID, nil
		case graph.CopyFailed:
			return "", fmt.Errorf("driveops: copy to %s failed on server: %w", dst, graph.ErrUnknown)
		}

		c.logger.Debug("copy in progress",
			slog.String("path", dst),
			slog.Float64("percent", progress.PercentageComplete),
		)

		if err := c.sleepFunc(ctx, c.interval); err != nil {
			return "", err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
