package driveops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tonimelisma/graphfs/internal/graph"
	"github.com/tonimelisma/graphfs/internal/metacache"
)

// Refresher applies remote changes to the cache using the delta API. The
// first call establishes a baseline and clears the cache; later calls evict
// every cached path the drive reports as changed.
type Refresher struct {
	api     DeltaSource
	cache   *metacache.Cache
	driveID string
	logger  *slog.Logger

	mu   sync.Mutex
	link string
}

// NewRefresher creates a Refresher for driveID.
func NewRefresher(api DeltaSource, cache *metacache.Cache, driveID string, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Refresher{api: api, cache: cache, driveID: driveID, logger: logger}
}

// Refresh fetches changes since the previous call and returns how many
// changed items it saw. An expired delta link clears the cache and starts
// a new baseline.
func (r *Refresher) Refresh(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	baseline := r.link == ""
	link := r.link
	changed := 0

	for {
		page, err := r.api.Delta(ctx, r.driveID, link)
		if err != nil {
			if errors.Is(err, graph.ErrGone) {
				r.logger.Warn("delta link expired, clearing cache")
				r.cache.Clear()
				r.link = ""

				return 0, nil
			}

			return changed, fmt.Errorf("driveops: refreshing: %w", err)
		}

		if !baseline {
			for i := range page.Items {
				r.apply(&page.Items[i])
			}
		}

		changed += len(page.Items)

		if page.DeltaLink != "" {
			r.link = page.DeltaLink
			break
		}

		link = page.NextLink
	}

	if baseline {
		r.cache.Clear()
	}

	r.logger.Info("cache refreshed",
		slog.Bool("baseline", baseline),
		slog.Int("changed", changed),
	)

	return changed, nil
}

// apply evicts the item's old location and its reported new one, along
// with both parents' listings.
func (r *Refresher) apply(item *graph.Item) {
	if old, ok := r.cache.PathByID(item.ID); ok {
		r.cache.Invalidate(old)
		r.cache.InvalidateListing(metacache.Parent(old))
	}

	if item.IsRoot {
		r.cache.InvalidateListing(metacache.Root)
		return
	}

	if item.ParentPath != "" && item.Name != "" {
		p := metacache.Join(metacache.Clean(item.ParentPath), item.Name)
		r.cache.Invalidate(p)
		r.cache.InvalidateListing(metacache.Parent(p))
	}
}
