package driveops

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/tonimelisma/graphfs/internal/metacache"
	"github.com/tonimelisma/graphfs/internal/metrics"
)

// Lister produces complete directory listings in server order.
type Lister struct {
	children ChildLister
	resolver *Resolver
	logger   *slog.Logger
}

// NewLister creates a Lister that resolves directories through resolver and
// commits listings to the resolver's cache.
func NewLister(children ChildLister, resolver *Resolver, logger *slog.Logger) *Lister {
	if logger == nil {
		logger = slog.Default()
	}

	return &Lister{
		children: children,
		resolver: resolver,
		logger:   logger,
	}
}

// List returns every child of dir. A fresh cached listing answers without
// I/O; otherwise all pages are fetched and the cache updated only if every
// page succeeds.
func (l *Lister) List(ctx context.Context, dir string) ([]metacache.Record, error) {
	dir = metacache.Clean(dir)

	if recs, ok := l.resolver.cache.Listing(dir); ok {
		l.logger.Debug("listing cache hit", slog.String("path", dir), slog.Int("count", len(recs)))
		return recs, nil
	}

	var all []metacache.Record

	for page, err := range l.Pages(ctx, dir) {
		if err != nil {
			return nil, err
		}

		all = append(all, page...)
	}

	if all == nil {
		all = []metacache.Record{}
	}

	return all, nil
}

// Pages yields dir's children one server page at a time. The sequence stops
// after the first error. The cached listing is replaced only when the
// sequence is drained to the end without error; stopping early leaves the
// previous listing untouched.
func (l *Lister) Pages(ctx context.Context, dir string) iter.Seq2[[]metacache.Record, error] {
	dir = metacache.Clean(dir)

	return func(yield func([]metacache.Record, error) bool) {
		parent, err := l.resolver.lookup(ctx, dir)
		if err != nil {
			yield(nil, err)
			return
		}

		if !parent.IsDir() {
			yield(nil, fmt.Errorf("driveops: listing %s: %w", dir, ErrNotADirectory))
			return
		}

		var (
			all      []metacache.Record
			nextLink string
		)

		for pageNum := 1; ; pageNum++ {
			page, err := l.children.ListChildrenPage(ctx, l.resolver.driveID, parent.ID, nextLink)
			if err != nil {
				l.logger.Warn("listing page failed, discarding partial listing",
					slog.String("path", dir),
					slog.Int("page", pageNum),
					slog.String("error", err.Error()),
				)

				yield(nil, fmt.Errorf("driveops: listing %s page %d: %w", dir, pageNum, err))

				return
			}

			metrics.RecordListingPage()

			fetched := time.Now()
			recs := make([]metacache.Record, 0, len(page.Items))

			for i := range page.Items {
				rec := RecordFromItem(&page.Items[i], metacache.Join(dir, page.Items[i].Name))
				rec.FetchedAt = fetched
				recs = append(recs, rec)
			}

			all = append(all, recs...)

			if !yield(recs, nil) {
				return
			}

			if page.NextLink == "" {
				l.resolver.cache.ReplaceListing(dir, all)

				l.logger.Debug("listing complete",
					slog.String("path", dir),
					slog.Int("count", len(all)),
					slog.Int("pages", pageNum),
				)

				return
			}

			nextLink = page.NextLink
		}
	}
}
