package driveops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tonimelisma/graphfs/internal/graph"
	"github.com/tonimelisma/graphfs/internal/metacache"
)

// walkTimeout bounds a shared resolution once no caller's deadline applies.
const walkTimeout = 2 * time.Minute

// Path resolution errors. Items that are missing surface as graph.ErrNotFound.
var (
	ErrNotADirectory = errors.New("driveops: not a directory")
	ErrNotAFile      = errors.New("driveops: not a file")
)

// Resolver maps drive paths to item records through the shared cache,
// issuing one remote lookup per segment the cache cannot answer.
// Concurrent walks of the same path share a single set of lookups.
type Resolver struct {
	items   ItemGetter
	driveID string
	cache   *metacache.Cache
	logger  *slog.Logger
	group   singleflight.Group
}

// NewResolver creates a Resolver for driveID backed by cache.
func NewResolver(items ItemGetter, driveID string, cache *metacache.Cache, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}

	return &Resolver{
		items:   items,
		driveID: driveID,
		cache:   cache,
		logger:  logger,
	}
}

// Cache returns the shared metadata cache.
func (r *Resolver) Cache() *metacache.Cache {
	return r.cache
}

// Resolve returns the item ID at p. A fresh cache entry answers without I/O.
func (r *Resolver) Resolve(ctx context.Context, p string) (string, error) {
	rec, err := r.lookup(ctx, metacache.Clean(p))
	if err != nil {
		return "", err
	}

	return rec.ID, nil
}

// Metadata returns a fresh record for p. A stale entry is revalidated by ID;
// if the item is gone the entry is evicted and graph.ErrNotFound returned.
func (r *Resolver) Metadata(ctx context.Context, p string) (metacache.Record, error) {
	p = metacache.Clean(p)

	if rec, ok := r.cache.Get(p); ok {
		return rec, nil
	}

	if p == metacache.Root {
		return r.fetchByID(ctx, graph.RootID, p)
	}

	if stale, ok := r.cache.Peek(p); ok {
		rec, err := r.fetchByID(ctx, stale.ID, p)
		if err == nil || !errors.Is(err, graph.ErrNotFound) {
			return rec, err
		}

		r.logger.Debug("cached item no longer exists",
			slog.String("path", p),
			slog.String("item_id", stale.ID),
		)

		r.cache.Invalidate(p)

		return metacache.Record{}, fmt.Errorf("driveops: %s: %w", p, err)
	}

	return r.lookup(ctx, p)
}

// Invalidate drops p, its listing, and everything cached beneath it.
func (r *Resolver) Invalidate(p string) {
	r.cache.Invalidate(metacache.Clean(p))
}

// fetchByID reloads a record by item ID. A renamed item is dropped from p.
func (r *Resolver) fetchByID(ctx context.Context, itemID, p string) (metacache.Record, error) {
	item, err := r.items.GetItem(ctx, r.driveID, itemID)
	if err != nil {
		return metacache.Record{}, err
	}

	if p != metacache.Root && item.Name != metacache.Base(p) {
		r.cache.Invalidate(p)
		return r.lookup(ctx, p)
	}

	rec := RecordFromItem(item, p)
	r.cache.Put(rec)

	return rec, nil
}

func (r *Resolver) lookup(ctx context.Context, p string) (metacache.Record, error) {
	if rec, ok := r.cache.Get(p); ok {
		return rec, nil
	}

	if p == metacache.Root {
		return rootRecord(), nil
	}

	// The shared walk must outlive any one caller, so it runs detached from
	// the caller's cancellation and each caller waits on its own ctx.
	ch := r.group.DoChan(p, func() (any, error) {
		walkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), walkTimeout)
		defer cancel()

		return r.walk(walkCtx, p)
	})

	select {
	case <-ctx.Done():
		return metacache.Record{}, fmt.Errorf("driveops: resolving %s: %w", p, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return metacache.Record{}, res.Err
		}

		if res.Shared {
			r.logger.Debug("joined in-flight resolution", slog.String("path", p))
		}

		return res.Val.(metacache.Record), nil //nolint:forcetypeassert // walk always returns a Record
	}
}

// walk resolves p segment by segment, starting below the deepest fresh
// directory the cache holds.
func (r *Resolver) walk(ctx context.Context, p string) (metacache.Record, error) {
	cur, ok := r.cache.NearestDir(p)
	if !ok {
		cur = rootRecord()
	}

	segments := metacache.Segments(p)
	start := len(metacache.Segments(cur.Path))
	lookups := 0

	for i, name := range segments[start:] {
		if !cur.IsDir() {
			return metacache.Record{}, fmt.Errorf("driveops: %s: %w", cur.Path, ErrNotADirectory)
		}

		childPath := metacache.Join(cur.Path, name)

		if rec, ok := r.cache.Get(childPath); ok {
			cur = rec
			continue
		}

		item, err := r.items.GetChild(ctx, r.driveID, cur.ID, name)
		lookups++

		if err != nil {
			if errors.Is(err, graph.ErrNotFound) {
				r.cache.Invalidate(childPath)
			}

			return metacache.Record{}, fmt.Errorf("driveops: resolving %s (segment %d): %w", p, start+i+1, err)
		}

		cur = RecordFromItem(item, childPath)
		r.cache.Put(cur)
	}

	r.logger.Debug("resolved path",
		slog.String("path", p),
		slog.String("item_id", cur.ID),
		slog.Int("lookups", lookups),
	)

	return cur, nil
}
