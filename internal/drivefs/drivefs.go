// Package drivefs presents a Graph drive as a filesystem addressed by
// slash-separated paths. Every error it returns is an *fs.PathError, so
// callers can test errors.Is(err, fs.ErrNotExist) and friends.
package drivefs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/tonimelisma/graphfs/internal/driveops"
	"github.com/tonimelisma/graphfs/internal/graph"
	"github.com/tonimelisma/graphfs/internal/metacache"
)

// DefaultMetadataTTL is how long cached metadata is trusted.
const DefaultMetadataTTL = 30 * time.Second

// DefaultParallel bounds concurrent deletes in RmMany.
const DefaultParallel = 4

// Filesystem errors with no io/fs equivalent.
var (
	ErrNotEmpty = errors.New("drivefs: directory not empty")
	ErrIsRoot   = errors.New("drivefs: operation not permitted on the drive root")
)

// API is the subset of *graph.Client the filesystem uses.
type API interface {
	driveops.ItemGetter
	driveops.ChildLister
	driveops.SessionUploader
	driveops.RangeDownloader
	driveops.DeltaSource
	driveops.ItemCopier

	CreateFolder(ctx context.Context, driveID, parentID, name string) (*graph.Item, error)
	MoveItem(ctx context.Context, driveID, itemID, newParentID, newName string) (*graph.Item, error)
	SetModified(ctx context.Context, driveID, itemID string, mtime time.Time) (*graph.Item, error)
	DeleteItem(ctx context.Context, driveID, itemID string) error
	PermanentDeleteItem(ctx context.Context, driveID, itemID string) error
}

// Options configures an FS. Zero values select defaults.
type Options struct {
	DriveID            string
	MetadataTTL        time.Duration // negative disables metadata caching
	ChunkSize          int64
	SmallFileThreshold int64
	ReadBlockSize      int64
	ReadCacheSize      int64 // zero disables the read block cache
	UseRecycleBin      bool
	Parallel           int
}

// FS is a filesystem view of one drive. It is safe for concurrent use;
// readers and writers it returns are not.
type FS struct {
	api           API
	driveID       string
	cache         *metacache.Cache
	resolver      *driveops.Resolver
	lister        *driveops.Lister
	transfers     *driveops.TransferManager
	refresher     *driveops.Refresher
	copier        *driveops.Copier
	blocks        *driveops.BlockCache
	useRecycleBin bool
	parallel      int
	logger        *slog.Logger
}

// New creates an FS over api.
func New(api API, opts Options, logger *slog.Logger) (*FS, error) {
	if logger == nil {
		logger = slog.Default()
	}

	ttl := opts.MetadataTTL
	if ttl == 0 {
		ttl = DefaultMetadataTTL
	}

	parallel := opts.Parallel
	if parallel <= 0 {
		parallel = DefaultParallel
	}

	var blocks *driveops.BlockCache

	if opts.ReadCacheSize > 0 {
		var err error

		blocks, err = driveops.NewBlockCache(opts.ReadCacheSize, opts.ReadBlockSize)
		if err != nil {
			return nil, err
		}
	}

	cache := metacache.New(ttl, logger)
	resolver := driveops.NewResolver(api, opts.DriveID, cache, logger)

	return &FS{
		api:      api,
		driveID:  opts.DriveID,
		cache:    cache,
		resolver: resolver,
		lister:   driveops.NewLister(api, resolver, logger),
		transfers: driveops.NewTransferManager(api, api, cache, opts.DriveID, driveops.TransferOpts{
			ChunkSize:          opts.ChunkSize,
			SmallFileThreshold: opts.SmallFileThreshold,
			Blocks:             blocks,
		}, logger),
		refresher:     driveops.NewRefresher(api, cache, opts.DriveID, logger),
		copier:        driveops.NewCopier(api, cache, opts.DriveID, logger),
		blocks:        blocks,
		useRecycleBin: opts.UseRecycleBin,
		parallel:      parallel,
		logger:        logger,
	}, nil
}

// Close releases the read cache.
func (f *FS) Close() error {
	if f.blocks != nil {
		f.blocks.Close()
	}

	return nil
}

// Cache exposes the metadata cache, mainly for inspection in tests and the CLI.
func (f *FS) Cache() *metacache.Cache {
	return f.cache
}

// Invalidate drops cached metadata for p and everything beneath it.
func (f *FS) Invalidate(p string) {
	f.resolver.Invalidate(p)
}

// Refresh applies remote changes made since the previous call to the cache
// and reports how many items changed. The first call only takes a baseline.
func (f *FS) Refresh(ctx context.Context) (int, error) {
	n, err := f.refresher.Refresh(ctx)
	if err != nil {
		return n, pathErr("refresh", metacache.Root, err)
	}

	return n, nil
}

// pathErr wraps err for op on p, keeping an existing *fs.PathError as is.
func pathErr(op, p string, err error) error {
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return err
	}

	return &fs.PathError{Op: op, Path: p, Err: err}
}

// stat returns the record at p, wrapping failures for op.
func (f *FS) stat(ctx context.Context, op, p string) (metacache.Record, error) {
	rec, err := f.resolver.Metadata(ctx, p)
	if err != nil {
		return metacache.Record{}, pathErr(op, p, err)
	}

	return rec, nil
}

// parentDir returns the record of p's parent, which must be a directory.
func (f *FS) parentDir(ctx context.Context, op, p string) (metacache.Record, error) {
	if p == metacache.Root {
		return metacache.Record{}, pathErr(op, p, ErrIsRoot)
	}

	parent, err := f.stat(ctx, op, metacache.Parent(p))
	if err != nil {
		return metacache.Record{}, err
	}

	if !parent.IsDir() {
		return metacache.Record{}, pathErr(op, p, fmt.Errorf("parent %s: %w", parent.Path, driveops.ErrNotADirectory))
	}

	return parent, nil
}

func notExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
