package drivefs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/graphfs/internal/driveops"
	"github.com/tonimelisma/graphfs/internal/graph"
	"github.com/tonimelisma/graphfs/internal/metacache"
)

// MkdirOpts controls Mkdir.
type MkdirOpts struct {
	Parents bool // create missing ancestors
	ExistOK bool // an existing directory is not an error
}

// RmOpts controls Rm.
type RmOpts struct {
	Recursive bool // allow removing non-empty directories
}

// Mkdir creates the directory p.
func (f *FS) Mkdir(ctx context.Context, p string, opts MkdirOpts) (*FileInfo, error) {
	p = metacache.Clean(p)

	rec, err := f.resolver.Metadata(ctx, p)
	switch {
	case err == nil && rec.IsDir():
		if opts.ExistOK {
			return NewFileInfo(rec), nil
		}

		return nil, pathErr("mkdir", p, fs.ErrExist)
	case err == nil:
		return nil, pathErr("mkdir", p, fmt.Errorf("%w: a file has that name", fs.ErrExist))
	case !notExist(err):
		return nil, pathErr("mkdir", p, err)
	}

	if opts.Parents && p != metacache.Root {
		if _, err := f.Mkdir(ctx, metacache.Parent(p), MkdirOpts{Parents: true, ExistOK: true}); err != nil {
			return nil, err
		}
	}

	parent, err := f.parentDir(ctx, "mkdir", p)
	if err != nil {
		return nil, err
	}

	item, err := f.api.CreateFolder(ctx, f.driveID, parent.ID, metacache.Base(p))
	if err != nil {
		// Someone else created it between our lookup and the POST.
		if errors.Is(err, graph.ErrConflict) && opts.ExistOK {
			f.resolver.Invalidate(p)

			rec, statErr := f.stat(ctx, "mkdir", p)
			if statErr != nil {
				return nil, statErr
			}

			if rec.IsDir() {
				return NewFileInfo(rec), nil
			}
		}

		return nil, pathErr("mkdir", p, err)
	}

	f.cache.InvalidateListing(parent.Path)

	return f.remember(item, p), nil
}

// Rm deletes p. Directories must be empty unless opts.Recursive is set.
// Items go to the recycle bin when the FS was configured to use it.
func (f *FS) Rm(ctx context.Context, p string, opts RmOpts) error {
	p = metacache.Clean(p)

	if p == metacache.Root {
		return pathErr("rm", p, ErrIsRoot)
	}

	rec, err := f.stat(ctx, "rm", p)
	if err != nil {
		return err
	}

	if rec.IsDir() && !opts.Recursive {
		empty, err := f.isEmpty(ctx, p)
		if err != nil {
			return pathErr("rm", p, err)
		}

		if !empty {
			return pathErr("rm", p, ErrNotEmpty)
		}
	}

	return f.remove(ctx, "rm", rec)
}

// Rmdir deletes the empty directory p.
func (f *FS) Rmdir(ctx context.Context, p string) error {
	p = metacache.Clean(p)

	if p == metacache.Root {
		return pathErr("rmdir", p, ErrIsRoot)
	}

	rec, err := f.stat(ctx, "rmdir", p)
	if err != nil {
		return err
	}

	if !rec.IsDir() {
		return pathErr("rmdir", p, driveops.ErrNotADirectory)
	}

	empty, err := f.isEmpty(ctx, p)
	if err != nil {
		return pathErr("rmdir", p, err)
	}

	if !empty {
		return pathErr("rmdir", p, ErrNotEmpty)
	}

	return f.remove(ctx, "rmdir", rec)
}

// RmMany deletes independent paths concurrently, at most Options.Parallel at
// a time, and returns the first failure.
func (f *FS) RmMany(ctx context.Context, paths []string, opts RmOpts) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.parallel)

	for _, p := range paths {
		g.Go(func() error {
			return f.Rm(gctx, p, opts)
		})
	}

	return g.Wait()
}

// Mv moves or renames src to dst. When dst is an existing directory src is
// moved into it under its current name.
func (f *FS) Mv(ctx context.Context, src, dst string) (*FileInfo, error) {
	src, dst = metacache.Clean(src), metacache.Clean(dst)

	srcRec, parent, dst, err := f.transferTarget(ctx, "mv", src, dst)
	if err != nil {
		return nil, err
	}

	if dst == src {
		return NewFileInfo(srcRec), nil
	}

	var newParentID, newName string

	if parent.Path != metacache.Parent(src) {
		newParentID = parent.ID
	}

	if metacache.Base(dst) != metacache.Base(src) {
		newName = metacache.Base(dst)
	}

	item, err := f.api.MoveItem(ctx, f.driveID, srcRec.ID, newParentID, newName)
	if err != nil {
		return nil, pathErr("mv", src, err)
	}

	f.cache.Invalidate(src)
	f.cache.Invalidate(dst)
	f.cache.InvalidateListing(metacache.Parent(src))
	f.cache.InvalidateListing(parent.Path)

	f.logger.Info("moved item",
		slog.String("from", src),
		slog.String("to", dst),
	)

	return f.remember(item, dst), nil
}

// Copy copies src to dst on the server and waits for the copy to finish.
// When dst is an existing directory the copy is placed inside it.
func (f *FS) Copy(ctx context.Context, src, dst string) (*FileInfo, error) {
	src, dst = metacache.Clean(src), metacache.Clean(dst)

	srcRec, parent, dst, err := f.transferTarget(ctx, "copy", src, dst)
	if err != nil {
		return nil, err
	}

	if dst == src {
		return nil, pathErr("copy", dst, fs.ErrExist)
	}

	if _, err := f.copier.Copy(ctx, srcRec.ID, parent.ID, dst); err != nil {
		return nil, pathErr("copy", src, err)
	}

	return f.Info(ctx, dst)
}

// transferTarget validates a move or copy of src to dst and returns the
// source record, the destination's parent and the final destination path.
func (f *FS) transferTarget(
	ctx context.Context, op, src, dst string,
) (metacache.Record, metacache.Record, string, error) {
	var none metacache.Record

	if src == metacache.Root {
		return none, none, "", pathErr(op, src, ErrIsRoot)
	}

	srcRec, err := f.stat(ctx, op, src)
	if err != nil {
		return none, none, "", err
	}

	dstRec, err := f.resolver.Metadata(ctx, dst)
	switch {
	case err == nil && dstRec.IsDir():
		dst = metacache.Join(dst, metacache.Base(src))

		if _, err := f.resolver.Metadata(ctx, dst); err == nil && dst != src {
			return none, none, "", pathErr(op, dst, fs.ErrExist)
		}
	case err == nil:
		if dst != src {
			return none, none, "", pathErr(op, dst, fs.ErrExist)
		}
	case !notExist(err):
		return none, none, "", pathErr(op, dst, err)
	}

	if srcRec.IsDir() && metacache.IsWithin(dst, src) && dst != src {
		return none, none, "", pathErr(op, dst, fmt.Errorf("%w: destination is inside source", fs.ErrInvalid))
	}

	parent, err := f.parentDir(ctx, op, dst)
	if err != nil {
		return none, none, "", err
	}

	return srcRec, parent, dst, nil
}

// isEmpty reports whether dir has no children. It stops at the first
// non-empty page.
func (f *FS) isEmpty(ctx context.Context, dir string) (bool, error) {
	if recs, ok := f.cache.Listing(dir); ok {
		return len(recs) == 0, nil
	}

	for page, err := range f.lister.Pages(ctx, dir) {
		if err != nil {
			return false, err
		}

		if len(page) > 0 {
			return false, nil
		}
	}

	return true, nil
}

func (f *FS) remove(ctx context.Context, op string, rec metacache.Record) error {
	var err error
	if f.useRecycleBin {
		err = f.api.DeleteItem(ctx, f.driveID, rec.ID)
	} else {
		err = f.api.PermanentDeleteItem(ctx, f.driveID, rec.ID)
	}

	if err != nil {
		return pathErr(op, rec.Path, err)
	}

	f.cache.Invalidate(rec.Path)
	f.cache.InvalidateListing(metacache.Parent(rec.Path))

	f.logger.Info("removed item",
		slog.String("path", rec.Path),
		slog.Bool("recycle_bin", f.useRecycleBin),
	)

	return nil
}
