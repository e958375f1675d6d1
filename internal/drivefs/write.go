package drivefs

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/tonimelisma/graphfs/internal/driveops"
	"github.com/tonimelisma/graphfs/internal/graph"
	"github.com/tonimelisma/graphfs/internal/metacache"
)

// uploadTarget checks that p can receive file content and returns its
// parent directory.
func (f *FS) uploadTarget(ctx context.Context, op, p string) (metacache.Record, error) {
	parent, err := f.parentDir(ctx, op, p)
	if err != nil {
		return metacache.Record{}, err
	}

	existing, err := f.resolver.Metadata(ctx, p)
	switch {
	case err == nil && existing.IsDir():
		return metacache.Record{}, pathErr(op, p, driveops.ErrNotAFile)
	case err != nil && !notExist(err):
		return metacache.Record{}, pathErr(op, p, err)
	}

	return parent, nil
}

// Create opens a writer that replaces or creates the file at p. Nothing is
// visible remotely until Close succeeds.
func (f *FS) Create(ctx context.Context, p string) (*driveops.Writer, error) {
	p = metacache.Clean(p)

	parent, err := f.uploadTarget(ctx, "create", p)
	if err != nil {
		return nil, err
	}

	up := f.transfers.NewUpload(parent.ID, p, graph.SizeUnknown, nil)

	return driveops.NewWriter(ctx, up), nil
}

// Append opens a writer seeded with the current content of p, so bytes
// written to it follow the existing data. A missing p is created. The file
// is replaced as a whole when the writer is closed.
func (f *FS) Append(ctx context.Context, p string) (*driveops.Writer, error) {
	p = metacache.Clean(p)

	parent, err := f.uploadTarget(ctx, "append", p)
	if err != nil {
		return nil, err
	}

	w := driveops.NewWriter(ctx, f.transfers.NewUpload(parent.ID, p, graph.SizeUnknown, nil))

	rec, err := f.resolver.Metadata(ctx, p)
	if notExist(err) || (err == nil && rec.Size == 0) {
		return w, nil
	}

	if err != nil {
		w.Abort()
		return nil, pathErr("append", p, err)
	}

	r, err := f.transfers.OpenReader(ctx, rec)
	if err != nil {
		w.Abort()
		return nil, pathErr("append", p, err)
	}
	defer r.Close()

	if _, err := r.WriteTo(w); err != nil {
		w.Abort()
		return nil, pathErr("append", p, err)
	}

	return w, nil
}

// WriteFile replaces or creates the file at p with data.
func (f *FS) WriteFile(ctx context.Context, p string, data []byte) (*FileInfo, error) {
	p = metacache.Clean(p)

	parent, err := f.uploadTarget(ctx, "write", p)
	if err != nil {
		return nil, err
	}

	up := f.transfers.NewUpload(parent.ID, p, int64(len(data)), nil)

	item, err := up.Run(ctx, bytes.NewReader(data))
	if err != nil {
		return nil, pathErr("write", p, err)
	}

	return f.remember(item, p), nil
}

// Put uploads the local file at localPath to p. If p is an existing
// directory the file is placed inside it under its local name.
func (f *FS) Put(
	ctx context.Context, localPath, p string, onTransition func(from, to driveops.UploadState),
) (*FileInfo, error) {
	p = metacache.Clean(p)

	if rec, err := f.resolver.Metadata(ctx, p); err == nil && rec.IsDir() {
		p = metacache.Join(p, filepath.Base(localPath))
	}

	parent, err := f.uploadTarget(ctx, "put", p)
	if err != nil {
		return nil, err
	}

	res, err := f.transfers.UploadFile(ctx, localPath, parent.ID, p, driveops.UploadFileOpts{OnTransition: onTransition})
	if err != nil {
		return nil, pathErr("put", p, err)
	}

	return f.remember(res.Item, p), nil
}

// Touch creates an empty file at p if none exists. An existing file is
// truncated when truncate is set; otherwise, as for directories, only its
// modification time is updated.
func (f *FS) Touch(ctx context.Context, p string, truncate bool) (*FileInfo, error) {
	p = metacache.Clean(p)

	rec, err := f.resolver.Metadata(ctx, p)
	if err != nil {
		if notExist(err) {
			return f.WriteFile(ctx, p, nil)
		}

		return nil, pathErr("touch", p, err)
	}

	if truncate && !rec.IsDir() {
		return f.WriteFile(ctx, p, nil)
	}

	item, err := f.api.SetModified(ctx, f.driveID, rec.ID, time.Now())
	if err != nil {
		return nil, pathErr("touch", p, fmt.Errorf("setting modification time: %w", err))
	}

	f.cache.InvalidateListing(metacache.Parent(p))

	return f.remember(item, p), nil
}

// remember caches the record for a freshly written item.
func (f *FS) remember(item *graph.Item, p string) *FileInfo {
	rec := driveops.RecordFromItem(item, p)
	f.cache.Put(rec)

	return NewFileInfo(rec)
}
