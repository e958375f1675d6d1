package drivefs

import (
	"context"
	"errors"
	"io"

	"github.com/tonimelisma/graphfs/internal/driveops"
	"github.com/tonimelisma/graphfs/internal/metacache"
)

// Info returns metadata for p.
func (f *FS) Info(ctx context.Context, p string) (*FileInfo, error) {
	p = metacache.Clean(p)

	rec, err := f.stat(ctx, "stat", p)
	if err != nil {
		return nil, err
	}

	return NewFileInfo(rec), nil
}

// Ls lists the directory p in server order. Listing a file returns that
// file alone.
func (f *FS) Ls(ctx context.Context, p string) ([]*FileInfo, error) {
	p = metacache.Clean(p)

	rec, err := f.stat(ctx, "ls", p)
	if err != nil {
		return nil, err
	}

	if !rec.IsDir() {
		return []*FileInfo{NewFileInfo(rec)}, nil
	}

	recs, err := f.lister.List(ctx, p)
	if err != nil {
		return nil, pathErr("ls", p, err)
	}

	return infos(recs), nil
}

// Exists reports whether p names an item. Only "not found" style failures
// yield false without an error.
func (f *FS) Exists(ctx context.Context, p string) (bool, error) {
	p = metacache.Clean(p)

	_, err := f.resolver.Metadata(ctx, p)
	switch {
	case err == nil:
		return true, nil
	case notExist(err), errors.Is(err, driveops.ErrNotADirectory):
		return false, nil
	default:
		return false, pathErr("exists", p, err)
	}
}

// Open returns a read cursor on the file at p.
func (f *FS) Open(ctx context.Context, p string) (*driveops.Reader, error) {
	p = metacache.Clean(p)

	rec, err := f.stat(ctx, "open", p)
	if err != nil {
		return nil, err
	}

	r, err := f.transfers.OpenReader(ctx, rec)
	if err != nil {
		return nil, pathErr("open", p, err)
	}

	return r, nil
}

// Cat returns the whole content of the file at p.
func (f *FS) Cat(ctx context.Context, p string) ([]byte, error) {
	r, err := f.Open(ctx, p)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, pathErr("cat", r.Record().Path, err)
	}

	return data, nil
}

// Get downloads the file at p to localPath, verifying its hash.
func (f *FS) Get(ctx context.Context, p, localPath string, opts driveops.DownloadOpts) (*driveops.DownloadResult, error) {
	p = metacache.Clean(p)

	rec, err := f.stat(ctx, "get", p)
	if err != nil {
		return nil, err
	}

	res, err := f.transfers.DownloadToFile(ctx, rec, localPath, opts)
	if err != nil {
		return nil, pathErr("get", p, err)
	}

	return res, nil
}
