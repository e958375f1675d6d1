package drivefs

import (
	"io/fs"
	"time"

	"github.com/tonimelisma/graphfs/internal/metacache"
)

// FileInfo describes a drive item. It implements fs.FileInfo; Sys returns
// the underlying metacache.Record.
type FileInfo struct {
	rec metacache.Record
}

var _ fs.FileInfo = (*FileInfo)(nil)

// NewFileInfo wraps a metadata record, such as one returned by
// driveops.Reader.Record.
func NewFileInfo(rec metacache.Record) *FileInfo {
	return &FileInfo{rec: rec}
}

func (fi *FileInfo) Name() string {
	if fi.rec.Path == metacache.Root {
		return metacache.Root
	}

	return fi.rec.Name
}

func (fi *FileInfo) Size() int64 { return fi.rec.Size }

// Mode reports 0o755 for directories and 0o644 for files. The drive has no
// POSIX permissions; these are placeholders.
func (fi *FileInfo) Mode() fs.FileMode {
	if fi.rec.IsDir() {
		return fs.ModeDir | 0o755 //nolint:mnd // conventional directory mode
	}

	return 0o644 //nolint:mnd // conventional file mode
}

func (fi *FileInfo) ModTime() time.Time { return fi.rec.ModTime }

func (fi *FileInfo) IsDir() bool { return fi.rec.IsDir() }

func (fi *FileInfo) Sys() any { return fi.rec }

// Path returns the normalized drive path.
func (fi *FileInfo) Path() string { return fi.rec.Path }

// ID returns the drive item ID.
func (fi *FileInfo) ID() string { return fi.rec.ID }

// ETag returns the item's entity tag.
func (fi *FileInfo) ETag() string { return fi.rec.ETag }

// CTag returns the item's content tag. Unlike the ETag it changes only
// when the content changes, not on rename or metadata edits.
func (fi *FileInfo) CTag() string { return fi.rec.CTag }

// QuickXorHash returns the base64 content hash, empty for folders.
func (fi *FileInfo) QuickXorHash() string { return fi.rec.QuickXorHash }

// MimeType returns the content type the drive reports for files.
func (fi *FileInfo) MimeType() string { return fi.rec.MimeType }

// CreatedAt returns the creation time.
func (fi *FileInfo) CreatedAt() time.Time { return fi.rec.CreatedAt }

func infos(recs []metacache.Record) []*FileInfo {
	out := make([]*FileInfo, len(recs))
	for i, rec := range recs {
		out[i] = NewFileInfo(rec)
	}

	return out
}
