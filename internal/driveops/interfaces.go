package driveops

import (
	"context"
	"io"

	"github.com/tonimelisma/graphfs/internal/graph"
)

// ItemGetter fetches single items by ID or by parent and name.
// Satisfied by *graph.Client.
type ItemGetter interface {
	GetItem(ctx context.Context, driveID, itemID string) (*graph.Item, error)
	GetChild(ctx context.Context, driveID, parentID, name string) (*graph.Item, error)
}

// ChildLister fetches one page of a folder's children.
type ChildLister interface {
	ListChildrenPage(ctx context.Context, driveID, parentID, nextLink string) (*graph.ChildrenPage, error)
}

// SessionUploader covers both the single-request upload and the resumable
// session lifecycle.
type SessionUploader interface {
	SimpleUpload(ctx context.Context, driveID, parentID, name string, content []byte) (*graph.Item, error)
	CreateUploadSession(ctx context.Context, driveID, parentID, name string, deferCommit bool) (*graph.UploadSession, error)
	UploadChunk(ctx context.Context, session *graph.UploadSession, chunk []byte, offset, total int64) (*graph.Item, error)
	CommitUploadSession(ctx context.Context, session *graph.UploadSession) (*graph.Item, error)
	CancelUploadSession(ctx context.Context, session *graph.UploadSession) error
}

// RangeDownloader reads a byte range of an item's content. Offsets at or past
// the end return an empty slice.
type RangeDownloader interface {
	DownloadRange(ctx context.Context, driveID, itemID string, offset, length int64) ([]byte, error)
}

// ContentStreamer streams an item's whole content in one request. A
// RangeDownloader that also implements it is used this way for fresh
// whole-file downloads.
type ContentStreamer interface {
	Download(ctx context.Context, driveID, itemID string, w io.Writer) (int64, error)
}

// DeltaSource returns one page of drive changes.
type DeltaSource interface {
	Delta(ctx context.Context, driveID, link string) (*graph.DeltaPage, error)
}

// ItemCopier starts server-side copies and polls their monitors.
type ItemCopier interface {
	CopyItem(ctx context.Context, driveID, itemID, newParentID, newName string) (string, error)
	CopyStatus(ctx context.Context, monitorURL string) (*graph.CopyProgress, error)
}
