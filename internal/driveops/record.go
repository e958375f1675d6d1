package driveops

import (
	"github.com/tonimelisma/graphfs/internal/graph"
	"github.com/tonimelisma/graphfs/internal/metacache"
)

// RecordFromItem converts an API item into a cache record stored under p.
// The path is supplied by the caller because the API's parent path is
// optional and not normalized.
func RecordFromItem(item *graph.Item, p string) metacache.Record {
	kind := metacache.KindFile
	if item.IsFolder || item.IsRoot {
		kind = metacache.KindDir
	}

	return metacache.Record{
		ID:           item.ID,
		Path:         p,
		Name:         metacache.Base(p),
		Kind:         kind,
		Size:         item.Size,
		ETag:         item.ETag,
		CTag:         item.CTag,
		QuickXorHash: item.QuickXorHash,
		MimeType:     item.MimeType,
		ModTime:      item.ModifiedAt,
		CreatedAt:    item.CreatedAt,
	}
}

// rootRecord stands in for the drive root before it has been fetched. The
// API accepts "root" as an item ID, so walks can start without a lookup.
func rootRecord() metacache.Record {
	return metacache.Record{
		ID:   graph.RootID,
		Path: metacache.Root,
		Kind: metacache.KindDir,
	}
}
