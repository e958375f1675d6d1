package graph

import "time"

// ChildCountUnknown indicates the child count was not present in the API response.
const ChildCountUnknown = -1

// Item represents a drive item (file or folder).
// Fields are normalized from the Graph API response; callers never see raw API data.
type Item struct {
	ID           string
	Name         string
	DriveID      string // normalized: lowercase
	ParentID     string
	ParentPath   string // drive-relative, e.g. "/a/b"; empty when the API omits it
	Size         int64
	ETag         string
	CTag         string
	IsFolder     bool
	IsDeleted    bool
	IsRoot       bool
	MimeType     string
	QuickXorHash string // base64-encoded
	SHA1Hash     string // hex (personal accounts only)
	CreatedAt    time.Time
	ModifiedAt   time.Time
	ChildCount   int    // ChildCountUnknown if not present
	DownloadURL  string // pre-authenticated, ephemeral; NEVER log
}

// ChildrenPage is one page of a folder listing.
// NextLink is empty on the last page.
type ChildrenPage struct {
	Items    []Item
	NextLink string
}

// DeltaPage is one page of drive changes. Exactly one of NextLink
// (more pages follow) or DeltaLink (enumeration complete) is set.
type DeltaPage struct {
	Items     []Item
	NextLink  string
	DeltaLink string
}

// UploadSession is an open resumable upload. UploadURL is pre-authenticated
// and must never be logged.
type UploadSession struct {
	UploadURL          string
	ExpirationTime     time.Time
	NextExpectedRanges []string
}

// CopyStatus values reported by an async copy monitor.
const (
	CopyInProgress = "inProgress"
	CopyCompleted  = "completed"
	CopyFailed     = "failed"
)

// CopyProgress is the state of an asynchronous server-side copy.
type CopyProgress struct {
	Status             string
	PercentageComplete float64
	ResourceID         string // new item ID once completed
}
