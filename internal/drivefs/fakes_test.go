package drivefs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/graphfs/internal/graph"
)

const testDrive = "d1"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func notFound() error {
	return &graph.GraphError{StatusCode: 404, Message: "itemNotFound", Err: graph.ErrNotFound}
}

// memDrive is an in-memory drive implementing API.
type memDrive struct {
	mu       sync.Mutex
	items    map[string]*graph.Item
	content  map[string][]byte
	sessions map[string]*memSession
	nextID   int
	version  int // bumped on every write so tags change with content

	deleted          []string
	permanentDeleted []string
	moves            int
	createCalls      int

	// raceCreate names a folder another client creates just before ours.
	raceCreate string
}

type memSession struct {
	parentID string
	name     string
	data     []byte
}

var _ API = (*memDrive)(nil)

func newMemDrive() *memDrive {
	return &memDrive{
		items: map[string]*graph.Item{
			graph.RootID: {ID: graph.RootID, IsRoot: true, IsFolder: true},
		},
		content:  map[string][]byte{},
		sessions: map[string]*memSession{},
	}
}

func (d *memDrive) newIDLocked() string {
	d.nextID++
	return fmt.Sprintf("id-%d", d.nextID)
}

func (d *memDrive) childLocked(parentID, name string) *graph.Item {
	for _, item := range d.items {
		if item.ParentID == parentID && item.Name == name && !item.IsRoot {
			return item
		}
	}

	return nil
}

func (d *memDrive) childrenLocked(parentID string) []graph.Item {
	var out []graph.Item

	// Insertion order keeps listings stable across calls.
	for i := 1; i <= d.nextID; i++ {
		if item, ok := d.items[fmt.Sprintf("id-%d", i)]; ok && item.ParentID == parentID {
			out = append(out, *item)
		}
	}

	return out
}

func (d *memDrive) putLocked(parentID, name string, folder bool, data []byte) *graph.Item {
	item := d.childLocked(parentID, name)
	if item == nil {
		item = &graph.Item{ID: d.newIDLocked(), Name: name, ParentID: parentID, CreatedAt: time.Now()}
		d.items[item.ID] = item
	}

	item.IsFolder = folder
	item.Size = int64(len(data))
	item.ModifiedAt = time.Now()
	d.version++
	item.ETag = fmt.Sprintf("etag-%s-%d", item.ID, d.version)

	if !folder {
		d.content[item.ID] = append([]byte(nil), data...)
		item.CTag = fmt.Sprintf("ctag-%s-%d", item.ID, d.version)
	}

	cp := *item

	return &cp
}

// mkfile and mkdir seed the tree and return the new ID.
func (d *memDrive) mkfile(parentID, name, data string) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.putLocked(parentID, name, false, []byte(data)).ID
}

func (d *memDrive) mkdir(parentID, name string) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.putLocked(parentID, name, true, nil).ID
}

func (d *memDrive) exists(parentID, name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.childLocked(parentID, name) != nil
}

func (d *memDrive) data(id string) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.content[id]
}

func (d *memDrive) GetItem(_ context.Context, _, itemID string) (*graph.Item, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	item, ok := d.items[itemID]
	if !ok {
		return nil, notFound()
	}

	cp := *item

	return &cp, nil
}

func (d *memDrive) GetChild(_ context.Context, _, parentID, name string) (*graph.Item, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	item := d.childLocked(parentID, name)
	if item == nil {
		return nil, notFound()
	}

	cp := *item

	return &cp, nil
}

func (d *memDrive) ListChildrenPage(_ context.Context, _, parentID, _ string) (*graph.ChildrenPage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.items[parentID]; !ok {
		return nil, notFound()
	}

	return &graph.ChildrenPage{Items: d.childrenLocked(parentID)}, nil
}

func (d *memDrive) SimpleUpload(_ context.Context, _, parentID, name string, content []byte) (*graph.Item, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.putLocked(parentID, name, false, content), nil
}

func (d *memDrive) CreateUploadSession(
	_ context.Context, _, parentID, name string, _ bool,
) (*graph.UploadSession, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	u := fmt.Sprintf("https://upload.test/%d", len(d.sessions)+1)
	d.sessions[u] = &memSession{parentID: parentID, name: name}

	return &graph.UploadSession{UploadURL: u}, nil
}

func (d *memDrive) UploadChunk(
	_ context.Context, session *graph.UploadSession, chunk []byte, offset, total int64,
) (*graph.Item, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := d.sessions[session.UploadURL]
	if int64(len(s.data)) != offset {
		return nil, &graph.GraphError{StatusCode: 416, Message: "bad range", Err: graph.ErrRangeNotSatisfiable}
	}

	s.data = append(s.data, chunk...)

	if total != graph.SizeUnknown && int64(len(s.data)) == total {
		return d.putLocked(s.parentID, s.name, false, s.data), nil
	}

	return nil, nil
}

func (d *memDrive) CommitUploadSession(_ context.Context, session *graph.UploadSession) (*graph.Item, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := d.sessions[session.UploadURL]

	return d.putLocked(s.parentID, s.name, false, s.data), nil
}

func (d *memDrive) CancelUploadSession(_ context.Context, session *graph.UploadSession) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.sessions, session.UploadURL)

	return nil
}

func (d *memDrive) DownloadRange(_ context.Context, _, itemID string, offset, length int64) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	data := d.content[itemID]
	if offset >= int64(len(data)) {
		return []byte{}, nil
	}

	end := min(offset+length, int64(len(data)))

	return append([]byte(nil), data[offset:end]...), nil
}

func (d *memDrive) Delta(_ context.Context, _, _ string) (*graph.DeltaPage, error) {
	return &graph.DeltaPage{DeltaLink: "https://graph.test/delta?token=1"}, nil
}

func (d *memDrive) CopyItem(_ context.Context, _, itemID, newParentID, newName string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	src, ok := d.items[itemID]
	if !ok {
		return "", notFound()
	}

	if d.childLocked(newParentID, newName) != nil {
		return "", &graph.GraphError{StatusCode: 409, Message: "nameAlreadyExists", Err: graph.ErrConflict}
	}

	item := d.putLocked(newParentID, newName, src.IsFolder, d.content[itemID])

	return "https://monitor.test/" + item.ID, nil
}

func (d *memDrive) CopyStatus(_ context.Context, monitorURL string) (*graph.CopyProgress, error) {
	return &graph.CopyProgress{
		Status:             graph.CopyCompleted,
		PercentageComplete: 100,
		ResourceID:         monitorURL[len("https://monitor.test/"):],
	}, nil
}

func (d *memDrive) CreateFolder(_ context.Context, _, parentID, name string) (*graph.Item, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.createCalls++

	if _, ok := d.items[parentID]; !ok {
		return nil, notFound()
	}

	if name == d.raceCreate {
		d.putLocked(parentID, name, true, nil)
	}

	if d.childLocked(parentID, name) != nil {
		return nil, &graph.GraphError{StatusCode: 409, Message: "nameAlreadyExists", Err: graph.ErrConflict}
	}

	return d.putLocked(parentID, name, true, nil), nil
}

func (d *memDrive) MoveItem(_ context.Context, _, itemID, newParentID, newName string) (*graph.Item, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.moves++

	item, ok := d.items[itemID]
	if !ok {
		return nil, notFound()
	}

	if newParentID != "" {
		item.ParentID = newParentID
	}

	if newName != "" {
		item.Name = newName
	}

	cp := *item

	return &cp, nil
}

func (d *memDrive) SetModified(_ context.Context, _, itemID string, mtime time.Time) (*graph.Item, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	item, ok := d.items[itemID]
	if !ok {
		return nil, notFound()
	}

	item.ModifiedAt = mtime
	cp := *item

	return &cp, nil
}

func (d *memDrive) removeLocked(itemID string) {
	for id, item := range d.items {
		if item.ParentID == itemID {
			d.removeLocked(id)
		}
	}

	delete(d.items, itemID)
	delete(d.content, itemID)
}

func (d *memDrive) DeleteItem(_ context.Context, _, itemID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.items[itemID]; !ok {
		return notFound()
	}

	d.deleted = append(d.deleted, itemID)
	d.removeLocked(itemID)

	return nil
}

func (d *memDrive) PermanentDeleteItem(_ context.Context, _, itemID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.items[itemID]; !ok {
		return notFound()
	}

	d.permanentDeleted = append(d.permanentDeleted, itemID)
	d.removeLocked(itemID)

	return nil
}

func newTestFS(t *testing.T, d *memDrive, opts Options) *FS {
	t.Helper()

	opts.DriveID = testDrive

	fsys, err := New(d, opts, discardLogger())
	require.NoError(t, err)

	t.Cleanup(func() { _ = fsys.Close() })

	return fsys
}
