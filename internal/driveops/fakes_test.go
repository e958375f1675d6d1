package driveops

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tonimelisma/graphfs/internal/graph"
	"github.com/tonimelisma/graphfs/internal/metacache"
)

const testDrive = "d1"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeDrive is an in-memory drive tree implementing ItemGetter and
// ChildLister, counting every call.
type fakeDrive struct {
	mu       sync.Mutex
	items    map[string]*graph.Item
	children map[string][]string
	pageSize int
	failPage int // 1-based page that fails; 0 = none

	// When childGate is set, GetChild signals childEntered and waits for
	// the gate or its context.
	childEntered chan struct{}
	childGate    chan struct{}

	getItemCalls  int
	getChildCalls int
	listCalls     int
}

func newFakeDrive() *fakeDrive {
	return &fakeDrive{
		items: map[string]*graph.Item{
			graph.RootID: {ID: graph.RootID, IsRoot: true, IsFolder: true},
		},
		children: map[string][]string{},
		pageSize: 200,
	}
}

func (d *fakeDrive) add(parentID, id, name string, folder bool, size int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.items[id] = &graph.Item{
		ID:         id,
		Name:       name,
		ParentID:   parentID,
		IsFolder:   folder,
		Size:       size,
		ETag:       "etag-" + id,
		ModifiedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	d.children[parentID] = append(d.children[parentID], id)
}

func (d *fakeDrive) remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	item := d.items[id]
	delete(d.items, id)

	kids := d.children[item.ParentID]
	for i, k := range kids {
		if k == id {
			d.children[item.ParentID] = append(kids[:i:i], kids[i+1:]...)
			break
		}
	}
}

func (d *fakeDrive) GetItem(_ context.Context, _, itemID string) (*graph.Item, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.getItemCalls++

	item, ok := d.items[itemID]
	if !ok {
		return nil, &graph.GraphError{StatusCode: 404, Message: "itemNotFound", Err: graph.ErrNotFound}
	}

	cp := *item

	return &cp, nil
}

func (d *fakeDrive) GetChild(ctx context.Context, _, parentID, name string) (*graph.Item, error) {
	if d.childGate != nil {
		d.childEntered <- struct{}{}

		select {
		case <-d.childGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.getChildCalls++

	for _, id := range d.children[parentID] {
		if d.items[id].Name == name {
			cp := *d.items[id]
			return &cp, nil
		}
	}

	return nil, &graph.GraphError{StatusCode: 404, Message: "itemNotFound", Err: graph.ErrNotFound}
}

func (d *fakeDrive) ListChildrenPage(_ context.Context, _, parentID, nextLink string) (*graph.ChildrenPage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.listCalls++

	start := 0
	if nextLink != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(nextLink, "https://graph.test/next?skip="))
		if err != nil {
			return nil, fmt.Errorf("%w: bad link %q", graph.ErrProtocolViolation, nextLink)
		}

		start = n
	}

	if d.failPage > 0 && start/d.pageSize+1 == d.failPage {
		return nil, &graph.GraphError{StatusCode: 503, Message: "down", Err: graph.ErrUnavailable}
	}

	kids := d.children[parentID]
	end := min(start+d.pageSize, len(kids))

	page := &graph.ChildrenPage{Items: []graph.Item{}}
	for _, id := range kids[start:end] {
		page.Items = append(page.Items, *d.items[id])
	}

	if end < len(kids) {
		page.NextLink = fmt.Sprintf("https://graph.test/next?skip=%d", end)
	}

	return page, nil
}

func (d *fakeDrive) calls() (getItem, getChild, list int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.getItemCalls, d.getChildCalls, d.listCalls
}

// newABC builds /a/b/c.txt.
func newABC() *fakeDrive {
	d := newFakeDrive()
	d.add(graph.RootID, "id-a", "a", true, 0)
	d.add("id-a", "id-b", "b", true, 0)
	d.add("id-b", "id-c", "c.txt", false, 42)

	return d
}

func newTestResolver(d *fakeDrive, ttl time.Duration) *Resolver {
	return NewResolver(d, testDrive, metacache.New(ttl, discardLogger()), discardLogger())
}

type chunkCall struct {
	offset int64
	length int
	total  int64
}

// fakeUploader implements SessionUploader.
type fakeUploader struct {
	mu         sync.Mutex
	chunks     []chunkCall
	simple     [][]byte
	sessions   int
	deferred   bool
	commits    int
	canceled   int
	failChunk  int // 1-based chunk that fails; 0 = none
	failCreate bool
	expires    time.Time // session expiration; zero = none

	// When release is set, UploadChunk signals entered and then waits for
	// release or its context.
	entered chan struct{}
	release chan struct{}
}

func (f *fakeUploader) SimpleUpload(_ context.Context, _, _, name string, content []byte) (*graph.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.simple = append(f.simple, append([]byte(nil), content...))

	return &graph.Item{ID: "new-" + name, Name: name, Size: int64(len(content))}, nil
}

func (f *fakeUploader) CreateUploadSession(
	_ context.Context, _, _, _ string, deferCommit bool,
) (*graph.UploadSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failCreate {
		return nil, &graph.GraphError{StatusCode: 409, Message: "conflict", Err: graph.ErrConflict}
	}

	f.sessions++
	f.deferred = deferCommit

	return &graph.UploadSession{UploadURL: "https://upload.test/session", ExpirationTime: f.expires}, nil
}

func (f *fakeUploader) UploadChunk(
	ctx context.Context, _ *graph.UploadSession, chunk []byte, offset, total int64,
) (*graph.Item, error) {
	if f.release != nil {
		f.entered <- struct{}{}

		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.chunks = append(f.chunks, chunkCall{offset: offset, length: len(chunk), total: total})

	if f.failChunk == len(f.chunks) {
		return nil, &graph.GraphError{StatusCode: 503, Message: "down", Err: graph.ErrUnavailable}
	}

	if total != graph.SizeUnknown && offset+int64(len(chunk)) == total {
		return &graph.Item{ID: "uploaded", Size: total}, nil
	}

	return nil, nil
}

func (f *fakeUploader) CommitUploadSession(_ context.Context, _ *graph.UploadSession) (*graph.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.commits++

	var size int64
	for _, c := range f.chunks {
		size += int64(c.length)
	}

	return &graph.Item{ID: "committed", Size: size}, nil
}

func (f *fakeUploader) CancelUploadSession(_ context.Context, _ *graph.UploadSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.canceled++

	return nil
}

func (f *fakeUploader) chunkCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.chunks)
}

func (f *fakeUploader) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.canceled
}

// fakeContent implements RangeDownloader over a byte slice.
type fakeContent struct {
	mu      sync.Mutex
	data    []byte
	calls   []chunkCall
	corrupt int // number of leading calls whose first byte is flipped
}

func (f *fakeContent) DownloadRange(_ context.Context, _, _ string, offset, length int64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, chunkCall{offset: offset, length: int(length)})

	if offset >= int64(len(f.data)) {
		return []byte{}, nil
	}

	end := min(offset+length, int64(len(f.data)))
	out := append([]byte(nil), f.data[offset:end]...)

	if f.corrupt > 0 && len(out) > 0 {
		f.corrupt--
		out[0] ^= 0xFF
	}

	return out, nil
}

func (f *fakeContent) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.calls)
}

// streamingContent adds whole-file streaming to fakeContent. The stream
// stops short by truncate bytes.
type streamingContent struct {
	*fakeContent
	streams  int
	truncate int
}

func (s *streamingContent) Download(_ context.Context, _, _ string, w io.Writer) (int64, error) {
	s.mu.Lock()
	s.streams++
	data := s.data[:len(s.data)-s.truncate]
	s.mu.Unlock()

	n, err := w.Write(data)

	return int64(n), err
}

func (s *streamingContent) streamCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.streams
}

func bytesReader(b []byte) io.Reader {
	return strings.NewReader(string(b))
}
