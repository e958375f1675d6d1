package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fileItemJSON = `{
	"id": "F1",
	"name": "report.pdf",
	"size": 1024,
	"eTag": "etag-1",
	"cTag": "ctag-1",
	"createdDateTime": "2024-01-02T03:04:05Z",
	"lastModifiedDateTime": "2024-02-03T04:05:06Z",
	"parentReference": {"id": "P1", "driveId": "ABC123", "path": "/drive/root:/docs/2024"},
	"file": {"mimeType": "application/pdf", "hashes": {"quickXorHash": "qxh=", "sha1Hash": "deadbeef"}}
}`

func TestGetItem_DecodesFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/drives/d1/items/F1", r.URL.Path)
		_, _ = w.Write([]byte(fileItemJSON))
	}))
	defer srv.Close()

	item, err := newTestClient(t, srv.URL).GetItem(context.Background(), "d1", "F1")
	require.NoError(t, err)

	assert.Equal(t, "F1", item.ID)
	assert.Equal(t, "report.pdf", item.Name)
	assert.Equal(t, int64(1024), item.Size)
	assert.Equal(t, "abc123", item.DriveID)
	assert.Equal(t, "P1", item.ParentID)
	assert.Equal(t, "/docs/2024", item.ParentPath)
	assert.False(t, item.IsFolder)
	assert.Equal(t, "application/pdf", item.MimeType)
	assert.Equal(t, "qxh=", item.QuickXorHash)
	assert.Equal(t, 2024, item.ModifiedAt.Year())
	assert.Equal(t, ChildCountUnknown, item.ChildCount)
}

func TestGetItem_RootOfDefaultDrive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/me/drive/items/root", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"R","name":"root","root":{},"folder":{"childCount":3}}`))
	}))
	defer srv.Close()

	item, err := newTestClient(t, srv.URL).GetItem(context.Background(), "", RootID)
	require.NoError(t, err)
	assert.True(t, item.IsRoot)
	assert.True(t, item.IsFolder)
	assert.Equal(t, 3, item.ChildCount)
}

func TestGetChild_UsesPathRelativeAddressing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/drives/d1/items/P1:/my file#1.txt:", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"C1","name":"my file#1.txt","file":{}}`))
	}))
	defer srv.Close()

	item, err := newTestClient(t, srv.URL).GetChild(context.Background(), "d1", "P1", "my file#1.txt")
	require.NoError(t, err)
	assert.Equal(t, "C1", item.ID)
}

func TestGetChild_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).GetChild(context.Background(), "d1", "P1", "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListChildrenPage_FollowsNextLink(t *testing.T) {
	var srvURL string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("$skiptoken") == "" {
			assert.Equal(t, "200", r.URL.Query().Get("$top"))
			fmt.Fprintf(w, `{"value":[{"id":"a","name":"a"}],"@odata.nextLink":"%s/drives/d1/items/P/children?$skiptoken=2"}`, srvURL)

			return
		}

		_, _ = w.Write([]byte(`{"value":[{"id":"b","name":"b"},{"id":"c","name":"c"}]}`))
	}))
	defer srv.Close()

	srvURL = srv.URL
	client := newTestClient(t, srv.URL)

	first, err := client.ListChildrenPage(context.Background(), "d1", "P", "")
	require.NoError(t, err)
	require.Len(t, first.Items, 1)
	require.NotEmpty(t, first.NextLink)

	second, err := client.ListChildrenPage(context.Background(), "d1", "P", first.NextLink)
	require.NoError(t, err)
	assert.Len(t, second.Items, 2)
	assert.Empty(t, second.NextLink)
	assert.Equal(t, []string{"b", "c"}, []string{second.Items[0].ID, second.Items[1].ID})
}

func TestListChildrenPage_ForeignNextLinkIsProtocolViolation(t *testing.T) {
	client := newTestClient(t, "http://graph.invalid/v1.0")

	_, err := client.ListChildrenPage(context.Background(), "d1", "P", "https://evil.example/children?page=2")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProtocolViolation))
}

func TestCreateFolder_FailsOnConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/drives/d1/items/P/children", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "new", body["name"])
		assert.Equal(t, "fail", body["@microsoft.graph.conflictBehavior"])

		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).CreateFolder(context.Background(), "d1", "P", "new")
	assert.True(t, errors.Is(err, ErrConflict))
}

func TestMoveItem_SendsParentAndName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/drives/d1/items/I", r.URL.Path)

		raw, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"parentReference":{"id":"NP"},"name":"renamed"}`, string(raw))

		_, _ = w.Write([]byte(`{"id":"I","name":"renamed","file":{}}`))
	}))
	defer srv.Close()

	item, err := newTestClient(t, srv.URL).MoveItem(context.Background(), "d1", "I", "NP", "renamed")
	require.NoError(t, err)
	assert.Equal(t, "renamed", item.Name)
}

func TestMoveItem_NoChanges(t *testing.T) {
	_, err := newTestClient(t, "http://unused.invalid").MoveItem(context.Background(), "d1", "I", "", "")
	assert.ErrorIs(t, err, ErrMoveNoChanges)
}

func TestSetModified_PatchesFileSystemInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/drives/d1/items/I", r.URL.Path)

		raw, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"fileSystemInfo":{"lastModifiedDateTime":"2024-05-06T07:08:09Z"}}`, string(raw))

		_, _ = w.Write([]byte(`{"id":"I","name":"x","file":{},"lastModifiedDateTime":"2024-05-06T07:08:09Z"}`))
	}))
	defer srv.Close()

	mtime := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

	item, err := newTestClient(t, srv.URL).SetModified(context.Background(), "d1", "I", mtime)
	require.NoError(t, err)
	assert.True(t, item.ModifiedAt.Equal(mtime))
}

func TestDeleteVariants(t *testing.T) {
	var deletes, permanent atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodDelete && r.URL.Path == "/drives/d1/items/I":
			deletes.Add(1)
		case r.Method == http.MethodPost && r.URL.Path == "/drives/d1/items/I/permanentDelete":
			permanent.Add(1)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}

		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	require.NoError(t, client.DeleteItem(context.Background(), "d1", "I"))
	require.NoError(t, client.PermanentDeleteItem(context.Background(), "d1", "I"))
	assert.Equal(t, int32(1), deletes.Load())
	assert.Equal(t, int32(1), permanent.Load())
}

func TestParentPath(t *testing.T) {
	assert.Equal(t, "/", parentPath("/drive/root:"))
	assert.Equal(t, "/a/b c", parentPath("/drives/x/root:/a/b%20c"))
	assert.Equal(t, "", parentPath(""))
}
