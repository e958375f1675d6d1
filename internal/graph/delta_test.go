package graph

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelta_PagesAndDedupes(t *testing.T) {
	var srvURL string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("token") {
		case "":
			assert.Equal(t, "/drives/d1/root/delta", r.URL.Path)
			fmt.Fprintf(w, `{"value":[{"id":"a","name":"old%%20name"}],"@odata.nextLink":"%s/drives/d1/root/delta?token=p2"}`, srvURL)
		case "p2":
			fmt.Fprintf(w, `{"value":[{"id":"a","name":"new"},{"id":"b","name":"b","deleted":{}}],"@odata.deltaLink":"%s/drives/d1/root/delta?token=next"}`, srvURL)
		default:
			t.Errorf("unexpected token %q", r.URL.Query().Get("token"))
		}
	}))
	defer srv.Close()

	srvURL = srv.URL
	client := newTestClient(t, srv.URL)

	first, err := client.Delta(context.Background(), "d1", "")
	require.NoError(t, err)
	require.NotEmpty(t, first.NextLink)
	assert.Empty(t, first.DeltaLink)
	require.Len(t, first.Items, 1)
	assert.Equal(t, "old name", first.Items[0].Name)

	second, err := client.Delta(context.Background(), "d1", first.NextLink)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/drives/d1/root/delta?token=next", second.DeltaLink)

	require.Len(t, second.Items, 2, "dedup is per page")
	assert.Equal(t, "new", second.Items[0].Name)
	assert.True(t, second.Items[1].IsDeleted)
}

func TestDelta_ExpiredTokenIsGone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	_, err := client.Delta(context.Background(), "d1", srv.URL+"/drives/d1/root/delta?token=old")
	assert.True(t, errors.Is(err, ErrGone))
}

func TestDelta_PageWithoutLinksIsProtocolViolation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"value":[]}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Delta(context.Background(), "d1", "")
	assert.True(t, errors.Is(err, ErrProtocolViolation))
}

func TestDeduplicateItems_KeepsLast(t *testing.T) {
	items := []Item{{ID: "a", Name: "1"}, {ID: "b"}, {ID: "a", Name: "2"}}

	got := deduplicateItems(items, newTestClient(t, "http://unused.invalid").logger)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "2", got[1].Name)
}
