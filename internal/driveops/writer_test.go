package driveops

import (
	"bytes"
	"context"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/graphfs/internal/graph"
)

func newStreamUpload(api *fakeUploader, chunkSize int64) *Upload {
	return NewUpload(api, cacheWithParentListing(), testDrive, UploadOpts{
		ParentID:           "dir",
		Path:               "/dir/stream.bin",
		Size:               graph.SizeUnknown,
		ChunkSize:          chunkSize,
		SmallFileThreshold: graph.ChunkAlignment,
	}, discardLogger())
}

func TestWriter_ShortStreamSingleRequest(t *testing.T) {
	t.Parallel()

	api := &fakeUploader{}
	w := NewWriter(context.Background(), newStreamUpload(api, 0))

	_, err := w.Write([]byte("hello "))
	require.NoError(t, err)
	_, err = w.Write([]byte("world"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.Len(t, api.simple, 1)
	assert.Equal(t, []byte("hello world"), api.simple[0])
	assert.Zero(t, api.sessions)
	assert.Equal(t, StateCompleted, w.Upload().State())
	assert.NotNil(t, w.Item())
}

func TestWriter_EmptyStream(t *testing.T) {
	t.Parallel()

	api := &fakeUploader{}
	w := NewWriter(context.Background(), newStreamUpload(api, 0))
	require.NoError(t, w.Close())

	require.Len(t, api.simple, 1)
	assert.Empty(t, api.simple[0])
}

func TestWriter_LongStreamDeferredCommit(t *testing.T) {
	t.Parallel()

	api := &fakeUploader{}
	chunk := int64(2 * graph.ChunkAlignment)
	w := NewWriter(context.Background(), newStreamUpload(api, chunk))

	data := bytes.Repeat([]byte("x"), int(2*chunk+100))

	// Odd-sized writes to exercise buffering.
	for off := 0; off < len(data); off += 7777 {
		_, err := w.Write(data[off:min(off+7777, len(data))])
		require.NoError(t, err)
	}

	require.NoError(t, w.Close())

	assert.Equal(t, 1, api.sessions)
	assert.True(t, api.deferred)
	assert.Equal(t, 1, api.commits)
	require.Len(t, api.chunks, 3)

	var next int64
	for _, c := range api.chunks {
		assert.Equal(t, next, c.offset)
		assert.Equal(t, int64(graph.SizeUnknown), c.total)
		next += int64(c.length)
	}

	assert.Equal(t, int64(len(data)), next)
	assert.Equal(t, "committed", w.Item().ID)
}

func TestWriter_ChunkFailureSticks(t *testing.T) {
	t.Parallel()

	api := &fakeUploader{failChunk: 1}
	w := NewWriter(context.Background(), newStreamUpload(api, graph.ChunkAlignment))

	_, err := w.Write(make([]byte, 2*graph.ChunkAlignment))
	require.ErrorIs(t, err, graph.ErrUnavailable)

	_, err = w.Write([]byte("more"))
	require.Error(t, err)

	require.ErrorIs(t, w.Close(), graph.ErrUnavailable)
	assert.Equal(t, StateAborted, w.Upload().State())
}

func TestWriter_WriteAfterClose(t *testing.T) {
	t.Parallel()

	w := NewWriter(context.Background(), newStreamUpload(&fakeUploader{}, 0))
	require.NoError(t, w.Close())

	_, err := w.Write([]byte("x"))
	require.ErrorIs(t, err, fs.ErrClosed)
	require.ErrorIs(t, w.Close(), fs.ErrClosed)
}

func TestWriter_Abort(t *testing.T) {
	t.Parallel()

	api := &fakeUploader{}
	w := NewWriter(context.Background(), newStreamUpload(api, graph.ChunkAlignment))

	_, err := w.Write(make([]byte, graph.ChunkAlignment+10))
	require.NoError(t, err)

	w.Abort()
	assert.Equal(t, StateAborted, w.Upload().State())
	assert.Zero(t, api.commits)
}

func TestUpload_RunUnknownSizeUsesWriter(t *testing.T) {
	t.Parallel()

	api := &fakeUploader{}
	up := newStreamUpload(api, graph.ChunkAlignment)

	item, err := up.Run(context.Background(), bytes.NewReader(make([]byte, 3*graph.ChunkAlignment)))
	require.NoError(t, err)
	assert.Equal(t, "committed", item.ID)
	assert.Len(t, api.chunks, 3)
}
