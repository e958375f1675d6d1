package driveops

import (
	"context"
	"fmt"
	"io/fs"

	"github.com/tonimelisma/graphfs/internal/graph"
)

// Writer adapts an Upload to io.WriteCloser. Data is buffered until it
// reaches the small-file threshold; a stream closed before that is sent in
// one request, anything longer goes through a session in ChunkSize pieces.
// Close commits the upload.
type Writer struct {
	ctx    context.Context //nolint:containedctx // io.Writer has no context parameter
	up     *Upload
	buf    []byte
	err    error
	closed bool
}

// NewWriter returns a Writer driving up. ctx bounds every remote call the
// writer makes.
func NewWriter(ctx context.Context, up *Upload) *Writer {
	return &Writer{ctx: ctx, up: up}
}

// Write buffers p and sends any full chunks.
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fs.ErrClosed
	}

	if w.err != nil {
		return 0, w.err
	}

	w.buf = append(w.buf, p...)

	if w.up.State() == StateNotStarted && int64(len(w.buf)) < w.up.threshold {
		return len(p), nil
	}

	if err := w.up.Open(w.ctx); err != nil {
		w.err = err
		return 0, err
	}

	if err := w.flush(false); err != nil {
		return 0, err
	}

	return len(p), nil
}

// flush sends whole chunks, or everything buffered when final is set.
func (w *Writer) flush(final bool) error {
	size := int(w.up.chunkSize)

	for len(w.buf) >= size || (final && len(w.buf) > 0) {
		n := min(len(w.buf), size)

		if _, err := w.up.WriteChunk(w.ctx, w.up.Offset(), w.buf[:n]); err != nil {
			w.up.Abort()
			w.err = err

			return err
		}

		w.buf = w.buf[n:]
	}

	if len(w.buf) == 0 {
		w.buf = nil
	}

	return nil
}

// Close sends the remaining data and commits the upload. Closing twice
// returns fs.ErrClosed.
func (w *Writer) Close() error {
	if w.closed {
		return fs.ErrClosed
	}

	w.closed = true

	if w.err != nil {
		return w.err
	}

	if w.up.State() == StateNotStarted {
		if w.up.size != graph.SizeUnknown && int64(len(w.buf)) != w.up.size {
			w.up.Abort()
			return fmt.Errorf("%w: wrote %d bytes, declared %d", graph.ErrProtocolViolation, len(w.buf), w.up.size)
		}

		_, err := w.up.PutSmall(w.ctx, w.buf)
		w.buf = nil

		return err
	}

	if err := w.flush(true); err != nil {
		return err
	}

	if _, err := w.up.Commit(w.ctx); err != nil {
		w.up.Abort()
		return err
	}

	return nil
}

// Abort discards buffered data and aborts the upload.
func (w *Writer) Abort() {
	w.closed = true
	w.buf = nil
	w.up.Abort()
}

// Item returns the uploaded item after a successful Close.
func (w *Writer) Item() *graph.Item {
	return w.up.Item()
}

// Upload returns the underlying state machine.
func (w *Writer) Upload() *Upload {
	return w.up
}
