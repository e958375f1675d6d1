package driveops

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/tonimelisma/graphfs/internal/metacache"
	"github.com/tonimelisma/graphfs/internal/metrics"
)

// Reader is a download cursor over one file. Each read is a ranged request
// for the bytes at the cursor; the cursor advances by what was returned.
// Reading at or past the end yields no data and no error from Next, and
// io.EOF from Read. A Reader is not safe for concurrent use.
type Reader struct {
	ctx     context.Context //nolint:containedctx // io.Reader has no context parameter
	api     RangeDownloader
	driveID string
	rec     metacache.Record
	blocks  *BlockCache
	logger  *slog.Logger
	offset  int64
}

// NewReader opens a cursor on rec, which must be a file. blocks may be nil.
// ctx is used by Read, Seek and ReadAt; Next takes its own.
func NewReader(
	ctx context.Context, api RangeDownloader, driveID string, rec metacache.Record, blocks *BlockCache, logger *slog.Logger,
) (*Reader, error) {
	if rec.IsDir() {
		return nil, fmt.Errorf("driveops: opening %s: %w", rec.Path, ErrNotAFile)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Reader{
		ctx:     ctx,
		api:     api,
		driveID: driveID,
		rec:     rec,
		blocks:  blocks,
		logger:  logger,
	}, nil
}

// Size returns the file size captured at open.
func (r *Reader) Size() int64 {
	return r.rec.Size
}

// Record returns the metadata the cursor was opened with.
func (r *Reader) Record() metacache.Record {
	return r.rec
}

// Offset returns the cursor position.
func (r *Reader) Offset() int64 {
	return r.offset
}

// Next returns up to n bytes at the cursor and advances past them.
func (r *Reader) Next(ctx context.Context, n int) ([]byte, error) {
	data, err := r.readAt(ctx, r.offset, int64(n))
	if err != nil {
		return nil, err
	}

	r.offset += int64(len(data))

	return data, nil
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	data, err := r.Next(r.ctx, len(p))
	if err != nil {
		return 0, err
	}

	if len(data) == 0 {
		return 0, io.EOF
	}

	return copy(p, data), nil
}

// Seek implements io.Seeker. Seeking past the end is allowed.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	var abs int64

	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = r.offset + offset
	case io.SeekEnd:
		abs = r.rec.Size + offset
	default:
		return 0, fmt.Errorf("driveops: seek %s: invalid whence %d", r.rec.Path, whence)
	}

	if abs < 0 {
		return 0, fmt.Errorf("driveops: seek %s: negative position %d", r.rec.Path, abs)
	}

	r.offset = abs

	return abs, nil
}

// ReadAt implements io.ReaderAt without moving the cursor.
func (r *Reader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("driveops: read %s: negative offset %d", r.rec.Path, off)
	}

	total := 0

	for total < len(p) {
		data, err := r.readAt(r.ctx, off+int64(total), int64(len(p)-total))
		if err != nil {
			return total, err
		}

		if len(data) == 0 {
			return total, io.EOF
		}

		total += copy(p[total:], data)
	}

	return total, nil
}

// Close discards the cursor.
func (r *Reader) Close() error {
	return nil
}

func (r *Reader) readAt(ctx context.Context, off, n int64) ([]byte, error) {
	if n <= 0 || off >= r.rec.Size {
		return []byte{}, nil
	}

	n = min(n, r.rec.Size-off)

	if r.blocks != nil {
		return r.readBlocks(ctx, off, n)
	}

	data, err := r.api.DownloadRange(ctx, r.driveID, r.rec.ID, off, n)
	if err != nil {
		return nil, fmt.Errorf("driveops: reading %s at %d: %w", r.rec.Path, off, err)
	}

	metrics.RecordDownload(int64(len(data)))

	return data, nil
}

// readBlocks assembles [off, off+n) from whole cached blocks.
func (r *Reader) readBlocks(ctx context.Context, off, n int64) ([]byte, error) {
	bs := r.blocks.blockSize
	out := make([]byte, 0, n)

	for int64(len(out)) < n {
		pos := off + int64(len(out))
		index := pos / bs

		block, err := r.block(ctx, index)
		if err != nil {
			return nil, err
		}

		start := pos - index*bs
		if start >= int64(len(block)) {
			break
		}

		end := min(int64(len(block)), start+n-int64(len(out)))
		out = append(out, block[start:end]...)

		if int64(len(block)) < bs {
			break
		}
	}

	return out, nil
}

func (r *Reader) block(ctx context.Context, index int64) ([]byte, error) {
	key := blockKey(r.rec.ID, r.rec.ETag, index)

	if data, ok := r.blocks.get(key); ok {
		metrics.RecordCacheLookup("block", true)
		return data, nil
	}

	metrics.RecordCacheLookup("block", false)

	bs := r.blocks.blockSize

	data, err := r.api.DownloadRange(ctx, r.driveID, r.rec.ID, index*bs, bs)
	if err != nil {
		return nil, fmt.Errorf("driveops: reading %s block %d: %w", r.rec.Path, index, err)
	}

	metrics.RecordDownload(int64(len(data)))

	r.logger.Debug("fetched block",
		slog.String("path", r.rec.Path),
		slog.Int64("block", index),
		slog.Int("bytes", len(data)),
	)

	if len(data) > 0 {
		r.blocks.put(key, data)
	}

	return data, nil
}

// errShortRead is returned when a whole-file copy ends before the size
// recorded at open.
var errShortRead = errors.New("driveops: content shorter than recorded size")

// WriteTo implements io.WriterTo, streaming from the cursor to w in 8 MiB
// requests.
func (r *Reader) WriteTo(w io.Writer) (int64, error) {
	const chunk = 8 << 20

	var written int64

	for {
		data, err := r.Next(r.ctx, chunk)
		if err != nil {
			return written, err
		}

		if len(data) == 0 {
			if r.offset < r.rec.Size {
				return written, fmt.Errorf("%w: %s at %d of %d", errShortRead, r.rec.Path, r.offset, r.rec.Size)
			}

			return written, nil
		}

		n, err := w.Write(data)
		written += int64(n)

		if err != nil {
			return written, err
		}
	}
}
