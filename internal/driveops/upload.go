package driveops

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/tonimelisma/graphfs/internal/graph"
	"github.com/tonimelisma/graphfs/internal/metacache"
	"github.com/tonimelisma/graphfs/internal/metrics"
)

// DefaultChunkSize is the session upload chunk size when none is configured
// (10 MiB, a multiple of graph.ChunkAlignment).
const DefaultChunkSize = 32 * graph.ChunkAlignment

// MaxChunkSize is the largest chunk the upload endpoint accepts (60 MiB).
const MaxChunkSize = 192 * graph.ChunkAlignment

// DefaultSmallFileThreshold is the size below which uploads use a single
// request instead of a session.
const DefaultSmallFileThreshold = graph.SimpleUploadMaxSize

// cancelTimeout bounds the background session cancel after an abort.
const cancelTimeout = 30 * time.Second

// ErrSessionAborted is returned by any operation on an aborted upload. The
// remote session is gone; start a new Upload to try again.
var ErrSessionAborted = errors.New("driveops: upload session aborted")

var errSessionExpired = errors.New("upload session expired")

// UploadState is the lifecycle position of an Upload.
type UploadState int

// Upload states. Completed and Aborted are terminal.
const (
	StateNotStarted UploadState = iota
	StateSessionOpen
	StateUploading
	StateCompleted
	StateAborted
)

func (s UploadState) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateSessionOpen:
		return "session_open"
	case StateUploading:
		return "uploading"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("UploadState(%d)", int(s))
	}
}

// UploadOpts configures an Upload.
type UploadOpts struct {
	// ParentID is the item ID of the destination folder.
	ParentID string
	// Path is the destination path; its base name becomes the item name.
	Path string
	// Size is the total upload size, or graph.SizeUnknown.
	Size int64
	// ChunkSize is rounded down to a multiple of graph.ChunkAlignment.
	// Zero selects DefaultChunkSize.
	ChunkSize int64
	// SmallFileThreshold is capped at graph.SimpleUploadMaxSize.
	// Zero selects DefaultSmallFileThreshold.
	SmallFileThreshold int64
	// OnTransition, if set, observes every state change including
	// Uploading -> Uploading for each accepted chunk.
	OnTransition func(from, to UploadState)
}

// Upload drives one file upload through NotStarted -> SessionOpen ->
// Uploading -> Completed, or into Aborted on failure. Chunks must arrive in
// order. An Upload is owned by a single writer; Abort may be called from any
// goroutine and never waits for the network.
type Upload struct {
	api       SessionUploader
	cache     *metacache.Cache
	driveID   string
	parentID  string
	path      string
	name      string
	size      int64
	chunkSize int64
	threshold int64
	observe   func(from, to UploadState)
	logger    *slog.Logger

	now func() time.Time

	mu         sync.Mutex
	state      UploadState
	session    *graph.UploadSession
	offset     int64
	item       *graph.Item
	cancelCall context.CancelFunc // set while a remote call runs
}

// NewUpload prepares an upload into driveID. Completion invalidates the
// target path and its parent listing in cache.
func NewUpload(api SessionUploader, cache *metacache.Cache, driveID string, opts UploadOpts, logger *slog.Logger) *Upload {
	if logger == nil {
		logger = slog.Default()
	}

	p := metacache.Clean(opts.Path)

	return &Upload{
		api:       api,
		cache:     cache,
		driveID:   driveID,
		parentID:  opts.ParentID,
		path:      p,
		name:      metacache.Base(p),
		size:      opts.Size,
		chunkSize: NormalizeChunkSize(opts.ChunkSize),
		threshold: normalizeThreshold(opts.SmallFileThreshold),
		observe:   opts.OnTransition,
		logger:    logger,
		now:       time.Now,
	}
}

// NormalizeChunkSize applies the default and rounds size down to the
// upload alignment, within [graph.ChunkAlignment, MaxChunkSize].
func NormalizeChunkSize(size int64) int64 {
	if size <= 0 {
		return DefaultChunkSize
	}

	size -= size % graph.ChunkAlignment

	return min(max(size, graph.ChunkAlignment), MaxChunkSize)
}

func normalizeThreshold(n int64) int64 {
	if n <= 0 {
		return DefaultSmallFileThreshold
	}

	return min(n, graph.SimpleUploadMaxSize)
}

// State returns the current state.
func (u *Upload) State() UploadState {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.state
}

// Offset returns the next byte offset the session expects.
func (u *Upload) Offset() int64 {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.offset
}

// Item returns the uploaded item once Completed.
func (u *Upload) Item() *graph.Item {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.item
}

// IsSmall reports whether the known size is below the single-request threshold.
func (u *Upload) IsSmall() bool {
	return u.size != graph.SizeUnknown && u.size < u.threshold
}

// setLocked records a transition. Callers hold u.mu.
func (u *Upload) setLocked(to UploadState) {
	from := u.state
	u.state = to

	if u.observe != nil {
		u.observe(from, to)
	}
}

// checkUsableLocked rejects operations on terminal uploads.
func (u *Upload) checkUsableLocked() error {
	switch u.state {
	case StateAborted:
		return ErrSessionAborted
	case StateCompleted:
		return fmt.Errorf("%w: upload of %s already completed", graph.ErrProtocolViolation, u.path)
	default:
		return nil
	}
}

// start runs check under the lock and marks a remote call in flight. The
// returned context is canceled by Abort. The lock is not held while the
// call runs; finish must follow.
func (u *Upload) start(ctx context.Context, check func() error) (context.Context, *graph.UploadSession, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.checkUsableLocked(); err != nil {
		return nil, nil, err
	}

	if err := check(); err != nil {
		return nil, nil, err
	}

	if u.cancelCall != nil {
		return nil, nil, fmt.Errorf("%w: concurrent call on upload of %s", graph.ErrProtocolViolation, u.path)
	}

	callCtx, cancel := context.WithCancel(ctx)
	u.cancelCall = cancel

	return callCtx, u.session, nil
}

// finishLocked ends the call begun by start. It reports false if the upload
// was aborted while the call ran.
func (u *Upload) finishLocked() bool {
	if u.cancelCall != nil {
		u.cancelCall()
		u.cancelCall = nil
	}

	return u.state != StateAborted
}

// failLocked aborts after a remote failure. The error matches both
// ErrSessionAborted and the cause.
func (u *Upload) failLocked(err error, what string) error {
	u.abortLocked()

	return fmt.Errorf("driveops: %s: %w: %w", what, ErrSessionAborted, err)
}

// PutSmall uploads content in one request: NotStarted -> Completed.
func (u *Upload) PutSmall(ctx context.Context, content []byte) (*graph.Item, error) {
	callCtx, _, err := u.start(ctx, func() error {
		if u.state != StateNotStarted {
			return fmt.Errorf("%w: single-request upload after session opened", graph.ErrProtocolViolation)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	item, err := u.api.SimpleUpload(callCtx, u.driveID, u.parentID, u.name, content)

	u.mu.Lock()
	defer u.mu.Unlock()

	if !u.finishLocked() {
		return nil, fmt.Errorf("driveops: uploading %s: %w", u.path, ErrSessionAborted)
	}

	if err != nil {
		return nil, u.failLocked(err, fmt.Sprintf("uploading %s", u.path))
	}

	metrics.RecordUploadBytes(int64(len(content)))
	u.completeLocked(item)

	return item, nil
}

// Open creates the remote session: NotStarted -> SessionOpen. Uploads of
// unknown size request a deferred-commit session. Opening an open session
// is a no-op.
func (u *Upload) Open(ctx context.Context) error {
	u.mu.Lock()
	opened := u.state != StateNotStarted && u.state != StateAborted
	u.mu.Unlock()

	if opened {
		return nil
	}

	callCtx, _, err := u.start(ctx, func() error { return nil })
	if err != nil {
		return err
	}

	session, err := u.api.CreateUploadSession(callCtx, u.driveID, u.parentID, u.name, u.size == graph.SizeUnknown)

	u.mu.Lock()
	defer u.mu.Unlock()

	if !u.finishLocked() {
		if err == nil {
			u.cancelRemote(session)
		}

		return fmt.Errorf("driveops: opening upload session for %s: %w", u.path, ErrSessionAborted)
	}

	if err != nil {
		return u.failLocked(err, fmt.Sprintf("opening upload session for %s", u.path))
	}

	u.session = session
	u.setLocked(StateSessionOpen)

	u.logger.Debug("upload session open",
		slog.String("path", u.path),
		slog.Int64("size", u.size),
		slog.Int64("chunk_size", u.chunkSize),
	)

	return nil
}

// expiredLocked reports whether the server-side session has passed its
// expiration time.
func (u *Upload) expiredLocked() bool {
	return u.session != nil && !u.session.ExpirationTime.IsZero() && !u.now().Before(u.session.ExpirationTime)
}

// WriteChunk sends chunk at offset. offset must equal Offset(); anything
// else fails with graph.ErrProtocolViolation and leaves the state unchanged.
// For a known size, every chunk but the last must be a multiple of
// graph.ChunkAlignment. The item is returned once the last byte of a
// known-size upload is accepted. An expired session aborts the upload.
func (u *Upload) WriteChunk(ctx context.Context, offset int64, chunk []byte) (*graph.Item, error) {
	end := offset + int64(len(chunk))

	callCtx, session, err := u.start(ctx, func() error {
		if u.state == StateNotStarted {
			return fmt.Errorf("%w: chunk written before session opened", graph.ErrProtocolViolation)
		}

		if offset != u.offset {
			return fmt.Errorf("%w: chunk at offset %d, expected %d", graph.ErrProtocolViolation, offset, u.offset)
		}

		if u.size != graph.SizeUnknown {
			if end > u.size {
				return fmt.Errorf("%w: chunk ends at %d past size %d", graph.ErrProtocolViolation, end, u.size)
			}

			if end < u.size && int64(len(chunk))%graph.ChunkAlignment != 0 {
				return fmt.Errorf("%w: chunk length %d not a multiple of %d",
					graph.ErrProtocolViolation, len(chunk), graph.ChunkAlignment)
			}
		}

		if u.expiredLocked() {
			return u.failLocked(errSessionExpired, fmt.Sprintf("uploading %s at offset %d", u.path, offset))
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	item, err := u.api.UploadChunk(callCtx, session, chunk, offset, u.size)

	u.mu.Lock()
	defer u.mu.Unlock()

	if !u.finishLocked() {
		return nil, fmt.Errorf("driveops: uploading %s at offset %d: %w", u.path, offset, ErrSessionAborted)
	}

	if err != nil {
		return nil, u.failLocked(err, fmt.Sprintf("uploading %s at offset %d", u.path, offset))
	}

	metrics.RecordUploadBytes(int64(len(chunk)))

	u.offset = end
	u.setLocked(StateUploading)

	if u.size != graph.SizeUnknown && end == u.size {
		if item == nil {
			u.abortLocked()
			return nil, fmt.Errorf("%w: no item returned for final chunk of %s", graph.ErrProtocolViolation, u.path)
		}

		u.completeLocked(item)
	}

	return item, nil
}

// Commit finalizes a deferred-commit upload of unknown size. For a known-size
// upload it returns the item if every byte has been sent.
func (u *Upload) Commit(ctx context.Context) (*graph.Item, error) {
	u.mu.Lock()
	if u.state == StateCompleted {
		item := u.item
		u.mu.Unlock()

		return item, nil
	}
	u.mu.Unlock()

	callCtx, session, err := u.start(ctx, func() error {
		if u.size != graph.SizeUnknown || u.state != StateUploading {
			return fmt.Errorf("%w: upload of %s incomplete at offset %d", graph.ErrProtocolViolation, u.path, u.offset)
		}

		if u.expiredLocked() {
			return u.failLocked(errSessionExpired, fmt.Sprintf("committing %s", u.path))
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	item, err := u.api.CommitUploadSession(callCtx, session)

	u.mu.Lock()
	defer u.mu.Unlock()

	if !u.finishLocked() {
		return nil, fmt.Errorf("driveops: committing %s: %w", u.path, ErrSessionAborted)
	}

	if err != nil {
		return nil, u.failLocked(err, fmt.Sprintf("committing %s", u.path))
	}

	u.completeLocked(item)

	return item, nil
}

// Abort moves a non-terminal upload to Aborted and returns at once. A remote
// call in flight is canceled, and the remote session is canceled in the
// background.
func (u *Upload) Abort() {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.state == StateCompleted || u.state == StateAborted {
		return
	}

	if u.cancelCall != nil {
		u.cancelCall()
		u.cancelCall = nil
	}

	u.abortLocked()
}

func (u *Upload) abortLocked() {
	session := u.session
	u.session = nil
	u.setLocked(StateAborted)
	metrics.RecordUpload(StateAborted.String())

	u.logger.Warn("upload aborted",
		slog.String("path", u.path),
		slog.Int64("offset", u.offset),
	)

	u.cancelRemote(session)
}

// cancelRemote deletes session without waiting. Failures are only logged;
// the server expires abandoned sessions on its own.
func (u *Upload) cancelRemote(session *graph.UploadSession) {
	if session == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
		defer cancel()

		if err := u.api.CancelUploadSession(ctx, session); err != nil {
			u.logger.Debug("canceling upload session failed",
				slog.String("path", u.path),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// completeLocked records the item and invalidates the target and its
// parent's listing.
func (u *Upload) completeLocked(item *graph.Item) {
	u.item = item
	u.session = nil
	u.setLocked(StateCompleted)
	metrics.RecordUpload(StateCompleted.String())

	u.cache.Invalidate(u.path)
	u.cache.InvalidateListing(metacache.Parent(u.path))

	u.logger.Info("upload complete",
		slog.String("path", u.path),
		slog.String("item_id", item.ID),
		slog.Int64("size", item.Size),
	)
}

// Run uploads everything read from r. Known sizes below the small-file
// threshold take one request; everything else goes through a session in
// ChunkSize pieces. A failure or canceled ctx leaves the upload Aborted.
func (u *Upload) Run(ctx context.Context, r io.Reader) (*graph.Item, error) {
	if u.size == graph.SizeUnknown {
		w := NewWriter(ctx, u)

		if _, err := io.Copy(w, r); err != nil {
			w.Abort()
			return nil, err
		}

		if err := w.Close(); err != nil {
			return nil, err
		}

		return w.Item(), nil
	}

	if u.IsSmall() {
		content, err := io.ReadAll(io.LimitReader(r, u.size+1))
		if err != nil {
			u.Abort()
			return nil, fmt.Errorf("driveops: reading %s: %w", u.path, err)
		}

		if int64(len(content)) != u.size {
			u.Abort()
			return nil, fmt.Errorf("%w: read %d bytes for %s, declared %d",
				graph.ErrProtocolViolation, len(content), u.path, u.size)
		}

		return u.PutSmall(ctx, content)
	}

	if err := u.Open(ctx); err != nil {
		return nil, err
	}

	buf := make([]byte, u.chunkSize)

	for {
		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			item, err := u.WriteChunk(ctx, u.Offset(), buf[:n])
			if err != nil {
				u.Abort()
				return nil, err
			}

			if item != nil {
				return item, nil
			}
		}

		if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
			break
		}

		if readErr != nil {
			u.Abort()
			return nil, fmt.Errorf("driveops: reading %s: %w", u.path, readErr)
		}
	}

	item, err := u.Commit(ctx)
	if err != nil {
		u.Abort()
		return nil, err
	}

	return item, nil
}
