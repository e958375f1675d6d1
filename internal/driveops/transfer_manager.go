package driveops

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tonimelisma/graphfs/internal/graph"
	"github.com/tonimelisma/graphfs/internal/metacache"
	"github.com/tonimelisma/graphfs/internal/metrics"
	"github.com/tonimelisma/graphfs/pkg/quickxorhash"
)

// defaultMaxHashRetries is the default number of additional download attempts
// when the content hash doesn't match the remote hash.
const defaultMaxHashRetries = 2

// maxSaneRetries caps MaxHashRetries. Any value above this is almost
// certainly a bug.
const maxSaneRetries = 100

func resolveMaxRetries(configured int) int {
	if configured <= 0 {
		return defaultMaxHashRetries
	}

	return min(configured, maxSaneRetries)
}

// TransferOpts configures a TransferManager.
type TransferOpts struct {
	ChunkSize          int64
	SmallFileThreshold int64
	Blocks             *BlockCache // nil disables block caching
}

// DownloadOpts configures a single download operation.
type DownloadOpts struct {
	MaxHashRetries int  // 0 = use default (2 retries, meaning 3 total download attempts)
	StrictHash     bool // fail with ErrHashMismatch instead of accepting after retries
}

// UploadFileOpts configures a single file upload.
type UploadFileOpts struct {
	OnTransition func(from, to UploadState)
}

// DownloadResult reports the outcome of a successful download.
type DownloadResult struct {
	LocalHash    string
	Size         int64
	Resumed      bool
	HashVerified bool // false when hash retries exhausted and mismatch accepted
}

// UploadResult reports the outcome of a successful upload.
type UploadResult struct {
	Item      *graph.Item
	LocalHash string
	Size      int64
}

// TransferManager moves whole files between the local disk and the drive.
// Downloads land in a .partial file that is resumed on the next attempt,
// verified against the remote QuickXorHash and renamed into place.
type TransferManager struct {
	downloads RangeDownloader
	uploads   SessionUploader
	cache     *metacache.Cache
	driveID   string
	opts      TransferOpts
	logger    *slog.Logger
	hashFunc  func(string) (string, error)
}

// NewTransferManager creates a TransferManager for driveID.
func NewTransferManager(
	dl RangeDownloader, ul SessionUploader, cache *metacache.Cache, driveID string,
	opts TransferOpts, logger *slog.Logger,
) *TransferManager {
	if logger == nil {
		logger = slog.Default()
	}

	return &TransferManager{
		downloads: dl,
		uploads:   ul,
		cache:     cache,
		driveID:   driveID,
		opts:      opts,
		logger:    logger,
		hashFunc:  ComputeQuickXorHash,
	}
}

// OpenReader opens a download cursor on rec using the manager's block cache.
func (tm *TransferManager) OpenReader(ctx context.Context, rec metacache.Record) (*Reader, error) {
	return NewReader(ctx, tm.downloads, tm.driveID, rec, tm.opts.Blocks, tm.logger)
}

// NewUpload prepares an upload of size bytes to p under parentID.
func (tm *TransferManager) NewUpload(parentID, p string, size int64, onTransition func(from, to UploadState)) *Upload {
	return NewUpload(tm.uploads, tm.cache, tm.driveID, UploadOpts{
		ParentID:           parentID,
		Path:               p,
		Size:               size,
		ChunkSize:          tm.opts.ChunkSize,
		SmallFileThreshold: tm.opts.SmallFileThreshold,
		OnTransition:       onTransition,
	}, tm.logger)
}

// DownloadToFile downloads rec to targetPath: write to .partial, resume an
// existing .partial, verify the hash with retry, set mtime, rename into place.
func (tm *TransferManager) DownloadToFile(
	ctx context.Context, rec metacache.Record, targetPath string, opts DownloadOpts,
) (*DownloadResult, error) {
	if targetPath == "" {
		return nil, fmt.Errorf("download: target path must not be empty")
	}

	if rec.IsDir() {
		return nil, fmt.Errorf("download %s: %w", rec.Path, ErrNotAFile)
	}

	tm.logger.Debug("DownloadToFile",
		slog.String("path", rec.Path),
		slog.String("target", targetPath),
		slog.String("item_id", rec.ID),
	)

	if err := os.MkdirAll(filepath.Dir(targetPath), 0o700); err != nil { //nolint:mnd // owner-only dir perms
		return nil, fmt.Errorf("creating parent dir for %s: %w", targetPath, err)
	}

	partialPath := targetPath + ".partial"
	maxRetries := resolveMaxRetries(opts.MaxHashRetries)
	result := &DownloadResult{HashVerified: true}

	// A mismatch discards the partial and downloads from scratch, so a
	// corrupt resumed prefix cannot survive a retry.
	for attempt := range maxRetries + 1 {
		localHash, resumed, err := tm.downloadToPartial(ctx, rec, partialPath)
		if err != nil {
			return nil, err
		}

		result.LocalHash = localHash
		result.Resumed = resumed

		hashErr := VerifyHash(localHash, rec.QuickXorHash)
		if hashErr == nil {
			break
		}

		if attempt < maxRetries {
			os.Remove(partialPath)
			tm.logger.Warn("download hash mismatch, retrying",
				slog.String("target", targetPath),
				slog.Int("attempt", attempt+1),
				slog.String("local_hash", localHash),
				slog.String("remote_hash", rec.QuickXorHash),
			)

			continue
		}

		if opts.StrictHash {
			os.Remove(partialPath)
			return nil, fmt.Errorf("download %s: %w", rec.Path, hashErr)
		}

		tm.logger.Warn("download hash mismatch after all retries, accepting download",
			slog.String("target", targetPath),
			slog.String("local_hash", localHash),
			slog.String("remote_hash", rec.QuickXorHash),
		)

		result.HashVerified = false
	}

	info, err := os.Stat(partialPath)
	if err != nil {
		return nil, fmt.Errorf("stat partial %s: %w", partialPath, err)
	}

	result.Size = info.Size()

	if !rec.ModTime.IsZero() {
		if err := os.Chtimes(partialPath, rec.ModTime, rec.ModTime); err != nil {
			tm.logger.Warn("failed to set mtime on partial",
				slog.String("target", targetPath),
				slog.String("error", err.Error()),
			)
		}
	}

	// On failure the .partial file is kept so the next attempt resumes.
	if err := os.Rename(partialPath, targetPath); err != nil {
		return nil, fmt.Errorf("renaming partial to %s: %w", targetPath, err)
	}

	tm.logger.Info("download complete",
		slog.String("path", rec.Path),
		slog.String("target", targetPath),
		slog.Int64("size", result.Size),
		slog.Bool("resumed", result.Resumed),
	)

	return result, nil
}

// downloadToPartial fills partialPath with rec's content and returns its
// hash. An existing non-empty .partial no longer than the file is resumed
// from its end. The file is opened before stat to avoid racing a removal.
func (tm *TransferManager) downloadToPartial(
	ctx context.Context, rec metacache.Record, partialPath string,
) (string, bool, error) {
	f, err := os.OpenFile(partialPath, os.O_APPEND|os.O_WRONLY, 0o600) //nolint:mnd // owner-only
	if err == nil {
		info, statErr := f.Stat()
		if statErr == nil && info.Size() > 0 && info.Size() <= rec.Size {
			hash, resumeErr := tm.resumeDownload(ctx, rec, f, partialPath, info.Size())
			if resumeErr == nil {
				return hash, true, nil
			}

			if ctx.Err() != nil {
				return "", false, resumeErr
			}

			tm.logger.Warn("resume failed, starting fresh",
				slog.String("path", partialPath),
				slog.String("error", resumeErr.Error()),
			)
		} else {
			f.Close()
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		tm.logger.Warn("cannot open partial file for resume, starting fresh",
			slog.String("path", partialPath), slog.String("error", err.Error()))
	}

	hash, err := tm.freshDownload(ctx, rec, partialPath)

	return hash, false, err
}

// removePartialIfNotCanceled keeps the partial on cancellation so a later
// attempt can resume it.
func removePartialIfNotCanceled(ctx context.Context, path string) {
	if ctx.Err() == nil {
		os.Remove(path)
	}
}

func (tm *TransferManager) freshDownload(ctx context.Context, rec metacache.Record, partialPath string) (string, error) {
	f, err := os.OpenFile(partialPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600) //nolint:mnd // owner-only file perms
	if err != nil {
		return "", fmt.Errorf("creating partial file %s: %w", partialPath, err)
	}

	h := quickxorhash.New()

	if err := tm.copyContent(ctx, rec, io.MultiWriter(f, h)); err != nil {
		f.Close()
		removePartialIfNotCanceled(ctx, partialPath)

		return "", fmt.Errorf("downloading to %s: %w", partialPath, err)
	}

	if err := f.Close(); err != nil {
		os.Remove(partialPath)
		return "", fmt.Errorf("closing partial file %s: %w", partialPath, err)
	}

	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

// copyContent writes all of rec's content to w, in one streamed request when
// the downloader supports it and through a ranged Reader otherwise.
func (tm *TransferManager) copyContent(ctx context.Context, rec metacache.Record, w io.Writer) error {
	if s, ok := tm.downloads.(ContentStreamer); ok {
		n, err := s.Download(ctx, tm.driveID, rec.ID, w)
		if err != nil {
			return fmt.Errorf("driveops: downloading %s: %w", rec.Path, err)
		}

		metrics.RecordDownload(n)

		if n != rec.Size {
			return fmt.Errorf("%w: %s got %d of %d bytes", errShortRead, rec.Path, n, rec.Size)
		}

		return nil
	}

	r, err := tm.OpenReader(ctx, rec)
	if err != nil {
		return err
	}

	_, err = r.WriteTo(w)

	return err
}

// resumeDownload appends from existing onward, then hashes the whole file.
// It always closes f.
func (tm *TransferManager) resumeDownload(
	ctx context.Context, rec metacache.Record, f *os.File, partialPath string, existing int64,
) (string, error) {
	tm.logger.Debug("resuming download from partial file",
		slog.String("path", partialPath),
		slog.Int64("existing_bytes", existing),
	)

	r, err := tm.OpenReader(ctx, rec)
	if err != nil {
		f.Close()
		return "", err
	}

	if _, err := r.Seek(existing, io.SeekStart); err != nil {
		f.Close()
		return "", err
	}

	_, copyErr := r.WriteTo(f)

	if err := f.Close(); err != nil {
		removePartialIfNotCanceled(ctx, partialPath)
		return "", fmt.Errorf("closing partial file %s: %w", partialPath, err)
	}

	if copyErr != nil {
		removePartialIfNotCanceled(ctx, partialPath)
		return "", fmt.Errorf("resuming download to %s: %w", partialPath, copyErr)
	}

	return tm.hashFunc(partialPath)
}

// UploadFile uploads localPath to p under parentID and checks the returned
// QuickXorHash against the local one.
func (tm *TransferManager) UploadFile(
	ctx context.Context, localPath, parentID, p string, opts UploadFileOpts,
) (*UploadResult, error) {
	if localPath == "" {
		return nil, fmt.Errorf("upload: local path must not be empty")
	}

	if parentID == "" {
		return nil, fmt.Errorf("upload: parent ID must not be empty")
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", localPath, err)
	}

	if info.IsDir() {
		return nil, fmt.Errorf("upload %s: %w", localPath, ErrNotAFile)
	}

	localHash, err := tm.hashFunc(localPath)
	if err != nil {
		return nil, fmt.Errorf("hashing %s: %w", localPath, err)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("opening %s for upload: %w", localPath, err)
	}
	defer f.Close()

	up := tm.NewUpload(parentID, p, info.Size(), opts.OnTransition)

	item, err := up.Run(ctx, f)
	if err != nil {
		return nil, err
	}

	if hashErr := VerifyHash(localHash, item.QuickXorHash); hashErr != nil {
		tm.logger.Warn("upload hash mismatch",
			slog.String("path", localPath),
			slog.String("local_hash", localHash),
			slog.String("remote_hash", item.QuickXorHash),
		)
	}

	return &UploadResult{Item: item, LocalHash: localHash, Size: info.Size()}, nil
}
