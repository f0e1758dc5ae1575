package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/cliplru/internal/apperror"
	"github.com/sakif/cliplru/internal/model"
	"github.com/sakif/cliplru/internal/repository"
	"github.com/sakif/cliplru/internal/storage"
)

// FileService owns file uploads, downloads, and deletion. Uploads are
// content-addressed: the blob lands under its sha256 digest, and a second
// upload of the same bytes creates a new row pointing at the existing blob.
type FileService struct {
	files repository.FileRepository
	clips repository.ClipRepository
	blobs *storage.Store

	maxFileSize     int64
	anonMaxFileSize int64

	logger *slog.Logger
	now    func() time.Time
}

// FileLimits carries the per-principal upload size ceilings.
type FileLimits struct {
	MaxFileSize          int64
	AnonymousMaxFileSize int64
}

// NewFileService creates a FileService.
func NewFileService(
	files repository.FileRepository,
	clips repository.ClipRepository,
	blobs *storage.Store,
	limits FileLimits,
	logger *slog.Logger,
) *FileService {
	return &FileService{
		files:           files,
		clips:           clips,
		blobs:           blobs,
		maxFileSize:     limits.MaxFileSize,
		anonMaxFileSize: limits.AnonymousMaxFileSize,
		logger:          logger,
		now:             time.Now,
	}
}

// WithClock overrides the service's notion of "now" for tests.
func (s *FileService) WithClock(now func() time.Time) *FileService {
	s.now = now
	return s
}

// maxSizeFor returns the upload ceiling for the principal type.
func (s *FileService) maxSizeFor(user *model.User) int64 {
	if user.IsAnonymous {
		return s.anonMaxFileSize
	}
	return s.maxFileSize
}

// Upload streams the body to disk, hashes it, enforces the size ceiling
// mid-stream and the storage quota before admitting the row, then commits
// through the dedup path. The staged temp file never survives an error.
//
// Quota accounting is per-reference: a deduplicated upload still charges
// its full size to the uploader.
func (s *FileService) Upload(ctx context.Context, user *model.User, r io.Reader, originalName, mimeType, clipID string) (*model.File, error) {
	originalName = strings.TrimSpace(originalName)
	if originalName == "" {
		return nil, apperror.ValidationFailed("filename", "filename is required")
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	if clipID != "" {
		// Ownership check up front so a bad clip ID fails before any I/O.
		if _, err := s.clips.GetClipByOwner(ctx, clipID, user.ID); err != nil {
			return nil, err
		}
	}

	staged, err := s.blobs.Stage(r, s.maxSizeFor(user))
	if err != nil {
		return nil, err
	}
	defer staged.Discard()

	used, err := s.files.SumFileSizeByOwner(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("summing storage for user %s: %w", user.ID, err)
	}
	if used+staged.Size > user.StorageQuota {
		return nil, apperror.QuotaExceeded("storage", user.StorageQuota)
	}

	file := &model.File{
		OwnerID:          user.ID,
		ClipID:           clipID,
		Filename:         s.blobs.BlobName(staged.Hash, originalName),
		OriginalFilename: originalName,
		FileSize:         staged.Size,
		MimeType:         mimeType,
		FileHash:         staged.Hash,
		FileMetadata:     model.MetadataFromMime(mimeType),
	}
	file.FilePath = s.blobs.Path(file.Filename)

	reused, err := s.createDedup(ctx, file)
	if err != nil {
		return nil, err
	}

	if reused {
		// The row points at an existing blob. Normally the blob is already
		// on disk; re-materialize it only if a past crash lost it.
		if !s.blobs.Exists(file.FilePath) {
			if _, err := s.blobs.Commit(staged, file.Filename); err != nil {
				return nil, fmt.Errorf("re-materializing blob %s: %w", file.Filename, err)
			}
		}
	} else {
		if _, err := s.blobs.Commit(staged, file.Filename); err != nil {
			return nil, fmt.Errorf("committing blob %s: %w", file.Filename, err)
		}
	}

	s.logger.Info("file uploaded",
		slog.String("fileID", file.ID),
		slog.String("ownerID", user.ID),
		slog.Int64("size", file.FileSize),
		slog.Bool("deduplicated", reused),
	)
	return file, nil
}

// createDedup inserts the row, retrying once on a transaction conflict
// before surfacing it.
func (s *FileService) createDedup(ctx context.Context, file *model.File) (bool, error) {
	reused, err := s.files.CreateFileDedup(ctx, file)
	if errors.Is(err, apperror.ErrConflict) {
		reused, err = s.files.CreateFileDedup(ctx, file)
	}
	return reused, err
}

// Get fetches a file's metadata on the owner path.
func (s *FileService) Get(ctx context.Context, user *model.User, fileID string) (*model.File, error) {
	return s.files.GetFileByOwner(ctx, fileID, user.ID)
}

// Download resolves a file for download and returns a reader over its
// bytes. The owner can always download; anyone else only reaches a file
// through a clip that is shared (public or encrypted — the encrypted
// clip's password gate lives on the clip content endpoint, matching how
// attachments of a password-protected paste behave).
func (s *FileService) Download(ctx context.Context, user *model.User, fileID string) (*model.File, io.ReadSeekCloser, error) {
	var file *model.File
	var err error

	if user != nil {
		file, err = s.files.GetFileByOwner(ctx, fileID, user.ID)
		if err != nil && !errors.Is(err, apperror.ErrNotFound) {
			return nil, nil, err
		}
	}

	if file == nil {
		file, err = s.files.GetFileByID(ctx, fileID)
		if err != nil {
			return nil, nil, err
		}
		if err := s.authorizeSharedDownload(ctx, file); err != nil {
			return nil, nil, err
		}
	}

	rc, err := s.blobs.Open(file.FilePath)
	if err != nil {
		return nil, nil, err
	}

	if err := s.files.TouchFileDownload(ctx, file.ID, s.now().UTC()); err != nil {
		rc.Close()
		return nil, nil, fmt.Errorf("recording download on file %s: %w", file.ID, err)
	}
	file.DownloadCount++

	return file, rc, nil
}

// authorizeSharedDownload admits a non-owner download only when the file
// hangs off a shared clip. Everything else is reported as not-found so the
// endpoint doesn't confirm the file exists.
func (s *FileService) authorizeSharedDownload(ctx context.Context, file *model.File) error {
	if file.ClipID == "" {
		return apperror.NotFound("file", file.ID)
	}
	clip, err := s.clips.GetClipByID(ctx, file.ClipID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return apperror.NotFound("file", file.ID)
		}
		return err
	}
	if clip.AccessLevel == model.AccessPrivate || clip.Expired(s.now()) {
		return apperror.NotFound("file", file.ID)
	}
	return nil
}

// ListFilesResult is a page of files plus paging metadata.
type ListFilesResult struct {
	Files   []model.File `json:"files"`
	Total   int          `json:"total"`
	Page    int          `json:"page"`
	PerPage int          `json:"perPage"`
	HasNext bool         `json:"hasNext"`
	HasPrev bool         `json:"hasPrev"`
}

// List returns the user's files, newest first.
func (s *FileService) List(ctx context.Context, user *model.User, page, perPage int) (*ListFilesResult, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	files, total, err := s.files.ListFilesByOwner(ctx, user.ID, repository.FileListOptions{
		Limit:  perPage,
		Offset: (page - 1) * perPage,
	})
	if err != nil {
		return nil, fmt.Errorf("listing files for user %s: %w", user.ID, err)
	}

	return &ListFilesResult{
		Files:   files,
		Total:   total,
		Page:    page,
		PerPage: perPage,
		HasNext: page*perPage < total,
		HasPrev: page > 1,
	}, nil
}

// Delete removes an owned file row; the blob goes too when this was its
// last reference. Losing the row and keeping a stray blob is the tolerable
// failure direction, so the unlink happens after the transaction commits.
func (s *FileService) Delete(ctx context.Context, user *model.User, fileID string) error {
	remaining, blobPath, err := s.files.DeleteFile(ctx, fileID, user.ID)
	if err != nil {
		return err
	}
	if remaining == 0 && blobPath != "" {
		if err := s.blobs.Remove(blobPath); err != nil {
			s.logger.Warn("failed to remove blob after last reference deleted",
				slog.String("fileID", fileID),
				slog.String("path", blobPath),
				slog.String("error", err.Error()),
			)
		}
	}
	s.logger.Info("file deleted",
		slog.String("fileID", fileID),
		slog.String("ownerID", user.ID),
	)
	return nil
}
