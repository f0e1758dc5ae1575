// Package repository declares the storage interfaces consumed by the service
// layer. The concrete implementation lives in repository/sqlite; services
// only ever see these interfaces, which is what makes them testable with
// in-memory mocks.
//
// TRANSACTIONAL CONTRACTS:
// A few methods bundle several statements into one transaction on purpose —
// the system's core invariants live in those bundles:
//
//   - CreateClipInQuota: re-checks the owner's clip count and inserts in one
//     transaction, so two concurrent creates can't both take the last slot.
//   - CreateFileDedup: find-by-hash + insert in one transaction, so two
//     concurrent uploads of identical bytes can't mint two physical blobs.
//   - DeleteFile: the remaining-reference count is computed inside the same
//     transaction as the row delete, so the caller's decision to remove the
//     physical blob can't race a concurrent upload's insert.
//   - DeleteClips: an LRU eviction pass is all-or-nothing per user per pass.
package repository

import (
	"context"
	"time"

	"github.com/sakif/cliplru/internal/model"
)

// ClipListOptions filters and paginates an owner's clip listing.
type ClipListOptions struct {
	Limit  int
	Offset int
	Type   model.ClipType // "" = all types
	Search string         // substring match on title and content; "" = no filter
}

// FileListOptions paginates an owner's file listing.
type FileListOptions struct {
	Limit  int
	Offset int
}

// UserCounts is the principal census for the admin stats endpoint.
type UserCounts struct {
	Total     int
	Active    int
	Anonymous int
}

// UserRepository stores principals.
type UserRepository interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserBySessionID(ctx context.Context, sessionID string) (*model.User, error)
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
	ListActiveUsers(ctx context.Context) ([]model.User, error)

	// ListExpiredAnonymousUsers returns anonymous users created before the
	// cutoff that own no pinned clips. Sessions still holding a pin are
	// skipped — pinned clips are never auto-deleted, so their owner has to
	// survive until the pin is removed.
	ListExpiredAnonymousUsers(ctx context.Context, cutoff time.Time) ([]model.User, error)

	// DeleteUserCascade removes the user together with all their clips and
	// file rows, and returns the paths of physical blobs that no longer have
	// any referencing row (the caller unlinks them from disk).
	DeleteUserCascade(ctx context.Context, id string) (orphanedBlobs []string, err error)

	CountUsers(ctx context.Context) (UserCounts, error)
}

// ClipRepository stores clips.
type ClipRepository interface {
	// CreateClipInQuota inserts the clip only if the owner currently holds
	// fewer than maxClips clips; otherwise it returns apperror.ErrQuotaExceeded.
	// Count check and insert happen in a single immediate transaction.
	CreateClipInQuota(ctx context.Context, clip *model.Clip, maxClips int) error

	GetClipByID(ctx context.Context, id string) (*model.Clip, error)
	GetClipByOwner(ctx context.Context, id, ownerID string) (*model.Clip, error)
	GetClipByShareToken(ctx context.Context, token string) (*model.Clip, error)
	ListClipsByOwner(ctx context.Context, ownerID string, opts ClipListOptions) ([]model.Clip, int, error)
	UpdateClip(ctx context.Context, clip *model.Clip) error

	// TouchClipAccess performs the read bookkeeping: access_count++ and
	// last_accessed = at. This is the only mutation a read path makes.
	TouchClipAccess(ctx context.Context, id string, at time.Time) error

	// DeleteClip removes one clip and its associated file rows, returning
	// newly unreferenced blob paths.
	DeleteClip(ctx context.Context, id string) (orphanedBlobs []string, err error)

	// DeleteClips removes a batch of clips (an eviction candidate set) in a
	// single transaction — either every clip in the set is deleted or none.
	DeleteClips(ctx context.Context, ids []string) (orphanedBlobs []string, err error)

	// ListEvictionCandidates returns the owner's non-pinned clips ordered by
	// last_accessed ascending (least recently used first).
	ListEvictionCandidates(ctx context.Context, ownerID string) ([]model.Clip, error)

	CountClipsByOwner(ctx context.Context, ownerID string) (int, error)
	CountPinnedClipsByOwner(ctx context.Context, ownerID string) (int, error)

	// DeleteExpiredClips removes every clip whose expires_at is before now,
	// regardless of pin state.
	DeleteExpiredClips(ctx context.Context, now time.Time) (deleted int, orphanedBlobs []string, err error)

	// DeleteExpiredAnonymousClips removes non-pinned clips owned by anonymous
	// users and created before the cutoff, even when the owning session has
	// not been swept yet.
	DeleteExpiredAnonymousClips(ctx context.Context, cutoff time.Time) (deleted int, orphanedBlobs []string, err error)

	CountClips(ctx context.Context) (int, error)
}

// FileTotals is the blob census for the admin stats endpoint.
type FileTotals struct {
	Count      int
	TotalBytes int64
}

// FileRepository stores content-addressed file metadata.
type FileRepository interface {
	// CreateFileDedup inserts the metadata row, reusing the physical
	// filename/path/size of an existing row with the same hash when there is
	// one. Returns reused=true in that case — the caller then discards its
	// staged temporary copy instead of committing it.
	CreateFileDedup(ctx context.Context, file *model.File) (reused bool, err error)

	GetFileByID(ctx context.Context, id string) (*model.File, error)
	GetFileByOwner(ctx context.Context, id, ownerID string) (*model.File, error)
	ListFilesByOwner(ctx context.Context, ownerID string, opts FileListOptions) ([]model.File, int, error)
	TouchFileDownload(ctx context.Context, id string, at time.Time) error

	// DeleteFile removes the owner's metadata row and reports how many other
	// rows still reference the same hash, plus the blob path. remaining == 0
	// means the caller should unlink the physical blob.
	DeleteFile(ctx context.Context, id, ownerID string) (remaining int, blobPath string, err error)

	// AttachFileToClip sets clip_id on a file the owner holds.
	AttachFileToClip(ctx context.Context, fileID, ownerID, clipID string) error

	SumFileSizeByOwner(ctx context.Context, ownerID string) (int64, error)
	CountFiles(ctx context.Context) (FileTotals, error)
}
