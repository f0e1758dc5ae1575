package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/cliplru/internal/apperror"
	"github.com/sakif/cliplru/internal/auth"
	"github.com/sakif/cliplru/internal/model"
	"github.com/sakif/cliplru/internal/repository"
	"github.com/sakif/cliplru/internal/storage"
)

// ClipService owns the clip lifecycle: creation under quota, the
// private/public/encrypted access state machine, share-token resolution,
// and pinning.
type ClipService struct {
	clips     repository.ClipRepository
	files     repository.FileRepository
	blobs     *storage.Store
	retention *RetentionService
	passwords *auth.PasswordService
	logger    *slog.Logger
	now       func() time.Time
}

// NewClipService creates a ClipService.
func NewClipService(
	clips repository.ClipRepository,
	files repository.FileRepository,
	blobs *storage.Store,
	retention *RetentionService,
	passwords *auth.PasswordService,
	logger *slog.Logger,
) *ClipService {
	return &ClipService{
		clips:     clips,
		files:     files,
		blobs:     blobs,
		retention: retention,
		passwords: passwords,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock overrides the service's notion of "now" for tests.
func (s *ClipService) WithClock(now func() time.Time) *ClipService {
	s.now = now
	return s
}

// CreateClipInput carries the caller-supplied fields of a new clip.
type CreateClipInput struct {
	Title       string            `json:"title"`
	Content     string            `json:"content"`
	ClipType    model.ClipType    `json:"clipType"`
	AccessLevel model.AccessLevel `json:"accessLevel"`
	Password    string            `json:"password,omitempty"`
	ExpiresAt   *time.Time        `json:"expiresAt,omitempty"`
	FileIDs     []string          `json:"fileIds,omitempty"`
}

func (in *CreateClipInput) validate(now time.Time) error {
	if strings.TrimSpace(in.Title) == "" {
		return apperror.ValidationFailed("title", "title is required")
	}
	if len(in.Title) > 200 {
		return apperror.ValidationFailed("title", "title must be at most 200 characters")
	}
	if in.ClipType == "" {
		in.ClipType = model.ClipTypeText
	}
	if !in.ClipType.Valid() {
		return apperror.ValidationFailed("clipType", "unknown clip type")
	}
	if in.AccessLevel == "" {
		in.AccessLevel = model.AccessPrivate
	}
	if !in.AccessLevel.Valid() {
		return apperror.ValidationFailed("accessLevel", "unknown access level")
	}
	if in.AccessLevel == model.AccessEncrypted && in.Password == "" {
		return apperror.ValidationFailed("password", "encrypted clips require a password")
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(now) {
		return apperror.ValidationFailed("expiresAt", "expiry must be in the future")
	}
	return nil
}

// Create creates a clip for the user. When the user sits at their clip
// limit, one LRU eviction pass runs first; if eviction frees nothing the
// creation fails with a quota error rather than silently dropping data.
func (s *ClipService) Create(ctx context.Context, user *model.User, in CreateClipInput) (*model.Clip, error) {
	now := s.now().UTC()
	if err := in.validate(now); err != nil {
		return nil, err
	}

	avail, err := s.retention.ClipsAvailable(ctx, user)
	if err != nil {
		return nil, err
	}
	if avail <= 0 {
		deleted, err := s.retention.EvictForUser(ctx, user)
		if err != nil {
			return nil, err
		}
		if deleted == 0 {
			return nil, apperror.QuotaExceeded("clips", int64(user.MaxClips))
		}
	}

	// The repository assigns the ID and creation timestamps on insert.
	clip := &model.Clip{
		OwnerID:      user.ID,
		Title:        in.Title,
		Content:      in.Content,
		ClipType:     in.ClipType,
		AccessLevel:  in.AccessLevel,
		ExpiresAt:    in.ExpiresAt,
		LastAccessed: now,
	}

	// Share token exists iff the clip is reachable without ownership.
	if in.AccessLevel != model.AccessPrivate {
		token, err := auth.NewShareToken()
		if err != nil {
			return nil, fmt.Errorf("generating share token: %w", err)
		}
		clip.ShareToken = token
	}
	if in.AccessLevel == model.AccessEncrypted {
		hash, err := s.passwords.Hash(in.Password)
		if err != nil {
			return nil, err
		}
		clip.PasswordHash = hash
	}

	if err := s.clips.CreateClipInQuota(ctx, clip, user.MaxClips); err != nil {
		return nil, err
	}

	for _, fileID := range in.FileIDs {
		if err := s.files.AttachFileToClip(ctx, fileID, user.ID, clip.ID); err != nil {
			return nil, fmt.Errorf("attaching file %s to clip %s: %w", fileID, clip.ID, err)
		}
	}

	s.logger.Info("clip created",
		slog.String("clipID", clip.ID),
		slog.String("ownerID", user.ID),
		slog.String("accessLevel", string(clip.AccessLevel)),
	)
	return clip, nil
}

// Get fetches a clip on the owner path. Accessing it bumps last_accessed
// and access_count — the read itself is what keeps a clip alive under LRU.
// An expired clip is reported not-found even to its owner.
func (s *ClipService) Get(ctx context.Context, user *model.User, clipID string) (*model.Clip, error) {
	clip, err := s.clips.GetClipByOwner(ctx, clipID, user.ID)
	if err != nil {
		return nil, err
	}
	if clip.Expired(s.now()) {
		return nil, apperror.NotFound("clip", clipID)
	}
	return s.touch(ctx, clip)
}

// GetShared resolves a clip by share token. Private clips have no token so
// they can never arrive here; encrypted clips surface a password challenge
// without leaking any content.
func (s *ClipService) GetShared(ctx context.Context, token string) (*model.Clip, error) {
	clip, err := s.clips.GetClipByShareToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if clip.Expired(s.now()) {
		return nil, apperror.NotFound("clip", token)
	}
	if clip.AccessLevel == model.AccessEncrypted {
		return nil, apperror.PasswordRequired()
	}
	return s.touch(ctx, clip)
}

// AccessEncrypted resolves an encrypted clip by share token and password.
// The password check is constant-time (bcrypt) and a wrong password is
// indistinguishable in timing from a right one.
func (s *ClipService) AccessEncrypted(ctx context.Context, token, password string) (*model.Clip, error) {
	clip, err := s.clips.GetClipByShareToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if clip.Expired(s.now()) {
		return nil, apperror.NotFound("clip", token)
	}
	if clip.AccessLevel != model.AccessEncrypted {
		return nil, apperror.ValidationFailed("accessLevel", "clip is not encrypted")
	}
	if err := s.passwords.Verify(clip.PasswordHash, password); err != nil {
		return nil, apperror.Unauthorized("incorrect password")
	}
	return s.touch(ctx, clip)
}

// ListClipsResult is a page of clips plus paging metadata.
type ListClipsResult struct {
	Clips   []model.Clip `json:"clips"`
	Total   int          `json:"total"`
	Page    int          `json:"page"`
	PerPage int          `json:"perPage"`
	HasNext bool         `json:"hasNext"`
	HasPrev bool         `json:"hasPrev"`
}

// List returns the user's clips, most recently accessed first, optionally
// filtered by type and a title/content substring search.
func (s *ClipService) List(ctx context.Context, user *model.User, page, perPage int, clipType model.ClipType, search string) (*ListClipsResult, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	if clipType != "" && !clipType.Valid() {
		return nil, apperror.ValidationFailed("clipType", "unknown clip type")
	}

	clips, total, err := s.clips.ListClipsByOwner(ctx, user.ID, repository.ClipListOptions{
		Limit:  perPage,
		Offset: (page - 1) * perPage,
		Type:   clipType,
		Search: search,
	})
	if err != nil {
		return nil, fmt.Errorf("listing clips for user %s: %w", user.ID, err)
	}

	return &ListClipsResult{
		Clips:   clips,
		Total:   total,
		Page:    page,
		PerPage: perPage,
		HasNext: page*perPage < total,
		HasPrev: page > 1,
	}, nil
}

// UpdateClipInput carries a partial update. Nil pointer fields are left
// unchanged.
type UpdateClipInput struct {
	Title       *string            `json:"title,omitempty"`
	Content     *string            `json:"content,omitempty"`
	ClipType    *model.ClipType    `json:"clipType,omitempty"`
	AccessLevel *model.AccessLevel `json:"accessLevel,omitempty"`
	Password    *string            `json:"password,omitempty"`
	ExpiresAt   *time.Time         `json:"expiresAt,omitempty"`
}

// Update applies a partial update to an owned clip and drives the access
// state machine:
//
//	→ private:   the share token is revoked; old links go dead permanently
//	→ public:    from private, a fresh token is minted; the password hash
//	             is cleared when leaving encrypted
//	→ encrypted: a password must either be supplied or already be set
//
// Re-sharing a clip that was made private mints a NEW token — tokens are
// never resurrected. A password is only accepted when the clip ends up
// encrypted; on any other clip it is a validation error.
func (s *ClipService) Update(ctx context.Context, user *model.User, clipID string, in UpdateClipInput) (*model.Clip, error) {
	clip, err := s.clips.GetClipByOwner(ctx, clipID, user.ID)
	if err != nil {
		return nil, err
	}
	if clip.Expired(s.now()) {
		return nil, apperror.NotFound("clip", clipID)
	}

	if in.Title != nil {
		if strings.TrimSpace(*in.Title) == "" {
			return nil, apperror.ValidationFailed("title", "title is required")
		}
		if len(*in.Title) > 200 {
			return nil, apperror.ValidationFailed("title", "title must be at most 200 characters")
		}
		clip.Title = *in.Title
	}
	if in.Content != nil {
		clip.Content = *in.Content
	}
	if in.ClipType != nil {
		if !in.ClipType.Valid() {
			return nil, apperror.ValidationFailed("clipType", "unknown clip type")
		}
		clip.ClipType = *in.ClipType
	}
	if in.ExpiresAt != nil {
		if !in.ExpiresAt.After(s.now()) {
			return nil, apperror.ValidationFailed("expiresAt", "expiry must be in the future")
		}
		clip.ExpiresAt = in.ExpiresAt
	}

	// Resolve where the clip is headed before touching the password:
	// password_hash is set iff the clip is encrypted, so a password
	// patch on a clip that isn't (and isn't becoming) encrypted is an
	// error, not something to store for later.
	next := clip.AccessLevel
	if in.AccessLevel != nil {
		if !in.AccessLevel.Valid() {
			return nil, apperror.ValidationFailed("accessLevel", "unknown access level")
		}
		next = *in.AccessLevel
	}

	if in.Password != nil && *in.Password != "" {
		if next != model.AccessEncrypted {
			return nil, apperror.ValidationFailed("password", "passwords apply only to encrypted clips")
		}
		hash, err := s.passwords.Hash(*in.Password)
		if err != nil {
			return nil, err
		}
		clip.PasswordHash = hash
	}

	if next != clip.AccessLevel {
		switch next {
		case model.AccessPrivate:
			clip.ShareToken = ""
			clip.PasswordHash = ""
		case model.AccessPublic:
			if clip.ShareToken == "" {
				token, err := auth.NewShareToken()
				if err != nil {
					return nil, fmt.Errorf("generating share token: %w", err)
				}
				clip.ShareToken = token
			}
			clip.PasswordHash = ""
		case model.AccessEncrypted:
			if clip.PasswordHash == "" {
				return nil, apperror.ValidationFailed("password", "encrypted clips require a password")
			}
			if clip.ShareToken == "" {
				token, err := auth.NewShareToken()
				if err != nil {
					return nil, fmt.Errorf("generating share token: %w", err)
				}
				clip.ShareToken = token
			}
		}
		clip.AccessLevel = next
	}

	clip.UpdatedAt = s.now().UTC()
	if err := s.clips.UpdateClip(ctx, clip); err != nil {
		return nil, err
	}
	return clip, nil
}

// Delete removes an owned clip, its file rows, and any blobs left without
// a referencing row.
func (s *ClipService) Delete(ctx context.Context, user *model.User, clipID string) error {
	if _, err := s.clips.GetClipByOwner(ctx, clipID, user.ID); err != nil {
		return err
	}
	orphaned, err := s.clips.DeleteClip(ctx, clipID)
	if err != nil {
		return err
	}
	if err := s.blobs.RemoveAll(orphaned); err != nil {
		s.logger.Warn("failed to remove orphaned blobs after clip delete",
			slog.String("clipID", clipID),
			slog.String("error", err.Error()),
		)
	}
	s.logger.Info("clip deleted",
		slog.String("clipID", clipID),
		slog.String("ownerID", user.ID),
	)
	return nil
}

// Pin sets or clears the pin flag on an owned clip. Pinned clips are
// exempt from LRU eviction and from the anonymous-session sweep.
func (s *ClipService) Pin(ctx context.Context, user *model.User, clipID string, pinned bool) (*model.Clip, error) {
	clip, err := s.clips.GetClipByOwner(ctx, clipID, user.ID)
	if err != nil {
		return nil, err
	}
	if clip.Expired(s.now()) {
		return nil, apperror.NotFound("clip", clipID)
	}
	clip.IsPinned = pinned
	clip.UpdatedAt = s.now().UTC()
	if err := s.clips.UpdateClip(ctx, clip); err != nil {
		return nil, err
	}
	return clip, nil
}

// touch records an access in the database and mirrors it on the in-memory
// copy so the caller sees the post-access counters.
func (s *ClipService) touch(ctx context.Context, clip *model.Clip) (*model.Clip, error) {
	at := s.now().UTC()
	if err := s.clips.TouchClipAccess(ctx, clip.ID, at); err != nil {
		return nil, fmt.Errorf("recording access on clip %s: %w", clip.ID, err)
	}
	clip.AccessCount++
	clip.LastAccessed = at
	return clip, nil
}
