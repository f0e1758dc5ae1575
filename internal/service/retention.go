// Package service contains the business logic layer of the application.
//
// The layering follows the usual three-layer shape:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (business layer) → validates, enforces policy, orchestrates
//	Repository (data layer)  → reads/writes the database
//
// Every service is an explicitly constructed object holding only its
// configuration and injected collaborators — no package-level singletons.
// The caller (internal/server) wires the dependency graph in one place.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/cliplru/internal/model"
	"github.com/sakif/cliplru/internal/repository"
	"github.com/sakif/cliplru/internal/storage"
)

// RetentionService is the quota and retention engine: it decides whether a
// user may create another clip, runs LRU eviction when they can't, and
// performs the periodic sweep (explicit expiry, anonymous-session TTL).
//
// EVICTION POLICY (per user):
// Non-pinned clips are ordered by last_accessed ascending. If there are
// more than max_clips of them, the oldest (count - max_clips) are the
// eviction candidates — minus any clip created inside the grace window,
// which protects clips created in a burst from dying before they were ever
// read. Eviction is best-effort: if the grace window empties the candidate
// set, creation still fails with quota-exceeded. The grace window protects
// data; it does not guarantee admission.
type RetentionService struct {
	users repository.UserRepository
	clips repository.ClipRepository
	files repository.FileRepository
	blobs *storage.Store

	graceWindow time.Duration
	anonTTL     time.Duration

	logger *slog.Logger
	now    func() time.Time
}

// RetentionConfig carries the retention engine's tunables.
type RetentionConfig struct {
	GraceWindow time.Duration // clips younger than this never get evicted
	AnonTTL     time.Duration // anonymous sessions and their clips expire after this
}

// NewRetentionService creates a RetentionService.
func NewRetentionService(
	users repository.UserRepository,
	clips repository.ClipRepository,
	files repository.FileRepository,
	blobs *storage.Store,
	cfg RetentionConfig,
	logger *slog.Logger,
) *RetentionService {
	return &RetentionService{
		users:       users,
		clips:       clips,
		files:       files,
		blobs:       blobs,
		graceWindow: cfg.GraceWindow,
		anonTTL:     cfg.AnonTTL,
		logger:      logger,
		now:         time.Now,
	}
}

// WithClock overrides the service's notion of "now". Tests use this to step
// through grace windows and TTLs without sleeping.
func (s *RetentionService) WithClock(now func() time.Time) *RetentionService {
	s.now = now
	return s
}

// ClipsAvailable returns how many clip slots the user has left:
// max(0, max_clips - current count).
func (s *RetentionService) ClipsAvailable(ctx context.Context, user *model.User) (int, error) {
	count, err := s.clips.CountClipsByOwner(ctx, user.ID)
	if err != nil {
		return 0, fmt.Errorf("checking clip count for user %s: %w", user.ID, err)
	}
	avail := user.MaxClips - count
	if avail < 0 {
		avail = 0
	}
	return avail, nil
}

// EvictForUser runs one LRU eviction pass for the user and returns how many
// clips it deleted. The candidate set is deleted in a single transaction —
// all-or-nothing — so a conflict can't leave the LRU ordering half-applied.
func (s *RetentionService) EvictForUser(ctx context.Context, user *model.User) (int, error) {
	candidates, err := s.clips.ListEvictionCandidates(ctx, user.ID)
	if err != nil {
		return 0, fmt.Errorf("listing eviction candidates for user %s: %w", user.ID, err)
	}

	excess := len(candidates) - user.MaxClips
	if excess <= 0 {
		return 0, nil
	}

	// Oldest `excess` clips, minus anything inside the grace window.
	cutoff := s.now().Add(-s.graceWindow)
	var ids []string
	for _, clip := range candidates[:excess] {
		if clip.CreatedAt.After(cutoff) {
			continue
		}
		ids = append(ids, clip.ID)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	orphaned, err := s.clips.DeleteClips(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("evicting %d clips for user %s: %w", len(ids), user.ID, err)
	}
	if err := s.blobs.RemoveAll(orphaned); err != nil {
		s.logger.Warn("failed to remove orphaned blobs after eviction",
			slog.String("userID", user.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("evicted clips",
		slog.String("userID", user.ID),
		slog.Int("count", len(ids)),
	)
	return len(ids), nil
}

// SweepUserError records a single user's failed eviction during a sweep.
// One user's failure never aborts the sweep for everyone else.
type SweepUserError struct {
	UserID string `json:"userId"`
	Error  string `json:"error"`
}

// SweepReport aggregates what a retention sweep did.
type SweepReport struct {
	UsersProcessed        int              `json:"usersProcessed"`
	UsersCleaned          int              `json:"usersCleaned"`
	ClipsDeletedLRU       int              `json:"clipsDeletedLru"`
	ClipsDeletedExpired   int              `json:"clipsDeletedExpired"`
	ClipsDeletedAnonymous int              `json:"clipsDeletedAnonymous"`
	UsersDeletedAnonymous int              `json:"usersDeletedAnonymous"`
	TotalDeleted          int              `json:"totalDeleted"`
	Errors                []SweepUserError `json:"errors,omitempty"`
}

// Sweep runs the full retention pass:
//
//  1. per-user LRU eviction for every active user
//  2. deletion of clips whose explicit expires_at has passed
//  3. deletion of expired anonymous sessions (cascading to their clips and
//     files), skipping sessions that still own a pinned clip
//  4. deletion of non-pinned clips owned by not-yet-swept anonymous users
//     past the TTL
//
// It is administrative and idempotent — running it twice back to back does
// nothing the second time.
func (s *RetentionService) Sweep(ctx context.Context) (*SweepReport, error) {
	report := &SweepReport{}

	users, err := s.users.ListActiveUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing users for sweep: %w", err)
	}
	report.UsersProcessed = len(users)

	for _, user := range users {
		deleted, err := s.EvictForUser(ctx, &user)
		if err != nil {
			// Collect and continue — the rest of the users still get swept.
			report.Errors = append(report.Errors, SweepUserError{
				UserID: user.ID,
				Error:  err.Error(),
			})
			continue
		}
		if deleted > 0 {
			report.ClipsDeletedLRU += deleted
			report.UsersCleaned++
		}
	}

	now := s.now()

	expired, orphaned, err := s.clips.DeleteExpiredClips(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("deleting expired clips: %w", err)
	}
	report.ClipsDeletedExpired = expired
	if err := s.blobs.RemoveAll(orphaned); err != nil {
		s.logger.Warn("failed to remove orphaned blobs after expiry sweep",
			slog.String("error", err.Error()))
	}

	cutoff := now.Add(-s.anonTTL)

	anonUsers, err := s.users.ListExpiredAnonymousUsers(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("listing expired anonymous users: %w", err)
	}
	for _, user := range anonUsers {
		paths, err := s.users.DeleteUserCascade(ctx, user.ID)
		if err != nil {
			report.Errors = append(report.Errors, SweepUserError{
				UserID: user.ID,
				Error:  err.Error(),
			})
			continue
		}
		report.UsersDeletedAnonymous++
		if err := s.blobs.RemoveAll(paths); err != nil {
			s.logger.Warn("failed to remove orphaned blobs after session cleanup",
				slog.String("userID", user.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	anonClips, orphaned, err := s.clips.DeleteExpiredAnonymousClips(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("deleting expired anonymous clips: %w", err)
	}
	report.ClipsDeletedAnonymous = anonClips
	if err := s.blobs.RemoveAll(orphaned); err != nil {
		s.logger.Warn("failed to remove orphaned blobs after anonymous clip sweep",
			slog.String("error", err.Error()))
	}

	report.TotalDeleted = report.ClipsDeletedLRU + report.ClipsDeletedExpired + report.ClipsDeletedAnonymous

	s.logger.Info("retention sweep completed",
		slog.Int("usersProcessed", report.UsersProcessed),
		slog.Int("clipsDeletedLRU", report.ClipsDeletedLRU),
		slog.Int("clipsDeletedExpired", report.ClipsDeletedExpired),
		slog.Int("clipsDeletedAnonymous", report.ClipsDeletedAnonymous),
		slog.Int("usersDeletedAnonymous", report.UsersDeletedAnonymous),
		slog.Int("errors", len(report.Errors)),
	)
	return report, nil
}

// StorageStats is the per-user quota report.
type StorageStats struct {
	TotalClips       int     `json:"totalClips"`
	PinnedClips      int     `json:"pinnedClips"`
	UnpinnedClips    int     `json:"unpinnedClips"`
	MaxClips         int     `json:"maxClips"`
	ClipsAvailable   int     `json:"clipsAvailable"`
	StorageUsed      int64   `json:"storageUsed"`
	StorageQuota     int64   `json:"storageQuota"`
	StorageAvailable int64   `json:"storageAvailable"`
	StorageUsagePct  float64 `json:"storageUsagePercent"`
}

// Stats computes the user's quota usage. Storage accounting is
// per-reference: a deduplicated upload is charged to every row that holds
// it, not once per physical blob.
func (s *RetentionService) Stats(ctx context.Context, user *model.User) (*StorageStats, error) {
	total, err := s.clips.CountClipsByOwner(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("counting clips for user %s: %w", user.ID, err)
	}
	pinned, err := s.clips.CountPinnedClipsByOwner(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("counting pinned clips for user %s: %w", user.ID, err)
	}
	used, err := s.files.SumFileSizeByOwner(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("summing storage for user %s: %w", user.ID, err)
	}

	stats := &StorageStats{
		TotalClips:    total,
		PinnedClips:   pinned,
		UnpinnedClips: total - pinned,
		MaxClips:      user.MaxClips,
		StorageUsed:   used,
		StorageQuota:  user.StorageQuota,
	}
	if avail := user.MaxClips - total; avail > 0 {
		stats.ClipsAvailable = avail
	}
	if avail := user.StorageQuota - used; avail > 0 {
		stats.StorageAvailable = avail
	}
	if user.StorageQuota > 0 {
		stats.StorageUsagePct = float64(used) / float64(user.StorageQuota) * 100
	}
	return stats, nil
}

// SystemStats is the aggregate census for the admin endpoint.
type SystemStats struct {
	TotalUsers       int   `json:"totalUsers"`
	ActiveUsers      int   `json:"activeUsers"`
	AnonymousUsers   int   `json:"anonymousUsers"`
	TotalClips       int   `json:"totalClips"`
	TotalFiles       int   `json:"totalFiles"`
	TotalStorageUsed int64 `json:"totalStorageUsed"`
}

// SystemStats aggregates counts across the whole instance.
func (s *RetentionService) SystemStats(ctx context.Context) (*SystemStats, error) {
	userCounts, err := s.users.CountUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting users: %w", err)
	}
	clipCount, err := s.clips.CountClips(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting clips: %w", err)
	}
	fileTotals, err := s.files.CountFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting files: %w", err)
	}

	return &SystemStats{
		TotalUsers:       userCounts.Total,
		ActiveUsers:      userCounts.Active,
		AnonymousUsers:   userCounts.Anonymous,
		TotalClips:       clipCount,
		TotalFiles:       fileTotals.Count,
		TotalStorageUsed: fileTotals.TotalBytes,
	}, nil
}
