package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/cliplru/internal/apperror"
	"github.com/sakif/cliplru/internal/model"
	"github.com/sakif/cliplru/internal/repository"
)

// compile-time check that *DB implements repository.ClipRepository
var _ repository.ClipRepository = (*DB)(nil)

const clipColumns = `id, owner_id, title, content, clip_type, access_level,
	password_hash, share_token, is_pinned, access_count, last_accessed,
	created_at, updated_at, expires_at`

// CreateClipInQuota inserts the clip only while the owner is under their
// item quota. Count and insert share one transaction, so two concurrent
// creates racing for the last slot serialise — one commits, the other sees
// the updated count and gets ErrQuotaExceeded.
func (db *DB) CreateClipInQuota(ctx context.Context, clip *model.Clip, maxClips int) error {
	clip.ID = xid.New().String()
	now := time.Now()
	clip.CreatedAt = now
	clip.UpdatedAt = now
	if clip.LastAccessed.IsZero() {
		clip.LastAccessed = now
	}

	return db.withTx(ctx, func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM clips WHERE owner_id = ?`, clip.OwnerID,
		).Scan(&count); err != nil {
			return fmt.Errorf("sqlite: counting clips for owner %s: %w", clip.OwnerID, err)
		}
		if count >= maxClips {
			return apperror.QuotaExceeded("clips", int64(maxClips))
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO clips (id, owner_id, title, content, clip_type, access_level,
			                    password_hash, share_token, is_pinned, access_count,
			                    last_accessed, created_at, updated_at, expires_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			clip.ID,
			clip.OwnerID,
			clip.Title,
			clip.Content,
			string(clip.ClipType),
			string(clip.AccessLevel),
			nullable(clip.PasswordHash),
			nullable(clip.ShareToken),
			clip.IsPinned,
			clip.AccessCount,
			clip.LastAccessed,
			clip.CreatedAt,
			clip.UpdatedAt,
			nullableTime(clip.ExpiresAt),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return apperror.Conflict("clip", clip.ID)
			}
			return fmt.Errorf("sqlite: creating clip: %w", err)
		}
		return nil
	})
}

func (db *DB) GetClipByID(ctx context.Context, id string) (*model.Clip, error) {
	return db.getClipWhere(ctx, "id = ?", id)
}

func (db *DB) GetClipByOwner(ctx context.Context, id, ownerID string) (*model.Clip, error) {
	return db.getClipWhere(ctx, "id = ? AND owner_id = ?", id, ownerID)
}

func (db *DB) GetClipByShareToken(ctx context.Context, token string) (*model.Clip, error) {
	return db.getClipWhere(ctx, "share_token = ?", token)
}

func (db *DB) getClipWhere(ctx context.Context, where string, args ...any) (*model.Clip, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+clipColumns+` FROM clips WHERE `+where, args...)

	clip, err := scanClip(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("clip", fmt.Sprint(args[0]))
		}
		return nil, fmt.Errorf("sqlite: fetching clip: %w", err)
	}
	return clip, nil
}

// ListClipsByOwner returns one page of the owner's clips ordered by
// last_accessed descending (most recently used first), plus the unpaged
// total for the caller's pagination arithmetic.
func (db *DB) ListClipsByOwner(ctx context.Context, ownerID string, opts repository.ClipListOptions) ([]model.Clip, int, error) {
	where := []string{"owner_id = ?"}
	args := []any{ownerID}

	if opts.Type != "" {
		where = append(where, "clip_type = ?")
		args = append(args, string(opts.Type))
	}
	if opts.Search != "" {
		where = append(where, "(title LIKE ? OR content LIKE ?)")
		pattern := "%" + opts.Search + "%"
		args = append(args, pattern, pattern)
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM clips WHERE `+cond, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("sqlite: counting clips: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+clipColumns+` FROM clips WHERE `+cond+`
		 ORDER BY last_accessed DESC LIMIT ? OFFSET ?`,
		append(args, opts.Limit, opts.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("sqlite: listing clips: %w", err)
	}
	defer rows.Close()

	clips, err := collectClips(rows)
	if err != nil {
		return nil, 0, err
	}
	return clips, total, nil
}

// UpdateClip writes every mutable clip field back. The service layer owns
// the access-level state machine; this method just persists the result.
func (db *DB) UpdateClip(ctx context.Context, clip *model.Clip) error {
	clip.UpdatedAt = time.Now()

	res, err := db.conn.ExecContext(ctx,
		`UPDATE clips
		 SET title = ?, content = ?, clip_type = ?, access_level = ?,
		     password_hash = ?, share_token = ?, is_pinned = ?,
		     updated_at = ?, expires_at = ?
		 WHERE id = ?`,
		clip.Title,
		clip.Content,
		string(clip.ClipType),
		string(clip.AccessLevel),
		nullable(clip.PasswordHash),
		nullable(clip.ShareToken),
		clip.IsPinned,
		clip.UpdatedAt,
		nullableTime(clip.ExpiresAt),
		clip.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating clip %s: %w", clip.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking update of clip %s: %w", clip.ID, err)
	}
	if affected == 0 {
		return apperror.NotFound("clip", clip.ID)
	}
	return nil
}

// TouchClipAccess is the read-path bookkeeping: every successful read bumps
// access_count and refreshes last_accessed, which is what LRU orders by.
func (db *DB) TouchClipAccess(ctx context.Context, id string, at time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE clips SET access_count = access_count + 1, last_accessed = ? WHERE id = ?`,
		at, id)
	if err != nil {
		return fmt.Errorf("sqlite: touching clip %s: %w", id, err)
	}
	return nil
}

// DeleteClip removes one clip and cascades to its associated file rows.
func (db *DB) DeleteClip(ctx context.Context, id string) ([]string, error) {
	var orphaned []string
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		paths, err := deleteClipsTx(ctx, tx, []string{id})
		if err != nil {
			return err
		}
		orphaned = paths
		return nil
	})
	if err != nil {
		return nil, err
	}
	return orphaned, nil
}

// DeleteClips removes a batch of clips in a single transaction. Used by the
// LRU eviction pass: either the whole candidate set goes or none of it does,
// so a failed pass can't leave the LRU ordering half-applied.
func (db *DB) DeleteClips(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var orphaned []string
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		paths, err := deleteClipsTx(ctx, tx, ids)
		if err != nil {
			return err
		}
		orphaned = paths
		return nil
	})
	if err != nil {
		return nil, err
	}
	return orphaned, nil
}

// deleteClipsTx deletes the given clips and their file rows inside an open
// transaction, returning newly unreferenced blob paths.
func deleteClipsTx(ctx context.Context, tx *sql.Tx, ids []string) ([]string, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	orphaned, err := deleteFileRowsWhere(ctx, tx, "clip_id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM clips WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: deleting clips: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("sqlite: checking clip deletion: %w", err)
	}
	if int(affected) != len(ids) {
		// A clip vanished between selection and deletion — roll the pass back.
		return nil, apperror.Conflict("clip batch", fmt.Sprintf("%d of %d deleted", affected, len(ids)))
	}

	return orphaned, nil
}

// ListEvictionCandidates returns the owner's non-pinned clips, least
// recently used first — the ordering the retention engine evicts in.
func (db *DB) ListEvictionCandidates(ctx context.Context, ownerID string) ([]model.Clip, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+clipColumns+` FROM clips
		 WHERE owner_id = ? AND is_pinned = 0
		 ORDER BY last_accessed ASC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing eviction candidates: %w", err)
	}
	defer rows.Close()

	return collectClips(rows)
}

func (db *DB) CountClipsByOwner(ctx context.Context, ownerID string) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM clips WHERE owner_id = ?`, ownerID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("sqlite: counting clips for owner %s: %w", ownerID, err)
	}
	return count, nil
}

func (db *DB) CountPinnedClipsByOwner(ctx context.Context, ownerID string) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM clips WHERE owner_id = ? AND is_pinned = 1`, ownerID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("sqlite: counting pinned clips for owner %s: %w", ownerID, err)
	}
	return count, nil
}

// DeleteExpiredClips removes every clip whose explicit expiry has passed.
// Pin state does not protect against explicit expiry — the owner asked for
// the clip to die at that time.
func (db *DB) DeleteExpiredClips(ctx context.Context, now time.Time) (int, []string, error) {
	return db.deleteClipSet(ctx,
		`SELECT id FROM clips WHERE expires_at IS NOT NULL AND expires_at < ?`, now)
}

// DeleteExpiredAnonymousClips removes non-pinned clips owned by anonymous
// sessions and created before the cutoff. This catches clips whose owning
// session record hasn't been swept yet.
func (db *DB) DeleteExpiredAnonymousClips(ctx context.Context, cutoff time.Time) (int, []string, error) {
	return db.deleteClipSet(ctx,
		`SELECT c.id FROM clips c
		 JOIN users u ON u.id = c.owner_id
		 WHERE u.is_anonymous = 1 AND c.created_at < ? AND c.is_pinned = 0`, cutoff)
}

// deleteClipSet selects clip IDs with the given query and deletes them in
// one transaction.
func (db *DB) deleteClipSet(ctx context.Context, query string, args ...any) (int, []string, error) {
	var (
		deleted  int
		orphaned []string
	)
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("sqlite: selecting clips for deletion: %w", err)
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("sqlite: scanning clip id: %w", err)
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("sqlite: iterating clip ids: %w", err)
		}
		rows.Close()

		if len(ids) == 0 {
			return nil
		}

		paths, err := deleteClipsTx(ctx, tx, ids)
		if err != nil {
			return err
		}
		deleted = len(ids)
		orphaned = paths
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	return deleted, orphaned, nil
}

func (db *DB) CountClips(ctx context.Context) (int, error) {
	var count int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM clips`).Scan(&count); err != nil {
		return 0, fmt.Errorf("sqlite: counting clips: %w", err)
	}
	return count, nil
}

func scanClip(scan func(dest ...any) error) (*model.Clip, error) {
	var (
		clip                   model.Clip
		clipType, accessLevel  string
		passwordHash, shareTok sql.NullString
		expiresAt              sql.NullTime
	)
	err := scan(
		&clip.ID, &clip.OwnerID, &clip.Title, &clip.Content, &clipType, &accessLevel,
		&passwordHash, &shareTok, &clip.IsPinned, &clip.AccessCount, &clip.LastAccessed,
		&clip.CreatedAt, &clip.UpdatedAt, &expiresAt,
	)
	if err != nil {
		return nil, err
	}
	clip.ClipType = model.ClipType(clipType)
	clip.AccessLevel = model.AccessLevel(accessLevel)
	clip.PasswordHash = passwordHash.String
	clip.ShareToken = shareTok.String
	if expiresAt.Valid {
		clip.ExpiresAt = &expiresAt.Time
	}
	return &clip, nil
}

func collectClips(rows *sql.Rows) ([]model.Clip, error) {
	var clips []model.Clip
	for rows.Next() {
		clip, err := scanClip(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning clip row: %w", err)
		}
		clips = append(clips, *clip)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating clip rows: %w", err)
	}
	return clips, nil
}

// nullableTime maps a nil *time.Time to SQL NULL.
func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
