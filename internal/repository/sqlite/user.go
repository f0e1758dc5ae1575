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

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

const userColumns = `id, username, email, password_hash, full_name,
	is_active, is_admin, is_anonymous, session_id,
	max_clips, storage_quota, created_at, updated_at, last_login`

// CreateUser inserts a new principal.
//
// The model invariant — a user is either registered (credentials) or
// anonymous (session id), never both — is checked here so it cannot be
// bypassed by a buggy caller. UNIQUE violations on username/email/session_id
// are translated to apperror.Conflict.
func (db *DB) CreateUser(ctx context.Context, user *model.User) error {
	if user.IsAnonymous {
		if user.SessionID == "" || user.Username != "" || user.PasswordHash != "" {
			return apperror.ValidationFailed("user", "anonymous user must have a session id and no credentials")
		}
	} else {
		if user.Username == "" || user.PasswordHash == "" || user.SessionID != "" {
			return apperror.ValidationFailed("user", "registered user must have credentials and no session id")
		}
	}

	user.ID = xid.New().String()
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (id, username, email, password_hash, full_name,
		                    is_active, is_admin, is_anonymous, session_id,
		                    max_clips, storage_quota, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		nullable(user.Username),
		nullable(user.Email),
		nullable(user.PasswordHash),
		user.FullName,
		user.IsActive,
		user.IsAdmin,
		user.IsAnonymous,
		nullable(user.SessionID),
		user.MaxClips,
		user.StorageQuota,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("user", user.Username)
		}
		return fmt.Errorf("sqlite: creating user: %w", err)
	}

	return nil
}

func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return db.getUserWhere(ctx, "id = ?", id)
}

func (db *DB) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return db.getUserWhere(ctx, "username = ?", username)
}

func (db *DB) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return db.getUserWhere(ctx, "email = ?", email)
}

func (db *DB) GetUserBySessionID(ctx context.Context, sessionID string) (*model.User, error) {
	return db.getUserWhere(ctx, "session_id = ? AND is_anonymous = 1", sessionID)
}

func (db *DB) getUserWhere(ctx context.Context, where string, args ...any) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+where, args...)

	user, err := scanUser(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", fmt.Sprint(args[0]))
		}
		return nil, fmt.Errorf("sqlite: fetching user: %w", err)
	}
	return user, nil
}

// TouchLastLogin stamps a successful login.
func (db *DB) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE users SET last_login = ?, updated_at = ? WHERE id = ?`, at, at, id)
	if err != nil {
		return fmt.Errorf("sqlite: touching last_login for user %s: %w", id, err)
	}
	return nil
}

// ListActiveUsers returns every active user — the retention sweep iterates
// over this set.
func (db *DB) ListActiveUsers(ctx context.Context) ([]model.User, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE is_active = 1 ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing active users: %w", err)
	}
	defer rows.Close()

	return collectUsers(rows)
}

// ListExpiredAnonymousUsers returns anonymous users past the TTL that hold
// no pinned clips. The NOT EXISTS guard is the pin-protection rule: a
// session that still pins something is not reaped.
func (db *DB) ListExpiredAnonymousUsers(ctx context.Context, cutoff time.Time) ([]model.User, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users u
		 WHERE u.is_anonymous = 1
		   AND u.created_at < ?
		   AND NOT EXISTS (
		       SELECT 1 FROM clips c WHERE c.owner_id = u.id AND c.is_pinned = 1
		   )
		 ORDER BY u.created_at`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing expired anonymous users: %w", err)
	}
	defer rows.Close()

	return collectUsers(rows)
}

// DeleteUserCascade removes the user, every clip they own, and every file
// row they own, all in one transaction. It returns the paths of physical
// blobs left with zero referencing rows so the caller can unlink them.
//
// The cascade is enumerated explicitly (files → clips → user) rather than
// delegated to ON DELETE CASCADE: the deletion order and the orphaned-blob
// computation both need to be visible in one place.
func (db *DB) DeleteUserCascade(ctx context.Context, id string) ([]string, error) {
	var orphaned []string
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE id = ?`, id).Scan(&exists); err != nil {
			return fmt.Errorf("sqlite: checking user %s: %w", id, err)
		}
		if exists == 0 {
			return apperror.NotFound("user", id)
		}

		paths, err := deleteFileRowsWhere(ctx, tx, "owner_id = ?", id)
		if err != nil {
			return err
		}
		orphaned = paths

		if _, err := tx.ExecContext(ctx, `DELETE FROM clips WHERE owner_id = ?`, id); err != nil {
			return fmt.Errorf("sqlite: deleting clips for user %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id); err != nil {
			return fmt.Errorf("sqlite: deleting user %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return orphaned, nil
}

func (db *DB) CountUsers(ctx context.Context) (repository.UserCounts, error) {
	var counts repository.UserCounts
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(is_active), 0),
		        COALESCE(SUM(is_anonymous), 0)
		 FROM users`).Scan(&counts.Total, &counts.Active, &counts.Anonymous)
	if err != nil {
		return counts, fmt.Errorf("sqlite: counting users: %w", err)
	}
	return counts, nil
}

// scanUser reads one user row. The scan callback shape lets it work with
// both *sql.Row and *sql.Rows.
func scanUser(scan func(dest ...any) error) (*model.User, error) {
	var (
		user                      model.User
		username, email, password sql.NullString
		sessionID                 sql.NullString
		lastLogin                 sql.NullTime
	)
	err := scan(
		&user.ID, &username, &email, &password, &user.FullName,
		&user.IsActive, &user.IsAdmin, &user.IsAnonymous, &sessionID,
		&user.MaxClips, &user.StorageQuota, &user.CreatedAt, &user.UpdatedAt, &lastLogin,
	)
	if err != nil {
		return nil, err
	}
	user.Username = username.String
	user.Email = email.String
	user.PasswordHash = password.String
	user.SessionID = sessionID.String
	if lastLogin.Valid {
		user.LastLogin = &lastLogin.Time
	}
	return &user, nil
}

func collectUsers(rows *sql.Rows) ([]model.User, error) {
	var users []model.User
	for rows.Next() {
		user, err := scanUser(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning user row: %w", err)
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating user rows: %w", err)
	}
	return users, nil
}

// isUniqueViolation detects a UNIQUE constraint error from the sqlite driver.
// modernc.org/sqlite surfaces these as plain errors containing the SQLite
// error text, so string matching is the portable check.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
