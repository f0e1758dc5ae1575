package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/cliplru/internal/apperror"
	"github.com/sakif/cliplru/internal/model"
	"github.com/sakif/cliplru/internal/repository"
)

// compile-time check that *DB implements repository.FileRepository
var _ repository.FileRepository = (*DB)(nil)

const fileColumns = `id, owner_id, clip_id, filename, original_filename,
	file_path, file_size, mime_type, file_hash, is_image, is_video, is_audio,
	download_count, last_downloaded, created_at, updated_at`

// CreateFileDedup inserts the metadata row, deduplicating against any
// existing row with the same content hash.
//
// Lookup and insert share one transaction: two concurrent uploads of the
// same bytes serialise here, so the second one always observes the first
// one's row and reuses its blob instead of minting a second physical copy.
// When reused is true the caller discards its staged temporary file.
func (db *DB) CreateFileDedup(ctx context.Context, file *model.File) (bool, error) {
	file.ID = xid.New().String()
	now := time.Now()
	file.CreatedAt = now
	file.UpdatedAt = now

	var reused bool
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var existing struct {
			filename string
			path     string
			size     int64
		}
		err := tx.QueryRowContext(ctx,
			`SELECT filename, file_path, file_size FROM files WHERE file_hash = ? LIMIT 1`,
			file.FileHash,
		).Scan(&existing.filename, &existing.path, &existing.size)
		switch {
		case err == nil:
			// Same content already stored — point this row at the same blob.
			file.Filename = existing.filename
			file.FilePath = existing.path
			file.FileSize = existing.size
			reused = true
		case errors.Is(err, sql.ErrNoRows):
			// First upload of this content; keep the caller's staged blob.
		default:
			return fmt.Errorf("sqlite: looking up file hash %s: %w", file.FileHash, err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO files (id, owner_id, clip_id, filename, original_filename,
			                    file_path, file_size, mime_type, file_hash,
			                    is_image, is_video, is_audio,
			                    download_count, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			file.ID,
			file.OwnerID,
			nullable(file.ClipID),
			file.Filename,
			file.OriginalFilename,
			file.FilePath,
			file.FileSize,
			file.MimeType,
			file.FileHash,
			file.IsImage,
			file.IsVideo,
			file.IsAudio,
			file.DownloadCount,
			file.CreatedAt,
			file.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("sqlite: creating file: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return reused, nil
}

func (db *DB) GetFileByID(ctx context.Context, id string) (*model.File, error) {
	return db.getFileWhere(ctx, "id = ?", id)
}

func (db *DB) GetFileByOwner(ctx context.Context, id, ownerID string) (*model.File, error) {
	return db.getFileWhere(ctx, "id = ? AND owner_id = ?", id, ownerID)
}

func (db *DB) getFileWhere(ctx context.Context, where string, args ...any) (*model.File, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE `+where, args...)

	file, err := scanFile(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("file", fmt.Sprint(args[0]))
		}
		return nil, fmt.Errorf("sqlite: fetching file: %w", err)
	}
	return file, nil
}

// ListFilesByOwner returns one page of the owner's files, newest first.
func (db *DB) ListFilesByOwner(ctx context.Context, ownerID string, opts repository.FileListOptions) ([]model.File, int, error) {
	var total int
	if err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM files WHERE owner_id = ?`, ownerID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("sqlite: counting files: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE owner_id = ?
		 ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		ownerID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("sqlite: listing files: %w", err)
	}
	defer rows.Close()

	var files []model.File
	for rows.Next() {
		file, err := scanFile(rows.Scan)
		if err != nil {
			return nil, 0, fmt.Errorf("sqlite: scanning file row: %w", err)
		}
		files = append(files, *file)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("sqlite: iterating file rows: %w", err)
	}
	return files, total, nil
}

// TouchFileDownload is the download bookkeeping.
func (db *DB) TouchFileDownload(ctx context.Context, id string, at time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE files SET download_count = download_count + 1, last_downloaded = ?, updated_at = ?
		 WHERE id = ?`, at, at, id)
	if err != nil {
		return fmt.Errorf("sqlite: touching file %s: %w", id, err)
	}
	return nil
}

// DeleteFile removes the owner's metadata row. The remaining-reference
// count for the row's hash is computed inside the same transaction as the
// delete, so the caller's unlink decision cannot race a concurrent upload:
// either the upload's row is already visible (remaining > 0, keep the blob)
// or it commits after ours and re-materialises the blob itself.
func (db *DB) DeleteFile(ctx context.Context, id, ownerID string) (int, string, error) {
	var (
		remaining int
		blobPath  string
	)
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var hash string
		err := tx.QueryRowContext(ctx,
			`SELECT file_hash, file_path FROM files WHERE id = ? AND owner_id = ?`,
			id, ownerID,
		).Scan(&hash, &blobPath)
		if errors.Is(err, sql.ErrNoRows) {
			return apperror.NotFound("file", id)
		}
		if err != nil {
			return fmt.Errorf("sqlite: fetching file %s for deletion: %w", id, err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, id); err != nil {
			return fmt.Errorf("sqlite: deleting file %s: %w", id, err)
		}

		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM files WHERE file_hash = ?`, hash,
		).Scan(&remaining); err != nil {
			return fmt.Errorf("sqlite: counting references to hash %s: %w", hash, err)
		}
		return nil
	})
	if err != nil {
		return 0, "", err
	}
	return remaining, blobPath, nil
}

// AttachFileToClip associates one of the owner's files with a clip.
// Ownership is part of the WHERE clause, so attaching someone else's file
// is indistinguishable from the file not existing.
func (db *DB) AttachFileToClip(ctx context.Context, fileID, ownerID, clipID string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE files SET clip_id = ?, updated_at = ? WHERE id = ? AND owner_id = ?`,
		clipID, time.Now(), fileID, ownerID)
	if err != nil {
		return fmt.Errorf("sqlite: attaching file %s to clip %s: %w", fileID, clipID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking attach of file %s: %w", fileID, err)
	}
	if affected == 0 {
		return apperror.NotFound("file", fileID)
	}
	return nil
}

// SumFileSizeByOwner is the per-reference storage accounting: deduplicated
// uploads are charged once per row, not once per physical blob.
func (db *DB) SumFileSizeByOwner(ctx context.Context, ownerID string) (int64, error) {
	var total int64
	err := db.conn.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(file_size), 0) FROM files WHERE owner_id = ?`, ownerID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sqlite: summing file sizes for owner %s: %w", ownerID, err)
	}
	return total, nil
}

func (db *DB) CountFiles(ctx context.Context) (repository.FileTotals, error) {
	var totals repository.FileTotals
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(file_size), 0) FROM files`,
	).Scan(&totals.Count, &totals.TotalBytes)
	if err != nil {
		return totals, fmt.Errorf("sqlite: counting files: %w", err)
	}
	return totals, nil
}

// deleteFileRowsWhere deletes the file rows matching the condition inside an
// open transaction and returns the blob paths that are left with zero
// referencing rows afterwards. Shared by the clip and user cascades.
func deleteFileRowsWhere(ctx context.Context, tx *sql.Tx, where string, args ...any) ([]string, error) {
	// Remember which blobs the doomed rows pointed at.
	rows, err := tx.QueryContext(ctx,
		`SELECT DISTINCT file_hash, file_path FROM files WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: selecting file rows for deletion: %w", err)
	}
	type blob struct{ hash, path string }
	var blobs []blob
	for rows.Next() {
		var b blob
		if err := rows.Scan(&b.hash, &b.path); err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlite: scanning blob reference: %w", err)
		}
		blobs = append(blobs, b)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("sqlite: iterating blob references: %w", err)
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE `+where, args...); err != nil {
		return nil, fmt.Errorf("sqlite: deleting file rows: %w", err)
	}

	// Any hash with no surviving row means its blob is now orphaned.
	var orphaned []string
	for _, b := range blobs {
		var count int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM files WHERE file_hash = ?`, b.hash,
		).Scan(&count); err != nil {
			return nil, fmt.Errorf("sqlite: counting references to hash %s: %w", b.hash, err)
		}
		if count == 0 {
			orphaned = append(orphaned, b.path)
		}
	}
	return orphaned, nil
}

func scanFile(scan func(dest ...any) error) (*model.File, error) {
	var (
		file           model.File
		clipID         sql.NullString
		lastDownloaded sql.NullTime
	)
	err := scan(
		&file.ID, &file.OwnerID, &clipID, &file.Filename, &file.OriginalFilename,
		&file.FilePath, &file.FileSize, &file.MimeType, &file.FileHash,
		&file.IsImage, &file.IsVideo, &file.IsAudio,
		&file.DownloadCount, &lastDownloaded, &file.CreatedAt, &file.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	file.ClipID = clipID.String
	if lastDownloaded.Valid {
		file.LastDownloaded = &lastDownloaded.Time
	}
	return &file, nil
}
