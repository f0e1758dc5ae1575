// Package storage is the content-addressed blob store backing file uploads.
//
// Blobs live under a single root directory, named by their sha256 digest
// (plus the original extension, so web servers and humans can guess the
// type): uploads/ab12…ef.png. Identical bytes always land at the identical
// path, which is what makes deduplication and reference counting possible —
// the database decides whether a path is still referenced, this package
// only moves bytes.
//
// UPLOAD PROTOCOL (two-phase):
//  1. Stage: stream the request body into a temp file, hashing as we go and
//     enforcing the caller's size ceiling mid-stream. Any failure (too
//     large, disconnect, disk error) discards the temp file — no orphans.
//  2. Commit or Discard: after the database dedup decision, either rename
//     the temp file into its digest-derived final path or throw it away.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sakif/cliplru/internal/apperror"
)

// Store manages blobs under a root directory.
type Store struct {
	root string
}

// New creates a Store rooted at dir, creating the directory if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: creating root %s: %w", dir, err)
	}
	return &Store{root: dir}, nil
}

// Staged is a temp file holding streamed upload bytes plus the digest
// computed over them. It must be resolved with exactly one of Commit or
// Discard.
type Staged struct {
	tempPath string
	Hash     string // sha256 hex digest of the staged bytes
	Size     int64
}

// Stage streams r into a temporary file under the store root, computing the
// sha256 digest on the way through. If the stream exceeds maxSize the
// partial write is removed and apperror.ErrTooLarge is returned — the
// ceiling is enforced during streaming, not after, so an oversized upload
// never occupies more than maxSize+1 bytes of disk for even a moment.
func (s *Store) Stage(r io.Reader, maxSize int64) (*Staged, error) {
	tmp, err := os.CreateTemp(s.root, "upload-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("storage: creating temp file: %w", err)
	}

	hasher := sha256.New()
	// LimitReader gives us maxSize+1 so we can tell "exactly at the limit"
	// apart from "over the limit".
	limited := io.LimitReader(r, maxSize+1)

	size, err := io.Copy(io.MultiWriter(tmp, hasher), limited)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("storage: staging upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("storage: closing temp file: %w", err)
	}
	if size > maxSize {
		os.Remove(tmp.Name())
		return nil, apperror.TooLarge(maxSize)
	}

	return &Staged{
		tempPath: tmp.Name(),
		Hash:     hex.EncodeToString(hasher.Sum(nil)),
		Size:     size,
	}, nil
}

// Commit moves the staged bytes into their final location under the given
// filename and returns the absolute path. Committing identical content to
// the same path twice is harmless: the destination already holds the same
// bytes and the rename simply replaces them.
func (st *Store) Commit(s *Staged, filename string) (string, error) {
	path := filepath.Join(st.root, filename)
	if err := os.Rename(s.tempPath, path); err != nil {
		os.Remove(s.tempPath)
		return "", fmt.Errorf("storage: committing blob %s: %w", filename, err)
	}
	return path, nil
}

// Discard removes the staged temp file. Safe to call after Commit (the
// rename already consumed the temp file) and safe to call twice.
func (s *Staged) Discard() {
	os.Remove(s.tempPath)
}

// BlobName derives the physical filename for a digest, keeping the original
// file's extension.
func (s *Store) BlobName(hash, originalName string) string {
	return hash + filepath.Ext(originalName)
}

// Path returns the absolute path a blob filename maps to.
func (s *Store) Path(filename string) string {
	return filepath.Join(s.root, filename)
}

// Open opens a blob for reading.
func (s *Store) Open(path string) (io.ReadSeekCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperror.NotFound("blob", filepath.Base(path))
		}
		return nil, fmt.Errorf("storage: opening blob %s: %w", path, err)
	}
	return f, nil
}

// Exists reports whether a blob is present at path.
func (s *Store) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Remove deletes a physical blob. A missing blob is not an error — a
// concurrent delete may have beaten us to it.
func (s *Store) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("storage: removing blob %s: %w", path, err)
	}
	return nil
}

// RemoveAll deletes a set of blobs, carrying on past individual failures
// and returning the first error encountered. Used by cascade deletes where
// one stubborn file shouldn't strand the rest.
func (s *Store) RemoveAll(paths []string) error {
	var first error
	for _, p := range paths {
		if err := s.Remove(p); err != nil && first == nil {
			first = err
		}
	}
	return first
}
