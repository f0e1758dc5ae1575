package sqlite

import (
	"context"
	"fmt"
	"testing"

	"github.com/sakif/cliplru/internal/model"
)

// TESTING WITH IN-MEMORY SQLITE:
// ":memory:" creates a database that exists only for the duration of the
// test — fast, isolated, and destroyed when the connection closes.
//
// newTestDB is a test helper; t.Helper() makes failures report at the
// caller's line, and t.Cleanup closes the database even in subtests.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

var testUserSeq int

// createTestUser inserts a registered user with generous quotas.
func createTestUser(t *testing.T, db *DB) *model.User {
	t.Helper()
	testUserSeq++
	user := &model.User{
		Username:     fmt.Sprintf("user%d", testUserSeq),
		Email:        fmt.Sprintf("user%d@example.com", testUserSeq),
		PasswordHash: "$2a$12$fakefakefakefakefakefake",
		IsActive:     true,
		MaxClips:     1000,
		StorageQuota: 1 << 30,
	}
	if err := db.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	return user
}

// createAnonUser inserts an anonymous session user.
func createAnonUser(t *testing.T, db *DB) *model.User {
	t.Helper()
	testUserSeq++
	user := &model.User{
		IsActive:     true,
		IsAnonymous:  true,
		SessionID:    fmt.Sprintf("session-%d", testUserSeq),
		MaxClips:     100,
		StorageQuota: 100 << 20,
	}
	if err := db.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("failed to create anonymous test user: %v", err)
	}
	return user
}

// createTestClip inserts a private text clip for the owner.
func createTestClip(t *testing.T, db *DB, ownerID, title string) *model.Clip {
	t.Helper()
	clip := &model.Clip{
		OwnerID:     ownerID,
		Title:       title,
		Content:     "content of " + title,
		ClipType:    model.ClipTypeText,
		AccessLevel: model.AccessPrivate,
	}
	if err := db.CreateClipInQuota(context.Background(), clip, 1000); err != nil {
		t.Fatalf("failed to create test clip: %v", err)
	}
	return clip
}

// createTestFile inserts a file row with the given content hash.
func createTestFile(t *testing.T, db *DB, ownerID, hash string, size int64) *model.File {
	t.Helper()
	file := &model.File{
		OwnerID:          ownerID,
		Filename:         hash + ".bin",
		OriginalFilename: "original.bin",
		FilePath:         "/blobs/" + hash + ".bin",
		FileSize:         size,
		MimeType:         "application/octet-stream",
		FileHash:         hash,
	}
	if _, err := db.CreateFileDedup(context.Background(), file); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}
	return file
}
