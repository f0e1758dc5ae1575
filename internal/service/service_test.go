package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/cliplru/internal/auth"
	"github.com/sakif/cliplru/internal/model"
	"github.com/sakif/cliplru/internal/repository/sqlite"
	"github.com/sakif/cliplru/internal/storage"
)

// The service tests run against a real in-memory SQLite database and a
// temp-dir blob store rather than mocks: every invariant these services
// enforce (quota counting, eviction batches, dedup, refcounted deletes)
// lives in a transaction, and a mock would assert our assumptions instead
// of the actual behaviour.

// testEnv bundles the wired service layer for one test.
type testEnv struct {
	db        *sqlite.DB
	blobs     *storage.Store
	retention *RetentionService
	clips     *ClipService
	files     *FileService
	accounts  *AccountService
	passwords *auth.PasswordService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	blobs, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create blob store: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	passwords := auth.NewPasswordServiceForTest(bcrypt.MinCost)

	tokens, err := auth.NewTokenService("test-secret-at-least-16-bytes", time.Hour)
	if err != nil {
		t.Fatalf("failed to create token service: %v", err)
	}

	retention := NewRetentionService(db, db, db, blobs, RetentionConfig{
		GraceWindow: time.Hour,
		AnonTTL:     24 * time.Hour,
	}, logger)

	return &testEnv{
		db:        db,
		blobs:     blobs,
		retention: retention,
		clips:     NewClipService(db, db, blobs, retention, passwords, logger),
		files: NewFileService(db, db, blobs, FileLimits{
			MaxFileSize:          100 << 20,
			AnonymousMaxFileSize: 10 << 20,
		}, logger),
		accounts: NewAccountService(db, tokens, passwords, AccountConfig{
			AllowAnonymous:        true,
			DefaultMaxClips:       1000,
			DefaultStorageQuota:   1 << 30,
			AnonymousMaxClips:     100,
			AnonymousStorageQuota: 100 << 20,
		}, logger),
		passwords: passwords,
	}
}

var envUserSeq int

// newUser registers a user through the account service so the stored row
// matches what production writes.
func (e *testEnv) newUser(t *testing.T) *model.User {
	t.Helper()
	envUserSeq++
	user, err := e.accounts.Register(context.Background(), RegisterInput{
		Username: fmt.Sprintf("tester%d", envUserSeq),
		Email:    fmt.Sprintf("tester%d@example.com", envUserSeq),
		Password: "correct horse battery",
	})
	if err != nil {
		t.Fatalf("failed to register test user: %v", err)
	}
	return user
}

func (e *testEnv) newAnonUser(t *testing.T) *model.User {
	t.Helper()
	session, err := e.accounts.CreateAnonymousSession(context.Background())
	if err != nil {
		t.Fatalf("failed to create anonymous session: %v", err)
	}
	return session.User
}

// newClip creates a private text clip for the user.
func (e *testEnv) newClip(t *testing.T, user *model.User, title string) *model.Clip {
	t.Helper()
	clip, err := e.clips.Create(context.Background(), user, CreateClipInput{
		Title:   title,
		Content: "content of " + title,
	})
	if err != nil {
		t.Fatalf("failed to create test clip: %v", err)
	}
	return clip
}

// warpClocks points every service's clock at a fixed future instant, far
// enough ahead that clips created "now" fall outside the grace window.
func (e *testEnv) warpClocks(d time.Duration) {
	at := time.Now().Add(d)
	clock := func() time.Time { return at }
	e.retention.WithClock(clock)
	e.clips.WithClock(clock)
	e.files.WithClock(clock)
}
