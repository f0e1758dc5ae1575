package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sakif/cliplru/internal/apperror"
	"github.com/sakif/cliplru/internal/model"
)

func TestCreate_PrivateClipHasNoShareToken(t *testing.T) {
	env := newTestEnv(t)
	user := env.newUser(t)

	clip, err := env.clips.Create(context.Background(), user, CreateClipInput{
		Title:   "notes",
		Content: "hello",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if clip.ID == "" {
		t.Error("clip was not assigned an ID")
	}
	if clip.AccessLevel != model.AccessPrivate {
		t.Errorf("AccessLevel = %q, want private by default", clip.AccessLevel)
	}
	if clip.ShareToken != "" {
		t.Errorf("private clip got share token %q", clip.ShareToken)
	}
	if clip.ClipType != model.ClipTypeText {
		t.Errorf("ClipType = %q, want text by default", clip.ClipType)
	}
}

func TestCreate_PublicClipMintsShareToken(t *testing.T) {
	env := newTestEnv(t)
	user := env.newUser(t)

	clip, err := env.clips.Create(context.Background(), user, CreateClipInput{
		Title:       "shared notes",
		Content:     "hello",
		AccessLevel: model.AccessPublic,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if len(clip.ShareToken) != 43 { // 32 random bytes, base64url without padding
		t.Errorf("share token length = %d, want 43", len(clip.ShareToken))
	}
	if clip.PasswordHash != "" {
		t.Error("public clip got a password hash")
	}
}

func TestCreate_EncryptedClipRequiresPassword(t *testing.T) {
	env := newTestEnv(t)
	user := env.newUser(t)

	_, err := env.clips.Create(context.Background(), user, CreateClipInput{
		Title:       "secret",
		AccessLevel: model.AccessEncrypted,
	})
	if !errors.Is(err, apperror.ErrValidation) {
		t.Fatalf("Create() error = %v, want ErrValidation", err)
	}

	clip, err := env.clips.Create(context.Background(), user, CreateClipInput{
		Title:       "secret",
		AccessLevel: model.AccessEncrypted,
		Password:    "hunter22",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if clip.ShareToken == "" {
		t.Error("encrypted clip has no share token")
	}
	if clip.PasswordHash == "" {
		t.Error("encrypted clip has no password hash")
	}
}

func TestCreate_RejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	user := env.newUser(t)

	past := time.Now().Add(-time.Hour)
	cases := []struct {
		name string
		in   CreateClipInput
	}{
		{"empty title", CreateClipInput{Content: "x"}},
		{"unknown type", CreateClipInput{Title: "t", ClipType: "spreadsheet"}},
		{"unknown access level", CreateClipInput{Title: "t", AccessLevel: "secret"}},
		{"expiry in the past", CreateClipInput{Title: "t", ExpiresAt: &past}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.clips.Create(context.Background(), user, tc.in)
			if !errors.Is(err, apperror.ErrValidation) {
				t.Errorf("Create() error = %v, want ErrValidation", err)
			}
		})
	}
}

// A user at their clip limit cannot create: eviction trims overflow down to
// the limit but never below it, so the slot check still fails.
func TestCreate_QuotaExceededAtLimit(t *testing.T) {
	env := newTestEnv(t)
	user := env.newUser(t)
	user.MaxClips = 2

	env.newClip(t, user, "one")
	env.newClip(t, user, "two")
	env.warpClocks(2 * time.Hour) // grace window is not what stops creation here

	_, err := env.clips.Create(context.Background(), user, CreateClipInput{
		Title: "three",
	})
	if !errors.Is(err, apperror.ErrQuotaExceeded) {
		t.Fatalf("Create() error = %v, want ErrQuotaExceeded", err)
	}

	count, err := env.db.CountClipsByOwner(context.Background(), user.ID)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("clip count = %d, want 2 (rejected create must not evict below the limit)", count)
	}
}

func TestGet_BumpsAccessCount(t *testing.T) {
	env := newTestEnv(t)
	user := env.newUser(t)
	clip := env.newClip(t, user, "counted")

	got, err := env.clips.Get(context.Background(), user, clip.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.AccessCount != 1 {
		t.Errorf("AccessCount after first read = %d, want 1", got.AccessCount)
	}

	got, err = env.clips.Get(context.Background(), user, clip.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.AccessCount != 2 {
		t.Errorf("AccessCount after second read = %d, want 2", got.AccessCount)
	}
}

func TestGet_ExpiredClipInvisibleEvenToOwner(t *testing.T) {
	env := newTestEnv(t)
	user := env.newUser(t)

	soon := time.Now().Add(time.Minute)
	clip, err := env.clips.Create(context.Background(), user, CreateClipInput{
		Title:     "ephemeral",
		ExpiresAt: &soon,
	})
	if err != nil {
		t.Fatal(err)
	}

	env.warpClocks(2 * time.Hour)

	if _, err := env.clips.Get(context.Background(), user, clip.ID); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("Get() on expired clip error = %v, want ErrNotFound", err)
	}
	// Still in storage until the sweep runs, but unreachable.
	if _, err := env.db.GetClipByID(context.Background(), clip.ID); err != nil {
		t.Errorf("expired clip should still exist in storage before the sweep: %v", err)
	}
}

func TestGetShared_PublicClip(t *testing.T) {
	env := newTestEnv(t)
	user := env.newUser(t)

	clip, err := env.clips.Create(context.Background(), user, CreateClipInput{
		Title:       "link me",
		Content:     "shared content",
		AccessLevel: model.AccessPublic,
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := env.clips.GetShared(context.Background(), clip.ShareToken)
	if err != nil {
		t.Fatalf("GetShared() error = %v", err)
	}
	if got.ID != clip.ID {
		t.Errorf("GetShared() returned clip %s, want %s", got.ID, clip.ID)
	}
	if got.AccessCount != 1 {
		t.Errorf("AccessCount = %d, want 1 (share-token reads count)", got.AccessCount)
	}

	if _, err := env.clips.GetShared(context.Background(), "no-such-token"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetShared() with unknown token error = %v, want ErrNotFound", err)
	}
}

func TestGetShared_EncryptedClipDemandsPassword(t *testing.T) {
	env := newTestEnv(t)
	user := env.newUser(t)

	clip, err := env.clips.Create(context.Background(), user, CreateClipInput{
		Title:       "locked",
		AccessLevel: model.AccessEncrypted,
		Password:    "open sesame",
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = env.clips.GetShared(context.Background(), clip.ShareToken)
	if !errors.Is(err, apperror.ErrPasswordRequired) {
		t.Errorf("GetShared() error = %v, want ErrPasswordRequired", err)
	}
}

// Expiry closes the share-token entry points too, not just the owner path —
// and for an encrypted clip it wins over the password challenge.
func TestGetShared_ExpiredClipIsGone(t *testing.T) {
	env := newTestEnv(t)
	user := env.newUser(t)

	soon := time.Now().Add(time.Minute)
	public, err := env.clips.Create(context.Background(), user, CreateClipInput{
		Title:       "briefly public",
		AccessLevel: model.AccessPublic,
		ExpiresAt:   &soon,
	})
	if err != nil {
		t.Fatal(err)
	}
	locked, err := env.clips.Create(context.Background(), user, CreateClipInput{
		Title:       "briefly locked",
		AccessLevel: model.AccessEncrypted,
		Password:    "open sesame",
		ExpiresAt:   &soon,
	})
	if err != nil {
		t.Fatal(err)
	}

	env.warpClocks(2 * time.Hour)

	if _, err := env.clips.GetShared(context.Background(), public.ShareToken); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetShared() on expired clip error = %v, want ErrNotFound", err)
	}
	if _, err := env.clips.GetShared(context.Background(), locked.ShareToken); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetShared() on expired encrypted clip error = %v, want ErrNotFound (not a password challenge)", err)
	}
	if _, err := env.clips.AccessEncrypted(context.Background(), locked.ShareToken, "open sesame"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("AccessEncrypted() on expired clip error = %v, want ErrNotFound even with the right password", err)
	}
}

func TestAccessEncrypted(t *testing.T) {
	env := newTestEnv(t)
	user := env.newUser(t)

	clip, err := env.clips.Create(context.Background(), user, CreateClipInput{
		Title:       "locked",
		Content:     "the secret",
		AccessLevel: model.AccessEncrypted,
		Password:    "open sesame",
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = env.clips.AccessEncrypted(context.Background(), clip.ShareToken, "wrong")
	if !errors.Is(err, apperror.ErrUnauthorized) {
		t.Fatalf("AccessEncrypted() with wrong password error = %v, want ErrUnauthorized", err)
	}
	stored, err := env.db.GetClipByID(context.Background(), clip.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.AccessCount != 0 {
		t.Errorf("AccessCount after failed attempt = %d, want 0", stored.AccessCount)
	}

	got, err := env.clips.AccessEncrypted(context.Background(), clip.ShareToken, "open sesame")
	if err != nil {
		t.Fatalf("AccessEncrypted() error = %v", err)
	}
	if got.Content != "the secret" {
		t.Errorf("Content = %q, want %q", got.Content, "the secret")
	}
	if got.AccessCount != 1 {
		t.Errorf("AccessCount = %d, want 1", got.AccessCount)
	}
}

func TestAccessEncrypted_NonEncryptedClip(t *testing.T) {
	env := newTestEnv(t)
	user := env.newUser(t)

	clip, err := env.clips.Create(context.Background(), user, CreateClipInput{
		Title:       "plain",
		AccessLevel: model.AccessPublic,
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = env.clips.AccessEncrypted(context.Background(), clip.ShareToken, "whatever")
	if !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("AccessEncrypted() on public clip error = %v, want ErrValidation", err)
	}
}

func TestUpdate_ToPrivateClearsToken(t *testing.T) {
	env := newTestEnv(t)
	user := env.newUser(t)

	clip, err := env.clips.Create(context.Background(), user, CreateClipInput{
		Title:       "was public",
		AccessLevel: model.AccessPublic,
	})
	if err != nil {
		t.Fatal(err)
	}
	oldToken := clip.ShareToken

	private := model.AccessPrivate
	clip, err = env.clips.Update(context.Background(), user, clip.ID, UpdateClipInput{
		AccessLevel: &private,
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if clip.ShareToken != "" {
		t.Errorf("share token not cleared on transition to private: %q", clip.ShareToken)
	}

	// The dead link stays dead.
	if _, err := env.clips.GetShared(context.Background(), oldToken); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetShared() with revoked token error = %v, want ErrNotFound", err)
	}

	// Re-sharing mints a fresh token, never the old one.
	public := model.AccessPublic
	clip, err = env.clips.Update(context.Background(), user, clip.ID, UpdateClipInput{
		AccessLevel: &public,
	})
	if err != nil {
		t.Fatal(err)
	}
	if clip.ShareToken == "" || clip.ShareToken == oldToken {
		t.Errorf("re-share token = %q, want a fresh token distinct from %q", clip.ShareToken, oldToken)
	}
}

func TestUpdate_ToEncrypted(t *testing.T) {
	env := newTestEnv(t)
	user := env.newUser(t)
	clip := env.newClip(t, user, "to be locked")

	encrypted := model.AccessEncrypted
	_, err := env.clips.Update(context.Background(), user, clip.ID, UpdateClipInput{
		AccessLevel: &encrypted,
	})
	if !errors.Is(err, apperror.ErrValidation) {
		t.Fatalf("Update() to encrypted without password error = %v, want ErrValidation", err)
	}

	password := "open sesame"
	updated, err := env.clips.Update(context.Background(), user, clip.ID, UpdateClipInput{
		AccessLevel: &encrypted,
		Password:    &password,
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.ShareToken == "" || updated.PasswordHash == "" {
		t.Error("encrypted clip must carry both a share token and a password hash")
	}

	if _, err := env.clips.AccessEncrypted(context.Background(), updated.ShareToken, password); err != nil {
		t.Errorf("AccessEncrypted() after transition error = %v", err)
	}
}

// password_hash is set iff the clip is encrypted: sending a password in a
// patch that leaves the clip private or public must be rejected, not stored.
func TestUpdate_PasswordRejectedOutsideEncrypted(t *testing.T) {
	env := newTestEnv(t)
	user := env.newUser(t)

	private := env.newClip(t, user, "private notes")
	public, err := env.clips.Create(context.Background(), user, CreateClipInput{
		Title:       "public notes",
		AccessLevel: model.AccessPublic,
	})
	if err != nil {
		t.Fatal(err)
	}

	password := "sneaky"
	for _, clip := range []*model.Clip{private, public} {
		_, err := env.clips.Update(context.Background(), user, clip.ID, UpdateClipInput{
			Password: &password,
		})
		if !errors.Is(err, apperror.ErrValidation) {
			t.Errorf("Update(%s clip) with password error = %v, want ErrValidation", clip.AccessLevel, err)
		}
		stored, err := env.db.GetClipByID(context.Background(), clip.ID)
		if err != nil {
			t.Fatal(err)
		}
		if stored.PasswordHash != "" {
			t.Errorf("%s clip has password hash %q, want none", clip.AccessLevel, stored.PasswordHash)
		}
	}

	// Same patch while leaving encrypted is a rotation, so that stays legal.
	encrypted, err := env.clips.Create(context.Background(), user, CreateClipInput{
		Title:       "locked notes",
		AccessLevel: model.AccessEncrypted,
		Password:    "first",
	})
	if err != nil {
		t.Fatal(err)
	}
	rotated := "second"
	if _, err := env.clips.Update(context.Background(), user, encrypted.ID, UpdateClipInput{Password: &rotated}); err != nil {
		t.Errorf("Update() rotating password on encrypted clip error = %v", err)
	}
	if _, err := env.clips.AccessEncrypted(context.Background(), encrypted.ShareToken, "second"); err != nil {
		t.Errorf("AccessEncrypted() with rotated password error = %v", err)
	}
}

func TestUpdate_TitleAndContent(t *testing.T) {
	env := newTestEnv(t)
	user := env.newUser(t)
	clip := env.newClip(t, user, "draft")

	title := "final"
	content := "rewritten"
	updated, err := env.clips.Update(context.Background(), user, clip.ID, UpdateClipInput{
		Title:   &title,
		Content: &content,
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Title != "final" || updated.Content != "rewritten" {
		t.Errorf("after update got title=%q content=%q", updated.Title, updated.Content)
	}

	empty := ""
	if _, err := env.clips.Update(context.Background(), user, clip.ID, UpdateClipInput{Title: &empty}); !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("Update() with empty title error = %v, want ErrValidation", err)
	}
}

func TestList_Paging(t *testing.T) {
	env := newTestEnv(t)
	user := env.newUser(t)
	for _, title := range []string{"a", "b", "c"} {
		env.newClip(t, user, title)
	}

	page1, err := env.clips.List(context.Background(), user, 1, 2, "", "")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(page1.Clips) != 2 || page1.Total != 3 {
		t.Errorf("page 1: got %d clips of %d total, want 2 of 3", len(page1.Clips), page1.Total)
	}
	if !page1.HasNext || page1.HasPrev {
		t.Errorf("page 1: HasNext=%v HasPrev=%v, want true false", page1.HasNext, page1.HasPrev)
	}

	page2, err := env.clips.List(context.Background(), user, 2, 2, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(page2.Clips) != 1 || page2.HasNext || !page2.HasPrev {
		t.Errorf("page 2: got %d clips, HasNext=%v HasPrev=%v", len(page2.Clips), page2.HasNext, page2.HasPrev)
	}
}

func TestDelete(t *testing.T) {
	env := newTestEnv(t)
	owner := env.newUser(t)
	stranger := env.newUser(t)
	clip := env.newClip(t, owner, "short lived")

	if err := env.clips.Delete(context.Background(), stranger, clip.ID); !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("Delete() by non-owner error = %v, want ErrNotFound", err)
	}
	if err := env.clips.Delete(context.Background(), owner, clip.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := env.db.GetClipByID(context.Background(), clip.ID); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("clip still present after delete: %v", err)
	}
}

func TestPin(t *testing.T) {
	env := newTestEnv(t)
	user := env.newUser(t)
	clip := env.newClip(t, user, "keeper")

	pinned, err := env.clips.Pin(context.Background(), user, clip.ID, true)
	if err != nil {
		t.Fatalf("Pin() error = %v", err)
	}
	if !pinned.IsPinned {
		t.Error("clip not pinned")
	}

	unpinned, err := env.clips.Pin(context.Background(), user, clip.ID, false)
	if err != nil {
		t.Fatal(err)
	}
	if unpinned.IsPinned {
		t.Error("clip still pinned after unpin")
	}
}
