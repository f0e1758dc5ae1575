package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sakif/cliplru/internal/apperror"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return st
}

func TestStageAndCommit(t *testing.T) {
	st := newTestStore(t)
	content := "hello, content-addressed world"

	staged, err := st.Stage(strings.NewReader(content), 1024)
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	defer staged.Discard()

	sum := sha256.Sum256([]byte(content))
	if staged.Hash != hex.EncodeToString(sum[:]) {
		t.Errorf("Hash = %s, want sha256 of content", staged.Hash)
	}
	if staged.Size != int64(len(content)) {
		t.Errorf("Size = %d, want %d", staged.Size, len(content))
	}

	name := st.BlobName(staged.Hash, "notes.txt")
	path, err := st.Commit(staged, name)
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if path != st.Path(name) {
		t.Errorf("Commit path = %q, want %q", path, st.Path(name))
	}

	rc, err := st.Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != content {
		t.Errorf("blob content = %q, want %q", got, content)
	}
}

func TestStage_EnforcesSizeCeiling(t *testing.T) {
	st := newTestStore(t)

	_, err := st.Stage(strings.NewReader("0123456789"), 5)
	if !errors.Is(err, apperror.ErrTooLarge) {
		t.Fatalf("error = %v, want ErrTooLarge", err)
	}

	// The oversized temp file must not survive.
	entries, err := os.ReadDir(st.root)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("found %d leftover files after rejected stage", len(entries))
	}
}

func TestStage_ExactLimitAccepted(t *testing.T) {
	st := newTestStore(t)

	staged, err := st.Stage(strings.NewReader("12345"), 5)
	if err != nil {
		t.Fatalf("Stage() at exact limit error = %v", err)
	}
	staged.Discard()
}

func TestDiscard_RemovesTempFile(t *testing.T) {
	st := newTestStore(t)

	staged, err := st.Stage(strings.NewReader("ephemeral"), 100)
	if err != nil {
		t.Fatal(err)
	}
	staged.Discard()
	staged.Discard() // second call is a no-op

	entries, err := os.ReadDir(st.root)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("found %d leftover files after discard", len(entries))
	}
}

func TestBlobName_KeepsExtension(t *testing.T) {
	st := newTestStore(t)

	if got := st.BlobName("abc123", "photo.jpeg"); got != "abc123.jpeg" {
		t.Errorf("BlobName = %q, want %q", got, "abc123.jpeg")
	}
	if got := st.BlobName("abc123", "noext"); got != "abc123" {
		t.Errorf("BlobName = %q, want %q", got, "abc123")
	}
}

func TestOpen_Missing(t *testing.T) {
	st := newTestStore(t)

	_, err := st.Open(filepath.Join(st.root, "missing.bin"))
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestRemove_MissingIsNotAnError(t *testing.T) {
	st := newTestStore(t)

	if err := st.Remove(filepath.Join(st.root, "gone.bin")); err != nil {
		t.Errorf("Remove() on missing blob error = %v, want nil", err)
	}
}

func TestRemoveAll_ContinuesPastMissing(t *testing.T) {
	st := newTestStore(t)

	staged, err := st.Stage(strings.NewReader("real"), 100)
	if err != nil {
		t.Fatal(err)
	}
	path, err := st.Commit(staged, st.BlobName(staged.Hash, "real.bin"))
	if err != nil {
		t.Fatal(err)
	}

	err = st.RemoveAll([]string{filepath.Join(st.root, "phantom.bin"), path})
	if err != nil {
		t.Fatalf("RemoveAll() error = %v", err)
	}
	if st.Exists(path) {
		t.Error("real blob survived RemoveAll")
	}
}
