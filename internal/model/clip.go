package model

import "time"

// ClipType classifies what a clip holds. Text and markdown clips carry their
// payload in Content; the media types are backed by associated File records
// and may have no inline content at all.
type ClipType string

const (
	ClipTypeText     ClipType = "text"
	ClipTypeMarkdown ClipType = "markdown"
	ClipTypeFile     ClipType = "file"
	ClipTypeImage    ClipType = "image"
	ClipTypeVideo    ClipType = "video"
	ClipTypeAudio    ClipType = "audio"
)

// Valid reports whether t is one of the known clip types.
func (t ClipType) Valid() bool {
	switch t {
	case ClipTypeText, ClipTypeMarkdown, ClipTypeFile, ClipTypeImage, ClipTypeVideo, ClipTypeAudio:
		return true
	}
	return false
}

// AccessLevel is the sharing state of a clip.
//
// The three levels form a small state machine (see service.ClipService.Update):
//
//	private   — only the owner can read it; ShareToken is empty
//	public    — anyone holding the share token can read it
//	encrypted — the share token reaches it, but a password is also required
type AccessLevel string

const (
	AccessPrivate   AccessLevel = "private"
	AccessPublic    AccessLevel = "public"
	AccessEncrypted AccessLevel = "encrypted"
)

// Valid reports whether a is one of the known access levels.
func (a AccessLevel) Valid() bool {
	switch a {
	case AccessPrivate, AccessPublic, AccessEncrypted:
		return true
	}
	return false
}

// Clip is a stored piece of clipboard content owned by exactly one user.
//
// INVARIANTS (kept by the service layer, asserted in tests):
//   - ShareToken is empty iff AccessLevel == private
//   - PasswordHash is non-empty iff AccessLevel == encrypted
//   - a pinned clip is never removed by LRU eviction or anonymous expiry
//
// LastAccessed and AccessCount are bumped on every successful read — they
// are what the LRU eviction policy orders by.
type Clip struct {
	ID           string      `json:"id"`
	OwnerID      string      `json:"ownerId"`
	Title        string      `json:"title,omitempty"`
	Content      string      `json:"content,omitempty"`
	ClipType     ClipType    `json:"clipType"`
	AccessLevel  AccessLevel `json:"accessLevel"`
	PasswordHash string      `json:"-"`
	ShareToken   string      `json:"shareToken,omitempty"`
	IsPinned     bool        `json:"isPinned"`
	AccessCount  int64       `json:"accessCount"`
	LastAccessed time.Time   `json:"lastAccessed"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
	ExpiresAt    *time.Time  `json:"expiresAt,omitempty"` // nil = never expires
}

// Expired reports whether the clip's explicit expiry has passed at the given
// instant. Expired clips are treated as not-found on every read path, even
// before a sweep physically removes them.
func (c *Clip) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}
