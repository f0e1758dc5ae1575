// Package model defines the data structures used throughout the application.
package model

import "time"

// Default quotas applied to newly registered users. Anonymous users get the
// (smaller) limits from the config instead — see service.AccountService.
const (
	DefaultMaxClips     = 1000
	DefaultStorageQuota = 1 << 30 // 1GB
)

// User is a principal that owns clips and files. It comes in two flavours:
//
//   - registered: Username/Email/PasswordHash are set, SessionID is empty
//   - anonymous:  SessionID is set, the credential fields are empty
//
// Exactly one of the two identity shapes is ever populated. IsAnonymous tells
// callers which shape they're looking at without sniffing fields.
//
// WHY Username string (not *string)?
// The DB column is nullable (anonymous users have no username), but in Go we
// use the empty string as the "absent" value rather than a pointer — simpler
// to work with and safe to display. The repository maps "" ↔ NULL.
type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username,omitempty"`
	Email        string     `json:"email,omitempty"`
	PasswordHash string     `json:"-"` // never serialized
	FullName     string     `json:"fullName,omitempty"`
	IsActive     bool       `json:"isActive"`
	IsAdmin      bool       `json:"isAdmin"`
	IsAnonymous  bool       `json:"isAnonymous"`
	SessionID    string     `json:"-"` // anonymous session identifier; acts as a credential, so never serialized
	MaxClips     int        `json:"maxClips"`     // item quota enforced by the retention engine
	StorageQuota int64      `json:"storageQuota"` // bytes
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	LastLogin    *time.Time `json:"lastLogin,omitempty"`
}
