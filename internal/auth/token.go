package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
)

// NewShareToken mints an unguessable, URL-safe share token.
//
// 32 bytes of crypto/rand entropy, base64url-encoded without padding →
// a 43-character token. Share tokens are capabilities (holding one grants
// read access), so they must be unpredictable — which is why they are NOT
// xids: xid is sortable by creation time and trivially guessable.
func NewShareToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: generating share token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// NewSessionID mints an identifier for an anonymous session.
//
// Session IDs are also credentials (presenting one authenticates the
// anonymous user), so they come from uuid.NewRandom — 122 bits of
// crypto/rand entropy in a familiar shape for client storage.
func NewSessionID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("auth: generating session id: %w", err)
	}
	return id.String(), nil
}
