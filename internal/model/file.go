package model

import (
	"strings"
	"time"
)

// FileMetadata carries the media classification of an uploaded file.
// It's a plain typed struct populated field-by-field from the MIME type —
// every field has an explicit home rather than riding along in a loose map.
type FileMetadata struct {
	IsImage bool `json:"isImage"`
	IsVideo bool `json:"isVideo"`
	IsAudio bool `json:"isAudio"`
}

// MetadataFromMime derives FileMetadata from a MIME type string.
func MetadataFromMime(mimeType string) FileMetadata {
	return FileMetadata{
		IsImage: strings.HasPrefix(mimeType, "image/"),
		IsVideo: strings.HasPrefix(mimeType, "video/"),
		IsAudio: strings.HasPrefix(mimeType, "audio/"),
	}
}

// File is one user's reference to a content-addressed blob on disk.
//
// DEDUPLICATION MODEL:
// FileHash (sha256 of the bytes) is NOT unique — many File rows may share one
// hash, and all of them point at the same FilePath. The physical blob is only
// removed when the last row referencing its hash is deleted. Because the
// accounting is per-row, a user who uploads the same content twice is charged
// twice against their storage quota even though only one blob exists.
type File struct {
	ID               string `json:"id"`
	OwnerID          string `json:"ownerId"`
	ClipID           string `json:"clipId,omitempty"` // optional association; "" = standalone upload
	Filename         string `json:"filename"`         // digest-derived physical name, e.g. "ab12...ef.png"
	OriginalFilename string `json:"originalFilename"` // what the uploader called it
	FilePath         string `json:"-"`                // absolute path on disk; shared across rows with equal hash
	FileSize         int64  `json:"fileSize"`
	MimeType         string `json:"mimeType"`
	FileHash         string `json:"fileHash"` // sha256 hex digest — the dedup key

	FileMetadata

	DownloadCount  int64      `json:"downloadCount"`
	LastDownloaded *time.Time `json:"lastDownloaded,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}
