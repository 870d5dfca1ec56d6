package models

import (
	"time"

	"github.com/google/uuid"
)

// FaceBinding maps a user identity to the canonical provider face
// identifier representing that user. Historical migrations left some
// users with multiple rows; the most recently created row wins.
type FaceBinding struct {
	ID        int64     `json:"id" db:"id"`
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	FaceID    string    `json:"face_id" db:"face_id"`
	// SourceKey is the blob-store key of the image the face was indexed
	// from, kept so a collection rebuild can re-index it.
	SourceKey string    `json:"source_key" db:"source_key"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
