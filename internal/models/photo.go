package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SourceTable records which physical table a photo row came from, so
// later writes go back to the same place.
type SourceTable string

const (
	SourceCurrent SourceTable = "photos"
	SourceLegacy  SourceTable = "photos_legacy"
)

// Photo is the canonical in-memory shape of a photo record. Rows from
// either physical table are normalized into this shape before any
// matching decision is made.
type Photo struct {
	ID         uuid.UUID `json:"id" db:"id"`
	StorageKey string    `json:"storage_key" db:"storage_key"`
	PublicURL  string    `json:"public_url" db:"public_url"`
	OwnerID    uuid.UUID `json:"uploaded_by" db:"uploaded_by"`
	FileSize   int64     `json:"file_size" db:"file_size"`
	FileType   string    `json:"file_type" db:"file_type"`

	Faces        []Face        `json:"faces" db:"faces"`
	MatchedUsers []MatchedUser `json:"matched_users" db:"matched_users"`
	// FaceIDs holds every provider face identifier indexed for this photo,
	// kept flat for fast containment checks.
	FaceIDs []string `json:"face_ids" db:"face_ids"`

	Location     Location     `json:"location" db:"location"`
	Venue        Venue        `json:"venue" db:"venue"`
	EventDetails EventDetails `json:"event_details" db:"event_details"`

	Source    SourceTable `json:"-" db:"-"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt time.Time   `json:"updated_at" db:"updated_at"`
}

// Face is one detected face within a photo. FaceID stays empty until
// provider indexing succeeds; UserID stays nil until the face is
// resolved to an identity, and Confidence is meaningful only then.
type Face struct {
	FaceID     string          `json:"faceId"`
	UserID     uuid.UUID       `json:"userId"`
	Confidence float64         `json:"confidence"`
	Attributes json.RawMessage `json:"attributes,omitempty"`
}

// MatchedUser is the display-ready projection of "this identity appears
// in this photo". Confidence and Similarity are on a 0-100 scale;
// entries below the configured threshold are never persisted.
type MatchedUser struct {
	UserID     uuid.UUID `json:"userId"`
	FaceID     string    `json:"faceId"`
	FullName   string    `json:"fullName"`
	AvatarURL  string    `json:"avatarUrl,omitempty"`
	Confidence float64   `json:"confidence"`
	Similarity float64   `json:"similarity"`
	MatchedAt  time.Time `json:"matched_at"`
}

// HasMatch reports whether the photo's persisted match list already
// contains the given identity.
func (p *Photo) HasMatch(userID uuid.UUID) bool {
	for _, m := range p.MatchedUsers {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// HasFaceID reports whether the photo carries the given provider face
// identifier, checking both the flat FaceIDs list and the faces entries.
func (p *Photo) HasFaceID(faceID string) bool {
	if faceID == "" {
		return false
	}
	for _, id := range p.FaceIDs {
		if id == faceID {
			return true
		}
	}
	for _, f := range p.Faces {
		if f.FaceID == faceID {
			return true
		}
	}
	return false
}

// Location, Venue and EventDetails use pointer fields so an absent
// value round-trips as null instead of a zero that looks real.

type Location struct {
	Lat  *float64 `json:"lat"`
	Lng  *float64 `json:"lng"`
	Name *string  `json:"name"`
}

type Venue struct {
	ID   *string `json:"id"`
	Name *string `json:"name"`
}

type EventDetails struct {
	Date *string `json:"date"`
	Name *string `json:"name"`
	Type *string `json:"type"`
}

// Profile is the slice of user directory data needed to build a
// MatchedUser entry.
type Profile struct {
	ID        uuid.UUID `json:"id" db:"id"`
	FullName  string    `json:"full_name" db:"full_name"`
	Email     string    `json:"email" db:"email"`
	AvatarURL string    `json:"avatar_url" db:"avatar_url"`
}
