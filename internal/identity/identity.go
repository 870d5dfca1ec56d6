// Package identity classifies the external identifiers attached to
// indexed faces. Faces indexed during user registration carry the user
// id itself; faces indexed as part of a photo carry a synthetic
// "photo_<id>" identifier that must never be treated as a user.
package identity

import (
	"strings"

	"github.com/google/uuid"
)

// PhotoPrefix marks synthetic external identifiers produced by
// photo-scoped indexing.
const PhotoPrefix = "photo_"

type Kind int

const (
	// KindUnknown means the identifier matched no known shape.
	KindUnknown Kind = iota
	// KindUser is a registered user identity.
	KindUser
	// KindPhoto is a synthetic photo-scoped identifier.
	KindPhoto
)

// ExternalID is the resolved form of a provider ExternalImageId.
// Exactly one of UserID / PhotoID is set, depending on Kind.
type ExternalID struct {
	Kind    Kind
	UserID  uuid.UUID
	PhotoID uuid.UUID
}

// Parse resolves a raw external identifier immediately after the
// provider boundary so later stages never have to string-match.
func Parse(raw string) ExternalID {
	if rest, ok := strings.CutPrefix(raw, PhotoPrefix); ok {
		if id, err := uuid.Parse(rest); err == nil {
			return ExternalID{Kind: KindPhoto, PhotoID: id}
		}
		return ExternalID{Kind: KindUnknown}
	}
	if id, err := uuid.Parse(raw); err == nil {
		return ExternalID{Kind: KindUser, UserID: id}
	}
	return ExternalID{Kind: KindUnknown}
}

// ForPhoto builds the synthetic external identifier for a photo.
func ForPhoto(photoID uuid.UUID) string {
	return PhotoPrefix + photoID.String()
}

// ForUser builds the external identifier for a registered user.
func ForUser(userID uuid.UUID) string {
	return userID.String()
}
