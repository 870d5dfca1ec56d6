package dto

import "github.com/google/uuid"

type RegisterFaceResponse struct {
	FaceID            string `json:"faceId"`
	AlreadyRegistered bool   `json:"already_registered"`
	MatchCount        int    `json:"match_count"`
	RepairsScheduled  int    `json:"repairs_scheduled"`
}

// FaceIDHintRequest lets a client report the canonical face identifier
// it last saw for a user, used as the final lookup fallback.
type FaceIDHintRequest struct {
	UserID uuid.UUID `json:"user_id" binding:"required"`
	FaceID string    `json:"face_id" binding:"required"`
}

type FaceIDResponse struct {
	UserID uuid.UUID `json:"user_id"`
	FaceID string    `json:"face_id"`
}
