package dto

import (
	"github.com/google/uuid"

	"github.com/your-org/facematch/internal/models"
)

type PhotoResponse struct {
	ID           uuid.UUID            `json:"id"`
	URL          string               `json:"url"`
	StorageKey   string               `json:"storage_key"`
	UploadedBy   uuid.UUID            `json:"uploaded_by"`
	FileSize     int64                `json:"file_size,omitempty"`
	FileType     string               `json:"file_type,omitempty"`
	Faces        []models.Face        `json:"faces"`
	MatchedUsers []models.MatchedUser `json:"matched_users"`
	FaceIDs      []string             `json:"face_ids"`
	Location     models.Location      `json:"location"`
	Venue        models.Venue         `json:"venue"`
	EventDetails models.EventDetails  `json:"event_details"`
	Source       string               `json:"source"`
	CreatedAt    string               `json:"created_at"`
}

// UploadPhotoResponse carries the stored photo plus the pipeline
// outcome. FaceStatus distinguishes the different kinds of "no matched
// users": none found, no faces at all, or a degraded search.
type UploadPhotoResponse struct {
	Photo      PhotoResponse `json:"photo"`
	FaceStatus string        `json:"face_status"`
}

// PhotoListResponse is a merged query answer. Strategy labels how
// match-mode rows were produced; Fallback marks a best-effort recency
// scan rather than a verified match relation.
type PhotoListResponse struct {
	Photos   []PhotoResponse `json:"photos"`
	Total    int             `json:"total"`
	Strategy string          `json:"strategy,omitempty"`
	Fallback bool            `json:"fallback"`
}

func PhotoToResponse(p *models.Photo) PhotoResponse {
	return PhotoResponse{
		ID:           p.ID,
		URL:          p.PublicURL,
		StorageKey:   p.StorageKey,
		UploadedBy:   p.OwnerID,
		FileSize:     p.FileSize,
		FileType:     p.FileType,
		Faces:        p.Faces,
		MatchedUsers: p.MatchedUsers,
		FaceIDs:      p.FaceIDs,
		Location:     p.Location,
		Venue:        p.Venue,
		EventDetails: p.EventDetails,
		Source:       string(p.Source),
		CreatedAt:    p.CreatedAt.Format("2006-01-02T15:04:05Z"),
	}
}
