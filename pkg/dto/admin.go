package dto

import (
	"github.com/google/uuid"

	"github.com/your-org/facematch/internal/models"
)

type ResetJobResponse struct {
	ID        int64  `json:"id"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	Resumed   bool   `json:"resumed,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func ResetJobToResponse(j *models.ResetJob, resumed bool) ResetJobResponse {
	return ResetJobResponse{
		ID:        j.ID,
		Status:    string(j.Status),
		Message:   j.Message,
		Resumed:   resumed,
		CreatedAt: j.CreatedAt.Format("2006-01-02T15:04:05Z"),
		UpdatedAt: j.UpdatedAt.Format("2006-01-02T15:04:05Z"),
	}
}

// WSEvent is a WebSocket message for real-time delivery.
type WSEvent struct {
	Type    string              `json:"type"` // match_found, repair_applied, reset_progress
	PhotoID uuid.UUID           `json:"photo_id,omitempty"`
	UserID  uuid.UUID           `json:"user_id,omitempty"`
	Match   *models.MatchedUser `json:"match,omitempty"`
	Job     *ResetJobResponse   `json:"job,omitempty"`
}
