package models

import (
	"time"

	"github.com/google/uuid"
)

// MatchRepairTask is the message published to NATS when a face-level
// match needs to be promoted into a photo's persisted match list. The
// worker holds it until NotBefore, then applies an idempotent append,
// so redelivery is harmless.
type MatchRepairTask struct {
	PhotoID   uuid.UUID   `json:"photo_id"`
	Source    SourceTable `json:"source"`
	Match     MatchedUser `json:"match"`
	NotBefore time.Time   `json:"not_before"`
}

// ResetTask asks the worker to execute one collection reset job.
type ResetTask struct {
	JobID int64 `json:"job_id"`
}
