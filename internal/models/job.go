package models

import "time"

// JobStatus is the three-state-plus-initial lifecycle of a collection
// reset job. Transitions are driven entirely by the worker executing
// the reset; everything else only reads the record.
type JobStatus string

const (
	JobRequested  JobStatus = "requested"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether no further transitions can happen.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// ResetJob tracks one long-running collection rebuild.
type ResetJob struct {
	ID        int64     `json:"id" db:"id"`
	Status    JobStatus `json:"status" db:"status"`
	Message   string    `json:"message" db:"message"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
