// Package repair lets an operator trigger a full recognition-collection
// rebuild and observe its progress. The engine here is a client of the
// job record: transitions are owned by the worker executing the reset.
package repair

import (
	"context"
	"fmt"
	"time"

	"github.com/your-org/facematch/internal/models"
	"github.com/your-org/facematch/internal/observability"
)

// JobStore is the persistence surface for reset jobs.
type JobStore interface {
	CreateJob(ctx context.Context) (*models.ResetJob, error)
	GetJob(ctx context.Context, id int64) (*models.ResetJob, error)
	// LatestJob returns the most recently created job, or nil.
	LatestJob(ctx context.Context) (*models.ResetJob, error)
}

// ResetPublisher hands the rebuild request to the background worker.
type ResetPublisher interface {
	PublishReset(ctx context.Context, task models.ResetTask) error
}

type Scheduler struct {
	jobs         JobStore
	publisher    ResetPublisher
	resumeWindow time.Duration
}

func NewScheduler(jobs JobStore, publisher ResetPublisher, resumeWindow time.Duration) *Scheduler {
	return &Scheduler{jobs: jobs, publisher: publisher, resumeWindow: resumeWindow}
}

// StartRepair creates a reset job and asks the worker to run it. If a
// recent job is still in a non-terminal state it is returned instead,
// so two operators cannot stack rebuilds on top of each other.
func (s *Scheduler) StartRepair(ctx context.Context) (*models.ResetJob, error) {
	if job, err := s.Resume(ctx); err != nil {
		return nil, err
	} else if job != nil {
		return job, nil
	}

	job, err := s.jobs.CreateJob(ctx)
	if err != nil {
		return nil, fmt.Errorf("create reset job: %w", err)
	}
	if err := s.publisher.PublishReset(ctx, models.ResetTask{JobID: job.ID}); err != nil {
		return nil, fmt.Errorf("publish reset task: %w", err)
	}
	observability.ResetJobsStarted.Inc()
	return job, nil
}

// Resume returns a recent job that is still running, or nil when there
// is nothing to re-attach to.
func (s *Scheduler) Resume(ctx context.Context) (*models.ResetJob, error) {
	latest, err := s.jobs.LatestJob(ctx)
	if err != nil {
		return nil, fmt.Errorf("load latest reset job: %w", err)
	}
	if latest == nil || latest.Status.Terminal() {
		return nil, nil
	}
	if s.resumeWindow > 0 && time.Since(latest.CreatedAt) > s.resumeWindow {
		// Stale: the worker likely died mid-job. Treat as not running.
		return nil, nil
	}
	return latest, nil
}

// PollStatus reads the job record once.
func (s *Scheduler) PollStatus(ctx context.Context, jobID int64) (*models.ResetJob, error) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("poll reset job: %w", err)
	}
	return job, nil
}
