package repair

import (
	"context"
	"time"

	"github.com/your-org/facematch/internal/models"
)

// Poller watches a reset job until it reaches a terminal status,
// reporting every observed snapshot to a callback.
type Poller struct {
	jobs     JobStore
	interval time.Duration
}

func NewPoller(jobs JobStore, interval time.Duration) *Poller {
	return &Poller{jobs: jobs, interval: interval}
}

// Watch polls the job at a fixed interval. onUpdate fires for every
// snapshot, including the terminal one, after which Watch returns the
// final job. Cancelling ctx stops the loop between polls.
func (p *Poller) Watch(ctx context.Context, jobID int64, onUpdate func(*models.ResetJob)) (*models.ResetJob, error) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		job, err := p.jobs.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if job != nil {
			if onUpdate != nil {
				onUpdate(job)
			}
			if job.Status.Terminal() {
				return job, nil
			}
		}

		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}
