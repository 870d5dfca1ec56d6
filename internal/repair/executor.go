package repair

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/your-org/facematch/internal/identity"
	"github.com/your-org/facematch/internal/models"
	"github.com/your-org/facematch/internal/provider"
)

// JobUpdater records status transitions for a reset job. Only the
// executor writes transitions.
type JobUpdater interface {
	UpdateJobStatus(ctx context.Context, id int64, status models.JobStatus, message string) error
}

// BindingLister exposes the registered-face bindings to re-index,
// newest first so the most recent registration for a person wins.
type BindingLister interface {
	AllBindings(ctx context.Context) ([]models.FaceBinding, error)
}

// BindingWriter stores the binding produced by a re-index.
type BindingWriter interface {
	SaveBinding(ctx context.Context, userID uuid.UUID, faceID, sourceKey string) error
}

// BlobFetcher loads the original registration image from object
// storage.
type BlobFetcher interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
}

// ProgressNotifier pushes job snapshots to connected clients. It may
// be nil.
type ProgressNotifier interface {
	ResetProgress(job *models.ResetJob)
}

// FaceIDInvalidator drops cached face identifiers that a rebuild makes
// stale.
type FaceIDInvalidator interface {
	Invalidate(userID uuid.UUID)
}

// Executor runs a collection rebuild: drop the provider collection,
// recreate it, then re-index every registered face from its stored
// source image. Runs on the worker.
type Executor struct {
	jobs     JobUpdater
	faces    provider.FaceProvider
	admin    provider.CollectionAdmin
	bindings BindingLister
	writer   BindingWriter
	blobs    BlobFetcher
	notifier ProgressNotifier
	cache    FaceIDInvalidator
	logger   *slog.Logger
}

func NewExecutor(jobs JobUpdater, faces provider.FaceProvider, admin provider.CollectionAdmin,
	bindings BindingLister, writer BindingWriter, blobs BlobFetcher, logger *slog.Logger) *Executor {
	return &Executor{
		jobs:     jobs,
		faces:    faces,
		admin:    admin,
		bindings: bindings,
		writer:   writer,
		blobs:    blobs,
		logger:   logger,
	}
}

// WithNotifier attaches a progress notifier.
func (e *Executor) WithNotifier(n ProgressNotifier) *Executor {
	e.notifier = n
	return e
}

// WithCache attaches a face-ID cache to invalidate per re-indexed user.
func (e *Executor) WithCache(c FaceIDInvalidator) *Executor {
	e.cache = c
	return e
}

// Execute performs the rebuild for one job. A failure at any step marks
// the job failed with the step's error as the message; the error is
// also returned so the consumer can log it.
func (e *Executor) Execute(ctx context.Context, jobID int64) error {
	if err := e.transition(ctx, jobID, models.JobProcessing, "deleting face collection"); err != nil {
		return err
	}

	if err := e.admin.DeleteCollection(ctx); err != nil {
		return e.fail(ctx, jobID, fmt.Errorf("delete collection: %w", err))
	}
	if err := e.transition(ctx, jobID, models.JobProcessing, "recreating face collection"); err != nil {
		return err
	}
	if err := e.admin.CreateCollection(ctx); err != nil {
		return e.fail(ctx, jobID, fmt.Errorf("create collection: %w", err))
	}

	bindings, err := e.bindings.AllBindings(ctx)
	if err != nil {
		return e.fail(ctx, jobID, fmt.Errorf("list face bindings: %w", err))
	}

	if err := e.transition(ctx, jobID, models.JobProcessing,
		fmt.Sprintf("re-indexing %d registered faces", len(bindings))); err != nil {
		return err
	}

	reindexed := 0
	seen := make(map[uuid.UUID]bool, len(bindings))
	for _, b := range bindings {
		if seen[b.UserID] {
			continue
		}
		seen[b.UserID] = true
		if b.SourceKey == "" {
			e.logger.Warn("binding has no source image, skipping", "user_id", b.UserID)
			continue
		}
		if err := e.reindex(ctx, b); err != nil {
			// One bad image must not sink the whole rebuild.
			e.logger.Error("re-index failed", "user_id", b.UserID, "error", err)
			continue
		}
		reindexed++
	}

	return e.transition(ctx, jobID, models.JobCompleted,
		fmt.Sprintf("rebuilt collection with %d faces", reindexed))
}

func (e *Executor) reindex(ctx context.Context, b models.FaceBinding) error {
	image, err := e.blobs.GetObject(ctx, b.SourceKey)
	if err != nil {
		return fmt.Errorf("fetch source image: %w", err)
	}
	indexed, err := e.faces.Index(ctx, image, identity.ForUser(b.UserID))
	if err != nil {
		return fmt.Errorf("index face: %w", err)
	}
	if len(indexed) == 0 {
		return fmt.Errorf("no face indexed from %s", b.SourceKey)
	}
	if err := e.writer.SaveBinding(ctx, b.UserID, indexed[0].FaceID, b.SourceKey); err != nil {
		return fmt.Errorf("save binding: %w", err)
	}
	if e.cache != nil {
		e.cache.Invalidate(b.UserID)
	}
	return nil
}

func (e *Executor) transition(ctx context.Context, jobID int64, status models.JobStatus, message string) error {
	if err := e.jobs.UpdateJobStatus(ctx, jobID, status, message); err != nil {
		return fmt.Errorf("update reset job %d: %w", jobID, err)
	}
	if e.notifier != nil {
		e.notifier.ResetProgress(&models.ResetJob{ID: jobID, Status: status, Message: message})
	}
	e.logger.Info("reset job progress", "job_id", jobID, "status", status, "message", message)
	return nil
}

func (e *Executor) fail(ctx context.Context, jobID int64, cause error) error {
	if err := e.transition(ctx, jobID, models.JobFailed, cause.Error()); err != nil {
		e.logger.Error("failed to mark reset job failed", "job_id", jobID, "error", err)
	}
	return cause
}
