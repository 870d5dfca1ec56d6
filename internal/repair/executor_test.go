package repair

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/facematch/internal/models"
	"github.com/your-org/facematch/internal/provider"
)

type fakeCollection struct {
	deleteErr error
	createErr error
	deleted   bool
	created   bool

	indexErr error
	nextFace int
	indexed  []string
}

func (f *fakeCollection) DeleteCollection(ctx context.Context) error {
	f.deleted = true
	return f.deleteErr
}

func (f *fakeCollection) CreateCollection(ctx context.Context) error {
	f.created = true
	return f.createErr
}

func (f *fakeCollection) Detect(ctx context.Context, image []byte) ([]provider.DetectedFace, error) {
	return nil, nil
}

func (f *fakeCollection) Index(ctx context.Context, image []byte, externalID string) ([]provider.IndexedFace, error) {
	if f.indexErr != nil {
		return nil, f.indexErr
	}
	f.nextFace++
	id := "rebuilt-" + externalID
	f.indexed = append(f.indexed, id)
	return []provider.IndexedFace{{FaceID: id, ExternalID: externalID}}, nil
}

func (f *fakeCollection) SearchByImage(ctx context.Context, image []byte) ([]provider.Match, error) {
	return nil, nil
}

func (f *fakeCollection) SearchByFaceID(ctx context.Context, faceID string) ([]provider.Match, error) {
	return nil, nil
}

type fakeBlobs struct {
	objects map[string][]byte
}

func (f *fakeBlobs) GetObject(ctx context.Context, key string) ([]byte, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, errors.New("object not found: " + key)
	}
	return data, nil
}

type fakeBindingList struct {
	bindings []models.FaceBinding
	saved    []models.FaceBinding
}

func (f *fakeBindingList) AllBindings(ctx context.Context) ([]models.FaceBinding, error) {
	return f.bindings, nil
}

func (f *fakeBindingList) SaveBinding(ctx context.Context, userID uuid.UUID, faceID, sourceKey string) error {
	f.saved = append(f.saved, models.FaceBinding{UserID: userID, FaceID: faceID, SourceKey: sourceKey})
	return nil
}

type fakeInvalidator struct {
	invalidated []uuid.UUID
}

func (f *fakeInvalidator) Invalidate(userID uuid.UUID) {
	f.invalidated = append(f.invalidated, userID)
}

func TestExecuteRebuildsCollection(t *testing.T) {
	userA, userB := uuid.New(), uuid.New()
	coll := &fakeCollection{}
	blobs := &fakeBlobs{objects: map[string][]byte{
		"registrations/a.jpg": []byte("a"),
		"registrations/b.jpg": []byte("b"),
	}}
	// Newest first: the later key for userA wins, the older one is skipped.
	bindings := &fakeBindingList{bindings: []models.FaceBinding{
		{UserID: userA, FaceID: "f-a2", SourceKey: "registrations/a.jpg"},
		{UserID: userB, FaceID: "f-b", SourceKey: "registrations/b.jpg"},
		{UserID: userA, FaceID: "f-a1", SourceKey: "registrations/stale.jpg"},
	}}
	jobs := newFakeJobStore()
	jobs.jobs[1] = &models.ResetJob{ID: 1, Status: models.JobRequested}
	cache := &fakeInvalidator{}

	ex := NewExecutor(jobs, coll, coll, bindings, bindings, blobs, slog.Default()).WithCache(cache)
	err := ex.Execute(context.Background(), 1)

	require.NoError(t, err)
	assert.True(t, coll.deleted)
	assert.True(t, coll.created)
	assert.Len(t, bindings.saved, 2)
	assert.Len(t, cache.invalidated, 2)
	assert.Equal(t, models.JobCompleted, jobs.jobs[1].Status)
	assert.Equal(t, "rebuilt collection with 2 faces", jobs.jobs[1].Message)
}

func TestExecuteSkipsBadImagesAndFinishes(t *testing.T) {
	userA, userB := uuid.New(), uuid.New()
	coll := &fakeCollection{}
	blobs := &fakeBlobs{objects: map[string][]byte{
		"registrations/b.jpg": []byte("b"),
	}}
	bindings := &fakeBindingList{bindings: []models.FaceBinding{
		{UserID: userA, FaceID: "f-a", SourceKey: "registrations/missing.jpg"},
		{UserID: userB, FaceID: "f-b", SourceKey: "registrations/b.jpg"},
	}}
	jobs := newFakeJobStore()
	jobs.jobs[1] = &models.ResetJob{ID: 1}

	ex := NewExecutor(jobs, coll, coll, bindings, bindings, blobs, slog.Default())
	err := ex.Execute(context.Background(), 1)

	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, jobs.jobs[1].Status)
	assert.Equal(t, "rebuilt collection with 1 faces", jobs.jobs[1].Message)
}

func TestExecuteSkipsBindingsWithoutSource(t *testing.T) {
	coll := &fakeCollection{}
	bindings := &fakeBindingList{bindings: []models.FaceBinding{
		{UserID: uuid.New(), FaceID: "f-a", SourceKey: ""},
	}}
	jobs := newFakeJobStore()
	jobs.jobs[1] = &models.ResetJob{ID: 1}

	ex := NewExecutor(jobs, coll, coll, bindings, bindings, &fakeBlobs{}, slog.Default())
	err := ex.Execute(context.Background(), 1)

	require.NoError(t, err)
	assert.Equal(t, "rebuilt collection with 0 faces", jobs.jobs[1].Message)
}

func TestExecuteMarksJobFailedOnDeleteError(t *testing.T) {
	coll := &fakeCollection{deleteErr: errors.New("access denied")}
	jobs := newFakeJobStore()
	jobs.jobs[1] = &models.ResetJob{ID: 1}

	ex := NewExecutor(jobs, coll, coll, &fakeBindingList{}, &fakeBindingList{}, &fakeBlobs{}, slog.Default())
	err := ex.Execute(context.Background(), 1)

	require.Error(t, err)
	assert.Equal(t, models.JobFailed, jobs.jobs[1].Status)
	assert.Contains(t, jobs.jobs[1].Message, "delete collection")
	assert.False(t, coll.created)
}

type capturingNotifier struct {
	snapshots []models.ResetJob
}

func (c *capturingNotifier) ResetProgress(job *models.ResetJob) {
	c.snapshots = append(c.snapshots, *job)
}

func TestExecuteNotifiesProgress(t *testing.T) {
	coll := &fakeCollection{}
	jobs := newFakeJobStore()
	jobs.jobs[1] = &models.ResetJob{ID: 1}
	notifier := &capturingNotifier{}

	ex := NewExecutor(jobs, coll, coll, &fakeBindingList{}, &fakeBindingList{}, &fakeBlobs{}, slog.Default()).
		WithNotifier(notifier)
	err := ex.Execute(context.Background(), 1)

	require.NoError(t, err)
	require.NotEmpty(t, notifier.snapshots)
	assert.Equal(t, models.JobProcessing, notifier.snapshots[0].Status)
	assert.Equal(t, models.JobCompleted, notifier.snapshots[len(notifier.snapshots)-1].Status)
}
