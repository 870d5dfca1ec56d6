package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/facematch/internal/facecache"
	"github.com/your-org/facematch/internal/match"
	"github.com/your-org/facematch/internal/models"
	"github.com/your-org/facematch/internal/provider"
)

var frozenNow = func() time.Time {
	return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
}

type fakeProvider struct {
	detected  []provider.DetectedFace
	detectErr error

	indexed  []provider.IndexedFace
	indexErr error

	searchMatches []provider.Match
	searchErr     error

	byFaceIDMatches []provider.Match
	byFaceIDErr     error

	indexedExternalID string
}

func (f *fakeProvider) Detect(ctx context.Context, image []byte) ([]provider.DetectedFace, error) {
	return f.detected, f.detectErr
}

func (f *fakeProvider) Index(ctx context.Context, image []byte, externalID string) ([]provider.IndexedFace, error) {
	f.indexedExternalID = externalID
	return f.indexed, f.indexErr
}

func (f *fakeProvider) SearchByImage(ctx context.Context, image []byte) ([]provider.Match, error) {
	return f.searchMatches, f.searchErr
}

func (f *fakeProvider) SearchByFaceID(ctx context.Context, faceID string) ([]provider.Match, error) {
	return f.byFaceIDMatches, f.byFaceIDErr
}

type fakePhotos struct {
	byID      map[uuid.UUID]*models.Photo
	byFaceIDs []models.Photo

	updated       *models.Photo
	appendErr     error
	appended      []models.MatchedUser
	privAppended  []models.MatchedUser
	privAppendErr error
}

func newFakePhotos() *fakePhotos {
	return &fakePhotos{byID: map[uuid.UUID]*models.Photo{}}
}

func (f *fakePhotos) GetFrom(ctx context.Context, source models.SourceTable, id uuid.UUID) (*models.Photo, error) {
	p, ok := f.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *fakePhotos) UpdateFaceData(ctx context.Context, photo *models.Photo) error {
	cp := *photo
	f.updated = &cp
	return nil
}

func (f *fakePhotos) AppendMatch(ctx context.Context, source models.SourceTable, photoID uuid.UUID, m models.MatchedUser) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.appended = append(f.appended, m)
	if p, ok := f.byID[photoID]; ok {
		p.MatchedUsers = append(p.MatchedUsers, m)
	}
	return nil
}

func (f *fakePhotos) AppendMatchPrivileged(ctx context.Context, source models.SourceTable, photoID uuid.UUID, m models.MatchedUser) error {
	if f.privAppendErr != nil {
		return f.privAppendErr
	}
	f.privAppended = append(f.privAppended, m)
	if p, ok := f.byID[photoID]; ok {
		p.MatchedUsers = append(p.MatchedUsers, m)
	}
	return nil
}

func (f *fakePhotos) ByFaceIDs(ctx context.Context, faceIDs []string) ([]models.Photo, error) {
	return f.byFaceIDs, nil
}

type fakeBindings struct {
	latest  *models.FaceBinding
	saved   []models.FaceBinding
	saveErr error
}

func (f *fakeBindings) LatestBinding(ctx context.Context, userID uuid.UUID) (*models.FaceBinding, error) {
	return f.latest, nil
}

func (f *fakeBindings) SaveBinding(ctx context.Context, userID uuid.UUID, faceID, sourceKey string) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, models.FaceBinding{UserID: userID, FaceID: faceID, SourceKey: sourceKey})
	return nil
}

type fakeDirectory struct {
	profiles map[uuid.UUID]models.Profile
}

func (f *fakeDirectory) ProfilesByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Profile, error) {
	return f.profiles, nil
}

type fakeAnalytics struct {
	recorded []models.MatchedUser
}

func (f *fakeAnalytics) RecordMatches(ctx context.Context, photoID uuid.UUID, matches []models.MatchedUser) error {
	f.recorded = append(f.recorded, matches...)
	return nil
}

type fakeScheduler struct {
	tasks []models.MatchRepairTask
	err   error
}

func (f *fakeScheduler) PublishRepair(ctx context.Context, task models.MatchRepairTask) error {
	if f.err != nil {
		return f.err
	}
	f.tasks = append(f.tasks, task)
	return nil
}

type fakeNotifier struct {
	matches []uuid.UUID
	repairs []uuid.UUID
}

func (f *fakeNotifier) MatchFound(photoID uuid.UUID, m models.MatchedUser) {
	f.matches = append(f.matches, photoID)
}

func (f *fakeNotifier) RepairApplied(photoID uuid.UUID, userID uuid.UUID) {
	f.repairs = append(f.repairs, photoID)
}

type engineFixture struct {
	provider  *fakeProvider
	photos    *fakePhotos
	bindings  *fakeBindings
	analytics *fakeAnalytics
	scheduler *fakeScheduler
	notifier  *fakeNotifier
	engine    *Engine
	userID    uuid.UUID
}

func newFixture(t *testing.T) *engineFixture {
	t.Helper()
	userID := uuid.New()
	prov := &fakeProvider{}
	photos := newFakePhotos()
	bindings := &fakeBindings{}
	analytics := &fakeAnalytics{}
	scheduler := &fakeScheduler{}
	notifier := &fakeNotifier{}

	dir := &fakeDirectory{profiles: map[uuid.UUID]models.Profile{
		userID: {ID: userID, FullName: "Ada"},
	}}
	resolver := match.NewResolver(dir, 80).WithClock(frozenNow)
	cache := facecache.New(time.Minute, nil, nil, nil)

	engine := NewEngine(prov, photos, bindings, resolver, dir, analytics, scheduler, cache, notifier, 5*time.Second).
		WithClock(frozenNow)

	return &engineFixture{
		provider:  prov,
		photos:    photos,
		bindings:  bindings,
		analytics: analytics,
		scheduler: scheduler,
		notifier:  notifier,
		engine:    engine,
		userID:    userID,
	}
}

func TestProcessUploadNoFaces(t *testing.T) {
	fx := newFixture(t)
	photo := &models.Photo{ID: uuid.New(), Source: models.SourceCurrent}

	result, err := fx.engine.ProcessUpload(context.Background(), photo, []byte("img"))

	require.NoError(t, err)
	assert.Equal(t, StatusNoFaces, result.Status)
	assert.Empty(t, result.Faces)
	assert.Empty(t, result.MatchedUsers)
	require.NotNil(t, fx.photos.updated)
	assert.Empty(t, fx.photos.updated.FaceIDs)
}

func TestProcessUploadDetectErrorDegradesToNoFaces(t *testing.T) {
	fx := newFixture(t)
	fx.provider.detectErr = errors.New("provider down")
	photo := &models.Photo{ID: uuid.New(), Source: models.SourceCurrent}

	result, err := fx.engine.ProcessUpload(context.Background(), photo, []byte("img"))

	require.NoError(t, err)
	assert.Equal(t, StatusNoFaces, result.Status)
	require.NotNil(t, fx.photos.updated)
}

func TestProcessUploadSearchFailureStillPersistsFaces(t *testing.T) {
	fx := newFixture(t)
	fx.provider.detected = []provider.DetectedFace{{Confidence: 99}}
	fx.provider.indexed = []provider.IndexedFace{{FaceID: "f-1"}}
	fx.provider.searchErr = errors.New("throttled")
	photo := &models.Photo{ID: uuid.New(), Source: models.SourceCurrent}

	result, err := fx.engine.ProcessUpload(context.Background(), photo, []byte("img"))

	require.NoError(t, err)
	assert.Equal(t, StatusSearchFailed, result.Status)
	require.Len(t, result.Faces, 1)
	require.NotNil(t, fx.photos.updated)
	assert.Equal(t, []string{"f-1"}, fx.photos.updated.FaceIDs)
	assert.Empty(t, fx.photos.updated.MatchedUsers)
}

func TestProcessUploadUsesPhotoScopedExternalID(t *testing.T) {
	fx := newFixture(t)
	fx.provider.detected = []provider.DetectedFace{{Confidence: 99}}
	fx.provider.indexed = []provider.IndexedFace{{FaceID: "f-1"}}
	photoID := uuid.New()
	photo := &models.Photo{ID: photoID, Source: models.SourceCurrent}

	_, err := fx.engine.ProcessUpload(context.Background(), photo, []byte("img"))

	require.NoError(t, err)
	assert.Equal(t, "photo_"+photoID.String(), fx.provider.indexedExternalID)
}

func TestProcessUploadMatched(t *testing.T) {
	fx := newFixture(t)
	fx.provider.detected = []provider.DetectedFace{{Confidence: 99}}
	fx.provider.indexed = []provider.IndexedFace{{FaceID: "f-1"}}
	fx.provider.searchMatches = []provider.Match{
		{FaceID: "f-1", ExternalID: fx.userID.String(), Similarity: 96},
	}
	photo := &models.Photo{ID: uuid.New(), Source: models.SourceCurrent}

	result, err := fx.engine.ProcessUpload(context.Background(), photo, []byte("img"))

	require.NoError(t, err)
	assert.Equal(t, StatusMatched, result.Status)
	require.Len(t, result.MatchedUsers, 1)
	assert.Equal(t, fx.userID, result.MatchedUsers[0].UserID)

	// Face entries carry the resolved identity.
	require.Len(t, result.Faces, 1)
	assert.Equal(t, fx.userID, result.Faces[0].UserID)

	require.NotNil(t, fx.photos.updated)
	require.Len(t, fx.photos.updated.MatchedUsers, 1)
	assert.Len(t, fx.analytics.recorded, 1)
	assert.Len(t, fx.notifier.matches, 1)
}

func TestProcessUploadNoMatches(t *testing.T) {
	fx := newFixture(t)
	fx.provider.detected = []provider.DetectedFace{{Confidence: 99}}
	fx.provider.indexed = []provider.IndexedFace{{FaceID: "f-1"}}
	// Only a synthetic hit from the photo's own faces.
	fx.provider.searchMatches = []provider.Match{
		{FaceID: "f-1", ExternalID: "photo_" + uuid.New().String(), Similarity: 99},
	}
	photo := &models.Photo{ID: uuid.New(), Source: models.SourceCurrent}

	result, err := fx.engine.ProcessUpload(context.Background(), photo, []byte("img"))

	require.NoError(t, err)
	assert.Equal(t, StatusNoMatches, result.Status)
	assert.Empty(t, result.MatchedUsers)
	assert.Empty(t, fx.analytics.recorded)
}

func TestStateOf(t *testing.T) {
	userID := uuid.New()

	unmatched := &models.Photo{}
	assert.Equal(t, Unmatched, StateOf(unmatched, userID, "f-1"))

	faceEvidence := &models.Photo{FaceIDs: []string{"f-1"}}
	assert.Equal(t, FaceMatched, StateOf(faceEvidence, userID, "f-1"))

	resolvedFace := &models.Photo{Faces: []models.Face{{FaceID: "f-9", UserID: userID}}}
	assert.Equal(t, FaceMatched, StateOf(resolvedFace, userID, ""))

	reconciled := &models.Photo{MatchedUsers: []models.MatchedUser{{UserID: userID}}}
	assert.Equal(t, Reconciled, StateOf(reconciled, userID, "f-1"))
}

func repairTask(photoID uuid.UUID, userID uuid.UUID) models.MatchRepairTask {
	return models.MatchRepairTask{
		PhotoID: photoID,
		Source:  models.SourceCurrent,
		Match:   models.MatchedUser{UserID: userID, FaceID: "f-1", Similarity: 92},
	}
}

func TestApplyRepairAppends(t *testing.T) {
	fx := newFixture(t)
	photoID := uuid.New()
	fx.photos.byID[photoID] = &models.Photo{ID: photoID, Source: models.SourceCurrent}

	err := fx.engine.ApplyRepair(context.Background(), repairTask(photoID, fx.userID))

	require.NoError(t, err)
	assert.Len(t, fx.photos.appended, 1)
	assert.Len(t, fx.notifier.repairs, 1)
}

func TestApplyRepairIsIdempotentOnRedelivery(t *testing.T) {
	fx := newFixture(t)
	photoID := uuid.New()
	fx.photos.byID[photoID] = &models.Photo{ID: photoID, Source: models.SourceCurrent}
	task := repairTask(photoID, fx.userID)

	require.NoError(t, fx.engine.ApplyRepair(context.Background(), task))
	require.NoError(t, fx.engine.ApplyRepair(context.Background(), task))

	// The second delivery sees the entry and does not append again.
	assert.Len(t, fx.photos.appended, 1)
}

func TestApplyRepairDropsWhenPhotoGone(t *testing.T) {
	fx := newFixture(t)

	err := fx.engine.ApplyRepair(context.Background(), repairTask(uuid.New(), fx.userID))

	require.NoError(t, err)
	assert.Empty(t, fx.photos.appended)
	assert.Empty(t, fx.notifier.repairs)
}

func TestApplyRepairFallsBackToPrivilegedPath(t *testing.T) {
	fx := newFixture(t)
	photoID := uuid.New()
	fx.photos.byID[photoID] = &models.Photo{ID: photoID, Source: models.SourceCurrent}
	fx.photos.appendErr = ErrPermissionDenied

	err := fx.engine.ApplyRepair(context.Background(), repairTask(photoID, fx.userID))

	require.NoError(t, err)
	assert.Empty(t, fx.photos.appended)
	assert.Len(t, fx.photos.privAppended, 1)
}

func TestApplyRepairSurfacesOtherErrors(t *testing.T) {
	fx := newFixture(t)
	photoID := uuid.New()
	fx.photos.byID[photoID] = &models.Photo{ID: photoID, Source: models.SourceCurrent}
	fx.photos.appendErr = errors.New("connection reset")

	err := fx.engine.ApplyRepair(context.Background(), repairTask(photoID, fx.userID))

	assert.Error(t, err)
	assert.Empty(t, fx.photos.privAppended)
}

func TestRegisterFaceRequiresExactlyOneFace(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.engine.RegisterFace(context.Background(), fx.userID, []byte("img"), "reg/key")
	assert.Error(t, err)

	fx.provider.detected = []provider.DetectedFace{{Confidence: 99}, {Confidence: 98}}
	_, err = fx.engine.RegisterFace(context.Background(), fx.userID, []byte("img"), "reg/key")
	assert.Error(t, err)
}

func TestRegisterFaceIsIdempotent(t *testing.T) {
	fx := newFixture(t)
	fx.provider.detected = []provider.DetectedFace{{Confidence: 99}}
	fx.bindings.latest = &models.FaceBinding{UserID: fx.userID, FaceID: "f-existing"}

	result, err := fx.engine.RegisterFace(context.Background(), fx.userID, []byte("img"), "reg/key")

	require.NoError(t, err)
	assert.True(t, result.AlreadyRegistered)
	assert.Equal(t, "f-existing", result.FaceID)
	assert.Empty(t, fx.bindings.saved)
}

func TestRegisterFaceSchedulesRetroRepairs(t *testing.T) {
	fx := newFixture(t)
	fx.provider.detected = []provider.DetectedFace{{Confidence: 99}}
	fx.provider.indexed = []provider.IndexedFace{{FaceID: "f-new"}}
	fx.provider.byFaceIDMatches = []provider.Match{
		{FaceID: "f-old-1", Similarity: 93},
		{FaceID: "f-old-2", Similarity: 88},
	}

	needsRepair := models.Photo{
		ID:      uuid.New(),
		Source:  models.SourceLegacy,
		FaceIDs: []string{"f-old-1"},
	}
	alreadyMatched := models.Photo{
		ID:           uuid.New(),
		Source:       models.SourceCurrent,
		FaceIDs:      []string{"f-old-2"},
		MatchedUsers: []models.MatchedUser{{UserID: fx.userID}},
	}
	fx.photos.byFaceIDs = []models.Photo{needsRepair, alreadyMatched}

	result, err := fx.engine.RegisterFace(context.Background(), fx.userID, []byte("img"), "reg/key")

	require.NoError(t, err)
	assert.Equal(t, "f-new", result.FaceID)
	assert.Equal(t, fx.userID.String(), fx.provider.indexedExternalID)
	assert.Equal(t, 2, result.MatchCount)
	assert.Equal(t, 1, result.RepairsScheduled)

	require.Len(t, fx.bindings.saved, 1)
	assert.Equal(t, "reg/key", fx.bindings.saved[0].SourceKey)

	require.Len(t, fx.scheduler.tasks, 1)
	task := fx.scheduler.tasks[0]
	assert.Equal(t, needsRepair.ID, task.PhotoID)
	assert.Equal(t, models.SourceLegacy, task.Source)
	assert.Equal(t, fx.userID, task.Match.UserID)
	assert.Equal(t, "Ada", task.Match.FullName)
	assert.Equal(t, 93.0, task.Match.Similarity)
	assert.Equal(t, frozenNow().Add(5*time.Second), task.NotBefore)
}

func TestRegisterFaceSurvivesSchedulerFailure(t *testing.T) {
	fx := newFixture(t)
	fx.provider.detected = []provider.DetectedFace{{Confidence: 99}}
	fx.provider.indexed = []provider.IndexedFace{{FaceID: "f-new"}}
	fx.provider.byFaceIDMatches = []provider.Match{{FaceID: "f-old", Similarity: 90}}
	fx.photos.byFaceIDs = []models.Photo{{ID: uuid.New(), Source: models.SourceCurrent, FaceIDs: []string{"f-old"}}}
	fx.scheduler.err = errors.New("queue unavailable")

	result, err := fx.engine.RegisterFace(context.Background(), fx.userID, []byte("img"), "reg/key")

	require.NoError(t, err)
	assert.Equal(t, 0, result.RepairsScheduled)
}
