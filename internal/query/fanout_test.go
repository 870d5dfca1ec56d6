package query

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/facematch/internal/models"
)

type fakeSource struct {
	table      models.SourceTable
	byUploader []models.Photo
	byMatched  []models.Photo
	byFaceID   []models.Photo
	byResolved []models.Photo
	recent     []models.Photo
	err        error
}

func (f *fakeSource) Table() models.SourceTable { return f.table }

func (f *fakeSource) ByUploader(ctx context.Context, userID uuid.UUID) ([]models.Photo, error) {
	return f.byUploader, f.err
}

func (f *fakeSource) ByMatchedUser(ctx context.Context, userID uuid.UUID) ([]models.Photo, error) {
	return f.byMatched, f.err
}

func (f *fakeSource) ByFaceID(ctx context.Context, faceID string) ([]models.Photo, error) {
	return f.byFaceID, f.err
}

func (f *fakeSource) ByResolvedFace(ctx context.Context, userID uuid.UUID) ([]models.Photo, error) {
	return f.byResolved, f.err
}

func (f *fakeSource) Recent(ctx context.Context, limit int) ([]models.Photo, error) {
	return f.recent, f.err
}

type fakeFaceIDs struct {
	faceID string
	err    error
}

func (f *fakeFaceIDs) GetFaceID(ctx context.Context, userID uuid.UUID) (string, error) {
	return f.faceID, f.err
}

func photoWithID(id uuid.UUID, source models.SourceTable) models.Photo {
	return models.Photo{ID: id, Source: source}
}

func TestQueryUploadsMergesAndDeduplicates(t *testing.T) {
	shared := uuid.New()
	onlyCurrent := uuid.New()
	onlyLegacy := uuid.New()

	current := &fakeSource{table: models.SourceCurrent, byUploader: []models.Photo{
		photoWithID(shared, models.SourceCurrent),
		photoWithID(onlyCurrent, models.SourceCurrent),
	}}
	legacy := &fakeSource{table: models.SourceLegacy, byUploader: []models.Photo{
		photoWithID(shared, models.SourceLegacy),
		photoWithID(onlyLegacy, models.SourceLegacy),
	}}

	f := NewFanout([]PhotoSource{current, legacy}, nil, 200)
	result, err := f.Query(context.Background(), ModeUploads, uuid.New())

	require.NoError(t, err)
	require.Len(t, result.Photos, 3)
	// First occurrence wins: the duplicated row keeps its current-table copy.
	assert.Equal(t, models.SourceCurrent, result.Photos[0].Source)
	assert.False(t, result.Fallback)
}

func TestQueryUploadsDegradesWhenOneSourceFails(t *testing.T) {
	ok := uuid.New()
	current := &fakeSource{table: models.SourceCurrent, byUploader: []models.Photo{
		photoWithID(ok, models.SourceCurrent),
	}}
	legacy := &fakeSource{table: models.SourceLegacy, err: errors.New("table gone")}

	f := NewFanout([]PhotoSource{current, legacy}, nil, 200)
	result, err := f.Query(context.Background(), ModeUploads, uuid.New())

	require.NoError(t, err)
	require.Len(t, result.Photos, 1)
	assert.Equal(t, ok, result.Photos[0].ID)
}

func TestQueryUploadsFailsOnlyWhenAllSourcesFail(t *testing.T) {
	current := &fakeSource{table: models.SourceCurrent, err: errors.New("down")}
	legacy := &fakeSource{table: models.SourceLegacy, err: errors.New("down too")}

	f := NewFanout([]PhotoSource{current, legacy}, nil, 200)
	_, err := f.Query(context.Background(), ModeUploads, uuid.New())

	assert.Error(t, err)
}

func TestQueryMatchesDirectStrategy(t *testing.T) {
	hit := uuid.New()
	current := &fakeSource{table: models.SourceCurrent, byMatched: []models.Photo{
		photoWithID(hit, models.SourceCurrent),
	}}
	legacy := &fakeSource{table: models.SourceLegacy}

	f := NewFanout([]PhotoSource{current, legacy}, &fakeFaceIDs{faceID: "f-1"}, 200)
	result, err := f.Query(context.Background(), ModeMatches, uuid.New())

	require.NoError(t, err)
	require.Len(t, result.Photos, 1)
	assert.Equal(t, StrategyMatchedUsers, result.Strategy)
	assert.False(t, result.Fallback)
}

func TestQueryMatchesFaceIDStrategy(t *testing.T) {
	hit := uuid.New()
	current := &fakeSource{table: models.SourceCurrent, byFaceID: []models.Photo{
		photoWithID(hit, models.SourceCurrent),
	}}
	legacy := &fakeSource{table: models.SourceLegacy}

	f := NewFanout([]PhotoSource{current, legacy}, &fakeFaceIDs{faceID: "f-1"}, 200)
	result, err := f.Query(context.Background(), ModeMatches, uuid.New())

	require.NoError(t, err)
	require.Len(t, result.Photos, 1)
	assert.Equal(t, StrategyFaceIDs, result.Strategy)
}

func TestQueryMatchesSkipsFaceIDStrategyWithoutIdentifier(t *testing.T) {
	hit := uuid.New()
	// ByFaceID rows exist but must not be reachable without a face id.
	current := &fakeSource{
		table:      models.SourceCurrent,
		byFaceID:   []models.Photo{photoWithID(uuid.New(), models.SourceCurrent)},
		byResolved: []models.Photo{photoWithID(hit, models.SourceCurrent)},
	}
	legacy := &fakeSource{table: models.SourceLegacy}

	f := NewFanout([]PhotoSource{current, legacy}, &fakeFaceIDs{faceID: ""}, 200)
	result, err := f.Query(context.Background(), ModeMatches, uuid.New())

	require.NoError(t, err)
	require.Len(t, result.Photos, 1)
	assert.Equal(t, hit, result.Photos[0].ID)
	assert.Equal(t, StrategyResolvedFace, result.Strategy)
}

func TestQueryMatchesRecencyScanIsFilteredAndLabeled(t *testing.T) {
	user := uuid.New()
	mine := models.Photo{
		ID:      uuid.New(),
		Source:  models.SourceCurrent,
		FaceIDs: []string{"f-user"},
	}
	someoneElse := photoWithID(uuid.New(), models.SourceCurrent)

	current := &fakeSource{table: models.SourceCurrent, recent: []models.Photo{mine, someoneElse}}
	legacy := &fakeSource{table: models.SourceLegacy}

	f := NewFanout([]PhotoSource{current, legacy}, &fakeFaceIDs{faceID: "f-user"}, 200)
	result, err := f.Query(context.Background(), ModeMatches, user)

	require.NoError(t, err)
	require.Len(t, result.Photos, 1)
	assert.Equal(t, mine.ID, result.Photos[0].ID)
	assert.Equal(t, StrategyRecencyScan, result.Strategy)
	assert.True(t, result.Fallback)
}

func TestQueryMatchesRecencyScanMatchesResolvedFaces(t *testing.T) {
	user := uuid.New()
	tagged := models.Photo{
		ID:     uuid.New(),
		Source: models.SourceCurrent,
		Faces:  []models.Face{{FaceID: "f-x", UserID: user}},
	}

	current := &fakeSource{table: models.SourceCurrent, recent: []models.Photo{tagged}}
	f := NewFanout([]PhotoSource{current}, &fakeFaceIDs{faceID: ""}, 200)

	result, err := f.Query(context.Background(), ModeMatches, user)

	require.NoError(t, err)
	require.Len(t, result.Photos, 1)
	assert.True(t, result.Fallback)
}

func TestQueryUnknownMode(t *testing.T) {
	f := NewFanout([]PhotoSource{&fakeSource{table: models.SourceCurrent}}, nil, 200)

	_, err := f.Query(context.Background(), Mode("bogus"), uuid.New())

	assert.Error(t, err)
}
