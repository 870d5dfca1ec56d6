package match

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/facematch/internal/models"
	"github.com/your-org/facematch/internal/provider"
)

type fakeDirectory struct {
	profiles map[uuid.UUID]models.Profile
	err      error
	gotIDs   []uuid.UUID
}

func (f *fakeDirectory) ProfilesByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Profile, error) {
	f.gotIDs = ids
	if f.err != nil {
		return nil, f.err
	}
	return f.profiles, nil
}

var testClock = func() time.Time {
	return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
}

func TestResolveFiltersBelowThreshold(t *testing.T) {
	user := uuid.New()
	dir := &fakeDirectory{profiles: map[uuid.UUID]models.Profile{
		user: {ID: user, FullName: "Ada"},
	}}
	r := NewResolver(dir, 80).WithClock(testClock)

	resolved, err := r.Resolve(context.Background(), []provider.Match{
		{FaceID: "f-lo", ExternalID: user.String(), Similarity: 79.9},
		{FaceID: "f-hi", ExternalID: user.String(), Similarity: 80.0},
	})

	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, "f-hi", resolved[0].FaceID)
}

func TestResolveDiscardsSyntheticIdentifiers(t *testing.T) {
	dir := &fakeDirectory{profiles: map[uuid.UUID]models.Profile{}}
	r := NewResolver(dir, 80).WithClock(testClock)

	resolved, err := r.Resolve(context.Background(), []provider.Match{
		{FaceID: "f-1", ExternalID: "photo_" + uuid.New().String(), Similarity: 99},
		{FaceID: "f-2", ExternalID: "garbage", Similarity: 99},
	})

	require.NoError(t, err)
	assert.Empty(t, resolved)
	// Synthetic identifiers never reach the directory.
	assert.Nil(t, dir.gotIDs)
}

func TestResolveDropsUnknownProfiles(t *testing.T) {
	known := uuid.New()
	unknown := uuid.New()
	dir := &fakeDirectory{profiles: map[uuid.UUID]models.Profile{
		known: {ID: known, FullName: "Ada"},
	}}
	r := NewResolver(dir, 80).WithClock(testClock)

	resolved, err := r.Resolve(context.Background(), []provider.Match{
		{FaceID: "f-1", ExternalID: known.String(), Similarity: 95},
		{FaceID: "f-2", ExternalID: unknown.String(), Similarity: 96},
	})

	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, known, resolved[0].UserID)
}

func TestResolveBestHitPerIdentity(t *testing.T) {
	user := uuid.New()
	dir := &fakeDirectory{profiles: map[uuid.UUID]models.Profile{
		user: {ID: user, FullName: "Ada"},
	}}
	r := NewResolver(dir, 80).WithClock(testClock)

	resolved, err := r.Resolve(context.Background(), []provider.Match{
		{FaceID: "f-1", ExternalID: user.String(), Similarity: 85},
		{FaceID: "f-2", ExternalID: user.String(), Similarity: 97.126},
		{FaceID: "f-3", ExternalID: user.String(), Similarity: 90},
	})

	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, "f-2", resolved[0].FaceID)
	assert.Equal(t, 97.13, resolved[0].Similarity)
	assert.Equal(t, 97.13, resolved[0].Confidence)
	assert.Equal(t, testClock().UTC(), resolved[0].MatchedAt)
}

func TestResolveNameFallback(t *testing.T) {
	withName := uuid.New()
	emailOnly := uuid.New()
	anonymous := uuid.New()
	dir := &fakeDirectory{profiles: map[uuid.UUID]models.Profile{
		withName:  {ID: withName, FullName: "Ada"},
		emailOnly: {ID: emailOnly, Email: "g@example.com"},
		anonymous: {ID: anonymous},
	}}
	r := NewResolver(dir, 80).WithClock(testClock)

	resolved, err := r.Resolve(context.Background(), []provider.Match{
		{FaceID: "f-1", ExternalID: withName.String(), Similarity: 90},
		{FaceID: "f-2", ExternalID: emailOnly.String(), Similarity: 91},
		{FaceID: "f-3", ExternalID: anonymous.String(), Similarity: 92},
	})

	require.NoError(t, err)
	require.Len(t, resolved, 3)
	names := map[uuid.UUID]string{}
	for _, m := range resolved {
		names[m.UserID] = m.FullName
	}
	assert.Equal(t, "Ada", names[withName])
	assert.Equal(t, "g@example.com", names[emailOnly])
	assert.Equal(t, "Unknown User", names[anonymous])
}

func TestResolveSortsBySimilarityDescending(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	dir := &fakeDirectory{profiles: map[uuid.UUID]models.Profile{
		a: {ID: a}, b: {ID: b}, c: {ID: c},
	}}
	r := NewResolver(dir, 80).WithClock(testClock)

	resolved, err := r.Resolve(context.Background(), []provider.Match{
		{FaceID: "f-a", ExternalID: a.String(), Similarity: 85},
		{FaceID: "f-b", ExternalID: b.String(), Similarity: 99},
		{FaceID: "f-c", ExternalID: c.String(), Similarity: 92},
	})

	require.NoError(t, err)
	require.Len(t, resolved, 3)
	assert.Equal(t, b, resolved[0].UserID)
	assert.Equal(t, c, resolved[1].UserID)
	assert.Equal(t, a, resolved[2].UserID)
}

func TestResolveEmptyIsNotAnError(t *testing.T) {
	dir := &fakeDirectory{profiles: map[uuid.UUID]models.Profile{}}
	r := NewResolver(dir, 80).WithClock(testClock)

	resolved, err := r.Resolve(context.Background(), nil)

	require.NoError(t, err)
	assert.NotNil(t, resolved)
	assert.Empty(t, resolved)
}

func TestResolveDirectoryError(t *testing.T) {
	dir := &fakeDirectory{err: errors.New("db down")}
	r := NewResolver(dir, 80).WithClock(testClock)

	_, err := r.Resolve(context.Background(), []provider.Match{
		{FaceID: "f-1", ExternalID: uuid.New().String(), Similarity: 95},
	})

	assert.Error(t, err)
}
