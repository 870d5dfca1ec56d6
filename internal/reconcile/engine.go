// Package reconcile keeps persisted photo match lists truthful against
// face-level evidence from the recognition provider.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/facematch/internal/facecache"
	"github.com/your-org/facematch/internal/identity"
	"github.com/your-org/facematch/internal/match"
	"github.com/your-org/facematch/internal/models"
	"github.com/your-org/facematch/internal/observability"
	"github.com/your-org/facematch/internal/provider"
)

// ErrPermissionDenied is returned by a photo repository when a direct
// update is rejected; the engine then tries the privileged repair path.
var ErrPermissionDenied = errors.New("permission denied")

// FaceStatus tells the UI which kind of empty (or non-empty) result it
// is looking at; these are semantically different outcomes.
type FaceStatus string

const (
	StatusMatched      FaceStatus = "matched"
	StatusNoMatches    FaceStatus = "no_matches"
	StatusNoFaces      FaceStatus = "no_faces"
	StatusSearchFailed FaceStatus = "search_failed"
)

// MatchState is the reconciliation state of one (photo, identity) pair.
type MatchState int

const (
	// Unmatched: no face-level or record-level evidence of a link.
	Unmatched MatchState = iota
	// FaceMatched: face-level evidence exists but the persisted match
	// list does not yet contain the identity. Transitional.
	FaceMatched
	// Reconciled: the match list carries a well-formed entry.
	Reconciled
)

// PhotoRepository is the write surface the engine needs over the photo
// tables.
type PhotoRepository interface {
	// GetFrom fetches one photo from a specific physical table,
	// normalized. Returns nil when the row does not exist.
	GetFrom(ctx context.Context, source models.SourceTable, id uuid.UUID) (*models.Photo, error)
	// UpdateFaceData persists faces, matched_users and face_ids back to
	// the photo's source table.
	UpdateFaceData(ctx context.Context, photo *models.Photo) error
	// AppendMatch appends one match entry unless an entry for the same
	// identity already exists. Returns ErrPermissionDenied when the
	// caller may not update the row directly.
	AppendMatch(ctx context.Context, source models.SourceTable, photoID uuid.UUID, m models.MatchedUser) error
	// AppendMatchPrivileged is the administrative repair path used when
	// direct updates are disallowed.
	AppendMatchPrivileged(ctx context.Context, source models.SourceTable, photoID uuid.UUID, m models.MatchedUser) error
	// ByFaceIDs returns photos (from both tables) whose face_ids overlap
	// the given set.
	ByFaceIDs(ctx context.Context, faceIDs []string) ([]models.Photo, error)
}

// BindingRepository persists identity-to-face bindings.
type BindingRepository interface {
	LatestBinding(ctx context.Context, userID uuid.UUID) (*models.FaceBinding, error)
	SaveBinding(ctx context.Context, userID uuid.UUID, faceID, sourceKey string) error
}

// AnalyticsRecorder keeps the per-match audit trail. Failures are never
// allowed to affect the pipeline.
type AnalyticsRecorder interface {
	RecordMatches(ctx context.Context, photoID uuid.UUID, matches []models.MatchedUser) error
}

// RepairScheduler hands a repair task to the background queue.
type RepairScheduler interface {
	PublishRepair(ctx context.Context, task models.MatchRepairTask) error
}

// Notifier pushes live events to connected clients. May be nil.
type Notifier interface {
	MatchFound(photoID uuid.UUID, m models.MatchedUser)
	RepairApplied(photoID uuid.UUID, userID uuid.UUID)
}

type Engine struct {
	faces       provider.FaceProvider
	photos      PhotoRepository
	bindings    BindingRepository
	resolver    *match.Resolver
	profiles    match.ProfileDirectory
	analytics   AnalyticsRecorder
	scheduler   RepairScheduler
	cache       *facecache.Cache
	notifier    Notifier
	repairDelay time.Duration
	now         func() time.Time
}

func NewEngine(
	faces provider.FaceProvider,
	photos PhotoRepository,
	bindings BindingRepository,
	resolver *match.Resolver,
	profiles match.ProfileDirectory,
	analytics AnalyticsRecorder,
	scheduler RepairScheduler,
	cache *facecache.Cache,
	notifier Notifier,
	repairDelay time.Duration,
) *Engine {
	return &Engine{
		faces:       faces,
		photos:      photos,
		bindings:    bindings,
		resolver:    resolver,
		profiles:    profiles,
		analytics:   analytics,
		scheduler:   scheduler,
		cache:       cache,
		notifier:    notifier,
		repairDelay: repairDelay,
		now:         time.Now,
	}
}

// WithClock overrides the timestamp source, used by tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// UploadResult is the outcome of processing one uploaded photo.
type UploadResult struct {
	Faces        []models.Face        `json:"faces"`
	MatchedUsers []models.MatchedUser `json:"matchedUsers"`
	Status       FaceStatus           `json:"face_status"`
}

// ProcessUpload runs the strict per-photo pipeline: detect, index,
// search, resolve, persist. The image itself is already stored before
// this is called, and nothing here may roll that back: every stage
// degrades rather than failing the upload.
func (e *Engine) ProcessUpload(ctx context.Context, photo *models.Photo, image []byte) (*UploadResult, error) {
	result := &UploadResult{
		Faces:        []models.Face{},
		MatchedUsers: []models.MatchedUser{},
	}

	detected, err := e.faces.Detect(ctx, image)
	if err != nil {
		slog.Error("face detection failed, photo kept without faces", "photo_id", photo.ID, "error", err)
		detected = nil
	}
	if len(detected) == 0 {
		result.Status = StatusNoFaces
		e.persistFaceData(ctx, photo, result.Faces, result.MatchedUsers, nil)
		observability.UploadsProcessed.WithLabelValues(string(result.Status)).Inc()
		return result, nil
	}

	// Index the photo's faces under a synthetic photo-scoped external
	// id so they never masquerade as registered users.
	indexed, err := e.faces.Index(ctx, image, identity.ForPhoto(photo.ID))
	if err != nil {
		slog.Error("face indexing failed, continuing without indexed faces", "photo_id", photo.ID, "error", err)
		indexed = nil
	}

	faceIDs := make([]string, 0, len(indexed))
	for i, det := range detected {
		f := models.Face{
			Confidence: 0,
			Attributes: det.Attributes,
		}
		if i < len(indexed) {
			f.FaceID = indexed[i].FaceID
			faceIDs = append(faceIDs, indexed[i].FaceID)
		}
		result.Faces = append(result.Faces, f)
	}
	if len(indexed) > 0 {
		observability.FacesIndexed.Add(float64(len(indexed)))
	}

	rawMatches, err := e.faces.SearchByImage(ctx, image)
	if err != nil {
		slog.Error("face search failed", "photo_id", photo.ID, "error", err)
		result.Status = StatusSearchFailed
		e.persistFaceData(ctx, photo, result.Faces, result.MatchedUsers, faceIDs)
		observability.UploadsProcessed.WithLabelValues(string(result.Status)).Inc()
		return result, nil
	}

	resolved, err := e.resolver.Resolve(ctx, rawMatches)
	if err != nil {
		slog.Error("match resolution failed", "photo_id", photo.ID, "error", err)
		result.Status = StatusSearchFailed
		e.persistFaceData(ctx, photo, result.Faces, result.MatchedUsers, faceIDs)
		observability.UploadsProcessed.WithLabelValues(string(result.Status)).Inc()
		return result, nil
	}

	result.MatchedUsers = resolved
	if len(resolved) == 0 {
		result.Status = StatusNoMatches
	} else {
		result.Status = StatusMatched
		// Tag faces with their resolved identity where similarity ties
		// a face id to a user.
		for i := range result.Faces {
			for _, m := range resolved {
				if result.Faces[i].FaceID != "" && result.Faces[i].FaceID == m.FaceID {
					result.Faces[i].UserID = m.UserID
					result.Faces[i].Confidence = m.Confidence
				}
			}
		}
	}

	e.persistFaceData(ctx, photo, result.Faces, result.MatchedUsers, faceIDs)

	if len(resolved) > 0 && e.analytics != nil {
		if err := e.analytics.RecordMatches(ctx, photo.ID, resolved); err != nil {
			slog.Warn("record match analytics failed", "photo_id", photo.ID, "error", err)
		}
	}
	if e.notifier != nil {
		for _, m := range resolved {
			e.notifier.MatchFound(photo.ID, m)
		}
	}

	observability.UploadsProcessed.WithLabelValues(string(result.Status)).Inc()
	return result, nil
}

func (e *Engine) persistFaceData(ctx context.Context, photo *models.Photo, faces []models.Face, matches []models.MatchedUser, faceIDs []string) {
	photo.Faces = faces
	photo.MatchedUsers = matches
	if faceIDs == nil {
		faceIDs = []string{}
	}
	photo.FaceIDs = faceIDs
	photo.UpdatedAt = e.now().UTC()
	if err := e.photos.UpdateFaceData(ctx, photo); err != nil {
		slog.Error("persist face data failed", "photo_id", photo.ID, "error", err)
	}
}

// StateOf recomputes the reconciliation state of a (photo, identity)
// pair from raw evidence. The persisted match list is a cache of
// derivable truth, so readers call this instead of trusting it blindly.
func StateOf(p *models.Photo, userID uuid.UUID, canonicalFaceID string) MatchState {
	if p.HasMatch(userID) {
		return Reconciled
	}
	if canonicalFaceID != "" && p.HasFaceID(canonicalFaceID) {
		return FaceMatched
	}
	for _, f := range p.Faces {
		if f.UserID == userID {
			return FaceMatched
		}
	}
	return Unmatched
}

// ApplyRepair promotes one FaceMatched pair to Reconciled. It is
// idempotent: a fresh read guards against a concurrent or earlier
// append, so redelivery never produces duplicate entries. Direct
// updates are tried first; a permission rejection falls back to the
// privileged path.
func (e *Engine) ApplyRepair(ctx context.Context, task models.MatchRepairTask) error {
	photo, err := e.photos.GetFrom(ctx, task.Source, task.PhotoID)
	if err != nil {
		return fmt.Errorf("load photo for repair: %w", err)
	}
	if photo == nil {
		slog.Warn("repair target photo no longer exists", "photo_id", task.PhotoID)
		observability.RepairsApplied.WithLabelValues("dropped").Inc()
		return nil
	}
	if photo.HasMatch(task.Match.UserID) {
		observability.RepairsApplied.WithLabelValues("already_present").Inc()
		return nil
	}

	err = e.photos.AppendMatch(ctx, task.Source, task.PhotoID, task.Match)
	if errors.Is(err, ErrPermissionDenied) {
		slog.Info("direct repair rejected, using privileged path", "photo_id", task.PhotoID)
		err = e.photos.AppendMatchPrivileged(ctx, task.Source, task.PhotoID, task.Match)
		if err == nil {
			observability.RepairsApplied.WithLabelValues("privileged").Inc()
		}
	} else if err == nil {
		observability.RepairsApplied.WithLabelValues("appended").Inc()
	}
	if err != nil {
		observability.RepairsApplied.WithLabelValues("dropped").Inc()
		return fmt.Errorf("append match: %w", err)
	}

	if e.notifier != nil {
		e.notifier.RepairApplied(task.PhotoID, task.Match.UserID)
	}
	return nil
}

// RegistrationResult is the outcome of registering a user's face.
type RegistrationResult struct {
	FaceID            string `json:"faceId"`
	AlreadyRegistered bool   `json:"already_registered"`
	MatchCount        int    `json:"match_count"`
	RepairsScheduled  int    `json:"repairs_scheduled"`
}

// RegisterFace indexes a user's face once, stores the binding, and
// retroactively schedules repairs for existing photos that carry
// face-level evidence of the user but no persisted match entry.
func (e *Engine) RegisterFace(ctx context.Context, userID uuid.UUID, image []byte, sourceKey string) (*RegistrationResult, error) {
	detected, err := e.faces.Detect(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}
	if len(detected) == 0 {
		return nil, errors.New("no faces detected in image")
	}
	if len(detected) > 1 {
		return nil, errors.New("only one face can be registered at a time")
	}

	existing, err := e.bindings.LatestBinding(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("check existing binding: %w", err)
	}
	if existing != nil {
		return &RegistrationResult{FaceID: existing.FaceID, AlreadyRegistered: true}, nil
	}

	indexed, err := e.faces.Index(ctx, image, identity.ForUser(userID))
	if err != nil {
		return nil, fmt.Errorf("index face: %w", err)
	}
	if len(indexed) == 0 {
		return nil, errors.New("provider returned no face records")
	}
	faceID := indexed[0].FaceID

	if err := e.bindings.SaveBinding(ctx, userID, faceID, sourceKey); err != nil {
		// The provider already has the face; losing the binding row is
		// recoverable via the photo-scan fallback, so log and continue.
		slog.Error("save face binding failed", "user_id", userID, "error", err)
	}
	if e.cache != nil {
		e.cache.PutFaceID(userID, faceID)
	}
	observability.FacesIndexed.Inc()

	scheduled, matchCount, err := e.scheduleRetroRepairs(ctx, userID, faceID)
	if err != nil {
		// Retro-matching is best effort; registration itself succeeded.
		slog.Warn("retroactive match scan failed", "user_id", userID, "error", err)
	}

	return &RegistrationResult{
		FaceID:           faceID,
		MatchCount:       matchCount,
		RepairsScheduled: scheduled,
	}, nil
}

// scheduleRetroRepairs searches the collection by the newly registered
// face id and schedules a delayed, idempotent repair for every photo
// whose face evidence includes a matched face but whose match list
// lacks the user.
func (e *Engine) scheduleRetroRepairs(ctx context.Context, userID uuid.UUID, faceID string) (scheduled, matchCount int, err error) {
	rawMatches, err := e.faces.SearchByFaceID(ctx, faceID)
	if err != nil {
		return 0, 0, fmt.Errorf("search by face id: %w", err)
	}
	if len(rawMatches) == 0 {
		return 0, 0, nil
	}

	similarity := make(map[string]float64, len(rawMatches))
	matchedIDs := make([]string, 0, len(rawMatches))
	for _, m := range rawMatches {
		matchedIDs = append(matchedIDs, m.FaceID)
		similarity[m.FaceID] = m.Similarity
	}

	photos, err := e.photos.ByFaceIDs(ctx, matchedIDs)
	if err != nil {
		return 0, len(rawMatches), fmt.Errorf("photos by face ids: %w", err)
	}

	profiles, err := e.profiles.ProfilesByIDs(ctx, []uuid.UUID{userID})
	if err != nil {
		return 0, len(rawMatches), fmt.Errorf("load profile: %w", err)
	}
	profile := profiles[userID]
	name := profile.FullName
	if name == "" {
		name = profile.Email
	}
	if name == "" {
		name = "Unknown User"
	}

	notBefore := e.now().Add(e.repairDelay)
	for _, p := range photos {
		if p.HasMatch(userID) {
			continue
		}
		best := 0.0
		for _, id := range p.FaceIDs {
			if s, ok := similarity[id]; ok && s > best {
				best = s
			}
		}
		task := models.MatchRepairTask{
			PhotoID: p.ID,
			Source:  p.Source,
			Match: models.MatchedUser{
				UserID:     userID,
				FaceID:     faceID,
				FullName:   name,
				AvatarURL:  profile.AvatarURL,
				Confidence: best,
				Similarity: best,
				MatchedAt:  e.now().UTC(),
			},
			NotBefore: notBefore,
		}
		if err := e.scheduler.PublishRepair(ctx, task); err != nil {
			// Fire and forget: a missed repair self-heals on the next
			// read, so log and move on.
			slog.Warn("schedule repair failed", "photo_id", p.ID, "error", err)
			continue
		}
		scheduled++
	}
	return scheduled, len(rawMatches), nil
}
