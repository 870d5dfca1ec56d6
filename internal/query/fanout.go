// Package query implements the read path over the two physical photo
// tables. Every logical query fans out to both tables and merges the
// rows, because a photo may live in either one.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/your-org/facematch/internal/models"
	"github.com/your-org/facematch/internal/observability"
)

type Mode string

const (
	ModeUploads Mode = "uploads"
	ModeMatches Mode = "matches"
)

// Strategy names label how a match-mode result set was produced, so
// callers can tell a verified match from a best-effort guess.
const (
	StrategyMatchedUsers = "matched_users"
	StrategyFaceIDs      = "face_ids"
	StrategyResolvedFace = "resolved_face"
	StrategyRecencyScan  = "recency_scan"
)

// PhotoSource is the read surface of one physical photo table. Every
// method returns rows already normalized to the canonical Photo shape.
type PhotoSource interface {
	Table() models.SourceTable
	// ByUploader returns photos uploaded by the given user.
	ByUploader(ctx context.Context, userID uuid.UUID) ([]models.Photo, error)
	// ByMatchedUser returns photos whose persisted match list contains
	// the user, tolerating both legacy and current key spellings.
	ByMatchedUser(ctx context.Context, userID uuid.UUID) ([]models.Photo, error)
	// ByFaceID returns photos whose face_ids array contains the given
	// provider face identifier.
	ByFaceID(ctx context.Context, faceID string) ([]models.Photo, error)
	// ByResolvedFace returns photos whose faces entries were resolved to
	// the given user, regardless of who uploaded them.
	ByResolvedFace(ctx context.Context, userID uuid.UUID) ([]models.Photo, error)
	// Recent returns the newest photos up to limit.
	Recent(ctx context.Context, limit int) ([]models.Photo, error)
}

// FaceIDLookup resolves a user's canonical face identifier, typically
// backed by the identifier cache.
type FaceIDLookup interface {
	GetFaceID(ctx context.Context, userID uuid.UUID) (string, error)
}

// Result is a merged, deduplicated query answer. Fallback is true when
// the rows came from the bounded recency scan rather than a verified
// match relation.
type Result struct {
	Photos   []models.Photo `json:"photos"`
	Strategy string         `json:"strategy,omitempty"`
	Fallback bool           `json:"fallback"`
}

type Fanout struct {
	sources   []PhotoSource
	faceIDs   FaceIDLookup
	scanLimit int
}

func NewFanout(sources []PhotoSource, faceIDs FaceIDLookup, scanLimit int) *Fanout {
	if scanLimit <= 0 {
		scanLimit = 200
	}
	return &Fanout{sources: sources, faceIDs: faceIDs, scanLimit: scanLimit}
}

// Query runs the logical query in the given mode against both tables.
func (f *Fanout) Query(ctx context.Context, mode Mode, userID uuid.UUID) (Result, error) {
	switch mode {
	case ModeUploads:
		return f.queryUploads(ctx, userID)
	case ModeMatches:
		return f.queryMatches(ctx, userID)
	default:
		return Result{}, fmt.Errorf("unknown query mode %q", mode)
	}
}

// queryUploads is a plain equality filter on the uploader, fanned out
// to both tables.
func (f *Fanout) queryUploads(ctx context.Context, userID uuid.UUID) (Result, error) {
	photos, err := f.collect(ctx, func(ctx context.Context, s PhotoSource) ([]models.Photo, error) {
		return s.ByUploader(ctx, userID)
	})
	if err != nil {
		return Result{Photos: []models.Photo{}}, err
	}
	return Result{Photos: photos}, nil
}

// queryMatches tries each strategy in order and stops at the first one
// that produces rows. Later strategies exist because historical rows
// may carry face evidence without a persisted match entry.
func (f *Fanout) queryMatches(ctx context.Context, userID uuid.UUID) (Result, error) {
	depth := 1
	defer func() {
		observability.FanoutStrategyDepth.WithLabelValues(string(ModeMatches)).Observe(float64(depth))
	}()

	// (a) direct containment on the persisted match list.
	photos, err := f.collect(ctx, func(ctx context.Context, s PhotoSource) ([]models.Photo, error) {
		return s.ByMatchedUser(ctx, userID)
	})
	if err != nil {
		return Result{Photos: []models.Photo{}}, err
	}
	if len(photos) > 0 {
		return Result{Photos: photos, Strategy: StrategyMatchedUsers}, nil
	}

	// (b) containment on face_ids via the caller's canonical face id.
	depth = 2
	if f.faceIDs != nil {
		faceID, err := f.faceIDs.GetFaceID(ctx, userID)
		if err != nil {
			slog.Warn("face id lookup failed, skipping face_ids strategy", "user_id", userID, "error", err)
		} else if faceID != "" {
			photos, err = f.collect(ctx, func(ctx context.Context, s PhotoSource) ([]models.Photo, error) {
				return s.ByFaceID(ctx, faceID)
			})
			if err != nil {
				return Result{Photos: []models.Photo{}}, err
			}
			if len(photos) > 0 {
				return Result{Photos: photos, Strategy: StrategyFaceIDs}, nil
			}
		}
	}

	// (c) photos whose face entries resolved to the caller, covering
	// "I appear in someone else's photo".
	depth = 3
	photos, err = f.collect(ctx, func(ctx context.Context, s PhotoSource) ([]models.Photo, error) {
		return s.ByResolvedFace(ctx, userID)
	})
	if err != nil {
		return Result{Photos: []models.Photo{}}, err
	}
	if len(photos) > 0 {
		return Result{Photos: photos, Strategy: StrategyResolvedFace}, nil
	}

	// (d) bounded recency scan, filtered client-side. Explicitly a
	// best guess.
	depth = 4
	photos, err = f.collect(ctx, func(ctx context.Context, s PhotoSource) ([]models.Photo, error) {
		return s.Recent(ctx, f.scanLimit)
	})
	if err != nil {
		return Result{Photos: []models.Photo{}}, err
	}

	var faceID string
	if f.faceIDs != nil {
		if id, err := f.faceIDs.GetFaceID(ctx, userID); err == nil {
			faceID = id
		}
	}
	kept := photos[:0]
	for _, p := range photos {
		if matchEvidence(&p, userID, faceID) {
			kept = append(kept, p)
		}
	}
	return Result{Photos: kept, Strategy: StrategyRecencyScan, Fallback: true}, nil
}

// matchEvidence reports whether the photo carries any link to the user:
// a persisted match entry, the user's canonical face id, or a face
// resolved to the user.
func matchEvidence(p *models.Photo, userID uuid.UUID, faceID string) bool {
	if p.HasMatch(userID) {
		return true
	}
	if faceID != "" && p.HasFaceID(faceID) {
		return true
	}
	for _, face := range p.Faces {
		if face.UserID == userID {
			return true
		}
	}
	return false
}

// collect runs one per-source query against every table and merges the
// rows, deduplicating by photo id with the first occurrence winning. A
// failing table degrades to the other's rows; only when every table
// fails is the error surfaced.
func (f *Fanout) collect(ctx context.Context, q func(context.Context, PhotoSource) ([]models.Photo, error)) ([]models.Photo, error) {
	seen := make(map[uuid.UUID]struct{})
	var merged []models.Photo
	var errs []error

	for _, src := range f.sources {
		rows, err := q(ctx, src)
		if err != nil {
			slog.Warn("photo source query failed", "table", src.Table(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", src.Table(), err))
			continue
		}
		for _, p := range rows {
			if _, ok := seen[p.ID]; ok {
				continue
			}
			seen[p.ID] = struct{}{}
			merged = append(merged, p)
		}
	}

	if len(errs) == len(f.sources) && len(f.sources) > 0 {
		return []models.Photo{}, fmt.Errorf("all photo sources failed: %w", errors.Join(errs...))
	}
	if merged == nil {
		merged = []models.Photo{}
	}
	return merged, nil
}
