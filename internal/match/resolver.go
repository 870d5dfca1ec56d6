// Package match turns raw provider similarity hits into
// identity-resolved matches.
package match

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/facematch/internal/identity"
	"github.com/your-org/facematch/internal/models"
	"github.com/your-org/facematch/internal/observability"
	"github.com/your-org/facematch/internal/provider"
)

// ProfileDirectory batch-resolves user identities to display metadata.
type ProfileDirectory interface {
	ProfilesByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Profile, error)
}

type Resolver struct {
	profiles  ProfileDirectory
	threshold float64
	now       func() time.Time
}

func NewResolver(profiles ProfileDirectory, threshold float64) *Resolver {
	return &Resolver{profiles: profiles, threshold: threshold, now: time.Now}
}

// WithClock overrides the timestamp source, used by tests.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// Resolve filters raw matches down to identity-resolved MatchedUser
// entries: below-threshold hits are discarded, synthetic photo-scoped
// identifiers are discarded by shape (no database round trip), the
// survivors' display metadata is fetched in one batch lookup, and
// identities the directory does not know are dropped. When the provider
// returns several hits for the same identity, the highest similarity
// wins. An empty result is the normal outcome for unregistered faces,
// not an error.
func (r *Resolver) Resolve(ctx context.Context, matches []provider.Match) ([]models.MatchedUser, error) {
	best := make(map[uuid.UUID]provider.Match)
	for _, m := range matches {
		if m.Similarity < r.threshold {
			observability.MatchesDiscarded.WithLabelValues("below_threshold").Inc()
			continue
		}
		ext := identity.Parse(m.ExternalID)
		if ext.Kind != identity.KindUser {
			observability.MatchesDiscarded.WithLabelValues("synthetic").Inc()
			continue
		}
		if prev, ok := best[ext.UserID]; !ok || m.Similarity > prev.Similarity {
			best[ext.UserID] = m
		}
	}
	if len(best) == 0 {
		return []models.MatchedUser{}, nil
	}

	ids := make([]uuid.UUID, 0, len(best))
	for id := range best {
		ids = append(ids, id)
	}

	profiles, err := r.profiles.ProfilesByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve profiles: %w", err)
	}

	resolved := make([]models.MatchedUser, 0, len(best))
	for id, m := range best {
		p, ok := profiles[id]
		if !ok {
			// The provider knows a face the application does not.
			observability.MatchesDiscarded.WithLabelValues("unknown_profile").Inc()
			continue
		}
		name := p.FullName
		if name == "" {
			name = p.Email
		}
		if name == "" {
			name = "Unknown User"
		}
		score := math.Round(m.Similarity*100) / 100
		resolved = append(resolved, models.MatchedUser{
			UserID:     id,
			FaceID:     m.FaceID,
			FullName:   name,
			AvatarURL:  p.AvatarURL,
			Confidence: score,
			Similarity: score,
			MatchedAt:  r.now().UTC(),
		})
		observability.MatchesResolved.Inc()
	}

	sort.Slice(resolved, func(i, j int) bool {
		if resolved[i].Similarity != resolved[j].Similarity {
			return resolved[i].Similarity > resolved[j].Similarity
		}
		return resolved[i].UserID.String() < resolved[j].UserID.String()
	})
	return resolved, nil
}
