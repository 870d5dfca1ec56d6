// Package facecache avoids repeated round trips for a user's canonical
// face identifier. It is an optimization only: every code path must
// behave correctly when the cache is cold or stale.
package facecache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/your-org/facematch/internal/models"
)

// BindingStore reads identity-to-face bindings. Multiple physical rows
// may exist for one user; LatestBinding returns the newest and nil when
// the user has none.
type BindingStore interface {
	LatestBinding(ctx context.Context, userID uuid.UUID) (*models.FaceBinding, error)
}

// PhotoScanner provides recent photos whose match lists may embed the
// identifier we are looking for.
type PhotoScanner interface {
	Recent(ctx context.Context, limit int) ([]models.Photo, error)
}

// HintSource is the last-resort, client-persisted fallback (the UI
// remembers the identifier it last saw). May be nil.
type HintSource interface {
	FaceIDHint(ctx context.Context, userID uuid.UUID) (string, error)
}

const scanLimit = 50

// Cache is safe for concurrent use by in-flight photo operations.
type Cache struct {
	ids      *gocache.Cache
	bindings BindingStore
	photos   PhotoScanner
	hints    HintSource
}

func New(ttl time.Duration, bindings BindingStore, photos PhotoScanner, hints HintSource) *Cache {
	return &Cache{
		ids:      gocache.New(ttl, 2*ttl),
		bindings: bindings,
		photos:   photos,
		hints:    hints,
	}
}

// PutFaceID records the canonical face identifier for a user.
func (c *Cache) PutFaceID(userID uuid.UUID, faceID string) {
	if faceID == "" {
		return
	}
	c.ids.SetDefault(userID.String(), faceID)
}

// GetFaceID returns the user's canonical face identifier, trying the
// in-process cache, then the binding store (most recent row wins), then
// a scan of recent photos' match lists, then the client-persisted hint.
// Every successful fallback populates the cache. An empty identifier
// with nil error means the user has no known face.
func (c *Cache) GetFaceID(ctx context.Context, userID uuid.UUID) (string, error) {
	if v, ok := c.ids.Get(userID.String()); ok {
		return v.(string), nil
	}

	if c.bindings != nil {
		binding, err := c.bindings.LatestBinding(ctx, userID)
		if err != nil {
			return "", fmt.Errorf("lookup face binding: %w", err)
		}
		if binding != nil && binding.FaceID != "" {
			c.PutFaceID(userID, binding.FaceID)
			return binding.FaceID, nil
		}
	}

	if c.photos != nil {
		photos, err := c.photos.Recent(ctx, scanLimit)
		if err != nil {
			slog.Warn("recent photo scan for face id failed", "user_id", userID, "error", err)
		} else {
			for _, p := range photos {
				for _, m := range p.MatchedUsers {
					if m.UserID == userID && m.FaceID != "" {
						c.PutFaceID(userID, m.FaceID)
						return m.FaceID, nil
					}
				}
			}
		}
	}

	if c.hints != nil {
		hint, err := c.hints.FaceIDHint(ctx, userID)
		if err != nil {
			slog.Warn("face id hint lookup failed", "user_id", userID, "error", err)
		} else if hint != "" {
			c.PutFaceID(userID, hint)
			return hint, nil
		}
	}

	return "", nil
}

// Invalidate drops a user's cached identifier, used after rebinding.
func (c *Cache) Invalidate(userID uuid.UUID) {
	c.ids.Delete(userID.String())
}
