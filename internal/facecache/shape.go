package facecache

import (
	"sync"
	"time"

	"github.com/your-org/facematch/internal/models"
)

// KeyShape records which matched-user key spelling a table's rows were
// last observed to use, so containment queries can try the likely
// variant first.
type KeyShape string

const (
	ShapeUnknown KeyShape = ""
	ShapeCurrent KeyShape = "userId"
	ShapeLegacy  KeyShape = "user_id"
)

// ShapeCache holds schema-shape discovery results with a validity
// window. The clock is injected so expiry is testable.
type ShapeCache struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	shapes map[models.SourceTable]shapeEntry
}

type shapeEntry struct {
	shape   KeyShape
	savedAt time.Time
}

func NewShapeCache(ttl time.Duration, now func() time.Time) *ShapeCache {
	if now == nil {
		now = time.Now
	}
	return &ShapeCache{
		ttl:    ttl,
		now:    now,
		shapes: make(map[models.SourceTable]shapeEntry),
	}
}

// Get returns the remembered shape for a table, or ShapeUnknown when
// nothing valid is cached.
func (s *ShapeCache) Get(table models.SourceTable) KeyShape {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.shapes[table]
	if !ok {
		return ShapeUnknown
	}
	if s.now().Sub(entry.savedAt) > s.ttl {
		delete(s.shapes, table)
		return ShapeUnknown
	}
	return entry.shape
}

// Put records the shape observed for a table, restarting its validity
// window.
func (s *ShapeCache) Put(table models.SourceTable, shape KeyShape) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shapes[table] = shapeEntry{shape: shape, savedAt: s.now()}
}
