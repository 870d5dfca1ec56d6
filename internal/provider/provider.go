// Package provider wraps the external face recognition capability.
// The adapter is stateless: callers are responsible for recording the
// face identifiers it returns.
package provider

import (
	"context"
	"encoding/json"
)

// DetectedFace is one face found by pure detection; nothing is
// persisted on the provider side.
type DetectedFace struct {
	Confidence float64
	// Attributes is the provider's biometric bag (age range, pose,
	// quality, ...). It is opaque metadata, never used for identity
	// decisions.
	Attributes json.RawMessage
}

// IndexedFace is one face persisted into the searchable collection.
type IndexedFace struct {
	FaceID     string
	ExternalID string
	Detail     json.RawMessage
}

// Match is a raw similarity hit against the collection. Similarity is
// on a 0-100 scale. ExternalID is whatever tag the matched face was
// indexed under and may be synthetic.
type Match struct {
	FaceID     string
	ExternalID string
	Similarity float64
}

// FaceProvider is the recognition capability consumed by the rest of
// the system.
type FaceProvider interface {
	Detect(ctx context.Context, image []byte) ([]DetectedFace, error)
	Index(ctx context.Context, image []byte, externalID string) ([]IndexedFace, error)
	SearchByImage(ctx context.Context, image []byte) ([]Match, error)
	SearchByFaceID(ctx context.Context, faceID string) ([]Match, error)
}

// CollectionAdmin is the privileged surface used only by the reset job
// executor.
type CollectionAdmin interface {
	DeleteCollection(ctx context.Context) error
	CreateCollection(ctx context.Context) error
}
