package gateway

import (
	"context"
	"errors"
)

// ErrIndexUnavailable means the vector index could not be reached or rejected
// the call. Recorded on the record like an embedding failure.
var ErrIndexUnavailable = errors.New("vector index unavailable")

// Payload is the data stored alongside a vector, used to map a search hit
// back to its metadata record.
type Payload struct {
	RecordID int64
	OwnerID  string
}

// Match is one nearest-neighbor hit. Hits come back ordered by descending
// score; ordering of equal scores is not guaranteed by any backend.
type Match struct {
	RecordID int64
	OwnerID  string
	Score    float32
}

// VectorIndex wraps the opaque similarity-search service. External ids are
// the records' stable vector ids (UUIDs), never record ids.
type VectorIndex interface {
	Upsert(ctx context.Context, externalID string, vector []float32, payload Payload) error
	// SetPayload patches the payload of an existing point, used once the
	// owning record id is known (upload fast path writes the vector before
	// the record exists).
	SetPayload(ctx context.Context, externalID string, payload Payload) error
	Delete(ctx context.Context, externalID string) error
	Search(ctx context.Context, vector []float32, k int) ([]Match, error)
	// Health is a cheap liveness probe, no search involved.
	Health(ctx context.Context) error
	PointCount(ctx context.Context) (uint64, error)
}
