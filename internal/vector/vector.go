package vector

import "context"

// Metadata is attached to every indexed embedding. The index never interprets
// it beyond the user partition; it is returned verbatim on query.
type Metadata struct {
	UserID     string
	FactType   string
	Provenance string
	Text       string
}

// Result is a single nearest-neighbor hit. Distance is 1 - cosine similarity,
// so lower means more similar.
type Result struct {
	FactID   string
	Distance float64
	Metadata Metadata
}

// Index stores embedded fact text and returns nearest neighbors for a query
// vector, restricted to a single user. Implementations must guarantee that no
// query ever returns another user's vectors.
type Index interface {
	// Index inserts a vector with its metadata tags.
	Index(ctx context.Context, factID string, embedding []float32, meta Metadata) error

	// Query returns up to k nearest stored vectors for the user, closest
	// first. Fewer than k entries is not an error; zero entries yields an
	// empty result.
	Query(ctx context.Context, userID string, embedding []float32, k int) ([]Result, error)

	// Delete removes a single vector. Removing an absent id is a no-op.
	Delete(ctx context.Context, userID, factID string) error

	// DropUser removes every vector belonging to the user. Idempotent.
	DropUser(ctx context.Context, userID string) error
}
