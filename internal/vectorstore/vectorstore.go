// Package vectorstore backs the optional Message.embedding subsystem
// behind a narrow contract: upsert, delete, similarity search.
package vectorstore

import "context"

// Result is a single nearest-neighbour hit.
type Result struct {
	ID    string
	Score float64
}

// Store is the pluggable embedding backend.
type Store interface {
	Upsert(ctx context.Context, id string, vector []float32) error
	Delete(ctx context.Context, id string) error
	SimilaritySearch(ctx context.Context, vector []float32, k int) ([]Result, error)
	Close()
}
