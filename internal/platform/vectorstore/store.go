package vectorstore

import "context"

type Vector struct {
	ID      string
	Values  []float32
	Payload map[string]any
}

// Match carries the stored payload back with the similarity score so callers
// do not need a second lookup to materialize results.
type Match struct {
	ID      string
	Score   float64
	Payload map[string]any
}

// Store is the vector-search capability the retriever and the rule ingestion
// tooling share. Filter values may be scalars (exact payload match) or slices
// (payload contains any of the listed values).
type Store interface {
	Upsert(ctx context.Context, namespace string, vectors []Vector) error
	Query(ctx context.Context, namespace string, q []float32, topK int, filter map[string]any) ([]Match, error)
	DeleteIDs(ctx context.Context, namespace string, ids []string) error
}
