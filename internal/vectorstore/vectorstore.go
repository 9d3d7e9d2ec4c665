// Package vectorstore defines the backend-independent contract for storing
// and searching chunk vectors. Two backends implement it: a managed search
// index driven over a REST control plane (mongodb) and a local vector
// database (qdrant). Callers pick one at startup; nothing above this
// interface knows which backend is active.
package vectorstore

import "context"

// ChunkRecord is one chunk ready for the vector store: its text, vector and
// the metadata retrieval needs to point back at the source document.
type ChunkRecord struct {
	ChunkID    string
	DocumentID string
	Order      int
	Text       string
	Source     string
	Tags       []string
	Vector     []float32
}

// SearchResult is one retrieval hit. Score semantics depend on the backend's
// similarity metric; higher is always more relevant.
type SearchResult struct {
	ChunkID    string
	DocumentID string
	Order      int
	Text       string
	Source     string
	Score      float64
}

// IndexManager provisions and tears down the backend index for a knowledge
// collection. All operations are idempotent: creating an index that exists
// and deleting one that does not are both successes.
type IndexManager interface {
	// IndexExists reports whether the collection's index exists. "Not found"
	// is (false, nil); only transport failures return an error.
	IndexExists(ctx context.Context, collection string) (bool, error)

	// CreateIndex provisions the index with the configured vector field,
	// dimensionality and similarity metric. Creating an existing index is a
	// no-op.
	CreateIndex(ctx context.Context, collection string) error

	// DeleteIndex removes the index and its stored vectors. Deleting an
	// absent index is a no-op.
	DeleteIndex(ctx context.Context, collection string) error

	// GetIndexID resolves the backend-specific opaque identifier for the
	// collection's index, or "" when absent.
	GetIndexID(ctx context.Context, collection string) (string, error)
}

// Strategy is the full vector store surface the ingestion pipeline uses.
type Strategy interface {
	IndexManager

	// EnsureCollection makes the collection usable, creating its index when
	// needed. Concurrent calls for the same name are collapsed into one
	// creation attempt.
	EnsureCollection(ctx context.Context, collection string) error

	// UpsertChunks writes the records keyed by ChunkID so re-upserting
	// overwrites. Every vector is validated against the configured dimension
	// before any write; a mismatch aborts with *DimensionMismatchError.
	// Individual write failures do not stop the batch; they are reported
	// together as *UpsertError.
	UpsertChunks(ctx context.Context, collection string, records []ChunkRecord) error

	// Search returns the topK nearest records scoring at or above minScore,
	// ordered by decreasing score with ties broken by chunk Order ascending.
	Search(ctx context.Context, collection string, vector []float32, topK int, minScore float64) ([]SearchResult, error)

	// DeleteByDocument removes every record belonging to the document.
	DeleteByDocument(ctx context.Context, collection string, documentID string) error
}
