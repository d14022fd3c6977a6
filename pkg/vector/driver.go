// Package vector provides the approximate-nearest-neighbor index driver
// used for semantic retrieval and near-duplicate detection.
package vector

import "context"

// Document represents a stored embedding with the metadata retrieval
// filters on.
type Document struct {
	// ID is the memory item id the embedding belongs to.
	ID string

	// Fingerprint is the item's content fingerprint, carried so the
	// consolidation sweep can skip exact-duplicate pairs it already merged.
	Fingerprint string

	// Namespace and Tier mirror the owning item so structural filters can
	// be applied inside the index, before fusion.
	Namespace string
	Tier      string

	// Embedding is the vector representation of the item content.
	Embedding []float32
}

// Filter narrows a similarity query. Zero values match everything.
type Filter struct {
	Namespace string
	Tiers     []string
}

// Matches reports whether a document passes the filter.
func (f Filter) Matches(doc Document) bool {
	if f.Namespace != "" && doc.Namespace != f.Namespace {
		return false
	}
	if len(f.Tiers) > 0 {
		ok := false
		for _, t := range f.Tiers {
			if doc.Tier == t {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// QueryResult is a similarity hit. Score is cosine similarity (higher =
// more similar) across all drivers, so the consolidation near-duplicate
// threshold means the same thing everywhere.
type QueryResult struct {
	Document
	Score float32
}

// Driver handles storage and retrieval of vector embeddings.
type Driver interface {
	// Add stores documents. An existing id is updated in place.
	Add(ctx context.Context, docs []Document) error

	// Query finds the topK most similar documents, restricted by filter.
	Query(ctx context.Context, embedding []float32, topK int, filter Filter) ([]QueryResult, error)

	// Get retrieves documents by their ids. Missing ids are skipped.
	Get(ctx context.Context, ids []string) ([]Document, error)

	// Delete removes documents by their ids.
	Delete(ctx context.Context, ids []string) error

	// Close releases driver resources.
	Close() error
}
