// Package lexical provides the ranked keyword-search driver used for the
// lexical retrieval signal. Scores are BM25-style: not comparable across
// drivers or with vector scores, which is why retrieval fuses by rank
// position instead of raw score.
package lexical

import "context"

// Document is an indexable piece of item content.
type Document struct {
	// ID is the memory item id.
	ID string

	// Content is the raw text to index.
	Content string

	// Namespace and Tier mirror the owning item for structural filters.
	Namespace string
	Tier      string
}

// Filter narrows a search. Zero values match everything.
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

// QueryResult is a ranked keyword hit. Higher score = better match.
type QueryResult struct {
	Document
	Score float64
}

// Driver handles indexing and ranked keyword search.
type Driver interface {
	// Index stores documents. An existing id is reindexed.
	Index(ctx context.Context, docs []Document) error

	// Search returns the topK best-matching documents for the query
	// tokens, restricted by filter, best first.
	Search(ctx context.Context, query string, topK int, filter Filter) ([]QueryResult, error)

	// Delete removes documents by id.
	Delete(ctx context.Context, ids []string) error

	// Close releases driver resources.
	Close() error
}
