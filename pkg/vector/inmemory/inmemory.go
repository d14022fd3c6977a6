// Package inmemory implements vector.Driver with a brute-force cosine
// scan over an in-process map. It backs tests and small local stores.
package inmemory

import (
	"context"
	"sort"
	"sync"

	"github.com/engramlabs/engram/pkg/vector"
)

// Driver implements vector.Driver using an in-memory map.
type Driver struct {
	mu   sync.RWMutex
	docs map[string]vector.Document
}

// NewDriver creates a new in-memory vector driver.
func NewDriver() *Driver {
	return &Driver{
		docs: make(map[string]vector.Document),
	}
}

// Add stores documents, replacing any existing ids.
func (d *Driver) Add(_ context.Context, docs []vector.Document) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, doc := range docs {
		cp := doc
		cp.Embedding = append([]float32(nil), doc.Embedding...)
		d.docs[doc.ID] = cp
	}
	return nil
}

// Query scans all documents and returns the topK by cosine similarity,
// ties broken by id ascending for deterministic ordering.
func (d *Driver) Query(_ context.Context, embedding []float32, topK int, filter vector.Filter) ([]vector.QueryResult, error) {
	if topK <= 0 {
		topK = 10
	}

	d.mu.RLock()
	results := make([]vector.QueryResult, 0, len(d.docs))
	for _, doc := range d.docs {
		if !filter.Matches(doc) {
			continue
		}
		results = append(results, vector.QueryResult{
			Document: doc,
			Score:    vector.Cosine(embedding, doc.Embedding),
		})
	}
	d.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Get retrieves documents by id, skipping missing ones.
func (d *Driver) Get(_ context.Context, ids []string) ([]vector.Document, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]vector.Document, 0, len(ids))
	for _, id := range ids {
		if doc, ok := d.docs[id]; ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

// Delete removes documents by id.
func (d *Driver) Delete(_ context.Context, ids []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, id := range ids {
		delete(d.docs, id)
	}
	return nil
}

// Close is a no-op for the in-memory driver.
func (d *Driver) Close() error {
	return nil
}
