// Package inmemory implements lexical.Driver with an in-process inverted
// index scored by BM25. It backs tests and local development; the FTS5
// driver is the persistent equivalent.
package inmemory

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/engramlabs/engram/pkg/lexical"
)

// BM25 constants, standard Robertson/Sparck-Jones parameterization.
const (
	k1 = 1.2
	b  = 0.75
)

type posting struct {
	termFreq map[string]int // doc id -> term frequency
}

// Driver implements lexical.Driver with an inverted index.
type Driver struct {
	mu       sync.RWMutex
	docs     map[string]lexical.Document
	lengths  map[string]int
	postings map[string]*posting
	totalLen int
}

// NewDriver creates a new in-memory lexical driver.
func NewDriver() *Driver {
	return &Driver{
		docs:     make(map[string]lexical.Document),
		lengths:  make(map[string]int),
		postings: make(map[string]*posting),
	}
}

// Index stores documents, reindexing existing ids.
func (d *Driver) Index(_ context.Context, docs []lexical.Document) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, doc := range docs {
		if _, ok := d.docs[doc.ID]; ok {
			d.removeLocked(doc.ID)
		}

		tokens := lexical.Tokenize(doc.Content)
		d.docs[doc.ID] = doc
		d.lengths[doc.ID] = len(tokens)
		d.totalLen += len(tokens)

		for _, tok := range tokens {
			p, ok := d.postings[tok]
			if !ok {
				p = &posting{termFreq: make(map[string]int)}
				d.postings[tok] = p
			}
			p.termFreq[doc.ID]++
		}
	}
	return nil
}

// Search scores documents with BM25 over the query tokens and returns the
// topK, ties broken by id ascending for deterministic ordering.
func (d *Driver) Search(_ context.Context, query string, topK int, filter lexical.Filter) ([]lexical.QueryResult, error) {
	if topK <= 0 {
		topK = 10
	}

	tokens := lexical.Tokenize(query)
	if len(tokens) == 0 {
		return nil, nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	n := len(d.docs)
	if n == 0 {
		return nil, nil
	}
	avgLen := float64(d.totalLen) / float64(n)

	scores := make(map[string]float64)
	for _, tok := range tokens {
		p, ok := d.postings[tok]
		if !ok {
			continue
		}
		df := len(p.termFreq)
		idf := math.Log(1 + (float64(n)-float64(df)+0.5)/(float64(df)+0.5))

		for id, tf := range p.termFreq {
			docLen := float64(d.lengths[id])
			norm := float64(tf) * (k1 + 1) / (float64(tf) + k1*(1-b+b*docLen/avgLen))
			scores[id] += idf * norm
		}
	}

	results := make([]lexical.QueryResult, 0, len(scores))
	for id, score := range scores {
		doc := d.docs[id]
		if !filter.Matches(doc) {
			continue
		}
		results = append(results, lexical.QueryResult{Document: doc, Score: score})
	}

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

// Delete removes documents by id.
func (d *Driver) Delete(_ context.Context, ids []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, id := range ids {
		d.removeLocked(id)
	}
	return nil
}

// Close is a no-op for the in-memory driver.
func (d *Driver) Close() error {
	return nil
}

func (d *Driver) removeLocked(id string) {
	doc, ok := d.docs[id]
	if !ok {
		return
	}

	for _, tok := range lexical.Tokenize(doc.Content) {
		if p, ok := d.postings[tok]; ok {
			delete(p.termFreq, id)
			if len(p.termFreq) == 0 {
				delete(d.postings, tok)
			}
		}
	}
	d.totalLen -= d.lengths[id]
	delete(d.lengths, id)
	delete(d.docs, id)
}
