// Package mock provides a deterministic embedder for tests and offline
// development. Vectors are derived from token hashes, so similar texts
// land near each other and identical texts collide exactly.
package mock

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/engramlabs/engram/pkg/embeddings"
	"github.com/engramlabs/engram/pkg/lexical"
)

// DefaultDimensions is the vector size the mock produces.
const DefaultDimensions = 64

// Embedder implements embeddings.Embedder deterministically.
type Embedder struct {
	dimensions int
}

// NewEmbedder creates a mock embedder. Zero dimensions means
// DefaultDimensions.
func NewEmbedder(dimensions int) *Embedder {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return &Embedder{dimensions: dimensions}
}

// Embed hashes each token into a bucket and L2-normalizes the result.
func (e *Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dimensions)
	for _, tok := range lexical.Tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		vec[int(h.Sum32())%e.dimensions]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

// Close is a no-op.
func (e *Embedder) Close() error {
	return nil
}

var _ embeddings.Embedder = (*Embedder)(nil)
