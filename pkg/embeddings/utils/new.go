package embeddingsutils

import (
	"fmt"

	"github.com/engramlabs/engram/pkg/embeddings"
	"github.com/engramlabs/engram/pkg/embeddings/mock"
	"github.com/engramlabs/engram/pkg/embeddings/ollama"
)

// NewEmbedderOpts selects and configures an embedder by provider name:
// "ollama" or "mock".
type NewEmbedderOpts struct {
	ProviderType string
	BaseURL      string
	Model        string
	Dimensions   int
}

// NewEmbedder constructs the configured embedder.
func NewEmbedder(o *NewEmbedderOpts) (embeddings.Embedder, error) {
	switch o.ProviderType {
	case "ollama":
		return ollama.NewEmbedder(ollama.EmbedderConfig{
			BaseURL: o.BaseURL,
			Model:   o.Model,
		})
	case "mock":
		return mock.NewEmbedder(o.Dimensions), nil
	default:
		return nil, fmt.Errorf("unsupported embeddings provider: %s", o.ProviderType)
	}
}
