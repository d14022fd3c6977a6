package synthesisutils

import (
	"fmt"

	"github.com/engramlabs/engram/pkg/synthesis"
	"github.com/engramlabs/engram/pkg/synthesis/naive"
	"github.com/engramlabs/engram/pkg/synthesis/ollama"
)

// NewMergerOpts selects and configures a merger by provider name:
// "naive" or "ollama".
type NewMergerOpts struct {
	ProviderType string
	BaseURL      string
	Model        string
}

// NewMerger constructs the configured merger.
func NewMerger(o *NewMergerOpts) (synthesis.Merger, error) {
	switch o.ProviderType {
	case "naive":
		return naive.NewMerger(), nil
	case "ollama":
		return ollama.NewMerger(ollama.MergerConfig{
			BaseURL: o.BaseURL,
			Model:   o.Model,
		})
	default:
		return nil, fmt.Errorf("unsupported synthesis provider: %s", o.ProviderType)
	}
}
