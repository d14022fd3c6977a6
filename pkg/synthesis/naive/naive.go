// Package naive implements a Merger that needs no model: it keeps the
// survivor's content and appends any sentences the other duplicates add.
package naive

import (
	"context"
	"strings"

	"github.com/engramlabs/engram/pkg/item"
	"github.com/engramlabs/engram/pkg/synthesis"
)

// Merger deduplicates near-identical contents without an LLM.
type Merger struct{}

// NewMerger creates a naive merger.
func NewMerger() *Merger {
	return &Merger{}
}

// Merge returns the survivor's content, followed by any duplicate whose
// normalized form differs from everything already kept. Order of first
// appearance is preserved.
func (m *Merger) Merge(_ context.Context, contents []string) (string, error) {
	if len(contents) == 0 {
		return "", nil
	}

	seen := make(map[string]struct{}, len(contents))
	kept := make([]string, 0, len(contents))
	for _, c := range contents {
		norm := item.NormalizeContent(c)
		if norm == "" {
			continue
		}
		if _, ok := seen[norm]; ok {
			continue
		}
		seen[norm] = struct{}{}
		kept = append(kept, strings.TrimSpace(c))
	}

	return strings.Join(kept, "\n\n"), nil
}

// Close is a no-op.
func (m *Merger) Close() error {
	return nil
}

var _ synthesis.Merger = (*Merger)(nil)
