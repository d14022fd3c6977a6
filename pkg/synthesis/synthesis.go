// Package synthesis defines the content-merging collaborator used when
// duplicate memories are consolidated into a single survivor.
package synthesis

import "context"

// Merger produces a single consolidated text from the contents of a
// duplicate cluster. Implementations must be side-effect free: a failed
// merge leaves the stored items untouched.
type Merger interface {
	// Merge combines the given contents into one text. The first
	// element is the survivor's content.
	Merge(ctx context.Context, contents []string) (string, error)

	// Close releases any resources held by the merger.
	Close() error
}
