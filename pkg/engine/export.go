package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/engramlabs/engram/pkg/item"
	"github.com/engramlabs/engram/pkg/store"
)

// maxSnapshotLine bounds a single exported item line.
const maxSnapshotLine = 16 << 20

// Export writes every item, tombstoned included, as one JSON object per
// line. The format is the item's own wire shape, so an export is also a
// cold-storage archive for evicted history. Returns the item count.
func (e *Engine) Export(ctx context.Context, w io.Writer) (int, error) {
	enc := json.NewEncoder(w)
	count := 0

	cursor := ""
	for {
		page, next, err := e.store.List(ctx, store.ListFilter{IncludeTombstoned: true}, cursor, sweepPageSize)
		if err != nil {
			return count, fmt.Errorf("listing items: %w", err)
		}

		for _, m := range page {
			if err := enc.Encode(m); err != nil {
				return count, fmt.Errorf("encoding item %s: %w", m.ID, err)
			}
			count++
		}

		if next == "" {
			return count, nil
		}
		cursor = next
	}
}

// Import reads a JSON-lines snapshot and restores the items, rebuilding
// index entries for live ones. Items whose id already exists are skipped,
// so re-importing an overlapping snapshot is safe. Returns the count of
// newly restored items.
func (e *Engine) Import(ctx context.Context, r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxSnapshotLine)

	count := 0
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var m item.MemoryItem
		if err := json.Unmarshal(raw, &m); err != nil {
			return count, fmt.Errorf("decoding snapshot line %d: %w", line, err)
		}
		if err := m.Validate(); err != nil {
			return count, fmt.Errorf("snapshot line %d: %w", line, err)
		}

		if !m.Tombstoned {
			if err := e.indexItem(ctx, &m); err != nil {
				return count, err
			}
		}

		err := e.store.Put(ctx, &m)
		if errors.Is(err, store.ErrAlreadyExists) {
			continue
		}
		if err != nil {
			return count, fmt.Errorf("restoring item %s: %w", m.ID, err)
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("reading snapshot: %w", err)
	}
	return count, nil
}
