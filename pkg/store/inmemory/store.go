// Package inmemory implements the store drivers with in-process maps.
// It backs tests and local development; every item is deep-copied on the
// way in and out so callers never alias internal state.
package inmemory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/engramlabs/engram/pkg/item"
	"github.com/engramlabs/engram/pkg/store"
)

// Driver implements store.Driver using an in-memory map.
type Driver struct {
	mu    sync.RWMutex
	items map[string]*item.MemoryItem
}

// NewDriver creates a new in-memory document store.
func NewDriver() *Driver {
	return &Driver{
		items: make(map[string]*item.MemoryItem),
	}
}

// Put inserts a new item.
func (d *Driver) Put(_ context.Context, m *item.MemoryItem) error {
	if m == nil {
		return errors.New("cannot store nil item")
	}
	if err := m.Validate(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.items[m.ID]; ok {
		return store.ErrAlreadyExists
	}

	cp := m.Clone()
	if cp.Version == 0 {
		cp.Version = 1
	}
	d.items[m.ID] = cp
	return nil
}

// Get retrieves an item by id, tombstoned included.
func (d *Driver) Get(_ context.Context, id string) (*item.MemoryItem, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	m, ok := d.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return m.Clone(), nil
}

// UpdateCAS writes m if the stored version matches expectedVersion.
func (d *Driver) UpdateCAS(_ context.Context, m *item.MemoryItem, expectedVersion int64) error {
	if m == nil {
		return errors.New("cannot store nil item")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	cur, ok := d.items[m.ID]
	if !ok {
		return store.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return store.ErrStaleVersion
	}

	cp := m.Clone()
	cp.Version = expectedVersion + 1
	d.items[m.ID] = cp
	m.Version = cp.Version
	return nil
}

// List pages over items ordered by id.
func (d *Driver) List(_ context.Context, f store.ListFilter, cursor string, limit int) ([]*item.MemoryItem, string, error) {
	if limit <= 0 {
		limit = 100
	}

	d.mu.RLock()
	ids := make([]string, 0, len(d.items))
	for id := range d.items {
		if id > cursor {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	out := make([]*item.MemoryItem, 0, limit)
	next := ""
	for _, id := range ids {
		m := d.items[id]
		if !matches(m, f) {
			continue
		}
		if len(out) == limit {
			next = out[len(out)-1].ID
			break
		}
		out = append(out, m.Clone())
	}
	d.mu.RUnlock()

	return out, next, nil
}

// ByFingerprint returns live items sharing a fingerprint, ordered by id.
func (d *Driver) ByFingerprint(_ context.Context, fingerprint string) ([]*item.MemoryItem, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []*item.MemoryItem
	for _, m := range d.items {
		if m.Fingerprint == fingerprint && !m.Tombstoned {
			out = append(out, m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// RecordAccess bumps access bookkeeping without touching the CAS version.
func (d *Driver) RecordAccess(_ context.Context, id string, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, ok := d.items[id]
	if !ok {
		return store.ErrNotFound
	}
	m.AccessCount++
	if m.LastAccessedAt == nil || at.After(*m.LastAccessedAt) {
		t := at
		m.LastAccessedAt = &t
	}
	return nil
}

// Delete hard-deletes an item.
func (d *Driver) Delete(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.items[id]; !ok {
		return store.ErrNotFound
	}
	delete(d.items, id)
	return nil
}

// Stats reports per-tier live counts and tombstones.
func (d *Driver) Stats(_ context.Context) (store.Stats, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s := store.Stats{PerTier: make(map[item.Tier]int64)}
	for _, m := range d.items {
		if m.Tombstoned {
			s.Tombstoned++
			continue
		}
		s.TotalLive++
		s.PerTier[m.Tier]++
	}
	return s, nil
}

// Close is a no-op for the in-memory store.
func (d *Driver) Close() error {
	return nil
}

func matches(m *item.MemoryItem, f store.ListFilter) bool {
	if m.Tombstoned && !f.IncludeTombstoned {
		return false
	}
	if f.Tier != nil && m.Tier != *f.Tier {
		return false
	}
	if f.Namespace != "" && m.Namespace != f.Namespace {
		return false
	}
	return true
}
