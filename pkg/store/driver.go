// Package store defines the document-facet driver for persisting memory
// items, plus the lease-based lock driver consolidation uses for mutual
// exclusion. Implementations live in subpackages (inmemory, sqlite,
// postgres) and must be safe for concurrent use.
package store

import (
	"context"
	"time"

	"github.com/engramlabs/engram/pkg/item"
)

// ListFilter narrows a List call. Zero values match everything live.
type ListFilter struct {
	// Tier restricts results to one tier when non-nil.
	Tier *item.Tier

	// Namespace restricts results to one namespace when non-empty.
	Namespace string

	// IncludeTombstoned includes tombstoned items. Maintenance sweeps set
	// this; retrieval never does.
	IncludeTombstoned bool
}

// Stats summarizes store contents for the maintenance surface.
type Stats struct {
	TotalLive  int64               `json:"total_live"`
	Tombstoned int64               `json:"tombstoned"`
	PerTier    map[item.Tier]int64 `json:"per_tier"`
}

// Driver is the document facet of the persistent store.
//
// List is cursor-driven: pass the cursor returned by the previous page (""
// to start) and results come back ordered by id so a sweep interrupted by
// restart resumes without reprocessing. UpdateCAS is the only mutation
// path for existing rows; it rejects writes computed against a stale
// snapshot with ErrStaleVersion.
type Driver interface {
	// Put inserts a new item. Returns ErrAlreadyExists for a duplicate id.
	Put(ctx context.Context, m *item.MemoryItem) error

	// Get retrieves an item (tombstoned included) by id.
	Get(ctx context.Context, id string) (*item.MemoryItem, error)

	// UpdateCAS writes m if the stored version equals expectedVersion,
	// incrementing the version counter. Returns ErrStaleVersion otherwise.
	UpdateCAS(ctx context.Context, m *item.MemoryItem, expectedVersion int64) error

	// List pages over items ordered by id. Returns the items, and a cursor
	// for the next page ("" when exhausted).
	List(ctx context.Context, f ListFilter, cursor string, limit int) ([]*item.MemoryItem, string, error)

	// ByFingerprint returns all live (non-tombstoned) items sharing a
	// content fingerprint, ordered by id.
	ByFingerprint(ctx context.Context, fingerprint string) ([]*item.MemoryItem, error)

	// RecordAccess atomically increments the access counter and stamps
	// last_accessed_at. Access bookkeeping deliberately bypasses the CAS
	// version so a hot read path never spins against sweeps.
	RecordAccess(ctx context.Context, id string, at time.Time) error

	// Delete hard-deletes an item. Only the eviction pass calls this.
	Delete(ctx context.Context, id string) error

	// Stats reports per-tier live counts and the tombstone count.
	Stats(ctx context.Context) (Stats, error)

	// Close releases driver resources.
	Close() error
}

// Lease is an ephemeral exclusive claim on a consolidation key.
type Lease struct {
	Key       string
	Holder    string
	ExpiresAt time.Time
}

// Expired reports whether the lease lapsed at the given instant.
func (l *Lease) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// LockDriver is the lease-based lock facet. At most one unexpired lease
// exists per key; a lease past its expiry is acquirable by a new holder,
// so a crashed worker can never block a group forever.
type LockDriver interface {
	// Acquire claims the key for ttl. Returns ErrLockHeld if another
	// holder has an unexpired lease.
	Acquire(ctx context.Context, key, holder string, ttl time.Duration) (*Lease, error)

	// Release drops the holder's lease. Releasing a lease that expired or
	// was taken over is a no-op.
	Release(ctx context.Context, key, holder string) error

	// Close releases driver resources.
	Close() error
}
