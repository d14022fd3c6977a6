package inmemory

import (
	"context"
	"sync"
	"time"

	"github.com/engramlabs/engram/pkg/store"
)

// LockDriver implements store.LockDriver with an in-process lease table.
type LockDriver struct {
	mu     sync.Mutex
	leases map[string]store.Lease

	// now is swappable for lease-expiry tests.
	now func() time.Time
}

// NewLockDriver creates a new in-memory lease lock driver.
func NewLockDriver() *LockDriver {
	return &LockDriver{
		leases: make(map[string]store.Lease),
		now:    time.Now,
	}
}

// SetClock overrides the driver's clock. Test hook.
func (d *LockDriver) SetClock(now func() time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = now
}

// Acquire claims key for ttl. An unexpired lease by another holder yields
// ErrLockHeld; an expired one is taken over.
func (d *LockDriver) Acquire(_ context.Context, key, holder string, ttl time.Duration) (*store.Lease, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if cur, ok := d.leases[key]; ok && !cur.Expired(now) && cur.Holder != holder {
		return nil, store.ErrLockHeld
	}

	lease := store.Lease{Key: key, Holder: holder, ExpiresAt: now.Add(ttl)}
	d.leases[key] = lease
	return &lease, nil
}

// Release drops the holder's lease if it still owns the key. A lease that
// expired or was taken over by another holder is left alone.
func (d *LockDriver) Release(_ context.Context, key, holder string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if cur, ok := d.leases[key]; ok && cur.Holder == holder {
		delete(d.leases, key)
	}
	return nil
}

// Close is a no-op for the in-memory lock driver.
func (d *LockDriver) Close() error {
	return nil
}
