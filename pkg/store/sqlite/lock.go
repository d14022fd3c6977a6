package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/engramlabs/engram/pkg/store"
)

// LockDriver implements store.LockDriver on a SQLite lease table. Lease
// takeover is a single conditional upsert, so two workers racing for the
// same key resolve inside the database without an advisory lock.
type LockDriver struct {
	db *sql.DB

	// now is swappable for lease-expiry tests.
	now func() time.Time
}

// NewLockDriver creates a new SQLite-backed lease lock driver.
func NewLockDriver(c Config) (*LockDriver, error) {
	if c.DBPath == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := sql.Open("sqlite3", c.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying busy_timeout: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS leases (
			key        TEXT PRIMARY KEY,
			holder     TEXT NOT NULL,
			expires_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating leases schema: %w", err)
	}

	return &LockDriver{db: db, now: time.Now}, nil
}

// SetClock overrides the driver's clock. Test hook.
func (d *LockDriver) SetClock(now func() time.Time) {
	d.now = now
}

// Acquire claims key for ttl. An unexpired lease by another holder yields
// ErrLockHeld; an expired one is taken over.
func (d *LockDriver) Acquire(ctx context.Context, key, holder string, ttl time.Duration) (*store.Lease, error) {
	now := d.now()
	expiresAt := now.Add(ttl)

	res, err := d.db.ExecContext(ctx, `
		INSERT INTO leases (key, holder, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at
		WHERE leases.expires_at <= ? OR leases.holder = excluded.holder`,
		key, holder, expiresAt.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("acquiring lease on %s: %w", key, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("acquiring lease on %s: %w", key, err)
	}
	if affected == 0 {
		return nil, store.ErrLockHeld
	}

	return &store.Lease{Key: key, Holder: holder, ExpiresAt: expiresAt}, nil
}

// Release drops the holder's lease if it still owns the key. A lease that
// expired or was taken over by another holder is left alone.
func (d *LockDriver) Release(ctx context.Context, key, holder string) error {
	if _, err := d.db.ExecContext(ctx,
		`DELETE FROM leases WHERE key = ? AND holder = ?`, key, holder,
	); err != nil {
		return fmt.Errorf("releasing lease on %s: %w", key, err)
	}
	return nil
}

// Close closes the underlying database.
func (d *LockDriver) Close() error {
	return d.db.Close()
}

var _ store.LockDriver = (*LockDriver)(nil)
