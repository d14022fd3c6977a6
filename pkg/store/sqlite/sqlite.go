// Package sqlite implements the store drivers on SQLite. Items persist as
// JSON documents alongside extracted columns for the fields queries filter
// and page on, so the flexible item shape never forces a schema migration.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/engramlabs/engram/pkg/item"
	"github.com/engramlabs/engram/pkg/store"
)

// Driver implements store.Driver on a SQLite database.
type Driver struct {
	db     *sql.DB
	logger *zap.Logger
}

// Config holds configuration for the SQLite store driver.
type Config struct {
	// DBPath is the path to the SQLite database file.
	// Use ":memory:" for an in-memory database.
	DBPath string
}

// NewDriver creates a new SQLite-backed document store.
func NewDriver(c Config, logger *zap.Logger) (*Driver, error) {
	if c.DBPath == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", c.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %s: %w", pragma, err)
		}
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS items (
			id               TEXT PRIMARY KEY,
			namespace        TEXT NOT NULL DEFAULT '',
			tier             TEXT NOT NULL,
			fingerprint      TEXT NOT NULL,
			tombstoned       INTEGER NOT NULL DEFAULT 0,
			version          INTEGER NOT NULL,
			access_count     INTEGER NOT NULL DEFAULT 0,
			last_accessed_at INTEGER,
			data             TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS items_by_fingerprint ON items(fingerprint) WHERE tombstoned = 0;
		CREATE INDEX IF NOT EXISTS items_by_tier ON items(tier);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating items schema: %w", err)
	}

	logger.Info("sqlite store driver initialized",
		zap.String("db_path", c.DBPath),
	)

	return &Driver{db: db, logger: logger}, nil
}

// Put inserts a new item.
func (d *Driver) Put(ctx context.Context, m *item.MemoryItem) error {
	if m == nil {
		return errors.New("cannot store nil item")
	}
	if err := m.Validate(); err != nil {
		return err
	}

	cp := m.Clone()
	if cp.Version == 0 {
		cp.Version = 1
	}

	res, err := d.db.ExecContext(ctx, `
		INSERT INTO items (id, namespace, tier, fingerprint, tombstoned, version, access_count, last_accessed_at, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		cp.ID, cp.Namespace, string(cp.Tier), cp.Fingerprint,
		boolInt(cp.Tombstoned), cp.Version, cp.AccessCount,
		nanosOrNull(cp.LastAccessedAt), mustMarshal(cp),
	)
	if err != nil {
		return fmt.Errorf("inserting item %s: %w", cp.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("inserting item %s: %w", cp.ID, err)
	}
	if affected == 0 {
		return store.ErrAlreadyExists
	}
	return nil
}

// Get retrieves an item by id, tombstoned included.
func (d *Driver) Get(ctx context.Context, id string) (*item.MemoryItem, error) {
	var data []byte
	err := d.db.QueryRowContext(ctx, `SELECT data FROM items WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading item %s: %w", id, err)
	}
	return unmarshalItem(data)
}

// UpdateCAS writes m if the stored version matches expectedVersion.
func (d *Driver) UpdateCAS(ctx context.Context, m *item.MemoryItem, expectedVersion int64) error {
	if m == nil {
		return errors.New("cannot store nil item")
	}

	cp := m.Clone()
	cp.Version = expectedVersion + 1

	res, err := d.db.ExecContext(ctx, `
		UPDATE items
		SET namespace = ?, tier = ?, fingerprint = ?, tombstoned = ?,
		    version = ?, access_count = ?, last_accessed_at = ?, data = ?
		WHERE id = ? AND version = ?`,
		cp.Namespace, string(cp.Tier), cp.Fingerprint, boolInt(cp.Tombstoned),
		cp.Version, cp.AccessCount, nanosOrNull(cp.LastAccessedAt), mustMarshal(cp),
		cp.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("updating item %s: %w", cp.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating item %s: %w", cp.ID, err)
	}
	if affected == 0 {
		var exists bool
		if err := d.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM items WHERE id = ?)`, cp.ID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("checking item %s: %w", cp.ID, err)
		}
		if !exists {
			return store.ErrNotFound
		}
		return store.ErrStaleVersion
	}

	m.Version = cp.Version
	return nil
}

// List pages over items ordered by id.
func (d *Driver) List(ctx context.Context, f store.ListFilter, cursor string, limit int) ([]*item.MemoryItem, string, error) {
	if limit <= 0 {
		limit = 100
	}

	where := []string{"id > ?"}
	args := []any{cursor}
	if !f.IncludeTombstoned {
		where = append(where, "tombstoned = 0")
	}
	if f.Tier != nil {
		where = append(where, "tier = ?")
		args = append(args, string(*f.Tier))
	}
	if f.Namespace != "" {
		where = append(where, "namespace = ?")
		args = append(args, f.Namespace)
	}
	args = append(args, limit+1)

	q := fmt.Sprintf(
		`SELECT data FROM items WHERE %s ORDER BY id LIMIT ?`,
		strings.Join(where, " AND "),
	)
	rows, err := d.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	var out []*item.MemoryItem
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, "", fmt.Errorf("scanning item: %w", err)
		}
		m, err := unmarshalItem(data)
		if err != nil {
			return nil, "", err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	next := ""
	if len(out) > limit {
		out = out[:limit]
		next = out[limit-1].ID
	}
	return out, next, nil
}

// ByFingerprint returns live items sharing a fingerprint, ordered by id.
func (d *Driver) ByFingerprint(ctx context.Context, fingerprint string) ([]*item.MemoryItem, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT data FROM items WHERE fingerprint = ? AND tombstoned = 0 ORDER BY id`,
		fingerprint,
	)
	if err != nil {
		return nil, fmt.Errorf("listing items by fingerprint: %w", err)
	}
	defer rows.Close()

	var out []*item.MemoryItem
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		m, err := unmarshalItem(data)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// RecordAccess bumps access bookkeeping without touching the CAS version.
// The row is rewritten inside one transaction so the JSON document and the
// extracted columns never disagree.
func (d *Driver) RecordAccess(ctx context.Context, id string, at time.Time) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var data []byte
	err = tx.QueryRowContext(ctx, `SELECT data FROM items WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("reading item %s: %w", id, err)
	}

	m, err := unmarshalItem(data)
	if err != nil {
		return err
	}
	m.AccessCount++
	if m.LastAccessedAt == nil || at.After(*m.LastAccessedAt) {
		t := at
		m.LastAccessedAt = &t
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE items SET access_count = ?, last_accessed_at = ?, data = ? WHERE id = ?`,
		m.AccessCount, nanosOrNull(m.LastAccessedAt), mustMarshal(m), id,
	); err != nil {
		return fmt.Errorf("recording access for %s: %w", id, err)
	}
	return tx.Commit()
}

// Delete hard-deletes an item.
func (d *Driver) Delete(ctx context.Context, id string) error {
	res, err := d.db.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting item %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting item %s: %w", id, err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Stats reports per-tier live counts and tombstones.
func (d *Driver) Stats(ctx context.Context) (store.Stats, error) {
	s := store.Stats{PerTier: make(map[item.Tier]int64)}

	rows, err := d.db.QueryContext(ctx,
		`SELECT tier, tombstoned, COUNT(*) FROM items GROUP BY tier, tombstoned`,
	)
	if err != nil {
		return s, fmt.Errorf("counting items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tier string
		var tombstoned bool
		var count int64
		if err := rows.Scan(&tier, &tombstoned, &count); err != nil {
			return s, fmt.Errorf("scanning counts: %w", err)
		}
		if tombstoned {
			s.Tombstoned += count
			continue
		}
		s.TotalLive += count
		s.PerTier[item.Tier(tier)] += count
	}
	return s, rows.Err()
}

// Close closes the underlying database.
func (d *Driver) Close() error {
	return d.db.Close()
}

func unmarshalItem(data []byte) (*item.MemoryItem, error) {
	var m item.MemoryItem
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding stored item: %w", err)
	}
	return &m, nil
}

// mustMarshal encodes an item document. MemoryItem contains only
// json-encodable fields, so a failure here is a programming error.
func mustMarshal(m *item.MemoryItem) []byte {
	data, err := json.Marshal(m)
	if err != nil {
		panic(fmt.Sprintf("encoding memory item %s: %v", m.ID, err))
	}
	return data
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nanosOrNull(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

var _ store.Driver = (*Driver)(nil)
