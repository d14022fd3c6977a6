// Package sqlite provides a SQLite-backed graph driver. Edges live in a
// single table keyed by (source, target, type); traversal runs one
// bounded frontier query per hop.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/engramlabs/engram/pkg/graph"
	"github.com/engramlabs/engram/pkg/item"
)

// Driver implements graph.Driver using SQLite.
type Driver struct {
	db     *sql.DB
	logger *zap.Logger
}

// Config holds configuration for the SQLite graph driver.
type Config struct {
	// DBPath is the path to the SQLite database file.
	// Use ":memory:" for an in-memory database.
	DBPath string
}

// NewDriver creates a new SQLite graph driver.
func NewDriver(c Config, logger *zap.Logger) (*Driver, error) {
	if c.DBPath == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", c.DBPath)
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %v", graph.ErrUnavailable, err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS entities (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			norm_name TEXT NOT NULL UNIQUE,
			kind TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		);
		CREATE TABLE IF NOT EXISTS edges (
			source_id TEXT NOT NULL,
			source_kind TEXT NOT NULL,
			target_id TEXT NOT NULL,
			target_kind TEXT NOT NULL,
			type TEXT NOT NULL,
			strength REAL NOT NULL DEFAULT 1.0,
			asserted_at TIMESTAMP NOT NULL,
			observed_at TIMESTAMP NOT NULL,
			PRIMARY KEY (source_id, target_id, type)
		);
		CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source_id);
		CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_id);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating graph schema: %w", err)
	}

	logger.Info("sqlite graph driver initialized",
		zap.String("db_path", c.DBPath),
	)

	return &Driver{db: db, logger: logger}, nil
}

// PutEntity upserts an entity node.
func (d *Driver) PutEntity(ctx context.Context, e *item.Entity) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO entities (id, name, norm_name, kind, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, norm_name = excluded.norm_name, kind = excluded.kind
	`, e.ID, e.Name, normalizeName(e.Name), e.Kind, e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upserting entity %s: %w", e.ID, err)
	}
	return nil
}

// GetEntity retrieves an entity by id.
func (d *Driver) GetEntity(ctx context.Context, id string) (*item.Entity, error) {
	return d.scanEntity(d.db.QueryRowContext(ctx,
		`SELECT id, name, kind, created_at FROM entities WHERE id = ?`, id))
}

// FindEntity looks an entity up by normalized name.
func (d *Driver) FindEntity(ctx context.Context, name string) (*item.Entity, error) {
	return d.scanEntity(d.db.QueryRowContext(ctx,
		`SELECT id, name, kind, created_at FROM entities WHERE norm_name = ?`, normalizeName(name)))
}

func (d *Driver) scanEntity(row *sql.Row) (*item.Entity, error) {
	var e item.Entity
	var createdAt time.Time
	err := row.Scan(&e.ID, &e.Name, &e.Kind, &createdAt)
	if err == sql.ErrNoRows {
		return nil, graph.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning entity: %w", err)
	}
	e.CreatedAt = createdAt
	return &e, nil
}

// PutEdge upserts an edge keyed by (source, target, type).
func (d *Driver) PutEdge(ctx context.Context, e graph.Edge) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO edges (source_id, source_kind, target_id, target_kind, type, strength, asserted_at, observed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id, target_id, type) DO UPDATE SET
			strength = excluded.strength,
			asserted_at = excluded.asserted_at,
			observed_at = excluded.observed_at
	`, e.SourceID, e.SourceKind, e.TargetID, e.TargetKind, e.Type, e.Strength, e.AssertedAt.UTC(), e.ObservedAt.UTC())
	if err != nil {
		return fmt.Errorf("upserting edge %s->%s: %w", e.SourceID, e.TargetID, err)
	}
	return nil
}

// Edges returns all edges touching the node.
func (d *Driver) Edges(ctx context.Context, nodeID string, types []string) ([]graph.Edge, error) {
	where := []string{"(source_id = ? OR target_id = ?)"}
	args := []any{nodeID, nodeID}
	where, args = appendTypeFilter(where, args, types)

	rows, err := d.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT source_id, source_kind, target_id, target_kind, type, strength, asserted_at, observed_at
		FROM edges
		WHERE %s
		ORDER BY source_id, target_id, type
	`, strings.Join(where, " AND ")), args...)
	if err != nil {
		return nil, fmt.Errorf("%w: querying edges: %v", graph.ErrUnavailable, err)
	}
	defer rows.Close()

	return scanEdges(rows)
}

// Traverse walks breadth-first up to maxHops, one frontier query per hop.
func (d *Driver) Traverse(ctx context.Context, seeds []string, maxHops int, types []string) ([]graph.Visit, error) {
	if maxHops <= 0 || len(seeds) == 0 {
		return nil, nil
	}

	seedSet := make(map[string]bool, len(seeds))
	for _, s := range seeds {
		seedSet[s] = true
	}

	best := make(map[string]graph.Visit)
	frontier := make(map[string]float64, len(seeds))
	for _, s := range seeds {
		frontier[s] = 1.0
	}

	for hop := 1; hop <= maxHops; hop++ {
		ids := make([]string, 0, len(frontier))
		for id := range frontier {
			ids = append(ids, id)
		}
		if len(ids) == 0 {
			break
		}

		placeholders := strings.Repeat("?,", len(ids))
		placeholders = placeholders[:len(placeholders)-1]
		where := []string{fmt.Sprintf("(source_id IN (%s) OR target_id IN (%s))", placeholders, placeholders)}

		args := make([]any, 0, 2*len(ids))
		for _, id := range ids {
			args = append(args, id)
		}
		for _, id := range ids {
			args = append(args, id)
		}
		where, args = appendTypeFilter(where, args, types)

		rows, err := d.db.QueryContext(ctx, fmt.Sprintf(`
			SELECT source_id, source_kind, target_id, target_kind, type, strength, asserted_at, observed_at
			FROM edges
			WHERE %s
		`, strings.Join(where, " AND ")), args...)
		if err != nil {
			return nil, fmt.Errorf("%w: traversal hop %d: %v", graph.ErrUnavailable, hop, err)
		}

		edges, err := scanEdges(rows)
		if err != nil {
			return nil, err
		}

		next := make(map[string]float64)
		for _, e := range edges {
			for _, end := range []struct {
				from, to string
				kind     graph.NodeKind
			}{
				{e.SourceID, e.TargetID, e.TargetKind},
				{e.TargetID, e.SourceID, e.SourceKind},
			} {
				pathStrength, inFrontier := frontier[end.from]
				if !inFrontier || seedSet[end.to] {
					continue
				}
				strength := pathStrength * e.Strength
				cur, visited := best[end.to]
				if !visited || strength > cur.Strength {
					best[end.to] = graph.Visit{ID: end.to, Kind: end.kind, Hops: hop, Strength: strength}
					if strength > next[end.to] {
						next[end.to] = strength
					}
				}
			}
		}
		frontier = next
	}

	visits := make([]graph.Visit, 0, len(best))
	for _, v := range best {
		visits = append(visits, v)
	}
	sort.Slice(visits, func(i, j int) bool {
		if visits[i].Hops != visits[j].Hops {
			return visits[i].Hops < visits[j].Hops
		}
		if visits[i].Strength != visits[j].Strength {
			return visits[i].Strength > visits[j].Strength
		}
		return visits[i].ID < visits[j].ID
	})
	return visits, nil
}

// Reassign re-points every edge touching fromID onto toID, collapsing key
// collisions and dropping self-edges.
func (d *Driver) Reassign(ctx context.Context, fromID, toID string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT source_id, source_kind, target_id, target_kind, type, strength, asserted_at, observed_at
		FROM edges
		WHERE source_id = ? OR target_id = ?
	`, fromID, fromID)
	if err != nil {
		return fmt.Errorf("loading edges for %s: %w", fromID, err)
	}
	edges, err := scanEdges(rows)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM edges WHERE source_id = ? OR target_id = ?`, fromID, fromID,
	); err != nil {
		return fmt.Errorf("deleting edges for %s: %w", fromID, err)
	}

	for _, e := range edges {
		if e.SourceID == fromID {
			e.SourceID = toID
		}
		if e.TargetID == fromID {
			e.TargetID = toID
		}
		if e.SourceID == e.TargetID {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO edges (source_id, source_kind, target_id, target_kind, type, strength, asserted_at, observed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(source_id, target_id, type) DO UPDATE SET strength = MAX(strength, excluded.strength)
		`, e.SourceID, e.SourceKind, e.TargetID, e.TargetKind, e.Type, e.Strength, e.AssertedAt.UTC(), e.ObservedAt.UTC()); err != nil {
			return fmt.Errorf("re-pointing edge onto %s: %w", toID, err)
		}
	}

	return tx.Commit()
}

// DeleteNode removes a node and every edge touching it.
func (d *Driver) DeleteNode(ctx context.Context, nodeID string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM edges WHERE source_id = ? OR target_id = ?`, nodeID, nodeID,
	); err != nil {
		return fmt.Errorf("deleting edges for %s: %w", nodeID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM entities WHERE id = ?`, nodeID,
	); err != nil {
		return fmt.Errorf("deleting entity %s: %w", nodeID, err)
	}

	return tx.Commit()
}

// Close closes the underlying database.
func (d *Driver) Close() error {
	return d.db.Close()
}

func appendTypeFilter(where []string, args []any, types []string) ([]string, []any) {
	if len(types) == 0 {
		return where, args
	}
	placeholders := make([]string, len(types))
	for i, t := range types {
		placeholders[i] = "?"
		args = append(args, t)
	}
	where = append(where, fmt.Sprintf("type IN (%s)", strings.Join(placeholders, ",")))
	return where, args
}

func scanEdges(rows *sql.Rows) ([]graph.Edge, error) {
	defer rows.Close()

	var out []graph.Edge
	for rows.Next() {
		var e graph.Edge
		var assertedAt, observedAt time.Time
		if err := rows.Scan(&e.SourceID, &e.SourceKind, &e.TargetID, &e.TargetKind,
			&e.Type, &e.Strength, &assertedAt, &observedAt); err != nil {
			return nil, fmt.Errorf("scanning edge: %w", err)
		}
		e.AssertedAt = assertedAt
		e.ObservedAt = observedAt
		out = append(out, e)
	}
	return out, rows.Err()
}

func normalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
