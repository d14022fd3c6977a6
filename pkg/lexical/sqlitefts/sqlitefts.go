// Package sqlitefts provides a SQLite FTS5-backed lexical driver ranked
// by SQLite's built-in bm25() function.
//
// The mattn/go-sqlite3 driver only compiles the FTS5 module in when the
// sqlite_fts5 build tag is set; without it, opening the index fails at
// startup with a clear error rather than at query time.
package sqlitefts

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/engramlabs/engram/pkg/lexical"
)

// Driver implements lexical.Driver using an FTS5 virtual table.
type Driver struct {
	db     *sql.DB
	logger *zap.Logger
}

// Config holds configuration for the FTS5 driver.
type Config struct {
	// DBPath is the path to the SQLite database file.
	// Use ":memory:" for an in-memory database.
	DBPath string
}

// NewDriver creates a new FTS5 lexical driver.
func NewDriver(c Config, logger *zap.Logger) (*Driver, error) {
	if c.DBPath == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", c.DBPath)
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %v", lexical.ErrUnavailable, err)
	}

	_, err = db.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS lex_items USING fts5(
			content,
			doc_id UNINDEXED,
			namespace UNINDEXED,
			tier UNINDEXED
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: creating fts5 table (is the sqlite_fts5 build tag set?): %v", lexical.ErrUnavailable, err)
	}

	logger.Info("fts5 lexical driver initialized",
		zap.String("db_path", c.DBPath),
	)

	return &Driver{db: db, logger: logger}, nil
}

// Index stores documents, reindexing existing ids.
func (d *Driver) Index(ctx context.Context, docs []lexical.Document) error {
	if len(docs) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, doc := range docs {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM lex_items WHERE doc_id = ?`, doc.ID,
		); err != nil {
			return fmt.Errorf("removing old entry for doc %s: %w", doc.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO lex_items(content, doc_id, namespace, tier) VALUES (?, ?, ?, ?)`,
			doc.Content, doc.ID, doc.Namespace, doc.Tier,
		); err != nil {
			return fmt.Errorf("indexing doc %s: %w", doc.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	d.logger.Debug("indexed documents in fts5",
		zap.Int("count", len(docs)),
	)

	return nil
}

// Search runs an FTS5 MATCH ranked by bm25(), filters pushed into SQL.
// Query text is tokenized and each token quoted so user input can never
// inject FTS5 query syntax.
func (d *Driver) Search(ctx context.Context, query string, topK int, filter lexical.Filter) ([]lexical.QueryResult, error) {
	if topK <= 0 {
		topK = 10
	}

	match := buildMatchExpr(query)
	if match == "" {
		return nil, nil
	}

	where := []string{"lex_items MATCH ?"}
	args := []any{match}

	if filter.Namespace != "" {
		where = append(where, "namespace = ?")
		args = append(args, filter.Namespace)
	}
	if len(filter.Tiers) > 0 {
		placeholders := make([]string, len(filter.Tiers))
		for i, t := range filter.Tiers {
			placeholders[i] = "?"
			args = append(args, t)
		}
		where = append(where, fmt.Sprintf("tier IN (%s)", strings.Join(placeholders, ",")))
	}
	args = append(args, topK)

	// bm25() returns lower-is-better; negate so higher = better like
	// every other signal, and order by doc_id for deterministic ties.
	q := fmt.Sprintf(`
		SELECT doc_id, content, namespace, tier, -bm25(lex_items) AS score
		FROM lex_items
		WHERE %s
		ORDER BY bm25(lex_items), doc_id
		LIMIT ?
	`, strings.Join(where, " AND "))

	rows, err := d.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: searching fts5: %v", lexical.ErrUnavailable, err)
	}
	defer rows.Close()

	var results []lexical.QueryResult
	for rows.Next() {
		var r lexical.QueryResult
		if err := rows.Scan(&r.ID, &r.Content, &r.Namespace, &r.Tier, &r.Score); err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// Delete removes documents by id.
func (d *Driver) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	_, err := d.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM lex_items WHERE doc_id IN (%s)`, strings.Join(placeholders, ",")),
		args...,
	)
	return err
}

// Close closes the underlying database.
func (d *Driver) Close() error {
	return d.db.Close()
}

// buildMatchExpr turns free text into a safe FTS5 OR-query of quoted terms.
func buildMatchExpr(query string) string {
	tokens := lexical.Tokenize(query)
	if len(tokens) == 0 {
		return ""
	}
	quoted := make([]string, len(tokens))
	for i, tok := range tokens {
		quoted[i] = `"` + strings.ReplaceAll(tok, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " OR ")
}
