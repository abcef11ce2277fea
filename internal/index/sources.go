package index

import (
	"context"
	"fmt"
	"time"

	"github.com/starford/ansuz/internal/models"
)

// ReplaceSource swaps every rule loaded from source for rules, within a
// transaction, and records the source checksum.
func (db *DB) ReplaceSource(ctx context.Context, source, checksum string, rules []models.AnnotationRule) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if _, err := tx.ExecContext(ctx, `DELETE FROM rules WHERE source = ?`, source); err != nil {
		return fmt.Errorf("index: clear source %s: %w", source, err)
	}
	for i, r := range rules {
		r.ID = ""
		if _, err := insertRule(ctx, tx, r, source); err != nil {
			return fmt.Errorf("index: %s rule %d: %w", source, i, err)
		}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sources (path, checksum, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			checksum   = excluded.checksum,
			updated_at = excluded.updated_at
	`, source, checksum, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("index: upsert source: %w", err)
	}
	return tx.Commit()
}

// DeleteSource removes a source and the rules loaded from it.
func (db *DB) DeleteSource(ctx context.Context, source string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM rules WHERE source = ?`, source); err != nil {
		return fmt.Errorf("index: delete rules of %s: %w", source, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sources WHERE path = ?`, source); err != nil {
		return fmt.Errorf("index: delete source %s: %w", source, err)
	}
	return tx.Commit()
}

// SourceChecksums returns the recorded checksum of every loaded source.
func (db *DB) SourceChecksums(ctx context.Context) (map[string]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT path, checksum FROM sources`)
	if err != nil {
		return nil, fmt.Errorf("index: source checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}
