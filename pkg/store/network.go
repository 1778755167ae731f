package store

import (
	"context"
	"fmt"
)

// AddSeesEdge records that observer may see observed. Idempotent: adding an
// existing edge is a no-op.
func (s *SQL) AddSeesEdge(ctx context.Context, observer, observed string) error {
	query := `INSERT OR IGNORE INTO network (observer, observed) VALUES (?, ?)`
	if s.dialect == dialectPostgres {
		query = `INSERT INTO network (observer, observed) VALUES (?, ?) ON CONFLICT DO NOTHING`
	}
	if _, err := s.db.ExecContext(ctx, s.rebind(query), observer, observed); err != nil {
		return fmt.Errorf("store: add sees edge: %w", err)
	}
	return nil
}

// SeesEdgesFrom returns every identity directly visible to observer.
func (s *SQL) SeesEdgesFrom(ctx context.Context, observer string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT observed FROM network WHERE observer = ? ORDER BY observed`), observer)
	if err != nil {
		return nil, fmt.Errorf("store: sees edges: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var observed string
		if err := rows.Scan(&observed); err != nil {
			return nil, fmt.Errorf("store: scan edge: %w", err)
		}
		out = append(out, observed)
	}
	return out, rows.Err()
}
