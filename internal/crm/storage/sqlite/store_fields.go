package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// ListImportantFields returns the hub's configured important field names in
// lexical order.
func (s *Store) ListImportantFields(ctx context.Context, hubID int64) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT field FROM important_fields WHERE hub_id = ? ORDER BY field`,
		hubID,
	)
	if err != nil {
		return nil, fmt.Errorf("list important fields: %w", err)
	}
	defer rows.Close()

	var fields []string
	for rows.Next() {
		var field string
		if err := rows.Scan(&field); err != nil {
			return nil, fmt.Errorf("list important fields: %w", err)
		}
		fields = append(fields, field)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list important fields: %w", err)
	}
	return fields, nil
}

// ReplaceImportantFields swaps the hub's important field set atomically.
// Blank names are dropped; duplicates collapse.
func (s *Store) ReplaceImportantFields(ctx context.Context, hubID int64, fields []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM important_fields WHERE hub_id = ?`, hubID); err != nil {
			return fmt.Errorf("clear important fields: %w", err)
		}
		seen := make(map[string]bool, len(fields))
		for _, field := range fields {
			trimmed := strings.TrimSpace(field)
			if trimmed == "" || seen[trimmed] {
				continue
			}
			seen[trimmed] = true
			if _, err := tx.ExecContext(
				ctx,
				`INSERT INTO important_fields (hub_id, field) VALUES (?, ?)`,
				hubID,
				trimmed,
			); err != nil {
				return fmt.Errorf("insert important field: %w", err)
			}
		}
		return nil
	})
}
