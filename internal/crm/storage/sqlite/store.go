// Package sqlite provides the SQLite-backed CRM storage implementation.
// Every mutating transaction keeps the full-text search projection in
// lockstep with the source tables.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/hubline/crm/internal/crm/storage"
	"github.com/hubline/crm/internal/crm/storage/sqlite/migrations"
	"github.com/hubline/crm/internal/platform/storage/sqlitemigrate"
)

// Store persists CRM state in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite CRM store and applies embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.Apply(ctx, sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) ready() error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

// inTx runs fn inside one transaction, rolling back on error.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// nullable maps empty strings to NULL so absent identity fields never
// collide under the per-hub unique indexes.
func nullable(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func isPublicIDViolation(err error) bool {
	return isUniqueViolation(err) &&
		strings.Contains(strings.ToLower(err.Error()), "clients.public_id")
}

// syncSearchDoc rewrites the search document for one client from its current
// row values. Delete-then-insert, never a diff update, so the document can
// not drift from the source columns. Must run inside the mutating
// transaction.
func syncSearchDoc(ctx context.Context, tx *sql.Tx, clientID int64) error {
	row := tx.QueryRowContext(
		ctx,
		`SELECT name, email, phone, fields FROM clients WHERE id = ?`,
		clientID,
	)
	var name, fields string
	var email, phone sql.NullString
	if err := row.Scan(&name, &email, &phone, &fields); err != nil {
		return fmt.Errorf("read client for search sync: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM client_search WHERE rowid = ?`, clientID); err != nil {
		return fmt.Errorf("delete search document: %w", err)
	}
	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO client_search (rowid, name, email, phone, fields) VALUES (?, ?, ?, ?, ?)`,
		clientID,
		name,
		email.String,
		phone.String,
		fields,
	); err != nil {
		return fmt.Errorf("insert search document: %w", err)
	}
	return nil
}

func deleteSearchDoc(ctx context.Context, tx *sql.Tx, clientID int64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM client_search WHERE rowid = ?`, clientID); err != nil {
		return fmt.Errorf("delete search document: %w", err)
	}
	return nil
}

// buildMatchQuery turns a user search term into a prefix MATCH expression.
// Tokens are quoted so FTS operators in user input stay inert.
func buildMatchQuery(term string) string {
	tokens := strings.Fields(term)
	if len(tokens) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(tokens))
	for _, token := range tokens {
		escaped := strings.ReplaceAll(token, `"`, `""`)
		quoted = append(quoted, `"`+escaped+`"*`)
	}
	return strings.Join(quoted, " ")
}

var _ storage.Store = (*Store)(nil)
