package localstore

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"time"
)

// migration is one named schema step. Steps run in name order and each
// runs once per database file.
type migration struct {
	Name       string
	Statements []string
}

var migrations = []migration{
	{
		Name: "0001_records",
		Statements: []string{
			`CREATE TABLE records (
				kind TEXT NOT NULL,
				id   INTEGER NOT NULL,
				data BLOB NOT NULL,
				PRIMARY KEY (kind, id)
			)`,
		},
	},
	{
		Name: "0002_links",
		Statements: []string{
			`CREATE TABLE links (
				rel    TEXT NOT NULL,
				owner  INTEGER NOT NULL,
				member TEXT NOT NULL,
				PRIMARY KEY (rel, owner, member)
			)`,
			`CREATE INDEX links_member ON links (rel, member)`,
		},
	},
}

// MigrationError is returned when a schema step fails.
type MigrationError struct {
	Name  string
	Cause error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration %q: %v", e.Name, e.Cause)
}

func (e *MigrationError) Unwrap() error {
	return e.Cause
}

// migrate applies the pending steps and returns their names.
func migrate(ctx context.Context, db *sql.DB) ([]string, error) {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		name       TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("migrate: ensure state table: %w", err)
	}
	applied, err := appliedMigrations(ctx, db)
	if err != nil {
		return nil, err
	}

	sorted := slices.Clone(migrations)
	slices.SortFunc(sorted, func(a, b migration) int { return strings.Compare(a.Name, b.Name) })

	var names []string
	for _, m := range sorted {
		if applied[m.Name] {
			continue
		}
		if err := apply(ctx, db, m); err != nil {
			return names, &MigrationError{Name: m.Name, Cause: err}
		}
		names = append(names, m.Name)
	}
	return names, nil
}

func appliedMigrations(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT name FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("migrate: query applied: %w", err)
	}
	defer rows.Close()
	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("migrate: query applied: %w", err)
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

func apply(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, stmt := range m.Statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)`,
		m.Name, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	return tx.Commit()
}
