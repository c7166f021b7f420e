// Package migrate runs schema migrations using a versioned migration table.
// Migration files live in one directory per dialect and are named with a
// 4-digit prefix for order: 0001_name.sql, 0002_other.sql.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"regexp"
	"sort"
)

//go:embed sql/sqlite/*.sql sql/postgres/*.sql
var sqlFS embed.FS

const tableName = "schema_migrations"

// Dialect selects the migration set and the SQL flavour of the bookkeeping table.
type Dialect string

const (
	SQLite   Dialect = "sqlite3"
	Postgres Dialect = "postgres"
)

var migrationFileRe = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

// Run ensures the schema_migrations table exists, then applies any embedded
// migrations that have not yet been run, in order by version. Each migration
// and its bookkeeping row commit in one transaction.
func Run(ctx context.Context, db *sql.DB, dialect Dialect, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if dialect != SQLite && dialect != Postgres {
		return fmt.Errorf("unsupported dialect %q", dialect)
	}

	if err := ensureMigrationsTable(ctx, db, dialect); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return fmt.Errorf("list applied migrations: %w", err)
	}

	pending, err := pendingMigrations(dialect, applied)
	if err != nil {
		return err
	}

	for _, m := range pending {
		if err := apply(ctx, db, dialect, m); err != nil {
			return fmt.Errorf("apply %s: %w", m.version+"_"+m.name+".sql", err)
		}
		logger.Info("migration applied", "version", m.version, "name", m.name, "dialect", string(dialect))
	}

	return nil
}

type migration struct {
	version string
	name    string
	body    string
}

func pendingMigrations(dialect Dialect, applied map[string]bool) ([]migration, error) {
	dir := migrationsDir(dialect)
	entries, err := fs.ReadDir(sqlFS, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var pending []migration
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		version, name, ok := parseMigrationFilename(e.Name())
		if !ok {
			continue
		}
		if applied[version] {
			continue
		}
		body, err := fs.ReadFile(sqlFS, dir+"/"+e.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		pending = append(pending, migration{version: version, name: name, body: string(body)})
	}

	sort.Slice(pending, func(i, j int) bool { return pending[i].version < pending[j].version })
	return pending, nil
}

func migrationsDir(dialect Dialect) string {
	if dialect == Postgres {
		return "sql/postgres"
	}
	return "sql/sqlite"
}

func ensureMigrationsTable(ctx context.Context, db *sql.DB, dialect Dialect) error {
	appliedAt := `TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))`
	if dialect == Postgres {
		appliedAt = `TIMESTAMPTZ NOT NULL DEFAULT now()`
	}
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+tableName+` (
			version    TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at `+appliedAt+`
		)
	`)
	return err
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM "+tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out[v] = true
	}
	return out, rows.Err()
}

func parseMigrationFilename(filename string) (version, name string, ok bool) {
	m := migrationFileRe.FindStringSubmatch(filename)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

func apply(ctx context.Context, db *sql.DB, dialect Dialect, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, m.body); err != nil {
		return err
	}

	insert := "INSERT INTO " + tableName + " (version, name) VALUES (?, ?)"
	if dialect == Postgres {
		insert = "INSERT INTO " + tableName + " (version, name) VALUES ($1, $2)"
	}
	if _, err := tx.ExecContext(ctx, insert, m.version, m.name); err != nil {
		return err
	}
	return tx.Commit()
}
