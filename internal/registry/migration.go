package registry

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	hbsignal "github.com/hezky/lab-heartbeat/internal/signal"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migration represents a single migration file.
type Migration struct {
	Version string
	Name    string
	UpSQL   string
	DownSQL string
}

// RunMigrations applies all pending migrations from the embedded migrationsFS.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	return RunMigrationsForFS(ctx, db, migrationsFS)
}

// RunMigrationsForFS applies all pending migrations from the specified filesystem.
func RunMigrationsForFS(ctx context.Context, db *sql.DB, fsys embed.FS) error {
	if err := createMigrationsTable(ctx, db); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := getAppliedMigrations(ctx, db)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	migrations, err := readMigrationsFromFS(fsys)
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	// Block signals during each migration so a Ctrl-C cannot leave the
	// schema half applied.
	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		hbsignal.BlockSignals()
		if err := applyMigration(ctx, db, m); err != nil {
			hbsignal.UnblockSignals()
			return fmt.Errorf("failed to apply migration %s: %w", m.Version, err)
		}
		hbsignal.UnblockSignals()
	}

	return nil
}

func createMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`)
	return err
}

func getAppliedMigrations(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func applyMigration(ctx context.Context, db *sql.DB, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range splitSQLStatements(m.UpSQL) {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute statement: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`,
		m.Version, m.Name); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}

func readMigrationsFromFS(fsys embed.FS) ([]Migration, error) {
	var migrations []Migration

	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() || !strings.HasSuffix(path, ".sql") {
			return nil
		}

		content, err := fs.ReadFile(fsys, path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		filename := path
		if idx := strings.LastIndex(path, "/"); idx >= 0 {
			filename = path[idx+1:]
		}

		// Parse version and name from filename (e.g., "001_initial.sql")
		parts := strings.SplitN(strings.TrimSuffix(filename, ".sql"), "_", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid migration filename: %s", filename)
		}

		migrations = append(migrations, Migration{
			Version: parts[0],
			Name:    parts[1],
			UpSQL:   parseSection(string(content), "-- +up", "-- +down"),
			DownSQL: parseSection(string(content), "-- +down", ""),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

// parseSection returns the lines between the start marker and the end marker
// (or EOF when end is empty).
func parseSection(content, start, end string) string {
	lines := strings.Split(content, "\n")
	var section []string
	in := false

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, start) {
			in = true
			continue
		}
		if end != "" && strings.HasPrefix(trimmed, end) {
			break
		}
		if in {
			section = append(section, line)
		}
	}

	return strings.Join(section, "\n")
}

// splitSQLStatements splits a migration section into individual statements.
// Statements are separated by a semicolon at end of line; semicolons inside
// string literals are not supported in migration files.
func splitSQLStatements(sqlText string) []string {
	var statements []string
	var current strings.Builder

	for _, line := range strings.Split(sqlText, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")
		if strings.HasSuffix(trimmed, ";") {
			statements = append(statements, current.String())
			current.Reset()
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		statements = append(statements, current.String())
	}

	return statements
}
