package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var migrationName = regexp.MustCompile(`^(\d+)_[a-z0-9_]+\.(up|down)\.sql$`)

// Migration is one numbered schema change with its up and down scripts.
type Migration struct {
	Version string
	Name    string
	Up      string
	Down    string
}

// MigrationState reports whether a migration is recorded in schema_migrations.
type MigrationState struct {
	Migration
	Applied bool
}

// LoadMigrations reads the migrations in dir ordered by version. Every
// version needs both an up and a down script.
func LoadMigrations(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	byVersion := map[string]*Migration{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationName.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		version, direction := match[1], match[2]
		m := byVersion[version]
		if m == nil {
			m = &Migration{Version: version, Name: strings.TrimSuffix(entry.Name(), "."+direction+".sql")}
			byVersion[version] = m
		}
		path := filepath.Join(dir, entry.Name())
		if direction == "up" {
			m.Up = path
		} else {
			m.Down = path
		}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for version, m := range byVersion {
		if m.Up == "" || m.Down == "" {
			return nil, fmt.Errorf("migration %s needs both up and down files", version)
		}
		migrations = append(migrations, *m)
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

// ApplyMigrations runs every up script not yet recorded, each in its own
// transaction, and returns the names it applied.
func ApplyMigrations(ctx context.Context, db *sql.DB, migrationsDir string) ([]string, error) {
	states, err := MigrationStatus(ctx, db, migrationsDir)
	if err != nil {
		return nil, err
	}
	applied := make([]string, 0)
	for _, state := range states {
		if state.Applied {
			continue
		}
		err := runScript(ctx, db, state.Up, state.Name, `INSERT INTO schema_migrations(version) VALUES($1)`, state.Name+".up.sql")
		if err != nil {
			return applied, err
		}
		applied = append(applied, state.Name)
	}
	return applied, nil
}

// RollbackMigrations runs the down scripts of the newest applied migrations.
// steps <= 0 rolls back everything.
func RollbackMigrations(ctx context.Context, db *sql.DB, migrationsDir string, steps int) ([]string, error) {
	states, err := MigrationStatus(ctx, db, migrationsDir)
	if err != nil {
		return nil, err
	}
	rolled := make([]string, 0)
	for i := len(states) - 1; i >= 0; i-- {
		if steps > 0 && len(rolled) == steps {
			break
		}
		state := states[i]
		if !state.Applied {
			continue
		}
		err := runScript(ctx, db, state.Down, state.Name, `DELETE FROM schema_migrations WHERE version=$1`, state.Name+".up.sql")
		if err != nil {
			return rolled, err
		}
		rolled = append(rolled, state.Name)
	}
	return rolled, nil
}

// MigrationStatus lists the migrations in migrationsDir and whether each one
// has been applied.
func MigrationStatus(ctx context.Context, db *sql.DB, migrationsDir string) ([]MigrationState, error) {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return nil, err
	}
	migrations, err := LoadMigrations(migrationsDir)
	if err != nil {
		return nil, err
	}
	states := make([]MigrationState, 0, len(migrations))
	for _, m := range migrations {
		applied, err := isMigrated(ctx, db, m.Name+".up.sql")
		if err != nil {
			return nil, err
		}
		states = append(states, MigrationState{Migration: m, Applied: applied})
	}
	return states, nil
}

// runScript executes one script and updates the bookkeeping row in the same
// transaction.
func runScript(ctx context.Context, db *sql.DB, path, name, bookkeeping, version string) error {
	contents, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", name, err)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx %s: %w", name, err)
	}
	if script := strings.TrimSpace(string(contents)); script != "" {
		if _, err := tx.ExecContext(ctx, script); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("execute migration %s: %w", filepath.Base(path), err)
		}
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, version); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", name, err)
	}
	return nil
}

func ensureMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

func isMigrated(ctx context.Context, db *sql.DB, version string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check migration %s: %w", version, err)
	}
	return exists, nil
}
