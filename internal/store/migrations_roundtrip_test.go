package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func TestMigrationsRoundTripPostgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("ping postgres: %v", err)
	}
	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}

	migrationsDir := filepath.Join("..", "..", "db", "migrations")
	all, err := LoadMigrations(migrationsDir)
	if err != nil {
		t.Fatal(err)
	}

	applied, err := ApplyMigrations(ctx, db, migrationsDir)
	if err != nil {
		t.Fatalf("apply up migrations (pass 1): %v", err)
	}
	if len(applied) != len(all) {
		t.Fatalf("expected %d applied migrations, got %v", len(all), applied)
	}
	if again, err := ApplyMigrations(ctx, db, migrationsDir); err != nil || len(again) != 0 {
		t.Fatalf("second apply should be a no-op, got %v %v", again, err)
	}

	rolled, err := RollbackMigrations(ctx, db, migrationsDir, 1)
	if err != nil {
		t.Fatalf("roll back one: %v", err)
	}
	if len(rolled) != 1 || rolled[0] != all[len(all)-1].Name {
		t.Fatalf("expected the newest migration rolled back, got %v", rolled)
	}
	if _, err := RollbackMigrations(ctx, db, migrationsDir, 0); err != nil {
		t.Fatalf("roll back all: %v", err)
	}

	states, err := MigrationStatus(ctx, db, migrationsDir)
	if err != nil {
		t.Fatal(err)
	}
	for _, state := range states {
		if state.Applied {
			t.Fatalf("expected %s rolled back", state.Name)
		}
	}

	if _, err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply up migrations (pass 2): %v", err)
	}
}
