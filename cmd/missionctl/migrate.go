package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"missionsync/internal/config"
	"missionsync/internal/store"
)

var migrateSteps int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the Postgres schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE:  runMigrate,
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back applied migrations, newest first",
	RunE:  runMigrate,
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List migrations and whether they are applied",
	RunE:  runMigrate,
}

func init() {
	migrateDownCmd.Flags().IntVar(&migrateSteps, "steps", 1, "Number of migrations to roll back (0 = all)")

	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.StoreBackend != config.BackendPostgres {
		return fmt.Errorf("migrations only apply to the postgres store, not %q", cfg.StoreBackend)
	}
	ctx := cmd.Context()
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	switch cmd.Name() {
	case "up":
		applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
		if err != nil {
			return err
		}
		return printResult(map[string]any{"applied": applied}, summarize("Applied", applied))
	case "down":
		rolled, err := store.RollbackMigrations(ctx, db, cfg.MigrationsDir, migrateSteps)
		if err != nil {
			return err
		}
		return printResult(map[string]any{"rolledBack": rolled}, summarize("Rolled back", rolled))
	default:
		states, err := store.MigrationStatus(ctx, db, cfg.MigrationsDir)
		if err != nil {
			return err
		}
		lines := make([]string, 0, len(states))
		for _, state := range states {
			mark := "pending"
			if state.Applied {
				mark = "applied"
			}
			lines = append(lines, fmt.Sprintf("%-8s %s", mark, state.Name))
		}
		return printResult(states, strings.Join(lines, "\n"))
	}
}

func summarize(verb string, names []string) string {
	if len(names) == 0 {
		return "Nothing to do"
	}
	return verb + " " + strings.Join(names, ", ")
}
